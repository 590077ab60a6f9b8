package relay

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the relay. Each instance owns its
// own registry so independent servers (and tests) never collide on collector
// registration.
type Metrics struct {
	registry *prometheus.Registry

	activeSessions       prometheus.Gauge
	sessionsCreated      prometheus.Counter
	sessionsReplaced     prometheus.Counter
	sessionsDisconnected prometheus.Counter
	sessionsReaped       prometheus.Counter

	messagesReceived *prometheus.CounterVec
	messagesSent     *prometheus.CounterVec
	framesDropped    prometheus.Counter

	authFailures *prometheus.CounterVec

	broadcastFanout prometheus.Histogram
}

// NewMetrics creates a metrics instance backed by a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		activeSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "relay_active_sessions",
			Help: "Current number of registered sessions",
		}),
		sessionsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "relay_sessions_created_total",
			Help: "Total number of sessions registered",
		}),
		sessionsReplaced: factory.NewCounter(prometheus.CounterOpts{
			Name: "relay_sessions_replaced_total",
			Help: "Total number of sessions replaced by a reconnect for the same identity",
		}),
		sessionsDisconnected: factory.NewCounter(prometheus.CounterOpts{
			Name: "relay_sessions_disconnected_total",
			Help: "Total number of sessions removed from the registry",
		}),
		sessionsReaped: factory.NewCounter(prometheus.CounterOpts{
			Name: "relay_sessions_reaped_total",
			Help: "Total number of idle sessions evicted by the reaper",
		}),
		messagesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_messages_received_total",
			Help: "Total number of frames received from clients by type",
		}, []string{"type"}),
		messagesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_messages_sent_total",
			Help: "Total number of frames delivered to clients by type",
		}, []string{"type"}),
		framesDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "relay_frames_dropped_total",
			Help: "Total number of malformed or invalid frames dropped",
		}),
		authFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_auth_failures_total",
			Help: "Total number of rejected authentication attempts by reason",
		}, []string{"reason"}),
		broadcastFanout: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "relay_broadcast_fanout",
			Help:    "Number of recipients per broadcast",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		}),
	}
}

// Handler returns the HTTP handler exposing this instance's metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordActiveSessions updates the active session gauge.
func (m *Metrics) RecordActiveSessions(count int) {
	if m == nil {
		return
	}
	m.activeSessions.Set(float64(count))
}

// RecordSessionCreated increments the created-session counter.
func (m *Metrics) RecordSessionCreated(replaced bool) {
	if m == nil {
		return
	}
	m.sessionsCreated.Inc()
	if replaced {
		m.sessionsReplaced.Inc()
	}
}

// RecordSessionDisconnected increments the disconnect counter, optionally
// attributing it to the idle reaper.
func (m *Metrics) RecordSessionDisconnected(reaped bool) {
	if m == nil {
		return
	}
	m.sessionsDisconnected.Inc()
	if reaped {
		m.sessionsReaped.Inc()
	}
}

// RecordMessageReceived counts an accepted inbound frame by type.
func (m *Metrics) RecordMessageReceived(msgType string) {
	if m == nil {
		return
	}
	m.messagesReceived.WithLabelValues(msgType).Inc()
}

// RecordMessageSent counts a delivered outbound frame by type.
func (m *Metrics) RecordMessageSent(msgType string) {
	if m == nil {
		return
	}
	m.messagesSent.WithLabelValues(msgType).Inc()
}

// RecordFrameDropped counts a malformed or invalid inbound frame.
func (m *Metrics) RecordFrameDropped() {
	if m == nil {
		return
	}
	m.framesDropped.Inc()
}

// RecordAuthFailure counts a rejected authentication attempt.
func (m *Metrics) RecordAuthFailure(reason string) {
	if m == nil {
		return
	}
	m.authFailures.WithLabelValues(reason).Inc()
}

// RecordBroadcastFanout records the recipient count of one broadcast.
func (m *Metrics) RecordBroadcastFanout(recipients int) {
	if m == nil {
		return
	}
	m.broadcastFanout.Observe(float64(recipients))
}
