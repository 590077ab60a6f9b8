// Package relay evicts idle sessions. The reaper is the only mechanism that
// reclaims sessions whose connection died without a close signal.
package relay

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Reaper periodically sweeps the registry for sessions idle past the
// configured timeout. It runs independently of any connection's lifecycle
// and holds no connection IDs, so its evictions bypass the registry's
// connection ID match.
type Reaper struct {
	registry *Registry
	interval time.Duration
	timeout  time.Duration
	log      zerolog.Logger
}

// NewReaper creates a reaper sweeping every interval and evicting sessions
// idle longer than timeout.
func NewReaper(registry *Registry, interval, timeout time.Duration, log zerolog.Logger) *Reaper {
	def := DefaultConfig()
	if interval <= 0 {
		interval = def.ReaperInterval
	}
	if timeout <= 0 {
		timeout = def.ConnectionTimeout
	}
	return &Reaper{
		registry: registry,
		interval: interval,
		timeout:  timeout,
		log:      log.With().Str("component", "reaper").Logger(),
	}
}

// Run sweeps on every tick until ctx is cancelled. It is started once at
// server startup in its own goroutine.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep()
		}
	}
}

// Sweep evicts every session idle past the timeout and broadcasts a
// user_offline event for each. The evicted connection's own dispatcher
// exits through its guarded cleanup without broadcasting a second time.
func (r *Reaper) Sweep() {
	for _, identity := range r.registry.ReapIdle(r.timeout) {
		r.log.Info().Str("identity", identity).Dur("timeout", r.timeout).Msg("evicted idle session")
		r.registry.Broadcast(
			NewEnvelopeFrom(TypeUserOffline, map[string]any{"user_id": identity}, SystemSender),
			identity,
		)
	}
}
