// Package relay coordinates session registration, addressed delivery, and
// presence broadcast for the relay via the Registry type.
package relay

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Registry owns the mapping from identity to live Session. All operations
// are safe under concurrent invocation from connection dispatchers and the
// reaper; the identity map is serialized behind a single RWMutex and every
// lookup-then-send sequence happens inside one registry call.
//
// A Registry is explicitly constructed at server startup and torn down with
// Shutdown; it is never a package-level singleton.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	heartbeat time.Duration
	log       zerolog.Logger
	metrics   *Metrics
	wg        sync.WaitGroup
}

// NewRegistry creates an empty session registry. The heartbeat interval is
// handed to each session's write pump for transport-level pings.
func NewRegistry(heartbeat time.Duration, log zerolog.Logger, metrics *Metrics) *Registry {
	if heartbeat <= 0 {
		heartbeat = DefaultConfig().HeartbeatInterval
	}
	return &Registry{
		sessions:  make(map[string]*Session),
		heartbeat: heartbeat,
		log:       log.With().Str("component", "registry").Logger(),
		metrics:   metrics,
	}
}

// Register creates a Session for identity bound to conn and returns the
// fresh connection ID. If a session already exists for the identity it is
// replaced (last writer wins) and its send queue closed; the superseded
// transport is not proactively closed, its own dispatcher observes the
// closure or a failed write and runs its guarded cleanup.
func (r *Registry) Register(identity string, conn *websocket.Conn) string {
	sess := &Session{
		identity:     identity,
		connectionID: uuid.NewString(),
		conn:         conn,
		send:         make(chan []byte, sendBufferSize),
		lastActivity: time.Now(),
		channels:     make(map[string]struct{}),
	}

	r.mu.Lock()
	old := r.sessions[identity]
	if old != nil {
		old.closed = true
	}
	r.sessions[identity] = sess
	count := len(r.sessions)
	r.mu.Unlock()

	if old != nil {
		close(old.send)
		r.log.Info().Str("identity", identity).Str("connection_id", sess.connectionID).Msg("session replaced by reconnect")
	} else {
		r.log.Info().Str("identity", identity).Str("connection_id", sess.connectionID).Msg("session registered")
	}

	if conn != nil {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			sess.writePump(r.heartbeat, r.log)
		}()
	}

	r.metrics.RecordSessionCreated(old != nil)
	r.metrics.RecordActiveSessions(count)
	return sess.connectionID
}

// Unregister removes the session for identity, but only when the stored
// connection ID matches connectionID; a stale dispatcher therefore cannot
// evict a newer session for the same identity. An empty connectionID skips
// the match check (used by the reaper, which holds no connection ID). It
// reports whether a session was actually removed, which callers use to
// issue the offline broadcast exactly once.
func (r *Registry) Unregister(identity, connectionID string) bool {
	r.mu.Lock()
	sess, ok := r.sessions[identity]
	if !ok || (connectionID != "" && sess.connectionID != connectionID) {
		r.mu.Unlock()
		return false
	}
	delete(r.sessions, identity)
	sess.closed = true
	count := len(r.sessions)
	r.mu.Unlock()

	close(sess.send)
	r.metrics.RecordSessionDisconnected(false)
	r.metrics.RecordActiveSessions(count)
	r.log.Info().Str("identity", identity).Msg("session unregistered")
	return true
}

// SendTo delivers the envelope to identity's session. It returns false when
// the identity is not registered or the session's outbound queue does not
// accept the frame; in the latter case the session is evicted as dead.
// A true result only means the frame was accepted for writing, not that the
// peer processed it.
func (r *Registry) SendTo(identity string, env *Envelope) bool {
	payload, err := json.Marshal(env)
	if err != nil {
		r.log.Error().Err(err).Str("type", env.Type).Msg("failed to encode envelope")
		return false
	}

	r.mu.RLock()
	sess, ok := r.sessions[identity]
	delivered := ok && r.enqueueLocked(sess, payload)
	r.mu.RUnlock()

	if ok && !delivered {
		r.evict(identity, sess.connectionID)
	}
	if delivered {
		r.metrics.RecordMessageSent(env.Type)
	}
	return delivered
}

// Broadcast sends the envelope to every registered identity except
// excludeIdentity. Each delivery is attempted independently; a failed
// recipient is evicted without aborting the rest, and failures are not
// reported to the caller.
func (r *Registry) Broadcast(env *Envelope, excludeIdentity string) {
	payload, err := json.Marshal(env)
	if err != nil {
		r.log.Error().Err(err).Str("type", env.Type).Msg("failed to encode broadcast envelope")
		return
	}

	type target struct {
		identity     string
		connectionID string
	}
	var failed []target
	recipients := 0

	r.mu.RLock()
	for identity, sess := range r.sessions {
		if identity == excludeIdentity {
			continue
		}
		recipients++
		if !r.enqueueLocked(sess, payload) {
			failed = append(failed, target{identity, sess.connectionID})
		}
	}
	r.mu.RUnlock()

	for _, t := range failed {
		r.evict(t.identity, t.connectionID)
	}
	if delivered := recipients - len(failed); delivered > 0 {
		r.metrics.RecordMessageSent(env.Type)
	}
	r.metrics.RecordBroadcastFanout(recipients)
}

// enqueueLocked attempts a non-blocking enqueue on the session's send
// channel. The caller must hold at least the read lock, which guarantees the
// channel cannot be closed concurrently (closes happen only after the closed
// flag is set under the write lock).
func (r *Registry) enqueueLocked(sess *Session, payload []byte) bool {
	if sess.closed {
		return false
	}
	select {
	case sess.send <- payload:
		return true
	default:
		return false
	}
}

// evict removes a session whose transport proved dead during a send.
func (r *Registry) evict(identity, connectionID string) {
	if r.Unregister(identity, connectionID) {
		r.log.Warn().Str("identity", identity).Msg("session evicted after failed delivery")
	}
}

// ListOnline returns a sorted snapshot of the currently registered
// identities.
func (r *Registry) ListOnline() []string {
	r.mu.RLock()
	identities := make([]string, 0, len(r.sessions))
	for identity := range r.sessions {
		identities = append(identities, identity)
	}
	r.mu.RUnlock()

	sort.Strings(identities)
	return identities
}

// Count returns the number of registered sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Touch updates identity's last-activity timestamp; no-op when the identity
// is not registered.
func (r *Registry) Touch(identity string) {
	r.mu.Lock()
	if sess, ok := r.sessions[identity]; ok {
		sess.lastActivity = time.Now()
	}
	r.mu.Unlock()
}

// Subscribe records identity's interest in channel. Channel membership is
// bookkeeping only; it creates no delivery path.
func (r *Registry) Subscribe(identity, channel string) {
	r.mu.Lock()
	if sess, ok := r.sessions[identity]; ok {
		sess.channels[channel] = struct{}{}
	}
	r.mu.Unlock()
}

// Unsubscribe removes identity's interest in channel.
func (r *Registry) Unsubscribe(identity, channel string) {
	r.mu.Lock()
	if sess, ok := r.sessions[identity]; ok {
		delete(sess.channels, channel)
	}
	r.mu.Unlock()
}

// Channels returns a sorted snapshot of identity's subscribed channels.
func (r *Registry) Channels(identity string) []string {
	r.mu.RLock()
	sess, ok := r.sessions[identity]
	var channels []string
	if ok {
		channels = make([]string, 0, len(sess.channels))
		for channel := range sess.channels {
			channels = append(channels, channel)
		}
	}
	r.mu.RUnlock()

	sort.Strings(channels)
	return channels
}

// ReapIdle removes every session whose last activity is older than timeout
// and returns the evicted identities. Unlike Unregister it bypasses the
// connection ID check and closes the underlying transport, because the
// reaper reclaims sessions whose connection died without a close signal.
func (r *Registry) ReapIdle(timeout time.Duration) []string {
	cutoff := time.Now().Add(-timeout)

	r.mu.Lock()
	var reaped []*Session
	for identity, sess := range r.sessions {
		if sess.lastActivity.Before(cutoff) {
			delete(r.sessions, identity)
			sess.closed = true
			reaped = append(reaped, sess)
		}
	}
	count := len(r.sessions)
	r.mu.Unlock()

	identities := make([]string, 0, len(reaped))
	for _, sess := range reaped {
		close(sess.send)
		if sess.conn != nil {
			_ = sess.conn.Close()
		}
		identities = append(identities, sess.identity)
		r.metrics.RecordSessionDisconnected(true)
	}
	if len(reaped) > 0 {
		r.metrics.RecordActiveSessions(count)
	}
	sort.Strings(identities)
	return identities
}

// Shutdown closes every session and waits for the write pumps to drain,
// bounded by the context deadline.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	remaining := make([]*Session, 0, len(r.sessions))
	for identity, sess := range r.sessions {
		delete(r.sessions, identity)
		sess.closed = true
		remaining = append(remaining, sess)
	}
	r.mu.Unlock()

	for _, sess := range remaining {
		close(sess.send)
		if sess.conn != nil {
			_ = sess.conn.Close()
		}
	}
	r.metrics.RecordActiveSessions(0)

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.log.Info().Int("sessions", len(remaining)).Msg("registry shut down")
		return nil
	case <-ctx.Done():
		r.log.Warn().Msg("registry shutdown timed out waiting for write pumps")
		return ctx.Err()
	}
}
