package relay

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry() *Registry {
	return NewRegistry(time.Second, zerolog.Nop(), nil)
}

// recvFrame pops one queued frame from a session's outbound queue. Sessions
// registered with a nil connection have no write pump, so queued frames stay
// available for inspection.
func recvFrame(t *testing.T, sess *Session) *Envelope {
	t.Helper()
	select {
	case payload, ok := <-sess.send:
		require.True(t, ok, "send queue closed")
		var env Envelope
		require.NoError(t, json.Unmarshal(payload, &env))
		return &env
	case <-time.After(time.Second):
		t.Fatal("no frame queued")
		return nil
	}
}

func TestRegisterAddsIdentityToOnlineList(t *testing.T) {
	r := newTestRegistry()

	connID := r.Register("alice", nil)
	require.NotEmpty(t, connID)
	assert.Equal(t, []string{"alice"}, r.ListOnline())
	assert.Equal(t, 1, r.Count())
}

func TestUnregisterRequiresMatchingConnectionID(t *testing.T) {
	r := newTestRegistry()
	connID := r.Register("alice", nil)

	assert.False(t, r.Unregister("alice", "stale-connection-id"))
	assert.Contains(t, r.ListOnline(), "alice")

	assert.True(t, r.Unregister("alice", connID))
	assert.Empty(t, r.ListOnline())

	assert.False(t, r.Unregister("alice", connID), "second unregister is a no-op")
}

func TestRegisterReplacesExistingSession(t *testing.T) {
	r := newTestRegistry()

	first := r.Register("alice", nil)
	oldSess := r.sessions["alice"]

	second := r.Register("alice", nil)
	require.NotEqual(t, first, second, "each registration yields a fresh connection_id")
	assert.Equal(t, []string{"alice"}, r.ListOnline(), "still exactly one session per identity")

	// Delivery goes to the newest handle; the replaced session's queue is
	// closed without receiving anything.
	require.True(t, r.SendTo("alice", NewEnvelope(TypePong, nil)))
	env := recvFrame(t, r.sessions["alice"])
	assert.Equal(t, TypePong, env.Type)

	select {
	case _, ok := <-oldSess.send:
		assert.False(t, ok, "old session queue should be closed, not delivered to")
	default:
		t.Fatal("old session queue still open")
	}

	// The old dispatcher's guarded unregister must not evict the new session.
	assert.False(t, r.Unregister("alice", first))
	assert.Contains(t, r.ListOnline(), "alice")
}

func TestSendToUnknownIdentityReturnsFalse(t *testing.T) {
	r := newTestRegistry()
	assert.False(t, r.SendTo("charlie", NewEnvelope(TypePong, nil)))
}

func TestSendToEvictsSessionWithFullQueue(t *testing.T) {
	r := newTestRegistry()
	r.Register("alice", nil)

	sess := r.sessions["alice"]
	for i := 0; i < sendBufferSize; i++ {
		sess.send <- []byte("{}")
	}

	assert.False(t, r.SendTo("alice", NewEnvelope(TypePong, nil)))
	assert.Empty(t, r.ListOnline(), "session with a dead queue is evicted")
}

func TestBroadcastExcludesIdentityAndIsolatesFailures(t *testing.T) {
	r := newTestRegistry()
	r.Register("alice", nil)
	r.Register("bob", nil)
	r.Register("carol", nil)

	// Wedge carol's queue so her delivery fails.
	carol := r.sessions["carol"]
	for i := 0; i < sendBufferSize; i++ {
		carol.send <- []byte("{}")
	}

	r.Broadcast(NewEnvelopeFrom(TypeUserOnline, map[string]any{"user_id": "dave"}, SystemSender), "alice")

	// alice was excluded.
	assert.Empty(t, r.sessions["alice"].send)

	// bob still got the event despite carol failing.
	env := recvFrame(t, r.sessions["bob"])
	assert.Equal(t, TypeUserOnline, env.Type)
	assert.Equal(t, "dave", env.StringField("user_id"))
	assert.Equal(t, SystemSender, env.Sender)

	// carol was evicted.
	assert.Equal(t, []string{"alice", "bob"}, r.ListOnline())
}

func TestTouchAndReapIdle(t *testing.T) {
	r := newTestRegistry()
	r.Register("alice", nil)
	r.Register("bob", nil)

	// Age both sessions past the timeout, then refresh alice.
	stale := time.Now().Add(-time.Hour)
	r.sessions["alice"].lastActivity = stale
	r.sessions["bob"].lastActivity = stale
	r.Touch("alice")

	reaped := r.ReapIdle(30 * time.Minute)
	assert.Equal(t, []string{"bob"}, reaped)
	assert.Equal(t, []string{"alice"}, r.ListOnline())

	assert.Empty(t, r.ReapIdle(30*time.Minute), "second sweep finds nothing")
}

func TestTouchUnknownIdentityIsNoOp(t *testing.T) {
	r := newTestRegistry()
	r.Touch("ghost")
	assert.Empty(t, r.ListOnline())
}

func TestChannelSubscriptionBookkeeping(t *testing.T) {
	r := newTestRegistry()
	r.Register("alice", nil)

	r.Subscribe("alice", "news")
	r.Subscribe("alice", "dev")
	r.Subscribe("alice", "dev")
	assert.Equal(t, []string{"dev", "news"}, r.Channels("alice"))

	r.Unsubscribe("alice", "news")
	assert.Equal(t, []string{"dev"}, r.Channels("alice"))

	r.Unsubscribe("alice", "absent")
	assert.Equal(t, []string{"dev"}, r.Channels("alice"))

	// Unknown identities are no-ops.
	r.Subscribe("ghost", "news")
	assert.Empty(t, r.Channels("ghost"))
}

func TestShutdownClosesAllSessions(t *testing.T) {
	r := newTestRegistry()
	r.Register("alice", nil)
	r.Register("bob", nil)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, r.Shutdown(ctx))
	assert.Empty(t, r.ListOnline())
}

func TestConcurrentRegistryAccess(t *testing.T) {
	r := newTestRegistry()
	done := make(chan struct{})

	for i := 0; i < 8; i++ {
		go func(n int) {
			defer func() { done <- struct{}{} }()
			identity := []string{"alice", "bob", "carol", "dave"}[n%4]
			for j := 0; j < 100; j++ {
				connID := r.Register(identity, nil)
				r.Touch(identity)
				r.SendTo(identity, NewEnvelope(TypePong, nil))
				r.Broadcast(NewEnvelope(TypeUserOnline, nil), identity)
				r.ListOnline()
				r.ReapIdle(time.Hour)
				r.Unregister(identity, connID)
			}
		}(i)
	}

	for i := 0; i < 8; i++ {
		select {
		case <-done:
		case <-time.After(10 * time.Second):
			t.Fatal("concurrent access deadlocked")
		}
	}
}
