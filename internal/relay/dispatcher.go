// Package relay drives the per-connection protocol state machine: the
// authentication handshake followed by the frame dispatch loop.
package relay

import (
	"encoding/json"
	"errors"
	"io"
	"net"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Dispatcher runs the protocol state machine for one physical connection:
// AUTHENTICATING until the handshake succeeds, ACTIVE while frames are being
// dispatched, CLOSED on transport close, transport error, or handshake
// failure. A Dispatcher holds only the identity and connection ID after
// registration; every delivery goes through the registry.
type Dispatcher struct {
	conn     *websocket.Conn
	registry *Registry
	auth     *Authenticator
	cfg      Config
	log      zerolog.Logger
	metrics  *Metrics
	limiter  *tokenBucket

	identity     string
	connectionID string
}

// NewDispatcher creates a dispatcher for one accepted connection.
func NewDispatcher(conn *websocket.Conn, registry *Registry, auth *Authenticator, cfg Config, log zerolog.Logger, metrics *Metrics) *Dispatcher {
	return &Dispatcher{
		conn:     conn,
		registry: registry,
		auth:     auth,
		cfg:      cfg,
		log:      log.With().Str("remote", conn.RemoteAddr().String()).Logger(),
		metrics:  metrics,
		limiter:  newTokenBucket(cfg.RateLimit.Burst, cfg.RateLimit.RefillInterval),
	}
}

// Run drives the connection from handshake to disconnect. It returns once
// the connection is closed; cleanup (guarded unregister plus the offline
// broadcast, exactly once) runs on every exit path after registration.
func (d *Dispatcher) Run() {
	defer func() {
		if err := d.conn.Close(); err != nil && !isExpectedCloseError(err) {
			d.log.Debug().Err(err).Msg("error closing connection")
		}
	}()

	if !d.handshake() {
		return
	}

	defer func() {
		if d.registry.Unregister(d.identity, d.connectionID) {
			d.registry.Broadcast(
				NewEnvelopeFrom(TypeUserOffline, map[string]any{"user_id": d.identity}, SystemSender),
				d.identity,
			)
		}
	}()

	d.readLoop()
}

// handshake consumes the first frame under the auth deadline and registers
// the session on success. On any failure it sends an error envelope while
// the transport is still writable and reports false, moving the connection
// straight to CLOSED.
func (d *Dispatcher) handshake() bool {
	d.conn.SetReadLimit(d.cfg.MaxFrameSize)
	if err := d.conn.SetReadDeadline(time.Now().Add(d.cfg.AuthTimeout)); err != nil {
		return false
	}

	_, raw, err := d.conn.ReadMessage()
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			d.rejectAuth(ErrAuthTimeout)
		} else if !isExpectedCloseError(err) {
			d.log.Debug().Err(err).Msg("connection closed before authentication")
		}
		return false
	}

	identity, err := d.auth.Authenticate(raw)
	if err != nil {
		d.rejectAuth(err)
		return false
	}

	d.identity = identity
	d.connectionID = d.registry.Register(identity, d.conn)
	d.log = d.log.With().Str("identity", identity).Logger()
	d.setupActiveRead()

	d.registry.SendTo(identity, NewEnvelope(TypeConnectionEstablished, map[string]any{
		"user_id":       identity,
		"connection_id": d.connectionID,
	}))
	d.registry.Broadcast(
		NewEnvelopeFrom(TypeUserOnline, map[string]any{"user_id": identity}, SystemSender),
		identity,
	)

	d.log.Info().Msg("client authenticated")
	return true
}

// rejectAuth logs the rejection, counts it, and notifies the client when
// the transport still accepts writes.
func (d *Dispatcher) rejectAuth(err error) {
	reason := rejectionReason(err)
	d.metrics.RecordAuthFailure(reason)
	d.log.Warn().Str("reason", reason).Err(err).Msg("authentication rejected")

	env := NewEnvelope(TypeError, map[string]any{
		"message": "authentication failed",
		"reason":  reason,
	})
	payload, marshalErr := json.Marshal(env)
	if marshalErr != nil {
		return
	}
	_ = d.conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = d.conn.WriteMessage(websocket.TextMessage, payload)
}

// setupActiveRead switches the connection from the handshake deadline to the
// pong-refreshed read deadline used while ACTIVE.
func (d *Dispatcher) setupActiveRead() {
	pongWait := 2 * d.cfg.HeartbeatInterval
	_ = d.conn.SetReadDeadline(time.Now().Add(pongWait))
	d.conn.SetPongHandler(func(string) error {
		return d.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
}

// readLoop consumes frames until the transport closes or errors. Malformed
// frames are logged and dropped without closing the connection.
func (d *Dispatcher) readLoop() {
	for {
		_, raw, err := d.conn.ReadMessage()
		if err != nil {
			d.logReadError(err)
			return
		}

		if !d.limiter.allow() {
			d.log.Warn().Int("burst", d.cfg.RateLimit.Burst).Msg("rate limit exceeded; discarding frame")
			continue
		}

		var env Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			d.metrics.RecordFrameDropped()
			d.log.Warn().Err(err).Msg("dropping malformed frame")
			continue
		}
		if !env.Valid() {
			d.metrics.RecordFrameDropped()
			d.log.Warn().Str("type", env.Type).Msg("dropping envelope without type or data")
			continue
		}

		d.registry.Touch(d.identity)
		d.metrics.RecordMessageReceived(env.Type)
		d.dispatch(&env)
	}
}

// dispatch routes one valid envelope to its handler by type.
func (d *Dispatcher) dispatch(env *Envelope) {
	switch env.Type {
	case TypePing:
		d.registry.SendTo(d.identity, NewEnvelope(TypePong, nil))

	case TypeSendMessage:
		d.handleSendMessage(env)

	case TypeSubscribe:
		if channel := env.StringField("channel"); channel != "" {
			d.registry.Subscribe(d.identity, channel)
		}

	case TypeUnsubscribe:
		if channel := env.StringField("channel"); channel != "" {
			d.registry.Unsubscribe(d.identity, channel)
		}

	case TypeGetOnlineUsers:
		d.registry.SendTo(d.identity, NewEnvelope(TypeOnlineUsers, map[string]any{
			"users": d.registry.ListOnline(),
		}))

	default:
		d.log.Debug().Str("type", env.Type).Msg("ignoring unrecognized envelope type")
	}
}

// handleSendMessage relays an addressed message and always answers the
// sender with a receipt echoing the original message ID. Routing failures
// (unknown target, dead target connection) surface only as a failed status.
func (d *Dispatcher) handleSendMessage(env *Envelope) {
	targetUser := env.StringField("target_user")
	content := env.StringField("content")
	if targetUser == "" || content == "" {
		d.log.Warn().Msg("send_message without target_user or content")
		return
	}

	delivered := d.registry.SendTo(targetUser, NewEnvelopeFrom(TypeNewMessage, map[string]any{
		"content":   content,
		"from_user": d.identity,
		"to_user":   targetUser,
	}, d.identity))

	status := "failed"
	if delivered {
		status = "delivered"
	}
	d.registry.SendTo(d.identity, NewEnvelope(TypeMessageReceipt, map[string]any{
		"message_id":  env.MessageID,
		"status":      status,
		"target_user": targetUser,
	}))
}

// logReadError logs the cause of the read loop ending at an appropriate
// level; every read error terminates the connection.
func (d *Dispatcher) logReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		d.log.Warn().Int64("max_frame_size", d.cfg.MaxFrameSize).Msg("frame exceeded maximum size")
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure):
		d.log.Info().Msg("client disconnected")
	case errors.Is(err, io.EOF), isExpectedCloseError(err):
		d.log.Info().Msg("connection closed")
	default:
		d.log.Warn().Err(err).Msg("read error")
	}
}
