// Package relay manages individual relay sessions: the pairing of an
// authenticated identity with its live WebSocket connection and the write
// pump that drains outbound frames to it.
package relay

import (
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	// writeWait bounds a single frame write to the peer.
	writeWait = 10 * time.Second

	// sendBufferSize is the per-session outbound queue depth. A session
	// whose queue is full is treated as dead and evicted.
	sendBufferSize = 256
)

// Session is a live, authenticated connection known to the registry. The
// registry is the sole owner of Session values; every field except the send
// channel and the connection (which the write pump drains exclusively) is
// guarded by the registry mutex.
type Session struct {
	identity     string
	connectionID string
	conn         *websocket.Conn
	send         chan []byte
	lastActivity time.Time
	channels     map[string]struct{}
	closed       bool
}

// writePump drains the session's send channel to the WebSocket connection
// and emits transport-level pings on the heartbeat interval. It exits when
// the send channel is closed or any write fails, closing the connection so
// the dispatcher's read loop observes the failure.
func (s *Session) writePump(heartbeat time.Duration, log zerolog.Logger) {
	ticker := time.NewTicker(heartbeat)
	defer func() {
		ticker.Stop()
		if err := s.conn.Close(); err != nil && !isExpectedCloseError(err) {
			log.Debug().Err(err).Str("identity", s.identity).Msg("error closing connection in write pump")
		}
	}()

	for {
		select {
		case payload, ok := <-s.send:
			if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if !ok {
				// Registry removed the session; tell the peer we are done.
				_ = s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				if !isExpectedCloseError(err) {
					log.Debug().Err(err).Str("identity", s.identity).Msg("write failed")
				}
				return
			}

		case <-ticker.C:
			if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
