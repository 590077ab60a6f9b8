// Package testhelpers provides shared utilities for wire-level tests of the
// relay: starting a relay behind an httptest server, dialing, performing the
// authentication handshake, and exchanging envelopes with deadlines.
package testhelpers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Tyrowin/gorelay/internal/relay"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Envelope mirrors the wire frame for test assertions.
type Envelope struct {
	Type      string         `json:"type"`
	Data      map[string]any `json:"data"`
	Timestamp string         `json:"timestamp,omitempty"`
	MessageID string         `json:"message_id,omitempty"`
	Sender    string         `json:"sender,omitempty"`
}

// Str returns the named data field as a string, or "".
func (e Envelope) Str(key string) string {
	value, _ := e.Data[key].(string)
	return value
}

// FastConfig returns a configuration with deadlines short enough for tests.
func FastConfig() relay.Config {
	cfg := relay.DefaultConfig()
	cfg.AuthTimeout = 500 * time.Millisecond
	cfg.HeartbeatInterval = time.Second
	cfg.RateLimit.Burst = 100
	return cfg
}

// StartRelay runs a relay server behind an httptest listener and returns the
// server plus the WebSocket URL for its /ws endpoint. Cleanup is registered
// on t.
func StartRelay(t *testing.T, cfg relay.Config) (*relay.Server, string) {
	t.Helper()

	server := relay.NewServer(cfg, zerolog.Nop(), nil)
	ts := httptest.NewServer(server.Handler())
	t.Cleanup(func() {
		_ = server.Shutdown(2 * time.Second)
		ts.Close()
	})

	return server, "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
}

// Dial opens a raw WebSocket connection without authenticating.
func Dial(t *testing.T, wsURL string) *websocket.Conn {
	t.Helper()

	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, resp, err := dialer.Dial(wsURL, nil)
	if resp != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		t.Fatalf("failed to dial %s: %v", wsURL, err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// DialAndAuth connects and completes the handshake as userID, waiting for
// the connection_established reply. It returns the connection and the
// assigned connection ID.
func DialAndAuth(t *testing.T, wsURL, userID string) (*websocket.Conn, string) {
	t.Helper()

	conn := Dial(t, wsURL)
	WriteEnvelope(t, conn, Envelope{
		Type: "auth",
		Data: map[string]any{"user_id": userID, "token": "demo-token"},
	})

	reply := WaitForType(t, conn, "connection_established")
	if got := reply.Str("user_id"); got != userID {
		t.Fatalf("handshake returned identity %q, want %q", got, userID)
	}
	return conn, reply.Str("connection_id")
}

// WriteEnvelope sends one envelope, stamping a timestamp when absent.
func WriteEnvelope(t *testing.T, conn *websocket.Conn, env Envelope) {
	t.Helper()

	if env.Timestamp == "" {
		env.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}
	if err := conn.WriteJSON(env); err != nil {
		t.Fatalf("failed to write %s envelope: %v", env.Type, err)
	}
}

// ReadEnvelope reads the next envelope with a deadline.
func ReadEnvelope(t *testing.T, conn *websocket.Conn) Envelope {
	t.Helper()

	if err := conn.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatalf("failed to set read deadline: %v", err)
	}
	var env Envelope
	if err := conn.ReadJSON(&env); err != nil {
		t.Fatalf("failed to read envelope: %v", err)
	}
	return env
}

// WaitForType reads envelopes until one of the wanted type arrives,
// skipping interleaved presence or receipt traffic.
func WaitForType(t *testing.T, conn *websocket.Conn, msgType string) Envelope {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if err := conn.SetReadDeadline(deadline); err != nil {
			t.Fatalf("failed to set read deadline: %v", err)
		}
		var env Envelope
		if err := conn.ReadJSON(&env); err != nil {
			t.Fatalf("connection closed while waiting for %s: %v", msgType, err)
		}
		if env.Type == msgType {
			return env
		}
	}
	t.Fatalf("no %s envelope arrived before the deadline", msgType)
	return Envelope{}
}

// ExpectSilence asserts that no frame arrives within the window.
func ExpectSilence(t *testing.T, conn *websocket.Conn, window time.Duration) {
	t.Helper()

	if err := conn.SetReadDeadline(time.Now().Add(window)); err != nil {
		t.Fatalf("failed to set read deadline: %v", err)
	}
	var env Envelope
	if err := conn.ReadJSON(&env); err == nil {
		t.Fatalf("expected silence but received %s envelope", env.Type)
	}
}

// ExpectClosed asserts that the next read fails because the peer closed.
func ExpectClosed(t *testing.T, conn *websocket.Conn) {
	t.Helper()

	if err := conn.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatalf("failed to set read deadline: %v", err)
	}
	var env Envelope
	if err := conn.ReadJSON(&env); err == nil {
		t.Fatalf("expected connection to be closed but read a %s envelope", env.Type)
	}
}

// GetJSON fetches a URL and fails the test on a non-200 response.
func GetJSON(t *testing.T, url string) *http.Response {
	t.Helper()

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		t.Fatalf("failed to GET %s: %v", url, err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET %s returned status %d", url, resp.StatusCode)
	}
	return resp
}
