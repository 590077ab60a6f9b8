// Package integration tests for the relay's HTTP surface and lifecycle:
// health and metrics endpoints, origin enforcement, frame limits, rate
// limiting, and graceful shutdown.
package integration

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Tyrowin/gorelay/internal/relay"
	"github.com/Tyrowin/gorelay/test/testhelpers"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

func TestHealthEndpointReportsSessions(t *testing.T) {
	server, wsURL := testhelpers.StartRelay(t, testhelpers.FastConfig())
	httpURL := "http" + strings.TrimSuffix(strings.TrimPrefix(wsURL, "ws"), "/ws")

	testhelpers.DialAndAuth(t, wsURL, "alice")

	resp := testhelpers.GetJSON(t, httpURL+"/health")
	var body struct {
		Status   string `json:"status"`
		Sessions int    `json:"sessions"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode health response: %v", err)
	}
	if body.Status != "ok" {
		t.Errorf("health status = %q, want ok", body.Status)
	}
	if body.Sessions != 1 || server.Registry().Count() != 1 {
		t.Errorf("health sessions = %d, want 1", body.Sessions)
	}
}

func TestMetricsEndpointExposesRelaySeries(t *testing.T) {
	_, wsURL := testhelpers.StartRelay(t, testhelpers.FastConfig())
	httpURL := "http" + strings.TrimSuffix(strings.TrimPrefix(wsURL, "ws"), "/ws")

	alice, _ := testhelpers.DialAndAuth(t, wsURL, "alice")
	testhelpers.WriteEnvelope(t, alice, testhelpers.Envelope{Type: "ping", Data: map[string]any{}})
	testhelpers.WaitForType(t, alice, "pong")

	resp := testhelpers.GetJSON(t, httpURL+"/metrics")
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read metrics body: %v", err)
	}
	body := string(payload)
	for _, series := range []string{
		"relay_active_sessions 1",
		"relay_sessions_created_total 1",
		`relay_messages_received_total{type="ping"}`,
		`relay_messages_sent_total{type="pong"}`,
	} {
		if !strings.Contains(body, series) {
			t.Errorf("metrics output missing %q", series)
		}
	}
}

func TestWebSocketEndpointRejectsNonGet(t *testing.T) {
	_, wsURL := testhelpers.StartRelay(t, testhelpers.FastConfig())
	httpURL := "http" + strings.TrimPrefix(wsURL, "ws")

	resp, err := http.Post(httpURL, "application/json", strings.NewReader("{}"))
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusMethodNotAllowed)
	}
}

func TestDisallowedOriginIsBlocked(t *testing.T) {
	cfg := testhelpers.FastConfig()
	cfg.AllowedOrigins = []string{"https://app.example.com"}

	server := relay.NewServer(cfg, zerolog.Nop(), nil)
	ts := httptest.NewServer(server.Handler())
	defer ts.Close()
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"

	dialer := websocket.Dialer{HandshakeTimeout: 2 * time.Second}
	headers := http.Header{}
	headers.Set("Origin", "https://evil.example.com")
	conn, resp, err := dialer.Dial(wsURL, headers)
	if resp != nil {
		_ = resp.Body.Close()
	}
	if err == nil {
		conn.Close()
		t.Fatal("dial with disallowed origin succeeded")
	}

	// The configured origin is accepted.
	headers.Set("Origin", "https://app.example.com")
	conn, resp, err = dialer.Dial(wsURL, headers)
	if resp != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		t.Fatalf("dial with allowed origin failed: %v", err)
	}
	conn.Close()
}

func TestOversizedFrameClosesConnection(t *testing.T) {
	cfg := testhelpers.FastConfig()
	cfg.MaxFrameSize = 256
	_, wsURL := testhelpers.StartRelay(t, cfg)

	alice, _ := testhelpers.DialAndAuth(t, wsURL, "alice")

	huge := `{"type":"ping","data":{"filler":"` + strings.Repeat("x", 1024) + `"}}`
	if err := alice.WriteMessage(websocket.TextMessage, []byte(huge)); err != nil {
		t.Fatalf("failed to write oversized frame: %v", err)
	}
	testhelpers.ExpectClosed(t, alice)
}

func TestRateLimitDiscardsExcessFrames(t *testing.T) {
	cfg := testhelpers.FastConfig()
	cfg.RateLimit.Burst = 2
	cfg.RateLimit.RefillInterval = time.Minute
	_, wsURL := testhelpers.StartRelay(t, cfg)

	alice, _ := testhelpers.DialAndAuth(t, wsURL, "alice")

	for i := 0; i < 5; i++ {
		testhelpers.WriteEnvelope(t, alice, testhelpers.Envelope{Type: "ping", Data: map[string]any{}})
	}

	testhelpers.WaitForType(t, alice, "pong")
	testhelpers.WaitForType(t, alice, "pong")
	testhelpers.ExpectSilence(t, alice, 300*time.Millisecond)
}

func TestGracefulShutdownClosesClients(t *testing.T) {
	cfg := testhelpers.FastConfig()
	server := relay.NewServer(cfg, zerolog.Nop(), nil)
	ts := httptest.NewServer(server.Handler())
	defer ts.Close()
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"

	alice, _ := testhelpers.DialAndAuth(t, wsURL, "alice")
	bob, _ := testhelpers.DialAndAuth(t, wsURL, "bob")

	if err := server.Shutdown(3 * time.Second); err != nil {
		t.Fatalf("shutdown failed: %v", err)
	}

	testhelpers.ExpectClosed(t, alice)
	testhelpers.ExpectClosed(t, bob)

	if count := server.Registry().Count(); count != 0 {
		t.Errorf("registry still holds %d sessions after shutdown", count)
	}
}
