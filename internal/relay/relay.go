// Package relay constructs and runs the relay server: HTTP listener,
// session registry, authenticator, and idle-session reaper wired together.
package relay

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Server is the composition root. It accepts WebSocket connections, drives
// the handshake through a Dispatcher per connection, and runs the reaper for
// the registry's lifetime. It performs no message routing itself.
type Server struct {
	cfg      Config
	log      zerolog.Logger
	metrics  *Metrics
	registry *Registry
	auth     *Authenticator
	reaper   *Reaper
	upgrader websocket.Upgrader

	httpServer   *http.Server
	cancelReaper context.CancelFunc
}

// NewServer wires a relay server from the configuration. The token
// validator may be nil, in which case any non-empty token is accepted.
func NewServer(cfg Config, log zerolog.Logger, validate TokenValidator) *Server {
	cfg = cfg.sanitize()
	metrics := NewMetrics()
	registry := NewRegistry(cfg.HeartbeatInterval, log, metrics)
	origins := newOriginPolicy(cfg.AllowedOrigins, log)

	s := &Server{
		cfg:      cfg,
		log:      log.With().Str("component", "server").Logger(),
		metrics:  metrics,
		registry: registry,
		auth:     NewAuthenticator(validate),
		reaper:   NewReaper(registry, cfg.ReaperInterval, cfg.ConnectionTimeout, log),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     origins.checkOrigin,
		},
	}

	s.httpServer = &http.Server{
		Addr:    cfg.Addr(),
		Handler: s.routes(),
		// Read/write timeouts are deliberately absent: they would apply
		// their deadlines to hijacked WebSocket connections. The pumps and
		// dispatcher manage per-frame deadlines instead.
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Registry exposes the server's session registry.
func (s *Server) Registry() *Registry {
	return s.registry
}

// Handler returns the server's HTTP handler, for embedding the relay behind
// an existing listener or test server.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start launches the reaper and serves HTTP until the listener closes. It
// blocks; run it in a goroutine when coordinating with shutdown.
func (s *Server) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancelReaper = cancel
	go s.reaper.Run(ctx)

	s.log.Info().Str("addr", s.cfg.Addr()).Msg("relay server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting connections, closes every session, and waits for
// in-flight work bounded by timeout.
func (s *Server) Shutdown(timeout time.Duration) error {
	s.log.Info().Msg("shutting down relay server")

	if s.cancelReaper != nil {
		s.cancelReaper()
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	httpErr := s.httpServer.Shutdown(ctx)
	registryErr := s.registry.Shutdown(ctx)
	return errors.Join(httpErr, registryErr)
}
