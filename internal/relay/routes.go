// Package relay wires HTTP handlers into a ServeMux for the relay service.
package relay

import "net/http"

// routes configures the HTTP ServeMux: demo page, WebSocket endpoint,
// health check, and Prometheus metrics.
func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleDemoPage)
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", s.metrics.Handler())
	return mux
}
