package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// CacheClearer drops every cached boundary and postal lookup.
type CacheClearer interface {
	ClearCaches()
}

// Server exposes health, readiness, metrics and cache administration endpoints.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates an HTTP server with /healthz, /readyz, /metrics and
// POST /admin/cache/clear routes. The cache route is omitted when caches is nil.
func NewServer(addr string, ready sharedobs.ReadinessChecker, caches CacheClearer, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger,
	}

	mux.HandleFunc("GET /healthz", sharedobs.LivenessHandler())
	mux.HandleFunc("GET /readyz", sharedobs.ReadinessHandler(ready))
	mux.Handle("GET /metrics", promhttp.Handler())
	if caches != nil {
		mux.HandleFunc("POST /admin/cache/clear", s.handleCacheClear(caches))
	}

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

func (s *Server) handleCacheClear(caches CacheClearer) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		caches.ClearCaches()
		s.logger.Info("enrichment caches cleared via admin endpoint")
		sharedobs.WriteJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
	}
}
