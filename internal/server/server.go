// Package server exposes the run journal over a read-only HTTP API.
package server

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/pendergraft/contradeploy/internal/config"
	deploymentsDomain "github.com/pendergraft/contradeploy/internal/deployments/domain"
	deploymentsTransport "github.com/pendergraft/contradeploy/internal/deployments/transport"
	"github.com/pendergraft/contradeploy/internal/observability/metrics"
)

// Server is the HTTP server
type Server struct {
	cfg     *config.Config
	logger  *slog.Logger
	router  *chi.Mux
	limiter *rateLimiter

	runsSvc deploymentsTransport.Service
}

// New creates a server reading runs from store
func New(cfg *config.Config, store deploymentsDomain.Store, logger *slog.Logger) *Server {
	s := &Server{
		cfg:    cfg,
		logger: logger,
		router: chi.NewRouter(),
	}

	runsImpl := deploymentsDomain.NewService(store)
	s.runsSvc = deploymentsDomain.LoggingMiddleware(logger)(runsImpl)

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Close stops background work started by New
func (s *Server) Close() {
	if s.limiter != nil {
		s.limiter.stop()
	}
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.RequestID)
	s.router.Use(NewLoggingMiddleware(s.logger))
	s.router.Use(metrics.Middleware)
	s.router.Use(middleware.Recoverer)
	if s.cfg.Server.RateLimitPerMin > 0 {
		s.limiter = newRateLimiter(s.cfg.Server.RateLimitPerMin, s.cfg.Server.RateLimitBurst)
		s.router.Use(s.limiter.middleware)
	}
	s.router.Use(middleware.Compress(5))
	s.router.Use(MaxBodySize(1 << 20))
	s.router.Use(readOnly)
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)
	s.router.Get("/healthz", s.handleHealth)
	s.router.Get("/readyz", s.handleHealth)

	if s.cfg.Metrics.Enabled {
		s.router.Handle("/metrics", metrics.Handler())
	}

	runsHandler := deploymentsTransport.NewHandler(s.runsSvc)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Route("/runs", func(r chi.Router) {
			runsHandler.RegisterRoutes(r)
		})
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"code":    code,
			"message": message,
		},
	})
}
