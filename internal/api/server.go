package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/opensource-finance/harrier/internal/domain"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer wires the routes around handler.
func NewServer(cfg *domain.Config, handler *Handler) *Server {
	router := chi.NewRouter()

	// Global middleware stack
	router.Use(CORSMiddleware)         // CORS for browser clients
	router.Use(RecoverMiddleware)      // Recover from panics
	router.Use(TracingMiddleware)      // OpenTelemetry tracing
	router.Use(LoggingMiddleware)      // Request logging
	router.Use(middleware.RealIP)      // Extract real IP
	router.Use(middleware.Compress(5)) // Gzip compression

	// Health checks (no identity required)
	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)

	router.Route("/v1", func(r chi.Router) {
		r.Use(IdentityMiddleware(cfg.Auth))
		r.Use(RateLimitMiddleware(handler.cache, cfg.RateLimit))

		// Pipeline
		r.Post("/compute", handler.Compute)
		r.Post("/compare", handler.Compare)
		r.Post("/audit", handler.Audit)
		r.Post("/recommend", handler.Recommend)
		r.Post("/assess", handler.Assess)
		r.Post("/export", handler.Export)

		// Statutory tables
		r.Get("/financial-years", handler.FinancialYears)
		r.Get("/rule-tables/{fy}/{regime}", handler.RuleTable)

		// Saved calculations
		r.Get("/calculations", handler.ListCalculations)
		r.Get("/calculations/{id}", handler.GetCalculation)
		r.Get("/calculations/{id}/export", handler.ExportCalculation)

		// Custom audit rules apply to every identity; changes are operator-only.
		r.Get("/audit-rules", handler.ListAuditRules)
		r.Get("/audit-rules/{id}", handler.GetAuditRule)
		r.Group(func(r chi.Router) {
			r.Use(OperatorMiddleware(cfg.Auth))
			r.Post("/audit-rules", handler.CreateAuditRule)
			r.Post("/audit-rules/reload", handler.ReloadAuditRules)
			r.Delete("/audit-rules/{id}", handler.DisableAuditRule)
		})
	})

	return &Server{
		router:  router,
		handler: handler,
		config:  cfg.Server,
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.WriteTimeout) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Handler returns the handler for testing.
func (s *Server) Handler() *Handler {
	return s.handler
}
