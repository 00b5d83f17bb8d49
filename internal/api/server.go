// Package api exposes the scoring pipeline, audit trail and rule set over HTTP.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/opensource-finance/claimguard/internal/domain"
	"github.com/opensource-finance/claimguard/internal/metrics"
	"github.com/opensource-finance/claimguard/internal/rules"
	"github.com/opensource-finance/claimguard/internal/worker"
)

// Options carries the collaborators of the HTTP layer. Cache, Bus, Worker
// and Metrics are optional; without a Bus and a consumer for the tenant,
// POST /score/async answers 503.
type Options struct {
	Repo        domain.Repository
	Cache       domain.Cache
	Bus         domain.EventBus
	Worker      *worker.Worker
	Scorer      ClaimScorer
	Engine      *rules.Engine
	Metrics     *metrics.Metrics
	RateLimit   domain.RateLimitConfig
	Idempotency domain.IdempotencyConfig
	Version     string
}

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server.
func NewServer(cfg domain.ServerConfig, opts Options) *Server {
	handler := NewHandler(opts)
	router := chi.NewRouter()

	// Global middleware stack
	router.Use(CORSMiddleware)
	router.Use(RecoverMiddleware)
	router.Use(TracingMiddleware)
	router.Use(LoggingMiddleware)
	if opts.Metrics != nil {
		router.Use(MetricsMiddleware(opts.Metrics))
	}
	router.Use(middleware.RealIP)
	router.Use(middleware.Compress(5))

	// Ops endpoints (no tenant required)
	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)
	if opts.Metrics != nil {
		router.Method(http.MethodGet, "/metrics", opts.Metrics.Handler())
	}

	// API routes (tenant required)
	router.Group(func(r chi.Router) {
		r.Use(TenantMiddleware)

		// Scoring
		r.With(RateLimitMiddleware(opts.Cache, opts.RateLimit, opts.Metrics)).Post("/score", handler.Score)
		r.With(RateLimitMiddleware(opts.Cache, opts.RateLimit, opts.Metrics)).Post("/score/async", handler.SubmitClaim)

		// Audit trail
		r.Get("/scores/{id}", handler.GetScore)
		r.Get("/customers/{id}/scores", handler.ListCustomerScores)

		// Customer history
		r.Post("/customers/records", handler.AppendCustomerRecord)

		// Rule management
		r.Get("/rules", handler.ListRules)
		r.Get("/rules/{id}", handler.GetRule)
		r.Post("/rules", handler.CreateRule)
		r.Post("/rules/reload", handler.ReloadRules)
	})

	return &Server{
		router:  router,
		handler: handler,
		config:  cfg,
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadTimeout:       time.Duration(s.config.ReadTimeout) * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      time.Duration(s.config.WriteTimeout) * time.Second,
		IdleTimeout:       120 * time.Second,
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
