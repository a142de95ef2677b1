package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/engine"
	"github.com/opensource-finance/kestrel/internal/rules"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	stream  *StreamHub
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server.
func NewServer(cfg domain.ServerConfig, repo domain.Repository, cache domain.Cache, bus domain.EventBus, eng *engine.Engine, custom *rules.Engine, stream *StreamHub, version string) *Server {
	handler := NewHandler(repo, cache, bus, eng, custom, version)
	router := chi.NewRouter()

	// Global middleware stack
	router.Use(CORSMiddleware)         // CORS for browser clients
	router.Use(RecoverMiddleware)      // Recover from panics
	router.Use(TracingMiddleware)      // OpenTelemetry tracing
	router.Use(LoggingMiddleware)      // Request logging
	router.Use(MetricsMiddleware)      // Prometheus request metrics
	router.Use(middleware.RealIP)      // Extract real IP
	router.Use(middleware.Compress(5)) // Gzip compression

	// Health and metrics endpoints (no tenant required)
	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)
	router.Method(http.MethodGet, "/metrics", MetricsHandler())

	// API routes (tenant required)
	router.Route("/", func(r chi.Router) {
		r.Use(TenantMiddleware)

		// Transaction analysis
		r.Post("/analyze", handler.Analyze)

		// Analysis retrieval
		r.Get("/analyses/{id}", handler.GetAnalysis)

		// Transaction retrieval
		r.Get("/transactions/{id}", handler.GetTransaction)

		// Alert management
		r.Get("/alerts", handler.ListAlerts)
		r.Get("/alerts/pending", handler.PendingAlerts)
		r.Get("/alerts/statistics", handler.AlertStatistics)
		if stream != nil {
			r.Get("/alerts/stream", stream.HandleWebSocket)
		}
		r.Get("/alerts/{id}", handler.GetAlert)
		r.Put("/alerts/{id}/acknowledge", handler.AcknowledgeAlert)
		r.Put("/alerts/{id}/resolve", handler.ResolveAlert)
		r.Put("/alerts/{id}/false-positive", handler.FalsePositiveAlert)
		r.Delete("/alerts/{id}", handler.DeleteAlert)
		r.Post("/alerts/bulk-acknowledge", handler.BulkAcknowledge)

		// Customer views
		r.Get("/customers/high-risk", handler.HighRiskCustomers)
		r.Get("/customers/{id}/alerts", handler.CustomerAlerts)
		r.Get("/customers/{id}/profile", handler.GetCustomerProfile)

		// Custom rule management
		r.Get("/rules", handler.ListRules)
		r.Get("/rules/{id}", handler.GetRule)
		r.Post("/rules", handler.CreateRule)
		r.Post("/rules/reload", handler.ReloadRules)
	})

	return &Server{
		router:  router,
		handler: handler,
		stream:  stream,
		config:  cfg,
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
