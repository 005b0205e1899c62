// Package core provides the API chassis for the notification service: a chi
// router with the cross-cutting middleware (recovery, request IDs, logging,
// security headers, CORS, metrics, authentication, rate limiting and
// idempotency) applied before requests reach the domain handlers.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"dinerbell/internal/config"
)

// MetricsCollector records API telemetry.
type MetricsCollector interface {
	RecordRequest(method, endpoint, status string, duration time.Duration)
}

// Server holds the HTTP dependencies. Optional collaborators left nil are
// skipped by their middleware.
type Server struct {
	Config        *config.Config
	Logger        *slog.Logger
	Validator     *Validator
	Metrics       MetricsCollector
	Authenticator Authenticator

	RateLimitStore   RateLimitStore
	IdempotencyStore IdempotencyStore
	HealthProbes     []HealthProbe

	// MetricsHandler serves GET /metrics when set.
	MetricsHandler http.Handler

	// V1RouteRegistrars mount the domain handlers under /v1. They are
	// populated by the application so core does not import handler packages.
	V1RouteRegistrars []func(chi.Router)

	router *chi.Mux
}

// NewServer validates the required dependencies. Routes are mounted
// separately with MountRoutes.
func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}

	return &Server{
		Config:    cfg,
		Logger:    logger,
		Validator: NewValidator(),
		router:    chi.NewRouter(),
	}, nil
}

// Handler returns the router as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router returns the underlying chi.Mux.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Shutdown logs the end of the HTTP lifecycle. Connection pools are owned and
// closed by the application.
func (s *Server) Shutdown(ctx context.Context) error {
	s.Logger.InfoContext(ctx, "server shutdown complete")
	return nil
}
