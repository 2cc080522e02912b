package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/iho/splitledger/internal/adapter/http/handler"
	"github.com/iho/splitledger/internal/adapter/http/middleware"
	"github.com/iho/splitledger/internal/infrastructure/auth"
	"github.com/iho/splitledger/internal/infrastructure/metrics"
	"github.com/iho/splitledger/internal/usecase"
)

// RouterConfig holds dependencies for the router.
type RouterConfig struct {
	ProtocolHandler    *handler.ProtocolHandler
	SplitHandler       *handler.SplitHandler
	FeeHandler         *handler.FeeHandler
	ConsistencyHandler *handler.ConsistencyHandler
	HealthHandler      *handler.HealthHandler

	Logger         zerolog.Logger
	Metrics        *metrics.Metrics
	MetricsHandler http.Handler

	// JWTManager enables bearer token auth. When nil the caller is taken
	// from the X-Caller-Address header.
	JWTManager *auth.JWTManager

	RateLimiter      *middleware.RateLimiter
	IdempotencyStore usecase.IdempotencyStore
	IdempotencyTTL   time.Duration
}

// NewRouter creates a new HTTP router.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Recovery(cfg.Logger))
	r.Use(middleware.NewLoggingMiddleware(cfg.Logger).Wrap)
	if cfg.Metrics != nil {
		r.Use(middleware.Metrics(cfg.Metrics))
	}
	if cfg.RateLimiter != nil {
		r.Use(cfg.RateLimiter.Limit)
	}

	// Health endpoints
	r.Get("/health", cfg.HealthHandler.Liveness)
	r.Get("/ready", cfg.HealthHandler.Readiness)

	metricsHandler := cfg.MetricsHandler
	if metricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}
	r.Handle("/metrics", metricsHandler)

	// API v1
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.CallerMiddleware(cfg.JWTManager))

		r.Get("/whoami", handler.Whoami)

		// mutating wraps write routes: a caller is mandatory and repeated
		// Idempotency-Key requests are answered from the store.
		mutating := func(r chi.Router) chi.Router {
			r = r.With(middleware.RequireCaller)
			if cfg.IdempotencyStore != nil {
				idempotency := middleware.NewIdempotencyMiddleware(cfg.IdempotencyStore, cfg.IdempotencyTTL, cfg.Metrics)
				r = r.With(idempotency.Wrap)
			}
			return r
		}

		r.Route("/protocols", func(r chi.Router) {
			mutating(r).Post("/", cfg.ProtocolHandler.Create)
			r.Get("/", cfg.ProtocolHandler.List)
			r.Get("/stats", cfg.ProtocolHandler.Stats)

			r.Route("/{ledgerID}", func(r chi.Router) {
				r.Get("/", cfg.ProtocolHandler.Get)

				// Fees
				r.Get("/fees", cfg.FeeHandler.Get)
				mutating(r).Put("/fees/rate", cfg.FeeHandler.SetRate)
				mutating(r).Post("/fees/withdrawals", cfg.FeeHandler.Withdraw)

				// Emitted records
				r.Get("/events", cfg.ConsistencyHandler.Events)
				r.Get("/consistency", cfg.ConsistencyHandler.Check)

				// Splits
				r.Route("/splits", func(r chi.Router) {
					mutating(r).Post("/", cfg.SplitHandler.Create)
					r.Get("/", cfg.SplitHandler.List)

					r.Route("/{splitID}", func(r chi.Router) {
						r.Get("/", cfg.SplitHandler.Get)
						r.Get("/holders", cfg.SplitHandler.Holders)
						r.Get("/holders/{address}/claimable", cfg.SplitHandler.Claimable)
						mutating(r).Post("/deactivate", cfg.SplitHandler.Deactivate)
						mutating(r).Post("/deposits", cfg.SplitHandler.Deposit)
						mutating(r).Post("/distributions", cfg.SplitHandler.Distribute)
					})
				})
			})
		})
	})

	return r
}
