package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/juanfero/rappi-intelligent-ops/internal/middleware"
	"github.com/juanfero/rappi-intelligent-ops/internal/telemetry"
)

// RouterConfig holds the cross-cutting options of the HTTP surface.
type RouterConfig struct {
	AllowedOrigins []string
	RateLimitRPS   float64
	RateLimitBurst int
	// Metrics is optional; without it /metrics is not mounted.
	Metrics *telemetry.Metrics
	Logger  *slog.Logger
}

// NewRouter mounts every route of h. ctx bounds the rate limiter's
// background sweeper.
func NewRouter(ctx context.Context, h *Handler, cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(middleware.AccessLog(logger))
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware)
	}
	if len(cfg.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: cfg.AllowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Content-Type", middleware.RequestIDHeader},
			ExposedHeaders: []string{middleware.RequestIDHeader, "Retry-After"},
			MaxAge:         300,
		}))
	}

	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics.Handler())
	}

	r.Route("/v1", func(r chi.Router) {
		r.Get("/health", h.health)

		r.Group(func(r chi.Router) {
			if cfg.RateLimitRPS > 0 {
				rl := middleware.RateLimitConfig{RequestsPerSecond: cfg.RateLimitRPS, Burst: cfg.RateLimitBurst}
				if cfg.Metrics != nil {
					rl.OnReject = cfg.Metrics.IncrementRateLimitHit
				}
				r.Use(middleware.RateLimiter(ctx, rl))
			}

			r.Post("/chat", h.postChat)
			r.Delete("/sessions/{id}/memory", h.resetSessionMemory)
			r.Get("/history", h.listHistory)

			r.Get("/insights", h.getInsights)
			r.Get("/insights/runs", h.listInsightRuns)

			r.Get("/metrics/summary", h.metricsSummary)
			r.Get("/timeseries/orders", h.ordersTimeseries)
		})
	})

	return r
}
