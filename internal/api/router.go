package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/petcare/vaccine-booking/internal/booking"
	"github.com/petcare/vaccine-booking/internal/metrics"
)

type RouterConfig struct {
	Service  *booking.Service
	Engine   *booking.SearchEngine
	PgPool   *pgxpool.Pool
	Redis    *redis.Client
	Registry *prometheus.Registry
	Limiter  *RateLimiter
	Env      string
	Version  string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware)

	// Health and metrics sit outside the rate limit
	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)
	if cfg.Registry != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(cfg.Registry))
	}

	r.Group(func(r chi.Router) {
		if cfg.Limiter != nil {
			r.Use(cfg.Limiter.Middleware)
		}

		r.Post("/search", searchHandler(cfg.Engine))

		r.Post("/reservations", createReservationHandler(cfg.Service))
		r.Get("/reservations/{id}", getReservationHandler(cfg.Service))
		r.Post("/reservations/{id}/confirm", confirmReservationHandler(cfg.Service))
		r.Post("/reservations/{id}/complete", completeReservationHandler(cfg.Service))
		r.Post("/reservations/{id}/cancel", cancelReservationHandler(cfg.Service))

		r.Get("/pets/{id}/reservations", listPetReservationsHandler(cfg.Service))

		// Same sweep the expiry worker runs, invocable on demand
		r.Post("/admin/expire", expireHandler(cfg.Service))
	})

	return r
}
