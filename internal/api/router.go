package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/carepoint/hospital-appointments/internal/booking"
)

type RouterConfig struct {
	Service *booking.Service
	PgPool  *pgxpool.Pool
	Redis   *redis.Client
	Log     zerolog.Logger
	Env     string
	Version string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()
	v := newValidator()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Log))

	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	r.Route("/api", func(r chi.Router) {
		r.Get("/doctors", listDoctorsHandler(cfg.Service))
		r.Get("/doctors/{doctorID}/availability", getAvailabilityHandler(cfg.Service))

		r.Post("/appointments", bookAppointmentHandler(cfg.Service, v))
		r.Get("/appointments/{id}", getAppointmentHandler(cfg.Service))
		r.Post("/appointments/{id}/cancel", cancelAppointmentHandler(cfg.Service, v, false))

		r.Route("/admin", func(r chi.Router) {
			r.Patch("/appointments/{id}", updateAppointmentHandler(cfg.Service, v))
			r.Post("/appointments/{id}/cancel", cancelAppointmentHandler(cfg.Service, v, true))
			r.Post("/appointments/{id}/status", setStatusHandler(cfg.Service, v))
			r.Post("/appointments/sweep-expired", sweepExpiredHandler(cfg.Service))
			r.Put("/doctors/{doctorID}/availability", setOverrideHandler(cfg.Service, v))
			r.Post("/holidays", createHolidayHandler(cfg.Service, v))
			r.Delete("/holidays/{id}", deleteHolidayHandler(cfg.Service))
		})
	})

	return r
}
