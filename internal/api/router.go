package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/clinicore/authorized-scheduling/internal/appointment"
	"github.com/clinicore/authorized-scheduling/internal/authorization"
	"github.com/clinicore/authorized-scheduling/internal/session"
)

type RouterConfig struct {
	Appointments   *appointment.Service
	Authorizations *authorization.Service
	Sessions       *session.Orchestrator
	PgPool         *pgxpool.Pool
	Redis          *redis.Client
	Log            zerolog.Logger
	Env            string
	Version        string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// Apply middleware
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Log))

	// Health endpoints
	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	// Appointment endpoints
	r.Post("/appointments", createAppointmentHandler(cfg.Appointments))
	r.Get("/appointments", listAppointmentsHandler(cfg.Appointments))
	r.Get("/appointments/{id}", getAppointmentHandler(cfg.Appointments))
	r.Post("/appointments/{id}/start", startAppointmentHandler(cfg.Appointments))
	r.Post("/appointments/{id}/cancel", cancelAppointmentHandler(cfg.Appointments))
	r.Post("/appointments/{id}/complete", completeAppointmentHandler(cfg.Sessions))

	// Authorization ledger endpoints
	r.Get("/authorizations/{id}", getAuthorizationHandler(cfg.Authorizations))
	r.Post("/authorizations/{id}/reserve", reserveUnitsHandler(cfg.Authorizations))
	r.Post("/authorizations/{id}/consume", consumeUnitsHandler(cfg.Authorizations))

	// Session endpoints
	r.Get("/sessions/{id}", getSessionHandler(cfg.Sessions))

	return r
}
