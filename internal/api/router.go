package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/waitlist"
)

type RouterConfig struct {
	Service *appointment.Service
	Checks  []Check
	Logger  zerolog.Logger
	Env     string
	Version string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()
	v := validator.New(validator.WithRequiredStructEnabled())
	svc := cfg.Service

	// Apply middleware
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(RecoverMiddleware)

	// Health endpoints
	health := NewHealthHandler(cfg.Checks, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	// Availability
	r.Get("/slots", slotsHandler(svc))
	r.Get("/slots/next", nextAvailableHandler(svc))

	// Appointment endpoints
	r.Route("/appointments", func(r chi.Router) {
		r.Post("/", bookAppointmentHandler(svc, v))
		r.Get("/", listAppointmentsHandler(svc))
		r.Post("/recurring", bookRecurringHandler(svc, v))
		r.Get("/{id}", getAppointmentHandler(svc))
		r.Post("/{id}/confirm", confirmAppointmentHandler(svc))
		r.Post("/{id}/complete", completeAppointmentHandler(svc))
		r.Post("/{id}/cancel", cancelAppointmentHandler(svc, v))
		r.Post("/{id}/reschedule", rescheduleAppointmentHandler(svc, v))
	})

	// Waitlist endpoints
	r.Route("/waitlist", func(r chi.Router) {
		r.Post("/", addWaitlistHandler(svc, v))
		r.Get("/", listWaitlistHandler(svc))
		r.Post("/{id}/notify", waitlistActionHandler(func(r *http.Request, id uuid.UUID) (*waitlist.Entry, error) {
			return svc.NotifyWaitlistEntry(r.Context(), id)
		}))
		r.Post("/{id}/schedule", waitlistActionHandler(func(r *http.Request, id uuid.UUID) (*waitlist.Entry, error) {
			return svc.MarkWaitlistScheduled(r.Context(), id)
		}))
		r.Post("/{id}/remove", waitlistActionHandler(func(r *http.Request, id uuid.UUID) (*waitlist.Entry, error) {
			return svc.RemoveFromWaitlist(r.Context(), id)
		}))
	})

	r.Get("/metrics/occupancy", occupancyHandler(svc))

	return r
}
