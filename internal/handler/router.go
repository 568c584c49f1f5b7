package handler

import (
	"net/http"

	"github.com/Shivanand-hulikatti/session-registration/internal/config"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter builds the HTTP routing tree.
func NewRouter(h *RegistrationHandler, cfg config.ServerConfig) http.Handler {
	r := chi.NewRouter()

	// Global middleware stack
	r.Use(chimiddleware.Recoverer) // recover from panics, return 500
	r.Use(chimiddleware.RequestID) // attach request IDs
	r.Use(chimiddleware.RealIP)    // trust X-Forwarded-For
	r.Use(RequestContext)
	r.Use(Logger)
	r.Use(Metrics)
	r.Use(CORS(cfg.CORSOrigins))

	r.Get("/health", HealthCheck)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		if !cfg.RateLimitDisabled {
			r.Use(RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))
		}

		r.Post("/registrations", h.Register)
		r.Post("/registrations/cancel", h.Cancel)
		r.Post("/checkin", h.CheckIn)

		r.Get("/sessions/{id}", h.GetSession)
		r.Get("/sessions/{id}/registrations", h.ListSessionRegistrations)
		r.Get("/users/{id}/registrations", h.ListUserRegistrations)
	})

	return r
}
