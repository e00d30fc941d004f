// Package api exposes the HTTP surface of the engine: health and status,
// Prometheus metrics, and the operator endpoints that enqueue requests for
// the executor.
package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sentinela/sentinela/internal/auth"
	"github.com/sentinela/sentinela/internal/middleware"
	"github.com/sentinela/sentinela/internal/queue"
	"github.com/sentinela/sentinela/internal/registry"
)

// Diagnosable is a component that can report its own health for /status.
type Diagnosable interface {
	Diagnostics() map[string]any
}

// Dependencies wires the router's handlers.
type Dependencies struct {
	Store      Store
	Queue      queue.Queue
	Catalog    *registry.Catalog
	Registry   *registry.Registry
	Auth       *auth.Service
	Components map[string]Diagnosable
	Logger     *slog.Logger
}

// NewRouter creates and configures the API router.
func NewRouter(deps *Dependencies) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.Logger(deps.Logger))

	h := &handler{deps: deps}

	// Public routes
	r.Get("/health", h.Health)
	r.Get("/status", h.Status)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/login", h.Login)

		// Protected routes (require JWT)
		r.Group(func(r chi.Router) {
			r.Use(middleware.JWTAuth(deps.Auth))

			r.Route("/monitors", func(r chi.Router) {
				r.Get("/", h.ListMonitors)
				r.Post("/register", h.RegisterMonitor)
				r.Get("/{name}", h.GetMonitor)
				r.Get("/{name}/validate", h.ValidateMonitor)
				r.Post("/{name}/enable", h.EnableMonitor)
				r.Post("/{name}/disable", h.DisableMonitor)
			})

			r.Route("/alerts", func(r chi.Router) {
				r.Post("/{id}/acknowledge", h.AlertAction(queue.RequestPayload{Action: "alert_acknowledge"}))
				r.Post("/{id}/lock", h.AlertAction(queue.RequestPayload{Action: "alert_lock"}))
				r.Post("/{id}/unlock", h.AlertAction(queue.RequestPayload{Action: "alert_unlock"}))
				r.Post("/{id}/solve", h.AlertAction(queue.RequestPayload{Action: "alert_solve"}))
			})

			r.Post("/issues/{id}/drop", h.DropIssue)
			r.Post("/requests", h.SubmitRequest)
		})
	})

	return r
}
