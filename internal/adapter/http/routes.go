package http

import (
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	adapterotel "github.com/planvault/planvault/internal/adapter/otel"
	"github.com/planvault/planvault/internal/middleware"
)

// NewRouter assembles the chi router with the standard middleware chain
// and all API routes mounted. An empty apiKey disables authentication.
func NewRouter(h *Handlers, apiKey string) chi.Router {
	r := chi.NewRouter()

	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(30 * time.Second))
	r.Use(middleware.RequestID)
	r.Use(middleware.TenantID)
	r.Use(adapterotel.HTTPMiddleware("planvault"))
	r.Use(SecurityHeaders)
	r.Use(Logger)

	MountRoutes(r, h, apiKey)
	return r
}

// MountRoutes registers all API routes on the given chi router.
func MountRoutes(r chi.Router, h *Handlers, apiKey string) {
	r.Get("/healthz", h.Healthz)

	r.Route("/api", func(r chi.Router) {
		r.Use(AuthMiddleware(apiKey))

		r.Get("/plans", h.ListPlans)
		r.Post("/plans", h.CreatePlan)
		r.Get("/plans/{id}", h.GetPlan)
		r.Delete("/plans/{id}", h.DeletePlan)

		r.Get("/plans/{id}/entities/{kind}", h.ListEntities)
		r.Get("/plans/{id}/entities/{kind}/{entityID}", h.GetEntity)
		r.Get("/plans/{id}/links", h.ListLinks)

		r.Post("/plans/{id}/batch", h.ExecuteBatch)
	})
}
