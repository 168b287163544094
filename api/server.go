/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. RealIP:     Client address behind proxies
  3. Logger:     Request logging
  4. Recoverer:  Panic recovery (500 instead of crash)
  5. CORS:       Cross-origin requests for the dashboard

ROUTE GROUPS:
  /api/stores/*       Per-store aggregation
  /api/groups/*       Store-group aggregation
  /api/checkpoints    Collection watermarks
  /api/collector/*    Collection audit
  /api/admin/*        Operational triggers

SECURITY NOTE:
  No authentication middleware; the engine is deployed behind the
  organization's reverse proxy which terminates auth.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Route("/stores", func(r chi.Router) {
			r.Get("/", h.ListStores)
			r.Get("/{id}/kpis", h.GetStoreKpis)
			r.Get("/{id}/compare", h.CompareStore)
			r.Get("/{id}/series", h.GetStoreSeries)
		})

		r.Route("/groups", func(r chi.Router) {
			r.Get("/{name}/kpis", h.GetGroupKpis)
			r.Get("/{name}/compare", h.CompareGroup)
			r.Get("/{name}/series", h.GetGroupSeries)
		})

		r.Get("/checkpoints", h.ListCheckpoints)

		r.Route("/collector", func(r chi.Router) {
			r.Get("/runs", h.ListCollectionRuns)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Post("/collect", h.TriggerCollect)
		})
	})

	return r
}
