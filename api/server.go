/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route
  definitions. This is the wiring layer that connects URLs to handlers.

ROUTER: chi
  Chi was chosen for:
  - Lightweight and fast
  - Context-based
  - Middleware support
  - RESTful route patterns

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for the dashboard frontend

ROUTE GROUPS:
  /api/agents/*   Agent submission and self view
  /api/entries/*  Review list/stream/summary and transitions

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
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		// Agent routes
		r.Route("/agents/{ownerID}", func(r chi.Router) {
			r.Post("/entries", h.SubmitEntry)
			r.Get("/entries", h.ListOwnerEntries)
		})

		// Review routes
		r.Route("/entries", func(r chi.Router) {
			r.Get("/", h.ListEntries)
			r.Get("/stream", h.StreamEntries)
			r.Get("/summary", h.PeriodSummary)
			r.Post("/bulk", h.BulkTransition)

			r.Route("/{id}", func(r chi.Router) {
				r.Post("/approve", h.ApproveEntry)
				r.Post("/reject", h.RejectEntry)
				r.Post("/reset", h.ResetEntry)
				r.Post("/dispute", h.DisputeEntry)
				r.Patch("/", h.EditEntry)
				r.Delete("/", h.DeleteEntry)
			})
		})
	})

	return r
}
