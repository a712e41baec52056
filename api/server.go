/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for the collection-desk frontend

ROUTE GROUPS:
  /api/customers/*   Customer directory and per-customer reads
  /api/entries       Milk collection ingestion
  /api/payments      Settlements (external cash or advance draw)
  /api/advances/*    Advance issuance and cancellation
  /api/rates/*       Rate rule administration

SECURITY NOTE:
  No authentication middleware currently. All endpoints are public.

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
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		// Customer directory and per-customer reads
		r.Route("/customers", func(r chi.Router) {
			r.Get("/", h.ListCustomers)
			r.Post("/", h.CreateCustomer)
			r.Get("/{id}", h.GetCustomer)
			r.Get("/{id}/passbook", h.GetPassbook)
			r.Get("/{id}/entries", h.ListEntries)
			r.Get("/{id}/advances", h.ListAdvances)
			r.Get("/{id}/advance-balance", h.GetAdvanceBalance)
		})

		// Record writes
		r.Post("/entries", h.CreateEntry)
		r.Post("/payments", h.CreatePayment)

		// Advances
		r.Route("/advances", func(r chi.Router) {
			r.Post("/", h.IssueAdvance)
			r.Post("/{id}/cancel", h.CancelAdvance)
		})

		// Rate rule administration
		r.Route("/rates", func(r chi.Router) {
			r.Get("/", h.ListRateRules)
			r.Post("/", h.CreateRateRule)
			r.Post("/{id}/deactivate", h.DeactivateRateRule)
		})
	})

	return r
}
