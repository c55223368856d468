/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route
  definitions. This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for a local frontend

ROUTE GROUPS:
  /api/accounts/*      Account registration, balances, interest policies
  /api/transactions/*  Ledger mutations
  /api/transfers       Transfer convenience endpoint
  /api/reports/*       Cached derived aggregates
  /api/recurring/*     Series, projections, stop
  /api/admin/*         Explicit full rebuild

SECURITY NOTE:
  No authentication middleware; the engine serves a single local user.

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
		r.Route("/accounts", func(r chi.Router) {
			r.Get("/", h.ListAccounts)
			r.Post("/", h.CreateAccount)
			r.Get("/{id}", h.GetAccount)
			r.Put("/{id}/interest", h.SetInterestPolicy)
			r.Delete("/{id}/interest", h.RemoveInterestPolicy)
		})

		r.Get("/interest-policies", h.ListInterestPolicies)

		r.Route("/transactions", func(r chi.Router) {
			r.Get("/", h.ListTransactions)
			r.Post("/", h.AddTransaction)
			r.Put("/{id}", h.UpdateTransaction)
			r.Delete("/{id}", h.DeleteTransaction)
		})

		r.Post("/transfers", h.Transfer)

		r.Route("/reports", func(r chi.Router) {
			r.Get("/summary", h.GetSummary)
			r.Get("/categories", h.GetCategoryTotals)
			r.Get("/day/{date}", h.GetDayTotal)
		})

		r.Route("/recurring", func(r chi.Router) {
			r.Get("/", h.ListSeries)
			r.Post("/", h.CreateSeries)
			r.Get("/{id}/projection", h.GetProjection)
			r.Post("/{id}/stop", h.StopSeries)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Post("/rebuild", h.RebuildBalances)
		})
	})

	return r
}
