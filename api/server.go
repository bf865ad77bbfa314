/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

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
  4. CORS:       Cross-origin requests for storefront frontends

ROUTE GROUPS:
  /api/orders/*     Order lifecycle
  /api/subjects/*   Balances, statements, redemption
  /api/payouts/*    Agent withdrawals
  /api/admin/*      Rate bands and maturity sweeps

SECURITY NOTE:
  No authentication middleware currently. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

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

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Order routes
		r.Route("/orders", func(r chi.Router) {
			r.Post("/", h.CreateOrder)
			r.Get("/{id}", h.GetOrder)
			r.Post("/{id}/transition", h.TransitionOrder)
		})

		// Subject routes (customers and agents)
		r.Route("/subjects", func(r chi.Router) {
			r.Get("/{id}/balance", h.GetBalance)
			r.Get("/{id}/statement", h.GetStatement)
			r.Get("/{id}/audit", h.GetAudit)
			r.Post("/{id}/redeem", h.RedeemPoints)
		})

		// Payout routes
		r.Route("/payouts", func(r chi.Router) {
			r.Post("/", h.RequestPayout)
			r.Post("/{entryID}/complete", h.CompletePayout)
		})

		// Admin routes
		r.Route("/admin", func(r chi.Router) {
			r.Get("/rates", h.GetRates)
			r.Put("/rates", h.SetRates)
			r.Post("/sweep", h.TriggerSweep)
			r.Get("/sweeps/{subjectID}", h.ListSweepRuns)
		})
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return r
}
