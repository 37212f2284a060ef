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
  4. CORS:       Cross-origin requests for frontend
  5. Identity:   Bearer-token caller identity (transfer routes)

ROUTE GROUPS:
  /api/tiers/*      Inventory ledger
  /api/nodes/*      Allocation tree, commissions, settlement
  /api/hierarchy/*  Tree queries and template cloning
  /api/transfers/*  Transfer workflow (identity required)
  /api/admin/*      Operational endpoints

SEE ALSO:
  - handlers.go: Handler implementations
  - identity.go: Bearer-token middleware
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured. Routes that
// act on behalf of a node owner require a Bearer token signed with
// jwtSecret.
func NewRouter(h *Handler, jwtSecret string) *chi.Mux {
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
		// Tier routes
		r.Route("/tiers", func(r chi.Router) {
			r.Get("/", h.ListTiers)
			r.Post("/", h.CreateTier)
			r.Get("/{id}", h.GetTier)
			r.Post("/{id}/sales", h.CommitSale)
			r.Post("/{id}/releases", h.ReleaseSale)
			r.Put("/{id}/capacity", h.UpdateCapacity)
			r.Delete("/{id}", h.DeactivateTier)
		})

		// Node routes
		r.Route("/nodes", func(r chi.Router) {
			r.Post("/", h.CreateNode)
			r.Get("/{id}", h.GetNode)
			r.Post("/{id}/topup", h.TopUpNode)
			r.Put("/{id}/auto-assign", h.SetAutoAssign)
			r.Delete("/{id}", h.DeactivateNode)
			r.Get("/{id}/transfers/pending", h.ListPendingTransfers)
			r.Get("/{id}/commissions", h.ListCommissions)
			r.Get("/{id}/settlement", h.GetSettlement)
		})

		// Referral resolution (checkout path)
		r.Get("/referral/{code}", h.ResolveReferralCode)

		// Hierarchy routes
		r.Route("/hierarchy", func(r chi.Router) {
			r.Get("/", h.GetHierarchy)
			r.Post("/clone", h.CloneTemplates)
		})

		// Transfer routes act on behalf of a node owner
		r.Route("/transfers", func(r chi.Router) {
			r.Use(Identity(jwtSecret))
			r.Post("/", h.RequestTransfer)
			r.Get("/{id}", h.GetTransfer)
			r.Post("/{id}/accept", h.AcceptTransfer)
			r.Post("/{id}/reject", h.RejectTransfer)
			r.Post("/{id}/cancel", h.CancelTransfer)
		})

		// Commission recording (called by the checkout pipeline)
		r.Post("/commissions", h.RecordSale)

		// Admin routes
		r.Route("/admin", func(r chi.Router) {
			r.Post("/transfers/sweep", h.SweepTransfers)
		})
	})

	return r
}
