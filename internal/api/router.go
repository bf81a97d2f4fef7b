/**
 * @description
 * HTTP router setup for the savings-service using go-chi/chi.
 *
 * @dependencies
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 * - github.com/go-chi/cors: CORS handling for the mobile and web clients.
 */
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// RouterConfig carries the settings the router needs beyond the handlers.
type RouterConfig struct {
	JWKSURL                         string
	InternalAPIKey                  string
	RateLimiter                     RateLimiter
	MoneyMovementRateLimitPerMinute int
}

// NewRouter creates a new Chi router and registers the savings routes.
func NewRouter(h *Handler, cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token", "X-Internal-API-Key"},
		ExposedHeaders:   []string{"Link", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	r.Route("/internal", func(r chi.Router) {
		r.Use(InternalAuthMiddleware(cfg.InternalAPIKey))
		r.Post("/maturity/run", h.handleRunMaturitySweep)
	})

	r.Group(func(r chi.Router) {
		r.Use(ClerkAuthMiddleware(cfg.JWKSURL))

		r.Route("/payment-methods", func(r chi.Router) {
			r.Get("/", h.handleListPaymentMethods)
			r.Post("/bank-accounts", h.handleConnectBankAccount)
			r.Post("/cards", h.handleConnectDebitCard)
			r.Post("/{id}/verify", h.handleVerifyBankAccount)
			r.Put("/{id}/default", h.handleSetDefaultPaymentMethod)
		})

		r.Get("/plans", h.handleListPlans)
		r.Get("/plans/{id}", h.handleGetPlan)
		r.Get("/investments", h.handleListInvestments)
		r.Get("/transactions", h.handleListTransactions)
		r.Get("/quotes/deposit", h.handleQuoteDeposit)

		// Endpoints that move money share one per-user budget.
		r.Group(func(r chi.Router) {
			r.Use(MoneyMovementRateLimit(cfg.RateLimiter, "money_movement", cfg.MoneyMovementRateLimitPerMinute))

			r.Post("/deposits", h.handleCreateDeposit)
			r.Post("/plans/{id}/settle", h.handleSettlePlan)
			r.Post("/investments", h.handleCreateInvestment)
			r.Post("/investments/{id}/withdraw", h.handleWithdrawInvestment)
		})
	})

	return r
}
