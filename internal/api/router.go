/**
 * @description
 * This file sets up the HTTP router for the treasury-service. It defines the API
 * endpoints, associates them with their corresponding handlers, and applies any
 * necessary middleware, such as for authentication.
 *
 * @dependencies
 * - net/http: Standard Go library for HTTP functionality.
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 * - github.com/go-chi/cors: CORS policy for browser clients.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// TreasuryRoutes creates and returns a new router for the treasury service.
func TreasuryRoutes(h *TreasuryHandlers, jwtSecret string, metricsHandler http.Handler) http.Handler {
	r := chi.NewRouter()

	// Add standard middleware for logging, panic recovery, and timeouts.
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300, // Maximum value not ignored by any major browsers
	}))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	if metricsHandler != nil {
		r.Handle("/metrics", metricsHandler)
	}

	// Price reads are unauthenticated so pricing widgets can poll them.
	r.Get("/price", h.GetPriceHandler)
	r.Get("/price/convert", h.ConvertPreviewHandler)

	// Group routes that require authentication.
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(jwtSecret))

		// Investment ledger
		r.Post("/purchases", h.PurchaseHandler)
		r.Post("/purchases/alt", h.PurchaseWithAltHandler)
		r.Get("/accounts/{accountID}/purchases", h.ListPurchasesHandler)
		r.Get("/accounts/{accountID}", h.GetAccountHandler)
		r.Post("/deposits/batch", h.BatchDepositHandler)

		// Referral commissions
		r.Put("/referrer", h.SetReferrerHandler)
		r.Post("/commissions/claim", h.ClaimCommissionHandler)
		r.Put("/commissions/rate", h.SetCommissionRateHandler)

		// Price oracle
		r.Put("/price", h.UpdatePriceHandler)

		// Reward periods
		r.Post("/reward-periods", h.StartRewardPeriodHandler)
		r.Get("/reward-periods/{index}", h.GetRewardPeriodHandler)
		r.Post("/reward-periods/{index}/claim", h.ClaimRewardHandler)

		// Treasury administration
		r.Get("/treasury", h.GetTreasuryHandler)
		r.Post("/withdrawals", h.WithdrawHandler)
		r.Put("/withdrawals/limit", h.SetDailyLimitHandler)
		r.Post("/withdrawals/emergency", h.EmergencyWithdrawHandler)
		r.Post("/pause", h.PauseHandler)
		r.Post("/unpause", h.UnpauseHandler)
	})

	return r
}
