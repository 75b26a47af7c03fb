package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	custommiddleware "github.com/mmeshcher/redio/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса.
// Чтение открыто, изменяющие операции требуют токен участника.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.RequestLogger(h.logger))
	r.Use(custommiddleware.GzipMiddleware)

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Post("/session/challenge", h.CreateChallenge)
		r.Post("/session", h.CreateSession)

		r.Get("/pools/{pool}", h.GetPool)
		r.Get("/pools/{pool}/affiliates", h.ListAffiliates)
		r.Get("/pools/{pool}/affiliates/{affiliate}", h.GetAffiliate)
		r.Get("/pools/{pool}/events", h.ListEvents)
		r.Get("/tokens/{owner}/{mint}", h.GetTokenBalance)

		if h.faucetEnabled {
			r.Post("/tokens/mint", h.MintTokens)
		}

		r.Group(func(r chi.Router) {
			r.Use(h.authMiddleware.Middleware)

			r.Post("/pools", h.CreatePool)
			r.Put("/pools/{pool}/commission", h.UpdateCommission)
			r.Post("/pools/{pool}/deactivate", h.DeactivatePool)
			r.Post("/pools/{pool}/escrow/deposit", h.DepositEscrow)
			r.Post("/pools/{pool}/escrow/withdraw", h.WithdrawEscrow)

			r.Post("/pools/{pool}/affiliates", h.AddAffiliate)
			r.Delete("/pools/{pool}/affiliates/{affiliate}", h.RemoveAffiliate)

			r.Post("/pools/{pool}/sales", h.ProcessSale)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
