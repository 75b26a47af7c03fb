package handler

import (
	"net/http"
	"strconv"

	"github.com/mmeshcher/redio/internal/address"
	"github.com/mmeshcher/redio/internal/commission"
	"github.com/mmeshcher/redio/internal/middleware"
	"github.com/mmeshcher/redio/internal/model"
	"github.com/mmeshcher/redio/internal/service"
)

// poolCaller извлекает участника из контекста и адрес пула из пути.
func poolCaller(w http.ResponseWriter, r *http.Request) (caller, pool address.Address, ok bool) {
	caller, ok = middleware.GetIdentityFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return caller, pool, false
	}
	pool, ok = addressParam(r, "pool")
	if !ok {
		badRequest(w)
		return caller, pool, false
	}
	return caller, pool, true
}

// rateFromRequest приводит ставку к uint16. Значения больше 10000 дают InvalidCommissionRate.
func rateFromRequest(rate uint64) (uint16, error) {
	if rate > commission.BasisPoints {
		return 0, model.ErrInvalidCommissionRate
	}
	return uint16(rate), nil
}

type createPoolRequest struct {
	PoolID         string          `json:"pool_id"`
	CurrencyMint   address.Address `json:"currency_mint"`
	CommissionRate uint64          `json:"commission_rate"`
	InitialDeposit uint64          `json:"initial_deposit"`
}

// CreatePool создаёт пул от имени текущего участника.
func (h *Handler) CreatePool(w http.ResponseWriter, r *http.Request) {
	merchant, ok := middleware.GetIdentityFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req createPoolRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w)
		return
	}

	rate, err := rateFromRequest(req.CommissionRate)
	if err != nil {
		h.writeError(w, r, "create pool", err)
		return
	}

	pool, err := h.service.CreatePool(r.Context(), merchant, service.CreatePoolParams{
		PoolID:         req.PoolID,
		CurrencyMint:   req.CurrencyMint,
		CommissionRate: rate,
		InitialDeposit: req.InitialDeposit,
	})
	if err != nil {
		h.writeError(w, r, "create pool", err)
		return
	}

	writeJSON(w, http.StatusCreated, pool)
}

// GetPool возвращает пул и его эскроу-баланс.
func (h *Handler) GetPool(w http.ResponseWriter, r *http.Request) {
	pool, ok := addressParam(r, "pool")
	if !ok {
		badRequest(w)
		return
	}

	view, err := h.service.GetPool(r.Context(), pool)
	if err != nil {
		h.writeError(w, r, "get pool", err)
		return
	}

	writeJSON(w, http.StatusOK, view)
}

type commissionRequest struct {
	CommissionRate uint64 `json:"commission_rate"`
}

// UpdateCommission меняет ставку комиссии пула.
func (h *Handler) UpdateCommission(w http.ResponseWriter, r *http.Request) {
	caller, pool, ok := poolCaller(w, r)
	if !ok {
		return
	}

	var req commissionRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w)
		return
	}

	rate, err := rateFromRequest(req.CommissionRate)
	if err != nil {
		h.writeError(w, r, "update commission", err)
		return
	}

	updated, err := h.service.UpdateCommission(r.Context(), caller, pool, rate)
	if err != nil {
		h.writeError(w, r, "update commission", err)
		return
	}

	writeJSON(w, http.StatusOK, updated)
}

// DeactivatePool деактивирует пул.
func (h *Handler) DeactivatePool(w http.ResponseWriter, r *http.Request) {
	caller, pool, ok := poolCaller(w, r)
	if !ok {
		return
	}

	p, err := h.service.DeactivatePool(r.Context(), caller, pool)
	if err != nil {
		h.writeError(w, r, "deactivate pool", err)
		return
	}

	writeJSON(w, http.StatusOK, p)
}

type amountRequest struct {
	Amount uint64 `json:"amount"`
}

// DepositEscrow пополняет эскроу пула со счёта мерчанта.
func (h *Handler) DepositEscrow(w http.ResponseWriter, r *http.Request) {
	caller, pool, ok := poolCaller(w, r)
	if !ok {
		return
	}

	var req amountRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w)
		return
	}

	view, err := h.service.DepositEscrow(r.Context(), caller, pool, req.Amount)
	if err != nil {
		h.writeError(w, r, "deposit escrow", err)
		return
	}

	writeJSON(w, http.StatusOK, view)
}

// WithdrawEscrow выводит средства эскроу на счёт мерчанта.
func (h *Handler) WithdrawEscrow(w http.ResponseWriter, r *http.Request) {
	caller, pool, ok := poolCaller(w, r)
	if !ok {
		return
	}

	var req amountRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w)
		return
	}

	view, err := h.service.WithdrawEscrow(r.Context(), caller, pool, req.Amount)
	if err != nil {
		h.writeError(w, r, "withdraw escrow", err)
		return
	}

	writeJSON(w, http.StatusOK, view)
}

type affiliateRequest struct {
	Wallet address.Address `json:"wallet"`
	RefID  string          `json:"ref_id"`
}

// AddAffiliate регистрирует аффилиата пула.
func (h *Handler) AddAffiliate(w http.ResponseWriter, r *http.Request) {
	caller, pool, ok := poolCaller(w, r)
	if !ok {
		return
	}

	var req affiliateRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w)
		return
	}

	aff, err := h.service.AddAffiliate(r.Context(), caller, pool, req.Wallet, req.RefID)
	if err != nil {
		h.writeError(w, r, "add affiliate", err)
		return
	}

	writeJSON(w, http.StatusCreated, aff)
}

// ListAffiliates возвращает аффилиатов пула.
func (h *Handler) ListAffiliates(w http.ResponseWriter, r *http.Request) {
	pool, ok := addressParam(r, "pool")
	if !ok {
		badRequest(w)
		return
	}

	list, err := h.service.ListAffiliates(r.Context(), pool)
	if err != nil {
		h.writeError(w, r, "list affiliates", err)
		return
	}

	if len(list) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	writeJSON(w, http.StatusOK, list)
}

// GetAffiliate возвращает аффилиата пула.
func (h *Handler) GetAffiliate(w http.ResponseWriter, r *http.Request) {
	pool, ok := addressParam(r, "pool")
	if !ok {
		badRequest(w)
		return
	}
	affiliate, ok := addressParam(r, "affiliate")
	if !ok {
		badRequest(w)
		return
	}

	aff, err := h.service.GetAffiliate(r.Context(), pool, affiliate)
	if err != nil {
		h.writeError(w, r, "get affiliate", err)
		return
	}

	writeJSON(w, http.StatusOK, aff)
}

// RemoveAffiliate деактивирует аффилиата пула.
func (h *Handler) RemoveAffiliate(w http.ResponseWriter, r *http.Request) {
	caller, pool, ok := poolCaller(w, r)
	if !ok {
		return
	}
	affiliate, ok := addressParam(r, "affiliate")
	if !ok {
		badRequest(w)
		return
	}

	aff, err := h.service.RemoveAffiliate(r.Context(), caller, pool, affiliate)
	if err != nil {
		h.writeError(w, r, "remove affiliate", err)
		return
	}

	writeJSON(w, http.StatusOK, aff)
}

type saleRequest struct {
	Affiliate  address.Address `json:"affiliate"`
	SaleAmount uint64          `json:"sale_amount"`
}

// ProcessSale проводит продажу и выплачивает комиссию аффилиату.
func (h *Handler) ProcessSale(w http.ResponseWriter, r *http.Request) {
	relayer, pool, ok := poolCaller(w, r)
	if !ok {
		return
	}

	var req saleRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w)
		return
	}

	receipt, err := h.service.ProcessSale(r.Context(), relayer, pool, req.Affiliate, req.SaleAmount)
	if err != nil {
		h.writeError(w, r, "process sale", err)
		return
	}

	writeJSON(w, http.StatusOK, receipt)
}

// ListEvents возвращает журнал уведомлений пула. Параметры after и limit необязательны.
func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	pool, ok := addressParam(r, "pool")
	if !ok {
		badRequest(w)
		return
	}

	var after int64
	if v := r.URL.Query().Get("after"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			badRequest(w)
			return
		}
		after = n
	}

	var limit int
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			badRequest(w)
			return
		}
		limit = n
	}

	events, err := h.service.ListEvents(r.Context(), pool, after, limit)
	if err != nil {
		h.writeError(w, r, "list events", err)
		return
	}

	if len(events) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	writeJSON(w, http.StatusOK, events)
}
