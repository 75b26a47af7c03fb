// Package handler содержит HTTP-обработчики API сервиса комиссионных выплат.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mmeshcher/redio/internal/address"
	"github.com/mmeshcher/redio/internal/middleware"
	"github.com/mmeshcher/redio/internal/model"
	"github.com/mmeshcher/redio/internal/service"
	"github.com/mmeshcher/redio/internal/token"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	CreatePool(ctx context.Context, merchant address.Address, params service.CreatePoolParams) (*model.MerchantPool, error)
	UpdateCommission(ctx context.Context, caller, pool address.Address, newRate uint16) (*model.MerchantPool, error)
	DeactivatePool(ctx context.Context, caller, pool address.Address) (*model.MerchantPool, error)
	DepositEscrow(ctx context.Context, caller, pool address.Address, amount uint64) (*model.PoolView, error)
	WithdrawEscrow(ctx context.Context, caller, pool address.Address, amount uint64) (*model.PoolView, error)
	GetPool(ctx context.Context, pool address.Address) (*model.PoolView, error)

	AddAffiliate(ctx context.Context, caller, pool, wallet address.Address, refID string) (*model.AffiliateAccount, error)
	RemoveAffiliate(ctx context.Context, caller, pool, affiliate address.Address) (*model.AffiliateAccount, error)
	GetAffiliate(ctx context.Context, pool, affiliate address.Address) (*model.AffiliateAccount, error)
	ListAffiliates(ctx context.Context, pool address.Address) ([]model.AffiliateAccount, error)

	ProcessSale(ctx context.Context, relayer, pool, affiliate address.Address, saleAmount uint64) (*model.SaleReceipt, error)
	ListEvents(ctx context.Context, pool address.Address, afterSeq int64, limit int) ([]model.Event, error)

	TokenBalance(ctx context.Context, owner, mint address.Address) (*token.Account, error)
	MintTokens(ctx context.Context, owner, mint address.Address, amount uint64) (*token.Account, error)
}

// Handler реализует HTTP-обработчики API сервиса комиссионных выплат.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
	faucetEnabled  bool
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
// faucetEnabled открывает маршрут выпуска тестовых токенов.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware, faucetEnabled bool) *Handler {
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
		faucetEnabled:  faucetEnabled,
	}
}

type errorResponse struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}

func statusFor(err error) int {
	if errors.Is(err, token.ErrInsufficientFunds) {
		return http.StatusPaymentRequired
	}

	switch model.KindOf(err) {
	case model.KindValidation, model.KindArithmetic:
		return http.StatusUnprocessableEntity
	case model.KindAuthorization:
		return http.StatusForbidden
	case model.KindState, model.KindConflict:
		return http.StatusConflict
	case model.KindNotFound:
		return http.StatusNotFound
	case model.KindResource:
		return http.StatusPaymentRequired
	default:
		return http.StatusInternalServerError
	}
}

// writeError отвечает кодом доменной ошибки. Прочие ошибки логируются и возвращаются как 500.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, op string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Error(op+" error",
			zap.Error(err),
			zap.String("requestID", middleware.GetRequestIDFromContext(r.Context())))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	code := model.CodeOf(err)
	if code == "" && errors.Is(err, token.ErrInsufficientFunds) {
		code = "InsufficientFunds"
	}
	writeJSON(w, status, errorResponse{Code: code, Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

func addressParam(r *http.Request, name string) (address.Address, bool) {
	a, err := address.Parse(chi.URLParam(r, name))
	if err != nil {
		return address.Address{}, false
	}
	return a, true
}

func badRequest(w http.ResponseWriter) {
	http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
}

type challengeRequest struct {
	Identity address.Address `json:"identity"`
}

type challengeResponse struct {
	Identity  address.Address `json:"identity"`
	Nonce     string          `json:"nonce"`
	Message   string          `json:"message"`
	ExpiresAt time.Time       `json:"expires_at"`
}

// CreateChallenge выдаёт одноразовый challenge, который участник подписывает ключом ed25519.
func (h *Handler) CreateChallenge(w http.ResponseWriter, r *http.Request) {
	var req challengeRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w)
		return
	}
	if req.Identity.IsZero() {
		badRequest(w)
		return
	}

	nonce, expires, err := h.authMiddleware.Challenge(req.Identity)
	if errors.Is(err, middleware.ErrTooManyChallenges) {
		http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		return
	}
	if err != nil {
		h.writeError(w, r, "create challenge", err)
		return
	}

	writeJSON(w, http.StatusOK, challengeResponse{
		Identity:  req.Identity,
		Nonce:     nonce,
		Message:   string(middleware.ChallengeMessage(nonce)),
		ExpiresAt: expires.UTC(),
	})
}

type sessionRequest struct {
	Identity  address.Address `json:"identity"`
	Nonce     string          `json:"nonce"`
	Signature []byte          `json:"signature"`
}

type sessionResponse struct {
	Identity address.Address `json:"identity"`
	Token    string          `json:"token"`
}

// CreateSession проверяет подпись challenge и выдаёт токен участника в cookie и теле ответа.
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w)
		return
	}
	if req.Identity.IsZero() {
		badRequest(w)
		return
	}

	value, err := h.authMiddleware.Authenticate(w, req.Identity, req.Nonce, req.Signature)
	if err != nil {
		h.logger.Info("session rejected",
			zap.Stringer("identity", req.Identity),
			zap.Error(err),
			zap.String("requestID", middleware.GetRequestIDFromContext(r.Context())))
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	writeJSON(w, http.StatusOK, sessionResponse{Identity: req.Identity, Token: value})
}

// GetTokenBalance возвращает токен-счёт владельца в указанной валюте.
func (h *Handler) GetTokenBalance(w http.ResponseWriter, r *http.Request) {
	owner, ok := addressParam(r, "owner")
	if !ok {
		badRequest(w)
		return
	}
	mint, ok := addressParam(r, "mint")
	if !ok {
		badRequest(w)
		return
	}

	acc, err := h.service.TokenBalance(r.Context(), owner, mint)
	if err != nil {
		h.writeError(w, r, "token balance", err)
		return
	}

	writeJSON(w, http.StatusOK, acc)
}

type mintRequest struct {
	Owner  address.Address `json:"owner"`
	Mint   address.Address `json:"mint"`
	Amount uint64          `json:"amount"`
}

// MintTokens выпускает тестовые токены. Маршрут существует только при включённом кране.
func (h *Handler) MintTokens(w http.ResponseWriter, r *http.Request) {
	var req mintRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w)
		return
	}

	acc, err := h.service.MintTokens(r.Context(), req.Owner, req.Mint, req.Amount)
	if err != nil {
		h.writeError(w, r, "mint tokens", err)
		return
	}

	writeJSON(w, http.StatusOK, acc)
}
