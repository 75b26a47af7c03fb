// Package service реализует бизнес-логику сервиса комиссионных выплат:
// реестр пулов, реестр аффилиатов и проведение продаж.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mmeshcher/redio/internal/address"
	"github.com/mmeshcher/redio/internal/metrics"
	"github.com/mmeshcher/redio/internal/model"
	"github.com/mmeshcher/redio/internal/repository"
	"github.com/mmeshcher/redio/internal/token"
	"github.com/mmeshcher/redio/internal/validation"
)

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error
	WithinTx(ctx context.Context, fn repository.TxFunc) error
	GetPool(ctx context.Context, addr address.Address) (*model.MerchantPool, error)
	GetAffiliate(ctx context.Context, addr address.Address) (*model.AffiliateAccount, error)
	ListAffiliates(ctx context.Context, pool address.Address) ([]model.AffiliateAccount, error)
	GetTokenAccount(ctx context.Context, addr address.Address) (*token.Account, error)
	ListEvents(ctx context.Context, pool address.Address, afterSeq int64, limit int) ([]model.Event, error)
}

// Service содержит бизнес-логику сервиса комиссионных выплат.
type Service struct {
	repo    Repository
	now     func() time.Time
	metrics *metrics.LedgerMetrics
}

// NewService создаёт новый сервис с указанным репозиторием.
func NewService(repo Repository) *Service {
	return &Service{
		repo:    repo,
		now:     time.Now,
		metrics: metrics.Ledger(),
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

func (s *Service) timestamp() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}

func (s *Service) observe(operation string, err error) error {
	s.metrics.ObserveOperation(operation, err)
	return err
}

func emit(ctx context.Context, tx repository.Tx, kind model.EventKind, pool address.Address, ts time.Time, payload any) error {
	ev, err := model.NewEvent(kind, pool, ts, payload)
	if err != nil {
		return err
	}
	if err := tx.AppendEvent(ctx, &ev); err != nil {
		return fmt.Errorf("append %s event: %w", kind, err)
	}
	return nil
}

// loadOwnedPool загружает пул под блокировкой и проверяет, что caller является его мерчантом.
func loadOwnedPool(ctx context.Context, tx repository.Tx, caller, pool address.Address) (*model.MerchantPool, error) {
	p, err := tx.GetPool(ctx, pool)
	if err != nil {
		return nil, err
	}
	if p.Merchant != caller {
		return nil, model.ErrUnauthorized
	}
	return p, nil
}

// TokenBalance возвращает токен-счёт владельца. Отсутствующий счёт считается нулевым.
func (s *Service) TokenBalance(ctx context.Context, owner, mint address.Address) (*token.Account, error) {
	addr := address.TokenAccount(owner, mint)

	acc, err := s.repo.GetTokenAccount(ctx, addr)
	if errors.Is(err, token.ErrAccountNotFound) {
		return &token.Account{Address: addr, Owner: owner, Mint: mint}, nil
	}
	if err != nil {
		return nil, err
	}
	return acc, nil
}

// MintTokens зачисляет новые токены владельцу. Доступно только при включённом кране.
func (s *Service) MintTokens(ctx context.Context, owner, mint address.Address, amount uint64) (*token.Account, error) {
	if amount == 0 {
		return nil, s.observe("mint_tokens", model.ErrInvalidAmount)
	}
	if err := validation.Address(owner); err != nil {
		return nil, s.observe("mint_tokens", err)
	}
	if err := validation.Address(mint); err != nil {
		return nil, s.observe("mint_tokens", err)
	}

	var acc *token.Account
	err := s.repo.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		var err error
		acc, err = token.NewLedger(tx).Mint(ctx, owner, mint, amount)
		return err
	})
	if errors.Is(err, token.ErrBalanceOverflow) {
		err = fmt.Errorf("%w: %w", model.ErrArithmeticOverflow, err)
	}
	if err != nil {
		return nil, s.observe("mint_tokens", err)
	}
	return acc, s.observe("mint_tokens", nil)
}

// ListEvents возвращает журнал уведомлений пула после указанного номера.
func (s *Service) ListEvents(ctx context.Context, pool address.Address, afterSeq int64, limit int) ([]model.Event, error) {
	if _, err := s.repo.GetPool(ctx, pool); err != nil {
		return nil, err
	}
	return s.repo.ListEvents(ctx, pool, afterSeq, limit)
}
