package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/mmeshcher/redio/internal/address"
	"github.com/mmeshcher/redio/internal/commission"
	"github.com/mmeshcher/redio/internal/model"
	"github.com/mmeshcher/redio/internal/repository"
	"github.com/mmeshcher/redio/internal/token"
	"github.com/mmeshcher/redio/internal/validation"
)

// CreatePoolParams содержит параметры нового пула.
type CreatePoolParams struct {
	PoolID         string
	CurrencyMint   address.Address
	CommissionRate uint16
	InitialDeposit uint64
}

// CreatePool создаёт пул мерчанта и при ненулевом депозите пополняет его эскроу.
func (s *Service) CreatePool(ctx context.Context, merchant address.Address, params CreatePoolParams) (*model.MerchantPool, error) {
	if err := validation.PoolID(params.PoolID); err != nil {
		return nil, s.observe("create_pool", err)
	}
	if err := commission.ValidateRate(params.CommissionRate); err != nil {
		return nil, s.observe("create_pool", err)
	}
	if err := validation.Address(params.CurrencyMint); err != nil {
		return nil, s.observe("create_pool", err)
	}

	now := s.timestamp()
	pool := &model.MerchantPool{
		Address:        address.PoolAddress(merchant, params.PoolID),
		Merchant:       merchant,
		PoolID:         params.PoolID,
		CurrencyMint:   params.CurrencyMint,
		CommissionRate: params.CommissionRate,
		IsActive:       true,
		CreatedAt:      now,
	}

	err := s.repo.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		if err := tx.InsertPool(ctx, pool); err != nil {
			return err
		}

		ledger := token.NewLedger(tx)
		escrow, err := ledger.Open(ctx, pool.EscrowAuthority(), pool.CurrencyMint)
		if err != nil {
			return err
		}

		if params.InitialDeposit > 0 {
			source, err := ledger.Open(ctx, merchant, pool.CurrencyMint)
			if err != nil {
				return err
			}
			err = ledger.Transfer(ctx, token.Transfer{
				From:      source.Address,
				To:        escrow.Address,
				Mint:      pool.CurrencyMint,
				Amount:    params.InitialDeposit,
				Authority: address.Signer(merchant),
			})
			if err != nil {
				return err
			}
		}

		return emit(ctx, tx, model.EventPoolInitialized, pool.Address, now, model.PoolInitialized{
			Pool:           pool.Address,
			Merchant:       merchant,
			PoolID:         pool.PoolID,
			CurrencyMint:   pool.CurrencyMint,
			CommissionRate: pool.CommissionRate,
			InitialDeposit: params.InitialDeposit,
			Timestamp:      now.Unix(),
		})
	})
	if err != nil {
		return nil, s.observe("create_pool", err)
	}

	if params.InitialDeposit > 0 {
		s.metrics.ObserveEscrow("deposit", params.InitialDeposit)
	}
	return pool, s.observe("create_pool", nil)
}

// UpdateCommission меняет ставку комиссии пула. Допустимо и для неактивного пула.
func (s *Service) UpdateCommission(ctx context.Context, caller, pool address.Address, newRate uint16) (*model.MerchantPool, error) {
	var updated *model.MerchantPool
	err := s.repo.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		p, err := loadOwnedPool(ctx, tx, caller, pool)
		if err != nil {
			return err
		}
		if err := commission.ValidateRate(newRate); err != nil {
			return err
		}

		oldRate := p.CommissionRate
		p.CommissionRate = newRate
		if err := tx.UpdatePool(ctx, p); err != nil {
			return err
		}

		now := s.timestamp()
		updated = p
		return emit(ctx, tx, model.EventPoolCommissionUpdated, p.Address, now, model.PoolCommissionUpdated{
			Pool:      p.Address,
			Merchant:  p.Merchant,
			PoolID:    p.PoolID,
			OldRate:   oldRate,
			NewRate:   newRate,
			Timestamp: now.Unix(),
		})
	})
	if err != nil {
		return nil, s.observe("update_commission", err)
	}
	return updated, s.observe("update_commission", nil)
}

// DeactivatePool переводит пул в неактивное состояние. Повторный вызов ничего не меняет.
func (s *Service) DeactivatePool(ctx context.Context, caller, pool address.Address) (*model.MerchantPool, error) {
	var result *model.MerchantPool
	err := s.repo.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		p, err := loadOwnedPool(ctx, tx, caller, pool)
		if err != nil {
			return err
		}
		result = p
		if !p.IsActive {
			return nil
		}

		p.IsActive = false
		if err := tx.UpdatePool(ctx, p); err != nil {
			return err
		}

		now := s.timestamp()
		return emit(ctx, tx, model.EventPoolDeactivated, p.Address, now, model.PoolDeactivated{
			Pool:      p.Address,
			Merchant:  p.Merchant,
			PoolID:    p.PoolID,
			Timestamp: now.Unix(),
		})
	})
	if err != nil {
		return nil, s.observe("deactivate_pool", err)
	}
	return result, s.observe("deactivate_pool", nil)
}

// DepositEscrow переводит средства мерчанта на эскроу активного пула.
func (s *Service) DepositEscrow(ctx context.Context, caller, pool address.Address, amount uint64) (*model.PoolView, error) {
	var view *model.PoolView
	err := s.repo.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		p, err := loadOwnedPool(ctx, tx, caller, pool)
		if err != nil {
			return err
		}
		if amount == 0 {
			return model.ErrInvalidAmount
		}
		if !p.IsActive {
			return model.ErrPoolInactive
		}

		ledger := token.NewLedger(tx)
		source, err := ledger.Open(ctx, p.Merchant, p.CurrencyMint)
		if err != nil {
			return err
		}
		escrow, err := ledger.Open(ctx, p.EscrowAuthority(), p.CurrencyMint)
		if err != nil {
			return err
		}

		err = ledger.Transfer(ctx, token.Transfer{
			From:      source.Address,
			To:        escrow.Address,
			Mint:      p.CurrencyMint,
			Amount:    amount,
			Authority: address.Signer(caller),
		})
		if errors.Is(err, token.ErrBalanceOverflow) {
			return fmt.Errorf("%w: %w", model.ErrArithmeticOverflow, err)
		}
		if err != nil {
			return err
		}

		balance, err := ledger.Balance(ctx, escrow.Address)
		if err != nil {
			return err
		}

		now := s.timestamp()
		view = &model.PoolView{MerchantPool: *p, EscrowBalance: balance}
		return emit(ctx, tx, model.EventEscrowDeposited, p.Address, now, model.EscrowDeposited{
			Pool:      p.Address,
			PoolID:    p.PoolID,
			Amount:    amount,
			Timestamp: now.Unix(),
		})
	})
	if err != nil {
		return nil, s.observe("deposit_escrow", err)
	}

	s.metrics.ObserveEscrow("deposit", amount)
	return view, s.observe("deposit_escrow", nil)
}

// WithdrawEscrow возвращает средства с эскроу на счёт мерчанта. Допустимо и для неактивного пула.
func (s *Service) WithdrawEscrow(ctx context.Context, caller, pool address.Address, amount uint64) (*model.PoolView, error) {
	var view *model.PoolView
	err := s.repo.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		p, err := loadOwnedPool(ctx, tx, caller, pool)
		if err != nil {
			return err
		}
		if amount == 0 {
			return model.ErrInvalidAmount
		}

		ledger := token.NewLedger(tx)
		escrow, err := ledger.Open(ctx, p.EscrowAuthority(), p.CurrencyMint)
		if err != nil {
			return err
		}
		if escrow.Amount < amount {
			return model.ErrInsufficientEscrowBalance
		}

		dest, err := ledger.Open(ctx, p.Merchant, p.CurrencyMint)
		if err != nil {
			return err
		}

		err = ledger.Transfer(ctx, token.Transfer{
			From:      escrow.Address,
			To:        dest.Address,
			Mint:      p.CurrencyMint,
			Amount:    amount,
			Authority: address.EscrowAuthorityOf(p.Address),
		})
		if errors.Is(err, token.ErrBalanceOverflow) {
			return fmt.Errorf("%w: %w", model.ErrArithmeticOverflow, err)
		}
		if err != nil {
			return err
		}

		now := s.timestamp()
		view = &model.PoolView{MerchantPool: *p, EscrowBalance: escrow.Amount - amount}
		return emit(ctx, tx, model.EventEscrowWithdrawn, p.Address, now, model.EscrowWithdrawn{
			Pool:      p.Address,
			PoolID:    p.PoolID,
			Amount:    amount,
			Timestamp: now.Unix(),
		})
	})
	if err != nil {
		return nil, s.observe("withdraw_escrow", err)
	}

	s.metrics.ObserveEscrow("withdraw", amount)
	return view, s.observe("withdraw_escrow", nil)
}

// GetPool возвращает пул вместе с текущим эскроу-балансом.
func (s *Service) GetPool(ctx context.Context, pool address.Address) (*model.PoolView, error) {
	p, err := s.repo.GetPool(ctx, pool)
	if err != nil {
		return nil, err
	}

	acc, err := s.TokenBalance(ctx, p.EscrowAuthority(), p.CurrencyMint)
	if err != nil {
		return nil, err
	}

	return &model.PoolView{MerchantPool: *p, EscrowBalance: acc.Amount}, nil
}
