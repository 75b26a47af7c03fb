package service

import (
	"context"

	"github.com/mmeshcher/redio/internal/address"
	"github.com/mmeshcher/redio/internal/model"
	"github.com/mmeshcher/redio/internal/repository"
	"github.com/mmeshcher/redio/internal/validation"
)

// AddAffiliate регистрирует кошелёк аффилиатом активного пула.
func (s *Service) AddAffiliate(ctx context.Context, caller, pool, wallet address.Address, refID string) (*model.AffiliateAccount, error) {
	var aff *model.AffiliateAccount
	err := s.repo.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		p, err := loadOwnedPool(ctx, tx, caller, pool)
		if err != nil {
			return err
		}
		if !p.IsActive {
			return model.ErrPoolInactive
		}
		if err := validation.Address(wallet); err != nil {
			return err
		}
		if err := validation.RefID(refID); err != nil {
			return err
		}

		now := s.timestamp()
		aff = &model.AffiliateAccount{
			Address:   address.AffiliateAddress(p.Address, wallet),
			Pool:      p.Address,
			Wallet:    wallet,
			RefID:     refID,
			IsActive:  true,
			CreatedAt: now,
		}
		if err := tx.InsertAffiliate(ctx, aff); err != nil {
			return err
		}

		return emit(ctx, tx, model.EventAffiliateAdded, p.Address, now, model.AffiliateAdded{
			Pool:      p.Address,
			PoolID:    p.PoolID,
			Affiliate: aff.Address,
			Wallet:    wallet,
			RefID:     refID,
			Timestamp: now.Unix(),
		})
	})
	if err != nil {
		return nil, s.observe("add_affiliate", err)
	}
	return aff, s.observe("add_affiliate", nil)
}

// RemoveAffiliate деактивирует аффилиата пула. Повторный вызов ничего не меняет.
func (s *Service) RemoveAffiliate(ctx context.Context, caller, pool, affiliate address.Address) (*model.AffiliateAccount, error) {
	var result *model.AffiliateAccount
	err := s.repo.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		p, err := loadOwnedPool(ctx, tx, caller, pool)
		if err != nil {
			return err
		}
		a, err := tx.GetAffiliate(ctx, affiliate)
		if err != nil {
			return err
		}
		if a.Pool != p.Address {
			return model.ErrInvalidAffiliate
		}

		result = a
		if !a.IsActive {
			return nil
		}

		a.IsActive = false
		if err := tx.UpdateAffiliate(ctx, a); err != nil {
			return err
		}

		now := s.timestamp()
		return emit(ctx, tx, model.EventAffiliateRemoved, p.Address, now, model.AffiliateRemoved{
			Pool:      p.Address,
			PoolID:    p.PoolID,
			Affiliate: a.Address,
			Wallet:    a.Wallet,
			Timestamp: now.Unix(),
		})
	})
	if err != nil {
		return nil, s.observe("remove_affiliate", err)
	}
	return result, s.observe("remove_affiliate", nil)
}

// GetAffiliate возвращает аффилиата, если он привязан к указанному пулу.
func (s *Service) GetAffiliate(ctx context.Context, pool, affiliate address.Address) (*model.AffiliateAccount, error) {
	a, err := s.repo.GetAffiliate(ctx, affiliate)
	if err != nil {
		return nil, err
	}
	if a.Pool != pool {
		return nil, model.ErrInvalidAffiliate
	}
	return a, nil
}

// ListAffiliates возвращает аффилиатов пула.
func (s *Service) ListAffiliates(ctx context.Context, pool address.Address) ([]model.AffiliateAccount, error) {
	if _, err := s.repo.GetPool(ctx, pool); err != nil {
		return nil, err
	}
	return s.repo.ListAffiliates(ctx, pool)
}
