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
)

// ProcessSale выплачивает аффилиату комиссию с продажи из эскроу пула.
// relayer может быть любым аутентифицированным участником.
// При любой ошибке не меняются ни балансы, ни счётчики, ни журнал.
func (s *Service) ProcessSale(ctx context.Context, relayer, pool, affiliate address.Address, saleAmount uint64) (*model.SaleReceipt, error) {
	var receipt *model.SaleReceipt
	err := s.repo.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		p, err := tx.GetPool(ctx, pool)
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

		if saleAmount == 0 {
			return model.ErrInvalidAmount
		}
		if !p.IsActive {
			return model.ErrPoolInactive
		}
		if !a.IsActive {
			return model.ErrAffiliateInactive
		}

		amount, err := commission.ForSale(saleAmount, p.CommissionRate)
		if err != nil {
			return err
		}

		ledger := token.NewLedger(tx)
		escrow, err := ledger.Open(ctx, p.EscrowAuthority(), p.CurrencyMint)
		if err != nil {
			return err
		}
		if escrow.Amount < amount {
			return model.ErrInsufficientEscrowBalance
		}

		volume, err := commission.Add(p.TotalVolume, saleAmount)
		if err != nil {
			return err
		}
		paid, err := commission.Add(p.TotalCommissionsPaid, amount)
		if err != nil {
			return err
		}
		earned, err := commission.Add(a.TotalEarned, amount)
		if err != nil {
			return err
		}
		sales, err := commission.Add(a.SalesCount, 1)
		if err != nil {
			return err
		}

		dest, err := ledger.Open(ctx, a.Wallet, p.CurrencyMint)
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

		p.TotalVolume = volume
		p.TotalCommissionsPaid = paid
		if err := tx.UpdatePool(ctx, p); err != nil {
			return err
		}
		a.TotalEarned = earned
		a.SalesCount = sales
		if err := tx.UpdateAffiliate(ctx, a); err != nil {
			return err
		}

		now := s.timestamp()
		receipt = &model.SaleReceipt{
			Pool:        p.Address,
			Affiliate:   a.Address,
			Wallet:      a.Wallet,
			SaleAmount:  saleAmount,
			Commission:  amount,
			EscrowAfter: escrow.Amount - amount,
			ProcessedAt: now,
		}

		return emit(ctx, tx, model.EventSaleProcessed, p.Address, now, model.SaleProcessed{
			Pool:            p.Address,
			PoolID:          p.PoolID,
			Affiliate:       a.Address,
			AffiliateWallet: a.Wallet,
			SaleAmount:      saleAmount,
			Commission:      amount,
			Timestamp:       now.Unix(),
		})
	})
	if err != nil {
		return nil, s.observe("process_sale", err)
	}

	s.metrics.ObserveSale(saleAmount, receipt.Commission)
	return receipt, s.observe("process_sale", nil)
}
