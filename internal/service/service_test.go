package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mmeshcher/redio/internal/address"
	"github.com/mmeshcher/redio/internal/model"
	"github.com/mmeshcher/redio/internal/repository"
	"github.com/mmeshcher/redio/internal/token"
)

func addr(seed byte) address.Address {
	var a address.Address
	for i := range a {
		a[i] = seed
	}
	return a
}

var (
	merchant = addr(1)
	mint     = addr(2)
	wallet   = addr(3)
	stranger = addr(4)
)

func newTestService(t *testing.T) (*Service, *repository.MemoryRepository) {
	t.Helper()

	repo := repository.NewMemoryRepository()
	svc := NewService(repo)
	svc.now = func() time.Time { return time.Unix(1700000000, 0) }
	return svc, repo
}

// setupPool создаёт пул со ставкой rate, эскроу escrow и одним аффилиатом.
func setupPool(t *testing.T, svc *Service, rate uint16, escrow uint64) (*model.MerchantPool, *model.AffiliateAccount) {
	t.Helper()
	ctx := context.Background()

	if escrow > 0 {
		if _, err := svc.MintTokens(ctx, merchant, mint, escrow); err != nil {
			t.Fatalf("MintTokens: %v", err)
		}
	}

	pool, err := svc.CreatePool(ctx, merchant, CreatePoolParams{
		PoolID:         "summer",
		CurrencyMint:   mint,
		CommissionRate: rate,
		InitialDeposit: escrow,
	})
	if err != nil {
		t.Fatalf("CreatePool: %v", err)
	}

	aff, err := svc.AddAffiliate(ctx, merchant, pool.Address, wallet, "ref-1")
	if err != nil {
		t.Fatalf("AddAffiliate: %v", err)
	}
	return pool, aff
}

func balanceOf(t *testing.T, svc *Service, owner address.Address) uint64 {
	t.Helper()
	acc, err := svc.TokenBalance(context.Background(), owner, mint)
	if err != nil {
		t.Fatalf("TokenBalance: %v", err)
	}
	return acc.Amount
}

func eventKinds(t *testing.T, svc *Service, pool address.Address) []model.EventKind {
	t.Helper()
	events, err := svc.ListEvents(context.Background(), pool, 0, 0)
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	kinds := make([]model.EventKind, 0, len(events))
	for _, e := range events {
		kinds = append(kinds, e.Kind)
	}
	return kinds
}

// saturateVolume выставляет объём продаж пула в максимум u64.
func saturateVolume(t *testing.T, repo *repository.MemoryRepository, pool address.Address) {
	t.Helper()
	err := repo.WithinTx(context.Background(), func(ctx context.Context, tx repository.Tx) error {
		p, err := tx.GetPool(ctx, pool)
		if err != nil {
			return err
		}
		p.TotalVolume = ^uint64(0)
		return tx.UpdatePool(ctx, p)
	})
	if err != nil {
		t.Fatalf("saturate volume: %v", err)
	}
}

func TestCreatePool(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.MintTokens(ctx, merchant, mint, 5000); err != nil {
		t.Fatalf("MintTokens: %v", err)
	}

	pool, err := svc.CreatePool(ctx, merchant, CreatePoolParams{
		PoolID:         "p1",
		CurrencyMint:   mint,
		CommissionRate: 250,
		InitialDeposit: 3000,
	})
	if err != nil {
		t.Fatalf("CreatePool: %v", err)
	}

	if pool.Address != address.PoolAddress(merchant, "p1") {
		t.Fatalf("unexpected pool address %s", pool.Address)
	}
	if !pool.IsActive || pool.TotalVolume != 0 || pool.TotalCommissionsPaid != 0 {
		t.Fatalf("unexpected initial pool state: %+v", pool)
	}

	view, err := svc.GetPool(ctx, pool.Address)
	if err != nil {
		t.Fatalf("GetPool: %v", err)
	}
	if view.EscrowBalance != 3000 {
		t.Fatalf("expected escrow 3000, got %d", view.EscrowBalance)
	}
	if got := balanceOf(t, svc, merchant); got != 2000 {
		t.Fatalf("expected merchant balance 2000, got %d", got)
	}

	events, err := svc.ListEvents(ctx, pool.Address, 0, 0)
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	if len(events) != 1 || events[0].Kind != model.EventPoolInitialized {
		t.Fatalf("expected one PoolInitialized event, got %+v", events)
	}

	var payload model.PoolInitialized
	if err := json.Unmarshal(events[0].Payload, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.InitialDeposit != 3000 || payload.CommissionRate != 250 || payload.Merchant != merchant {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}

func TestCreatePoolValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		params CreatePoolParams
		want   error
	}{
		{"empty pool id", CreatePoolParams{PoolID: "", CurrencyMint: mint}, model.ErrInvalidPoolID},
		{"long pool id", CreatePoolParams{PoolID: "123456789012345678901234567890123", CurrencyMint: mint}, model.ErrInvalidPoolID},
		{"rate above 100%", CreatePoolParams{PoolID: "p", CurrencyMint: mint, CommissionRate: 10001}, model.ErrInvalidCommissionRate},
		{"deposit without funds", CreatePoolParams{PoolID: "p", CurrencyMint: mint, InitialDeposit: 10}, token.ErrInsufficientFunds},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.CreatePool(ctx, merchant, tt.params)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}

	if _, err := svc.GetPool(ctx, address.PoolAddress(merchant, "p")); !errors.Is(err, model.ErrPoolNotFound) {
		t.Fatalf("failed creation must not leave a pool, got %v", err)
	}
}

func TestCreatePoolDuplicate(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	params := CreatePoolParams{PoolID: "dup", CurrencyMint: mint, CommissionRate: 100}
	if _, err := svc.CreatePool(ctx, merchant, params); err != nil {
		t.Fatalf("CreatePool: %v", err)
	}
	if _, err := svc.CreatePool(ctx, merchant, params); !errors.Is(err, model.ErrPoolExists) {
		t.Fatalf("expected ErrPoolExists, got %v", err)
	}

	// Тот же идентификатор у другого мерчанта даёт другой пул.
	if _, err := svc.CreatePool(ctx, stranger, params); err != nil {
		t.Fatalf("CreatePool for another merchant: %v", err)
	}
}

func TestProcessSale(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	pool, aff := setupPool(t, svc, 250, 1_000_000)

	receipt, err := svc.ProcessSale(ctx, stranger, pool.Address, aff.Address, 40_000)
	if err != nil {
		t.Fatalf("ProcessSale: %v", err)
	}
	if receipt.Commission != 1000 || receipt.EscrowAfter != 999_000 {
		t.Fatalf("unexpected receipt: %+v", receipt)
	}

	view, err := svc.GetPool(ctx, pool.Address)
	if err != nil {
		t.Fatalf("GetPool: %v", err)
	}
	if view.EscrowBalance != 999_000 || view.TotalVolume != 40_000 || view.TotalCommissionsPaid != 1000 {
		t.Fatalf("unexpected pool after sale: %+v", view)
	}

	got, err := svc.GetAffiliate(ctx, pool.Address, aff.Address)
	if err != nil {
		t.Fatalf("GetAffiliate: %v", err)
	}
	if got.TotalEarned != 1000 || got.SalesCount != 1 {
		t.Fatalf("unexpected affiliate after sale: %+v", got)
	}
	if b := balanceOf(t, svc, wallet); b != 1000 {
		t.Fatalf("expected wallet balance 1000, got %d", b)
	}

	kinds := eventKinds(t, svc, pool.Address)
	if kinds[len(kinds)-1] != model.EventSaleProcessed {
		t.Fatalf("expected SaleProcessed last, got %v", kinds)
	}
}

func TestProcessSaleCountersAccumulate(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	pool, aff := setupPool(t, svc, 500, 1_000_000)

	var volume, paid uint64
	for _, sale := range []uint64{100, 2_000, 33_333} {
		r, err := svc.ProcessSale(ctx, wallet, pool.Address, aff.Address, sale)
		if err != nil {
			t.Fatalf("ProcessSale(%d): %v", sale, err)
		}
		volume += sale
		paid += r.Commission
	}

	view, err := svc.GetPool(ctx, pool.Address)
	if err != nil {
		t.Fatalf("GetPool: %v", err)
	}
	if view.TotalVolume != volume || view.TotalCommissionsPaid != paid {
		t.Fatalf("counters mismatch: %+v, want volume %d paid %d", view, volume, paid)
	}
	if view.EscrowBalance+paid != 1_000_000 {
		t.Fatalf("escrow %d plus paid %d must equal deposit", view.EscrowBalance, paid)
	}

	got, err := svc.GetAffiliate(ctx, pool.Address, aff.Address)
	if err != nil {
		t.Fatalf("GetAffiliate: %v", err)
	}
	if got.TotalEarned != paid || got.SalesCount != 3 {
		t.Fatalf("unexpected affiliate counters: %+v", got)
	}
}

func TestProcessSaleErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("commission too small", func(t *testing.T) {
		svc, _ := newTestService(t)
		pool, aff := setupPool(t, svc, 1, 1_000)
		_, err := svc.ProcessSale(ctx, wallet, pool.Address, aff.Address, 50)
		if !errors.Is(err, model.ErrCommissionTooSmall) {
			t.Fatalf("expected ErrCommissionTooSmall, got %v", err)
		}
	})

	t.Run("zero amount", func(t *testing.T) {
		svc, _ := newTestService(t)
		pool, aff := setupPool(t, svc, 250, 1_000)
		_, err := svc.ProcessSale(ctx, wallet, pool.Address, aff.Address, 0)
		if !errors.Is(err, model.ErrInvalidAmount) {
			t.Fatalf("expected ErrInvalidAmount, got %v", err)
		}
	})

	t.Run("insufficient escrow", func(t *testing.T) {
		svc, _ := newTestService(t)
		pool, aff := setupPool(t, svc, 1000, 50)
		_, err := svc.ProcessSale(ctx, wallet, pool.Address, aff.Address, 1_000)
		if !errors.Is(err, model.ErrInsufficientEscrowBalance) {
			t.Fatalf("expected ErrInsufficientEscrowBalance, got %v", err)
		}
	})

	t.Run("overflow", func(t *testing.T) {
		svc, _ := newTestService(t)
		pool, aff := setupPool(t, svc, 10000, 1_000)
		_, err := svc.ProcessSale(ctx, wallet, pool.Address, aff.Address, ^uint64(0))
		if !errors.Is(err, model.ErrArithmeticOverflow) {
			t.Fatalf("expected ErrArithmeticOverflow, got %v", err)
		}
	})

	t.Run("escrow checked before counters", func(t *testing.T) {
		svc, repo := newTestService(t)
		pool, aff := setupPool(t, svc, 250, 10)
		saturateVolume(t, repo, pool.Address)

		_, err := svc.ProcessSale(ctx, wallet, pool.Address, aff.Address, 40_000)
		if !errors.Is(err, model.ErrInsufficientEscrowBalance) {
			t.Fatalf("expected ErrInsufficientEscrowBalance, got %v", err)
		}
	})

	t.Run("counter overflow", func(t *testing.T) {
		svc, repo := newTestService(t)
		pool, aff := setupPool(t, svc, 250, 1_000_000)
		saturateVolume(t, repo, pool.Address)

		_, err := svc.ProcessSale(ctx, wallet, pool.Address, aff.Address, 40_000)
		if !errors.Is(err, model.ErrArithmeticOverflow) {
			t.Fatalf("expected ErrArithmeticOverflow, got %v", err)
		}
		if got := balanceOf(t, svc, pool.EscrowAuthority()); got != 1_000_000 {
			t.Fatalf("escrow changed on failed sale: %d", got)
		}
	})

	t.Run("pool inactive", func(t *testing.T) {
		svc, _ := newTestService(t)
		pool, aff := setupPool(t, svc, 250, 1_000)
		if _, err := svc.DeactivatePool(ctx, merchant, pool.Address); err != nil {
			t.Fatalf("DeactivatePool: %v", err)
		}
		_, err := svc.ProcessSale(ctx, wallet, pool.Address, aff.Address, 10_000)
		if !errors.Is(err, model.ErrPoolInactive) {
			t.Fatalf("expected ErrPoolInactive, got %v", err)
		}
	})

	t.Run("affiliate inactive", func(t *testing.T) {
		svc, _ := newTestService(t)
		pool, aff := setupPool(t, svc, 250, 1_000)
		if _, err := svc.RemoveAffiliate(ctx, merchant, pool.Address, aff.Address); err != nil {
			t.Fatalf("RemoveAffiliate: %v", err)
		}
		_, err := svc.ProcessSale(ctx, wallet, pool.Address, aff.Address, 10_000)
		if !errors.Is(err, model.ErrAffiliateInactive) {
			t.Fatalf("expected ErrAffiliateInactive, got %v", err)
		}
	})
}

func TestProcessSaleInvalidAffiliateTakesPrecedence(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	poolA, _ := setupPool(t, svc, 250, 1_000)

	poolB, err := svc.CreatePool(ctx, merchant, CreatePoolParams{PoolID: "other", CurrencyMint: mint, CommissionRate: 250})
	if err != nil {
		t.Fatalf("CreatePool: %v", err)
	}
	affB, err := svc.AddAffiliate(ctx, merchant, poolB.Address, wallet, "ref-b")
	if err != nil {
		t.Fatalf("AddAffiliate: %v", err)
	}
	if _, err := svc.DeactivatePool(ctx, merchant, poolA.Address); err != nil {
		t.Fatalf("DeactivatePool: %v", err)
	}

	// Пул неактивен и сумма нулевая, но чужой аффилиат проверяется первым.
	_, err = svc.ProcessSale(ctx, wallet, poolA.Address, affB.Address, 0)
	if !errors.Is(err, model.ErrInvalidAffiliate) {
		t.Fatalf("expected ErrInvalidAffiliate, got %v", err)
	}
}

func TestProcessSaleFailureHasNoSideEffects(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	pool, aff := setupPool(t, svc, 1000, 50)

	before := eventKinds(t, svc, pool.Address)
	if _, err := svc.ProcessSale(ctx, wallet, pool.Address, aff.Address, 1_000); err == nil {
		t.Fatalf("expected failure")
	}

	view, err := svc.GetPool(ctx, pool.Address)
	if err != nil {
		t.Fatalf("GetPool: %v", err)
	}
	if view.EscrowBalance != 50 || view.TotalVolume != 0 || view.TotalCommissionsPaid != 0 {
		t.Fatalf("pool changed after failed sale: %+v", view)
	}
	if b := balanceOf(t, svc, wallet); b != 0 {
		t.Fatalf("wallet credited after failed sale: %d", b)
	}
	if after := eventKinds(t, svc, pool.Address); len(after) != len(before) {
		t.Fatalf("event appended after failed sale: %v", after)
	}
}

func TestUpdateCommission(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	pool, _ := setupPool(t, svc, 250, 0)

	if _, err := svc.UpdateCommission(ctx, stranger, pool.Address, 300); !errors.Is(err, model.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if _, err := svc.UpdateCommission(ctx, merchant, pool.Address, 10001); !errors.Is(err, model.ErrInvalidCommissionRate) {
		t.Fatalf("expected ErrInvalidCommissionRate, got %v", err)
	}

	if _, err := svc.DeactivatePool(ctx, merchant, pool.Address); err != nil {
		t.Fatalf("DeactivatePool: %v", err)
	}
	updated, err := svc.UpdateCommission(ctx, merchant, pool.Address, 10000)
	if err != nil {
		t.Fatalf("UpdateCommission on inactive pool: %v", err)
	}
	if updated.CommissionRate != 10000 {
		t.Fatalf("expected rate 10000, got %d", updated.CommissionRate)
	}

	events, err := svc.ListEvents(ctx, pool.Address, 0, 0)
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	last := events[len(events)-1]
	var payload model.PoolCommissionUpdated
	if err := json.Unmarshal(last.Payload, &payload); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if payload.OldRate != 250 || payload.NewRate != 10000 {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}

func TestDeactivatePoolIdempotent(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	pool, _ := setupPool(t, svc, 250, 0)

	if _, err := svc.DeactivatePool(ctx, stranger, pool.Address); !errors.Is(err, model.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}

	for i := 0; i < 2; i++ {
		p, err := svc.DeactivatePool(ctx, merchant, pool.Address)
		if err != nil {
			t.Fatalf("DeactivatePool #%d: %v", i, err)
		}
		if p.IsActive {
			t.Fatalf("pool must be inactive")
		}
	}

	count := 0
	for _, k := range eventKinds(t, svc, pool.Address) {
		if k == model.EventPoolDeactivated {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("expected exactly one PoolDeactivated, got %d", count)
	}

	if _, err := svc.AddAffiliate(ctx, merchant, pool.Address, stranger, "late"); !errors.Is(err, model.ErrPoolInactive) {
		t.Fatalf("expected ErrPoolInactive, got %v", err)
	}
}

func TestEscrowDepositWithdraw(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	pool, _ := setupPool(t, svc, 250, 1_000)

	if _, err := svc.MintTokens(ctx, merchant, mint, 500); err != nil {
		t.Fatalf("MintTokens: %v", err)
	}

	if _, err := svc.DepositEscrow(ctx, stranger, pool.Address, 100); !errors.Is(err, model.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if _, err := svc.DepositEscrow(ctx, merchant, pool.Address, 0); !errors.Is(err, model.ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}

	view, err := svc.DepositEscrow(ctx, merchant, pool.Address, 500)
	if err != nil {
		t.Fatalf("DepositEscrow: %v", err)
	}
	if view.EscrowBalance != 1_500 {
		t.Fatalf("expected escrow 1500, got %d", view.EscrowBalance)
	}

	if _, err := svc.DeactivatePool(ctx, merchant, pool.Address); err != nil {
		t.Fatalf("DeactivatePool: %v", err)
	}
	if _, err := svc.DepositEscrow(ctx, merchant, pool.Address, 1); !errors.Is(err, model.ErrPoolInactive) {
		t.Fatalf("expected ErrPoolInactive, got %v", err)
	}

	if _, err := svc.WithdrawEscrow(ctx, merchant, pool.Address, 1_501); !errors.Is(err, model.ErrInsufficientEscrowBalance) {
		t.Fatalf("expected ErrInsufficientEscrowBalance, got %v", err)
	}

	view, err = svc.WithdrawEscrow(ctx, merchant, pool.Address, 1_500)
	if err != nil {
		t.Fatalf("WithdrawEscrow on inactive pool: %v", err)
	}
	if view.EscrowBalance != 0 {
		t.Fatalf("expected empty escrow, got %d", view.EscrowBalance)
	}
	if b := balanceOf(t, svc, merchant); b != 1_500 {
		t.Fatalf("expected merchant balance 1500, got %d", b)
	}
}

func TestAffiliates(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	pool, aff := setupPool(t, svc, 250, 0)

	if aff.Address != address.AffiliateAddress(pool.Address, wallet) {
		t.Fatalf("unexpected affiliate address")
	}

	if _, err := svc.AddAffiliate(ctx, merchant, pool.Address, wallet, "again"); !errors.Is(err, model.ErrAffiliateExists) {
		t.Fatalf("expected ErrAffiliateExists, got %v", err)
	}
	if _, err := svc.AddAffiliate(ctx, stranger, pool.Address, stranger, "x"); !errors.Is(err, model.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if _, err := svc.AddAffiliate(ctx, merchant, pool.Address, stranger, ""); !errors.Is(err, model.ErrInvalidRefID) {
		t.Fatalf("expected ErrInvalidRefID, got %v", err)
	}

	if _, err := svc.AddAffiliate(ctx, merchant, pool.Address, stranger, "ref-2"); err != nil {
		t.Fatalf("AddAffiliate: %v", err)
	}
	list, err := svc.ListAffiliates(ctx, pool.Address)
	if err != nil {
		t.Fatalf("ListAffiliates: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 affiliates, got %d", len(list))
	}

	for i := 0; i < 2; i++ {
		removed, err := svc.RemoveAffiliate(ctx, merchant, pool.Address, aff.Address)
		if err != nil {
			t.Fatalf("RemoveAffiliate #%d: %v", i, err)
		}
		if removed.IsActive {
			t.Fatalf("affiliate must be inactive")
		}
	}

	count := 0
	for _, k := range eventKinds(t, svc, pool.Address) {
		if k == model.EventAffiliateRemoved {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("expected one AffiliateRemoved event, got %d", count)
	}
}

func TestRemoveAffiliateFromOtherPool(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	_, aff := setupPool(t, svc, 250, 0)

	other, err := svc.CreatePool(ctx, merchant, CreatePoolParams{PoolID: "other", CurrencyMint: mint})
	if err != nil {
		t.Fatalf("CreatePool: %v", err)
	}

	if _, err := svc.RemoveAffiliate(ctx, merchant, other.Address, aff.Address); !errors.Is(err, model.ErrInvalidAffiliate) {
		t.Fatalf("expected ErrInvalidAffiliate, got %v", err)
	}
	if _, err := svc.GetAffiliate(ctx, other.Address, aff.Address); !errors.Is(err, model.ErrInvalidAffiliate) {
		t.Fatalf("expected ErrInvalidAffiliate, got %v", err)
	}
}

func TestMintTokensValidation(t *testing.T) {
	svc, _ := newTestService(t)

	if _, err := svc.MintTokens(context.Background(), merchant, mint, 0); !errors.Is(err, model.ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	if _, err := svc.MintTokens(context.Background(), merchant, mint, ^uint64(0)); err != nil {
		t.Fatalf("MintTokens: %v", err)
	}
	if _, err := svc.MintTokens(context.Background(), merchant, mint, 1); !errors.Is(err, model.ErrArithmeticOverflow) {
		t.Fatalf("expected ErrArithmeticOverflow, got %v", err)
	}
}

type failingRepo struct {
	*repository.MemoryRepository
	err error
}

func (r *failingRepo) WithinTx(context.Context, repository.TxFunc) error {
	return r.err
}

func TestStorageErrorPropagates(t *testing.T) {
	boom := errors.New("connection reset")
	svc := NewService(&failingRepo{MemoryRepository: repository.NewMemoryRepository(), err: boom})

	_, err := svc.ProcessSale(context.Background(), wallet, addr(9), addr(10), 1)
	if !errors.Is(err, boom) {
		t.Fatalf("expected storage error, got %v", err)
	}
	if model.KindOf(err) != model.KindUnknown {
		t.Fatalf("storage error must not be classified as domain error")
	}
}

func TestZeroAddressesRejected(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreatePool(ctx, merchant, CreatePoolParams{PoolID: "p", CommissionRate: 250})
	if !errors.Is(err, model.ErrInvalidAddress) {
		t.Fatalf("CreatePool with zero mint: expected ErrInvalidAddress, got %v", err)
	}
	if _, err := svc.GetPool(ctx, address.PoolAddress(merchant, "p")); !errors.Is(err, model.ErrPoolNotFound) {
		t.Fatalf("rejected pool must not be stored, got %v", err)
	}

	pool, _ := setupPool(t, svc, 250, 0)
	if _, err := svc.AddAffiliate(ctx, merchant, pool.Address, address.Zero, "ref-z"); !errors.Is(err, model.ErrInvalidAddress) {
		t.Fatalf("AddAffiliate with zero wallet: expected ErrInvalidAddress, got %v", err)
	}
	if _, err := svc.GetAffiliate(ctx, pool.Address, address.AffiliateAddress(pool.Address, address.Zero)); !errors.Is(err, model.ErrAffiliateNotFound) {
		t.Fatalf("rejected affiliate must not be stored, got %v", err)
	}

	if _, err := svc.MintTokens(ctx, address.Zero, mint, 1); !errors.Is(err, model.ErrInvalidAddress) {
		t.Fatalf("MintTokens to zero owner: expected ErrInvalidAddress, got %v", err)
	}
	if _, err := svc.MintTokens(ctx, merchant, address.Zero, 1); !errors.Is(err, model.ErrInvalidAddress) {
		t.Fatalf("MintTokens in zero mint: expected ErrInvalidAddress, got %v", err)
	}
}

func TestProcessSaleConcurrentNoDoubleSpend(t *testing.T) {
	const (
		workers = 20
		escrow  = 7_500
		sale    = 40_000 // комиссия 1000 при ставке 250
	)

	svc, _ := newTestService(t)
	ctx := context.Background()
	pool, aff := setupPool(t, svc, 250, escrow)

	errs := make(chan error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.ProcessSale(ctx, wallet, pool.Address, aff.Address, sale)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	succeeded := 0
	for err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, model.ErrInsufficientEscrowBalance):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}

	if want := escrow / 1_000; succeeded != want {
		t.Fatalf("succeeded = %d, want %d", succeeded, want)
	}

	view, err := svc.GetPool(ctx, pool.Address)
	if err != nil {
		t.Fatalf("GetPool: %v", err)
	}
	if view.EscrowBalance+view.TotalCommissionsPaid != escrow {
		t.Fatalf("escrow %d + paid %d != deposit %d", view.EscrowBalance, view.TotalCommissionsPaid, escrow)
	}
	if got := balanceOf(t, svc, wallet); got != view.TotalCommissionsPaid {
		t.Fatalf("wallet balance %d, want %d", got, view.TotalCommissionsPaid)
	}

	a, err := svc.GetAffiliate(ctx, pool.Address, aff.Address)
	if err != nil {
		t.Fatalf("GetAffiliate: %v", err)
	}
	if a.SalesCount != uint64(succeeded) {
		t.Fatalf("sales count = %d, want %d", a.SalesCount, succeeded)
	}
}
