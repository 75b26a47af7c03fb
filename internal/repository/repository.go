// Package repository содержит хранилища пулов, аффилиатов, токен-счетов и журнала уведомлений.
package repository

import (
	"context"

	"github.com/mmeshcher/redio/internal/address"
	"github.com/mmeshcher/redio/internal/model"
	"github.com/mmeshcher/redio/internal/token"
)

// DefaultEventsLimit и MaxEventsLimit ограничивают размер выборки журнала.
const (
	DefaultEventsLimit = 100
	MaxEventsLimit     = 1000
)

// Tx описывает операции над записями внутри одной транзакции.
// Get-методы блокируют запись до завершения транзакции.
type Tx interface {
	token.AccountStore

	GetPool(ctx context.Context, addr address.Address) (*model.MerchantPool, error)
	InsertPool(ctx context.Context, pool *model.MerchantPool) error
	UpdatePool(ctx context.Context, pool *model.MerchantPool) error

	GetAffiliate(ctx context.Context, addr address.Address) (*model.AffiliateAccount, error)
	InsertAffiliate(ctx context.Context, aff *model.AffiliateAccount) error
	UpdateAffiliate(ctx context.Context, aff *model.AffiliateAccount) error

	AppendEvent(ctx context.Context, ev *model.Event) error
}

// TxFunc выполняется внутри транзакции. Ошибка откатывает все изменения.
type TxFunc func(ctx context.Context, tx Tx) error

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultEventsLimit
	}
	if limit > MaxEventsLimit {
		return MaxEventsLimit
	}
	return limit
}
