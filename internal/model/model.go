// Package model содержит доменные сущности сервиса комиссионных выплат.
package model

import (
	"time"

	"github.com/mmeshcher/redio/internal/address"
)

// MerchantPool описывает пул мерчанта с эскроу-балансом и ставкой комиссии.
// Сам эскроу-баланс хранится на токен-счёте, а не в этой записи.
type MerchantPool struct {
	Address              address.Address `json:"address"`
	Merchant             address.Address `json:"merchant"`
	PoolID               string          `json:"pool_id"`
	CurrencyMint         address.Address `json:"currency_mint"`
	CommissionRate       uint16          `json:"commission_rate"`
	TotalVolume          uint64          `json:"total_volume"`
	TotalCommissionsPaid uint64          `json:"total_commissions_paid"`
	IsActive             bool            `json:"is_active"`
	CreatedAt            time.Time       `json:"created_at"`
}

// EscrowAuthority возвращает адрес полномочия эскроу пула.
func (p *MerchantPool) EscrowAuthority() address.Address {
	return address.EscrowAuthority(p.Address)
}

// EscrowAccount возвращает адрес токен-счёта эскроу пула.
func (p *MerchantPool) EscrowAccount() address.Address {
	return address.TokenAccount(p.EscrowAuthority(), p.CurrencyMint)
}

// AffiliateAccount описывает аффилиата, привязанного ровно к одному пулу.
type AffiliateAccount struct {
	Address     address.Address `json:"address"`
	Pool        address.Address `json:"pool"`
	Wallet      address.Address `json:"wallet"`
	RefID       string          `json:"ref_id"`
	TotalEarned uint64          `json:"total_earned"`
	SalesCount  uint64          `json:"sales_count"`
	IsActive    bool            `json:"is_active"`
	CreatedAt   time.Time       `json:"created_at"`
}

// PoolView содержит пул и его текущий эскроу-баланс.
type PoolView struct {
	MerchantPool
	EscrowBalance uint64 `json:"escrow_balance"`
}

// SaleReceipt описывает результат успешно проведённой продажи.
type SaleReceipt struct {
	Pool        address.Address `json:"pool"`
	Affiliate   address.Address `json:"affiliate"`
	Wallet      address.Address `json:"wallet"`
	SaleAmount  uint64          `json:"sale_amount"`
	Commission  uint64          `json:"commission"`
	EscrowAfter uint64          `json:"escrow_after"`
	ProcessedAt time.Time       `json:"processed_at"`
}
