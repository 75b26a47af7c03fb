package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mmeshcher/redio/internal/address"
)

// EventKind определяет тип уведомления.
type EventKind string

const (
	EventPoolInitialized       EventKind = "PoolInitialized"
	EventPoolCommissionUpdated EventKind = "PoolCommissionUpdated"
	EventPoolDeactivated       EventKind = "PoolDeactivated"
	EventAffiliateAdded        EventKind = "AffiliateAdded"
	EventSaleProcessed         EventKind = "SaleProcessed"
	EventAffiliateRemoved      EventKind = "AffiliateRemoved"
	EventEscrowDeposited       EventKind = "EscrowDeposited"
	EventEscrowWithdrawn       EventKind = "EscrowWithdrawn"
)

// Event описывает уведомление, сохраняемое в журнале вместе с изменением состояния.
// Seq назначается хранилищем при записи.
type Event struct {
	ID        uuid.UUID       `json:"id"`
	Seq       int64           `json:"seq"`
	Kind      EventKind       `json:"kind"`
	Pool      address.Address `json:"pool"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// NewEvent создаёт уведомление указанного типа с сериализованным содержимым.
func NewEvent(kind EventKind, pool address.Address, ts time.Time, payload any) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s payload: %w", kind, err)
	}
	return Event{
		ID:        uuid.New(),
		Kind:      kind,
		Pool:      pool,
		Timestamp: ts,
		Payload:   data,
	}, nil
}

// PoolInitialized публикуется при создании пула.
type PoolInitialized struct {
	Pool           address.Address `json:"pool"`
	Merchant       address.Address `json:"merchant"`
	PoolID         string          `json:"pool_id"`
	CurrencyMint   address.Address `json:"currency_mint"`
	CommissionRate uint16          `json:"commission_rate"`
	InitialDeposit uint64          `json:"initial_deposit"`
	Timestamp      int64           `json:"timestamp"`
}

// PoolCommissionUpdated публикуется при смене ставки комиссии.
type PoolCommissionUpdated struct {
	Pool      address.Address `json:"pool"`
	Merchant  address.Address `json:"merchant"`
	PoolID    string          `json:"pool_id"`
	OldRate   uint16          `json:"old_rate"`
	NewRate   uint16          `json:"new_rate"`
	Timestamp int64           `json:"timestamp"`
}

// PoolDeactivated публикуется при деактивации пула.
type PoolDeactivated struct {
	Pool      address.Address `json:"pool"`
	Merchant  address.Address `json:"merchant"`
	PoolID    string          `json:"pool_id"`
	Timestamp int64           `json:"timestamp"`
}

// AffiliateAdded публикуется при регистрации аффилиата.
type AffiliateAdded struct {
	Pool      address.Address `json:"pool"`
	PoolID    string          `json:"pool_id"`
	Affiliate address.Address `json:"affiliate"`
	Wallet    address.Address `json:"wallet"`
	RefID     string          `json:"ref_id"`
	Timestamp int64           `json:"timestamp"`
}

// SaleProcessed публикуется после выплаты комиссии по продаже.
type SaleProcessed struct {
	Pool            address.Address `json:"pool"`
	PoolID          string          `json:"pool_id"`
	Affiliate       address.Address `json:"affiliate"`
	AffiliateWallet address.Address `json:"affiliate_wallet"`
	SaleAmount      uint64          `json:"sale_amount"`
	Commission      uint64          `json:"commission"`
	Timestamp       int64           `json:"timestamp"`
}

// AffiliateRemoved публикуется при деактивации аффилиата.
type AffiliateRemoved struct {
	Pool      address.Address `json:"pool"`
	PoolID    string          `json:"pool_id"`
	Affiliate address.Address `json:"affiliate"`
	Wallet    address.Address `json:"wallet"`
	Timestamp int64           `json:"timestamp"`
}

// EscrowDeposited публикуется при пополнении эскроу.
type EscrowDeposited struct {
	Pool      address.Address `json:"pool"`
	PoolID    string          `json:"pool_id"`
	Amount    uint64          `json:"amount"`
	Timestamp int64           `json:"timestamp"`
}

// EscrowWithdrawn публикуется при выводе средств из эскроу.
type EscrowWithdrawn struct {
	Pool      address.Address `json:"pool"`
	PoolID    string          `json:"pool_id"`
	Amount    uint64          `json:"amount"`
	Timestamp int64           `json:"timestamp"`
}
