// Package token реализует учёт балансов одной взаимозаменяемой валюты на именованных счетах.
package token

import (
	"context"
	"errors"
	"fmt"
	"math/bits"

	"github.com/mmeshcher/redio/internal/address"
)

var (
	// ErrAccountNotFound возвращается, если токен-счёт не существует.
	ErrAccountNotFound = errors.New("token: account not found")
	// ErrAuthorityMismatch возвращается, если полномочие не владеет счётом списания.
	ErrAuthorityMismatch = errors.New("token: authority does not own source account")
	// ErrMintMismatch возвращается при переводе между счетами разных валют.
	ErrMintMismatch = errors.New("token: mint mismatch")
	// ErrInsufficientFunds возвращается, если на счёте списания недостаточно средств.
	ErrInsufficientFunds = errors.New("token: insufficient funds")
	// ErrZeroAmount возвращается при переводе нулевой суммы.
	ErrZeroAmount = errors.New("token: zero amount")
	// ErrBalanceOverflow возвращается, если зачисление переполняет баланс получателя.
	ErrBalanceOverflow = errors.New("token: balance overflow")
)

// Account описывает токен-счёт владельца в одной валюте.
type Account struct {
	Address address.Address `json:"address"`
	Owner   address.Address `json:"owner"`
	Mint    address.Address `json:"mint"`
	Amount  uint64          `json:"amount"`
}

// AccountStore описывает хранилище токен-счетов внутри одной транзакции.
// GetAccount должен блокировать строку счёта до конца транзакции.
// InsertAccount не меняет уже существующий счёт.
type AccountStore interface {
	GetAccount(ctx context.Context, addr address.Address) (*Account, error)
	InsertAccount(ctx context.Context, acc *Account) error
	SetAccountAmount(ctx context.Context, addr address.Address, amount uint64) error
}

// Transfer описывает перевод между счетами.
type Transfer struct {
	From      address.Address
	To        address.Address
	Mint      address.Address
	Amount    uint64
	Authority address.Authority
}

// Ledger применяет правила переводов поверх хранилища счетов.
type Ledger struct {
	store AccountStore
}

// NewLedger создаёт реестр балансов поверх транзакционного хранилища.
func NewLedger(store AccountStore) *Ledger {
	return &Ledger{store: store}
}

// Open возвращает счёт владельца в валюте mint, создавая его при отсутствии.
func (l *Ledger) Open(ctx context.Context, owner, mint address.Address) (*Account, error) {
	addr := address.TokenAccount(owner, mint)

	acc, err := l.store.GetAccount(ctx, addr)
	if err == nil {
		if acc.Mint != mint {
			return nil, fmt.Errorf("%w: account %s", ErrMintMismatch, addr)
		}
		return acc, nil
	}
	if !errors.Is(err, ErrAccountNotFound) {
		return nil, err
	}

	if err := l.store.InsertAccount(ctx, &Account{Address: addr, Owner: owner, Mint: mint}); err != nil {
		return nil, fmt.Errorf("open account %s: %w", addr, err)
	}

	// Параллельная транзакция могла создать и пополнить счёт раньше нас.
	acc, err = l.store.GetAccount(ctx, addr)
	if err != nil {
		return nil, fmt.Errorf("open account %s: %w", addr, err)
	}
	if acc.Mint != mint {
		return nil, fmt.Errorf("%w: account %s", ErrMintMismatch, addr)
	}
	return acc, nil
}

// Balance возвращает актуальный баланс счёта.
func (l *Ledger) Balance(ctx context.Context, addr address.Address) (uint64, error) {
	acc, err := l.store.GetAccount(ctx, addr)
	if err != nil {
		return 0, err
	}
	return acc.Amount, nil
}

// Transfer переводит средства, если полномочие владеет счётом списания.
func (l *Ledger) Transfer(ctx context.Context, t Transfer) error {
	if t.Amount == 0 {
		return ErrZeroAmount
	}

	from, err := l.store.GetAccount(ctx, t.From)
	if err != nil {
		return fmt.Errorf("source %s: %w", t.From, err)
	}
	to, err := l.store.GetAccount(ctx, t.To)
	if err != nil {
		return fmt.Errorf("destination %s: %w", t.To, err)
	}

	if from.Mint != t.Mint || to.Mint != t.Mint {
		return ErrMintMismatch
	}
	if t.Authority.Key() != from.Owner {
		return fmt.Errorf("%w: %s", ErrAuthorityMismatch, t.Authority)
	}
	if from.Amount < t.Amount {
		return fmt.Errorf("%w: have %d, need %d", ErrInsufficientFunds, from.Amount, t.Amount)
	}

	if from.Address == to.Address {
		return nil
	}

	credited, carry := bits.Add64(to.Amount, t.Amount, 0)
	if carry != 0 {
		return ErrBalanceOverflow
	}

	if err := l.store.SetAccountAmount(ctx, from.Address, from.Amount-t.Amount); err != nil {
		return fmt.Errorf("debit %s: %w", from.Address, err)
	}
	if err := l.store.SetAccountAmount(ctx, to.Address, credited); err != nil {
		return fmt.Errorf("credit %s: %w", to.Address, err)
	}
	return nil
}

// Mint зачисляет новые средства на счёт владельца. Используется только тестовым краном.
func (l *Ledger) Mint(ctx context.Context, owner, mint address.Address, amount uint64) (*Account, error) {
	if amount == 0 {
		return nil, ErrZeroAmount
	}

	acc, err := l.Open(ctx, owner, mint)
	if err != nil {
		return nil, err
	}

	credited, carry := bits.Add64(acc.Amount, amount, 0)
	if carry != 0 {
		return nil, ErrBalanceOverflow
	}
	if err := l.store.SetAccountAmount(ctx, acc.Address, credited); err != nil {
		return nil, fmt.Errorf("mint to %s: %w", acc.Address, err)
	}

	acc.Amount = credited
	return acc, nil
}
