// Package address содержит идентификаторы участников и детерминированный вывод адресов записей.
package address

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/btcsuite/btcutil/base58"
	"lukechampine.com/blake3"
)

// Size задаёт длину адреса в байтах.
const Size = 32

// Теги вывода адресов.
const (
	TagPool            = "pool"
	TagAffiliate       = "affiliate"
	TagEscrowAuthority = "escrow_authority"
	TagTokenAccount    = "token_account"
)

// ErrInvalidAddress возвращается при разборе некорректной строки адреса.
var ErrInvalidAddress = errors.New("invalid address")

// Address описывает 32-байтовый идентификатор участника или записи.
type Address [Size]byte

// Zero обозначает пустой адрес.
var Zero Address

// String возвращает base58-представление адреса.
func (a Address) String() string {
	return base58.Encode(a[:])
}

// IsZero сообщает, является ли адрес пустым.
func (a Address) IsZero() bool {
	return a == Zero
}

// Bytes возвращает копию байтов адреса.
func (a Address) Bytes() []byte {
	b := make([]byte, Size)
	copy(b, a[:])
	return b
}

// MarshalText кодирует адрес в base58.
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText разбирает base58-строку адреса.
func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// Parse разбирает base58-строку в адрес.
func Parse(s string) (Address, error) {
	if s == "" {
		return Zero, fmt.Errorf("%w: empty", ErrInvalidAddress)
	}

	raw := base58.Decode(s)
	if len(raw) != Size {
		return Zero, fmt.Errorf("%w: %q decodes to %d bytes", ErrInvalidAddress, s, len(raw))
	}

	var a Address
	copy(a[:], raw)
	return a, nil
}

// FromBytes создаёт адрес из среза ровно в Size байт.
func FromBytes(b []byte) (Address, error) {
	if len(b) != Size {
		return Zero, fmt.Errorf("%w: %d bytes", ErrInvalidAddress, len(b))
	}
	var a Address
	copy(a[:], b)
	return a, nil
}

// Derive вычисляет адрес из тега и набора seed-значений.
// Каждый seed предваряется своей длиной, поэтому разные разбиения одних и тех же байтов дают разные адреса.
func Derive(tag string, seeds ...[]byte) Address {
	h := blake3.New(Size, nil)

	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(tag)))
	h.Write(lenBuf[:])
	h.Write([]byte(tag))

	for _, seed := range seeds {
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(seed)))
		h.Write(lenBuf[:])
		h.Write(seed)
	}

	var a Address
	copy(a[:], h.Sum(nil))
	return a
}

// PoolAddress возвращает адрес пула мерчанта.
func PoolAddress(merchant Address, poolID string) Address {
	return Derive(TagPool, merchant[:], []byte(poolID))
}

// AffiliateAddress возвращает адрес записи аффилиата в пуле.
func AffiliateAddress(pool, wallet Address) Address {
	return Derive(TagAffiliate, pool[:], wallet[:])
}

// EscrowAuthority возвращает адрес полномочия, распоряжающегося эскроу пула.
func EscrowAuthority(pool Address) Address {
	return Derive(TagEscrowAuthority, pool[:])
}

// TokenAccount возвращает адрес токен-счёта владельца в указанной валюте.
func TokenAccount(owner, mint Address) Address {
	return Derive(TagTokenAccount, owner[:], mint[:])
}
