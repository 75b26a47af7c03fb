package repository

import (
	"fmt"
	"strconv"

	"github.com/google/uuid"

	"github.com/mmeshcher/redio/internal/address"
)

// Счётчики хранятся как NUMERIC(20,0): диапазон uint64 не помещается в BIGINT.
func formatUint64(v uint64) string {
	return strconv.FormatUint(v, 10)
}

func parseUint64(s string) (uint64, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse numeric %q: %w", s, err)
	}
	return v, nil
}

func parseUUID(s string) (uuid.UUID, error) {
	return uuid.Parse(s)
}

// scanAddresses разбирает пары (строка, назначение) base58-адресов.
func scanAddresses(pairs ...any) error {
	if len(pairs)%2 != 0 {
		return fmt.Errorf("scanAddresses: odd number of arguments")
	}

	for i := 0; i < len(pairs); i += 2 {
		src, ok := pairs[i].(*string)
		if !ok {
			return fmt.Errorf("scanAddresses: argument %d is not *string", i)
		}
		dst, ok := pairs[i+1].(*address.Address)
		if !ok {
			return fmt.Errorf("scanAddresses: argument %d is not *address.Address", i+1)
		}

		a, err := address.Parse(*src)
		if err != nil {
			return err
		}
		*dst = a
	}
	return nil
}
