// Package validation содержит функции валидации входных данных.
package validation

import (
	"github.com/mmeshcher/redio/internal/address"
	"github.com/mmeshcher/redio/internal/model"
)

// MaxIdentifierLen задаёт максимальную длину идентификатора пула и реферального идентификатора в байтах.
const MaxIdentifierLen = 32

// IsValidIdentifier проверяет, что длина идентификатора лежит в диапазоне 1..32 байт.
func IsValidIdentifier(id string) bool {
	return len(id) > 0 && len(id) <= MaxIdentifierLen
}

// PoolID проверяет идентификатор пула.
func PoolID(id string) error {
	if !IsValidIdentifier(id) {
		return model.ErrInvalidPoolID
	}
	return nil
}

// Address проверяет, что адрес кошелька или валюты задан.
func Address(a address.Address) error {
	if a.IsZero() {
		return model.ErrInvalidAddress
	}
	return nil
}

// RefID проверяет реферальный идентификатор аффилиата.
func RefID(id string) error {
	if !IsValidIdentifier(id) {
		return model.ErrInvalidRefID
	}
	return nil
}
