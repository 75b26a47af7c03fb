// Package commission реализует расчёт комиссии в базисных пунктах.
package commission

import (
	"math/bits"

	"github.com/mmeshcher/redio/internal/model"
)

// BasisPoints задаёт знаменатель ставки, 10000 б.п. = 100%.
const BasisPoints = 10000

// MaxSafeSale задаёт наибольшую сумму продажи, при которой расчёт не переполняется для любой допустимой ставки.
const MaxSafeSale = ^uint64(0) / BasisPoints

// ValidateRate проверяет, что ставка лежит в диапазоне [0, 10000].
func ValidateRate(rate uint16) error {
	if rate > BasisPoints {
		return model.ErrInvalidCommissionRate
	}
	return nil
}

// Calculate возвращает floor(sale * rate / 10000).
// Переполнение промежуточного произведения возвращает ErrArithmeticOverflow.
func Calculate(sale uint64, rate uint16) (uint64, error) {
	if err := ValidateRate(rate); err != nil {
		return 0, err
	}

	hi, lo := bits.Mul64(sale, uint64(rate))
	if hi != 0 {
		return 0, model.ErrArithmeticOverflow
	}

	return lo / BasisPoints, nil
}

// ForSale рассчитывает комиссию продажи и отклоняет нулевую сумму и нулевую комиссию.
func ForSale(sale uint64, rate uint16) (uint64, error) {
	if sale == 0 {
		return 0, model.ErrInvalidAmount
	}

	c, err := Calculate(sale, rate)
	if err != nil {
		return 0, err
	}
	if c == 0 {
		return 0, model.ErrCommissionTooSmall
	}
	return c, nil
}

// Add складывает счётчики с проверкой переполнения.
func Add(a, b uint64) (uint64, error) {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return 0, model.ErrArithmeticOverflow
	}
	return sum, nil
}
