// Package fixedpoint holds the integer fixed-point scales shared by the
// settlement path and the mul-div helpers that keep intermediate products
// from overflowing int64. No floating point is used anywhere downstream.
package fixedpoint

import (
	"errors"
	"math"
	"math/big"
)

const (
	// PricePrecision is the scale for prices, sizes and token amounts.
	PricePrecision int64 = 1_000_000
	// BpsDivisor converts basis points to ratios.
	BpsDivisor int64 = 10_000
	// IndexPrecision is the scale of the cumulative funding/borrow indices.
	// A fresh index starts at exactly IndexPrecision.
	IndexPrecision int64 = 1_000_000_000
	// SecondsPerHour is the accrual period of funding and borrow rates.
	SecondsPerHour int64 = 3600
)

var ErrOverflow = errors.New("fixed-point overflow")

// MulDiv computes a*b/den with a 128-bit intermediate product and a quotient
// truncated toward zero, matching integer division in the ledger arithmetic.
func MulDiv(a, b, den int64) (int64, error) {
	if den == 0 {
		return 0, errors.New("fixed-point division by zero")
	}
	prod := new(big.Int).Mul(big.NewInt(a), big.NewInt(b))
	prod.Quo(prod, big.NewInt(den))
	if !prod.IsInt64() {
		return 0, ErrOverflow
	}
	return prod.Int64(), nil
}

// Mul computes a*b, failing instead of wrapping on overflow.
func Mul(a, b int64) (int64, error) {
	prod := new(big.Int).Mul(big.NewInt(a), big.NewInt(b))
	if !prod.IsInt64() {
		return 0, ErrOverflow
	}
	return prod.Int64(), nil
}

// Add computes a+b, failing instead of wrapping on overflow.
func Add(a, b int64) (int64, error) {
	if (b > 0 && a > math.MaxInt64-b) || (b < 0 && a < math.MinInt64-b) {
		return 0, ErrOverflow
	}
	return a + b, nil
}

// BpsShare returns amount*bps/BpsDivisor, truncated.
func BpsShare(amount, bps int64) (int64, error) {
	return MulDiv(amount, bps, BpsDivisor)
}

// CmpMul compares a*b against c*d without intermediate truncation, returning
// -1, 0 or +1. Threshold checks use it so boundary cases stay exact.
func CmpMul(a, b, c, d int64) int {
	left := new(big.Int).Mul(big.NewInt(a), big.NewInt(b))
	right := new(big.Int).Mul(big.NewInt(c), big.NewInt(d))
	return left.Cmp(right)
}
