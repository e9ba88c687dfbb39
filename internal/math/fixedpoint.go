// internal/math/fixedpoint.go
package math

import (
	"math/big"
	"sync"
)

// DecimalConfig defines fixed-point precision
type DecimalConfig struct {
	DecimalPrecision int   // Number of decimal places
	Scale            int64 // 10^DecimalPrecision
}

var (
	PriceConfig    = DecimalConfig{DecimalPrecision: 2, Scale: 100}         // 0.01
	QuantityConfig = DecimalConfig{DecimalPrecision: 6, Scale: 1_000_000}   // 0.000001 (sizes, skew scale, collateral units)
	QuoteConfig    = DecimalConfig{DecimalPrecision: 6, Scale: 1_000_000}   // 0.000001 USD
	RateConfig     = DecimalConfig{DecimalPrecision: 8, Scale: 100_000_000} // fees, scalars, pd, health factor
)

// BpsDenominator is the fee-tier discount base (10000 = 100%)
const BpsDenominator int64 = 10_000

// Int128 is a pooled big.Int for intermediate calculations
var int128Pool = &sync.Pool{
	New: func() interface{} {
		return new(big.Int)
	},
}

func getInt128() *big.Int {
	return int128Pool.Get().(*big.Int)
}

func putInt128(v *big.Int) {
	v.SetInt64(0)
	int128Pool.Put(v)
}

// MultiplyInt128 performs a * b using int128 to prevent overflow
func MultiplyInt128(a, b int64) *big.Int {
	result := getInt128()
	result.Mul(big.NewInt(a), big.NewInt(b))
	return result
}

type RoundingMode int

const (
	RoundHalfEven RoundingMode = iota // Banker's rounding
	RoundDown                         // Toward zero (truncation)
	RoundUp                           // Away from zero
)

// DivideInt128 performs numerator / denominator with rounding.
// Rounding is applied to the magnitude, so RoundDown truncates toward zero
// for negative numerators as well.
func DivideInt128(numerator *big.Int, denominator int64, roundingMode RoundingMode) int64 {
	denom := big.NewInt(denominator)
	quotient := getInt128()
	remainder := getInt128()

	quotient.QuoRem(numerator, denom, remainder)
	result := quotient.Int64()

	if remainder.Sign() != 0 {
		negative := (numerator.Sign() < 0) != (denominator < 0)
		step := int64(1)
		if negative {
			step = -1
		}

		switch roundingMode {
		case RoundUp:
			result += step
		case RoundHalfEven:
			remainder.Abs(remainder)
			remainder.Lsh(remainder, 1)
			absDenom := denom.Abs(denom)
			cmp := remainder.Cmp(absDenom)
			if cmp > 0 || (cmp == 0 && result%2 != 0) {
				result += step
			}
		}
	}

	putInt128(quotient)
	putInt128(remainder)

	return result
}

// MulDiv computes a * b / denominator with a 128-bit intermediate
func MulDiv(a, b, denominator int64, roundingMode RoundingMode) int64 {
	if denominator == 0 {
		panic("FATAL: MulDiv by zero denominator")
	}
	temp := MultiplyInt128(a, b)
	result := DivideInt128(temp, denominator, roundingMode)
	putInt128(temp)
	return result
}

// ComputeAvgEntryPrice calculates weighted average entry price for
// same-direction position increases. Sizes are absolute.
func ComputeAvgEntryPrice(oldSize, oldAvgEntry, fillQty, fillPrice int64) int64 {
	if oldSize == 0 {
		return fillPrice
	}

	term1 := MultiplyInt128(oldSize, oldAvgEntry)
	term2 := MultiplyInt128(fillQty, fillPrice)
	numerator := getInt128()
	numerator.Add(term1, term2)

	result := DivideInt128(numerator, oldSize+fillQty, RoundHalfEven)

	putInt128(term1)
	putInt128(term2)
	putInt128(numerator)

	return result
}

// ComputeUnrealizedPnL calculates PnL of a signed position at markPrice.
// Longs gain when markPrice > entryPrice, shorts when it falls.
func ComputeUnrealizedPnL(
	signedSize int64, // Quantity scale, sign = side
	markPrice int64, // Price scale
	entryPrice int64, // Price scale
) int64 {
	temp := MultiplyInt128(signedSize, markPrice-entryPrice)
	temp.Mul(temp, big.NewInt(QuoteConfig.Scale))

	result := DivideInt128(temp, PriceConfig.Scale*QuantityConfig.Scale, RoundHalfEven)

	putInt128(temp)

	return result
}

// ComputeNotional calculates |size| * price in quote scale
func ComputeNotional(size int64, price int64) int64 {
	raw := MultiplyInt128(Abs(size), price)
	raw.Mul(raw, big.NewInt(QuoteConfig.Scale))

	result := DivideInt128(raw, PriceConfig.Scale*QuantityConfig.Scale, RoundDown)

	putInt128(raw)

	return result
}

// ApplyRate computes amount * rate / RateScale, truncated
func ApplyRate(amount int64, rate int64) int64 {
	return MulDiv(amount, rate, RateConfig.Scale, RoundDown)
}

// ApplyDiscountBps computes fee * (10000 - discount) / 10000, truncated
func ApplyDiscountBps(fee int64, discountBps int64) int64 {
	return MulDiv(fee, BpsDenominator-discountBps, BpsDenominator, RoundDown)
}

// Clamp bounds v to [lo, hi]. lo wins when lo > hi.
func Clamp(v, lo, hi int64) int64 {
	if v > hi {
		v = hi
	}
	if v < lo {
		v = lo
	}
	return v
}

func Abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

func Min(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

func Max(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

// Sign returns +1, -1, or 0
func Sign(v int64) int64 {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}
