// internal/math/funding.go
package math

import "math/big"

const secondsPerDay int64 = 86_400

// ComputeFundingRate derives the per-day funding rate from market skew:
// rate = clamp(skew / skewScale, -1, 1) * maxFundingRate. Longs pay when positive.
func ComputeFundingRate(skew, skewScale, maxFundingRate int64) int64 {
	if skewScale <= 0 || maxFundingRate == 0 {
		return 0
	}

	proportion := MulDiv(skew, RateConfig.Scale, skewScale, RoundDown)
	proportion = Clamp(proportion, -RateConfig.Scale, RateConfig.Scale)

	return ApplyRate(proportion, maxFundingRate)
}

// ComputeFundingAccrual returns the funding owed per one unit of size over
// elapsedSeconds at fundingRate (per day) and markPrice, in quote scale.
func ComputeFundingAccrual(
	fundingRate int64, // Rate scale, per day
	markPrice int64, // Price scale
	elapsedSeconds int64,
) int64 {
	if elapsedSeconds <= 0 || fundingRate == 0 {
		return 0
	}

	// raw = fundingRate * markPrice * elapsed
	temp := MultiplyInt128(fundingRate, markPrice)
	temp.Mul(temp, big.NewInt(elapsedSeconds))
	temp.Mul(temp, big.NewInt(QuoteConfig.Scale))

	// intermediate scale = R_s * P_s * seconds/day
	denominator := RateConfig.Scale * PriceConfig.Scale * secondsPerDay

	result := DivideInt128(temp, denominator, RoundHalfEven)

	putInt128(temp)

	return result
}

// ComputeAccruedFunding returns what a signed position owes since entry.
// Positive = position pays.
func ComputeAccruedFunding(signedSize, entryAccruedPerUnit, currentAccruedPerUnit int64) int64 {
	return MulDiv(signedSize, currentAccruedPerUnit-entryAccruedPerUnit, QuantityConfig.Scale, RoundHalfEven)
}
