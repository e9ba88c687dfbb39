package math

import "math/big"

// MaxLiquidatableCapacity returns (makerFee + takerFee) * skewScale * limitScalar.
// Fees and scalar are rate scale, skewScale and the result are quantity scale.
func MaxLiquidatableCapacity(makerFee, takerFee, skewScale, limitScalar int64) int64 {
	temp := MultiplyInt128(makerFee+takerFee, skewScale)
	temp.Mul(temp, big.NewInt(limitScalar))

	rateSq := getInt128()
	rateSq.Mul(big.NewInt(RateConfig.Scale), big.NewInt(RateConfig.Scale))
	temp.Quo(temp, rateSq)

	result := temp.Int64()

	putInt128(temp)
	putInt128(rateSq)

	return result
}

// RemainingCapacity floors max - consumed at zero
func RemainingCapacity(maxCapacity, consumed int64) int64 {
	return Max(0, maxCapacity-consumed)
}

// PriceDeviation returns |skew| / skewScale in rate scale, rounded up so any
// non-zero skew yields a non-zero deviation.
func PriceDeviation(skew, skewScale int64) int64 {
	if skewScale <= 0 {
		return 0
	}
	return MulDiv(Abs(skew), RateConfig.Scale, skewScale, RoundUp)
}

// LiquidationReward is notional * rewardPercent clamped to [minFee, maxFee]
func LiquidationReward(notional, rewardPercent, minFee, maxFee int64) int64 {
	return Clamp(ApplyRate(notional, rewardPercent), minFee, maxFee)
}

// KeeperFee is baseFee * (1 + profitMargin) clamped to [minFee, maxFee]
func KeeperFee(baseFee, profitMargin, minFee, maxFee int64) int64 {
	return Clamp(baseFee+ApplyRate(baseFee, profitMargin), minFee, maxFee)
}

// ProRata returns total * part / whole, truncated
func ProRata(total, part, whole int64) int64 {
	if whole == 0 {
		return 0
	}
	return MulDiv(total, part, whole, RoundDown)
}
