package math_test

import (
	"testing"

	fpmath "PerpLiquidator/internal/math"

	"github.com/stretchr/testify/assert"
)

const (
	unit = 1_000_000 // one base-asset unit / one USD in fixed point
	rate = 100_000_000
)

// === Rounding ===

func TestMulDiv_Rounding(t *testing.T) {
	cases := []struct {
		name     string
		a, b, d  int64
		mode     fpmath.RoundingMode
		expected int64
	}{
		{"down positive", 7, 1, 2, fpmath.RoundDown, 3},
		{"down negative truncates toward zero", -7, 1, 2, fpmath.RoundDown, -3},
		{"half even rounds 2.5 to 2", 5, 1, 2, fpmath.RoundHalfEven, 2},
		{"half even rounds 3.5 to 4", 7, 1, 2, fpmath.RoundHalfEven, 4},
		{"half even rounds -3.5 to -4", -7, 1, 2, fpmath.RoundHalfEven, -4},
		{"half even rounds 2.6 up", 13, 1, 5, fpmath.RoundHalfEven, 3},
		{"up positive", 5, 1, 3, fpmath.RoundUp, 2},
		{"up negative", -5, 1, 3, fpmath.RoundUp, -2},
		{"exact division ignores mode", 9, 1, 3, fpmath.RoundUp, 3},
		{"overflowing intermediate", 9_000_000_000_000, 9_000_000_000_000, 1_000_000_000_000, fpmath.RoundDown, 81_000_000_000_000},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, fpmath.MulDiv(tc.a, tc.b, tc.d, tc.mode))
		})
	}
}

func TestClamp(t *testing.T) {
	assert.Equal(t, int64(5), fpmath.Clamp(1, 5, 10))
	assert.Equal(t, int64(10), fpmath.Clamp(50, 5, 10))
	assert.Equal(t, int64(7), fpmath.Clamp(7, 5, 10))
}

// === Notional / PnL ===

func TestComputeNotional(t *testing.T) {
	// 100 units at 9,000.00
	notional := fpmath.ComputeNotional(100*unit, 900_000)
	assert.Equal(t, int64(900_000*unit), notional)

	// Sign of size is ignored
	assert.Equal(t, notional, fpmath.ComputeNotional(-100*unit, 900_000))
}

func TestComputeUnrealizedPnL(t *testing.T) {
	// Long 2 units from 1,000.00 to 900.00 loses 200
	assert.Equal(t, int64(-200*unit), fpmath.ComputeUnrealizedPnL(2*unit, 90_000, 100_000))

	// Short 2 units gains the same amount
	assert.Equal(t, int64(200*unit), fpmath.ComputeUnrealizedPnL(-2*unit, 90_000, 100_000))
}

// === Capacity / rewards ===

func TestMaxLiquidatableCapacity(t *testing.T) {
	// makerFee=0.0001, takerFee=0.0001, skewScale=1,000,000, scalar=1 -> 200
	capacity := fpmath.MaxLiquidatableCapacity(10_000, 10_000, 1_000_000*unit, rate)
	assert.Equal(t, int64(200*unit), capacity)

	// scalar=0.01 and skewScale=500,000 -> 1
	capacity = fpmath.MaxLiquidatableCapacity(10_000, 10_000, 500_000*unit, rate/100)
	assert.Equal(t, int64(unit), capacity)

	// scalar=0 disables liquidation capacity
	assert.Equal(t, int64(0), fpmath.MaxLiquidatableCapacity(10_000, 10_000, 500_000*unit, 0))
}

func TestRemainingCapacity_FloorsAtZero(t *testing.T) {
	assert.Equal(t, int64(50), fpmath.RemainingCapacity(200, 150))
	assert.Equal(t, int64(0), fpmath.RemainingCapacity(200, 200))
	assert.Equal(t, int64(0), fpmath.RemainingCapacity(200, 350))
}

func TestPriceDeviation(t *testing.T) {
	assert.Equal(t, int64(0), fpmath.PriceDeviation(0, 1_000_000*unit))
	// Tiny skew still produces a non-zero deviation
	assert.Equal(t, int64(1), fpmath.PriceDeviation(1, 1_000_000*unit))
	// 10,000 of skew against 1,000,000 skew scale = 1%
	assert.Equal(t, int64(rate/100), fpmath.PriceDeviation(-10_000*unit, 1_000_000*unit))
}

func TestLiquidationReward(t *testing.T) {
	notional := fpmath.ComputeNotional(100*unit, 900_000)

	// 10% of 900,000 = 90,000
	reward := fpmath.LiquidationReward(notional, rate/10, 0, 1_000_000*unit)
	assert.Equal(t, int64(90_000*unit), reward)

	// Clamped to max
	assert.Equal(t, int64(500*unit), fpmath.LiquidationReward(notional, rate/10, 0, 500*unit))

	// Clamped to min
	assert.Equal(t, int64(5*unit), fpmath.LiquidationReward(1, rate/10, 5*unit, 500*unit))
}

func TestKeeperFee(t *testing.T) {
	// 2 * 1.2 = 2.4
	assert.Equal(t, int64(2_400_000), fpmath.KeeperFee(2*unit, rate/5, unit, 100*unit))
	// Clamped to max
	assert.Equal(t, int64(2*unit), fpmath.KeeperFee(2*unit, rate/5, unit, 2*unit))
}

func TestProRata(t *testing.T) {
	assert.Equal(t, int64(33), fpmath.ProRata(100, 1, 3))
	assert.Equal(t, int64(0), fpmath.ProRata(100, 1, 0))
}

// === Fees ===

func TestApplyDiscountBps(t *testing.T) {
	assert.Equal(t, int64(950), fpmath.ApplyDiscountBps(1000, 500))
	// Truncates
	assert.Equal(t, int64(949), fpmath.ApplyDiscountBps(999, 500))
	assert.Equal(t, int64(0), fpmath.ApplyDiscountBps(999, 10_000))
	assert.Equal(t, int64(999), fpmath.ApplyDiscountBps(999, 0))
}

func TestSplitMakerTaker(t *testing.T) {
	maker, taker := fpmath.SplitMakerTaker(0, 5*unit)
	assert.Equal(t, int64(0), maker)
	assert.Equal(t, int64(5*unit), taker)

	maker, taker = fpmath.SplitMakerTaker(3*unit, 5*unit)
	assert.Equal(t, int64(0), maker)
	assert.Equal(t, int64(5*unit), taker)

	maker, taker = fpmath.SplitMakerTaker(3*unit, -5*unit)
	assert.Equal(t, int64(3*unit), maker)
	assert.Equal(t, int64(2*unit), taker)

	maker, taker = fpmath.SplitMakerTaker(-10*unit, 4*unit)
	assert.Equal(t, int64(4*unit), maker)
	assert.Equal(t, int64(0), taker)
}

func TestComputeOrderFees_TakerDiscount(t *testing.T) {
	in := fpmath.OrderFeeInput{
		SizeDelta: unit,
		Price:     100_000, // 1,000.00
		MakerFee:  30_000,  // 3bps
		TakerFee:  80_000,  // 8bps
	}

	// 1,000 * 0.0008 = 0.8
	assert.Equal(t, int64(800_000), fpmath.ComputeOrderFees(in))

	in.TakerDiscount = 500
	assert.Equal(t, int64(760_000), fpmath.ComputeOrderFees(in))

	in.MakerDiscount = 10_000
	in.TakerDiscount = 10_000
	assert.Equal(t, int64(0), fpmath.ComputeOrderFees(in))
}

func TestComputeOrderFees_MixedComposition(t *testing.T) {
	in := fpmath.OrderFeeInput{
		Skew:          unit,
		SizeDelta:     -3 * unit,
		Price:         100_000,
		MakerFee:      30_000,
		TakerFee:      80_000,
		MakerDiscount: 1000,
	}

	// maker: 1,000 * 0.0003 = 0.3 -> 0.27 after 10%; taker: 2,000 * 0.0008 = 1.6
	assert.Equal(t, int64(270_000+1_600_000), fpmath.ComputeOrderFees(in))
}

// === Funding ===

func TestComputeFundingRate(t *testing.T) {
	// skew is 10% of skew scale, max rate 10%/day -> 1%/day
	assert.Equal(t, int64(rate/100), fpmath.ComputeFundingRate(unit, 10*unit, rate/10))

	// Clamped at +/- max rate
	assert.Equal(t, int64(rate/10), fpmath.ComputeFundingRate(20*unit, 10*unit, rate/10))
	assert.Equal(t, int64(-rate/10), fpmath.ComputeFundingRate(-20*unit, 10*unit, rate/10))

	assert.Equal(t, int64(0), fpmath.ComputeFundingRate(unit, 0, rate/10))
}

func TestComputeFundingAccrual(t *testing.T) {
	// 1%/day on a 1,000.00 price over one day = 10 per unit
	assert.Equal(t, int64(10*unit), fpmath.ComputeFundingAccrual(rate/100, 100_000, 86_400))
	assert.Equal(t, int64(0), fpmath.ComputeFundingAccrual(rate/100, 100_000, 0))
}

func TestComputeAccruedFunding(t *testing.T) {
	assert.Equal(t, int64(20*unit), fpmath.ComputeAccruedFunding(2*unit, 0, 10*unit))
	assert.Equal(t, int64(-20*unit), fpmath.ComputeAccruedFunding(-2*unit, 0, 10*unit))
}
