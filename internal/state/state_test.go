package state_test

import (
	"PerpLiquidator/internal/ledger"
	"PerpLiquidator/internal/state"
	"math"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	market = "BTC-USD-PERP"
	unit   = int64(1_000_000) // one base unit at quantity scale
	usd    = int64(1_000_000) // one dollar at quote scale
	t0     = int64(1_700_000_000_000_000)
)

func price(whole int64) int64 { return whole * 100 }

func testConfig() state.MarketConfig {
	cfg := state.DefaultMarketConfig(market)
	cfg.MakerFee = 10_000 // 0.0001
	cfg.TakerFee = 10_000 // 0.0001
	cfg.SkewScale = 1_000_000 * unit
	cfg.LiquidationLimitScalar = 100_000_000 // 1.0
	return cfg
}

// ============================================================================
// Test: PositionLedger
// ============================================================================

func TestApplyFill_OpenIncreaseReduceFlip(t *testing.T) {
	pl := state.NewPositionLedger()
	acc := uuid.New()

	oldSize, newSize := pl.ApplyFill(acc, market, 2*unit, price(100), 0)
	assert.Equal(t, int64(0), oldSize)
	assert.Equal(t, 2*unit, newSize)
	pos := pl.GetPosition(acc, market)
	assert.Equal(t, price(100), pos.EntryPrice)
	assert.Equal(t, state.LiquidationStateOpen, pos.LiquidationState)
	assert.True(t, pl.HasAccount(acc))

	pl.ApplyFill(acc, market, 2*unit, price(200), 0)
	assert.Equal(t, price(150), pos.EntryPrice, "increase averages the entry")

	pl.ApplyFill(acc, market, -unit, price(300), 0)
	assert.Equal(t, 3*unit, pos.Size)
	assert.Equal(t, price(150), pos.EntryPrice, "reduce keeps the entry")

	pl.ApplyFill(acc, market, -5*unit, price(120), 0)
	assert.Equal(t, -2*unit, pos.Size)
	assert.Equal(t, price(120), pos.EntryPrice, "flip restarts at the fill")

	pl.ApplyFill(acc, market, 2*unit, price(110), 0)
	assert.True(t, pos.IsFlat())
	assert.Equal(t, state.LiquidationStateClosed, pos.LiquidationState)
	_, open := pl.GetOpenPosition(acc, market)
	assert.False(t, open)
}

func TestReduce_ShortPosition(t *testing.T) {
	pl := state.NewPositionLedger()
	acc := uuid.New()
	pl.ApplyFill(acc, market, -10*unit, price(100), 0)

	assert.Equal(t, -6*unit, pl.Reduce(acc, market, 4*unit))
	assert.Equal(t, int64(0), pl.Reduce(acc, market, 6*unit))
	assert.Equal(t, int64(0), pl.GetPosition(acc, market).EntryPrice)
}

func TestReduce_MoreThanSize_Panics(t *testing.T) {
	pl := state.NewPositionLedger()
	acc := uuid.New()
	pl.ApplyFill(acc, market, unit, price(100), 0)

	assert.Panics(t, func() { pl.Reduce(acc, market, 2*unit) })
}

func TestLiquidationState_Transitions(t *testing.T) {
	assert.True(t, state.LiquidationStateOpen.CanTransitionTo(state.LiquidationStateFlagged))
	assert.True(t, state.LiquidationStateFlagged.CanTransitionTo(state.LiquidationStateClosed))
	assert.True(t, state.LiquidationStateClosed.CanTransitionTo(state.LiquidationStateOpen))
	assert.False(t, state.LiquidationStateClosed.CanTransitionTo(state.LiquidationStateFlagged))
}

// ============================================================================
// Test: Market aggregates
// ============================================================================

func TestApplySizeChange_SizeAndSkew(t *testing.T) {
	ms := state.NewMarketStateStore()

	ms.ApplySizeChange(market, 0, 5*unit)
	ms.ApplySizeChange(market, 0, -3*unit)
	m, _ := ms.Get(market)
	assert.Equal(t, 8*unit, m.Size)
	assert.Equal(t, 2*unit, m.Skew)

	ms.ApplySizeChange(market, 5*unit, 0)
	ms.ApplySizeChange(market, -3*unit, 0)
	assert.Equal(t, int64(0), m.Size)
	assert.Equal(t, int64(0), m.Skew)
}

func TestApplySizeChange_Inconsistent_Panics(t *testing.T) {
	ms := state.NewMarketStateStore()
	assert.Panics(t, func() { ms.ApplySizeChange(market, 5*unit, 0) })
}

// ============================================================================
// Test: Capacity window
// ============================================================================

func TestCapacity_MaxFromConfig(t *testing.T) {
	cfg := testConfig()
	m := &state.MarketState{MarketID: market}

	view := m.Capacity(&cfg, t0)
	assert.Equal(t, 200*unit, view.MaxCapacity)
	assert.Equal(t, 200*unit, view.Remaining)
}

func TestCapacity_WindowBoundaryIsInclusive(t *testing.T) {
	cfg := testConfig()
	m := &state.MarketState{MarketID: market}
	window := cfg.LiquidationWindow.Microseconds()

	m.RecordLiquidation(&cfg, t0, 200*unit)
	assert.Equal(t, int64(0), m.Capacity(&cfg, t0).Remaining)
	assert.Equal(t, int64(0), m.Capacity(&cfg, t0+window-1).Remaining)
	assert.Equal(t, 200*unit, m.Capacity(&cfg, t0+window).Remaining)

	// Reads never materialize the reset
	assert.Equal(t, t0, m.LiquidationWindowStart)
	assert.Equal(t, 200*unit, m.LiquidationConsumed)

	m.RecordLiquidation(&cfg, t0+window, 50*unit)
	assert.Equal(t, t0+window, m.LiquidationWindowStart)
	assert.Equal(t, 150*unit, m.Capacity(&cfg, t0+window).Remaining)
}

func TestCapacity_SameTimeConsumptionIsAdditive(t *testing.T) {
	cfg := testConfig()
	m := &state.MarketState{MarketID: market}

	m.RecordLiquidation(&cfg, t0, 30*unit)
	m.RecordLiquidation(&cfg, t0, 45*unit)

	view := m.Capacity(&cfg, t0)
	assert.Equal(t, view.MaxCapacity-75*unit, view.Remaining)
	assert.Equal(t, t0, m.LastLiquidationTime)
}

func TestCapacity_ConsumedCapsAtMax(t *testing.T) {
	cfg := testConfig()
	m := &state.MarketState{MarketID: market}

	m.RecordLiquidation(&cfg, t0, 500*unit)
	assert.Equal(t, 200*unit, m.LiquidationConsumed)
	assert.Equal(t, int64(0), m.Capacity(&cfg, t0).Remaining)
}

func TestCapacity_ConfigChangeAppliesToOpenWindow(t *testing.T) {
	cfg := testConfig()
	m := &state.MarketState{MarketID: market}
	m.RecordLiquidation(&cfg, t0, 150*unit)

	cfg.LiquidationLimitScalar = 50_000_000 // 0.5
	view := m.Capacity(&cfg, t0+1)
	assert.Equal(t, 100*unit, view.MaxCapacity)
	assert.Equal(t, int64(0), view.Remaining, "remaining floors at zero")
}

func TestCapacity_ZeroScalarMeansNoCapacity(t *testing.T) {
	cfg := testConfig()
	cfg.LiquidationLimitScalar = 0
	require.NoError(t, cfg.Validate())

	m := &state.MarketState{MarketID: market}
	view := m.Capacity(&cfg, t0)
	assert.Equal(t, int64(0), view.MaxCapacity)
	assert.Equal(t, int64(0), view.Remaining)
}

func TestCapacity_EarlierTimestampDoesNotReopenWindow(t *testing.T) {
	cfg := testConfig()
	m := &state.MarketState{MarketID: market}
	window := cfg.LiquidationWindow.Microseconds()
	later := t0 + 10*window

	m.RecordLiquidation(&cfg, later, 200*unit)

	view := m.Capacity(&cfg, t0)
	assert.Equal(t, later, view.WindowStart)
	assert.Equal(t, int64(0), view.Remaining, "an earlier clock reading sees the exhausted window")

	m.RecordLiquidation(&cfg, t0, 10*unit)
	assert.Equal(t, later, m.LiquidationWindowStart)
	assert.Equal(t, later, m.LastLiquidationTime)
	assert.Equal(t, 200*unit, m.LiquidationConsumed)

	assert.Equal(t, 200*unit, m.Capacity(&cfg, later+window).Remaining)
}

// ============================================================================
// Test: MarketConfig
// ============================================================================

func TestMarketConfig_Defaults(t *testing.T) {
	cfg := state.DefaultMarketConfig(market)
	cfg.SkewScale = unit

	assert.Equal(t, 30*time.Second, cfg.LiquidationWindow)
	assert.Equal(t, int64(100_000_000), cfg.LiquidationLimitScalar)
	assert.Equal(t, 1*usd, cfg.MinKeeperFee)
	assert.Equal(t, 100*usd, cfg.MaxKeeperFee)
	require.NoError(t, cfg.Validate())
}

func TestMarketConfig_Validate(t *testing.T) {
	cases := map[string]func(*state.MarketConfig){
		"zero skew scale":   func(c *state.MarketConfig) { c.SkewScale = 0 },
		"negative fee":      func(c *state.MarketConfig) { c.TakerFee = -1 },
		"min above max":     func(c *state.MarketConfig) { c.MinKeeperFee = c.MaxKeeperFee + 1 },
		"zero window":       func(c *state.MarketConfig) { c.LiquidationWindow = 0 },
		"negative max pd":   func(c *state.MarketConfig) { c.LiquidationMaxPd = -1 },
		"missing market id": func(c *state.MarketConfig) { c.MarketID = "" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := testConfig()
			mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestMarketConfigStore_IgnoresOlderVersions(t *testing.T) {
	store := state.NewMarketConfigStore()
	cfg := testConfig()
	cfg.Version = 2

	applied, err := store.Put(cfg)
	require.NoError(t, err)
	assert.True(t, applied)

	older := cfg
	older.Version = 1
	older.MakerFee = 0
	applied, err = store.Put(older)
	require.NoError(t, err)
	assert.False(t, applied)

	got, _ := store.Get(market)
	assert.Equal(t, int64(10_000), got.MakerFee)
}

// ============================================================================
// Test: FlagStore
// ============================================================================

func TestFlagStore_PutListDelete(t *testing.T) {
	fs := state.NewFlagStore()
	a, b, c := uuid.New(), uuid.New(), uuid.New()

	require.NoError(t, fs.Put(&state.LiquidationFlag{AccountID: a, MarketID: market, FlaggedAt: t0 + 2}))
	require.NoError(t, fs.Put(&state.LiquidationFlag{AccountID: b, MarketID: market, FlaggedAt: t0}))
	require.NoError(t, fs.Put(&state.LiquidationFlag{AccountID: c, MarketID: "ETH-USD-PERP", FlaggedAt: t0 + 1}))

	assert.Error(t, fs.Put(&state.LiquidationFlag{AccountID: a, MarketID: market, FlaggedAt: t0 + 9}))

	all := fs.List("", 0)
	require.Len(t, all, 3)
	assert.Equal(t, b, all[0].AccountID)
	assert.Equal(t, c, all[1].AccountID)
	assert.Equal(t, a, all[2].AccountID)

	assert.Len(t, fs.List(market, 0), 2)
	assert.Len(t, fs.List("", 1), 1)

	assert.True(t, fs.Delete(b, market))
	assert.False(t, fs.Delete(b, market))
	assert.Equal(t, 2, fs.Len())
	assert.Equal(t, c, fs.List("", 0)[0].AccountID)
}

func TestLiquidationFlag_RewardShareSumsToTotal(t *testing.T) {
	fs := state.NewFlagStore()
	acc := uuid.New()
	require.NoError(t, fs.Put(&state.LiquidationFlag{
		AccountID: acc, MarketID: market, FlaggedSize: 3 * unit, LiqRewardTotal: 100,
	}))
	flag, _ := fs.Get(acc, market)

	var paid int64
	remaining := 3 * unit
	for _, chunk := range []int64{unit, unit, unit} {
		share := flag.RewardShare(chunk, remaining)
		fs.RecordPayout(acc, market, share)
		paid += share
		remaining -= chunk
	}

	assert.Equal(t, int64(100), paid)
	assert.Equal(t, int64(0), flag.RewardRemaining())
}

func TestFlagStore_Overpay_Panics(t *testing.T) {
	fs := state.NewFlagStore()
	acc := uuid.New()
	require.NoError(t, fs.Put(&state.LiquidationFlag{AccountID: acc, MarketID: market, LiqRewardTotal: 5}))

	assert.Panics(t, func() { fs.RecordPayout(acc, market, 6) })
}

// ============================================================================
// Test: Fee tiers, keepers, oracle, orders
// ============================================================================

func TestFeeTierRegistry_TierOf(t *testing.T) {
	r := state.NewFeeTierRegistry()
	acc := uuid.New()

	assert.Equal(t, uint8(0), r.TierOf(acc, t0), "unassigned")

	require.NoError(t, r.SetTier(state.FeeTier{TierID: 3, MakerDiscount: 500, TakerDiscount: 250}))
	r.Assign(state.FeeTierAssignment{AccountID: acc, TierID: 3, Expiry: t0 + 10})

	assert.Equal(t, uint8(3), r.TierOf(acc, t0+9))
	assert.Equal(t, uint8(0), r.TierOf(acc, t0+10), "expired")
	assert.Equal(t, int64(500), r.GetTier(3).MakerDiscount)
	assert.Equal(t, int64(0), r.GetTier(7).TakerDiscount, "unknown tier has no discount")

	assert.Error(t, r.SetTier(state.FeeTier{TierID: 4, MakerDiscount: 10_001}))
}

func TestKeeperRegistry(t *testing.T) {
	kr := state.NewKeeperRegistry()
	kr.SetEndorsed("0xb", true)
	kr.SetEndorsed("0xa", true)
	assert.True(t, kr.IsEndorsed("0xa"))
	assert.Equal(t, []string{"0xa", "0xb"}, kr.Endorsed())

	kr.SetEndorsed("0xa", false)
	assert.False(t, kr.IsEndorsed("0xa"))
}

func TestPriceBook_RejectsRegressions(t *testing.T) {
	pb := state.NewPriceBook()

	assert.True(t, pb.Update(market, price(100), 5, t0))
	assert.False(t, pb.Update(market, price(90), 5, t0+1), "same sequence")
	assert.False(t, pb.Update(market, price(90), 4, t0+1), "older sequence")
	assert.True(t, pb.Update(market, price(110), 9, t0+2), "gaps are tolerated")
	assert.False(t, pb.Update(market, price(90), 0, t0+1), "unsequenced but older")

	p, ok := pb.Latest(market)
	require.True(t, ok)
	assert.Equal(t, price(110), p)
}

func TestPendingOrderBook(t *testing.T) {
	ob := state.NewPendingOrderBook()
	acc := uuid.New()

	ob.Commit(&state.PendingOrder{OrderID: "o1", AccountID: acc, MarketID: market, SizeDelta: unit, CommitmentTime: t0})
	o, ok := ob.Remove(acc, market)
	require.True(t, ok)
	assert.Equal(t, t0, o.CommitmentTime)

	_, ok = ob.Remove(acc, market)
	assert.False(t, ok)
}

// ============================================================================
// Test: Funding
// ============================================================================

func TestFundingManager_AccruesBetweenRecomputes(t *testing.T) {
	fm := state.NewFundingManager()
	day := int64(86_400_000_000)

	assert.Equal(t, int64(0), fm.AccruedAt(market, price(10_000), t0))

	s := fm.Recompute(market, 500_000*unit, 1_000_000*unit, 100_000_000, price(10_000), t0)
	assert.Equal(t, int64(50_000_000), s.FundingRate)

	// 50% per day on a 10,000 price is 5,000 per unit after one day
	assert.Equal(t, 5_000*usd, fm.AccruedAt(market, price(10_000), t0+day))

	s = fm.Recompute(market, 0, 1_000_000*unit, 100_000_000, price(10_000), t0+day)
	assert.Equal(t, int64(0), s.FundingRate)
	assert.Equal(t, 5_000*usd, s.AccruedPerUnit)
	assert.Equal(t, 5_000*usd, fm.AccruedAt(market, price(10_000), t0+2*day))
}

// ============================================================================
// Test: MarginCalculator
// ============================================================================

type marginFixture struct {
	positions *state.PositionLedger
	balances  *ledger.BalanceTracker
	prices    *state.PriceBook
	calc      *state.MarginCalculator
	cfg       state.MarketConfig
}

func newMarginFixture() *marginFixture {
	f := &marginFixture{
		positions: state.NewPositionLedger(),
		balances:  ledger.NewBalanceTracker(),
		prices:    state.NewPriceBook(),
		cfg:       testConfig(),
	}
	f.calc = state.NewMarginCalculator(f.positions, f.balances, f.prices, state.NewFundingManager())
	return f
}

func (f *marginFixture) deposit(acc uuid.UUID, asset ledger.AssetID, amount int64) {
	f.balances.SetBalance(ledger.NewMarginAccountKey(acc, market, asset), amount)
}

func TestPositionHealth_LiquidatableBelowMaintenance(t *testing.T) {
	f := newMarginFixture()
	acc := uuid.New()
	f.deposit(acc, ledger.CashAssetID(), 1_000*usd)
	f.positions.ApplyFill(acc, market, unit, price(10_000), 0)
	pos := f.positions.GetPosition(acc, market)

	f.prices.Update(market, price(9_500), 1, t0)
	h, err := f.calc.PositionHealth(pos, &f.cfg, t0)
	require.NoError(t, err)
	assert.Equal(t, -500*usd, h.PnL)
	assert.Equal(t, 500*usd, h.RemainingMargin)
	// 5% of 9,500 + 1 reward (clamped up from 0.95) + 2.4 keeper fee
	assert.Equal(t, 478_400_000, int(h.MaintenanceMargin))
	assert.False(t, h.Liquidatable)
	assert.Greater(t, h.HealthFactor, int64(100_000_000))

	f.prices.Update(market, price(9_400), 2, t0)
	h, err = f.calc.PositionHealth(pos, &f.cfg, t0)
	require.NoError(t, err)
	assert.True(t, h.Liquidatable)
	assert.Less(t, h.HealthFactor, int64(100_000_000))
}

func TestPositionHealth_NonCashCollateralPricedByAsset(t *testing.T) {
	f := newMarginFixture()
	acc := uuid.New()
	sETH := ledger.RegisterAsset("sETH")
	f.deposit(acc, sETH, 2*unit)
	f.positions.ApplyFill(acc, market, unit, price(10_000), 0)
	f.prices.Update(market, price(10_000), 1, t0)

	_, err := f.calc.PositionHealth(f.positions.GetPosition(acc, market), &f.cfg, t0)
	assert.Error(t, err, "missing collateral price")

	f.prices.Update("sETH", price(1_500), 1, t0)
	values, total, err := f.calc.CollateralValues(acc, market)
	require.NoError(t, err)
	require.Len(t, values, 1)
	assert.Equal(t, 3_000*usd, total)
}

func TestPositionHealth_FlatPosition(t *testing.T) {
	f := newMarginFixture()
	acc := uuid.New()
	f.positions.ApplyFill(acc, market, unit, price(10_000), 0)
	f.positions.ApplyFill(acc, market, -unit, price(10_000), 0)
	f.prices.Update(market, price(10_000), 1, t0)

	h, err := f.calc.PositionHealth(f.positions.GetPosition(acc, market), &f.cfg, t0)
	require.NoError(t, err)
	assert.Equal(t, int64(math.MaxInt64), h.HealthFactor)
	assert.False(t, h.Liquidatable)
}

func TestLiquidationFees_Clamped(t *testing.T) {
	cfg := testConfig()

	reward, fee := state.LiquidationFees(&cfg, 100*unit, price(9_000))
	// 900,000 * 0.0001 = 90
	assert.Equal(t, 90*usd, reward)
	assert.Equal(t, 2_400_000, int(fee))

	reward, _ = state.LiquidationFees(&cfg, 10_000*unit, price(9_000))
	assert.Equal(t, cfg.MaxKeeperFee, reward)
}
