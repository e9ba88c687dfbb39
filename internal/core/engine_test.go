package core_test

import (
	"PerpLiquidator/internal/core"
	"PerpLiquidator/internal/event"
	"PerpLiquidator/internal/ledger"
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	market = "BTC-USD-PERP"
	unit   = int64(1_000_000)
	usd    = int64(1_000_000)
	second = int64(1_000_000)
	t0     = int64(1_700_000_000_000_000)

	flagger    = "0xflagger"
	liquidator = "0xliquidator"
	endorsed   = "0xendorsed"

	keeperFee = 2_400_000 // 2 USD base + 20% profit margin
)

func price(whole int64) int64 { return whole * 100 }

// --- Test helpers ---

type fixture struct {
	t        *testing.T
	engine   *core.Engine
	persist  chan core.CoreOutput
	priceSeq int64
	cmdSeq   int
}

func newFixture(t *testing.T, mutate func(*event.MarketConfigured)) *fixture {
	t.Helper()
	persist := make(chan core.CoreOutput, 4096)
	f := &fixture{
		t:       t,
		engine:  core.NewEngine(0, persist, nil, nil, nil),
		persist: persist,
	}

	cfg := marketConfig()
	if mutate != nil {
		mutate(cfg)
	}
	f.apply(cfg)
	f.setPrice(market, 10_000)
	f.drain()
	return f
}

// marketConfig is the fixture market: 200 units of capacity per 30s window
// and a 10% flag reward.
func marketConfig() *event.MarketConfigured {
	return &event.MarketConfigured{
		Market:                    market,
		MakerFee:                  10_000, // 0.0001
		TakerFee:                  10_000, // 0.0001
		SkewScale:                 1_000_000 * unit,
		LiquidationLimitScalar:    100_000_000, // 1.0 -> 200 units
		LiquidationWindowSeconds:  30,
		LiquidationRewardPercent:  10_000_000, // 10%
		MinKeeperFee:              1 * usd,
		MaxKeeperFee:              100_000 * usd,
		BaseKeeperFee:             2 * usd,
		KeeperProfitMargin:        20_000_000,
		MaintenanceMarginFraction: 5_000_000,
		Version:                   1,
		Timestamp:                 t0,
	}
}

func (f *fixture) apply(evt event.Event) {
	f.t.Helper()
	require.NoError(f.t, f.engine.ApplyEvent(evt))
}

func (f *fixture) setPrice(key string, whole int64) {
	f.t.Helper()
	f.priceSeq++
	f.apply(&event.PriceUpdated{
		Market:         key,
		Price:          price(whole),
		PriceSequence:  f.priceSeq,
		PriceTimestamp: t0 + f.priceSeq,
	})
}

func (f *fixture) deposit(acc uuid.UUID, asset string, amount int64) {
	f.t.Helper()
	f.apply(&event.MarginDeposited{
		DepositID: uuid.New(),
		AccountID: acc,
		Market:    market,
		Asset:     asset,
		Amount:    amount,
		Timestamp: t0,
	})
}

func (f *fixture) settle(acc uuid.UUID, sizeDelta, fillWhole int64) {
	f.t.Helper()
	f.apply(&event.OrderSettled{
		OrderID:   uuid.New(),
		AccountID: acc,
		Market:    market,
		SizeDelta: sizeDelta,
		FillPrice: price(fillWhole),
		Timestamp: t0,
	})
}

// underwater opens a long of size units at 10,000 backed by 1,000 USD.
// Once the price falls to 9,000 the position is liquidatable.
func (f *fixture) underwater(size int64) uuid.UUID {
	f.t.Helper()
	acc := uuid.New()
	f.deposit(acc, ledger.CashAsset, 1_000*usd)
	f.settle(acc, size*unit, 10_000)
	return acc
}

func (f *fixture) endorse(address string) {
	f.t.Helper()
	f.apply(&event.KeeperEndorsementUpdated{Address: address, Endorsed: true, Timestamp: t0})
}

func (f *fixture) nextID(kind string) string {
	f.cmdSeq++
	return fmt.Sprintf("%s-%d", kind, f.cmdSeq)
}

func (f *fixture) flag(acc uuid.UUID, keeper string, ts int64) (*core.FlagResult, error) {
	return f.engine.FlagPosition(&core.FlagPositionCommand{
		CommandID: f.nextID("flag"),
		AccountID: acc,
		MarketID:  market,
		Keeper:    keeper,
		Timestamp: ts,
	})
}

func (f *fixture) mustFlag(acc uuid.UUID, keeper string, ts int64) *core.FlagResult {
	f.t.Helper()
	result, err := f.flag(acc, keeper, ts)
	require.NoError(f.t, err)
	return result
}

func (f *fixture) liquidate(acc uuid.UUID, keeper string, ts int64) (*core.LiquidationResult, error) {
	return f.engine.LiquidatePosition(&core.LiquidatePositionCommand{
		CommandID: f.nextID("liq"),
		AccountID: acc,
		MarketID:  market,
		Keeper:    keeper,
		Timestamp: ts,
	})
}

func (f *fixture) mustLiquidate(acc uuid.UUID, keeper string, ts int64) *core.LiquidationResult {
	f.t.Helper()
	result, err := f.liquidate(acc, keeper, ts)
	require.NoError(f.t, err)
	return result
}

func (f *fixture) capacity(ts int64) (maxCap, remaining int64) {
	f.t.Helper()
	view, err := f.engine.GetRemainingLiquidatableSizeCapacity(market, ts)
	require.NoError(f.t, err)
	return view.MaxCapacity, view.Remaining
}

func (f *fixture) drain() []core.CoreOutput {
	var outputs []core.CoreOutput
	for {
		select {
		case out := <-f.persist:
			outputs = append(outputs, out)
		default:
			return outputs
		}
	}
}

func eventTypes(outputs []core.CoreOutput) []event.EventType {
	types := make([]event.EventType, 0, len(outputs))
	for _, out := range outputs {
		types = append(types, out.Envelope.EventType)
	}
	return types
}

// ============================================================================
// Test: Capacity window
// ============================================================================

func TestCapacity_MaxFromMarketConfig(t *testing.T) {
	f := newFixture(t, nil)

	maxCap, remaining := f.capacity(t0)
	assert.Equal(t, 200*unit, maxCap)
	assert.Equal(t, 200*unit, remaining)
}

func TestCapacity_UnknownMarket(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.engine.GetRemainingLiquidatableSizeCapacity("ETH-USD-PERP", t0)
	assert.ErrorIs(t, err, core.ErrMarketNotFound)
}

func TestCapacity_SameTimeLiquidationsAreAdditive(t *testing.T) {
	f := newFixture(t, nil)
	a := f.underwater(60)
	b := f.underwater(70)
	f.setPrice(market, 9_000)

	t1 := t0 + 10*second
	f.mustFlag(a, flagger, t1)
	f.mustFlag(b, flagger, t1)

	maxCap, before := f.capacity(t1)
	resA := f.mustLiquidate(a, liquidator, t1)
	resB := f.mustLiquidate(b, liquidator, t1)

	assert.Equal(t, 60*unit, resA.Liquidated.SizeLiquidated)
	assert.Equal(t, 70*unit, resB.Liquidated.SizeLiquidated)
	assert.Equal(t, 130*unit, resB.Capacity.Consumed)
	assert.Equal(t, maxCap-(maxCap-before+60*unit+70*unit), resB.Capacity.Remaining)
	assert.Equal(t, 70*unit, resB.Capacity.Remaining)
}

func TestCapacity_WindowResetIsExactAtBoundary(t *testing.T) {
	f := newFixture(t, nil)
	a := f.underwater(150)
	b := f.underwater(100)
	f.setPrice(market, 9_000)

	t1 := t0 + 10*second
	f.mustFlag(a, flagger, t1)
	f.mustFlag(b, flagger, t1)
	f.mustLiquidate(a, liquidator, t1)

	partial := f.mustLiquidate(b, liquidator, t1)
	assert.Equal(t, 50*unit, partial.Liquidated.SizeLiquidated)
	assert.Equal(t, 50*unit, partial.Liquidated.SizeRemaining)
	assert.Equal(t, int64(0), partial.Capacity.Remaining)

	justBefore := t1 + 30*second - 1
	_, remaining := f.capacity(justBefore)
	assert.Equal(t, int64(0), remaining)

	_, err := f.liquidate(b, liquidator, justBefore)
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrLiquidationZeroCapacity)

	boundary := t1 + 30*second
	maxCap, remaining := f.capacity(boundary)
	assert.Equal(t, maxCap, remaining, "window resets at exactly one window after start")

	closing := f.mustLiquidate(b, liquidator, boundary)
	assert.Equal(t, int64(0), closing.Liquidated.SizeRemaining)
	assert.Equal(t, 50*unit, closing.Capacity.Consumed)
}

func TestCapacity_ConfigChangeAppliesToOpenWindow(t *testing.T) {
	f := newFixture(t, nil)
	a := f.underwater(100)
	f.setPrice(market, 9_000)

	f.mustFlag(a, flagger, t0+second)
	f.mustLiquidate(a, liquidator, t0+second)

	_, remaining := f.capacity(t0 + 2*second)
	assert.Equal(t, 100*unit, remaining)

	update := marketConfig()
	update.LiquidationLimitScalar = 50_000_000 // 0.5 -> 100 units
	update.Version = 2
	update.Timestamp = t0 + 2*second
	f.apply(update)

	maxCap, remaining := f.capacity(t0 + 2*second)
	assert.Equal(t, 100*unit, maxCap)
	assert.Equal(t, int64(0), remaining)
}

func TestCapacity_ZeroScalarBlocksNonEndorsedKeepers(t *testing.T) {
	f := newFixture(t, func(c *event.MarketConfigured) {
		c.LiquidationLimitScalar = 0
	})
	acc := f.underwater(10)
	f.setPrice(market, 9_000)

	maxCap, remaining := f.capacity(t0 + second)
	assert.Equal(t, int64(0), maxCap)
	assert.Equal(t, int64(0), remaining)

	f.mustFlag(acc, flagger, t0+second)
	_, err := f.liquidate(acc, liquidator, t0+second)
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrLiquidationZeroCapacity)

	pos, err := f.engine.GetPositionDigest(acc, market, t0+second)
	require.NoError(t, err)
	assert.Equal(t, 10*unit, pos.Size, "position untouched")
}

func TestCapacity_EarlierQueryTimeSeesExhaustedWindow(t *testing.T) {
	f := newFixture(t, nil)
	acc := f.underwater(250)
	f.setPrice(market, 9_000)

	t1 := t0 + 10*second
	f.mustFlag(acc, flagger, t1)
	f.mustLiquidate(acc, liquidator, t1)

	_, remaining := f.capacity(t0)
	assert.Equal(t, int64(0), remaining, "a clock behind the last liquidation cannot reopen the window")

	_, err := f.liquidate(acc, liquidator, t0)
	assert.ErrorIs(t, err, core.ErrLiquidationZeroCapacity)

	maxCap, remaining := f.capacity(t1 + 30*second)
	assert.Equal(t, maxCap, remaining)
}

// ============================================================================
// Test: Flag
// ============================================================================

func TestFlag_CancelsOrderAndSellsCollateral(t *testing.T) {
	f := newFixture(t, nil)
	f.setPrice("sETH", 2_000)

	acc := f.underwater(100)
	f.deposit(acc, "sETH", 1*unit)
	f.apply(&event.OrderCommitted{
		OrderID:        uuid.New(),
		AccountID:      acc,
		Market:         market,
		SizeDelta:      5 * unit,
		CommitmentTime: t0 + 7,
	})
	f.setPrice(market, 9_000)
	f.drain()

	result := f.mustFlag(acc, flagger, t0+second)

	require.NotNil(t, result.OrderCanceled)
	assert.Equal(t, t0+7, result.OrderCanceled.CommitmentTime)
	require.Len(t, result.CollateralSold, 1)
	assert.Equal(t, "sETH", result.CollateralSold[0].Asset)
	assert.Equal(t, 2_000*usd, result.CollateralSold[0].CashCredited)
	assert.Equal(t, flagger, result.Flagged.Flagger)
	assert.Equal(t, price(9_000), result.Flagged.Price)

	assert.Equal(t, []event.EventType{
		event.EventTypeOrderCanceled,
		event.EventTypeCollateralSold,
		event.EventTypePositionFlaggedLiquidation,
	}, eventTypes(f.drain()))

	assert.Equal(t, int64(0), f.engine.MarginBalance(acc, market, "sETH"))
	assert.Equal(t, 3_000*usd, f.engine.MarginBalance(acc, market, ledger.CashAsset))

	digest, err := f.engine.GetAccountDigest(acc, market, t0+second)
	require.NoError(t, err)
	assert.Nil(t, digest.PendingOrder)
	require.NotNil(t, digest.Position)
	assert.True(t, digest.Position.Flagged)
	assert.Equal(t, 90_000*usd, digest.Position.Flag.LiqRewardTotal)
	assert.NoError(t, f.engine.CheckInvariants())
}

func TestFlag_ErrorOrder(t *testing.T) {
	f := newFixture(t, nil)
	healthy := uuid.New()
	f.deposit(healthy, ledger.CashAsset, 1_000_000*usd)
	f.settle(healthy, 100*unit, 10_000)
	stranger := uuid.New()

	_, err := f.engine.FlagPosition(&core.FlagPositionCommand{
		CommandID: "unknown-market", AccountID: stranger, MarketID: "ETH-USD-PERP", Keeper: flagger, Timestamp: t0,
	})
	assert.ErrorIs(t, err, core.ErrMarketNotFound)

	_, err = f.flag(stranger, flagger, t0)
	assert.ErrorIs(t, err, core.ErrPositionNotFound)

	_, err = f.flag(healthy, flagger, t0)
	assert.ErrorIs(t, err, core.ErrCannotLiquidatePosition)

	var posErr *core.PositionError
	require.True(t, errors.As(err, &posErr))
	assert.Equal(t, healthy, posErr.AccountID)
	assert.Equal(t, market, posErr.MarketID)
}

func TestFlag_RejectsReflagAfterPartialLiquidation(t *testing.T) {
	f := newFixture(t, func(c *event.MarketConfigured) {
		c.LiquidationLimitScalar = 12_500_000 // 25 units
	})
	acc := f.underwater(100)
	f.setPrice(market, 9_000)

	f.mustFlag(acc, flagger, t0+second)
	_, err := f.flag(acc, "0xother", t0+second)
	assert.ErrorIs(t, err, core.ErrPositionFlagged)

	f.mustLiquidate(acc, liquidator, t0+second)
	_, err = f.flag(acc, "0xother", t0+2*second)
	assert.ErrorIs(t, err, core.ErrPositionFlagged)
}

func TestFlag_InvalidCommand(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.engine.FlagPosition(&core.FlagPositionCommand{AccountID: uuid.New(), MarketID: market, Keeper: flagger, Timestamp: t0})
	assert.ErrorIs(t, err, core.ErrInvalidCommand)
}

// ============================================================================
// Test: Liquidate
// ============================================================================

func TestLiquidate_ChunkedRewardsSumToFlagTimeReward(t *testing.T) {
	f := newFixture(t, func(c *event.MarketConfigured) {
		c.LiquidationLimitScalar = 12_500_000 // 25 units
	})
	acc := f.underwater(100)
	f.setPrice(market, 9_000)

	t1 := t0 + second
	f.mustFlag(acc, flagger, t1)
	f.drain()

	var totalReward, totalFee int64
	for i := int64(0); i < 4; i++ {
		if i == 2 {
			f.setPrice(market, 8_000)
			f.drain()
		}
		result := f.mustLiquidate(acc, liquidator, t1+i*30*second)
		liq := result.Liquidated

		assert.Equal(t, 25*unit, liq.SizeLiquidated)
		assert.Equal(t, (75-25*i)*unit, liq.SizeRemaining)
		assert.Equal(t, flagger, liq.Flagger)
		assert.Equal(t, liquidator, liq.Liquidator)
		assert.Equal(t, 22_500*usd, liq.LiqReward)
		assert.False(t, liq.Bypassed)
		totalReward += liq.LiqReward
		totalFee += liq.KeeperFee

		outputs := eventTypes(f.drain())
		if i < 3 {
			assert.Nil(t, result.FundingRecomputed)
			assert.Equal(t, []event.EventType{event.EventTypePositionLiquidated}, outputs)
			assert.Len(t, f.engine.ListFlaggedPositions(market, 0), 1, "flag survives partial liquidation")
		} else {
			assert.NotNil(t, result.FundingRecomputed)
			assert.Equal(t, []event.EventType{event.EventTypePositionLiquidated, event.EventTypeFundingRecomputed}, outputs)
		}
	}

	assert.Equal(t, 90_000*usd, totalReward, "100 units * 9,000 * 10%")
	assert.Equal(t, int64(4*keeperFee), totalFee)
	assert.Equal(t, 90_000*usd, f.engine.KeeperBalance(flagger))
	assert.Equal(t, int64(4*keeperFee), f.engine.KeeperBalance(liquidator))
	assert.Empty(t, f.engine.ListFlaggedPositions("", 0))

	md, err := f.engine.GetMarketDigest(market, t1+90*second)
	require.NoError(t, err)
	assert.Equal(t, int64(0), md.Size)
	assert.Equal(t, int64(0), md.Skew)
	assert.Equal(t, 1_000*usd-90_000*usd-4*keeperFee, md.LiquidationPool, "pool absorbs forfeited margin and funds payouts")
	assert.Equal(t, int64(0), f.engine.MarginBalance(acc, market, ledger.CashAsset))
	assert.NoError(t, f.engine.CheckInvariants())
}

func TestLiquidate_AfterCloseFailsPositionNotFound(t *testing.T) {
	f := newFixture(t, nil)
	acc := f.underwater(100)
	f.setPrice(market, 9_000)

	f.mustFlag(acc, flagger, t0+second)
	result := f.mustLiquidate(acc, liquidator, t0+second)
	assert.True(t, result.Liquidated.IsFullClose())

	_, err := f.liquidate(acc, liquidator, t0+2*second)
	assert.ErrorIs(t, err, core.ErrPositionNotFound)

	f.deposit(acc, ledger.CashAsset, 1_000*usd)
	f.settle(acc, 10*unit, 9_000)
	_, err = f.liquidate(acc, liquidator, t0+3*second)
	assert.ErrorIs(t, err, core.ErrPositionNotFlagged, "reopened position starts unflagged")
}

func TestLiquidate_ErrorOrder(t *testing.T) {
	f := newFixture(t, nil)
	acc := f.underwater(100)

	_, err := f.engine.LiquidatePosition(&core.LiquidatePositionCommand{
		CommandID: "unknown-market", AccountID: acc, MarketID: "ETH-USD-PERP", Keeper: liquidator, Timestamp: t0,
	})
	assert.ErrorIs(t, err, core.ErrMarketNotFound)

	_, err = f.liquidate(uuid.New(), liquidator, t0)
	assert.ErrorIs(t, err, core.ErrAccountNotFound)

	funded := uuid.New()
	f.deposit(funded, ledger.CashAsset, usd)
	_, err = f.liquidate(funded, liquidator, t0)
	assert.ErrorIs(t, err, core.ErrPositionNotFound)

	_, err = f.liquidate(acc, liquidator, t0)
	assert.ErrorIs(t, err, core.ErrPositionNotFlagged)
}

func TestLiquidate_FailureLeavesStateUntouched(t *testing.T) {
	f := newFixture(t, func(c *event.MarketConfigured) {
		c.LiquidationLimitScalar = 12_500_000 // 25 units
	})
	acc := f.underwater(100)
	f.setPrice(market, 9_000)
	f.mustFlag(acc, flagger, t0+second)
	f.mustLiquidate(acc, liquidator, t0+second)
	f.drain()

	seq := f.engine.GetSequence()
	hash := f.engine.GetStateHash()
	before := f.engine.CreateSnapshotState()

	_, err := f.liquidate(acc, liquidator, t0+2*second)
	var capErr *core.CapacityError
	require.True(t, errors.As(err, &capErr))
	assert.False(t, capErr.Endorsed)

	assert.Empty(t, f.drain())
	assert.Equal(t, seq, f.engine.GetSequence())
	assert.Equal(t, hash, f.engine.GetStateHash())
	assert.Equal(t, before, f.engine.CreateSnapshotState())
}

func TestLiquidate_DuplicateCommand(t *testing.T) {
	f := newFixture(t, func(c *event.MarketConfigured) {
		c.LiquidationLimitScalar = 12_500_000
	})
	acc := f.underwater(100)
	f.setPrice(market, 9_000)
	f.mustFlag(acc, flagger, t0+second)

	cmd := &core.LiquidatePositionCommand{CommandID: "liq-once", AccountID: acc, MarketID: market, Keeper: liquidator, Timestamp: t0 + 60*second}
	_, err := f.engine.LiquidatePosition(cmd)
	require.NoError(t, err)

	cmd.Timestamp = t0 + 120*second
	_, err = f.engine.LiquidatePosition(cmd)
	assert.ErrorIs(t, err, core.ErrDuplicateCommand)

	pd, err := f.engine.GetPositionDigest(acc, market, t0+120*second)
	require.NoError(t, err)
	assert.Equal(t, 75*unit, pd.Size)
}

func TestLiquidate_ZeroRewardPercentPaysNoReward(t *testing.T) {
	f := newFixture(t, func(c *event.MarketConfigured) {
		c.LiquidationRewardPercent = 0
		c.MinKeeperFee = 0
	})
	acc := f.underwater(10)
	f.setPrice(market, 9_000)

	fees, err := f.engine.GetLiquidationFees(acc, market)
	require.NoError(t, err)
	assert.Equal(t, int64(0), fees.LiqReward)

	f.mustFlag(acc, flagger, t0+second)
	liq := f.mustLiquidate(acc, liquidator, t0+second).Liquidated
	assert.Equal(t, int64(0), liq.LiqReward)
	assert.Equal(t, int64(keeperFee), liq.KeeperFee)
	assert.Equal(t, int64(0), f.engine.KeeperBalance(flagger))
	assert.NoError(t, f.engine.CheckInvariants())
}

// ============================================================================
// Test: Endorsed keepers
// ============================================================================

func TestLiquidate_EndorsedBypassesCapacity(t *testing.T) {
	f := newFixture(t, func(c *event.MarketConfigured) {
		c.LiquidationLimitScalar = 12_500_000 // 25 units
		c.LiquidationMaxPd = 1_000_000        // 0.01
	})
	f.endorse(endorsed)
	acc := f.underwater(100)
	f.setPrice(market, 9_000)
	f.mustFlag(acc, flagger, t0+second)

	result := f.mustLiquidate(acc, endorsed, t0+second)
	assert.Equal(t, 100*unit, result.Liquidated.SizeLiquidated)
	assert.True(t, result.Liquidated.Bypassed)
	assert.True(t, result.Liquidated.IsFullClose())
	assert.Equal(t, 25*unit, result.Capacity.Consumed, "consumption caps at the max")
	assert.Equal(t, int64(0), result.Capacity.Remaining)
	assert.Equal(t, 90_000*usd, f.engine.KeeperBalance(flagger))
}

func TestLiquidate_ZeroMaxPdRejectsEndorsedOnSkewedMarket(t *testing.T) {
	f := newFixture(t, func(c *event.MarketConfigured) {
		c.LiquidationLimitScalar = 12_500_000
	})
	f.endorse(endorsed)
	acc := f.underwater(100)
	f.setPrice(market, 9_000)
	f.mustFlag(acc, flagger, t0+second)

	result := f.mustLiquidate(acc, endorsed, t0+second)
	assert.Equal(t, 25*unit, result.Liquidated.SizeLiquidated, "no bypass while pd > max pd")
	assert.False(t, result.Liquidated.Bypassed)

	_, err := f.liquidate(acc, endorsed, t0+second)
	var capErr *core.CapacityError
	require.True(t, errors.As(err, &capErr))
	assert.True(t, capErr.Endorsed)
	assert.Greater(t, capErr.PriceDeviation, capErr.LiquidationMaxPd)
}

func TestLiquidate_EndorsedFlaggerEarnsOnlyKeeperFee(t *testing.T) {
	f := newFixture(t, func(c *event.MarketConfigured) {
		c.LiquidationMaxPd = 1_000_000
	})
	f.endorse(endorsed)
	acc := f.underwater(100)
	f.setPrice(market, 9_000)

	f.mustFlag(acc, endorsed, t0+second)
	fees, err := f.engine.GetLiquidationFees(acc, market)
	require.NoError(t, err)
	assert.Equal(t, int64(0), fees.LiqReward)

	result := f.mustLiquidate(acc, endorsed, t0+second)
	assert.Equal(t, int64(0), result.Liquidated.LiqReward)
	assert.Equal(t, int64(keeperFee), result.Liquidated.KeeperFee)
	assert.Equal(t, int64(keeperFee), f.engine.KeeperBalance(endorsed))
}

func TestLiquidate_SameNonEndorsedAddressEarnsBoth(t *testing.T) {
	f := newFixture(t, nil)
	acc := f.underwater(100)
	f.setPrice(market, 9_000)

	f.mustFlag(acc, flagger, t0+second)
	f.mustLiquidate(acc, flagger, t0+second)
	assert.Equal(t, 90_000*usd+keeperFee, f.engine.KeeperBalance(flagger))
}

// ============================================================================
// Test: Settlement interplay
// ============================================================================

func TestSettlement_ClosingFlaggedPositionClearsFlag(t *testing.T) {
	f := newFixture(t, nil)
	acc := f.underwater(100)
	f.setPrice(market, 9_000)
	f.mustFlag(acc, flagger, t0+second)

	f.settle(acc, -100*unit, 9_000)
	assert.Empty(t, f.engine.ListFlaggedPositions(market, 0))
	assert.NoError(t, f.engine.CheckInvariants())

	_, err := f.liquidate(acc, liquidator, t0+2*second)
	assert.ErrorIs(t, err, core.ErrPositionNotFound)
}

// ============================================================================
// Test: Reads
// ============================================================================

func TestGetLiquidationFees(t *testing.T) {
	f := newFixture(t, func(c *event.MarketConfigured) {
		c.LiquidationLimitScalar = 12_500_000
	})
	acc := f.underwater(100)
	f.setPrice(market, 9_000)

	fees, err := f.engine.GetLiquidationFees(acc, market)
	require.NoError(t, err)
	assert.Equal(t, 90_000*usd, fees.LiqReward)
	assert.Equal(t, int64(keeperFee), fees.KeeperFee)

	f.mustFlag(acc, flagger, t0+second)
	f.mustLiquidate(acc, liquidator, t0+second)
	f.setPrice(market, 5_000)

	fees, err = f.engine.GetLiquidationFees(acc, market)
	require.NoError(t, err)
	assert.Equal(t, 67_500*usd, fees.LiqReward, "unpaid part of the flag-time reward")
}

func TestFeeTiers_LookupAndOrderFees(t *testing.T) {
	f := newFixture(t, nil)
	acc := uuid.New()
	f.apply(&event.FeeTierSet{TierID: 1, MakerDiscount: 5_000, TakerDiscount: 2_000, Timestamp: t0})
	f.apply(&event.FeeTierAssigned{AccountID: acc, TierID: 1, Expiry: t0 + 1_000, Timestamp: t0})

	assert.Equal(t, uint8(1), f.engine.GetFeeTierID(acc, t0))
	assert.Equal(t, uint8(0), f.engine.GetFeeTierID(acc, t0+1_000))
	assert.Equal(t, uint8(0), f.engine.GetFeeTierID(uuid.New(), t0))
	assert.Equal(t, int64(5_000), f.engine.GetFeeTier(1).MakerDiscount)

	// 10 units at 10,000 = 100,000 USD notional, all taker on a flat market
	fee, err := f.engine.ComputeOrderFees(market, 1, 10*unit, 0)
	require.NoError(t, err)
	assert.Equal(t, 8*usd, fee)

	// Against a 4-unit long skew a 10-unit short is 4 maker + 6 taker
	other := uuid.New()
	f.deposit(other, ledger.CashAsset, 1_000_000*usd)
	f.settle(other, 4*unit, 10_000)
	fee, err = f.engine.ComputeOrderFees(market, 1, -10*unit, price(10_000))
	require.NoError(t, err)
	assert.Equal(t, 2*usd+4_800_000, fee)
}

func TestGetPositionDigest_Health(t *testing.T) {
	f := newFixture(t, nil)
	acc := f.underwater(100)

	pd, err := f.engine.GetPositionDigest(acc, market, t0)
	require.NoError(t, err)
	assert.Equal(t, 100*unit, pd.Size)
	assert.Equal(t, 1_000_000*usd, pd.Notional)
	assert.Equal(t, int64(0), pd.PnL)
	assert.False(t, pd.Flagged)

	_, err = f.engine.GetPositionDigest(uuid.New(), market, t0)
	assert.ErrorIs(t, err, core.ErrPositionNotFound)
}

// ============================================================================
// Test: Feed handling
// ============================================================================

func TestApplyEvent_DuplicateIgnored(t *testing.T) {
	f := newFixture(t, nil)
	acc := uuid.New()
	dep := &event.MarginDeposited{DepositID: uuid.New(), AccountID: acc, Market: market, Asset: ledger.CashAsset, Amount: usd, Timestamp: t0}

	f.apply(dep)
	f.apply(dep)
	assert.Equal(t, usd, f.engine.MarginBalance(acc, market, ledger.CashAsset))
	assert.Len(t, f.drain(), 1)
}

func TestApplyEvent_SequenceGapRejected(t *testing.T) {
	f := newFixture(t, nil)
	acc := uuid.New()
	dep := func(seq int64) *event.MarginDeposited {
		return &event.MarginDeposited{DepositID: uuid.New(), AccountID: acc, Market: market, Asset: ledger.CashAsset, Amount: usd, Sequence: seq, Timestamp: t0}
	}

	require.NoError(t, f.engine.ApplyEvent(dep(1)))
	assert.Error(t, f.engine.ApplyEvent(dep(3)), "gap")
	assert.Error(t, f.engine.ApplyEvent(dep(1)), "out of order with a new key")
	require.NoError(t, f.engine.ApplyEvent(dep(2)))
	assert.Equal(t, 2*usd, f.engine.MarginBalance(acc, market, ledger.CashAsset))
}

func TestApplyEvent_StalePriceSkipped(t *testing.T) {
	f := newFixture(t, nil)
	f.setPrice(market, 9_000)

	require.NoError(t, f.engine.ApplyEvent(&event.PriceUpdated{Market: market, Price: price(1), PriceSequence: 1, PriceTimestamp: t0}))
	md, err := f.engine.GetMarketDigest(market, t0)
	require.NoError(t, err)
	assert.Equal(t, price(9_000), md.OraclePrice)
}

func TestApplyEvent_RejectedEventLeavesSequenceFree(t *testing.T) {
	persist := make(chan core.CoreOutput, 4096)
	f := &fixture{t: t, engine: core.NewEngine(0, persist, nil, nil, nil), persist: persist}
	f.apply(marketConfig())
	f.setPrice(market, 10_000)

	acc := uuid.New()
	dep := func(seq int64, asset string) *event.MarginDeposited {
		return &event.MarginDeposited{DepositID: uuid.New(), AccountID: acc, Market: market, Asset: asset, Amount: usd, Sequence: seq, Timestamp: t0}
	}

	assert.Error(t, f.engine.ApplyEvent(dep(1, "")), "missing asset")
	require.NoError(t, f.engine.ApplyEvent(dep(1, ledger.CashAsset)), "corrected event reuses the sequence")
	require.NoError(t, f.engine.ApplyEvent(dep(2, ledger.CashAsset)))
	assert.Equal(t, 2*usd, f.engine.MarginBalance(acc, market, ledger.CashAsset))

	outputs := f.drain()
	replayed := core.NewEngine(0, make(chan core.CoreOutput, 1), nil, nil, nil)
	replayed.BeginReplay()
	for _, out := range outputs {
		require.NoError(t, replayed.ReplayEnvelope(out.Envelope), "seq=%d type=%s", out.Envelope.Sequence, out.Envelope.EventType)
	}
	replayed.EndReplay()

	assert.Equal(t, f.engine.GetSequence(), replayed.GetSequence())
	assert.Equal(t, f.engine.GetStateHash(), replayed.GetStateHash())
	assert.Equal(t, 2*usd, replayed.MarginBalance(acc, market, ledger.CashAsset))
}

func TestApplyEvent_RejectedPriceLeavesSequenceFree(t *testing.T) {
	f := newFixture(t, nil)
	next := f.priceSeq + 1

	err := f.engine.ApplyEvent(&event.PriceUpdated{Market: market, Price: 0, PriceSequence: next, PriceTimestamp: t0 + next})
	assert.Error(t, err)

	require.NoError(t, f.engine.ApplyEvent(&event.PriceUpdated{Market: market, Price: price(9_500), PriceSequence: next, PriceTimestamp: t0 + next}))
	md, err := f.engine.GetMarketDigest(market, t0)
	require.NoError(t, err)
	assert.Equal(t, price(9_500), md.OraclePrice)
}

func TestApplyEvent_DepositToUnknownMarketRejected(t *testing.T) {
	f := newFixture(t, nil)
	err := f.engine.ApplyEvent(&event.MarginDeposited{DepositID: uuid.New(), AccountID: uuid.New(), Market: "ETH-USD-PERP", Asset: ledger.CashAsset, Amount: usd, Timestamp: t0})
	assert.ErrorIs(t, err, core.ErrMarketNotFound)
}

// ============================================================================
// Test: Hash chain and snapshots
// ============================================================================

func TestEnvelope_HashChainLinks(t *testing.T) {
	f := newFixture(t, nil)
	acc := f.underwater(100)
	f.setPrice(market, 9_000)
	f.mustFlag(acc, flagger, t0+second)
	f.mustLiquidate(acc, liquidator, t0+second)

	outputs := f.drain()
	require.NotEmpty(t, outputs)
	for i := 1; i < len(outputs); i++ {
		assert.Equal(t, outputs[i-1].Envelope.StateHash, outputs[i].Envelope.PrevHash)
		assert.Equal(t, outputs[i-1].Envelope.Sequence+1, outputs[i].Envelope.Sequence)
	}
	assert.Equal(t, outputs[len(outputs)-1].Envelope.StateHash, f.engine.GetStateHash())
}

func TestSnapshot_RoundTripContinuesIdentically(t *testing.T) {
	f := newFixture(t, func(c *event.MarketConfigured) {
		c.LiquidationLimitScalar = 12_500_000
	})
	acc := f.underwater(100)
	f.setPrice(market, 9_000)
	f.mustFlag(acc, flagger, t0+second)
	f.mustLiquidate(acc, liquidator, t0+second)

	var json = jsoniter.ConfigCompatibleWithStandardLibrary
	raw, err := json.Marshal(f.engine.CreateSnapshotState())
	require.NoError(t, err)
	var snap core.SnapshotState
	require.NoError(t, json.Unmarshal(raw, &snap))

	restored := core.NewEngine(0, nil, nil, nil, nil)
	require.NoError(t, restored.RestoreFromSnapshot(&snap))
	assert.Equal(t, f.engine.GetStateHash(), restored.GetStateHash())
	assert.Equal(t, f.engine.GetSequence(), restored.GetSequence())
	assert.NoError(t, restored.CheckInvariants())

	cmd := &core.LiquidatePositionCommand{CommandID: "after-restore", AccountID: acc, MarketID: market, Keeper: liquidator, Timestamp: t0 + 31*second}
	want, err := f.engine.LiquidatePosition(cmd)
	require.NoError(t, err)
	got, err := restored.LiquidatePosition(cmd)
	require.NoError(t, err)

	assert.Equal(t, want.Liquidated, got.Liquidated)
	assert.Equal(t, want.Capacity, got.Capacity)
	assert.Equal(t, f.engine.GetStateHash(), restored.GetStateHash())

	_, err = restored.FlagPosition(&core.FlagPositionCommand{CommandID: "flag-1", AccountID: acc, MarketID: market, Keeper: flagger, Timestamp: t0 + 32*second})
	assert.ErrorIs(t, err, core.ErrDuplicateCommand, "idempotency keys survive the snapshot")
}

// ============================================================================
// Test: Clock
// ============================================================================

func TestMonotonicClock_NeverRunsBackwards(t *testing.T) {
	now := core.MonotonicClock()
	prev := now()
	for i := 0; i < 1000; i++ {
		next := now()
		require.False(t, next.Before(prev), "call %d went backwards", i)
		prev = next
	}
}
