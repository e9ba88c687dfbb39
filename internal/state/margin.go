package state

import (
	"PerpLiquidator/internal/ledger"
	fpmath "PerpLiquidator/internal/math"
	"fmt"
	"math"
	"sort"

	"github.com/google/uuid"
)

// CollateralValue is one deposited asset valued at the oracle price
type CollateralValue struct {
	AssetID  ledger.AssetID
	Asset    string
	Amount   int64 // asset units, quantity scale
	Price    int64 // price scale (cash is 1.00)
	ValueUSD int64 // quote scale
}

// PositionHealth is the margin picture of one position at a price
type PositionHealth struct {
	OraclePrice       int64
	Notional          int64
	PnL               int64
	AccruedFunding    int64 // positive = owed by the position
	CollateralUSD     int64
	RemainingMargin   int64 // floored at zero
	MaintenanceMargin int64
	LiqReward         int64
	KeeperFee         int64
	HealthFactor      int64 // rate scale; MaxInt64 when nothing is required
	Liquidatable      bool
}

// MarginCalculator values an account's margin in one market.
// It takes the balance source as an interface so it accepts
// *ledger.BalanceTracker without state owning the ledger.
type MarginCalculator struct {
	positions *PositionLedger
	balances  interface {
		GetMarginBalances(uuid.UUID, string) map[ledger.AssetID]int64
	}
	prices  *PriceBook
	funding *FundingManager
}

func NewMarginCalculator(
	positions *PositionLedger,
	balances interface {
		GetMarginBalances(uuid.UUID, string) map[ledger.AssetID]int64
	},
	prices *PriceBook,
	funding *FundingManager,
) *MarginCalculator {
	return &MarginCalculator{
		positions: positions,
		balances:  balances,
		prices:    prices,
		funding:   funding,
	}
}

// CollateralValues prices every asset the account holds in the market.
// Non-cash assets are priced from the price book under their asset name.
func (mc *MarginCalculator) CollateralValues(accountID uuid.UUID, marketID string) ([]CollateralValue, int64, error) {
	balances := mc.balances.GetMarginBalances(accountID, marketID)

	ids := make([]ledger.AssetID, 0, len(balances))
	for id := range balances {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	values := make([]CollateralValue, 0, len(ids))
	var total int64
	for _, id := range ids {
		name, _ := ledger.GetAssetName(id)
		cv := CollateralValue{AssetID: id, Asset: name, Amount: balances[id]}

		if id == ledger.CashAssetID() {
			cv.Price = fpmath.PriceConfig.Scale
			cv.ValueUSD = cv.Amount
		} else {
			price, ok := mc.prices.Latest(name)
			if !ok {
				return nil, 0, fmt.Errorf("no oracle price for collateral asset %s", name)
			}
			cv.Price = price
			cv.ValueUSD = fpmath.ComputeNotional(cv.Amount, price)
		}

		total += cv.ValueUSD
		values = append(values, cv)
	}

	return values, total, nil
}

// LiquidationFees returns the flag reward and keeper fee for liquidating
// absSize at price under cfg.
func LiquidationFees(cfg *MarketConfig, absSize, price int64) (liqReward, keeperFee int64) {
	notional := fpmath.ComputeNotional(absSize, price)
	liqReward = fpmath.LiquidationReward(notional, cfg.LiquidationRewardPercent, cfg.MinKeeperFee, cfg.MaxKeeperFee)
	keeperFee = fpmath.KeeperFee(cfg.BaseKeeperFee, cfg.KeeperProfitMargin, cfg.MinKeeperFee, cfg.MaxKeeperFee)
	return liqReward, keeperFee
}

// PositionHealth evaluates a position at the latest oracle price.
//
//	equity = collateral + pnl - accruedFunding
//	MM     = notional * mmFraction + liqReward + keeperFee
//	HF     = max(equity, 0) / MM
//
// A position is liquidatable when equity <= MM (HF <= 1).
func (mc *MarginCalculator) PositionHealth(pos *Position, cfg *MarketConfig, now int64) (*PositionHealth, error) {
	price, ok := mc.prices.Latest(pos.MarketID)
	if !ok {
		return nil, fmt.Errorf("no oracle price for market %s", pos.MarketID)
	}

	_, collateral, err := mc.CollateralValues(pos.AccountID, pos.MarketID)
	if err != nil {
		return nil, err
	}

	h := &PositionHealth{
		OraclePrice:   price,
		CollateralUSD: collateral,
		Notional:      fpmath.ComputeNotional(pos.Size, price),
		PnL:           fpmath.ComputeUnrealizedPnL(pos.Size, price, pos.EntryPrice),
	}
	if !pos.IsFlat() {
		current := mc.funding.AccruedAt(pos.MarketID, price, now)
		h.AccruedFunding = fpmath.ComputeAccruedFunding(pos.Size, pos.EntryFundingAccrued, current)
	}

	equity := collateral + h.PnL - h.AccruedFunding
	h.RemainingMargin = fpmath.Max(0, equity)

	if pos.IsFlat() {
		h.HealthFactor = math.MaxInt64
		return h, nil
	}

	h.LiqReward, h.KeeperFee = LiquidationFees(cfg, pos.AbsSize(), price)
	h.MaintenanceMargin = fpmath.ApplyRate(h.Notional, cfg.MaintenanceMarginFraction) + h.LiqReward + h.KeeperFee

	if h.MaintenanceMargin == 0 {
		h.HealthFactor = math.MaxInt64
	} else {
		h.HealthFactor = fpmath.MulDiv(h.RemainingMargin, fpmath.RateConfig.Scale, h.MaintenanceMargin, fpmath.RoundDown)
	}
	h.Liquidatable = equity <= h.MaintenanceMargin

	return h, nil
}
