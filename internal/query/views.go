package query

import (
	"PerpLiquidator/internal/core"
	fpmath "PerpLiquidator/internal/math"
	"PerpLiquidator/internal/state"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func fixed(v int64, cfg fpmath.DecimalConfig) decimal.Decimal {
	return decimal.New(v, -int32(cfg.DecimalPrecision))
}

// Price renders a price-scale integer
func Price(v int64) decimal.Decimal { return fixed(v, fpmath.PriceConfig) }

// Quantity renders a quantity-scale integer
func Quantity(v int64) decimal.Decimal { return fixed(v, fpmath.QuantityConfig) }

// Quote renders a quote-scale (USD) integer
func Quote(v int64) decimal.Decimal { return fixed(v, fpmath.QuoteConfig) }

// Rate renders a rate-scale integer
func Rate(v int64) decimal.Decimal { return fixed(v, fpmath.RateConfig) }

func micros(ts int64) time.Time {
	return time.UnixMicro(ts).UTC()
}

// CapacityView is the liquidation capacity window of a market
type CapacityView struct {
	MarketID    string          `json:"market_id"`
	MaxCapacity decimal.Decimal `json:"max_capacity"`
	Consumed    decimal.Decimal `json:"consumed"`
	Remaining   decimal.Decimal `json:"remaining"`
	WindowStart time.Time       `json:"window_start"`
	WindowEnds  time.Time       `json:"window_ends"`
}

func NewCapacityView(marketID string, c state.CapacityView) CapacityView {
	return CapacityView{
		MarketID:    marketID,
		MaxCapacity: Quantity(c.MaxCapacity),
		Consumed:    Quantity(c.Consumed),
		Remaining:   Quantity(c.Remaining),
		WindowStart: micros(c.WindowStart),
		WindowEnds:  micros(c.WindowEnds),
	}
}

// FlagView is an open liquidation flag
type FlagView struct {
	AccountID       uuid.UUID       `json:"account_id"`
	MarketID        string          `json:"market_id"`
	FlaggedBy       string          `json:"flagged_by"`
	FlaggedAt       time.Time       `json:"flagged_at"`
	FlaggedPrice    decimal.Decimal `json:"flagged_price"`
	FlaggedSize     decimal.Decimal `json:"flagged_size"`
	RewardTotal     decimal.Decimal `json:"reward_total"`
	RewardPaid      decimal.Decimal `json:"reward_paid"`
	RewardRemaining decimal.Decimal `json:"reward_remaining"`
}

func NewFlagView(f *state.LiquidationFlag) FlagView {
	return FlagView{
		AccountID:       f.AccountID,
		MarketID:        f.MarketID,
		FlaggedBy:       f.FlaggedBy,
		FlaggedAt:       micros(f.FlaggedAt),
		FlaggedPrice:    Price(f.FlaggedPrice),
		FlaggedSize:     Quantity(f.FlaggedSize),
		RewardTotal:     Quote(f.LiqRewardTotal),
		RewardPaid:      Quote(f.LiqRewardPaid),
		RewardRemaining: Quote(f.RewardRemaining()),
	}
}

// PositionView is the margin picture of a position
type PositionView struct {
	AccountID         uuid.UUID       `json:"account_id"`
	MarketID          string          `json:"market_id"`
	Size              decimal.Decimal `json:"size"`
	EntryPrice        decimal.Decimal `json:"entry_price"`
	OraclePrice       decimal.Decimal `json:"oracle_price"`
	Notional          decimal.Decimal `json:"notional"`
	PnL               decimal.Decimal `json:"pnl"`
	AccruedFunding    decimal.Decimal `json:"accrued_funding"`
	RemainingMargin   decimal.Decimal `json:"remaining_margin"`
	MaintenanceMargin decimal.Decimal `json:"maintenance_margin"`
	HealthFactor      decimal.Decimal `json:"health_factor"`
	Liquidatable      bool            `json:"liquidatable"`
	Flag              *FlagView       `json:"flag,omitempty"`
}

func NewPositionView(d *core.PositionDigest) PositionView {
	v := PositionView{
		AccountID:         d.AccountID,
		MarketID:          d.MarketID,
		Size:              Quantity(d.Size),
		EntryPrice:        Price(d.EntryPrice),
		OraclePrice:       Price(d.OraclePrice),
		Notional:          Quote(d.Notional),
		PnL:               Quote(d.PnL),
		AccruedFunding:    Quote(d.AccruedFunding),
		RemainingMargin:   Quote(d.RemainingMarginUSD),
		MaintenanceMargin: Quote(d.MaintenanceMargin),
		HealthFactor:      Rate(d.HealthFactor),
		Liquidatable:      d.Liquidatable,
	}
	if d.Flag != nil {
		fv := NewFlagView(d.Flag)
		v.Flag = &fv
	}
	return v
}

// CollateralView is one collateral holding at its oracle price
type CollateralView struct {
	Asset    string          `json:"asset"`
	Amount   decimal.Decimal `json:"amount"`
	Price    decimal.Decimal `json:"price"`
	ValueUSD decimal.Decimal `json:"value_usd"`
}

// PendingOrderView is an account's uncommitted delayed order
type PendingOrderView struct {
	OrderID        string          `json:"order_id"`
	SizeDelta      decimal.Decimal `json:"size_delta"`
	CommitmentTime time.Time       `json:"commitment_time"`
}

// AccountView is an account's state in one market
type AccountView struct {
	AccountID     uuid.UUID         `json:"account_id"`
	MarketID      string            `json:"market_id"`
	CollateralUSD decimal.Decimal   `json:"collateral_usd"`
	Collaterals   []CollateralView  `json:"collaterals"`
	PendingOrder  *PendingOrderView `json:"pending_order,omitempty"`
	FeeTierID     uint8             `json:"fee_tier_id"`
	Position      *PositionView     `json:"position,omitempty"`
}

func NewAccountView(d *core.AccountDigest) AccountView {
	v := AccountView{
		AccountID:     d.AccountID,
		MarketID:      d.MarketID,
		CollateralUSD: Quote(d.CollateralUSD),
		Collaterals:   make([]CollateralView, 0, len(d.Collaterals)),
		FeeTierID:     d.FeeTierID,
	}
	for _, c := range d.Collaterals {
		v.Collaterals = append(v.Collaterals, CollateralView{
			Asset:    c.Asset,
			Amount:   Quantity(c.Amount),
			Price:    Price(c.Price),
			ValueUSD: Quote(c.ValueUSD),
		})
	}
	if o := d.PendingOrder; o != nil {
		v.PendingOrder = &PendingOrderView{
			OrderID:        o.OrderID,
			SizeDelta:      Quantity(o.SizeDelta),
			CommitmentTime: micros(o.CommitmentTime),
		}
	}
	if d.Position != nil {
		pv := NewPositionView(d.Position)
		v.Position = &pv
	}
	return v
}

// MarketView is the aggregate state of a market
type MarketView struct {
	MarketID             string                     `json:"market_id"`
	Size                 decimal.Decimal            `json:"size"`
	Skew                 decimal.Decimal            `json:"skew"`
	OraclePrice          decimal.Decimal            `json:"oracle_price"`
	FundingRate          decimal.Decimal            `json:"funding_rate"`
	AccruedFundingUnit   decimal.Decimal            `json:"accrued_funding_unit"`
	LastLiquidationTime  *time.Time                 `json:"last_liquidation_time,omitempty"`
	Capacity             CapacityView               `json:"capacity"`
	LiquidationPool      decimal.Decimal            `json:"liquidation_pool"`
	DepositedCollaterals map[string]decimal.Decimal `json:"deposited_collaterals"`
	ConfigVersion        int64                      `json:"config_version"`
}

func NewMarketView(d *core.MarketDigest) MarketView {
	v := MarketView{
		MarketID:             d.MarketID,
		Size:                 Quantity(d.Size),
		Skew:                 Quantity(d.Skew),
		OraclePrice:          Price(d.OraclePrice),
		FundingRate:          Rate(d.FundingRate),
		AccruedFundingUnit:   Quote(d.AccruedFundingUnit),
		Capacity:             NewCapacityView(d.MarketID, d.Capacity),
		LiquidationPool:      Quote(d.LiquidationPool),
		DepositedCollaterals: make(map[string]decimal.Decimal, len(d.DepositedCollaterals)),
		ConfigVersion:        d.Config.Version,
	}
	if d.LastLiquidationTime > 0 {
		t := micros(d.LastLiquidationTime)
		v.LastLiquidationTime = &t
	}
	for asset, amount := range d.DepositedCollaterals {
		v.DepositedCollaterals[asset] = Quantity(amount)
	}
	return v
}

// LiquidationFeesView is what liquidating a position would pay now
type LiquidationFeesView struct {
	LiqReward decimal.Decimal `json:"liq_reward"`
	KeeperFee decimal.Decimal `json:"keeper_fee"`
	Total     decimal.Decimal `json:"total"`
}

func NewLiquidationFeesView(f *core.LiquidationFees) LiquidationFeesView {
	return LiquidationFeesView{
		LiqReward: Quote(f.LiqReward),
		KeeperFee: Quote(f.KeeperFee),
		Total:     Quote(f.LiqReward + f.KeeperFee),
	}
}

// FeeTierView is a tier's maker and taker discounts in basis points
type FeeTierView struct {
	TierID        uint8 `json:"tier_id"`
	MakerDiscount int64 `json:"maker_discount_bps"`
	TakerDiscount int64 `json:"taker_discount_bps"`
}

func NewFeeTierView(t state.FeeTier) FeeTierView {
	return FeeTierView{TierID: t.TierID, MakerDiscount: t.MakerDiscount, TakerDiscount: t.TakerDiscount}
}

// SortFlags orders flag views oldest first, then by account
func SortFlags(flags []FlagView) {
	sort.Slice(flags, func(i, j int) bool {
		if !flags[i].FlaggedAt.Equal(flags[j].FlaggedAt) {
			return flags[i].FlaggedAt.Before(flags[j].FlaggedAt)
		}
		return flags[i].AccountID.String() < flags[j].AccountID.String()
	})
}
