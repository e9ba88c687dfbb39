package core

import (
	"PerpLiquidator/internal/ledger"
	fpmath "PerpLiquidator/internal/math"
	"PerpLiquidator/internal/state"
	"fmt"

	"github.com/google/uuid"
)

// PositionDigest is the read model of one position at a point in time
type PositionDigest struct {
	AccountID           uuid.UUID
	MarketID            string
	Size                int64
	EntryPrice          int64
	EntryFundingAccrued int64
	OraclePrice         int64
	Notional            int64
	PnL                 int64
	AccruedFunding      int64
	RemainingMarginUSD  int64
	MaintenanceMargin   int64
	HealthFactor        int64
	Liquidatable        bool
	Flagged             bool
	Flag                *state.LiquidationFlag
}

// AccountDigest is an account's collateral and position in one market
type AccountDigest struct {
	AccountID     uuid.UUID
	MarketID      string
	CollateralUSD int64
	Collaterals   []state.CollateralValue
	PendingOrder  *state.PendingOrder
	FeeTierID     uint8
	Position      *PositionDigest // nil when the account has no position
}

// MarketDigest is the aggregate view of a market
type MarketDigest struct {
	MarketID             string
	Size                 int64
	Skew                 int64
	LastLiquidationTime  int64
	Capacity             state.CapacityView
	OraclePrice          int64
	FundingRate          int64
	AccruedFundingUnit   int64
	DepositedCollaterals map[string]int64
	LiquidationPool      int64
	Config               state.MarketConfig
}

// LiquidationFees is what liquidating a position would pay out now
type LiquidationFees struct {
	LiqReward int64
	KeeperFee int64
}

// GetPositionDigest returns the position read model at now
func (e *Engine) GetPositionDigest(accountID uuid.UUID, marketID string, now int64) (*PositionDigest, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.positionDigestLocked(accountID, marketID, now)
}

func (e *Engine) positionDigestLocked(accountID uuid.UUID, marketID string, now int64) (*PositionDigest, error) {
	cfg, ok := e.configs.Get(marketID)
	if !ok {
		return nil, &MarketNotFoundError{MarketID: marketID}
	}
	pos, ok := e.positions.GetOpenPosition(accountID, marketID)
	if !ok {
		return nil, positionErr(ErrPositionNotFound, accountID, marketID)
	}

	health, err := e.marginCalc.PositionHealth(pos, cfg, now)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPriceUnavailable, err)
	}

	digest := &PositionDigest{
		AccountID:           accountID,
		MarketID:            marketID,
		Size:                pos.Size,
		EntryPrice:          pos.EntryPrice,
		EntryFundingAccrued: pos.EntryFundingAccrued,
		OraclePrice:         health.OraclePrice,
		Notional:            health.Notional,
		PnL:                 health.PnL,
		AccruedFunding:      health.AccruedFunding,
		RemainingMarginUSD:  health.RemainingMargin,
		MaintenanceMargin:   health.MaintenanceMargin,
		HealthFactor:        health.HealthFactor,
		Liquidatable:        health.Liquidatable,
	}
	if flag, ok := e.flags.Get(accountID, marketID); ok {
		digest.Flagged = true
		digest.Flag = flag.Clone()
	}
	return digest, nil
}

// GetAccountDigest returns an account's collateral, pending order, fee
// tier and position in a market.
func (e *Engine) GetAccountDigest(accountID uuid.UUID, marketID string, now int64) (*AccountDigest, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if _, ok := e.configs.Get(marketID); !ok {
		return nil, &MarketNotFoundError{MarketID: marketID}
	}
	if !e.positions.HasAccount(accountID) {
		return nil, &AccountNotFoundError{AccountID: accountID}
	}

	values, total, err := e.marginCalc.CollateralValues(accountID, marketID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPriceUnavailable, err)
	}

	digest := &AccountDigest{
		AccountID:     accountID,
		MarketID:      marketID,
		CollateralUSD: total,
		Collaterals:   values,
		FeeTierID:     e.feeTiers.TierOf(accountID, now),
	}
	if order, ok := e.orders.Get(accountID, marketID); ok {
		o := *order
		digest.PendingOrder = &o
	}
	if _, open := e.positions.GetOpenPosition(accountID, marketID); open {
		pd, err := e.positionDigestLocked(accountID, marketID, now)
		if err != nil {
			return nil, err
		}
		digest.Position = pd
	}
	return digest, nil
}

// GetMarketDigest returns the market aggregates at now
func (e *Engine) GetMarketDigest(marketID string, now int64) (*MarketDigest, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	cfg, ok := e.configs.Get(marketID)
	if !ok {
		return nil, &MarketNotFoundError{MarketID: marketID}
	}

	digest := &MarketDigest{
		MarketID:             marketID,
		Config:               *cfg,
		DepositedCollaterals: make(map[string]int64),
		LiquidationPool:      e.balanceTracker.GetLiquidationPoolBalance(marketID),
	}
	if ms, ok := e.markets.Get(marketID); ok {
		digest.Size = ms.Size
		digest.Skew = ms.Skew
		digest.LastLiquidationTime = ms.LastLiquidationTime
		digest.Capacity = ms.Capacity(cfg, now)
	} else {
		digest.Capacity = (&state.MarketState{MarketID: marketID}).Capacity(cfg, now)
	}
	if price, ok := e.prices.Latest(marketID); ok {
		digest.OraclePrice = price
		digest.AccruedFundingUnit = e.funding.AccruedAt(marketID, price, now)
	}
	if fs, ok := e.funding.Get(marketID); ok {
		digest.FundingRate = fs.FundingRate
	}
	for assetID, amount := range e.balanceTracker.GetMarketDeposits(marketID) {
		if amount == 0 {
			continue
		}
		name, _ := ledger.GetAssetName(assetID)
		digest.DepositedCollaterals[name] = amount
	}
	return digest, nil
}

// GetRemainingLiquidatableSizeCapacity returns the capacity window of a
// market as it reads at now; an expired window reads as fully reset.
func (e *Engine) GetRemainingLiquidatableSizeCapacity(marketID string, now int64) (state.CapacityView, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	cfg, ok := e.configs.Get(marketID)
	if !ok {
		return state.CapacityView{}, &MarketNotFoundError{MarketID: marketID}
	}
	ms, ok := e.markets.Get(marketID)
	if !ok {
		ms = &state.MarketState{MarketID: marketID}
	}
	return ms.Capacity(cfg, now), nil
}

// GetLiquidationFees returns the reward and keeper fee the next liquidate
// call would pay for the whole position. For a flagged position the reward
// is the unpaid remainder of the flag cycle (zero for endorsed flaggers).
func (e *Engine) GetLiquidationFees(accountID uuid.UUID, marketID string) (*LiquidationFees, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	cfg, ok := e.configs.Get(marketID)
	if !ok {
		return nil, &MarketNotFoundError{MarketID: marketID}
	}
	pos, ok := e.positions.GetOpenPosition(accountID, marketID)
	if !ok {
		return nil, positionErr(ErrPositionNotFound, accountID, marketID)
	}
	price, ok := e.prices.Latest(marketID)
	if !ok {
		return nil, fmt.Errorf("%w: market %s", ErrPriceUnavailable, marketID)
	}

	liqReward, keeperFee := state.LiquidationFees(cfg, pos.AbsSize(), price)
	if flag, ok := e.flags.Get(accountID, marketID); ok {
		liqReward = flag.RewardRemaining()
		if e.keepers.IsEndorsed(flag.FlaggedBy) {
			liqReward = 0
		}
	}
	return &LiquidationFees{LiqReward: liqReward, KeeperFee: keeperFee}, nil
}

// GetFeeTierID returns the account's fee tier at now (0 if none or expired)
func (e *Engine) GetFeeTierID(accountID uuid.UUID, now int64) uint8 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.feeTiers.TierOf(accountID, now)
}

// GetFeeTier returns a tier's discounts
func (e *Engine) GetFeeTier(tierID uint8) state.FeeTier {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.feeTiers.GetTier(tierID)
}

// ComputeOrderFees returns the discounted fee of an order of sizeDelta in
// marketID under tierID. The part of the order that reduces skew pays the
// maker fee, the rest the taker fee. A zero price uses the oracle price.
func (e *Engine) ComputeOrderFees(marketID string, tierID uint8, sizeDelta, price int64) (int64, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	cfg, ok := e.configs.Get(marketID)
	if !ok {
		return 0, &MarketNotFoundError{MarketID: marketID}
	}
	if price == 0 {
		if price, ok = e.prices.Latest(marketID); !ok {
			return 0, fmt.Errorf("%w: market %s", ErrPriceUnavailable, marketID)
		}
	}
	var skew int64
	if ms, ok := e.markets.Get(marketID); ok {
		skew = ms.Skew
	}

	tier := e.feeTiers.GetTier(tierID)
	return fpmath.ComputeOrderFees(fpmath.OrderFeeInput{
		Skew:          skew,
		SizeDelta:     sizeDelta,
		Price:         price,
		MakerFee:      cfg.MakerFee,
		TakerFee:      cfg.TakerFee,
		MakerDiscount: tier.MakerDiscount,
		TakerDiscount: tier.TakerDiscount,
	}), nil
}

// ListFlaggedPositions returns flags oldest first, optionally for one market
func (e *Engine) ListFlaggedPositions(marketID string, limit int) []*state.LiquidationFlag {
	e.mu.RLock()
	defer e.mu.RUnlock()

	flags := e.flags.List(marketID, limit)
	result := make([]*state.LiquidationFlag, 0, len(flags))
	for _, f := range flags {
		result = append(result, f.Clone())
	}
	return result
}

// IsEndorsedKeeper reports whether an address is on the allow-list
func (e *Engine) IsEndorsedKeeper(address string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.keepers.IsEndorsed(address)
}

// KeeperBalance returns the cash paid out to a keeper address
func (e *Engine) KeeperBalance(address string) int64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.balanceTracker.GetKeeperBalance(address)
}

// MarginBalance returns an account's balance of one asset in a market
func (e *Engine) MarginBalance(accountID uuid.UUID, marketID, asset string) int64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	assetID, ok := ledger.GetAssetID(asset)
	if !ok {
		return 0
	}
	return e.balanceTracker.GetMarginBalance(accountID, marketID, assetID)
}

// MarketIDs returns configured markets
func (e *Engine) MarketIDs() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.configs.MarketIDs()
}
