package core

import (
	"PerpLiquidator/internal/event"
	"PerpLiquidator/internal/ledger"
	"PerpLiquidator/internal/state"
	"fmt"
	"time"
)

// dispatchEvent routes a state feed event to its handler. Handlers return
// the journal batch they applied (if any) and the position they touched.
func (e *Engine) dispatchEvent(evt event.Event) (*ledger.Batch, *state.PositionKey, error) {
	switch ev := evt.(type) {
	case *event.MarketConfigured:
		return nil, nil, e.handleMarketConfigured(ev)
	case *event.PriceUpdated:
		return nil, nil, e.handlePriceUpdated(ev)
	case *event.MarginDeposited:
		return e.handleMarginDeposited(ev)
	case *event.OrderCommitted:
		return e.handleOrderCommitted(ev)
	case *event.OrderSettled:
		return e.handleOrderSettled(ev)
	case *event.FeeTierSet:
		return nil, nil, e.feeTiers.SetTier(state.FeeTier{
			TierID:        ev.TierID,
			MakerDiscount: ev.MakerDiscount,
			TakerDiscount: ev.TakerDiscount,
		})
	case *event.FeeTierAssigned:
		e.feeTiers.Assign(state.FeeTierAssignment{AccountID: ev.AccountID, TierID: ev.TierID, Expiry: ev.Expiry})
		return nil, nil, nil
	case *event.KeeperEndorsementUpdated:
		if ev.Address == "" {
			return nil, nil, fmt.Errorf("keeper address is required")
		}
		e.keepers.SetEndorsed(ev.Address, ev.Endorsed)
		return nil, nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown event type: %T", evt)
	}
}

// MarketConfigFromEvent converts a configuration event into market config.
// Every field is taken as given: a zero scalar or reward is a setting, not
// a missing value.
func MarketConfigFromEvent(ev *event.MarketConfigured) state.MarketConfig {
	return state.MarketConfig{
		MarketID:                  ev.Market,
		MakerFee:                  ev.MakerFee,
		TakerFee:                  ev.TakerFee,
		SkewScale:                 ev.SkewScale,
		LiquidationLimitScalar:    ev.LiquidationLimitScalar,
		LiquidationWindow:         time.Duration(ev.LiquidationWindowSeconds) * time.Second,
		LiquidationRewardPercent:  ev.LiquidationRewardPercent,
		MinKeeperFee:              ev.MinKeeperFee,
		MaxKeeperFee:              ev.MaxKeeperFee,
		BaseKeeperFee:             ev.BaseKeeperFee,
		KeeperProfitMargin:        ev.KeeperProfitMargin,
		LiquidationMaxPd:          ev.LiquidationMaxPd,
		MaintenanceMarginFraction: ev.MaintenanceMarginFraction,
		MaxFundingRate:            ev.MaxFundingRate,
		Version:                   ev.Version,
	}
}

// DefaultMarketConfigured returns a configuration event carrying the
// default optional parameters. Decoding a payload over it leaves absent
// keys at their defaults and keeps explicit zeros.
func DefaultMarketConfigured(marketID string) *event.MarketConfigured {
	d := state.DefaultMarketConfig(marketID)
	return &event.MarketConfigured{
		Market:                    d.MarketID,
		LiquidationLimitScalar:    d.LiquidationLimitScalar,
		LiquidationWindowSeconds:  int64(d.LiquidationWindow / time.Second),
		LiquidationRewardPercent:  d.LiquidationRewardPercent,
		MinKeeperFee:              d.MinKeeperFee,
		MaxKeeperFee:              d.MaxKeeperFee,
		BaseKeeperFee:             d.BaseKeeperFee,
		KeeperProfitMargin:        d.KeeperProfitMargin,
		LiquidationMaxPd:          d.LiquidationMaxPd,
		MaintenanceMarginFraction: d.MaintenanceMarginFraction,
		MaxFundingRate:            d.MaxFundingRate,
	}
}

func (e *Engine) handleMarketConfigured(ev *event.MarketConfigured) error {
	cfg := MarketConfigFromEvent(ev)
	applied, err := e.configs.Put(cfg)
	if err != nil {
		return err
	}
	if !applied {
		e.logger.Debug().Str("market_id", ev.Market).Int64("version", ev.Version).Msg("stale market config ignored")
		return nil
	}
	e.markets.GetOrCreate(ev.Market)
	e.updateMarketGauges(ev.Market, ev.Timestamp)

	e.logger.Info().
		Str("market_id", ev.Market).
		Int64("version", ev.Version).
		Int64("max_capacity", cfg.MaxLiquidatableCapacity()).
		Msg("market configured")
	return nil
}

func (e *Engine) handlePriceUpdated(ev *event.PriceUpdated) error {
	if ev.Price <= 0 {
		return fmt.Errorf("price for %s must be positive, got %d", ev.Market, ev.Price)
	}
	e.prices.Update(ev.Market, ev.Price, ev.PriceSequence, ev.PriceTimestamp)
	return nil
}

func (e *Engine) handleMarginDeposited(ev *event.MarginDeposited) (*ledger.Batch, *state.PositionKey, error) {
	if _, ok := e.configs.Get(ev.Market); !ok {
		return nil, nil, &MarketNotFoundError{MarketID: ev.Market}
	}
	if ev.Asset == "" {
		return nil, nil, fmt.Errorf("deposit asset is required")
	}

	assetID := ledger.RegisterAsset(ev.Asset)
	batch, err := e.journalGen.GenerateMarginDeposit(ev.IdempotencyKey(), ev.AccountID, ev.Market, assetID, ev.Amount, ev.Timestamp)
	if err != nil {
		return nil, nil, err
	}

	e.applyBatch(batch)
	e.positions.RegisterAccount(ev.AccountID)

	return batch, &state.PositionKey{AccountID: ev.AccountID, MarketID: ev.Market}, nil
}

func (e *Engine) handleOrderCommitted(ev *event.OrderCommitted) (*ledger.Batch, *state.PositionKey, error) {
	if _, ok := e.configs.Get(ev.Market); !ok {
		return nil, nil, &MarketNotFoundError{MarketID: ev.Market}
	}
	if ev.SizeDelta == 0 {
		return nil, nil, fmt.Errorf("order %s has zero size", ev.OrderID)
	}

	e.positions.RegisterAccount(ev.AccountID)
	e.orders.Commit(&state.PendingOrder{
		OrderID:        ev.OrderID.String(),
		AccountID:      ev.AccountID,
		MarketID:       ev.Market,
		SizeDelta:      ev.SizeDelta,
		CommitmentTime: ev.CommitmentTime,
	})
	return nil, &state.PositionKey{AccountID: ev.AccountID, MarketID: ev.Market}, nil
}

// handleOrderSettled applies a fill to the position and the market
// aggregates. A fill that closes a flagged position clears the flag.
func (e *Engine) handleOrderSettled(ev *event.OrderSettled) (*ledger.Batch, *state.PositionKey, error) {
	cfg, ok := e.configs.Get(ev.Market)
	if !ok {
		return nil, nil, &MarketNotFoundError{MarketID: ev.Market}
	}
	if ev.SizeDelta == 0 || ev.FillPrice <= 0 {
		return nil, nil, fmt.Errorf("order %s: invalid fill size=%d price=%d", ev.OrderID, ev.SizeDelta, ev.FillPrice)
	}

	markPrice, ok := e.prices.Latest(ev.Market)
	if !ok {
		markPrice = ev.FillPrice
	}
	accrued := e.funding.AccruedAt(ev.Market, markPrice, ev.Timestamp)

	oldSize, newSize := e.positions.ApplyFill(ev.AccountID, ev.Market, ev.SizeDelta, ev.FillPrice, accrued)
	e.markets.ApplySizeChange(ev.Market, oldSize, newSize)
	e.orders.Remove(ev.AccountID, ev.Market)

	if newSize == 0 && e.flags.Delete(ev.AccountID, ev.Market) {
		e.logger.Info().
			Str("account_id", ev.AccountID.String()).
			Str("market_id", ev.Market).
			Msg("flag cleared by settlement")
	}

	ms, _ := e.markets.Get(ev.Market)
	e.funding.Recompute(ev.Market, ms.Skew, cfg.SkewScale, cfg.MaxFundingRate, markPrice, ev.Timestamp)

	return nil, &state.PositionKey{AccountID: ev.AccountID, MarketID: ev.Market}, nil
}
