package core

import (
	"PerpLiquidator/internal/event"
	"PerpLiquidator/internal/ledger"
	fpmath "PerpLiquidator/internal/math"
	"PerpLiquidator/internal/state"
	"fmt"
	"time"
)

// Command names used for dedup keys and metrics labels
const (
	CommandFlagPosition      = "FlagPosition"
	CommandLiquidatePosition = "LiquidatePosition"
)

// FlagResult carries the outputs of a successful flag
type FlagResult struct {
	Flagged        *event.PositionFlaggedLiquidation
	OrderCanceled  *event.OrderCanceled // nil when no order was pending
	CollateralSold []*event.CollateralSold
	Health         *state.PositionHealth
}

// LiquidationResult carries the outputs of a successful liquidate call
type LiquidationResult struct {
	Liquidated        *event.PositionLiquidated
	FundingRecomputed *event.FundingRecomputed // nil unless the call closed the position
	Capacity          state.CapacityView       // capacity after the call
}

// FlagPosition marks a liquidatable position as flagged by cmd.Keeper.
// Checks, in order: market, open position, not flagged, health factor <= 1.
// On success the pending order is cancelled and non-cash collateral is sold
// for cash at oracle prices before the flag is recorded.
func (e *Engine) FlagPosition(cmd *FlagPositionCommand) (*FlagResult, error) {
	start := time.Now()
	if err := cmd.Validate(); err != nil {
		e.rejectCommand(CommandFlagPosition, err)
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	result, err := e.flagLocked(cmd)
	if err != nil {
		e.rejectCommand(CommandFlagPosition, err)
		return nil, err
	}

	e.idempotency.MarkProcessed(CommandFlagPosition, cmd.CommandID)
	e.updateMarketGauges(cmd.MarketID, cmd.Timestamp)
	if e.metrics != nil {
		e.metrics.CoreCommandsApplied.WithLabelValues(CommandFlagPosition).Inc()
		e.metrics.CoreCommandDuration.WithLabelValues(CommandFlagPosition).Observe(time.Since(start).Seconds())
		e.metrics.PositionsFlagged.WithLabelValues(cmd.MarketID).Inc()
	}

	e.logger.Info().
		Str("account_id", cmd.AccountID.String()).
		Str("market_id", cmd.MarketID).
		Str("flagger", cmd.Keeper).
		Int64("price", result.Flagged.Price).
		Int64("health_factor", result.Health.HealthFactor).
		Int("collateral_sold", len(result.CollateralSold)).
		Bool("order_canceled", result.OrderCanceled != nil).
		Msg("position flagged")

	return result, nil
}

func (e *Engine) flagLocked(cmd *FlagPositionCommand) (*FlagResult, error) {
	if e.idempotency.IsDuplicate(CommandFlagPosition, cmd.CommandID) {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateCommand, cmd.CommandID)
	}

	// --- Preconditions (no mutation) ---
	cfg, ok := e.configs.Get(cmd.MarketID)
	if !ok {
		return nil, &MarketNotFoundError{MarketID: cmd.MarketID}
	}

	pos, ok := e.positions.GetOpenPosition(cmd.AccountID, cmd.MarketID)
	if !ok {
		return nil, positionErr(ErrPositionNotFound, cmd.AccountID, cmd.MarketID)
	}

	if e.flags.IsFlagged(cmd.AccountID, cmd.MarketID) {
		return nil, positionErr(ErrPositionFlagged, cmd.AccountID, cmd.MarketID)
	}

	health, err := e.marginCalc.PositionHealth(pos, cfg, cmd.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPriceUnavailable, err)
	}
	if !health.Liquidatable {
		return nil, positionErr(ErrCannotLiquidatePosition, cmd.AccountID, cmd.MarketID)
	}

	values, _, err := e.marginCalc.CollateralValues(cmd.AccountID, cmd.MarketID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPriceUnavailable, err)
	}
	sales := make([]ledger.CollateralSale, 0)
	for _, cv := range values {
		if cv.AssetID == ledger.CashAssetID() || cv.Amount <= 0 {
			continue
		}
		sales = append(sales, ledger.CollateralSale{AssetID: cv.AssetID, Amount: cv.Amount, CashCredited: cv.ValueUSD})
	}

	var saleBatch *ledger.Batch
	if len(sales) > 0 {
		saleBatch, err = e.journalGen.GenerateCollateralSale(cmd.CommandID, cmd.AccountID, cmd.MarketID, sales, cmd.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("collateral sale: %w", err)
		}
	}

	// --- Mutation ---
	result := &FlagResult{Health: health}
	key := state.PositionKey{AccountID: cmd.AccountID, MarketID: cmd.MarketID}
	pending := make([]pendingOutput, 0, 2+len(sales))

	if order, hadOrder := e.orders.Remove(cmd.AccountID, cmd.MarketID); hadOrder {
		result.OrderCanceled = &event.OrderCanceled{
			CommandRef:     cmd.CommandID,
			AccountID:      cmd.AccountID,
			Market:         cmd.MarketID,
			CommitmentTime: order.CommitmentTime,
			Timestamp:      cmd.Timestamp,
		}
		pending = append(pending, pendingOutput{evt: result.OrderCanceled, touched: &key})
	}

	e.applyBatch(saleBatch)
	for _, cv := range values {
		if cv.AssetID == ledger.CashAssetID() || cv.Amount <= 0 {
			continue
		}
		sold := &event.CollateralSold{
			CommandRef:   cmd.CommandID,
			AccountID:    cmd.AccountID,
			Market:       cmd.MarketID,
			Asset:        cv.Asset,
			Amount:       cv.Amount,
			Price:        cv.Price,
			CashCredited: cv.ValueUSD,
			Timestamp:    cmd.Timestamp,
		}
		result.CollateralSold = append(result.CollateralSold, sold)

		out := pendingOutput{evt: sold, touched: &key}
		if len(result.CollateralSold) == 1 {
			out.batch = saleBatch
		}
		pending = append(pending, out)
		if e.metrics != nil {
			e.metrics.CollateralSold.WithLabelValues(cmd.MarketID, cv.Asset).Inc()
		}
	}

	flag := &state.LiquidationFlag{
		AccountID:      cmd.AccountID,
		MarketID:       cmd.MarketID,
		FlaggedBy:      cmd.Keeper,
		FlaggedAt:      cmd.Timestamp,
		FlaggedPrice:   health.OraclePrice,
		FlaggedSize:    pos.AbsSize(),
		LiqRewardTotal: health.LiqReward,
	}
	if err := e.flags.Put(flag); err != nil {
		panic(fmt.Sprintf("FATAL: flag checked absent but present: %v", err))
	}
	if err := e.positions.SetState(cmd.AccountID, cmd.MarketID, state.LiquidationStateFlagged); err != nil {
		panic(fmt.Sprintf("FATAL: %v", err))
	}

	result.Flagged = &event.PositionFlaggedLiquidation{
		CommandRef: cmd.CommandID,
		AccountID:  cmd.AccountID,
		Market:     cmd.MarketID,
		Flagger:    cmd.Keeper,
		Price:      health.OraclePrice,
		Timestamp:  cmd.Timestamp,
	}
	pending = append(pending, pendingOutput{evt: result.Flagged, touched: &key})

	e.emit(pending)
	return result, nil
}

// LiquidatePosition liquidates as much of a flagged position as the
// market's capacity window allows. An endorsed keeper liquidates the whole
// position regardless of capacity while the market's price deviation is
// within liquidationMaxPd.
// Checks, in order: market, account, open position, flag, capacity.
func (e *Engine) LiquidatePosition(cmd *LiquidatePositionCommand) (*LiquidationResult, error) {
	start := time.Now()
	if err := cmd.Validate(); err != nil {
		e.rejectCommand(CommandLiquidatePosition, err)
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	result, err := e.liquidateLocked(cmd)
	if err != nil {
		e.rejectCommand(CommandLiquidatePosition, err)
		return nil, err
	}

	e.idempotency.MarkProcessed(CommandLiquidatePosition, cmd.CommandID)
	e.updateMarketGauges(cmd.MarketID, cmd.Timestamp)

	liq := result.Liquidated
	if e.metrics != nil {
		outcome := "partial"
		if liq.IsFullClose() {
			outcome = "full"
		}
		e.metrics.CoreCommandsApplied.WithLabelValues(CommandLiquidatePosition).Inc()
		e.metrics.CoreCommandDuration.WithLabelValues(CommandLiquidatePosition).Observe(time.Since(start).Seconds())
		e.metrics.Liquidations.WithLabelValues(cmd.MarketID, outcome).Inc()
		e.metrics.LiquidatedSize.WithLabelValues(cmd.MarketID).Add(float64(liq.SizeLiquidated) / float64(fpmath.QuantityConfig.Scale))
		e.metrics.KeeperPayouts.WithLabelValues(cmd.MarketID, "liq_reward").Add(float64(liq.LiqReward) / float64(fpmath.QuoteConfig.Scale))
		e.metrics.KeeperPayouts.WithLabelValues(cmd.MarketID, "keeper_fee").Add(float64(liq.KeeperFee) / float64(fpmath.QuoteConfig.Scale))
		if liq.Bypassed {
			e.metrics.LiquidationBypasses.WithLabelValues(cmd.MarketID).Inc()
		}
	}

	e.logger.Info().
		Str("account_id", cmd.AccountID.String()).
		Str("market_id", cmd.MarketID).
		Str("liquidator", cmd.Keeper).
		Str("flagger", liq.Flagger).
		Int64("size_liquidated", liq.SizeLiquidated).
		Int64("size_remaining", liq.SizeRemaining).
		Int64("liq_reward", liq.LiqReward).
		Int64("keeper_fee", liq.KeeperFee).
		Bool("bypassed", liq.Bypassed).
		Msg("position liquidated")

	return result, nil
}

func (e *Engine) liquidateLocked(cmd *LiquidatePositionCommand) (*LiquidationResult, error) {
	if e.idempotency.IsDuplicate(CommandLiquidatePosition, cmd.CommandID) {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateCommand, cmd.CommandID)
	}
	now := cmd.Timestamp

	// --- Preconditions (no mutation) ---
	cfg, ok := e.configs.Get(cmd.MarketID)
	if !ok {
		return nil, &MarketNotFoundError{MarketID: cmd.MarketID}
	}

	if !e.positions.HasAccount(cmd.AccountID) {
		return nil, &AccountNotFoundError{AccountID: cmd.AccountID}
	}

	pos, ok := e.positions.GetOpenPosition(cmd.AccountID, cmd.MarketID)
	if !ok {
		return nil, positionErr(ErrPositionNotFound, cmd.AccountID, cmd.MarketID)
	}

	flag, ok := e.flags.Get(cmd.AccountID, cmd.MarketID)
	if !ok {
		return nil, positionErr(ErrPositionNotFlagged, cmd.AccountID, cmd.MarketID)
	}

	price, ok := e.prices.Latest(cmd.MarketID)
	if !ok {
		return nil, fmt.Errorf("%w: market %s", ErrPriceUnavailable, cmd.MarketID)
	}

	ms := e.markets.GetOrCreate(cmd.MarketID)
	capacity := ms.Capacity(cfg, now)
	endorsed := e.keepers.IsEndorsed(cmd.Keeper)
	pd := fpmath.PriceDeviation(ms.Skew, cfg.SkewScale)
	bypass := endorsed && pd <= cfg.LiquidationMaxPd

	sizeBefore := pos.AbsSize()
	liqSize := fpmath.Min(sizeBefore, capacity.Remaining)
	if bypass {
		liqSize = sizeBefore
	} else if capacity.Remaining == 0 {
		return nil, &CapacityError{
			MarketID:         cmd.MarketID,
			Keeper:           cmd.Keeper,
			Endorsed:         endorsed,
			PriceDeviation:   pd,
			LiquidationMaxPd: cfg.LiquidationMaxPd,
		}
	}
	fullClose := liqSize == sizeBefore

	// Rewards: the flag reward is fixed at flag time and paid pro rata;
	// endorsed flaggers earn nothing but the paid tracker still advances.
	rewardShare := flag.RewardShare(liqSize, sizeBefore)
	flaggerPaid := rewardShare
	if e.keepers.IsEndorsed(flag.FlaggedBy) {
		flaggerPaid = 0
	}
	_, keeperFee := state.LiquidationFees(cfg, liqSize, price)

	batch, err := e.journalGen.GenerateLiquidationSettlement(cmd.CommandID, ledger.LiquidationSettlement{
		AccountID: cmd.AccountID,
		MarketID:  cmd.MarketID,
		Forfeit:   fullClose,
		Payouts: []ledger.KeeperPayout{
			{Keeper: flag.FlaggedBy, Amount: flaggerPaid, JournalType: ledger.JournalTypeLiquidationReward},
			{Keeper: cmd.Keeper, Amount: keeperFee, JournalType: ledger.JournalTypeKeeperFee},
		},
	}, now)
	if err != nil {
		return nil, fmt.Errorf("liquidation settlement: %w", err)
	}

	// --- Mutation ---
	oldSize := pos.Size
	remaining := e.positions.Reduce(cmd.AccountID, cmd.MarketID, liqSize)
	e.markets.ApplySizeChange(cmd.MarketID, oldSize, remaining)
	ms.RecordLiquidation(cfg, now, liqSize)
	e.applyBatch(batch)
	e.flags.RecordPayout(cmd.AccountID, cmd.MarketID, rewardShare)

	// Funding is re-evaluated on every skew change; the signal is only
	// emitted when the position closes.
	fs := e.funding.Recompute(cmd.MarketID, ms.Skew, cfg.SkewScale, cfg.MaxFundingRate, price, now)

	result := &LiquidationResult{}
	result.Liquidated = &event.PositionLiquidated{
		CommandRef:     cmd.CommandID,
		AccountID:      cmd.AccountID,
		Market:         cmd.MarketID,
		SizeLiquidated: liqSize,
		SizeRemaining:  remaining,
		Flagger:        flag.FlaggedBy,
		Liquidator:     cmd.Keeper,
		LiqReward:      flaggerPaid,
		KeeperFee:      keeperFee,
		Price:          price,
		Bypassed:       liqSize > capacity.Remaining,
		Timestamp:      now,
	}

	key := state.PositionKey{AccountID: cmd.AccountID, MarketID: cmd.MarketID}
	pending := []pendingOutput{{evt: result.Liquidated, batch: batch, touched: &key}}

	if fullClose {
		e.flags.Delete(cmd.AccountID, cmd.MarketID)
		if err := e.positions.SetState(cmd.AccountID, cmd.MarketID, state.LiquidationStateClosed); err != nil {
			panic(fmt.Sprintf("FATAL: %v", err))
		}
		result.FundingRecomputed = &event.FundingRecomputed{
			CommandRef:         cmd.CommandID,
			Market:             cmd.MarketID,
			Skew:               ms.Skew,
			FundingRate:        fs.FundingRate,
			AccruedFundingUnit: fs.AccruedPerUnit,
			Timestamp:          now,
		}
		pending = append(pending, pendingOutput{evt: result.FundingRecomputed})
	}

	result.Capacity = ms.Capacity(cfg, now)
	e.emit(pending)
	return result, nil
}

func (e *Engine) rejectCommand(command string, err error) {
	if e.metrics != nil {
		e.metrics.CoreCommandsRejected.WithLabelValues(command, RejectReason(err)).Inc()
	}
	e.logger.Debug().Str("command", command).Err(err).Msg("command rejected")
}
