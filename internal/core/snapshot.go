package core

import (
	"PerpLiquidator/internal/ledger"
	"PerpLiquidator/internal/state"
	"fmt"

	"github.com/google/uuid"
)

// SnapshotState is the full in-memory engine state at a sequence.
// Balances carry asset names since asset IDs are allocated per process.
type SnapshotState struct {
	Sequence           int64                     `json:"sequence"`
	StateHash          [32]byte                  `json:"state_hash"`
	JournalSequence    int64                     `json:"journal_sequence"`
	Assets             []string                  `json:"assets"`
	Balances           []BalanceEntry            `json:"balances"`
	Accounts           []uuid.UUID               `json:"accounts"`
	Positions          []*state.Position         `json:"positions"`
	Markets            []*state.MarketState      `json:"markets"`
	Configs            []*state.MarketConfig     `json:"configs"`
	Flags              []*state.LiquidationFlag  `json:"flags"`
	FeeTiers           []state.FeeTier           `json:"fee_tiers"`
	FeeTierAssignments []state.FeeTierAssignment `json:"fee_tier_assignments"`
	EndorsedKeepers    []string                  `json:"endorsed_keepers"`
	Prices             []*state.OraclePrice      `json:"prices"`
	PendingOrders      []*state.PendingOrder     `json:"pending_orders"`
	Funding            []*state.FundingState     `json:"funding"`
	SequenceState      map[string]int64          `json:"sequence_state"`
	IdempotencyKeys    []string                  `json:"idempotency_keys"`
}

// BalanceEntry is one serializable ledger balance
type BalanceEntry struct {
	Scope    ledger.AccountScope   `json:"scope"`
	Owner    string                `json:"owner"`
	MarketID string                `json:"market_id,omitempty"`
	SubType  ledger.AccountSubType `json:"sub_type"`
	Asset    string                `json:"asset"`
	Balance  int64                 `json:"balance"`
}

// CreateSnapshotState copies the engine state. The result shares no
// memory with the engine.
func (e *Engine) CreateSnapshotState() *SnapshotState {
	e.mu.RLock()
	defer e.mu.RUnlock()

	snap := &SnapshotState{
		Sequence:           e.sequence,
		StateHash:          e.hasher.Tip(),
		JournalSequence:    e.journalGen.CurrentSequence(),
		Assets:             ledger.RegisteredAssets(),
		FeeTiers:           e.feeTiers.Tiers(),
		FeeTierAssignments: e.feeTiers.Assignments(),
		EndorsedKeepers:    e.keepers.Endorsed(),
		SequenceState:      e.sequenceValidator.Partitions(),
		IdempotencyKeys:    e.idempotency.Keys(),
	}

	for _, key := range e.balanceTracker.SortedKeys() {
		balance := e.balanceTracker.GetBalance(key)
		if balance == 0 {
			continue
		}
		asset, _ := ledger.GetAssetName(key.AssetID)
		snap.Balances = append(snap.Balances, BalanceEntry{
			Scope:    key.Scope,
			Owner:    key.Owner,
			MarketID: key.MarketID,
			SubType:  key.SubType,
			Asset:    asset,
			Balance:  balance,
		})
	}
	snap.Accounts = e.positions.Accounts()
	for _, pos := range e.positions.GetAllPositions() {
		snap.Positions = append(snap.Positions, pos.Clone())
	}
	for _, ms := range e.markets.All() {
		snap.Markets = append(snap.Markets, ms.Clone())
	}
	for _, cfg := range e.configs.All() {
		c := *cfg
		snap.Configs = append(snap.Configs, &c)
	}
	for _, flag := range e.flags.List("", 0) {
		snap.Flags = append(snap.Flags, flag.Clone())
	}
	for _, p := range e.prices.All() {
		c := *p
		snap.Prices = append(snap.Prices, &c)
	}
	for _, o := range e.orders.All() {
		c := *o
		snap.PendingOrders = append(snap.PendingOrders, &c)
	}
	for _, f := range e.funding.All() {
		c := *f
		snap.Funding = append(snap.Funding, &c)
	}

	return snap
}

// RestoreFromSnapshot loads a snapshot into a fresh engine. It must be
// called before the engine processes any input.
func (e *Engine) RestoreFromSnapshot(snap *SnapshotState) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.sequence != 0 && e.sequence != snap.Sequence {
		return fmt.Errorf("engine already at sequence %d", e.sequence)
	}

	for _, asset := range snap.Assets {
		ledger.RegisterAsset(asset)
	}
	for _, b := range snap.Balances {
		assetID := ledger.RegisterAsset(b.Asset)
		e.balanceTracker.SetBalance(ledger.AccountKey{
			Scope:    b.Scope,
			Owner:    b.Owner,
			MarketID: b.MarketID,
			SubType:  b.SubType,
			AssetID:  assetID,
		}, b.Balance)
	}

	for _, cfg := range snap.Configs {
		if _, err := e.configs.Put(*cfg); err != nil {
			return fmt.Errorf("restore config %s: %w", cfg.MarketID, err)
		}
	}
	for _, acc := range snap.Accounts {
		e.positions.RegisterAccount(acc)
	}
	for _, pos := range snap.Positions {
		e.positions.RegisterAccount(pos.AccountID)
		e.positions.SetPosition(pos.Clone())
	}
	for _, ms := range snap.Markets {
		e.markets.Set(ms.Clone())
	}
	for _, flag := range snap.Flags {
		if err := e.flags.Put(flag.Clone()); err != nil {
			return fmt.Errorf("restore flag: %w", err)
		}
	}
	for _, tier := range snap.FeeTiers {
		if err := e.feeTiers.SetTier(tier); err != nil {
			return fmt.Errorf("restore fee tier: %w", err)
		}
	}
	for _, a := range snap.FeeTierAssignments {
		e.feeTiers.Assign(a)
	}
	for _, k := range snap.EndorsedKeepers {
		e.keepers.SetEndorsed(k, true)
	}
	for _, p := range snap.Prices {
		c := *p
		e.prices.Set(&c)
	}
	for _, o := range snap.PendingOrders {
		c := *o
		e.orders.Commit(&c)
	}
	for _, f := range snap.Funding {
		c := *f
		e.funding.RestoreState(&c)
	}
	for partition, seq := range snap.SequenceState {
		e.sequenceValidator.RestorePartition(partition, seq)
	}
	e.idempotency.Warm(snap.IdempotencyKeys)

	e.sequence = snap.Sequence
	e.journalGen.SetSequence(snap.JournalSequence)
	e.hasher.Reset(snap.StateHash)

	if e.metrics != nil {
		e.metrics.CoreSequence.Set(float64(e.sequence))
		e.metrics.FlaggedPositions.Set(float64(e.flags.Len()))
	}
	return nil
}
