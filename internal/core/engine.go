package core

import (
	"PerpLiquidator/internal/event"
	"PerpLiquidator/internal/ledger"
	"PerpLiquidator/internal/observability"
	"PerpLiquidator/internal/state"
	"fmt"
	"sort"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const defaultIdempotencyCapacity = 1_000_000

// Engine owns all liquidation state. Keeper commands and state feed events
// are serialized through mu; every operation validates all preconditions
// before its first mutation, so a failed call leaves state untouched.
// The engine never reads the wall clock for state: time comes from the
// command or event.
type Engine struct {
	mu sync.RWMutex

	sequence          int64
	hasher            *StateHasher
	balanceTracker    *ledger.BalanceTracker
	journalGen        *ledger.JournalGenerator
	validator         *ledger.InvariantValidator
	positions         *state.PositionLedger
	markets           *state.MarketStateStore
	configs           *state.MarketConfigStore
	flags             *state.FlagStore
	feeTiers          *state.FeeTierRegistry
	keepers           *state.KeeperRegistry
	prices            *state.PriceBook
	orders            *state.PendingOrderBook
	funding           *state.FundingManager
	marginCalc        *state.MarginCalculator
	idempotency       *IdempotencyChecker
	sequenceValidator *SequenceValidator
	metrics           *observability.Metrics
	logger            zerolog.Logger

	persistChan    chan<- CoreOutput
	projectionChan chan<- CoreOutput

	// replaying suppresses output channels while the log is re-applied
	replaying bool
}

// CoreOutput is one envelope leaving the engine, with the decoded event
// and the journal batch it produced (if any).
type CoreOutput struct {
	Envelope   *event.EventEnvelope
	Event      event.Event
	Batch      *ledger.Batch
	StateDelta []byte
}

// NewEngine builds an engine. Either channel may be nil, in which case
// outputs for it are discarded. dbChecker and metrics may be nil.
func NewEngine(
	startSequence int64,
	persistChan, projectionChan chan<- CoreOutput,
	dbChecker DBIdempotencyChecker,
	metrics *observability.Metrics,
) *Engine {
	balanceTracker := ledger.NewBalanceTracker()
	positions := state.NewPositionLedger()
	prices := state.NewPriceBook()
	funding := state.NewFundingManager()

	return &Engine{
		sequence:          startSequence,
		hasher:            NewStateHasher(),
		balanceTracker:    balanceTracker,
		journalGen:        ledger.NewJournalGenerator(startSequence, balanceTracker),
		validator:         ledger.NewInvariantValidator(balanceTracker),
		positions:         positions,
		markets:           state.NewMarketStateStore(),
		configs:           state.NewMarketConfigStore(),
		flags:             state.NewFlagStore(),
		feeTiers:          state.NewFeeTierRegistry(),
		keepers:           state.NewKeeperRegistry(),
		prices:            prices,
		orders:            state.NewPendingOrderBook(),
		funding:           funding,
		marginCalc:        state.NewMarginCalculator(positions, balanceTracker, prices, funding),
		idempotency:       NewIdempotencyChecker(defaultIdempotencyCapacity, dbChecker, metrics),
		sequenceValidator: NewSequenceValidator(metrics),
		metrics:           metrics,
		logger:            observability.NewLogger("engine"),
		persistChan:       persistChan,
		projectionChan:    projectionChan,
	}
}

// SetLogger replaces the engine logger
func (e *Engine) SetLogger(logger zerolog.Logger) {
	e.logger = logger
}

// SetDBIdempotencyChecker attaches the durable dedup tier. Recovery runs
// without it, since every replayed key is already in the log.
func (e *Engine) SetDBIdempotencyChecker(db DBIdempotencyChecker) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.idempotency.dbChecker = db
}

// pendingOutput is an output event waiting for its envelope
type pendingOutput struct {
	evt     event.Event
	batch   *ledger.Batch
	touched *state.PositionKey
}

// ApplyEvent applies one state feed event: idempotency, sequence
// validation, dispatch, batch application, envelope emission.
func (e *Engine) ApplyEvent(evt event.Event) error {
	start := time.Now()
	eventType := evt.EventType().String()
	idempotencyKey := evt.IdempotencyKey()

	e.mu.Lock()
	defer e.mu.Unlock()

	isDuplicate := e.idempotency.IsDuplicate(eventType, idempotencyKey)

	priceEvt, isPrice := evt.(*event.PriceUpdated)
	partition := partitionOf(evt)
	if isPrice {
		if !isDuplicate && !e.sequenceValidator.CheckPrice(priceEvt.Market, priceEvt.PriceSequence) {
			e.rejectEvent(eventType, "stale")
			return nil
		}
	} else if err := e.sequenceValidator.CheckSequence(partition, evt.SourceSequence(), isDuplicate); err != nil {
		e.rejectEvent(eventType, "sequence")
		return fmt.Errorf("sequence validation failed: %w", err)
	}

	if isDuplicate {
		e.rejectEvent(eventType, "duplicate")
		return nil
	}

	batch, touched, err := e.dispatchEvent(evt)
	if err != nil {
		e.rejectEvent(eventType, "validation")
		return fmt.Errorf("dispatch failed: %w", err)
	}

	if isPrice {
		e.sequenceValidator.CommitPrice(priceEvt.Market, priceEvt.PriceSequence)
	} else {
		e.sequenceValidator.Commit(partition, evt.SourceSequence())
	}

	e.emit([]pendingOutput{{evt: evt, batch: batch, touched: touched}})
	e.idempotency.MarkProcessed(eventType, idempotencyKey)

	if e.metrics != nil {
		e.metrics.CoreEventsApplied.WithLabelValues(eventType).Inc()
		e.metrics.CoreEventDuration.WithLabelValues(eventType).Observe(time.Since(start).Seconds())
	}

	return nil
}

func (e *Engine) rejectEvent(eventType, reason string) {
	if e.metrics != nil {
		e.metrics.CoreEventsRejected.WithLabelValues(eventType, reason).Inc()
	}
}

// partitionOf determines the partition key for sequence validation
func partitionOf(evt event.Event) string {
	if marketID := evt.MarketID(); marketID != nil {
		return fmt.Sprintf("market:%s", *marketID)
	}
	return "global"
}

// applyBatch applies a generated batch. Generated batches are balanced by
// construction; a failure here means the generator is broken.
func (e *Engine) applyBatch(batch *ledger.Batch) {
	if batch.IsEmpty() {
		return
	}
	if err := e.validator.ValidateBatchBalance(batch); err != nil {
		panic(fmt.Sprintf("FATAL: unbalanced batch: %v", err))
	}
	if err := e.balanceTracker.ApplyBatch(batch); err != nil {
		panic(fmt.Sprintf("FATAL: apply batch: %v", err))
	}
	if e.metrics != nil {
		for _, j := range batch.Journals {
			e.metrics.CoreJournals.WithLabelValues(j.JournalType.String()).Inc()
		}
	}
}

// emit wraps outputs in envelopes, advances the hash chain and sends them.
// Persistence is a blocking send (backpressure); projections are
// non-blocking and drop when full, since they can rebuild from the log.
func (e *Engine) emit(pending []pendingOutput) {
	for _, p := range pending {
		payload, err := json.Marshal(p.evt)
		if err != nil {
			panic(fmt.Sprintf("FATAL: encode %s: %v", p.evt.EventType(), err))
		}

		digest := e.computeStateDigest(p.batch, p.touched, p.evt.MarketID())
		stateHash, prevHash := e.hasher.Next(e.sequence, digest)

		output := CoreOutput{
			Envelope: &event.EventEnvelope{
				Sequence:       e.sequence,
				IdempotencyKey: p.evt.IdempotencyKey(),
				EventType:      p.evt.EventType(),
				MarketID:       p.evt.MarketID(),
				Timestamp:      p.evt.EventTimestamp(),
				SourceSequence: p.evt.SourceSequence(),
				Payload:        payload,
				StateHash:      stateHash,
				PrevHash:       prevHash,
			},
			Event:      p.evt,
			Batch:      p.batch,
			StateDelta: digest,
		}
		e.sequence++

		if e.replaying {
			continue
		}
		if e.persistChan != nil {
			e.persistChan <- output
		}
		if e.projectionChan != nil {
			select {
			case e.projectionChan <- output:
			default:
				if e.metrics != nil {
					e.metrics.ProjectionDrops.WithLabelValues("engine").Inc()
				}
			}
		}
	}

	if e.metrics != nil {
		e.metrics.CoreSequence.Set(float64(e.sequence))
	}
}

// computeStateDigest creates canonical bytes for the state hash: balances
// touched by the batch, the touched position and flag, and the market
// aggregate.
func (e *Engine) computeStateDigest(batch *ledger.Batch, touched *state.PositionKey, marketID *string) []byte {
	affected := make(map[ledger.AccountKey]bool)
	if batch != nil {
		for _, j := range batch.Journals {
			affected[j.DebitAccount] = true
			affected[j.CreditAccount] = true
		}
	}

	accounts := make([]ledger.AccountKey, 0, len(affected))
	for key := range affected {
		accounts = append(accounts, key)
	}
	sort.Slice(accounts, func(i, j int) bool {
		return accounts[i].AccountPath() < accounts[j].AccountPath()
	})

	digest := make([]byte, 0, len(accounts)*64+128)
	for _, key := range accounts {
		path := key.AccountPath()
		digest = append(digest, byte(len(path)))
		digest = append(digest, []byte(path)...)
		digest = appendInt64LE(digest, e.balanceTracker.GetBalance(key))
	}

	if touched != nil {
		if pos := e.positions.GetPosition(touched.AccountID, touched.MarketID); pos != nil {
			digest = append(digest, pos.CanonicalBytes()...)
		}
		if flag, ok := e.flags.Get(touched.AccountID, touched.MarketID); ok {
			digest = appendInt64LE(digest, flag.FlaggedAt)
			digest = appendInt64LE(digest, flag.LiqRewardPaid)
		}
	}

	if marketID != nil {
		if ms, ok := e.markets.Get(*marketID); ok {
			digest = appendInt64LE(digest, ms.Size)
			digest = appendInt64LE(digest, ms.Skew)
			digest = appendInt64LE(digest, ms.LiquidationWindowStart)
			digest = appendInt64LE(digest, ms.LiquidationConsumed)
		}
	}

	return digest
}

func appendInt64LE(buf []byte, v int64) []byte {
	return append(buf,
		byte(v),
		byte(v>>8),
		byte(v>>16),
		byte(v>>24),
		byte(v>>32),
		byte(v>>40),
		byte(v>>48),
		byte(v>>56),
	)
}

// updateMarketGauges refreshes capacity and pool gauges for a market
func (e *Engine) updateMarketGauges(marketID string, now int64) {
	if e.metrics == nil {
		return
	}
	cfg, ok := e.configs.Get(marketID)
	if !ok {
		return
	}
	view := e.markets.GetOrCreate(marketID).Capacity(cfg, now)
	e.metrics.CapacityRemaining.WithLabelValues(marketID).Set(float64(view.Remaining))
	e.metrics.CapacityMax.WithLabelValues(marketID).Set(float64(view.MaxCapacity))
	e.metrics.LiquidationPoolBalance.WithLabelValues(marketID).Set(float64(e.balanceTracker.GetLiquidationPoolBalance(marketID)))
	e.metrics.FlaggedPositions.Set(float64(e.flags.Len()))
}

// GetSequence returns the next output sequence number
func (e *Engine) GetSequence() int64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.sequence
}

// GetStateHash returns the current state hash (chain tip)
func (e *Engine) GetStateHash() [32]byte {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.hasher.Tip()
}

// CheckInvariants verifies ledger and market aggregate invariants
func (e *Engine) CheckInvariants() error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if err := e.validator.ValidateGlobalBalance(); err != nil {
		return err
	}
	if err := e.validator.ValidateOwnedBalances(); err != nil {
		return err
	}

	sizes := make(map[string]int64)
	skews := make(map[string]int64)
	for _, pos := range e.positions.GetAllPositions() {
		sizes[pos.MarketID] += pos.AbsSize()
		skews[pos.MarketID] += pos.Size
	}
	for _, ms := range e.markets.All() {
		if ms.Size != sizes[ms.MarketID] || ms.Skew != skews[ms.MarketID] {
			return fmt.Errorf("market %s aggregates drifted: size=%d/%d skew=%d/%d",
				ms.MarketID, ms.Size, sizes[ms.MarketID], ms.Skew, skews[ms.MarketID])
		}
	}

	for _, flag := range e.flags.List("", 0) {
		if _, ok := e.positions.GetOpenPosition(flag.AccountID, flag.MarketID); !ok {
			return fmt.Errorf("flag on closed position %s", flag.Key())
		}
	}
	return nil
}
