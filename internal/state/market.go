package state

import (
	fpmath "PerpLiquidator/internal/math"
	"fmt"
	"sort"
)

// MarketState is the per-market aggregate the liquidation engine reads and
// updates. Size is the sum of |position size| over all accounts; Skew is the
// signed sum.
type MarketState struct {
	MarketID string
	Size     int64
	Skew     int64

	LastLiquidationTime    int64 // epoch micros
	LiquidationWindowStart int64 // epoch micros
	LiquidationConsumed    int64 // quantity scale, capped at the window max
}

// CapacityView is the liquidation capacity of a market at a given time
type CapacityView struct {
	MaxCapacity int64
	Consumed    int64
	Remaining   int64
	WindowStart int64
	WindowEnds  int64
}

func (ms *MarketState) Clone() *MarketState {
	c := *ms
	return &c
}

// windowExpired reports whether the consumption counter has lapsed at now.
// The boundary is inclusive: a call exactly one window after the start
// sees a fresh window.
// The caller has already passed now through windowTime.
func (ms *MarketState) windowExpired(cfg *MarketConfig, now int64) bool {
	if ms.LiquidationWindowStart == 0 && ms.LiquidationConsumed == 0 {
		return true
	}
	return now-ms.LiquidationWindowStart >= cfg.WindowMicros()
}

// windowTime floors now at the last liquidation time. Window time never
// runs backwards, so a caller clock that steps back cannot stretch an
// exhausted window.
func (ms *MarketState) windowTime(now int64) int64 {
	return fpmath.Max(now, ms.LastLiquidationTime)
}

// Capacity computes the remaining capacity at now without mutating state
func (ms *MarketState) Capacity(cfg *MarketConfig, now int64) CapacityView {
	now = ms.windowTime(now)
	maxCap := cfg.MaxLiquidatableCapacity()
	consumed := ms.LiquidationConsumed
	start := ms.LiquidationWindowStart
	if ms.windowExpired(cfg, now) {
		consumed = 0
		start = now
	}
	return CapacityView{
		MaxCapacity: maxCap,
		Consumed:    consumed,
		Remaining:   fpmath.RemainingCapacity(maxCap, consumed),
		WindowStart: start,
		WindowEnds:  start + cfg.WindowMicros(),
	}
}

// RecordLiquidation accounts size against the capacity window at now
func (ms *MarketState) RecordLiquidation(cfg *MarketConfig, now int64, size int64) {
	now = ms.windowTime(now)
	if ms.windowExpired(cfg, now) {
		ms.LiquidationWindowStart = now
		ms.LiquidationConsumed = 0
	}
	ms.LiquidationConsumed = fpmath.Min(ms.LiquidationConsumed+size, cfg.MaxLiquidatableCapacity())
	ms.LastLiquidationTime = now
}

// MarketStateStore holds aggregates for every market that has seen activity
type MarketStateStore struct {
	markets map[string]*MarketState
}

func NewMarketStateStore() *MarketStateStore {
	return &MarketStateStore{
		markets: make(map[string]*MarketState),
	}
}

func (s *MarketStateStore) Get(marketID string) (*MarketState, bool) {
	ms, ok := s.markets[marketID]
	return ms, ok
}

// GetOrCreate returns the aggregate, creating an empty one if needed
func (s *MarketStateStore) GetOrCreate(marketID string) *MarketState {
	ms, ok := s.markets[marketID]
	if !ok {
		ms = &MarketState{MarketID: marketID}
		s.markets[marketID] = ms
	}
	return ms
}

// ApplySizeChange moves the aggregates for a position going from oldSize to newSize
func (s *MarketStateStore) ApplySizeChange(marketID string, oldSize, newSize int64) {
	ms := s.GetOrCreate(marketID)
	ms.Size += fpmath.Abs(newSize) - fpmath.Abs(oldSize)
	ms.Skew += newSize - oldSize

	if ms.Size < 0 || fpmath.Abs(ms.Skew) > ms.Size {
		panic(fmt.Sprintf("FATAL: market %s aggregates inconsistent: size=%d skew=%d",
			marketID, ms.Size, ms.Skew))
	}
}

// Set overwrites an aggregate (used for snapshot restore)
func (s *MarketStateStore) Set(ms *MarketState) {
	s.markets[ms.MarketID] = ms
}

// All returns aggregates sorted by market
func (s *MarketStateStore) All() []*MarketState {
	result := make([]*MarketState, 0, len(s.markets))
	for _, ms := range s.markets {
		result = append(result, ms)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].MarketID < result[j].MarketID })
	return result
}
