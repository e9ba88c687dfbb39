package state

import (
	fpmath "PerpLiquidator/internal/math"
	"sort"
)

// FundingState is the running funding accrual of one market
type FundingState struct {
	MarketID           string
	FundingRate        int64 // rate scale, per day
	AccruedPerUnit     int64 // quote scale per unit of size
	LastRecomputedAt   int64 // epoch micros
	LastRecomputePrice int64 // price scale
}

// FundingManager accrues funding continuously between recomputations.
// The rate only changes when Recompute is called with the new skew.
type FundingManager struct {
	states map[string]*FundingState
}

func NewFundingManager() *FundingManager {
	return &FundingManager{
		states: make(map[string]*FundingState),
	}
}

func (fm *FundingManager) Get(marketID string) (*FundingState, bool) {
	s, ok := fm.states[marketID]
	return s, ok
}

// AccruedAt returns the market's accrued funding per unit at now, including
// the accrual since the last recomputation at the given price.
func (fm *FundingManager) AccruedAt(marketID string, price, now int64) int64 {
	s, ok := fm.states[marketID]
	if !ok {
		return 0
	}
	return s.AccruedPerUnit + fpmath.ComputeFundingAccrual(s.FundingRate, price, elapsedSeconds(s.LastRecomputedAt, now))
}

// Recompute settles accrual up to now and installs the rate implied by skew
func (fm *FundingManager) Recompute(marketID string, skew, skewScale, maxFundingRate, price, now int64) *FundingState {
	s, ok := fm.states[marketID]
	if !ok {
		s = &FundingState{MarketID: marketID, LastRecomputedAt: now}
		fm.states[marketID] = s
	}

	s.AccruedPerUnit += fpmath.ComputeFundingAccrual(s.FundingRate, price, elapsedSeconds(s.LastRecomputedAt, now))
	s.FundingRate = fpmath.ComputeFundingRate(skew, skewScale, maxFundingRate)
	s.LastRecomputedAt = now
	s.LastRecomputePrice = price

	return s
}

// RestoreState directly sets a funding state (used for snapshot restore)
func (fm *FundingManager) RestoreState(s *FundingState) {
	fm.states[s.MarketID] = s
}

// All returns funding states sorted by market
func (fm *FundingManager) All() []*FundingState {
	result := make([]*FundingState, 0, len(fm.states))
	for _, s := range fm.states {
		result = append(result, s)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].MarketID < result[j].MarketID })
	return result
}

func elapsedSeconds(from, to int64) int64 {
	if to <= from {
		return 0
	}
	return (to - from) / 1_000_000
}
