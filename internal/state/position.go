// internal/state/position.go
package state

import (
	fpmath "PerpLiquidator/internal/math"

	"github.com/google/uuid"
)

// LiquidationState tracks where a position is in the flag/liquidate cycle.
// Flagged is an overlay on an open position: trading fields stay intact
// until the position is fully closed.
type LiquidationState int32

const (
	LiquidationStateOpen LiquidationState = iota
	LiquidationStateFlagged
	LiquidationStateClosed
)

// Position represents an account's position in a market
type Position struct {
	AccountID           uuid.UUID
	MarketID            string
	Size                int64 // Fixed-point: quantity scale, sign = side
	EntryPrice          int64 // Fixed-point: price scale
	EntryFundingAccrued int64 // Quote scale per unit, market accrual at entry
	LiquidationState    LiquidationState
	Version             int64
}

func (ls LiquidationState) String() string {
	switch ls {
	case LiquidationStateOpen:
		return "Open"
	case LiquidationStateFlagged:
		return "Flagged"
	case LiquidationStateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// CanTransitionTo validates state transitions
func (ls LiquidationState) CanTransitionTo(next LiquidationState) bool {
	validTransitions := map[LiquidationState][]LiquidationState{
		LiquidationStateOpen: {
			LiquidationStateFlagged,
			LiquidationStateClosed, // Settled to zero by a trade
		},
		LiquidationStateFlagged: {
			LiquidationStateFlagged, // Partial liquidation keeps the flag
			LiquidationStateClosed,
		},
		LiquidationStateClosed: {
			LiquidationStateOpen, // Re-opened by a new fill
		},
	}

	for _, allowed := range validTransitions[ls] {
		if next == allowed {
			return true
		}
	}
	return false
}

// IsFlat returns true if position has no exposure
func (p *Position) IsFlat() bool {
	return p.Size == 0
}

// SideSign returns +1 for long, -1 for short, 0 for flat
func (p *Position) SideSign() int64 {
	return fpmath.Sign(p.Size)
}

// AbsSize returns |size|
func (p *Position) AbsSize() int64 {
	return fpmath.Abs(p.Size)
}

// Clone returns a detached copy
func (p *Position) Clone() *Position {
	c := *p
	return &c
}

// CanonicalBytes returns deterministic serialization for hashing
func (p *Position) CanonicalBytes() []byte {
	buf := make([]byte, 0, 64)

	buf = append(buf, p.AccountID[:]...)

	buf = append(buf, byte(len(p.MarketID)))
	buf = append(buf, []byte(p.MarketID)...)

	buf = appendInt64LE(buf, p.Size)
	buf = appendInt64LE(buf, p.EntryPrice)
	buf = appendInt64LE(buf, p.EntryFundingAccrued)

	buf = append(buf, byte(p.LiquidationState))

	return buf
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
