package state

import (
	fpmath "PerpLiquidator/internal/math"
	"bytes"
	"fmt"
	"sort"

	"github.com/google/uuid"
)

// PositionLedger owns every position record, keyed by (account, market)
type PositionLedger struct {
	positions map[PositionKey]*Position
	accounts  map[uuid.UUID]struct{}
}

type PositionKey struct {
	AccountID uuid.UUID
	MarketID  string
}

func (k PositionKey) String() string {
	return fmt.Sprintf("%s/%s", k.AccountID, k.MarketID)
}

func NewPositionLedger() *PositionLedger {
	return &PositionLedger{
		positions: make(map[PositionKey]*Position),
		accounts:  make(map[uuid.UUID]struct{}),
	}
}

// RegisterAccount records that an account exists
func (pl *PositionLedger) RegisterAccount(accountID uuid.UUID) {
	pl.accounts[accountID] = struct{}{}
}

// HasAccount reports whether the account has ever deposited or traded
func (pl *PositionLedger) HasAccount(accountID uuid.UUID) bool {
	_, ok := pl.accounts[accountID]
	return ok
}

// Accounts returns all known accounts in byte order
func (pl *PositionLedger) Accounts() []uuid.UUID {
	result := make([]uuid.UUID, 0, len(pl.accounts))
	for id := range pl.accounts {
		result = append(result, id)
	}
	sort.Slice(result, func(i, j int) bool {
		return bytes.Compare(result[i][:], result[j][:]) < 0
	})
	return result
}

// GetPosition returns existing position or nil
func (pl *PositionLedger) GetPosition(accountID uuid.UUID, marketID string) *Position {
	return pl.positions[PositionKey{AccountID: accountID, MarketID: marketID}]
}

// GetOpenPosition returns the position only if it has non-zero size
func (pl *PositionLedger) GetOpenPosition(accountID uuid.UUID, marketID string) (*Position, bool) {
	pos := pl.GetPosition(accountID, marketID)
	if pos == nil || pos.IsFlat() {
		return nil, false
	}
	return pos, true
}

func (pl *PositionLedger) getOrCreate(accountID uuid.UUID, marketID string) *Position {
	key := PositionKey{AccountID: accountID, MarketID: marketID}
	pos := pl.positions[key]
	if pos == nil {
		pos = &Position{
			AccountID:        accountID,
			MarketID:         marketID,
			LiquidationState: LiquidationStateClosed,
		}
		pl.positions[key] = pos
	}
	return pos
}

// ApplyFill updates a position from a settled order and returns the sizes
// before and after so the caller can adjust market aggregates.
// Increases average the entry price and entry funding; reductions keep
// them; flips restart both at the fill.
func (pl *PositionLedger) ApplyFill(
	accountID uuid.UUID,
	marketID string,
	sizeDelta int64,
	fillPrice int64,
	fundingAccrued int64,
) (oldSize, newSize int64) {
	pl.RegisterAccount(accountID)
	pos := pl.getOrCreate(accountID, marketID)

	oldSize = pos.Size
	newSize = oldSize + sizeDelta

	switch {
	case oldSize == 0:
		// Case 1: Flat position -> open new
		pos.EntryPrice = fillPrice
		pos.EntryFundingAccrued = fundingAccrued
		pos.LiquidationState = LiquidationStateOpen

	case fpmath.Sign(sizeDelta) == fpmath.Sign(oldSize):
		// Case 2: Same side -> increase position
		pos.EntryPrice = fpmath.ComputeAvgEntryPrice(pos.AbsSize(), pos.EntryPrice, fpmath.Abs(sizeDelta), fillPrice)
		pos.EntryFundingAccrued = fpmath.ComputeAvgEntryPrice(pos.AbsSize(), pos.EntryFundingAccrued, fpmath.Abs(sizeDelta), fundingAccrued)

	case newSize == 0:
		// Case 3: Full close
		pos.EntryPrice = 0
		pos.EntryFundingAccrued = 0
		pos.LiquidationState = LiquidationStateClosed

	case fpmath.Sign(newSize) != fpmath.Sign(oldSize):
		// Case 4: Close and flip
		pos.EntryPrice = fillPrice
		pos.EntryFundingAccrued = fundingAccrued
	}
	// Case 5 (partial reduce) keeps entry fields

	pos.Size = newSize
	pos.Version++

	return oldSize, newSize
}

// Reduce removes absAmount of exposure from an open position and returns
// the signed remaining size. The caller guarantees absAmount <= |size|.
func (pl *PositionLedger) Reduce(accountID uuid.UUID, marketID string, absAmount int64) int64 {
	pos := pl.GetPosition(accountID, marketID)
	if pos == nil || absAmount > pos.AbsSize() || absAmount < 0 {
		panic(fmt.Sprintf("FATAL: invalid reduce of %d on %s/%s", absAmount, accountID, marketID))
	}

	pos.Size -= pos.SideSign() * absAmount
	if pos.Size == 0 {
		pos.EntryPrice = 0
		pos.EntryFundingAccrued = 0
	}
	pos.Version++

	return pos.Size
}

// SetState moves a position to a new liquidation state
func (pl *PositionLedger) SetState(accountID uuid.UUID, marketID string, next LiquidationState) error {
	pos := pl.GetPosition(accountID, marketID)
	if pos == nil {
		return fmt.Errorf("position %s/%s not found", accountID, marketID)
	}
	if !pos.LiquidationState.CanTransitionTo(next) {
		return fmt.Errorf("invalid state transition: %s -> %s", pos.LiquidationState, next)
	}
	pos.LiquidationState = next
	pos.Version++
	return nil
}

// SetPosition directly sets a position (used for snapshot restore)
func (pl *PositionLedger) SetPosition(pos *Position) {
	pl.RegisterAccount(pos.AccountID)
	pl.positions[PositionKey{AccountID: pos.AccountID, MarketID: pos.MarketID}] = pos
}

// GetAllPositions returns all positions in deterministic key order
func (pl *PositionLedger) GetAllPositions() []*Position {
	result := make([]*Position, 0, len(pl.positions))
	for _, pos := range pl.positions {
		result = append(result, pos)
	}
	sort.Slice(result, func(i, j int) bool {
		if c := bytes.Compare(result[i].AccountID[:], result[j].AccountID[:]); c != 0 {
			return c < 0
		}
		return result[i].MarketID < result[j].MarketID
	})
	return result
}

// GetAccountPositions returns all positions for an account
func (pl *PositionLedger) GetAccountPositions(accountID uuid.UUID) []*Position {
	result := make([]*Position, 0)
	for key, pos := range pl.positions {
		if key.AccountID == accountID {
			result = append(result, pos)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].MarketID < result[j].MarketID })
	return result
}
