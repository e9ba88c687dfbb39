package state

import (
	fpmath "PerpLiquidator/internal/math"
	"bytes"
	"fmt"

	"github.com/google/btree"
	"github.com/google/uuid"
)

// LiquidationFlag records that a position was found liquidatable and by whom.
// The reward owed to the flagger is fixed at flag time and paid out in
// proportion to each liquidated chunk.
type LiquidationFlag struct {
	AccountID      uuid.UUID
	MarketID       string
	FlaggedBy      string
	FlaggedAt      int64 // epoch micros
	FlaggedPrice   int64 // price scale
	FlaggedSize    int64 // |size| at flag time, quantity scale
	LiqRewardTotal int64 // quote scale
	LiqRewardPaid  int64 // quote scale
}

func (f *LiquidationFlag) Key() PositionKey {
	return PositionKey{AccountID: f.AccountID, MarketID: f.MarketID}
}

func (f *LiquidationFlag) Clone() *LiquidationFlag {
	c := *f
	return &c
}

// RewardRemaining is the part of the flag reward not yet paid
func (f *LiquidationFlag) RewardRemaining() int64 {
	return fpmath.Max(0, f.LiqRewardTotal-f.LiqRewardPaid)
}

// RewardShare returns the reward owed for liquidating liqSize out of a
// position whose size before the call was sizeBefore. The closing chunk
// takes whatever is left so the chunks always sum to the total.
func (f *LiquidationFlag) RewardShare(liqSize, sizeBefore int64) int64 {
	remaining := f.RewardRemaining()
	if liqSize >= sizeBefore {
		return remaining
	}
	return fpmath.Min(fpmath.ProRata(f.LiqRewardTotal, liqSize, f.FlaggedSize), remaining)
}

// flagOrder orders flags by flag time, then account, then market
type flagOrder struct {
	flaggedAt int64
	key       PositionKey
}

func flagOrderLess(a, b flagOrder) bool {
	if a.flaggedAt != b.flaggedAt {
		return a.flaggedAt < b.flaggedAt
	}
	if c := bytes.Compare(a.key.AccountID[:], b.key.AccountID[:]); c != 0 {
		return c < 0
	}
	return a.key.MarketID < b.key.MarketID
}

// FlagStore holds active liquidation flags with an ordered index for
// listing them oldest first.
type FlagStore struct {
	flags map[PositionKey]*LiquidationFlag
	order *btree.BTreeG[flagOrder]
}

func NewFlagStore() *FlagStore {
	return &FlagStore{
		flags: make(map[PositionKey]*LiquidationFlag),
		order: btree.NewG[flagOrder](16, flagOrderLess),
	}
}

func (fs *FlagStore) Get(accountID uuid.UUID, marketID string) (*LiquidationFlag, bool) {
	f, ok := fs.flags[PositionKey{AccountID: accountID, MarketID: marketID}]
	return f, ok
}

func (fs *FlagStore) IsFlagged(accountID uuid.UUID, marketID string) bool {
	_, ok := fs.Get(accountID, marketID)
	return ok
}

// Put records a new flag. A position can carry at most one flag.
func (fs *FlagStore) Put(flag *LiquidationFlag) error {
	key := flag.Key()
	if _, exists := fs.flags[key]; exists {
		return fmt.Errorf("position %s already flagged", key)
	}
	fs.flags[key] = flag
	fs.order.ReplaceOrInsert(flagOrder{flaggedAt: flag.FlaggedAt, key: key})
	return nil
}

// RecordPayout advances the paid reward tracker of a flag
func (fs *FlagStore) RecordPayout(accountID uuid.UUID, marketID string, amount int64) {
	f, ok := fs.Get(accountID, marketID)
	if !ok {
		panic(fmt.Sprintf("FATAL: payout recorded for unflagged position %s/%s", accountID, marketID))
	}
	f.LiqRewardPaid += amount
	if f.LiqRewardPaid > f.LiqRewardTotal {
		panic(fmt.Sprintf("FATAL: flag reward overpaid for %s/%s: paid=%d total=%d",
			accountID, marketID, f.LiqRewardPaid, f.LiqRewardTotal))
	}
}

// Delete removes a flag; returns false if there was none
func (fs *FlagStore) Delete(accountID uuid.UUID, marketID string) bool {
	key := PositionKey{AccountID: accountID, MarketID: marketID}
	f, ok := fs.flags[key]
	if !ok {
		return false
	}
	delete(fs.flags, key)
	fs.order.Delete(flagOrder{flaggedAt: f.FlaggedAt, key: key})
	return true
}

// List returns up to limit flags (all when limit <= 0), oldest first,
// optionally restricted to one market.
func (fs *FlagStore) List(marketID string, limit int) []*LiquidationFlag {
	result := make([]*LiquidationFlag, 0)
	fs.order.Ascend(func(item flagOrder) bool {
		if marketID != "" && item.key.MarketID != marketID {
			return true
		}
		result = append(result, fs.flags[item.key])
		return limit <= 0 || len(result) < limit
	})
	return result
}

func (fs *FlagStore) Len() int {
	return len(fs.flags)
}
