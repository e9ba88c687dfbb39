package event

import (
	"fmt"

	"github.com/google/uuid"
)

// FeeTierSet defines (or redefines) a tier's discounts in basis points
type FeeTierSet struct {
	TierID        uint8 `json:"tier_id"`
	MakerDiscount int64 `json:"maker_discount"`
	TakerDiscount int64 `json:"taker_discount"`
	Timestamp     int64 `json:"timestamp"`
}

func (f *FeeTierSet) IdempotencyKey() string {
	return fmt.Sprintf("feetier:%d:%d:%d:%d", f.TierID, f.MakerDiscount, f.TakerDiscount, f.Timestamp)
}

func (f *FeeTierSet) EventType() EventType {
	return EventTypeFeeTierSet
}

func (f *FeeTierSet) MarketID() *string {
	return nil
}

func (f *FeeTierSet) SourceSequence() int64 {
	return 0
}

func (f *FeeTierSet) EventTimestamp() int64 {
	return f.Timestamp
}

// FeeTierAssigned binds an account to a tier until Expiry. The assignment
// was verified upstream; the engine only records it.
type FeeTierAssigned struct {
	AccountID uuid.UUID `json:"account_id"`
	TierID    uint8     `json:"tier_id"`
	Expiry    int64     `json:"expiry"` // Epoch microseconds
	Timestamp int64     `json:"timestamp"`
}

func (f *FeeTierAssigned) IdempotencyKey() string {
	return fmt.Sprintf("feetier:%s:%d:%d", f.AccountID, f.TierID, f.Expiry)
}

func (f *FeeTierAssigned) EventType() EventType {
	return EventTypeFeeTierAssigned
}

func (f *FeeTierAssigned) MarketID() *string {
	return nil
}

func (f *FeeTierAssigned) SourceSequence() int64 {
	return 0
}

func (f *FeeTierAssigned) EventTimestamp() int64 {
	return f.Timestamp
}
