package event

import (
	"fmt"

	"github.com/google/uuid"
)

// OrderCommitted records a pending, unsettled order for an account
type OrderCommitted struct {
	OrderID        uuid.UUID `json:"order_id"` // Idempotency key
	AccountID      uuid.UUID `json:"account_id"`
	Market         string    `json:"market_id"`
	SizeDelta      int64     `json:"size_delta"`      // Fixed-point: quantity scale, signed
	CommitmentTime int64     `json:"commitment_time"` // Epoch microseconds
	Sequence       int64     `json:"sequence"`
}

func (o *OrderCommitted) IdempotencyKey() string {
	return o.OrderID.String()
}

func (o *OrderCommitted) EventType() EventType {
	return EventTypeOrderCommitted
}

func (o *OrderCommitted) MarketID() *string {
	return &o.Market
}

func (o *OrderCommitted) SourceSequence() int64 {
	return o.Sequence
}

func (o *OrderCommitted) EventTimestamp() int64 {
	return o.CommitmentTime
}

// OrderSettled applies a fill to a position and clears the pending order
type OrderSettled struct {
	OrderID   uuid.UUID `json:"order_id"`
	AccountID uuid.UUID `json:"account_id"`
	Market    string    `json:"market_id"`
	SizeDelta int64     `json:"size_delta"` // Fixed-point: quantity scale, signed
	FillPrice int64     `json:"fill_price"` // Fixed-point: price scale
	Sequence  int64     `json:"sequence"`
	Timestamp int64     `json:"timestamp"`
}

func (o *OrderSettled) IdempotencyKey() string {
	return fmt.Sprintf("%s:settle", o.OrderID)
}

func (o *OrderSettled) EventType() EventType {
	return EventTypeOrderSettled
}

func (o *OrderSettled) MarketID() *string {
	return &o.Market
}

func (o *OrderSettled) SourceSequence() int64 {
	return o.Sequence
}

func (o *OrderSettled) EventTimestamp() int64 {
	return o.Timestamp
}
