package event

import "github.com/google/uuid"

// MarginDeposited credits collateral to an account in one market
type MarginDeposited struct {
	DepositID uuid.UUID `json:"deposit_id"` // Idempotency key
	AccountID uuid.UUID `json:"account_id"`
	Market    string    `json:"market_id"`
	Asset     string    `json:"asset"`
	Amount    int64     `json:"amount"` // Fixed-point: quantity scale for the asset
	Sequence  int64     `json:"sequence"`
	Timestamp int64     `json:"timestamp"`
}

func (d *MarginDeposited) IdempotencyKey() string {
	return d.DepositID.String()
}

func (d *MarginDeposited) EventType() EventType {
	return EventTypeMarginDeposited
}

func (d *MarginDeposited) MarketID() *string {
	return &d.Market
}

func (d *MarginDeposited) SourceSequence() int64 {
	return d.Sequence
}

func (d *MarginDeposited) EventTimestamp() int64 {
	return d.Timestamp
}
