package event

import "fmt"

// FundingRecomputed is emitted when a closing liquidation changes market skew
type FundingRecomputed struct {
	CommandRef         string `json:"command_ref"`
	Market             string `json:"market_id"`
	Skew               int64  `json:"skew"`
	FundingRate        int64  `json:"funding_rate"`         // Rate scale, per day
	AccruedFundingUnit int64  `json:"accrued_funding_unit"` // Quote scale per unit of size
	Timestamp          int64  `json:"timestamp"`
}

func (f *FundingRecomputed) IdempotencyKey() string {
	return fmt.Sprintf("%s:funding", f.CommandRef)
}

func (f *FundingRecomputed) EventType() EventType {
	return EventTypeFundingRecomputed
}

func (f *FundingRecomputed) MarketID() *string {
	return &f.Market
}

func (f *FundingRecomputed) SourceSequence() int64 {
	return 0
}

func (f *FundingRecomputed) EventTimestamp() int64 {
	return f.Timestamp
}
