// internal/event/liquidation.go
package event

import (
	"fmt"

	"github.com/google/uuid"
)

// PositionFlaggedLiquidation is emitted when a keeper flags a position
type PositionFlaggedLiquidation struct {
	CommandRef string    `json:"command_ref"`
	AccountID  uuid.UUID `json:"account_id"`
	Market     string    `json:"market_id"`
	Flagger    string    `json:"flagger"`
	Price      int64     `json:"price"`
	Timestamp  int64     `json:"timestamp"`
}

func (p *PositionFlaggedLiquidation) IdempotencyKey() string {
	return fmt.Sprintf("%s:flagged", p.CommandRef)
}

func (p *PositionFlaggedLiquidation) EventType() EventType {
	return EventTypePositionFlaggedLiquidation
}

func (p *PositionFlaggedLiquidation) MarketID() *string {
	return &p.Market
}

func (p *PositionFlaggedLiquidation) SourceSequence() int64 {
	return 0
}

func (p *PositionFlaggedLiquidation) EventTimestamp() int64 {
	return p.Timestamp
}

// OrderCanceled is emitted when flagging removes a pending order
type OrderCanceled struct {
	CommandRef     string    `json:"command_ref"`
	AccountID      uuid.UUID `json:"account_id"`
	Market         string    `json:"market_id"`
	CommitmentTime int64     `json:"commitment_time"`
	Timestamp      int64     `json:"timestamp"`
}

func (o *OrderCanceled) IdempotencyKey() string {
	return fmt.Sprintf("%s:order_canceled", o.CommandRef)
}

func (o *OrderCanceled) EventType() EventType {
	return EventTypeOrderCanceled
}

func (o *OrderCanceled) MarketID() *string {
	return &o.Market
}

func (o *OrderCanceled) SourceSequence() int64 {
	return 0
}

func (o *OrderCanceled) EventTimestamp() int64 {
	return o.Timestamp
}

// CollateralSold is emitted per non-cash asset converted at flag time
type CollateralSold struct {
	CommandRef   string    `json:"command_ref"`
	AccountID    uuid.UUID `json:"account_id"`
	Market       string    `json:"market_id"`
	Asset        string    `json:"asset"`
	Amount       int64     `json:"amount"`
	Price        int64     `json:"price"`
	CashCredited int64     `json:"cash_credited"`
	Timestamp    int64     `json:"timestamp"`
}

func (c *CollateralSold) IdempotencyKey() string {
	return fmt.Sprintf("%s:sold:%s", c.CommandRef, c.Asset)
}

func (c *CollateralSold) EventType() EventType {
	return EventTypeCollateralSold
}

func (c *CollateralSold) MarketID() *string {
	return &c.Market
}

func (c *CollateralSold) SourceSequence() int64 {
	return 0
}

func (c *CollateralSold) EventTimestamp() int64 {
	return c.Timestamp
}

// PositionLiquidated is emitted once per liquidate call
type PositionLiquidated struct {
	CommandRef     string    `json:"command_ref"`
	AccountID      uuid.UUID `json:"account_id"`
	Market         string    `json:"market_id"`
	SizeLiquidated int64     `json:"size_liquidated"`
	SizeRemaining  int64     `json:"size_remaining"` // Signed, 0 when fully closed
	Flagger        string    `json:"flagger"`
	Liquidator     string    `json:"liquidator"`
	LiqReward      int64     `json:"liq_reward"`
	KeeperFee      int64     `json:"keeper_fee"`
	Price          int64     `json:"price"`
	Bypassed       bool      `json:"bypassed"` // Endorsed keeper exceeded remaining capacity
	Timestamp      int64     `json:"timestamp"`
}

func (p *PositionLiquidated) IdempotencyKey() string {
	return fmt.Sprintf("%s:liquidated", p.CommandRef)
}

func (p *PositionLiquidated) EventType() EventType {
	return EventTypePositionLiquidated
}

func (p *PositionLiquidated) MarketID() *string {
	return &p.Market
}

func (p *PositionLiquidated) SourceSequence() int64 {
	return 0
}

func (p *PositionLiquidated) EventTimestamp() int64 {
	return p.Timestamp
}

// IsFullClose reports whether the call closed the position
func (p *PositionLiquidated) IsFullClose() bool {
	return p.SizeRemaining == 0
}
