package server

import (
	"PerpLiquidator/internal/query"

	"github.com/shopspring/decimal"
)

// ============================================================================
// LiquidationService messages
// ============================================================================

type FlagPositionRequest struct {
	CommandID string `json:"command_id"`
	AccountID string `json:"account_id"`
	MarketID  string `json:"market_id"`
	Keeper    string `json:"keeper"`
}

type CollateralSale struct {
	Asset        string          `json:"asset"`
	Amount       decimal.Decimal `json:"amount"`
	Price        decimal.Decimal `json:"price"`
	CashCredited decimal.Decimal `json:"cash_credited"`
}

type FlagPositionResponse struct {
	AccountID      string           `json:"account_id"`
	MarketID       string           `json:"market_id"`
	Flagger        string           `json:"flagger"`
	Price          decimal.Decimal  `json:"price"`
	HealthFactor   decimal.Decimal  `json:"health_factor"`
	OrderCanceled  bool             `json:"order_canceled"`
	CollateralSold []CollateralSale `json:"collateral_sold,omitempty"`
}

type LiquidatePositionRequest struct {
	CommandID string `json:"command_id"`
	AccountID string `json:"account_id"`
	MarketID  string `json:"market_id"`
	Keeper    string `json:"keeper"`
}

type LiquidatePositionResponse struct {
	AccountID      string             `json:"account_id"`
	MarketID       string             `json:"market_id"`
	SizeLiquidated decimal.Decimal    `json:"size_liquidated"`
	SizeRemaining  decimal.Decimal    `json:"size_remaining"`
	LiqReward      decimal.Decimal    `json:"liq_reward"`
	KeeperFee      decimal.Decimal    `json:"keeper_fee"`
	Price          decimal.Decimal    `json:"price"`
	Bypassed       bool               `json:"bypassed"`
	Closed         bool               `json:"closed"`
	FundingRate    *decimal.Decimal   `json:"funding_rate,omitempty"`
	Capacity       query.CapacityView `json:"capacity"`
}

type PositionRequest struct {
	AccountID string `json:"account_id"`
	MarketID  string `json:"market_id"`
}

type MarketRequest struct {
	MarketID string `json:"market_id"`
}

// FeeTierRequest looks a tier up by account (current assignment) or by id
type FeeTierRequest struct {
	AccountID string `json:"account_id,omitempty"`
	TierID    uint8  `json:"tier_id,omitempty"`
}

type FeeTierResponse struct {
	AccountID string            `json:"account_id,omitempty"`
	Tier      query.FeeTierView `json:"tier"`
}

type ComputeOrderFeesRequest struct {
	MarketID  string          `json:"market_id"`
	AccountID string          `json:"account_id,omitempty"`
	TierID    uint8           `json:"tier_id,omitempty"`
	SizeDelta decimal.Decimal `json:"size_delta"`
	Price     decimal.Decimal `json:"price"` // zero uses the oracle price
}

type ComputeOrderFeesResponse struct {
	MarketID string          `json:"market_id"`
	TierID   uint8           `json:"tier_id"`
	Fee      decimal.Decimal `json:"fee"`
}

type ListFlaggedPositionsRequest struct {
	MarketID string `json:"market_id,omitempty"`
	Limit    int    `json:"limit,omitempty"`
}

type ListFlaggedPositionsResponse struct {
	Flags []query.FlagView `json:"flags"`
}

type LiquidationHistoryRequest struct {
	AccountID      string `json:"account_id,omitempty"`
	MarketID       string `json:"market_id,omitempty"`
	Keeper         string `json:"keeper,omitempty"`
	BeforeSequence int64  `json:"before_sequence,omitempty"`
	Limit          int    `json:"limit,omitempty"`
}

type KeeperRequest struct {
	Keeper string `json:"keeper"`
}

// BalancesRequest selects either an account's margin or a keeper's payouts
type BalancesRequest struct {
	AccountID string `json:"account_id,omitempty"`
	Keeper    string `json:"keeper,omitempty"`
}

// ============================================================================
// AdminService messages
// ============================================================================

type Empty struct{}

type TakeSnapshotResponse struct {
	Sequence int64 `json:"sequence"`
}

type RebuildProjectionsResponse struct {
	Rebuilt bool `json:"rebuilt"`
}

type EventLogInfoResponse struct {
	LastPersistedSequence int64  `json:"last_persisted_sequence"`
	EngineSequence        int64  `json:"engine_sequence"`
	StateHash             string `json:"state_hash"`
}

type InjectPriceRequest struct {
	MarketID      string          `json:"market_id"`
	Price         decimal.Decimal `json:"price"`
	PriceSequence int64           `json:"price_sequence"`
}

type SetKeeperEndorsementRequest struct {
	Address  string `json:"address"`
	Endorsed bool   `json:"endorsed"`
}

type Ack struct {
	Accepted bool `json:"accepted"`
}

type InjectDepositRequest struct {
	AccountID string          `json:"account_id"`
	MarketID  string          `json:"market_id"`
	Asset     string          `json:"asset"`
	Amount    decimal.Decimal `json:"amount"`
}
