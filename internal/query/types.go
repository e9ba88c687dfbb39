package query

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// LiquidationRecord is one flag or liquidation from the history projection.
// Flags carry only the price and the flagger.
type LiquidationRecord struct {
	Sequence       int64           `json:"sequence"`
	EventType      string          `json:"event_type"`
	CommandRef     string          `json:"command_ref"`
	AccountID      uuid.UUID       `json:"account_id"`
	MarketID       string          `json:"market_id"`
	Keeper         string          `json:"keeper"`
	Flagger        string          `json:"flagger"`
	SizeLiquidated decimal.Decimal `json:"size_liquidated"`
	SizeRemaining  decimal.Decimal `json:"size_remaining"`
	LiqReward      decimal.Decimal `json:"liq_reward"`
	KeeperFee      decimal.Decimal `json:"keeper_fee"`
	Price          decimal.Decimal `json:"price"`
	Bypassed       bool            `json:"bypassed"`
	Timestamp      time.Time       `json:"timestamp"`
}

// LiquidationHistory is a page of records plus the projection watermark
type LiquidationHistory struct {
	Records      []LiquidationRecord `json:"records"`
	AsOfSequence int64               `json:"as_of_sequence"`
}

// KeeperEarnings aggregates what one keeper has been paid
type KeeperEarnings struct {
	Keeper       string          `json:"keeper"`
	LiqRewards   decimal.Decimal `json:"liq_rewards"`
	KeeperFees   decimal.Decimal `json:"keeper_fees"`
	Total        decimal.Decimal `json:"total"`
	Flags        int64           `json:"flags"`
	Liquidations int64           `json:"liquidations"`
	LastSequence int64           `json:"last_sequence"`
	AsOfSequence int64           `json:"as_of_sequence"`
}

// BalanceEntry is one projected ledger balance
type BalanceEntry struct {
	AccountPath  string          `json:"account_path"`
	Asset        string          `json:"asset"`
	Balance      decimal.Decimal `json:"balance"`
	LastSequence int64           `json:"last_sequence"`
}

// BalanceResponse lists the projected balances under one account prefix
type BalanceResponse struct {
	Owner        string         `json:"owner"`
	Balances     []BalanceEntry `json:"balances"`
	AsOfSequence int64          `json:"as_of_sequence"`
}

// JournalHistoryEntry represents a journal entry for API queries.
type JournalHistoryEntry struct {
	JournalID     string          `json:"journal_id"`
	BatchID       string          `json:"batch_id"`
	EventRef      string          `json:"event_ref"`
	Sequence      int64           `json:"sequence"`
	DebitAccount  string          `json:"debit_account"`
	CreditAccount string          `json:"credit_account"`
	Asset         string          `json:"asset"`
	Amount        decimal.Decimal `json:"amount"`
	JournalType   string          `json:"journal_type"`
	Timestamp     time.Time       `json:"timestamp"`
}

// IntegrityReport is the result of an integrity verification check.
type IntegrityReport struct {
	IsHealthy        bool              `json:"is_healthy"`
	HashChainBreaks  []int64           `json:"hash_chain_breaks,omitempty"`
	UnbalancedAssets []UnbalancedAsset `json:"unbalanced_assets,omitempty"`
}

// UnbalancedAsset represents an asset with non-zero global balance sum.
type UnbalancedAsset struct {
	Asset     string          `json:"asset"`
	Imbalance decimal.Decimal `json:"imbalance"`
}
