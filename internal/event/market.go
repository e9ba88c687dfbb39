// internal/event/market.go
package event

import "fmt"

// MarketConfigured creates or updates a market's liquidation parameters.
// Rates are rate scale (1e8), sizes quantity scale, fees quote scale.
type MarketConfigured struct {
	Market                    string `json:"market_id"`
	MakerFee                  int64  `json:"maker_fee"`
	TakerFee                  int64  `json:"taker_fee"`
	SkewScale                 int64  `json:"skew_scale"`
	LiquidationLimitScalar    int64  `json:"liquidation_limit_scalar"`
	LiquidationWindowSeconds  int64  `json:"liquidation_window_seconds"`
	LiquidationRewardPercent  int64  `json:"liquidation_reward_percent"`
	MinKeeperFee              int64  `json:"min_keeper_fee"`
	MaxKeeperFee              int64  `json:"max_keeper_fee"`
	BaseKeeperFee             int64  `json:"base_keeper_fee"`
	KeeperProfitMargin        int64  `json:"keeper_profit_margin"`
	LiquidationMaxPd          int64  `json:"liquidation_max_pd"`
	MaintenanceMarginFraction int64  `json:"maintenance_margin_fraction"`
	MaxFundingRate            int64  `json:"max_funding_rate"`
	Version                   int64  `json:"version"` // Monotonic per market; also the idempotency discriminator
	Timestamp                 int64  `json:"timestamp"`
}

func (m *MarketConfigured) IdempotencyKey() string {
	return fmt.Sprintf("%s:config:%d", m.Market, m.Version)
}

func (m *MarketConfigured) EventType() EventType {
	return EventTypeMarketConfigured
}

func (m *MarketConfigured) MarketID() *string {
	return &m.Market
}

func (m *MarketConfigured) SourceSequence() int64 {
	return 0
}

func (m *MarketConfigured) EventTimestamp() int64 {
	return m.Timestamp
}

// PriceUpdated is an oracle price for a market or a collateral asset
type PriceUpdated struct {
	Market         string `json:"market_id"`       // Market id or collateral asset name
	Price          int64  `json:"price"`           // Fixed-point: price scale
	PriceSequence  int64  `json:"price_sequence"`  // Monotonic per market, gaps tolerated
	PriceTimestamp int64  `json:"price_timestamp"` // Epoch microseconds (versioned input)
}

func (p *PriceUpdated) IdempotencyKey() string {
	return fmt.Sprintf("%s:price:%d", p.Market, p.PriceSequence)
}

func (p *PriceUpdated) EventType() EventType {
	return EventTypePriceUpdated
}

func (p *PriceUpdated) MarketID() *string {
	return &p.Market
}

func (p *PriceUpdated) SourceSequence() int64 {
	return p.PriceSequence
}

func (p *PriceUpdated) EventTimestamp() int64 {
	return p.PriceTimestamp
}
