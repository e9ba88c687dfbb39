package state

import (
	fpmath "PerpLiquidator/internal/math"
	"fmt"
	"sort"
	"time"
)

// MarketConfig holds the liquidation and fee parameters of one market.
// Rates use the rate scale (1e8 = 1.0), keeper fee bounds the quote scale,
// skew scale the quantity scale.
type MarketConfig struct {
	MarketID string

	MakerFee               int64
	TakerFee               int64
	SkewScale              int64
	LiquidationLimitScalar int64
	LiquidationWindow      time.Duration

	LiquidationRewardPercent int64
	MinKeeperFee             int64
	MaxKeeperFee             int64
	BaseKeeperFee            int64
	KeeperProfitMargin       int64
	LiquidationMaxPd         int64

	MaintenanceMarginFraction int64
	MaxFundingRate            int64

	Version int64
}

var (
	DefaultLiquidationWindow = 30 * time.Second

	// Defaults for the optional parameters of a market. They are applied
	// where a configuration is decoded and a key is absent; an explicit zero
	// is a valid setting and is kept.
	DefaultMarketParams = MarketConfig{
		LiquidationLimitScalar:    fpmath.RateConfig.Scale,        // 1.0
		LiquidationWindow:         DefaultLiquidationWindow,       // 30s
		LiquidationRewardPercent:  10_000,                         // 0.0001
		MinKeeperFee:              1 * fpmath.QuoteConfig.Scale,   // 1 USD
		MaxKeeperFee:              100 * fpmath.QuoteConfig.Scale, // 100 USD
		BaseKeeperFee:             2 * fpmath.QuoteConfig.Scale,   // 2 USD
		KeeperProfitMargin:        20_000_000,                     // 0.2
		LiquidationMaxPd:          0,
		MaintenanceMarginFraction: 5_000_000, // 0.05
	}
)

// DefaultMarketConfig returns the default parameters for a market. Fees and
// skew scale have no defaults and stay zero.
func DefaultMarketConfig(marketID string) MarketConfig {
	cfg := DefaultMarketParams
	cfg.MarketID = marketID
	return cfg
}

// Validate checks the configuration is usable
func (mc *MarketConfig) Validate() error {
	if mc.MarketID == "" {
		return fmt.Errorf("market id is required")
	}
	if mc.SkewScale <= 0 {
		return fmt.Errorf("market %s: skew scale must be positive, got %d", mc.MarketID, mc.SkewScale)
	}
	if mc.MakerFee < 0 || mc.TakerFee < 0 {
		return fmt.Errorf("market %s: fees must be non-negative", mc.MarketID)
	}
	if mc.LiquidationLimitScalar < 0 {
		return fmt.Errorf("market %s: liquidation limit scalar must be non-negative", mc.MarketID)
	}
	if mc.LiquidationWindow <= 0 {
		return fmt.Errorf("market %s: liquidation window must be positive", mc.MarketID)
	}
	if mc.MinKeeperFee < 0 || mc.MaxKeeperFee < mc.MinKeeperFee {
		return fmt.Errorf("market %s: invalid keeper fee bounds [%d, %d]",
			mc.MarketID, mc.MinKeeperFee, mc.MaxKeeperFee)
	}
	if mc.LiquidationRewardPercent < 0 || mc.BaseKeeperFee < 0 || mc.KeeperProfitMargin < 0 {
		return fmt.Errorf("market %s: keeper incentives must be non-negative", mc.MarketID)
	}
	if mc.LiquidationMaxPd < 0 {
		return fmt.Errorf("market %s: liquidation max pd must be non-negative", mc.MarketID)
	}
	if mc.MaintenanceMarginFraction < 0 || mc.MaxFundingRate < 0 {
		return fmt.Errorf("market %s: margin and funding parameters must be non-negative", mc.MarketID)
	}
	return nil
}

// MaxLiquidatableCapacity returns the per-window size cap of the market
func (mc *MarketConfig) MaxLiquidatableCapacity() int64 {
	return fpmath.MaxLiquidatableCapacity(mc.MakerFee, mc.TakerFee, mc.SkewScale, mc.LiquidationLimitScalar)
}

// WindowMicros returns the window duration in microseconds
func (mc *MarketConfig) WindowMicros() int64 {
	return mc.LiquidationWindow.Microseconds()
}

// MarketConfigStore manages market configurations
type MarketConfigStore struct {
	configs map[string]*MarketConfig
}

func NewMarketConfigStore() *MarketConfigStore {
	return &MarketConfigStore{
		configs: make(map[string]*MarketConfig),
	}
}

func (s *MarketConfigStore) Get(marketID string) (*MarketConfig, bool) {
	cfg, ok := s.configs[marketID]
	return cfg, ok
}

// Put validates and installs a configuration. Older versions are ignored.
func (s *MarketConfigStore) Put(cfg MarketConfig) (bool, error) {
	if err := cfg.Validate(); err != nil {
		return false, err
	}
	if existing, ok := s.configs[cfg.MarketID]; ok && cfg.Version != 0 && cfg.Version <= existing.Version {
		return false, nil
	}
	c := cfg
	s.configs[cfg.MarketID] = &c
	return true, nil
}

// MarketIDs returns configured markets in sorted order
func (s *MarketConfigStore) MarketIDs() []string {
	ids := make([]string, 0, len(s.configs))
	for id := range s.configs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// All returns configurations sorted by market
func (s *MarketConfigStore) All() []*MarketConfig {
	result := make([]*MarketConfig, 0, len(s.configs))
	for _, id := range s.MarketIDs() {
		result = append(result, s.configs[id])
	}
	return result
}
