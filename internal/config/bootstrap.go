package config

import (
	"PerpLiquidator/internal/core"
	"PerpLiquidator/internal/event"
	fpmath "PerpLiquidator/internal/math"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Bootstrap is the YAML file that seeds markets, endorsed keepers and fee
// tiers at start-up. Amounts are human decimals ("0.0005", "2").
type Bootstrap struct {
	Markets         []MarketSpec  `yaml:"markets"`
	EndorsedKeepers []string      `yaml:"endorsed_keepers"`
	FeeTiers        []FeeTierSpec `yaml:"fee_tiers"`
}

type MarketSpec struct {
	ID                        string          `yaml:"id"`
	Version                   int64           `yaml:"version"`
	MakerFee                  decimal.Decimal `yaml:"maker_fee"`
	TakerFee                  decimal.Decimal `yaml:"taker_fee"`
	SkewScale                 decimal.Decimal `yaml:"skew_scale"`
	LiquidationLimitScalar    decimal.Decimal `yaml:"liquidation_limit_scalar"`
	LiquidationWindow         time.Duration   `yaml:"liquidation_window"`
	LiquidationRewardPercent  decimal.Decimal `yaml:"liquidation_reward_percent"`
	MinKeeperFee              decimal.Decimal `yaml:"min_keeper_fee"`
	MaxKeeperFee              decimal.Decimal `yaml:"max_keeper_fee"`
	BaseKeeperFee             decimal.Decimal `yaml:"base_keeper_fee"`
	KeeperProfitMargin        decimal.Decimal `yaml:"keeper_profit_margin"`
	LiquidationMaxPd          decimal.Decimal `yaml:"liquidation_max_pd"`
	MaintenanceMarginFraction decimal.Decimal `yaml:"maintenance_margin_fraction"`
	MaxFundingRate            decimal.Decimal `yaml:"max_funding_rate"`
}

// UnmarshalYAML fills the optional parameters with the market defaults
// before decoding, so absent keys take the default and explicit zeros stay.
func (m *MarketSpec) UnmarshalYAML(value *yaml.Node) error {
	d := core.DefaultMarketConfigured("")
	*m = MarketSpec{
		LiquidationLimitScalar:    fromFixed(d.LiquidationLimitScalar, fpmath.RateConfig),
		LiquidationWindow:         time.Duration(d.LiquidationWindowSeconds) * time.Second,
		LiquidationRewardPercent:  fromFixed(d.LiquidationRewardPercent, fpmath.RateConfig),
		MinKeeperFee:              fromFixed(d.MinKeeperFee, fpmath.QuoteConfig),
		MaxKeeperFee:              fromFixed(d.MaxKeeperFee, fpmath.QuoteConfig),
		BaseKeeperFee:             fromFixed(d.BaseKeeperFee, fpmath.QuoteConfig),
		KeeperProfitMargin:        fromFixed(d.KeeperProfitMargin, fpmath.RateConfig),
		LiquidationMaxPd:          fromFixed(d.LiquidationMaxPd, fpmath.RateConfig),
		MaintenanceMarginFraction: fromFixed(d.MaintenanceMarginFraction, fpmath.RateConfig),
		MaxFundingRate:            fromFixed(d.MaxFundingRate, fpmath.RateConfig),
	}
	type plain MarketSpec
	return value.Decode((*plain)(m))
}

func fromFixed(v int64, cfg fpmath.DecimalConfig) decimal.Decimal {
	return decimal.New(v, -int32(cfg.DecimalPrecision))
}

type FeeTierSpec struct {
	ID            uint8 `yaml:"id"`
	MakerDiscount int64 `yaml:"maker_discount_bps"`
	TakerDiscount int64 `yaml:"taker_discount_bps"`
}

// LoadBootstrap reads and validates a bootstrap file
func LoadBootstrap(path string) (*Bootstrap, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read bootstrap: %w", err)
	}
	return ParseBootstrap(data)
}

// ParseBootstrap decodes and validates bootstrap YAML
func ParseBootstrap(data []byte) (*Bootstrap, error) {
	var b Bootstrap
	if err := yaml.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("parse bootstrap: %w", err)
	}
	if _, err := b.Events(); err != nil {
		return nil, err
	}
	return &b, nil
}

// ToFixed converts a decimal to fixed point at cfg's precision. Values with
// more decimal places than the scale allows are rejected, not rounded.
func ToFixed(d decimal.Decimal, cfg fpmath.DecimalConfig) (int64, error) {
	shifted := d.Shift(int32(cfg.DecimalPrecision))
	if !shifted.IsInteger() {
		return 0, fmt.Errorf("%s has more than %d decimal places", d, cfg.DecimalPrecision)
	}
	if shifted.GreaterThan(decimal.NewFromInt(math.MaxInt64)) || shifted.LessThan(decimal.NewFromInt(math.MinInt64)) {
		return 0, fmt.Errorf("%s overflows fixed point", d)
	}
	return shifted.IntPart(), nil
}

type fixedField struct {
	name string
	src  decimal.Decimal
	cfg  fpmath.DecimalConfig
	dst  *int64
}

// Event converts the market entry into a MarketConfigured event, validated the way
// the engine will validate it.
func (m MarketSpec) Event() (*event.MarketConfigured, error) {
	version := m.Version
	if version == 0 {
		version = 1
	}
	ev := &event.MarketConfigured{
		Market:                   m.ID,
		LiquidationWindowSeconds: int64(m.LiquidationWindow / time.Second),
		Version:                  version,
	}

	fields := []fixedField{
		{"maker_fee", m.MakerFee, fpmath.RateConfig, &ev.MakerFee},
		{"taker_fee", m.TakerFee, fpmath.RateConfig, &ev.TakerFee},
		{"skew_scale", m.SkewScale, fpmath.QuantityConfig, &ev.SkewScale},
		{"liquidation_limit_scalar", m.LiquidationLimitScalar, fpmath.RateConfig, &ev.LiquidationLimitScalar},
		{"liquidation_reward_percent", m.LiquidationRewardPercent, fpmath.RateConfig, &ev.LiquidationRewardPercent},
		{"min_keeper_fee", m.MinKeeperFee, fpmath.QuoteConfig, &ev.MinKeeperFee},
		{"max_keeper_fee", m.MaxKeeperFee, fpmath.QuoteConfig, &ev.MaxKeeperFee},
		{"base_keeper_fee", m.BaseKeeperFee, fpmath.QuoteConfig, &ev.BaseKeeperFee},
		{"keeper_profit_margin", m.KeeperProfitMargin, fpmath.RateConfig, &ev.KeeperProfitMargin},
		{"liquidation_max_pd", m.LiquidationMaxPd, fpmath.RateConfig, &ev.LiquidationMaxPd},
		{"maintenance_margin_fraction", m.MaintenanceMarginFraction, fpmath.RateConfig, &ev.MaintenanceMarginFraction},
		{"max_funding_rate", m.MaxFundingRate, fpmath.RateConfig, &ev.MaxFundingRate},
	}
	for _, f := range fields {
		v, err := ToFixed(f.src, f.cfg)
		if err != nil {
			return nil, fmt.Errorf("market %s: %s: %w", m.ID, f.name, err)
		}
		*f.dst = v
	}

	cfg := core.MarketConfigFromEvent(ev)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return ev, nil
}

// Events returns the input events that seed the engine. Timestamps are zero
// so the idempotency keys are stable across restarts and reapplying the
// same file is a no-op.
func (b *Bootstrap) Events() ([]event.Event, error) {
	var events []event.Event
	seen := make(map[string]bool, len(b.Markets))

	for _, m := range b.Markets {
		if seen[m.ID] {
			return nil, fmt.Errorf("market %s configured twice", m.ID)
		}
		seen[m.ID] = true
		ev, err := m.Event()
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}

	for _, t := range b.FeeTiers {
		if t.MakerDiscount < 0 || t.MakerDiscount > fpmath.BpsDenominator ||
			t.TakerDiscount < 0 || t.TakerDiscount > fpmath.BpsDenominator {
			return nil, fmt.Errorf("fee tier %d: discounts must be within [0, %d] bps", t.ID, fpmath.BpsDenominator)
		}
		events = append(events, &event.FeeTierSet{
			TierID:        t.ID,
			MakerDiscount: t.MakerDiscount,
			TakerDiscount: t.TakerDiscount,
		})
	}

	for _, addr := range b.EndorsedKeepers {
		if addr == "" {
			return nil, fmt.Errorf("endorsed keeper address is empty")
		}
		events = append(events, &event.KeeperEndorsementUpdated{Address: addr, Endorsed: true})
	}

	return events, nil
}
