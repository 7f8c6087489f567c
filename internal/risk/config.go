package risk

import (
	"fmt"
	"strings"
	"time"
)

// Config is the full set of policy parameters. It is replaced or merged
// wholesale between evaluations, never mutated mid-evaluation.
type Config struct {
	MinTradeAmountUSDC   float64
	MaxPositionSizeUSDC  float64
	MaxTotalExposureUSDC float64
	DailyLossLimitUSDC   float64

	MinTradeSpacing  time.Duration
	MaxTradesPerHour int
	MaxTradesPerDay  int

	// Percentage-point price movement tolerances (prices are in [0,1]).
	MaxSlippagePercent       float64
	MaxPriceDeviationPercent float64

	MinBalanceToKeepUSDC   float64
	MaxBalanceUsagePercent float64

	CopyRatioPercent float64

	StopLossPercent   float64
	TakeProfitPercent float64

	FreshnessCheck      bool
	MinMinutesRemaining float64
}

// Patch carries a partial configuration; nil fields are left untouched on
// merge.
type Patch struct {
	MinTradeAmountUSDC   *float64
	MaxPositionSizeUSDC  *float64
	MaxTotalExposureUSDC *float64
	DailyLossLimitUSDC   *float64

	MinTradeSpacing  *time.Duration
	MaxTradesPerHour *int
	MaxTradesPerDay  *int

	MaxSlippagePercent       *float64
	MaxPriceDeviationPercent *float64

	MinBalanceToKeepUSDC   *float64
	MaxBalanceUsagePercent *float64

	CopyRatioPercent *float64

	StopLossPercent   *float64
	TakeProfitPercent *float64

	FreshnessCheck      *bool
	MinMinutesRemaining *float64
}

// Apply merges the non-nil fields of p into cfg.
func (p Patch) Apply(cfg *Config) { p.apply(cfg) }

func (p Patch) apply(cfg *Config) {
	if p.MinTradeAmountUSDC != nil {
		cfg.MinTradeAmountUSDC = *p.MinTradeAmountUSDC
	}
	if p.MaxPositionSizeUSDC != nil {
		cfg.MaxPositionSizeUSDC = *p.MaxPositionSizeUSDC
	}
	if p.MaxTotalExposureUSDC != nil {
		cfg.MaxTotalExposureUSDC = *p.MaxTotalExposureUSDC
	}
	if p.DailyLossLimitUSDC != nil {
		cfg.DailyLossLimitUSDC = *p.DailyLossLimitUSDC
	}
	if p.MinTradeSpacing != nil {
		cfg.MinTradeSpacing = *p.MinTradeSpacing
	}
	if p.MaxTradesPerHour != nil {
		cfg.MaxTradesPerHour = *p.MaxTradesPerHour
	}
	if p.MaxTradesPerDay != nil {
		cfg.MaxTradesPerDay = *p.MaxTradesPerDay
	}
	if p.MaxSlippagePercent != nil {
		cfg.MaxSlippagePercent = *p.MaxSlippagePercent
	}
	if p.MaxPriceDeviationPercent != nil {
		cfg.MaxPriceDeviationPercent = *p.MaxPriceDeviationPercent
	}
	if p.MinBalanceToKeepUSDC != nil {
		cfg.MinBalanceToKeepUSDC = *p.MinBalanceToKeepUSDC
	}
	if p.MaxBalanceUsagePercent != nil {
		cfg.MaxBalanceUsagePercent = *p.MaxBalanceUsagePercent
	}
	if p.CopyRatioPercent != nil {
		cfg.CopyRatioPercent = *p.CopyRatioPercent
	}
	if p.StopLossPercent != nil {
		cfg.StopLossPercent = *p.StopLossPercent
	}
	if p.TakeProfitPercent != nil {
		cfg.TakeProfitPercent = *p.TakeProfitPercent
	}
	if p.FreshnessCheck != nil {
		cfg.FreshnessCheck = *p.FreshnessCheck
	}
	if p.MinMinutesRemaining != nil {
		cfg.MinMinutesRemaining = *p.MinMinutesRemaining
	}
}

// Conservative is the default profile: small clips, tight movement tolerances,
// hard daily brakes.
func Conservative() Config {
	return Config{
		MinTradeAmountUSDC:       1,
		MaxPositionSizeUSDC:      50,
		MaxTotalExposureUSDC:     500,
		DailyLossLimitUSDC:       50,
		MinTradeSpacing:          30 * time.Second,
		MaxTradesPerHour:         10,
		MaxTradesPerDay:          50,
		MaxSlippagePercent:       5,
		MaxPriceDeviationPercent: 10,
		MinBalanceToKeepUSDC:     10,
		MaxBalanceUsagePercent:   80,
		CopyRatioPercent:         10,
		StopLossPercent:          20,
		TakeProfitPercent:        50,
		FreshnessCheck:           true,
		MinMinutesRemaining:      10,
	}
}

// Aggressive mirrors a much larger share of the target's flow and tolerates
// wide price movement on short-horizon markets.
func Aggressive() Config {
	return Config{
		MinTradeAmountUSDC:       1,
		MaxPositionSizeUSDC:      500,
		MaxTotalExposureUSDC:     5000,
		DailyLossLimitUSDC:       500,
		MinTradeSpacing:          2 * time.Second,
		MaxTradesPerHour:         120,
		MaxTradesPerDay:          1000,
		MaxSlippagePercent:       20,
		MaxPriceDeviationPercent: 30,
		MinBalanceToKeepUSDC:     5,
		MaxBalanceUsagePercent:   95,
		CopyRatioPercent:         100,
		StopLossPercent:          40,
		TakeProfitPercent:        100,
		FreshnessCheck:           true,
		MinMinutesRemaining:      3,
	}
}

// Profile resolves a named preset.
func Profile(name string) (Config, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "conservative":
		return Conservative(), nil
	case "aggressive":
		return Aggressive(), nil
	default:
		return Config{}, fmt.Errorf("unknown risk profile %q (want conservative or aggressive)", name)
	}
}
