// Package config loads and hot-reloads the mirror's YAML configuration.
// Wallet identity is validated up front; risk overrides are merged onto a
// named profile and pushed to the engine on file change.
package config

import (
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/Tuntii/polymarket-copy-trading-bot-v1/internal/risk"
)

// RiskSettings selects a profile and optionally overrides individual knobs.
// Pointer fields distinguish "not set" from zero.
type RiskSettings struct {
	Profile string `mapstructure:"profile"`

	MinTradeAmountUSDC   *float64 `mapstructure:"min_trade_amount_usdc"`
	MaxPositionSizeUSDC  *float64 `mapstructure:"max_position_size_usdc"`
	MaxTotalExposureUSDC *float64 `mapstructure:"max_total_exposure_usdc"`
	DailyLossLimitUSDC   *float64 `mapstructure:"daily_loss_limit_usdc"`

	MinTradeSpacing  *time.Duration `mapstructure:"min_trade_spacing"`
	MaxTradesPerHour *int           `mapstructure:"max_trades_per_hour"`
	MaxTradesPerDay  *int           `mapstructure:"max_trades_per_day"`

	MaxSlippagePercent       *float64 `mapstructure:"max_slippage_percent"`
	MaxPriceDeviationPercent *float64 `mapstructure:"max_price_deviation_percent"`

	MinBalanceToKeepUSDC   *float64 `mapstructure:"min_balance_to_keep_usdc"`
	MaxBalanceUsagePercent *float64 `mapstructure:"max_balance_usage_percent"`

	CopyRatioPercent *float64 `mapstructure:"copy_ratio_percent"`

	StopLossPercent   *float64 `mapstructure:"stop_loss_percent"`
	TakeProfitPercent *float64 `mapstructure:"take_profit_percent"`

	FreshnessCheck      *bool    `mapstructure:"freshness_check"`
	MinMinutesRemaining *float64 `mapstructure:"min_minutes_remaining"`
}

// Config is the full file surface.
type Config struct {
	TargetWallet string `mapstructure:"target_wallet"`
	ProxyWallet  string `mapstructure:"proxy_wallet"`

	TradingEnabled bool   `mapstructure:"trading_enabled"`
	PollMode       string `mapstructure:"poll_mode"` // "fast" or "slow"

	PollInterval     time.Duration `mapstructure:"poll_interval"`
	PositionInterval time.Duration `mapstructure:"position_interval"`
	StalenessCutoff  time.Duration `mapstructure:"staleness_cutoff"`

	RetryCeiling  int `mapstructure:"retry_ceiling"`
	ActivityLimit int `mapstructure:"activity_limit"`

	DatabasePath string `mapstructure:"database_path"`
	AuditLogPath string `mapstructure:"audit_log_path"`

	ClobURL       string `mapstructure:"clob_url"`
	DataAPIURL    string `mapstructure:"data_api_url"`
	RTDSURL       string `mapstructure:"rtds_url"`
	StreamEnabled bool   `mapstructure:"stream_enabled"`

	ChainID       int64 `mapstructure:"chain_id"`
	SignatureType int   `mapstructure:"signature_type"`

	Risk RiskSettings `mapstructure:"risk"`
}

func (c *Config) applyDefaults() {
	if c.PollMode == "" {
		c.PollMode = "fast"
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 2 * time.Second
	}
	if c.PositionInterval <= 0 {
		c.PositionInterval = 30 * time.Second
	}
	if c.StalenessCutoff <= 0 {
		c.StalenessCutoff = 5 * time.Minute
	}
	if c.RetryCeiling <= 0 {
		c.RetryCeiling = 3
	}
	if c.ActivityLimit <= 0 {
		c.ActivityLimit = 100
	}
	if c.DatabasePath == "" {
		c.DatabasePath = "data/mirror.db"
	}
	if c.ChainID == 0 {
		c.ChainID = 137 // Polygon mainnet
	}
}

func validate(c *Config) error {
	if !common.IsHexAddress(c.TargetWallet) {
		return fmt.Errorf("config: target_wallet must be a hex address, got %q", c.TargetWallet)
	}
	if !common.IsHexAddress(c.ProxyWallet) {
		return fmt.Errorf("config: proxy_wallet must be a hex address, got %q", c.ProxyWallet)
	}
	if strings.EqualFold(c.TargetWallet, c.ProxyWallet) {
		return fmt.Errorf("config: target_wallet and proxy_wallet must differ")
	}
	switch strings.ToLower(c.PollMode) {
	case "fast", "slow":
	default:
		return fmt.Errorf("config: poll_mode must be fast or slow, got %q", c.PollMode)
	}
	if _, err := c.Risk.Resolve(); err != nil {
		return err
	}
	return nil
}

// Resolve merges the overrides onto the named profile.
func (r RiskSettings) Resolve() (risk.Config, error) {
	base, err := risk.Profile(r.Profile)
	if err != nil {
		return risk.Config{}, fmt.Errorf("config: %w", err)
	}
	patched := base
	r.Patch().Apply(&patched)
	return patched, nil
}

// Patch converts the override fields for Engine.UpdateConfig.
func (r RiskSettings) Patch() risk.Patch {
	return risk.Patch{
		MinTradeAmountUSDC:       r.MinTradeAmountUSDC,
		MaxPositionSizeUSDC:      r.MaxPositionSizeUSDC,
		MaxTotalExposureUSDC:     r.MaxTotalExposureUSDC,
		DailyLossLimitUSDC:       r.DailyLossLimitUSDC,
		MinTradeSpacing:          r.MinTradeSpacing,
		MaxTradesPerHour:         r.MaxTradesPerHour,
		MaxTradesPerDay:          r.MaxTradesPerDay,
		MaxSlippagePercent:       r.MaxSlippagePercent,
		MaxPriceDeviationPercent: r.MaxPriceDeviationPercent,
		MinBalanceToKeepUSDC:     r.MinBalanceToKeepUSDC,
		MaxBalanceUsagePercent:   r.MaxBalanceUsagePercent,
		CopyRatioPercent:         r.CopyRatioPercent,
		StopLossPercent:          r.StopLossPercent,
		TakeProfitPercent:        r.TakeProfitPercent,
		FreshnessCheck:           r.FreshnessCheck,
		MinMinutesRemaining:      r.MinMinutesRemaining,
	}
}

// Loader owns the viper instance so the file can be watched after Load.
type Loader struct {
	path string
	v    *viper.Viper

	mu  sync.Mutex
	cfg Config
}

// Load reads and validates the configuration at path.
func Load(path string) (*Loader, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("config: path required")
	}
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	l := &Loader{path: path, v: v}
	cfg, err := l.decode()
	if err != nil {
		return nil, err
	}
	l.cfg = cfg
	return l, nil
}

func (l *Loader) decode() (Config, error) {
	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", l.path, err)
	}
	cfg.applyDefaults()
	if err := validate(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Config returns the current snapshot.
func (l *Loader) Config() Config {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cfg
}

// Watch re-reads the file on change and invokes onReload with the new
// snapshot. Invalid edits are logged and discarded; the previous
// configuration stays active.
func (l *Loader) Watch(onReload func(Config)) {
	l.v.OnConfigChange(func(_ fsnotify.Event) {
		cfg, err := l.decode()
		if err != nil {
			log.Printf("[warn] config reload rejected: %v", err)
			return
		}
		l.mu.Lock()
		l.cfg = cfg
		l.mu.Unlock()
		log.Printf("[info] config reloaded from %s", l.path)
		if onReload != nil {
			onReload(cfg)
		}
	})
	l.v.WatchConfig()
}
