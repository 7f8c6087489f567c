// Package risk gates observed trades through an ordered chain of policy
// checks and adjusts the replicated amount before execution.
package risk

import (
	"context"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"github.com/Tuntii/polymarket-copy-trading-bot-v1/internal/markettime"
)

type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// BalanceSource reports the executing account's available collateral in USDC.
type BalanceSource interface {
	Balance(ctx context.Context) (float64, error)
}

// ExposureSource reports the summed current value of the executing account's
// open positions in USDC.
type ExposureSource interface {
	TotalExposure(ctx context.Context) (float64, error)
}

// Request describes one observed trade to be evaluated.
type Request struct {
	Side          Side
	AmountUSDC    float64
	CurrentPrice  float64
	OriginalPrice float64
	Market        string // conditionId
	Title         string
}

// Decision is the verdict for one Request. Reason identifies the first check
// that failed; AdjustedAmount is the notional to replicate when Allowed.
type Decision struct {
	Allowed        bool
	AdjustedAmount float64
	Reason         string
}

// Engine evaluates requests against the active Config and rolling Stats.
// Safe for concurrent use: the poller, executor and position watcher all hold
// a reference to the same instance.
type Engine struct {
	mu      sync.Mutex
	cfg     Config
	stats   rollingStats
	balance BalanceSource
	expo    ExposureSource

	// Last-known collaborator values, used when a refresh fails.
	lastBalance  float64
	hasBalance   bool
	lastExposure float64
	hasExposure  bool

	now func() time.Time
}

func NewEngine(cfg Config, balance BalanceSource, exposure ExposureSource) *Engine {
	return &Engine{
		cfg:     cfg,
		balance: balance,
		expo:    exposure,
		now:     time.Now,
	}
}

// Config returns a copy of the active configuration.
func (e *Engine) Config() Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg
}

// UpdateConfig merges the non-nil fields of patch into the active
// configuration. Takes effect on the next evaluation.
func (e *Engine) UpdateConfig(patch Patch) {
	e.mu.Lock()
	defer e.mu.Unlock()
	patch.apply(&e.cfg)
}

// ReplaceConfig swaps the entire configuration, used on config file reload.
// Rolling stats are kept; an evaluation in progress is unaffected.
func (e *Engine) ReplaceConfig(cfg Config) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cfg = cfg
}

func reject(reason string) Decision {
	return Decision{Allowed: false, Reason: reason}
}

// Evaluate runs the check chain against req. The chain short-circuits on the
// first failing check. A non-nil error means a collaborator could not be
// consulted at all (no cached value either); callers treat that as transient
// and retry, unlike a rejection which is terminal.
func (e *Engine) Evaluate(ctx context.Context, req Request) (Decision, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	cfg := e.cfg
	now := e.now()
	amount := req.AmountUSDC

	// 1. Effectively resolved markets have nothing left to copy.
	if req.CurrentPrice >= 0.999 || req.CurrentPrice <= 0.001 {
		return reject(fmt.Sprintf("market effectively resolved (price=%.4f)", req.CurrentPrice)), nil
	}

	// 2. Freshness: only applies when the title encodes a trading window.
	if cfg.FreshnessCheck {
		if w, ok := markettime.Remaining(req.Title, now); ok && w.MinutesRemaining < cfg.MinMinutesRemaining {
			return reject(fmt.Sprintf("market closes in %.1f min (floor %.0f, ends %s)", w.MinutesRemaining, cfg.MinMinutesRemaining, w.End)), nil
		}
	}

	// 3. Minimum notional.
	if amount < cfg.MinTradeAmountUSDC {
		return reject(fmt.Sprintf("amount $%.2f below minimum $%.2f", amount, cfg.MinTradeAmountUSDC)), nil
	}

	// 4. Per-trade ceiling caps, never rejects.
	if amount > cfg.MaxPositionSizeUSDC {
		amount = cfg.MaxPositionSizeUSDC
	}

	// 5. Daily loss limit.
	if e.stats.dailyPnl <= -cfg.DailyLossLimitUSDC {
		return reject(fmt.Sprintf("daily loss limit reached (pnl $%.2f, limit $%.2f)", e.stats.dailyPnl, cfg.DailyLossLimitUSDC)), nil
	}

	// 6. Trade frequency.
	e.stats.prune(now)
	if !e.stats.lastTrade.IsZero() {
		if since := now.Sub(e.stats.lastTrade); since < cfg.MinTradeSpacing {
			return reject(fmt.Sprintf("last trade %s ago, minimum spacing %s", since.Round(time.Second), cfg.MinTradeSpacing)), nil
		}
	}
	if n := e.stats.countSince(now.Add(-time.Hour)); n >= cfg.MaxTradesPerHour {
		return reject(fmt.Sprintf("hourly trade cap reached (%d)", cfg.MaxTradesPerHour)), nil
	}
	if n := e.stats.countSince(localMidnight(now)); n >= cfg.MaxTradesPerDay {
		return reject(fmt.Sprintf("daily trade cap reached (%d)", cfg.MaxTradesPerDay)), nil
	}

	// 7/8. Price movement since the target's fill. Prices live in [0,1], so
	// absolute distance times 100 is the percentage-point move.
	move := math.Abs(req.CurrentPrice-req.OriginalPrice) * 100
	if move > cfg.MaxSlippagePercent {
		return reject(fmt.Sprintf("slippage %.2f%% exceeds %.2f%%", move, cfg.MaxSlippagePercent)), nil
	}
	if move > cfg.MaxPriceDeviationPercent {
		return reject(fmt.Sprintf("price moved %.2f%% since fill (skip threshold %.2f%%)", move, cfg.MaxPriceDeviationPercent)), nil
	}

	// 9/10. Balance protection and total exposure apply to buys only.
	usable := math.MaxFloat64
	if req.Side == SideBuy {
		bal, err := e.balanceLocked(ctx)
		if err != nil {
			return Decision{}, err
		}
		usable = math.Min(bal*cfg.MaxBalanceUsagePercent/100, bal-cfg.MinBalanceToKeepUSDC)
		if usable <= 0 {
			return reject(fmt.Sprintf("balance protection: $%.2f available, $%.2f reserved", bal, cfg.MinBalanceToKeepUSDC)), nil
		}
		if amount > usable {
			amount = usable
		}

		total, err := e.exposureLocked(ctx)
		if err != nil {
			return Decision{}, err
		}
		if total+amount > cfg.MaxTotalExposureUSDC {
			headroom := cfg.MaxTotalExposureUSDC - total
			if headroom < cfg.MinTradeAmountUSDC {
				return reject(fmt.Sprintf("total exposure $%.2f at ceiling $%.2f", total, cfg.MaxTotalExposureUSDC)), nil
			}
			amount = headroom
		}
	}

	// Final adjustment: scale by copy ratio once, then re-apply the caps.
	// Caps are idempotent; the ratio must never be applied a second time.
	adjusted := amount * cfg.CopyRatioPercent / 100
	adjusted = capAmount(adjusted, cfg.MaxPositionSizeUSDC, usable)
	if adjusted < cfg.MinTradeAmountUSDC {
		return reject(fmt.Sprintf("adjusted amount $%.2f below minimum $%.2f (insufficient funds after adjustment)", adjusted, cfg.MinTradeAmountUSDC)), nil
	}

	return Decision{Allowed: true, AdjustedAmount: adjusted}, nil
}

// capAmount clamps amount to the per-trade ceiling and the usable balance.
// Applying it repeatedly yields the same result.
func capAmount(amount, maxPosition, usable float64) float64 {
	if amount > maxPosition {
		amount = maxPosition
	}
	if amount > usable {
		amount = usable
	}
	return amount
}

// CheckStopLoss reports whether a position's percent PnL breached the
// configured stop-loss threshold.
func (e *Engine) CheckStopLoss(percentPnl float64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg.StopLossPercent > 0 && percentPnl <= -e.cfg.StopLossPercent
}

// CheckTakeProfit reports whether a position's percent PnL reached the
// configured take-profit threshold.
func (e *Engine) CheckTakeProfit(percentPnl float64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg.TakeProfitPercent > 0 && percentPnl >= e.cfg.TakeProfitPercent
}

func (e *Engine) balanceLocked(ctx context.Context) (float64, error) {
	bal, err := e.balance.Balance(ctx)
	if err != nil {
		if e.hasBalance {
			log.Printf("[warn] balance refresh failed, using last known $%.2f: %v", e.lastBalance, err)
			return e.lastBalance, nil
		}
		return 0, fmt.Errorf("balance query: %w", err)
	}
	e.lastBalance = bal
	e.hasBalance = true
	return bal, nil
}

func (e *Engine) exposureLocked(ctx context.Context) (float64, error) {
	total, err := e.expo.TotalExposure(ctx)
	if err != nil {
		if e.hasExposure {
			log.Printf("[warn] exposure refresh failed, using last known $%.2f: %v", e.lastExposure, err)
			return e.lastExposure, nil
		}
		return 0, fmt.Errorf("exposure query: %w", err)
	}
	e.lastExposure = total
	e.hasExposure = true
	return total, nil
}
