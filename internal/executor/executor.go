// Package executor drains the persisted trade queue: each pending event is
// risk-checked once and either skipped, executed or retried up to a ceiling.
// Every path ends with processed=true, so no event is ever executed twice.
package executor

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/Tuntii/polymarket-copy-trading-bot-v1/internal/audit"
	"github.com/Tuntii/polymarket-copy-trading-bot-v1/internal/risk"
	"github.com/Tuntii/polymarket-copy-trading-bot-v1/internal/store"
)

// Condition selects how an allowed event is turned into an order.
type Condition string

const (
	ConditionBuy   Condition = "buy"
	ConditionSell  Condition = "sell"
	ConditionMerge Condition = "merge" // target fully exited, close our whole holding
)

// Order is the instruction handed to the placement collaborator.
type Order struct {
	Condition   Condition
	AssetID     string
	ConditionID string
	AmountUSDC  float64 // risk-adjusted notional
	Price       float64 // execution price the decision was made at
	Title       string
}

type OrderPlacer interface {
	PlaceOrder(ctx context.Context, o Order) error
}

// PriceSource reports the current executable price for an outcome token.
type PriceSource interface {
	CurrentPrice(ctx context.Context, assetID string, side risk.Side) (float64, error)
}

// PositionSource reports how many shares owner currently holds in a market.
// Zero with nil error means flat.
type PositionSource interface {
	HeldSize(ctx context.Context, owner, conditionID string) (float64, error)
}

type Queue interface {
	Unprocessed() ([]store.TradeEvent, error)
	MarkProcessed(id uint) error
	BumpRetry(id uint) (int, error)
}

type Executor struct {
	queue     Queue
	engine    *risk.Engine
	placer    OrderPlacer
	prices    PriceSource
	positions PositionSource
	trail     *audit.Trail

	targetWallet string
	ownWallet    string
	retryCeiling int

	// placed holds ids whose order reached the venue but whose processed flag
	// failed to persist. Those events may only be re-marked, never re-placed.
	// Pass runs on a single goroutine, so no lock.
	placed map[uint]struct{}
}

func New(queue Queue, engine *risk.Engine, placer OrderPlacer, prices PriceSource, positions PositionSource, trail *audit.Trail, targetWallet, ownWallet string, retryCeiling int) *Executor {
	if retryCeiling < 1 {
		retryCeiling = 1
	}
	return &Executor{
		queue:        queue,
		engine:       engine,
		placer:       placer,
		prices:       prices,
		positions:    positions,
		trail:        trail,
		targetWallet: targetWallet,
		ownWallet:    ownWallet,
		retryCeiling: retryCeiling,
		placed:       make(map[uint]struct{}),
	}
}

// Pass processes every pending event once, in source order. Transient
// failures bump the event's retry counter; the event is abandoned (and still
// terminal) once the counter reaches the ceiling.
func (x *Executor) Pass(ctx context.Context) error {
	evs, err := x.queue.Unprocessed()
	if err != nil {
		return fmt.Errorf("executor: list pending: %w", err)
	}

	for i := range evs {
		ev := &evs[i]
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := x.process(ctx, ev); err != nil {
			x.handleFailure(ev, err)
		}
	}
	return nil
}

// Run drains the queue on interval until ctx is done.
func (x *Executor) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if err := x.Pass(ctx); err != nil && ctx.Err() == nil {
			log.Printf("[warn] executor pass: %v", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (x *Executor) process(ctx context.Context, ev *store.TradeEvent) error {
	// Already placed on a previous pass; only the flag write is outstanding.
	if _, ok := x.placed[ev.ID]; ok {
		x.finalize(ev)
		return nil
	}

	side := risk.Side(ev.Side)

	current, err := x.prices.CurrentPrice(ctx, ev.AssetID, side)
	if err != nil {
		// Evaluate against the observed fill price rather than stalling the
		// queue; slippage then reads as zero for this pass.
		log.Printf("[warn] price fetch for %s failed, using observed price %.4f: %v", ev.AssetID, ev.Price, err)
		current = ev.Price
	}

	decision, err := x.engine.Evaluate(ctx, risk.Request{
		Side:          side,
		AmountUSDC:    ev.AmountUSDC,
		CurrentPrice:  current,
		OriginalPrice: ev.Price,
		Market:        ev.ConditionID,
		Title:         ev.Title,
	})
	if err != nil {
		return fmt.Errorf("evaluate %s: %w", ev.TxHash, err)
	}
	if !decision.Allowed {
		log.Printf("[info] skip %s %s $%.2f: %s", ev.Side, ev.ConditionID, ev.AmountUSDC, decision.Reason)
		x.trail.Record(audit.Event{
			Kind: audit.KindSkipped, TxHash: ev.TxHash, Market: ev.ConditionID,
			Side: ev.Side, Amount: ev.AmountUSDC, Reason: decision.Reason,
		})
		if err := x.queue.MarkProcessed(ev.ID); err != nil {
			return err
		}
		return nil
	}

	cond := x.condition(ctx, ev)

	order := Order{
		Condition:   cond,
		AssetID:     ev.AssetID,
		ConditionID: ev.ConditionID,
		AmountUSDC:  decision.AdjustedAmount,
		Price:       current,
		Title:       ev.Title,
	}
	if err := x.placer.PlaceOrder(ctx, order); err != nil {
		return fmt.Errorf("place %s %s: %w", cond, ev.ConditionID, err)
	}

	x.engine.RecordTrade(0)
	log.Printf("[info] executed %s %s $%.2f @ %.4f", cond, ev.ConditionID, decision.AdjustedAmount, current)
	x.trail.Record(audit.Event{
		Kind: audit.KindExecuted, TxHash: ev.TxHash, Market: ev.ConditionID,
		Side: string(cond), Amount: decision.AdjustedAmount, Price: current,
	})
	x.finalize(ev)
	return nil
}

// finalize flips the processed flag for an event whose order is already on
// the venue. The order must never be placed twice, so a persistence failure
// here parks the id and retries only the flag write on later passes.
func (x *Executor) finalize(ev *store.TradeEvent) {
	if err := x.queue.MarkProcessed(ev.ID); err != nil {
		x.placed[ev.ID] = struct{}{}
		log.Printf("[warn] order for %s placed but marking processed failed, will re-mark: %v", ev.TxHash, err)
		return
	}
	delete(x.placed, ev.ID)
}

// condition mirrors the observed side unless the target has fully exited a
// market we still hold, which upgrades a sell into a full close.
func (x *Executor) condition(ctx context.Context, ev *store.TradeEvent) Condition {
	if ev.Side == string(risk.SideBuy) {
		return ConditionBuy
	}
	// Bot-generated exits always sell our own book, no target to consult.
	if ev.Source == store.SourceStopLoss || ev.Source == store.SourceTakeProfit {
		return ConditionSell
	}

	targetSize, err := x.positions.HeldSize(ctx, x.targetWallet, ev.ConditionID)
	if err != nil {
		log.Printf("[warn] target position lookup failed, mirroring sell: %v", err)
		return ConditionSell
	}
	ownSize, err := x.positions.HeldSize(ctx, x.ownWallet, ev.ConditionID)
	if err != nil {
		log.Printf("[warn] own position lookup failed, mirroring sell: %v", err)
		return ConditionSell
	}
	if targetSize <= 0 && ownSize > 0 {
		return ConditionMerge
	}
	return ConditionSell
}

func (x *Executor) handleFailure(ev *store.TradeEvent, cause error) {
	retries, err := x.queue.BumpRetry(ev.ID)
	if err != nil {
		log.Printf("[warn] bump retry for %s: %v (original: %v)", ev.TxHash, err, cause)
		return
	}
	if retries >= x.retryCeiling {
		log.Printf("[warn] abandoning %s after %d retries: %v", ev.TxHash, retries, cause)
		x.trail.Record(audit.Event{
			Kind: audit.KindAbandoned, TxHash: ev.TxHash, Market: ev.ConditionID,
			Side: ev.Side, Retry: retries, Detail: cause.Error(),
		})
		if err := x.queue.MarkProcessed(ev.ID); err != nil {
			log.Printf("[warn] mark abandoned %s: %v", ev.TxHash, err)
		}
		return
	}
	log.Printf("[warn] retry %d/%d for %s: %v", retries, x.retryCeiling, ev.TxHash, cause)
	x.trail.Record(audit.Event{
		Kind: audit.KindRetry, TxHash: ev.TxHash, Market: ev.ConditionID,
		Side: ev.Side, Retry: retries, Detail: cause.Error(),
	})
}
