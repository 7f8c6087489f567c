package monitor

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/Tuntii/polymarket-copy-trading-bot-v1/internal/audit"
	"github.com/Tuntii/polymarket-copy-trading-bot-v1/internal/dataapi"
	"github.com/Tuntii/polymarket-copy-trading-bot-v1/internal/store"
)

// PositionsSource is the open-positions feed for one account.
type PositionsSource interface {
	GetPositions(ctx context.Context, user string, limit int) ([]dataapi.Position, error)
}

// ExitPolicy decides whether a position's PnL warrants a forced exit.
type ExitPolicy interface {
	CheckStopLoss(percentPnl float64) bool
	CheckTakeProfit(percentPnl float64) bool
}

// PositionSink persists position snapshots and synthesized exit events.
type PositionSink interface {
	UpsertPosition(p *store.Position) error
	InsertTradeEvent(ev *store.TradeEvent) (bool, error)
}

// Watcher refreshes our own position snapshots each cycle and enqueues a
// synthetic SELL when stop-loss or take-profit triggers. The exit flows
// through the same queue and executor as a mirrored trade.
type Watcher struct {
	source PositionsSource
	sink   PositionSink
	policy ExitPolicy
	trail  *audit.Trail

	ownWallet string
	limit     int

	now func() time.Time
}

func NewWatcher(source PositionsSource, sink PositionSink, policy ExitPolicy, trail *audit.Trail, ownWallet string, limit int) *Watcher {
	if limit <= 0 {
		limit = 500
	}
	return &Watcher{
		source:    source,
		sink:      sink,
		policy:    policy,
		trail:     trail,
		ownWallet: ownWallet,
		limit:     limit,
		now:       time.Now,
	}
}

// Cycle refreshes snapshots and evaluates exit thresholds once.
func (w *Watcher) Cycle(ctx context.Context) error {
	ps, err := w.source.GetPositions(ctx, w.ownWallet, w.limit)
	if err != nil {
		return fmt.Errorf("watcher: fetch positions: %w", err)
	}

	for _, p := range ps {
		if err := w.sink.UpsertPosition(&store.Position{
			Owner:        w.ownWallet,
			ConditionID:  p.ConditionID,
			AssetID:      p.Asset,
			Size:         p.Size,
			AvgPrice:     p.AvgPrice,
			CurPrice:     p.CurPrice,
			CurrentValue: p.CurrentValue,
			CashPnl:      p.CashPnl,
			PercentPnl:   p.PercentPnl,
			RealizedPnl:  p.RealizedPnl,
			Redeemable:   p.Redeemable,
			Mergeable:    p.Mergeable,
			Title:        p.Title,
		}); err != nil {
			log.Printf("[warn] position snapshot %s: %v", p.ConditionID, err)
		}

		if p.Size <= 0 || p.Redeemable {
			continue
		}

		switch {
		case w.policy.CheckStopLoss(p.PercentPnl):
			w.triggerExit(p, store.SourceStopLoss, "sl")
		case w.policy.CheckTakeProfit(p.PercentPnl):
			w.triggerExit(p, store.SourceTakeProfit, "tp")
		}
	}
	return nil
}

// triggerExit enqueues a synthetic SELL for the full position. The key is
// deterministic per trigger and second, so a cycle that runs twice in the
// same second still inserts at most one exit.
func (w *Watcher) triggerExit(p dataapi.Position, source, prefix string) {
	ev := &store.TradeEvent{
		TxHash:      fmt.Sprintf("%s-%s-%d", prefix, p.ConditionID, w.now().Unix()),
		Wallet:      w.ownWallet,
		Side:        "SELL",
		Size:        p.Size,
		AmountUSDC:  p.CurrentValue,
		Price:       p.CurPrice,
		ConditionID: p.ConditionID,
		AssetID:     p.Asset,
		Title:       p.Title,
		Timestamp:   w.now().Unix(),
		Source:      source,
	}
	ok, err := w.sink.InsertTradeEvent(ev)
	if err != nil {
		log.Printf("[warn] enqueue %s exit for %s: %v", source, p.ConditionID, err)
		return
	}
	if !ok {
		return
	}
	log.Printf("[info] %s triggered on %s (pnl %.1f%%), queued exit of %.2f shares", source, p.ConditionID, p.PercentPnl, p.Size)
	w.trail.Record(audit.Event{
		Kind: audit.KindExit, TxHash: ev.TxHash, Market: p.ConditionID,
		Side: "SELL", Amount: p.CurrentValue, Price: p.CurPrice,
		Reason: fmt.Sprintf("%s at %.1f%% pnl", source, p.PercentPnl),
	})
}

// Run cycles on interval until ctx is done. Fetch failures are logged and
// retried on the next tick; they never stop the loop.
func (w *Watcher) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if err := w.Cycle(ctx); err != nil {
			log.Printf("[warn] position watch cycle: %v", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
