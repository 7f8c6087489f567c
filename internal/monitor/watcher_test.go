package monitor

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Tuntii/polymarket-copy-trading-bot-v1/internal/dataapi"
	"github.com/Tuntii/polymarket-copy-trading-bot-v1/internal/store"
)

type fakePositions struct {
	rows []dataapi.Position
}

func (f *fakePositions) GetPositions(context.Context, string, int) ([]dataapi.Position, error) {
	return f.rows, nil
}

type posSink struct {
	memSink
	snapshots []store.Position
}

func (s *posSink) UpsertPosition(p *store.Position) error {
	s.snapshots = append(s.snapshots, *p)
	return nil
}

type thresholdPolicy struct {
	stopLoss   float64
	takeProfit float64
}

func (p thresholdPolicy) CheckStopLoss(pnl float64) bool {
	return p.stopLoss > 0 && pnl <= -p.stopLoss
}

func (p thresholdPolicy) CheckTakeProfit(pnl float64) bool {
	return p.takeProfit > 0 && pnl >= p.takeProfit
}

func position(conditionID string, size, percentPnl float64) dataapi.Position {
	return dataapi.Position{
		ProxyWallet: "0xmine", Asset: "7131", ConditionID: conditionID,
		Size: size, AvgPrice: 0.5, CurPrice: 0.45,
		CurrentValue: size * 0.45, PercentPnl: percentPnl,
		Title: "Bitcoin Up or Down",
	}
}

func newTestWatcher(src *fakePositions, sink *posSink, policy ExitPolicy, now time.Time) *Watcher {
	w := NewWatcher(src, sink, policy, nil, "0xmine", 500)
	w.now = func() time.Time { return now }
	return w
}

func TestCycle_RefreshesSnapshots(t *testing.T) {
	src := &fakePositions{rows: []dataapi.Position{
		position("0xaaa", 100, 5),
		position("0xbbb", 40, -2),
	}}
	sink := &posSink{}
	w := newTestWatcher(src, sink, thresholdPolicy{}, time.Unix(9000, 0))

	require.NoError(t, w.Cycle(context.Background()))
	require.Len(t, sink.snapshots, 2)
	require.Equal(t, "0xmine", sink.snapshots[0].Owner)
	require.Equal(t, "0xaaa", sink.snapshots[0].ConditionID)
	require.Empty(t, sink.events, "no exit thresholds configured")
}

func TestCycle_StopLossQueuesSellExit(t *testing.T) {
	src := &fakePositions{rows: []dataapi.Position{position("0xaaa", 100, -25)}}
	sink := &posSink{}
	w := newTestWatcher(src, sink, thresholdPolicy{stopLoss: 20}, time.Unix(9000, 0))

	require.NoError(t, w.Cycle(context.Background()))
	require.Len(t, sink.events, 1)

	ev := sink.events[0]
	require.Equal(t, "sl-0xaaa-9000", ev.TxHash)
	require.Equal(t, "SELL", ev.Side)
	require.Equal(t, store.SourceStopLoss, ev.Source)
	require.InDelta(t, 100*0.45, ev.AmountUSDC, 1e-9)
	require.InDelta(t, 100.0, ev.Size, 1e-9)
}

func TestCycle_TakeProfitQueuesSellExit(t *testing.T) {
	src := &fakePositions{rows: []dataapi.Position{position("0xaaa", 60, 35)}}
	sink := &posSink{}
	w := newTestWatcher(src, sink, thresholdPolicy{takeProfit: 30}, time.Unix(9000, 0))

	require.NoError(t, w.Cycle(context.Background()))
	require.Len(t, sink.events, 1)
	require.True(t, strings.HasPrefix(sink.events[0].TxHash, "tp-"))
	require.Equal(t, store.SourceTakeProfit, sink.events[0].Source)
}

func TestCycle_StopLossWinsOverTakeProfit(t *testing.T) {
	// Degenerate thresholds where both would fire: stop-loss is checked
	// first, so only one exit is queued.
	src := &fakePositions{rows: []dataapi.Position{position("0xaaa", 60, -25)}}
	sink := &posSink{}
	w := newTestWatcher(src, sink, thresholdPolicy{stopLoss: 20, takeProfit: -30}, time.Unix(9000, 0))

	require.NoError(t, w.Cycle(context.Background()))
	require.Len(t, sink.events, 1)
	require.Equal(t, store.SourceStopLoss, sink.events[0].Source)
}

func TestCycle_SkipsFlatAndRedeemablePositions(t *testing.T) {
	flat := position("0xaaa", 0, -50)
	redeemable := position("0xbbb", 40, -50)
	redeemable.Redeemable = true
	src := &fakePositions{rows: []dataapi.Position{flat, redeemable}}
	sink := &posSink{}
	w := newTestWatcher(src, sink, thresholdPolicy{stopLoss: 20}, time.Unix(9000, 0))

	require.NoError(t, w.Cycle(context.Background()))
	require.Empty(t, sink.events)
}

func TestCycle_RepeatedTriggerSameSecondInsertsOnce(t *testing.T) {
	src := &fakePositions{rows: []dataapi.Position{position("0xaaa", 100, -25)}}
	sink := &posSink{}
	w := newTestWatcher(src, sink, thresholdPolicy{stopLoss: 20}, time.Unix(9000, 0))

	require.NoError(t, w.Cycle(context.Background()))
	require.NoError(t, w.Cycle(context.Background()))
	require.Len(t, sink.events, 1, "deterministic key dedups the second insert")
}
