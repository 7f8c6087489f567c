package risk

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubBalance struct {
	v   float64
	err error
}

func (s stubBalance) Balance(context.Context) (float64, error) { return s.v, s.err }

type stubExposure struct {
	v   float64
	err error
}

func (s stubExposure) TotalExposure(context.Context) (float64, error) { return s.v, s.err }

func testConfig() Config {
	cfg := Conservative()
	cfg.MinTradeAmountUSDC = 1
	cfg.MaxPositionSizeUSDC = 100
	cfg.MaxTotalExposureUSDC = 1000
	cfg.DailyLossLimitUSDC = 100
	cfg.MinTradeSpacing = 0
	cfg.MaxTradesPerHour = 100
	cfg.MaxTradesPerDay = 1000
	cfg.MaxSlippagePercent = 5
	cfg.MaxPriceDeviationPercent = 10
	cfg.MinBalanceToKeepUSDC = 0
	cfg.MaxBalanceUsagePercent = 100
	cfg.CopyRatioPercent = 100
	cfg.FreshnessCheck = false
	return cfg
}

func newTestEngine(cfg Config, bal BalanceSource, expo ExposureSource) *Engine {
	e := NewEngine(cfg, bal, expo)
	e.now = func() time.Time { return time.Date(2025, time.June, 4, 12, 0, 0, 0, time.UTC) }
	return e
}

func buyReq(amount, cur, orig float64) Request {
	return Request{Side: SideBuy, AmountUSDC: amount, CurrentPrice: cur, OriginalPrice: orig, Market: "0xc0ffee"}
}

func TestEvaluate_PassThrough(t *testing.T) {
	e := newTestEngine(testConfig(), stubBalance{v: 1000}, stubExposure{})
	dec, err := e.Evaluate(context.Background(), buyReq(10, 0.50, 0.50))
	require.NoError(t, err)
	require.True(t, dec.Allowed, "reason: %s", dec.Reason)
	assert.InDelta(t, 10, dec.AdjustedAmount, 1e-9)
}

func TestEvaluate_ResolvedMarketRejected(t *testing.T) {
	e := newTestEngine(testConfig(), stubBalance{v: 1000}, stubExposure{})
	for _, price := range []float64{0.9995, 1.0, 0.001, 0.0001} {
		dec, err := e.Evaluate(context.Background(), buyReq(10, price, price))
		require.NoError(t, err)
		assert.False(t, dec.Allowed, "price %v should reject", price)
		assert.Contains(t, dec.Reason, "resolved")
	}
}

func TestEvaluate_SlippageRejected(t *testing.T) {
	// |0.60-0.50|*100 = 10 percentage points > 5.
	e := newTestEngine(testConfig(), stubBalance{v: 1000}, stubExposure{})
	dec, err := e.Evaluate(context.Background(), buyReq(10, 0.60, 0.50))
	require.NoError(t, err)
	require.False(t, dec.Allowed)
	assert.Contains(t, dec.Reason, "slippage")
}

func TestEvaluate_PriceDeviationLooserThanSlippage(t *testing.T) {
	cfg := testConfig()
	cfg.MaxSlippagePercent = 50 // slippage passes
	cfg.MaxPriceDeviationPercent = 8
	e := newTestEngine(cfg, stubBalance{v: 1000}, stubExposure{})
	dec, err := e.Evaluate(context.Background(), buyReq(10, 0.60, 0.50))
	require.NoError(t, err)
	require.False(t, dec.Allowed)
	assert.Contains(t, dec.Reason, "price moved")
}

func TestEvaluate_BalanceProtection(t *testing.T) {
	// balance=$10, keep=$3, usage=90% => adjusted = min(8, 10*0.9, 10-3) = 7.
	cfg := testConfig()
	cfg.MinBalanceToKeepUSDC = 3
	cfg.MaxBalanceUsagePercent = 90
	e := newTestEngine(cfg, stubBalance{v: 10}, stubExposure{})
	dec, err := e.Evaluate(context.Background(), buyReq(8, 0.50, 0.50))
	require.NoError(t, err)
	require.True(t, dec.Allowed, "reason: %s", dec.Reason)
	assert.InDelta(t, 7, dec.AdjustedAmount, 1e-9)
}

func TestEvaluate_BalanceExhaustedRejected(t *testing.T) {
	cfg := testConfig()
	cfg.MinBalanceToKeepUSDC = 15
	e := newTestEngine(cfg, stubBalance{v: 10}, stubExposure{})
	dec, err := e.Evaluate(context.Background(), buyReq(8, 0.50, 0.50))
	require.NoError(t, err)
	require.False(t, dec.Allowed)
	assert.Contains(t, dec.Reason, "balance protection")
}

func TestEvaluate_ExposureHeadroomCapsInsteadOfRejecting(t *testing.T) {
	// exposure=$480, ceiling=$500, requested=$50 => capped to $20 headroom.
	cfg := testConfig()
	cfg.MaxTotalExposureUSDC = 500
	e := newTestEngine(cfg, stubBalance{v: 10000}, stubExposure{v: 480})
	dec, err := e.Evaluate(context.Background(), buyReq(50, 0.50, 0.50))
	require.NoError(t, err)
	require.True(t, dec.Allowed, "reason: %s", dec.Reason)
	assert.InDelta(t, 20, dec.AdjustedAmount, 1e-9)
}

func TestEvaluate_ExposureRejectedWhenHeadroomBelowMinimum(t *testing.T) {
	cfg := testConfig()
	cfg.MaxTotalExposureUSDC = 500
	cfg.MinTradeAmountUSDC = 25
	e := newTestEngine(cfg, stubBalance{v: 10000}, stubExposure{v: 480})
	dec, err := e.Evaluate(context.Background(), buyReq(50, 0.50, 0.50))
	require.NoError(t, err)
	require.False(t, dec.Allowed)
	assert.Contains(t, dec.Reason, "exposure")
}

func TestEvaluate_SellSkipsBalanceAndExposure(t *testing.T) {
	e := newTestEngine(testConfig(), stubBalance{err: errors.New("rpc down")}, stubExposure{err: errors.New("api down")})
	dec, err := e.Evaluate(context.Background(), Request{
		Side: SideSell, AmountUSDC: 10, CurrentPrice: 0.50, OriginalPrice: 0.50,
	})
	require.NoError(t, err)
	assert.True(t, dec.Allowed, "reason: %s", dec.Reason)
}

func TestEvaluate_BalanceErrorFallsBackToLastKnown(t *testing.T) {
	cfg := testConfig()
	bal := &flakyBalance{values: []float64{100}, errAfter: 1}
	e := newTestEngine(cfg, bal, stubExposure{})

	dec, err := e.Evaluate(context.Background(), buyReq(10, 0.50, 0.50))
	require.NoError(t, err)
	require.True(t, dec.Allowed)

	// Second evaluation: source now errors, cached $100 keeps the check alive.
	dec, err = e.Evaluate(context.Background(), buyReq(10, 0.50, 0.50))
	require.NoError(t, err)
	assert.True(t, dec.Allowed, "reason: %s", dec.Reason)
}

func TestEvaluate_BalanceErrorWithNoCacheIsTransient(t *testing.T) {
	e := newTestEngine(testConfig(), stubBalance{err: errors.New("rpc down")}, stubExposure{})
	_, err := e.Evaluate(context.Background(), buyReq(10, 0.50, 0.50))
	require.Error(t, err)
}

type flakyBalance struct {
	values   []float64
	errAfter int
	calls    int
}

func (f *flakyBalance) Balance(context.Context) (float64, error) {
	f.calls++
	if f.calls > f.errAfter {
		return 0, errors.New("rpc down")
	}
	return f.values[f.calls-1], nil
}

func TestEvaluate_DailyLossLimit(t *testing.T) {
	cfg := testConfig()
	cfg.DailyLossLimitUSDC = 50
	e := newTestEngine(cfg, stubBalance{v: 1000}, stubExposure{})
	e.RecordTrade(-60)

	dec, err := e.Evaluate(context.Background(), buyReq(10, 0.50, 0.50))
	require.NoError(t, err)
	require.False(t, dec.Allowed)
	assert.Contains(t, dec.Reason, "daily loss")

	e.ResetDailyStats()
	dec, err = e.Evaluate(context.Background(), buyReq(10, 0.50, 0.50))
	require.NoError(t, err)
	assert.True(t, dec.Allowed, "reason: %s", dec.Reason)
}

func TestEvaluate_TradeSpacing(t *testing.T) {
	cfg := testConfig()
	cfg.MinTradeSpacing = time.Minute
	e := newTestEngine(cfg, stubBalance{v: 1000}, stubExposure{})

	base := time.Date(2025, time.June, 4, 12, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return base }
	e.RecordTrade(0)

	e.now = func() time.Time { return base.Add(20 * time.Second) }
	dec, err := e.Evaluate(context.Background(), buyReq(10, 0.50, 0.50))
	require.NoError(t, err)
	require.False(t, dec.Allowed)
	assert.Contains(t, dec.Reason, "spacing")

	e.now = func() time.Time { return base.Add(2 * time.Minute) }
	dec, err = e.Evaluate(context.Background(), buyReq(10, 0.50, 0.50))
	require.NoError(t, err)
	assert.True(t, dec.Allowed, "reason: %s", dec.Reason)
}

func TestEvaluate_HourlyCap(t *testing.T) {
	cfg := testConfig()
	cfg.MaxTradesPerHour = 2
	e := newTestEngine(cfg, stubBalance{v: 1000}, stubExposure{})
	e.RecordTrade(0)
	e.RecordTrade(0)

	dec, err := e.Evaluate(context.Background(), buyReq(10, 0.50, 0.50))
	require.NoError(t, err)
	require.False(t, dec.Allowed)
	assert.Contains(t, dec.Reason, "hourly")
}

func TestEvaluate_FreshnessCheck(t *testing.T) {
	title := "Bitcoin Up or Down - 6:30PM-6:45PM ET"
	// 6:05PM ET => 40 minutes remaining. Use the same zone resolution as the
	// parser so DST does not skew the clock.
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		loc = time.FixedZone("ET", -5*3600)
	}
	now := time.Date(2025, time.June, 4, 18, 5, 0, 0, loc)

	cfg := testConfig()
	cfg.FreshnessCheck = true
	cfg.MinMinutesRemaining = 10
	e := newTestEngine(cfg, stubBalance{v: 1000}, stubExposure{})
	e.now = func() time.Time { return now }

	req := buyReq(10, 0.50, 0.50)
	req.Title = title
	dec, err := e.Evaluate(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, dec.Allowed, "40 min left should clear a 10 min floor: %s", dec.Reason)

	cfg.MinMinutesRemaining = 50
	e.UpdateConfig(Patch{MinMinutesRemaining: &cfg.MinMinutesRemaining})
	dec, err = e.Evaluate(context.Background(), req)
	require.NoError(t, err)
	require.False(t, dec.Allowed)
	assert.Contains(t, dec.Reason, "closes in")
}

func TestEvaluate_CopyRatioAppliedOnce(t *testing.T) {
	cfg := testConfig()
	cfg.CopyRatioPercent = 50
	e := newTestEngine(cfg, stubBalance{v: 1000}, stubExposure{})

	dec, err := e.Evaluate(context.Background(), buyReq(40, 0.50, 0.50))
	require.NoError(t, err)
	require.True(t, dec.Allowed)
	assert.InDelta(t, 20, dec.AdjustedAmount, 1e-9)

	// Re-evaluating the already-adjusted amount only re-applies caps, so the
	// second pass halves again by ratio but never compounds through capping.
	assert.Equal(t, capAmount(dec.AdjustedAmount, cfg.MaxPositionSizeUSDC, 1000),
		capAmount(capAmount(dec.AdjustedAmount, cfg.MaxPositionSizeUSDC, 1000), cfg.MaxPositionSizeUSDC, 1000))
}

func TestEvaluate_AdjustedBelowMinimumRejected(t *testing.T) {
	cfg := testConfig()
	cfg.CopyRatioPercent = 5
	cfg.MinTradeAmountUSDC = 2
	e := newTestEngine(cfg, stubBalance{v: 1000}, stubExposure{})

	// 5% of $20 = $1 < $2 minimum, even though every individual check passed.
	dec, err := e.Evaluate(context.Background(), buyReq(20, 0.50, 0.50))
	require.NoError(t, err)
	require.False(t, dec.Allowed)
	assert.Contains(t, dec.Reason, "after adjustment")
}

func TestEvaluate_AdjustedNeverExceedsCaps(t *testing.T) {
	cfg := testConfig()
	cfg.MaxPositionSizeUSDC = 25
	cfg.CopyRatioPercent = 100
	e := newTestEngine(cfg, stubBalance{v: 18}, stubExposure{})

	dec, err := e.Evaluate(context.Background(), buyReq(500, 0.50, 0.50))
	require.NoError(t, err)
	require.True(t, dec.Allowed)
	assert.LessOrEqual(t, dec.AdjustedAmount, cfg.MaxPositionSizeUSDC)
	assert.LessOrEqual(t, dec.AdjustedAmount, 18.0)
}

func TestCheckStopLossTakeProfit(t *testing.T) {
	cfg := testConfig()
	cfg.StopLossPercent = 20
	cfg.TakeProfitPercent = 50
	e := newTestEngine(cfg, stubBalance{}, stubExposure{})

	assert.True(t, e.CheckStopLoss(-25))
	assert.True(t, e.CheckStopLoss(-20))
	assert.False(t, e.CheckStopLoss(-19.9))
	assert.False(t, e.CheckStopLoss(5))

	assert.True(t, e.CheckTakeProfit(55))
	assert.True(t, e.CheckTakeProfit(50))
	assert.False(t, e.CheckTakeProfit(49.9))
	assert.False(t, e.CheckTakeProfit(-5))
}

func TestUpdateConfig_PartialMerge(t *testing.T) {
	e := newTestEngine(testConfig(), stubBalance{}, stubExposure{})
	before := e.Config()

	ratio := 25.0
	e.UpdateConfig(Patch{CopyRatioPercent: &ratio})

	after := e.Config()
	assert.Equal(t, 25.0, after.CopyRatioPercent)
	assert.Equal(t, before.MaxPositionSizeUSDC, after.MaxPositionSizeUSDC)
	assert.Equal(t, before.MaxSlippagePercent, after.MaxSlippagePercent)
}

func TestProfile(t *testing.T) {
	cons, err := Profile("")
	require.NoError(t, err)
	assert.Equal(t, Conservative(), cons)

	agg, err := Profile("Aggressive")
	require.NoError(t, err)
	assert.Equal(t, Aggressive(), agg)

	_, err = Profile("yolo")
	require.Error(t, err)
}

func TestStatsPruning(t *testing.T) {
	e := newTestEngine(testConfig(), stubBalance{}, stubExposure{})
	base := time.Date(2025, time.June, 4, 12, 0, 0, 0, time.UTC)

	e.now = func() time.Time { return base.Add(-30 * time.Hour) }
	e.RecordTrade(0)
	e.now = func() time.Time { return base.Add(-30 * time.Minute) }
	e.RecordTrade(0)
	e.now = func() time.Time { return base }

	snap := e.Stats()
	assert.Equal(t, 1, snap.TradesLastHour)
	assert.Equal(t, 1, snap.TradesToday)
}
