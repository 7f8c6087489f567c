package risk

import "time"

// rollingStats are process-lifetime counters behind the frequency and daily
// loss checks. Timestamps older than 24h are pruned lazily on evaluation.
type rollingStats struct {
	dailyPnl   float64
	tradeTimes []time.Time
	lastTrade  time.Time
}

func (s *rollingStats) prune(now time.Time) {
	cutoff := now.Add(-24 * time.Hour)
	i := 0
	for ; i < len(s.tradeTimes); i++ {
		if s.tradeTimes[i].After(cutoff) {
			break
		}
	}
	if i > 0 {
		s.tradeTimes = append(s.tradeTimes[:0], s.tradeTimes[i:]...)
	}
}

func (s *rollingStats) countSince(t time.Time) int {
	n := 0
	for _, ts := range s.tradeTimes {
		if ts.After(t) || ts.Equal(t) {
			n++
		}
	}
	return n
}

func localMidnight(now time.Time) time.Time {
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
}

// StatsSnapshot is a read-only view of the rolling counters.
type StatsSnapshot struct {
	DailyPnl       float64
	TradesLastHour int
	TradesToday    int
	LastTrade      time.Time
}

// RecordTrade registers one executed trade and folds pnl into the daily total.
func (e *Engine) RecordTrade(pnl float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := e.now()
	e.stats.dailyPnl += pnl
	e.stats.tradeTimes = append(e.stats.tradeTimes, now)
	e.stats.lastTrade = now
}

// ResetDailyStats zeroes the daily PnL counter. Scheduled at local midnight by
// the process bootstrap.
func (e *Engine) ResetDailyStats() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stats.dailyPnl = 0
}

// Stats returns a snapshot of the rolling counters.
func (e *Engine) Stats() StatsSnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := e.now()
	e.stats.prune(now)
	return StatsSnapshot{
		DailyPnl:       e.stats.dailyPnl,
		TradesLastHour: e.stats.countSince(now.Add(-time.Hour)),
		TradesToday:    e.stats.countSince(localMidnight(now)),
		LastTrade:      e.stats.lastTrade,
	}
}
