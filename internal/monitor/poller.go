// Package monitor watches the target account and our own book. The poller
// turns target activity into pending trade events; the position watcher turns
// stop-loss and take-profit breaches into synthetic exits on the same queue.
package monitor

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/jpillora/backoff"

	"github.com/Tuntii/polymarket-copy-trading-bot-v1/internal/audit"
	"github.com/Tuntii/polymarket-copy-trading-bot-v1/internal/dataapi"
	"github.com/Tuntii/polymarket-copy-trading-bot-v1/internal/store"
)

// ActivitySource is the target account's trade feed.
type ActivitySource interface {
	GetActivity(ctx context.Context, user string, limit int) ([]dataapi.Activity, error)
}

// EventSink persists accepted trades. InsertTradeEvent reports false for
// duplicates, the second dedup line behind the watermark.
type EventSink interface {
	InsertTradeEvent(ev *store.TradeEvent) (bool, error)
	LatestTimestamp(wallet string) (int64, error)
}

// Mode selects the poller variant.
type Mode int

const (
	// ModeFast polls on a short interval and never replays trades that
	// predate the process start.
	ModeFast Mode = iota
	// ModeSlow polls on a longer interval and discards trades older than the
	// staleness cutoff, tolerating cold-start catch-up.
	ModeSlow
)

type Poller struct {
	source ActivitySource
	sink   EventSink
	trail  *audit.Trail

	wallet    string
	limit     int
	mode      Mode
	staleness time.Duration

	// mu guards the watermark: Poll and Ingest run on different goroutines
	// when the realtime stream is enabled.
	mu        sync.Mutex
	watermark int64
	startedAt int64

	now func() time.Time
}

func NewPoller(source ActivitySource, sink EventSink, trail *audit.Trail, wallet string, limit int, mode Mode, staleness time.Duration) *Poller {
	if limit <= 0 {
		limit = 100
	}
	return &Poller{
		source:    source,
		sink:      sink,
		trail:     trail,
		wallet:    wallet,
		limit:     limit,
		mode:      mode,
		staleness: staleness,
		now:       time.Now,
	}
}

// Init seeds the watermark from the newest durably recorded trade and pins
// the start time used by the fast variant's replay guard.
func (p *Poller) Init() error {
	ts, err := p.sink.LatestTimestamp(p.wallet)
	if err != nil {
		return fmt.Errorf("poller: seed watermark: %w", err)
	}
	p.mu.Lock()
	p.watermark = ts
	p.startedAt = p.now().Unix()
	p.mu.Unlock()
	return nil
}

// Watermark returns the latest durably recorded trade timestamp. It never
// regresses.
func (p *Poller) Watermark() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.watermark
}

// Poll fetches the target's recent activity and persists what is new. Accepted
// trades are dispatched in ascending timestamp order so the executor sees one
// batch chronologically.
func (p *Poller) Poll(ctx context.Context) (int, error) {
	acts, err := p.source.GetActivity(ctx, p.wallet, p.limit)
	if err != nil {
		return 0, fmt.Errorf("poller: fetch activity: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	fresh := acts[:0:0]
	for _, a := range acts {
		if p.admitLocked(a) {
			fresh = append(fresh, a)
		}
	}
	sort.Slice(fresh, func(i, j int) bool { return fresh[i].Timestamp < fresh[j].Timestamp })

	inserted := 0
	for _, a := range fresh {
		ok, err := p.ingest(a, store.SourcePoll)
		if err != nil {
			return inserted, err
		}
		if ok {
			inserted++
		}
		if a.Timestamp > p.watermark {
			p.watermark = a.Timestamp
		}
	}
	return inserted, nil
}

// admitLocked applies the shared freshness rules: trades only, strictly past
// the watermark, and within the variant's replay window. Callers hold mu.
func (p *Poller) admitLocked(a dataapi.Activity) bool {
	if a.Type != dataapi.ActivityTypeTrade {
		return false
	}
	if a.Timestamp <= p.watermark {
		return false
	}
	if p.mode == ModeFast && a.Timestamp < p.startedAt {
		return false
	}
	if p.mode == ModeSlow && p.staleness > 0 {
		if age := p.now().Unix() - a.Timestamp; age > int64(p.staleness/time.Second) {
			return false
		}
	}
	return true
}

// Ingest records one trade observed outside the poll loop (the realtime
// stream). The same freshness rules as Poll apply, so a stream replay of a
// historical trade is dropped; the watermark advances so a later poll does
// not re-insert what the stream delivered first.
func (p *Poller) Ingest(a dataapi.Activity) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.admitLocked(a) {
		return false, nil
	}
	ok, err := p.ingest(a, store.SourceStream)
	if err != nil {
		return false, err
	}
	if ok && a.Timestamp > p.watermark {
		p.watermark = a.Timestamp
	}
	return ok, nil
}

func (p *Poller) ingest(a dataapi.Activity, source string) (bool, error) {
	ev := &store.TradeEvent{
		TxHash:      a.TransactionHash,
		Wallet:      a.ProxyWallet,
		Side:        a.Side,
		Size:        a.Size,
		AmountUSDC:  a.UsdcSize,
		Price:       a.Price,
		ConditionID: a.ConditionID,
		AssetID:     a.Asset,
		Title:       a.Title,
		Timestamp:   a.Timestamp,
		Source:      source,
	}
	ok, err := p.sink.InsertTradeEvent(ev)
	if err != nil {
		return false, fmt.Errorf("poller: persist %s: %w", a.TransactionHash, err)
	}
	if ok {
		log.Printf("[info] observed %s %s $%.2f @ %.4f (%s)", a.Side, a.ConditionID, a.UsdcSize, a.Price, source)
		p.trail.Record(audit.Event{
			Kind: audit.KindObserved, TxHash: a.TransactionHash, Wallet: a.ProxyWallet,
			Market: a.ConditionID, Side: a.Side, Amount: a.UsdcSize, Price: a.Price,
			Detail: source,
		})
	}
	return ok, nil
}

// Run polls on interval until ctx is done, backing off on consecutive fetch
// failures instead of hammering a degraded API.
func (p *Poller) Run(ctx context.Context, interval time.Duration) {
	b := &backoff.Backoff{Min: interval, Max: 2 * time.Minute, Factor: 2, Jitter: true}
	for {
		wait := interval
		if _, err := p.Poll(ctx); err != nil {
			wait = b.Duration()
			log.Printf("[warn] poll failed, next attempt in %s: %v", wait.Round(time.Millisecond), err)
		} else {
			b.Reset()
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}
