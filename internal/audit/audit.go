// Package audit appends the bot's decision trail as newline-delimited JSON.
// One record per lifecycle event, flushed per write so tailers see it live.
package audit

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Event kinds written to the trail.
const (
	KindStartup   = "startup"
	KindShutdown  = "shutdown"
	KindObserved  = "trade_observed"
	KindSkipped   = "trade_skipped"
	KindExecuted  = "trade_executed"
	KindRetry     = "trade_retry"
	KindAbandoned = "trade_abandoned"
	KindExit      = "position_exit"
	KindConfig    = "config_reload"
)

// Event is one JSONL record. Zero-valued fields are omitted so startup and
// shutdown records stay one line of metadata.
type Event struct {
	Time   time.Time `json:"time"`
	Kind   string    `json:"kind"`
	TxHash string    `json:"txHash,omitempty"`
	Wallet string    `json:"wallet,omitempty"`
	Market string    `json:"market,omitempty"`
	Side   string    `json:"side,omitempty"`
	Amount float64   `json:"amountUsdc,omitempty"`
	Price  float64   `json:"price,omitempty"`
	Reason string    `json:"reason,omitempty"`
	Retry  int       `json:"retry,omitempty"`
	Detail string    `json:"detail,omitempty"`
}

// Trail appends events to a JSONL file. Safe for concurrent use. A nil Trail
// drops every record, so callers never guard writes.
type Trail struct {
	mu   sync.Mutex
	path string
	file *os.File
	w    *bufio.Writer
}

// New returns a trail appending to path, or nil when path is blank.
func New(path string) *Trail {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil
	}
	return &Trail{path: path}
}

func (t *Trail) ensureOpenLocked() error {
	if t.file != nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(t.path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(t.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	t.file = f
	t.w = bufio.NewWriterSize(f, 256*1024)
	return nil
}

// Record appends ev, stamping Time when unset. Failures are logged and
// swallowed: the audit trail must never stall the trading loop.
func (t *Trail) Record(ev Event) {
	if t == nil {
		return
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now().UTC()
	}
	if err := t.write(ev); err != nil {
		log.Printf("[warn] audit write failed: %v", err)
	}
}

func (t *Trail) write(ev Event) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.ensureOpenLocked(); err != nil {
		return err
	}
	if _, err := t.w.Write(b); err != nil {
		return err
	}
	if err := t.w.WriteByte('\n'); err != nil {
		return err
	}
	return t.w.Flush()
}

// Close flushes buffered data and closes the file.
func (t *Trail) Close() error {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	var firstErr error
	if t.w != nil {
		if err := t.w.Flush(); err != nil {
			firstErr = err
		}
	}
	if t.file != nil {
		if err := t.file.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	t.w = nil
	t.file = nil

	if firstErr != nil && errors.Is(firstErr, os.ErrClosed) {
		return nil
	}
	if firstErr != nil {
		return fmt.Errorf("audit: close: %w", firstErr)
	}
	return nil
}
