// Package store persists observed trade activity and position snapshots in a
// local SQLite database. Trade events are the execution queue and the audit
// trail at once: they are inserted once, flipped to processed exactly once,
// and never deleted.
package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Trade event sources. Poll and stream events carry the venue transaction
// hash; stop-loss/take-profit events carry a synthesized deterministic key.
const (
	SourcePoll       = "poll"
	SourceStream     = "stream"
	SourceStopLoss   = "stoploss"
	SourceTakeProfit = "takeprofit"
)

// TradeEvent is one observed or synthesized trade.
type TradeEvent struct {
	ID uint `gorm:"primaryKey"`

	// TxHash is the venue transaction hash, or the deterministic key for
	// bot-generated events. Unique: the secondary dedup line of defense.
	TxHash string `gorm:"uniqueIndex;size:128"`

	Wallet      string `gorm:"index;size:64"` // account the trade was observed on
	Side        string `gorm:"size:8"`
	Size        float64
	AmountUSDC  float64
	Price       float64
	ConditionID string `gorm:"index;size:128"`
	AssetID     string `gorm:"size:128"`
	Title       string
	Timestamp   int64  `gorm:"index"` // seconds since epoch
	Source      string `gorm:"size:16"`

	Processed  bool `gorm:"index"`
	RetryCount int

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Position is the current holding snapshot for one account in one market,
// refreshed wholesale each poll cycle.
type Position struct {
	ID uint `gorm:"primaryKey"`

	Owner       string `gorm:"uniqueIndex:idx_owner_market;size:64"`
	ConditionID string `gorm:"uniqueIndex:idx_owner_market;size:128"`
	AssetID     string `gorm:"size:128"`

	Size         float64
	AvgPrice     float64
	CurPrice     float64
	CurrentValue float64
	CashPnl      float64
	PercentPnl   float64
	RealizedPnl  float64
	Redeemable   bool
	Mergeable    bool
	Title        string

	UpdatedAt time.Time
}

// Store wraps the SQLite database behind the copy-trading pipeline.
type Store struct {
	db *gorm.DB
}

// Open initializes the database at path, creating parent directories and
// running migrations. WAL keeps single-row upserts atomic under abrupt
// shutdown.
func Open(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("store: database path required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("store: create dir %s: %w", dir, err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	if err := db.AutoMigrate(&TradeEvent{}, &Position{}); err != nil {
		return nil, fmt.Errorf("store: migrate: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// InsertTradeEvent inserts ev unless its TxHash is already present. Returns
// true when the row was actually inserted.
func (s *Store) InsertTradeEvent(ev *TradeEvent) (bool, error) {
	if ev == nil || strings.TrimSpace(ev.TxHash) == "" {
		return false, fmt.Errorf("store: trade event requires a tx hash")
	}
	res := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "tx_hash"}},
		DoNothing: true,
	}).Create(ev)
	if res.Error != nil {
		return false, fmt.Errorf("store: insert trade event %s: %w", ev.TxHash, res.Error)
	}
	return res.RowsAffected > 0, nil
}

// FindByTxHash returns the event with the given hash, or nil when absent.
// Dedup itself happens atomically inside InsertTradeEvent's conflict clause;
// this is the read side, for checking how an observed hash was disposed.
func (s *Store) FindByTxHash(txHash string) (*TradeEvent, error) {
	var ev TradeEvent
	err := s.db.Where("tx_hash = ?", txHash).First(&ev).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: find %s: %w", txHash, err)
	}
	return &ev, nil
}

// LatestTimestamp returns the newest recorded trade timestamp for wallet, or
// zero when none exist. Seeds the poller watermark on startup.
func (s *Store) LatestTimestamp(wallet string) (int64, error) {
	var ts *int64
	err := s.db.Model(&TradeEvent{}).
		Where("wallet = ?", wallet).
		Select("MAX(timestamp)").
		Scan(&ts).Error
	if err != nil {
		return 0, fmt.Errorf("store: latest timestamp: %w", err)
	}
	if ts == nil {
		return 0, nil
	}
	return *ts, nil
}

// Unprocessed returns pending events in insertion order.
func (s *Store) Unprocessed() ([]TradeEvent, error) {
	var evs []TradeEvent
	if err := s.db.Where("processed = ?", false).Order("id ASC").Find(&evs).Error; err != nil {
		return nil, fmt.Errorf("store: list unprocessed: %w", err)
	}
	return evs, nil
}

// MarkProcessed flips the event to its terminal state. Single update, atomic.
func (s *Store) MarkProcessed(id uint) error {
	res := s.db.Model(&TradeEvent{}).Where("id = ?", id).Update("processed", true)
	if res.Error != nil {
		return fmt.Errorf("store: mark processed %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("store: mark processed %d: no such event", id)
	}
	return nil
}

// BumpRetry increments the retry counter and returns the new value.
func (s *Store) BumpRetry(id uint) (int, error) {
	res := s.db.Model(&TradeEvent{}).Where("id = ?", id).
		Update("retry_count", gorm.Expr("retry_count + 1"))
	if res.Error != nil {
		return 0, fmt.Errorf("store: bump retry %d: %w", id, res.Error)
	}
	var ev TradeEvent
	if err := s.db.Select("retry_count").First(&ev, id).Error; err != nil {
		return 0, fmt.Errorf("store: read retry %d: %w", id, err)
	}
	return ev.RetryCount, nil
}

// UpsertPosition refreshes the snapshot for (owner, conditionId).
func (s *Store) UpsertPosition(p *Position) error {
	if p == nil || p.Owner == "" || p.ConditionID == "" {
		return fmt.Errorf("store: position requires owner and conditionId")
	}
	err := s.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "owner"}, {Name: "condition_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"asset_id", "size", "avg_price", "cur_price", "current_value",
			"cash_pnl", "percent_pnl", "realized_pnl", "redeemable", "mergeable",
			"title", "updated_at",
		}),
	}).Create(p).Error
	if err != nil {
		return fmt.Errorf("store: upsert position %s/%s: %w", p.Owner, p.ConditionID, err)
	}
	return nil
}

// positionsByOwner returns the stored snapshots for one account.
func (s *Store) positionsByOwner(owner string) ([]Position, error) {
	var ps []Position
	if err := s.db.Where("owner = ?", owner).Find(&ps).Error; err != nil {
		return nil, fmt.Errorf("store: positions for %s: %w", owner, err)
	}
	return ps, nil
}
