package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "mirror.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func event(hash string, ts int64) *TradeEvent {
	return &TradeEvent{
		TxHash:      hash,
		Wallet:      "0xtarget",
		Side:        "BUY",
		Size:        20,
		AmountUSDC:  10,
		Price:       0.5,
		ConditionID: "0xc0ffee",
		AssetID:     "7131",
		Timestamp:   ts,
		Source:      SourcePoll,
	}
}

func TestInsertTradeEvent_DedupByHash(t *testing.T) {
	s := openTestStore(t)

	inserted, err := s.InsertTradeEvent(event("0xaaa", 100))
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = s.InsertTradeEvent(event("0xaaa", 100))
	require.NoError(t, err)
	assert.False(t, inserted, "duplicate hash must be a no-op")

	ev, err := s.FindByTxHash("0xaaa")
	require.NoError(t, err)
	require.NotNil(t, ev)
	assert.Equal(t, int64(100), ev.Timestamp)

	missing, err := s.FindByTxHash("0xnope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestLatestTimestamp(t *testing.T) {
	s := openTestStore(t)

	ts, err := s.LatestTimestamp("0xtarget")
	require.NoError(t, err)
	assert.Zero(t, ts, "empty store has no watermark")

	for i, h := range []string{"0xa", "0xb", "0xc"} {
		_, err := s.InsertTradeEvent(event(h, int64(100+i)))
		require.NoError(t, err)
	}
	other := event("0xd", 999)
	other.Wallet = "0xsomeoneelse"
	_, err = s.InsertTradeEvent(other)
	require.NoError(t, err)

	ts, err = s.LatestTimestamp("0xtarget")
	require.NoError(t, err)
	assert.Equal(t, int64(102), ts)
}

func TestUnprocessedLifecycle(t *testing.T) {
	s := openTestStore(t)
	for _, h := range []string{"0xa", "0xb"} {
		_, err := s.InsertTradeEvent(event(h, 100))
		require.NoError(t, err)
	}

	pending, err := s.Unprocessed()
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "0xa", pending[0].TxHash, "insertion order preserved")

	n, err := s.BumpRetry(pending[0].ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = s.BumpRetry(pending[0].ID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.NoError(t, s.MarkProcessed(pending[0].ID))
	pending, err = s.Unprocessed()
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "0xb", pending[0].TxHash)

	// Terminal state holds: the processed row is still there for audit.
	ev, err := s.FindByTxHash("0xa")
	require.NoError(t, err)
	require.NotNil(t, ev)
	assert.True(t, ev.Processed)
	assert.Equal(t, 2, ev.RetryCount)
}

func TestMarkProcessed_MissingEvent(t *testing.T) {
	s := openTestStore(t)
	require.Error(t, s.MarkProcessed(42))
}

func TestUpsertPosition(t *testing.T) {
	s := openTestStore(t)

	p := &Position{
		Owner: "0xme", ConditionID: "0xc0ffee", AssetID: "7131",
		Size: 100, AvgPrice: 0.40, CurPrice: 0.50, CurrentValue: 50, PercentPnl: 25,
	}
	require.NoError(t, s.UpsertPosition(p))

	p2 := &Position{
		Owner: "0xme", ConditionID: "0xc0ffee", AssetID: "7131",
		Size: 80, AvgPrice: 0.40, CurPrice: 0.30, CurrentValue: 24, PercentPnl: -25,
	}
	require.NoError(t, s.UpsertPosition(p2))

	ps, err := s.positionsByOwner("0xme")
	require.NoError(t, err)
	require.Len(t, ps, 1, "upsert must not duplicate the market row")
	assert.Equal(t, 80.0, ps[0].Size)
	assert.Equal(t, -25.0, ps[0].PercentPnl)
}
