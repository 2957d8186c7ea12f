package market

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"order_router/internal/core"
)

type nopLogger struct{}

func (nopLogger) Debug(string, ...interface{})                     {}
func (nopLogger) Info(string, ...interface{})                      {}
func (nopLogger) Warn(string, ...interface{})                      {}
func (nopLogger) Error(string, ...interface{})                     {}
func (nopLogger) Fatal(string, ...interface{})                     {}
func (l nopLogger) WithField(string, interface{}) core.ILogger     { return l }
func (l nopLogger) WithFields(map[string]interface{}) core.ILogger { return l }

func TestStoreAppendLoadRoundTrip(t *testing.T) {
	store, err := NewFileStore(t.TempDir(), nopLogger{})
	require.NoError(t, err)

	now := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, store.Append("BTCUSDT", Timeframe1m, candleAt(now.Add(-2*time.Minute), 100)))
	require.NoError(t, store.Append("BTCUSDT", Timeframe1m, candleAt(now.Add(-time.Minute), 101)))

	candles, err := store.Load("BTCUSDT", Timeframe1m, time.Hour)
	require.NoError(t, err)
	require.Len(t, candles, 2)
	assert.Equal(t, "100", candles[0].Close.String())
	assert.Equal(t, "101", candles[1].Close.String())
}

func TestLoadSkipsCorruptLinesAndOldCandles(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir, nopLogger{})
	require.NoError(t, err)

	now := time.Now().UTC()
	require.NoError(t, store.Append("ETHUSDT", Timeframe5m, candleAt(now.Add(-48*time.Hour), 1)))
	require.NoError(t, store.Append("ETHUSDT", Timeframe5m, candleAt(now.Add(-time.Minute), 2)))

	f, err := os.OpenFile(store.path("ETHUSDT", Timeframe5m), os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("not-json\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	candles, err := store.Load("ETHUSDT", Timeframe5m, 4*time.Hour)
	require.NoError(t, err)
	require.Len(t, candles, 1)
	assert.Equal(t, "2", candles[0].Close.String())
}

func TestLoadMissingFileIsEmpty(t *testing.T) {
	store, err := NewFileStore(t.TempDir(), nopLogger{})
	require.NoError(t, err)

	candles, err := store.Load("NOPE", Timeframe1m, time.Hour)
	require.NoError(t, err)
	assert.Empty(t, candles)
}

func TestRehydratePreservesIdempotency(t *testing.T) {
	store, err := NewFileStore(t.TempDir(), nopLogger{})
	require.NoError(t, err)

	now := time.Now().UTC().Truncate(time.Minute)
	require.NoError(t, store.Append("BTCUSDT", Timeframe1m, candleAt(now.Add(-3*time.Minute), 100)))
	require.NoError(t, store.Append("BTCUSDT", Timeframe1m, candleAt(now.Add(-2*time.Minute), 101)))

	set := NewBufferSet(50, 50)
	store.Rehydrate(set, []string{"BTCUSDT"}, time.Hour)

	// A live replay of an already-persisted candle stays a no-op.
	assert.False(t, set.Append("BTCUSDT", Timeframe1m, candleAt(now.Add(-2*time.Minute), 999)))
	assert.True(t, set.Append("BTCUSDT", Timeframe1m, candleAt(now.Add(-time.Minute), 102)))

	w := set.Snapshot(0).Window("BTCUSDT")
	require.Len(t, w.Candles1m, 3)
}

func TestPruneRewritesAndRemovesFiles(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir, nopLogger{})
	require.NoError(t, err)

	now := time.Now().UTC()
	// Mixed file: one stale candle pruned, one fresh kept.
	require.NoError(t, store.Append("BTCUSDT", Timeframe1m, candleAt(now.Add(-10*24*time.Hour), 1)))
	require.NoError(t, store.Append("BTCUSDT", Timeframe1m, candleAt(now.Add(-time.Hour), 2)))
	// Entirely stale file: removed outright.
	require.NoError(t, store.Append("OLDUSDT", Timeframe1m, candleAt(now.Add(-10*24*time.Hour), 1)))

	require.NoError(t, store.Prune(7*24*time.Hour))

	candles, err := store.Load("BTCUSDT", Timeframe1m, 0)
	require.NoError(t, err)
	require.Len(t, candles, 1)
	assert.Equal(t, "2", candles[0].Close.String())

	_, err = os.Stat(filepath.Join(dir, "OLDUSDT_1m.jsonl"))
	assert.True(t, os.IsNotExist(err))
}
