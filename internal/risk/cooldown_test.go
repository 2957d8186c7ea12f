package risk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCooldownSetAndExpiry(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	b := NewCooldownBook()

	b.Set("BTCUSDT", now.Add(15*time.Minute))
	assert.True(t, b.Active("BTCUSDT", now))
	assert.False(t, b.Active("BTCUSDT", now.Add(16*time.Minute)))
	assert.False(t, b.Active("ETHUSDT", now))
}

func TestCooldownNeverShortens(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	b := NewCooldownBook()

	b.Set("BTCUSDT", now.Add(15*time.Minute))
	b.Set("BTCUSDT", now.Add(2*time.Minute))

	exp, ok := b.Until("BTCUSDT")
	assert.True(t, ok)
	assert.Equal(t, now.Add(15*time.Minute), exp)
}

func TestCooldownPrune(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	b := NewCooldownBook()
	b.Set("BTCUSDT", now.Add(time.Minute))
	b.Set("ETHUSDT", now.Add(-time.Minute))

	assert.Equal(t, 1, b.Prune(now))
	_, ok := b.Until("ETHUSDT")
	assert.False(t, ok)
	assert.True(t, b.Active("BTCUSDT", now))
}

func TestCooldownRestoreFiltersExpired(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	b := NewCooldownBook()
	b.Restore(map[string]time.Time{
		"BTCUSDT": now.Add(5 * time.Minute),
		"ETHUSDT": now.Add(-5 * time.Minute),
	}, now)

	assert.True(t, b.Active("BTCUSDT", now))
	_, ok := b.Until("ETHUSDT")
	assert.False(t, ok)
}

func TestCooldownSnapshotRoundTrip(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	b := NewCooldownBook()
	b.Set("BTCUSDT", now.Add(time.Minute))

	snap := b.Snapshot()
	restored := NewCooldownBook()
	restored.Restore(snap, now)
	assert.True(t, restored.Active("BTCUSDT", now))
}
