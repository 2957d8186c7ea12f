package risk

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKillSwitchLatchesAtCeiling(t *testing.T) {
	d := NewDailyStats(25, nopLogger{})

	d.RecordTrade(decimal.NewFromInt(-10))
	assert.False(t, d.KillSwitchActive())

	d.RecordTrade(decimal.NewFromInt(-15))
	assert.True(t, d.KillSwitchActive())

	// Monotonic within the day: later wins do not clear the latch.
	d.RecordTrade(decimal.NewFromInt(100))
	assert.True(t, d.KillSwitchActive())
}

func TestWinsLossesAndDrawdown(t *testing.T) {
	d := NewDailyStats(1000, nopLogger{})
	d.RecordTrade(decimal.NewFromInt(10))
	d.RecordTrade(decimal.NewFromInt(-4))
	d.RecordTrade(decimal.NewFromInt(-3))
	d.RecordTrade(decimal.NewFromInt(2))

	doc := d.Snapshot()
	assert.Equal(t, 4, doc.Trades)
	assert.Equal(t, 2, doc.Wins)
	assert.Equal(t, 2, doc.Losses)
	assert.Equal(t, "5", doc.RealizedPnL.String())
	assert.Equal(t, "10", doc.PeakPnL.String())
	assert.Equal(t, "7", doc.MaxDrawdown.String())
}

func TestCheckResetRollsOverOnNewDay(t *testing.T) {
	d := NewDailyStats(25, nopLogger{})
	d.RecordTrade(decimal.NewFromInt(-30))
	require.True(t, d.KillSwitchActive())

	assert.False(t, d.CheckReset(time.Now().UTC()))
	assert.True(t, d.KillSwitchActive())

	assert.True(t, d.CheckReset(time.Now().UTC().Add(48*time.Hour)))
	assert.False(t, d.KillSwitchActive())
	assert.True(t, d.RealizedPnL().IsZero())
}

func TestRestoreDiscardsStaleDocument(t *testing.T) {
	now := time.Now().UTC()

	d := NewDailyStats(25, nopLogger{})
	doc := d.Snapshot()
	doc.Date = now.Add(-24 * time.Hour).Format("2006-01-02")
	doc.RealizedPnL = decimal.NewFromInt(-100)
	doc.KillSwitch = true

	d.Restore(doc, now)
	assert.False(t, d.KillSwitchActive())
	assert.True(t, d.RealizedPnL().IsZero())
}

func TestRestoreSameDayKeepsKillSwitch(t *testing.T) {
	now := time.Now().UTC()
	d := NewDailyStats(25, nopLogger{})
	doc := d.Snapshot()
	doc.RealizedPnL = decimal.NewFromInt(-100)
	doc.KillSwitch = true

	d.Restore(doc, now)
	assert.True(t, d.KillSwitchActive())
	assert.Equal(t, "-100", d.RealizedPnL().String())
}
