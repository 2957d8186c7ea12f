// Package risk implements the admission gate cascade, tier sizing, daily
// loss accounting, circuit breaker and cooldown book.
package risk

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"order_router/internal/core"
)

const dayFormat = "2006-01-02"

// DailyStats tracks realized results for the current UTC day and latches
// the kill switch when losses reach the configured ceiling.
type DailyStats struct {
	mu          sync.Mutex
	date        string
	trades      int
	wins        int
	losses      int
	realizedPnL decimal.Decimal
	peakPnL     decimal.Decimal
	maxDrawdown decimal.Decimal
	killSwitch  bool

	maxLoss decimal.Decimal
	logger  core.ILogger
}

// NewDailyStats starts a fresh day keyed to now (UTC).
func NewDailyStats(maxLossUSD float64, logger core.ILogger) *DailyStats {
	return &DailyStats{
		date:    time.Now().UTC().Format(dayFormat),
		maxLoss: decimal.NewFromFloat(maxLossUSD),
		logger:  logger.WithField("component", "daily_stats"),
	}
}

// RecordTrade folds one realized result into the day. The kill switch
// latches when cumulative PnL reaches -maxLoss and only CheckReset or an
// explicit Reset clears it.
func (d *DailyStats) RecordTrade(pnl decimal.Decimal) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.trades++
	if pnl.Sign() > 0 {
		d.wins++
	} else if pnl.Sign() < 0 {
		d.losses++
	}
	d.realizedPnL = d.realizedPnL.Add(pnl)
	if d.realizedPnL.Cmp(d.peakPnL) > 0 {
		d.peakPnL = d.realizedPnL
	}
	if dd := d.peakPnL.Sub(d.realizedPnL); dd.Cmp(d.maxDrawdown) > 0 {
		d.maxDrawdown = dd
	}

	if !d.killSwitch && d.realizedPnL.Cmp(d.maxLoss.Neg()) <= 0 {
		d.killSwitch = true
		d.logger.Error("Daily loss ceiling reached, kill switch latched",
			"realized_pnl", d.realizedPnL.String(), "ceiling", d.maxLoss.String())
	}
}

// CheckReset rolls the stats over when the UTC day has changed. Returns
// true when a rollover happened.
func (d *DailyStats) CheckReset(now time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	today := now.UTC().Format(dayFormat)
	if today == d.date {
		return false
	}
	d.logger.Info("Daily rollover", "closed_day", d.date, "realized_pnl", d.realizedPnL.String(),
		"trades", d.trades, "kill_switch_was", d.killSwitch)
	d.resetLocked(today)
	return true
}

// Reset clears the day explicitly, including the kill switch.
func (d *DailyStats) Reset(now time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.resetLocked(now.UTC().Format(dayFormat))
}

func (d *DailyStats) resetLocked(date string) {
	d.date = date
	d.trades = 0
	d.wins = 0
	d.losses = 0
	d.realizedPnL = decimal.Zero
	d.peakPnL = decimal.Zero
	d.maxDrawdown = decimal.Zero
	d.killSwitch = false
}

// KillSwitchActive reports the latched kill switch.
func (d *DailyStats) KillSwitchActive() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.killSwitch
}

// RealizedPnL returns today's cumulative realized PnL.
func (d *DailyStats) RealizedPnL() decimal.Decimal {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.realizedPnL
}

// Snapshot exports the day as a persistable document.
func (d *DailyStats) Snapshot() *core.DailyStatsDoc {
	d.mu.Lock()
	defer d.mu.Unlock()
	return &core.DailyStatsDoc{
		Date:        d.date,
		Trades:      d.trades,
		Wins:        d.wins,
		Losses:      d.losses,
		RealizedPnL: d.realizedPnL,
		PeakPnL:     d.peakPnL,
		MaxDrawdown: d.maxDrawdown,
		KillSwitch:  d.killSwitch,
	}
}

// Restore rehydrates from a persisted document. A document from a previous
// UTC day is discarded so a restart never carries yesterday's losses.
func (d *DailyStats) Restore(doc *core.DailyStatsDoc, now time.Time) {
	if doc == nil {
		return
	}
	today := now.UTC().Format(dayFormat)
	if doc.Date != today {
		d.logger.Info("Discarding stale daily stats", "doc_date", doc.Date, "today", today)
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.date = doc.Date
	d.trades = doc.Trades
	d.wins = doc.Wins
	d.losses = doc.Losses
	d.realizedPnL = doc.RealizedPnL
	d.peakPnL = doc.PeakPnL
	d.maxDrawdown = doc.MaxDrawdown
	d.killSwitch = doc.KillSwitch
}
