package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// StateView is an immutable copy of the shared state, handed to the gate
// cascade so evaluation reads a consistent picture without holding locks.
type StateView struct {
	// Positions maps symbol to a copy of the tracked position.
	Positions map[string]*Position
	// OpenCount is the number of non-dust positions in OPEN or
	// PARTIAL_CLOSE state.
	OpenCount int
	// TierCounts is the number of open positions per sizing tier.
	TierCounts map[Tier]int
	// SymbolExposure is the cost basis currently committed per symbol.
	SymbolExposure map[string]decimal.Decimal
	// TotalExposure is the cost basis committed across all positions.
	TotalExposure decimal.Decimal
	// Balance is the quote currency available for new trades.
	Balance decimal.Decimal
	// DailyPnL is today's realized profit/loss.
	DailyPnL decimal.Decimal
	// KillSwitch reports whether the daily loss ceiling has latched.
	KillSwitch bool
	// Halted reports the external trading-halt flag.
	Halted bool
	// Cooldowns maps symbol to cooldown expiry.
	Cooldowns map[string]time.Time
	// Untracked holds symbols the exchange reports but the store does not
	// track yet (pending adoption by reconciliation).
	Untracked map[string]bool
	// LastSyncAt is when reconciliation last confirmed exchange state.
	LastSyncAt time.Time
	// TakenAt is when the view was copied.
	TakenAt time.Time
}

// HasOpen reports whether the view tracks a live position for symbol.
func (v *StateView) HasOpen(symbol string) bool {
	p, ok := v.Positions[symbol]
	if !ok {
		return false
	}
	switch p.State {
	case PositionOpen, PositionPartialClose, PositionOpening, PositionClosing:
		return true
	}
	return false
}
