// Package state owns the shared mutable state of the router: tracked
// positions, daily stats, cooldowns, balance and reconciliation facts.
// Only the evaluation and maintenance turns mutate it; everyone else reads
// copied views.
package state

import (
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"order_router/internal/core"
	"order_router/internal/risk"
	"order_router/pkg/telemetry"
)

// Store is the single owner of live trading state.
type Store struct {
	mu         sync.RWMutex
	positions  map[string]*core.Position
	untracked  map[string]bool
	balance    decimal.Decimal
	halted     bool
	lastSyncAt time.Time

	stats     *risk.DailyStats
	cooldowns *risk.CooldownBook
	logger    core.ILogger
}

// NewStore creates an empty store around the daily stats and cooldown book.
func NewStore(stats *risk.DailyStats, cooldowns *risk.CooldownBook, logger core.ILogger) *Store {
	return &Store{
		positions: make(map[string]*core.Position),
		untracked: make(map[string]bool),
		stats:     stats,
		cooldowns: cooldowns,
		logger:    logger.WithField("component", "state"),
	}
}

// Restore loads persisted positions at startup, validating each.
// Structurally invalid positions are kept but logged; reconciliation
// resolves them against the exchange.
func (s *Store) Restore(positions map[string]*core.Position) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for sym, p := range positions {
		if p.State == core.PositionClosing {
			// A close was in flight at shutdown; re-arm the exit checks.
			p.State = core.PositionOpen
			if p.PartialClosed {
				p.State = core.PositionPartialClose
			}
			s.logger.Warn("Restored position was mid-close, reverting to open", "symbol", sym)
		}
		if err := p.Validate(); err != nil {
			s.logger.Warn("Restored position fails validation", "symbol", sym, "error", err)
		}
		s.positions[sym] = p
	}
	if len(positions) > 0 {
		s.logger.Info("Restored positions", "count", len(positions))
	}
	s.publishGauges()
}

// Track inserts a new position. At most one live position may exist per
// symbol; a second insert is an error.
func (s *Store) Track(p *core.Position) error {
	if err := p.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.positions[p.Symbol]; ok && isLive(existing) {
		return fmt.Errorf("position already tracked for %s", p.Symbol)
	}
	s.positions[p.Symbol] = p
	s.publishGauges()
	return nil
}

// Update replaces the tracked position for its symbol.
func (s *Store) Update(p *core.Position) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions[p.Symbol] = p
	s.publishGauges()
}

// Remove drops the position for symbol, returning it if present.
func (s *Store) Remove(symbol string) *core.Position {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.positions[symbol]
	if !ok {
		return nil
	}
	delete(s.positions, symbol)
	s.publishGauges()
	return p
}

// Position returns a copy of the tracked position for symbol.
func (s *Store) Position(symbol string) (*core.Position, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.positions[symbol]
	if !ok {
		return nil, false
	}
	cp := *p
	return &cp, true
}

// Positions returns copies of all tracked positions.
func (s *Store) Positions() map[string]*core.Position {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyPositions(s.positions)
}

// RecordClose folds a realized result into the daily stats and starts the
// symbol cooldown.
func (s *Store) RecordClose(result *core.TradeResult, cooldown time.Duration) {
	s.stats.RecordTrade(result.PnL)
	if cooldown > 0 {
		s.cooldowns.Set(result.Symbol, result.ClosedAt.Add(cooldown))
	}
	telemetry.GetGlobalMetrics().SetKillSwitchActive(s.stats.KillSwitchActive())
}

// SetBalance updates the spendable balance.
func (s *Store) SetBalance(b decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balance = b
}

// SetHalted flips the external trading-halt flag.
func (s *Store) SetHalted(halted bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.halted = halted
}

// SetUntracked replaces the set of exchange symbols pending adoption.
func (s *Store) SetUntracked(symbols map[string]bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.untracked = symbols
}

// MarkSynced records a successful reconciliation pass.
func (s *Store) MarkSynced(at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSyncAt = at
}

// View copies the current state for the gate cascade.
func (s *Store) View(now time.Time) *core.StateView {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v := &core.StateView{
		Positions:      copyPositions(s.positions),
		TierCounts:     make(map[core.Tier]int),
		SymbolExposure: make(map[string]decimal.Decimal, len(s.positions)),
		TotalExposure:  decimal.Zero,
		Balance:        s.balance,
		DailyPnL:       s.stats.RealizedPnL(),
		KillSwitch:     s.stats.KillSwitchActive(),
		Halted:         s.halted,
		Cooldowns:      s.cooldowns.Snapshot(),
		Untracked:      copySet(s.untracked),
		LastSyncAt:     s.lastSyncAt,
		TakenAt:        now,
	}

	for sym, p := range s.positions {
		if !isLive(p) {
			continue
		}
		basis := p.CostBasis()
		v.SymbolExposure[sym] = basis
		v.TotalExposure = v.TotalExposure.Add(basis)
		if p.Dust {
			continue
		}
		v.OpenCount++
		if p.Tier != "" {
			v.TierCounts[p.Tier]++
		}
	}
	return v
}

// openCountLocked counts live non-dust positions. Caller holds the lock.
func (s *Store) openCountLocked() int64 {
	var n int64
	for _, p := range s.positions {
		if isLive(p) && !p.Dust {
			n++
		}
	}
	return n
}

func (s *Store) publishGauges() {
	telemetry.GetGlobalMetrics().SetOpenPositions(s.openCountLocked())
}

func isLive(p *core.Position) bool {
	switch p.State {
	case core.PositionOpen, core.PositionPartialClose, core.PositionOpening, core.PositionClosing:
		return true
	}
	return false
}

func copyPositions(in map[string]*core.Position) map[string]*core.Position {
	out := make(map[string]*core.Position, len(in))
	for sym, p := range in {
		cp := *p
		out[sym] = &cp
	}
	return out
}

func copySet(in map[string]bool) map[string]bool {
	out := make(map[string]bool, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
