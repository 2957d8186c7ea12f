// Package reconcile aligns local position state with the exchange's
// authoritative view. It runs at startup and on the maintenance clock,
// always inside the engine's turn lock so it never races an evaluation
// cycle.
package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"order_router/internal/core"
	"order_router/internal/risk"
	"order_router/internal/state"
)

// Config tunes the reconciliation pass.
type Config struct {
	// GraceWindow is how long a locally OPEN position may be missing from
	// the exchange before it is removed.
	GraceWindow time.Duration
	// DustMinNotionalUSD marks holdings below this value as dust.
	DustMinNotionalUSD float64
	// FetchTimeout bounds the exchange calls.
	FetchTimeout time.Duration
}

// Reconciler drives the protocol against one exchange-truth source.
type Reconciler struct {
	truth   core.ExchangeTruth
	store   *state.Store
	breaker *risk.CircuitBreaker
	cfg     Config
	logger  core.ILogger

	// missingSince tracks when a local position first went missing from
	// the exchange. In-memory: a restart restarts the grace window.
	missingSince map[string]time.Time
}

// New creates a reconciler.
func New(truth core.ExchangeTruth, store *state.Store, breaker *risk.CircuitBreaker, cfg Config, logger core.ILogger) *Reconciler {
	return &Reconciler{
		truth:        truth,
		store:        store,
		breaker:      breaker,
		cfg:          cfg,
		logger:       logger.WithField("component", "reconcile"),
		missingSince: make(map[string]time.Time),
	}
}

// Run executes one reconciliation pass. A fetch failure counts against the
// circuit breaker and leaves local state untouched.
func (r *Reconciler) Run(ctx context.Context) error {
	fetchCtx, cancel := context.WithTimeout(ctx, r.cfg.FetchTimeout)
	defer cancel()

	holdings, err := r.truth.OpenPositions(fetchCtx)
	if err != nil {
		r.breaker.RecordFailure(time.Now())
		return fmt.Errorf("failed to fetch exchange positions: %w", err)
	}
	balance, err := r.truth.Balance(fetchCtx)
	if err != nil {
		r.breaker.RecordFailure(time.Now())
		return fmt.Errorf("failed to fetch exchange balance: %w", err)
	}
	r.breaker.RecordSuccess()

	now := time.Now().UTC()
	dustMin := decimal.NewFromFloat(r.cfg.DustMinNotionalUSD)

	bySymbol := make(map[string]core.ExchangeHolding, len(holdings))
	for _, h := range holdings {
		bySymbol[h.Symbol] = h
	}

	untracked := make(map[string]bool)
	local := r.store.Positions()

	// Local positions the exchange no longer reports.
	for sym, pos := range local {
		if _, onExchange := bySymbol[sym]; onExchange {
			delete(r.missingSince, sym)
			continue
		}
		switch pos.State {
		case core.PositionClosing, core.PositionClosed:
			// Local close wins: drop immediately.
			r.store.Remove(sym)
			delete(r.missingSince, sym)
			r.logger.Info("Removed locally closed position absent on exchange", "symbol", sym)
		case core.PositionOpen, core.PositionPartialClose, core.PositionOpening:
			first, seen := r.missingSince[sym]
			if !seen {
				r.missingSince[sym] = now
				r.logger.Warn("Local position missing on exchange, grace window started",
					"symbol", sym, "grace", r.cfg.GraceWindow.String())
				continue
			}
			if now.Sub(first) >= r.cfg.GraceWindow {
				r.store.Remove(sym)
				delete(r.missingSince, sym)
				r.logger.Error("Local position removed after grace window expiry", "symbol", sym)
			}
		}
	}

	// Exchange holdings the store does not track, and quantity drift.
	for sym, h := range bySymbol {
		pos, tracked := local[sym]
		if !tracked {
			untracked[sym] = true
			r.adopt(h, now, dustMin)
			continue
		}

		if !pos.Quantity.Equal(h.Quantity) {
			// Exchange quantity is authoritative; local metadata stays.
			r.logger.Warn("Quantity drift corrected from exchange", "symbol", sym,
				"local", pos.Quantity.String(), "exchange", h.Quantity.String())
			pos.Quantity = h.Quantity
		}
		pos.Dust = h.ValueUSD.Cmp(dustMin) < 0
		r.store.Update(pos)
	}

	r.store.SetUntracked(untracked)
	r.store.SetBalance(balance)
	r.store.MarkSynced(now)
	r.logger.Debug("Reconciliation complete", "exchange_positions", len(holdings),
		"adopted", len(untracked), "balance", balance.String())
	return nil
}

// adopt creates a shadow position for an exchange holding with no local
// record. Stops are derived from the entry price since the original intent
// is unknown.
func (r *Reconciler) adopt(h core.ExchangeHolding, now time.Time, dustMin decimal.Decimal) {
	entry := h.EntryPrice
	if entry.Sign() <= 0 && h.Quantity.Sign() > 0 {
		entry = h.ValueUSD.Div(h.Quantity)
	}

	shadow := &core.Position{
		Symbol:     h.Symbol,
		Side:       core.SideBuy,
		EntryPrice: entry,
		EntryTime:  now,
		Quantity:   h.Quantity,
		Notional:   h.ValueUSD,
		StopPrice:  entry.Mul(decimal.RequireFromString("0.95")),
		TP1Price:   entry.Mul(decimal.RequireFromString("1.05")),
		TP2Price:   entry.Mul(decimal.RequireFromString("1.10")),
		StrategyID: "synced",
		State:      core.PositionOpen,
		External:   true,
		Dust:       h.ValueUSD.Cmp(dustMin) < 0,
	}

	if err := r.store.Track(shadow); err != nil {
		r.logger.Warn("Failed to adopt exchange holding", "symbol", h.Symbol, "error", err)
		return
	}
	r.logger.Info("Adopted untracked exchange holding", "symbol", h.Symbol,
		"quantity", h.Quantity.String(), "value_usd", h.ValueUSD.String(), "dust", shadow.Dust)
}
