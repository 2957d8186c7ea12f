// Package engine drives the router's three clocks: event-driven ingestion,
// the fixed-interval evaluation cycle and the slow maintenance pass. A
// single turn mutex serializes evaluation and maintenance, so shared state
// only ever has one writer at a time.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"order_router/internal/batch"
	"order_router/internal/config"
	"order_router/internal/core"
	"order_router/internal/execution"
	"order_router/internal/journal"
	"order_router/internal/market"
	"order_router/internal/persist"
	"order_router/internal/reconcile"
	"order_router/internal/risk"
	"order_router/internal/state"
	"order_router/internal/strategy"
	"order_router/pkg/concurrency"
	"order_router/pkg/telemetry"
)

// Deps bundles the engine's collaborators.
type Deps struct {
	Config      *config.Config
	Logger      core.ILogger
	Buffers     *market.BufferSet
	CandleStore *market.FileStore // nil disables candle persistence
	Registry    *strategy.Registry
	Batcher     *batch.Batcher
	Gates       *risk.GateChecker
	Stats       *risk.DailyStats
	Cooldowns   *risk.CooldownBook
	Breaker     *risk.CircuitBreaker
	Store       *state.Store
	Persist     *persist.FileStore
	Journal     *journal.Journal // nil disables journaling
	Router      *execution.Router
	Reconciler  *reconcile.Reconciler
	Pool        *concurrency.WorkerPool

	// UniverseRefresh, when set, runs during each maintenance turn.
	UniverseRefresh func(ctx context.Context)
}

// Engine owns the scheduling loop.
type Engine struct {
	Deps
	logger core.ILogger

	// turnMu serializes evaluation and maintenance turns.
	turnMu sync.Mutex
}

// New creates an engine from its dependencies.
func New(deps Deps) *Engine {
	return &Engine{
		Deps:   deps,
		logger: deps.Logger.WithField("component", "engine"),
	}
}

// OnCandle is the ingestion entry point for a closed candle. It is the sole
// buffer writer path and never blocks on an evaluation turn.
func (e *Engine) OnCandle(symbol string, tf market.Timeframe, c core.Candle) {
	if !e.Buffers.Append(symbol, tf, c) {
		return
	}
	telemetry.GetGlobalMetrics().RecordCandle(context.Background(), string(tf))
	if e.CandleStore != nil {
		if err := e.CandleStore.Append(symbol, tf, c); err != nil {
			e.logger.Warn("Failed to persist candle", "symbol", symbol, "error", err)
		}
	}
}

// OnTick records a price/spread update.
func (e *Engine) OnTick(t core.Tick) {
	e.Buffers.UpdateTick(t)
}

// Start restores durable state and runs the initial reconciliation, then
// blocks driving the evaluation and maintenance clocks until ctx is
// cancelled. An in-flight turn always completes before shutdown; the last
// act is a final persistence flush.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.restore(ctx); err != nil {
		return err
	}

	evalTicker := time.NewTicker(e.Config.EvalInterval())
	defer evalTicker.Stop()
	maintTicker := time.NewTicker(e.Config.MaintenanceInterval())
	defer maintTicker.Stop()

	e.logger.Info("Engine started",
		"eval_interval", e.Config.EvalInterval().String(),
		"maintenance_interval", e.Config.MaintenanceInterval().String(),
		"strategies", e.Registry.Len())

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("Shutdown requested, flushing state")
			e.turnMu.Lock()
			e.persistAll()
			e.turnMu.Unlock()
			e.Pool.Stop()
			return nil
		case <-evalTicker.C:
			e.RunEvalCycle(ctx)
		case <-maintTicker.C:
			e.RunMaintenance(ctx)
		}
	}
}

// restore loads persisted documents and reconciles against the exchange
// before the first cycle.
func (e *Engine) restore(ctx context.Context) error {
	positions, err := e.Persist.LoadPositions()
	if err != nil {
		return err
	}
	e.Store.Restore(positions)

	statsDoc, err := e.Persist.LoadDailyStats()
	if err != nil {
		return err
	}
	e.Stats.Restore(statsDoc, time.Now())
	telemetry.GetGlobalMetrics().SetKillSwitchActive(e.Stats.KillSwitchActive())

	cooldowns, err := e.Persist.LoadCooldowns()
	if err != nil {
		return err
	}
	e.Cooldowns.Restore(cooldowns, time.Now().UTC())

	if err := e.Reconciler.Run(ctx); err != nil {
		// Startup proceeds; the freshness gate blocks admissions until a
		// pass succeeds.
		e.logger.Error("Initial reconciliation failed", "error", err)
	}
	return nil
}

// RunEvalCycle executes one full evaluation turn: snapshot, strategy
// fan-out, batching, gate cascade, execution, persistence. Strictly
// serialized: one candidate at a time, one cycle at a time.
func (e *Engine) RunEvalCycle(ctx context.Context) {
	e.turnMu.Lock()
	defer e.turnMu.Unlock()

	start := time.Now()
	now := start.UTC()
	snapshot := e.Buffers.Snapshot(e.Config.Buffers.SnapshotDepth)

	e.manageExits(ctx, snapshot, now)

	for _, cand := range e.produceSignals(snapshot) {
		e.Batcher.Collect(cand, now)
	}

	if e.Batcher.ShouldFlush(now) {
		top, dropped := e.Batcher.Flush(e.Config.Batch.MaxPerBatch)
		if len(dropped) > 0 {
			telemetry.GetGlobalMetrics().RecordBatchDropped(ctx, int64(len(dropped)))
		}
		for _, ranked := range top {
			e.admitAndExecute(ctx, ranked.Candidate, snapshot)
		}
	}

	telemetry.GetGlobalMetrics().RecordCycle(ctx, float64(time.Since(start).Milliseconds()))
}

// produceSignals fans the snapshot out to all registered strategies on the
// worker pool. Strategies that miss the shared time budget are excluded
// from this cycle.
func (e *Engine) produceSignals(snapshot *core.MarketSnapshot) []*core.CandidateSignal {
	strategies := e.Registry.All()
	if len(strategies) == 0 {
		return nil
	}

	type produced struct {
		name string
		sigs []*core.CandidateSignal
	}
	ch := make(chan produced, len(strategies))
	for _, s := range strategies {
		s := s
		if err := e.Pool.Submit(func() {
			ch <- produced{name: s.Name(), sigs: s.Produce(snapshot)}
		}); err != nil {
			e.logger.Warn("Strategy pool rejected task", "strategy", s.Name(), "error", err)
			ch <- produced{name: s.Name()}
		}
	}

	timer := time.NewTimer(e.Config.StrategyTimeout())
	defer timer.Stop()

	var out []*core.CandidateSignal
	for collected := 0; collected < len(strategies); collected++ {
		select {
		case p := <-ch:
			out = append(out, p.sigs...)
		case <-timer.C:
			e.logger.Warn("Strategy time budget exceeded, excluding late strategies",
				"collected", collected, "total", len(strategies))
			return out
		}
	}
	return out
}

// admitAndExecute runs one ranked candidate through the gates and, if
// admitted, opens the position and commits the result.
func (e *Engine) admitAndExecute(ctx context.Context, cand *core.CandidateSignal, snapshot *core.MarketSnapshot) {
	now := time.Now().UTC()
	view := e.Store.View(now)
	decision := e.Gates.Evaluate(now, cand, snapshot, view)

	if e.Journal != nil {
		e.Journal.RecordDecision(ctx, &decision)
	}

	if !decision.Admitted {
		telemetry.GetGlobalMetrics().RecordRejection(ctx, string(decision.Category))
		e.logger.Debug("Candidate rejected", "symbol", cand.Symbol,
			"category", string(decision.Category), "reason", decision.Reason)
		return
	}
	telemetry.GetGlobalMetrics().RecordAdmission(ctx, string(decision.Tier))

	pos, err := e.Router.Open(ctx, core.OpenRequest{
		Symbol:        cand.Symbol,
		Side:          cand.Side,
		Notional:      decision.Notional,
		Entry:         cand.Entry,
		Stop:          cand.Stop,
		TP1:           cand.TP1,
		TP2:           cand.TP2,
		StrategyID:    cand.StrategyID,
		Tier:          decision.Tier,
		ClientOrderID: decision.ID,
	})
	if err != nil {
		e.logger.Error("Open failed", "symbol", cand.Symbol, "error", err)
		return
	}

	if err := e.Store.Track(pos); err != nil {
		// Should be unreachable: the duplicate gate ran in this same turn.
		e.logger.Error("Failed to track opened position", "symbol", pos.Symbol, "error", err)
		return
	}
	e.logger.Info("Position opened", "symbol", pos.Symbol, "tier", string(decision.Tier),
		"notional", decision.Notional.String(), "entry", pos.EntryPrice.String())

	e.persistPositions()
}

// manageExits walks the live positions and closes any whose stop or target
// has been hit at the snapshot price. External shadow positions are never
// auto-closed.
func (e *Engine) manageExits(ctx context.Context, snapshot *core.MarketSnapshot, now time.Time) {
	for symbol, pos := range e.Store.Positions() {
		if pos.External || pos.Dust {
			continue
		}
		if pos.State != core.PositionOpen && pos.State != core.PositionPartialClose {
			continue
		}
		w := snapshot.Window(symbol)
		if w == nil || w.LastPrice.Sign() <= 0 {
			continue
		}
		price := w.LastPrice

		switch {
		case hitStop(pos, price):
			e.closePosition(ctx, pos, price, "stop_loss")
		case hitTarget(pos, price, pos.TP2Price):
			e.closePosition(ctx, pos, price, "tp2")
		case !pos.PartialClosed && hitTarget(pos, price, pos.TP1Price):
			e.partialClose(ctx, pos, price)
		}
	}
}

// closePosition closes the full remaining quantity and commits the result.
// On failure the position reverts to its prior state so the next cycle's
// exit check retries it.
func (e *Engine) closePosition(ctx context.Context, pos *core.Position, price decimal.Decimal, reason string) {
	prior := pos.State
	pos.State = core.PositionClosing
	e.Store.Update(pos)

	result, err := e.Router.Close(ctx, pos, price, reason)
	if err != nil {
		e.logger.Error("Close failed, retrying next cycle", "symbol", pos.Symbol, "reason", reason, "error", err)
		pos.State = prior
		e.Store.Update(pos)
		return
	}
	e.commitClose(ctx, pos, result)
}

// partialClose realizes half the position at TP1 and keeps the rest
// running.
func (e *Engine) partialClose(ctx context.Context, pos *core.Position, price decimal.Decimal) {
	half := *pos
	half.Quantity = pos.Quantity.Div(decimal.NewFromInt(2))

	result, err := e.Router.Close(ctx, &half, price, "tp1")
	if err != nil {
		e.logger.Error("Partial close failed", "symbol", pos.Symbol, "error", err)
		return
	}

	pos.Quantity = pos.Quantity.Sub(half.Quantity)
	pos.RealizedPnL = pos.RealizedPnL.Add(result.PnL)
	pos.PartialClosed = true
	pos.State = core.PositionPartialClose
	e.Store.Update(pos)

	e.Store.RecordClose(result, 0) // no cooldown while the runner is live
	if e.Journal != nil {
		e.Journal.RecordTrade(ctx, result)
	}
	pnl, _ := result.PnL.Float64()
	telemetry.GetGlobalMetrics().RecordTradeClosed(ctx, result.Reason, pnl)

	e.logger.Info("Partial close at tp1", "symbol", pos.Symbol, "pnl", result.PnL.String())
	e.persistAll()
}

func (e *Engine) commitClose(ctx context.Context, pos *core.Position, result *core.TradeResult) {
	e.Store.Remove(pos.Symbol)
	// Losing closes get the long re-entry cooldown; profitable ones only
	// the short post-order hard cooldown.
	cooldown := time.Duration(e.Config.Gates.HardCooldownSeconds) * time.Second
	if result.PnL.Sign() < 0 {
		cooldown = time.Duration(e.Config.Gates.CooldownSeconds) * time.Second
	}
	e.Store.RecordClose(result, cooldown)
	if e.Journal != nil {
		e.Journal.RecordTrade(ctx, result)
	}
	pnl, _ := result.PnL.Float64()
	telemetry.GetGlobalMetrics().RecordTradeClosed(ctx, result.Reason, pnl)

	e.logger.Info("Position closed", "symbol", pos.Symbol, "reason", result.Reason,
		"pnl", result.PnL.String())
	e.persistAll()
}

// RunMaintenance executes one maintenance turn: day rollover, pruning,
// reconciliation and a persistence flush.
func (e *Engine) RunMaintenance(ctx context.Context) {
	e.turnMu.Lock()
	defer e.turnMu.Unlock()

	now := time.Now().UTC()
	if e.Stats.CheckReset(now) {
		telemetry.GetGlobalMetrics().SetKillSwitchActive(false)
	}

	if pruned := e.Cooldowns.Prune(now); pruned > 0 {
		e.logger.Debug("Pruned expired cooldowns", "count", pruned)
	}
	if e.CandleStore != nil {
		maxAge := time.Duration(e.Config.Buffers.FilePruneDays) * 24 * time.Hour
		if err := e.CandleStore.Prune(maxAge); err != nil {
			e.logger.Warn("Candle prune failed", "error", err)
		}
	}

	if err := e.Reconciler.Run(ctx); err != nil {
		e.logger.Error("Reconciliation failed", "error", err)
	}

	if e.UniverseRefresh != nil {
		e.UniverseRefresh(ctx)
	}

	e.persistAll()
}

func hitStop(pos *core.Position, price decimal.Decimal) bool {
	if pos.Side == core.SideSell {
		return price.Cmp(pos.StopPrice) >= 0
	}
	return price.Cmp(pos.StopPrice) <= 0
}

func hitTarget(pos *core.Position, price, target decimal.Decimal) bool {
	if target.Sign() <= 0 {
		return false
	}
	if pos.Side == core.SideSell {
		return price.Cmp(target) <= 0
	}
	return price.Cmp(target) >= 0
}

func (e *Engine) persistPositions() {
	if err := e.Persist.SavePositions(e.Store.Positions()); err != nil {
		e.logger.Error("Failed to persist positions", "error", err)
	}
}

// persistAll flushes every durable document.
func (e *Engine) persistAll() {
	e.persistPositions()
	if err := e.Persist.SaveDailyStats(e.Stats.Snapshot()); err != nil {
		e.logger.Error("Failed to persist daily stats", "error", err)
	}
	if err := e.Persist.SaveCooldowns(e.Cooldowns.Snapshot()); err != nil {
		e.logger.Error("Failed to persist cooldowns", "error", err)
	}
}
