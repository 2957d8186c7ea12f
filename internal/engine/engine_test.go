package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"order_router/internal/batch"
	"order_router/internal/config"
	"order_router/internal/core"
	"order_router/internal/execution"
	"order_router/internal/market"
	"order_router/internal/persist"
	"order_router/internal/reconcile"
	"order_router/internal/risk"
	"order_router/internal/state"
	"order_router/internal/strategy"
	"order_router/pkg/concurrency"
)

type nopLogger struct{}

func (nopLogger) Debug(string, ...interface{})                     {}
func (nopLogger) Info(string, ...interface{})                      {}
func (nopLogger) Warn(string, ...interface{})                      {}
func (nopLogger) Error(string, ...interface{})                     {}
func (nopLogger) Fatal(string, ...interface{})                     {}
func (l nopLogger) WithField(string, interface{}) core.ILogger     { return l }
func (l nopLogger) WithFields(map[string]interface{}) core.ILogger { return l }

type fakeHealth struct{}

func (fakeHealth) Register(string, func() error) {}
func (fakeHealth) GetStatus() map[string]string  { return nil }
func (fakeHealth) IsHealthy() bool               { return true }

// scripted emits a fixed set of signals every cycle.
type scripted struct {
	sigs []*core.CandidateSignal
}

func (s *scripted) Name() string { return "scripted" }

func (s *scripted) Produce(*core.MarketSnapshot) []*core.CandidateSignal {
	return s.sigs
}

type fixture struct {
	engine  *Engine
	store   *state.Store
	paper   *execution.PaperAdapter
	breaker *risk.CircuitBreaker
	stats   *risk.DailyStats
	script  *scripted
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	cfg := config.Default()
	cfg.Batch.WindowSeconds = 0 // flush every cycle
	cfg.Buffers.WarmMin1m = 0
	cfg.Buffers.WarmMin5m = 0
	cfg.Execution.RetryBackoffMillis = 1
	cfg.Scheduler.StrategyTimeoutMillis = 2000

	logger := nopLogger{}
	buffers := market.NewBufferSet(cfg.Buffers.MaxCandles1m, cfg.Buffers.MaxCandles5m)
	stats := risk.NewDailyStats(cfg.Risk.DailyMaxLossUSD, logger)
	cooldowns := risk.NewCooldownBook()
	breaker := risk.NewCircuitBreaker(cfg.Risk.BreakerMaxFailures,
		time.Duration(cfg.Risk.BreakerResetSeconds)*time.Second, logger)
	store := state.NewStore(stats, cooldowns, logger)

	warm := func(symbol string) bool {
		return buffers.Warm(symbol, cfg.Buffers.WarmMin1m, cfg.Buffers.WarmMin5m)
	}
	gates := risk.NewGateChecker(cfg, warm, breaker, fakeHealth{})

	paper := execution.NewPaperAdapter(cfg.Execution.PaperBalanceUSD, 0, 0)
	router := execution.NewRouter(paper, breaker, cfg.Execution, logger)

	fileStore, err := persist.NewFileStore(t.TempDir(), logger)
	require.NoError(t, err)

	reconciler := reconcile.New(paper, store, breaker, reconcile.Config{
		GraceWindow:        cfg.GraceWindow(),
		DustMinNotionalUSD: cfg.Risk.DustMinNotionalUSD,
		FetchTimeout:       time.Second,
	}, logger)

	script := &scripted{}
	registry := strategy.NewRegistry()
	require.NoError(t, registry.Register(script))

	pool := concurrency.NewWorkerPool(concurrency.PoolConfig{
		Name: "strategies", MaxWorkers: 2, MaxCapacity: 16,
	}, logger)
	t.Cleanup(pool.Stop)

	batcher := batch.NewBatcher(cfg.BatchWindow(), batch.Weights{
		Score:    cfg.Batch.WeightScore,
		Trend1h:  cfg.Batch.WeightTrend1h,
		Trend15m: cfg.Batch.WeightTrend15m,
		VolSpike: cfg.Batch.WeightVolSpike,
	}, logger)

	eng := New(Deps{
		Config:     cfg,
		Logger:     logger,
		Buffers:    buffers,
		Registry:   registry,
		Batcher:    batcher,
		Gates:      gates,
		Stats:      stats,
		Cooldowns:  cooldowns,
		Breaker:    breaker,
		Store:      store,
		Persist:    fileStore,
		Router:     router,
		Reconciler: reconciler,
		Pool:       pool,
	})

	// Fresh exchange truth so the staleness gate passes.
	require.NoError(t, reconciler.Run(context.Background()))

	return &fixture{engine: eng, store: store, paper: paper, breaker: breaker, stats: stats, script: script}
}

func signal(symbol string, score float64) *core.CandidateSignal {
	return &core.CandidateSignal{
		Symbol:     symbol,
		Side:       core.SideBuy,
		Type:       core.SignalFastBreakout,
		StrategyID: "scripted",
		Score:      score,
		Entry:      decimal.NewFromInt(100),
		Stop:       decimal.NewFromInt(95),
		TP1:        decimal.NewFromInt(110),
		TP2:        decimal.NewFromInt(120),
		SpreadBps:  10,
		EmittedAt:  time.Now().UTC(),
	}
}

func tick(symbol string, price int64) core.Tick {
	return core.Tick{
		Symbol:    symbol,
		Price:     decimal.NewFromInt(price),
		SpreadBps: 10,
		Timestamp: time.Now().UTC(),
	}
}

func TestCycleOpensAdmittedPosition(t *testing.T) {
	f := newFixture(t)
	f.engine.OnTick(tick("BTCUSDT", 100))
	f.script.sigs = []*core.CandidateSignal{signal("BTCUSDT", 75)}

	f.engine.RunEvalCycle(context.Background())

	pos, ok := f.store.Position("BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, core.PositionOpen, pos.State)
	assert.Equal(t, core.TierNormal, pos.Tier)
	assert.Equal(t, "scripted", pos.StrategyID)

	// The paper book agrees.
	holdings, err := f.paper.OpenPositions(context.Background())
	require.NoError(t, err)
	require.Len(t, holdings, 1)
}

func TestSecondCycleRejectsDuplicate(t *testing.T) {
	f := newFixture(t)
	f.engine.OnTick(tick("BTCUSDT", 100))
	f.script.sigs = []*core.CandidateSignal{signal("BTCUSDT", 75)}

	f.engine.RunEvalCycle(context.Background())
	f.engine.RunEvalCycle(context.Background())

	holdings, err := f.paper.OpenPositions(context.Background())
	require.NoError(t, err)
	assert.Len(t, holdings, 1, "duplicate admission blocked")
}

func TestBatchKeepsTopRanked(t *testing.T) {
	f := newFixture(t)
	f.engine.OnTick(tick("AAAUSDT", 100))
	f.engine.OnTick(tick("BBBUSDT", 100))

	weak := signal("AAAUSDT", 72)
	strong := signal("BBBUSDT", 88)
	f.script.sigs = []*core.CandidateSignal{weak, strong}
	f.engine.Config.Batch.MaxPerBatch = 1

	f.engine.RunEvalCycle(context.Background())

	_, ok := f.store.Position("BBBUSDT")
	assert.True(t, ok, "higher-ranked symbol admitted")
	_, ok = f.store.Position("AAAUSDT")
	assert.False(t, ok, "lower-ranked symbol dropped by the batch")
}

func TestStopLossExitSetsCooldownAndStats(t *testing.T) {
	f := newFixture(t)
	f.engine.OnTick(tick("BTCUSDT", 100))
	f.script.sigs = []*core.CandidateSignal{signal("BTCUSDT", 75)}
	f.engine.RunEvalCycle(context.Background())

	// Price falls through the stop; the next cycle closes the position.
	f.script.sigs = nil
	f.engine.OnTick(tick("BTCUSDT", 94))
	f.engine.RunEvalCycle(context.Background())

	_, ok := f.store.Position("BTCUSDT")
	assert.False(t, ok)

	v := f.store.View(time.Now())
	assert.True(t, v.DailyPnL.Sign() < 0)
	_, cooling := v.Cooldowns["BTCUSDT"]
	assert.True(t, cooling, "close starts the re-entry cooldown")
}

func TestPartialCloseAtTP1ThenFullAtTP2(t *testing.T) {
	f := newFixture(t)
	f.engine.OnTick(tick("BTCUSDT", 100))
	f.script.sigs = []*core.CandidateSignal{signal("BTCUSDT", 75)}
	f.engine.RunEvalCycle(context.Background())
	f.script.sigs = nil

	before, _ := f.store.Position("BTCUSDT")

	f.engine.OnTick(tick("BTCUSDT", 111))
	f.engine.RunEvalCycle(context.Background())

	pos, ok := f.store.Position("BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, core.PositionPartialClose, pos.State)
	assert.True(t, pos.PartialClosed)
	assert.True(t, pos.Quantity.LessThan(before.Quantity))
	assert.True(t, pos.RealizedPnL.Sign() > 0)

	f.engine.OnTick(tick("BTCUSDT", 121))
	f.engine.RunEvalCycle(context.Background())

	_, ok = f.store.Position("BTCUSDT")
	assert.False(t, ok, "runner closed at tp2")
}

func TestFailedCloseRevertsAndRetriesNextCycle(t *testing.T) {
	f := newFixture(t)
	f.engine.OnTick(tick("BTCUSDT", 100))
	f.script.sigs = []*core.CandidateSignal{signal("BTCUSDT", 75)}
	f.engine.RunEvalCycle(context.Background())
	f.script.sigs = nil

	// The exchange rejects the close once; the position must not be left
	// stranded mid-close.
	f.paper.FailNext(1, errors.New("order rejected"))
	f.engine.OnTick(tick("BTCUSDT", 94))
	f.engine.RunEvalCycle(context.Background())

	pos, ok := f.store.Position("BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, core.PositionOpen, pos.State, "failed close reverts so the exit re-fires")

	// The next healthy cycle retries the stop-loss exit.
	f.engine.RunEvalCycle(context.Background())
	_, ok = f.store.Position("BTCUSDT")
	assert.False(t, ok)
}

func TestCooldownLengthTracksCloseOutcome(t *testing.T) {
	f := newFixture(t)
	f.engine.OnTick(tick("BTCUSDT", 100))
	f.script.sigs = []*core.CandidateSignal{signal("BTCUSDT", 75)}
	f.engine.RunEvalCycle(context.Background())
	f.script.sigs = nil

	// Profitable tp2 exit: only the short post-order cooldown applies.
	f.engine.OnTick(tick("BTCUSDT", 121))
	f.engine.RunEvalCycle(context.Background())

	now := time.Now()
	v := f.store.View(now)
	exp, ok := v.Cooldowns["BTCUSDT"]
	require.True(t, ok)
	hard := time.Duration(f.engine.Config.Gates.HardCooldownSeconds) * time.Second
	long := time.Duration(f.engine.Config.Gates.CooldownSeconds) * time.Second
	assert.True(t, exp.Before(now.Add(hard+time.Minute)), "winner gets the short cooldown")

	// Losing stop-loss exit on another symbol gets the long re-entry cooldown.
	f.engine.OnTick(tick("ETHUSDT", 100))
	f.script.sigs = []*core.CandidateSignal{signal("ETHUSDT", 75)}
	f.engine.RunEvalCycle(context.Background())
	f.script.sigs = nil
	f.engine.OnTick(tick("ETHUSDT", 94))
	f.engine.RunEvalCycle(context.Background())

	now = time.Now()
	v = f.store.View(now)
	exp, ok = v.Cooldowns["ETHUSDT"]
	require.True(t, ok)
	assert.True(t, exp.After(now.Add(long-time.Minute)), "loser gets the long cooldown")
}

func TestKillSwitchBlocksNewAdmissions(t *testing.T) {
	f := newFixture(t)
	f.stats.RecordTrade(decimal.NewFromFloat(-100)) // past the ceiling

	f.engine.OnTick(tick("BTCUSDT", 100))
	f.script.sigs = []*core.CandidateSignal{signal("BTCUSDT", 75)}
	f.engine.RunEvalCycle(context.Background())

	_, ok := f.store.Position("BTCUSDT")
	assert.False(t, ok)
}

func TestMaintenanceReconcilesAndPersists(t *testing.T) {
	f := newFixture(t)
	f.engine.OnTick(tick("BTCUSDT", 100))
	f.script.sigs = []*core.CandidateSignal{signal("BTCUSDT", 75)}
	f.engine.RunEvalCycle(context.Background())

	// Seed an exchange-only holding; maintenance adopts it.
	f.paper.AdoptHolding(&core.Position{
		Symbol:     "ETHUSDT",
		Side:       core.SideBuy,
		EntryPrice: decimal.NewFromInt(3000),
		Quantity:   decimal.RequireFromString("0.01"),
	})

	f.engine.RunMaintenance(context.Background())

	adopted, ok := f.store.Position("ETHUSDT")
	require.True(t, ok)
	assert.True(t, adopted.External)
	assert.Equal(t, "synced", adopted.StrategyID)

	// Persisted documents round-trip through the store.
	loaded, err := f.engine.Persist.LoadPositions()
	require.NoError(t, err)
	assert.Len(t, loaded, 2)
}

func TestIngestionFeedsSnapshot(t *testing.T) {
	f := newFixture(t)
	base := time.Now().UTC().Truncate(time.Minute)
	for i := 0; i < 3; i++ {
		p := decimal.NewFromInt(100 + int64(i))
		f.engine.OnCandle("BTCUSDT", market.Timeframe1m, core.Candle{
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			Open:      p, High: p, Low: p, Close: p, Volume: decimal.NewFromInt(1),
		})
	}

	snap := f.engine.Buffers.Snapshot(10)
	require.NotNil(t, snap.Window("BTCUSDT"))
	assert.Len(t, snap.Window("BTCUSDT").Candles1m, 3)
}
