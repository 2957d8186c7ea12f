// Package bootstrap wires the router's dependency graph and owns the
// process lifecycle: config, logging, telemetry, stores, engine, feed and
// graceful signal-driven shutdown.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"order_router/internal/batch"
	"order_router/internal/config"
	"order_router/internal/core"
	"order_router/internal/engine"
	"order_router/internal/exchange"
	"order_router/internal/execution"
	"order_router/internal/infrastructure/health"
	"order_router/internal/infrastructure/metrics"
	"order_router/internal/journal"
	"order_router/internal/market"
	"order_router/internal/persist"
	"order_router/internal/reconcile"
	"order_router/internal/risk"
	"order_router/internal/state"
	"order_router/internal/strategy"
	"order_router/pkg/concurrency"
	"order_router/pkg/logging"
	"order_router/pkg/telemetry"
)

// App holds the fully wired router.
type App struct {
	Cfg    *config.Config
	Logger *logging.ZapLogger

	Engine  *engine.Engine
	Feed    *exchange.Feed // nil when no universe symbols are configured
	Metrics *metrics.Server
	Journal *journal.Journal // nil when journaling is disabled

	telemetry *telemetry.Telemetry
}

// NewApp loads configuration and builds the full dependency graph.
// mode overrides the configured paper/live mode when non-empty.
func NewApp(configPath, mode string) (*App, error) {
	cfg, err := loadConfig(configPath, mode)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	logger, err := logging.NewZapLogger(cfg.App.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}

	tel, err := telemetry.Setup("order_router")
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	buffers := market.NewBufferSet(cfg.Buffers.MaxCandles1m, cfg.Buffers.MaxCandles5m)

	var candleStore *market.FileStore
	if cfg.Buffers.PersistCandles {
		candleStore, err = market.NewFileStore(filepath.Join(cfg.App.DataDir, "candles"), logger)
		if err != nil {
			return nil, fmt.Errorf("candle store: %w", err)
		}
		maxAge := time.Duration(cfg.Buffers.MaxAgeHours) * time.Hour
		candleStore.Rehydrate(buffers, cfg.Universe.Symbols, maxAge)
	}

	fileStore, err := persist.NewFileStore(filepath.Join(cfg.App.DataDir, "state"), logger)
	if err != nil {
		return nil, fmt.Errorf("state store: %w", err)
	}

	var jrnl *journal.Journal
	if cfg.Journal.Enabled {
		jrnl, err = journal.Open(cfg.Journal.Path, logger)
		if err != nil {
			// Journaling is forensic, not load-bearing.
			logger.Warn("Journal unavailable, continuing without it", "error", err)
			jrnl = nil
		}
	}

	stats := risk.NewDailyStats(cfg.Risk.DailyMaxLossUSD, logger)
	cooldowns := risk.NewCooldownBook()
	breaker := risk.NewCircuitBreaker(cfg.Risk.BreakerMaxFailures,
		time.Duration(cfg.Risk.BreakerResetSeconds)*time.Second, logger)
	store := state.NewStore(stats, cooldowns, logger)

	hm := health.NewHealthManager(logger)

	warm := func(symbol string) bool {
		return buffers.Warm(symbol, cfg.Buffers.WarmMin1m, cfg.Buffers.WarmMin5m)
	}
	gates := risk.NewGateChecker(cfg, warm, breaker, hm)

	adapter, truth := buildExecution(cfg, logger)
	hm.Register("executor", adapter.Ready)

	router := execution.NewRouter(adapter, breaker, cfg.Execution, logger)
	reconciler := reconcile.New(truth, store, breaker, reconcile.Config{
		GraceWindow:        cfg.GraceWindow(),
		DustMinNotionalUSD: cfg.Risk.DustMinNotionalUSD,
		FetchTimeout:       time.Duration(cfg.Execution.OrderTimeoutSeconds) * time.Second,
	}, logger)

	registry := strategy.NewRegistry()
	if err := registry.Register(strategy.NewMomentum(strategy.DefaultMomentumConfig())); err != nil {
		return nil, fmt.Errorf("strategy registry: %w", err)
	}

	pool := concurrency.NewWorkerPool(concurrency.PoolConfig{
		Name:        "strategy_pool",
		MaxWorkers:  cfg.Scheduler.StrategyPoolSize,
		MaxCapacity: cfg.Scheduler.StrategyPoolSize * 4,
		NonBlocking: true,
	}, logger)

	batcher := batch.NewBatcher(cfg.BatchWindow(), batch.Weights{
		Score:    cfg.Batch.WeightScore,
		Trend1h:  cfg.Batch.WeightTrend1h,
		Trend15m: cfg.Batch.WeightTrend15m,
		VolSpike: cfg.Batch.WeightVolSpike,
	}, logger)

	eng := engine.New(engine.Deps{
		Config:      cfg,
		Logger:      logger,
		Buffers:     buffers,
		CandleStore: candleStore,
		Registry:    registry,
		Batcher:     batcher,
		Gates:       gates,
		Stats:       stats,
		Cooldowns:   cooldowns,
		Breaker:     breaker,
		Store:       store,
		Persist:     fileStore,
		Journal:     jrnl,
		Router:      router,
		Reconciler:  reconciler,
		Pool:        pool,
	})

	app := &App{
		Cfg:       cfg,
		Logger:    logger,
		Engine:    eng,
		Journal:   jrnl,
		telemetry: tel,
	}
	// Market data streams are public, so the feed runs in paper mode too.
	if len(cfg.Universe.Symbols) > 0 {
		app.Feed = exchange.NewFeed(cfg.Universe.Symbols, eng, logger)
	}
	if cfg.Telemetry.EnableMetrics {
		app.Metrics = metrics.NewServer(cfg.Telemetry.MetricsPort, hm, logger)
	}
	return app, nil
}

// loadConfig reads the config file (defaults when path is empty), applies
// the mode override and re-validates.
func loadConfig(path, mode string) (*config.Config, error) {
	var cfg *config.Config
	if path == "" {
		cfg = config.Default()
	} else {
		loaded, err := config.LoadConfig(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if mode != "" {
		cfg.App.Mode = mode
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.App.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("data dir: %w", err)
	}
	return cfg, nil
}

// buildExecution selects the adapter/truth pair for the configured mode.
func buildExecution(cfg *config.Config, logger core.ILogger) (core.ExecutionAdapter, core.ExchangeTruth) {
	if cfg.App.Mode == "live" {
		client := exchange.NewClient(cfg.Exchange)
		return exchange.NewLiveAdapter(client, logger),
			exchange.NewTruth(client, cfg.Universe.Stablecoins, logger)
	}
	paper := execution.NewPaperAdapter(cfg.Execution.PaperBalanceUSD,
		cfg.Execution.PaperSlippageBps, cfg.Execution.PaperFeeBps)
	return paper, paper
}

// Run drives the process until a termination signal or a fatal component
// error. The engine always gets to finish its in-flight turn and flush.
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a.Logger.Info("Starting order router",
		"mode", a.Cfg.App.Mode,
		"symbols", len(a.Cfg.Universe.Symbols))

	if a.Metrics != nil {
		a.Metrics.Start()
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.Engine.Start(ctx)
	})
	if a.Feed != nil {
		g.Go(func() error {
			return a.Feed.Run(ctx)
		})
	}

	err := g.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if a.Metrics != nil {
		if serr := a.Metrics.Stop(shutdownCtx); serr != nil {
			a.Logger.Error("Metrics server shutdown failed", "error", serr)
		}
	}
	if a.Journal != nil {
		if jerr := a.Journal.Close(); jerr != nil {
			a.Logger.Error("Journal close failed", "error", jerr)
		}
	}
	if terr := a.telemetry.Shutdown(shutdownCtx); terr != nil {
		a.Logger.Error("Telemetry shutdown failed", "error", terr)
	}
	_ = a.Logger.Sync()

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	a.Logger.Info("Order router stopped")
	return nil
}
