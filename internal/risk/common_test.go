package risk

import (
	"time"

	"github.com/shopspring/decimal"

	"order_router/internal/config"
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

type fakeHealth struct{ healthy bool }

func (f *fakeHealth) Register(string, func() error) {}
func (f *fakeHealth) GetStatus() map[string]string  { return nil }
func (f *fakeHealth) IsHealthy() bool               { return f.healthy }

func testCandidate(symbol string, score float64) *core.CandidateSignal {
	return &core.CandidateSignal{
		Symbol:     symbol,
		Side:       core.SideBuy,
		Type:       core.SignalFlagBreakout,
		StrategyID: "momentum",
		Score:      score,
		Entry:      decimal.NewFromInt(100),
		Stop:       decimal.NewFromInt(95),
		TP1:        decimal.NewFromInt(110),
		TP2:        decimal.NewFromInt(120),
		SpreadBps:  10,
		EmittedAt:  time.Now().UTC(),
	}
}

func freshView(now time.Time) *core.StateView {
	return &core.StateView{
		Positions:      map[string]*core.Position{},
		TierCounts:     map[core.Tier]int{},
		SymbolExposure: map[string]decimal.Decimal{},
		Balance:        decimal.NewFromInt(500),
		Cooldowns:      map[string]time.Time{},
		Untracked:      map[string]bool{},
		LastSyncAt:     now.Add(-10 * time.Second),
		TakenAt:        now,
	}
}

func testGateConfig() *config.Config {
	cfg := config.Default()
	return cfg
}

func alwaysWarm(string) bool { return true }

func newTestChecker(cfg *config.Config, breaker *CircuitBreaker) *GateChecker {
	if breaker == nil {
		breaker = NewCircuitBreaker(cfg.Risk.BreakerMaxFailures, time.Duration(cfg.Risk.BreakerResetSeconds)*time.Second, nopLogger{})
	}
	return NewGateChecker(cfg, alwaysWarm, breaker, &fakeHealth{healthy: true})
}

func emptySnapshot(now time.Time) *core.MarketSnapshot {
	return &core.MarketSnapshot{TakenAt: now, Windows: map[string]*core.SymbolWindow{}}
}
