// Package core defines the domain model and capability interfaces of the
// order router.
package core

import (
	"context"

	"github.com/shopspring/decimal"
)

// ILogger defines the interface for logging
type ILogger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
	Fatal(msg string, fields ...interface{})
	WithField(key string, value interface{}) ILogger
	WithFields(fields map[string]interface{}) ILogger
}

// Strategy emits candidate signals when invoked with a market snapshot.
// Implementations must return promptly; the evaluation cycle excludes
// strategies that exceed their time budget.
type Strategy interface {
	Name() string
	Produce(snapshot *MarketSnapshot) []*CandidateSignal
}

// OpenRequest asks the execution adapter to open a position.
type OpenRequest struct {
	Symbol        string
	Side          Side
	Notional      decimal.Decimal
	Entry         decimal.Decimal
	Stop          decimal.Decimal
	TP1           decimal.Decimal
	TP2           decimal.Decimal
	StrategyID    string
	Tier          Tier
	ClientOrderID string
}

// ExecutionAdapter turns admitted decisions into orders. Paper and live
// implementations are selected by the process mode flag. Partial fills are
// accepted: the returned Position's quantity reflects the filled amount.
type ExecutionAdapter interface {
	Name() string
	Ready() error
	Open(ctx context.Context, req OpenRequest) (*Position, error)
	Close(ctx context.Context, pos *Position, price decimal.Decimal, reason string) (*TradeResult, error)
}

// ExchangeTruth is the read-only authoritative view of the exchange,
// used exclusively by reconciliation.
type ExchangeTruth interface {
	OpenPositions(ctx context.Context) ([]ExchangeHolding, error)
	Balance(ctx context.Context) (decimal.Decimal, error)
}

// DailyStatsDoc is the persisted daily-stats document.
type DailyStatsDoc struct {
	Date        string          `json:"date"`
	Trades      int             `json:"trades"`
	Wins        int             `json:"wins"`
	Losses      int             `json:"losses"`
	RealizedPnL decimal.Decimal `json:"realized_pnl"`
	PeakPnL     decimal.Decimal `json:"peak_pnl"`
	MaxDrawdown decimal.Decimal `json:"max_drawdown"`
	KillSwitch  bool            `json:"kill_switch"`
}

// StateStore persists the positions document and the daily-stats document.
type StateStore interface {
	SavePositions(positions map[string]*Position) error
	LoadPositions() (map[string]*Position, error)
	SaveDailyStats(doc *DailyStatsDoc) error
	LoadDailyStats() (*DailyStatsDoc, error)
}

// HealthChecker reports component health; the gate cascade consults it for
// executor readiness.
type HealthChecker interface {
	Register(component string, check func() error)
	GetStatus() map[string]string
	IsHealthy() bool
}
