package core

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of a trade.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// PositionState is the lifecycle state of a Position.
type PositionState string

const (
	PositionSignalGenerated PositionState = "signal_generated"
	PositionOpening         PositionState = "opening"
	PositionOpen            PositionState = "open"
	PositionPartialClose    PositionState = "partial_close"
	PositionClosing         PositionState = "closing"
	PositionClosed          PositionState = "closed"
)

// SignalType identifies the pattern class a strategy detected.
type SignalType string

const (
	SignalNone         SignalType = "none"
	SignalFlagBreakout SignalType = "flag_breakout"
	SignalFastBreakout SignalType = "fast_breakout"
	SignalBurst        SignalType = "burst_detected"
)

// RejectCategory is the closed taxonomy for gate rejections.
type RejectCategory string

const (
	RejectLimits         RejectCategory = "limits"
	RejectSpread         RejectCategory = "spread"
	RejectWarmth         RejectCategory = "warmth"
	RejectScore          RejectCategory = "score"
	RejectRegime         RejectCategory = "regime"
	RejectRisk           RejectCategory = "risk"
	RejectRR             RejectCategory = "rr"
	RejectTruth          RejectCategory = "truth"
	RejectCircuitBreaker RejectCategory = "circuit_breaker"
	RejectWhitelist      RejectCategory = "whitelist"
	RejectCooldown       RejectCategory = "cooldown"
	RejectBudget         RejectCategory = "budget"
)

// Tier is the notional-size bracket assigned to an admitted trade.
type Tier string

const (
	TierScout  Tier = "scout"
	TierNormal Tier = "normal"
	TierStrong Tier = "strong"
	TierWhale  Tier = "whale"
)

// Candle is one OHLCV bar.
type Candle struct {
	Timestamp time.Time       `json:"ts"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`
}

// Tick is a discrete price update with the quoted spread.
type Tick struct {
	Symbol    string
	Price     decimal.Decimal
	SpreadBps float64
	Timestamp time.Time
}

// SymbolWindow is the read-only market view for one symbol at snapshot time.
type SymbolWindow struct {
	Candles1m []Candle
	Candles5m []Candle
	LastPrice decimal.Decimal
	SpreadBps float64
}

// MarketSnapshot is an immutable copy of recent market data, taken once per
// evaluation cycle so evaluation never observes a buffer mid-append.
type MarketSnapshot struct {
	TakenAt time.Time
	Windows map[string]*SymbolWindow
}

// Window returns the window for symbol, or nil if the symbol is unknown.
func (s *MarketSnapshot) Window(symbol string) *SymbolWindow {
	if s == nil {
		return nil
	}
	return s.Windows[symbol]
}

// CandidateSignal is an immutable candidate trade emitted by a strategy.
type CandidateSignal struct {
	Symbol     string
	Side       Side
	Type       SignalType
	StrategyID string
	Score      float64
	Entry      decimal.Decimal
	Stop       decimal.Decimal
	TP1        decimal.Decimal
	TP2        decimal.Decimal
	SpreadBps  float64

	// Momentum features consumed by the batch allocator.
	Trend1h    float64
	Trend15m   float64
	VolSpike   float64
	Confluence int

	Context   map[string]string
	EmittedAt time.Time
}

// RRRatio is reward-to-TP1 over risk-to-stop. Returns 0 when the stop is
// not on the loss side of entry.
func (c *CandidateSignal) RRRatio() float64 {
	risk := c.Entry.Sub(c.Stop)
	reward := c.TP1.Sub(c.Entry)
	if c.Side == SideSell {
		risk = c.Stop.Sub(c.Entry)
		reward = c.Entry.Sub(c.TP1)
	}
	if risk.Sign() <= 0 {
		return 0
	}
	rr, _ := reward.Div(risk).Float64()
	return rr
}

// AdmissionDecision is the outcome of running one candidate through the
// gate cascade. Ephemeral: journaled, then discarded.
type AdmissionDecision struct {
	ID        string
	Signal    *CandidateSignal
	Admitted  bool
	Tier      Tier
	Notional  decimal.Decimal
	Category  RejectCategory
	Reason    string
	Score     float64
	DecidedAt time.Time
}

// Position is an open or closing trade, exclusively owned by the shared
// state store.
type Position struct {
	Symbol        string          `json:"symbol"`
	Side          Side            `json:"side"`
	EntryPrice    decimal.Decimal `json:"entry_price"`
	EntryTime     time.Time       `json:"entry_time"`
	Quantity      decimal.Decimal `json:"quantity"`
	Notional      decimal.Decimal `json:"notional"`
	StopPrice     decimal.Decimal `json:"stop_price"`
	TP1Price      decimal.Decimal `json:"tp1_price"`
	TP2Price      decimal.Decimal `json:"tp2_price"`
	StrategyID    string          `json:"strategy_id"`
	State         PositionState   `json:"state"`
	Tier          Tier            `json:"tier"`
	RealizedPnL   decimal.Decimal `json:"realized_pnl"`
	PartialClosed bool            `json:"partial_closed"`

	// External marks a shadow record adopted from the exchange during
	// reconciliation rather than opened by the engine.
	External bool `json:"external"`
	// Dust marks a position below the minimum notional; kept for display,
	// excluded from position-count limits.
	Dust bool `json:"dust"`
}

// Validate checks the structural invariants that must hold while OPEN.
func (p *Position) Validate() error {
	if p.State != PositionOpen && p.State != PositionPartialClose {
		return nil
	}
	if p.Quantity.Sign() <= 0 {
		return fmt.Errorf("position %s: non-positive quantity %s", p.Symbol, p.Quantity)
	}
	switch p.Side {
	case SideBuy:
		if p.StopPrice.Cmp(p.EntryPrice) >= 0 {
			return fmt.Errorf("position %s: stop %s not below entry %s", p.Symbol, p.StopPrice, p.EntryPrice)
		}
	case SideSell:
		if p.StopPrice.Cmp(p.EntryPrice) <= 0 {
			return fmt.Errorf("position %s: stop %s not above entry %s", p.Symbol, p.StopPrice, p.EntryPrice)
		}
	default:
		return fmt.Errorf("position %s: unknown side %q", p.Symbol, p.Side)
	}
	return nil
}

// UnrealizedPnL values the position at price.
func (p *Position) UnrealizedPnL(price decimal.Decimal) decimal.Decimal {
	diff := price.Sub(p.EntryPrice)
	if p.Side == SideSell {
		diff = diff.Neg()
	}
	return diff.Mul(p.Quantity)
}

// CostBasis is the original cost at entry, used for budget math.
func (p *Position) CostBasis() decimal.Decimal {
	if p.Notional.Sign() > 0 {
		return p.Notional
	}
	return p.EntryPrice.Mul(p.Quantity)
}

// TradeResult is the realized outcome of a close or partial close.
type TradeResult struct {
	Symbol   string
	Side     Side
	Quantity decimal.Decimal
	Price    decimal.Decimal
	PnL      decimal.Decimal
	Reason   string
	ClosedAt time.Time
}

// ExchangeHolding is one authoritative open position reported by the
// exchange-truth collaborator.
type ExchangeHolding struct {
	Symbol     string
	Quantity   decimal.Decimal
	EntryPrice decimal.Decimal
	ValueUSD   decimal.Decimal
}
