package strategy

import (
	"time"

	"github.com/shopspring/decimal"

	"order_router/internal/core"
)

// MomentumConfig tunes the reference breakout strategy.
type MomentumConfig struct {
	// Lookback is how many 1m candles form the breakout range.
	Lookback int
	// VolSpikeMin is the minimum last-candle volume over the lookback
	// average.
	VolSpikeMin float64
	// StopPct and TP1Pct/TP2Pct derive exit levels from entry.
	StopPct float64
	TP1Pct  float64
	TP2Pct  float64
}

// DefaultMomentumConfig returns workable paper-mode parameters.
func DefaultMomentumConfig() MomentumConfig {
	return MomentumConfig{
		Lookback:    20,
		VolSpikeMin: 2.0,
		StopPct:     0.02,
		TP1Pct:      0.03,
		TP2Pct:      0.06,
	}
}

// Momentum detects volume-backed breakouts above the recent 1m range. It
// exists to exercise the full pipeline in paper runs and tests, not to make
// money.
type Momentum struct {
	cfg MomentumConfig
}

// NewMomentum creates the reference strategy.
func NewMomentum(cfg MomentumConfig) *Momentum {
	return &Momentum{cfg: cfg}
}

func (m *Momentum) Name() string { return "momentum" }

// Produce scans every symbol window for a close above the prior range high
// on a volume spike.
func (m *Momentum) Produce(snapshot *core.MarketSnapshot) []*core.CandidateSignal {
	var out []*core.CandidateSignal
	for symbol, w := range snapshot.Windows {
		if sig := m.scan(symbol, w, snapshot.TakenAt); sig != nil {
			out = append(out, sig)
		}
	}
	return out
}

func (m *Momentum) scan(symbol string, w *core.SymbolWindow, at time.Time) *core.CandidateSignal {
	candles := w.Candles1m
	if len(candles) < m.cfg.Lookback+1 {
		return nil
	}

	last := candles[len(candles)-1]
	prior := candles[len(candles)-1-m.cfg.Lookback : len(candles)-1]

	rangeHigh := prior[0].High
	volSum := decimal.Zero
	for _, c := range prior {
		if c.High.Cmp(rangeHigh) > 0 {
			rangeHigh = c.High
		}
		volSum = volSum.Add(c.Volume)
	}
	if last.Close.Cmp(rangeHigh) <= 0 {
		return nil
	}

	avgVol := volSum.Div(decimal.NewFromInt(int64(len(prior))))
	volSpike := 0.0
	if avgVol.Sign() > 0 {
		volSpike, _ = last.Volume.Div(avgVol).Float64()
	}
	if volSpike < m.cfg.VolSpikeMin {
		return nil
	}

	entry := last.Close
	breakoutPct, _ := entry.Sub(rangeHigh).Div(rangeHigh).Mul(decimal.NewFromInt(100)).Float64()

	// Score: base for the breakout, plus volume and extension bonuses.
	score := 60.0 + minFloat(volSpike*5, 25) + minFloat(breakoutPct*10, 15)

	trend15 := trendOver(candles, 15)
	trend1h := trendOver(candles, 60)

	confluence := 0
	if trend15 > 0 {
		confluence++
	}
	if trend1h > 0 {
		confluence++
	}
	if volSpike >= 2*m.cfg.VolSpikeMin {
		confluence++
	}

	pct := func(p float64) decimal.Decimal { return decimal.NewFromFloat(p) }
	return &core.CandidateSignal{
		Symbol:     symbol,
		Side:       core.SideBuy,
		Type:       core.SignalFastBreakout,
		StrategyID: m.Name(),
		Score:      score,
		Entry:      entry,
		Stop:       entry.Mul(pct(1 - m.cfg.StopPct)),
		TP1:        entry.Mul(pct(1 + m.cfg.TP1Pct)),
		TP2:        entry.Mul(pct(1 + m.cfg.TP2Pct)),
		SpreadBps:  w.SpreadBps,
		Trend1h:    trend1h,
		Trend15m:   trend15,
		VolSpike:   volSpike,
		Confluence: confluence,
		EmittedAt:  at,
	}
}

// trendOver is the fractional close change over the last n 1m candles.
func trendOver(candles []core.Candle, n int) float64 {
	if len(candles) < n+1 {
		n = len(candles) - 1
	}
	if n <= 0 {
		return 0
	}
	first := candles[len(candles)-1-n].Close
	last := candles[len(candles)-1].Close
	if first.Sign() <= 0 {
		return 0
	}
	v, _ := last.Sub(first).Div(first).Float64()
	return v
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
