package strategy

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"order_router/internal/core"
)

type named struct{ name string }

func (n named) Name() string { return n.name }

func (named) Produce(*core.MarketSnapshot) []*core.CandidateSignal { return nil }

func TestRegistryOrderAndDuplicates(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(named{"zeta"}))
	require.NoError(t, r.Register(named{"alpha"}))
	require.NoError(t, r.Register(named{"mid"}))

	assert.Error(t, r.Register(named{"alpha"}))

	all := r.All()
	require.Len(t, all, 3)
	assert.Equal(t, "alpha", all[0].Name())
	assert.Equal(t, "mid", all[1].Name())
	assert.Equal(t, "zeta", all[2].Name())
}

func flatWindow(n int, price, volume float64) *core.SymbolWindow {
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	candles := make([]core.Candle, 0, n)
	p := decimal.NewFromFloat(price)
	v := decimal.NewFromFloat(volume)
	for i := 0; i < n; i++ {
		candles = append(candles, core.Candle{
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			Open:      p, High: p, Low: p, Close: p, Volume: v,
		})
	}
	return &core.SymbolWindow{Candles1m: candles, LastPrice: p, SpreadBps: 10}
}

func withBreakout(w *core.SymbolWindow, closePrice, volume float64) *core.SymbolWindow {
	last := w.Candles1m[len(w.Candles1m)-1]
	c := decimal.NewFromFloat(closePrice)
	w.Candles1m[len(w.Candles1m)-1] = core.Candle{
		Timestamp: last.Timestamp,
		Open:      last.Open,
		High:      c,
		Low:       last.Low,
		Close:     c,
		Volume:    decimal.NewFromFloat(volume),
	}
	return w
}

func TestMomentumEmitsOnVolumeBackedBreakout(t *testing.T) {
	m := NewMomentum(DefaultMomentumConfig())
	snap := &core.MarketSnapshot{
		TakenAt: time.Now().UTC(),
		Windows: map[string]*core.SymbolWindow{
			"BTCUSDT": withBreakout(flatWindow(30, 100, 10), 103, 40),
		},
	}

	signals := m.Produce(snap)
	require.Len(t, signals, 1)
	sig := signals[0]
	assert.Equal(t, "BTCUSDT", sig.Symbol)
	assert.Equal(t, core.SideBuy, sig.Side)
	assert.Equal(t, core.SignalFastBreakout, sig.Type)
	assert.Greater(t, sig.Score, 60.0)
	assert.Greater(t, sig.VolSpike, 2.0)
	assert.True(t, sig.Stop.LessThan(sig.Entry))
	assert.True(t, sig.TP1.GreaterThan(sig.Entry))
	assert.Greater(t, sig.RRRatio(), 1.0)
}

func TestMomentumQuietMarketStaysSilent(t *testing.T) {
	m := NewMomentum(DefaultMomentumConfig())

	snap := &core.MarketSnapshot{
		TakenAt: time.Now().UTC(),
		Windows: map[string]*core.SymbolWindow{
			"FLAT": flatWindow(30, 100, 10),
			// Breakout without volume is ignored.
			"THIN": withBreakout(flatWindow(30, 100, 10), 103, 11),
			// Not enough history.
			"NEW": flatWindow(5, 100, 10),
		},
	}

	assert.Empty(t, m.Produce(snap))
}
