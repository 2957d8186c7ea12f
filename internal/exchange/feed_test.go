package exchange

import (
	"testing"

	binance "github.com/adshao/go-binance/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"order_router/internal/core"
	"order_router/internal/market"
)

type nopLogger struct{}

func (nopLogger) Debug(string, ...interface{})                     {}
func (nopLogger) Info(string, ...interface{})                      {}
func (nopLogger) Warn(string, ...interface{})                      {}
func (nopLogger) Error(string, ...interface{})                     {}
func (nopLogger) Fatal(string, ...interface{})                     {}
func (l nopLogger) WithField(string, interface{}) core.ILogger     { return l }
func (l nopLogger) WithFields(map[string]interface{}) core.ILogger { return l }

type recordingSink struct {
	candles []core.Candle
	tfs     []market.Timeframe
	ticks   []core.Tick
}

func (r *recordingSink) OnCandle(_ string, tf market.Timeframe, c core.Candle) {
	r.candles = append(r.candles, c)
	r.tfs = append(r.tfs, tf)
}

func (r *recordingSink) OnTick(t core.Tick) { r.ticks = append(r.ticks, t) }

func TestKlineHandlerForwardsFinalCandlesOnly(t *testing.T) {
	sink := &recordingSink{}
	f := NewFeed([]string{"BTCUSDT"}, sink, nopLogger{})
	handler := f.klineHandler("BTCUSDT", market.Timeframe1m)

	kline := binance.WsKline{
		StartTime: 1754042400000,
		Open:      "100.5", High: "101", Low: "99.9", Close: "100.8",
		Volume: "12.5",
	}

	handler(&binance.WsKlineEvent{Kline: kline})
	assert.Empty(t, sink.candles, "partial kline ignored")

	kline.IsFinal = true
	handler(&binance.WsKlineEvent{Kline: kline})
	require.Len(t, sink.candles, 1)
	assert.Equal(t, market.Timeframe1m, sink.tfs[0])
	c := sink.candles[0]
	assert.Equal(t, "100.5", c.Open.String())
	assert.Equal(t, "100.8", c.Close.String())
	assert.Equal(t, int64(1754042400), c.Timestamp.Unix())

	kline.Close = "not-a-number"
	handler(&binance.WsKlineEvent{Kline: kline})
	assert.Len(t, sink.candles, 1, "unparseable kline dropped")
}

func TestTickHandlerComputesMidAndSpread(t *testing.T) {
	sink := &recordingSink{}
	f := NewFeed([]string{"BTCUSDT"}, sink, nopLogger{})
	handler := f.tickHandler("BTCUSDT")

	handler(&binance.WsBookTickerEvent{BestBidPrice: "99", BestAskPrice: "101"})
	require.Len(t, sink.ticks, 1)
	tick := sink.ticks[0]
	assert.Equal(t, "100", tick.Price.String())
	assert.InDelta(t, 200.0, tick.SpreadBps, 0.01)

	// Garbage and empty-book updates are dropped.
	handler(&binance.WsBookTickerEvent{BestBidPrice: "x", BestAskPrice: "101"})
	handler(&binance.WsBookTickerEvent{BestBidPrice: "0", BestAskPrice: "0"})
	assert.Len(t, sink.ticks, 1)
}
