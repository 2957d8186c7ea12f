package exchange

import (
	"context"
	"time"

	binance "github.com/adshao/go-binance/v2"
	"github.com/shopspring/decimal"

	"order_router/internal/core"
	"order_router/internal/market"
)

// Sink receives ingestion events from the feed. The engine implements it.
type Sink interface {
	OnCandle(symbol string, tf market.Timeframe, c core.Candle)
	OnTick(t core.Tick)
}

const reconnectDelay = 5 * time.Second

// Feed subscribes to Binance kline and book-ticker streams for the
// configured universe and forwards closed candles and tick updates to the
// sink. Streams reconnect with a fixed delay until the context is
// cancelled.
type Feed struct {
	symbols []string
	sink    Sink
	logger  core.ILogger
}

// NewFeed creates a feed over the given universe symbols.
func NewFeed(symbols []string, sink Sink, logger core.ILogger) *Feed {
	return &Feed{
		symbols: symbols,
		sink:    sink,
		logger:  logger.WithField("component", "binance_feed"),
	}
}

// Run starts all streams and blocks until ctx is cancelled.
func (f *Feed) Run(ctx context.Context) error {
	for _, sym := range f.symbols {
		sym := sym
		go f.runStream(ctx, sym+"@kline_1m", func() (chan struct{}, chan struct{}, error) {
			return binance.WsKlineServe(sym, "1m", f.klineHandler(sym, market.Timeframe1m), f.errHandler(sym))
		})
		go f.runStream(ctx, sym+"@kline_5m", func() (chan struct{}, chan struct{}, error) {
			return binance.WsKlineServe(sym, "5m", f.klineHandler(sym, market.Timeframe5m), f.errHandler(sym))
		})
		go f.runStream(ctx, sym+"@bookTicker", func() (chan struct{}, chan struct{}, error) {
			return binance.WsBookTickerServe(sym, f.tickHandler(sym), f.errHandler(sym))
		})
	}
	<-ctx.Done()
	return ctx.Err()
}

// runStream keeps one stream alive, reconnecting after drops.
func (f *Feed) runStream(ctx context.Context, name string, connect func() (chan struct{}, chan struct{}, error)) {
	for {
		doneC, stopC, err := connect()
		if err != nil {
			f.logger.Warn("Stream connect failed", "stream", name, "error", err)
		} else {
			f.logger.Info("Stream connected", "stream", name)
			select {
			case <-ctx.Done():
				close(stopC)
				return
			case <-doneC:
				f.logger.Warn("Stream disconnected", "stream", name)
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectDelay):
		}
	}
}

// klineHandler forwards closed candles only; partial klines are ignored.
func (f *Feed) klineHandler(symbol string, tf market.Timeframe) func(*binance.WsKlineEvent) {
	return func(event *binance.WsKlineEvent) {
		k := event.Kline
		if !k.IsFinal {
			return
		}
		c, err := parseCandle(k)
		if err != nil {
			f.logger.Warn("Dropping unparseable kline", "symbol", symbol, "error", err)
			return
		}
		f.sink.OnCandle(symbol, tf, c)
	}
}

func (f *Feed) tickHandler(symbol string) func(*binance.WsBookTickerEvent) {
	return func(event *binance.WsBookTickerEvent) {
		bid, err := decimal.NewFromString(event.BestBidPrice)
		if err != nil {
			return
		}
		ask, err := decimal.NewFromString(event.BestAskPrice)
		if err != nil {
			return
		}
		if bid.Sign() <= 0 || ask.Sign() <= 0 {
			return
		}

		mid := bid.Add(ask).Div(decimal.NewFromInt(2))
		spread, _ := ask.Sub(bid).Div(mid).Mul(decimal.NewFromInt(10000)).Float64()

		f.sink.OnTick(core.Tick{
			Symbol:    symbol,
			Price:     mid,
			SpreadBps: spread,
			Timestamp: time.Now().UTC(),
		})
	}
}

func (f *Feed) errHandler(symbol string) func(error) {
	return func(err error) {
		f.logger.Warn("Stream error", "symbol", symbol, "error", err)
	}
}

func parseCandle(k binance.WsKline) (core.Candle, error) {
	open, err := decimal.NewFromString(k.Open)
	if err != nil {
		return core.Candle{}, err
	}
	high, err := decimal.NewFromString(k.High)
	if err != nil {
		return core.Candle{}, err
	}
	low, err := decimal.NewFromString(k.Low)
	if err != nil {
		return core.Candle{}, err
	}
	closePrice, err := decimal.NewFromString(k.Close)
	if err != nil {
		return core.Candle{}, err
	}
	volume, err := decimal.NewFromString(k.Volume)
	if err != nil {
		return core.Candle{}, err
	}

	return core.Candle{
		Timestamp: time.UnixMilli(k.StartTime).UTC(),
		Open:      open,
		High:      high,
		Low:       low,
		Close:     closePrice,
		Volume:    volume,
	}, nil
}
