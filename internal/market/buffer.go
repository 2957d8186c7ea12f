// Package market maintains the per-symbol candle and tick buffers that feed
// evaluation snapshots.
package market

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"order_router/internal/core"
)

// Timeframe selects one of the two candle buffers.
type Timeframe string

const (
	Timeframe1m Timeframe = "1m"
	Timeframe5m Timeframe = "5m"
)

// Buffer holds recent candles and the latest tick for one symbol. Appends
// come from a single writer; readers only ever see snapshot copies.
type Buffer struct {
	mu        sync.RWMutex
	candles1m []core.Candle
	candles5m []core.Candle
	lastPrice decimal.Decimal
	spreadBps float64
	lastTick  time.Time

	max1m int
	max5m int
}

// NewBuffer creates a buffer with the given retention limits.
func NewBuffer(max1m, max5m int) *Buffer {
	return &Buffer{
		candles1m: make([]core.Candle, 0, max1m),
		candles5m: make([]core.Candle, 0, max5m),
		max1m:     max1m,
		max5m:     max5m,
	}
}

// Append adds a closed candle to the timeframe buffer. Candles at or before
// the newest buffered timestamp are dropped, so replaying a feed is
// idempotent. Returns true if the candle was accepted.
func (b *Buffer) Append(tf Timeframe, c core.Candle) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch tf {
	case Timeframe1m:
		b.candles1m = appendRotating(b.candles1m, c, b.max1m)
		return b.candles1m[len(b.candles1m)-1].Timestamp.Equal(c.Timestamp)
	case Timeframe5m:
		b.candles5m = appendRotating(b.candles5m, c, b.max5m)
		return b.candles5m[len(b.candles5m)-1].Timestamp.Equal(c.Timestamp)
	}
	return false
}

// appendRotating appends c unless it is stale or a duplicate. When the
// buffer is full it allocates a fresh backing array rather than shifting in
// place, so snapshots taken earlier are never overwritten.
func appendRotating(candles []core.Candle, c core.Candle, max int) []core.Candle {
	if n := len(candles); n > 0 && !c.Timestamp.After(candles[n-1].Timestamp) {
		return candles
	}
	if len(candles) >= max && max > 0 {
		rotated := make([]core.Candle, 0, max)
		rotated = append(rotated, candles[len(candles)-max+1:]...)
		candles = rotated
	}
	return append(candles, c)
}

// UpdateTick records the latest price and quoted spread. Ticks older than
// the newest recorded one are dropped so an out-of-order update never
// regresses the price.
func (b *Buffer) UpdateTick(t core.Tick) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.lastTick.IsZero() && t.Timestamp.Before(b.lastTick) {
		return
	}
	b.lastPrice = t.Price
	b.spreadBps = t.SpreadBps
	b.lastTick = t.Timestamp
}

// Warm reports whether the buffer holds at least min1m and min5m candles.
func (b *Buffer) Warm(min1m, min5m int) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.candles1m) >= min1m && len(b.candles5m) >= min5m
}

// window copies the most recent depth candles of each timeframe.
func (b *Buffer) window(depth int) *core.SymbolWindow {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return &core.SymbolWindow{
		Candles1m: tail(b.candles1m, depth),
		Candles5m: tail(b.candles5m, depth),
		LastPrice: b.lastPrice,
		SpreadBps: b.spreadBps,
	}
}

func tail(candles []core.Candle, depth int) []core.Candle {
	n := len(candles)
	if depth > 0 && n > depth {
		candles = candles[n-depth:]
	}
	out := make([]core.Candle, len(candles))
	copy(out, candles)
	return out
}

// BufferSet owns one Buffer per universe symbol.
type BufferSet struct {
	mu      sync.RWMutex
	buffers map[string]*Buffer
	max1m   int
	max5m   int
}

// NewBufferSet creates an empty buffer set with shared retention limits.
func NewBufferSet(max1m, max5m int) *BufferSet {
	return &BufferSet{
		buffers: make(map[string]*Buffer),
		max1m:   max1m,
		max5m:   max5m,
	}
}

// Get returns the buffer for symbol, creating it on first use.
func (s *BufferSet) Get(symbol string) *Buffer {
	s.mu.RLock()
	b, ok := s.buffers[symbol]
	s.mu.RUnlock()
	if ok {
		return b
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok = s.buffers[symbol]; ok {
		return b
	}
	b = NewBuffer(s.max1m, s.max5m)
	s.buffers[symbol] = b
	return b
}

// Append routes a closed candle to the symbol's buffer.
func (s *BufferSet) Append(symbol string, tf Timeframe, c core.Candle) bool {
	return s.Get(symbol).Append(tf, c)
}

// UpdateTick routes a tick to the symbol's buffer.
func (s *BufferSet) UpdateTick(t core.Tick) {
	s.Get(t.Symbol).UpdateTick(t)
}

// Warm reports whether the symbol's buffer satisfies the warm-up minimums.
// Unknown symbols are never warm.
func (s *BufferSet) Warm(symbol string, min1m, min5m int) bool {
	s.mu.RLock()
	b, ok := s.buffers[symbol]
	s.mu.RUnlock()
	if !ok {
		return false
	}
	return b.Warm(min1m, min5m)
}

// Snapshot copies the most recent depth candles of every symbol into an
// immutable view. Taken once per evaluation cycle.
func (s *BufferSet) Snapshot(depth int) *core.MarketSnapshot {
	s.mu.RLock()
	symbols := make([]string, 0, len(s.buffers))
	for sym := range s.buffers {
		symbols = append(symbols, sym)
	}
	s.mu.RUnlock()

	snap := &core.MarketSnapshot{
		TakenAt: time.Now().UTC(),
		Windows: make(map[string]*core.SymbolWindow, len(symbols)),
	}
	for _, sym := range symbols {
		snap.Windows[sym] = s.Get(sym).window(depth)
	}
	return snap
}
