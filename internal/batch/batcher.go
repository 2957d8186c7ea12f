// Package batch collects candidate signals over a fixed window and releases
// only the top-ranked few, so a market-wide move cannot flood the gates.
package batch

import (
	"sort"
	"sync"
	"time"

	"order_router/internal/core"
)

// Weights are the rank formula coefficients.
type Weights struct {
	Score    float64
	Trend1h  float64
	Trend15m float64
	VolSpike float64
}

// Ranked pairs a collected candidate with its computed rank.
type Ranked struct {
	Candidate *core.CandidateSignal
	Rank      float64
}

// Batcher accumulates candidates during a window. One entry per symbol: a
// duplicate keeps whichever ranks higher.
type Batcher struct {
	mu        sync.Mutex
	window    time.Duration
	weights   Weights
	entries   map[string]Ranked
	startedAt time.Time
	logger    core.ILogger
}

// NewBatcher creates an empty batcher; the window starts on first collect.
func NewBatcher(window time.Duration, weights Weights, logger core.ILogger) *Batcher {
	return &Batcher{
		window:  window,
		weights: weights,
		entries: make(map[string]Ranked),
		logger:  logger.WithField("component", "batcher"),
	}
}

// rank computes the weighted momentum rank for a candidate.
func (b *Batcher) rank(c *core.CandidateSignal) float64 {
	return c.Score*b.weights.Score +
		c.Trend1h*b.weights.Trend1h +
		c.Trend15m*b.weights.Trend15m +
		c.VolSpike*b.weights.VolSpike
}

// Collect adds a candidate at now. The first collect of an empty batch
// starts the window.
func (b *Batcher) Collect(c *core.CandidateSignal, now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.entries) == 0 {
		b.startedAt = now
	}

	r := Ranked{Candidate: c, Rank: b.rank(c)}
	if existing, ok := b.entries[c.Symbol]; ok {
		if existing.Rank >= r.Rank {
			b.logger.Debug("Dropping lower-ranked duplicate", "symbol", c.Symbol,
				"kept_rank", existing.Rank, "dropped_rank", r.Rank)
			return
		}
	}
	b.entries[c.Symbol] = r
}

// ShouldFlush reports whether the window has elapsed and the batch holds at
// least one candidate.
func (b *Batcher) ShouldFlush(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries) > 0 && now.Sub(b.startedAt) >= b.window
}

// Pending returns the number of collected candidates.
func (b *Batcher) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// Flush returns the top-k candidates ordered by rank descending, ties
// broken by symbol ascending, and resets the window. Dropped candidates are
// logged and counted by the caller via the returned dropped slice.
func (b *Batcher) Flush(k int) (top []Ranked, dropped []Ranked) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ranked := make([]Ranked, 0, len(b.entries))
	for _, r := range b.entries {
		ranked = append(ranked, r)
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Rank != ranked[j].Rank {
			return ranked[i].Rank > ranked[j].Rank
		}
		return ranked[i].Candidate.Symbol < ranked[j].Candidate.Symbol
	})

	if k > 0 && len(ranked) > k {
		top, dropped = ranked[:k], ranked[k:]
	} else {
		top = ranked
	}

	for _, d := range dropped {
		b.logger.Info("Candidate dropped", "symbol", d.Candidate.Symbol,
			"rank", d.Rank, "reason", "not top-ranked in batch")
	}

	b.entries = make(map[string]Ranked)
	b.startedAt = time.Time{}
	return top, dropped
}
