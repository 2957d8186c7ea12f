package risk

import (
	"sync"
	"time"
)

// CooldownBook tracks per-symbol re-entry cooldowns set when a position
// closes. Entries survive restarts through Snapshot/Restore.
type CooldownBook struct {
	mu      sync.Mutex
	expires map[string]time.Time
}

// NewCooldownBook creates an empty book.
func NewCooldownBook() *CooldownBook {
	return &CooldownBook{expires: make(map[string]time.Time)}
}

// Set starts or extends the cooldown for symbol. A shorter duration never
// shortens an existing cooldown.
func (b *CooldownBook) Set(symbol string, until time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if cur, ok := b.expires[symbol]; ok && cur.After(until) {
		return
	}
	b.expires[symbol] = until
}

// Active reports whether symbol is cooling down at now.
func (b *CooldownBook) Active(symbol string, now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	exp, ok := b.expires[symbol]
	return ok && now.Before(exp)
}

// Until returns the expiry for symbol and whether one exists.
func (b *CooldownBook) Until(symbol string) (time.Time, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	exp, ok := b.expires[symbol]
	return exp, ok
}

// Prune drops expired entries. Runs on the maintenance clock.
func (b *CooldownBook) Prune(now time.Time) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	removed := 0
	for sym, exp := range b.expires {
		if !now.Before(exp) {
			delete(b.expires, sym)
			removed++
		}
	}
	return removed
}

// Snapshot copies the live entries for persistence.
func (b *CooldownBook) Snapshot() map[string]time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]time.Time, len(b.expires))
	for sym, exp := range b.expires {
		out[sym] = exp
	}
	return out
}

// Restore loads persisted entries, dropping any that expired while the
// process was down.
func (b *CooldownBook) Restore(entries map[string]time.Time, now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for sym, exp := range entries {
		if now.Before(exp) {
			b.expires[sym] = exp
		}
	}
}
