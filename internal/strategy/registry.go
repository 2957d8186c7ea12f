// Package strategy holds the strategy registry and the reference momentum
// strategy. Strategies are pure signal producers; admission and sizing
// live elsewhere.
package strategy

import (
	"fmt"
	"sort"
	"sync"

	"order_router/internal/core"
)

// Registry maps names to registered strategies. Evaluation iterates them in
// name order so cycles are deterministic.
type Registry struct {
	mu         sync.RWMutex
	strategies map[string]core.Strategy
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{strategies: make(map[string]core.Strategy)}
}

// Register adds a strategy under its name. Duplicate names are an error.
func (r *Registry) Register(s core.Strategy) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := s.Name()
	if _, ok := r.strategies[name]; ok {
		return fmt.Errorf("strategy %q already registered", name)
	}
	r.strategies[name] = s
	return nil
}

// All returns the registered strategies sorted by name.
func (r *Registry) All() []core.Strategy {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.strategies))
	for name := range r.strategies {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]core.Strategy, 0, len(names))
	for _, name := range names {
		out = append(out, r.strategies[name])
	}
	return out
}

// Len returns the number of registered strategies.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.strategies)
}
