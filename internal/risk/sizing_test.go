package risk

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"order_router/internal/core"
)

func TestSizerBrackets(t *testing.T) {
	s := NewSizer(testGateConfig().Tiers)
	counts := map[core.Tier]int{}
	available := decimal.NewFromInt(500)

	tests := []struct {
		score      float64
		confluence int
		wantTier   core.Tier
		wantUSD    string
	}{
		{66, 0, core.TierScout, "10"},
		{72, 0, core.TierNormal, "15"},
		{85, 0, core.TierStrong, "25"},
		{95, 0, core.TierStrong, "25"}, // whale score, no confluence
		{95, 2, core.TierWhale, "40"},
	}
	for _, tt := range tests {
		tier, notional, ok, reason := s.Assign(tt.score, tt.confluence, counts, available)
		require.True(t, ok, "score %.0f: %s", tt.score, reason)
		assert.Equal(t, tt.wantTier, tier, "score %.0f", tt.score)
		assert.Equal(t, tt.wantUSD, notional.String(), "score %.0f", tt.score)
	}
}

func TestSizerFallthroughOnFullTier(t *testing.T) {
	cfg := testGateConfig().Tiers
	s := NewSizer(cfg)
	counts := map[core.Tier]int{
		core.TierStrong: cfg.Strong.MaxConcurrent,
	}

	tier, _, ok, _ := s.Assign(85, 0, counts, decimal.NewFromInt(500))
	require.True(t, ok)
	assert.Equal(t, core.TierNormal, tier)
}

func TestSizerRejectsWhenAllQualifyingTiersFull(t *testing.T) {
	cfg := testGateConfig().Tiers
	s := NewSizer(cfg)
	counts := map[core.Tier]int{
		core.TierScout:  cfg.Scout.MaxConcurrent,
		core.TierNormal: cfg.Normal.MaxConcurrent,
	}

	_, _, ok, reason := s.Assign(72, 0, counts, decimal.NewFromInt(500))
	assert.False(t, ok)
	assert.Contains(t, reason, "capacity")
}

func TestSizerClampsToBudget(t *testing.T) {
	s := NewSizer(testGateConfig().Tiers)

	// Enough for scout-size only: notional clamps down.
	tier, notional, ok, _ := s.Assign(85, 0, map[core.Tier]int{}, decimal.NewFromInt(12))
	require.True(t, ok)
	assert.Equal(t, core.TierStrong, tier)
	assert.Equal(t, "12", notional.String())

	// Below the smallest bracket: rejected.
	_, _, ok, reason := s.Assign(85, 0, map[core.Tier]int{}, decimal.NewFromInt(5))
	assert.False(t, ok)
	assert.Contains(t, reason, "balance")
}
