package risk

import (
	"github.com/shopspring/decimal"

	"order_router/internal/config"
	"order_router/internal/core"
)

// Sizer maps a candidate's score to a notional tier. Tiers are tried from
// largest to smallest: a candidate qualifying for a full tier falls through
// to the next bracket down rather than being rejected outright.
type Sizer struct {
	cfg config.TierConfig
}

// NewSizer creates a sizer over the configured brackets.
func NewSizer(cfg config.TierConfig) *Sizer {
	return &Sizer{cfg: cfg}
}

// Assign picks the tier and notional for a candidate. tierCounts is the
// number of open positions per tier; available is the spendable balance.
// Returns ok=false with a reason when no bracket has capacity or the
// budget cannot cover the smallest bracket.
func (s *Sizer) Assign(score float64, confluence int, tierCounts map[core.Tier]int, available decimal.Decimal) (core.Tier, decimal.Decimal, bool, string) {
	brackets := []struct {
		tier core.Tier
		b    config.TierBracket
	}{
		{core.TierWhale, s.cfg.Whale},
		{core.TierStrong, s.cfg.Strong},
		{core.TierNormal, s.cfg.Normal},
		{core.TierScout, s.cfg.Scout},
	}

	for _, br := range brackets {
		if score < br.b.MinScore {
			continue
		}
		if br.tier == core.TierWhale && confluence < s.cfg.WhaleConfluenceMin {
			continue
		}
		if tierCounts[br.tier] >= br.b.MaxConcurrent {
			continue
		}

		notional := decimal.NewFromFloat(br.b.NotionalUSD)
		if maxTrade := decimal.NewFromFloat(s.cfg.MaxTradeUSD); notional.Cmp(maxTrade) > 0 {
			notional = maxTrade
		}
		if notional.Cmp(available) > 0 {
			notional = available
		}
		if notional.Cmp(decimal.NewFromFloat(s.cfg.Scout.NotionalUSD)) < 0 {
			return "", decimal.Zero, false, "available balance below minimum trade size"
		}
		return br.tier, notional, true, ""
	}

	return "", decimal.Zero, false, "no tier capacity for score"
}
