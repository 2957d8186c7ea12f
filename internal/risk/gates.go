package risk

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"order_router/internal/config"
	"order_router/internal/core"
)

// WarmthFunc reports whether a symbol's buffers satisfy the warm-up
// minimums.
type WarmthFunc func(symbol string) bool

// GateChecker runs a candidate through the ordered admission cascade.
// Evaluate has no side effects: all mutable state arrives through the view
// or read-only collaborators, and the first failing gate short-circuits.
type GateChecker struct {
	cfg       *config.Config
	warm      WarmthFunc
	breaker   *CircuitBreaker
	health    core.HealthChecker
	sizer     *Sizer
	stables   []string
	whitelist map[string]bool
}

// NewGateChecker wires the cascade's collaborators.
func NewGateChecker(cfg *config.Config, warm WarmthFunc, breaker *CircuitBreaker, health core.HealthChecker) *GateChecker {
	wl := make(map[string]bool, len(cfg.Universe.Whitelist))
	for _, sym := range cfg.Universe.Whitelist {
		wl[strings.ToUpper(sym)] = true
	}
	return &GateChecker{
		cfg:       cfg,
		warm:      warm,
		breaker:   breaker,
		health:    health,
		sizer:     NewSizer(cfg.Tiers),
		stables:   cfg.Universe.Stablecoins,
		whitelist: wl,
	}
}

func reject(cand *core.CandidateSignal, now time.Time, cat core.RejectCategory, reason string) core.AdmissionDecision {
	return core.AdmissionDecision{
		ID:        uuid.NewString(),
		Signal:    cand,
		Admitted:  false,
		Category:  cat,
		Reason:    reason,
		Score:     cand.Score,
		DecidedAt: now,
	}
}

// Evaluate runs the cascade against one candidate. Gates run cheapest and
// most global first; the returned decision carries the first failing gate's
// category, or the assigned tier and notional on admission.
func (g *GateChecker) Evaluate(now time.Time, cand *core.CandidateSignal, snapshot *core.MarketSnapshot, view *core.StateView) core.AdmissionDecision {
	gates := g.cfg.Gates

	// 1. Global halts.
	if view.KillSwitch {
		return reject(cand, now, core.RejectRisk, "kill switch active")
	}
	if view.Halted {
		return reject(cand, now, core.RejectRisk, "trading halted")
	}

	// 2. Position and exposure limits.
	if view.OpenCount >= gates.MaxPositions {
		return reject(cand, now, core.RejectLimits, fmt.Sprintf("open position limit %d reached", gates.MaxPositions))
	}
	if view.HasOpen(cand.Symbol) {
		return reject(cand, now, core.RejectLimits, "position already open for symbol")
	}
	if view.Untracked[cand.Symbol] {
		return reject(cand, now, core.RejectLimits, "untracked exchange holding for symbol")
	}
	if exp, ok := view.SymbolExposure[cand.Symbol]; ok && exp.Cmp(decimal.NewFromFloat(gates.SymbolExposureMaxUSD)) >= 0 {
		return reject(cand, now, core.RejectLimits, "symbol exposure cap reached")
	}
	if gates.PortfolioMaxExposurePct > 0 && view.Balance.Sign() > 0 {
		limit := view.Balance.Add(view.TotalExposure).Mul(decimal.NewFromFloat(gates.PortfolioMaxExposurePct))
		if view.TotalExposure.Cmp(limit) >= 0 {
			return reject(cand, now, core.RejectLimits, "portfolio exposure cap reached")
		}
	}

	// 3. Loss ceiling and budget.
	if view.DailyPnL.Cmp(decimal.NewFromFloat(g.cfg.Risk.DailyMaxLossUSD).Neg()) <= 0 {
		return reject(cand, now, core.RejectRisk, "daily loss ceiling reached")
	}
	if view.Balance.Cmp(decimal.NewFromFloat(g.cfg.Tiers.Scout.NotionalUSD)) < 0 {
		return reject(cand, now, core.RejectBudget, "available balance below minimum trade size")
	}

	// 4. Spread.
	spread := cand.SpreadBps
	if w := snapshot.Window(cand.Symbol); w != nil && w.SpreadBps > spread {
		spread = w.SpreadBps
	}
	if spread > gates.SpreadMaxBps {
		return reject(cand, now, core.RejectSpread, fmt.Sprintf("spread %.1f bps above ceiling %.1f", spread, gates.SpreadMaxBps))
	}
	if spread > 0.7*gates.SpreadMaxBps && cand.Score < gates.EntryScoreMin+5 {
		return reject(cand, now, core.RejectSpread, "elevated spread requires higher score")
	}

	// 5. Cooldown, breaker, warmth.
	if exp, ok := view.Cooldowns[cand.Symbol]; ok && now.Before(exp) {
		return reject(cand, now, core.RejectCooldown, fmt.Sprintf("cooling down until %s", exp.UTC().Format(time.RFC3339)))
	}
	if !g.breaker.WouldAllow(now) {
		return reject(cand, now, core.RejectCircuitBreaker, "circuit breaker open")
	}
	if !g.warm(cand.Symbol) {
		return reject(cand, now, core.RejectWarmth, "warm-up incomplete")
	}

	// 6. Signal quality.
	switch cand.Type {
	case core.SignalFlagBreakout, core.SignalFastBreakout, core.SignalBurst:
	default:
		return reject(cand, now, core.RejectScore, fmt.Sprintf("unrecognized signal type %q", cand.Type))
	}
	if g.isStablecoinPair(cand.Symbol) {
		return reject(cand, now, core.RejectLimits, "stablecoin pair excluded")
	}
	minScore := gates.EntryScoreMin
	if cand.Score < minScore {
		return reject(cand, now, core.RejectScore, fmt.Sprintf("score %.1f below minimum %.1f", cand.Score, minScore))
	}
	if adj := regimeAdjustedMin(minScore, cand.Context["regime"]); cand.Score < adj {
		return reject(cand, now, core.RejectRegime, fmt.Sprintf("score %.1f below regime-adjusted minimum %.1f", cand.Score, adj))
	}
	rr := cand.RRRatio()
	if rr == 0 {
		return reject(cand, now, core.RejectRR, "stop not on the loss side of entry")
	}
	if rr < gates.MinRRRatio {
		return reject(cand, now, core.RejectRR, fmt.Sprintf("rr %.2f below minimum %.2f", rr, gates.MinRRRatio))
	}

	// 7. Truth and whitelist.
	staleness := time.Duration(gates.StalenessWindowSeconds) * time.Second
	if view.LastSyncAt.IsZero() || now.Sub(view.LastSyncAt) > staleness {
		return reject(cand, now, core.RejectTruth, "exchange state not fresh")
	}
	if g.health != nil && !g.health.IsHealthy() {
		return reject(cand, now, core.RejectTruth, "executor not ready")
	}
	if g.cfg.Universe.UseWhitelist && !g.whitelist[strings.ToUpper(cand.Symbol)] {
		return reject(cand, now, core.RejectWhitelist, "symbol not whitelisted")
	}

	// Admitted: size it.
	available := view.Balance
	tier, notional, ok, reason := g.sizer.Assign(cand.Score, cand.Confluence, view.TierCounts, available)
	if !ok {
		cat := core.RejectLimits
		if strings.Contains(reason, "balance") {
			cat = core.RejectBudget
		}
		return reject(cand, now, cat, reason)
	}

	return core.AdmissionDecision{
		ID:        uuid.NewString(),
		Signal:    cand,
		Admitted:  true,
		Tier:      tier,
		Notional:  notional,
		Score:     cand.Score,
		DecidedAt: now,
	}
}

// regimeAdjustedMin raises the score floor in hostile regimes.
func regimeAdjustedMin(min float64, regime string) float64 {
	switch strings.ToLower(regime) {
	case "chop", "downtrend", "bear":
		return min + 5
	}
	return min
}

func (g *GateChecker) isStablecoinPair(symbol string) bool {
	upper := strings.ToUpper(symbol)
	for _, stable := range g.stables {
		s := strings.ToUpper(stable)
		if upper != s && strings.HasPrefix(upper, s) {
			return true
		}
	}
	return false
}
