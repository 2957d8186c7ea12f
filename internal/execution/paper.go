package execution

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"order_router/internal/core"
)

// PaperAdapter fills orders in memory at the requested price plus
// configurable slippage and fees. It doubles as the exchange-truth source
// in paper mode, so reconciliation exercises the same code paths as live.
type PaperAdapter struct {
	mu       sync.Mutex
	balance  decimal.Decimal
	holdings map[string]*core.Position

	slippageBps decimal.Decimal
	feeBps      decimal.Decimal

	// Injected failures for resilience testing.
	failNext int
	failWith error
}

// NewPaperAdapter creates an adapter with the given starting balance.
func NewPaperAdapter(balanceUSD, slippageBps, feeBps float64) *PaperAdapter {
	return &PaperAdapter{
		balance:     decimal.NewFromFloat(balanceUSD),
		holdings:    make(map[string]*core.Position),
		slippageBps: decimal.NewFromFloat(slippageBps),
		feeBps:      decimal.NewFromFloat(feeBps),
	}
}

func (p *PaperAdapter) Name() string { return "paper" }

func (p *PaperAdapter) Ready() error { return nil }

// FailNext makes the next n calls return err.
func (p *PaperAdapter) FailNext(n int, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failNext = n
	p.failWith = err
}

func (p *PaperAdapter) takeInjectedFailure() error {
	if p.failNext > 0 {
		p.failNext--
		return p.failWith
	}
	return nil
}

// Open fills at the entry price adjusted by slippage.
func (p *PaperAdapter) Open(ctx context.Context, req core.OpenRequest) (*core.Position, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.takeInjectedFailure(); err != nil {
		return nil, err
	}

	if req.Notional.Cmp(p.balance) > 0 {
		return nil, fmt.Errorf("insufficient paper balance: have %s, need %s", p.balance, req.Notional)
	}
	if _, ok := p.holdings[req.Symbol]; ok {
		return nil, fmt.Errorf("paper position already open for %s", req.Symbol)
	}

	fill := p.applySlippage(req.Entry, req.Side)
	qty := req.Notional.Div(fill)

	pos := &core.Position{
		Symbol:     req.Symbol,
		Side:       req.Side,
		EntryPrice: fill,
		EntryTime:  time.Now().UTC(),
		Quantity:   qty,
		Notional:   req.Notional,
		StopPrice:  req.Stop,
		TP1Price:   req.TP1,
		TP2Price:   req.TP2,
		StrategyID: req.StrategyID,
		State:      core.PositionOpen,
		Tier:       req.Tier,
	}

	p.balance = p.balance.Sub(req.Notional)
	cp := *pos
	p.holdings[req.Symbol] = &cp
	return pos, nil
}

// Close fills the full remaining quantity at price adjusted by slippage,
// charging the fee on both legs.
func (p *PaperAdapter) Close(ctx context.Context, pos *core.Position, price decimal.Decimal, reason string) (*core.TradeResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.takeInjectedFailure(); err != nil {
		return nil, err
	}

	exitSide := core.SideSell
	if pos.Side == core.SideSell {
		exitSide = core.SideBuy
	}
	fill := p.applySlippage(price, exitSide)

	gross := pos.UnrealizedPnL(fill)
	notionalIn := pos.EntryPrice.Mul(pos.Quantity)
	notionalOut := fill.Mul(pos.Quantity)
	fees := notionalIn.Add(notionalOut).Mul(p.feeBps).Div(decimal.NewFromInt(10000))
	pnl := gross.Sub(fees)

	p.balance = p.balance.Add(notionalIn).Add(pnl)
	// Partial closes shrink the book entry; full closes remove it.
	if held, ok := p.holdings[pos.Symbol]; ok {
		held.Quantity = held.Quantity.Sub(pos.Quantity)
		if held.Quantity.Sign() <= 0 {
			delete(p.holdings, pos.Symbol)
		}
	}

	return &core.TradeResult{
		Symbol:   pos.Symbol,
		Side:     exitSide,
		Quantity: pos.Quantity,
		Price:    fill,
		PnL:      pnl,
		Reason:   reason,
		ClosedAt: time.Now().UTC(),
	}, nil
}

// applySlippage moves the fill price against the taker.
func (p *PaperAdapter) applySlippage(price decimal.Decimal, side core.Side) decimal.Decimal {
	adj := price.Mul(p.slippageBps).Div(decimal.NewFromInt(10000))
	if side == core.SideBuy {
		return price.Add(adj)
	}
	return price.Sub(adj)
}

// OpenPositions implements core.ExchangeTruth over the paper book.
func (p *PaperAdapter) OpenPositions(ctx context.Context) ([]core.ExchangeHolding, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.takeInjectedFailure(); err != nil {
		return nil, err
	}

	out := make([]core.ExchangeHolding, 0, len(p.holdings))
	for _, pos := range p.holdings {
		out = append(out, core.ExchangeHolding{
			Symbol:     pos.Symbol,
			Quantity:   pos.Quantity,
			EntryPrice: pos.EntryPrice,
			ValueUSD:   pos.EntryPrice.Mul(pos.Quantity),
		})
	}
	return out, nil
}

// Balance implements core.ExchangeTruth.
func (p *PaperAdapter) Balance(ctx context.Context) (decimal.Decimal, error) {
	if err := ctx.Err(); err != nil {
		return decimal.Zero, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.balance, nil
}

// AdoptHolding seeds an exchange-side holding that the router does not
// track. Tests use it to exercise reconciliation adoption.
func (p *PaperAdapter) AdoptHolding(pos *core.Position) {
	p.mu.Lock()
	defer p.mu.Unlock()
	cp := *pos
	p.holdings[pos.Symbol] = &cp
}
