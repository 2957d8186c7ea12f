// Package exchange provides the Binance-backed exchange-truth source and
// live execution adapter used in live mode.
package exchange

import (
	"context"
	"fmt"
	"strings"

	"github.com/adshao/go-binance/v2"
	"github.com/shopspring/decimal"

	"order_router/internal/core"
	"order_router/internal/execution"
)

// quoteAsset is the settlement currency every symbol is valued in.
const quoteAsset = "USDT"

// Truth reads authoritative account state from Binance spot.
type Truth struct {
	client *binance.Client
	logger core.ILogger

	// stablecoins are excluded from holdings: they are balance, not
	// positions.
	stables map[string]bool
}

// NewTruth creates a truth source over a spot client.
func NewTruth(client *binance.Client, stablecoins []string, logger core.ILogger) *Truth {
	stables := make(map[string]bool, len(stablecoins))
	for _, s := range stablecoins {
		stables[strings.ToUpper(s)] = true
	}
	return &Truth{
		client:  client,
		logger:  logger.WithField("component", "binance_truth"),
		stables: stables,
	}
}

// OpenPositions returns every non-stablecoin asset balance valued in the
// quote currency. Valuation uses the current ticker price.
func (t *Truth) OpenPositions(ctx context.Context) ([]core.ExchangeHolding, error) {
	account, err := t.client.NewGetAccountService().Do(ctx)
	if err != nil {
		return nil, transient("fetch account", err)
	}

	prices, err := t.client.NewListPricesService().Do(ctx)
	if err != nil {
		return nil, transient("fetch prices", err)
	}
	priceBySymbol := make(map[string]decimal.Decimal, len(prices))
	for _, p := range prices {
		if d, err := decimal.NewFromString(p.Price); err == nil {
			priceBySymbol[p.Symbol] = d
		}
	}

	var holdings []core.ExchangeHolding
	for _, b := range account.Balances {
		asset := strings.ToUpper(b.Asset)
		if t.stables[asset] {
			continue
		}
		free, err1 := decimal.NewFromString(b.Free)
		locked, err2 := decimal.NewFromString(b.Locked)
		if err1 != nil || err2 != nil {
			continue
		}
		qty := free.Add(locked)
		if qty.Sign() <= 0 {
			continue
		}

		symbol := asset + quoteAsset
		price, ok := priceBySymbol[symbol]
		if !ok {
			t.logger.Debug("No quote price for asset, skipping", "asset", asset)
			continue
		}
		holdings = append(holdings, core.ExchangeHolding{
			Symbol:     symbol,
			Quantity:   qty,
			EntryPrice: price,
			ValueUSD:   qty.Mul(price),
		})
	}
	return holdings, nil
}

// Balance returns the free quote-asset balance.
func (t *Truth) Balance(ctx context.Context) (decimal.Decimal, error) {
	account, err := t.client.NewGetAccountService().Do(ctx)
	if err != nil {
		return decimal.Zero, transient("fetch account", err)
	}
	for _, b := range account.Balances {
		if strings.EqualFold(b.Asset, quoteAsset) {
			free, err := decimal.NewFromString(b.Free)
			if err != nil {
				return decimal.Zero, fmt.Errorf("parse %s balance %q: %w", quoteAsset, b.Free, err)
			}
			return free, nil
		}
	}
	return decimal.Zero, nil
}

// LiveAdapter executes market orders on Binance spot.
type LiveAdapter struct {
	client *binance.Client
	logger core.ILogger
}

// NewLiveAdapter creates the live execution adapter.
func NewLiveAdapter(client *binance.Client, logger core.ILogger) *LiveAdapter {
	return &LiveAdapter{client: client, logger: logger.WithField("component", "binance_adapter")}
}

func (a *LiveAdapter) Name() string { return "binance" }

// Ready pings the exchange.
func (a *LiveAdapter) Ready() error {
	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := a.client.NewPingService().Do(ctx); err != nil {
		return fmt.Errorf("binance ping failed: %w", err)
	}
	return nil
}

// Open places a market order sized by quote notional and returns the
// position built from the actual fill. Partial fills are accepted.
func (a *LiveAdapter) Open(ctx context.Context, req core.OpenRequest) (*core.Position, error) {
	svc := a.client.NewCreateOrderService().
		Symbol(req.Symbol).
		Side(binanceSide(req.Side)).
		Type(binance.OrderTypeMarket).
		QuoteOrderQty(req.Notional.String())
	if req.ClientOrderID != "" {
		svc = svc.NewClientOrderID(req.ClientOrderID)
	}

	resp, err := svc.Do(ctx)
	if err != nil {
		return nil, transient("create order", err)
	}

	qty, err := decimal.NewFromString(resp.ExecutedQuantity)
	if err != nil || qty.Sign() <= 0 {
		return nil, fmt.Errorf("order %d filled nothing (executed %q)", resp.OrderID, resp.ExecutedQuantity)
	}
	quoteSpent, err := decimal.NewFromString(resp.CummulativeQuoteQuantity)
	if err != nil {
		return nil, fmt.Errorf("parse quote quantity %q: %w", resp.CummulativeQuoteQuantity, err)
	}
	avgPrice := quoteSpent.Div(qty)

	a.logger.Info("Order filled", "symbol", req.Symbol, "side", string(req.Side),
		"quantity", qty.String(), "avg_price", avgPrice.String())

	return &core.Position{
		Symbol:     req.Symbol,
		Side:       req.Side,
		EntryPrice: avgPrice,
		EntryTime:  orderTime(resp.TransactTime),
		Quantity:   qty,
		Notional:   quoteSpent,
		StopPrice:  req.Stop,
		TP1Price:   req.TP1,
		TP2Price:   req.TP2,
		StrategyID: req.StrategyID,
		State:      core.PositionOpen,
		Tier:       req.Tier,
	}, nil
}

// Close market-sells (or buys back) the position's full quantity.
func (a *LiveAdapter) Close(ctx context.Context, pos *core.Position, price decimal.Decimal, reason string) (*core.TradeResult, error) {
	exitSide := core.SideSell
	if pos.Side == core.SideSell {
		exitSide = core.SideBuy
	}

	resp, err := a.client.NewCreateOrderService().
		Symbol(pos.Symbol).
		Side(binanceSide(exitSide)).
		Type(binance.OrderTypeMarket).
		Quantity(pos.Quantity.String()).
		Do(ctx)
	if err != nil {
		return nil, transient("close order", err)
	}

	qty, err := decimal.NewFromString(resp.ExecutedQuantity)
	if err != nil || qty.Sign() <= 0 {
		return nil, fmt.Errorf("close order %d filled nothing (executed %q)", resp.OrderID, resp.ExecutedQuantity)
	}
	quoteReceived, err := decimal.NewFromString(resp.CummulativeQuoteQuantity)
	if err != nil {
		return nil, fmt.Errorf("parse quote quantity %q: %w", resp.CummulativeQuoteQuantity, err)
	}
	avgPrice := quoteReceived.Div(qty)

	pnl := pos.UnrealizedPnL(avgPrice)
	return &core.TradeResult{
		Symbol:   pos.Symbol,
		Side:     exitSide,
		Quantity: qty,
		Price:    avgPrice,
		PnL:      pnl,
		Reason:   reason,
		ClosedAt: orderTime(resp.TransactTime),
	}, nil
}

func binanceSide(s core.Side) binance.SideType {
	if s == core.SideSell {
		return binance.SideTypeSell
	}
	return binance.SideTypeBuy
}

// transient wraps exchange errors as retryable for the execution router.
func transient(op string, err error) error {
	return fmt.Errorf("binance %s: %v: %w", op, err, execution.ErrTransient)
}
