package execution

import (
	"context"
	"fmt"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"order_router/internal/config"
	"order_router/internal/core"
	"order_router/internal/risk"
	"order_router/pkg/telemetry"
)

// Router routes open and close requests through the adapter under the
// boundary policies. Every completed call feeds the circuit breaker:
// success resets it, failure (including timeout) counts against it.
type Router struct {
	adapter core.ExecutionAdapter
	breaker *risk.CircuitBreaker
	limiter *rate.Limiter
	timeout time.Duration
	logger  core.ILogger

	openExec  failsafe.Executor[*core.Position]
	closeExec failsafe.Executor[*core.TradeResult]
}

// NewRouter builds the resilience pipeline around adapter.
func NewRouter(adapter core.ExecutionAdapter, breaker *risk.CircuitBreaker, cfg config.ExecutionConfig, logger core.ILogger) *Router {
	backoff := time.Duration(cfg.RetryBackoffMillis) * time.Millisecond
	return &Router{
		adapter:   adapter,
		breaker:   breaker,
		limiter:   rate.NewLimiter(rate.Limit(cfg.OrdersPerSecond), 1),
		timeout:   time.Duration(cfg.OrderTimeoutSeconds) * time.Second,
		logger:    logger.WithField("component", "execution_router"),
		openExec:  failsafe.With[*core.Position](newRetryPolicy[*core.Position](cfg.MaxRetries, backoff)),
		closeExec: failsafe.With[*core.TradeResult](newRetryPolicy[*core.TradeResult](cfg.MaxRetries, backoff)),
	}
}

// newRetryPolicy retries transient failures only, with bounded attempts and
// exponential backoff.
func newRetryPolicy[T any](maxRetries int, backoff time.Duration) retrypolicy.RetryPolicy[T] {
	if backoff <= 0 {
		backoff = 100 * time.Millisecond
	}
	return retrypolicy.NewBuilder[T]().
		HandleIf(func(_ T, err error) bool {
			return err != nil && IsTransient(err)
		}).
		WithBackoff(backoff, 2*time.Second).
		WithMaxRetries(maxRetries).
		Build()
}

// Open places an opening order for an admitted decision.
func (r *Router) Open(ctx context.Context, req core.OpenRequest) (*core.Position, error) {
	now := time.Now()
	if !r.breaker.Allow(now) {
		return nil, ErrBreakerOpen
	}
	if err := r.limiter.Wait(ctx); err != nil {
		r.breaker.RecordFailure(time.Now())
		return nil, fmt.Errorf("rate limiter wait: %w", err)
	}

	start := time.Now()
	pos, err := r.openExec.GetWithExecution(func(_ failsafe.Execution[*core.Position]) (*core.Position, error) {
		callCtx, cancel := context.WithTimeout(ctx, r.timeout)
		defer cancel()
		return r.adapter.Open(callCtx, req)
	})
	r.observe(ctx, start, err)

	if err != nil {
		r.breaker.RecordFailure(time.Now())
		return nil, fmt.Errorf("open %s failed: %w", req.Symbol, err)
	}
	r.breaker.RecordSuccess()

	if !pos.Quantity.Equal(req.Notional.Div(pos.EntryPrice)) {
		r.logger.Info("Partial fill accepted", "symbol", req.Symbol,
			"quantity", pos.Quantity.String(), "requested_notional", req.Notional.String())
	}
	return pos, nil
}

// Close closes (fully) an open position at the given reference price.
func (r *Router) Close(ctx context.Context, pos *core.Position, price decimal.Decimal, reason string) (*core.TradeResult, error) {
	now := time.Now()
	if !r.breaker.Allow(now) {
		return nil, ErrBreakerOpen
	}
	if err := r.limiter.Wait(ctx); err != nil {
		r.breaker.RecordFailure(time.Now())
		return nil, fmt.Errorf("rate limiter wait: %w", err)
	}

	start := time.Now()
	result, err := r.closeExec.GetWithExecution(func(_ failsafe.Execution[*core.TradeResult]) (*core.TradeResult, error) {
		callCtx, cancel := context.WithTimeout(ctx, r.timeout)
		defer cancel()
		return r.adapter.Close(callCtx, pos, price, reason)
	})
	r.observe(ctx, start, err)

	if err != nil {
		r.breaker.RecordFailure(time.Now())
		return nil, fmt.Errorf("close %s failed: %w", pos.Symbol, err)
	}
	r.breaker.RecordSuccess()
	return result, nil
}

// Ready proxies the adapter readiness probe for the health manager.
func (r *Router) Ready() error {
	return r.adapter.Ready()
}

func (r *Router) observe(ctx context.Context, start time.Time, err error) {
	telemetry.GetGlobalMetrics().RecordAdapterCall(ctx, float64(time.Since(start).Milliseconds()), err == nil)
}
