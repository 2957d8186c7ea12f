package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric names
const (
	MetricAdmissionsTotal    = "order_router_admissions_total"
	MetricRejectionsTotal    = "order_router_rejections_total"
	MetricBatchDroppedTotal  = "order_router_batch_dropped_total"
	MetricCandlesTotal       = "order_router_candles_ingested_total"
	MetricTradesClosedTotal  = "order_router_trades_closed_total"
	MetricPnLRealizedTotal   = "order_router_pnl_realized_total"
	MetricCycleLatency       = "order_router_cycle_duration_ms"
	MetricAdapterLatency     = "order_router_adapter_latency_ms"
	MetricPositionsOpen      = "order_router_positions_open"
	MetricCircuitBreakerOpen = "order_router_circuit_breaker_open"
	MetricKillSwitchActive   = "order_router_kill_switch_active"
)

// MetricsHolder holds initialized instruments
type MetricsHolder struct {
	AdmissionsTotal   metric.Int64Counter
	RejectionsTotal   metric.Int64Counter
	BatchDroppedTotal metric.Int64Counter
	CandlesTotal      metric.Int64Counter
	TradesClosedTotal metric.Int64Counter
	PnLRealizedTotal  metric.Float64Counter
	CycleLatency      metric.Float64Histogram
	AdapterLatency    metric.Float64Histogram

	positionsOpen      metric.Int64ObservableGauge
	circuitBreakerOpen metric.Int64ObservableGauge
	killSwitchActive   metric.Int64ObservableGauge

	// State for observable gauges
	mu            sync.RWMutex
	openPositions int64
	breakerOpen   int64
	killSwitch    int64
}

var (
	globalMetrics *MetricsHolder
	initOnce      sync.Once
)

// GetGlobalMetrics returns the singleton metrics holder
func GetGlobalMetrics() *MetricsHolder {
	initOnce.Do(func() {
		globalMetrics = &MetricsHolder{}
	})
	return globalMetrics
}

// InitMetrics initializes instruments using the meter
func (m *MetricsHolder) InitMetrics(meter metric.Meter) error {
	var err error

	m.AdmissionsTotal, err = meter.Int64Counter(MetricAdmissionsTotal, metric.WithDescription("Admitted candidate signals by sizing tier"))
	if err != nil {
		return err
	}

	m.RejectionsTotal, err = meter.Int64Counter(MetricRejectionsTotal, metric.WithDescription("Gate rejections by category"))
	if err != nil {
		return err
	}

	m.BatchDroppedTotal, err = meter.Int64Counter(MetricBatchDroppedTotal, metric.WithDescription("Candidates dropped by the batch allocator (not top-ranked)"))
	if err != nil {
		return err
	}

	m.CandlesTotal, err = meter.Int64Counter(MetricCandlesTotal, metric.WithDescription("Candle-close events appended to buffers"))
	if err != nil {
		return err
	}

	m.TradesClosedTotal, err = meter.Int64Counter(MetricTradesClosedTotal, metric.WithDescription("Closed trades by exit reason"))
	if err != nil {
		return err
	}

	m.PnLRealizedTotal, err = meter.Float64Counter(MetricPnLRealizedTotal, metric.WithDescription("Cumulative realized profit/loss"))
	if err != nil {
		return err
	}

	m.CycleLatency, err = meter.Float64Histogram(MetricCycleLatency, metric.WithDescription("Duration of one evaluation cycle"), metric.WithUnit("ms"))
	if err != nil {
		return err
	}

	m.AdapterLatency, err = meter.Float64Histogram(MetricAdapterLatency, metric.WithDescription("Latency of execution adapter calls"), metric.WithUnit("ms"))
	if err != nil {
		return err
	}

	m.positionsOpen, err = meter.Int64ObservableGauge(MetricPositionsOpen, metric.WithDescription("Number of currently open positions"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			obs.Observe(m.openPositions)
			return nil
		}))
	if err != nil {
		return err
	}

	m.circuitBreakerOpen, err = meter.Int64ObservableGauge(MetricCircuitBreakerOpen, metric.WithDescription("Circuit breaker open state (1=open, 0=closed)"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			obs.Observe(m.breakerOpen)
			return nil
		}))
	if err != nil {
		return err
	}

	m.killSwitchActive, err = meter.Int64ObservableGauge(MetricKillSwitchActive, metric.WithDescription("Kill switch state (1=active, 0=inactive)"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			obs.Observe(m.killSwitch)
			return nil
		}))
	if err != nil {
		return err
	}

	return nil
}

// Helpers to record instrument updates. Safe to call before InitMetrics:
// counter updates are skipped until instruments exist.

func (m *MetricsHolder) RecordAdmission(ctx context.Context, tier string) {
	if m.AdmissionsTotal != nil {
		m.AdmissionsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("tier", tier)))
	}
}

func (m *MetricsHolder) RecordRejection(ctx context.Context, category string) {
	if m.RejectionsTotal != nil {
		m.RejectionsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("category", category)))
	}
}

func (m *MetricsHolder) RecordBatchDropped(ctx context.Context, n int64) {
	if m.BatchDroppedTotal != nil {
		m.BatchDroppedTotal.Add(ctx, n)
	}
}

func (m *MetricsHolder) RecordCandle(ctx context.Context, timeframe string) {
	if m.CandlesTotal != nil {
		m.CandlesTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("tf", timeframe)))
	}
}

func (m *MetricsHolder) RecordTradeClosed(ctx context.Context, reason string, pnl float64) {
	if m.TradesClosedTotal != nil {
		m.TradesClosedTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
	}
	if m.PnLRealizedTotal != nil {
		m.PnLRealizedTotal.Add(ctx, pnl)
	}
}

func (m *MetricsHolder) RecordCycle(ctx context.Context, ms float64) {
	if m.CycleLatency != nil {
		m.CycleLatency.Record(ctx, ms)
	}
}

func (m *MetricsHolder) RecordAdapterCall(ctx context.Context, ms float64, ok bool) {
	if m.AdapterLatency != nil {
		m.AdapterLatency.Record(ctx, ms, metric.WithAttributes(attribute.Bool("ok", ok)))
	}
}

func (m *MetricsHolder) SetOpenPositions(n int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.openPositions = n
}

func (m *MetricsHolder) SetCircuitBreakerOpen(open bool) {
	var val int64
	if open {
		val = 1
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.breakerOpen = val
}

func (m *MetricsHolder) SetKillSwitchActive(active bool) {
	var val int64
	if active {
		val = 1
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.killSwitch = val
}
