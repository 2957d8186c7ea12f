// Package config handles configuration management with validation
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete configuration structure
type Config struct {
	App       AppConfig       `yaml:"app"`
	Universe  UniverseConfig  `yaml:"universe"`
	Buffers   BufferConfig    `yaml:"buffers"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Batch     BatchConfig     `yaml:"batch"`
	Gates     GateConfig      `yaml:"gates"`
	Tiers     TierConfig      `yaml:"tiers"`
	Risk      RiskConfig      `yaml:"risk"`
	Execution ExecutionConfig `yaml:"execution"`
	Exchange  ExchangeConfig  `yaml:"exchange"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Journal   JournalConfig   `yaml:"journal"`
}

// AppConfig contains application-level settings
type AppConfig struct {
	Mode     string `yaml:"mode"` // "paper" or "live"
	DataDir  string `yaml:"data_dir"`
	LogLevel string `yaml:"log_level"`
}

// UniverseConfig defines the tradable symbol set
type UniverseConfig struct {
	Symbols      []string `yaml:"symbols"`
	UseWhitelist bool     `yaml:"use_whitelist"`
	Whitelist    []string `yaml:"whitelist"`
	Stablecoins  []string `yaml:"stablecoins"`
}

// BufferConfig controls the per-symbol candle/tick buffers
type BufferConfig struct {
	MaxCandles1m   int  `yaml:"max_candles_1m"`
	MaxCandles5m   int  `yaml:"max_candles_5m"`
	WarmMin1m      int  `yaml:"warm_min_1m"`
	WarmMin5m      int  `yaml:"warm_min_5m"`
	SnapshotDepth  int  `yaml:"snapshot_depth"`
	MaxAgeHours    int  `yaml:"max_age_hours"`
	FilePruneDays  int  `yaml:"file_prune_days"`
	PersistCandles bool `yaml:"persist_candles"`
}

// SchedulerConfig controls the three clocks
type SchedulerConfig struct {
	EvalIntervalSeconds        int `yaml:"eval_interval_seconds"`
	MaintenanceIntervalMinutes int `yaml:"maintenance_interval_minutes"`
	StrategyTimeoutMillis      int `yaml:"strategy_timeout_millis"`
	StrategyPoolSize           int `yaml:"strategy_pool_size"`
}

// BatchConfig controls the signal batch allocator
type BatchConfig struct {
	WindowSeconds  int     `yaml:"window_seconds"`
	MaxPerBatch    int     `yaml:"max_per_batch"`
	WeightScore    float64 `yaml:"weight_score"`
	WeightTrend1h  float64 `yaml:"weight_trend_1h"`
	WeightTrend15m float64 `yaml:"weight_trend_15m"`
	WeightVolSpike float64 `yaml:"weight_vol_spike"`
}

// GateConfig contains the admission gate thresholds
type GateConfig struct {
	MaxPositions            int     `yaml:"max_positions"`
	SymbolExposureMaxUSD    float64 `yaml:"symbol_exposure_max_usd"`
	SpreadMaxBps            float64 `yaml:"spread_max_bps"`
	EntryScoreMin           float64 `yaml:"entry_score_min"`
	MinRRRatio              float64 `yaml:"min_rr_ratio"`
	CooldownSeconds         int     `yaml:"cooldown_seconds"`
	HardCooldownSeconds     int     `yaml:"hard_cooldown_seconds"`
	StalenessWindowSeconds  int     `yaml:"staleness_window_seconds"`
	PortfolioMaxExposurePct float64 `yaml:"portfolio_max_exposure_pct"`
}

// TierBracket is one notional sizing bracket
type TierBracket struct {
	NotionalUSD   float64 `yaml:"notional_usd"`
	MinScore      float64 `yaml:"min_score"`
	MaxConcurrent int     `yaml:"max_concurrent"`
}

// TierConfig contains the ordered sizing brackets
type TierConfig struct {
	Scout              TierBracket `yaml:"scout"`
	Normal             TierBracket `yaml:"normal"`
	Strong             TierBracket `yaml:"strong"`
	Whale              TierBracket `yaml:"whale"`
	WhaleConfluenceMin int         `yaml:"whale_confluence_min"`
	MaxTradeUSD        float64     `yaml:"max_trade_usd"`
}

// RiskConfig contains loss-limit, breaker and reconciliation settings
type RiskConfig struct {
	DailyMaxLossUSD     float64 `yaml:"daily_max_loss_usd"`
	BreakerMaxFailures  int     `yaml:"breaker_max_failures"`
	BreakerResetSeconds int     `yaml:"breaker_reset_seconds"`
	DustMinNotionalUSD  float64 `yaml:"dust_min_notional_usd"`
	GraceWindowMinutes  int     `yaml:"grace_window_minutes"`
}

// ExecutionConfig contains adapter-boundary settings
type ExecutionConfig struct {
	OrderTimeoutSeconds int     `yaml:"order_timeout_seconds"`
	MaxRetries          int     `yaml:"max_retries"`
	RetryBackoffMillis  int     `yaml:"retry_backoff_millis"`
	OrdersPerSecond     float64 `yaml:"orders_per_second"`
	PaperSlippageBps    float64 `yaml:"paper_slippage_bps"`
	PaperFeeBps         float64 `yaml:"paper_fee_bps"`
	PaperBalanceUSD     float64 `yaml:"paper_balance_usd"`
}

// ExchangeConfig contains exchange credentials (live mode only)
type ExchangeConfig struct {
	APIKey    Secret `yaml:"api_key"`
	SecretKey Secret `yaml:"secret_key"`
}

// TelemetryConfig contains telemetry settings
type TelemetryConfig struct {
	MetricsPort   int  `yaml:"metrics_port"`
	EnableMetrics bool `yaml:"enable_metrics"`
}

// JournalConfig contains the sqlite decision journal settings
type JournalConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s' (value: %v): %s", e.Field, e.Value, e.Message)
}

// Default returns a configuration with workable defaults for paper mode.
func Default() *Config {
	return &Config{
		App: AppConfig{Mode: "paper", DataDir: "data", LogLevel: "INFO"},
		Universe: UniverseConfig{
			Stablecoins: []string{"USDT", "USDC", "DAI", "USD", "EURC", "FDUSD", "PYUSD", "GUSD", "TUSD"},
		},
		Buffers: BufferConfig{
			MaxCandles1m:  500,
			MaxCandles5m:  200,
			WarmMin1m:     30,
			WarmMin5m:     12,
			SnapshotDepth: 120,
			MaxAgeHours:   4,
			FilePruneDays: 7,
		},
		Scheduler: SchedulerConfig{
			EvalIntervalSeconds:        5,
			MaintenanceIntervalMinutes: 30,
			StrategyTimeoutMillis:      500,
			StrategyPoolSize:           4,
		},
		Batch: BatchConfig{
			WindowSeconds:  30,
			MaxPerBatch:    3,
			WeightScore:    0.4,
			WeightTrend1h:  10,
			WeightTrend15m: 20,
			WeightVolSpike: 10,
		},
		Gates: GateConfig{
			MaxPositions:            8,
			SymbolExposureMaxUSD:    15,
			SpreadMaxBps:            80,
			EntryScoreMin:           70,
			MinRRRatio:              1.2,
			CooldownSeconds:         900,
			HardCooldownSeconds:     120,
			StalenessWindowSeconds:  120,
			PortfolioMaxExposurePct: 0.8,
		},
		Tiers: TierConfig{
			Scout:              TierBracket{NotionalUSD: 10, MinScore: 65, MaxConcurrent: 3},
			Normal:             TierBracket{NotionalUSD: 15, MinScore: 70, MaxConcurrent: 8},
			Strong:             TierBracket{NotionalUSD: 25, MinScore: 80, MaxConcurrent: 3},
			Whale:              TierBracket{NotionalUSD: 40, MinScore: 90, MaxConcurrent: 1},
			WhaleConfluenceMin: 2,
			MaxTradeUSD:        50,
		},
		Risk: RiskConfig{
			DailyMaxLossUSD:     25,
			BreakerMaxFailures:  5,
			BreakerResetSeconds: 300,
			DustMinNotionalUSD:  1,
			GraceWindowMinutes:  5,
		},
		Execution: ExecutionConfig{
			OrderTimeoutSeconds: 10,
			MaxRetries:          3,
			RetryBackoffMillis:  100,
			OrdersPerSecond:     5,
			PaperSlippageBps:    5,
			PaperFeeBps:         10,
			PaperBalanceUSD:     500,
		},
		Telemetry: TelemetryConfig{MetricsPort: 9100, EnableMetrics: true},
		Journal:   JournalConfig{Enabled: true, Path: "data/journal.db"},
	}
}

// LoadConfig loads configuration from a YAML file with environment variable
// expansion, applied on top of defaults.
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	config := Default()
	if err := yaml.Unmarshal([]byte(expanded), config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	var errs []string

	for _, err := range []error{
		c.validateApp(),
		c.validateScheduler(),
		c.validateBatch(),
		c.validateGates(),
		c.validateTiers(),
		c.validateRisk(),
		c.validateExecution(),
	} {
		if err != nil {
			errs = append(errs, err.Error())
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n%s", strings.Join(errs, "\n"))
	}
	return nil
}

func (c *Config) validateApp() error {
	if c.App.Mode != "paper" && c.App.Mode != "live" {
		return ValidationError{Field: "app.mode", Value: c.App.Mode, Message: "must be 'paper' or 'live'"}
	}
	switch strings.ToUpper(c.App.LogLevel) {
	case "DEBUG", "INFO", "WARN", "ERROR", "FATAL":
	default:
		return ValidationError{Field: "app.log_level", Value: c.App.LogLevel, Message: "must be one of DEBUG INFO WARN ERROR FATAL"}
	}
	if c.App.DataDir == "" {
		return ValidationError{Field: "app.data_dir", Value: c.App.DataDir, Message: "must not be empty"}
	}
	if c.App.Mode == "live" {
		if c.Exchange.APIKey == "" || c.Exchange.SecretKey == "" {
			return ValidationError{Field: "exchange", Value: "", Message: "api_key and secret_key are required in live mode"}
		}
	}
	return nil
}

func (c *Config) validateScheduler() error {
	if c.Scheduler.EvalIntervalSeconds < 1 || c.Scheduler.EvalIntervalSeconds > 300 {
		return ValidationError{Field: "scheduler.eval_interval_seconds", Value: c.Scheduler.EvalIntervalSeconds, Message: "must be 1-300"}
	}
	if c.Scheduler.MaintenanceIntervalMinutes < 1 || c.Scheduler.MaintenanceIntervalMinutes > 1440 {
		return ValidationError{Field: "scheduler.maintenance_interval_minutes", Value: c.Scheduler.MaintenanceIntervalMinutes, Message: "must be 1-1440"}
	}
	if c.Scheduler.StrategyTimeoutMillis < 10 {
		return ValidationError{Field: "scheduler.strategy_timeout_millis", Value: c.Scheduler.StrategyTimeoutMillis, Message: "must be >= 10"}
	}
	if c.Scheduler.StrategyPoolSize < 1 || c.Scheduler.StrategyPoolSize > 64 {
		return ValidationError{Field: "scheduler.strategy_pool_size", Value: c.Scheduler.StrategyPoolSize, Message: "must be 1-64"}
	}
	return nil
}

func (c *Config) validateBatch() error {
	if c.Batch.WindowSeconds < 1 || c.Batch.WindowSeconds > 600 {
		return ValidationError{Field: "batch.window_seconds", Value: c.Batch.WindowSeconds, Message: "must be 1-600"}
	}
	if c.Batch.MaxPerBatch < 1 || c.Batch.MaxPerBatch > 50 {
		return ValidationError{Field: "batch.max_per_batch", Value: c.Batch.MaxPerBatch, Message: "must be 1-50"}
	}
	return nil
}

func (c *Config) validateGates() error {
	if c.Gates.MaxPositions < 1 || c.Gates.MaxPositions > 100 {
		return ValidationError{Field: "gates.max_positions", Value: c.Gates.MaxPositions, Message: "must be 1-100"}
	}
	if c.Gates.SpreadMaxBps <= 0 {
		return ValidationError{Field: "gates.spread_max_bps", Value: c.Gates.SpreadMaxBps, Message: "must be > 0"}
	}
	if c.Gates.MinRRRatio <= 0 {
		return ValidationError{Field: "gates.min_rr_ratio", Value: c.Gates.MinRRRatio, Message: "must be > 0"}
	}
	if c.Gates.HardCooldownSeconds > c.Gates.CooldownSeconds {
		return ValidationError{Field: "gates.hard_cooldown_seconds", Value: c.Gates.HardCooldownSeconds, Message: "must not exceed cooldown_seconds"}
	}
	if c.Gates.PortfolioMaxExposurePct <= 0 || c.Gates.PortfolioMaxExposurePct > 1 {
		return ValidationError{Field: "gates.portfolio_max_exposure_pct", Value: c.Gates.PortfolioMaxExposurePct, Message: "must be in (0,1]"}
	}
	return nil
}

func (c *Config) validateTiers() error {
	brackets := []struct {
		name string
		b    TierBracket
	}{
		{"tiers.scout", c.Tiers.Scout},
		{"tiers.normal", c.Tiers.Normal},
		{"tiers.strong", c.Tiers.Strong},
		{"tiers.whale", c.Tiers.Whale},
	}
	prev := 0.0
	for _, br := range brackets {
		if br.b.NotionalUSD <= 0 {
			return ValidationError{Field: br.name + ".notional_usd", Value: br.b.NotionalUSD, Message: "must be > 0"}
		}
		if br.b.MaxConcurrent < 1 {
			return ValidationError{Field: br.name + ".max_concurrent", Value: br.b.MaxConcurrent, Message: "must be >= 1"}
		}
		if br.b.NotionalUSD < prev {
			return ValidationError{Field: br.name + ".notional_usd", Value: br.b.NotionalUSD, Message: "brackets must be ordered ascending"}
		}
		prev = br.b.NotionalUSD
	}
	if c.Tiers.MaxTradeUSD < c.Tiers.Whale.NotionalUSD {
		return ValidationError{Field: "tiers.max_trade_usd", Value: c.Tiers.MaxTradeUSD, Message: "must be >= whale notional"}
	}
	return nil
}

func (c *Config) validateRisk() error {
	if c.Risk.DailyMaxLossUSD <= 0 {
		return ValidationError{Field: "risk.daily_max_loss_usd", Value: c.Risk.DailyMaxLossUSD, Message: "must be > 0"}
	}
	if c.Risk.BreakerMaxFailures < 1 || c.Risk.BreakerMaxFailures > 100 {
		return ValidationError{Field: "risk.breaker_max_failures", Value: c.Risk.BreakerMaxFailures, Message: "must be 1-100"}
	}
	if c.Risk.BreakerResetSeconds < 1 {
		return ValidationError{Field: "risk.breaker_reset_seconds", Value: c.Risk.BreakerResetSeconds, Message: "must be >= 1"}
	}
	if c.Risk.GraceWindowMinutes < 1 || c.Risk.GraceWindowMinutes > 120 {
		return ValidationError{Field: "risk.grace_window_minutes", Value: c.Risk.GraceWindowMinutes, Message: "must be 1-120"}
	}
	return nil
}

func (c *Config) validateExecution() error {
	if c.Execution.OrderTimeoutSeconds < 1 || c.Execution.OrderTimeoutSeconds > 120 {
		return ValidationError{Field: "execution.order_timeout_seconds", Value: c.Execution.OrderTimeoutSeconds, Message: "must be 1-120"}
	}
	if c.Execution.MaxRetries < 0 || c.Execution.MaxRetries > 10 {
		return ValidationError{Field: "execution.max_retries", Value: c.Execution.MaxRetries, Message: "must be 0-10"}
	}
	if c.Execution.OrdersPerSecond <= 0 {
		return ValidationError{Field: "execution.orders_per_second", Value: c.Execution.OrdersPerSecond, Message: "must be > 0"}
	}
	return nil
}

// EvalInterval returns the evaluation clock period.
func (c *Config) EvalInterval() time.Duration {
	return time.Duration(c.Scheduler.EvalIntervalSeconds) * time.Second
}

// MaintenanceInterval returns the maintenance clock period.
func (c *Config) MaintenanceInterval() time.Duration {
	return time.Duration(c.Scheduler.MaintenanceIntervalMinutes) * time.Minute
}

// StrategyTimeout returns the per-strategy evaluation budget.
func (c *Config) StrategyTimeout() time.Duration {
	return time.Duration(c.Scheduler.StrategyTimeoutMillis) * time.Millisecond
}

// BatchWindow returns the batch allocator window length.
func (c *Config) BatchWindow() time.Duration {
	return time.Duration(c.Batch.WindowSeconds) * time.Second
}

// GraceWindow returns the reconciliation grace period.
func (c *Config) GraceWindow() time.Duration {
	return time.Duration(c.Risk.GraceWindowMinutes) * time.Minute
}

// expandEnvVars expands ${VAR} references in the YAML content
func expandEnvVars(s string) string {
	return os.Expand(s, os.Getenv)
}
