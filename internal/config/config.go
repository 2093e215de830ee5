// Package config loads the durable JSON-shaped run configuration shared by
// the offline backtest driver and the paper runner. Grounded on
// services/engine/config.go's ConfigManager/ConfigSnapshot split: a plain
// JSON document plus a sha256 fingerprint for reproducibility.
package config

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
)

// PriceField selects the close/open column a buy or sell fills against.
type PriceField string

const (
	PriceClose PriceField = "close"
	PriceOpen  PriceField = "open"
)

// WeightMethod mirrors signalpipeline.WeightMethod as a config-file string.
type WeightMethod string

const (
	WeightEqual WeightMethod = "equal"
	WeightScore WeightMethod = "score"
)

// Universe selects the mainboard-only or full-market ticker pool.
type Universe string

const (
	UniverseMainboard Universe = "mainboard"
	UniverseAll       Universe = "all"
)

// BatchExposureScope mirrors scheduler.BatchExposureScope as a config-file
// string.
type BatchExposureScope string

const (
	BatchScopeFullSet    BatchExposureScope = "full_set"
	BatchScopePerTranche BatchExposureScope = "per_tranche"
)

// Config is the on-disk config.json shape.
type Config struct {
	BuyPrice  PriceField `json:"buy_price"`
	SellPrice PriceField `json:"sell_price"`

	TopN            int          `json:"top_n"`
	InitialCapital  float64      `json:"initial_capital"`
	RebalanceFreq   int          `json:"rebalance_freq"`
	WeightMethod    WeightMethod `json:"weight_method"`
	Universe        Universe     `json:"universe"`
	ModelVersion    *int         `json:"model_version"`

	StopLossEnabled                bool    `json:"stop_loss_enabled"`
	StopLossDrawdownPct            float64 `json:"stop_loss_drawdown_pct"`
	StopLossTrailingEnabled        bool    `json:"stop_loss_trailing_enabled"`
	StopLossTrailingPct            float64 `json:"stop_loss_trailing_pct"`
	StopLossConsecutiveLimitDown   int     `json:"stop_loss_consecutive_limit_down"`

	EquityCurveEnabled          bool      `json:"equity_curve_enabled"`
	EquityCurveDrawdownThresholds []float64 `json:"equity_curve_drawdown_thresholds,omitempty"`
	EquityCurveExposureLevels     []float64 `json:"equity_curve_exposure_levels,omitempty"`
	EquityCurveMAShortWindow      int       `json:"equity_curve_ma_short_window,omitempty"`
	EquityCurveMALongWindow       int       `json:"equity_curve_ma_long_window,omitempty"`

	RiskBudgetEnabled bool    `json:"risk_budget_enabled"`
	VolWindow         int     `json:"vol_window"`
	VolEpsilon        float64 `json:"vol_epsilon"`

	HoldingPeriodDays int `json:"holding_period_days"`
	MaxRetries        int `json:"max_retries"`
	MaxRetryDays      int `json:"max_retry_days"`

	// BatchTranches splits the rebalance universe into this many tranches,
	// one due per rebalance cycle, rotating. 0 or 1 disables batch mode.
	BatchTranches      int                `json:"batch_tranches,omitempty"`
	BatchExposureScope BatchExposureScope `json:"batch_exposure_scope,omitempty"`

	// Monitoring and server sub-sections are ambient: not part of the
	// core run parameters, carried because a real deployment of this
	// runner needs somewhere to bind its metrics and status endpoints.
	Monitoring MonitoringConfig `json:"monitoring"`
	Server     ServerConfig     `json:"server"`

	ClickHouse ClickHouseConfig `json:"clickhouse"`
}

// MonitoringConfig configures the Prometheus exposition endpoint.
type MonitoringConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr"`
}

// ServerConfig configures the read-only status HTTP surface.
type ServerConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr"`
}

// ClickHouseConfig configures the optional ClickHouse-backed bar source.
type ClickHouseConfig struct {
	Enabled  bool   `json:"enabled"`
	Addr     string `json:"addr"`
	Database string `json:"database"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// Default returns the documented starting configuration for a fresh run.
func Default() Config {
	return Config{
		BuyPrice:          PriceClose,
		SellPrice:         PriceClose,
		TopN:              5,
		InitialCapital:    500000,
		RebalanceFreq:     5,
		WeightMethod:      WeightEqual,
		Universe:          UniverseMainboard,
		HoldingPeriodDays: 20,
		MaxRetries:        5,
		MaxRetryDays:      10,
		VolWindow:         60,
		VolEpsilon:        1e-4,
	}
}

// Load reads and validates a config.json file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	cfg := Default()
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate enforces the enumerated-option constraints every field requires.
func (c *Config) Validate() error {
	if c.BuyPrice != PriceClose && c.BuyPrice != PriceOpen {
		return fmt.Errorf("buy_price: invalid value %q", c.BuyPrice)
	}
	if c.SellPrice != PriceClose && c.SellPrice != PriceOpen {
		return fmt.Errorf("sell_price: invalid value %q", c.SellPrice)
	}
	if c.TopN <= 0 {
		return fmt.Errorf("top_n must be positive, got %d", c.TopN)
	}
	if c.InitialCapital <= 0 {
		return fmt.Errorf("initial_capital must be positive, got %v", c.InitialCapital)
	}
	if c.RebalanceFreq <= 0 {
		return fmt.Errorf("rebalance_freq must be positive, got %d", c.RebalanceFreq)
	}
	if c.WeightMethod != WeightEqual && c.WeightMethod != WeightScore {
		return fmt.Errorf("weight_method: invalid value %q", c.WeightMethod)
	}
	if c.Universe != UniverseMainboard && c.Universe != UniverseAll {
		return fmt.Errorf("universe: invalid value %q", c.Universe)
	}
	if c.BatchExposureScope != "" && c.BatchExposureScope != BatchScopeFullSet && c.BatchExposureScope != BatchScopePerTranche {
		return fmt.Errorf("batch_exposure_scope: invalid value %q", c.BatchExposureScope)
	}
	return nil
}

// Save atomically writes cfg to path (temp file + rename, per the
// persistence discipline paperstate applies to every state file).
func (c *Config) Save(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Fingerprint returns a stable sha256 hex digest of the config's JSON
// encoding, used by paperstate.NewRunRecord (RunRecord.ConfigHash) to prove
// which configuration produced a given run without embedding the whole
// document.
func (c *Config) Fingerprint() (string, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return fmt.Sprintf("%x", sum), nil
}
