package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete session configuration. It is loaded once at session
// start and never mutated; hot-reload, if ever needed, replaces the whole
// object atomically.
type Config struct {
	Account    AccountConfig    `json:"account" yaml:"account"`
	Risk       RiskConfig       `json:"risk" yaml:"risk"`
	Strategies []StrategyConfig `json:"strategies" yaml:"strategies"`
	Orders     OrderConfig      `json:"orders" yaml:"orders"`
	Reconcile  ReconcileConfig  `json:"reconcile" yaml:"reconcile"`
	Feed       FeedConfig       `json:"feed" yaml:"feed"`
	Journal    JournalConfig    `json:"journal" yaml:"journal"`
}

// AccountConfig contains account initialization parameters.
type AccountConfig struct {
	ID       string  `json:"id" yaml:"id"`
	Currency string  `json:"currency" yaml:"currency"`
	Equity   float64 `json:"equity" yaml:"equity"`
}

// RiskConfig contains the session-wide hard limits enforced by the risk
// limiter.
type RiskConfig struct {
	MaxDailyLoss           float64 `json:"max_daily_loss" yaml:"max_daily_loss"`
	MaxConcurrentPositions int     `json:"max_concurrent_positions" yaml:"max_concurrent_positions"`
	AutoStopLossStreak     int     `json:"auto_stop_loss_streak" yaml:"auto_stop_loss_streak"`

	// Sizing selects the position-sizing model: "fixed" or "kelly".
	Sizing      string  `json:"sizing" yaml:"sizing"`
	RiskPercent float64 `json:"risk_percent" yaml:"risk_percent"`
	KellyWin    float64 `json:"kelly_win_rate,omitempty" yaml:"kelly_win_rate,omitempty"`
	KellyPayoff float64 `json:"kelly_payoff,omitempty" yaml:"kelly_payoff,omitempty"`
}

// StrategyConfig contains immutable per-strategy parameters.
type StrategyConfig struct {
	Name    string   `json:"name" yaml:"name"`
	Type    string   `json:"type" yaml:"type"` // "momentum", "range-breakout", "noop"
	Symbols []string `json:"symbols" yaml:"symbols"`

	SignalCooldown  Duration `json:"signal_cooldown" yaml:"signal_cooldown"`
	SymbolCooldown  Duration `json:"symbol_cooldown" yaml:"symbol_cooldown"`
	MaxHoldDuration Duration `json:"max_hold_duration" yaml:"max_hold_duration"`
	SignalTTL       Duration `json:"signal_ttl" yaml:"signal_ttl"`

	StopLossPercent float64 `json:"stop_loss_percent" yaml:"stop_loss_percent"`
	RiskReward      float64 `json:"risk_reward" yaml:"risk_reward"`
	MaxPositionSize float64 `json:"max_position_size" yaml:"max_position_size"` // notional, account currency
	TrailingStopPct float64 `json:"trailing_stop_percent,omitempty" yaml:"trailing_stop_percent,omitempty"`

	MinScore   float64 `json:"min_score" yaml:"min_score"` // confluence floor per sub-score, 0-10
	FastPeriod int     `json:"fast_period,omitempty" yaml:"fast_period,omitempty"`
	SlowPeriod int     `json:"slow_period,omitempty" yaml:"slow_period,omitempty"`
	Window     int     `json:"window,omitempty" yaml:"window,omitempty"`
}

// OrderConfig contains submission retry and expiry parameters.
type OrderConfig struct {
	MaxRetries   int      `json:"max_retries" yaml:"max_retries"`
	RetryBackoff Duration `json:"retry_backoff" yaml:"retry_backoff"`
	PartialStale Duration `json:"partial_stale" yaml:"partial_stale"`
}

// ReconcileConfig controls the broker reconciliation loop.
type ReconcileConfig struct {
	Interval      Duration `json:"interval" yaml:"interval"`
	QtyTolerance  float64  `json:"qty_tolerance" yaml:"qty_tolerance"`
	OnMismatch    string   `json:"on_mismatch" yaml:"on_mismatch"` // "halt" or "adopt"
	CancelOrphans bool     `json:"cancel_orphans" yaml:"cancel_orphans"`
	ShutdownGrace Duration `json:"shutdown_grace" yaml:"shutdown_grace"`
}

// FeedConfig selects the market data source.
type FeedConfig struct {
	Type    string   `json:"type" yaml:"type"` // "websocket" or "script"
	URL     string   `json:"url,omitempty" yaml:"url,omitempty"`
	Symbols []string `json:"symbols" yaml:"symbols"`
	Steps   []Step   `json:"steps,omitempty" yaml:"steps,omitempty"`
}

// Step is one scripted tick for the script feed.
type Step struct {
	Symbol string   `json:"symbol" yaml:"symbol"`
	Bid    float64  `json:"bid" yaml:"bid"`
	Ask    float64  `json:"ask" yaml:"ask"`
	Volume float64  `json:"volume,omitempty" yaml:"volume,omitempty"`
	Delay  Duration `json:"delay,omitempty" yaml:"delay,omitempty"`
}

// JournalConfig contains journaling parameters.
type JournalConfig struct {
	Type   string `json:"type" yaml:"type"` // "sqlite" or "none"
	DBPath string `json:"db_path,omitempty" yaml:"db_path,omitempty"`
}

// LoadFromFile loads configuration from a file (YAML or JSON).
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}

	// Try YAML first, fall back to JSON.
	if err := yaml.Unmarshal(data, cfg); err != nil {
		if jerr := json.Unmarshal(data, cfg); jerr != nil {
			return nil, fmt.Errorf("parse config (tried YAML and JSON): %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// SaveToFile saves configuration to a file (format chosen by extension).
func (c *Config) SaveToFile(path string) error {
	var data []byte
	var err error

	if strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml") {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// Validate checks that the configuration is usable for a live session.
func (c *Config) Validate() error {
	if c.Account.Currency == "" {
		return fmt.Errorf("account.currency is required")
	}
	if c.Account.Equity <= 0 {
		return fmt.Errorf("account.equity must be positive")
	}
	if c.Risk.MaxDailyLoss <= 0 {
		return fmt.Errorf("risk.max_daily_loss must be positive")
	}
	if c.Risk.MaxConcurrentPositions <= 0 {
		return fmt.Errorf("risk.max_concurrent_positions must be positive")
	}
	switch c.Risk.Sizing {
	case "fixed":
		if c.Risk.RiskPercent <= 0 || c.Risk.RiskPercent > 0.1 {
			return fmt.Errorf("risk.risk_percent must be in (0, 0.1]")
		}
	case "kelly":
		if c.Risk.KellyWin <= 0 || c.Risk.KellyWin >= 1 {
			return fmt.Errorf("risk.kelly_win_rate must be in (0, 1)")
		}
		if c.Risk.KellyPayoff <= 0 {
			return fmt.Errorf("risk.kelly_payoff must be positive")
		}
	default:
		return fmt.Errorf("risk.sizing must be 'fixed' or 'kelly'")
	}

	if len(c.Strategies) == 0 {
		return fmt.Errorf("at least one strategy is required")
	}
	seen := map[string]bool{}
	for i := range c.Strategies {
		s := &c.Strategies[i]
		if s.Name == "" {
			return fmt.Errorf("strategies[%d].name is required", i)
		}
		if seen[s.Name] {
			return fmt.Errorf("duplicate strategy name %q", s.Name)
		}
		seen[s.Name] = true
		if len(s.Symbols) == 0 {
			return fmt.Errorf("strategy %q: at least one symbol is required", s.Name)
		}
		if s.StopLossPercent <= 0 && s.Type != "noop" {
			return fmt.Errorf("strategy %q: stop_loss_percent must be positive", s.Name)
		}
		if s.RiskReward <= 0 && s.Type != "noop" {
			return fmt.Errorf("strategy %q: risk_reward must be positive", s.Name)
		}
		if s.MaxPositionSize <= 0 {
			return fmt.Errorf("strategy %q: max_position_size must be positive", s.Name)
		}
	}

	switch c.Reconcile.OnMismatch {
	case "", "halt", "adopt":
	default:
		return fmt.Errorf("reconcile.on_mismatch must be 'halt' or 'adopt'")
	}

	switch c.Feed.Type {
	case "websocket":
		if c.Feed.URL == "" {
			return fmt.Errorf("feed.url is required for websocket feed")
		}
	case "script", "":
	default:
		return fmt.Errorf("feed.type must be 'websocket' or 'script'")
	}

	switch c.Journal.Type {
	case "sqlite":
		if c.Journal.DBPath == "" {
			return fmt.Errorf("journal.db_path is required for sqlite journal")
		}
	case "none", "":
	default:
		return fmt.Errorf("journal.type must be 'sqlite' or 'none'")
	}

	return nil
}

// StrategyByName returns the config block for a named strategy.
func (c *Config) StrategyByName(name string) (StrategyConfig, bool) {
	for _, s := range c.Strategies {
		if s.Name == name {
			return s, true
		}
	}
	return StrategyConfig{}, false
}

// Default returns a configuration with sensible defaults for a simulated
// session.
func Default() *Config {
	return &Config{
		Account: AccountConfig{
			ID:       "SIM-001",
			Currency: "USD",
			Equity:   100000,
		},
		Risk: RiskConfig{
			MaxDailyLoss:           1000,
			MaxConcurrentPositions: 3,
			AutoStopLossStreak:     3,
			Sizing:                 "fixed",
			RiskPercent:            0.005,
		},
		Strategies: []StrategyConfig{
			{
				Name:            "momentum-nifty",
				Type:            "momentum",
				Symbols:         []string{"NIFTY"},
				SignalCooldown:  Duration(2 * time.Minute),
				SymbolCooldown:  Duration(30 * time.Second),
				MaxHoldDuration: Duration(15 * time.Minute),
				SignalTTL:       Duration(5 * time.Second),
				StopLossPercent: 0.25,
				RiskReward:      2.0,
				MaxPositionSize: 50000,
				MinScore:        6,
				FastPeriod:      10,
				SlowPeriod:      30,
				Window:          20,
			},
		},
		Orders: OrderConfig{
			MaxRetries:   3,
			RetryBackoff: Duration(250 * time.Millisecond),
			PartialStale: Duration(30 * time.Second),
		},
		Reconcile: ReconcileConfig{
			Interval:      Duration(15 * time.Second),
			QtyTolerance:  0.0001,
			OnMismatch:    "halt",
			ShutdownGrace: Duration(5 * time.Second),
		},
		Feed: FeedConfig{
			Type:    "script",
			Symbols: []string{"NIFTY"},
		},
		Journal: JournalConfig{
			Type:   "sqlite",
			DBPath: "./scalper.sqlite",
		},
	}
}
