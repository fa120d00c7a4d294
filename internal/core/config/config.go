// Package config loads the YAML configuration enumerated in §6/§10.4 and
// applies defaults for every omitted field, following this codebase's
// os.ReadFile + yaml.Unmarshal + defaulting-pass idiom.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// DataTypeConfig configures one data type's TTL, worker count, hot set,
// and validator thresholds.
type DataTypeConfig struct {
	TTLSeconds       int      `yaml:"ttl_seconds"`
	Workers          int      `yaml:"workers"`
	HotSet           []string `yaml:"hot_set"`
	FailureThreshold int      `yaml:"failure_threshold"`
	CooldownSeconds  int      `yaml:"cooldown_seconds"`
	ValidatorH       float64  `yaml:"validator_h"`
	ValidatorH2      float64  `yaml:"validator_h2"`
	ValidatorD       float64  `yaml:"validator_d"`
	MedianMode       bool     `yaml:"median_mode"`
}

// SourceConfig configures one source's pacing, daily budget, and circuit
// breaker thresholds for a given data type.
type SourceConfig struct {
	ID                  string  `yaml:"id"`
	DataType            string  `yaml:"data_type"`
	RateLimitQPS        float64 `yaml:"rate_limit_qps"`
	RateLimitBurst      int     `yaml:"rate_limit_burst"`
	DailyBudget         int64   `yaml:"daily_budget"`
	BudgetResetHourUTC  int     `yaml:"budget_reset_hour_utc"`
	BudgetWarnThreshold float64 `yaml:"budget_warn_threshold"`
	CircuitMaxRequests  uint32  `yaml:"circuit_max_requests"`
	CircuitIntervalSec  int     `yaml:"circuit_interval_seconds"`
	CircuitTimeoutSec   int     `yaml:"circuit_timeout_seconds"`
	CircuitConsecutive  uint32  `yaml:"circuit_consecutive_failures"`
}

// RetryConfig holds the per-source retry settings. Only MaxAttempts reaches
// the resolver; BaseDelayMs and MaxDelayMs are defaulted and loaded but not
// applied, since the resolver always uses clock.DefaultBackoffPolicy
// (400ms base, 5s cap).
type RetryConfig struct {
	MaxAttempts  int `yaml:"max_attempts"`
	BaseDelayMs  int `yaml:"base_delay_ms"`
	MaxDelayMs   int `yaml:"max_delay_ms"`
}

// StoreConfig selects and configures the cache backend.
type StoreConfig struct {
	Backend       string `yaml:"backend"` // "memory" or "redis"
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	KeyPrefix     string `yaml:"key_prefix"`
}

// AlertConfig configures the dedup throttler's defaults and per-prefix
// windows.
type AlertConfig struct {
	DefaultWindowSeconds int            `yaml:"default_window_seconds"`
	WindowsByPrefix      map[string]int `yaml:"windows_by_prefix"`
	ArtifactPath         string         `yaml:"artifact_path"`
}

// Config is the top-level configuration document.
type Config struct {
	DataTypes    map[string]DataTypeConfig `yaml:"data_types"`
	Sources      []SourceConfig            `yaml:"sources"`
	Retry        RetryConfig               `yaml:"retry"`
	Store        StoreConfig               `yaml:"store"`
	Alerts       AlertConfig               `yaml:"alerts"`
	PreWarmEvery string                    `yaml:"pre_warm_every"` // Go duration string, e.g. "1h"
	LogLevel     string                    `yaml:"log_level"`
}

// Load reads and parses the YAML file at path, applying defaults for every
// omitted field, and validates the result. A nonexistent path yields a
// fully-defaulted Config rather than an error, matching the scheduler's
// tolerant loading behavior for local/dev use.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				applyDefaults(cfg)
				return cfg, nil
			}
			return nil, fmt.Errorf("read config %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %q: %w", path, err)
		}
	}
	applyDefaults(cfg)
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.DataTypes == nil {
		cfg.DataTypes = map[string]DataTypeConfig{}
	}
	defaults := map[string]DataTypeConfig{
		"US_STOCK":      {TTLSeconds: 3600, Workers: 8, FailureThreshold: 5, CooldownSeconds: 6 * 3600, ValidatorH: 0.25, ValidatorH2: 0.50, ValidatorD: 0.05},
		"JP_STOCK":      {TTLSeconds: 3600, Workers: 4, FailureThreshold: 5, CooldownSeconds: 6 * 3600, ValidatorH: 0.25, ValidatorH2: 0.50, ValidatorD: 0.05},
		"MUTUAL_FUND":   {TTLSeconds: 10800, Workers: 4, FailureThreshold: 5, CooldownSeconds: 6 * 3600, ValidatorH: 0.10, ValidatorH2: 0.20, ValidatorD: 0.03},
		"EXCHANGE_RATE": {TTLSeconds: 21600, Workers: 4, FailureThreshold: 10, CooldownSeconds: 3600, ValidatorH: 0.05, ValidatorH2: 0.10, ValidatorD: 0.02},
	}
	for dt, def := range defaults {
		cur, ok := cfg.DataTypes[dt]
		if !ok {
			cfg.DataTypes[dt] = def
			continue
		}
		if cur.TTLSeconds == 0 {
			cur.TTLSeconds = def.TTLSeconds
		}
		if cur.Workers == 0 {
			cur.Workers = def.Workers
		}
		if cur.FailureThreshold == 0 {
			cur.FailureThreshold = def.FailureThreshold
		}
		if cur.CooldownSeconds == 0 {
			cur.CooldownSeconds = def.CooldownSeconds
		}
		if cur.ValidatorH == 0 {
			cur.ValidatorH = def.ValidatorH
		}
		if cur.ValidatorH2 == 0 {
			cur.ValidatorH2 = def.ValidatorH2
		}
		if cur.ValidatorD == 0 {
			cur.ValidatorD = def.ValidatorD
		}
		cfg.DataTypes[dt] = cur
	}

	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry.MaxAttempts = 3
	}
	if cfg.Retry.BaseDelayMs == 0 {
		cfg.Retry.BaseDelayMs = 400
	}
	if cfg.Retry.MaxDelayMs == 0 {
		cfg.Retry.MaxDelayMs = 5000
	}
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = "memory"
	}
	if cfg.Store.KeyPrefix == "" {
		cfg.Store.KeyPrefix = "marketdata:"
	}
	if cfg.Alerts.DefaultWindowSeconds == 0 {
		cfg.Alerts.DefaultWindowSeconds = 1800
	}
	if cfg.PreWarmEvery == "" {
		cfg.PreWarmEvery = "1h"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
}

func validate(cfg *Config) error {
	for name, dt := range cfg.DataTypes {
		if dt.TTLSeconds <= 0 {
			return fmt.Errorf("data type %s: ttl_seconds must be positive", name)
		}
		if dt.Workers <= 0 {
			return fmt.Errorf("data type %s: workers must be positive", name)
		}
	}
	if _, err := time.ParseDuration(cfg.PreWarmEvery); err != nil {
		return fmt.Errorf("pre_warm_every %q: %w", cfg.PreWarmEvery, err)
	}
	return nil
}

// PreWarmInterval parses PreWarmEvery, already validated by Load.
func (c *Config) PreWarmInterval() time.Duration {
	d, _ := time.ParseDuration(c.PreWarmEvery)
	return d
}
