// Package config handles configuration loading for covenantwatch.
// It supports YAML config files with environment variable overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for all environment variable overrides.
const EnvPrefix = "COVENANTWATCH"

// Config represents the complete application configuration.
type Config struct {
	LLM     LLMConfig     `mapstructure:"llm"     yaml:"llm"     json:"llm"`
	Backend BackendConfig `mapstructure:"backend" yaml:"backend" json:"backend"`
	Health  HealthConfig  `mapstructure:"health"  yaml:"health"  json:"health"`
	Risk    RiskConfig    `mapstructure:"risk"    yaml:"risk"    json:"risk"`
	Monitor MonitorConfig `mapstructure:"monitor" yaml:"monitor" json:"monitor"`
	News    NewsConfig    `mapstructure:"news"    yaml:"news"    json:"news"`
	Storage StorageConfig `mapstructure:"storage" yaml:"storage" json:"storage"`
	Cache   CacheConfig   `mapstructure:"cache"   yaml:"cache"   json:"cache"`
	API     APIConfig     `mapstructure:"api"     yaml:"api"     json:"api"`
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging" json:"logging"`
}

// LLMConfig holds the Gemini settings.
type LLMConfig struct {
	GeminiKey   string      `mapstructure:"gemini_key"  yaml:"gemini_key"  json:"-"`
	BaseURL     string      `mapstructure:"base_url"    yaml:"base_url"    json:"base_url"`
	Model       string      `mapstructure:"model"       yaml:"model"       json:"model"`
	Temperature float64     `mapstructure:"temperature" yaml:"temperature" json:"temperature"`
	MaxTokens   int         `mapstructure:"max_tokens"  yaml:"max_tokens"  json:"max_tokens"`
	TimeoutSec  int         `mapstructure:"timeout_sec" yaml:"timeout_sec" json:"timeout_sec"`
	Retry       RetryConfig `mapstructure:"retry"       yaml:"retry"       json:"retry"`
}

// RetryConfig is the bounded retry policy for transient AI failures.
type RetryConfig struct {
	MaxAttempts    int     `mapstructure:"max_attempts"     yaml:"max_attempts"     json:"max_attempts"`
	InitialDelayMs int     `mapstructure:"initial_delay_ms" yaml:"initial_delay_ms" json:"initial_delay_ms"`
	MaxDelayMs     int     `mapstructure:"max_delay_ms"     yaml:"max_delay_ms"     json:"max_delay_ms"`
	Multiplier     float64 `mapstructure:"multiplier"       yaml:"multiplier"       json:"multiplier"`
	Jitter         float64 `mapstructure:"jitter"           yaml:"jitter"           json:"jitter"`
}

// InitialDelay returns the first backoff as a duration.
func (r RetryConfig) InitialDelay() time.Duration {
	return time.Duration(r.InitialDelayMs) * time.Millisecond
}

// MaxDelay returns the backoff ceiling as a duration.
func (r RetryConfig) MaxDelay() time.Duration {
	return time.Duration(r.MaxDelayMs) * time.Millisecond
}

// BackendConfig holds the Xano REST backend settings.
type BackendConfig struct {
	BaseURL    string `mapstructure:"base_url"    yaml:"base_url"    json:"base_url"`
	APIToken   string `mapstructure:"api_token"   yaml:"api_token"   json:"-"`
	TimeoutSec int    `mapstructure:"timeout_sec" yaml:"timeout_sec" json:"timeout_sec"`
	PageSize   int    `mapstructure:"page_size"   yaml:"page_size"   json:"page_size"`
}

// HealthConfig tunes the covenant health evaluator.
type HealthConfig struct {
	WarningMarginPct  float64 `mapstructure:"warning_margin_pct"  yaml:"warning_margin_pct"  json:"warning_margin_pct"`
	StableBandPct     float64 `mapstructure:"stable_band_pct"     yaml:"stable_band_pct"     json:"stable_band_pct"`
	MissingDataStatus string  `mapstructure:"missing_data_status" yaml:"missing_data_status" json:"missing_data_status"` // "compliant" or "warning"
}

// RiskConfig tunes the adverse-event risk aggregator.
type RiskConfig struct {
	RecentWindowDays int     `mapstructure:"recent_window_days" yaml:"recent_window_days" json:"recent_window_days"`
	HalfLifeDays     float64 `mapstructure:"half_life_days"     yaml:"half_life_days"     json:"half_life_days"`
	TrendMargin      float64 `mapstructure:"trend_margin"       yaml:"trend_margin"       json:"trend_margin"`
	HighRiskScore    float64 `mapstructure:"high_risk_score"    yaml:"high_risk_score"    json:"high_risk_score"`
}

// MonitorConfig holds covenant refresh settings.
type MonitorConfig struct {
	Concurrency int  `mapstructure:"concurrency"  yaml:"concurrency"  json:"concurrency"`
	UseAI       bool `mapstructure:"use_ai"       yaml:"use_ai"       json:"use_ai"`
	AuditLog    bool `mapstructure:"audit_log"    yaml:"audit_log"    json:"audit_log"`
}

// NewsConfig lists RSS feeds scanned for adverse events.
type NewsConfig struct {
	Feeds          []string `mapstructure:"feeds"            yaml:"feeds"            json:"feeds"`
	RequestsPerSec float64  `mapstructure:"requests_per_sec" yaml:"requests_per_sec" json:"requests_per_sec"`
	MaxAgeDays     int      `mapstructure:"max_age_days"     yaml:"max_age_days"     json:"max_age_days"`
}

// StorageConfig holds the local SQLite store location.
type StorageConfig struct {
	Path string `mapstructure:"path" yaml:"path" json:"path"`
}

// CacheConfig selects the assessment cache backend.
type CacheConfig struct {
	Backend       string `mapstructure:"backend"        yaml:"backend"        json:"backend"` // "memory" or "redis"
	TTLSec        int    `mapstructure:"ttl_sec"        yaml:"ttl_sec"        json:"ttl_sec"`
	RedisAddr     string `mapstructure:"redis_addr"     yaml:"redis_addr"     json:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password" yaml:"redis_password" json:"-"`
	RedisDB       int    `mapstructure:"redis_db"       yaml:"redis_db"       json:"redis_db"`
}

// TTL returns the cache TTL as a duration.
func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLSec) * time.Second
}

// APIConfig holds HTTP API server settings.
type APIConfig struct {
	Host        string   `mapstructure:"host"         yaml:"host"         json:"host"`
	Port        int      `mapstructure:"port"         yaml:"port"         json:"port"`
	CORSOrigins []string `mapstructure:"cors_origins" yaml:"cors_origins" json:"cors_origins"`

	// Finished extraction jobs and expired memory-cache entries are swept
	// every SweepIntervalSec; jobs are kept for JobRetentionSec.
	SweepIntervalSec int `mapstructure:"sweep_interval_sec" yaml:"sweep_interval_sec" json:"sweep_interval_sec"`
	JobRetentionSec  int `mapstructure:"job_retention_sec"  yaml:"job_retention_sec"  json:"job_retention_sec"`
}

// SweepInterval returns the sweep period.
func (c APIConfig) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalSec) * time.Second
}

// JobRetention returns how long finished extraction jobs stay pollable.
func (c APIConfig) JobRetention() time.Duration {
	return time.Duration(c.JobRetentionSec) * time.Second
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"  yaml:"level"  json:"level"`  // "debug", "info", "warn", "error"
	Format string `mapstructure:"format" yaml:"format" json:"format"` // "text" or "json"
}

// Load reads the configuration from file and environment variables.
// Config file search order:
//  1. ./config/config.yaml
//  2. ~/.covenantwatch/config.yaml
//  3. /etc/covenantwatch/config.yaml
//
// Environment variables override config file values.
// Format: COVENANTWATCH_<SECTION>_<KEY>, e.g., COVENANTWATCH_LLM_GEMINI_KEY
func Load() (*Config, error) {
	v := newViper()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./config")
	v.AddConfigPath(filepath.Join(homeDir(), ".covenantwatch"))
	v.AddConfigPath("/etc/covenantwatch")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	return decode(v)
}

// LoadFromFile reads configuration from a specific file path.
func LoadFromFile(path string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", path, err)
	}

	return decode(v)
}

// Default returns the configuration built from defaults and environment only.
func Default() *Config {
	cfg, err := decode(newViper())
	if err != nil {
		// defaults always decode
		panic(err)
	}
	return cfg
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	overrideFromEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the evaluators cannot work with.
func (c *Config) Validate() error {
	if c.Health.WarningMarginPct < 0 || c.Health.WarningMarginPct >= 100 {
		return fmt.Errorf("config: health.warning_margin_pct must be in [0, 100), got %v", c.Health.WarningMarginPct)
	}
	switch c.Health.MissingDataStatus {
	case "compliant", "warning":
	default:
		return fmt.Errorf("config: health.missing_data_status must be compliant or warning, got %q", c.Health.MissingDataStatus)
	}
	if c.LLM.Retry.MaxAttempts < 1 {
		return fmt.Errorf("config: llm.retry.max_attempts must be >= 1")
	}
	switch c.Cache.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("config: cache.backend must be memory or redis, got %q", c.Cache.Backend)
	}
	return nil
}

// setDefaults sets sensible defaults for all config values.
func setDefaults(v *viper.Viper) {
	// LLM defaults
	v.SetDefault("llm.base_url", "https://generativelanguage.googleapis.com/v1beta")
	v.SetDefault("llm.model", "gemini-2.0-flash")
	v.SetDefault("llm.temperature", 0.1)
	v.SetDefault("llm.max_tokens", 8192)
	v.SetDefault("llm.timeout_sec", 120)
	v.SetDefault("llm.retry.max_attempts", 3)
	v.SetDefault("llm.retry.initial_delay_ms", 500)
	v.SetDefault("llm.retry.max_delay_ms", 8000)
	v.SetDefault("llm.retry.multiplier", 2.0)
	v.SetDefault("llm.retry.jitter", 0.1)

	// Backend defaults
	v.SetDefault("backend.base_url", "")
	v.SetDefault("backend.timeout_sec", 30)
	v.SetDefault("backend.page_size", 50)

	// Health evaluator defaults
	v.SetDefault("health.warning_margin_pct", 10.0)
	v.SetDefault("health.stable_band_pct", 5.0)
	v.SetDefault("health.missing_data_status", "compliant")

	// Risk aggregator defaults
	v.SetDefault("risk.recent_window_days", 30)
	v.SetDefault("risk.half_life_days", 30.0)
	v.SetDefault("risk.trend_margin", 1.5)
	v.SetDefault("risk.high_risk_score", 7.0)

	// Monitor defaults
	v.SetDefault("monitor.concurrency", 4)
	v.SetDefault("monitor.use_ai", true)
	v.SetDefault("monitor.audit_log", true)

	// News defaults
	v.SetDefault("news.feeds", []string{})
	v.SetDefault("news.requests_per_sec", 2.0)
	v.SetDefault("news.max_age_days", 180)

	// Storage defaults
	v.SetDefault("storage.path", filepath.Join(homeDir(), ".covenantwatch", "covenantwatch.db"))

	// Cache defaults
	v.SetDefault("cache.backend", "memory")
	v.SetDefault("cache.ttl_sec", 3600)
	v.SetDefault("cache.redis_addr", "localhost:6379")
	v.SetDefault("cache.redis_db", 0)

	// API defaults
	v.SetDefault("api.host", "0.0.0.0")
	v.SetDefault("api.port", 8080)
	v.SetDefault("api.cors_origins", []string{"http://localhost:3000"})
	v.SetDefault("api.sweep_interval_sec", 600)
	v.SetDefault("api.job_retention_sec", 3600)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

// overrideFromEnv explicitly reads sensitive keys from environment variables.
// GEMINI_API_KEY is accepted as a fallback for the Gemini key.
func overrideFromEnv(cfg *Config) {
	if key := os.Getenv(EnvPrefix + "_LLM_GEMINI_KEY"); key != "" {
		cfg.LLM.GeminiKey = key
	} else if key := os.Getenv("GEMINI_API_KEY"); key != "" && cfg.LLM.GeminiKey == "" {
		cfg.LLM.GeminiKey = key
	}
	if tok := os.Getenv(EnvPrefix + "_BACKEND_API_TOKEN"); tok != "" {
		cfg.Backend.APIToken = tok
	}
	if pw := os.Getenv(EnvPrefix + "_CACHE_REDIS_PASSWORD"); pw != "" {
		cfg.Cache.RedisPassword = pw
	}
}

// homeDir returns the user's home directory.
func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
