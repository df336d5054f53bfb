package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

var sensitiveEnv = []string{
	"COVENANTWATCH_LLM_GEMINI_KEY", "GEMINI_API_KEY",
	"COVENANTWATCH_BACKEND_API_TOKEN", "COVENANTWATCH_CACHE_REDIS_PASSWORD",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, e := range sensitiveEnv {
		t.Setenv(e, "")
		os.Unsetenv(e)
	}
}

// ── Load / Defaults ──

func TestLoadReturnsDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	// LLM defaults
	if cfg.LLM.Model != "gemini-2.0-flash" {
		t.Errorf("LLM.Model: got %q, want %q", cfg.LLM.Model, "gemini-2.0-flash")
	}
	if cfg.LLM.Temperature != 0.1 {
		t.Errorf("LLM.Temperature: got %f, want 0.1", cfg.LLM.Temperature)
	}
	if cfg.LLM.Retry.MaxAttempts != 3 {
		t.Errorf("LLM.Retry.MaxAttempts: got %d, want 3", cfg.LLM.Retry.MaxAttempts)
	}
	if cfg.LLM.Retry.InitialDelay().Milliseconds() != 500 {
		t.Errorf("LLM.Retry.InitialDelay: got %v, want 500ms", cfg.LLM.Retry.InitialDelay())
	}
	if cfg.AIEnabled() {
		t.Error("AI should be disabled without a Gemini key")
	}

	// Health defaults
	if cfg.Health.WarningMarginPct != 10 {
		t.Errorf("Health.WarningMarginPct: got %f, want 10", cfg.Health.WarningMarginPct)
	}
	if cfg.Health.StableBandPct != 5 {
		t.Errorf("Health.StableBandPct: got %f, want 5", cfg.Health.StableBandPct)
	}
	if cfg.Health.MissingDataStatus != "compliant" {
		t.Errorf("Health.MissingDataStatus: got %q, want %q", cfg.Health.MissingDataStatus, "compliant")
	}

	// Risk defaults
	if cfg.Risk.RecentWindowDays != 30 {
		t.Errorf("Risk.RecentWindowDays: got %d, want 30", cfg.Risk.RecentWindowDays)
	}
	if cfg.Risk.TrendMargin != 1.5 {
		t.Errorf("Risk.TrendMargin: got %f, want 1.5", cfg.Risk.TrendMargin)
	}

	// Cache / API / Logging defaults
	if cfg.Cache.Backend != "memory" {
		t.Errorf("Cache.Backend: got %q, want %q", cfg.Cache.Backend, "memory")
	}
	if cfg.API.Port != 8080 {
		t.Errorf("API.Port: got %d, want 8080", cfg.API.Port)
	}
	if cfg.API.SweepInterval() != 10*time.Minute || cfg.API.JobRetention() != time.Hour {
		t.Errorf("API sweep: got %s / %s", cfg.API.SweepInterval(), cfg.API.JobRetention())
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("Logging.Level: got %q, want %q", cfg.Logging.Level, "info")
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("Logging.Format: got %q, want %q", cfg.Logging.Format, "text")
	}
}

// ── LoadFromFile ──

func TestLoadFromFile(t *testing.T) {
	clearEnv(t)

	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "test_config.yaml")
	content := []byte(`
llm:
  model: "gemini-1.5-pro"
  gemini_key: "AIza-test-key-0123456789"
  retry:
    max_attempts: 5
backend:
  base_url: "https://x8ki-letl-twmt.n7.xano.io/api:v1"
health:
  warning_margin_pct: 15
  missing_data_status: "warning"
cache:
  backend: "redis"
  redis_addr: "redis:6379"
api:
  port: 9090
logging:
  level: "debug"
  format: "json"
`)
	if err := os.WriteFile(cfgPath, content, 0644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}

	cfg, err := LoadFromFile(cfgPath)
	if err != nil {
		t.Fatalf("LoadFromFile() error: %v", err)
	}
	if cfg.LLM.Model != "gemini-1.5-pro" {
		t.Errorf("LLM.Model: got %q", cfg.LLM.Model)
	}
	if !cfg.AIEnabled() {
		t.Error("AI should be enabled with a configured key")
	}
	if cfg.LLM.Retry.MaxAttempts != 5 {
		t.Errorf("LLM.Retry.MaxAttempts: got %d, want 5", cfg.LLM.Retry.MaxAttempts)
	}
	if cfg.LLM.Retry.Multiplier != 2 {
		t.Errorf("LLM.Retry.Multiplier default lost: got %f", cfg.LLM.Retry.Multiplier)
	}
	if cfg.Backend.BaseURL == "" {
		t.Error("Backend.BaseURL should be set")
	}
	if cfg.Health.WarningMarginPct != 15 {
		t.Errorf("Health.WarningMarginPct: got %f, want 15", cfg.Health.WarningMarginPct)
	}
	if cfg.Health.MissingDataStatus != "warning" {
		t.Errorf("Health.MissingDataStatus: got %q", cfg.Health.MissingDataStatus)
	}
	if cfg.Cache.Backend != "redis" || cfg.Cache.RedisAddr != "redis:6379" {
		t.Errorf("Cache: got %+v", cfg.Cache)
	}
	if cfg.API.Port != 9090 {
		t.Errorf("API.Port: got %d, want 9090", cfg.API.Port)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Logging.Format: got %q, want %q", cfg.Logging.Format, "json")
	}
}

func TestLoadFromFileNotFound(t *testing.T) {
	_, err := LoadFromFile("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("LoadFromFile() with nonexistent path should return error")
	}
}

func TestLoadFromFileRejectsInvalid(t *testing.T) {
	clearEnv(t)
	tests := []struct {
		name string
		yaml string
	}{
		{"margin", "health:\n  warning_margin_pct: 120\n"},
		{"missing data", "health:\n  missing_data_status: \"breached\"\n"},
		{"retry", "llm:\n  retry:\n    max_attempts: 0\n"},
		{"cache", "cache:\n  backend: \"memcached\"\n"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "c.yaml")
			if err := os.WriteFile(path, []byte(tc.yaml), 0644); err != nil {
				t.Fatal(err)
			}
			if _, err := LoadFromFile(path); err == nil {
				t.Errorf("expected validation error for %s", tc.name)
			}
		})
	}
}

// ── overrideFromEnv ──

func TestOverrideFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("COVENANTWATCH_LLM_GEMINI_KEY", "gemini-key-789")
	t.Setenv("COVENANTWATCH_BACKEND_API_TOKEN", "xano-token")
	t.Setenv("COVENANTWATCH_CACHE_REDIS_PASSWORD", "redis-pw")

	cfg := &Config{}
	overrideFromEnv(cfg)

	if cfg.LLM.GeminiKey != "gemini-key-789" {
		t.Errorf("GeminiKey: got %q", cfg.LLM.GeminiKey)
	}
	if cfg.Backend.APIToken != "xano-token" {
		t.Errorf("APIToken: got %q", cfg.Backend.APIToken)
	}
	if cfg.Cache.RedisPassword != "redis-pw" {
		t.Errorf("RedisPassword: got %q", cfg.Cache.RedisPassword)
	}
}

func TestOverrideFromEnvGeminiFallback(t *testing.T) {
	clearEnv(t)
	t.Setenv("GEMINI_API_KEY", "plain-gemini-key")

	cfg := &Config{}
	overrideFromEnv(cfg)
	if cfg.LLM.GeminiKey != "plain-gemini-key" {
		t.Errorf("GeminiKey: got %q, want fallback key", cfg.LLM.GeminiKey)
	}

	// A configured key wins over the generic fallback.
	cfg = &Config{LLM: LLMConfig{GeminiKey: "from-config"}}
	overrideFromEnv(cfg)
	if cfg.LLM.GeminiKey != "from-config" {
		t.Errorf("GeminiKey: got %q, want from-config", cfg.LLM.GeminiKey)
	}
}

func TestOverrideFromEnvNoEnvSet(t *testing.T) {
	clearEnv(t)

	cfg := &Config{
		LLM: LLMConfig{GeminiKey: "from-config"},
	}
	overrideFromEnv(cfg)

	if cfg.LLM.GeminiKey != "from-config" {
		t.Errorf("GeminiKey should stay as 'from-config' when env is unset, got %q", cfg.LLM.GeminiKey)
	}
}

// ── maskKey ──

func TestMaskKey(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"", "***"},
		{"abcd", "***"},
		{"12345678", "***"},
		{"123456789", "123...789"},
		{"AIzaSyD-abcdef1234567890xyz", "AIz...xyz"},
	}
	for _, tc := range tests {
		got := maskKey(tc.input)
		if got != tc.want {
			t.Errorf("maskKey(%q): got %q, want %q", tc.input, got, tc.want)
		}
	}
}

// ── CheckAPIKeys / checkKey ──

func TestCheckAPIKeysAllEmpty(t *testing.T) {
	clearEnv(t)

	statuses := CheckAPIKeys(&Config{})
	if len(statuses) != 3 {
		t.Fatalf("CheckAPIKeys: got %d statuses, want 3", len(statuses))
	}
	for _, s := range statuses {
		if s.IsSet {
			t.Errorf("Key %q should not be set", s.Name)
		}
		if s.Source != KeySourceNone {
			t.Errorf("Key %q source: got %q, want %q", s.Name, s.Source, KeySourceNone)
		}
	}
}

func TestCheckAPIKeysSources(t *testing.T) {
	clearEnv(t)

	cfg := &Config{LLM: LLMConfig{GeminiKey: "AIza-very-long-key-value"}}
	s := CheckAPIKeys(cfg)[0]
	if s.Source != KeySourceConfig {
		t.Errorf("Source: got %q, want %q", s.Source, KeySourceConfig)
	}
	if s.Masked != "AIz...lue" {
		t.Errorf("Masked: got %q, want %q", s.Masked, "AIz...lue")
	}

	t.Setenv("GEMINI_API_KEY", "AIza-very-long-key-value")
	s = CheckAPIKeys(cfg)[0]
	if s.Source != KeySourceEnv {
		t.Errorf("Source with fallback env: got %q, want %q", s.Source, KeySourceEnv)
	}
}
