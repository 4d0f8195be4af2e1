package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/xiongQvQ/ZenGrowth/internal/providers"
	"github.com/xiongQvQ/ZenGrowth/internal/scheduler"
)

// Config holds all zengrowth server configuration.
// Priority: env vars > settings.json > defaults. A .env file in the
// working directory is loaded into the environment before layering.
type Config struct {
	LogLevel    string `json:"log_level"`
	DBPath      string `json:"db_path"` // empty disables the run archive
	PoolSize    int    `json:"pool_size"`
	HistorySize int    `json:"history_size"`

	DefaultProvider  string   `json:"default_llm_provider"`
	EnabledProviders []string `json:"enabled_providers"`
	FallbackOrder    []string `json:"fallback_order"`
	EnableFallback   bool     `json:"enable_fallback"`

	Google  ProviderSettings `json:"google"`
	Volcano ProviderSettings `json:"volcano"`

	MaxRetries       int    `json:"max_retries"`
	RetryBaseDelay   string `json:"retry_base_delay"`
	RetryMaxDelay    string `json:"retry_max_delay"`
	BreakerThreshold int    `json:"breaker_threshold"`
	BreakerCooldown  string `json:"breaker_cooldown"`
	HealthInterval   string `json:"health_interval"`

	// WorkflowPath points at a YAML or JSON workflow definition that
	// replaces the built-in analytics task set.
	WorkflowPath string `json:"workflow_path"`
	// Params are workflow-level inputs (data_path, date ranges, ...).
	Params map[string]any `json:"params"`

	Schedules []scheduler.Schedule `json:"schedules"`
}

// ProviderSettings shapes one model vendor. API keys come from the
// environment only and are never read from or written to settings.json.
type ProviderSettings struct {
	APIKey      string  `json:"-"`
	BaseURL     string  `json:"base_url,omitempty"`
	Model       string  `json:"model"`
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
	Multimodal  bool    `json:"multimodal,omitempty"`
}

func defaultConfig() Config {
	return Config{
		LogLevel:         "info",
		DBPath:           filepath.Join(zengrowthDir(), "zengrowth.db"),
		HistorySize:      50,
		DefaultProvider:  "google",
		EnabledProviders: []string{"google", "volcano"},
		FallbackOrder:    []string{"google", "volcano"},
		EnableFallback:   true,
		Google: ProviderSettings{
			Model:       providers.DefaultGoogleModel,
			Temperature: 0.1,
			MaxTokens:   4000,
			Multimodal:  true,
		},
		Volcano: ProviderSettings{
			BaseURL:     providers.DefaultArkBaseURL,
			Model:       providers.DefaultArkModel,
			Temperature: 0.1,
			MaxTokens:   4000,
		},
		MaxRetries:       3,
		RetryBaseDelay:   "1s",
		RetryMaxDelay:    "60s",
		BreakerThreshold: 5,
		BreakerCooldown:  "30s",
		HealthInterval:   "300s",
	}
}

func zengrowthDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".zengrowth"
	}
	return filepath.Join(home, ".zengrowth")
}

func settingsPath() string {
	return filepath.Join(zengrowthDir(), "settings.json")
}

func loadConfig() Config {
	cfg := defaultConfig()

	// Layer 2: settings.json (ignore if missing).
	if data, err := os.ReadFile(settingsPath()); err == nil {
		_ = json.Unmarshal(data, &cfg)
	}

	// Layer 3: env vars override.
	if v := os.Getenv("GOOGLE_API_KEY"); v != "" {
		cfg.Google.APIKey = v
	}
	if v := os.Getenv("ARK_API_KEY"); v != "" {
		cfg.Volcano.APIKey = v
	}
	if v := os.Getenv("ARK_BASE_URL"); v != "" {
		cfg.Volcano.BaseURL = v
	}
	if v := os.Getenv("ARK_MODEL"); v != "" {
		cfg.Volcano.Model = v
	}
	if v := os.Getenv("DEFAULT_LLM_PROVIDER"); v != "" {
		cfg.DefaultProvider = v
	}
	if v := os.Getenv("ENABLED_PROVIDERS"); v != "" {
		cfg.EnabledProviders = splitList(v)
	}
	if v := os.Getenv("FALLBACK_ORDER"); v != "" {
		cfg.FallbackOrder = splitList(v)
	}
	if v := os.Getenv("ENABLE_FALLBACK"); v != "" {
		cfg.EnableFallback = v == "true" || v == "1"
	}
	if v := os.Getenv("ZENGROWTH_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("ZENGROWTH_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("ZENGROWTH_POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.PoolSize = n
		}
	}
	if v := os.Getenv("ZENGROWTH_HISTORY_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.HistorySize = n
		}
	}
	if v := os.Getenv("ZENGROWTH_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxRetries = n
		}
	}
	if v := os.Getenv("ZENGROWTH_RETRY_BASE_DELAY"); v != "" {
		cfg.RetryBaseDelay = v
	}
	if v := os.Getenv("ZENGROWTH_RETRY_MAX_DELAY"); v != "" {
		cfg.RetryMaxDelay = v
	}
	if v := os.Getenv("ZENGROWTH_BREAKER_THRESHOLD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.BreakerThreshold = n
		}
	}
	if v := os.Getenv("ZENGROWTH_BREAKER_COOLDOWN"); v != "" {
		cfg.BreakerCooldown = v
	}
	if v := os.Getenv("ZENGROWTH_HEALTH_INTERVAL"); v != "" {
		cfg.HealthInterval = v
	}
	if v := os.Getenv("ZENGROWTH_WORKFLOW"); v != "" {
		cfg.WorkflowPath = v
	}

	return cfg
}

// splitList parses a comma-separated env value into a clean slice.
func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// durationOr parses v as a Go duration, falling back when v is empty,
// malformed, or non-positive.
func durationOr(v string, fallback time.Duration) time.Duration {
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
