// Package config provides environment-driven configuration for the
// investigative intelligence engine: the LLM client, the cache, the
// Analysis Engine, and the Investigation Pipeline.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

// LLMConfig configures the rate-limited LLM client (spec §4.4).
type LLMConfig struct {
	Provider           string        `json:"provider"`
	Model              string        `json:"model"`
	Temperature        float64       `json:"temperature"`
	RequestsPerMinute  int           `json:"requests_per_minute"`
	TokensPerMinute    int           `json:"tokens_per_minute"`
	RetryAttempts      int           `json:"retry_attempts"`
	RetryDelay         time.Duration `json:"retry_delay"`
}

// CacheConfig configures the reference in-memory cache.
type CacheConfig struct {
	MaxEntries int           `json:"max_entries"`
	DefaultTTL time.Duration `json:"default_ttl"`
}

// EngineConfig configures the Analysis Engine.
type EngineConfig struct {
	CacheEnabled    bool          `json:"cache_enabled"`
	DefaultTimeout  time.Duration `json:"default_timeout"`
	CacheResultTTL  time.Duration `json:"cache_result_ttl"`
}

// PipelineConfig configures the Investigation Pipeline.
type PipelineConfig struct {
	Adaptive            bool          `json:"adaptive"`
	MaxConcurrentPhases int           `json:"max_concurrent_phases"`
	Timeout             time.Duration `json:"timeout"`
}

// Config holds all configuration for the investigatord service.
type Config struct {
	LLM      LLMConfig      `json:"llm"`
	Cache    CacheConfig    `json:"cache"`
	Engine   EngineConfig   `json:"engine"`
	Pipeline PipelineConfig `json:"pipeline"`

	MaxConcurrentAnalyses int `json:"max_concurrent_analyses"`

	EnableTracing  bool `json:"enable_tracing"`
	EnableAuditLog bool `json:"enable_audit_log"`

	HealthPort      int           `json:"health_port"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout"`

	LogLevel  string `json:"log_level"`
	LogFormat string `json:"log_format"`
}

// Load builds a Config from defaults overridden by environment
// variables, mirroring the defaults-then-env-override shape used
// throughout this codebase.
func Load() (*Config, error) {
	cfg := &Config{
		LLM: LLMConfig{
			Provider:          "fixture",
			Model:             "gpt-4",
			Temperature:       0.7,
			RequestsPerMinute: 50,
			TokensPerMinute:   40000,
			RetryAttempts:     3,
			RetryDelay:        time.Second,
		},
		Cache: CacheConfig{
			MaxEntries: 1000,
			DefaultTTL: time.Hour,
		},
		Engine: EngineConfig{
			CacheEnabled:   true,
			DefaultTimeout: 30 * time.Second,
			CacheResultTTL: time.Hour,
		},
		Pipeline: PipelineConfig{
			Adaptive:            true,
			MaxConcurrentPhases: 8,
			Timeout:             5 * time.Minute,
		},
		MaxConcurrentAnalyses: 5,
		EnableTracing:         true,
		EnableAuditLog:        true,
		HealthPort:            8080,
		ShutdownTimeout:       30 * time.Second,
		LogLevel:              "info",
		LogFormat:             "json",
	}

	loadStringEnvs(cfg)
	loadDurationEnvs(cfg)
	loadIntEnvs(cfg)
	loadFloatEnvs(cfg)
	loadBoolEnvs(cfg)

	return cfg, nil
}

func loadStringEnvs(cfg *Config) {
	if v := os.Getenv("INTEL_LLM_PROVIDER"); v != "" {
		cfg.LLM.Provider = v
	}
	if v := os.Getenv("INTEL_LLM_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := os.Getenv("INTEL_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("INTEL_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}
}

func loadDurationEnvs(cfg *Config) {
	setDuration := func(env string, dst *time.Duration) {
		if v := os.Getenv(env); v != "" {
			if d, err := time.ParseDuration(v); err == nil {
				*dst = d
			} else if secs, err := parseSeconds(v); err == nil {
				*dst = time.Duration(secs * float64(time.Second))
			}
		}
	}
	setDuration("INTEL_LLM_RETRY_DELAY_SECONDS", &cfg.LLM.RetryDelay)
	setDuration("INTEL_CACHE_DEFAULT_TTL_SECONDS", &cfg.Cache.DefaultTTL)
	setDuration("INTEL_ENGINE_DEFAULT_TIMEOUT_SECONDS", &cfg.Engine.DefaultTimeout)
	setDuration("INTEL_PIPELINE_TIMEOUT_SECONDS", &cfg.Pipeline.Timeout)
	setDuration("INTEL_SHUTDOWN_TIMEOUT_SECONDS", &cfg.ShutdownTimeout)
}

func loadIntEnvs(cfg *Config) {
	setInt := func(env string, dst *int) {
		if v := os.Getenv(env); v != "" {
			var n int
			if _, err := fmt.Sscanf(v, "%d", &n); err == nil {
				*dst = n
			}
		}
	}
	setInt("INTEL_LLM_REQUESTS_PER_MINUTE", &cfg.LLM.RequestsPerMinute)
	setInt("INTEL_LLM_TOKENS_PER_MINUTE", &cfg.LLM.TokensPerMinute)
	setInt("INTEL_LLM_RETRY_ATTEMPTS", &cfg.LLM.RetryAttempts)
	setInt("INTEL_CACHE_MAX_ENTRIES", &cfg.Cache.MaxEntries)
	setInt("INTEL_PIPELINE_MAX_CONCURRENT_PHASES", &cfg.Pipeline.MaxConcurrentPhases)
	setInt("INTEL_MAX_CONCURRENT_ANALYSES", &cfg.MaxConcurrentAnalyses)
	setInt("INTEL_HEALTH_PORT", &cfg.HealthPort)
}

func loadFloatEnvs(cfg *Config) {
	if v := os.Getenv("INTEL_LLM_TEMPERATURE"); v != "" {
		var f float64
		if _, err := fmt.Sscanf(v, "%g", &f); err == nil {
			cfg.LLM.Temperature = f
		}
	}
}

func loadBoolEnvs(cfg *Config) {
	setBool := func(env string, dst *bool) {
		if v := os.Getenv(env); v != "" {
			*dst = v == "true" || v == "1"
		}
	}
	setBool("INTEL_ENGINE_CACHE_ENABLED", &cfg.Engine.CacheEnabled)
	setBool("INTEL_PIPELINE_ADAPTIVE", &cfg.Pipeline.Adaptive)
	setBool("INTEL_ENABLE_TRACING", &cfg.EnableTracing)
	setBool("INTEL_ENABLE_AUDIT_LOG", &cfg.EnableAuditLog)
}

func parseSeconds(v string) (float64, error) {
	var f float64
	_, err := fmt.Sscanf(v, "%g", &f)
	return f, err
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	if c.LLM.RequestsPerMinute <= 0 {
		return errors.New("llm.requests_per_minute must be positive")
	}
	if c.LLM.TokensPerMinute <= 0 {
		return errors.New("llm.tokens_per_minute must be positive")
	}
	if c.LLM.RetryAttempts < 0 {
		return errors.New("llm.retry_attempts must be non-negative")
	}
	if c.Engine.DefaultTimeout <= 0 {
		return errors.New("engine.default_timeout must be positive")
	}
	if c.Pipeline.MaxConcurrentPhases <= 0 {
		return errors.New("pipeline.max_concurrent_phases must be positive")
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		return fmt.Errorf("invalid log level: %s", c.LogLevel)
	}

	return nil
}
