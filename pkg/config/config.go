// Package config loads and validates codeforge configuration.
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"codeforge/pkg/llm/retry"
	"codeforge/pkg/modelclient"
)

// Default values.
const (
	DefaultProxyBase           = "http://localhost:8000"
	DefaultMaxRepairIterations = 5
	DefaultMaxFailingCases     = 5
	DefaultHistoryRetention    = 50
	DefaultWorkers             = 4
	DefaultOutputDir           = "output"
	DefaultCallTimeout         = 180 * time.Second
	DefaultTestTimeout         = 300 * time.Second
	DefaultHealthTimeout       = 10 * time.Second
)

// Config is the complete configuration for a session.
type Config struct {
	Proxy       ProxyConfig      `mapstructure:"proxy"`
	Models      ModelsConfig     `mapstructure:"models"`
	Credentials []string         `mapstructure:"credentials"`
	Retry       retry.Config     `mapstructure:"retry"`
	Timeouts    TimeoutsConfig   `mapstructure:"timeouts"`
	Repair      RepairConfig     `mapstructure:"repair"`
	Generation  GenerationConfig `mapstructure:"generation"`
	RateLimit   RateLimitConfig  `mapstructure:"rate_limit"`
	Output      OutputConfig     `mapstructure:"output"`
	Metrics     MetricsConfig    `mapstructure:"metrics"`
	Ollama      OllamaConfig     `mapstructure:"ollama"`
}

// ProxyConfig locates the key-rotating model proxy.
type ProxyConfig struct {
	Base       string `mapstructure:"base" validate:"omitempty,url"`
	HealthPath string `mapstructure:"health_path" validate:"required,startswith=/"`
}

// ModelsConfig holds the fallback chain.
type ModelsConfig struct {
	Chain     []string `mapstructure:"chain" validate:"required,min=1,dive,required"`
	MaxTokens int      `mapstructure:"max_tokens" validate:"gte=256"`
}

// TimeoutsConfig bounds every blocking operation.
type TimeoutsConfig struct {
	Request time.Duration `mapstructure:"request" validate:"gte=0"` // One backend request
	Call    time.Duration `mapstructure:"call" validate:"gt=0"`     // Per-model budget within one Send
	Test    time.Duration `mapstructure:"test" validate:"gt=0"`
	Health  time.Duration `mapstructure:"health" validate:"gt=0"`
}

// RepairConfig bounds the repair loop.
type RepairConfig struct {
	MaxIterations    int `mapstructure:"max_iterations" validate:"gte=0,lte=100"`
	MaxFailingCases  int `mapstructure:"max_failing_cases" validate:"gte=1"`
	HistoryRetention int `mapstructure:"history_retention" validate:"gte=1"`
}

// GenerationConfig sizes the generation worker pool.
type GenerationConfig struct {
	Workers int `mapstructure:"workers" validate:"gte=1,lte=64"`
}

// RateLimitConfig paces requests per model. Zero RPS disables pacing.
type RateLimitConfig struct {
	RequestsPerSecond float64 `mapstructure:"requests_per_second" validate:"gte=0"`
	Burst             int     `mapstructure:"burst" validate:"gte=0"`
}

// OutputConfig places generated files and session records.
type OutputConfig struct {
	Dir      string `mapstructure:"dir" validate:"required"`
	RunLog   string `mapstructure:"run_log"`
	Database string `mapstructure:"database"`
	Events   string `mapstructure:"events"` // Directory for JSONL event logs
}

// MetricsConfig controls the metrics snapshot.
type MetricsConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Snapshot string `mapstructure:"snapshot"`
}

// OllamaConfig locates a local Ollama server for ollama/* models.
type OllamaConfig struct {
	Host string `mapstructure:"host" validate:"omitempty,url"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	return &Config{
		Proxy: ProxyConfig{
			Base:       DefaultProxyBase,
			HealthPath: "/health",
		},
		Models: ModelsConfig{
			Chain:     []string{"models/gemini-2.5-pro", "models/gemini-2.5-flash"},
			MaxTokens: 8192,
		},
		Retry: retry.DefaultConfig,
		Timeouts: TimeoutsConfig{
			Request: DefaultCallTimeout,
			Call:    DefaultCallTimeout * 2,
			Test:    DefaultTestTimeout,
			Health:  DefaultHealthTimeout,
		},
		Repair: RepairConfig{
			MaxIterations:    DefaultMaxRepairIterations,
			MaxFailingCases:  DefaultMaxFailingCases,
			HistoryRetention: DefaultHistoryRetention,
		},
		Generation: GenerationConfig{Workers: DefaultWorkers},
		Output:     OutputConfig{Dir: DefaultOutputDir},
	}
}

// Validate checks struct tags and cross-field constraints.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.Retry.MaxAttempts < 1 || c.Retry.MaxAttempts > retry.MaxAttemptsCeiling {
		return fmt.Errorf("retry.max_attempts must be between 1 and %d, got %d", retry.MaxAttemptsCeiling, c.Retry.MaxAttempts)
	}
	if c.Retry.MaxDelay < c.Retry.InitialDelay {
		return fmt.Errorf("retry.max_delay (%s) must be >= retry.initial_delay (%s)", c.Retry.MaxDelay, c.Retry.InitialDelay)
	}
	if c.Timeouts.Request > 0 && c.Timeouts.Request > c.Timeouts.Call {
		return fmt.Errorf("timeouts.request (%s) must not exceed timeouts.call (%s)", c.Timeouts.Request, c.Timeouts.Call)
	}
	return nil
}

// ModelClientConfig projects the settings the model client needs.
func (c *Config) ModelClientConfig() modelclient.Config {
	return modelclient.Config{
		Credentials:   c.Credentials,
		Models:        c.Models.Chain,
		Retry:         c.Retry,
		CallTimeout:   c.Timeouts.Call,
		MaxTokens:     c.Models.MaxTokens,
		ProxyBase:     c.Proxy.Base,
		HealthPath:    c.Proxy.HealthPath,
		HealthTimeout: c.Timeouts.Health,
	}
}
