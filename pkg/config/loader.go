package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Environment variables.
const (
	EnvPrefix = "CODEFORGE"

	// Legacy names kept for existing proxy deployments.
	EnvProxyBase     = "GEMINI_PROXY_BASE"
	EnvAPIKeys       = "GEMINI_API_KEYS"
	EnvMaxDebugIters = "MAX_DEBUG_ITERS"
)

// LoadOptions control where configuration is read from.
type LoadOptions struct {
	ConfigFile string // Explicit config file; searched for when empty
	EnvFile    string // .env file; ".env" when empty, missing files are ignored
	SecretsDir string // Directory holding .codeforge/secrets.json.enc
	Password   string // Password for the secrets file; skipped when empty
}

// Load reads configuration in precedence order: defaults, config file, .env,
// CODEFORGE_* environment, legacy variables. Credentials come from the
// encrypted secrets file first when a password is supplied.
func Load(opts LoadOptions) (*Config, error) {
	envFile := opts.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
	}

	v := viper.New()
	setDefaults(v)

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
	} else {
		v.SetConfigName("codeforge")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "codeforge"))
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) || opts.ConfigFile != "" {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := applyLegacyEnv(cfg); err != nil {
		return nil, err
	}
	if err := resolveCredentials(cfg, opts); err != nil {
		return nil, err
	}
	ApplyDerivedDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("proxy.base", d.Proxy.Base)
	v.SetDefault("proxy.health_path", d.Proxy.HealthPath)
	v.SetDefault("models.chain", d.Models.Chain)
	v.SetDefault("models.max_tokens", d.Models.MaxTokens)
	v.SetDefault("credentials", []string{})
	v.SetDefault("retry.max_attempts", d.Retry.MaxAttempts)
	v.SetDefault("retry.initial_delay", d.Retry.InitialDelay)
	v.SetDefault("retry.max_delay", d.Retry.MaxDelay)
	v.SetDefault("retry.backoff_factor", d.Retry.BackoffFactor)
	v.SetDefault("retry.jitter", d.Retry.Jitter)
	v.SetDefault("timeouts.request", d.Timeouts.Request)
	v.SetDefault("timeouts.call", d.Timeouts.Call)
	v.SetDefault("timeouts.test", d.Timeouts.Test)
	v.SetDefault("timeouts.health", d.Timeouts.Health)
	v.SetDefault("repair.max_iterations", d.Repair.MaxIterations)
	v.SetDefault("repair.max_failing_cases", d.Repair.MaxFailingCases)
	v.SetDefault("repair.history_retention", d.Repair.HistoryRetention)
	v.SetDefault("generation.workers", d.Generation.Workers)
	v.SetDefault("rate_limit.requests_per_second", d.RateLimit.RequestsPerSecond)
	v.SetDefault("rate_limit.burst", d.RateLimit.Burst)
	v.SetDefault("output.dir", d.Output.Dir)
	v.SetDefault("output.run_log", "")
	v.SetDefault("output.database", "")
	v.SetDefault("output.events", "")
	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("metrics.snapshot", "")
	v.SetDefault("ollama.host", "")
}

// applyLegacyEnv honors the variable names used by earlier proxy setups. They
// apply only where the CODEFORGE_* equivalent is unset.
func applyLegacyEnv(cfg *Config) error {
	if base := os.Getenv(EnvProxyBase); base != "" && os.Getenv(EnvPrefix+"_PROXY_BASE") == "" {
		cfg.Proxy.Base = base
	}
	if keys := os.Getenv(EnvAPIKeys); keys != "" && len(cfg.Credentials) == 0 {
		cfg.Credentials = splitList(keys)
	}
	if iters := os.Getenv(EnvMaxDebugIters); iters != "" && os.Getenv(EnvPrefix+"_REPAIR_MAX_ITERATIONS") == "" {
		n, err := strconv.Atoi(strings.TrimSpace(iters))
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", EnvMaxDebugIters, iters, err)
		}
		cfg.Repair.MaxIterations = n
	}
	return nil
}

// resolveCredentials prefers the encrypted secrets file, then configuration,
// then the environment.
func resolveCredentials(cfg *Config, opts LoadOptions) error {
	if opts.Password != "" {
		dir := opts.SecretsDir
		if dir == "" {
			dir = "."
		}
		if SecretsFileExists(dir) {
			secrets, err := DecryptSecretsFile(dir, opts.Password)
			if err != nil {
				return err
			}
			SetDecryptedSecrets(secrets)
		}
	}

	if keys, ok := lookupDecryptedSecret(SecretCredentials); ok {
		if fromSecrets := splitList(keys); len(fromSecrets) > 0 {
			cfg.Credentials = fromSecrets
			return nil
		}
	}

	// A single CODEFORGE_CREDENTIALS string arrives as one element.
	if len(cfg.Credentials) == 1 && strings.Contains(cfg.Credentials[0], ",") {
		cfg.Credentials = splitList(cfg.Credentials[0])
	}
	return nil
}

// ApplyDerivedDefaults fills the paths that default to locations under Output.Dir.
func ApplyDerivedDefaults(cfg *Config) {
	if cfg.Output.RunLog == "" {
		cfg.Output.RunLog = filepath.Join(cfg.Output.Dir, "run.log")
	}
	if cfg.Output.Database == "" {
		cfg.Output.Database = filepath.Join(cfg.Output.Dir, ".codeforge", "sessions.db")
	}
	if cfg.Output.Events == "" {
		cfg.Output.Events = filepath.Join(cfg.Output.Dir, ".codeforge", "events")
	}
	if cfg.Metrics.Enabled && cfg.Metrics.Snapshot == "" {
		cfg.Metrics.Snapshot = filepath.Join(cfg.Output.Dir, ".codeforge", "metrics.prom")
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
