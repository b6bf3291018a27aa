package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate runs Load from an empty directory so no stray codeforge.yaml or .env is picked up.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	t.Setenv("HOME", dir)
	for _, k := range []string{EnvProxyBase, EnvAPIKeys, EnvMaxDebugIters, "CODEFORGE_PROXY_BASE", "CODEFORGE_REPAIR_MAX_ITERATIONS", "CODEFORGE_CREDENTIALS"} {
		t.Setenv(k, "")
		require.NoError(t, os.Unsetenv(k))
	}
	t.Cleanup(ClearDecryptedSecrets)
	return dir
}

func TestLoadDefaults(t *testing.T) {
	isolate(t)

	cfg, err := Load(LoadOptions{})
	require.NoError(t, err)

	assert.Equal(t, DefaultProxyBase, cfg.Proxy.Base)
	assert.Equal(t, []string{"models/gemini-2.5-pro", "models/gemini-2.5-flash"}, cfg.Models.Chain)
	assert.Equal(t, DefaultMaxRepairIterations, cfg.Repair.MaxIterations)
	assert.Equal(t, DefaultCallTimeout, cfg.Timeouts.Request)
	assert.Equal(t, filepath.Join(DefaultOutputDir, "run.log"), cfg.Output.RunLog)
	assert.Equal(t, filepath.Join(DefaultOutputDir, ".codeforge", "sessions.db"), cfg.Output.Database)
	assert.Equal(t, filepath.Join(DefaultOutputDir, ".codeforge", "events"), cfg.Output.Events)
}

func TestLoadConfigFileAndEnv(t *testing.T) {
	dir := isolate(t)
	yaml := `
models:
  chain: [claude-sonnet-4-5, gpt-5]
repair:
  max_iterations: 3
retry:
  initial_delay: 500ms
  max_delay: 5s
output:
  dir: build
`
	path := filepath.Join(dir, "custom.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0644))
	t.Setenv("CODEFORGE_GENERATION_WORKERS", "8")

	cfg, err := Load(LoadOptions{ConfigFile: path})
	require.NoError(t, err)

	assert.Equal(t, []string{"claude-sonnet-4-5", "gpt-5"}, cfg.Models.Chain)
	assert.Equal(t, 3, cfg.Repair.MaxIterations)
	assert.Equal(t, 500*time.Millisecond, cfg.Retry.InitialDelay)
	assert.Equal(t, 8, cfg.Generation.Workers)
	assert.Equal(t, filepath.Join("build", "run.log"), cfg.Output.RunLog)
}

func TestLoadLegacyEnv(t *testing.T) {
	dir := isolate(t)
	env := "GEMINI_PROXY_BASE=http://proxy.internal:9000\nGEMINI_API_KEYS=k1, k2 ,k3\nMAX_DEBUG_ITERS=2\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte(env), 0600))

	cfg, err := Load(LoadOptions{})
	require.NoError(t, err)

	assert.Equal(t, "http://proxy.internal:9000", cfg.Proxy.Base)
	assert.Equal(t, []string{"k1", "k2", "k3"}, cfg.Credentials)
	assert.Equal(t, 2, cfg.Repair.MaxIterations)
}

func TestLoadRejectsBadLegacyIters(t *testing.T) {
	isolate(t)
	t.Setenv(EnvMaxDebugIters, "many")

	_, err := Load(LoadOptions{})
	require.Error(t, err)
}

func TestLoadPrefersSecretsFile(t *testing.T) {
	dir := isolate(t)
	t.Setenv(EnvAPIKeys, "env-key")
	require.NoError(t, EncryptSecretsFile(dir, "pw", map[string]string{SecretCredentials: "file-a,file-b"}))

	cfg, err := Load(LoadOptions{SecretsDir: dir, Password: "pw"})
	require.NoError(t, err)
	assert.Equal(t, []string{"file-a", "file-b"}, cfg.Credentials)
}

func TestLoadMissingExplicitConfigFails(t *testing.T) {
	dir := isolate(t)
	_, err := Load(LoadOptions{ConfigFile: filepath.Join(dir, "nope.yaml")})
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"no models", func(c *Config) { c.Models.Chain = nil }, true},
		{"too many attempts", func(c *Config) { c.Retry.MaxAttempts = 9 }, true},
		{"delay inversion", func(c *Config) { c.Retry.MaxDelay = time.Millisecond }, true},
		{"bad proxy url", func(c *Config) { c.Proxy.Base = "not a url" }, true},
		{"zero workers", func(c *Config) { c.Generation.Workers = 0 }, true},
		{"request beyond call", func(c *Config) { c.Timeouts.Request = 2 * c.Timeouts.Call }, true},
		{"zero repair budget", func(c *Config) { c.Repair.MaxIterations = 0 }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestModelClientConfig(t *testing.T) {
	cfg := Default()
	cfg.Credentials = []string{"a"}
	mc := cfg.ModelClientConfig()
	assert.Equal(t, cfg.Models.Chain, mc.Models)
	assert.Equal(t, cfg.Timeouts.Call, mc.CallTimeout)
	assert.Equal(t, "/health", mc.HealthPath)
}
