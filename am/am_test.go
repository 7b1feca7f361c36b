package am

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 3, cfg.Lookup.MaxAttempts)
	assert.Equal(t, 15*time.Second, cfg.Lookup.Timeout())
	assert.Equal(t, DefaultHandles, cfg.Lookup.Handles)
	assert.Equal(t, 5, cfg.RateLimit.CallsPerSecond)
	assert.Equal(t, PolicySlidingWindow, cfg.RateLimit.Policy)
	assert.Equal(t, 3, cfg.Pool.Workers)
	assert.Equal(t, 10, cfg.Input.MinDigits)
	assert.Equal(t, DefaultServerPort, cfg.Server.Port)
}

func TestLoadFromFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "am.toml")
	content := `
[rate_limit]
calls_per_second = 2
policy = "token_bucket"

[pool]
workers = 5

[lookup]
handles = ["@ybl"]
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.RateLimit.CallsPerSecond)
	assert.Equal(t, PolicyTokenBucket, cfg.RateLimit.Policy)
	assert.Equal(t, 5, cfg.Pool.Workers)
	assert.Equal(t, []string{"@ybl"}, cfg.Lookup.Handles)
	// untouched keys keep defaults
	assert.Equal(t, 3, cfg.Lookup.MaxAttempts)
	require.NoError(t, cfg.Validate())
}

func TestLoadFromFileMissing(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "nope.toml"))
	require.Error(t, err)
}

func TestLoadHonoursEnv(t *testing.T) {
	Reset()
	t.Cleanup(Reset)
	t.Setenv("UPILOOKUP_POOL_WORKERS", "4")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Pool.Workers)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"missing placeholder", func(c *Config) { c.Lookup.Endpoint = "https://x/upi" }, "placeholder"},
		{"zero timeout", func(c *Config) { c.Lookup.TimeoutSeconds = 0 }, "timeout_seconds"},
		{"zero attempts", func(c *Config) { c.Lookup.MaxAttempts = 0 }, "max_attempts"},
		{"backoff cap below base", func(c *Config) { c.Lookup.BackoffMaxMS = 10 }, "backoff_max_ms"},
		{"zero rate", func(c *Config) { c.RateLimit.CallsPerSecond = 0 }, "calls_per_second"},
		{"bad policy", func(c *Config) { c.RateLimit.Policy = "leaky" }, "policy"},
		{"too many workers", func(c *Config) { c.Pool.Workers = MaxWorkers + 1 }, "pool.workers"},
		{"no workers", func(c *Config) { c.Pool.Workers = 0 }, "pool.workers"},
		{"bad pattern", func(c *Config) { c.Input.Pattern = "([" }, "input.pattern"},
		{"inverted digits", func(c *Config) { c.Input.MaxDigits = 5 }, "max_digits"},
		{"bad port", func(c *Config) { c.Server.Port = 70000 }, "server.port"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestWriteDefaultsRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "am.toml")
	require.NoError(t, WriteDefaults(path, false))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	err = WriteDefaults(path, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")

	require.NoError(t, WriteDefaults(path, true))
}

func TestRender(t *testing.T) {
	out, err := Render(Default())
	require.NoError(t, err)
	assert.Contains(t, out, "[rate_limit]")
	assert.Contains(t, out, "calls_per_second = 5")
	assert.Contains(t, out, "{upi_id}")
}

func TestConfigWatcherReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "am.toml")
	require.NoError(t, os.WriteFile(path, []byte("[rate_limit]\ncalls_per_second = 2\n"), 0644))

	cw, err := NewConfigWatcher(path, zap.NewNop().Sugar())
	require.NoError(t, err)
	cw.debouncePeriod = 10 * time.Millisecond

	var seen atomic.Int64
	cw.OnReload(func(cfg *Config) error {
		seen.Store(int64(cfg.RateLimit.CallsPerSecond))
		return nil
	})
	cw.Start()
	t.Cleanup(func() { _ = cw.Stop() })

	require.NoError(t, os.WriteFile(path, []byte("[rate_limit]\ncalls_per_second = 9\n"), 0644))

	assert.Eventually(t, func() bool { return seen.Load() == 9 }, 3*time.Second, 10*time.Millisecond)
}

func TestConfigWatcherRejectsInvalidReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "am.toml")
	require.NoError(t, os.WriteFile(path, []byte("[pool]\nworkers = 0\n"), 0644))

	cw, err := NewConfigWatcher(path, zap.NewNop().Sugar())
	require.NoError(t, err)
	t.Cleanup(func() { _ = cw.Stop() })

	called := false
	cw.OnReload(func(*Config) error { called = true; return nil })

	require.Error(t, cw.reload())
	assert.False(t, called)
}
