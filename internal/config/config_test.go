package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"asyncbuild/internal/config"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func env(vars map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := vars[k]
		return v, ok
	}
}

func TestLoad_MissingFileIsDefaults(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	assert.Equal(t, config.Default(), cfg)
	require.NoError(t, cfg.Validate())
}

func TestLoad_OverlaysFile(t *testing.T) {
	path := writeFile(t, `
[monitor]
default_timeout = "45s"
max_history_size = 50

[pool]
capacity_per_key = 4
shell = "sh"

[hints]
min_wait_gap = "2.5s"

[server]
synchronous = true
disabled_tools = ["audit", "bench"]
toolchain = "go"
`)
	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, 45*time.Second, cfg.Monitor.DefaultTimeout.Duration)
	assert.Equal(t, 50, cfg.Monitor.MaxHistorySize)
	assert.Equal(t, 30*time.Second, cfg.Monitor.CleanupInterval.Duration, "unset keys keep defaults")
	assert.Equal(t, 4, cfg.Pool.CapacityPerKey)
	assert.Equal(t, "sh", cfg.Pool.Shell)
	assert.Equal(t, 2500*time.Millisecond, cfg.Hints.MinWaitGap.Duration)
	assert.True(t, cfg.Server.Synchronous)
	assert.Equal(t, []string{"audit", "bench"}, cfg.Server.DisabledTools)
	assert.Equal(t, "go", cfg.Server.Toolchain)

	d := cfg.DispatcherConfig()
	assert.True(t, d.Synchronous)
	assert.Equal(t, 45*time.Second, d.WaitTimeout)
	assert.Equal(t, []string{"audit", "bench"}, d.DisabledTools)
	assert.Equal(t, 4, cfg.PoolConfig().CapacityPerKey)
	assert.Equal(t, 50, cfg.RegistryConfig().MaxHistorySize)
}

func TestLoad_BadInput(t *testing.T) {
	_, err := config.Load(writeFile(t, "[monitor]\ndefault_timeout = \"soon\"\n"))
	assert.Error(t, err)

	_, err = config.Load(writeFile(t, "not toml ="))
	assert.ErrorContains(t, err, "parse")
}

func TestApplyEnv(t *testing.T) {
	cfg := config.Default()
	err := cfg.ApplyEnv(env(map[string]string{
		"ASYNCBUILD_SYNCHRONOUS":     "true",
		"ASYNCBUILD_DISABLED_TOOLS":  " build, ,test ",
		"ASYNCBUILD_DEFAULT_TIMEOUT": "2m",
		"ASYNCBUILD_POOL_CAPACITY":   "3",
		"ASYNCBUILD_LOG_LEVEL":       "debug",
	}))
	require.NoError(t, err)
	assert.True(t, cfg.Server.Synchronous)
	assert.Equal(t, []string{"build", "test"}, cfg.Server.DisabledTools)
	assert.Equal(t, 2*time.Minute, cfg.Monitor.DefaultTimeout.Duration)
	assert.Equal(t, 3, cfg.Pool.CapacityPerKey)
	assert.Equal(t, "debug", cfg.Server.LogLevel)

	cfg = config.Default()
	err = cfg.ApplyEnv(env(map[string]string{
		"ASYNCBUILD_SYNCHRONOUS":   "maybe",
		"ASYNCBUILD_POOL_CAPACITY": "many",
	}))
	assert.ErrorContains(t, err, "ASYNCBUILD_SYNCHRONOUS")
	assert.ErrorContains(t, err, "ASYNCBUILD_POOL_CAPACITY")
}

func TestValidate(t *testing.T) {
	cfg := config.Default()
	cfg.Pool.CapacityPerKey = 0
	cfg.Monitor.DefaultTimeout = config.Duration{}
	cfg.Server.LogLevel = "chatty"

	err := cfg.Validate()
	require.Error(t, err)
	assert.ErrorContains(t, err, "pool.capacity_per_key")
	assert.ErrorContains(t, err, "monitor.default_timeout")
	assert.ErrorContains(t, err, "server.log_level")
}

func TestResolvePath(t *testing.T) {
	p, err := config.ResolvePath("/etc/asyncbuild.toml")
	require.NoError(t, err)
	assert.Equal(t, "/etc/asyncbuild.toml", p)

	t.Setenv(config.EnvConfigPath, "/tmp/from-env.toml")
	p, err = config.ResolvePath("")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/from-env.toml", p)

	t.Setenv(config.EnvConfigPath, "")
	t.Setenv("HOME", "/home/dev")
	p, err = config.ResolvePath("")
	require.NoError(t, err)
	assert.Equal(t, "/home/dev/.config/asyncbuild/config.toml", p)
}
