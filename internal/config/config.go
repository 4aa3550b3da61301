// Package config loads server configuration from a TOML file, then applies
// ASYNCBUILD_* environment overrides. Command-line flags are applied last by
// the caller.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"asyncbuild/pkg/dispatcher"
	"asyncbuild/pkg/hints"
	"asyncbuild/pkg/notify"
	"asyncbuild/pkg/pool"
	"asyncbuild/pkg/registry"
)

// EnvConfigPath names the config file when --config is not given.
const EnvConfigPath = "ASYNCBUILD_CONFIG"

// Duration is a time.Duration written as a Go duration string ("30s").
type Duration struct {
	time.Duration
}

// UnmarshalText parses a duration string.
func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText renders the duration string.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Monitor configures the operation registry.
type Monitor struct {
	DefaultTimeout  Duration `toml:"default_timeout"`
	CleanupInterval Duration `toml:"cleanup_interval"`
	MaxHistorySize  int      `toml:"max_history_size"`
	AutoCleanup     bool     `toml:"auto_cleanup"`
	Retention       Duration `toml:"retention"`
}

// Pool configures the worker pool.
type Pool struct {
	CapacityPerKey int      `toml:"capacity_per_key"`
	CheckoutWait   Duration `toml:"checkout_wait"`
	IdleTimeout    Duration `toml:"idle_timeout"`
	ReapInterval   Duration `toml:"reap_interval"`
	SpawnTimeout   Duration `toml:"spawn_timeout"`
	PingAfter      Duration `toml:"ping_after"`
	CommandTimeout Duration `toml:"command_timeout"`
	Shell          string   `toml:"shell"`
	DisableWatch   bool     `toml:"disable_watch"`
}

// Hints configures the hint engine.
type Hints struct {
	MinWaitGap          Duration `toml:"min_wait_gap"`
	StatusPollThreshold int      `toml:"status_poll_threshold"`
}

// Notify configures notification delivery.
type Notify struct {
	DeliveryTimeout Duration `toml:"delivery_timeout"`
	LogEvents       bool     `toml:"log_events"`
}

// Server holds process-wide switches.
type Server struct {
	Synchronous     bool     `toml:"synchronous"`
	DisabledTools   []string `toml:"disabled_tools"`
	Toolchain       string   `toml:"toolchain"`
	EventLog        string   `toml:"event_log"`
	LogLevel        string   `toml:"log_level"`
	ShutdownTimeout Duration `toml:"shutdown_timeout"`
}

// Config is the whole file.
type Config struct {
	Monitor Monitor `toml:"monitor"`
	Pool    Pool    `toml:"pool"`
	Hints   Hints   `toml:"hints"`
	Notify  Notify  `toml:"notify"`
	Server  Server  `toml:"server"`
}

// Default returns the production defaults.
func Default() Config {
	reg := registry.DefaultConfig()
	pl := pool.DefaultConfig()
	h := hints.DefaultConfig()
	return Config{
		Monitor: Monitor{
			DefaultTimeout:  Duration{reg.DefaultTimeout},
			CleanupInterval: Duration{reg.CleanupInterval},
			MaxHistorySize:  reg.MaxHistorySize,
			AutoCleanup:     true,
			Retention:       Duration{time.Hour},
		},
		Pool: Pool{
			CapacityPerKey: pl.CapacityPerKey,
			CheckoutWait:   Duration{pl.CheckoutWait},
			IdleTimeout:    Duration{pl.IdleTimeout},
			ReapInterval:   Duration{pl.ReapInterval},
			SpawnTimeout:   Duration{pl.SpawnTimeout},
			PingAfter:      Duration{pl.PingAfter},
			CommandTimeout: Duration{reg.DefaultTimeout},
			Shell:          pl.Shell,
		},
		Hints: Hints{
			MinWaitGap:          Duration{h.MinWaitGap},
			StatusPollThreshold: h.StatusPollThreshold,
		},
		Notify: Notify{
			DeliveryTimeout: Duration{5 * time.Second},
			LogEvents:       true,
		},
		Server: Server{
			LogLevel:        "info",
			ShutdownTimeout: Duration{10 * time.Second},
		},
	}
}

// ResolvePath picks the config file: flag value, then $ASYNCBUILD_CONFIG,
// then ~/.config/asyncbuild/config.toml.
func ResolvePath(flag string) (string, error) {
	if flag != "" {
		return flag, nil
	}
	if v := os.Getenv(EnvConfigPath); v != "" {
		return v, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	return filepath.Join(home, ".config", "asyncbuild", "config.toml"), nil
}

// Load reads path over the defaults. A missing file yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path) //nolint:gosec // path is operator-supplied
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv overrides fields from ASYNCBUILD_* variables read through
// lookup (os.LookupEnv in production).
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	var errs []error
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	boolean := func(key string, dst *bool) {
		if v, ok := lookup(key); ok && v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = b
		}
	}
	integer := func(key string, dst *int) {
		if v, ok := lookup(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	duration := func(key string, dst *Duration) {
		if v, ok := lookup(key); ok && v != "" {
			if err := dst.UnmarshalText([]byte(v)); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
			}
		}
	}

	boolean("ASYNCBUILD_SYNCHRONOUS", &c.Server.Synchronous)
	if v, ok := lookup("ASYNCBUILD_DISABLED_TOOLS"); ok {
		c.Server.DisabledTools = SplitList(v)
	}
	str("ASYNCBUILD_TOOLCHAIN", &c.Server.Toolchain)
	str("ASYNCBUILD_EVENT_LOG", &c.Server.EventLog)
	str("ASYNCBUILD_LOG_LEVEL", &c.Server.LogLevel)
	duration("ASYNCBUILD_DEFAULT_TIMEOUT", &c.Monitor.DefaultTimeout)
	duration("ASYNCBUILD_COMMAND_TIMEOUT", &c.Pool.CommandTimeout)
	integer("ASYNCBUILD_POOL_CAPACITY", &c.Pool.CapacityPerKey)
	str("ASYNCBUILD_SHELL", &c.Pool.Shell)
	return errors.Join(errs...)
}

// SplitList parses a comma-separated list, dropping blanks.
func SplitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate rejects values no component can run with.
func (c Config) Validate() error {
	var errs []error
	positive := func(name string, d Duration) {
		if d.Duration <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %v", name, d.Duration))
		}
	}
	positive("monitor.default_timeout", c.Monitor.DefaultTimeout)
	positive("monitor.cleanup_interval", c.Monitor.CleanupInterval)
	positive("pool.checkout_wait", c.Pool.CheckoutWait)
	positive("pool.idle_timeout", c.Pool.IdleTimeout)
	positive("pool.command_timeout", c.Pool.CommandTimeout)
	positive("hints.min_wait_gap", c.Hints.MinWaitGap)
	positive("notify.delivery_timeout", c.Notify.DeliveryTimeout)

	if c.Monitor.MaxHistorySize < 1 {
		errs = append(errs, fmt.Errorf("monitor.max_history_size must be at least 1, got %d", c.Monitor.MaxHistorySize))
	}
	if c.Monitor.Retention.Duration < 0 {
		errs = append(errs, fmt.Errorf("monitor.retention must not be negative"))
	}
	if c.Pool.CapacityPerKey < 1 {
		errs = append(errs, fmt.Errorf("pool.capacity_per_key must be at least 1, got %d", c.Pool.CapacityPerKey))
	}
	if c.Hints.StatusPollThreshold < 1 {
		errs = append(errs, fmt.Errorf("hints.status_poll_threshold must be at least 1, got %d", c.Hints.StatusPollThreshold))
	}
	if c.Server.LogLevel != "" {
		switch strings.ToLower(c.Server.LogLevel) {
		case "debug", "info", "warn", "error":
		default:
			errs = append(errs, fmt.Errorf("server.log_level %q is not one of debug, info, warn, error", c.Server.LogLevel))
		}
	}
	return errors.Join(errs...)
}

// RegistryConfig maps [monitor].
func (c Config) RegistryConfig() registry.Config {
	return registry.Config{
		DefaultTimeout:  c.Monitor.DefaultTimeout.Duration,
		CleanupInterval: c.Monitor.CleanupInterval.Duration,
		MaxHistorySize:  c.Monitor.MaxHistorySize,
		AutoCleanup:     c.Monitor.AutoCleanup,
		Retention:       c.Monitor.Retention.Duration,
	}
}

// PoolConfig maps [pool].
func (c Config) PoolConfig() pool.Config {
	return pool.Config{
		CapacityPerKey: c.Pool.CapacityPerKey,
		CheckoutWait:   c.Pool.CheckoutWait.Duration,
		IdleTimeout:    c.Pool.IdleTimeout.Duration,
		ReapInterval:   c.Pool.ReapInterval.Duration,
		SpawnTimeout:   c.Pool.SpawnTimeout.Duration,
		PingAfter:      c.Pool.PingAfter.Duration,
		Shell:          c.Pool.Shell,
		DisableWatch:   c.Pool.DisableWatch,
	}
}

// HintsConfig maps [hints].
func (c Config) HintsConfig() hints.Config {
	return hints.Config{
		MinWaitGap:          c.Hints.MinWaitGap.Duration,
		StatusPollThreshold: c.Hints.StatusPollThreshold,
	}
}

// NotifyConfig maps [notify].
func (c Config) NotifyConfig() notify.Config {
	return notify.Config{DeliveryTimeout: c.Notify.DeliveryTimeout.Duration}
}

// DispatcherConfig maps [server] and the timeouts the façade enforces. The
// wait tool observes for the registry's default timeout.
func (c Config) DispatcherConfig() dispatcher.Config {
	return dispatcher.Config{
		Synchronous:     c.Server.Synchronous,
		DisabledTools:   c.Server.DisabledTools,
		CommandTimeout:  c.Pool.CommandTimeout.Duration,
		WaitTimeout:     c.Monitor.DefaultTimeout.Duration,
		ShutdownTimeout: c.Server.ShutdownTimeout.Duration,
	}
}
