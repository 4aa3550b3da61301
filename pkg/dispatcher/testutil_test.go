package dispatcher //nolint:testpackage // internal white-box tests need access to unexported fields

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"asyncbuild/pkg/hints"
	"asyncbuild/pkg/notify"
	"asyncbuild/pkg/pool"
	"asyncbuild/pkg/registry"
	"asyncbuild/pkg/toolchain"
)

// waitFor polls condition every tick until it returns true or timeout expires.
func waitFor(t *testing.T, condition func() bool, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(5 * time.Millisecond) // short poll inside helper is OK
	}
	t.Fatalf("waitFor: condition not met within %v", timeout)
}

// shellProfile is a catalog whose commands only need a POSIX shell.
func shellProfile() toolchain.Profile {
	return toolchain.Profile{
		Language: "shell",
		Detect:   func(string) bool { return true },
		Commands: []toolchain.CommandSpec{
			{Name: "build", Program: "sh", Args: []string{"-c", "echo built"}},
			{Name: "test", Program: "sh", Args: []string{"-c", "echo boom >&2; exit 3"}},
			{Name: "check", Program: "sh", Args: []string{"-c", "sleep 5"}},
			{Name: "version", Program: "echo", Args: []string{"shell 1.0"}, Quick: true},
			{Name: "add", Program: "echo", Args: []string{"added"}, ArgsRequired: true},
			{
				Name: "lint", Program: "zzlint",
				Requires: &toolchain.Tool{Name: "zzlint", Binary: "zzlint-not-installed-anywhere", InstallHint: "pkg install zzlint"},
			},
		},
	}
}

type fixture struct {
	d        *Dispatcher
	reg      *registry.Registry
	pool     *pool.Pool
	notifier *notify.Notifier
	dir      string
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	dir := t.TempDir()

	catalog, err := toolchain.NewCatalog("", shellProfile())
	require.NoError(t, err)

	logger := zap.NewNop()
	reg := registry.New(registry.Config{}, logger)
	p := pool.New(pool.Config{Shell: "sh", DisableWatch: true}, logger)
	n := notify.New(notify.Config{DeliveryTimeout: time.Second}, logger)
	d := New(cfg, Deps{
		Registry: reg,
		Pool:     p,
		Notifier: n,
		Hints:    hints.New(hints.Config{}),
		Catalog:  catalog,
		Logger:   logger,
	})
	t.Cleanup(func() {
		d.Close()
		p.Shutdown()
		reg.Shutdown()
	})
	return &fixture{d: d, reg: reg, pool: p, notifier: n, dir: dir}
}

func boolPtr(b bool) *bool { return &b }

func newTestSender() *notify.ChannelSender { return notify.NewChannelSender(16) }
