package main

import (
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"asyncbuild/internal/config"
	"asyncbuild/pkg/dispatcher"
	"asyncbuild/pkg/eventlog"
	"asyncbuild/pkg/hints"
	"asyncbuild/pkg/notify"
	"asyncbuild/pkg/pool"
	"asyncbuild/pkg/registry"
	"asyncbuild/pkg/toolchain"
)

// app owns the long-lived components of one process.
type app struct {
	log      *zap.Logger
	reg      *registry.Registry
	pool     *pool.Pool
	notifier *notify.Notifier
	events   *eventlog.Writer
	d        *dispatcher.Dispatcher
}

func newApp(cfg config.Config, logger *zap.Logger) (*app, error) {
	catalog, err := toolchain.NewCatalog(cfg.Server.Toolchain)
	if err != nil {
		return nil, err
	}

	a := &app{log: logger}
	a.notifier = notify.New(cfg.NotifyConfig(), logger)
	if cfg.Notify.LogEvents {
		a.notifier.Subscribe("log", notify.NewLogSender(logger))
	}
	if cfg.Server.EventLog != "" {
		w, err := eventlog.OpenWriter(cfg.Server.EventLog)
		if err != nil {
			return nil, fmt.Errorf("event log: %w", err)
		}
		a.events = w
		a.notifier.Subscribe("eventlog", w)
	}

	a.reg = registry.New(cfg.RegistryConfig(), logger)
	a.pool = pool.New(cfg.PoolConfig(), logger)
	a.d = dispatcher.New(cfg.DispatcherConfig(), dispatcher.Deps{
		Registry: a.reg,
		Pool:     a.pool,
		Notifier: a.notifier,
		Hints:    hints.New(cfg.HintsConfig()),
		Catalog:  catalog,
		Logger:   logger,
	})
	return a, nil
}

// Close drains background work, then stops the pool and registry.
func (a *app) Close() error {
	a.d.Close()

	var g errgroup.Group
	g.Go(func() error { a.pool.Shutdown(); return nil })
	g.Go(func() error { a.reg.Shutdown(); return nil })
	_ = g.Wait()

	if a.events != nil {
		if err := a.events.Close(); err != nil {
			return fmt.Errorf("close event log: %w", err)
		}
	}
	_ = a.log.Sync()
	return nil
}
