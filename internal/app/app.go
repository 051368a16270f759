// Package app provides the top-level lifecycle of the dex arbitrage agent.
// It wires together price feeds, detection, sizing, execution, the ledger
// and the optional status server, and runs the driver loop for the
// configured mode.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/dexarb/internal/config"
	"github.com/alanyoungcy/dexarb/internal/executor"
	"github.com/alanyoungcy/dexarb/internal/server"
	"github.com/alanyoungcy/dexarb/internal/server/handler"
	"github.com/alanyoungcy/dexarb/internal/server/ws"
)

// App is the root application object. It owns the configuration, logger, and a
// list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	mode    string
	base    *slog.Logger
	logger  *slog.Logger
	chain   executor.Chain
	closers []func()
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		mode:   strings.ToLower(cfg.Mode),
		base:   logger,
		logger: logger.With(slog.String("component", "app")),
	}
}

// WithChain replaces the on-chain submitter. The wallet key is not loaded
// when a chain is supplied.
func (a *App) WithChain(c executor.Chain) *App {
	a.chain = c
	return a
}

// Run wires all dependencies, starts the driver loop and the optional
// server and archiver, and blocks until the context is cancelled. In-flight
// orders are allowed to finish before Run returns.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting application",
		slog.String("mode", a.mode),
		slog.String("log_level", a.cfg.LogLevel),
		slog.Any("config", config.RedactedConfig(a.cfg)),
	)

	switch a.mode {
	case "arbitrage", "volume", "monitor":
	default:
		return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}

	deps, cleanup, err := a.wire(ctx)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	drv := newDriver(a.cfg, a.mode, deps, a.base)
	defer drv.wait()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return drv.run(gctx) })

	if a.cfg.Server.Enabled {
		hub := ws.NewHub(deps.Bus, a.base)
		g.Go(func() error { return hub.Run(gctx) })

		var boost handler.BoostSource
		if a.mode == "volume" {
			boost = deps.Sizer
		}
		health := handler.NewHealthHandler(a.mode, time.Now()).WithNotifications(deps.Notifier.Enabled())
		if drv.dispatcher != nil {
			health.WithInFlight(drv.dispatcher.InFlight)
		}
		srv := server.New(server.Config{
			Port:   a.cfg.Server.Port,
			APIKey: a.cfg.Server.APIKey,
		}, server.Handlers{
			Health:     health,
			Ledger:     handler.NewLedgerHandler(deps.Ledger, boost),
			Quotes:     handler.NewQuoteHandler(deps.Monitor, a.cfg.Arbitrage.QuoteStaleness.Duration),
			Executions: handler.NewExecutionHandler(deps.Executions, a.base),
		}, hub, a.base)
		g.Go(func() error { return srv.Run(gctx) })
	}

	if deps.Archiver != nil {
		interval := a.cfg.S3.ArchiveInterval.Duration
		g.Go(func() error { return deps.Archiver.Run(gctx, interval) })
	}

	return g.Wait()
}

// Close tears down all resources in reverse registration order. It is safe to
// call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
