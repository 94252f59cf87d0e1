// Package app provides the top-level application lifecycle for bountypool.
// It wires stores, caches, the chain adapter, and notifications, builds the
// ledger and distribution engine on top, and runs the HTTP API and
// background workers until the context is cancelled.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/bountypool/internal/command"
	"github.com/alanyoungcy/bountypool/internal/config"
	"github.com/alanyoungcy/bountypool/internal/engine"
	"github.com/alanyoungcy/bountypool/internal/ledger"
	"github.com/alanyoungcy/bountypool/internal/service"
)

// ReloadFunc re-reads the configuration on SIGHUP.
type ReloadFunc func() (*config.Config, error)

// App is the root application object. It owns the configuration, logger, and a
// list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	reload  ReloadFunc
	logger  *slog.Logger
	closers []func()
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// WithReload enables SIGHUP reloading of fees and daily caps.
func (a *App) WithReload(fn ReloadFunc) *App {
	a.reload = fn
	return a
}

// Core is the domain layer built on top of Dependencies.
type Core struct {
	Ledger   *ledger.Ledger
	Engine   *engine.Engine
	Commands *service.CommandService
}

// Run is the main entry point. It wires all dependencies, builds the domain
// layer, and blocks until ctx is cancelled. A clean shutdown returns nil.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting application",
		slog.String("mode", a.cfg.Mode),
		slog.String("log_level", a.cfg.LogLevel),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	core, err := BuildCore(a.cfg, deps, a.logger)
	if err != nil {
		return fmt.Errorf("app: %w", err)
	}

	err = a.serve(ctx, deps, core)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// BuildCore constructs the ledger, engine, and command service.
func BuildCore(cfg *config.Config, deps *Dependencies, logger *slog.Logger) (*Core, error) {
	caps, err := cfg.DailyCaps()
	if err != nil {
		return nil, fmt.Errorf("ledger config: %w", err)
	}
	l, err := ledger.New(deps.LedgerStore, ledger.Config{
		DailyCaps: caps,
		Operators: cfg.Ledger.Operators,
	}, logger)
	if err != nil {
		return nil, err
	}
	l.WithAuditStore(deps.AuditStore).WithEventBus(deps.EventBus)

	eng, err := engine.New(l, deps.Chain, deps.DistributionStore, FeeConfig(cfg), EngineConfig(cfg), logger)
	if err != nil {
		return nil, err
	}
	eng.WithLockManager(deps.LockManager).WithEventBus(deps.EventBus)
	if deps.Notifier != nil && deps.Notifier.Enabled() {
		eng.WithNotifier(deps.Notifier)
	}

	maxBounty, err := cfg.MaxBounty()
	if err != nil {
		return nil, fmt.Errorf("command config: %w", err)
	}
	parser := command.New(command.Options{
		BotName:   cfg.Command.BotName,
		MaxBounty: maxBounty,
	})
	commands := service.NewCommandService(parser, l, logger).
		WithDeduper(deps.Deduper, cfg.Command.DedupTTL.Duration)
	if cfg.Command.RateLimit > 0 {
		commands.WithRateLimit(deps.RateLimiter, cfg.Command.RateLimit, cfg.Command.RateWindow.Duration)
	}

	return &Core{Ledger: l, Engine: eng, Commands: commands}, nil
}

// FeeConfig maps the fees section to the engine's fee configuration.
func FeeConfig(cfg *config.Config) engine.FeeConfig {
	return engine.FeeConfig{
		PlatformFeeBps:          cfg.Fees.PlatformFeeBps,
		ContributorFeeBps:       cfg.Fees.ContributorFeeBps,
		PlatformCollector:       cfg.Fees.PlatformCollector,
		ContributorFeeCollector: cfg.Fees.ContributorFeeCollector,
	}
}

// EngineConfig maps the engine section to the engine's retry settings.
func EngineConfig(cfg *config.Config) engine.Config {
	return engine.Config{
		MaxAttempts:    cfg.Engine.MaxAttempts,
		InitialBackoff: cfg.Engine.InitialBackoff.Duration,
		MaxBackoff:     cfg.Engine.MaxBackoff.Duration,
		LockTTL:        cfg.Engine.LockTTL.Duration,
		JobTimeout:     cfg.Engine.JobTimeout.Duration,
	}
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
