package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/bountypool/internal/crypto"
	"github.com/alanyoungcy/bountypool/internal/domain"
	"github.com/alanyoungcy/bountypool/internal/scheduler"
	"github.com/alanyoungcy/bountypool/internal/server"
	"github.com/alanyoungcy/bountypool/internal/server/handler"
	"github.com/alanyoungcy/bountypool/internal/server/ws"
)

// wsBacklog is the number of recent ledger events replayed to new
// WebSocket clients.
const wsBacklog = 20

// serve runs every long-lived component in one errgroup. The first failure
// cancels the rest.
func (a *App) serve(ctx context.Context, deps *Dependencies, core *Core) error {
	g, ctx := errgroup.WithContext(ctx)

	hub := ws.NewHub(deps.EventBus, a.logger, ws.Config{
		Mode:      a.cfg.Mode,
		StartedAt: time.Now().UTC(),
		Backlog:   wsBacklog,
	})
	if deps.History != nil {
		hub.WithHistory(deps.History)
	}
	g.Go(func() error {
		return hub.Run(ctx)
	})

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, core, hub)
	}

	if deps.Notifier != nil && deps.Notifier.Enabled() {
		g.Go(func() error {
			return deps.Notifier.Run(ctx, deps.EventBus)
		})
	}

	if deps.Snapshots != nil {
		g.Go(func() error {
			return a.invalidateSnapshots(ctx, deps)
		})
	}

	sched, err := a.buildScheduler(deps)
	if err != nil {
		return err
	}
	g.Go(func() error {
		return sched.Run(ctx)
	})

	if a.reload != nil {
		g.Go(func() error {
			return a.watchReload(ctx, core)
		})
	}

	err = g.Wait()
	core.Engine.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// startHTTPServer adds the HTTP server goroutine to the given errgroup. The
// server is shut down gracefully when the context is cancelled.
func (a *App) startHTTPServer(
	ctx context.Context,
	g *errgroup.Group,
	deps *Dependencies,
	core *Core,
	hub *ws.Hub,
) {
	health := handler.NewHealthHandler(a.logger)
	for name, check := range deps.HealthChecks {
		health.WithCheck(name, check)
	}

	pools := handler.NewPoolHandler(core.Ledger, a.logger)
	issues := handler.NewIssueHandler(core.Ledger, a.logger)
	if deps.Snapshots != nil {
		pools.WithCache(deps.Snapshots, a.cfg.Server.PoolCacheTTL.Duration)
		issues.OnPoolChange(func(ctx context.Context, repositoryID string) {
			if err := deps.Snapshots.Delete(ctx, handler.PoolCacheKey(repositoryID)); err != nil {
				a.logger.WarnContext(ctx, "pool cache invalidation failed",
					slog.String("repository_id", repositoryID),
					slog.String("error", err.Error()),
				)
			}
		})
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKeys:     a.cfg.Server.APIKeys,
		Webhook:     crypto.NewWebhookSecret(a.cfg.Server.WebhookSecret),
		RateLimit:   a.cfg.Server.RateLimit,
	}, server.Handlers{
		Health:        health,
		Pools:         pools,
		Issues:        issues,
		Distributions: handler.NewDistributionHandler(core.Engine, a.logger),
		Commands:      handler.NewCommandHandler(core.Commands, a.logger),
	}, hub, deps.RateLimiter, a.logger)

	g.Go(func() error {
		port := a.cfg.Server.Port
		a.logger.InfoContext(ctx, "HTTP server listening",
			slog.Int("port", port),
			slog.String("url", fmt.Sprintf("http://localhost:%d", port)))
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

// invalidateSnapshots drops the cached pool view whenever a ledger event
// touches the pool. It covers mutations that do not pass through the HTTP
// handlers, such as comment commands and distributions.
func (a *App) invalidateSnapshots(ctx context.Context, deps *Dependencies) error {
	events, err := deps.EventBus.Subscribe(ctx, domain.ChannelLedger)
	if err != nil {
		return fmt.Errorf("app: subscribe snapshots: %w", err)
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case payload, ok := <-events:
			if !ok {
				return nil
			}
			var ev domain.LedgerEvent
			if err := json.Unmarshal(payload, &ev); err != nil || ev.RepositoryID == "" {
				continue
			}
			if err := deps.Snapshots.Delete(ctx, handler.PoolCacheKey(ev.RepositoryID)); err != nil {
				a.logger.WarnContext(ctx, "pool cache invalidation failed",
					slog.String("repository_id", ev.RepositoryID),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// buildScheduler registers the archive job and cache maintenance.
func (a *App) buildScheduler(deps *Dependencies) (*scheduler.Scheduler, error) {
	sched := scheduler.New(a.logger)

	if deps.Archiver != nil {
		retention := a.cfg.Archive.RetentionDays
		err := sched.Register("archive", a.cfg.Archive.Cron, func(ctx context.Context) error {
			cutoff := time.Now().UTC().AddDate(0, 0, -retention)
			report, err := deps.Archiver.Archive(ctx, cutoff)
			if err != nil {
				return err
			}
			a.logger.InfoContext(ctx, "archive complete",
				slog.Time("cutoff", report.Cutoff),
				slog.Int("funding_rows", report.FundingRows),
				slog.Int("audit_rows", report.AuditRows),
				slog.Int64("audit_pruned", report.AuditPruned),
			)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("app: register archive: %w", err)
		}
	}

	for name, fn := range deps.Maintenance {
		err := sched.Register(name, "@every 1h", func(context.Context) error {
			fn()
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("app: register %s: %w", name, err)
		}
	}
	return sched, nil
}

// watchReload re-reads the configuration on SIGHUP and applies the settings
// that can change at runtime: fee rates, collectors, and daily caps. A bad
// file is logged and ignored.
func (a *App) watchReload(ctx context.Context, core *Core) error {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGHUP)
	defer signal.Stop(sigs)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-sigs:
			if err := a.applyReload(core); err != nil {
				a.logger.ErrorContext(ctx, "config reload failed", slog.String("error", err.Error()))
				continue
			}
			a.logger.InfoContext(ctx, "config reloaded")
		}
	}
}

func (a *App) applyReload(core *Core) error {
	cfg, err := a.reload()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	caps, err := cfg.DailyCaps()
	if err != nil {
		return err
	}
	if err := core.Engine.UpdateFees(FeeConfig(cfg)); err != nil {
		return err
	}
	core.Ledger.SetDailyCaps(caps)
	return nil
}
