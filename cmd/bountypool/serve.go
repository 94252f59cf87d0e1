package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/alanyoungcy/bountypool/internal/app"
	"github.com/alanyoungcy/bountypool/internal/config"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the API server and background workers",
	Long: `Runs the HTTP API, WebSocket feed, notification forwarder, and archive
scheduler. SIGHUP reloads fee rates and daily caps from the config file.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger := newLogger(cfg.LogLevel)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		return err
	}

	redacted := config.RedactedConfig(cfg)
	logger.Info("bountypool starting",
		slog.String("mode", cfg.Mode),
		slog.String("config", configPath),
		slog.Any("fees", redacted.Fees),
		slog.Int("operators", len(cfg.Ledger.Operators)),
	)

	application := app.New(cfg, logger).WithReload(func() (*config.Config, error) {
		return config.Load(configPath)
	})
	defer application.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("application exited with error", slog.String("error", err.Error()))
		return fmt.Errorf("run: %w", err)
	}

	logger.Info("bountypool stopped")
	return nil
}
