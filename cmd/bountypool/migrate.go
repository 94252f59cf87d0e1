package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/alanyoungcy/bountypool/internal/app"
	"github.com/alanyoungcy/bountypool/internal/config"
	"github.com/alanyoungcy/bountypool/internal/store/postgres"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending PostgreSQL migrations",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		logger := newLogger(cfg.LogLevel)

		client, err := postgres.New(cmd.Context(), app.PostgresConfig(cfg))
		if err != nil {
			return fmt.Errorf("connect: %w", err)
		}
		defer client.Close()

		applied, err := client.RunMigrations(cmd.Context())
		if err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		logger.Info("migrations applied",
			slog.Int("count", len(applied)),
			slog.Any("files", applied),
		)
		return nil
	},
}
