package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-frontier/internal/logging"
	"github.com/JakeFAU/crawl-frontier/internal/server"
)

func newMigrateCmd(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Creates the Postgres tables used by the configured store and queue",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			logger, err := logging.New(cfg.Telemetry.ServiceName, cfg.Logging.Development)
			if err != nil {
				return fmt.Errorf("logger init failed: %w", err)
			}
			defer func() { _ = logger.Sync() }()
			if err := server.Migrate(cmd.Context(), cfg, logger.Named("migrate")); err != nil {
				logger.Error("migration failed", zap.Error(err))
				return err
			}
			return nil
		},
	}
}
