package server

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-frontier/internal/config"
	queuePostgres "github.com/JakeFAU/crawl-frontier/internal/queue/postgres"
	pgstore "github.com/JakeFAU/crawl-frontier/internal/storage/postgres"
)

// Migrate creates the Postgres tables used by the configured backends. It is
// a no-op when neither the store nor the queue uses Postgres.
func Migrate(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	if cfg.Store.Backend != "postgres" && cfg.Queue.Backend != "postgres" {
		logger.Info("no postgres backends configured, nothing to migrate")
		return nil
	}
	pool, err := pgstore.NewPool(ctx, pgstore.PoolConfig{
		DSN:      cfg.Database.DSN,
		MaxConns: 2,
	})
	if err != nil {
		return fmt.Errorf("postgres pool init failed: %w", err)
	}
	defer pool.Close()
	return migrate(ctx, pool, cfg, logger)
}

func migrate(ctx context.Context, pool pgstore.Pool, cfg *config.Config, logger *zap.Logger) error {
	if cfg.Store.Backend == "postgres" {
		if err := pgstore.Migrate(ctx, pool, storeConfig(cfg)); err != nil {
			return fmt.Errorf("store migration failed: %w", err)
		}
		logger.Info("store tables migrated",
			zap.String("crawl_table", cfg.Database.CrawlTable),
			zap.String("page_table", cfg.Database.PageTable),
		)
		if cfg.Events.Journal {
			if err := pgstore.MigrateJournal(ctx, pool, cfg.Database.EventTable); err != nil {
				return fmt.Errorf("journal migration failed: %w", err)
			}
			logger.Info("event journal migrated", zap.String("event_table", cfg.Database.EventTable))
		}
	}
	if cfg.Queue.Backend == "postgres" {
		queues, err := queuePostgres.New(pool, queueConfig(cfg))
		if err != nil {
			return fmt.Errorf("postgres queue init failed: %w", err)
		}
		if err := queues.Migrate(ctx); err != nil {
			return fmt.Errorf("queue migration failed: %w", err)
		}
		logger.Info("queue tables migrated", zap.String("table_prefix", cfg.Queue.TablePrefix))
	}
	return nil
}
