package postgres

import (
	"context"
	"fmt"
)

// Migrate creates the crawl and page tables and their lookup indexes. The
// (crawl_id, url) index is intentionally not unique: duplicate suppression
// happens at admission time.
func Migrate(ctx context.Context, pool Pool, cfg StoreConfig) error {
	store, err := NewStore(pool, cfg)
	if err != nil {
		return err
	}
	statements := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id          text PRIMARY KEY,
	start_url   text NOT NULL,
	same_domain boolean NOT NULL DEFAULT true,
	max_depth   integer NOT NULL,
	max_pages   integer NOT NULL,
	status      text NOT NULL,
	visited     integer NOT NULL DEFAULT 0,
	created_at  timestamptz NOT NULL,
	queue_url   text NOT NULL DEFAULT '',
	dlq_url     text NOT NULL DEFAULT '',
	CHECK (max_pages = -1 OR visited <= max_pages)
)`, store.crawls),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_status_idx ON %s (status)`, store.crawls, store.crawls),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id          text PRIMARY KEY,
	crawl_id    text NOT NULL,
	url         text NOT NULL,
	depth       integer NOT NULL CHECK (depth >= 0),
	status      text NOT NULL,
	links       text[] NOT NULL DEFAULT '{}',
	content_key text,
	visited_at  timestamptz NOT NULL
)`, store.pages),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_crawl_url_idx ON %s (crawl_id, url)`, store.pages, store.pages),
	}
	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}
