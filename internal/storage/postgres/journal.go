package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/JakeFAU/crawl-frontier/internal/crawler"
	"github.com/JakeFAU/crawl-frontier/internal/store"
)

const journalColumns = "seq, type, crawl_id, page_id, url, status, content_hash, at"

// Journal appends crawl events to a single table keyed by a bigserial.
type Journal struct {
	pool  Pool
	table string
}

// NewJournal constructs a Journal writing to table (default crawl_events).
func NewJournal(pool Pool, table string) (*Journal, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "crawl_events"
	}
	if err := ValidateTableName(table); err != nil {
		return nil, err
	}
	return &Journal{pool: pool, table: table}, nil
}

// MigrateJournal creates the event table and its per-crawl index.
func MigrateJournal(ctx context.Context, pool Pool, table string) error {
	journal, err := NewJournal(pool, table)
	if err != nil {
		return err
	}
	statements := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	seq          bigserial PRIMARY KEY,
	type         text NOT NULL,
	crawl_id     text NOT NULL,
	page_id      text NOT NULL DEFAULT '',
	url          text NOT NULL DEFAULT '',
	status       text NOT NULL DEFAULT '',
	content_hash text NOT NULL DEFAULT '',
	at           timestamptz NOT NULL
)`, journal.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_crawl_seq_idx ON %s (crawl_id, seq)`, journal.table, journal.table),
	}
	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply journal schema: %w", err)
		}
	}
	return nil
}

// AppendEvents inserts the batch with one statement so it lands atomically.
func (j *Journal) AppendEvents(ctx context.Context, events []crawler.Event) error {
	if len(events) == 0 {
		return nil
	}
	var (
		types    = make([]string, len(events))
		crawlIDs = make([]string, len(events))
		pageIDs  = make([]string, len(events))
		urls     = make([]string, len(events))
		statuses = make([]string, len(events))
		hashes   = make([]string, len(events))
		ats      = make([]time.Time, len(events))
	)
	for i, e := range events {
		types[i] = e.Type
		crawlIDs[i] = e.CrawlID
		pageIDs[i] = e.PageID
		urls[i] = e.URL
		statuses[i] = e.Status
		hashes[i] = e.ContentHash
		ats[i] = e.At
	}
	query := fmt.Sprintf(`
INSERT INTO %s (type, crawl_id, page_id, url, status, content_hash, at)
SELECT * FROM unnest($1::text[], $2::text[], $3::text[], $4::text[], $5::text[], $6::text[], $7::timestamptz[])`,
		j.table)
	if _, err := j.pool.Exec(ctx, query, types, crawlIDs, pageIDs, urls, statuses, hashes, ats); err != nil {
		return fmt.Errorf("insert events: %w", err)
	}
	return nil
}

// ListEvents pages through one crawl's events in sequence order.
func (j *Journal) ListEvents(ctx context.Context, crawlID string, after int64, limit int) ([]store.Entry, error) {
	query := fmt.Sprintf(`
SELECT %s FROM %s
WHERE crawl_id = $1 AND seq > $2
ORDER BY seq
LIMIT $3`, journalColumns, j.table)
	rows, err := j.pool.Query(ctx, query, crawlID, after, store.NormalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var out []store.Entry
	for rows.Next() {
		var entry store.Entry
		if err := rows.Scan(
			&entry.Seq, &entry.Type, &entry.CrawlID, &entry.PageID,
			&entry.URL, &entry.Status, &entry.ContentHash, &entry.At,
		); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return out, nil
}
