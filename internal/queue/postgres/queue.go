// Package postgres implements crawler.QueueService on Postgres tables. Leases
// are taken with FOR UPDATE SKIP LOCKED, hidden by a visible_at timestamp, and
// moved to the dead-letter queue once their receive count reaches the queue's
// redrive threshold.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/crawl-frontier/internal/crawler"
	pgstore "github.com/JakeFAU/crawl-frontier/internal/storage/postgres"
)

const (
	urlScheme = "pgqueue://"
	arnPrefix = "arn:pgqueue:"
)

// Config controls table naming and long-poll behavior.
type Config struct {
	TablePrefix  string
	PollInterval time.Duration
}

// Service is a Postgres-backed crawler.QueueService.
type Service struct {
	pool     pgstore.Pool
	queues   string
	messages string
	poll     time.Duration
}

// New constructs a Service over an existing pool.
func New(pool pgstore.Pool, cfg Config) (*Service, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	prefix := cfg.TablePrefix
	if prefix == "" {
		prefix = "frontier"
	}
	queues, messages := prefix+"_queues", prefix+"_messages"
	for _, table := range []string{queues, messages} {
		if err := pgstore.ValidateTableName(table); err != nil {
			return nil, err
		}
	}
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = 100 * time.Millisecond
	}
	return &Service{pool: pool, queues: queues, messages: messages, poll: poll}, nil
}

// Migrate creates the queue and message tables.
func (s *Service) Migrate(ctx context.Context) error {
	statements := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	name                  text PRIMARY KEY,
	url                   text NOT NULL UNIQUE,
	arn                   text NOT NULL UNIQUE,
	visibility_timeout_ms bigint NOT NULL,
	receive_wait_ms       bigint NOT NULL,
	dlq_url               text NOT NULL DEFAULT '',
	max_receive_count     integer NOT NULL DEFAULT 0
)`, s.queues),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id            text PRIMARY KEY,
	queue_url     text NOT NULL,
	body          bytea NOT NULL,
	receive_count integer NOT NULL DEFAULT 0,
	receipt       text,
	visible_at    timestamptz NOT NULL,
	enqueued_at   timestamptz NOT NULL
)`, s.messages),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_visible_idx ON %s (queue_url, visible_at)`, s.messages, s.messages),
		fmt.Sprintf(`CREATE UNIQUE INDEX IF NOT EXISTS %s_receipt_idx ON %s (receipt)`, s.messages, s.messages),
	}
	for _, stmt := range statements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply queue schema: %w", err)
		}
	}
	return nil
}

// CreateQueue creates the named queue, or returns the existing one.
func (s *Service) CreateQueue(ctx context.Context, name string, attrs crawler.QueueAttributes) (string, error) {
	if name == "" {
		return "", fmt.Errorf("queue name is required")
	}
	var (
		dlqURL     string
		maxReceive int
	)
	if attrs.Redrive != nil {
		query := fmt.Sprintf(`SELECT url FROM %s WHERE arn = $1`, s.queues)
		err := s.pool.QueryRow(ctx, query, attrs.Redrive.DeadLetterTargetARN).Scan(&dlqURL)
		if errors.Is(err, pgx.ErrNoRows) {
			return "", fmt.Errorf("dead-letter target %s: %w", attrs.Redrive.DeadLetterTargetARN, crawler.ErrQueueNotFound)
		}
		if err != nil {
			return "", fmt.Errorf("resolve dead-letter target: %w", err)
		}
		maxReceive = attrs.Redrive.MaxReceiveCount
	}
	query := fmt.Sprintf(`
INSERT INTO %s (name, url, arn, visibility_timeout_ms, receive_wait_ms, dlq_url, max_receive_count)
VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
RETURNING url`, s.queues)
	var url string
	err := s.pool.QueryRow(ctx, query,
		name, urlScheme+name, arnPrefix+name,
		attrs.VisibilityTimeout.Milliseconds(), attrs.ReceiveWaitTime.Milliseconds(),
		dlqURL, maxReceive,
	).Scan(&url)
	if err != nil {
		return "", fmt.Errorf("create queue: %w", err)
	}
	return url, nil
}

// GetQueueARN returns the durable identifier of a queue.
func (s *Service) GetQueueARN(ctx context.Context, queueURL string) (string, error) {
	var arn string
	query := fmt.Sprintf(`SELECT arn FROM %s WHERE url = $1`, s.queues)
	err := s.pool.QueryRow(ctx, query, queueURL).Scan(&arn)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("queue %s: %w", queueURL, crawler.ErrQueueNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("get queue arn: %w", err)
	}
	return arn, nil
}

// GetQueueURL resolves a queue name to its URL.
func (s *Service) GetQueueURL(ctx context.Context, name string) (string, error) {
	var url string
	query := fmt.Sprintf(`SELECT url FROM %s WHERE name = $1`, s.queues)
	err := s.pool.QueryRow(ctx, query, name).Scan(&url)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("queue %s: %w", name, crawler.ErrQueueNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("get queue url: %w", err)
	}
	return url, nil
}

// SendMessage inserts an immediately visible message.
func (s *Service) SendMessage(ctx context.Context, queueURL string, body []byte) (string, error) {
	id := uuid.NewString()
	query := fmt.Sprintf(`
INSERT INTO %s (id, queue_url, body, receive_count, visible_at, enqueued_at)
SELECT $1, url, $3, 0, now(), clock_timestamp() FROM %s WHERE url = $2`, s.messages, s.queues)
	tag, err := s.pool.Exec(ctx, query, id, queueURL, body)
	if err != nil {
		return "", fmt.Errorf("send message: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return "", fmt.Errorf("queue %s: %w", queueURL, crawler.ErrQueueNotFound)
	}
	return id, nil
}

type queueRow struct {
	visibilityMS int64
	dlqURL       string
	maxReceive   int
}

func (s *Service) loadQueue(ctx context.Context, queueURL string) (queueRow, error) {
	var row queueRow
	query := fmt.Sprintf(`SELECT visibility_timeout_ms, dlq_url, max_receive_count FROM %s WHERE url = $1`, s.queues)
	err := s.pool.QueryRow(ctx, query, queueURL).Scan(&row.visibilityMS, &row.dlqURL, &row.maxReceive)
	if errors.Is(err, pgx.ErrNoRows) {
		return queueRow{}, fmt.Errorf("queue %s: %w", queueURL, crawler.ErrQueueNotFound)
	}
	if err != nil {
		return queueRow{}, fmt.Errorf("load queue: %w", err)
	}
	return row, nil
}

// ReceiveMessages leases up to maxMessages visible messages, polling until
// one is available or wait elapses.
func (s *Service) ReceiveMessages(
	ctx context.Context,
	queueURL string,
	maxMessages int,
	wait time.Duration,
) ([]crawler.QueueMessage, error) {
	if maxMessages <= 0 {
		return nil, nil
	}
	q, err := s.loadQueue(ctx, queueURL)
	if err != nil {
		return nil, err
	}
	deadline := time.Now().Add(wait)
	for {
		msgs, err := s.receiveOnce(ctx, queueURL, q, maxMessages)
		if err != nil || len(msgs) > 0 {
			return msgs, err
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, nil
		}
		timer := time.NewTimer(min(remaining, s.poll))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("receive canceled: %w", ctx.Err())
		case <-timer.C:
		}
	}
}

func (s *Service) receiveOnce(
	ctx context.Context,
	queueURL string,
	q queueRow,
	maxMessages int,
) ([]crawler.QueueMessage, error) {
	if q.dlqURL != "" && q.maxReceive > 0 {
		redrive := fmt.Sprintf(`
UPDATE %s SET queue_url = $2, receipt = NULL, visible_at = now()
WHERE queue_url = $1 AND visible_at <= now() AND receive_count >= $3`, s.messages)
		if _, err := s.pool.Exec(ctx, redrive, queueURL, q.dlqURL, q.maxReceive); err != nil {
			return nil, fmt.Errorf("redrive messages: %w", err)
		}
	}
	lease := fmt.Sprintf(`
UPDATE %[1]s SET receive_count = receive_count + 1,
	receipt = gen_random_uuid()::text,
	visible_at = now() + ($3 * interval '1 millisecond')
WHERE id IN (
	SELECT id FROM %[1]s
	WHERE queue_url = $1 AND visible_at <= now()
	ORDER BY enqueued_at, id
	LIMIT $2
	FOR UPDATE SKIP LOCKED
)
RETURNING id, body, receipt, receive_count`, s.messages)
	rows, err := s.pool.Query(ctx, lease, queueURL, maxMessages, q.visibilityMS)
	if err != nil {
		return nil, fmt.Errorf("lease messages: %w", err)
	}
	defer rows.Close()

	var out []crawler.QueueMessage
	for rows.Next() {
		var (
			msg     crawler.QueueMessage
			receipt string
		)
		if err := rows.Scan(&msg.ID, &msg.Body, &receipt, &msg.ReceiveCount); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg.ReceiptHandle = []byte(receipt)
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return out, nil
}

// DeleteMessage removes the message currently leased under receiptHandle.
func (s *Service) DeleteMessage(ctx context.Context, queueURL string, receiptHandle []byte) error {
	if len(receiptHandle) == 0 {
		return crawler.ErrReceiptNotFound
	}
	query := fmt.Sprintf(`DELETE FROM %s WHERE queue_url = $1 AND receipt = $2 AND visible_at > now()`, s.messages)
	tag, err := s.pool.Exec(ctx, query, queueURL, string(receiptHandle))
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return crawler.ErrReceiptNotFound
	}
	return nil
}

// PurgeQueue drops every message in the queue.
func (s *Service) PurgeQueue(ctx context.Context, queueURL string) error {
	if _, err := s.loadQueue(ctx, queueURL); err != nil {
		return err
	}
	query := fmt.Sprintf(`DELETE FROM %s WHERE queue_url = $1`, s.messages)
	if _, err := s.pool.Exec(ctx, query, queueURL); err != nil {
		return fmt.Errorf("purge queue: %w", err)
	}
	return nil
}
