// Package lifecycle stops crawls and, on a hard stop, purges their queues.
package lifecycle

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/crawl-frontier/internal/crawler"
	"github.com/JakeFAU/crawl-frontier/internal/metrics"
)

// StatusSetter writes a crawl's status and returns the updated record.
type StatusSetter interface {
	SetCrawlStatus(ctx context.Context, crawlID string, status crawler.CrawlStatus) (crawler.Crawl, error)
}

// Purger empties a queue.
type Purger interface {
	PurgeQueue(ctx context.Context, queueURL string) error
}

// Invalidator drops cached crawl state after a status change.
type Invalidator interface {
	InvalidateCrawl(crawlID string)
}

// Manager applies crawl status transitions.
type Manager struct {
	store  StatusSetter
	queues Purger
	caches Invalidator
	logger *zap.Logger
}

// New constructs a Manager. caches may be nil.
func New(store StatusSetter, queues Purger, caches Invalidator, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{store: store, queues: queues, caches: caches, logger: logger}
}

// Stop marks the crawl stopped. A hard stop also purges the work queue and
// the dead-letter queue in parallel; if either purge fails the stopped crawl
// is still returned, together with a *crawler.PurgeError.
func (m *Manager) Stop(ctx context.Context, crawlID string, hard bool) (crawler.Crawl, error) {
	crawl, err := m.store.SetCrawlStatus(ctx, crawlID, crawler.CrawlStatusStopped)
	if err != nil {
		return crawler.Crawl{}, crawler.Transient("stop crawl", err)
	}
	if m.caches != nil {
		m.caches.InvalidateCrawl(crawlID)
	}
	m.logger.Info("crawl stopped", zap.String("crawl_id", crawlID), zap.Bool("hard", hard))
	if !hard {
		return crawl, nil
	}

	if err := m.purge(ctx, crawl); err != nil {
		metrics.ObservePurge("error")
		m.logger.Error("purge failed after stop", zap.String("crawl_id", crawlID), zap.Error(err))
		return crawl, &crawler.PurgeError{CrawlID: crawlID, Err: err}
	}
	metrics.ObservePurge("ok")
	return crawl, nil
}

func (m *Manager) purge(ctx context.Context, crawl crawler.Crawl) error {
	var g errgroup.Group
	errs := make([]error, 2)
	for i, queueURL := range []string{crawl.QueueURL, crawl.DLQURL} {
		if queueURL == "" {
			continue
		}
		g.Go(func() error {
			errs[i] = m.queues.PurgeQueue(ctx, queueURL)
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}
