// Package balancer chooses which crawl a worker without crawl affinity
// leases from.
package balancer

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-frontier/internal/crawler"
)

// Selector picks one crawl ID from a non-empty candidate set.
type Selector interface {
	Select(candidates []crawler.Crawl) string
}

// RunningCrawls lists crawls that are currently running.
type RunningCrawls interface {
	Get(ctx context.Context) ([]crawler.Crawl, error)
}

// CrawlLeaser leases jobs from one crawl's queue.
type CrawlLeaser interface {
	LeaseCrawl(ctx context.Context, crawlID string, maxJobs int) ([]crawler.Lease, error)
}

// Balancer spreads lease requests over running crawls.
type Balancer struct {
	running  RunningCrawls
	leaser   CrawlLeaser
	selector Selector
	logger   *zap.Logger
}

// New constructs a Balancer.
func New(running RunningCrawls, leaser CrawlLeaser, selector Selector, logger *zap.Logger) *Balancer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Balancer{
		running:  running,
		leaser:   leaser,
		selector: selector,
		logger:   logger,
	}
}

// PickJobs leases up to num jobs. With a crawl ID it leases from that crawl
// only. Without one it draws running crawls without replacement until a
// lease comes back non-empty or the candidates run out.
func (b *Balancer) PickJobs(ctx context.Context, crawlID string, num int) ([]crawler.Lease, error) {
	if crawlID != "" {
		return b.leaser.LeaseCrawl(ctx, crawlID, num)
	}

	candidates, err := b.running.Get(ctx)
	if err != nil {
		return nil, crawler.Transient("list running crawls", err)
	}
	for len(candidates) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("pick jobs: %w", err)
		}
		id := b.selector.Select(candidates)
		idx := indexOf(candidates, id)
		if idx < 0 {
			return nil, fmt.Errorf("selector returned unknown crawl %q", id)
		}
		candidates = append(candidates[:idx], candidates[idx+1:]...)

		leases, err := b.leaser.LeaseCrawl(ctx, id, num)
		if errors.Is(err, crawler.ErrNotFound) {
			b.logger.Warn("running crawl has no queue", zap.String("crawl_id", id), zap.Error(err))
			continue
		}
		if err != nil {
			return nil, err
		}
		if len(leases) > 0 {
			return leases, nil
		}
	}
	return nil, nil
}

func indexOf(candidates []crawler.Crawl, id string) int {
	for i, c := range candidates {
		if c.ID == id {
			return i
		}
	}
	return -1
}
