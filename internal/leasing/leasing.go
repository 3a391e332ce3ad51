// Package leasing hands queued crawl jobs to workers and acknowledges them.
//
// A lease is a queue delivery: the job stays hidden for the queue's
// visibility timeout, becomes receivable again if it is not acknowledged in
// time, and is dead-lettered by the queue's redrive policy once its delivery
// budget is spent.
package leasing

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/crawl-frontier/internal/crawler"
	"github.com/JakeFAU/crawl-frontier/internal/metrics"
)

// HandleResolver returns the queue handles of a crawl.
type HandleResolver interface {
	Handles(ctx context.Context, crawlID string) (crawler.QueueHandles, error)
}

// PageMarker records that a page has been handed to a worker.
type PageMarker interface {
	MarkPageCrawling(ctx context.Context, pageID string, at time.Time) error
}

// Leaser implements the lease and acknowledge operations.
type Leaser struct {
	queues  crawler.QueueService
	handles HandleResolver
	pages   PageMarker
	clock   crawler.Clock
	wait    time.Duration
	logger  *zap.Logger
}

// New constructs a Leaser. wait bounds how long a lease call blocks for
// jobs to arrive.
func New(
	queues crawler.QueueService,
	handles HandleResolver,
	pages PageMarker,
	clock crawler.Clock,
	wait time.Duration,
	logger *zap.Logger,
) *Leaser {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Leaser{
		queues:  queues,
		handles: handles,
		pages:   pages,
		clock:   clock,
		wait:    wait,
		logger:  logger,
	}
}

// LeaseCrawl leases up to maxJobs jobs from the crawl's work queue.
func (l *Leaser) LeaseCrawl(ctx context.Context, crawlID string, maxJobs int) ([]crawler.Lease, error) {
	handles, err := l.handles.Handles(ctx, crawlID)
	if err != nil {
		metrics.ObserveLease(0, err)
		return nil, err
	}
	return l.Lease(ctx, handles.QueueURL, maxJobs, l.wait)
}

// Lease receives up to maxJobs messages from queueURL, waiting at most wait.
// Each returned lease carries the delivery handle as its token. Messages that
// do not decode as a crawl job are skipped and left to dead-letter.
func (l *Leaser) Lease(ctx context.Context, queueURL string, maxJobs int, wait time.Duration) ([]crawler.Lease, error) {
	msgs, err := l.queues.ReceiveMessages(ctx, queueURL, maxJobs, wait)
	if err != nil {
		err = crawler.Transient("receive jobs", err)
		metrics.ObserveLease(0, err)
		return nil, err
	}

	leases := make([]crawler.Lease, 0, len(msgs))
	for _, msg := range msgs {
		var job crawler.CrawlJob
		if err := json.Unmarshal(msg.Body, &job); err != nil || job.PageID == "" {
			l.logger.Warn("skipping malformed job message",
				zap.String("queue_url", queueURL),
				zap.String("message_id", msg.ID),
				zap.Int("receive_count", msg.ReceiveCount),
				zap.Error(err),
			)
			continue
		}
		leases = append(leases, crawler.Lease{CrawlJob: job, Token: msg.ReceiptHandle})
	}

	l.markCrawling(ctx, leases)
	metrics.ObserveLease(len(leases), nil)
	return leases, nil
}

// markCrawling moves leased pages to crawling. Failures are logged only.
func (l *Leaser) markCrawling(ctx context.Context, leases []crawler.Lease) {
	if len(leases) == 0 || l.pages == nil {
		return
	}
	now := l.clock.Now()
	var g errgroup.Group
	for _, lease := range leases {
		g.Go(func() error {
			if err := l.pages.MarkPageCrawling(ctx, lease.PageID, now); err != nil {
				l.logger.Warn("mark page crawling failed",
					zap.String("crawl_id", lease.CrawlID),
					zap.String("page_id", lease.PageID),
					zap.Error(err),
				)
			}
			return nil
		})
	}
	_ = g.Wait()
}

// Acknowledge deletes the leased message identified by token. A token that is
// unknown, already acknowledged, or expired yields crawler.ErrLeaseNotFound.
func (l *Leaser) Acknowledge(ctx context.Context, crawlID string, token []byte) error {
	if len(token) == 0 {
		metrics.ObserveAck("not_found")
		return crawler.ErrLeaseNotFound
	}
	handles, err := l.handles.Handles(ctx, crawlID)
	if err != nil {
		metrics.ObserveAck("error")
		return err
	}
	err = l.queues.DeleteMessage(ctx, handles.QueueURL, token)
	switch {
	case err == nil:
		metrics.ObserveAck("ok")
		return nil
	case errors.Is(err, crawler.ErrReceiptNotFound):
		metrics.ObserveAck("not_found")
		return crawler.ErrLeaseNotFound
	default:
		metrics.ObserveAck("error")
		return crawler.Transient("delete job message", err)
	}
}
