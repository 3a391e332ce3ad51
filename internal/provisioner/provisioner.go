// Package provisioner creates the per-crawl work queue and its dead-letter
// queue and remembers their handles for the life of the process.
package provisioner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-frontier/internal/crawler"
	"github.com/JakeFAU/crawl-frontier/internal/metrics"
)

// DefaultMaxReceiveCount is the number of deliveries after which a job is dead-lettered.
const DefaultMaxReceiveCount = 2

// Config holds queue naming and the attributes applied to new queues.
type Config struct {
	Prefix            string
	DLQSuffix         string
	VisibilityTimeout time.Duration
	ReceiveWait       time.Duration
	MaxReceiveCount   int
}

// Provisioner creates and resolves crawl queues. Handles are cached without
// expiry.
type Provisioner struct {
	queues crawler.QueueService
	cfg    Config
	logger *zap.Logger

	mu      sync.RWMutex
	handles map[string]crawler.QueueHandles
}

// New constructs a Provisioner.
func New(queues crawler.QueueService, cfg Config, logger *zap.Logger) *Provisioner {
	if cfg.Prefix == "" {
		cfg.Prefix = "crawl-queue-"
	}
	if cfg.DLQSuffix == "" {
		cfg.DLQSuffix = "-dlq"
	}
	if cfg.MaxReceiveCount <= 0 {
		cfg.MaxReceiveCount = DefaultMaxReceiveCount
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provisioner{
		queues:  queues,
		cfg:     cfg,
		logger:  logger,
		handles: make(map[string]crawler.QueueHandles),
	}
}

// QueueName returns the work queue name for a crawl.
func (p *Provisioner) QueueName(crawlID string) string {
	return p.cfg.Prefix + crawlID
}

// DLQName returns the dead-letter queue name for a crawl.
func (p *Provisioner) DLQName(crawlID string) string {
	return p.cfg.Prefix + crawlID + p.cfg.DLQSuffix
}

// Provision creates the dead-letter queue, reads its ARN, then creates the
// work queue with a redrive policy pointing at it. Any failure is returned as
// a *crawler.ProvisioningError.
func (p *Provisioner) Provision(ctx context.Context, crawlID string) (crawler.QueueHandles, error) {
	base := crawler.QueueAttributes{
		VisibilityTimeout: p.cfg.VisibilityTimeout,
		ReceiveWaitTime:   p.cfg.ReceiveWait,
	}
	dlqURL, err := p.queues.CreateQueue(ctx, p.DLQName(crawlID), base)
	if err = usable(dlqURL, err); err != nil {
		return crawler.QueueHandles{}, p.fail(crawlID, "create dead-letter queue", err)
	}
	arn, err := p.queues.GetQueueARN(ctx, dlqURL)
	if err = usable(arn, err); err != nil {
		return crawler.QueueHandles{}, p.fail(crawlID, "read dead-letter queue arn", err)
	}
	attrs := base
	attrs.Redrive = &crawler.RedrivePolicy{
		DeadLetterTargetARN: arn,
		MaxReceiveCount:     p.cfg.MaxReceiveCount,
	}
	queueURL, err := p.queues.CreateQueue(ctx, p.QueueName(crawlID), attrs)
	if err = usable(queueURL, err); err != nil {
		return crawler.QueueHandles{}, p.fail(crawlID, "create queue", err)
	}

	handles := crawler.QueueHandles{QueueURL: queueURL, DLQURL: dlqURL}
	p.mu.Lock()
	p.handles[crawlID] = handles
	p.mu.Unlock()
	p.logger.Info("provisioned crawl queues",
		zap.String("crawl_id", crawlID),
		zap.String("queue_url", queueURL),
		zap.String("dlq_url", dlqURL),
	)
	return handles, nil
}

// Handles returns the cached queue handles for a crawl, resolving them by
// name when this process has not provisioned the crawl itself.
func (p *Provisioner) Handles(ctx context.Context, crawlID string) (crawler.QueueHandles, error) {
	p.mu.RLock()
	handles, ok := p.handles[crawlID]
	p.mu.RUnlock()
	if ok {
		return handles, nil
	}

	queueURL, err := p.queues.GetQueueURL(ctx, p.QueueName(crawlID))
	if err != nil {
		return crawler.QueueHandles{}, crawler.Transient("resolve queue", err)
	}
	dlqURL, err := p.queues.GetQueueURL(ctx, p.DLQName(crawlID))
	if err != nil {
		return crawler.QueueHandles{}, crawler.Transient("resolve dead-letter queue", err)
	}
	handles = crawler.QueueHandles{QueueURL: queueURL, DLQURL: dlqURL}
	p.mu.Lock()
	p.handles[crawlID] = handles
	p.mu.Unlock()
	return handles, nil
}

func (p *Provisioner) fail(crawlID, step string, err error) error {
	metrics.ObserveProvisionFailure()
	p.logger.Error("queue provisioning failed",
		zap.String("crawl_id", crawlID),
		zap.String("step", step),
		zap.Error(err),
	)
	return &crawler.ProvisioningError{CrawlID: crawlID, Step: step, Err: err}
}

var errEmptyHandle = errors.New("empty handle returned")

func usable(handle string, err error) error {
	if err != nil {
		return fmt.Errorf("queue service: %w", err)
	}
	if handle == "" {
		return errEmptyHandle
	}
	return nil
}
