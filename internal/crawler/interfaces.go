package crawler

import (
	"context"
	"io"
	"time"
)

// CrawlStore persists crawl records.
type CrawlStore interface {
	CreateCrawl(ctx context.Context, crawl Crawl) error
	GetCrawl(ctx context.Context, crawlID string) (Crawl, error)
	// IncrementVisited atomically adds one to visited when the crawl has
	// capacity. It returns ErrConditionFailed when the budget is exhausted.
	IncrementVisited(ctx context.Context, crawlID string) (Crawl, error)
	SetCrawlStatus(ctx context.Context, crawlID string, status CrawlStatus) (Crawl, error)
	ListCrawlsByStatus(ctx context.Context, status CrawlStatus) ([]Crawl, error)
}

// PageStore persists page records.
type PageStore interface {
	CreatePage(ctx context.Context, page Page) error
	GetPage(ctx context.Context, pageID string) (Page, error)
	FindPageByURL(ctx context.Context, crawlID, url string) (Page, error)
	MarkPageCrawling(ctx context.Context, pageID string, at time.Time) error
	CompletePage(ctx context.Context, pageID string, links []string, contentKey string, at time.Time) (Page, error)
}

// Store is the durable key-value store backing crawls and pages.
type Store interface {
	CrawlStore
	PageStore
	Close()
}

// QueueService is the durable queue capability.
type QueueService interface {
	// CreateQueue creates the named queue, or returns the existing one, and
	// returns its URL.
	CreateQueue(ctx context.Context, name string, attrs QueueAttributes) (string, error)
	// GetQueueARN returns the durable identifier used in redrive policies.
	GetQueueARN(ctx context.Context, queueURL string) (string, error)
	GetQueueURL(ctx context.Context, name string) (string, error)
	SendMessage(ctx context.Context, queueURL string, body []byte) (string, error)
	ReceiveMessages(ctx context.Context, queueURL string, maxMessages int, wait time.Duration) ([]QueueMessage, error)
	// DeleteMessage returns ErrReceiptNotFound when the handle is unknown,
	// already deleted, or its visibility timeout has lapsed.
	DeleteMessage(ctx context.Context, queueURL string, receiptHandle []byte) error
	PurgeQueue(ctx context.Context, queueURL string) error
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
	GetObject(ctx context.Context, path string) ([]byte, error)
}

// SeenSet is an advisory per-crawl set of URLs already considered.
type SeenSet interface {
	Contains(ctx context.Context, crawlID, url string) (bool, error)
	Add(ctx context.Context, crawlID, url string) error
}

// Publisher pushes crawl events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces crawl and page IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
