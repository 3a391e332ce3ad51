// Package crawler defines core types shared across subsystems.
package crawler

import "time"

// CrawlStatus represents the lifecycle state of a crawl.
type CrawlStatus string

// Crawl status values persisted in the store.
const (
	CrawlStatusRunning   CrawlStatus = "running"
	CrawlStatusCompleted CrawlStatus = "completed"
	CrawlStatusStopped   CrawlStatus = "stopped"
)

// PageStatus represents the processing state of a discovered page.
type PageStatus string

// Page status values persisted in the store.
const (
	PageStatusQueued    PageStatus = "queued"
	PageStatusCrawling  PageStatus = "crawling"
	PageStatusCompleted PageStatus = "completed"
	PageStatusFailed    PageStatus = "failed"
)

// Unlimited disables the max_depth or max_pages bound of a crawl.
const Unlimited = -1

// Crawl is one crawl session.
type Crawl struct {
	ID         string      `json:"id"`
	StartURL   string      `json:"start_url"`
	SameDomain bool        `json:"same_domain"`
	MaxDepth   int         `json:"max_depth"`
	MaxPages   int         `json:"max_pages"`
	Status     CrawlStatus `json:"status"`
	Visited    int         `json:"visited"`
	Created    time.Time   `json:"created"`
	QueueURL   string      `json:"queue_url"`
	DLQURL     string      `json:"dlq_url"`
}

// HasCapacity reports whether the crawl can reserve another page.
func (c Crawl) HasCapacity() bool {
	return c.MaxPages == Unlimited || c.Visited < c.MaxPages
}

// AllowsDepth reports whether a page at depth may be admitted.
func (c Crawl) AllowsDepth(depth int) bool {
	return c.MaxDepth == Unlimited || depth <= c.MaxDepth
}

// Page is one discovered URL within a crawl.
type Page struct {
	ID         string     `json:"id"`
	CrawlID    string     `json:"crawl_id"`
	URL        string     `json:"url"`
	Depth      int        `json:"depth"`
	Status     PageStatus `json:"status"`
	Links      []string   `json:"links,omitempty"`
	ContentKey string     `json:"content_key,omitempty"`
	Visited    time.Time  `json:"visited"`
}

// CrawlJob is the message body carried on a crawl's work queue.
type CrawlJob struct {
	PageID  string `json:"page_id"`
	CrawlID string `json:"crawl_id"`
	URL     string `json:"url"`
}

// Lease is a CrawlJob handed to a worker together with the opaque token that
// acknowledges it. The token is the queue's delivery handle.
type Lease struct {
	CrawlJob
	Token []byte `json:"-"`
}

// QueueHandles references the queues provisioned for one crawl.
type QueueHandles struct {
	QueueURL string
	DLQURL   string
}

// QueueAttributes configures a queue at creation time.
type QueueAttributes struct {
	VisibilityTimeout time.Duration
	ReceiveWaitTime   time.Duration
	Redrive           *RedrivePolicy
}

// RedrivePolicy moves a message to DeadLetterTargetARN once it has been
// received MaxReceiveCount times without being deleted.
type RedrivePolicy struct {
	DeadLetterTargetARN string
	MaxReceiveCount     int
}

// QueueMessage is a message returned by a receive call.
type QueueMessage struct {
	ID            string
	Body          []byte
	ReceiptHandle []byte
	ReceiveCount  int
}

// Event is published when a crawl or page changes state.
type Event struct {
	Type        string    `json:"type"`
	CrawlID     string    `json:"crawl_id"`
	PageID      string    `json:"page_id,omitempty"`
	URL         string    `json:"url,omitempty"`
	Status      string    `json:"status,omitempty"`
	ContentHash string    `json:"content_hash,omitempty"`
	At          time.Time `json:"at"`
}

// Event types emitted by the service.
const (
	EventCrawlSubmitted = "crawl.submitted"
	EventCrawlStopped   = "crawl.stopped"
	EventPageCompleted  = "page.completed"
)
