// Package cache holds the short-lived read caches in front of the crawl store.
// Entries expire after a fixed TTL and are never the sole enforcement point
// for a crawl's limits.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/JakeFAU/crawl-frontier/internal/crawler"
)

// CrawlReader loads a crawl record.
type CrawlReader interface {
	GetCrawl(ctx context.Context, crawlID string) (crawler.Crawl, error)
}

// RunningLister lists crawls by status.
type RunningLister interface {
	ListCrawlsByStatus(ctx context.Context, status crawler.CrawlStatus) ([]crawler.Crawl, error)
}

// Crawls caches crawl records by ID with a TTL and an LRU size bound.
type Crawls struct {
	store CrawlReader
	lru   *expirable.LRU[string, crawler.Crawl]
}

// NewCrawls builds a crawl record cache.
func NewCrawls(store CrawlReader, size int, ttl time.Duration) *Crawls {
	if size <= 0 {
		size = 4096
	}
	return &Crawls{
		store: store,
		lru:   expirable.NewLRU[string, crawler.Crawl](size, nil, ttl),
	}
}

// Get returns the cached crawl, loading it from the store on a miss.
func (c *Crawls) Get(ctx context.Context, crawlID string) (crawler.Crawl, error) {
	if crawl, ok := c.lru.Get(crawlID); ok {
		return crawl, nil
	}
	crawl, err := c.store.GetCrawl(ctx, crawlID)
	if err != nil {
		return crawler.Crawl{}, fmt.Errorf("load crawl: %w", err)
	}
	c.lru.Add(crawlID, crawl)
	return crawl, nil
}

// Put refreshes the cached copy of a crawl.
func (c *Crawls) Put(crawl crawler.Crawl) {
	c.lru.Add(crawl.ID, crawl)
}

// Invalidate drops a crawl from the cache.
func (c *Crawls) Invalidate(crawlID string) {
	c.lru.Remove(crawlID)
}

const runningKey = "running"

// Running caches the list of running crawls.
type Running struct {
	store RunningLister
	lru   *expirable.LRU[string, []crawler.Crawl]
}

// NewRunning builds a running-crawl list cache.
func NewRunning(store RunningLister, ttl time.Duration) *Running {
	return &Running{
		store: store,
		lru:   expirable.NewLRU[string, []crawler.Crawl](1, nil, ttl),
	}
}

// Get returns a copy of the running crawl list, refreshing it on a miss.
func (r *Running) Get(ctx context.Context) ([]crawler.Crawl, error) {
	crawls, ok := r.lru.Get(runningKey)
	if !ok {
		var err error
		crawls, err = r.store.ListCrawlsByStatus(ctx, crawler.CrawlStatusRunning)
		if err != nil {
			return nil, fmt.Errorf("list running crawls: %w", err)
		}
		r.lru.Add(runningKey, crawls)
	}
	out := make([]crawler.Crawl, len(crawls))
	copy(out, crawls)
	return out, nil
}

// Invalidate forces the next Get to reload from the store.
func (r *Running) Invalidate() {
	r.lru.Remove(runningKey)
}

// Set groups the crawl caches that must be invalidated together when a
// crawl's status changes.
type Set struct {
	Crawls  *Crawls
	Running *Running
}

// InvalidateCrawl drops the crawl record and the running list.
func (s Set) InvalidateCrawl(crawlID string) {
	if s.Crawls != nil {
		s.Crawls.Invalidate(crawlID)
	}
	if s.Running != nil {
		s.Running.Invalidate()
	}
}
