// Package memory provides in-memory store and blob implementations for
// development and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/crawl-frontier/internal/crawler"
)

type pageKey struct {
	crawlID string
	url     string
}

// Store keeps crawls and pages in maps guarded by a single mutex, which makes
// IncrementVisited an atomic conditional write.
type Store struct {
	mu     sync.RWMutex
	crawls map[string]crawler.Crawl
	pages  map[string]crawler.Page
	byURL  map[pageKey]string
}

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{
		crawls: make(map[string]crawler.Crawl),
		pages:  make(map[string]crawler.Page),
		byURL:  make(map[pageKey]string),
	}
}

// CreateCrawl stores a new crawl.
func (s *Store) CreateCrawl(_ context.Context, crawl crawler.Crawl) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.crawls[crawl.ID]; exists {
		return fmt.Errorf("crawl %s already exists", crawl.ID)
	}
	s.crawls[crawl.ID] = crawl
	return nil
}

// GetCrawl fetches a crawl by ID.
func (s *Store) GetCrawl(_ context.Context, crawlID string) (crawler.Crawl, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	crawl, ok := s.crawls[crawlID]
	if !ok {
		return crawler.Crawl{}, fmt.Errorf("crawl %s: %w", crawlID, crawler.ErrNotFound)
	}
	return crawl, nil
}

// IncrementVisited reserves one page of the crawl's budget.
func (s *Store) IncrementVisited(_ context.Context, crawlID string) (crawler.Crawl, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	crawl, ok := s.crawls[crawlID]
	if !ok {
		return crawler.Crawl{}, fmt.Errorf("crawl %s: %w", crawlID, crawler.ErrNotFound)
	}
	if !crawl.HasCapacity() {
		return crawler.Crawl{}, crawler.ErrConditionFailed
	}
	crawl.Visited++
	s.crawls[crawlID] = crawl
	return crawl, nil
}

// SetCrawlStatus updates the crawl status and returns the new record.
func (s *Store) SetCrawlStatus(_ context.Context, crawlID string, status crawler.CrawlStatus) (crawler.Crawl, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	crawl, ok := s.crawls[crawlID]
	if !ok {
		return crawler.Crawl{}, fmt.Errorf("crawl %s: %w", crawlID, crawler.ErrNotFound)
	}
	crawl.Status = status
	s.crawls[crawlID] = crawl
	return crawl, nil
}

// ListCrawlsByStatus returns crawls in the given status ordered by creation time.
func (s *Store) ListCrawlsByStatus(_ context.Context, status crawler.CrawlStatus) ([]crawler.Crawl, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []crawler.Crawl
	for _, crawl := range s.crawls {
		if crawl.Status == status {
			out = append(out, crawl)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Created.Equal(out[j].Created) {
			return out[i].ID < out[j].ID
		}
		return out[i].Created.Before(out[j].Created)
	})
	return out, nil
}

// CreatePage stores a new page.
func (s *Store) CreatePage(_ context.Context, page crawler.Page) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.pages[page.ID]; exists {
		return fmt.Errorf("page %s already exists", page.ID)
	}
	page.Links = cloneLinks(page.Links)
	s.pages[page.ID] = page
	key := pageKey{crawlID: page.CrawlID, url: page.URL}
	if _, exists := s.byURL[key]; !exists {
		s.byURL[key] = page.ID
	}
	return nil
}

// GetPage fetches a page by ID.
func (s *Store) GetPage(_ context.Context, pageID string) (crawler.Page, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	page, ok := s.pages[pageID]
	if !ok {
		return crawler.Page{}, fmt.Errorf("page %s: %w", pageID, crawler.ErrNotFound)
	}
	page.Links = cloneLinks(page.Links)
	return page, nil
}

// FindPageByURL looks a page up by its crawl and URL.
func (s *Store) FindPageByURL(_ context.Context, crawlID, url string) (crawler.Page, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byURL[pageKey{crawlID: crawlID, url: url}]
	if !ok {
		return crawler.Page{}, fmt.Errorf("page %s: %w", url, crawler.ErrNotFound)
	}
	page := s.pages[id]
	page.Links = cloneLinks(page.Links)
	return page, nil
}

// MarkPageCrawling moves a page to crawling.
func (s *Store) MarkPageCrawling(_ context.Context, pageID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	page, ok := s.pages[pageID]
	if !ok {
		return fmt.Errorf("page %s: %w", pageID, crawler.ErrNotFound)
	}
	page.Status = crawler.PageStatusCrawling
	page.Visited = at
	s.pages[pageID] = page
	return nil
}

// CompletePage records links and content for a page and marks it completed.
func (s *Store) CompletePage(
	_ context.Context,
	pageID string,
	links []string,
	contentKey string,
	at time.Time,
) (crawler.Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	page, ok := s.pages[pageID]
	if !ok {
		return crawler.Page{}, fmt.Errorf("page %s: %w", pageID, crawler.ErrNotFound)
	}
	page.Status = crawler.PageStatusCompleted
	page.Links = cloneLinks(links)
	page.ContentKey = contentKey
	page.Visited = at
	s.pages[pageID] = page
	page.Links = cloneLinks(page.Links)
	return page, nil
}

// Close is a no-op for the in-memory store.
func (s *Store) Close() {}

func cloneLinks(src []string) []string {
	if len(src) == 0 {
		return nil
	}
	dst := make([]string, len(src))
	copy(dst, src)
	return dst
}
