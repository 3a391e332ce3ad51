package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/crawl-frontier/internal/crawler"
	"github.com/JakeFAU/crawl-frontier/internal/store"
)

// Journal keeps crawl events in per-crawl slices.
type Journal struct {
	mu      sync.RWMutex
	seq     int64
	byCrawl map[string][]store.Entry
}

// NewJournal constructs an empty Journal.
func NewJournal() *Journal {
	return &Journal{byCrawl: make(map[string][]store.Entry)}
}

// AppendEvents assigns sequence numbers and records the batch.
func (j *Journal) AppendEvents(_ context.Context, events []crawler.Event) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	for _, event := range events {
		j.seq++
		j.byCrawl[event.CrawlID] = append(j.byCrawl[event.CrawlID], store.Entry{Seq: j.seq, Event: event})
	}
	return nil
}

// ListEvents returns up to limit entries of the crawl after the given cursor.
func (j *Journal) ListEvents(_ context.Context, crawlID string, after int64, limit int) ([]store.Entry, error) {
	limit = store.NormalizeLimit(limit)
	j.mu.RLock()
	defer j.mu.RUnlock()
	var out []store.Entry
	for _, entry := range j.byCrawl[crawlID] {
		if entry.Seq <= after {
			continue
		}
		out = append(out, entry)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}
