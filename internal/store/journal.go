package store

import (
	"context"

	"github.com/JakeFAU/crawl-frontier/internal/crawler"
)

// DefaultListLimit caps ListEvents when the caller passes a non-positive limit.
const DefaultListLimit = 100

// Entry is one journaled crawl event. Seq increases monotonically across the
// whole journal, so it can be used as a paging cursor.
type Entry struct {
	Seq int64 `json:"seq"`
	crawler.Event
}

// Journal persists crawl events in arrival order.
type Journal interface {
	// AppendEvents records a batch of events atomically.
	AppendEvents(ctx context.Context, events []crawler.Event) error
	// ListEvents returns up to limit entries of one crawl with Seq > after,
	// oldest first.
	ListEvents(ctx context.Context, crawlID string, after int64, limit int) ([]Entry, error)
}

// NormalizeLimit applies DefaultListLimit to non-positive limits.
func NormalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	return limit
}
