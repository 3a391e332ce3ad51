package sinks

import (
	"context"
	"fmt"

	"github.com/JakeFAU/crawl-frontier/internal/progress"
	"github.com/JakeFAU/crawl-frontier/internal/store"
)

// JournalSink appends each crawl batch to a store.Journal in one call, so a
// crawl's events land with consecutive sequence numbers per flush.
type JournalSink struct {
	journal store.Journal
}

// NewJournalSink constructs a JournalSink for the provided journal.
func NewJournalSink(journal store.Journal) *JournalSink {
	return &JournalSink{journal: journal}
}

// Consume forwards the batch and returns any journal error wrapped.
func (s *JournalSink) Consume(ctx context.Context, batch progress.Batch) error {
	if s == nil || s.journal == nil || batch.Len() == 0 {
		return nil
	}
	if err := s.journal.AppendEvents(ctx, batch.CrawlEvents()); err != nil {
		return fmt.Errorf("append %d events for crawl %s: %w", batch.Len(), batch.CrawlID, err)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *JournalSink) Close(context.Context) error {
	return nil
}
