package sinks

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/trace"

	"github.com/JakeFAU/crawl-frontier/internal/crawler"
	"github.com/JakeFAU/crawl-frontier/internal/progress"
)

// PublisherSink forwards each event to a broker publisher, restoring the
// originating span context so trace propagation survives the hand-off.
type PublisherSink struct {
	publisher crawler.Publisher
}

// NewPublisherSink wraps publisher.
func NewPublisherSink(publisher crawler.Publisher) *PublisherSink {
	return &PublisherSink{publisher: publisher}
}

// Consume publishes the batch's events in order on the batch topic and joins
// the failures.
func (s *PublisherSink) Consume(ctx context.Context, batch progress.Batch) error {
	if s == nil || s.publisher == nil {
		return nil
	}
	var errs []error
	for _, evt := range batch.Events {
		pubCtx := ctx
		if evt.Span.IsValid() {
			pubCtx = trace.ContextWithRemoteSpanContext(ctx, evt.Span)
		}
		if _, err := s.publisher.Publish(pubCtx, batch.Topic, evt.Event); err != nil {
			errs = append(errs, fmt.Errorf("publish %s for crawl %s: %w", evt.Type, batch.CrawlID, err))
		}
	}
	return errors.Join(errs...)
}

// Close implements the Sink interface; the owner of the publisher closes it.
func (s *PublisherSink) Close(context.Context) error {
	return nil
}
