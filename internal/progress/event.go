package progress

import (
	"go.opentelemetry.io/otel/trace"

	"github.com/JakeFAU/crawl-frontier/internal/crawler"
)

// Event is a crawl event plus the span context of the request that produced
// it, so sinks can continue the trace after the request has returned.
type Event struct {
	crawler.Event
	Span trace.SpanContext
}

// Batch is a run of events from a single crawl, in publish order, bound for
// one topic.
type Batch struct {
	CrawlID string
	Topic   string
	Events  []Event
}

// Len reports the number of events in the batch.
func (b Batch) Len() int {
	return len(b.Events)
}

// CrawlEvents strips the span contexts from the batch.
func (b Batch) CrawlEvents() []crawler.Event {
	out := make([]crawler.Event, len(b.Events))
	for i, evt := range b.Events {
		out[i] = evt.Event
	}
	return out
}

// closes reports whether evt ends the crawl's event stream. Batches are cut
// at such events so readers observe a stop without waiting for the timer.
func closes(evt Event) bool {
	return evt.Type == crawler.EventCrawlStopped
}
