package memory

import (
	"context"
	"testing"

	"github.com/JakeFAU/crawl-frontier/internal/crawler"
)

func TestPublisherStoresMessages(t *testing.T) {
	t.Parallel()

	pub := New()
	id1, err := pub.Publish(context.Background(), "topic-a", crawler.Event{Type: crawler.EventCrawlSubmitted, CrawlID: "c1"})
	if err != nil || id1 != "memory-1" {
		t.Fatalf("unexpected publish result id=%s err=%v", id1, err)
	}
	id2, err := pub.Publish(context.Background(), "topic-b", "payload")
	if err != nil || id2 != "memory-2" {
		t.Fatalf("unexpected publish result id=%s err=%v", id2, err)
	}

	msgs := pub.Messages()
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].Topic != "topic-a" || msgs[1].Topic != "topic-b" {
		t.Fatalf("topics not recorded correctly: %+v", msgs)
	}

	msgs[0].Topic = "modified"
	if pub.Messages()[0].Topic == "modified" {
		t.Fatal("expected Messages() to return a copy")
	}
}

func TestPublisherFiltersEvents(t *testing.T) {
	t.Parallel()

	pub := New()
	ctx := context.Background()
	for _, event := range []crawler.Event{
		{Type: crawler.EventCrawlSubmitted, CrawlID: "c1"},
		{Type: crawler.EventPageCompleted, CrawlID: "c1", PageID: "p1"},
		{Type: crawler.EventCrawlStopped, CrawlID: "c1"},
	} {
		if _, err := pub.Publish(ctx, "events", event); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}
	if _, err := pub.Publish(ctx, "events", "not an event"); err != nil {
		t.Fatalf("publish: %v", err)
	}

	if got := pub.Events(""); len(got) != 3 {
		t.Fatalf("expected 3 events, got %d", len(got))
	}
	completed := pub.Events(crawler.EventPageCompleted)
	if len(completed) != 1 || completed[0].PageID != "p1" {
		t.Fatalf("unexpected completed events: %+v", completed)
	}
}
