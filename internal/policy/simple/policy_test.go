// Package simple includes tests for the oldest-first policy.
package simple

import (
	"testing"
	"time"

	"github.com/JakeFAU/crawl-frontier/internal/crawler"
)

// TestPolicySelectsOldest ensures the earliest crawl wins regardless of order.
func TestPolicySelectsOldest(t *testing.T) {
	t.Parallel()

	base := time.Unix(1000, 0)
	p := New()
	got := p.Select([]crawler.Crawl{
		{ID: "newer", Created: base.Add(time.Minute)},
		{ID: "oldest", Created: base},
		{ID: "newest", Created: base.Add(time.Hour)},
	})
	if got != "oldest" {
		t.Fatalf("expected oldest, got %q", got)
	}
	if p.Select(nil) != "" {
		t.Fatal("expected empty selection for no candidates")
	}
}
