package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/crawl-frontier/internal/crawler"
)

func TestStoreIncrementVisitedRespectsBudget(t *testing.T) {
	t.Parallel()

	store := NewStore()
	ctx := context.Background()
	require.NoError(t, store.CreateCrawl(ctx, crawler.Crawl{ID: "c1", MaxPages: 2, Status: crawler.CrawlStatusRunning}))

	crawl, err := store.IncrementVisited(ctx, "c1")
	require.NoError(t, err)
	require.Equal(t, 1, crawl.Visited)
	crawl, err = store.IncrementVisited(ctx, "c1")
	require.NoError(t, err)
	require.Equal(t, 2, crawl.Visited)

	_, err = store.IncrementVisited(ctx, "c1")
	require.ErrorIs(t, err, crawler.ErrConditionFailed)

	_, err = store.IncrementVisited(ctx, "missing")
	require.ErrorIs(t, err, crawler.ErrNotFound)
}

func TestStoreIncrementVisitedConcurrent(t *testing.T) {
	t.Parallel()

	store := NewStore()
	ctx := context.Background()
	require.NoError(t, store.CreateCrawl(ctx, crawler.Crawl{ID: "c1", MaxPages: 5}))

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		granted int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.IncrementVisited(ctx, "c1"); err == nil {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 5, granted)
	crawl, err := store.GetCrawl(ctx, "c1")
	require.NoError(t, err)
	require.Equal(t, 5, crawl.Visited)
}

func TestStoreUnlimitedBudget(t *testing.T) {
	t.Parallel()

	store := NewStore()
	ctx := context.Background()
	require.NoError(t, store.CreateCrawl(ctx, crawler.Crawl{ID: "c1", MaxPages: crawler.Unlimited}))
	for i := 0; i < 10; i++ {
		_, err := store.IncrementVisited(ctx, "c1")
		require.NoError(t, err)
	}
}

func TestStoreCrawlStatus(t *testing.T) {
	t.Parallel()

	store := NewStore()
	ctx := context.Background()
	base := time.Unix(100, 0)
	require.NoError(t, store.CreateCrawl(ctx, crawler.Crawl{ID: "b", Status: crawler.CrawlStatusRunning, Created: base.Add(time.Second)}))
	require.NoError(t, store.CreateCrawl(ctx, crawler.Crawl{ID: "a", Status: crawler.CrawlStatusRunning, Created: base}))
	require.Error(t, store.CreateCrawl(ctx, crawler.Crawl{ID: "a"}))

	running, err := store.ListCrawlsByStatus(ctx, crawler.CrawlStatusRunning)
	require.NoError(t, err)
	require.Len(t, running, 2)
	require.Equal(t, "a", running[0].ID)

	stopped, err := store.SetCrawlStatus(ctx, "a", crawler.CrawlStatusStopped)
	require.NoError(t, err)
	require.Equal(t, crawler.CrawlStatusStopped, stopped.Status)

	running, err = store.ListCrawlsByStatus(ctx, crawler.CrawlStatusRunning)
	require.NoError(t, err)
	require.Len(t, running, 1)

	_, err = store.SetCrawlStatus(ctx, "missing", crawler.CrawlStatusStopped)
	require.ErrorIs(t, err, crawler.ErrNotFound)
}

func TestStorePageLifecycle(t *testing.T) {
	t.Parallel()

	store := NewStore()
	ctx := context.Background()
	page := crawler.Page{ID: "p1", CrawlID: "c1", URL: "http://a.example/", Status: crawler.PageStatusQueued}
	require.NoError(t, store.CreatePage(ctx, page))

	found, err := store.FindPageByURL(ctx, "c1", "http://a.example/")
	require.NoError(t, err)
	require.Equal(t, "p1", found.ID)
	_, err = store.FindPageByURL(ctx, "c2", "http://a.example/")
	require.ErrorIs(t, err, crawler.ErrNotFound)

	now := time.Unix(200, 0)
	require.NoError(t, store.MarkPageCrawling(ctx, "p1", now))
	got, err := store.GetPage(ctx, "p1")
	require.NoError(t, err)
	require.Equal(t, crawler.PageStatusCrawling, got.Status)
	require.True(t, got.Visited.Equal(now))

	links := []string{"http://a.example/x"}
	done, err := store.CompletePage(ctx, "p1", links, "pages/p1", now.Add(time.Second))
	require.NoError(t, err)
	require.Equal(t, crawler.PageStatusCompleted, done.Status)
	require.Equal(t, "pages/p1", done.ContentKey)
	links[0] = "mutated"
	got, err = store.GetPage(ctx, "p1")
	require.NoError(t, err)
	require.Equal(t, []string{"http://a.example/x"}, got.Links)

	require.ErrorIs(t, store.MarkPageCrawling(ctx, "missing", now), crawler.ErrNotFound)
	_, err = store.CompletePage(ctx, "missing", nil, "", now)
	require.ErrorIs(t, err, crawler.ErrNotFound)
}
