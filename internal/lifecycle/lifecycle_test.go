package lifecycle

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/crawl-frontier/internal/crawler"
	queueMemory "github.com/JakeFAU/crawl-frontier/internal/queue/memory"
	storeMemory "github.com/JakeFAU/crawl-frontier/internal/storage/memory"
)

type recordingInvalidator struct {
	mu  sync.Mutex
	ids []string
}

func (r *recordingInvalidator) InvalidateCrawl(crawlID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, crawlID)
}

type failingPurger struct {
	failURL string
	mu      sync.Mutex
	purged  []string
}

func (p *failingPurger) PurgeQueue(_ context.Context, queueURL string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if queueURL == p.failURL {
		return errors.New("purge in progress")
	}
	p.purged = append(p.purged, queueURL)
	return nil
}

func seedCrawl(t *testing.T, store *storeMemory.Store, queues *queueMemory.Service) crawler.Crawl {
	t.Helper()
	ctx := context.Background()
	dlqURL, err := queues.CreateQueue(ctx, "crawl-queue-c1-dlq", crawler.QueueAttributes{})
	require.NoError(t, err)
	queueURL, err := queues.CreateQueue(ctx, "crawl-queue-c1", crawler.QueueAttributes{})
	require.NoError(t, err)
	crawl := crawler.Crawl{
		ID:       "c1",
		StartURL: "http://a.example/",
		MaxDepth: 10,
		MaxPages: 1000,
		Status:   crawler.CrawlStatusRunning,
		QueueURL: queueURL,
		DLQURL:   dlqURL,
	}
	require.NoError(t, store.CreateCrawl(ctx, crawl))
	for _, u := range []string{queueURL, dlqURL} {
		_, err := queues.SendMessage(ctx, u, []byte("job"))
		require.NoError(t, err)
	}
	return crawl
}

func TestSoftStopKeepsQueues(t *testing.T) {
	t.Parallel()

	store := storeMemory.NewStore()
	queues := queueMemory.NewService(nil)
	crawl := seedCrawl(t, store, queues)
	caches := &recordingInvalidator{}

	got, err := New(store, queues, caches, nil).Stop(context.Background(), crawl.ID, false)
	require.NoError(t, err)
	require.Equal(t, crawler.CrawlStatusStopped, got.Status)
	require.Equal(t, []string{"c1"}, caches.ids)

	visible, _, err := queues.Counts(crawl.QueueURL)
	require.NoError(t, err)
	require.Equal(t, 1, visible)
}

func TestHardStopPurgesBothQueues(t *testing.T) {
	t.Parallel()

	store := storeMemory.NewStore()
	queues := queueMemory.NewService(nil)
	crawl := seedCrawl(t, store, queues)

	got, err := New(store, queues, nil, nil).Stop(context.Background(), crawl.ID, true)
	require.NoError(t, err)
	require.Equal(t, crawler.CrawlStatusStopped, got.Status)

	for _, u := range []string{crawl.QueueURL, crawl.DLQURL} {
		visible, inFlight, err := queues.Counts(u)
		require.NoError(t, err)
		require.Zero(t, visible+inFlight, u)
	}

	stored, err := store.GetCrawl(context.Background(), crawl.ID)
	require.NoError(t, err)
	require.Equal(t, crawler.CrawlStatusStopped, stored.Status)
}

func TestHardStopPurgeFailureKeepsCrawlStopped(t *testing.T) {
	t.Parallel()

	store := storeMemory.NewStore()
	crawl := seedCrawl(t, store, queueMemory.NewService(nil))
	purger := &failingPurger{failURL: crawl.DLQURL}

	got, err := New(store, purger, nil, nil).Stop(context.Background(), crawl.ID, true)
	var purgeErr *crawler.PurgeError
	require.ErrorAs(t, err, &purgeErr)
	require.Equal(t, "c1", purgeErr.CrawlID)
	require.Equal(t, crawler.CrawlStatusStopped, got.Status)
	require.Equal(t, []string{crawl.QueueURL}, purger.purged)

	stored, err := store.GetCrawl(context.Background(), crawl.ID)
	require.NoError(t, err)
	require.Equal(t, crawler.CrawlStatusStopped, stored.Status)
}

func TestStopUnknownCrawl(t *testing.T) {
	t.Parallel()

	_, err := New(storeMemory.NewStore(), queueMemory.NewService(nil), nil, nil).
		Stop(context.Background(), "missing", true)
	require.ErrorIs(t, err, crawler.ErrNotFound)
}
