package completion

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/crawl-frontier/internal/admission"
	"github.com/JakeFAU/crawl-frontier/internal/cache"
	"github.com/JakeFAU/crawl-frontier/internal/crawler"
	"github.com/JakeFAU/crawl-frontier/internal/hash/sha256"
	queueMemory "github.com/JakeFAU/crawl-frontier/internal/queue/memory"
	"github.com/JakeFAU/crawl-frontier/internal/seen"
	storeMemory "github.com/JakeFAU/crawl-frontier/internal/storage/memory"
)

type sequenceIDs struct {
	n atomic.Int64
}

func (s *sequenceIDs) NewID() (string, error) {
	return fmt.Sprintf("page-%d", s.n.Add(1)), nil
}

type fixedClock struct {
	now time.Time
}

func (c fixedClock) Now() time.Time { return c.now }

type harness struct {
	store   *storeMemory.Store
	blobs   *storeMemory.BlobStore
	admit   *admission.Admitter
	handler *Handler
}

func newHarness(t *testing.T, crawl crawler.Crawl) (*harness, crawler.Crawl) {
	t.Helper()
	ctx := context.Background()
	store := storeMemory.NewStore()
	blobs := storeMemory.NewBlobStore()
	queues := queueMemory.NewService(nil)
	queueURL, err := queues.CreateQueue(ctx, "crawl-queue-"+crawl.ID, crawler.QueueAttributes{})
	require.NoError(t, err)
	crawl.QueueURL = queueURL
	crawl.Status = crawler.CrawlStatusRunning
	require.NoError(t, store.CreateCrawl(ctx, crawl))

	clock := fixedClock{now: time.Unix(500, 0)}
	admitter := admission.New(store, queues, seen.NewMemory(), cache.NewCrawls(store, 16, time.Minute),
		&sequenceIDs{}, clock, nil)
	return &harness{
		store:   store,
		blobs:   blobs,
		admit:   admitter,
		handler: New(store, blobs, sha256.New(), admitter, clock, Config{}, nil),
	}, crawl
}

func TestCompleteScenarioCapacityAndDomain(t *testing.T) {
	t.Parallel()

	h, crawl := newHarness(t, crawler.Crawl{
		ID:         "c1",
		StartURL:   "http://a.example/",
		SameDomain: true,
		MaxDepth:   10,
		MaxPages:   2,
	})
	ctx := context.Background()

	start, err := h.admit.Admit(ctx, crawl.ID, crawl.StartURL, 0)
	require.NoError(t, err)
	require.True(t, start.IsAdmitted())

	page, report, err := h.handler.Complete(ctx, start.Job.PageID, []byte("<html>root</html>"),
		[]string{"http://a.example/x", "http://b.example/y"})
	require.NoError(t, err)
	require.Equal(t, Report{Links: 2, Admitted: 1, Rejected: 1, ContentHash: "4b49961aaf4b46dbd39c1de7809c5b4d0bd2527ab405b6799f7c18c23b520d56"}, report)
	require.Equal(t, crawler.PageStatusCompleted, page.Status)
	require.ElementsMatch(t, []string{"http://a.example/x", "http://b.example/y"}, page.Links)
	require.Equal(t, "pages/"+start.Job.PageID, page.ContentKey)

	child, err := h.store.FindPageByURL(ctx, crawl.ID, "http://a.example/x")
	require.NoError(t, err)
	require.Equal(t, 1, child.Depth)

	_, report, err = h.handler.Complete(ctx, child.ID, nil, []string{"http://a.example/z"})
	require.NoError(t, err)
	require.Equal(t, Report{Links: 1, Rejected: 1, ContentHash: "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"}, report)

	stored, err := h.store.GetCrawl(ctx, crawl.ID)
	require.NoError(t, err)
	require.Equal(t, 2, stored.Visited)
}

func TestCompleteStoresContentAndNormalizesLinks(t *testing.T) {
	t.Parallel()

	h, crawl := newHarness(t, crawler.Crawl{ID: "c1", StartURL: "http://a.example/", MaxDepth: -1, MaxPages: -1})
	ctx := context.Background()
	start, err := h.admit.Admit(ctx, crawl.ID, crawl.StartURL, 0)
	require.NoError(t, err)

	page, report, err := h.handler.Complete(ctx, start.Job.PageID, []byte("body"), []string{
		"http://a.example/a#one",
		"http://a.example/a#two",
		"/relative",
		"http://a.example/b",
	})
	require.NoError(t, err)
	require.Equal(t, []string{"http://a.example/a", "http://a.example/b"}, page.Links)
	require.Equal(t, 2, report.Admitted)

	content, err := h.blobs.GetObject(ctx, page.ContentKey)
	require.NoError(t, err)
	require.Equal(t, "body", string(content))
	require.Equal(t, time.Unix(500, 0), page.Visited)
}

func TestCompleteUnknownPage(t *testing.T) {
	t.Parallel()

	h, _ := newHarness(t, crawler.Crawl{ID: "c1", StartURL: "http://a.example/", MaxDepth: -1, MaxPages: -1})
	_, _, err := h.handler.Complete(context.Background(), "missing", nil, nil)
	require.ErrorIs(t, err, crawler.ErrNotFound)
}

type flakyAdmitter struct {
	mu    sync.Mutex
	calls map[string]int
}

func (f *flakyAdmitter) Admit(_ context.Context, _ string, url string, depth int) (admission.Decision, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[url] = depth
	if url == "http://a.example/bad" {
		return admission.Decision{}, &crawler.TransientIOError{Op: "enqueue", Err: errors.New("throttled")}
	}
	return admission.Decision{Outcome: admission.Admitted}, nil
}

func TestCompleteAggregatesAdmissionErrors(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := storeMemory.NewStore()
	require.NoError(t, store.CreatePage(ctx, crawler.Page{ID: "p1", CrawlID: "c1", URL: "http://a.example/", Depth: 4}))
	admitter := &flakyAdmitter{calls: map[string]int{}}
	handler := New(store, storeMemory.NewBlobStore(), nil, admitter, fixedClock{}, Config{AdmitConcurrency: 2}, nil)

	page, report, err := handler.Complete(ctx, "p1", []byte("x"),
		[]string{"http://a.example/ok1", "http://a.example/bad", "http://a.example/ok2"})
	require.NoError(t, err)
	require.Equal(t, Report{Links: 3, Admitted: 2, Failed: 1}, report)
	require.Equal(t, crawler.PageStatusCompleted, page.Status)
	for url, depth := range admitter.calls {
		require.Equal(t, 5, depth, url)
	}
}

type failingBlobs struct{}

func (failingBlobs) PutObject(context.Context, string, string, io.Reader) (string, error) {
	return "", errors.New("bucket unavailable")
}

func (failingBlobs) GetObject(context.Context, string) ([]byte, error) {
	return nil, errors.New("bucket unavailable")
}

func TestCompleteBlobFailureLeavesPageQueued(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := storeMemory.NewStore()
	require.NoError(t, store.CreatePage(ctx, crawler.Page{
		ID:      "p1",
		CrawlID: "c1",
		URL:     "http://a.example/",
		Status:  crawler.PageStatusCrawling,
	}))
	handler := New(store, failingBlobs{}, nil, &flakyAdmitter{calls: map[string]int{}}, fixedClock{}, Config{}, nil)

	_, _, err := handler.Complete(ctx, "p1", []byte("x"), []string{"http://a.example/x"})
	var transient *crawler.TransientIOError
	require.ErrorAs(t, err, &transient)

	page, err := store.GetPage(ctx, "p1")
	require.NoError(t, err)
	require.Equal(t, crawler.PageStatusCrawling, page.Status)
}
