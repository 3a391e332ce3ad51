package leasing

import (
	"context"
	"encoding/base64"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/crawl-frontier/internal/admission"
	"github.com/JakeFAU/crawl-frontier/internal/cache"
	"github.com/JakeFAU/crawl-frontier/internal/crawler"
	"github.com/JakeFAU/crawl-frontier/internal/provisioner"
	queueMemory "github.com/JakeFAU/crawl-frontier/internal/queue/memory"
	"github.com/JakeFAU/crawl-frontier/internal/seen"
	storeMemory "github.com/JakeFAU/crawl-frontier/internal/storage/memory"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type staticIDs struct {
	mu sync.Mutex
	n  int
}

func (s *staticIDs) NewID() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return "page-" + strconv.Itoa(s.n), nil
}

type harness struct {
	clock  *fakeClock
	store  *storeMemory.Store
	queues *queueMemory.Service
	prov   *provisioner.Provisioner
	admit  *admission.Admitter
	leaser *Leaser
	crawl  crawler.Crawl
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()
	clock := &fakeClock{now: time.Unix(1000, 0)}
	store := storeMemory.NewStore()
	queues := queueMemory.NewService(clock)
	prov := provisioner.New(queues, provisioner.Config{VisibilityTimeout: 20 * time.Second}, nil)

	handles, err := prov.Provision(ctx, "c1")
	require.NoError(t, err)
	crawl := crawler.Crawl{
		ID:       "c1",
		StartURL: "http://a.example/",
		MaxDepth: -1,
		MaxPages: -1,
		Status:   crawler.CrawlStatusRunning,
		QueueURL: handles.QueueURL,
		DLQURL:   handles.DLQURL,
	}
	require.NoError(t, store.CreateCrawl(ctx, crawl))

	crawls := cache.NewCrawls(store, 16, time.Minute)
	return &harness{
		clock:  clock,
		store:  store,
		queues: queues,
		prov:   prov,
		admit:  admission.New(store, queues, seen.NewMemory(), crawls, &staticIDs{}, clock, nil),
		leaser: New(queues, prov, store, clock, 0, nil),
		crawl:  crawl,
	}
}

func TestLeaseAcknowledgeRoundTrip(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		leases, err := h.leaser.LeaseCrawl(ctx, h.crawl.ID, 1)
		require.NoError(t, err)
		require.Empty(t, leases)
	}

	decision, err := h.admit.Admit(ctx, h.crawl.ID, "http://a.example/", 0)
	require.NoError(t, err)
	require.True(t, decision.IsAdmitted())

	leases, err := h.leaser.LeaseCrawl(ctx, h.crawl.ID, 1)
	require.NoError(t, err)
	require.Len(t, leases, 1)
	require.Equal(t, decision.Job, leases[0].CrawlJob)
	require.NotEmpty(t, leases[0].Token)

	page, err := h.store.GetPage(ctx, leases[0].PageID)
	require.NoError(t, err)
	require.Equal(t, crawler.PageStatusCrawling, page.Status)

	// Tokens survive a trip through the public boundary encoding.
	deleteID := base64.RawURLEncoding.EncodeToString(leases[0].Token)
	token, err := base64.RawURLEncoding.DecodeString(deleteID)
	require.NoError(t, err)
	require.NoError(t, h.leaser.Acknowledge(ctx, h.crawl.ID, token))

	h.clock.Advance(time.Minute)
	leases, err = h.leaser.LeaseCrawl(ctx, h.crawl.ID, 1)
	require.NoError(t, err)
	require.Empty(t, leases)

	require.ErrorIs(t, h.leaser.Acknowledge(ctx, h.crawl.ID, token), crawler.ErrLeaseNotFound)
}

func TestAcknowledgeUnknownToken(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	require.ErrorIs(t, h.leaser.Acknowledge(ctx, h.crawl.ID, []byte("nope")), crawler.ErrLeaseNotFound)
	require.ErrorIs(t, h.leaser.Acknowledge(ctx, h.crawl.ID, nil), crawler.ErrLeaseNotFound)
	require.ErrorIs(t, h.leaser.Acknowledge(ctx, "unknown", []byte("nope")), crawler.ErrNotFound)
}

func TestExpiredLeaseIsRedeliveredThenDeadLettered(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	_, err := h.admit.Admit(ctx, h.crawl.ID, "http://a.example/", 0)
	require.NoError(t, err)

	first, err := h.leaser.LeaseCrawl(ctx, h.crawl.ID, 1)
	require.NoError(t, err)
	require.Len(t, first, 1)

	h.clock.Advance(21 * time.Second)
	second, err := h.leaser.LeaseCrawl(ctx, h.crawl.ID, 1)
	require.NoError(t, err)
	require.Len(t, second, 1)
	require.Equal(t, first[0].CrawlJob, second[0].CrawlJob)

	// The first lease expired, so its token no longer acknowledges.
	require.ErrorIs(t, h.leaser.Acknowledge(ctx, h.crawl.ID, first[0].Token), crawler.ErrLeaseNotFound)

	h.clock.Advance(21 * time.Second)
	third, err := h.leaser.LeaseCrawl(ctx, h.crawl.ID, 1)
	require.NoError(t, err)
	require.Empty(t, third)

	visible, _, err := h.queues.Counts(h.crawl.DLQURL)
	require.NoError(t, err)
	require.Equal(t, 1, visible)
}

func TestLeaseSkipsMalformedMessages(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	_, err := h.queues.SendMessage(ctx, h.crawl.QueueURL, []byte("not json"))
	require.NoError(t, err)
	_, err = h.admit.Admit(ctx, h.crawl.ID, "http://a.example/", 0)
	require.NoError(t, err)

	leases, err := h.leaser.Lease(ctx, h.crawl.QueueURL, 10, 0)
	require.NoError(t, err)
	require.Len(t, leases, 1)
	require.Equal(t, "http://a.example/", leases[0].URL)
}

type failingMarker struct{}

func (failingMarker) MarkPageCrawling(context.Context, string, time.Time) error {
	return errors.New("store unavailable")
}

func TestLeaseSurvivesPageMarkFailure(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	_, err := h.admit.Admit(ctx, h.crawl.ID, "http://a.example/", 0)
	require.NoError(t, err)

	leaser := New(h.queues, h.prov, failingMarker{}, h.clock, 0, nil)
	leases, err := leaser.LeaseCrawl(ctx, h.crawl.ID, 5)
	require.NoError(t, err)
	require.Len(t, leases, 1)
}

func TestLeaseUnknownQueue(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	_, err := h.leaser.Lease(context.Background(), "memory://queue/missing", 1, 0)
	require.ErrorIs(t, err, crawler.ErrNotFound)

	_, err = h.leaser.LeaseCrawl(context.Background(), "missing", 1)
	require.ErrorIs(t, err, crawler.ErrNotFound)
}
