// Package completion records a fetched page and feeds its links back into
// admission.
package completion

import (
	"bytes"
	"context"
	"errors"
	"path"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/crawl-frontier/internal/admission"
	"github.com/JakeFAU/crawl-frontier/internal/crawler"
	"github.com/JakeFAU/crawl-frontier/internal/metrics"
)

// PageStore reads and completes page records.
type PageStore interface {
	GetPage(ctx context.Context, pageID string) (crawler.Page, error)
	CompletePage(ctx context.Context, pageID string, links []string, contentKey string, at time.Time) (crawler.Page, error)
}

// LinkAdmitter runs admission for one discovered link.
type LinkAdmitter interface {
	Admit(ctx context.Context, crawlID, url string, depth int) (admission.Decision, error)
}

// Hasher digests page content.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Config controls Handler behavior.
type Config struct {
	ContentType      string
	BlobPrefix       string
	AdmitConcurrency int
}

// Report summarizes the admission of a completed page's links.
type Report struct {
	Links    int `json:"links"`
	Admitted int `json:"admitted"`
	Rejected int `json:"rejected"`
	Failed   int `json:"failed"`
	// ContentHash is the hex digest of the stored content.
	ContentHash string `json:"content_hash,omitempty"`
}

// Handler completes pages.
type Handler struct {
	pages  PageStore
	blobs  crawler.BlobStore
	hasher Hasher
	admit  LinkAdmitter
	clock  crawler.Clock
	cfg    Config
	logger *zap.Logger
}

// New constructs a Handler.
func New(
	pages PageStore,
	blobs crawler.BlobStore,
	hasher Hasher,
	admit LinkAdmitter,
	clock crawler.Clock,
	cfg Config,
	logger *zap.Logger,
) *Handler {
	if cfg.ContentType == "" {
		cfg.ContentType = "text/html; charset=utf-8"
	}
	if cfg.BlobPrefix == "" {
		cfg.BlobPrefix = "pages"
	}
	if cfg.AdmitConcurrency <= 0 {
		cfg.AdmitConcurrency = 8
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		pages:  pages,
		blobs:  blobs,
		hasher: hasher,
		admit:  admit,
		clock:  clock,
		cfg:    cfg,
		logger: logger,
	}
}

// ContentKey returns the blob key under which a page's content is stored.
func (h *Handler) ContentKey(pageID string) string {
	return path.Join(h.cfg.BlobPrefix, pageID)
}

// Complete stores content, marks the page completed with its normalized
// links, and then admits every link at the page's depth plus one. Link
// admission errors are logged and counted in the Report; they never fail the
// completion because the page is already durably recorded.
func (h *Handler) Complete(ctx context.Context, pageID string, content []byte, links []string) (crawler.Page, Report, error) {
	page, err := h.pages.GetPage(ctx, pageID)
	if err != nil {
		return crawler.Page{}, Report{}, crawler.Transient("load page", err)
	}
	// Side effects below are each safe to leave done, so they run to
	// completion once started.
	ctx = context.WithoutCancel(ctx)

	key := h.ContentKey(page.ID)
	if _, err := h.blobs.PutObject(ctx, key, h.cfg.ContentType, bytes.NewReader(content)); err != nil {
		return crawler.Page{}, Report{}, crawler.Transient("store page content", err)
	}

	normalized := crawler.NormalizeLinks(links)
	page, err = h.pages.CompletePage(ctx, page.ID, normalized, key, h.clock.Now())
	if err != nil {
		return crawler.Page{}, Report{}, crawler.Transient("complete page", err)
	}

	report := h.admitLinks(ctx, page, normalized)
	report.ContentHash = h.hash(page.ID, content)
	metrics.ObserveCompletion(report.Failed)
	h.logger.Info("page completed",
		zap.String("crawl_id", page.CrawlID),
		zap.String("page_id", page.ID),
		zap.Int("links", report.Links),
		zap.Int("admitted", report.Admitted),
		zap.Int("rejected", report.Rejected),
		zap.Int("failed", report.Failed),
	)
	return page, report, nil
}

// hash returns the content digest, or "" when no hasher is configured or
// hashing fails.
func (h *Handler) hash(pageID string, content []byte) string {
	if h.hasher == nil {
		return ""
	}
	sum, err := h.hasher.Hash(content)
	if err != nil {
		h.logger.Warn("content hash failed", zap.String("page_id", pageID), zap.Error(err))
		return ""
	}
	return sum
}

func (h *Handler) admitLinks(ctx context.Context, page crawler.Page, links []string) Report {
	report := Report{Links: len(links)}
	var (
		mu   sync.Mutex
		errs []error
		g    errgroup.Group
	)
	g.SetLimit(h.cfg.AdmitConcurrency)
	for _, link := range links {
		g.Go(func() error {
			decision, err := h.admit.Admit(ctx, page.CrawlID, link, page.Depth+1)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				report.Failed++
				errs = append(errs, err)
			case decision.IsAdmitted():
				report.Admitted++
			default:
				report.Rejected++
			}
			return nil
		})
	}
	_ = g.Wait()
	if err := errors.Join(errs...); err != nil {
		h.logger.Warn("link admission errors",
			zap.String("crawl_id", page.CrawlID),
			zap.String("page_id", page.ID),
			zap.Int("failed", report.Failed),
			zap.Error(err),
		)
	}
	return report
}
