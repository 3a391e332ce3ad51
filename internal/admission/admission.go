// Package admission decides whether a discovered URL joins a crawl's frontier.
//
// A URL is admitted only after it passes, in order, the seen-set check, the
// durable page lookup, the depth limit, the same-domain restriction, and an
// atomic reservation of one unit of the crawl's page budget. Policy and
// capacity rejections are ordinary Decisions, never errors.
package admission

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-frontier/internal/crawler"
	"github.com/JakeFAU/crawl-frontier/internal/metrics"
)

// Outcome is the tag of a Decision.
type Outcome string

// Admission outcomes.
const (
	Admitted Outcome = "admitted"
	Rejected Outcome = "rejected"
)

// Reason explains a rejection.
type Reason string

// Rejection reasons.
const (
	ReasonNone      Reason = ""
	ReasonDuplicate Reason = "duplicate"
	ReasonDepth     Reason = "depth"
	ReasonDomain    Reason = "domain"
	ReasonCapacity  Reason = "capacity"
	ReasonInvalid   Reason = "invalid"
)

// Decision is the result of one admission attempt. Job is set only when the
// URL was admitted.
type Decision struct {
	Outcome Outcome
	Reason  Reason
	Job     crawler.CrawlJob
}

// IsAdmitted reports whether the URL was admitted.
func (d Decision) IsAdmitted() bool {
	return d.Outcome == Admitted
}

func rejected(reason Reason) Decision {
	return Decision{Outcome: Rejected, Reason: reason}
}

// Store is the subset of the durable store admission writes to.
type Store interface {
	FindPageByURL(ctx context.Context, crawlID, url string) (crawler.Page, error)
	IncrementVisited(ctx context.Context, crawlID string) (crawler.Crawl, error)
	CreatePage(ctx context.Context, page crawler.Page) error
}

// CrawlCache serves crawl records with bounded staleness.
type CrawlCache interface {
	Get(ctx context.Context, crawlID string) (crawler.Crawl, error)
	Put(crawl crawler.Crawl)
}

// Admitter runs the admission pipeline.
type Admitter struct {
	store  Store
	queues crawler.QueueService
	seen   crawler.SeenSet
	crawls CrawlCache
	ids    crawler.IDGenerator
	clock  crawler.Clock
	logger *zap.Logger
}

// New constructs an Admitter. A nil seen set disables the advisory
// short-circuit and leaves deduplication to the page lookup.
func New(
	store Store,
	queues crawler.QueueService,
	seen crawler.SeenSet,
	crawls CrawlCache,
	ids crawler.IDGenerator,
	clock crawler.Clock,
	logger *zap.Logger,
) *Admitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Admitter{
		store:  store,
		queues: queues,
		seen:   seen,
		crawls: crawls,
		ids:    ids,
		clock:  clock,
		logger: logger,
	}
}

// Admit evaluates rawURL at depth for the crawl. An error is returned only
// for failures of the store or queue; every policy outcome is a Decision.
func (a *Admitter) Admit(ctx context.Context, crawlID, rawURL string, depth int) (Decision, error) {
	decision, err := a.admit(ctx, crawlID, rawURL, depth)
	if err != nil {
		metrics.ObserveAdmission("error", "")
		return Decision{}, err
	}
	metrics.ObserveAdmission(string(decision.Outcome), string(decision.Reason))
	if decision.IsAdmitted() {
		a.logger.Debug("url admitted",
			zap.String("crawl_id", crawlID),
			zap.String("page_id", decision.Job.PageID),
			zap.String("url", decision.Job.URL),
			zap.Int("depth", depth),
		)
	} else {
		a.logger.Debug("url rejected",
			zap.String("crawl_id", crawlID),
			zap.String("url", rawURL),
			zap.Int("depth", depth),
			zap.String("reason", string(decision.Reason)),
		)
	}
	return decision, nil
}

func (a *Admitter) admit(ctx context.Context, crawlID, rawURL string, depth int) (Decision, error) {
	url, err := crawler.NormalizeLink(rawURL)
	if err != nil || depth < 0 {
		return rejected(ReasonInvalid), nil
	}

	if a.seenContains(ctx, crawlID, url) {
		return rejected(ReasonDuplicate), nil
	}
	_, err = a.store.FindPageByURL(ctx, crawlID, url)
	switch {
	case err == nil:
		a.markSeen(ctx, crawlID, url)
		return rejected(ReasonDuplicate), nil
	case !errors.Is(err, crawler.ErrNotFound):
		return Decision{}, crawler.Transient("find page by url", err)
	}

	crawl, err := a.crawls.Get(ctx, crawlID)
	if err != nil {
		return Decision{}, crawler.Transient("load crawl", err)
	}
	if !crawl.AllowsDepth(depth) {
		return rejected(ReasonDepth), nil
	}
	if crawl.SameDomain {
		same, err := sameRegistrableDomain(crawl.StartURL, url)
		if err != nil {
			return rejected(ReasonInvalid), nil //nolint:nilerr // unparseable hosts are a policy rejection
		}
		if !same {
			return rejected(ReasonDomain), nil
		}
	}

	updated, err := a.store.IncrementVisited(ctx, crawlID)
	if errors.Is(err, crawler.ErrConditionFailed) {
		return rejected(ReasonCapacity), nil
	}
	if err != nil {
		return Decision{}, crawler.Transient("reserve page budget", err)
	}
	a.crawls.Put(updated)

	// The budget is reserved; finish the page write and enqueue even if the
	// caller goes away.
	ctx = context.WithoutCancel(ctx)
	job, err := a.enqueue(ctx, crawl, url, depth)
	if err != nil {
		return Decision{}, err
	}
	a.markSeen(ctx, crawlID, url)
	return Decision{Outcome: Admitted, Job: job}, nil
}

func (a *Admitter) enqueue(ctx context.Context, crawl crawler.Crawl, url string, depth int) (crawler.CrawlJob, error) {
	pageID, err := a.ids.NewID()
	if err != nil {
		return crawler.CrawlJob{}, fmt.Errorf("generate page id: %w", err)
	}
	page := crawler.Page{
		ID:      pageID,
		CrawlID: crawl.ID,
		URL:     url,
		Depth:   depth,
		Status:  crawler.PageStatusQueued,
		Visited: a.clock.Now(),
	}
	if err := a.store.CreatePage(ctx, page); err != nil {
		return crawler.CrawlJob{}, crawler.Transient("create page", err)
	}

	job := crawler.CrawlJob{PageID: pageID, CrawlID: crawl.ID, URL: url}
	body, err := json.Marshal(job)
	if err != nil {
		return crawler.CrawlJob{}, fmt.Errorf("marshal crawl job: %w", err)
	}
	if _, err := a.queues.SendMessage(ctx, crawl.QueueURL, body); err != nil {
		a.logger.Error("page reserved but job not enqueued",
			zap.String("crawl_id", crawl.ID),
			zap.String("page_id", pageID),
			zap.Error(err),
		)
		return crawler.CrawlJob{}, crawler.Transient("enqueue crawl job", err)
	}
	return job, nil
}

func (a *Admitter) seenContains(ctx context.Context, crawlID, url string) bool {
	if a.seen == nil {
		return false
	}
	ok, err := a.seen.Contains(ctx, crawlID, url)
	if err != nil {
		a.logger.Warn("seen set lookup failed", zap.String("crawl_id", crawlID), zap.Error(err))
		return false
	}
	return ok
}

func (a *Admitter) markSeen(ctx context.Context, crawlID, url string) {
	if a.seen == nil {
		return
	}
	if err := a.seen.Add(ctx, crawlID, url); err != nil {
		a.logger.Warn("seen set add failed", zap.String("crawl_id", crawlID), zap.Error(err))
	}
}

func sameRegistrableDomain(startURL, url string) (bool, error) {
	want, err := crawler.RegistrableDomain(startURL)
	if err != nil {
		return false, fmt.Errorf("start url domain: %w", err)
	}
	got, err := crawler.RegistrableDomain(url)
	if err != nil {
		return false, fmt.Errorf("link domain: %w", err)
	}
	return want == got, nil
}
