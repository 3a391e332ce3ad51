// Package coordinator implements the crawl-facing operations exposed over
// HTTP: submitting and stopping crawls, leasing and acknowledging jobs, and
// reading and completing pages.
package coordinator

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-frontier/internal/admission"
	"github.com/JakeFAU/crawl-frontier/internal/completion"
	"github.com/JakeFAU/crawl-frontier/internal/crawler"
	"github.com/JakeFAU/crawl-frontier/internal/metrics"
	"github.com/JakeFAU/crawl-frontier/internal/progress"
	"github.com/JakeFAU/crawl-frontier/internal/store"
)

// Provisioner creates a crawl's queues.
type Provisioner interface {
	Provision(ctx context.Context, crawlID string) (crawler.QueueHandles, error)
}

// Admitter admits a URL into a crawl's frontier.
type Admitter interface {
	Admit(ctx context.Context, crawlID, url string, depth int) (admission.Decision, error)
}

// JobPicker leases jobs, optionally from a specific crawl.
type JobPicker interface {
	PickJobs(ctx context.Context, crawlID string, num int) ([]crawler.Lease, error)
}

// Acknowledger acknowledges leased jobs.
type Acknowledger interface {
	Acknowledge(ctx context.Context, crawlID string, token []byte) error
}

// Stopper stops crawls.
type Stopper interface {
	Stop(ctx context.Context, crawlID string, hard bool) (crawler.Crawl, error)
}

// Completer completes pages.
type Completer interface {
	Complete(ctx context.Context, pageID string, content []byte, links []string) (crawler.Page, completion.Report, error)
}

// RunningInvalidator drops the cached running-crawl list.
type RunningInvalidator interface {
	Invalidate()
}

// Defaults are applied to submissions that omit a limit.
type Defaults struct {
	MaxDepth   int
	MaxPages   int
	SameDomain bool
}

// Config controls Service behavior.
type Config struct {
	Defaults   Defaults
	MaxJobs    int
	EventTopic string
}

// Submission is a request to start a crawl. Nil fields take the configured
// defaults.
type Submission struct {
	StartURL   string
	MaxDepth   *int
	MaxPages   *int
	SameDomain *bool
}

// PageView is a page optionally hydrated with its stored content.
type PageView struct {
	crawler.Page
	Content string `json:"content,omitempty"`
}

// Deps groups the collaborators of a Service.
type Deps struct {
	Store       crawler.Store
	Blobs       crawler.BlobStore
	Provisioner Provisioner
	Admitter    Admitter
	Picker      JobPicker
	Acker       Acknowledger
	Stopper     Stopper
	Completer   Completer
	Running     RunningInvalidator
	Publisher   crawler.Publisher
	Journal     store.Journal
	IDs         crawler.IDGenerator
	Clock       crawler.Clock
}

// Service coordinates the frontier components.
type Service struct {
	deps   Deps
	cfg    Config
	logger *zap.Logger
}

// New constructs a Service.
func New(deps Deps, cfg Config, logger *zap.Logger) *Service {
	if cfg.MaxJobs <= 0 {
		cfg.MaxJobs = 10
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{deps: deps, cfg: cfg, logger: logger}
}

// MaxJobs is the largest num accepted by PickJobs.
func (s *Service) MaxJobs() int {
	return s.cfg.MaxJobs
}

// Submit provisions queues for a new crawl, records it as running, and seeds
// its frontier with the start URL. Provisioning failures abort the
// submission before any crawl record is written. The returned crawl reflects
// the record as created, before the seed reserved any budget.
func (s *Service) Submit(ctx context.Context, sub Submission) (crawler.Crawl, error) {
	crawl, err := s.newCrawl(sub)
	if err != nil {
		return crawler.Crawl{}, err
	}

	handles, err := s.deps.Provisioner.Provision(ctx, crawl.ID)
	if err != nil {
		return crawler.Crawl{}, err
	}
	crawl.QueueURL = handles.QueueURL
	crawl.DLQURL = handles.DLQURL

	if err := s.deps.Store.CreateCrawl(ctx, crawl); err != nil {
		return crawler.Crawl{}, crawler.Transient("create crawl", err)
	}
	if s.deps.Running != nil {
		s.deps.Running.Invalidate()
	}

	decision, err := s.deps.Admitter.Admit(ctx, crawl.ID, crawl.StartURL, 0)
	if err != nil {
		return crawler.Crawl{}, fmt.Errorf("seed start url: %w", err)
	}
	if !decision.IsAdmitted() {
		s.logger.Warn("start url not admitted",
			zap.String("crawl_id", crawl.ID),
			zap.String("reason", string(decision.Reason)),
		)
	}

	metrics.ObserveSubmission()
	s.logger.Info("crawl submitted",
		zap.String("crawl_id", crawl.ID),
		zap.String("start_url", crawl.StartURL),
		zap.Int("max_depth", crawl.MaxDepth),
		zap.Int("max_pages", crawl.MaxPages),
		zap.Bool("same_domain", crawl.SameDomain),
	)
	s.publish(ctx, crawler.Event{
		Type:    crawler.EventCrawlSubmitted,
		CrawlID: crawl.ID,
		URL:     crawl.StartURL,
		Status:  string(crawl.Status),
		At:      crawl.Created,
	})
	return crawl, nil
}

func (s *Service) newCrawl(sub Submission) (crawler.Crawl, error) {
	startURL, err := crawler.NormalizeLink(sub.StartURL)
	if err != nil {
		return crawler.Crawl{}, fmt.Errorf("start_url %q: %w", sub.StartURL, crawler.ErrInvalidArgument)
	}
	crawl := crawler.Crawl{
		StartURL:   startURL,
		SameDomain: s.cfg.Defaults.SameDomain,
		MaxDepth:   s.cfg.Defaults.MaxDepth,
		MaxPages:   s.cfg.Defaults.MaxPages,
		Status:     crawler.CrawlStatusRunning,
		Created:    s.deps.Clock.Now(),
	}
	if sub.SameDomain != nil {
		crawl.SameDomain = *sub.SameDomain
	}
	if sub.MaxDepth != nil {
		crawl.MaxDepth = *sub.MaxDepth
	}
	if sub.MaxPages != nil {
		crawl.MaxPages = *sub.MaxPages
	}
	if crawl.MaxDepth < crawler.Unlimited {
		return crawler.Crawl{}, fmt.Errorf("max_depth %d: %w", crawl.MaxDepth, crawler.ErrInvalidArgument)
	}
	if crawl.MaxPages < crawler.Unlimited {
		return crawler.Crawl{}, fmt.Errorf("max_pages %d: %w", crawl.MaxPages, crawler.ErrInvalidArgument)
	}

	crawl.ID, err = s.deps.IDs.NewID()
	if err != nil {
		return crawler.Crawl{}, fmt.Errorf("generate crawl id: %w", err)
	}
	return crawl, nil
}

// GetCrawl returns the current crawl record.
func (s *Service) GetCrawl(ctx context.Context, crawlID string) (crawler.Crawl, error) {
	crawl, err := s.deps.Store.GetCrawl(ctx, crawlID)
	if err != nil {
		return crawler.Crawl{}, crawler.Transient("get crawl", err)
	}
	return crawl, nil
}

// CrawlEvents pages through the journaled events of an existing crawl.
func (s *Service) CrawlEvents(ctx context.Context, crawlID string, after int64, limit int) ([]store.Entry, error) {
	if s.deps.Journal == nil {
		return nil, fmt.Errorf("event journal is disabled: %w", crawler.ErrNotFound)
	}
	if after < 0 {
		return nil, fmt.Errorf("after %d: %w", after, crawler.ErrInvalidArgument)
	}
	if _, err := s.deps.Store.GetCrawl(ctx, crawlID); err != nil {
		return nil, crawler.Transient("get crawl", err)
	}
	entries, err := s.deps.Journal.ListEvents(ctx, crawlID, after, limit)
	if err != nil {
		return nil, crawler.Transient("list crawl events", err)
	}
	return entries, nil
}

// PickJobs leases between 1 and MaxJobs jobs.
func (s *Service) PickJobs(ctx context.Context, crawlID string, num int) ([]crawler.Lease, error) {
	if num < 1 || num > s.cfg.MaxJobs {
		return nil, fmt.Errorf("num must be between 1 and %d: %w", s.cfg.MaxJobs, crawler.ErrInvalidArgument)
	}
	leases, err := s.deps.Picker.PickJobs(ctx, crawlID, num)
	if err != nil {
		return nil, err
	}
	return leases, nil
}

// AckJob acknowledges a leased job.
func (s *Service) AckJob(ctx context.Context, crawlID string, token []byte) error {
	return s.deps.Acker.Acknowledge(ctx, crawlID, token)
}

// StopCrawl stops a crawl, purging its queues when hard is set. A purge
// failure returns the stopped crawl together with the error.
func (s *Service) StopCrawl(ctx context.Context, crawlID string, hard bool) (crawler.Crawl, error) {
	crawl, err := s.deps.Stopper.Stop(ctx, crawlID, hard)
	if crawl.ID == "" {
		return crawler.Crawl{}, err
	}
	s.publish(ctx, crawler.Event{
		Type:    crawler.EventCrawlStopped,
		CrawlID: crawl.ID,
		Status:  string(crawl.Status),
		At:      s.deps.Clock.Now(),
	})
	return crawl, err
}

// GetPage returns a page, with its stored content when hydrate is set.
func (s *Service) GetPage(ctx context.Context, pageID string, hydrate bool) (PageView, error) {
	page, err := s.deps.Store.GetPage(ctx, pageID)
	if err != nil {
		return PageView{}, crawler.Transient("get page", err)
	}
	view := PageView{Page: page}
	if !hydrate || page.ContentKey == "" {
		return view, nil
	}
	content, err := s.deps.Blobs.GetObject(ctx, page.ContentKey)
	if err != nil {
		return PageView{}, crawler.Transient("load page content", err)
	}
	view.Content = string(content)
	return view, nil
}

// CompletePage stores a fetched page and admits its links.
func (s *Service) CompletePage(
	ctx context.Context,
	pageID string,
	content []byte,
	links []string,
) (crawler.Page, completion.Report, error) {
	page, report, err := s.deps.Completer.Complete(ctx, pageID, content, links)
	if err != nil {
		return crawler.Page{}, completion.Report{}, err
	}
	s.publish(ctx, crawler.Event{
		Type:        crawler.EventPageCompleted,
		CrawlID:     page.CrawlID,
		PageID:      page.ID,
		URL:         page.URL,
		Status:      string(page.Status),
		ContentHash: report.ContentHash,
		At:          page.Visited,
	})
	return page, report, nil
}

// publish sends an event. Failures are logged only.
func (s *Service) publish(ctx context.Context, event crawler.Event) {
	if s.deps.Publisher == nil {
		return
	}
	_, err := s.deps.Publisher.Publish(ctx, s.cfg.EventTopic, event)
	switch {
	case err == nil:
	case errors.Is(err, progress.ErrBackpressure):
		// The hub already reports drops, rate limited.
		s.logger.Debug("event dropped", zap.String("type", event.Type), zap.String("crawl_id", event.CrawlID))
	default:
		s.logger.Warn("event publish failed",
			zap.String("type", event.Type),
			zap.String("crawl_id", event.CrawlID),
			zap.Error(err),
		)
	}
}
