package sinks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/crawl-frontier/internal/crawler"
	"github.com/JakeFAU/crawl-frontier/internal/progress"
)

// PrometheusSink exports event-stream metrics via Prometheus: events by type,
// crawls active since this process started, and delivery lag.
type PrometheusSink struct {
	events       *prometheus.CounterVec
	crawlsActive prometheus.Gauge
	deliveryLag  prometheus.Histogram

	tracker *crawlTracker
	now     func() time.Time
}

// NewPrometheusSink registers the collectors against the provided registry.
// Collectors already registered by an earlier sink are reused.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	events, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "frontier_events_total",
		Help: "Crawl events delivered to sinks partitioned by type.",
	}, []string{"type"}))
	if err != nil {
		return nil, err
	}
	active, err := register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "frontier_crawls_active",
		Help: "Crawls submitted and not yet stopped, as observed by this process.",
	}))
	if err != nil {
		return nil, err
	}
	lag, err := register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "frontier_event_delivery_lag_seconds",
		Help:    "Delay between an event occurring and its batch reaching the sinks.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
	}))
	if err != nil {
		return nil, err
	}
	return &PrometheusSink{
		events:       events,
		crawlsActive: active,
		deliveryLag:  lag,
		tracker:      newCrawlTracker(),
		now:          time.Now,
	}, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, collector C) (C, error) {
	if err := reg.Register(collector); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return collector, fmt.Errorf("register event collector: %w", err)
	}
	return collector, nil
}

// Consume updates the Prometheus collectors using the provided batch. It is
// safe for concurrent use by multiple goroutines.
func (s *PrometheusSink) Consume(_ context.Context, batch progress.Batch) error {
	now := s.now()
	for _, evt := range batch.Events {
		s.events.WithLabelValues(evt.Type).Inc()
		switch evt.Type {
		case crawler.EventCrawlSubmitted:
			if s.tracker.start(evt.CrawlID) {
				s.crawlsActive.Inc()
			}
		case crawler.EventCrawlStopped:
			if s.tracker.stop(evt.CrawlID) {
				s.crawlsActive.Dec()
			}
		}
		if lag := now.Sub(evt.At); lag >= 0 {
			s.deliveryLag.Observe(lag.Seconds())
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type crawlTracker struct {
	mu      sync.Mutex
	running map[string]struct{}
}

func newCrawlTracker() *crawlTracker {
	return &crawlTracker{running: make(map[string]struct{})}
}

func (t *crawlTracker) start(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *crawlTracker) stop(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
