package progress

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/JakeFAU/crawl-frontier/internal/crawler"
)

// Errors returned by Publish when an event is not accepted.
var (
	ErrClosed       = errors.New("event hub is closed")
	ErrBackpressure = errors.New("event hub buffer is full")
)

// Config controls buffering and batching for the Hub. Zero values take the
// defaults below.
type Config struct {
	// BufferSize is the number of events accepted but not yet batched.
	BufferSize int
	// MaxBatchEvents cuts a crawl's batch once it holds this many events.
	MaxBatchEvents int
	// MaxBatchWait is the flush tick for batches that stay small.
	MaxBatchWait time.Duration
	// SinkTimeout bounds each Consume call.
	SinkTimeout time.Duration
	Logger      *zap.Logger
}

const (
	defaultBufferSize     = 4096
	defaultMaxBatchEvents = 100
	defaultMaxBatchWait   = 250 * time.Millisecond
	defaultSinkTimeout    = 10 * time.Second
	dropLogInterval       = 5 * time.Second
)

type envelope struct {
	topic string
	event Event
}

// Hub batches crawl events per crawl and delivers them to sinks on a
// background goroutine. It implements crawler.Publisher.
type Hub struct {
	cfg    Config
	sinks  []Sink
	logger *zap.Logger

	// mu orders Publish against Close so nothing is queued after the drain.
	mu     sync.RWMutex
	closed bool
	queue  chan envelope
	stop   chan struct{}
	done   chan struct{}

	dropped atomic.Int64
	dropLog rate.Sometimes
}

// NewHub starts a Hub delivering to sinks.
func NewHub(cfg Config, sinks ...Sink) *Hub {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	if cfg.MaxBatchEvents <= 0 {
		cfg.MaxBatchEvents = defaultMaxBatchEvents
	}
	if cfg.MaxBatchWait <= 0 {
		cfg.MaxBatchWait = defaultMaxBatchWait
	}
	if cfg.SinkTimeout <= 0 {
		cfg.SinkTimeout = defaultSinkTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Hub{
		cfg:     cfg,
		sinks:   append([]Sink(nil), sinks...),
		logger:  logger,
		queue:   make(chan envelope, cfg.BufferSize),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
		dropLog: rate.Sometimes{First: 1, Interval: dropLogInterval},
	}
	go h.run()
	return h
}

// Publish queues a crawler.Event for delivery on topic and returns at once.
// The returned ID is always empty; the broker assigns IDs when the batch is
// delivered.
func (h *Hub) Publish(ctx context.Context, topic string, payload any) (string, error) {
	event, ok := payload.(crawler.Event)
	if !ok {
		return "", fmt.Errorf("unsupported payload %T", payload)
	}
	if event.CrawlID == "" {
		return "", fmt.Errorf("%s event without crawl id: %w", event.Type, crawler.ErrInvalidArgument)
	}
	return "", h.offer(envelope{
		topic: topic,
		event: Event{Event: event, Span: trace.SpanContextFromContext(ctx)},
	})
}

func (h *Hub) offer(env envelope) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return ErrClosed
	}
	select {
	case h.queue <- env:
		return nil
	default:
	}
	h.dropped.Add(1)
	h.dropLog.Do(func() {
		h.logger.Warn("crawl events dropped, hub buffer full",
			zap.Int64("dropped", h.dropped.Swap(0)),
			zap.Int("buffer", cap(h.queue)),
		)
	})
	return ErrBackpressure
}

// Close stops accepting events, delivers everything already accepted, closes
// the sinks, and waits for that to finish or for ctx to end.
func (h *Hub) Close(ctx context.Context) error {
	h.mu.Lock()
	if !h.closed {
		h.closed = true
		close(h.stop)
	}
	h.mu.Unlock()
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event hub close: %w", ctx.Err())
	}
}

func (h *Hub) run() {
	defer close(h.done)
	ticker := time.NewTicker(h.cfg.MaxBatchWait)
	defer ticker.Stop()

	p := newPending()
	for {
		select {
		case env := <-h.queue:
			h.add(p, env)
		case <-ticker.C:
			for _, b := range p.takeAll() {
				h.deliver(b)
			}
		case <-h.stop:
			h.drain(p)
			for _, b := range p.takeAll() {
				h.deliver(b)
			}
			h.closeSinks()
			return
		}
	}
}

// drain batches whatever is still queued. Close holds the write lock while
// closing stop, so no Publish is mid-send once run sees it.
func (h *Hub) drain(p *pending) {
	for {
		select {
		case env := <-h.queue:
			h.add(p, env)
		default:
			return
		}
	}
}

func (h *Hub) add(p *pending, env envelope) {
	crawlID := env.event.CrawlID
	if b, ok := p.get(crawlID); ok && b.Topic != env.topic {
		h.deliver(p.take(crawlID))
	}
	b := p.append(crawlID, env.topic, env.event)
	if b.Len() >= h.cfg.MaxBatchEvents || closes(env.event) {
		h.deliver(p.take(crawlID))
	}
}

func (h *Hub) deliver(batch Batch) {
	if batch.Len() == 0 {
		return
	}
	for _, sink := range h.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), h.cfg.SinkTimeout)
		err := sink.Consume(ctx, batch)
		cancel()
		if err != nil {
			h.logger.Warn("event sink failed",
				zap.String("crawl_id", batch.CrawlID),
				zap.Int("events", batch.Len()),
				zap.Error(err),
			)
		}
	}
}

func (h *Hub) closeSinks() {
	ctx, cancel := context.WithTimeout(context.Background(), h.cfg.SinkTimeout)
	defer cancel()
	for _, sink := range h.sinks {
		if err := sink.Close(ctx); err != nil {
			h.logger.Warn("event sink close failed", zap.Error(err))
		}
	}
}

// pending holds the open batch of each crawl, remembering the order crawls
// first appeared so timer flushes are deterministic.
type pending struct {
	batches map[string]*Batch
	order   []string
}

func newPending() *pending {
	return &pending{batches: make(map[string]*Batch)}
}

func (p *pending) get(crawlID string) (*Batch, bool) {
	b, ok := p.batches[crawlID]
	return b, ok
}

func (p *pending) append(crawlID, topic string, evt Event) *Batch {
	b, ok := p.batches[crawlID]
	if !ok {
		b = &Batch{CrawlID: crawlID, Topic: topic}
		p.batches[crawlID] = b
		p.order = append(p.order, crawlID)
	}
	b.Events = append(b.Events, evt)
	return b
}

func (p *pending) take(crawlID string) Batch {
	b, ok := p.batches[crawlID]
	if !ok {
		return Batch{}
	}
	delete(p.batches, crawlID)
	for i, id := range p.order {
		if id == crawlID {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
	return *b
}

func (p *pending) takeAll() []Batch {
	if len(p.order) == 0 {
		return nil
	}
	out := make([]Batch, 0, len(p.order))
	for _, id := range p.order {
		out = append(out, *p.batches[id])
	}
	p.batches = make(map[string]*Batch)
	p.order = p.order[:0]
	return out
}
