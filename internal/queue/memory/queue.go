// Package memory provides an in-process queue service with visibility
// timeouts, receive counting, and dead-letter redrive, for local development
// and tests.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/crawl-frontier/internal/crawler"
)

const (
	urlPrefix = "memory://queue/"
	arnPrefix = "arn:memory:queue:"
)

type message struct {
	id           string
	body         []byte
	receiveCount int
	visibleAt    time.Time
	receipt      string
}

type queue struct {
	name     string
	url      string
	arn      string
	attrs    crawler.QueueAttributes
	messages []*message
	// signal is closed and replaced whenever a message is added.
	signal chan struct{}
}

func (q *queue) notify() {
	close(q.signal)
	q.signal = make(chan struct{})
}

// Service is an in-memory crawler.QueueService.
type Service struct {
	mu     sync.Mutex
	byName map[string]*queue
	byURL  map[string]*queue
	byARN  map[string]*queue
	clock  crawler.Clock
}

// NewService builds an empty Service. A nil clock uses wall time.
func NewService(clock crawler.Clock) *Service {
	return &Service{
		byName: make(map[string]*queue),
		byURL:  make(map[string]*queue),
		byARN:  make(map[string]*queue),
		clock:  clock,
	}
}

func (s *Service) now() time.Time {
	if s.clock == nil {
		return time.Now()
	}
	return s.clock.Now()
}

// CreateQueue creates the named queue. Creating an existing queue returns its URL.
func (s *Service) CreateQueue(_ context.Context, name string, attrs crawler.QueueAttributes) (string, error) {
	if name == "" {
		return "", fmt.Errorf("queue name is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if q, ok := s.byName[name]; ok {
		return q.url, nil
	}
	if attrs.Redrive != nil {
		if _, ok := s.byARN[attrs.Redrive.DeadLetterTargetARN]; !ok {
			return "", fmt.Errorf("dead-letter target %s: %w", attrs.Redrive.DeadLetterTargetARN, crawler.ErrQueueNotFound)
		}
		if attrs.Redrive.MaxReceiveCount <= 0 {
			return "", fmt.Errorf("redrive max receive count must be > 0")
		}
	}
	q := &queue{
		name:   name,
		url:    urlPrefix + name,
		arn:    arnPrefix + name,
		attrs:  attrs,
		signal: make(chan struct{}),
	}
	s.byName[name] = q
	s.byURL[q.url] = q
	s.byARN[q.arn] = q
	return q.url, nil
}

// GetQueueARN returns the durable identifier of a queue.
func (s *Service) GetQueueARN(_ context.Context, queueURL string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.byURL[queueURL]
	if !ok {
		return "", fmt.Errorf("queue %s: %w", queueURL, crawler.ErrQueueNotFound)
	}
	return q.arn, nil
}

// GetQueueURL resolves a queue name to its URL.
func (s *Service) GetQueueURL(_ context.Context, name string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.byName[name]
	if !ok {
		return "", fmt.Errorf("queue %s: %w", name, crawler.ErrQueueNotFound)
	}
	return q.url, nil
}

// SendMessage appends a message that is immediately visible.
func (s *Service) SendMessage(_ context.Context, queueURL string, body []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.byURL[queueURL]
	if !ok {
		return "", fmt.Errorf("queue %s: %w", queueURL, crawler.ErrQueueNotFound)
	}
	msg := &message{
		id:        uuid.NewString(),
		body:      append([]byte(nil), body...),
		visibleAt: s.now(),
	}
	q.messages = append(q.messages, msg)
	q.notify()
	return msg.id, nil
}

// ReceiveMessages returns up to maxMessages visible messages, waiting up to
// wait for one to arrive. Each returned message is hidden for the queue's
// visibility timeout under a fresh receipt handle. Messages already received
// MaxReceiveCount times are moved to the dead-letter queue instead.
func (s *Service) ReceiveMessages(
	ctx context.Context,
	queueURL string,
	maxMessages int,
	wait time.Duration,
) ([]crawler.QueueMessage, error) {
	if maxMessages <= 0 {
		return nil, nil
	}
	deadline := time.Now().Add(wait)
	for {
		s.mu.Lock()
		q, ok := s.byURL[queueURL]
		if !ok {
			s.mu.Unlock()
			return nil, fmt.Errorf("queue %s: %w", queueURL, crawler.ErrQueueNotFound)
		}
		out := s.receiveLocked(q, maxMessages)
		signal := q.signal
		nextVisible := q.nextVisibleLocked(s.now())
		s.mu.Unlock()

		if len(out) > 0 {
			return out, nil
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, nil
		}
		if nextVisible > 0 && nextVisible < remaining {
			remaining = nextVisible
		}
		timer := time.NewTimer(remaining)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("receive canceled: %w", ctx.Err())
		case <-signal:
			timer.Stop()
		case <-timer.C:
		}
	}
}

func (s *Service) receiveLocked(q *queue, maxMessages int) []crawler.QueueMessage {
	now := s.now()
	var out []crawler.QueueMessage
	kept := q.messages[:0]
	for _, msg := range q.messages {
		if len(out) >= maxMessages || msg.visibleAt.After(now) {
			kept = append(kept, msg)
			continue
		}
		if redrive := q.attrs.Redrive; redrive != nil && msg.receiveCount >= redrive.MaxReceiveCount {
			if dlq, ok := s.byARN[redrive.DeadLetterTargetARN]; ok {
				msg.receipt = ""
				msg.visibleAt = now
				dlq.messages = append(dlq.messages, msg)
				dlq.notify()
				continue
			}
		}
		msg.receiveCount++
		msg.receipt = uuid.NewString()
		msg.visibleAt = now.Add(q.attrs.VisibilityTimeout)
		out = append(out, crawler.QueueMessage{
			ID:            msg.id,
			Body:          append([]byte(nil), msg.body...),
			ReceiptHandle: []byte(msg.receipt),
			ReceiveCount:  msg.receiveCount,
		})
		kept = append(kept, msg)
	}
	for i := len(kept); i < len(q.messages); i++ {
		q.messages[i] = nil
	}
	q.messages = kept
	return out
}

// nextVisibleLocked returns how long until the next hidden message becomes
// visible, or zero when nothing is hidden.
func (q *queue) nextVisibleLocked(now time.Time) time.Duration {
	var next time.Duration
	for _, msg := range q.messages {
		if d := msg.visibleAt.Sub(now); d > 0 && (next == 0 || d < next) {
			next = d
		}
	}
	return next
}

// DeleteMessage removes the message currently leased under receiptHandle.
func (s *Service) DeleteMessage(_ context.Context, queueURL string, receiptHandle []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.byURL[queueURL]
	if !ok {
		return fmt.Errorf("queue %s: %w", queueURL, crawler.ErrQueueNotFound)
	}
	receipt := string(receiptHandle)
	now := s.now()
	for i, msg := range q.messages {
		if receipt == "" || msg.receipt != receipt {
			continue
		}
		if !msg.visibleAt.After(now) {
			break
		}
		q.messages = append(q.messages[:i], q.messages[i+1:]...)
		return nil
	}
	return crawler.ErrReceiptNotFound
}

// PurgeQueue drops every message in the queue.
func (s *Service) PurgeQueue(_ context.Context, queueURL string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.byURL[queueURL]
	if !ok {
		return fmt.Errorf("queue %s: %w", queueURL, crawler.ErrQueueNotFound)
	}
	q.messages = nil
	return nil
}

// Counts reports how many messages are visible and in flight.
func (s *Service) Counts(queueURL string) (visible, inFlight int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.byURL[queueURL]
	if !ok {
		return 0, 0, fmt.Errorf("queue %s: %w", queueURL, crawler.ErrQueueNotFound)
	}
	now := s.now()
	for _, msg := range q.messages {
		if msg.visibleAt.After(now) {
			inFlight++
		} else {
			visible++
		}
	}
	return visible, inFlight, nil
}
