// Package memory records published events in process, for development
// deployments without a broker and for tests.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/crawl-frontier/internal/crawler"
)

// Publisher stores published payloads for inspection.
type Publisher struct {
	mu       sync.RWMutex
	messages []PublishedMessage
}

// PublishedMessage captures one publish call.
type PublishedMessage struct {
	Topic   string
	Payload any
}

// New returns a memory Publisher.
func New() *Publisher {
	return &Publisher{}
}

// Publish records the message and returns a pseudo ID.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, PublishedMessage{Topic: topic, Payload: payload})
	return fmt.Sprintf("memory-%d", len(p.messages)), nil
}

// Messages returns the recorded publishes.
func (p *Publisher) Messages() []PublishedMessage {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]PublishedMessage, len(p.messages))
	copy(out, p.messages)
	return out
}

// Events returns the recorded crawl events of the given type, in publish
// order. An empty eventType matches every event.
func (p *Publisher) Events(eventType string) []crawler.Event {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []crawler.Event
	for _, msg := range p.messages {
		event, ok := msg.Payload.(crawler.Event)
		if !ok {
			continue
		}
		if eventType == "" || event.Type == eventType {
			out = append(out, event)
		}
	}
	return out
}
