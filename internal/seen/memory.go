// Package seen implements the advisory per-crawl set of URLs the admission
// controller has already considered. Entries are never authoritative: the
// durable page index and the visited counter remain the real checks.
package seen

import (
	"context"
	"sync"
)

// Memory is a process-local seen set. It grows without bound for the life of
// the process.
type Memory struct {
	mu   sync.RWMutex
	urls map[string]map[string]struct{}
}

// NewMemory returns an empty Memory set.
func NewMemory() *Memory {
	return &Memory{urls: make(map[string]map[string]struct{})}
}

// Contains reports whether url was added for crawlID.
func (m *Memory) Contains(_ context.Context, crawlID, url string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.urls[crawlID][url]
	return ok, nil
}

// Add records url for crawlID.
func (m *Memory) Add(_ context.Context, crawlID, url string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.urls[crawlID]
	if !ok {
		set = make(map[string]struct{})
		m.urls[crawlID] = set
	}
	set[url] = struct{}{}
	return nil
}

// Len returns the number of URLs recorded for crawlID.
func (m *Memory) Len(crawlID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.urls[crawlID])
}
