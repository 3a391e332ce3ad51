// Package random picks a running crawl uniformly at random.
package random

import (
	"math/rand/v2"
	"sync"

	"github.com/JakeFAU/crawl-frontier/internal/crawler"
)

// Policy selects candidates uniformly at random.
type Policy struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// New creates a Policy seeded from the runtime's random source.
func New() *Policy {
	return NewWithSource(rand.NewPCG(rand.Uint64(), rand.Uint64()))
}

// NewWithSource creates a Policy drawing from src, for reproducible tests.
func NewWithSource(src rand.Source) *Policy {
	return &Policy{rng: rand.New(src)}
}

// Select returns the ID of one candidate, or "" when there are none.
func (p *Policy) Select(candidates []crawler.Crawl) string {
	if len(candidates) == 0 {
		return ""
	}
	p.mu.Lock()
	i := p.rng.IntN(len(candidates))
	p.mu.Unlock()
	return candidates[i].ID
}
