// Package simple contains deterministic candidate selection policies.
package simple

import "github.com/JakeFAU/crawl-frontier/internal/crawler"

// Policy always selects the oldest running crawl, draining crawls in
// submission order.
type Policy struct{}

// New creates a new Policy.
func New() *Policy {
	return &Policy{}
}

// Select returns the ID of the earliest-created candidate.
func (Policy) Select(candidates []crawler.Crawl) string {
	if len(candidates) == 0 {
		return ""
	}
	oldest := candidates[0]
	for _, c := range candidates[1:] {
		if c.Created.Before(oldest.Created) {
			oldest = c
		}
	}
	return oldest.ID
}
