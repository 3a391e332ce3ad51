// Package system provides the wall clock used for page timestamps and lease
// bookkeeping.
package system

import "time"

// Clock implements crawler.Clock in UTC.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current UTC time.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}
