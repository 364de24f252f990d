// Package timeutil holds the clocks ledger and inbox timestamps are taken from.
package timeutil

import (
	"sync"
	"time"
)

// Now returns the current time in UTC. Ledger entries and inbox records are
// stamped with it so stored timestamps never carry a local zone.
func Now() time.Time {
	return time.Now().UTC()
}

// Stepping returns a clock that starts at start and advances by step on each
// call. Stores that order records by timestamp use it in tests to get a
// strictly increasing sequence.
func Stepping(start time.Time, step time.Duration) func() time.Time {
	var mu sync.Mutex
	next := start.UTC()
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		next = next.Add(step)
		return next
	}
}
