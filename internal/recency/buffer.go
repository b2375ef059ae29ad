// Package recency maintains the bounded most-recently-updated view of the
// fleet that backs the full-fleet observer feed.
package recency

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/skysched/vertiport/internal/uam"
)

// Buffer is a bounded collection of the most recently updated vehicles,
// keyed by vehicle id. Iteration order reflects update recency; when the
// buffer is full the least-recently-touched entry is evicted. Safe for
// concurrent use.
type Buffer struct {
	cache *lru.Cache[string, uam.Telemetry]
}

// NewBuffer creates a buffer holding at most capacity entries.
func NewBuffer(capacity int) (*Buffer, error) {
	cache, err := lru.New[string, uam.Telemetry](capacity)
	if err != nil {
		return nil, err
	}
	return &Buffer{cache: cache}, nil
}

// Touch stores the latest telemetry for a vehicle and moves it to the
// most-recent position. Re-touching an existing id reorders it; inserting
// into a full buffer evicts the least-recently-touched entry.
func (b *Buffer) Touch(uamID string, t uam.Telemetry) {
	// Remove-then-reinsert so ordering always reflects last touch, including
	// for keys already present.
	b.cache.Remove(uamID)
	b.cache.Add(uamID, t)
}

// Remove deletes a vehicle immediately regardless of its position. Removing
// an absent id is a no-op.
func (b *Buffer) Remove(uamID string) {
	b.cache.Remove(uamID)
}

// Contains reports whether a vehicle is currently buffered.
func (b *Buffer) Contains(uamID string) bool {
	return b.cache.Contains(uamID)
}

// Snapshot returns the buffered telemetry ordered least-recently-touched
// first (most recent last).
func (b *Buffer) Snapshot() []uam.Telemetry {
	return b.cache.Values()
}

// Len returns the number of buffered vehicles.
func (b *Buffer) Len() int {
	return b.cache.Len()
}
