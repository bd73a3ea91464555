package research

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Gate bounds how many branch executions run simultaneously process-wide.
// Every branch across the entire research tree draws from the same gate, so
// total concurrency never exceeds the limit regardless of tree shape.
type Gate struct {
	sem   *semaphore.Weighted
	limit int
}

// DefaultConcurrencyLimit is applied when callers pass a non-positive limit.
const DefaultConcurrencyLimit = 4

// NewGate creates a gate admitting at most limit concurrent holders.
func NewGate(limit int) *Gate {
	if limit < 1 {
		limit = DefaultConcurrencyLimit
	}
	return &Gate{sem: semaphore.NewWeighted(int64(limit)), limit: limit}
}

// Acquire blocks until a slot is free or the context is cancelled.
func (g *Gate) Acquire(ctx context.Context) error {
	return g.sem.Acquire(ctx, 1)
}

// Release frees a slot previously obtained with Acquire.
func (g *Gate) Release() {
	g.sem.Release(1)
}

// Limit reports the configured ceiling.
func (g *Gate) Limit() int { return g.limit }
