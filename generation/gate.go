package generation

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// gate bounds concurrent backend work. Up to maxConcurrent callers hold a
// permit; up to maxQueue more wait for one; the rest are rejected.
type gate struct {
	sem      *semaphore.Weighted
	maxQueue int64
	waiting  atomic.Int64
	metrics  *Metrics
}

func newGate(maxConcurrent, maxQueue int, metrics *Metrics) *gate {
	return &gate{
		sem:      semaphore.NewWeighted(int64(maxConcurrent)),
		maxQueue: int64(maxQueue),
		metrics:  metrics,
	}
}

// acquire blocks until a permit is free. It fails with ErrSaturated when the
// queue is full and with a canceled error when ctx is done first. The
// returned release must be called exactly once.
func (g *gate) acquire(ctx context.Context) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, canceledError(ctx)
	}

	if !g.sem.TryAcquire(1) {
		if g.waiting.Add(1) > g.maxQueue {
			g.waiting.Add(-1)
			return nil, ErrSaturated
		}
		g.metrics.queued(1)
		err := g.sem.Acquire(ctx, 1)
		g.waiting.Add(-1)
		g.metrics.queued(-1)
		if err != nil {
			return nil, canceledError(ctx)
		}
	}

	g.metrics.admitted(1)
	var once atomic.Bool
	return func() {
		if once.CompareAndSwap(false, true) {
			g.metrics.admitted(-1)
			g.sem.Release(1)
		}
	}, nil
}

// Waiting returns the number of queued callers.
func (g *gate) Waiting() int {
	return int(g.waiting.Load())
}
