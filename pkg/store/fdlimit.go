package store

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// FDLimit bounds the number of files concurrently open across
// checkin, checkout, and store reads, per spec.md §5: "A counting
// semaphore bounds concurrent open files during checkin/checkout/
// reads; acquisitions are scoped to the narrowest possible region."
// Grounded on pkg/process/permit.go's semaphore.Weighted usage —
// the same library, a narrower single-slot-pool shape.
type FDLimit struct {
	sem *semaphore.Weighted
}

// NewFDLimit constructs a limit admitting at most max concurrently
// open files.
func NewFDLimit(max int64) *FDLimit {
	return &FDLimit{sem: semaphore.NewWeighted(max)}
}

// Acquire blocks until a slot is free or ctx is done, returning a
// release function the caller must call exactly once, as close to the
// file close as possible.
func (l *FDLimit) Acquire(ctx context.Context) (release func(), err error) {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	released := false
	return func() {
		if released {
			return
		}
		released = true
		l.sem.Release(1)
	}, nil
}
