package process

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Permit is a held concurrency slot for one running process, acquired
// either from its parent's per-process semaphore or from the
// server-wide semaphore, per spec.md §5: "a child prefers the
// parent's slot; if unavailable, takes a server-wide slot." Release
// must be called exactly once, when the process finishes.
type Permit struct {
	sem      *semaphore.Weighted
	released bool
	mu       sync.Mutex
}

func newPermit(sem *semaphore.Weighted) *Permit {
	return &Permit{sem: sem}
}

// Release frees the held slot. Safe to call more than once.
func (p *Permit) Release() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.released {
		return
	}
	p.released = true
	p.sem.Release(1)
}

// Permits is the parent/server semaphore hierarchy of spec.md §5: a
// server-wide counting semaphore bounds concurrent runs overall, and
// each process that has at least one child additionally gets its own
// per-process semaphore whose single slot a child consumes in
// preference to the server-wide one: a registry of per-entity state
// guarded by a mutex, generalized to this two-level hierarchy.
type Permits struct {
	server *semaphore.Weighted
	mu     sync.Mutex
	byID   map[string]*semaphore.Weighted
}

// NewPermits constructs a Permits hierarchy whose server-wide
// semaphore allows up to maxConcurrentProcesses simultaneous runs.
func NewPermits(maxConcurrentProcesses int64) *Permits {
	if maxConcurrentProcesses <= 0 {
		maxConcurrentProcesses = 1
	}
	return &Permits{
		server: semaphore.NewWeighted(maxConcurrentProcesses),
		byID:   make(map[string]*semaphore.Weighted),
	}
}

// semaphoreFor returns the per-process semaphore for id, creating one
// on first use. Every process gets exactly one slot to hand to its
// own children.
func (p *Permits) semaphoreFor(id string) *semaphore.Weighted {
	p.mu.Lock()
	defer p.mu.Unlock()
	sem, ok := p.byID[id]
	if !ok {
		sem = semaphore.NewWeighted(1)
		p.byID[id] = sem
	}
	return sem
}

// TryAcquire attempts a non-blocking acquire: first against parent's
// slot (if parent is non-empty), else against the server-wide
// semaphore. Returns nil, false if neither is immediately available.
func (p *Permits) TryAcquire(parent string) (*Permit, bool) {
	if parent != "" {
		sem := p.semaphoreFor(parent)
		if sem.TryAcquire(1) {
			return newPermit(sem), true
		}
	}
	if p.server.TryAcquire(1) {
		return newPermit(p.server), true
	}
	return nil, false
}

// Acquire blocks until parent's slot becomes available, per the
// pending-permit task spawned when TryAcquire fails at spawn time.
func (p *Permits) Acquire(ctx context.Context, parent string) (*Permit, error) {
	sem := p.semaphoreFor(parent)
	if err := sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	return newPermit(sem), nil
}

// Forget drops id's per-process semaphore once the process is known
// to have no more children that could ever consume its slot (it has
// finished). Safe to call even if no semaphore was ever created.
func (p *Permits) Forget(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.byID, id)
}
