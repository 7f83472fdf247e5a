// Package pool implements the named admission pools of §4.4: a bounded
// concurrency slot set plus a bounded FIFO wait queue per pool.
package pool

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/sync/semaphore"
)

// ErrSlotUnavailable is returned when both the pool's concurrency
// slots and its wait queue are saturated; callers surface this as the
// retryable 503 SlotUnavailable.
var ErrSlotUnavailable = errors.New("slot not available")

// Pool bounds concurrent admissions to size, with up to queue requests
// allowed to wait for a slot, built on golang.org/x/sync/semaphore the
// way the teacher bounds concurrent runc invocations with a
// semaphore.Weighted.
type Pool struct {
	name  string
	size  int64
	queue int64

	sem *semaphore.Weighted

	mu      sync.Mutex
	waiting int64
}

// New creates a named pool with the given concurrency size and queue
// depth.
func New(name string, size, queue int) *Pool {
	return &Pool{
		name:  name,
		size:  int64(size),
		queue: int64(queue),
		sem:   semaphore.NewWeighted(int64(size)),
	}
}

func (p *Pool) Name() string { return p.name }

// Free reports 1 if at least one concurrency slot is currently unused
// and 0 otherwise. It is advisory only — Admit below is what actually
// admits.
func (p *Pool) Free() int64 {
	// semaphore.Weighted has no direct inspection API; approximate via
	// a non-blocking probe-and-release, matching the "free() > 0" test
	// the spec names without requiring a custom semaphore.
	if p.sem.TryAcquire(1) {
		p.sem.Release(1)
		return 1
	}
	return 0
}

// CanAdmit reports whether admission currently looks possible —
// a free slot or queue room — without acquiring anything. It backs
// the arrival-time admission test of §4.4, which must fail fast before
// staging begins; the authoritative test is the later Admit call made
// immediately before spawning the sandbox.
func (p *Pool) CanAdmit() bool {
	return p.Free() > 0 || p.Waiting() < p.queue
}

func (p *Pool) incWaiting(delta int64) {
	p.mu.Lock()
	p.waiting += delta
	p.mu.Unlock()
}

func (p *Pool) Waiting() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.waiting
}

// Admit performs the two-stage admission decision of §4.4: accept
// immediately if a slot is free; else enqueue if the queue has room;
// else reject with ErrSlotUnavailable. On success it returns a
// Release func the caller must invoke exactly once when done.
//
// ctx cancellation while queued (e.g. the outer request timing out)
// unblocks Admit with ctx.Err().
func (p *Pool) Admit(ctx context.Context) (release func(), err error) {
	if p.sem.TryAcquire(1) {
		return func() { p.sem.Release(1) }, nil
	}

	p.mu.Lock()
	if p.waiting >= p.queue {
		p.mu.Unlock()
		return nil, ErrSlotUnavailable
	}
	p.waiting++
	p.mu.Unlock()
	defer p.incWaiting(-1)

	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	return func() { p.sem.Release(1) }, nil
}

// Registry is the process-wide, read-mostly set of configured pools,
// keyed by name. Pool `default` must always be present.
type Registry struct {
	pools map[string]*Pool
}

// NewRegistry builds a Registry from parsed pool specs. It returns an
// error if no pool named "default" is present.
func NewRegistry(specs []PoolSpec) (*Registry, error) {
	pools := make(map[string]*Pool, len(specs))
	for _, s := range specs {
		pools[s.Name] = New(s.Name, s.Size, s.Queue)
	}
	if _, ok := pools["default"]; !ok {
		return nil, errors.New(`pool "default" must exist`)
	}
	return &Registry{pools: pools}, nil
}

// PoolSpec mirrors internal/config.PoolSpec to avoid an import cycle;
// callers adapt config.PoolSpec values into this shape.
type PoolSpec struct {
	Name  string
	Size  int
	Queue int
}

// Get returns the named pool, or the default pool if name is empty or
// unknown — matching the "x-zerovm-pool header (default default)" rule.
func (r *Registry) Get(name string) *Pool {
	if name == "" {
		return r.pools["default"]
	}
	if p, ok := r.pools[name]; ok {
		return p
	}
	return r.pools["default"]
}
