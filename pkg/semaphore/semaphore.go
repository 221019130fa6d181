// Package semaphore implements the process-wide named lock registry that
// serializes deployment and archival workflows per service and per
// registry (spec.md §4.7/§C9): "deploy-service:<service_id>" is acquired
// before step 1 of a deployment workflow and released unconditionally in
// its cleanup step (spec.md §4.2.3 steps 1 and 19).
package semaphore

import (
	"context"
	"fmt"
	"sync"

	"github.com/cuemby/warren/pkg/log"
	"github.com/cuemby/warren/pkg/metrics"
)

// entry is a reentrant-per-owner lock for a single key. A holder may
// Acquire the same key multiple times (nested workflow steps) without
// blocking on itself; the lock is released once depth returns to zero.
type entry struct {
	mu     sync.Mutex
	cond   *sync.Cond
	holder string
	depth  int
}

func newEntry() *entry {
	e := &entry{}
	e.cond = sync.NewCond(&e.mu)
	return e
}

// Registry is a process-wide map from key to reentrant lock. The zero
// value is not usable; use NewRegistry. A single Registry is shared by
// every deployment and archival workflow in the process.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// NewRegistry creates an empty semaphore registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

func (r *Registry) entryFor(key string) *entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[key]
	if !ok {
		e = newEntry()
		r.entries[key] = e
	}
	return e
}

// DeployServiceKey returns the semaphore key a deployment workflow holds
// for the duration of its run (spec.md §4.2.3 step 1).
func DeployServiceKey(serviceID string) string {
	return fmt.Sprintf("deploy-service:%s", serviceID)
}

// DeployRegistryKey returns the semaphore key held across a registry
// credential's deploy/update workflows.
func DeployRegistryKey(registryID string) string {
	return fmt.Sprintf("deploy-registry:%s", registryID)
}

// Acquire blocks until key is free or already held by owner, then marks it
// held by owner (incrementing the reentrancy depth on a repeat Acquire by
// the same owner). It returns ctx.Err() if ctx is cancelled while waiting.
func (r *Registry) Acquire(ctx context.Context, key, owner string) error {
	timer := metrics.NewTimer()
	e := r.entryFor(key)

	done := make(chan struct{})
	go func() {
		e.mu.Lock()
		for e.depth > 0 && e.holder != owner {
			e.cond.Wait()
		}
		e.holder = owner
		e.depth++
		e.mu.Unlock()
		close(done)
	}()

	select {
	case <-done:
		timer.ObserveDuration(metrics.SemaphoreWaitDuration)
		log.Logger.Debug().
			Str("component", "semaphore").
			Str("key", key).
			Str("owner", owner).
			Msg("acquired")
		return nil
	case <-ctx.Done():
		// The goroutine above may still be waiting on e.cond and will
		// acquire the key later; release that late acquisition so the key
		// is not left held by an owner that gave up.
		go func() {
			<-done
			r.Release(key, owner)
		}()
		return ctx.Err()
	}
}

// Release releases one level of key's reentrancy depth held by owner.
// Idempotent: releasing a key not held (or held by a different owner) is
// a no-op, matching spec.md's "activities are idempotent, double-release
// is tolerated" rule.
func (r *Registry) Release(key, owner string) {
	r.mu.Lock()
	e, ok := r.entries[key]
	r.mu.Unlock()
	if !ok {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.depth == 0 || e.holder != owner {
		return
	}
	e.depth--
	if e.depth == 0 {
		e.holder = ""
		e.cond.Broadcast()
	}
	log.Logger.Debug().
		Str("component", "semaphore").
		Str("key", key).
		Str("owner", owner).
		Msg("released")
}

// Lock acquires key exclusively for the duration of a cleanup step and
// returns a function that releases it. Unlike Acquire, the caller does not
// need a stable owner identity across the critical section.
func (r *Registry) Lock(ctx context.Context, key string) (func(), error) {
	owner := fmt.Sprintf("lock:%p", ctx)
	if err := r.Acquire(ctx, key, owner); err != nil {
		return nil, err
	}
	return func() { r.Release(key, owner) }, nil
}

// Reset forcibly clears key's held state, waking any waiters. Used for
// system cleanup (e.g. recovering from a crashed workflow that never
// reached its release step); waiters re-race for ownership as usual.
func (r *Registry) Reset(key string) {
	r.mu.Lock()
	e, ok := r.entries[key]
	r.mu.Unlock()
	if !ok {
		return
	}

	e.mu.Lock()
	e.holder = ""
	e.depth = 0
	e.cond.Broadcast()
	e.mu.Unlock()

	log.Logger.Warn().
		Str("component", "semaphore").
		Str("key", key).
		Msg("reset")
}
