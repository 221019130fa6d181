package semaphore

import (
	"context"
	"testing"
	"time"
)

func TestRegistry_AcquireRelease(t *testing.T) {
	r := NewRegistry()
	ctx := context.Background()

	if err := r.Acquire(ctx, "deploy-service:svc-1", "workflow-a"); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	r.Release("deploy-service:svc-1", "workflow-a")

	// Idempotent: releasing again is a no-op, not a panic.
	r.Release("deploy-service:svc-1", "workflow-a")
}

func TestRegistry_Reentrant(t *testing.T) {
	r := NewRegistry()
	ctx := context.Background()
	key := DeployServiceKey("svc-1")

	if err := r.Acquire(ctx, key, "workflow-a"); err != nil {
		t.Fatalf("first Acquire: %v", err)
	}
	if err := r.Acquire(ctx, key, "workflow-a"); err != nil {
		t.Fatalf("nested Acquire by same owner should not block: %v", err)
	}

	r.Release(key, "workflow-a")
	r.Release(key, "workflow-a")
}

func TestRegistry_BlocksDifferentOwner(t *testing.T) {
	r := NewRegistry()
	key := DeployServiceKey("svc-2")

	if err := r.Acquire(context.Background(), key, "workflow-a"); err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := r.Acquire(ctx, key, "workflow-b")
	if err == nil {
		t.Fatal("expected Acquire by a different owner to block until context deadline")
	}
}

func TestRegistry_ReleaseUnblocksWaiter(t *testing.T) {
	r := NewRegistry()
	key := DeployServiceKey("svc-3")

	if err := r.Acquire(context.Background(), key, "workflow-a"); err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	acquired := make(chan error, 1)
	go func() {
		acquired <- r.Acquire(context.Background(), key, "workflow-b")
	}()

	time.Sleep(20 * time.Millisecond)
	r.Release(key, "workflow-a")

	select {
	case err := <-acquired:
		if err != nil {
			t.Fatalf("waiter Acquire failed: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("waiter never acquired after release")
	}

	r.Release(key, "workflow-b")
}

func TestRegistry_Lock(t *testing.T) {
	r := NewRegistry()
	key := "cleanup:svc-4"

	unlock, err := r.Lock(context.Background(), key)
	if err != nil {
		t.Fatalf("Lock: %v", err)
	}
	unlock()
}

func TestRegistry_Reset(t *testing.T) {
	r := NewRegistry()
	key := DeployServiceKey("svc-5")

	if err := r.Acquire(context.Background(), key, "stuck-workflow"); err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	r.Reset(key)

	// After reset, a new owner can acquire without waiting on the old one.
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if err := r.Acquire(ctx, key, "new-workflow"); err != nil {
		t.Fatalf("Acquire after Reset: %v", err)
	}
}
