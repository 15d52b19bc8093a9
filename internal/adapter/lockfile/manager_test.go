package lockfile_test

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/planvault/planvault/internal/adapter/lockfile"
	"github.com/planvault/planvault/internal/domain"
)

func newManager(t *testing.T, dir string) *lockfile.Manager {
	t.Helper()
	m, err := lockfile.NewManager(dir, slog.Default())
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	t.Cleanup(m.Dispose)
	return m
}

func TestAcquireRelease(t *testing.T) {
	m := newManager(t, t.TempDir())
	ctx := context.Background()

	h, err := m.Acquire(ctx, "plan-1/requirement", time.Second)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if h.Key() != "plan-1/requirement" {
		t.Fatalf("unexpected key: %q", h.Key())
	}
	if !m.IsLocked("plan-1/requirement") {
		t.Fatal("resource should report locked while held")
	}

	m.Release(h)
	if m.IsLocked("plan-1/requirement") {
		t.Fatal("resource should report unlocked after release")
	}

	// Double release is harmless.
	m.Release(h)
}

func TestAcquireContendedTimesOut(t *testing.T) {
	m := newManager(t, t.TempDir())
	ctx := context.Background()

	h, err := m.Acquire(ctx, "busy", time.Second)
	if err != nil {
		t.Fatal(err)
	}
	defer m.Release(h)

	start := time.Now()
	_, err = m.Acquire(ctx, "busy", 50*time.Millisecond)
	if !errors.Is(err, domain.ErrTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Fatalf("timed out too early after %v", elapsed)
	}
}

func TestAcquireWaitsForRelease(t *testing.T) {
	m := newManager(t, t.TempDir())
	ctx := context.Background()

	h, err := m.Acquire(ctx, "handoff", time.Second)
	if err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		time.Sleep(50 * time.Millisecond)
		m.Release(h)
	}()

	h2, err := m.Acquire(ctx, "handoff", 2*time.Second)
	if err != nil {
		t.Fatalf("waiter never got the lock: %v", err)
	}
	m.Release(h2)
	wg.Wait()
}

func TestDistinctKeysDoNotContend(t *testing.T) {
	m := newManager(t, t.TempDir())
	ctx := context.Background()

	h1, err := m.Acquire(ctx, "plan-1/requirement", time.Second)
	if err != nil {
		t.Fatal(err)
	}
	defer m.Release(h1)

	h2, err := m.Acquire(ctx, "plan-1/links", 100*time.Millisecond)
	if err != nil {
		t.Fatalf("unrelated key must not block: %v", err)
	}
	m.Release(h2)
}

func TestCrossInstanceExclusion(t *testing.T) {
	dir := t.TempDir()
	m1 := newManager(t, dir)
	m2 := newManager(t, dir)
	ctx := context.Background()

	h, err := m1.Acquire(ctx, "shared", time.Second)
	if err != nil {
		t.Fatal(err)
	}

	_, err = m2.Acquire(ctx, "shared", 100*time.Millisecond)
	if !errors.Is(err, domain.ErrTimeout) {
		t.Fatalf("second instance must time out on the file lock, got %v", err)
	}
	if !m2.IsLocked("shared") {
		t.Fatal("other instance should see the resource as locked")
	}

	m1.Release(h)

	h2, err := m2.Acquire(ctx, "shared", time.Second)
	if err != nil {
		t.Fatalf("lock should transfer between instances: %v", err)
	}
	m2.Release(h2)
}

func TestSerializesGoroutines(t *testing.T) {
	m := newManager(t, t.TempDir())
	ctx := context.Background()

	counter := 0
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h, err := m.Acquire(ctx, "counter", 5*time.Second)
			if err != nil {
				t.Errorf("Acquire: %v", err)
				return
			}
			v := counter
			time.Sleep(time.Millisecond)
			counter = v + 1
			m.Release(h)
		}()
	}
	wg.Wait()
	if counter != 8 {
		t.Fatalf("lost updates under contention: got %d", counter)
	}
}

func TestDisposeReleasesHeldLocks(t *testing.T) {
	dir := t.TempDir()
	m1 := newManager(t, dir)
	m2 := newManager(t, dir)
	ctx := context.Background()

	if _, err := m1.Acquire(ctx, "orphan", time.Second); err != nil {
		t.Fatal(err)
	}
	m1.Dispose()

	h, err := m2.Acquire(ctx, "orphan", time.Second)
	if err != nil {
		t.Fatalf("Dispose must free held locks: %v", err)
	}
	m2.Release(h)
}
