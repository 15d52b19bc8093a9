// Package lock defines the port interface for the advisory lock manager.
package lock

import (
	"context"
	"time"
)

// Handle represents one held lock.
type Handle interface {
	// Key returns the resource key the handle guards.
	Key() string
}

// Manager serializes writers against named resources, within and across OS
// processes sharing one storage root. Locks are advisory.
type Manager interface {
	// Acquire blocks until the named resource lock is held or the timeout
	// elapses, in which case it fails with domain.ErrTimeout.
	Acquire(ctx context.Context, resourceKey string, timeout time.Duration) (Handle, error)

	// Release frees a handle returned by Acquire. Releasing an already
	// released handle is a no-op.
	Release(h Handle)

	// IsLocked reports whether the resource is currently held by any
	// process. Best effort: the answer may be stale by the time it returns.
	IsLocked(resourceKey string) bool

	// Dispose releases every lock still held by this manager instance.
	// A borrowed (injected) manager must never be disposed by its borrower.
	Dispose()
}
