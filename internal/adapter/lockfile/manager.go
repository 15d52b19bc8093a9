// Package lockfile implements the lock manager port with lock files on
// disk. Cross-process exclusion uses gofrs/flock; because flock does not
// serialize goroutines of the same process, each resource key also carries
// an in-process slot that is acquired first.
package lockfile

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/planvault/planvault/internal/domain"
	"github.com/planvault/planvault/internal/port/lock"
)

// retryDelay is the poll interval for contended file locks.
const retryDelay = 25 * time.Millisecond

// Manager is a filesystem-backed advisory lock manager. One instance is
// shared by all repositories of a storage root.
type Manager struct {
	dir string
	log *slog.Logger

	mu   sync.Mutex
	keys map[string]chan struct{}
	held map[*handle]struct{}
}

// NewManager creates a Manager writing lock files under dir.
func NewManager(dir string, log *slog.Logger) (*Manager, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("lock dir %s: %w", dir, err)
	}
	return &Manager{
		dir:  dir,
		log:  log,
		keys: make(map[string]chan struct{}),
		held: make(map[*handle]struct{}),
	}, nil
}

type handle struct {
	key  string
	fl   *flock.Flock
	slot chan struct{}

	mu       sync.Mutex
	released bool
}

func (h *handle) Key() string { return h.key }

var keySanitizer = strings.NewReplacer("/", "-", "\\", "-", ":", "-", "..", "-")

func (m *Manager) lockPath(key string) string {
	return m.dir + string(os.PathSeparator) + keySanitizer.Replace(key) + ".lock"
}

func (m *Manager) slotFor(key string) chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	slot, ok := m.keys[key]
	if !ok {
		slot = make(chan struct{}, 1)
		m.keys[key] = slot
	}
	return slot
}

// Acquire implements lock.Manager.
func (m *Manager) Acquire(ctx context.Context, resourceKey string, timeout time.Duration) (lock.Handle, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	slot := m.slotFor(resourceKey)
	select {
	case slot <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("lock %q: %w", resourceKey, domain.ErrTimeout)
	}

	fl := flock.New(m.lockPath(resourceKey))
	locked, err := fl.TryLockContext(ctx, retryDelay)
	if err != nil && ctx.Err() == nil {
		<-slot
		return nil, fmt.Errorf("lock %q: %w", resourceKey, err)
	}
	if !locked {
		<-slot
		return nil, fmt.Errorf("lock %q: %w", resourceKey, domain.ErrTimeout)
	}

	h := &handle{key: resourceKey, fl: fl, slot: slot}
	m.mu.Lock()
	m.held[h] = struct{}{}
	m.mu.Unlock()
	return h, nil
}

// Release implements lock.Manager.
func (m *Manager) Release(lh lock.Handle) {
	h, ok := lh.(*handle)
	if !ok || h == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		return
	}
	h.released = true

	if err := h.fl.Unlock(); err != nil {
		m.log.Warn("lock release failed", "key", h.key, "error", err)
	}
	<-h.slot

	m.mu.Lock()
	delete(m.held, h)
	m.mu.Unlock()
}

// IsLocked implements lock.Manager. It first checks the in-process slot,
// then probes the lock file.
func (m *Manager) IsLocked(resourceKey string) bool {
	m.mu.Lock()
	slot, ok := m.keys[resourceKey]
	m.mu.Unlock()
	if ok && len(slot) > 0 {
		return true
	}

	fl := flock.New(m.lockPath(resourceKey))
	locked, err := fl.TryLock()
	if err != nil {
		return false
	}
	if locked {
		_ = fl.Unlock()
		return false
	}
	return true
}

// Dispose implements lock.Manager. It releases every lock still held by
// this instance. Lock files are left behind; they are reused on the next
// acquisition.
func (m *Manager) Dispose() {
	m.mu.Lock()
	pending := make([]*handle, 0, len(m.held))
	for h := range m.held {
		pending = append(pending, h)
	}
	m.mu.Unlock()

	for _, h := range pending {
		m.Release(h)
	}
}
