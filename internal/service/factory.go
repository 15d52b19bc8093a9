// Package service implements the storage-engine services on top of ports:
// the repository factory, its multi-tenant variant, and the batch engine.
package service

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/planvault/planvault/internal/adapter/fsjson"
	"github.com/planvault/planvault/internal/adapter/lockfile"
	adapterotel "github.com/planvault/planvault/internal/adapter/otel"
	"github.com/planvault/planvault/internal/adapter/ristretto"
	"github.com/planvault/planvault/internal/domain/entity"
	"github.com/planvault/planvault/internal/port/cache"
	"github.com/planvault/planvault/internal/port/lock"
	"github.com/planvault/planvault/internal/port/repository"
)

const defaultCacheSizeBytes = 64 << 20

// FactoryOptions configures a Factory. Locks and Cache are optional: when
// nil the factory creates private instances and owns their lifecycle; when
// injected, Dispose leaves them alone.
type FactoryOptions struct {
	Root        string
	Locks       lock.Manager
	Cache       cache.Cache
	Log         *slog.Logger
	Metrics     *adapterotel.Metrics
	LockTimeout time.Duration
	CacheTTL    time.Duration
	CacheBytes  int64
}

// Factory constructs and memoizes the repositories of one tenant root.
// Repeated calls with the same key return the identical instance; all
// repositories share one lock manager and one cache.
type Factory struct {
	paths fsjson.Paths
	deps  fsjson.Deps
	log   *slog.Logger

	ownsLocks  bool
	ownedCache *ristretto.Cache

	mu          sync.Mutex
	entityRepos map[string]repository.EntityRepository
	linkRepos   map[string]repository.LinkRepository
	planRepo    repository.PlanRepository
	units       map[string]*UnitOfWork
	disposed    bool
}

// NewFactory creates a Factory over the given tenant root.
func NewFactory(opts FactoryOptions) (*Factory, error) {
	if opts.Root == "" {
		return nil, fmt.Errorf("factory root is required")
	}
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}

	paths := fsjson.Paths{Root: opts.Root}
	f := &Factory{
		paths:       paths,
		log:         log,
		entityRepos: make(map[string]repository.EntityRepository),
		linkRepos:   make(map[string]repository.LinkRepository),
		units:       make(map[string]*UnitOfWork),
	}

	locks := opts.Locks
	if locks == nil {
		mgr, err := lockfile.NewManager(paths.LockDir(), log)
		if err != nil {
			return nil, err
		}
		locks = mgr
		f.ownsLocks = true
	}

	c := opts.Cache
	if c == nil {
		size := opts.CacheBytes
		if size <= 0 {
			size = defaultCacheSizeBytes
		}
		owned, err := ristretto.New(size)
		if err != nil {
			if f.ownsLocks {
				locks.Dispose()
			}
			return nil, err
		}
		f.ownedCache = owned
		c = owned
	}

	f.deps = fsjson.Deps{
		Locks:       locks,
		Cache:       c,
		Log:         log,
		Metrics:     opts.Metrics,
		LockTimeout: opts.LockTimeout,
		CacheTTL:    opts.CacheTTL,
	}
	return f, nil
}

// EntityRepo returns the repository for one (kind, plan) pair, creating it
// on first use.
func (f *Factory) EntityRepo(kind entity.Kind, planID string) repository.EntityRepository {
	key := planID + "/" + string(kind)
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.entityRepos[key]; ok {
		return r
	}
	r := fsjson.NewEntityRepository(f.paths, planID, kind, f.deps)
	f.entityRepos[key] = r
	return r
}

// LinkRepo returns the link repository for one plan.
func (f *Factory) LinkRepo(planID string) repository.LinkRepository {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.linkRepos[planID]; ok {
		return r
	}
	r := fsjson.NewLinkRepository(f.paths, planID, f.deps)
	f.linkRepos[planID] = r
	return r
}

// PlanRepo returns the plan repository of this tenant root.
func (f *Factory) PlanRepo() repository.PlanRepository {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.planRepo == nil {
		f.planRepo = fsjson.NewPlanRepository(f.paths, f.deps)
	}
	return f.planRepo
}

// UnitOfWork returns the repository bundle for one plan.
func (f *Factory) UnitOfWork(planID string) *UnitOfWork {
	f.mu.Lock()
	if u, ok := f.units[planID]; ok {
		f.mu.Unlock()
		return u
	}
	f.mu.Unlock()

	u := &UnitOfWork{
		PlanID:   planID,
		Entities: make(map[entity.Kind]repository.EntityRepository, len(entity.Kinds)),
		Links:    f.LinkRepo(planID),
		Plans:    f.PlanRepo(),
	}
	for _, kind := range entity.Kinds {
		u.Entities[kind] = f.EntityRepo(kind, planID)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if existing, ok := f.units[planID]; ok {
		return existing
	}
	f.units[planID] = u
	return u
}

// Locks exposes the shared lock manager, for callers that coordinate work
// outside the repositories.
func (f *Factory) Locks() lock.Manager {
	return f.deps.Locks
}

// Dispose tears down the cached repositories and any collaborators the
// factory created itself. Injected lock managers and caches are left
// untouched.
func (f *Factory) Dispose() {
	f.mu.Lock()
	if f.disposed {
		f.mu.Unlock()
		return
	}
	f.disposed = true
	f.entityRepos = map[string]repository.EntityRepository{}
	f.linkRepos = map[string]repository.LinkRepository{}
	f.units = map[string]*UnitOfWork{}
	f.planRepo = nil
	f.mu.Unlock()

	if f.ownsLocks {
		f.deps.Locks.Dispose()
	}
	if f.ownedCache != nil {
		f.ownedCache.Close()
	}
}

// UnitOfWork bundles every repository of one plan. The batch engine loads
// its overlay from and flushes its results through this bundle.
type UnitOfWork struct {
	PlanID   string
	Entities map[entity.Kind]repository.EntityRepository
	Links    repository.LinkRepository
	Plans    repository.PlanRepository
}
