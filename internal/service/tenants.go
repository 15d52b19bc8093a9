package service

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	adapterotel "github.com/planvault/planvault/internal/adapter/otel"
	"github.com/planvault/planvault/internal/middleware"
)

// TenantResolver returns the tenant identifier for the current call, or ""
// when none is set. The default resolver reads the ambient tenant context
// installed by the middleware package.
type TenantResolver func(ctx context.Context) string

// TenantFactoriesOptions configures a TenantFactories.
type TenantFactoriesOptions struct {
	// Root is the storage root; each tenant gets its own subtree below it.
	Root string
	// DefaultTenant is used when the resolver yields nothing.
	DefaultTenant string
	// Resolver overrides the ambient-context resolver.
	Resolver TenantResolver

	Log         *slog.Logger
	Metrics     *adapterotel.Metrics
	LockTimeout time.Duration
	CacheTTL    time.Duration
	CacheBytes  int64
}

// TenantFactories resolves the active tenant from the call context and
// hands out a lazily constructed, per-tenant Factory. First-callers for
// the same tenant are serialized by a mutex scoped to that tenant key, so
// initialization happens at most once per tenant while other tenants
// proceed in parallel. A failed initialization is evicted so a later call
// can retry instead of hitting a poisoned cache.
type TenantFactories struct {
	root          string
	defaultTenant string
	resolver      TenantResolver
	log           *slog.Logger
	metrics       *adapterotel.Metrics

	lockTimeout time.Duration
	cacheTTL    time.Duration
	cacheBytes  int64

	mu        sync.Mutex
	factories map[string]*Factory
	initMu    map[string]*sync.Mutex
	closed    bool
}

// NewTenantFactories creates the multi-tenant factory registry.
func NewTenantFactories(opts TenantFactoriesOptions) (*TenantFactories, error) {
	if opts.Root == "" {
		return nil, fmt.Errorf("storage root is required")
	}
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	defaultTenant := opts.DefaultTenant
	if defaultTenant == "" {
		defaultTenant = middleware.DefaultTenantID
	}
	resolver := opts.Resolver
	if resolver == nil {
		resolver = middleware.TenantIDFromContext
	}
	return &TenantFactories{
		root:          opts.Root,
		defaultTenant: defaultTenant,
		resolver:      resolver,
		log:           log,
		metrics:       opts.Metrics,
		lockTimeout:   opts.LockTimeout,
		cacheTTL:      opts.CacheTTL,
		cacheBytes:    opts.CacheBytes,
		factories:     make(map[string]*Factory),
		initMu:        make(map[string]*sync.Mutex),
	}, nil
}

// Tenant returns the tenant key the given context resolves to.
func (t *TenantFactories) Tenant(ctx context.Context) string {
	if id := t.resolver(ctx); id != "" {
		return id
	}
	return t.defaultTenant
}

// For returns the Factory of the context's tenant, constructing it on
// first use.
func (t *TenantFactories) For(ctx context.Context) (*Factory, error) {
	tenant := t.Tenant(ctx)

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, fmt.Errorf("tenant factories closed")
	}
	if f, ok := t.factories[tenant]; ok {
		t.mu.Unlock()
		return f, nil
	}
	initMu, ok := t.initMu[tenant]
	if !ok {
		initMu = &sync.Mutex{}
		t.initMu[tenant] = initMu
	}
	t.mu.Unlock()

	initMu.Lock()
	defer initMu.Unlock()

	// A concurrent first-caller may have finished while we waited.
	t.mu.Lock()
	if f, ok := t.factories[tenant]; ok {
		t.mu.Unlock()
		return f, nil
	}
	t.mu.Unlock()

	f, err := t.initTenant(ctx, tenant)
	if err != nil {
		// Evict so the next call retries cleanly.
		t.mu.Lock()
		delete(t.factories, tenant)
		delete(t.initMu, tenant)
		t.mu.Unlock()
		return nil, fmt.Errorf("init tenant %q: %w", tenant, err)
	}

	t.mu.Lock()
	t.factories[tenant] = f
	t.mu.Unlock()
	return f, nil
}

// initTenant builds the tenant's factory and probes its plan repository so
// a broken storage root fails here rather than on first use.
func (t *TenantFactories) initTenant(ctx context.Context, tenant string) (*Factory, error) {
	f, err := NewFactory(FactoryOptions{
		Root:        filepath.Join(t.root, tenant),
		Log:         t.log.With("tenant", tenant),
		Metrics:     t.metrics,
		LockTimeout: t.lockTimeout,
		CacheTTL:    t.cacheTTL,
		CacheBytes:  t.cacheBytes,
	})
	if err != nil {
		return nil, err
	}
	if _, err := f.PlanRepo().ListPlans(ctx); err != nil {
		f.Dispose()
		return nil, err
	}
	t.log.Info("tenant storage initialized", "tenant", tenant)
	return f, nil
}

// Close disposes every cached per-tenant factory.
func (t *TenantFactories) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	factories := make([]*Factory, 0, len(t.factories))
	for _, f := range t.factories {
		factories = append(factories, f)
	}
	t.factories = map[string]*Factory{}
	t.initMu = map[string]*sync.Mutex{}
	t.mu.Unlock()

	for _, f := range factories {
		f.Dispose()
	}
}
