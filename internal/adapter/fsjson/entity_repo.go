package fsjson

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	adapterotel "github.com/planvault/planvault/internal/adapter/otel"
	"github.com/planvault/planvault/internal/domain"
	"github.com/planvault/planvault/internal/domain/entity"
	"github.com/planvault/planvault/internal/domain/plan"
	"github.com/planvault/planvault/internal/domain/query"
	"github.com/planvault/planvault/internal/port/cache"
	"github.com/planvault/planvault/internal/port/lock"
)

const (
	defaultLockTimeout = 10 * time.Second
	defaultCacheTTL    = 5 * time.Minute

	// maxVersionSnapshots bounds the per-entity history file.
	maxVersionSnapshots = 50
)

// Deps bundles the collaborators shared by all fsjson repositories of one
// tenant root. The lock manager and cache are injected, not owned.
type Deps struct {
	Locks       lock.Manager
	Cache       cache.Cache
	Log         *slog.Logger
	Metrics     *adapterotel.Metrics
	LockTimeout time.Duration
	CacheTTL    time.Duration
}

func (d *Deps) lockTimeout() time.Duration {
	if d.LockTimeout > 0 {
		return d.LockTimeout
	}
	return defaultLockTimeout
}

func (d *Deps) cacheTTL() time.Duration {
	if d.CacheTTL > 0 {
		return d.CacheTTL
	}
	return defaultCacheTTL
}

// EntityRepository persists the entities of one (plan, kind) pair as
// individual JSON documents beside an index file. Directory structure and
// index are created lazily on first use.
type EntityRepository struct {
	paths  Paths
	planID string
	kind   entity.Kind
	deps   Deps
}

// NewEntityRepository creates a repository for one (plan, kind) pair.
func NewEntityRepository(paths Paths, planID string, kind entity.Kind, deps Deps) *EntityRepository {
	return &EntityRepository{paths: paths, planID: planID, kind: kind, deps: deps}
}

func (r *EntityRepository) ensureInit() error {
	return os.MkdirAll(r.paths.EntityDir(r.planID, r.kind), 0o755)
}

func (r *EntityRepository) cacheKey(id string) string {
	return r.planID + "/" + string(r.kind) + "/" + id
}

func (r *EntityRepository) invalidate(ctx context.Context, id string) {
	if r.deps.Cache != nil {
		_ = r.deps.Cache.Delete(ctx, r.cacheKey(id))
	}
}

func (r *EntityRepository) acquire(ctx context.Context) (lock.Handle, error) {
	started := time.Now()
	h, err := r.deps.Locks.Acquire(ctx, entityLockKey(r.planID, r.kind), r.deps.lockTimeout())
	if r.deps.Metrics != nil {
		r.deps.Metrics.LockWaitSeconds.Record(ctx, time.Since(started).Seconds())
	}
	return h, err
}

func (r *EntityRepository) loadIndex() (*index, error) {
	return loadIndex(r.paths.IndexPath(r.planID, r.kind))
}

func (r *EntityRepository) saveIndex(ix *index) error {
	return saveIndex(r.paths.IndexPath(r.planID, r.kind), ix)
}

// readEntity loads one document, going through the cache when available.
func (r *EntityRepository) readEntity(ctx context.Context, id string) (*entity.Entity, error) {
	if r.deps.Cache != nil {
		if data, ok, _ := r.deps.Cache.Get(ctx, r.cacheKey(id)); ok {
			var e entity.Entity
			if err := json.Unmarshal(data, &e); err == nil {
				return &e, nil
			}
			// Corrupt cache entry: drop it and fall through to disk.
			r.invalidate(ctx, id)
		}
	}

	var e entity.Entity
	if err := readJSON(r.paths.EntityPath(r.planID, r.kind, id), &e); err != nil {
		return nil, err
	}
	if r.deps.Cache != nil {
		if data, err := json.Marshal(&e); err == nil {
			_ = r.deps.Cache.Set(ctx, r.cacheKey(id), data, r.deps.cacheTTL())
		}
	}
	return &e, nil
}

// readEntityFromDisk loads one document without consulting the cache.
// Mutating paths use it while holding the lock: a writer in another process
// invalidates only its own cache, so a cached snapshot must never seed a
// read-modify-write.
func (r *EntityRepository) readEntityFromDisk(id string) (*entity.Entity, error) {
	var e entity.Entity
	if err := readJSON(r.paths.EntityPath(r.planID, r.kind, id), &e); err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *EntityRepository) writeEntity(e *entity.Entity) error {
	return writeJSON(r.paths.EntityPath(r.planID, r.kind, e.ID), e)
}

// Create implements repository.EntityRepository. It fails with ErrConflict
// when the id already exists and assigns version 1 otherwise.
func (r *EntityRepository) Create(ctx context.Context, e *entity.Entity) (*entity.Entity, error) {
	ctx, span := adapterotel.StartRepoSpan(ctx, "create", r.planID, string(r.kind))
	defer span.End()

	if err := r.ensureInit(); err != nil {
		return nil, err
	}
	h, err := r.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer r.deps.Locks.Release(h)

	ix, err := r.loadIndex()
	if err != nil {
		return nil, err
	}

	stored, err := r.prepareCreate(ix, e)
	if err != nil {
		return nil, err
	}
	if err := r.writeEntity(stored); err != nil {
		return nil, err
	}
	ix.Entries[stored.ID] = indexEntry{
		File:      stored.ID + ".json",
		Version:   stored.Version,
		UpdatedAt: stored.UpdatedAt,
	}
	if err := r.saveIndex(ix); err != nil {
		return nil, err
	}
	r.invalidate(ctx, stored.ID)
	return stored.Clone(), nil
}

// prepareCreate validates e against the index and stamps the envelope.
func (r *EntityRepository) prepareCreate(ix *index, e *entity.Entity) (*entity.Entity, error) {
	stored := e.Clone()
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	if _, exists := ix.Entries[stored.ID]; exists {
		return nil, domain.Conflict("%s %q already exists", r.kind, stored.ID)
	}
	now := time.Now().UTC()
	stored.Kind = r.kind
	stored.Version = 1
	stored.CreatedAt = now
	stored.UpdatedAt = now
	return stored, nil
}

// FindByID implements repository.EntityRepository.
func (r *EntityRepository) FindByID(ctx context.Context, id string) (*entity.Entity, error) {
	e, err := r.FindByIDOrNil(ctx, id)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, domain.NotFound(string(r.kind), id)
	}
	return e, nil
}

// FindByIDOrNil implements repository.EntityRepository. A missing entity
// returns (nil, nil).
func (r *EntityRepository) FindByIDOrNil(ctx context.Context, id string) (*entity.Entity, error) {
	e, err := r.readEntity(ctx, id)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	return e, nil
}

// Exists implements repository.EntityRepository using the index only.
func (r *EntityRepository) Exists(_ context.Context, id string) (bool, error) {
	ix, err := r.loadIndex()
	if err != nil {
		return false, err
	}
	_, ok := ix.Entries[id]
	return ok, nil
}

// FindByIDs implements repository.EntityRepository. Missing ids are skipped.
func (r *EntityRepository) FindByIDs(ctx context.Context, ids []string) ([]*entity.Entity, error) {
	out := make([]*entity.Entity, 0, len(ids))
	for _, id := range ids {
		e, err := r.FindByIDOrNil(ctx, id)
		if err != nil {
			return nil, err
		}
		if e != nil {
			out = append(out, e)
		}
	}
	return out, nil
}

// FindAll implements repository.EntityRepository.
func (r *EntityRepository) FindAll(ctx context.Context) ([]*entity.Entity, error) {
	ix, err := r.loadIndex()
	if err != nil {
		return nil, err
	}
	out := make([]*entity.Entity, 0, len(ix.Entries))
	for id := range ix.Entries {
		e, err := r.readEntity(ctx, id)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				// Index ahead of a crashed delete; skip the ghost.
				continue
			}
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// Query implements repository.EntityRepository.
func (r *EntityRepository) Query(ctx context.Context, q query.Query) (*query.Page, error) {
	items, err := r.FindAll(ctx)
	if err != nil {
		return nil, err
	}
	return query.Apply(items, q)
}

// Count implements repository.EntityRepository. With no filter it answers
// from the index without touching documents.
func (r *EntityRepository) Count(ctx context.Context, filter []query.Cond) (int, error) {
	if len(filter) == 0 {
		ix, err := r.loadIndex()
		if err != nil {
			return 0, err
		}
		return len(ix.Entries), nil
	}
	page, err := r.Query(ctx, query.Query{Filter: filter})
	if err != nil {
		return 0, err
	}
	return page.Total, nil
}

// FindOne implements repository.EntityRepository. A miss returns (nil, nil).
func (r *EntityRepository) FindOne(ctx context.Context, filter []query.Cond) (*entity.Entity, error) {
	page, err := r.Query(ctx, query.Query{Filter: filter, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(page.Items) == 0 {
		return nil, nil
	}
	return page.Items[0], nil
}

// Update implements repository.EntityRepository. A "version" key in the
// patch is compared against the stored version (optimistic concurrency) and
// never written verbatim; the stored version always increments by one.
func (r *EntityRepository) Update(ctx context.Context, id string, patch map[string]any) (*entity.Entity, error) {
	ctx, span := adapterotel.StartRepoSpan(ctx, "update", r.planID, string(r.kind))
	defer span.End()

	if err := r.ensureInit(); err != nil {
		return nil, err
	}
	h, err := r.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer r.deps.Locks.Release(h)

	current, err := r.readEntityFromDisk(id)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, domain.NotFound(string(r.kind), id)
		}
		return nil, err
	}

	updated, err := applyPatch(current, patch)
	if err != nil {
		return nil, err
	}

	if err := r.archiveVersion(current); err != nil {
		r.deps.Log.Warn("version snapshot failed",
			"plan", r.planID, "kind", r.kind, "id", id, "error", err)
	}

	if err := r.writeEntity(updated); err != nil {
		return nil, err
	}

	ix, err := r.loadIndex()
	if err != nil {
		return nil, err
	}
	ix.Entries[id] = indexEntry{File: id + ".json", Version: updated.Version, UpdatedAt: updated.UpdatedAt}
	if err := r.saveIndex(ix); err != nil {
		return nil, err
	}
	r.invalidate(ctx, id)
	return updated.Clone(), nil
}

// applyPatch merges a partial update over current, enforcing the optimistic
// version check and recomputing the envelope.
func applyPatch(current *entity.Entity, patch map[string]any) (*entity.Entity, error) {
	if v, ok := patch["version"]; ok {
		supplied, ok := asInt(v)
		if !ok {
			return nil, domain.Validation("version must be an integer, got %T", v)
		}
		if supplied != current.Version {
			return nil, domain.VersionConflict(current.ID, supplied, current.Version)
		}
	}

	updated := current.Clone()
	if updated.Fields == nil {
		updated.Fields = make(map[string]any, len(patch))
	}
	for k, v := range patch {
		switch k {
		case "id", "type", "version", "createdAt", "updatedAt":
			// Envelope fields are never patched directly.
		case "metadata":
			meta, err := decodeMeta(v)
			if err != nil {
				return nil, err
			}
			updated.Meta = meta
		default:
			updated.Fields[k] = v
		}
	}
	updated.Version = current.Version + 1
	updated.UpdatedAt = time.Now().UTC()
	return updated, nil
}

func decodeMeta(v any) (entity.Meta, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return entity.Meta{}, domain.Validation("metadata: %v", err)
	}
	var meta entity.Meta
	if err := json.Unmarshal(data, &meta); err != nil {
		return entity.Meta{}, domain.Validation("metadata: %v", err)
	}
	return meta, nil
}

func asInt(v any) (int, bool) {
	switch t := v.(type) {
	case int:
		return t, true
	case int64:
		return int(t), true
	case float64:
		return int(t), true
	case json.Number:
		n, err := t.Int64()
		return int(n), err == nil
	default:
		return 0, false
	}
}

// archiveVersion appends the prior document to the entity's version history
// before it is overwritten. History is bounded; the oldest snapshot falls
// off first.
func (r *EntityRepository) archiveVersion(prior *entity.Entity) error {
	if err := os.MkdirAll(r.paths.VersionsDir(r.planID), 0o755); err != nil {
		return err
	}
	path := r.paths.VersionPath(r.planID, r.kind, prior.ID)

	var hist plan.VersionHistory
	if err := readJSON(path, &hist); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	hist.EntityID = prior.ID
	hist.Kind = r.kind

	data, err := json.Marshal(prior)
	if err != nil {
		return err
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	hist.Snapshots = append(hist.Snapshots, plan.VersionSnapshot{
		Version:    prior.Version,
		ArchivedAt: time.Now().UTC(),
		Document:   doc,
	})
	if len(hist.Snapshots) > maxVersionSnapshots {
		hist.Snapshots = hist.Snapshots[len(hist.Snapshots)-maxVersionSnapshots:]
	}
	return writeJSON(path, &hist)
}

// Delete implements repository.EntityRepository.
func (r *EntityRepository) Delete(ctx context.Context, id string) error {
	ctx, span := adapterotel.StartRepoSpan(ctx, "delete", r.planID, string(r.kind))
	defer span.End()

	if err := r.ensureInit(); err != nil {
		return err
	}
	h, err := r.acquire(ctx)
	if err != nil {
		return err
	}
	defer r.deps.Locks.Release(h)

	ix, err := r.loadIndex()
	if err != nil {
		return err
	}
	if _, ok := ix.Entries[id]; !ok {
		return domain.NotFound(string(r.kind), id)
	}
	if err := os.Remove(r.paths.EntityPath(r.planID, r.kind, id)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	_ = os.Remove(r.paths.VersionPath(r.planID, r.kind, id))
	delete(ix.Entries, id)
	if err := r.saveIndex(ix); err != nil {
		return err
	}
	r.invalidate(ctx, id)
	return nil
}

// CreateMany implements repository.EntityRepository. Either every entity is
// created or none is: documents already written are removed and the index is
// only committed after the last write succeeds.
func (r *EntityRepository) CreateMany(ctx context.Context, es []*entity.Entity) ([]*entity.Entity, error) {
	if len(es) == 0 {
		return nil, nil
	}
	ctx, span := adapterotel.StartRepoSpan(ctx, "create_many", r.planID, string(r.kind))
	defer span.End()

	if err := r.ensureInit(); err != nil {
		return nil, err
	}
	h, err := r.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer r.deps.Locks.Release(h)

	ix, err := r.loadIndex()
	if err != nil {
		return nil, err
	}

	staged := ix.clone()
	prepared := make([]*entity.Entity, 0, len(es))
	for _, e := range es {
		stored, err := r.prepareCreate(staged, e)
		if err != nil {
			return nil, err
		}
		staged.Entries[stored.ID] = indexEntry{
			File:      stored.ID + ".json",
			Version:   stored.Version,
			UpdatedAt: stored.UpdatedAt,
		}
		prepared = append(prepared, stored)
	}

	written := make([]string, 0, len(prepared))
	for _, stored := range prepared {
		if err := r.writeEntity(stored); err != nil {
			r.rollbackWrites(written)
			return nil, err
		}
		written = append(written, stored.ID)
	}

	if err := r.saveIndex(staged); err != nil {
		r.rollbackWrites(written)
		return nil, err
	}
	out := make([]*entity.Entity, len(prepared))
	for i, stored := range prepared {
		r.invalidate(ctx, stored.ID)
		out[i] = stored.Clone()
	}
	return out, nil
}

func (r *EntityRepository) rollbackWrites(ids []string) {
	for _, id := range ids {
		if err := os.Remove(r.paths.EntityPath(r.planID, r.kind, id)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			r.deps.Log.Warn("bulk rollback remove failed",
				"plan", r.planID, "kind", r.kind, "id", id, "error", err)
		}
	}
}

// UpdateMany implements repository.EntityRepository. All patches are
// validated before the first write; a write failure restores the documents
// already replaced.
func (r *EntityRepository) UpdateMany(ctx context.Context, patches map[string]map[string]any) ([]*entity.Entity, error) {
	if len(patches) == 0 {
		return nil, nil
	}
	ctx, span := adapterotel.StartRepoSpan(ctx, "update_many", r.planID, string(r.kind))
	defer span.End()

	if err := r.ensureInit(); err != nil {
		return nil, err
	}
	h, err := r.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer r.deps.Locks.Release(h)

	type pending struct {
		prior   *entity.Entity
		updated *entity.Entity
	}
	work := make([]pending, 0, len(patches))
	for id, patch := range patches {
		current, err := r.readEntityFromDisk(id)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, domain.NotFound(string(r.kind), id)
			}
			return nil, err
		}
		updated, err := applyPatch(current, patch)
		if err != nil {
			return nil, err
		}
		work = append(work, pending{prior: current, updated: updated})
	}

	ix, err := r.loadIndex()
	if err != nil {
		return nil, err
	}
	var done []pending
	for _, w := range work {
		if err := r.writeEntity(w.updated); err != nil {
			for _, d := range done {
				if restoreErr := r.writeEntity(d.prior); restoreErr != nil {
					r.deps.Log.Warn("bulk update restore failed",
						"plan", r.planID, "kind", r.kind, "id", d.prior.ID, "error", restoreErr)
				}
			}
			return nil, err
		}
		done = append(done, w)
		ix.Entries[w.updated.ID] = indexEntry{
			File:      w.updated.ID + ".json",
			Version:   w.updated.Version,
			UpdatedAt: w.updated.UpdatedAt,
		}
	}
	if err := r.saveIndex(ix); err != nil {
		return nil, err
	}
	out := make([]*entity.Entity, len(work))
	for i, w := range work {
		r.invalidate(ctx, w.updated.ID)
		out[i] = w.updated.Clone()
	}
	return out, nil
}

// DeleteMany implements repository.EntityRepository. Missing ids are
// skipped; the count of removed entities is returned.
func (r *EntityRepository) DeleteMany(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	ctx, span := adapterotel.StartRepoSpan(ctx, "delete_many", r.planID, string(r.kind))
	defer span.End()

	if err := r.ensureInit(); err != nil {
		return 0, err
	}
	h, err := r.acquire(ctx)
	if err != nil {
		return 0, err
	}
	defer r.deps.Locks.Release(h)

	ix, err := r.loadIndex()
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, id := range ids {
		if _, ok := ix.Entries[id]; !ok {
			continue
		}
		if err := os.Remove(r.paths.EntityPath(r.planID, r.kind, id)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return removed, err
		}
		_ = os.Remove(r.paths.VersionPath(r.planID, r.kind, id))
		delete(ix.Entries, id)
		r.invalidate(ctx, id)
		removed++
	}
	if err := r.saveIndex(ix); err != nil {
		return removed, err
	}
	return removed, nil
}

// UpsertMany implements repository.EntityRepository. Entities are written
// verbatim, creating or replacing; the envelope is trusted as given. This is
// the batch engine's commit path.
func (r *EntityRepository) UpsertMany(ctx context.Context, es []*entity.Entity) ([]*entity.Entity, error) {
	if len(es) == 0 {
		return nil, nil
	}
	ctx, span := adapterotel.StartRepoSpan(ctx, "upsert_many", r.planID, string(r.kind))
	defer span.End()

	if err := r.ensureInit(); err != nil {
		return nil, err
	}
	h, err := r.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer r.deps.Locks.Release(h)

	ix, err := r.loadIndex()
	if err != nil {
		return nil, err
	}
	out := make([]*entity.Entity, 0, len(es))
	for _, e := range es {
		if e.ID == "" {
			return nil, domain.Validation("upsert requires an id")
		}
		stored := e.Clone()
		stored.Kind = r.kind
		if err := r.writeEntity(stored); err != nil {
			return nil, err
		}
		ix.Entries[stored.ID] = indexEntry{
			File:      stored.ID + ".json",
			Version:   stored.Version,
			UpdatedAt: stored.UpdatedAt,
		}
		r.invalidate(ctx, stored.ID)
		out = append(out, stored.Clone())
	}
	if err := r.saveIndex(ix); err != nil {
		return nil, err
	}
	return out, nil
}
