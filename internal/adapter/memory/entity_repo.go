// Package memory implements the repository ports on in-memory state with
// the same create/update/error semantics as the filesystem adapters. The
// batch engine replays operations against these before any disk write.
package memory

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/planvault/planvault/internal/domain"
	"github.com/planvault/planvault/internal/domain/entity"
	"github.com/planvault/planvault/internal/domain/query"
)

// EntityRepository holds the entities of one (plan, kind) pair in memory
// and tracks which ids were mutated since seeding.
type EntityRepository struct {
	kind entity.Kind

	mu     sync.RWMutex
	items  map[string]*entity.Entity
	dirty  map[string]bool
	nowFn  func() time.Time
	idFn   func() string
	loaded bool
}

// NewEntityRepository creates an empty in-memory repository for kind.
func NewEntityRepository(kind entity.Kind) *EntityRepository {
	return &EntityRepository{
		kind:  kind,
		items: make(map[string]*entity.Entity),
		dirty: make(map[string]bool),
		nowFn: func() time.Time { return time.Now().UTC() },
		idFn:  uuid.NewString,
	}
}

// Seed replaces the repository contents with clones of items and clears the
// dirty set.
func (r *EntityRepository) Seed(items []*entity.Entity) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = make(map[string]*entity.Entity, len(items))
	r.dirty = make(map[string]bool)
	for _, e := range items {
		r.items[e.ID] = e.Clone()
	}
	r.loaded = true
}

// Dirty returns clones of every entity created or updated since Seed.
func (r *EntityRepository) Dirty() []*entity.Entity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*entity.Entity, 0, len(r.dirty))
	for id := range r.dirty {
		if e, ok := r.items[id]; ok {
			out = append(out, e.Clone())
		}
	}
	return out
}

// Create implements repository.EntityRepository.
func (r *EntityRepository) Create(_ context.Context, e *entity.Entity) (*entity.Entity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored := e.Clone()
	if stored.ID == "" {
		stored.ID = r.idFn()
	}
	if _, exists := r.items[stored.ID]; exists {
		return nil, domain.Conflict("%s %q already exists", r.kind, stored.ID)
	}
	now := r.nowFn()
	stored.Kind = r.kind
	stored.Version = 1
	stored.CreatedAt = now
	stored.UpdatedAt = now
	r.items[stored.ID] = stored
	r.dirty[stored.ID] = true
	return stored.Clone(), nil
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

// FindByIDOrNil implements repository.EntityRepository.
func (r *EntityRepository) FindByIDOrNil(_ context.Context, id string) (*entity.Entity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.items[id]
	if !ok {
		return nil, nil
	}
	return e.Clone(), nil
}

// Exists implements repository.EntityRepository.
func (r *EntityRepository) Exists(_ context.Context, id string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.items[id]
	return ok, nil
}

// FindByIDs implements repository.EntityRepository. Missing ids are skipped.
func (r *EntityRepository) FindByIDs(_ context.Context, ids []string) ([]*entity.Entity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*entity.Entity, 0, len(ids))
	for _, id := range ids {
		if e, ok := r.items[id]; ok {
			out = append(out, e.Clone())
		}
	}
	return out, nil
}

// FindAll implements repository.EntityRepository.
func (r *EntityRepository) FindAll(_ context.Context) ([]*entity.Entity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*entity.Entity, 0, len(r.items))
	for _, e := range r.items {
		out = append(out, e.Clone())
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

// Count implements repository.EntityRepository.
func (r *EntityRepository) Count(ctx context.Context, filter []query.Cond) (int, error) {
	page, err := r.Query(ctx, query.Query{Filter: filter})
	if err != nil {
		return 0, err
	}
	return page.Total, nil
}

// FindOne implements repository.EntityRepository.
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

// Update implements repository.EntityRepository with the same optimistic
// version semantics as the persistent adapter.
func (r *EntityRepository) Update(_ context.Context, id string, patch map[string]any) (*entity.Entity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.items[id]
	if !ok {
		return nil, domain.NotFound(string(r.kind), id)
	}
	updated, err := applyPatch(current, patch, r.nowFn())
	if err != nil {
		return nil, err
	}
	r.items[id] = updated
	r.dirty[id] = true
	return updated.Clone(), nil
}

// Delete implements repository.EntityRepository.
func (r *EntityRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[id]; !ok {
		return domain.NotFound(string(r.kind), id)
	}
	delete(r.items, id)
	delete(r.dirty, id)
	return nil
}

// CreateMany implements repository.EntityRepository. All-or-nothing: a
// conflict on any element leaves the repository unchanged.
func (r *EntityRepository) CreateMany(ctx context.Context, es []*entity.Entity) ([]*entity.Entity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[string]bool, len(es))
	for _, e := range es {
		if e.ID == "" {
			continue
		}
		if _, exists := r.items[e.ID]; exists || seen[e.ID] {
			return nil, domain.Conflict("%s %q already exists", r.kind, e.ID)
		}
		seen[e.ID] = true
	}

	now := r.nowFn()
	out := make([]*entity.Entity, 0, len(es))
	for _, e := range es {
		stored := e.Clone()
		if stored.ID == "" {
			stored.ID = r.idFn()
		}
		stored.Kind = r.kind
		stored.Version = 1
		stored.CreatedAt = now
		stored.UpdatedAt = now
		r.items[stored.ID] = stored
		r.dirty[stored.ID] = true
		out = append(out, stored.Clone())
	}
	return out, nil
}

// UpdateMany implements repository.EntityRepository. All patches are
// validated before any is applied.
func (r *EntityRepository) UpdateMany(_ context.Context, patches map[string]map[string]any) ([]*entity.Entity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.nowFn()
	staged := make(map[string]*entity.Entity, len(patches))
	for id, patch := range patches {
		current, ok := r.items[id]
		if !ok {
			return nil, domain.NotFound(string(r.kind), id)
		}
		updated, err := applyPatch(current, patch, now)
		if err != nil {
			return nil, err
		}
		staged[id] = updated
	}
	out := make([]*entity.Entity, 0, len(staged))
	for id, updated := range staged {
		r.items[id] = updated
		r.dirty[id] = true
		out = append(out, updated.Clone())
	}
	return out, nil
}

// DeleteMany implements repository.EntityRepository.
func (r *EntityRepository) DeleteMany(_ context.Context, ids []string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for _, id := range ids {
		if _, ok := r.items[id]; ok {
			delete(r.items, id)
			delete(r.dirty, id)
			removed++
		}
	}
	return removed, nil
}

// UpsertMany implements repository.EntityRepository, writing entities
// verbatim.
func (r *EntityRepository) UpsertMany(_ context.Context, es []*entity.Entity) ([]*entity.Entity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*entity.Entity, 0, len(es))
	for _, e := range es {
		if e.ID == "" {
			return nil, domain.Validation("upsert requires an id")
		}
		stored := e.Clone()
		stored.Kind = r.kind
		r.items[stored.ID] = stored
		r.dirty[stored.ID] = true
		out = append(out, stored.Clone())
	}
	return out, nil
}

// applyPatch mirrors the persistent adapter's partial-update semantics.
func applyPatch(current *entity.Entity, patch map[string]any, now time.Time) (*entity.Entity, error) {
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
			// Envelope fields are recomputed, not patched.
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
	updated.UpdatedAt = now
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
	default:
		return 0, false
	}
}
