package fsjson

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	adapterotel "github.com/planvault/planvault/internal/adapter/otel"
	"github.com/planvault/planvault/internal/domain"
	"github.com/planvault/planvault/internal/domain/entity"
	"github.com/planvault/planvault/internal/domain/plan"
	"github.com/planvault/planvault/internal/port/lock"
)

// PlanRepository manages plan manifests, the workspace active-plan pointer,
// version history documents, and rendered exports of one tenant root.
type PlanRepository struct {
	paths   Paths
	locks   lock.Manager
	log     *slog.Logger
	metrics *adapterotel.Metrics

	lockTimeout time.Duration
}

// NewPlanRepository creates the plan repository for one tenant root.
func NewPlanRepository(paths Paths, deps Deps) *PlanRepository {
	return &PlanRepository{
		paths:       paths,
		locks:       deps.Locks,
		log:         deps.Log,
		metrics:     deps.Metrics,
		lockTimeout: deps.lockTimeout(),
	}
}

func (r *PlanRepository) acquire(ctx context.Context, key string) (lock.Handle, error) {
	started := time.Now()
	h, err := r.locks.Acquire(ctx, key, r.lockTimeout)
	if r.metrics != nil {
		r.metrics.LockWaitSeconds.Record(ctx, time.Since(started).Seconds())
	}
	return h, err
}

// CreatePlan implements repository.PlanRepository.
func (r *PlanRepository) CreatePlan(ctx context.Context, m *plan.Manifest) (*plan.Manifest, error) {
	stored := m.Clone()
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	ctx, span := adapterotel.StartRepoSpan(ctx, "create_plan", stored.ID, "plan")
	defer span.End()

	h, err := r.acquire(ctx, manifestLockKey(stored.ID))
	if err != nil {
		return nil, err
	}
	defer r.locks.Release(h)

	dir := r.paths.PlanDir(stored.ID)
	if _, err := os.Stat(r.paths.ManifestPath(stored.ID)); err == nil {
		return nil, domain.Conflict("plan %q already exists", stored.ID)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	stored.Version = 1
	stored.CreatedAt = now
	stored.UpdatedAt = now
	if stored.Status == "" {
		stored.Status = plan.StatusDraft
	}
	if stored.Stats.Entities == nil {
		stored.Stats.Entities = make(map[entity.Kind]int)
	}
	if err := writeJSON(r.paths.ManifestPath(stored.ID), stored); err != nil {
		return nil, err
	}
	return stored.Clone(), nil
}

// DeletePlan implements repository.PlanRepository. It removes the whole
// plan subtree.
func (r *PlanRepository) DeletePlan(ctx context.Context, planID string) error {
	ctx, span := adapterotel.StartRepoSpan(ctx, "delete_plan", planID, "plan")
	defer span.End()

	h, err := r.acquire(ctx, manifestLockKey(planID))
	if err != nil {
		return err
	}
	defer r.locks.Release(h)

	dir := r.paths.PlanDir(planID)
	if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
		return domain.NotFound("plan", planID)
	}
	return os.RemoveAll(dir)
}

// ListPlans implements repository.PlanRepository.
func (r *PlanRepository) ListPlans(ctx context.Context) ([]*plan.Manifest, error) {
	entries, err := os.ReadDir(r.paths.PlansDir())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	out := make([]*plan.Manifest, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		m, err := r.LoadManifest(ctx, e.Name())
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				// Directory without a manifest: half-created or foreign.
				continue
			}
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// PlanExists implements repository.PlanRepository.
func (r *PlanRepository) PlanExists(_ context.Context, planID string) (bool, error) {
	_, err := os.Stat(r.paths.ManifestPath(planID))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// SaveManifest implements repository.PlanRepository. The stored version
// increments on every save.
func (r *PlanRepository) SaveManifest(ctx context.Context, m *plan.Manifest) error {
	if m.ID == "" {
		return domain.Validation("manifest id is required")
	}
	ctx, span := adapterotel.StartRepoSpan(ctx, "save_manifest", m.ID, "plan")
	defer span.End()

	h, err := r.acquire(ctx, manifestLockKey(m.ID))
	if err != nil {
		return err
	}
	defer r.locks.Release(h)

	if err := os.MkdirAll(r.paths.PlanDir(m.ID), 0o755); err != nil {
		return err
	}
	stored := m.Clone()
	stored.Version++
	stored.UpdatedAt = time.Now().UTC()
	if err := writeJSON(r.paths.ManifestPath(m.ID), stored); err != nil {
		return err
	}
	m.Version = stored.Version
	m.UpdatedAt = stored.UpdatedAt
	return nil
}

// LoadManifest implements repository.PlanRepository.
func (r *PlanRepository) LoadManifest(_ context.Context, planID string) (*plan.Manifest, error) {
	var m plan.Manifest
	if err := readJSON(r.paths.ManifestPath(planID), &m); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, domain.NotFound("plan", planID)
		}
		return nil, err
	}
	return &m, nil
}

// SaveActivePlans implements repository.PlanRepository.
func (r *PlanRepository) SaveActivePlans(ctx context.Context, ap *plan.ActivePlans) error {
	h, err := r.acquire(ctx, activePlansLockKey())
	if err != nil {
		return err
	}
	defer r.locks.Release(h)

	if err := os.MkdirAll(r.paths.Root, 0o755); err != nil {
		return err
	}
	stored := *ap
	stored.UpdatedAt = time.Now().UTC()
	return writeJSON(r.paths.ActivePlansPath(), &stored)
}

// LoadActivePlans implements repository.PlanRepository. A missing pointer
// document returns an empty mapping.
func (r *PlanRepository) LoadActivePlans(_ context.Context) (*plan.ActivePlans, error) {
	var ap plan.ActivePlans
	if err := readJSON(r.paths.ActivePlansPath(), &ap); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &plan.ActivePlans{Plans: map[string]string{}}, nil
		}
		return nil, err
	}
	if ap.Plans == nil {
		ap.Plans = map[string]string{}
	}
	return &ap, nil
}

// SaveVersionHistory implements repository.PlanRepository.
func (r *PlanRepository) SaveVersionHistory(_ context.Context, planID string, h *plan.VersionHistory) error {
	if h.EntityID == "" {
		return domain.Validation("version history entity id is required")
	}
	if err := os.MkdirAll(r.paths.VersionsDir(planID), 0o755); err != nil {
		return err
	}
	return writeJSON(r.paths.VersionPath(planID, h.Kind, h.EntityID), h)
}

// LoadVersionHistory implements repository.PlanRepository.
func (r *PlanRepository) LoadVersionHistory(_ context.Context, planID string, kind entity.Kind, entityID string) (*plan.VersionHistory, error) {
	var h plan.VersionHistory
	if err := readJSON(r.paths.VersionPath(planID, kind, entityID), &h); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, domain.NotFound("version history", entityID)
		}
		return nil, err
	}
	return &h, nil
}

// DeleteVersionHistory implements repository.PlanRepository. Deleting a
// missing history is a no-op.
func (r *PlanRepository) DeleteVersionHistory(_ context.Context, planID string, kind entity.Kind, entityID string) error {
	err := os.Remove(r.paths.VersionPath(planID, kind, entityID))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// SaveExport implements repository.PlanRepository. It writes a rendered
// artifact and returns its absolute path. The name must not escape the
// exports directory.
func (r *PlanRepository) SaveExport(_ context.Context, planID, name string, data []byte) (string, error) {
	if name == "" || name != filepath.Base(name) {
		return "", domain.Validation("export name %q is invalid", name)
	}
	dir := r.paths.ExportsDir(planID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, name)
	if err := writeRaw(path, data, false); err != nil {
		return "", err
	}
	return path, nil
}
