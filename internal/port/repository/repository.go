// Package repository defines the storage-engine port interfaces consumed by
// services and protocol surfaces. Two families of implementations exist: the
// filesystem-JSON adapters (persistent) and the in-memory adapters used as
// the batch engine's overlay.
package repository

import (
	"context"

	"github.com/planvault/planvault/internal/domain/entity"
	"github.com/planvault/planvault/internal/domain/link"
	"github.com/planvault/planvault/internal/domain/plan"
	"github.com/planvault/planvault/internal/domain/query"
)

// EntityRepository provides CRUD and query access to one (plan, kind) pair.
// Implementations initialize their backing storage lazily; no setup call is
// required before use.
type EntityRepository interface {
	Create(ctx context.Context, e *entity.Entity) (*entity.Entity, error)
	FindByID(ctx context.Context, id string) (*entity.Entity, error)
	FindByIDOrNil(ctx context.Context, id string) (*entity.Entity, error)
	Exists(ctx context.Context, id string) (bool, error)
	FindByIDs(ctx context.Context, ids []string) ([]*entity.Entity, error)
	FindAll(ctx context.Context) ([]*entity.Entity, error)
	Query(ctx context.Context, q query.Query) (*query.Page, error)
	Count(ctx context.Context, filter []query.Cond) (int, error)
	FindOne(ctx context.Context, filter []query.Cond) (*entity.Entity, error)
	Update(ctx context.Context, id string, patch map[string]any) (*entity.Entity, error)
	Delete(ctx context.Context, id string) error

	CreateMany(ctx context.Context, es []*entity.Entity) ([]*entity.Entity, error)
	UpdateMany(ctx context.Context, patches map[string]map[string]any) ([]*entity.Entity, error)
	DeleteMany(ctx context.Context, ids []string) (int, error)
	UpsertMany(ctx context.Context, es []*entity.Entity) ([]*entity.Entity, error)
}

// LinkRepository manages the directed edges of one plan.
type LinkRepository interface {
	CreateLink(ctx context.Context, l *link.Link) (*link.Link, error)
	DeleteLink(ctx context.Context, id string) error
	GetLinkByID(ctx context.Context, id string) (*link.Link, error)
	FindLinksBySource(ctx context.Context, sourceID string) ([]*link.Link, error)
	FindLinksByTarget(ctx context.Context, targetID string) ([]*link.Link, error)
	FindLinksByEntity(ctx context.Context, entityID string, dir link.Direction) ([]*link.Link, error)
	FindAllLinks(ctx context.Context, relation link.RelationType) ([]*link.Link, error)
	DeleteLinksForEntity(ctx context.Context, entityID string) (int, error)
	LinkExists(ctx context.Context, sourceID, targetID string, relation link.RelationType) (bool, error)
}

// PlanRepository manages plan manifests and workspace-level pointer and
// history documents. One instance serves a whole storage root.
type PlanRepository interface {
	CreatePlan(ctx context.Context, m *plan.Manifest) (*plan.Manifest, error)
	DeletePlan(ctx context.Context, planID string) error
	ListPlans(ctx context.Context) ([]*plan.Manifest, error)
	PlanExists(ctx context.Context, planID string) (bool, error)
	SaveManifest(ctx context.Context, m *plan.Manifest) error
	LoadManifest(ctx context.Context, planID string) (*plan.Manifest, error)
	SaveActivePlans(ctx context.Context, ap *plan.ActivePlans) error
	LoadActivePlans(ctx context.Context) (*plan.ActivePlans, error)
	SaveVersionHistory(ctx context.Context, planID string, h *plan.VersionHistory) error
	LoadVersionHistory(ctx context.Context, planID string, kind entity.Kind, entityID string) (*plan.VersionHistory, error)
	DeleteVersionHistory(ctx context.Context, planID string, kind entity.Kind, entityID string) error
	SaveExport(ctx context.Context, planID, name string, data []byte) (string, error)
}
