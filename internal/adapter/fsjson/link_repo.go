package fsjson

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	adapterotel "github.com/planvault/planvault/internal/adapter/otel"
	"github.com/planvault/planvault/internal/domain"
	"github.com/planvault/planvault/internal/domain/link"
	"github.com/planvault/planvault/internal/port/lock"
)

// linksDoc is the on-disk shape of a plan's links store.
type linksDoc struct {
	Links []*link.Link `json:"links"`
}

// LinkRepository persists all links of one plan in a single document.
// Links are immutable facts: created and removed, never patched.
type LinkRepository struct {
	paths   Paths
	planID  string
	locks   lock.Manager
	log     *slog.Logger
	metrics *adapterotel.Metrics

	lockTimeout time.Duration
}

// NewLinkRepository creates a repository for one plan's links.
func NewLinkRepository(paths Paths, planID string, deps Deps) *LinkRepository {
	return &LinkRepository{
		paths:       paths,
		planID:      planID,
		locks:       deps.Locks,
		log:         deps.Log,
		metrics:     deps.Metrics,
		lockTimeout: deps.lockTimeout(),
	}
}

func (r *LinkRepository) load() (*linksDoc, error) {
	var doc linksDoc
	if err := readJSON(r.paths.LinksPath(r.planID), &doc); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &linksDoc{}, nil
		}
		return nil, err
	}
	return &doc, nil
}

func (r *LinkRepository) save(doc *linksDoc) error {
	if err := os.MkdirAll(r.paths.PlanDir(r.planID), 0o755); err != nil {
		return err
	}
	return writeJSON(r.paths.LinksPath(r.planID), doc)
}

func (r *LinkRepository) acquire(ctx context.Context) (lock.Handle, error) {
	started := time.Now()
	h, err := r.locks.Acquire(ctx, linksLockKey(r.planID), r.lockTimeout)
	if r.metrics != nil {
		r.metrics.LockWaitSeconds.Record(ctx, time.Since(started).Seconds())
	}
	return h, err
}

// CreateLink implements repository.LinkRepository. It fails with
// ErrConflict on a duplicate (source, target, relation) triple and refuses
// depends_on edges that would close a cycle.
func (r *LinkRepository) CreateLink(ctx context.Context, l *link.Link) (*link.Link, error) {
	ctx, span := adapterotel.StartRepoSpan(ctx, "create_link", r.planID, "link")
	defer span.End()

	h, err := r.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer r.locks.Release(h)

	doc, err := r.load()
	if err != nil {
		return nil, err
	}
	for _, existing := range doc.Links {
		if existing.Key() == l.Key() {
			return nil, domain.Conflict("link %s -> %s (%s) already exists",
				l.SourceID, l.TargetID, l.Relation)
		}
	}
	if l.Relation == link.RelationDependsOn && link.IntroducesCycle(doc.Links, l.SourceID, l.TargetID) {
		return nil, domain.Validation("depends_on link %s -> %s would create a cycle",
			l.SourceID, l.TargetID)
	}

	stored := l.Clone()
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	stored.CreatedAt = time.Now().UTC()
	doc.Links = append(doc.Links, stored)
	if err := r.save(doc); err != nil {
		return nil, err
	}
	return stored.Clone(), nil
}

// DeleteLink implements repository.LinkRepository.
func (r *LinkRepository) DeleteLink(ctx context.Context, id string) error {
	ctx, span := adapterotel.StartRepoSpan(ctx, "delete_link", r.planID, "link")
	defer span.End()

	h, err := r.acquire(ctx)
	if err != nil {
		return err
	}
	defer r.locks.Release(h)

	doc, err := r.load()
	if err != nil {
		return err
	}
	for i, l := range doc.Links {
		if l.ID == id {
			doc.Links = append(doc.Links[:i], doc.Links[i+1:]...)
			return r.save(doc)
		}
	}
	return domain.NotFound("link", id)
}

// GetLinkByID implements repository.LinkRepository.
func (r *LinkRepository) GetLinkByID(_ context.Context, id string) (*link.Link, error) {
	doc, err := r.load()
	if err != nil {
		return nil, err
	}
	for _, l := range doc.Links {
		if l.ID == id {
			return l.Clone(), nil
		}
	}
	return nil, domain.NotFound("link", id)
}

// FindLinksBySource implements repository.LinkRepository.
func (r *LinkRepository) FindLinksBySource(_ context.Context, sourceID string) ([]*link.Link, error) {
	return r.filter(func(l *link.Link) bool { return l.SourceID == sourceID })
}

// FindLinksByTarget implements repository.LinkRepository.
func (r *LinkRepository) FindLinksByTarget(_ context.Context, targetID string) ([]*link.Link, error) {
	return r.filter(func(l *link.Link) bool { return l.TargetID == targetID })
}

// FindLinksByEntity implements repository.LinkRepository.
func (r *LinkRepository) FindLinksByEntity(_ context.Context, entityID string, dir link.Direction) ([]*link.Link, error) {
	return r.filter(func(l *link.Link) bool {
		switch dir {
		case link.DirectionOutgoing:
			return l.SourceID == entityID
		case link.DirectionIncoming:
			return l.TargetID == entityID
		default:
			return l.SourceID == entityID || l.TargetID == entityID
		}
	})
}

// FindAllLinks implements repository.LinkRepository. An empty relation
// returns every link.
func (r *LinkRepository) FindAllLinks(_ context.Context, relation link.RelationType) ([]*link.Link, error) {
	return r.filter(func(l *link.Link) bool {
		return relation == "" || l.Relation == relation
	})
}

func (r *LinkRepository) filter(keep func(*link.Link) bool) ([]*link.Link, error) {
	doc, err := r.load()
	if err != nil {
		return nil, err
	}
	out := make([]*link.Link, 0, len(doc.Links))
	for _, l := range doc.Links {
		if keep(l) {
			out = append(out, l.Clone())
		}
	}
	return out, nil
}

// DeleteLinksForEntity implements repository.LinkRepository. It removes
// every edge touching the entity and returns how many were removed.
func (r *LinkRepository) DeleteLinksForEntity(ctx context.Context, entityID string) (int, error) {
	ctx, span := adapterotel.StartRepoSpan(ctx, "delete_links_for_entity", r.planID, "link")
	defer span.End()

	h, err := r.acquire(ctx)
	if err != nil {
		return 0, err
	}
	defer r.locks.Release(h)

	doc, err := r.load()
	if err != nil {
		return 0, err
	}
	kept := doc.Links[:0]
	removed := 0
	for _, l := range doc.Links {
		if l.SourceID == entityID || l.TargetID == entityID {
			removed++
			continue
		}
		kept = append(kept, l)
	}
	if removed == 0 {
		return 0, nil
	}
	doc.Links = kept
	if err := r.save(doc); err != nil {
		return 0, err
	}
	return removed, nil
}

// LinkExists implements repository.LinkRepository.
func (r *LinkRepository) LinkExists(_ context.Context, sourceID, targetID string, relation link.RelationType) (bool, error) {
	doc, err := r.load()
	if err != nil {
		return false, err
	}
	want := link.Link{SourceID: sourceID, TargetID: targetID, Relation: relation}
	for _, l := range doc.Links {
		if l.Key() == want.Key() {
			return true, nil
		}
	}
	return false, nil
}
