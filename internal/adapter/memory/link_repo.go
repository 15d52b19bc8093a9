package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/planvault/planvault/internal/domain"
	"github.com/planvault/planvault/internal/domain/link"
)

// LinkRepository holds one plan's links in memory with the same duplicate
// and cycle semantics as the persistent adapter, and tracks links created
// since seeding.
type LinkRepository struct {
	mu      sync.RWMutex
	links   []*link.Link
	created []*link.Link
	nowFn   func() time.Time
	idFn    func() string
}

// NewLinkRepository creates an empty in-memory link repository.
func NewLinkRepository() *LinkRepository {
	return &LinkRepository{
		nowFn: func() time.Time { return time.Now().UTC() },
		idFn:  uuid.NewString,
	}
}

// Seed replaces the repository contents with clones of links and clears the
// created set.
func (r *LinkRepository) Seed(links []*link.Link) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.links = make([]*link.Link, 0, len(links))
	for _, l := range links {
		r.links = append(r.links, l.Clone())
	}
	r.created = nil
}

// Created returns clones of every link added since Seed.
func (r *LinkRepository) Created() []*link.Link {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*link.Link, 0, len(r.created))
	for _, l := range r.created {
		out = append(out, l.Clone())
	}
	return out
}

// CreateLink implements repository.LinkRepository.
func (r *LinkRepository) CreateLink(_ context.Context, l *link.Link) (*link.Link, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.links {
		if existing.Key() == l.Key() {
			return nil, domain.Conflict("link %s -> %s (%s) already exists",
				l.SourceID, l.TargetID, l.Relation)
		}
	}
	if l.Relation == link.RelationDependsOn && link.IntroducesCycle(r.links, l.SourceID, l.TargetID) {
		return nil, domain.Validation("depends_on link %s -> %s would create a cycle",
			l.SourceID, l.TargetID)
	}

	stored := l.Clone()
	if stored.ID == "" {
		stored.ID = r.idFn()
	}
	stored.CreatedAt = r.nowFn()
	r.links = append(r.links, stored)
	r.created = append(r.created, stored)
	return stored.Clone(), nil
}

// DeleteLink implements repository.LinkRepository.
func (r *LinkRepository) DeleteLink(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, l := range r.links {
		if l.ID == id {
			r.links = append(r.links[:i], r.links[i+1:]...)
			for j, c := range r.created {
				if c.ID == id {
					r.created = append(r.created[:j], r.created[j+1:]...)
					break
				}
			}
			return nil
		}
	}
	return domain.NotFound("link", id)
}

// GetLinkByID implements repository.LinkRepository.
func (r *LinkRepository) GetLinkByID(_ context.Context, id string) (*link.Link, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, l := range r.links {
		if l.ID == id {
			return l.Clone(), nil
		}
	}
	return nil, domain.NotFound("link", id)
}

// FindLinksBySource implements repository.LinkRepository.
func (r *LinkRepository) FindLinksBySource(_ context.Context, sourceID string) ([]*link.Link, error) {
	return r.filter(func(l *link.Link) bool { return l.SourceID == sourceID }), nil
}

// FindLinksByTarget implements repository.LinkRepository.
func (r *LinkRepository) FindLinksByTarget(_ context.Context, targetID string) ([]*link.Link, error) {
	return r.filter(func(l *link.Link) bool { return l.TargetID == targetID }), nil
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
	}), nil
}

// FindAllLinks implements repository.LinkRepository.
func (r *LinkRepository) FindAllLinks(_ context.Context, relation link.RelationType) ([]*link.Link, error) {
	return r.filter(func(l *link.Link) bool {
		return relation == "" || l.Relation == relation
	}), nil
}

func (r *LinkRepository) filter(keep func(*link.Link) bool) []*link.Link {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*link.Link, 0, len(r.links))
	for _, l := range r.links {
		if keep(l) {
			out = append(out, l.Clone())
		}
	}
	return out
}

// DeleteLinksForEntity implements repository.LinkRepository. A link created
// after Seed and then removed here must not flush, so the created set is
// pruned alongside the live set.
func (r *LinkRepository) DeleteLinksForEntity(_ context.Context, entityID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	touches := func(l *link.Link) bool {
		return l.SourceID == entityID || l.TargetID == entityID
	}
	kept := r.links[:0]
	removed := 0
	for _, l := range r.links {
		if touches(l) {
			removed++
			continue
		}
		kept = append(kept, l)
	}
	r.links = kept

	keptCreated := r.created[:0]
	for _, l := range r.created {
		if touches(l) {
			continue
		}
		keptCreated = append(keptCreated, l)
	}
	r.created = keptCreated
	return removed, nil
}

// LinkExists implements repository.LinkRepository.
func (r *LinkRepository) LinkExists(_ context.Context, sourceID, targetID string, relation link.RelationType) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	want := link.Link{SourceID: sourceID, TargetID: targetID, Relation: relation}
	for _, l := range r.links {
		if l.Key() == want.Key() {
			return true, nil
		}
	}
	return false, nil
}
