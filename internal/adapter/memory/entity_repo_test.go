package memory_test

import (
	"context"
	"errors"
	"testing"

	"github.com/planvault/planvault/internal/adapter/memory"
	"github.com/planvault/planvault/internal/domain"
	"github.com/planvault/planvault/internal/domain/entity"
	"github.com/planvault/planvault/internal/domain/query"
)

func TestSeedClearsDirtySet(t *testing.T) {
	repo := memory.NewEntityRepository(entity.KindRequirement)
	ctx := context.Background()

	if _, err := repo.Create(ctx, &entity.Entity{ID: "pre"}); err != nil {
		t.Fatal(err)
	}
	repo.Seed([]*entity.Entity{
		{ID: "r-1", Kind: entity.KindRequirement, Version: 3, Fields: map[string]any{"title": "seeded"}},
	})

	if got := repo.Dirty(); len(got) != 0 {
		t.Fatalf("seed must clear the dirty set, got %d items", len(got))
	}
	e, err := repo.FindByID(ctx, "r-1")
	if err != nil {
		t.Fatal(err)
	}
	if e.Version != 3 || e.Fields["title"] != "seeded" {
		t.Fatalf("unexpected seeded entity: %+v", e)
	}
	if _, err := repo.FindByID(ctx, "pre"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatal("seed must replace prior contents")
	}
}

func TestDirtyTracksCreatesAndUpdates(t *testing.T) {
	repo := memory.NewEntityRepository(entity.KindRequirement)
	ctx := context.Background()

	repo.Seed([]*entity.Entity{
		{ID: "r-1", Version: 1, Fields: map[string]any{"title": "old"}},
		{ID: "r-2", Version: 1, Fields: map[string]any{"title": "untouched"}},
	})

	created, err := repo.Create(ctx, &entity.Entity{Fields: map[string]any{"title": "new"}})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := repo.Update(ctx, "r-1", map[string]any{"title": "changed"}); err != nil {
		t.Fatal(err)
	}

	dirty := repo.Dirty()
	if len(dirty) != 2 {
		t.Fatalf("expected 2 dirty entities, got %d", len(dirty))
	}
	seen := map[string]*entity.Entity{}
	for _, e := range dirty {
		seen[e.ID] = e
	}
	if seen[created.ID] == nil {
		t.Fatal("created entity missing from dirty set")
	}
	if u := seen["r-1"]; u == nil || u.Version != 2 || u.Fields["title"] != "changed" {
		t.Fatalf("updated entity wrong in dirty set: %+v", u)
	}
}

func TestUpdateVersionCheck(t *testing.T) {
	repo := memory.NewEntityRepository(entity.KindSolution)
	ctx := context.Background()

	repo.Seed([]*entity.Entity{{ID: "s-1", Version: 2, Fields: map[string]any{"title": "x"}}})

	_, err := repo.Update(ctx, "s-1", map[string]any{"title": "y", "version": 1})
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected version conflict, got %v", err)
	}

	updated, err := repo.Update(ctx, "s-1", map[string]any{"title": "y", "version": 2})
	if err != nil {
		t.Fatal(err)
	}
	if updated.Version != 3 {
		t.Fatalf("expected version 3, got %d", updated.Version)
	}
}

func TestUpdatePatchesMetadata(t *testing.T) {
	repo := memory.NewEntityRepository(entity.KindSolution)
	ctx := context.Background()

	repo.Seed([]*entity.Entity{{ID: "s-1", Version: 1}})

	updated, err := repo.Update(ctx, "s-1", map[string]any{
		"metadata": map[string]any{"createdBy": "alice", "tags": []any{"infra"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if updated.Meta.CreatedBy != "alice" || len(updated.Meta.Tags) != 1 {
		t.Fatalf("metadata patch not applied: %+v", updated.Meta)
	}
}

func TestQueryOverSeededItems(t *testing.T) {
	repo := memory.NewEntityRepository(entity.KindPhase)
	ctx := context.Background()

	repo.Seed([]*entity.Entity{
		{ID: "p-1", Version: 1, Fields: map[string]any{"status": "done"}},
		{ID: "p-2", Version: 1, Fields: map[string]any{"status": "pending"}},
	})

	page, err := repo.Query(ctx, query.Query{
		Filter: []query.Cond{{Field: "status", Op: query.OpEq, Value: "pending"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if page.Total != 1 || page.Items[0].ID != "p-2" {
		t.Fatalf("unexpected page: %+v", page)
	}
}

func TestCreateManyAllOrNothing(t *testing.T) {
	repo := memory.NewEntityRepository(entity.KindRequirement)
	ctx := context.Background()

	repo.Seed([]*entity.Entity{{ID: "dup", Version: 1}})

	_, err := repo.CreateMany(ctx, []*entity.Entity{{ID: "new"}, {ID: "dup"}})
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	exists, err := repo.Exists(ctx, "new")
	if err != nil {
		t.Fatal(err)
	}
	if exists {
		t.Fatal("partial batch survived a failed CreateMany")
	}
}

func TestDeleteRemovesFromDirtySet(t *testing.T) {
	repo := memory.NewEntityRepository(entity.KindRequirement)
	ctx := context.Background()

	created, err := repo.Create(ctx, &entity.Entity{})
	if err != nil {
		t.Fatal(err)
	}
	if err := repo.Delete(ctx, created.ID); err != nil {
		t.Fatal(err)
	}
	if got := repo.Dirty(); len(got) != 0 {
		t.Fatalf("deleted entity must not be flushed, dirty=%d", len(got))
	}
}
