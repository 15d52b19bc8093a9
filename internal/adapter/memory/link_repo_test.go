package memory_test

import (
	"context"
	"errors"
	"testing"

	"github.com/planvault/planvault/internal/adapter/memory"
	"github.com/planvault/planvault/internal/domain"
	"github.com/planvault/planvault/internal/domain/link"
)

func TestCreatedTracksOnlyNewLinks(t *testing.T) {
	repo := memory.NewLinkRepository()
	ctx := context.Background()

	repo.Seed([]*link.Link{
		{ID: "l-1", SourceID: "s-1", TargetID: "r-1", Relation: link.RelationAddresses},
	})

	added, err := repo.CreateLink(ctx, &link.Link{SourceID: "s-2", TargetID: "r-1", Relation: link.RelationAddresses})
	if err != nil {
		t.Fatal(err)
	}
	if added.ID == "" {
		t.Fatal("expected generated id")
	}

	created := repo.Created()
	if len(created) != 1 || created[0].SourceID != "s-2" {
		t.Fatalf("created set should hold only the new link, got %v", created)
	}

	all, err := repo.FindAllLinks(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 links overall, got %d", len(all))
	}
}

func TestCreateLinkConflictsAgainstSeeded(t *testing.T) {
	repo := memory.NewLinkRepository()
	ctx := context.Background()

	repo.Seed([]*link.Link{
		{ID: "l-1", SourceID: "s-1", TargetID: "r-1", Relation: link.RelationAddresses},
	})

	_, err := repo.CreateLink(ctx, &link.Link{SourceID: "s-1", TargetID: "r-1", Relation: link.RelationAddresses})
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestCreateLinkCycleSpansSeededAndNew(t *testing.T) {
	repo := memory.NewLinkRepository()
	ctx := context.Background()

	repo.Seed([]*link.Link{
		{ID: "l-1", SourceID: "a", TargetID: "b", Relation: link.RelationDependsOn},
	})
	if _, err := repo.CreateLink(ctx, &link.Link{SourceID: "b", TargetID: "c", Relation: link.RelationDependsOn}); err != nil {
		t.Fatal(err)
	}

	_, err := repo.CreateLink(ctx, &link.Link{SourceID: "c", TargetID: "a", Relation: link.RelationDependsOn})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected cycle rejection, got %v", err)
	}
}

func TestDeleteLinksForEntityPrunesCreatedSet(t *testing.T) {
	repo := memory.NewLinkRepository()
	ctx := context.Background()

	repo.Seed([]*link.Link{
		{ID: "l-1", SourceID: "s-1", TargetID: "r-1", Relation: link.RelationAddresses},
	})
	if _, err := repo.CreateLink(ctx, &link.Link{SourceID: "s-2", TargetID: "r-1", Relation: link.RelationAddresses}); err != nil {
		t.Fatal(err)
	}
	if _, err := repo.CreateLink(ctx, &link.Link{SourceID: "s-2", TargetID: "r-2", Relation: link.RelationAddresses}); err != nil {
		t.Fatal(err)
	}

	removed, err := repo.DeleteLinksForEntity(ctx, "r-1")
	if err != nil {
		t.Fatal(err)
	}
	if removed != 2 {
		t.Fatalf("expected 2 links removed, got %d", removed)
	}

	created := repo.Created()
	if len(created) != 1 || created[0].TargetID != "r-2" {
		t.Fatalf("created set must not retain deleted links, got %v", created)
	}
	all, err := repo.FindAllLinks(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 1 {
		t.Fatalf("expected 1 surviving link, got %d", len(all))
	}
}

func TestSeedResetsCreatedSet(t *testing.T) {
	repo := memory.NewLinkRepository()
	ctx := context.Background()

	if _, err := repo.CreateLink(ctx, &link.Link{SourceID: "s-1", TargetID: "r-1", Relation: link.RelationAddresses}); err != nil {
		t.Fatal(err)
	}
	repo.Seed(nil)
	if got := repo.Created(); len(got) != 0 {
		t.Fatalf("seed must clear the created set, got %d", len(got))
	}
}
