package service_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/planvault/planvault/internal/domain"
	"github.com/planvault/planvault/internal/domain/entity"
	"github.com/planvault/planvault/internal/domain/link"
	"github.com/planvault/planvault/internal/domain/plan"
	"github.com/planvault/planvault/internal/domain/query"
	"github.com/planvault/planvault/internal/service"
)

func newBatchEngine(t *testing.T) (*service.BatchEngine, *service.Factory, string) {
	t.Helper()
	f := newFactory(t)
	m, err := f.PlanRepo().CreatePlan(context.Background(), &plan.Manifest{Name: "batch target"})
	if err != nil {
		t.Fatalf("CreatePlan: %v", err)
	}
	return service.NewBatchEngine(f, "default", slog.Default(), nil), f, m.ID
}

func TestBatchCreatesEntitiesAndLinks(t *testing.T) {
	eng, f, planID := newBatchEngine(t)
	ctx := context.Background()

	result, err := eng.Execute(ctx, planID, []service.Op{
		{Action: service.OpCreate, Kind: entity.KindRequirement, TempID: "$0",
			Payload: map[string]any{"title": "Login works"}},
		{Action: service.OpCreate, Kind: entity.KindSolution, TempID: "$1",
			Payload: map[string]any{"title": "Session service", "addressing": []any{"$0"}}},
		{Action: service.OpCreateLink,
			Payload: map[string]any{"sourceId": "$1", "targetId": "$0", "relationType": "addresses"}},
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(result.Results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(result.Results))
	}
	reqID, solID := result.TempIDs["$0"], result.TempIDs["$1"]
	if reqID == "" || solID == "" {
		t.Fatalf("temp ids not mapped: %v", result.TempIDs)
	}

	// Reference fields carry real ids after commit.
	sol, err := f.EntityRepo(entity.KindSolution, planID).FindByID(ctx, solID)
	if err != nil {
		t.Fatal(err)
	}
	addressing, _ := sol.Fields["addressing"].([]any)
	if len(addressing) != 1 || addressing[0] != reqID {
		t.Fatalf("temp token not rewritten: %v", sol.Fields["addressing"])
	}

	links, err := f.LinkRepo(planID).FindAllLinks(ctx, link.RelationAddresses)
	if err != nil {
		t.Fatal(err)
	}
	if len(links) != 1 || links[0].SourceID != solID || links[0].TargetID != reqID {
		t.Fatalf("unexpected links: %v", links)
	}
}

func TestBatchUpdatesManifestStats(t *testing.T) {
	eng, f, planID := newBatchEngine(t)
	ctx := context.Background()

	if _, err := eng.Execute(ctx, planID, []service.Op{
		{Action: service.OpCreate, Kind: entity.KindRequirement, TempID: "$0",
			Payload: map[string]any{"title": "one"}},
		{Action: service.OpCreate, Kind: entity.KindRequirement,
			Payload: map[string]any{"title": "two"}},
		{Action: service.OpCreateLink, Payload: map[string]any{
			"sourceId": "$0", "targetId": "$0", "relationType": "references"}},
	}); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	m, err := f.PlanRepo().LoadManifest(ctx, planID)
	if err != nil {
		t.Fatal(err)
	}
	if m.Stats.Entities[entity.KindRequirement] != 2 {
		t.Fatalf("expected 2 requirements in stats, got %d", m.Stats.Entities[entity.KindRequirement])
	}
	if m.Stats.Links != 1 {
		t.Fatalf("expected 1 link in stats, got %d", m.Stats.Links)
	}
	if m.Version != 2 {
		t.Fatalf("expected manifest version bump, got %d", m.Version)
	}
}

func TestBatchUpdateThroughTempID(t *testing.T) {
	eng, f, planID := newBatchEngine(t)
	ctx := context.Background()

	result, err := eng.Execute(ctx, planID, []service.Op{
		{Action: service.OpCreate, Kind: entity.KindPhase, TempID: "$p",
			Payload: map[string]any{"name": "Foundation", "status": "pending"}},
		{Action: service.OpUpdate, Kind: entity.KindPhase, ID: "$p",
			Payload: map[string]any{"status": "in_progress"}},
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	got, err := f.EntityRepo(entity.KindPhase, planID).FindByID(ctx, result.TempIDs["$p"])
	if err != nil {
		t.Fatal(err)
	}
	if got.Fields["status"] != "in_progress" {
		t.Fatalf("update not applied: %v", got.Fields)
	}
	if got.Version != 2 {
		t.Fatalf("expected version 2 after create+update, got %d", got.Version)
	}
}

func TestBatchRejectsEmptyOps(t *testing.T) {
	eng, _, planID := newBatchEngine(t)

	_, err := eng.Execute(context.Background(), planID, nil)
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestBatchRejectsMissingPlan(t *testing.T) {
	eng, _, _ := newBatchEngine(t)

	_, err := eng.Execute(context.Background(), "no-such-plan", []service.Op{
		{Action: service.OpCreate, Kind: entity.KindRequirement, Payload: map[string]any{"title": "x"}},
	})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestBatchRejectsUnknownAction(t *testing.T) {
	eng, _, planID := newBatchEngine(t)

	_, err := eng.Execute(context.Background(), planID, []service.Op{
		{Action: "delete", Kind: entity.KindRequirement, ID: "r-1", Payload: map[string]any{}},
	})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestBatchFailureLeavesPlanUntouched(t *testing.T) {
	eng, f, planID := newBatchEngine(t)
	ctx := context.Background()

	seeded, err := f.EntityRepo(entity.KindRequirement, planID).Create(ctx, &entity.Entity{ID: "r-1"})
	if err != nil {
		t.Fatal(err)
	}

	// The second operation collides with the seeded id; the first must not
	// reach disk.
	_, err = eng.Execute(ctx, planID, []service.Op{
		{Action: service.OpCreate, Kind: entity.KindRequirement,
			Payload: map[string]any{"title": "fresh"}},
		{Action: service.OpCreate, Kind: entity.KindRequirement,
			Payload: map[string]any{"id": seeded.ID, "title": "collides"}},
	})
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	var commitErr *domain.CommitError
	if errors.As(err, &commitErr) {
		t.Fatal("replay failures must not be reported as commit failures")
	}

	n, err := f.EntityRepo(entity.KindRequirement, planID).Count(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("aborted batch leaked writes: %d entities", n)
	}
}

func TestBatchRefusesCycleAcrossExistingLinks(t *testing.T) {
	eng, f, planID := newBatchEngine(t)
	ctx := context.Background()

	if _, err := f.LinkRepo(planID).CreateLink(ctx, &link.Link{
		SourceID: "a", TargetID: "b", Relation: link.RelationDependsOn,
	}); err != nil {
		t.Fatal(err)
	}

	_, err := eng.Execute(ctx, planID, []service.Op{
		{Action: service.OpCreateLink, Payload: map[string]any{
			"sourceId": "b", "targetId": "c", "relationType": "depends_on"}},
		{Action: service.OpCreateLink, Payload: map[string]any{
			"sourceId": "c", "targetId": "a", "relationType": "depends_on"}},
	})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected cycle rejection, got %v", err)
	}

	links, err := f.LinkRepo(planID).FindAllLinks(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(links) != 1 {
		t.Fatalf("aborted batch leaked links: %d", len(links))
	}
}

func TestBatchLeavesLiteralTokensInNonReferenceFields(t *testing.T) {
	eng, f, planID := newBatchEngine(t)
	ctx := context.Background()

	if _, err := eng.Execute(ctx, planID, []service.Op{
		{Action: service.OpCreate, Kind: entity.KindRequirement, TempID: "$0",
			Payload: map[string]any{"title": "first"}},
		{Action: service.OpCreate, Kind: entity.KindRequirement,
			Payload: map[string]any{"title": "$0 is mentioned here"}},
	}); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	got, err := f.EntityRepo(entity.KindRequirement, planID).FindOne(ctx, []query.Cond{
		{Field: "title", Op: query.OpContains, Value: "mentioned"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.Fields["title"] != "$0 is mentioned here" {
		t.Fatalf("literal token must survive in non-reference fields, got %v", got)
	}
}
