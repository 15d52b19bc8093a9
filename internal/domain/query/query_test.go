package query_test

import (
	"errors"
	"testing"

	"github.com/planvault/planvault/internal/domain"
	"github.com/planvault/planvault/internal/domain/entity"
	"github.com/planvault/planvault/internal/domain/query"
)

func req(id string, fields map[string]any) *entity.Entity {
	return &entity.Entity{ID: id, Kind: entity.KindRequirement, Fields: fields}
}

func TestMatchesOperators(t *testing.T) {
	e := req("r-1", map[string]any{
		"title":    "Fast checkout flow",
		"priority": "high",
		"points":   float64(8),
		"source":   map[string]any{"parentId": "r-0"},
	})

	tests := []struct {
		name string
		cond query.Cond
		want bool
	}{
		{"eq match", query.Cond{Field: "priority", Op: query.OpEq, Value: "high"}, true},
		{"eq miss", query.Cond{Field: "priority", Op: query.OpEq, Value: "low"}, false},
		{"eq numeric", query.Cond{Field: "points", Op: query.OpEq, Value: 8}, true},
		{"ne", query.Cond{Field: "priority", Op: query.OpNe, Value: "low"}, true},
		{"ne on absent field", query.Cond{Field: "absent", Op: query.OpNe, Value: "x"}, true},
		{"prefix", query.Cond{Field: "title", Op: query.OpPrefix, Value: "Fast"}, true},
		{"suffix", query.Cond{Field: "title", Op: query.OpSuffix, Value: "flow"}, true},
		{"contains", query.Cond{Field: "title", Op: query.OpContains, Value: "checkout"}, true},
		{"regex", query.Cond{Field: "title", Op: query.OpRegex, Value: "^Fast.+flow$"}, true},
		{"exists true", query.Cond{Field: "priority", Op: query.OpExists}, true},
		{"exists false wanted", query.Cond{Field: "absent", Op: query.OpExists, Value: false}, true},
		{"exists nested", query.Cond{Field: "source.parentId", Op: query.OpExists}, true},
		{"in", query.Cond{Field: "priority", Op: query.OpIn, Value: []any{"low", "high"}}, true},
		{"in miss", query.Cond{Field: "priority", Op: query.OpIn, Value: []any{"low"}}, false},
		{"envelope id", query.Cond{Field: "id", Op: query.OpEq, Value: "r-1"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := query.Matches(e, []query.Cond{tt.cond})
			if err != nil {
				t.Fatalf("Matches: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMatchesInvalidRegex(t *testing.T) {
	e := req("r-1", map[string]any{"title": "x"})
	_, err := query.Matches(e, []query.Cond{{Field: "title", Op: query.OpRegex, Value: "["}})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestMatchesUnknownOperator(t *testing.T) {
	e := req("r-1", map[string]any{"title": "x"})
	_, err := query.Matches(e, []query.Cond{{Field: "title", Op: "between", Value: "x"}})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestMatchesAllConditionsMustHold(t *testing.T) {
	e := req("r-1", map[string]any{"priority": "high", "status": "open"})

	ok, err := query.Matches(e, []query.Cond{
		{Field: "priority", Op: query.OpEq, Value: "high"},
		{Field: "status", Op: query.OpEq, Value: "closed"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("conjunction must fail when any condition fails")
	}
}

func TestApplyFilterSortPage(t *testing.T) {
	items := []*entity.Entity{
		req("r-3", map[string]any{"points": float64(3), "priority": "high"}),
		req("r-1", map[string]any{"points": float64(8), "priority": "high"}),
		req("r-2", map[string]any{"points": float64(5), "priority": "low"}),
		req("r-4", map[string]any{"points": float64(1), "priority": "high"}),
	}

	page, err := query.Apply(items, query.Query{
		Filter: []query.Cond{{Field: "priority", Op: query.OpEq, Value: "high"}},
		Sort:   []query.SortKey{{Field: "points", Desc: true}},
		Limit:  2,
	})
	if err != nil {
		t.Fatal(err)
	}
	if page.Total != 3 {
		t.Fatalf("expected total 3, got %d", page.Total)
	}
	if len(page.Items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(page.Items))
	}
	if page.Items[0].ID != "r-1" || page.Items[1].ID != "r-3" {
		t.Fatalf("unexpected order: %s, %s", page.Items[0].ID, page.Items[1].ID)
	}
	if !page.HasMore {
		t.Fatal("expected HasMore with a third match remaining")
	}
}

func TestApplyOffsetBeyondEnd(t *testing.T) {
	items := []*entity.Entity{req("r-1", nil)}

	page, err := query.Apply(items, query.Query{Offset: 10})
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Items) != 0 || page.Total != 1 || page.HasMore {
		t.Fatalf("unexpected page: %+v", page)
	}
}

func TestSortEntitiesDeterministicFallback(t *testing.T) {
	items := []*entity.Entity{
		req("r-2", map[string]any{"rank": float64(1)}),
		req("r-1", map[string]any{"rank": float64(1)}),
	}

	query.SortEntities(items, []query.SortKey{{Field: "rank"}})

	if items[0].ID != "r-1" {
		t.Fatalf("equal keys must fall back to id order, got %s first", items[0].ID)
	}
}

func TestSortEntitiesMissingFieldLast(t *testing.T) {
	items := []*entity.Entity{
		req("r-1", nil),
		req("r-2", map[string]any{"rank": float64(5)}),
	}

	query.SortEntities(items, []query.SortKey{{Field: "rank"}})

	if items[0].ID != "r-2" {
		t.Fatal("entities with the sort field present must order before those without")
	}
}
