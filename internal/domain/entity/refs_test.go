package entity_test

import (
	"testing"

	"github.com/planvault/planvault/internal/domain/entity"
)

func tempResolver(mapping map[string]string) func(string) (string, bool) {
	return func(token string) (string, bool) {
		real, ok := mapping[token]
		return real, ok
	}
}

func TestRewriteRefsArrayField(t *testing.T) {
	payload := map[string]any{
		"title":      "Export service",
		"addressing": []any{"$0", "r-real", "$1"},
	}

	entity.RewriteRefs(entity.KindSolution, payload, tempResolver(map[string]string{
		"$0": "r-100",
		"$1": "r-101",
	}))

	got := payload["addressing"].([]any)
	if got[0] != "r-100" || got[1] != "r-real" || got[2] != "r-101" {
		t.Fatalf("unexpected rewrite: %v", got)
	}
}

func TestRewriteRefsNestedPath(t *testing.T) {
	payload := map[string]any{
		"title":  "Child requirement",
		"source": map[string]any{"parentId": "$p"},
	}

	entity.RewriteRefs(entity.KindRequirement, payload, tempResolver(map[string]string{
		"$p": "r-parent",
	}))

	if payload["source"].(map[string]any)["parentId"] != "r-parent" {
		t.Fatalf("nested path not rewritten: %v", payload)
	}
}

func TestRewriteRefsLeavesNonRefFieldsAlone(t *testing.T) {
	// A token outside the allow-listed paths of the kind is literal data.
	payload := map[string]any{
		"title":      "$0",
		"addressing": []any{"$0"},
	}

	entity.RewriteRefs(entity.KindSolution, payload, tempResolver(map[string]string{
		"$0": "r-100",
	}))

	if payload["title"] != "$0" {
		t.Fatalf("title is not a reference field and must stay literal, got %v", payload["title"])
	}
	if payload["addressing"].([]any)[0] != "r-100" {
		t.Fatal("addressing should have been rewritten")
	}
}

func TestRewriteRefsKindScoped(t *testing.T) {
	// "addressing" is a solution path; on a phase it is plain data.
	payload := map[string]any{"addressing": []any{"$0"}, "dependsOn": []any{"$0"}}

	entity.RewriteRefs(entity.KindPhase, payload, tempResolver(map[string]string{"$0": "x"}))

	if payload["addressing"].([]any)[0] != "$0" {
		t.Fatal("addressing must not be rewritten for a phase")
	}
	if payload["dependsOn"].([]any)[0] != "x" {
		t.Fatal("dependsOn should be rewritten for a phase")
	}
}

func TestRewriteRefsMissingPathIsNoop(t *testing.T) {
	payload := map[string]any{"title": "no refs here"}
	entity.RewriteRefs(entity.KindArtifact, payload, tempResolver(map[string]string{"$0": "x"}))
	if payload["title"] != "no refs here" {
		t.Fatal("payload without reference paths must be untouched")
	}
}

func TestRewriteRefsStringSlice(t *testing.T) {
	payload := map[string]any{"affects": []string{"$a", "d-1"}}

	entity.RewriteRefs(entity.KindDecision, payload, tempResolver(map[string]string{"$a": "d-9"}))

	got := payload["affects"].([]string)
	if got[0] != "d-9" || got[1] != "d-1" {
		t.Fatalf("unexpected rewrite: %v", got)
	}
}
