// Package link defines directed, typed relationships between entities
// within one plan. Links are immutable facts: created or removed, never
// patched, and they carry no version field.
package link

import "time"

// RelationType classifies the semantic of an edge.
type RelationType string

const (
	RelationAddresses  RelationType = "addresses"
	RelationImplements RelationType = "implements"
	RelationDependsOn  RelationType = "depends_on"
	RelationSupersedes RelationType = "supersedes"
	RelationReferences RelationType = "references"
)

// Link is a directed edge between two entities of the same plan.
type Link struct {
	ID        string            `json:"id"`
	SourceID  string            `json:"sourceId"`
	TargetID  string            `json:"targetId"`
	Relation  RelationType      `json:"relationType"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"createdAt"`
	CreatedBy string            `json:"createdBy,omitempty"`
}

// Direction selects which edges of an entity a lookup returns.
type Direction string

const (
	DirectionIncoming Direction = "incoming"
	DirectionOutgoing Direction = "outgoing"
	DirectionBoth     Direction = "both"
)

// Key returns the uniqueness triple for the link.
func (l *Link) Key() string {
	return l.SourceID + "\x00" + l.TargetID + "\x00" + string(l.Relation)
}

// Clone returns a copy of the link with its own metadata map.
func (l *Link) Clone() *Link {
	cp := *l
	if l.Metadata != nil {
		cp.Metadata = make(map[string]string, len(l.Metadata))
		for k, v := range l.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}

// IntroducesCycle reports whether adding a depends_on edge from source to
// target would close a cycle, given the existing depends_on edges. The walk
// follows edges from target looking for a path back to source.
func IntroducesCycle(existing []*Link, sourceID, targetID string) bool {
	if sourceID == targetID {
		return true
	}
	adj := make(map[string][]string)
	for _, l := range existing {
		if l.Relation == RelationDependsOn {
			adj[l.SourceID] = append(adj[l.SourceID], l.TargetID)
		}
	}
	seen := map[string]bool{}
	stack := []string{targetID}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if n == sourceID {
			return true
		}
		if seen[n] {
			continue
		}
		seen[n] = true
		stack = append(stack, adj[n]...)
	}
	return false
}
