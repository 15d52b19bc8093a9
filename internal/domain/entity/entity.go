// Package entity defines the persisted planning record: a fixed envelope
// (id, kind, version, timestamps, metadata) around a kind-specific payload.
package entity

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Kind identifies the type of a planning record.
type Kind string

const (
	KindRequirement Kind = "requirement"
	KindSolution    Kind = "solution"
	KindPhase       Kind = "phase"
	KindDecision    Kind = "decision"
	KindArtifact    Kind = "artifact"
)

// Kinds lists every entity kind in a stable order.
var Kinds = []Kind{KindRequirement, KindSolution, KindPhase, KindDecision, KindArtifact}

// Valid reports whether k is a known entity kind.
func (k Kind) Valid() bool {
	switch k {
	case KindRequirement, KindSolution, KindPhase, KindDecision, KindArtifact:
		return true
	}
	return false
}

// Meta carries creator and free-form annotation data for a record.
type Meta struct {
	CreatedBy   string            `json:"createdBy,omitempty"`
	Tags        []string          `json:"tags,omitempty"`
	Annotations map[string]string `json:"annotations,omitempty"`
}

// Entity is a persisted planning record. Fields holds the kind-specific
// payload and is flattened beside the envelope keys when serialized, so an
// entity document on disk reads as one flat JSON object.
type Entity struct {
	ID        string
	Kind      Kind
	Version   int
	CreatedAt time.Time
	UpdatedAt time.Time
	Meta      Meta
	Fields    map[string]any
}

// envelopeKeys are reserved at the top level of the serialized document and
// never enter Fields.
var envelopeKeys = map[string]bool{
	"id":        true,
	"type":      true,
	"version":   true,
	"createdAt": true,
	"updatedAt": true,
	"metadata":  true,
}

type envelope struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"type"`
	Version   int       `json:"version"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	Meta      *Meta     `json:"metadata,omitempty"`
}

// MarshalJSON flattens Fields beside the envelope keys.
func (e *Entity) MarshalJSON() ([]byte, error) {
	doc := make(map[string]any, len(e.Fields)+6)
	for k, v := range e.Fields {
		if envelopeKeys[k] {
			continue
		}
		doc[k] = v
	}
	doc["id"] = e.ID
	doc["type"] = e.Kind
	doc["version"] = e.Version
	doc["createdAt"] = e.CreatedAt
	doc["updatedAt"] = e.UpdatedAt
	if e.Meta.CreatedBy != "" || len(e.Meta.Tags) > 0 || len(e.Meta.Annotations) > 0 {
		doc["metadata"] = e.Meta
	}
	return json.Marshal(doc)
}

// UnmarshalJSON splits a flat document back into envelope and Fields.
func (e *Entity) UnmarshalJSON(data []byte) error {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("entity envelope: %w", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("entity payload: %w", err)
	}
	e.ID = env.ID
	e.Kind = env.Kind
	e.Version = env.Version
	e.CreatedAt = env.CreatedAt
	e.UpdatedAt = env.UpdatedAt
	if env.Meta != nil {
		e.Meta = *env.Meta
	} else {
		e.Meta = Meta{}
	}
	e.Fields = make(map[string]any, len(doc))
	for k, v := range doc {
		if envelopeKeys[k] {
			continue
		}
		e.Fields[k] = v
	}
	return nil
}

// Clone returns a deep copy of the entity.
func (e *Entity) Clone() *Entity {
	cp := *e
	cp.Fields = cloneMap(e.Fields)
	cp.Meta.Tags = append([]string(nil), e.Meta.Tags...)
	if e.Meta.Annotations != nil {
		cp.Meta.Annotations = make(map[string]string, len(e.Meta.Annotations))
		for k, v := range e.Meta.Annotations {
			cp.Meta.Annotations[k] = v
		}
	}
	return &cp
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}

// Value resolves a dotted field path against the entity. Envelope fields are
// addressable by their serialized names; everything else resolves into the
// payload. The second return reports whether the path exists.
func (e *Entity) Value(path string) (any, bool) {
	switch path {
	case "id":
		return e.ID, true
	case "type":
		return string(e.Kind), true
	case "version":
		return e.Version, true
	case "createdAt":
		return e.CreatedAt, true
	case "updatedAt":
		return e.UpdatedAt, true
	case "metadata.createdBy":
		return e.Meta.CreatedBy, true
	}
	return lookupPath(e.Fields, path)
}

func lookupPath(doc map[string]any, path string) (any, bool) {
	parts := strings.Split(path, ".")
	var cur any = doc
	for _, p := range parts {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[p]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}
