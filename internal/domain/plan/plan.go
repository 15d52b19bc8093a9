// Package plan defines the plan manifest, the root record of a plan's
// storage subtree, plus the workspace active-plan pointer and version
// history documents.
package plan

import (
	"time"

	"github.com/planvault/planvault/internal/domain/entity"
)

// Status represents the lifecycle state of a plan.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusArchived  Status = "archived"
)

// Statistics summarizes plan contents for listing without loading entities.
type Statistics struct {
	Entities map[entity.Kind]int `json:"entities"`
	Links    int                 `json:"links"`
}

// Manifest is the root document of one plan.
type Manifest struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Status      Status     `json:"status"`
	Stats       Statistics `json:"statistics"`
	Version     int        `json:"version"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	CreatedBy   string     `json:"createdBy,omitempty"`
}

// Clone returns a deep copy of the manifest.
func (m *Manifest) Clone() *Manifest {
	cp := *m
	if m.Stats.Entities != nil {
		cp.Stats.Entities = make(map[entity.Kind]int, len(m.Stats.Entities))
		for k, v := range m.Stats.Entities {
			cp.Stats.Entities[k] = v
		}
	}
	return &cp
}

// ActivePlans maps a workspace path to its currently active plan id.
type ActivePlans struct {
	Plans     map[string]string `json:"plans"`
	UpdatedAt time.Time         `json:"updatedAt"`
}

// VersionSnapshot is one archived revision of an entity document, written
// before the document is overwritten by an update.
type VersionSnapshot struct {
	Version    int            `json:"version"`
	ArchivedAt time.Time      `json:"archivedAt"`
	Document   map[string]any `json:"document"`
}

// VersionHistory collects the archived revisions of one entity.
type VersionHistory struct {
	EntityID  string            `json:"entityId"`
	Kind      entity.Kind       `json:"kind"`
	Snapshots []VersionSnapshot `json:"snapshots"`
}
