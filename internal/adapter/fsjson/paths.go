package fsjson

import (
	"path/filepath"

	"github.com/planvault/planvault/internal/domain/entity"
)

// Paths resolves the storage layout of one tenant subtree:
//
//	<root>/active_plans.json
//	<root>/plans/<planID>/manifest.json
//	<root>/plans/<planID>/entities/<kind>/<id>.json
//	<root>/plans/<planID>/entities/<kind>/index.json
//	<root>/plans/<planID>/links.json
//	<root>/plans/<planID>/versions/<kind>-<id>.json
//	<root>/plans/<planID>/exports/<name>
type Paths struct {
	Root string
}

func (p Paths) ActivePlansPath() string {
	return filepath.Join(p.Root, "active_plans.json")
}

func (p Paths) PlansDir() string {
	return filepath.Join(p.Root, "plans")
}

func (p Paths) PlanDir(planID string) string {
	return filepath.Join(p.PlansDir(), planID)
}

func (p Paths) ManifestPath(planID string) string {
	return filepath.Join(p.PlanDir(planID), "manifest.json")
}

func (p Paths) EntityDir(planID string, kind entity.Kind) string {
	return filepath.Join(p.PlanDir(planID), "entities", string(kind))
}

func (p Paths) EntityPath(planID string, kind entity.Kind, id string) string {
	return filepath.Join(p.EntityDir(planID, kind), id+".json")
}

func (p Paths) IndexPath(planID string, kind entity.Kind) string {
	return filepath.Join(p.EntityDir(planID, kind), "index.json")
}

func (p Paths) LinksPath(planID string) string {
	return filepath.Join(p.PlanDir(planID), "links.json")
}

func (p Paths) VersionsDir(planID string) string {
	return filepath.Join(p.PlanDir(planID), "versions")
}

func (p Paths) VersionPath(planID string, kind entity.Kind, id string) string {
	return filepath.Join(p.VersionsDir(planID), string(kind)+"-"+id+".json")
}

func (p Paths) ExportsDir(planID string) string {
	return filepath.Join(p.PlanDir(planID), "exports")
}

func (p Paths) LockDir() string {
	return filepath.Join(p.Root, ".locks")
}

// Lock resource keys. Granularity is per (plan, entity-type), per plan
// links store, and per plan manifest, so unrelated work is not serialized.

func entityLockKey(planID string, kind entity.Kind) string {
	return planID + "/" + string(kind)
}

func linksLockKey(planID string) string {
	return planID + "/links"
}

func manifestLockKey(planID string) string {
	return planID + "/manifest"
}

func activePlansLockKey() string {
	return "active_plans"
}
