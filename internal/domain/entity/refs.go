package entity

import "strings"

// RefFields maps each entity kind to the dotted payload paths that may hold
// references to other entities. Only these paths are eligible for temp-id
// substitution during batch replay; a matching token anywhere else in the
// payload is treated as literal data.
var RefFields = map[Kind][]string{
	KindRequirement: {"source.parentId"},
	KindSolution:    {"addressing"},
	KindPhase:       {"requirements", "dependsOn"},
	KindDecision:    {"affects"},
	KindArtifact:    {"phaseId"},
}

// RewriteRefs walks the allow-listed reference paths of a payload and
// replaces every value for which resolve returns a replacement. Values at a
// reference path may be a single string or an array of strings; anything
// else is left untouched. The payload is modified in place.
func RewriteRefs(kind Kind, payload map[string]any, resolve func(string) (string, bool)) {
	for _, path := range RefFields[kind] {
		rewritePath(payload, path, resolve)
	}
}

func rewritePath(doc map[string]any, path string, resolve func(string) (string, bool)) {
	parent, leaf := splitPath(doc, path)
	if parent == nil {
		return
	}
	switch v := parent[leaf].(type) {
	case string:
		if real, ok := resolve(v); ok {
			parent[leaf] = real
		}
	case []any:
		for i, item := range v {
			if s, ok := item.(string); ok {
				if real, ok := resolve(s); ok {
					v[i] = real
				}
			}
		}
	case []string:
		for i, s := range v {
			if real, ok := resolve(s); ok {
				v[i] = real
			}
		}
	}
}

// splitPath descends to the map holding the final path segment.
func splitPath(doc map[string]any, path string) (map[string]any, string) {
	cur := doc
	for {
		i := strings.IndexByte(path, '.')
		if i < 0 {
			return cur, path
		}
		next, ok := cur[path[:i]].(map[string]any)
		if !ok {
			return nil, ""
		}
		cur = next
		path = path[i+1:]
	}
}
