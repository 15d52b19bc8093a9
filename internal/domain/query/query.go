// Package query implements the filter/sort/pagination model shared by the
// persistent and in-memory entity repositories.
package query

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/planvault/planvault/internal/domain"
	"github.com/planvault/planvault/internal/domain/entity"
)

// Op is a filter comparison operator.
type Op string

const (
	OpEq       Op = "eq"
	OpNe       Op = "ne"
	OpPrefix   Op = "prefix"
	OpSuffix   Op = "suffix"
	OpContains Op = "contains"
	OpExists   Op = "exists"
	OpRegex    Op = "regex"
	OpIn       Op = "in"
)

// Cond is one filter condition against a dotted field path.
type Cond struct {
	Field string `json:"field"`
	Op    Op     `json:"op"`
	Value any    `json:"value,omitempty"`
}

// SortKey orders results by one field.
type SortKey struct {
	Field string `json:"field"`
	Desc  bool   `json:"desc,omitempty"`
}

// Query combines filtering, multi-key sorting, and offset/limit pagination.
type Query struct {
	Filter []Cond    `json:"filter,omitempty"`
	Sort   []SortKey `json:"sort,omitempty"`
	Offset int       `json:"offset,omitempty"`
	Limit  int       `json:"limit,omitempty"`
}

// Page is one page of query results.
type Page struct {
	Items   []*entity.Entity `json:"items"`
	Total   int              `json:"total"`
	Offset  int              `json:"offset"`
	Limit   int              `json:"limit"`
	HasMore bool             `json:"hasMore"`
}

// Matches evaluates every condition of the filter against e.
func Matches(e *entity.Entity, filter []Cond) (bool, error) {
	for _, c := range filter {
		ok, err := matchCond(e, c)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func matchCond(e *entity.Entity, c Cond) (bool, error) {
	val, present := e.Value(c.Field)

	switch c.Op {
	case OpExists:
		want := true
		if b, ok := c.Value.(bool); ok {
			want = b
		}
		return present == want, nil
	case OpEq:
		return present && equalValues(val, c.Value), nil
	case OpNe:
		return !present || !equalValues(val, c.Value), nil
	case OpIn:
		if !present {
			return false, nil
		}
		list, ok := c.Value.([]any)
		if !ok {
			return false, domain.Validation("operator %q requires an array value", OpIn)
		}
		for _, candidate := range list {
			if equalValues(val, candidate) {
				return true, nil
			}
		}
		return false, nil
	}

	// Remaining operators work on string fields only.
	s, ok := asString(val)
	if !present || !ok {
		return false, nil
	}
	pattern, ok := asString(c.Value)
	if !ok {
		return false, domain.Validation("operator %q requires a string value", c.Op)
	}
	switch c.Op {
	case OpPrefix:
		return strings.HasPrefix(s, pattern), nil
	case OpSuffix:
		return strings.HasSuffix(s, pattern), nil
	case OpContains:
		return strings.Contains(s, pattern), nil
	case OpRegex:
		re, err := regexp.Compile(pattern)
		if err != nil {
			return false, domain.Validation("invalid regex %q: %v", pattern, err)
		}
		return re.MatchString(s), nil
	default:
		return false, domain.Validation("unknown filter operator %q", c.Op)
	}
}

func asString(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case entity.Kind:
		return string(t), true
	default:
		return "", false
	}
}

func equalValues(a, b any) bool {
	if sa, ok := asString(a); ok {
		if sb, ok := asString(b); ok {
			return sa == sb
		}
	}
	if na, ok := asFloat(a); ok {
		if nb, ok := asFloat(b); ok {
			return na == nb
		}
	}
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

func asFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// Apply runs the full query against items: filter, multi-key sort, then
// offset/limit pagination.
func Apply(items []*entity.Entity, q Query) (*Page, error) {
	matched := make([]*entity.Entity, 0, len(items))
	for _, e := range items {
		ok, err := Matches(e, q.Filter)
		if err != nil {
			return nil, err
		}
		if ok {
			matched = append(matched, e)
		}
	}

	SortEntities(matched, q.Sort)

	total := len(matched)
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}
	if offset > total {
		offset = total
	}
	end := total
	if q.Limit > 0 && offset+q.Limit < end {
		end = offset + q.Limit
	}

	return &Page{
		Items:   matched[offset:end],
		Total:   total,
		Offset:  offset,
		Limit:   q.Limit,
		HasMore: end < total,
	}, nil
}

// SortEntities orders items by the given keys, falling back to id order so
// results are deterministic.
func SortEntities(items []*entity.Entity, keys []SortKey) {
	sort.SliceStable(items, func(i, j int) bool {
		for _, k := range keys {
			cmp := compareField(items[i], items[j], k.Field)
			if cmp == 0 {
				continue
			}
			if k.Desc {
				return cmp > 0
			}
			return cmp < 0
		}
		return items[i].ID < items[j].ID
	})
}

func compareField(a, b *entity.Entity, field string) int {
	av, aok := a.Value(field)
	bv, bok := b.Value(field)
	if !aok || !bok {
		// Present values order before missing ones.
		if aok {
			return -1
		}
		if bok {
			return 1
		}
		return 0
	}
	if at, ok := av.(time.Time); ok {
		if bt, ok := bv.(time.Time); ok {
			return at.Compare(bt)
		}
	}
	if af, ok := asFloat(av); ok {
		if bf, ok := asFloat(bv); ok {
			switch {
			case af < bf:
				return -1
			case af > bf:
				return 1
			default:
				return 0
			}
		}
	}
	as := fmt.Sprintf("%v", av)
	bs := fmt.Sprintf("%v", bv)
	return strings.Compare(as, bs)
}
