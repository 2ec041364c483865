// Package docstore holds the storage-driver plumbing shared by every backend:
// the filter matcher, result ordering, an in-memory store, a generic SQL
// document collection, and JSONL import/export helpers.
package docstore

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/mesh-intelligence/shelf/pkg/types"
)

// Logical and field operators understood by Match.
const (
	OpAnd       = "$and"
	OpOr        = "$or"
	OpEq        = "$eq"
	OpNe        = "$ne"
	OpIn        = "$in"
	OpNin       = "$nin"
	OpExists    = "$exists"
	OpElemMatch = "$elemMatch"
)

// Match reports whether doc satisfies filter. A malformed filter returns an
// error wrapping types.ErrInvalidQuery.
func Match(doc types.Document, filter types.Filter) (bool, error) {
	for key, cond := range filter {
		ok, err := matchKey(doc, key, cond)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

func matchKey(doc types.Document, key string, cond any) (bool, error) {
	switch key {
	case OpAnd:
		subs, err := filterList(key, cond)
		if err != nil {
			return false, err
		}
		for _, sub := range subs {
			ok, err := Match(doc, sub)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	case OpOr:
		subs, err := filterList(key, cond)
		if err != nil {
			return false, err
		}
		for _, sub := range subs {
			ok, err := Match(doc, sub)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	}
	if strings.HasPrefix(key, "$") {
		return false, fmt.Errorf("%w: unknown operator %s", types.ErrInvalidQuery, key)
	}
	value, found := Lookup(doc, key)
	return matchCondition(value, found, cond)
}

// filterList accepts both []types.Filter and []any holding filters, so
// filters built in code and filters decoded from JSON behave the same.
func filterList(op string, cond any) ([]types.Filter, error) {
	var subs []types.Filter
	switch list := cond.(type) {
	case []types.Filter:
		subs = list
	case []any:
		subs = make([]types.Filter, 0, len(list))
		for _, item := range list {
			f, ok := item.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("%w: %s entries must be objects", types.ErrInvalidQuery, op)
			}
			subs = append(subs, f)
		}
	default:
		return nil, fmt.Errorf("%w: %s requires an array", types.ErrInvalidQuery, op)
	}
	if len(subs) == 0 {
		return nil, fmt.Errorf("%w: %s requires a non-empty array", types.ErrInvalidQuery, op)
	}
	return subs, nil
}

// Lookup resolves a dotted path inside doc. Numeric segments index arrays.
func Lookup(doc types.Document, path string) (any, bool) {
	var cur any = doc
	for _, seg := range strings.Split(path, ".") {
		switch node := cur.(type) {
		case map[string]any:
			v, ok := node[seg]
			if !ok {
				return nil, false
			}
			cur = v
		case []any:
			i, err := strconv.Atoi(seg)
			if err != nil || i < 0 || i >= len(node) {
				return nil, false
			}
			cur = node[i]
		default:
			return nil, false
		}
	}
	return cur, true
}

func isOperatorObject(cond any) (map[string]any, bool) {
	m, ok := cond.(map[string]any)
	if !ok || len(m) == 0 {
		return nil, false
	}
	for k := range m {
		if !strings.HasPrefix(k, "$") {
			return nil, false
		}
	}
	return m, true
}

func matchCondition(value any, found bool, cond any) (bool, error) {
	ops, ok := isOperatorObject(cond)
	if !ok {
		return equalOrContains(value, found, cond), nil
	}
	for op, arg := range ops {
		var (
			ok  bool
			err error
		)
		switch op {
		case OpEq:
			ok = equalOrContains(value, found, arg)
		case OpNe:
			ok = !equalOrContains(value, found, arg)
		case OpIn, OpNin:
			list, isList := arg.([]any)
			if !isList {
				return false, fmt.Errorf("%w: %s requires an array", types.ErrInvalidQuery, op)
			}
			ok = false
			for _, candidate := range list {
				if equalOrContains(value, found, candidate) {
					ok = true
					break
				}
			}
			if op == OpNin {
				ok = !ok
			}
		case OpExists:
			want, isBool := arg.(bool)
			if !isBool {
				return false, fmt.Errorf("%w: %s requires a boolean", types.ErrInvalidQuery, op)
			}
			ok = found == want
		case OpElemMatch:
			ok, err = elemMatch(value, arg)
		default:
			return false, fmt.Errorf("%w: unknown operator %s", types.ErrInvalidQuery, op)
		}
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

func elemMatch(value any, arg any) (bool, error) {
	sub, ok := arg.(map[string]any)
	if !ok {
		return false, fmt.Errorf("%w: %s requires an object", types.ErrInvalidQuery, OpElemMatch)
	}
	elems, ok := value.([]any)
	if !ok {
		return false, nil
	}
	for _, elem := range elems {
		doc, ok := elem.(map[string]any)
		if !ok {
			continue
		}
		matched, err := Match(doc, sub)
		if err != nil {
			return false, err
		}
		if matched {
			return true, nil
		}
	}
	return false, nil
}

// equalOrContains follows document-store equality: a missing path equals
// nil, and an array value matches a scalar it contains.
func equalOrContains(value any, found bool, want any) bool {
	if !found {
		return want == nil
	}
	if Equal(value, want) {
		return true
	}
	if elems, ok := value.([]any); ok {
		if _, wantList := want.([]any); !wantList {
			for _, elem := range elems {
				if Equal(elem, want) {
					return true
				}
			}
		}
	}
	return false
}

// Equal compares two document values, treating every numeric kind as
// float64.
func Equal(a, b any) bool {
	return reflect.DeepEqual(normalize(a), normalize(b))
}

func normalize(v any) any {
	switch n := v.(type) {
	case int:
		return float64(n)
	case int32:
		return float64(n)
	case int64:
		return float64(n)
	case float32:
		return float64(n)
	case map[string]any:
		out := make(map[string]any, len(n))
		for k, e := range n {
			out[k] = normalize(e)
		}
		return out
	case []any:
		out := make([]any, len(n))
		for i, e := range n {
			out[i] = normalize(e)
		}
		return out
	default:
		return v
	}
}
