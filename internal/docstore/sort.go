package docstore

import (
	"sort"
	"strings"

	"github.com/mesh-intelligence/shelf/pkg/types"
)

// Compare orders two document values. Values of different kinds order by
// kind: missing/nil, numbers, strings, objects, arrays, booleans.
func Compare(a, b any) int {
	ra, rb := rank(a), rank(b)
	if ra != rb {
		if ra < rb {
			return -1
		}
		return 1
	}
	switch x := normalize(a).(type) {
	case float64:
		y := normalize(b).(float64)
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		}
		return 0
	case string:
		return strings.Compare(x, b.(string))
	case bool:
		y := b.(bool)
		switch {
		case x == y:
			return 0
		case !x:
			return -1
		}
		return 1
	case []any:
		y := b.([]any)
		for i := 0; i < len(x) && i < len(y); i++ {
			if c := Compare(x[i], y[i]); c != 0 {
				return c
			}
		}
		return len(x) - len(y)
	}
	return 0
}

func rank(v any) int {
	switch normalize(v).(type) {
	case nil:
		return 0
	case float64:
		return 1
	case string:
		return 2
	case map[string]any:
		return 3
	case []any:
		return 4
	case bool:
		return 5
	default:
		return 6
	}
}

// Apply sorts docs by opts.Sort, then applies Skip and Limit. docs must
// already be in natural order.
func Apply(docs []types.Document, opts *types.FindOptions) []types.Document {
	if opts == nil {
		return docs
	}
	if len(opts.Sort) > 0 {
		sort.SliceStable(docs, func(i, j int) bool {
			for _, s := range opts.Sort {
				vi, _ := Lookup(docs[i], s.Path)
				vj, _ := Lookup(docs[j], s.Path)
				c := Compare(vi, vj)
				if c == 0 {
					continue
				}
				if s.Descending {
					return c > 0
				}
				return c < 0
			}
			return false
		})
	}
	if opts.Skip > 0 {
		if opts.Skip >= len(docs) {
			return docs[:0]
		}
		docs = docs[opts.Skip:]
	}
	if opts.Limit > 0 && opts.Limit < len(docs) {
		docs = docs[:opts.Limit]
	}
	return docs
}

// Clone deep-copies a document so callers never share maps or slices with
// a store.
func Clone(doc types.Document) types.Document {
	if doc == nil {
		return nil
	}
	return cloneValue(doc).(map[string]any)
}

func cloneValue(v any) any {
	switch n := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(n))
		for k, e := range n {
			out[k] = cloneValue(e)
		}
		return out
	case []any:
		out := make([]any, len(n))
		for i, e := range n {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}

// DocumentID returns the string identity of doc.
func DocumentID(doc types.Document) (string, bool) {
	id, ok := doc[types.IDKey].(string)
	return id, ok && id != ""
}
