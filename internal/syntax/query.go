// Package syntax compiles untyped client input into typed store filters and
// typed field content.
package syntax

import (
	"fmt"
	"sort"
	"strings"

	"github.com/mesh-intelligence/shelf/internal/docstore"
	"github.com/mesh-intelligence/shelf/internal/fieldtype"
	"github.com/mesh-intelligence/shelf/pkg/types"
)

// Relationship combines the predicates of a query.
type Relationship string

// Supported relationships.
const (
	And Relationship = "and"
	Or  Relationship = "or"
)

// ParseRelationship parses "and" or "or", case-insensitively. The empty
// string means And.
func ParseRelationship(s string) (Relationship, error) {
	switch Relationship(strings.ToLower(strings.TrimSpace(s))) {
	case "", And:
		return And, nil
	case Or:
		return Or, nil
	default:
		return "", fmt.Errorf("%w: relationship must be \"and\" or \"or\", got %q", types.ErrInvalidQuery, s)
	}
}

// Paths of a record dump document.
const (
	DataPath      = "data"
	CreatedAtPath = "created_at"
	UpdatedAtPath = "updated_at"
)

// idKeys address a record's own identity instead of a field.
var idKeys = map[string]bool{"id": true, "_id": true}

// HashedPredicate is an equality on a hashed field. It cannot be evaluated
// by the store and is checked against candidates after the fetch.
type HashedPredicate struct {
	Field types.FieldDefinition
	Value string
}

// Query is a compiled read.
type Query struct {
	// Filter selects record dumps. It never holds an empty $and or $or.
	Filter types.Filter
	Hashed []HashedPredicate
}

// FieldPath returns the dump path holding the value of slug.
func FieldPath(slug string) string {
	return DataPath + "." + slug
}

// CompileQuery resolves each key of raw against fields and builds the dump
// filter. Values are coerced by the field's declared type. A slice value
// matches any of its elements, except on array fields.
//
// Hashed predicates are left out of the filter whatever the relationship,
// and every one of them must hold for a candidate to be returned.
func CompileQuery(raw map[string]any, fields []types.FieldDefinition, rel Relationship) (Query, error) {
	bySlug := make(map[string]types.FieldDefinition, len(fields))
	for _, f := range fields {
		bySlug[types.SlugKey(f.Slug)] = f
	}

	var (
		q     Query
		preds []any
		errs  types.Errors
	)
	for _, key := range sortedKeys(raw) {
		value := raw[key]
		if idKeys[strings.ToLower(key)] {
			pred, err := idPredicate(value)
			if err != nil {
				errs.Append(err)
				continue
			}
			preds = append(preds, pred)
			continue
		}

		f, ok := bySlug[types.SlugKey(key)]
		if !ok {
			errs.Append(unknownField(key, fields))
			continue
		}
		rule := fieldtype.MustLookup(f.Type)
		if f.Hashed {
			v, err := rule.Coerce(value)
			if err != nil {
				errs.Append(fmt.Errorf("field %q: %w", f.Slug, err))
				continue
			}
			q.Hashed = append(q.Hashed, HashedPredicate{Field: f, Value: v.(string)})
			continue
		}
		cond, err := condition(rule, f, value)
		if err != nil {
			errs.Append(err)
			continue
		}
		preds = append(preds, map[string]any{FieldPath(f.Slug): cond})
	}
	if err := errs.Err(); err != nil {
		return Query{}, err
	}
	q.Filter = group(rel, preds)
	return q, nil
}

func idPredicate(value any) (map[string]any, error) {
	switch v := value.(type) {
	case string:
		return map[string]any{types.IDKey: v}, nil
	case []any:
		ids := make([]any, 0, len(v))
		for _, e := range v {
			s, ok := e.(string)
			if !ok {
				return nil, fmt.Errorf("%w: id must be a string, got %s", types.ErrTypeMismatch, fieldtype.TypeName(e))
			}
			ids = append(ids, s)
		}
		return map[string]any{types.IDKey: map[string]any{docstore.OpIn: ids}}, nil
	default:
		return nil, fmt.Errorf("%w: id must be a string, got %s", types.ErrTypeMismatch, fieldtype.TypeName(v))
	}
}

func condition(rule fieldtype.Rule, f types.FieldDefinition, value any) (any, error) {
	list, isList := value.([]any)
	if !isList || f.Type == types.FieldTypeArray {
		v, err := rule.Coerce(value)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", f.Slug, err)
		}
		return v, nil
	}
	in := make([]any, 0, len(list))
	for _, e := range list {
		v, err := rule.Coerce(e)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", f.Slug, err)
		}
		in = append(in, v)
	}
	return map[string]any{docstore.OpIn: in}, nil
}

// group joins predicates under rel. No predicates give the empty filter,
// and a single predicate stands alone.
func group(rel Relationship, preds []any) types.Filter {
	switch len(preds) {
	case 0:
		return types.Filter{}
	case 1:
		return types.Filter(preds[0].(map[string]any))
	}
	op := docstore.OpAnd
	if rel == Or {
		op = docstore.OpOr
	}
	return types.Filter{op: preds}
}

// CompileSort parses a comma separated list of slugs, each optionally
// prefixed with "-" for descending order.
func CompileSort(raw string, fields []types.FieldDefinition) ([]types.SortField, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	bySlug := make(map[string]types.FieldDefinition, len(fields))
	for _, f := range fields {
		bySlug[types.SlugKey(f.Slug)] = f
	}
	var (
		out  []types.SortField
		errs types.Errors
	)
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		desc := strings.HasPrefix(part, "-")
		key := strings.TrimPrefix(part, "-")
		switch strings.ToLower(key) {
		case "id", "_id":
			out = append(out, types.SortField{Path: types.IDKey, Descending: desc})
			continue
		case "_created_at":
			out = append(out, types.SortField{Path: CreatedAtPath, Descending: desc})
			continue
		case "_updated_at":
			out = append(out, types.SortField{Path: UpdatedAtPath, Descending: desc})
			continue
		}
		f, ok := bySlug[types.SlugKey(key)]
		if !ok {
			errs.Append(unknownField(key, fields))
			continue
		}
		if f.Hashed {
			errs.Append(fmt.Errorf("%w: cannot sort by hashed field %q", types.ErrInvalidQuery, f.Slug))
			continue
		}
		out = append(out, types.SortField{Path: FieldPath(f.Slug), Descending: desc})
	}
	if err := errs.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func unknownField(key string, fields []types.FieldDefinition) error {
	slugs := make([]string, len(fields))
	for i, f := range fields {
		slugs[i] = f.Slug
	}
	return fmt.Errorf("%w: %q (valid fields: %s)", types.ErrUnknownField, key, strings.Join(slugs, ", "))
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
