package structure

import (
	"fmt"
	"sort"

	"github.com/mesh-intelligence/shelf/internal/fieldtype"
	"github.com/mesh-intelligence/shelf/pkg/types"
)

// Infer derives a structure from a document's JSON value types. Inferred
// fields are optional, not unique and not hashed. Null values carry no type
// and are skipped.
func Infer(doc map[string]any) ([]types.FieldDeclaration, error) {
	keys := make([]string, 0, len(doc))
	for k := range doc {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var (
		decls []types.FieldDeclaration
		errs  types.Errors
	)
	for _, k := range keys {
		v := doc[k]
		if v == nil {
			continue
		}
		t, ok := fieldtype.Infer(v)
		if !ok {
			errs.Append(fmt.Errorf("%w: cannot infer a type for %q from %s", types.ErrInvalidStructure, k, fieldtype.TypeName(v)))
			continue
		}
		decls = append(decls, types.FieldDeclaration{Slug: k, Type: t})
	}
	if err := errs.Err(); err != nil {
		return nil, err
	}
	return decls, nil
}
