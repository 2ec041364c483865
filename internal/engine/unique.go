package engine

import (
	"context"
	"errors"

	"github.com/mesh-intelligence/shelf/internal/docstore"
	"github.com/mesh-intelligence/shelf/internal/fieldtype"
	"github.com/mesh-intelligence/shelf/internal/syntax"
	"github.com/mesh-intelligence/shelf/pkg/types"
)

// uniqueChecker looks for equal content in the canonical records of space.
// Hashed content is salted, so hashed fields are compared one candidate at
// a time.
func (e *Engine) uniqueChecker(space *types.RecordSpace) syntax.UniqueChecker {
	return syntax.UniqueCheckerFunc(func(ctx context.Context, f types.FieldDefinition, value any, exclude string) (bool, error) {
		elem := map[string]any{"field_id": f.FieldID}
		if !f.Hashed {
			elem[fieldtype.MustLookup(f.Type).Slot] = value
		}
		filter := types.Filter{
			"space_id": space.SpaceID,
			"fields":   map[string]any{docstore.OpElemMatch: elem},
		}
		if exclude != "" {
			filter[types.IDKey] = map[string]any{docstore.OpNe: exclude}
		}

		if !f.Hashed {
			_, err := e.records.FindOne(ctx, filter)
			if errors.Is(err, types.ErrNotFound) {
				return false, nil
			}
			return err == nil, err
		}

		docs, err := e.records.Find(ctx, filter, nil)
		if err != nil {
			return false, err
		}
		recs, err := decodeRecords(docs)
		if err != nil {
			return false, err
		}
		plain, _ := value.(string)
		for i := range recs {
			if c, ok := recs[i].Content(f.FieldID); ok && e.resolver.Matches(c, plain) {
				return true, nil
			}
		}
		return false, nil
	})
}
