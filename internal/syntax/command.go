package syntax

import (
	"context"
	"fmt"

	"github.com/mesh-intelligence/shelf/internal/fieldtype"
	"github.com/mesh-intelligence/shelf/pkg/types"
)

// UniqueChecker looks for an existing value of a unique field.
type UniqueChecker interface {
	// Taken reports whether a record of the space other than
	// excludeRecordID already holds value for field.
	Taken(ctx context.Context, field types.FieldDefinition, value any, excludeRecordID string) (bool, error)
}

// UniqueCheckerFunc adapts a function to UniqueChecker.
type UniqueCheckerFunc func(ctx context.Context, field types.FieldDefinition, value any, excludeRecordID string) (bool, error)

// Taken calls f.
func (f UniqueCheckerFunc) Taken(ctx context.Context, field types.FieldDefinition, value any, excludeRecordID string) (bool, error) {
	return f(ctx, field, value, excludeRecordID)
}

// CommandOptions tune CompileCommand.
type CommandOptions struct {
	// RequiredFieldsAreOptional skips the required check, as for partial
	// updates.
	RequiredFieldsAreOptional bool
	// ApplyDefaults fills absent fields from their declared default.
	ApplyDefaults bool
	// RecordID is the record being updated, excluded from unique checks.
	RecordID string
}

// reservedKeys are identity and timestamp keys of a flattened record. They
// may appear in a body sent back by a client and are ignored.
var reservedKeys = map[string]bool{
	"id":          true,
	"_id":         true,
	"_created_at": true,
	"_updated_at": true,
}

// CompileCommand turns a raw document into typed field content. It walks
// the field definitions, so a missing required field is always caught.
//
// Validation errors accumulate and are returned together. Unique checks run
// only once everything else is valid, and the first conflict is returned
// alone.
func CompileCommand(ctx context.Context, raw map[string]any, fields []types.FieldDefinition, opts CommandOptions, unique UniqueChecker) ([]types.FieldContent, error) {
	var errs types.Errors

	present := make(map[string]string, len(raw))
	for _, key := range sortedKeys(raw) {
		if reservedKeys[key] {
			continue
		}
		k := types.SlugKey(key)
		if prev, dup := present[k]; dup {
			errs.Append(fmt.Errorf("%w: %q and %q name the same field", types.ErrDuplicateSlug, prev, key))
			continue
		}
		present[k] = key
	}
	known := make(map[string]bool, len(fields))
	for _, f := range fields {
		known[types.SlugKey(f.Slug)] = true
	}
	for _, key := range sortedKeys(raw) {
		if !reservedKeys[key] && !known[types.SlugKey(key)] {
			errs.Append(fmt.Errorf("%w: %q", types.ErrFieldNotAllowed, key))
		}
	}

	type uniqueCheck struct {
		field types.FieldDefinition
		value any
	}
	var (
		contents []types.FieldContent
		checks   []uniqueCheck
	)
	for _, f := range fields {
		var value any
		if key, ok := present[types.SlugKey(f.Slug)]; ok {
			value = raw[key]
		}
		if value == nil && opts.ApplyDefaults && f.Default != nil {
			value = f.Default
		}
		if value == nil {
			if f.Required && !opts.RequiredFieldsAreOptional {
				errs.Append(fmt.Errorf("%w: %q", types.ErrRequiredOmitted, f.Slug))
			}
			continue
		}

		rule := fieldtype.MustLookup(f.Type)
		canon, err := rule.Validate(value)
		if err != nil {
			errs.Append(fmt.Errorf("field %q: %w", f.Slug, err))
			continue
		}
		contents = append(contents, rule.Content(f.FieldID, canon))
		if f.Unique {
			checks = append(checks, uniqueCheck{field: f, value: canon})
		}
	}
	if err := errs.Err(); err != nil {
		return nil, err
	}

	if unique != nil {
		for _, c := range checks {
			taken, err := unique.Taken(ctx, c.field, c.value, opts.RecordID)
			if err != nil {
				return nil, fmt.Errorf("checking unique field %q: %w", c.field.Slug, err)
			}
			if taken {
				return nil, fmt.Errorf("%w: field %q already holds this value", types.ErrUniqueViolation, c.field.Slug)
			}
		}
	}
	return contents, nil
}
