package structure

import (
	"fmt"
	"regexp"

	"github.com/mesh-intelligence/shelf/internal/fieldtype"
	"github.com/mesh-intelligence/shelf/pkg/types"
)

var slugPattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_-]*$`)

// reservedSlugs name a record's own identity and cannot be declared.
var reservedSlugs = map[string]bool{"id": true}

// ValidSlug reports whether slug may name a field or a record space.
func ValidSlug(slug string) bool {
	return slugPattern.MatchString(slug) && !reservedSlugs[types.SlugKey(slug)]
}

// Validate checks an incoming structure before any storage call. Every
// problem is reported, not just the first.
func Validate(fields []types.FieldDeclaration) error {
	var errs types.Errors
	if len(fields) == 0 {
		errs.Append(fmt.Errorf("%w: no fields declared", types.ErrInvalidStructure))
	}
	seen := make(map[string]bool, len(fields))
	for _, f := range fields {
		if !ValidSlug(f.Slug) {
			errs.Append(fmt.Errorf("%w: %q", types.ErrInvalidSlug, f.Slug))
		}
		key := types.SlugKey(f.Slug)
		if seen[key] {
			errs.Append(fmt.Errorf("%w: %q", types.ErrDuplicateSlug, f.Slug))
		}
		seen[key] = true

		rule, ok := fieldtype.Lookup(f.Type)
		if !ok {
			errs.Append(fmt.Errorf("%w: %q for field %q", types.ErrInvalidFieldType, f.Type, f.Slug))
			continue
		}
		if f.Hashed && !rule.Hashable {
			errs.Append(fmt.Errorf("%w: field %q of type %s cannot be hashed", types.ErrInvalidStructure, f.Slug, f.Type))
		}
		if f.Default != nil {
			if _, err := rule.Validate(f.Default); err != nil {
				errs.Append(fmt.Errorf("default of field %q: %w", f.Slug, err))
			}
		}
	}
	return errs.Err()
}
