package types

import "time"

// SpaceKind distinguishes row-oriented spaces from single-record spaces.
type SpaceKind string

// Record space kinds.
const (
	SpaceKindRows   SpaceKind = "rows"
	SpaceKindSingle SpaceKind = "single"
)

// RecordSpace is a project-scoped, dynamically declared collection of
// records. Fingerprint always equals the structure hash of Fields.
type RecordSpace struct {
	SpaceID         string            `json:"_id"`
	ProjectSlug     string            `json:"project_slug"`
	Slug            string            `json:"slug"`
	Kind            SpaceKind         `json:"kind"`
	Fields          []FieldDefinition `json:"fields"`
	Fingerprint     string            `json:"fingerprint"`
	HasHashedFields bool              `json:"has_hashed_fields"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// Field returns the field whose slug matches slug case-insensitively.
func (s *RecordSpace) Field(slug string) (FieldDefinition, bool) {
	key := SlugKey(slug)
	for _, f := range s.Fields {
		if SlugKey(f.Slug) == key {
			return f, true
		}
	}
	return FieldDefinition{}, false
}

// FieldsByID indexes the space's fields by field id.
func (s *RecordSpace) FieldsByID() map[string]FieldDefinition {
	byID := make(map[string]FieldDefinition, len(s.Fields))
	for _, f := range s.Fields {
		byID[f.FieldID] = f
	}
	return byID
}

// Slugs returns the field slugs in declaration order.
func (s *RecordSpace) Slugs() []string {
	slugs := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		slugs[i] = f.Slug
	}
	return slugs
}
