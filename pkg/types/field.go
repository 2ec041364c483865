package types

import (
	"strings"
	"time"
)

// FieldType is the declared type of a field. It selects the content slot a
// value is stored in and the rules used to validate and coerce it.
type FieldType string

// Declared field types.
const (
	FieldTypeText    FieldType = "text"
	FieldTypeNumber  FieldType = "number"
	FieldTypeBoolean FieldType = "boolean"
	FieldTypeObject  FieldType = "object"
	FieldTypeArray   FieldType = "array"
)

// FieldTypes lists every declared type in a stable order.
var FieldTypes = []FieldType{
	FieldTypeText,
	FieldTypeNumber,
	FieldTypeBoolean,
	FieldTypeObject,
	FieldTypeArray,
}

// IsValid reports whether t is a recognized field type.
func (t FieldType) IsValid() bool {
	switch t {
	case FieldTypeText, FieldTypeNumber, FieldTypeBoolean, FieldTypeObject, FieldTypeArray:
		return true
	default:
		return false
	}
}

// FieldDeclaration is one entry of an incoming field structure, as sent by a
// client in the structure header or inferred from a document.
type FieldDeclaration struct {
	Slug     string    `json:"slug"`
	Type     FieldType `json:"type"`
	Required bool      `json:"required,omitempty"`
	Unique   bool      `json:"unique,omitempty"`
	Hashed   bool      `json:"hashed,omitempty"`
	Default  any       `json:"default,omitempty"`
}

// FieldDefinition is a stored field of a record space. Stored content refers
// to a field by FieldID, never by Slug.
type FieldDefinition struct {
	FieldID   string    `json:"field_id"`
	Slug      string    `json:"slug"`
	Type      FieldType `json:"type"`
	Required  bool      `json:"required"`
	Unique    bool      `json:"unique"`
	Hashed    bool      `json:"hashed"`
	Default   any       `json:"default,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Declaration returns the declaration this definition currently satisfies.
func (f FieldDefinition) Declaration() FieldDeclaration {
	return FieldDeclaration{
		Slug:     f.Slug,
		Type:     f.Type,
		Required: f.Required,
		Unique:   f.Unique,
		Hashed:   f.Hashed,
		Default:  f.Default,
	}
}

// SlugKey normalizes a slug for case-insensitive comparison.
func SlugKey(slug string) string {
	return strings.ToLower(strings.TrimSpace(slug))
}
