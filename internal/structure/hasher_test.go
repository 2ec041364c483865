package structure

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mesh-intelligence/shelf/pkg/types"
)

func baseStructure() []types.FieldDeclaration {
	return []types.FieldDeclaration{
		{Slug: "name", Type: types.FieldTypeText, Required: true},
		{Slug: "email", Type: types.FieldTypeText, Unique: true},
		{Slug: "password", Type: types.FieldTypeText, Hashed: true},
		{Slug: "age", Type: types.FieldTypeNumber, Default: float64(18)},
	}
}

func TestHashIgnoresOrderAndSlugCase(t *testing.T) {
	a := baseStructure()
	b := []types.FieldDeclaration{a[3], a[1], a[0], a[2]}
	b[1].Slug = "EMAIL"
	// 18 decoded as an int and as a float64 encode the same.
	b[0].Default = 18

	assert.Equal(t, Hash(a), Hash(b))
	assert.Len(t, Hash(a), 32)
}

func TestHashDetectsEveryAttributeChange(t *testing.T) {
	base := Hash(baseStructure())
	tests := []struct {
		name   string
		mutate func([]types.FieldDeclaration) []types.FieldDeclaration
	}{
		{"type", func(f []types.FieldDeclaration) []types.FieldDeclaration { f[3].Type = types.FieldTypeText; return f }},
		{"required", func(f []types.FieldDeclaration) []types.FieldDeclaration { f[0].Required = false; return f }},
		{"unique", func(f []types.FieldDeclaration) []types.FieldDeclaration { f[0].Unique = true; return f }},
		{"hashed", func(f []types.FieldDeclaration) []types.FieldDeclaration { f[2].Hashed = false; return f }},
		{"default", func(f []types.FieldDeclaration) []types.FieldDeclaration { f[3].Default = float64(21); return f }},
		{"slug", func(f []types.FieldDeclaration) []types.FieldDeclaration { f[0].Slug = "title"; return f }},
		{"added field", func(f []types.FieldDeclaration) []types.FieldDeclaration {
			return append(f, types.FieldDeclaration{Slug: "x", Type: types.FieldTypeBoolean})
		}},
		{"removed field", func(f []types.FieldDeclaration) []types.FieldDeclaration { return f[:3] }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NotEqual(t, base, Hash(tt.mutate(baseStructure())))
		})
	}
}

func TestHashDefinitionsMatchesDeclarations(t *testing.T) {
	decls := baseStructure()
	defs := make([]types.FieldDefinition, len(decls))
	for i, d := range decls {
		defs[i] = definition("id", d, fixedNow)
	}
	assert.Equal(t, Hash(decls), HashDefinitions(defs))
}
