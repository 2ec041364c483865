package structure

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/shelf/pkg/types"
)

func TestValidateAcceptsWellFormedStructure(t *testing.T) {
	assert.NoError(t, Validate(baseStructure()))
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name   string
		fields []types.FieldDeclaration
		want   error
	}{
		{"empty", nil, types.ErrInvalidStructure},
		{"duplicate slug", []types.FieldDeclaration{
			{Slug: "name", Type: types.FieldTypeText},
			{Slug: "Name", Type: types.FieldTypeText},
		}, types.ErrDuplicateSlug},
		{"invalid slug", []types.FieldDeclaration{{Slug: "1abc", Type: types.FieldTypeText}}, types.ErrInvalidSlug},
		{"reserved slug", []types.FieldDeclaration{{Slug: "id", Type: types.FieldTypeText}}, types.ErrInvalidSlug},
		{"underscore prefix", []types.FieldDeclaration{{Slug: "_limit", Type: types.FieldTypeText}}, types.ErrInvalidSlug},
		{"unknown type", []types.FieldDeclaration{{Slug: "a", Type: "date"}}, types.ErrInvalidFieldType},
		{"hashed number", []types.FieldDeclaration{{Slug: "a", Type: types.FieldTypeNumber, Hashed: true}}, types.ErrInvalidStructure},
		{"bad default", []types.FieldDeclaration{{Slug: "a", Type: types.FieldTypeBoolean, Default: "yes"}}, types.ErrTypeMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.fields)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
			assert.ErrorIs(t, err, types.ErrValidation)
		})
	}
}

func TestValidateAccumulates(t *testing.T) {
	err := Validate([]types.FieldDeclaration{
		{Slug: "a", Type: "date"},
		{Slug: "a", Type: types.FieldTypeText},
		{Slug: "b c", Type: types.FieldTypeText},
	})
	var list types.Errors
	require.True(t, errors.As(err, &list))
	assert.Len(t, list, 3)
}
