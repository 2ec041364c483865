package fieldtype

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/shelf/pkg/types"
)

func TestEveryTypeHasARule(t *testing.T) {
	for _, ft := range types.FieldTypes {
		r, ok := Lookup(ft)
		require.True(t, ok, "missing rule for %s", ft)
		assert.Equal(t, ft, r.Type)
		assert.NotEmpty(t, r.Slot)
	}
	_, ok := Lookup("date")
	assert.False(t, ok)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		ft      types.FieldType
		in      any
		want    any
		wantErr bool
	}{
		{name: "text accepts string", ft: types.FieldTypeText, in: "x", want: "x"},
		{name: "text rejects number", ft: types.FieldTypeText, in: 1.0, wantErr: true},
		{name: "number accepts float", ft: types.FieldTypeNumber, in: 2.5, want: 2.5},
		{name: "number widens int", ft: types.FieldTypeNumber, in: 3, want: 3.0},
		{name: "number rejects numeric string", ft: types.FieldTypeNumber, in: "3", wantErr: true},
		{name: "boolean accepts bool", ft: types.FieldTypeBoolean, in: true, want: true},
		{name: "boolean rejects string form", ft: types.FieldTypeBoolean, in: "true", wantErr: true},
		{name: "object accepts map", ft: types.FieldTypeObject, in: map[string]any{"a": 1.0}, want: map[string]any{"a": 1.0}},
		{name: "object rejects array", ft: types.FieldTypeObject, in: []any{}, wantErr: true},
		{name: "array accepts slice", ft: types.FieldTypeArray, in: []any{"a"}, want: []any{"a"}},
		{name: "array rejects null", ft: types.FieldTypeArray, in: nil, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := MustLookup(tt.ft).Validate(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, types.ErrTypeMismatch)
				assert.ErrorIs(t, err, types.ErrValidation)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCoerce(t *testing.T) {
	tests := []struct {
		name    string
		ft      types.FieldType
		in      any
		want    any
		wantErr bool
	}{
		{name: "boolean true string", ft: types.FieldTypeBoolean, in: "true", want: true},
		{name: "boolean FALSE string", ft: types.FieldTypeBoolean, in: "FALSE", want: false},
		{name: "boolean yes rejected", ft: types.FieldTypeBoolean, in: "yes", wantErr: true},
		{name: "number string", ft: types.FieldTypeNumber, in: " 42 ", want: 42.0},
		{name: "number garbage", ft: types.FieldTypeNumber, in: "4x", wantErr: true},
		{name: "array json", ft: types.FieldTypeArray, in: `["a",1]`, want: []any{"a", 1.0}},
		{name: "array not json", ft: types.FieldTypeArray, in: `a,b`, wantErr: true},
		{name: "object json", ft: types.FieldTypeObject, in: `{"k":"v"}`, want: map[string]any{"k": "v"}},
		{name: "object null", ft: types.FieldTypeObject, in: `null`, wantErr: true},
		{name: "text passthrough", ft: types.FieldTypeText, in: "hello", want: "hello"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := MustLookup(tt.ft).Coerce(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, types.ErrTypeMismatch)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestContentPopulatesExactlyOneSlot(t *testing.T) {
	values := map[types.FieldType]any{
		types.FieldTypeText:    "x",
		types.FieldTypeNumber:  1.0,
		types.FieldTypeBoolean: false,
		types.FieldTypeObject:  map[string]any{},
		types.FieldTypeArray:   []any{},
	}
	for ft, v := range values {
		c := MustLookup(ft).Content("f1", v)
		assert.Equal(t, "f1", c.FieldID)
		assert.Equal(t, 1, c.Populated(), "type %s", ft)
		assert.Equal(t, v, c.Value())
	}
}

func TestInfer(t *testing.T) {
	cases := map[string]struct {
		in   any
		want types.FieldType
		ok   bool
	}{
		"string": {"x", types.FieldTypeText, true},
		"number": {1.5, types.FieldTypeNumber, true},
		"bool":   {true, types.FieldTypeBoolean, true},
		"object": {map[string]any{}, types.FieldTypeObject, true},
		"array":  {[]any{}, types.FieldTypeArray, true},
		"null":   {nil, "", false},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			got, ok := Infer(tc.in)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestOnlyTextIsHashable(t *testing.T) {
	for _, ft := range types.FieldTypes {
		assert.Equal(t, ft == types.FieldTypeText, MustLookup(ft).Hashable, "type %s", ft)
	}
}

func TestSlotOf(t *testing.T) {
	for _, ft := range types.FieldTypes {
		rule := MustLookup(ft)
		var v any
		switch ft {
		case types.FieldTypeText:
			v = "x"
		case types.FieldTypeNumber:
			v = 1.0
		case types.FieldTypeBoolean:
			v = false
		case types.FieldTypeObject:
			v = map[string]any{}
		case types.FieldTypeArray:
			v = []any{}
		}
		assert.Equal(t, rule.Slot, SlotOf(rule.Content("f", v)), "type %s", ft)
	}
	assert.Empty(t, SlotOf(types.FieldContent{FieldID: "f"}))
}
