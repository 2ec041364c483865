// Package fieldtype maps each declared field type to its content slot, the
// validator applied to command values, and the coercion applied to query
// values.
package fieldtype

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/goccy/go-json"

	"github.com/mesh-intelligence/shelf/pkg/types"
)

// Content slot names, matching the FieldContent document keys.
const (
	SlotText    = "text"
	SlotNumber  = "number"
	SlotBoolean = "boolean"
	SlotObject  = "object"
	SlotArray   = "array"
)

// Rule is the fixed behavior attached to a declared type.
type Rule struct {
	Type types.FieldType
	Slot string
	// Hashable reports whether fields of this type may be declared hashed.
	Hashable bool
	// validate checks a command value and returns its canonical form.
	validate func(v any) (any, error)
	// coerce converts a raw query value (string or JSON value) to the
	// canonical form.
	coerce func(raw any) (any, error)
	// fill stores a canonical value in its slot.
	fill func(c *types.FieldContent, v any)
}

var registry = map[types.FieldType]Rule{
	types.FieldTypeText: {
		Type:     types.FieldTypeText,
		Slot:     SlotText,
		Hashable: true,
		validate: validateText,
		coerce:   validateText,
		fill: func(c *types.FieldContent, v any) {
			s := v.(string)
			c.Text = &s
		},
	},
	types.FieldTypeNumber: {
		Type:     types.FieldTypeNumber,
		Slot:     SlotNumber,
		validate: validateNumber,
		coerce:   coerceNumber,
		fill: func(c *types.FieldContent, v any) {
			n := v.(float64)
			c.Number = &n
		},
	},
	types.FieldTypeBoolean: {
		Type:     types.FieldTypeBoolean,
		Slot:     SlotBoolean,
		validate: validateBoolean,
		coerce:   coerceBoolean,
		fill: func(c *types.FieldContent, v any) {
			b := v.(bool)
			c.Boolean = &b
		},
	},
	types.FieldTypeObject: {
		Type:     types.FieldTypeObject,
		Slot:     SlotObject,
		validate: validateObject,
		coerce:   coerceObject,
		fill: func(c *types.FieldContent, v any) {
			c.Object = v.(map[string]any)
		},
	},
	types.FieldTypeArray: {
		Type:     types.FieldTypeArray,
		Slot:     SlotArray,
		validate: validateArray,
		coerce:   coerceArray,
		fill: func(c *types.FieldContent, v any) {
			c.Array = v.([]any)
		},
	},
}

// Lookup returns the rule for t.
func Lookup(t types.FieldType) (Rule, bool) {
	r, ok := registry[t]
	return r, ok
}

// MustLookup returns the rule for t and panics for an unknown type. Field
// definitions are validated on the way in, so an unknown type here is a bug.
func MustLookup(t types.FieldType) Rule {
	r, ok := registry[t]
	if !ok {
		panic(fmt.Sprintf("fieldtype: unknown field type %q", t))
	}
	return r
}

// Validate checks a command value against the rule and returns its
// canonical form.
func (r Rule) Validate(v any) (any, error) {
	return r.validate(v)
}

// Coerce converts a raw query value to the rule's canonical form.
func (r Rule) Coerce(raw any) (any, error) {
	return r.coerce(raw)
}

// Content builds the field content entry for a canonical value.
func (r Rule) Content(fieldID string, v any) types.FieldContent {
	c := types.FieldContent{FieldID: fieldID}
	r.fill(&c, v)
	return c
}

// Infer returns the field type matching a decoded JSON value.
func Infer(v any) (types.FieldType, bool) {
	switch v.(type) {
	case string:
		return types.FieldTypeText, true
	case float64, float32, int, int32, int64:
		return types.FieldTypeNumber, true
	case bool:
		return types.FieldTypeBoolean, true
	case map[string]any:
		return types.FieldTypeObject, true
	case []any:
		return types.FieldTypeArray, true
	default:
		return "", false
	}
}

// TypeName names the JSON type of v for error messages.
func TypeName(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case float64, float32, int, int32, int64:
		return "number"
	case bool:
		return "boolean"
	case map[string]any:
		return "object"
	case []any:
		return "array"
	default:
		return fmt.Sprintf("%T", v)
	}
}

func mismatch(want string, v any) error {
	return fmt.Errorf("%w: expected %s, got %s", types.ErrTypeMismatch, want, TypeName(v))
}

func validateText(v any) (any, error) {
	s, ok := v.(string)
	if !ok {
		return nil, mismatch("string", v)
	}
	return s, nil
}

func validateNumber(v any) (any, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int32:
		return float64(n), nil
	case int64:
		return float64(n), nil
	default:
		return nil, mismatch("number", v)
	}
}

func coerceNumber(raw any) (any, error) {
	if s, ok := raw.(string); ok {
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: expected number, got %q", types.ErrTypeMismatch, s)
		}
		return f, nil
	}
	return validateNumber(raw)
}

func validateBoolean(v any) (any, error) {
	b, ok := v.(bool)
	if !ok {
		return nil, mismatch("boolean", v)
	}
	return b, nil
}

func coerceBoolean(raw any) (any, error) {
	if s, ok := raw.(string); ok {
		switch strings.ToLower(strings.TrimSpace(s)) {
		case "true":
			return true, nil
		case "false":
			return false, nil
		default:
			return nil, fmt.Errorf("%w: expected \"true\" or \"false\", got %q", types.ErrTypeMismatch, s)
		}
	}
	return validateBoolean(raw)
}

func validateObject(v any) (any, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return nil, mismatch("object", v)
	}
	return m, nil
}

func coerceObject(raw any) (any, error) {
	if s, ok := raw.(string); ok {
		var m map[string]any
		if err := json.Unmarshal([]byte(s), &m); err != nil || m == nil {
			return nil, fmt.Errorf("%w: expected JSON object, got %q", types.ErrTypeMismatch, s)
		}
		return m, nil
	}
	return validateObject(raw)
}

func validateArray(v any) (any, error) {
	a, ok := v.([]any)
	if !ok {
		return nil, mismatch("array", v)
	}
	return a, nil
}

func coerceArray(raw any) (any, error) {
	if s, ok := raw.(string); ok {
		var a []any
		if err := json.Unmarshal([]byte(s), &a); err != nil || a == nil {
			return nil, fmt.Errorf("%w: expected JSON array, got %q", types.ErrTypeMismatch, s)
		}
		return a, nil
	}
	return validateArray(raw)
}

// SlotOf names the populated slot of c, or "" when it is not exactly one.
func SlotOf(c types.FieldContent) string {
	if c.Populated() != 1 {
		return ""
	}
	switch {
	case c.Text != nil:
		return SlotText
	case c.Number != nil:
		return SlotNumber
	case c.Boolean != nil:
		return SlotBoolean
	case c.Object != nil:
		return SlotObject
	default:
		return SlotArray
	}
}
