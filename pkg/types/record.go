package types

import "time"

// FieldContent holds the value of one field of a record. Exactly one slot is
// populated, and it matches the declared type of the referenced field.
type FieldContent struct {
	FieldID string         `json:"field_id"`
	Text    *string        `json:"text,omitempty"`
	Number  *float64       `json:"number,omitempty"`
	Boolean *bool          `json:"boolean,omitempty"`
	Object  map[string]any `json:"object"`
	Array   []any          `json:"array"`
}

// Value returns the populated slot's value, or nil if no slot is populated.
func (c FieldContent) Value() any {
	switch {
	case c.Text != nil:
		return *c.Text
	case c.Number != nil:
		return *c.Number
	case c.Boolean != nil:
		return *c.Boolean
	case c.Object != nil:
		return c.Object
	case c.Array != nil:
		return c.Array
	default:
		return nil
	}
}

// Populated returns how many slots hold a value.
func (c FieldContent) Populated() int {
	n := 0
	if c.Text != nil {
		n++
	}
	if c.Number != nil {
		n++
	}
	if c.Boolean != nil {
		n++
	}
	if c.Object != nil {
		n++
	}
	if c.Array != nil {
		n++
	}
	return n
}

// Record is a canonical stored document of a record space. No two entries
// of Fields reference the same field id.
type Record struct {
	RecordID  string         `json:"_id"`
	SpaceID   string         `json:"space_id"`
	Fields    []FieldContent `json:"fields"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Content returns the content entry for fieldID.
func (r *Record) Content(fieldID string) (FieldContent, bool) {
	for _, c := range r.Fields {
		if c.FieldID == fieldID {
			return c, true
		}
	}
	return FieldContent{}, false
}

// Merge replaces the content of every field present in incoming and keeps
// all other entries as they were.
func (r *Record) Merge(incoming []FieldContent) {
	index := make(map[string]int, len(r.Fields))
	for i, c := range r.Fields {
		index[c.FieldID] = i
	}
	for _, c := range incoming {
		if i, ok := index[c.FieldID]; ok {
			r.Fields[i] = c
			continue
		}
		index[c.FieldID] = len(r.Fields)
		r.Fields = append(r.Fields, c)
	}
}

// RecordDump is the slug-keyed, denormalized read copy of a record. Hashed
// fields never appear in Data.
type RecordDump struct {
	RecordID  string         `json:"_id"`
	SpaceID   string         `json:"space_id"`
	Data      map[string]any `json:"data"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Flat returns the dump as a single object: the record's data plus its
// identity and timestamps under reserved keys.
func (d *RecordDump) Flat() map[string]any {
	flat := make(map[string]any, len(d.Data)+3)
	for k, v := range d.Data {
		flat[k] = v
	}
	flat["_id"] = d.RecordID
	flat["_created_at"] = d.CreatedAt
	flat["_updated_at"] = d.UpdatedAt
	return flat
}
