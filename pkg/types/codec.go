package types

import (
	"fmt"

	"github.com/goccy/go-json"
)

// ToDocument converts an entity into its stored document form.
func ToDocument(v any) (Document, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshaling %T: %w", v, err)
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decoding %T document: %w", v, err)
	}
	return doc, nil
}

// FromDocument decodes a stored document into an entity.
func FromDocument(doc Document, v any) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshaling document: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decoding document into %T: %w", v, err)
	}
	return nil
}
