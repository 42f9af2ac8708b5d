package crud

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/google/jsonschema-go/jsonschema"
)

// Schema is a resolved JSON Schema describing the shape of one object.
type Schema struct {
	schema   *jsonschema.Schema
	resolved *jsonschema.Resolved
}

// NewSchema resolves s for validation.
func NewSchema(s *jsonschema.Schema) (*Schema, error) {
	if s == nil {
		return nil, fmt.Errorf("crud: nil schema")
	}
	resolved, err := s.Resolve(&jsonschema.ResolveOptions{})
	if err != nil {
		return nil, fmt.Errorf("resolve schema: %w", err)
	}
	return &Schema{schema: s, resolved: resolved}, nil
}

// ParseSchema resolves a JSON Schema document.
func ParseSchema(data []byte) (*Schema, error) {
	var s jsonschema.Schema
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}
	return NewSchema(&s)
}

// MustSchema is like NewSchema but panics on error.
func MustSchema(s *jsonschema.Schema) *Schema {
	schema, err := NewSchema(s)
	if err != nil {
		panic(err)
	}
	return schema
}

// JSONSchema returns the underlying schema document.
func (s *Schema) JSONSchema() *jsonschema.Schema { return s.schema }

// Has reports whether the schema declares property name.
func (s *Schema) Has(name string) bool {
	_, ok := s.schema.Properties[name]
	return ok
}

// Properties returns the declared property names, sorted.
func (s *Schema) Properties() []string {
	names := make([]string, 0, len(s.schema.Properties))
	for name := range s.schema.Properties {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// PropertyType returns the first non-null JSON type declared for property
// name, or "" when the property is untyped or undeclared.
func (s *Schema) PropertyType(name string) string {
	prop, ok := s.schema.Properties[name]
	if !ok || prop == nil {
		return ""
	}
	if prop.Type != "" {
		return prop.Type
	}
	for _, t := range prop.Types {
		if t != "null" {
			return t
		}
	}
	return ""
}

// Validate checks a JSON-compatible value (maps, slices, float64, string,
// bool, nil) against the schema.
func (s *Schema) Validate(v any) error {
	return s.resolved.Validate(v)
}

// Shape converts v into the declared object shape: v is normalized to its
// JSON representation, undeclared properties are dropped and the result is
// validated. Numbers are kept as json.Number so integers beyond 2^53 keep
// their exact value. A failure is returned as *ShapeError.
func (s *Schema) Shape(v any) (Row, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, &ShapeError{Err: fmt.Errorf("marshal row: %w", err)}
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return nil, &ShapeError{Err: fmt.Errorf("row is not an object: %w", err)}
	}

	if len(s.schema.Properties) > 0 {
		for name := range obj {
			if !s.Has(name) {
				delete(obj, name)
			}
		}
	}

	if err := s.Validate(validationForm(obj)); err != nil {
		return nil, &ShapeError{Err: err}
	}
	return obj, nil
}

// ShapeList shapes every row, preserving order. The result is never nil.
func (s *Schema) ShapeList(rows []Row) ([]Row, error) {
	shaped := make([]Row, 0, len(rows))
	for i, row := range rows {
		obj, err := s.Shape(row)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		shaped = append(shaped, obj)
	}
	return shaped, nil
}
