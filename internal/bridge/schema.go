package bridge

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// FieldType is the primitive kind of a schema field.
type FieldType string

const (
	TypeString  FieldType = "string"
	TypeInteger FieldType = "integer"
	TypeNumber  FieldType = "number"
	TypeBoolean FieldType = "boolean"
	TypeArray   FieldType = "array"
)

// FormatDateTime marks a string field that must hold an RFC 3339 timestamp.
const FormatDateTime = "date-time"

func (t FieldType) valid() bool {
	switch t {
	case TypeString, TypeInteger, TypeNumber, TypeBoolean, TypeArray:
		return true
	}
	return false
}

// Field describes one named argument of an operation.
type Field struct {
	Name        string
	Type        FieldType
	Required    bool
	Description string
	Enum        []string
	Minimum     *float64
	Maximum     *float64
	// MinLength and MaxLength count characters of a string or items of an
	// array.
	MinLength *int
	MaxLength *int
	Format    string
	// Items is the element type of an array field.
	Items   FieldType
	Default any
}

// Schema is the input description of an operation. Field order is significant:
// validation walks fields in declaration order and stops at the first violation.
type Schema struct {
	Fields []Field
}

// FieldOption configures a Field.
type FieldOption func(*Field)

func newField(name string, t FieldType, opts []FieldOption) Field {
	f := Field{Name: name, Type: t}
	for _, opt := range opts {
		opt(&f)
	}
	return f
}

func StringField(name string, opts ...FieldOption) Field {
	return newField(name, TypeString, opts)
}

func IntegerField(name string, opts ...FieldOption) Field {
	return newField(name, TypeInteger, opts)
}

func NumberField(name string, opts ...FieldOption) Field {
	return newField(name, TypeNumber, opts)
}

func BooleanField(name string, opts ...FieldOption) Field {
	return newField(name, TypeBoolean, opts)
}

// ArrayField declares a list whose elements all have the given type.
func ArrayField(name string, items FieldType, opts ...FieldOption) Field {
	f := newField(name, TypeArray, opts)
	f.Items = items
	return f
}

func Required() FieldOption {
	return func(f *Field) { f.Required = true }
}

func Describe(description string) FieldOption {
	return func(f *Field) { f.Description = description }
}

// OneOf restricts a string field to the given values.
func OneOf(values ...string) FieldOption {
	return func(f *Field) { f.Enum = values }
}

func Min(v float64) FieldOption {
	return func(f *Field) { f.Minimum = &v }
}

func Max(v float64) FieldOption {
	return func(f *Field) { f.Maximum = &v }
}

func MinLength(n int) FieldOption {
	return func(f *Field) { f.MinLength = &n }
}

func MaxLength(n int) FieldOption {
	return func(f *Field) { f.MaxLength = &n }
}

func Format(format string) FieldOption {
	return func(f *Field) { f.Format = format }
}

func Default(v any) FieldOption {
	return func(f *Field) { f.Default = v }
}

// Field returns the named field.
func (s Schema) Field(name string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// RequiredNames lists required fields in declaration order.
func (s Schema) RequiredNames() []string {
	var names []string
	for _, f := range s.Fields {
		if f.Required {
			names = append(names, f.Name)
		}
	}
	return names
}

func (s Schema) check() error {
	seen := make(map[string]bool, len(s.Fields))
	for _, f := range s.Fields {
		if f.Name == "" {
			return fmt.Errorf("field with empty name")
		}
		if seen[f.Name] {
			return fmt.Errorf("field %q declared twice", f.Name)
		}
		seen[f.Name] = true
		if !f.Type.valid() {
			return fmt.Errorf("field %q has unknown type %q", f.Name, f.Type)
		}
		if len(f.Enum) > 0 && f.Type != TypeString {
			return fmt.Errorf("field %q: enum is only supported on strings", f.Name)
		}
		if f.Type == TypeArray && (!f.Items.valid() || f.Items == TypeArray) {
			return fmt.Errorf("field %q: array needs a primitive item type", f.Name)
		}
	}
	return nil
}

// clone copies the schema deeply enough that no slice or pointer is shared
// with the original.
func (s Schema) clone() Schema {
	if s.Fields == nil {
		return Schema{}
	}
	fields := make([]Field, len(s.Fields))
	for i, f := range s.Fields {
		f.Enum = slices.Clone(f.Enum)
		f.Minimum = clonePtr(f.Minimum)
		f.Maximum = clonePtr(f.Maximum)
		f.MinLength = clonePtr(f.MinLength)
		f.MaxLength = clonePtr(f.MaxLength)
		if items, ok := f.Default.([]any); ok {
			f.Default = slices.Clone(items)
		}
		fields[i] = f
	}
	return Schema{Fields: fields}
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// JSONSchema renders the schema as a JSON Schema object. The result is shared
// by the MCP tool listings and the OpenAPI document.
func (s Schema) JSONSchema() map[string]any {
	out := map[string]any{
		"type":       "object",
		"properties": s.Properties(),
	}
	if required := s.RequiredNames(); len(required) > 0 {
		out["required"] = required
	}
	return out
}

// Properties renders only the per-field JSON Schema fragments.
func (s Schema) Properties() map[string]any {
	props := make(map[string]any, len(s.Fields))
	for _, f := range s.Fields {
		props[f.Name] = f.jsonSchema()
	}
	return props
}

func (f Field) jsonSchema() map[string]any {
	p := map[string]any{"type": string(f.Type)}
	if f.Description != "" {
		p["description"] = f.Description
	}
	if len(f.Enum) > 0 {
		p["enum"] = f.Enum
	}
	if f.Minimum != nil {
		p["minimum"] = *f.Minimum
	}
	if f.Maximum != nil {
		p["maximum"] = *f.Maximum
	}
	minKey, maxKey := "minLength", "maxLength"
	if f.Type == TypeArray {
		minKey, maxKey = "minItems", "maxItems"
	}
	if f.MinLength != nil {
		p[minKey] = *f.MinLength
	}
	if f.MaxLength != nil {
		p[maxKey] = *f.MaxLength
	}
	if f.Format != "" {
		p["format"] = f.Format
	}
	if f.Default != nil {
		p["default"] = f.Default
	}
	if f.Type == TypeArray {
		p["items"] = map[string]any{"type": string(f.Items)}
	}
	return p
}

// Coerce converts string arguments (URI template variables, prompt arguments)
// into the types the schema declares. Values that do not parse are passed
// through unchanged so validation reports them.
func (s Schema) Coerce(raw map[string]string) map[string]any {
	out := make(map[string]any, len(raw))
	for name, v := range raw {
		f, ok := s.Field(name)
		if !ok {
			out[name] = v
			continue
		}
		out[name] = coerceString(f.Type, v)
	}
	return out
}

func coerceString(t FieldType, v string) any {
	switch t {
	case TypeInteger:
		if n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			return n
		}
	case TypeNumber:
		if n, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return n
		}
	case TypeBoolean:
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			return b
		}
	}
	return v
}
