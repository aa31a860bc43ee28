package schema

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Tuple returns the field in its 6-tuple wire shape.
func (f Field) Tuple() []any {
	return []any{f.Alias, string(f.Type), f.PK, f.Table, f.Name, f.Scale}
}

// FieldFromTuple parses a 6-tuple. Numbers may arrive as int (YAML) or
// float64 (JSON).
func FieldFromTuple(t []any) (Field, error) {
	if len(t) != 6 {
		return Field{}, fmt.Errorf("field tuple has %d elements, want 6", len(t))
	}
	alias, ok := t[0].(string)
	if !ok {
		return Field{}, fmt.Errorf("alias: want string, got %T", t[0])
	}
	codeStr, ok := t[1].(string)
	if !ok {
		return Field{}, fmt.Errorf("field %q: type code: want string, got %T", alias, t[1])
	}
	code, err := ParseTypeCode(codeStr)
	if err != nil {
		return Field{}, fmt.Errorf("field %q: %w", alias, err)
	}
	pk, ok := t[2].(bool)
	if !ok {
		return Field{}, fmt.Errorf("field %q: pk flag: want bool, got %T", alias, t[2])
	}
	table, ok := t[3].(string)
	if !ok {
		return Field{}, fmt.Errorf("field %q: table: want string, got %T", alias, t[3])
	}
	name, ok := t[4].(string)
	if !ok {
		return Field{}, fmt.Errorf("field %q: name: want string, got %T", alias, t[4])
	}
	var scale int
	switch s := t[5].(type) {
	case int:
		scale = s
	case int64:
		scale = int(s)
	case float64:
		scale = int(s)
	case nil:
	default:
		return Field{}, fmt.Errorf("field %q: scale: want number, got %T", alias, t[5])
	}
	return Field{Alias: alias, Type: code, PK: pk, Table: table, Name: name, Scale: scale}, nil
}

// Tuples returns the descriptor in wire shape.
func (d *Descriptor) Tuples() [][]any {
	out := make([][]any, d.Len())
	for i, f := range d.Fields() {
		out[i] = f.Tuple()
	}
	return out
}

// FromTuples parses a wire-shape descriptor.
func FromTuples(tuples [][]any) (*Descriptor, error) {
	fields := make([]Field, len(tuples))
	for i, t := range tuples {
		f, err := FieldFromTuple(t)
		if err != nil {
			return nil, fmt.Errorf("field %d: %w", i, err)
		}
		fields[i] = f
	}
	return NewDescriptor(fields...)
}

// MarshalYAML implements yaml.Marshaler.
func (d *Descriptor) MarshalYAML() (any, error) {
	return d.Tuples(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Descriptor) UnmarshalYAML(node *yaml.Node) error {
	var tuples [][]any
	if err := node.Decode(&tuples); err != nil {
		return fmt.Errorf("schema: %w", err)
	}
	parsed, err := FromTuples(tuples)
	if err != nil {
		return fmt.Errorf("schema: %w", err)
	}
	*d = *parsed
	return nil
}

// MarshalJSON implements json.Marshaler.
func (d *Descriptor) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Tuples())
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Descriptor) UnmarshalJSON(data []byte) error {
	var tuples [][]any
	if err := json.Unmarshal(data, &tuples); err != nil {
		return fmt.Errorf("schema: %w", err)
	}
	parsed, err := FromTuples(tuples)
	if err != nil {
		return fmt.Errorf("schema: %w", err)
	}
	*d = *parsed
	return nil
}
