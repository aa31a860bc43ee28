// Package schema describes the fields of a cursor's result set.
//
// A Descriptor is an ordered list of Fields. Its persisted form is a list of
// 6-tuples (alias, typeCode, isPrimaryKey, tableName, fieldName, scale), the
// same shape in YAML and JSON.
//
// Values carried in rows use one Go representation per TypeCode:
//
//	C, M  string ([]byte for undecodable blobs)
//	N     *apd.Decimal
//	I, L  int64
//	B     bool
//	D, T  time.Time
//
// nil is accepted for every type and stands for SQL NULL.
package schema

import (
	"fmt"
	"strings"
)

// TypeCode identifies a field's data type.
type TypeCode string

const (
	TypeChar     TypeCode = "C"
	TypeNumeric  TypeCode = "N"
	TypeInt      TypeCode = "I"
	TypeBool     TypeCode = "B"
	TypeDate     TypeCode = "D"
	TypeDateTime TypeCode = "T"
	TypeLong     TypeCode = "L"
	TypeMemo     TypeCode = "M"
)

var typeNames = map[TypeCode]string{
	TypeChar:     "character",
	TypeNumeric:  "numeric",
	TypeInt:      "integer",
	TypeBool:     "boolean",
	TypeDate:     "date",
	TypeDateTime: "datetime",
	TypeLong:     "long",
	TypeMemo:     "memo",
}

// ParseTypeCode accepts a single-letter code or its long name.
func ParseTypeCode(s string) (TypeCode, error) {
	up := TypeCode(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := typeNames[up]; ok {
		return up, nil
	}
	lower := strings.ToLower(strings.TrimSpace(s))
	for code, name := range typeNames {
		if name == lower {
			return code, nil
		}
	}
	return "", fmt.Errorf("unknown type code %q", s)
}

// String returns the long name of the type.
func (t TypeCode) String() string {
	if n, ok := typeNames[t]; ok {
		return n
	}
	return string(t)
}

// IsString reports whether values of this type are strings.
func (t TypeCode) IsString() bool {
	return t == TypeChar || t == TypeMemo
}

// Field describes one column of a result set.
type Field struct {
	Alias string
	Type  TypeCode
	PK    bool
	Table string
	Name  string
	Scale int
}

// Descriptor is an ordered set of fields with unique aliases.
type Descriptor struct {
	fields []Field
	index  map[string]int
}

// NewDescriptor builds a descriptor, rejecting duplicate or empty aliases.
func NewDescriptor(fields ...Field) (*Descriptor, error) {
	d := &Descriptor{
		fields: make([]Field, 0, len(fields)),
		index:  make(map[string]int, len(fields)),
	}
	for _, f := range fields {
		if f.Alias == "" {
			return nil, fmt.Errorf("field with empty alias")
		}
		if _, dup := d.index[f.Alias]; dup {
			return nil, fmt.Errorf("duplicate field alias %q", f.Alias)
		}
		if _, ok := typeNames[f.Type]; !ok {
			return nil, fmt.Errorf("field %q: unknown type code %q", f.Alias, f.Type)
		}
		if f.Name == "" {
			f.Name = f.Alias
		}
		d.index[f.Alias] = len(d.fields)
		d.fields = append(d.fields, f)
	}
	return d, nil
}

// MustDescriptor is NewDescriptor that panics on error. For tests and literals.
func MustDescriptor(fields ...Field) *Descriptor {
	d, err := NewDescriptor(fields...)
	if err != nil {
		panic(err)
	}
	return d
}

// Len returns the number of fields.
func (d *Descriptor) Len() int {
	if d == nil {
		return 0
	}
	return len(d.fields)
}

// Fields returns a copy of the fields in order.
func (d *Descriptor) Fields() []Field {
	if d == nil {
		return nil
	}
	out := make([]Field, len(d.fields))
	copy(out, d.fields)
	return out
}

// At returns the i'th field.
func (d *Descriptor) At(i int) Field {
	return d.fields[i]
}

// Field looks up a field by alias.
func (d *Descriptor) Field(alias string) (Field, bool) {
	if d == nil {
		return Field{}, false
	}
	i, ok := d.index[alias]
	if !ok {
		return Field{}, false
	}
	return d.fields[i], true
}

// Has reports whether alias is a field.
func (d *Descriptor) Has(alias string) bool {
	_, ok := d.Field(alias)
	return ok
}

// Aliases returns field aliases in order.
func (d *Descriptor) Aliases() []string {
	if d == nil {
		return nil
	}
	out := make([]string, len(d.fields))
	for i, f := range d.fields {
		out[i] = f.Alias
	}
	return out
}

// KeyFields returns the fields flagged as primary key, in order.
func (d *Descriptor) KeyFields() []Field {
	if d == nil {
		return nil
	}
	var out []Field
	for _, f := range d.fields {
		if f.PK {
			out = append(out, f)
		}
	}
	return out
}

// WithKey returns a copy whose PK flags are set exactly on keys.
// Every key must name an existing field.
func (d *Descriptor) WithKey(keys []string) (*Descriptor, error) {
	want := make(map[string]bool, len(keys))
	for _, k := range keys {
		if !d.Has(k) {
			return nil, fmt.Errorf("key field %q not in schema", k)
		}
		want[k] = true
	}
	fields := d.Fields()
	for i := range fields {
		fields[i].PK = want[fields[i].Alias]
	}
	return NewDescriptor(fields...)
}

// FromColumns derives a descriptor from backend column metadata. dbTypes
// holds the backend's declared type names, parallel to names.
func FromColumns(names, dbTypes []string, table string, keys []string) (*Descriptor, error) {
	isKey := make(map[string]bool, len(keys))
	for _, k := range keys {
		isKey[k] = true
	}
	fields := make([]Field, len(names))
	for i, n := range names {
		var dbType string
		if i < len(dbTypes) {
			dbType = dbTypes[i]
		}
		code, scale := typeFromDB(dbType)
		fields[i] = Field{
			Alias: n,
			Type:  code,
			PK:    isKey[n],
			Table: table,
			Name:  n,
			Scale: scale,
		}
	}
	return NewDescriptor(fields...)
}

// typeFromDB maps a declared column type onto a TypeCode using SQLite-style
// affinity rules, which also cover the common Postgres and MySQL names.
func typeFromDB(dbType string) (TypeCode, int) {
	t := strings.ToUpper(dbType)
	switch {
	case t == "":
		return TypeChar, 0
	case strings.Contains(t, "BIGINT"), strings.Contains(t, "INT8"):
		return TypeLong, 0
	case strings.Contains(t, "BOOL"), t == "BIT", t == "TINYINT(1)":
		return TypeBool, 0
	case strings.Contains(t, "INT"):
		return TypeInt, 0
	case strings.Contains(t, "CHAR"), strings.Contains(t, "TEXT"), strings.Contains(t, "CLOB"), strings.Contains(t, "UUID"):
		return TypeChar, 0
	case strings.Contains(t, "BLOB"), strings.Contains(t, "BYTEA"), strings.Contains(t, "BINARY"):
		return TypeMemo, 0
	case strings.Contains(t, "DATETIME"), strings.Contains(t, "TIMESTAMP"):
		return TypeDateTime, 0
	case strings.Contains(t, "DATE"):
		return TypeDate, 0
	case strings.Contains(t, "DECIMAL"), strings.Contains(t, "NUMERIC"), strings.Contains(t, "MONEY"):
		return TypeNumeric, declaredScale(t)
	case strings.Contains(t, "REAL"), strings.Contains(t, "FLOA"), strings.Contains(t, "DOUB"):
		return TypeNumeric, 0
	default:
		return TypeChar, 0
	}
}

// declaredScale extracts s from "DECIMAL(p,s)".
func declaredScale(t string) int {
	open := strings.IndexByte(t, '(')
	comma := strings.IndexByte(t, ',')
	end := strings.IndexByte(t, ')')
	if open < 0 || comma < open || end < comma {
		return 0
	}
	var scale int
	if _, err := fmt.Sscanf(strings.TrimSpace(t[comma+1:end]), "%d", &scale); err != nil {
		return 0
	}
	return scale
}
