// Package wire defines the diff shape exchanged between processes and its
// canonical encoding.
//
// A DataDiff mirrors a business object graph: one node per object, holding
// the unsaved row changes of that object and a child node per dependent
// object that has changes of its own.
package wire

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
)

// FieldChange is the original and current value of one field.
type FieldChange struct {
	Old any `json:"old"`
	New any `json:"new"`
}

// RowDiff is the unsaved state of one row. Key is a scalar, or a []any for a
// compound key; unsaved rows carry their temporary key.
type RowDiff struct {
	Key     any                    `json:"key"`
	IsNew   bool                   `json:"is_new"`
	Changes map[string]FieldChange `json:"changes"`
}

// DataDiff is the change tree of one business object.
type DataDiff struct {
	DataSource string               `json:"data_source"`
	KeyField   []string             `json:"key_field"`
	Rows       []RowDiff            `json:"rows"`
	Children   map[string]*DataDiff `json:"children,omitempty"`
}

// IsEmpty reports whether the tree holds no row changes at any depth.
func (d *DataDiff) IsEmpty() bool {
	if d == nil {
		return true
	}
	if len(d.Rows) > 0 {
		return false
	}
	for _, c := range d.Children {
		if !c.IsEmpty() {
			return false
		}
	}
	return true
}

// RowCount returns the number of changed rows in the tree.
func (d *DataDiff) RowCount() int {
	if d == nil {
		return 0
	}
	n := len(d.Rows)
	for _, c := range d.Children {
		n += c.RowCount()
	}
	return n
}

// ChildNames returns the child data sources in sorted order.
func (d *DataDiff) ChildNames() []string {
	names := make([]string, 0, len(d.Children))
	for k := range d.Children {
		names = append(names, k)
	}
	slices.Sort(names)
	return names
}

// Decode parses a diff produced by MarshalCanonical or encoding/json.
// Numbers are kept as json.Number so integer keys survive unchanged.
func Decode(data []byte) (*DataDiff, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	dec.DisallowUnknownFields()
	var d DataDiff
	if err := dec.Decode(&d); err != nil {
		return nil, fmt.Errorf("decode diff: %w", err)
	}
	return &d, nil
}
