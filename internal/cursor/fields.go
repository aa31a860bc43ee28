package cursor

import (
	"fmt"
	"maps"

	"github.com/roach88/bizcursor/internal/dberr"
	"github.com/roach88/bizcursor/internal/recordset"
	"github.com/roach88/bizcursor/internal/schema"
)

// VirtualField is a computed field.
type VirtualField interface {
	// Compute returns the value at row. RowNumber is row during the call.
	Compute(c *Cursor, row int) (any, error)
	// RequeriesChildren reports whether the value depends on child objects
	// being positioned under row.
	RequeriesChildren() bool
}

// VirtualFunc adapts a function to VirtualField.
type VirtualFunc struct {
	Fn              func(c *Cursor, row int) (any, error)
	RequeryChildren bool
}

func (v VirtualFunc) Compute(c *Cursor, row int) (any, error) { return v.Fn(c, row) }
func (v VirtualFunc) RequeriesChildren() bool                 { return v.RequeryChildren }

// SQLFunc is a SQL expression stored as a field value, such as
// CURRENT_TIMESTAMP. It is accepted for any field type.
type SQLFunc string

// RegisterVirtualField adds a computed field.
func (c *Cursor) RegisterVirtualField(name string, vf VirtualField) {
	c.virtual[name] = vf
}

// VirtualField returns the computed field registered under name.
func (c *Cursor) VirtualField(name string) (VirtualField, bool) {
	vf, ok := c.virtual[name]
	return vf, ok
}

// FieldValue returns a field of the current row.
func (c *Cursor) FieldValue(name string) (any, error) {
	return c.FieldValueAt(c.rowNumber, name)
}

// FieldValueAt returns a field of row n.
func (c *Cursor) FieldValueAt(n int, name string) (any, error) {
	if vf, ok := c.virtual[name]; ok {
		if err := c.checkRow(n); err != nil {
			return nil, err
		}
		if n != c.rowNumber {
			saved := c.rowNumber
			c.rowNumber = n
			defer func() { c.rowNumber = saved }()
		}
		return vf.Compute(c, n)
	}
	if err := c.checkRow(n); err != nil {
		return nil, err
	}
	v, ok := c.records.At(n).Get(name)
	if !ok && !c.desc.Has(name) {
		return nil, dberr.FieldNotFound(name)
	}
	return v, nil
}

// SetFieldValue sets a field of the current row.
func (c *Cursor) SetFieldValue(name string, v any) error {
	return c.SetFieldValueAt(c.rowNumber, name, v)
}

// SetFieldValueAt sets a field of row n, recording the original value in the
// memento when the value changes.
func (c *Cursor) SetFieldValueAt(n int, name string, v any) error {
	if err := c.checkRow(n); err != nil {
		return err
	}
	r := c.records.At(n)
	f, inSchema := c.desc.Field(name)
	if !inSchema {
		if _, ok := r.Get(name); !ok {
			return dberr.FieldNotFound(name)
		}
		c.logger.Warn("field not in schema; change is not tracked", "field", name)
		r.Set(name, v)
		return nil
	}
	v, err := c.reconcile(f, v)
	if err != nil {
		return err
	}
	c.setValue(r, name, v)
	return nil
}

// reconcile converts v to f's type where possible. nil and SQLFunc values
// pass through, as does anything for a non-updatable field.
func (c *Cursor) reconcile(f schema.Field, v any) (any, error) {
	if _, isFunc := v.(SQLFunc); isFunc || v == nil {
		return v, nil
	}
	if schema.Matches(f.Type, v) {
		return v, nil
	}
	coerced, err := schema.Coerce(f, v)
	if err != nil {
		if !c.updatable(f) {
			return v, nil
		}
		return nil, &dberr.Error{
			Code:    dberr.CodeQueryFailed,
			Message: fmt.Sprintf("value %v does not fit type %s", v, f.Type),
			Field:   f.Alias,
			Row:     -1,
			Err:     err,
		}
	}
	return coerced, nil
}

// setValue stores v and maintains the memento. A key field change moves the
// row's memento bucket to the new key. Setting a field back to its original
// value drops the entry; an empty bucket is dropped.
func (c *Cursor) setValue(r *recordset.Row, name string, v any) {
	old, _ := r.Get(name)
	if schema.Equal(old, v) {
		return
	}
	if c.isKeyField(name) {
		oldPK := c.pkValues(r)
		defer c.notifyKeyChange(r, oldPK)
	}
	key := c.rowKey(r)
	bucket := c.mementos[key]
	if bucket == nil {
		bucket = make(map[string]any)
	}
	if orig, tracked := bucket[name]; tracked {
		if schema.Equal(orig, v) {
			delete(bucket, name)
		}
	} else {
		bucket[name] = old
	}
	r.Set(name, v)

	newKey := c.rowKey(r)
	if newKey != key {
		delete(c.mementos, key)
	}
	if len(bucket) == 0 {
		delete(c.mementos, newKey)
		return
	}
	c.mementos[newKey] = bucket
}

// Memento returns a copy of the original values of changed fields in row n.
func (c *Cursor) Memento(n int) map[string]any {
	if c.checkRow(n) != nil {
		return nil
	}
	return maps.Clone(c.mementos[c.rowKey(c.records.At(n))])
}

// ClearMemento forgets tracked changes of row n without reverting them.
func (c *Cursor) ClearMemento(n int) {
	if c.checkRow(n) != nil {
		return
	}
	delete(c.mementos, c.rowKey(c.records.At(n)))
}

func (c *Cursor) updatable(f schema.Field) bool {
	if c.nonUpdate[f.Alias] {
		return false
	}
	return c.ownsField(f)
}
