package bizobj

import (
	"context"
	"fmt"
	"slices"

	"github.com/roach88/bizcursor/internal/dberr"
)

// New appends a blank row to the current context and makes it current.
// Configured defaults, the parent link value and OnNew hooks fill the row;
// none of that counts as an unsaved edit.
func (bo *BizObj) New(ctx context.Context) error {
	if err := bo.fireBefore(EventNew); err != nil {
		return err
	}
	c := bo.Cursor()
	if err := c.New(); err != nil {
		return err
	}
	n := c.RowNumber()

	names := make([]string, 0, len(bo.cfg.DefaultValues))
	for name := range bo.cfg.DefaultValues {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		if err := c.SetFieldValue(name, bo.resolveDefault(bo.cfg.DefaultValues[name])); err != nil {
			return fmt.Errorf("default for %s: %w", name, err)
		}
	}
	if bo.parent != nil && bo.cfg.FillLinkFromParent && bo.cfg.LinkField != "" {
		if v := bo.currentContext().parentValue; v != nil {
			if err := c.SetFieldValue(bo.cfg.LinkField, v); err != nil {
				return err
			}
		}
	}
	for _, fn := range bo.onNew {
		fn(bo)
	}
	c.ClearMemento(n)

	if err := bo.RequeryAllChildren(ctx); err != nil {
		return err
	}
	bo.fireAfter(EventNew)
	return nil
}

// DefaultFunc computes a default value for a new row.
type DefaultFunc func(bo *BizObj) any

func (bo *BizObj) resolveDefault(v any) any {
	switch fn := v.(type) {
	case DefaultFunc:
		return fn(bo)
	case func(*BizObj) any:
		return fn(bo)
	case func() any:
		return fn()
	}
	return v
}

// FieldValue returns a field of the current row.
func (bo *BizObj) FieldValue(name string) (any, error) {
	return bo.Cursor().FieldValue(name)
}

// FieldValueAt returns a field of row n. A virtual field that depends on
// child rows is computed with the children loaded for row n, after which
// the pointer and children return to the current row.
func (bo *BizObj) FieldValueAt(ctx context.Context, n int, name string) (any, error) {
	c := bo.Cursor()
	vf, ok := c.VirtualField(name)
	cur := c.RowNumber()
	if !ok || !vf.RequeriesChildren() || n == cur {
		return c.FieldValueAt(n, name)
	}
	if err := c.SetRowNumber(n); err != nil {
		return nil, err
	}
	defer func() {
		setRowClamped(c, cur)
		if err := bo.RequeryAllChildren(ctx); err != nil {
			bo.logger.Warn("children not restored", "error", err)
		}
	}()
	if err := bo.RequeryAllChildren(ctx); err != nil {
		return nil, err
	}
	return c.FieldValue(name)
}

// SetFieldValue stores a value in the current row after the field
// validators accept it.
func (bo *BizObj) SetFieldValue(name string, v any) error {
	c := bo.Cursor()
	if c.RowCount() == 0 {
		return dberr.NoRecords()
	}
	if err := bo.validateField(name, v); err != nil {
		return err
	}
	return c.SetFieldValue(name, v)
}

// IsChanged reports unsaved changes in the current row or in child rows
// that belong to it.
func (bo *BizObj) IsChanged() bool {
	c := bo.Cursor()
	if c.RowCount() == 0 {
		return false
	}
	return bo.rowChanged(c, c.RowNumber())
}

// IsAnyChanged reports unsaved changes in any context of this object or
// below it.
func (bo *BizObj) IsAnyChanged() bool {
	for _, cc := range bo.contexts {
		if bo.contextChanged(cc.cur) {
			return true
		}
	}
	return false
}
