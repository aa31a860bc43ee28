package bizobj

import (
	"context"
	"fmt"

	"github.com/roach88/bizcursor/internal/cursor"
	"github.com/roach88/bizcursor/internal/dberr"
)

// First moves to the first row.
func (bo *BizObj) First(ctx context.Context) error {
	return bo.moveTo(ctx, EventFirst, func(*cursor.Cursor) (int, error) {
		return 0, nil
	})
}

// Prior moves back one row. It fails with BEGINNING_OF_FILE on the first row.
func (bo *BizObj) Prior(ctx context.Context) error {
	return bo.moveTo(ctx, EventPrior, func(c *cursor.Cursor) (int, error) {
		if c.RowNumber() <= 0 {
			return 0, dberr.New(dberr.CodeBeginningOfFile, "already at the first row")
		}
		return c.RowNumber() - 1, nil
	})
}

// Next moves forward one row. It fails with END_OF_FILE on the last row.
func (bo *BizObj) Next(ctx context.Context) error {
	return bo.moveTo(ctx, EventNext, func(c *cursor.Cursor) (int, error) {
		if c.RowNumber() >= c.RowCount()-1 {
			return 0, dberr.New(dberr.CodeEndOfFile, "already at the last row")
		}
		return c.RowNumber() + 1, nil
	})
}

// Last moves to the last row.
func (bo *BizObj) Last(ctx context.Context) error {
	return bo.moveTo(ctx, EventLast, func(c *cursor.Cursor) (int, error) {
		return c.RowCount() - 1, nil
	})
}

// SetRowNumber moves to row n.
func (bo *BizObj) SetRowNumber(ctx context.Context, n int) error {
	return bo.moveTo(ctx, EventRowNumberChange, func(c *cursor.Cursor) (int, error) {
		if n < 0 || n >= c.RowCount() {
			return 0, dberr.RowNotFound(n, c.RowCount())
		}
		return n, nil
	})
}

// MoveToPK moves to the row whose key is pk.
func (bo *BizObj) MoveToPK(ctx context.Context, pk any) error {
	return bo.moveTo(ctx, EventRowNumberChange, func(c *cursor.Cursor) (int, error) {
		n := c.FindPK(pk)
		if n < 0 {
			e := dberr.New(dberr.CodeRowNotFound, fmt.Sprintf("no row with key %v", pk))
			return 0, e
		}
		return n, nil
	})
}

// moveTo runs the hooks of ev around a pointer move. Every move also counts
// as a RowNumberChange. Children follow only when the row actually changed.
func (bo *BizObj) moveTo(ctx context.Context, ev Event, target func(*cursor.Cursor) (int, error)) error {
	c := bo.Cursor()
	if c.RowCount() == 0 {
		return dberr.NoRecords()
	}
	n, err := target(c)
	if err != nil {
		return err
	}
	if err := bo.fireBefore(ev); err != nil {
		return err
	}
	if ev != EventRowNumberChange {
		if err := bo.fireBefore(EventRowNumberChange); err != nil {
			return err
		}
	}
	prev := c.RowNumber()
	if err := c.SetRowNumber(n); err != nil {
		return err
	}
	if n != prev {
		if err := bo.RequeryAllChildren(ctx); err != nil {
			return err
		}
	}
	if ev != EventRowNumberChange {
		bo.fireAfter(EventRowNumberChange)
	}
	bo.fireAfter(ev)
	return nil
}

// Requery reloads the current context. A child first installs the link
// filter for its parent's current row. Children follow the new position.
func (bo *BizObj) Requery(ctx context.Context) error {
	if err := bo.fireBefore(EventRequery); err != nil {
		return err
	}
	if err := bo.requery(ctx); err != nil {
		return err
	}
	bo.fireAfter(EventRequery)
	return nil
}

func (bo *BizObj) requery(ctx context.Context) error {
	if bo.parent != nil {
		bo.SetChildLinkFilter()
	}
	cc := bo.currentContext()
	if err := cc.cur.Requery(ctx); err != nil {
		return err
	}
	cc.loaded = true
	cc.requeriedAt = bo.clock.Now()
	bo.logger.Debug("requeried", "context", bo.currentKey, "rows", cc.cur.RowCount())
	return bo.RequeryAllChildren(ctx)
}

// RequeryAllChildren points every child that follows its parent at the
// current row's context and reloads it. A child context is not reloaded
// while it has unsaved changes or while its cache interval has not elapsed.
// Children of an unsaved row have nothing stored to load.
func (bo *BizObj) RequeryAllChildren(ctx context.Context) error {
	if len(bo.children) == 0 {
		return nil
	}
	if err := bo.fireBefore(EventChildRequery); err != nil {
		return err
	}
	parentNew := bo.IsNewRow()
	for _, ch := range bo.children {
		if !ch.cfg.RequeryWithParent {
			continue
		}
		if err := ch.SetCurrentParent(); err != nil {
			return err
		}
		cc := ch.currentContext()
		switch {
		case parentNew:
			cc.loaded = true
			ch.SetChildLinkFilter()
			if err := ch.alignChildren(); err != nil {
				return err
			}
			continue
		case ch.contextChanged(cc.cur):
			ch.logger.Debug("requery skipped: unsaved changes", "context", ch.currentKey)
			continue
		case cc.loaded && ch.cfg.CacheInterval > 0 &&
			ch.clock.Now().Sub(cc.requeriedAt) < ch.cfg.CacheInterval:
			ch.logger.Debug("requery skipped: cached", "context", ch.currentKey)
			if err := ch.alignChildren(); err != nil {
				return err
			}
			continue
		}
		if err := ch.Requery(ctx); err != nil {
			return err
		}
	}
	bo.fireAfter(EventChildRequery)
	return nil
}

// SetCurrentParent switches to the context of the parent's current row,
// creating its cursor on first use. It does not query.
func (bo *BizObj) SetCurrentParent() error {
	if bo.parent == nil {
		return nil
	}
	if err := bo.fireBefore(EventSetCurrentParent); err != nil {
		return err
	}
	pc := bo.parent.Cursor()
	v := bo.parentValueAt(pc, pc.RowNumber())
	bo.currentKey = contextKey(v)
	bo.currentContext().parentValue = v
	bo.fireAfter(EventSetCurrentParent)
	return nil
}

// alignChildren points every child at the current row without querying.
func (bo *BizObj) alignChildren() error {
	for _, ch := range bo.children {
		if err := ch.SetCurrentParent(); err != nil {
			return err
		}
		if err := ch.alignChildren(); err != nil {
			return err
		}
	}
	return nil
}

// SetChildLinkFilter restricts the current context's SELECT to rows of the
// parent's current row. When the parent has no rows the filter matches
// nothing.
func (bo *BizObj) SetChildLinkFilter() {
	cc := bo.currentContext()
	b := cc.cur.Builder()
	if b == nil || bo.parent == nil || bo.cfg.LinkField == "" {
		return
	}
	if bo.parent.Cursor().RowCount() == 0 || cc.parentValue == nil {
		b.SetChildFilterNone()
		return
	}
	b.SetChildFilter(bo.cfg.LinkField, cc.parentValue)
}

// parentValueAt returns the value that selects this object's context for
// row n of the parent cursor pc, or nil when there is no such row.
func (bo *BizObj) parentValueAt(pc *cursor.Cursor, n int) any {
	if n < 0 || n >= pc.RowCount() {
		return nil
	}
	if bo.cfg.ParentLinkField != "" {
		v, err := pc.FieldValueAt(n, bo.cfg.ParentLinkField)
		if err != nil {
			bo.logger.Warn("parent link field unreadable", "field", bo.cfg.ParentLinkField, "error", err)
			return nil
		}
		return v
	}
	v, err := pc.PKExpressionAt(n)
	if err != nil {
		return nil
	}
	return v
}

// rowChanged reports unsaved changes in row n of c or in any child context
// that belongs to it.
func (bo *BizObj) rowChanged(c *cursor.Cursor, n int) bool {
	if c.IsRowChanged(n) {
		return true
	}
	return bo.childrenChanged(c, n)
}

func (bo *BizObj) childrenChanged(c *cursor.Cursor, n int) bool {
	for _, ch := range bo.children {
		cc, ok := ch.contexts[contextKey(ch.parentValueAt(c, n))]
		if ok && ch.contextChanged(cc.cur) {
			return true
		}
	}
	return false
}

// contextChanged reports unsaved changes anywhere under cursor c.
func (bo *BizObj) contextChanged(c *cursor.Cursor) bool {
	if c.IsChanged(true) {
		return true
	}
	if len(bo.children) == 0 {
		return false
	}
	for i := 0; i < c.RowCount(); i++ {
		if bo.childrenChanged(c, i) {
			return true
		}
	}
	return false
}
