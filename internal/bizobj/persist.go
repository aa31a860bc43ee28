package bizobj

import (
	"context"
	"fmt"
	"maps"

	"github.com/roach88/bizcursor/internal/cursor"
	"github.com/roach88/bizcursor/internal/dberr"
	"github.com/roach88/bizcursor/internal/schema"
	"github.com/roach88/bizcursor/internal/txn"
)

// BeginTransaction opens a transaction for the graph's connection. The
// returned token is the only handle that can commit or roll it back.
func (bo *BizObj) BeginTransaction(ctx context.Context) (*txn.Token, error) {
	return bo.txm.Begin(ctx, bo.cfg.Name)
}

// CommitTransaction commits the transaction owned by tok.
func (bo *BizObj) CommitTransaction(ctx context.Context, tok *txn.Token) error {
	return bo.txm.Commit(ctx, tok)
}

// RollbackTransaction rolls back the transaction owned by tok.
func (bo *BizObj) RollbackTransaction(ctx context.Context, tok *txn.Token) error {
	return bo.txm.Rollback(ctx, tok)
}

// unitOfWork runs fn inside a transaction, opening one unless the caller
// already holds it. On failure it rolls back what it opened and restores
// the graph below bo to its state before the call; the error from fn is
// returned unchanged.
func (bo *BizObj) unitOfWork(ctx context.Context, op string, fn func() error) error {
	var tok *txn.Token
	if !bo.txm.Held() {
		t, err := bo.txm.Begin(ctx, bo.cfg.Name+"."+op)
		if err != nil {
			return err
		}
		tok = t
	}
	cp := bo.checkpoint()
	if err := fn(); err != nil {
		if tok != nil {
			if rbErr := bo.txm.Rollback(ctx, tok); rbErr != nil {
				bo.logger.Error("rollback failed", "op", op, "error", rbErr)
			}
		}
		bo.restore(cp)
		bo.logger.Debug("unit of work failed", "op", op, "error", err)
		return err
	}
	if tok != nil {
		if err := bo.txm.Commit(ctx, tok); err != nil {
			bo.restore(cp)
			return err
		}
	}
	return nil
}

// checkpoint is the saved state of one object and everything below it.
type checkpoint struct {
	bo         *BizObj
	contexts   map[string]*cursorContext
	currentKey string
	states     map[*cursorContext]contextState
	children   []*checkpoint
}

type contextState struct {
	cursor      *cursor.Checkpoint
	parentValue any
}

func (bo *BizObj) checkpoint() *checkpoint {
	cp := &checkpoint{
		bo:         bo,
		contexts:   maps.Clone(bo.contexts),
		currentKey: bo.currentKey,
		states:     make(map[*cursorContext]contextState, len(bo.contexts)),
	}
	for _, cc := range bo.contexts {
		cp.states[cc] = contextState{cursor: cc.cur.Checkpoint(), parentValue: cc.parentValue}
	}
	for _, ch := range bo.children {
		cp.children = append(cp.children, ch.checkpoint())
	}
	return cp
}

func (bo *BizObj) restore(cp *checkpoint) {
	bo.contexts = maps.Clone(cp.contexts)
	bo.currentKey = cp.currentKey
	for cc, st := range cp.states {
		cc.cur.Restore(st.cursor)
		cc.parentValue = st.parentValue
		if b := cc.cur.Builder(); b != nil && bo.parent != nil && bo.cfg.LinkField != "" && st.parentValue != nil {
			b.SetChildFilter(bo.cfg.LinkField, st.parentValue)
		}
	}
	for _, ccp := range cp.children {
		ccp.bo.restore(ccp)
	}
}

// Save validates and stores the current row, then every changed row of
// each child context that belongs to it.
func (bo *BizObj) Save(ctx context.Context) error {
	if bo.RowCount() == 0 {
		return nil
	}
	if err := bo.checkSave(); err != nil {
		return err
	}
	if err := bo.unitOfWork(ctx, "save", func() error { return bo.saveCurrent(ctx) }); err != nil {
		return err
	}
	bo.fireAfter(EventSave)
	return nil
}

// SaveAll stores every changed row of the current context, including rows
// whose only changes are in child contexts. Rows are visited from last to
// first and the position is restored afterwards, also on failure.
func (bo *BizObj) SaveAll(ctx context.Context) error {
	if err := bo.fireBefore(EventSaveAll); err != nil {
		return err
	}
	if err := bo.unitOfWork(ctx, "saveAll", func() error { return bo.saveChanged(ctx) }); err != nil {
		return err
	}
	bo.fireAfter(EventSaveAll)
	return nil
}

func (bo *BizObj) checkSave() error {
	if err := bo.fireBefore(EventSave); err != nil {
		return err
	}
	return bo.validateRecord()
}

func (bo *BizObj) saveChanged(ctx context.Context) error {
	return bo.ScanChangedRows(func(b *BizObj) error {
		if err := b.checkSave(); err != nil {
			return err
		}
		if err := b.saveCurrent(ctx); err != nil {
			return err
		}
		b.fireAfter(EventSave)
		return nil
	}, false)
}

// saveCurrent stores the current row and then its children. A new row is
// inserted even when unedited if a child has rows to store under it.
func (bo *BizObj) saveCurrent(ctx context.Context) error {
	c := bo.Cursor()
	n := c.RowNumber()
	switch {
	case c.IsRowChanged(n):
		if err := c.Save(ctx, false); err != nil {
			return err
		}
	case c.IsNewRow(n) && bo.childrenChanged(c, n):
		if err := c.SaveNewRow(ctx); err != nil {
			return err
		}
	}
	for _, ch := range bo.children {
		if err := ch.SetCurrentParent(); err != nil {
			return err
		}
		if err := ch.fireBefore(EventSaveAll); err != nil {
			return err
		}
		if err := ch.saveChanged(ctx); err != nil {
			return err
		}
		ch.fireAfter(EventSaveAll)
	}
	return nil
}

// handOff moves child contexts from a row's old key to its new one, either
// the key the backend assigned on insert or an edited key field, and
// rewrites the link field of their rows.
func (bo *BizObj) handOff(oldKey, newKey any) {
	from, to := contextKey(oldKey), contextKey(newKey)
	for _, ch := range bo.children {
		if ch.cfg.ParentLinkField != "" && !bo.isKeyField(ch.cfg.ParentLinkField) {
			continue
		}
		cc, ok := ch.contexts[from]
		if !ok {
			continue
		}
		delete(ch.contexts, from)
		ch.contexts[to] = cc
		cc.parentValue = newKey
		if ch.currentKey == from {
			ch.currentKey = to
		}
		if b := cc.cur.Builder(); b != nil && ch.cfg.LinkField != "" {
			b.SetChildFilter(ch.cfg.LinkField, newKey)
		}
		if ch.cfg.LinkField == "" {
			continue
		}
		for i := 0; i < cc.cur.RowCount(); i++ {
			v, err := cc.cur.FieldValueAt(i, ch.cfg.LinkField)
			if err != nil || !schema.Equal(v, oldKey) {
				continue
			}
			if err := cc.cur.SetFieldValueAt(i, ch.cfg.LinkField, newKey); err != nil {
				ch.logger.Warn("link field not updated", "row", i, "error", err)
			}
		}
		ch.logger.Debug("context re-keyed", "from", oldKey, "to", newKey)
	}
}

func (bo *BizObj) isKeyField(name string) bool {
	for _, k := range bo.cfg.KeyField {
		if k == name {
			return true
		}
	}
	return false
}

// Cancel discards the unsaved changes of the current row and of the child
// contexts that belong to it. An unsaved row is removed.
func (bo *BizObj) Cancel() error {
	if err := bo.fireBefore(EventCancel); err != nil {
		return err
	}
	if err := bo.cancelCurrent(); err != nil {
		return err
	}
	bo.fireAfter(EventCancel)
	return nil
}

// CancelAll discards every unsaved change in the current context and the
// child contexts below it.
func (bo *BizObj) CancelAll() error {
	if err := bo.fireBefore(EventCancelAll); err != nil {
		return err
	}
	if err := bo.cancelAll(); err != nil {
		return err
	}
	bo.fireAfter(EventCancelAll)
	return nil
}

func (bo *BizObj) cancelCurrent() error {
	if bo.RowCount() == 0 {
		return nil
	}
	for _, ch := range bo.children {
		if err := ch.SetCurrentParent(); err != nil {
			return err
		}
		if err := ch.cancelAll(); err != nil {
			return err
		}
	}
	bo.Cursor().Cancel(false)
	return bo.alignChildren()
}

func (bo *BizObj) cancelAll() error {
	if err := bo.ScanChangedRows(func(b *BizObj) error { return b.cancelCurrent() }, false); err != nil {
		return err
	}
	// Unedited new rows are not changed rows and are swept separately.
	bo.Cursor().Cancel(true)
	return bo.alignChildren()
}

// Delete removes the current row. Child rows that belong to it are deleted
// first when the child allows it; otherwise their presence vetoes the
// delete before anything is written.
func (bo *BizObj) Delete(ctx context.Context) error {
	if bo.RowCount() == 0 {
		return dberr.NoRecords()
	}
	if err := bo.fireBefore(EventDelete); err != nil {
		return err
	}
	if err := bo.checkRestrict(ctx); err != nil {
		return err
	}
	if err := bo.unitOfWork(ctx, "delete", func() error { return bo.deleteCurrent(ctx) }); err != nil {
		return err
	}
	if err := bo.RequeryAllChildren(ctx); err != nil {
		return err
	}
	bo.fireAfter(EventDelete)
	return nil
}

// DeleteAll removes every row of the current context.
func (bo *BizObj) DeleteAll(ctx context.Context) error {
	if err := bo.fireBefore(EventDeleteAll); err != nil {
		return err
	}
	if err := bo.unitOfWork(ctx, "deleteAll", func() error { return bo.deleteAll(ctx) }); err != nil {
		return err
	}
	if err := bo.RequeryAllChildren(ctx); err != nil {
		return err
	}
	bo.fireAfter(EventDeleteAll)
	return nil
}

// DeleteAllChildren removes every child row that belongs to the current
// row, leaving the row itself.
func (bo *BizObj) DeleteAllChildren(ctx context.Context) error {
	if bo.RowCount() == 0 {
		return dberr.NoRecords()
	}
	return bo.unitOfWork(ctx, "deleteAllChildren", func() error {
		for _, ch := range bo.children {
			if err := ch.loadForParent(ctx); err != nil {
				return err
			}
			if err := ch.deleteAll(ctx); err != nil {
				return err
			}
		}
		return nil
	})
}

func (bo *BizObj) deleteCurrent(ctx context.Context) error {
	if err := bo.checkRestrict(ctx); err != nil {
		return err
	}
	for _, ch := range bo.children {
		if !ch.cfg.DeleteChildren {
			continue
		}
		if err := ch.loadForParent(ctx); err != nil {
			return err
		}
		if err := ch.deleteAll(ctx); err != nil {
			return err
		}
	}
	c := bo.Cursor()
	bo.logger.Debug("delete", "row", c.RowNumber())
	if err := c.Delete(ctx); err != nil {
		return err
	}
	return bo.alignChildren()
}

func (bo *BizObj) deleteAll(ctx context.Context) error {
	c := bo.Cursor()
	for c.RowCount() > 0 {
		if err := c.SetRowNumber(0); err != nil {
			return err
		}
		if err := bo.alignChildren(); err != nil {
			return err
		}
		if err := bo.deleteCurrent(ctx); err != nil {
			return err
		}
	}
	return nil
}

// checkRestrict fails with BUSINESS_RULE_VIOLATION when a child that does
// not allow cascading deletes has rows under the current row.
func (bo *BizObj) checkRestrict(ctx context.Context) error {
	for _, ch := range bo.children {
		if ch.cfg.DeleteChildren {
			continue
		}
		if err := ch.loadForParent(ctx); err != nil {
			return err
		}
		if n := ch.RowCount(); n > 0 {
			return dberr.BusinessRule(fmt.Sprintf(
				"cannot delete %s row: %d dependent %s row(s)", bo.cfg.Name, n, ch.cfg.Name))
		}
	}
	return nil
}

// loadForParent switches to the parent's current context and loads it if
// it was never queried. Rows of an unsaved parent exist only locally.
func (bo *BizObj) loadForParent(ctx context.Context) error {
	if err := bo.SetCurrentParent(); err != nil {
		return err
	}
	cc := bo.currentContext()
	if cc.loaded || bo.parent.IsNewRow() {
		return nil
	}
	return bo.requery(ctx)
}
