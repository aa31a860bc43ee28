package cursor

import (
	"errors"
	"maps"
	"slices"

	"github.com/roach88/bizcursor/internal/recordset"
	"github.com/roach88/bizcursor/internal/schema"
)

// ErrNoSchema is returned by New when no field list is known yet.
var ErrNoSchema = errors.New("cursor has no schema; execute a query or configure one")

// New appends a blank row and makes it current. Every new row gets a negative
// temporary key that identifies it until it is saved; with AutoPopulatePK the
// temporary key is also stored in the key field.
func (c *Cursor) New() error {
	if c.desc == nil {
		return ErrNoSchema
	}
	vals := make(map[string]any, c.desc.Len())
	for _, f := range c.desc.Fields() {
		vals[f.Alias] = schema.Zero(f)
	}
	r := recordset.NewRow(vals)
	c.tempSeq--
	if c.autoPopulatePK && len(c.keyFields) == 1 {
		r.Set(c.keyFields[0], c.tempSeq)
	}
	r.SetTempKey(c.tempSeq)
	c.records.Append(r)
	c.newRecords[c.rowKey(r)] = struct{}{}
	c.rowNumber = c.records.IndexOf(r)
	return nil
}

// CloneRecord appends a copy of the current row as a new row. Key fields keep
// their blank values when the backend assigns keys.
func (c *Cursor) CloneRecord() error {
	src := c.current()
	if src == nil {
		return c.checkRow(c.rowNumber)
	}
	vals := src.Values()
	if err := c.New(); err != nil {
		return err
	}
	for _, f := range c.desc.Fields() {
		if c.autoPopulatePK && c.isKeyField(f.Alias) {
			continue
		}
		if err := c.SetFieldValue(f.Alias, vals[f.Alias]); err != nil {
			return err
		}
	}
	return nil
}

// IsNewRow reports whether row n was created locally and is unsaved.
func (c *Cursor) IsNewRow(n int) bool {
	if c.checkRow(n) != nil {
		return false
	}
	return c.isNew(c.records.At(n))
}

func (c *Cursor) isNew(r *recordset.Row) bool {
	_, ok := c.newRecords[c.rowKey(r)]
	return ok
}

func (c *Cursor) isChangedRow(r *recordset.Row) bool {
	k := c.rowKey(r)
	if _, ok := c.mementos[k]; ok {
		return true
	}
	if c.saveNewUnchanged {
		_, ok := c.newRecords[k]
		return ok
	}
	return false
}

// IsRowChanged reports whether row n has unsaved edits.
func (c *Cursor) IsRowChanged(n int) bool {
	if c.checkRow(n) != nil {
		return false
	}
	return c.isChangedRow(c.records.At(n))
}

// IsChanged reports unsaved edits in the current row, or in any row.
func (c *Cursor) IsChanged(allRows bool) bool {
	if !allRows {
		return c.IsRowChanged(c.rowNumber)
	}
	if len(c.mementos) > 0 {
		return true
	}
	return c.saveNewUnchanged && len(c.newRecords) > 0
}

// ChangedRows returns the visible indexes of changed rows in ascending
// order. includeNew adds new rows that have no edits.
func (c *Cursor) ChangedRows(includeNew bool) []int {
	var out []int
	for i, r := range c.records.Rows() {
		if c.isChangedRow(r) || (includeNew && c.isNew(r)) {
			out = append(out, i)
		}
	}
	return out
}

// changedRows returns changed rows in base order, hidden rows included.
func (c *Cursor) changedRows() []*recordset.Row {
	var out []*recordset.Row
	for _, r := range c.records.AllRows() {
		if c.isChangedRow(r) {
			out = append(out, r)
		}
	}
	return out
}

// Cancel discards unsaved edits in the current row, or in every row. New rows
// are removed; changed fields of existing rows revert to their originals.
func (c *Cursor) Cancel(allRows bool) {
	var rows []*recordset.Row
	if allRows {
		for _, r := range c.records.AllRows() {
			k := c.rowKey(r)
			_, changed := c.mementos[k]
			_, isNew := c.newRecords[k]
			if changed || isNew {
				rows = append(rows, r)
			}
		}
	} else if r := c.current(); r != nil {
		rows = append(rows, r)
	}
	cur := c.current()
	for _, r := range rows {
		c.cancelRow(r)
	}
	c.relocate(cur)
}

func (c *Cursor) cancelRow(r *recordset.Row) {
	k := c.rowKey(r)
	if _, isNew := c.newRecords[k]; isNew {
		delete(c.newRecords, k)
		delete(c.mementos, k)
		c.records.RemoveRow(r)
		return
	}
	pk := c.pkValues(r)
	for name, orig := range c.mementos[k] {
		r.Set(name, orig)
	}
	delete(c.mementos, k)
	c.notifyKeyChange(r, pk)
}

// FieldChange is the before and after value of one field.
type FieldChange struct {
	Old any
	New any
}

// RowDiff describes the unsaved changes of one row. Key is the row's key
// value (temporary for unsaved rows).
type RowDiff struct {
	Key     any
	IsNew   bool
	Changes map[string]FieldChange
}

// Diff returns the changes of the current row, or of every changed row. A new
// row reports every schema field with a nil old value.
func (c *Cursor) Diff(allRows bool) []RowDiff {
	var rows []*recordset.Row
	if allRows {
		rows = c.changedRows()
	} else if r := c.current(); r != nil && c.isChangedRow(r) {
		rows = []*recordset.Row{r}
	}
	out := make([]RowDiff, 0, len(rows))
	for _, r := range rows {
		out = append(out, c.rowDiff(r))
	}
	return out
}

// DiffAt returns the changes of visible row n. ok is false when the row is
// out of range or unchanged.
func (c *Cursor) DiffAt(n int) (d RowDiff, ok bool) {
	if c.checkRow(n) != nil {
		return RowDiff{}, false
	}
	r := c.records.At(n)
	if !c.isChangedRow(r) {
		return RowDiff{}, false
	}
	return c.rowDiff(r), true
}

func (c *Cursor) rowDiff(r *recordset.Row) RowDiff {
	d := RowDiff{IsNew: c.isNew(r), Changes: make(map[string]FieldChange)}
	d.Key = exprOf(c.pkValues(r))
	if d.IsNew {
		for _, f := range c.desc.Fields() {
			v, _ := r.Get(f.Alias)
			d.Changes[f.Alias] = FieldChange{New: v}
		}
		return d
	}
	for name, orig := range c.mementos[c.rowKey(r)] {
		v, _ := r.Get(name)
		d.Changes[name] = FieldChange{Old: orig, New: v}
	}
	return d
}

// Checkpoint is a saved copy of a cursor's unsaved state.
type Checkpoint struct {
	order      recordset.Snapshot
	rows       map[*recordset.Row]rowState
	mementos   map[Key]map[string]any
	newRecords map[Key]struct{}
	rowNumber  int
	tempSeq    int64
}

type rowState struct {
	values  map[string]any
	tempKey any
}

// Checkpoint captures row order, unsaved edits and the values of changed rows
// so that a failed save can be undone with Restore.
func (c *Cursor) Checkpoint() *Checkpoint {
	cp := &Checkpoint{
		order:      c.records.Snapshot(),
		rows:       make(map[*recordset.Row]rowState),
		mementos:   make(map[Key]map[string]any, len(c.mementos)),
		newRecords: maps.Clone(c.newRecords),
		rowNumber:  c.rowNumber,
		tempSeq:    c.tempSeq,
	}
	for k, b := range c.mementos {
		cp.mementos[k] = maps.Clone(b)
	}
	for _, r := range c.records.AllRows() {
		k := c.rowKey(r)
		_, changed := c.mementos[k]
		_, isNew := c.newRecords[k]
		if changed || isNew {
			tk, _ := r.TempKey()
			cp.rows[r] = rowState{values: r.Values(), tempKey: tk}
		}
	}
	return cp
}

// Restore returns the cursor to a checkpoint taken from it.
func (c *Cursor) Restore(cp *Checkpoint) {
	c.records.Restore(cp.order)
	for r, st := range cp.rows {
		r.Replace(st.values)
		if st.tempKey != nil {
			r.SetTempKey(st.tempKey)
		} else {
			r.ClearTempKey()
		}
	}
	c.mementos = make(map[Key]map[string]any, len(cp.mementos))
	for k, b := range cp.mementos {
		c.mementos[k] = maps.Clone(b)
	}
	c.newRecords = maps.Clone(cp.newRecords)
	c.rowNumber = cp.rowNumber
	c.tempSeq = cp.tempSeq
	c.clampRowNumber()
}

// NewRowCount returns the number of unsaved new rows.
func (c *Cursor) NewRowCount() int {
	return len(c.newRecords)
}

// changedKeys lists memento keys in a stable order, for logging.
func (c *Cursor) changedKeys() []Key {
	keys := slices.Collect(maps.Keys(c.mementos))
	slices.Sort(keys)
	return keys
}
