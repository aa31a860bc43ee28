package cursor

import (
	"context"
	"fmt"
	"strings"

	"github.com/roach88/bizcursor/internal/dberr"
	"github.com/roach88/bizcursor/internal/driver"
	"github.com/roach88/bizcursor/internal/recordset"
	"github.com/roach88/bizcursor/internal/schema"
)

// Save writes the current row, or every changed row, through the auxiliary
// cursor. New rows are inserted and existing rows updated. It stops at the
// first failure; rows already written stay written and the caller's
// transaction decides their fate.
func (c *Cursor) Save(ctx context.Context, allRows bool) error {
	if err := c.checkKey(); err != nil {
		return err
	}
	var rows []*recordset.Row
	if allRows {
		rows = c.changedRows()
	} else if r := c.current(); r != nil && c.isChangedRow(r) {
		rows = []*recordset.Row{r}
	}
	if len(rows) == 0 {
		return nil
	}
	c.logger.Debug("save", "rows", len(rows), "keys", c.changedKeys())
	for _, r := range rows {
		if err := c.saveRow(ctx, r); err != nil {
			return err
		}
	}
	return nil
}

// SaveNewRow inserts the current row if it is new, whether or not it was
// edited. Dependent rows need their parent stored before they can be.
func (c *Cursor) SaveNewRow(ctx context.Context) error {
	r := c.current()
	if r == nil || !c.isNew(r) {
		return nil
	}
	if err := c.checkKey(); err != nil {
		return err
	}
	return c.insertRow(ctx, r)
}

func (c *Cursor) saveRow(ctx context.Context, r *recordset.Row) error {
	if c.isNew(r) {
		return c.insertRow(ctx, r)
	}
	return c.updateRow(ctx, r)
}

func (c *Cursor) insertRow(ctx context.Context, r *recordset.Row) error {
	aux := c.Aux()
	key := c.rowKey(r)
	oldPK := c.pkValues(r)
	singleAuto := c.autoPopulatePK && len(c.keyFields) == 1

	pregenerated := false
	if singleAuto {
		kf, _ := c.desc.Field(c.keyFields[0])
		k, ok, err := c.dialect.PregenerateKey(ctx, auxExecutor{aux}, c.table, kf.Name)
		if err != nil {
			return err
		}
		if ok {
			r.Set(kf.Alias, k)
			pregenerated = true
		}
	}

	var cols, marks []string
	var params []any
	var omitted []schema.Field
	for _, f := range c.desc.Fields() {
		if !c.updatable(f) {
			if c.ownsField(f) {
				omitted = append(omitted, f)
			}
			continue
		}
		if singleAuto && c.isKeyField(f.Alias) && !pregenerated {
			continue
		}
		v, _ := r.Get(f.Alias)
		cols = append(cols, c.dialect.QuoteIdentifier(f.Name))
		marks, params = bindValue(marks, params, v)
	}

	table := c.dialect.QuoteIdentifier(c.table)
	var query string
	if len(cols) == 0 {
		query = fmt.Sprintf("INSERT INTO %s DEFAULT VALUES", table)
	} else {
		query = fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
			table, strings.Join(cols, ", "), strings.Join(marks, ", "))
	}
	if _, err := aux.Execute(ctx, query, params...); err != nil {
		return err
	}

	if singleAuto && !pregenerated {
		id, err := c.drv.LastInsertID(ctx)
		if err != nil {
			return err
		}
		kf, _ := c.desc.Field(c.keyFields[0])
		if v, err := schema.Coerce(kf, id); err == nil {
			id = v
		}
		r.Set(kf.Alias, id)
	}

	if err := c.refreshDefaults(ctx, r, omitted); err != nil {
		return err
	}
	delete(c.newRecords, key)
	delete(c.mementos, key)
	r.ClearTempKey()
	c.notifyKeyChange(r, oldPK)
	return nil
}

// notifyKeyChange reports r's key moving from oldPK to its current values.
func (c *Cursor) notifyKeyChange(r *recordset.Row, oldPK []any) {
	if c.keyAssigned == nil {
		return
	}
	if newPK := c.pkValues(r); keyOf(newPK) != keyOf(oldPK) {
		c.keyAssigned(exprOf(oldPK), exprOf(newPK))
	}
}

// OnKeyAssigned registers fn to run when a row's key values change. That
// happens when an insert assigns a different key, when a key field is edited
// and when a cancel reverts such an edit.
func (c *Cursor) OnKeyAssigned(fn func(oldKey, newKey any)) {
	c.keyAssigned = fn
}

func exprOf(vals []any) any {
	if len(vals) == 1 {
		return vals[0]
	}
	return vals
}

func (c *Cursor) ownsField(f schema.Field) bool {
	if _, isVirtual := c.virtual[f.Alias]; isVirtual {
		return false
	}
	return f.Table == "" || c.table == "" || strings.EqualFold(f.Table, c.table)
}

// refreshDefaults reads back fields the INSERT did not write, so values
// assigned by the backend appear in the row.
func (c *Cursor) refreshDefaults(ctx context.Context, r *recordset.Row, omitted []schema.Field) error {
	if len(omitted) == 0 {
		return nil
	}
	pk := c.pkValues(r)
	for _, v := range pk {
		if v == nil {
			return nil
		}
	}
	cols := make([]string, len(omitted))
	for i, f := range omitted {
		cols[i] = fmt.Sprintf("%s AS %s",
			c.dialect.QuoteIdentifier(f.Name), c.dialect.QuoteIdentifier(f.Alias))
	}
	where, params := c.pkWhere(pk)
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s",
		strings.Join(cols, ", "), c.dialect.QuoteIdentifier(c.table), where)
	aux := c.Aux()
	n, err := aux.Execute(ctx, query, params...)
	if err != nil {
		return err
	}
	if n == 0 {
		return nil
	}
	fetched := aux.records.At(0)
	for _, f := range omitted {
		if v, ok := fetched.Get(f.Alias); ok {
			r.Set(f.Alias, v)
		}
	}
	return nil
}

func (c *Cursor) updateRow(ctx context.Context, r *recordset.Row) error {
	key := c.rowKey(r)
	bucket := c.mementos[key]
	var sets []string
	var params []any
	for _, f := range c.desc.Fields() {
		if _, changed := bucket[f.Alias]; !changed || !c.updatable(f) {
			continue
		}
		v, _ := r.Get(f.Alias)
		var marks []string
		marks, params = bindValue(marks, params, v)
		sets = append(sets, fmt.Sprintf("%s = %s", c.dialect.QuoteIdentifier(f.Name), marks[0]))
	}
	if len(sets) > 0 {
		where, whereParams := c.pkWhere(c.originalPK(r))
		query := fmt.Sprintf("UPDATE %s SET %s WHERE %s",
			c.dialect.QuoteIdentifier(c.table), strings.Join(sets, ", "), where)
		if _, err := c.Aux().Execute(ctx, query, append(params, whereParams...)...); err != nil {
			return err
		}
	}
	delete(c.mementos, key)
	return nil
}

// bindValue appends a placeholder for v, or the expression itself for a
// SQLFunc.
func bindValue(marks []string, params []any, v any) ([]string, []any) {
	if fn, ok := v.(SQLFunc); ok {
		return append(marks, string(fn)), params
	}
	return append(marks, "?"), append(params, v)
}

func (c *Cursor) pkWhere(vals []any) (string, []any) {
	conds := make([]string, len(c.keyFields))
	params := make([]any, 0, len(vals))
	for i, k := range c.keyFields {
		name := k
		if f, ok := c.desc.Field(k); ok {
			name = f.Name
		}
		if vals[i] == nil {
			conds[i] = c.dialect.QuoteIdentifier(name) + " IS NULL"
			continue
		}
		conds[i] = c.dialect.QuoteIdentifier(name) + " = ?"
		params = append(params, vals[i])
	}
	return strings.Join(conds, " AND "), params
}

// Delete removes the current row.
func (c *Cursor) Delete(ctx context.Context) error {
	return c.DeleteAt(ctx, c.rowNumber)
}

// DeleteAt removes row n. An unsaved row is only dropped locally. A saved row
// is counted first; when the count is zero the delete fails with
// NO_ROWS_DELETED and the row is kept.
func (c *Cursor) DeleteAt(ctx context.Context, n int) error {
	if err := c.checkRow(n); err != nil {
		return err
	}
	r := c.records.At(n)
	key := c.rowKey(r)
	if _, isNew := c.newRecords[key]; isNew {
		c.dropRow(r, n)
		return nil
	}
	if err := c.checkKey(); err != nil {
		return err
	}

	where, params := c.pkWhere(c.originalPK(r))
	table := c.dialect.QuoteIdentifier(c.table)
	aux := c.Aux()
	if _, err := aux.Execute(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s", table, where), params...); err != nil {
		return err
	}
	if countOf(aux) == 0 {
		return dberr.New(dberr.CodeNoRowsDeleted,
			fmt.Sprintf("no %s row matches key %v", c.table, c.originalPK(r)))
	}
	if _, err := aux.Execute(ctx, fmt.Sprintf("DELETE FROM %s WHERE %s", table, where), params...); err != nil {
		return err
	}
	c.dropRow(r, n)
	return nil
}

func (c *Cursor) dropRow(r *recordset.Row, n int) {
	key := c.rowKey(r)
	delete(c.newRecords, key)
	delete(c.mementos, key)
	c.records.RemoveRow(r)
	if n < c.rowNumber {
		c.rowNumber--
	}
	c.clampRowNumber()
}

// countOf reads the single value of a COUNT(*) result held by aux.
func countOf(aux *Cursor) int64 {
	if aux.records.Len() == 0 {
		return 0
	}
	for _, v := range aux.records.At(0).Values() {
		n, _ := schema.Coerce(schema.Field{Type: schema.TypeInt}, v)
		count, _ := n.(int64)
		return count
	}
	return 0
}

var _ driver.Executor = auxExecutor{}
