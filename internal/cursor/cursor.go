// Package cursor owns one fetched record set and its unsaved edits.
//
// A Cursor holds a RecordSet, a schema Descriptor, a memento table (original
// values of changed fields, keyed by row identity) and the set of rows created
// locally and not yet saved. Persistence side queries (INSERT, UPDATE, the
// delete count check, default refresh) go through an auxiliary cursor that
// shares the driver but never touches the primary rows or RowNumber.
//
// A Cursor is not safe for concurrent use.
package cursor

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/roach88/bizcursor/internal/dberr"
	"github.com/roach88/bizcursor/internal/driver"
	"github.com/roach88/bizcursor/internal/recordset"
	"github.com/roach88/bizcursor/internal/schema"
	"github.com/roach88/bizcursor/internal/sqlbuilder"
)

// DefaultEncoding is tried first when decoding text returned as bytes.
const DefaultEncoding = "utf-8"

// Config configures a Cursor.
type Config struct {
	// Table is the table INSERT, UPDATE and DELETE statements target.
	Table string
	// KeyField names the primary key field, or several for a compound key.
	KeyField []string
	// AutoPopulatePK means the backend assigns the key on insert.
	AutoPopulatePK bool
	// Schema fixes the field list. When nil it is derived from the first
	// result of each new query shape.
	Schema *schema.Descriptor
	// Builder supplies the SELECT for Requery when no SQL was set directly.
	Builder *sqlbuilder.Builder
	// RestorePositionOnRequery keeps RowNumber on the same key across Requery.
	RestorePositionOnRequery bool
	// SaveNewUnchanged saves new rows even when no field was edited.
	SaveNewUnchanged bool
	// Encoding is the declared text encoding. Defaults to utf-8.
	Encoding string
	// NonUpdateFields are never written by Save.
	NonUpdateFields []string
	Logger          *slog.Logger
}

// Cursor is a record set with dirty tracking.
type Cursor struct {
	drv     driver.Driver
	dialect driver.Dialect
	logger  *slog.Logger

	table            string
	keyFields        []string
	autoPopulatePK   bool
	restorePosition  bool
	saveNewUnchanged bool
	encoding         string
	nonUpdate        map[string]bool

	desc      *schema.Descriptor
	descFixed bool
	records   *recordset.RecordSet
	rowNumber int

	mementos   map[Key]map[string]any
	newRecords map[Key]struct{}
	tempSeq    int64

	builder    *sqlbuilder.Builder
	userSQL    string
	userParams []any
	lastSQL    string
	lastParams []any

	selectSig string
	plan      map[string]bool

	sortField string
	sortOrder SortOrder
	sortCase  bool

	virtual map[string]VirtualField

	keyAssigned func(oldKey, newKey any)

	aux *Cursor
}

// New creates a cursor over drv.
func New(drv driver.Driver, cfg Config) *Cursor {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	enc := cfg.Encoding
	if enc == "" {
		enc = DefaultEncoding
	}
	c := &Cursor{
		drv:              drv,
		dialect:          drv.Dialect(),
		logger:           logger.With("table", cfg.Table),
		table:            cfg.Table,
		keyFields:        slices.Clone(cfg.KeyField),
		autoPopulatePK:   cfg.AutoPopulatePK,
		restorePosition:  cfg.RestorePositionOnRequery,
		saveNewUnchanged: cfg.SaveNewUnchanged,
		encoding:         enc,
		nonUpdate:        make(map[string]bool, len(cfg.NonUpdateFields)),
		builder:          cfg.Builder,
		virtual:          make(map[string]VirtualField),
	}
	for _, f := range cfg.NonUpdateFields {
		c.nonUpdate[f] = true
	}
	if cfg.Schema != nil {
		c.desc = cfg.Schema
		if len(c.keyFields) > 0 {
			if d, err := cfg.Schema.WithKey(c.keyFields); err == nil {
				c.desc = d
			}
		} else {
			for _, f := range cfg.Schema.KeyFields() {
				c.keyFields = append(c.keyFields, f.Alias)
			}
		}
		c.descFixed = true
	}
	c.reset(nil)
	c.rowNumber = -1
	return c
}

func (c *Cursor) reset(rows []*recordset.Row) {
	c.records = recordset.New(rows)
	c.mementos = make(map[Key]map[string]any)
	c.newRecords = make(map[Key]struct{})
}

// Table returns the target table.
func (c *Cursor) Table() string { return c.table }

// KeyField returns the key field names.
func (c *Cursor) KeyField() []string { return slices.Clone(c.keyFields) }

// AutoPopulatePK reports whether the backend assigns keys.
func (c *Cursor) AutoPopulatePK() bool { return c.autoPopulatePK }

// Schema returns the field descriptor, or nil before the first query.
func (c *Cursor) Schema() *schema.Descriptor { return c.desc }

// Builder returns the SQL builder, or nil.
func (c *Cursor) Builder() *sqlbuilder.Builder { return c.builder }

// SetBuilder replaces the SQL builder used by Requery.
func (c *Cursor) SetBuilder(b *sqlbuilder.Builder) { c.builder = b }

// Driver returns the underlying driver.
func (c *Cursor) Driver() driver.Driver { return c.drv }

// Encoding returns the text encoding currently in use.
func (c *Cursor) Encoding() string { return c.encoding }

// SetSQL fixes the statement Requery runs, overriding the builder.
// An empty query reverts to the builder.
func (c *Cursor) SetSQL(query string, params ...any) {
	c.userSQL = query
	c.userParams = slices.Clone(params)
}

// LastSQL returns the last row-returning statement executed.
func (c *Cursor) LastSQL() (string, []any) {
	return c.lastSQL, slices.Clone(c.lastParams)
}

// RowCount returns the number of visible rows.
func (c *Cursor) RowCount() int { return c.records.Len() }

// RowNumber returns the current row, or -1 when there are no rows.
func (c *Cursor) RowNumber() int { return c.rowNumber }

// SetRowNumber moves the current row.
func (c *Cursor) SetRowNumber(n int) error {
	if err := c.checkRow(n); err != nil {
		return err
	}
	c.rowNumber = n
	return nil
}

func (c *Cursor) checkRow(n int) error {
	count := c.records.Len()
	if count == 0 {
		return dberr.NoRecords()
	}
	if n < 0 || n >= count {
		return dberr.RowNotFound(n, count)
	}
	return nil
}

func (c *Cursor) clampRowNumber() {
	count := c.records.Len()
	switch {
	case count == 0:
		c.rowNumber = -1
	case c.rowNumber < 0:
		c.rowNumber = 0
	case c.rowNumber >= count:
		c.rowNumber = count - 1
	}
}

// relocate moves RowNumber to row, or clamps when row is no longer visible.
func (c *Cursor) relocate(row *recordset.Row) {
	if row != nil {
		if i := c.records.IndexOf(row); i >= 0 {
			c.rowNumber = i
			return
		}
	}
	c.clampRowNumber()
}

func (c *Cursor) current() *recordset.Row {
	if c.rowNumber < 0 || c.rowNumber >= c.records.Len() {
		return nil
	}
	return c.records.At(c.rowNumber)
}

// DataSet returns copies of the visible rows.
func (c *Cursor) DataSet() []map[string]any {
	out := make([]map[string]any, c.records.Len())
	for i, r := range c.records.Rows() {
		out[i] = r.Values()
	}
	return out
}

// Aux returns the auxiliary cursor, creating it on first use. It shares the
// driver, schema and key configuration but has its own rows.
func (c *Cursor) Aux() *Cursor {
	if c.aux == nil {
		c.aux = &Cursor{
			drv:       c.drv,
			dialect:   c.dialect,
			logger:    c.logger.With("aux", true),
			table:     c.table,
			encoding:  c.encoding,
			nonUpdate: c.nonUpdate,
			virtual:   map[string]VirtualField{},
		}
		c.aux.reset(nil)
	}
	c.aux.keyFields = c.keyFields
	c.aux.autoPopulatePK = c.autoPopulatePK
	c.aux.desc = c.desc
	c.aux.descFixed = c.desc != nil
	c.aux.rowNumber = -1
	return c.aux
}

// auxExecutor adapts the auxiliary cursor to driver.Executor.
type auxExecutor struct{ c *Cursor }

func (a auxExecutor) Execute(ctx context.Context, query string, params ...any) (*driver.Result, error) {
	return a.c.run(ctx, query, params)
}

func (c *Cursor) run(ctx context.Context, query string, params []any) (*driver.Result, error) {
	c.logger.Debug("execute", "sql", query, "params", params)
	return c.drv.Execute(ctx, query, params...)
}

// Key identifies a row in the memento table and the new-record set.
type Key string

func keyOf(vals []any) Key {
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = keyPart(v)
	}
	return Key(strings.Join(parts, "\x1f"))
}

func keyPart(v any) string {
	switch x := v.(type) {
	case nil:
		return "<nil>"
	case int:
		return fmt.Sprintf("i:%d", x)
	case int32:
		return fmt.Sprintf("i:%d", x)
	case int64:
		return fmt.Sprintf("i:%d", x)
	case string:
		return "s:" + x
	case []byte:
		return "s:" + string(x)
	}
	return fmt.Sprintf("%T:%v", v, v)
}

func (c *Cursor) rowKey(r *recordset.Row) Key {
	if tk, ok := r.TempKey(); ok {
		return Key("new:" + keyPart(tk))
	}
	return keyOf(c.pkValues(r))
}

func (c *Cursor) pkValues(r *recordset.Row) []any {
	out := make([]any, len(c.keyFields))
	for i, k := range c.keyFields {
		out[i], _ = r.Get(k)
	}
	return out
}

// originalPK returns the key values a row had when last saved, reading
// changed key fields from the memento.
func (c *Cursor) originalPK(r *recordset.Row) []any {
	vals := c.pkValues(r)
	bucket := c.mementos[c.rowKey(r)]
	for i, k := range c.keyFields {
		if orig, ok := bucket[k]; ok {
			vals[i] = orig
		}
	}
	return vals
}

func (c *Cursor) isKeyField(name string) bool {
	return slices.Contains(c.keyFields, name)
}

func (c *Cursor) checkKey() error {
	if len(c.keyFields) == 0 {
		return dberr.MissingPrimaryKey("no key field configured")
	}
	if c.desc == nil {
		return nil
	}
	for _, k := range c.keyFields {
		if !c.desc.Has(k) {
			return dberr.MissingPrimaryKey(fmt.Sprintf("key field %q not in schema", k))
		}
	}
	return nil
}

// PKFieldExpression returns the key field name, or a []string for a
// compound key.
func (c *Cursor) PKFieldExpression() (any, error) {
	if err := c.checkKey(); err != nil {
		return nil, err
	}
	if len(c.keyFields) == 1 {
		return c.keyFields[0], nil
	}
	return slices.Clone(c.keyFields), nil
}

// PKExpression returns the key value of the current row.
func (c *Cursor) PKExpression() (any, error) {
	return c.PKExpressionAt(c.rowNumber)
}

// PKExpressionAt returns the key value of row n: a scalar, or a []any for a
// compound key.
func (c *Cursor) PKExpressionAt(n int) (any, error) {
	if err := c.checkKey(); err != nil {
		return nil, err
	}
	if err := c.checkRow(n); err != nil {
		return nil, err
	}
	return exprOf(c.pkValues(c.records.At(n))), nil
}

// FindPK returns the visible index of the row whose key equals pk, or -1.
// pk is a scalar or, for compound keys, a []any.
func (c *Cursor) FindPK(pk any) int {
	want := []any{pk}
	if vals, ok := pk.([]any); ok && len(c.keyFields) > 1 {
		want = vals
	}
	if len(want) != len(c.keyFields) {
		return -1
	}
	for i, r := range c.records.Rows() {
		got := c.pkValues(r)
		match := true
		for j := range got {
			if !schema.Equal(got[j], want[j]) {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}

func (c *Cursor) rowByKey(k Key) *recordset.Row {
	for _, r := range c.records.AllRows() {
		if c.rowKey(r) == k {
			return r
		}
	}
	return nil
}
