package cursor

import (
	"context"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/unicode/norm"

	"github.com/roach88/bizcursor/internal/driver"
	"github.com/roach88/bizcursor/internal/recordset"
	"github.com/roach88/bizcursor/internal/schema"
)

// fallbackEncodings are tried, in order, after the declared encoding.
var fallbackEncodings = []string{"utf-8", "windows-1252", "iso-8859-1"}

// Execute runs query. A row-returning statement replaces the record set,
// clears unsaved edits and clamps RowNumber; the fetched row count is
// returned. Otherwise the affected row count is returned and the record set
// is untouched.
func (c *Cursor) Execute(ctx context.Context, query string, params ...any) (int64, error) {
	res, err := c.run(ctx, query, params)
	if err != nil {
		return 0, err
	}
	if !res.HasRows {
		return res.RowCount, nil
	}
	c.lastSQL, c.lastParams = query, slices.Clone(params)
	rows, err := c.normalize(res, query)
	if err != nil {
		return 0, err
	}
	c.reset(rows)
	c.clampRowNumber()
	return int64(len(rows)), nil
}

// Requery re-executes the current statement: the SQL set with SetSQL, else
// the builder's output, else the last executed SELECT. Unsaved edits are
// discarded and an active client-side sort is reapplied.
func (c *Cursor) Requery(ctx context.Context) error {
	query, params, err := c.currentSQL()
	if err != nil {
		return err
	}
	var prevKey []any
	if c.restorePosition && len(c.keyFields) > 0 {
		if r := c.current(); r != nil {
			prevKey = c.pkValues(r)
		}
	}
	if _, err := c.Execute(ctx, query, params...); err != nil {
		return err
	}
	if c.sortField != "" && c.sortOrder != SortNone {
		c.applySort()
	}
	switch {
	case prevKey != nil:
		c.rowNumber = c.FindPK(exprOf(prevKey))
		c.clampRowNumber()
	case c.records.Len() > 0:
		c.rowNumber = 0
	}
	return nil
}

func (c *Cursor) currentSQL() (string, []any, error) {
	switch {
	case c.userSQL != "":
		return c.userSQL, c.userParams, nil
	case c.builder != nil:
		query, params, err := c.builder.Build(c.dialect)
		if err != nil {
			return "", nil, fmt.Errorf("build select for %s: %w", c.table, err)
		}
		return query, params, nil
	case c.lastSQL != "":
		return c.lastSQL, c.lastParams, nil
	}
	return "", nil, fmt.Errorf("requery %s: no statement to run", c.table)
}

// normalize turns driver rows into records: positional rows are zipped
// against the column order, the schema is derived for a new query shape, and
// values are coerced to their field types.
func (c *Cursor) normalize(res *driver.Result, query string) ([]*recordset.Row, error) {
	names := res.ColumnNames()

	sig := selectSignature(query)
	newShape := sig != c.selectSig
	if newShape {
		c.selectSig = sig
		c.plan = nil
		if !c.descFixed && len(names) > 0 {
			d, err := schema.FromColumns(names, res.ColumnTypes(), c.table, c.keyFields)
			if err != nil {
				return nil, fmt.Errorf("derive schema: %w", err)
			}
			c.desc = d
		}
	}
	if len(names) == 0 && c.desc != nil {
		names = c.desc.Aliases()
	}

	rows := make([]*recordset.Row, 0, len(res.Rows))
	for _, rd := range res.Rows {
		var vals map[string]any
		switch r := rd.(type) {
		case driver.MappedRow:
			vals = map[string]any(r)
		case driver.PositionalRow:
			vals = make(map[string]any, len(r))
			for i, v := range r {
				if i < len(names) {
					vals[names[i]] = v
				}
			}
		}
		rows = append(rows, recordset.NewRow(vals))
	}

	if c.plan == nil {
		c.plan = c.derivePlan(rows)
	}
	for _, r := range rows {
		c.coerceRow(r)
	}
	return rows, nil
}

// derivePlan picks the fields whose fetched values do not already have their
// declared Go type. Fields with only nil values are included.
func (c *Cursor) derivePlan(rows []*recordset.Row) map[string]bool {
	plan := make(map[string]bool)
	if c.desc == nil {
		return plan
	}
	for _, f := range c.desc.Fields() {
		sample, found := any(nil), false
		for _, r := range rows {
			if v, ok := r.Get(f.Alias); ok && v != nil {
				sample, found = v, true
				break
			}
		}
		if !found || !schema.Matches(f.Type, sample) {
			plan[f.Alias] = true
		}
	}
	return plan
}

func (c *Cursor) coerceRow(r *recordset.Row) {
	for alias := range c.plan {
		v, ok := r.Get(alias)
		if !ok || v == nil {
			continue
		}
		f, _ := c.desc.Field(alias)
		if schema.Matches(f.Type, v) && f.Type != schema.TypeMemo {
			continue
		}
		if b, isBytes := v.([]byte); isBytes && f.Type.IsString() {
			if s, ok := c.decodeText(b); ok {
				r.Set(alias, s)
			} else {
				c.logger.Warn("undecodable text kept as bytes", "field", alias)
			}
			continue
		}
		coerced, err := schema.Coerce(f, v)
		if err != nil {
			c.logger.Warn("coercion failed", "field", alias, "type", f.Type, "error", err)
			continue
		}
		r.Set(alias, coerced)
	}
}

// decodeText decodes b with the declared encoding, then each fallback. The
// first encoding that succeeds becomes the new declared encoding.
func (c *Cursor) decodeText(b []byte) (string, bool) {
	candidates := append([]string{c.encoding}, fallbackEncodings...)
	tried := make(map[string]bool, len(candidates))
	for _, name := range candidates {
		name = strings.ToLower(name)
		if tried[name] {
			continue
		}
		tried[name] = true
		s, ok := decodeWith(name, b)
		if !ok {
			continue
		}
		if name != strings.ToLower(c.encoding) {
			c.logger.Debug("text encoding switched", "from", c.encoding, "to", name)
			c.encoding = name
			if c.aux != nil {
				c.aux.encoding = name
			}
		}
		return norm.NFC.String(s), true
	}
	return "", false
}

func decodeWith(name string, b []byte) (string, bool) {
	if name == "utf-8" || name == "utf8" {
		if !utf8.Valid(b) {
			return "", false
		}
		return string(b), true
	}
	enc, err := htmlindex.Get(name)
	if err != nil {
		return "", false
	}
	out, err := enc.NewDecoder().Bytes(b)
	if err != nil || !utf8.Valid(out) || strings.ContainsRune(string(out), utf8.RuneError) {
		return "", false
	}
	return string(out), true
}

var (
	spaceRun   = regexp.MustCompile(`\s+`)
	selectFrom = regexp.MustCompile(`(?is)^\s*select\s+(.*?)\s+from\s`)
)

// selectSignature normalizes the "select ... from" field list of a query so
// that requeries of the same shape are recognized.
func selectSignature(query string) string {
	q := spaceRun.ReplaceAllString(strings.TrimSpace(query), " ")
	if m := selectFrom.FindStringSubmatch(q + " "); m != nil {
		return strings.ToLower(m[1])
	}
	return strings.ToLower(q)
}
