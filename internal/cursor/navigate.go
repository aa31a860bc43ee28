package cursor

import (
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/bizcursor/internal/dberr"
	"github.com/roach88/bizcursor/internal/recordset"
	"github.com/roach88/bizcursor/internal/schema"
)

// SortOrder is a client-side sort direction.
type SortOrder string

const (
	SortNone SortOrder = ""
	SortAsc  SortOrder = "ASC"
	SortDesc SortOrder = "DESC"
	// SortCycle advances ASC, DESC, unsorted on repeated calls for the same
	// field.
	SortCycle SortOrder = "CYCLE"
)

// ParseSortOrder accepts asc, desc, cycle and the empty string.
func ParseSortOrder(s string) (SortOrder, error) {
	switch o := SortOrder(strings.ToUpper(strings.TrimSpace(s))); o {
	case SortNone, SortAsc, SortDesc, SortCycle:
		return o, nil
	}
	return SortNone, fmt.Errorf("unknown sort order %q", s)
}

// SortState returns the active sort field and order.
func (c *Cursor) SortState() (string, SortOrder) {
	return c.sortField, c.sortOrder
}

// Sort orders the rows by field on the client. SortNone restores fetch order.
// RowNumber follows the row that was current.
func (c *Cursor) Sort(field string, order SortOrder, caseSensitive bool) error {
	if field != "" && !c.desc.Has(field) {
		return dberr.FieldNotFound(field)
	}
	if order == SortCycle {
		switch {
		case field != c.sortField || c.sortOrder == SortNone:
			order = SortAsc
		case c.sortOrder == SortAsc:
			order = SortDesc
		default:
			order = SortNone
		}
	}
	cur := c.current()
	if order == SortNone || field == "" {
		c.records.Unsort()
		c.sortField, c.sortOrder = "", SortNone
	} else {
		c.sortField, c.sortOrder, c.sortCase = field, order, caseSensitive
		c.applySort()
	}
	c.relocate(cur)
	return nil
}

func (c *Cursor) applySort() {
	field, desc, cs := c.sortField, c.sortOrder == SortDesc, c.sortCase
	c.records.Sort(func(a, b *recordset.Row) bool {
		x, _ := a.Get(field)
		y, _ := b.Get(field)
		if desc {
			return schema.Compare(y, x, cs) < 0
		}
		return schema.Compare(x, y, cs) < 0
	})
}

// Filter hides rows that do not satisfy field op expr. Filters stack.
func (c *Cursor) Filter(field string, expr any, op recordset.Op) error {
	if !c.desc.Has(field) {
		return dberr.FieldNotFound(field)
	}
	cur := c.current()
	c.records.PushFilter(recordset.Filter{Field: field, Expr: expr, Op: op})
	c.relocate(cur)
	return nil
}

// RemoveFilter drops the most recent filter.
func (c *Cursor) RemoveFilter() {
	cur := c.current()
	c.records.PopFilter()
	c.relocate(cur)
}

// RemoveFilters drops every filter.
func (c *Cursor) RemoveFilters() {
	cur := c.current()
	c.records.ClearFilters()
	c.relocate(cur)
}

// Filters returns the active filters, oldest first.
func (c *Cursor) Filters() []recordset.Filter {
	return c.records.Filters()
}

// Seek returns the visible index of the first row whose field equals value,
// or -1. An empty field means the sort field, else the first key field.
// With near, a missing value finds the row holding the greatest value not
// exceeding it. RowNumber is not moved.
func (c *Cursor) Seek(value any, field string, caseSensitive, near bool) int {
	if c.records.Len() == 0 {
		return -1
	}
	if field == "" {
		field = c.sortField
	}
	if field == "" && len(c.keyFields) > 0 {
		field = c.keyFields[0]
	}
	f, ok := c.desc.Field(field)
	if !ok {
		return -1
	}
	if !f.Type.IsString() {
		v, err := schema.Coerce(f, value)
		if err != nil {
			c.logger.Warn("seek value does not fit field", "field", field, "error", err)
			return -1
		}
		value = v
	}

	type pair struct {
		v   any
		row int
	}
	pairs := make([]pair, c.records.Len())
	for i, r := range c.records.Rows() {
		v, _ := r.Get(field)
		pairs[i] = pair{v, i}
	}
	sort.SliceStable(pairs, func(i, j int) bool {
		return schema.Compare(pairs[i].v, pairs[j].v, caseSensitive) < 0
	})

	best := -1
	for _, p := range pairs {
		cmp := schema.Compare(p.v, value, caseSensitive)
		if cmp == 0 {
			return p.row
		}
		if cmp > 0 {
			break
		}
		if p.v != nil {
			best = p.row
		}
	}
	if near {
		return best
	}
	return -1
}
