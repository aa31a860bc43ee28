// Package recordset holds the ordered rows fetched by a cursor.
//
// A RecordSet keeps a base order (fetch order, or the last sort) and a stack
// of filters. The visible rows are the base rows that pass every filter.
// Rows are pointers; identity is pointer identity, so a row keeps its
// identity across sort and filter changes.
package recordset

import (
	"maps"
	"slices"
	"sort"
)

// Row is one record: field values plus a temporary key that marks the row
// as new and unsaved.
type Row struct {
	values  map[string]any
	tempKey any
}

// NewRow creates a row from values. The map is copied.
func NewRow(values map[string]any) *Row {
	return &Row{values: maps.Clone(values)}
}

// Get returns a field value.
func (r *Row) Get(field string) (any, bool) {
	v, ok := r.values[field]
	return v, ok
}

// Set stores a field value.
func (r *Row) Set(field string, v any) {
	if r.values == nil {
		r.values = make(map[string]any)
	}
	r.values[field] = v
}

// Values returns a copy of the field values.
func (r *Row) Values() map[string]any {
	return maps.Clone(r.values)
}

// Replace swaps in a copy of values.
func (r *Row) Replace(values map[string]any) {
	r.values = maps.Clone(values)
}

// Clone returns an independent copy of the row, temp key included.
func (r *Row) Clone() *Row {
	return &Row{values: maps.Clone(r.values), tempKey: r.tempKey}
}

// TempKey returns the temporary key of a new, unsaved row.
func (r *Row) TempKey() (any, bool) {
	return r.tempKey, r.tempKey != nil
}

// SetTempKey marks the row as new with the given temporary key.
func (r *Row) SetTempKey(k any) {
	r.tempKey = k
}

// ClearTempKey marks the row as persisted.
func (r *Row) ClearTempKey() {
	r.tempKey = nil
}

// RecordSet is an ordered, filterable sequence of rows.
type RecordSet struct {
	base     []*Row
	unsorted []*Row
	filters  []Filter
	view     []*Row
}

// New creates a record set with rows in fetch order.
func New(rows []*Row) *RecordSet {
	rs := &RecordSet{base: rows}
	rs.view = rs.base
	return rs
}

// Len returns the number of visible rows.
func (rs *RecordSet) Len() int {
	return len(rs.view)
}

// At returns the i'th visible row.
func (rs *RecordSet) At(i int) *Row {
	return rs.view[i]
}

// Rows returns the visible rows. The slice must not be modified.
func (rs *RecordSet) Rows() []*Row {
	return rs.view
}

// AllRows returns every row, ignoring filters, in base order.
func (rs *RecordSet) AllRows() []*Row {
	return rs.base
}

// IndexOf returns the visible index of row, or -1.
func (rs *RecordSet) IndexOf(row *Row) int {
	return slices.Index(rs.view, row)
}

// Slice returns visible rows [start, end), clamped to bounds. Used for paging.
func (rs *RecordSet) Slice(start, end int) []*Row {
	start = max(0, min(start, len(rs.view)))
	end = max(start, min(end, len(rs.view)))
	return rs.view[start:end]
}

// Append adds a row at the end and makes it visible. Rows that carry a temp
// key stay visible through later filter and sort passes; others are subject
// to the filters from the next pass on.
func (rs *RecordSet) Append(row *Row) {
	rs.base = append(rs.base, row)
	if rs.unsorted != nil {
		rs.unsorted = append(rs.unsorted, row)
	}
	if len(rs.filters) == 0 {
		rs.view = rs.base
		return
	}
	rs.view = append(rs.view, row)
}

// Remove deletes the visible row at i from every ordering.
func (rs *RecordSet) Remove(i int) {
	rs.RemoveRow(rs.view[i])
}

// RemoveRow deletes row from every ordering, whether visible or not.
func (rs *RecordSet) RemoveRow(row *Row) {
	rs.base = removeRow(rs.base, row)
	if rs.unsorted != nil {
		rs.unsorted = removeRow(rs.unsorted, row)
	}
	if len(rs.filters) == 0 {
		rs.view = rs.base
		return
	}
	rs.view = removeRow(rs.view, row)
}

func removeRow(rows []*Row, row *Row) []*Row {
	if i := slices.Index(rows, row); i >= 0 {
		return slices.Delete(slices.Clone(rows), i, i+1)
	}
	return rows
}

// Sort reorders the base rows with a stable sort. The first sort remembers
// fetch order so Unsort can restore it.
func (rs *RecordSet) Sort(less func(a, b *Row) bool) {
	if rs.unsorted == nil {
		rs.unsorted = slices.Clone(rs.base)
	}
	sorted := slices.Clone(rs.base)
	sort.SliceStable(sorted, func(i, j int) bool { return less(sorted[i], sorted[j]) })
	rs.base = sorted
	rs.refilter()
}

// Unsort restores fetch order.
func (rs *RecordSet) Unsort() {
	if rs.unsorted == nil {
		return
	}
	rs.base = rs.unsorted
	rs.unsorted = nil
	rs.refilter()
}

// IsSorted reports whether a client-side sort is in effect.
func (rs *RecordSet) IsSorted() bool {
	return rs.unsorted != nil
}

// PushFilter narrows the visible rows.
func (rs *RecordSet) PushFilter(f Filter) {
	rs.filters = append(rs.filters, f)
	rs.view = applyFilter(rs.view, f)
}

// PopFilter removes the most recent filter. It returns false if none was set.
func (rs *RecordSet) PopFilter() bool {
	if len(rs.filters) == 0 {
		return false
	}
	rs.filters = rs.filters[:len(rs.filters)-1]
	rs.refilter()
	return true
}

// ClearFilters removes every filter.
func (rs *RecordSet) ClearFilters() {
	rs.filters = nil
	rs.view = rs.base
}

// Filters returns the active filters, oldest first.
func (rs *RecordSet) Filters() []Filter {
	return slices.Clone(rs.filters)
}

func (rs *RecordSet) refilter() {
	view := rs.base
	for _, f := range rs.filters {
		view = applyFilter(view, f)
	}
	rs.view = view
}

func applyFilter(rows []*Row, f Filter) []*Row {
	out := make([]*Row, 0, len(rows))
	for _, r := range rows {
		if _, unsaved := r.TempKey(); unsaved || f.Match(r) {
			out = append(out, r)
		}
	}
	return out
}

// Snapshot captures the row order and filter state. Row values are not
// copied.
type Snapshot struct {
	base, unsorted, view []*Row
	filters              []Filter
}

// Snapshot returns the current ordering state.
func (rs *RecordSet) Snapshot() Snapshot {
	return Snapshot{
		base:     slices.Clone(rs.base),
		unsorted: slices.Clone(rs.unsorted),
		view:     slices.Clone(rs.view),
		filters:  slices.Clone(rs.filters),
	}
}

// Restore reinstates a snapshot taken from this record set.
func (rs *RecordSet) Restore(s Snapshot) {
	rs.base = slices.Clone(s.base)
	rs.unsorted = slices.Clone(s.unsorted)
	rs.filters = slices.Clone(s.filters)
	if len(rs.filters) == 0 {
		rs.view = rs.base
		return
	}
	rs.view = slices.Clone(s.view)
}
