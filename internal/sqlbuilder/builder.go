// Package sqlbuilder accumulates SELECT fragments and renders one statement.
//
// Values are never interpolated: where fragments and the child filter carry
// their parameters and render "?" placeholders. The driver rebinds
// placeholders for backends that number them.
package sqlbuilder

import (
	"fmt"
	"slices"
	"strings"
)

// Dialect supplies backend-specific identifier quoting and limit syntax.
type Dialect interface {
	QuoteIdentifier(name string) string
	LimitClause(n int) string
}

// JoinKind selects the join type.
type JoinKind string

const (
	InnerJoin JoinKind = "INNER"
	LeftJoin  JoinKind = "LEFT"
	RightJoin JoinKind = "RIGHT"
	OuterJoin JoinKind = "FULL OUTER"
)

type whereClause struct {
	conj   string
	expr   string
	params []any
}

type joinClause struct {
	kind  JoinKind
	table string
	on    string
}

// childFilter restricts rows to one parent. none renders a predicate that
// matches nothing, used when the parent has no rows.
type childFilter struct {
	field string
	value any
	none  bool
}

// Builder accumulates the parts of a SELECT.
type Builder struct {
	fields  []string
	from    string
	joins   []joinClause
	where   []whereClause
	child   *childFilter
	groupBy []string
	orderBy []string
	limit   int
}

// New creates an empty builder.
func New() *Builder {
	return &Builder{}
}

// Clone returns an independent copy. Each cursor context gets its own.
func (b *Builder) Clone() *Builder {
	c := *b
	c.fields = slices.Clone(b.fields)
	c.joins = slices.Clone(b.joins)
	c.where = make([]whereClause, len(b.where))
	for i, w := range b.where {
		c.where[i] = whereClause{conj: w.conj, expr: w.expr, params: slices.Clone(w.params)}
	}
	if b.child != nil {
		cf := *b.child
		c.child = &cf
	}
	c.groupBy = slices.Clone(b.groupBy)
	c.orderBy = slices.Clone(b.orderBy)
	return &c
}

// AddField appends a select-list expression, optionally aliased.
func (b *Builder) AddField(expr, alias string) *Builder {
	if alias != "" && alias != expr {
		expr = fmt.Sprintf("%s AS %s", expr, alias)
	}
	b.fields = append(b.fields, expr)
	return b
}

// SetFields replaces the select list.
func (b *Builder) SetFields(exprs ...string) *Builder {
	b.fields = slices.Clone(exprs)
	return b
}

// SetFrom sets the from clause.
func (b *Builder) SetFrom(from string) *Builder {
	b.from = from
	return b
}

// From returns the from clause.
func (b *Builder) From() string {
	return b.from
}

// AddJoin appends a join.
func (b *Builder) AddJoin(kind JoinKind, table, on string) *Builder {
	b.joins = append(b.joins, joinClause{kind: kind, table: table, on: on})
	return b
}

// AddWhere appends a fragment joined with AND.
func (b *Builder) AddWhere(expr string, params ...any) *Builder {
	b.where = append(b.where, whereClause{conj: "AND", expr: expr, params: params})
	return b
}

// AddWhereOr appends a fragment joined with OR.
func (b *Builder) AddWhereOr(expr string, params ...any) *Builder {
	b.where = append(b.where, whereClause{conj: "OR", expr: expr, params: params})
	return b
}

// ClearWhere removes every where fragment. The child filter is kept.
func (b *Builder) ClearWhere() *Builder {
	b.where = nil
	return b
}

// SetChildFilter restricts rows to field = value.
func (b *Builder) SetChildFilter(field string, value any) *Builder {
	b.child = &childFilter{field: field, value: value}
	return b
}

// SetChildFilterNone installs a child filter that matches no rows.
func (b *Builder) SetChildFilterNone() *Builder {
	b.child = &childFilter{none: true}
	return b
}

// ClearChildFilter removes the child filter.
func (b *Builder) ClearChildFilter() *Builder {
	b.child = nil
	return b
}

// AddGroupBy appends a group-by expression.
func (b *Builder) AddGroupBy(expr string) *Builder {
	b.groupBy = append(b.groupBy, expr)
	return b
}

// AddOrderBy appends an order-by expression, e.g. "name DESC".
func (b *Builder) AddOrderBy(expr string) *Builder {
	b.orderBy = append(b.orderBy, expr)
	return b
}

// SetOrderBy replaces the order-by list.
func (b *Builder) SetOrderBy(exprs ...string) *Builder {
	b.orderBy = slices.Clone(exprs)
	return b
}

// SetLimit sets the row limit. Zero means no limit.
func (b *Builder) SetLimit(n int) *Builder {
	b.limit = n
	return b
}

// Build renders the statement and its parameters.
func (b *Builder) Build(d Dialect) (string, []any, error) {
	if strings.TrimSpace(b.from) == "" {
		return "", nil, fmt.Errorf("sqlbuilder: no from clause")
	}

	var sb strings.Builder
	var params []any

	sb.WriteString("SELECT ")
	if len(b.fields) == 0 {
		sb.WriteString("*")
	} else {
		sb.WriteString(strings.Join(b.fields, ", "))
	}
	sb.WriteString(" FROM ")
	sb.WriteString(b.from)

	for _, j := range b.joins {
		fmt.Fprintf(&sb, " %s JOIN %s ON %s", j.kind, j.table, j.on)
	}

	var conds []string
	for i, w := range b.where {
		if i == 0 {
			conds = append(conds, w.expr)
		} else {
			conds = append(conds, w.conj+" "+w.expr)
		}
		params = append(params, w.params...)
	}
	if b.child != nil {
		expr := "1 = 0"
		if !b.child.none {
			expr = quoteQualified(d, b.child.field) + " = ?"
			params = append(params, b.child.value)
		}
		if len(conds) > 0 {
			// Wrap user fragments so an OR cannot escape the parent restriction.
			conds = []string{"(" + strings.Join(conds, " ") + ")", "AND " + expr}
		} else {
			conds = append(conds, expr)
		}
	}
	if len(conds) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(conds, " "))
	}

	if len(b.groupBy) > 0 {
		sb.WriteString(" GROUP BY ")
		sb.WriteString(strings.Join(b.groupBy, ", "))
	}
	if len(b.orderBy) > 0 {
		sb.WriteString(" ORDER BY ")
		sb.WriteString(strings.Join(b.orderBy, ", "))
	}
	if b.limit > 0 {
		if lc := d.LimitClause(b.limit); lc != "" {
			sb.WriteString(" ")
			sb.WriteString(lc)
		}
	}

	return sb.String(), params, nil
}

// quoteQualified quotes each dot-separated part of an identifier.
func quoteQualified(d Dialect, name string) string {
	parts := strings.Split(name, ".")
	for i, p := range parts {
		parts[i] = d.QuoteIdentifier(p)
	}
	return strings.Join(parts, ".")
}
