package recordset

import (
	"fmt"
	"strings"

	"github.com/roach88/bizcursor/internal/schema"
)

// Op is a filter comparison operator.
type Op string

const (
	OpEq         Op = "eq"
	OpNe         Op = "ne"
	OpGt         Op = "gt"
	OpGe         Op = "ge"
	OpLt         Op = "lt"
	OpLe         Op = "le"
	OpStartsWith Op = "startswith"
	OpEndsWith   Op = "endswith"
	OpContains   Op = "contains"
)

// ParseOp accepts an operator name or its symbol ("=", "!=", ">", ...).
func ParseOp(s string) (Op, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "eq", "=", "==", "":
		return OpEq, nil
	case "ne", "!=", "<>":
		return OpNe, nil
	case "gt", ">":
		return OpGt, nil
	case "ge", "gte", ">=":
		return OpGe, nil
	case "lt", "<":
		return OpLt, nil
	case "le", "lte", "<=":
		return OpLe, nil
	case "startswith":
		return OpStartsWith, nil
	case "endswith":
		return OpEndsWith, nil
	case "contains", "like":
		return OpContains, nil
	}
	return "", fmt.Errorf("unknown filter operator %q", s)
}

// Filter is a predicate over one field.
type Filter struct {
	Field string
	Expr  any
	Op    Op
}

// Match reports whether row passes the filter. Rows lacking the field never match.
func (f Filter) Match(row *Row) bool {
	v, ok := row.Get(f.Field)
	if !ok {
		return false
	}
	switch f.Op {
	case OpStartsWith, OpEndsWith, OpContains:
		s := strings.ToLower(fmt.Sprint(v))
		e := strings.ToLower(fmt.Sprint(f.Expr))
		switch f.Op {
		case OpStartsWith:
			return strings.HasPrefix(s, e)
		case OpEndsWith:
			return strings.HasSuffix(s, e)
		default:
			return strings.Contains(s, e)
		}
	}
	c := schema.Compare(v, f.Expr, true)
	switch f.Op {
	case OpEq:
		return c == 0
	case OpNe:
		return c != 0
	case OpGt:
		return c > 0
	case OpGe:
		return c >= 0
	case OpLt:
		return c < 0
	case OpLe:
		return c <= 0
	}
	return false
}
