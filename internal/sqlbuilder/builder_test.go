package sqlbuilder

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type ansi struct{}

func (ansi) QuoteIdentifier(name string) string { return `"` + name + `"` }
func (ansi) LimitClause(n int) string          { return fmt.Sprintf("LIMIT %d", n) }

func TestBuild_MinimalSelect(t *testing.T) {
	sql, params, err := New().SetFrom("customers").Build(ansi{})
	require.NoError(t, err)
	assert.Equal(t, "SELECT * FROM customers", sql)
	assert.Empty(t, params)
}

func TestBuild_NoFrom(t *testing.T) {
	_, _, err := New().AddField("id", "").Build(ansi{})
	assert.ErrorContains(t, err, "no from clause")
}

func TestBuild_AllClauses(t *testing.T) {
	b := New().
		AddField("c.id", "").
		AddField("c.name", "customer").
		AddField("count(o.id)", "orders").
		SetFrom("customers c").
		AddJoin(LeftJoin, "orders o", "o.customer_id = c.id").
		AddWhere("c.active = ?", true).
		AddWhereOr("c.vip = ?", 1).
		AddGroupBy("c.id").
		AddGroupBy("c.name").
		AddOrderBy("c.name DESC").
		SetLimit(50)

	sql, params, err := b.Build(ansi{})
	require.NoError(t, err)
	assert.Equal(t,
		"SELECT c.id, c.name AS customer, count(o.id) AS orders FROM customers c "+
			"LEFT JOIN orders o ON o.customer_id = c.id "+
			"WHERE c.active = ? OR c.vip = ? "+
			"GROUP BY c.id, c.name ORDER BY c.name DESC LIMIT 50",
		sql)
	assert.Equal(t, []any{true, 1}, params)
}

func TestBuild_ChildFilter(t *testing.T) {
	b := New().SetFrom("orders").SetChildFilter("orders.customer_id", int64(1))
	sql, params, err := b.Build(ansi{})
	require.NoError(t, err)
	assert.Equal(t, `SELECT * FROM orders WHERE "orders"."customer_id" = ?`, sql)
	assert.Equal(t, []any{int64(1)}, params)

	b.SetChildFilter("orders.customer_id", int64(2))
	_, params, err = b.Build(ansi{})
	require.NoError(t, err)
	assert.Equal(t, []any{int64(2)}, params)
}

func TestBuild_ChildFilterWrapsUserWhere(t *testing.T) {
	b := New().SetFrom("orders").
		AddWhere("status = ?", "open").
		AddWhereOr("status = ?", "held").
		SetChildFilter("customer_id", int64(7))
	sql, params, err := b.Build(ansi{})
	require.NoError(t, err)
	assert.Equal(t, `SELECT * FROM orders WHERE (status = ? OR status = ?) AND "customer_id" = ?`, sql)
	assert.Equal(t, []any{"open", "held", int64(7)}, params)
}

func TestBuild_ChildFilterNone(t *testing.T) {
	sql, params, err := New().SetFrom("orders").SetChildFilterNone().Build(ansi{})
	require.NoError(t, err)
	assert.Equal(t, "SELECT * FROM orders WHERE 1 = 0", sql)
	assert.Empty(t, params)
}

func TestClone_IsIndependent(t *testing.T) {
	a := New().SetFrom("orders").AddWhere("x = ?", 1).SetChildFilter("p", 1)
	b := a.Clone()
	b.AddWhere("y = ?", 2).SetChildFilter("p", 2).AddOrderBy("id")

	sqlA, paramsA, err := a.Build(ansi{})
	require.NoError(t, err)
	assert.Equal(t, `SELECT * FROM orders WHERE (x = ?) AND "p" = ?`, sqlA)
	assert.Equal(t, []any{1, 1}, paramsA)

	sqlB, paramsB, err := b.Build(ansi{})
	require.NoError(t, err)
	assert.Equal(t, `SELECT * FROM orders WHERE (x = ? AND y = ?) AND "p" = ? ORDER BY id`, sqlB)
	assert.Equal(t, []any{1, 2, 2}, paramsB)
}

func TestClearWhere_KeepsChildFilter(t *testing.T) {
	b := New().SetFrom("t").AddWhere("a = 1").SetChildFilter("p", 3).ClearWhere()
	sql, _, err := b.Build(ansi{})
	require.NoError(t, err)
	assert.Equal(t, `SELECT * FROM t WHERE "p" = ?`, sql)

	b.ClearChildFilter()
	sql, _, err = b.Build(ansi{})
	require.NoError(t, err)
	assert.Equal(t, "SELECT * FROM t", sql)
}
