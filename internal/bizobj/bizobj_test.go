package bizobj

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/bizcursor/internal/cursor"
	"github.com/roach88/bizcursor/internal/dberr"
	"github.com/roach88/bizcursor/internal/driver"
	"github.com/roach88/bizcursor/internal/schema"
	"github.com/roach88/bizcursor/internal/sqlbuilder"
	"github.com/roach88/bizcursor/internal/testutil"
	"github.com/roach88/bizcursor/internal/wire"
)

var customersSchema = schema.MustDescriptor(
	schema.Field{Alias: "id", Type: schema.TypeInt, PK: true, Table: "customers", Name: "id"},
	schema.Field{Alias: "name", Type: schema.TypeChar, Table: "customers", Name: "name"},
)

var ordersSchema = schema.MustDescriptor(
	schema.Field{Alias: "id", Type: schema.TypeInt, PK: true, Table: "orders", Name: "id"},
	schema.Field{Alias: "customer_id", Type: schema.TypeInt, Table: "orders", Name: "customer_id"},
	schema.Field{Alias: "item", Type: schema.TypeChar, Table: "orders", Name: "item"},
	schema.Field{Alias: "qty", Type: schema.TypeInt, Table: "orders", Name: "qty"},
)

type fixture struct {
	tr        *driver.Trace
	customers *BizObj
	orders    *BizObj
	clock     *testutil.FakeClock
}

// newFixture builds customers -> orders over the shared SQLite fixture.
// edit adjusts the orders configuration before it is created.
func newFixture(t *testing.T, edit func(*Config)) *fixture {
	t.Helper()
	tr := testutil.OpenSQLite(t, testutil.CustomerOrdersSetup...)
	clock := testutil.NewFakeClock(time.Time{})

	customers := New(tr, Config{
		Table:          "customers",
		KeyField:       []string{"id"},
		AutoPopulatePK: true,
		Schema:         customersSchema,
		Logger:         testutil.DiscardLogger(),
	}, WithClock(clock))

	ocfg := Config{
		Table:          "orders",
		KeyField:       []string{"id"},
		AutoPopulatePK: true,
		Schema:         ordersSchema,
		Builder: sqlbuilder.New().
			SetFrom(`"orders"`).
			SetFields(`"id"`, `"customer_id"`, `"item"`, `"qty"`).
			SetOrderBy(`"id"`),
		LinkField:          "customer_id",
		FillLinkFromParent: true,
		RequeryWithParent:  true,
		Logger:             testutil.DiscardLogger(),
	}
	if edit != nil {
		edit(&ocfg)
	}
	orders := New(tr, ocfg, WithClock(clock))
	require.NoError(t, customers.AddChild(orders))
	return &fixture{tr: tr, customers: customers, orders: orders, clock: clock}
}

func (f *fixture) load(t *testing.T) {
	t.Helper()
	require.NoError(t, f.customers.Requery(context.Background()))
	f.tr.Reset()
}

func (f *fixture) selectsOn(table string) []driver.Statement {
	var out []driver.Statement
	for _, s := range f.tr.Matching("SELECT") {
		if strings.Contains(s.SQL, `FROM "`+table+`"`) {
			out = append(out, s)
		}
	}
	return out
}

func TestCascade_ChildFollowsParent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.load(t)

	query, params, err := f.orders.Cursor().Builder().Build(f.tr.Dialect())
	require.NoError(t, err)
	assert.Equal(t, `SELECT "id", "customer_id", "item", "qty" FROM "orders" WHERE "customer_id" = ? ORDER BY "id"`, query)
	assert.Equal(t, []any{int64(1)}, params)
	assert.Equal(t, 2, f.orders.RowCount())

	require.NoError(t, f.customers.Next(ctx))

	selects := f.selectsOn("orders")
	require.Len(t, selects, 1, "child is requeried exactly once")
	assert.Equal(t, []any{int64(2)}, selects[0].Params)

	_, params, err = f.orders.Cursor().Builder().Build(f.tr.Dialect())
	require.NoError(t, err)
	assert.Equal(t, []any{int64(2)}, params)
	assert.Equal(t, 1, f.orders.RowCount())
	item, err := f.orders.FieldValue("item")
	require.NoError(t, err)
	assert.Equal(t, "plum", item)
	assert.Contains(t, f.orders.ContextKeys(), "i:1")
	assert.Contains(t, f.orders.ContextKeys(), "i:2")
}

func TestCascade_CacheInterval(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, func(c *Config) { c.CacheInterval = time.Minute })
	f.load(t)
	require.NoError(t, f.customers.Next(ctx))
	f.tr.Reset()

	require.NoError(t, f.customers.Prior(ctx))
	assert.Empty(t, f.selectsOn("orders"), "cached context is not requeried")
	assert.Equal(t, 2, f.orders.RowCount())

	f.clock.Advance(2 * time.Minute)
	require.NoError(t, f.customers.Next(ctx))
	assert.Len(t, f.selectsOn("orders"), 1)
}

func TestCascade_UnsavedChildIsNotRequeried(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.load(t)
	require.NoError(t, f.orders.SetFieldValue("qty", 7))

	require.NoError(t, f.customers.Next(ctx))
	require.NoError(t, f.customers.Prior(ctx))

	assert.Len(t, f.selectsOn("orders"), 1, "only the context for customer 2 was loaded")
	qty, err := f.orders.FieldValue("qty")
	require.NoError(t, err)
	assert.Equal(t, int64(7), qty)
	assert.True(t, f.customers.IsChanged())
}

func TestCascade_EmptyParentMatchesNothing(t *testing.T) {
	f := newFixture(t, nil)
	f.customers.Cursor().SetSQL(`SELECT "id", "name" FROM "customers" WHERE 1 = 0`)
	require.NoError(t, f.customers.Requery(context.Background()))

	query, params, err := f.orders.Cursor().Builder().Build(f.tr.Dialect())
	require.NoError(t, err)
	assert.Contains(t, query, "WHERE 1 = 0")
	assert.Empty(t, params)
	assert.Equal(t, 0, f.orders.RowCount())
}

func TestSaveAll_ChildFailureRollsBackParent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.load(t)

	require.NoError(t, f.customers.SetFieldValue("name", "Anna"))
	require.NoError(t, f.orders.New(ctx))
	require.NoError(t, f.orders.SetFieldValue("item", "fig"))
	require.NoError(t, f.orders.SetFieldValue("qty", 0))

	err := f.customers.SaveAll(ctx)
	require.Error(t, err)
	assert.True(t, dberr.IsQueryFailed(err))
	require.Len(t, f.tr.Matching("UPDATE"), 1)
	require.Len(t, f.tr.Matching("INSERT"), 1)
	assert.False(t, f.customers.Transactions().Held())

	assert.Equal(t, "Ann", testutil.QueryValue(t, f.tr, "SELECT name FROM customers WHERE id = 1"))
	assert.Equal(t, int64(3), testutil.QueryValue(t, f.tr, "SELECT COUNT(*) FROM orders"))

	assert.True(t, f.customers.IsChanged())
	assert.Equal(t, map[string]any{"name": "Ann"}, f.customers.Cursor().Memento(0))
	name, err := f.customers.FieldValue("name")
	require.NoError(t, err)
	assert.Equal(t, "Anna", name)

	assert.Equal(t, 3, f.orders.RowCount())
	assert.True(t, f.orders.IsNewRow())
	assert.Equal(t, 1, f.orders.Cursor().NewRowCount())
	pk, err := f.orders.PK()
	require.NoError(t, err)
	assert.Equal(t, int64(-1), pk)
}

func TestSaveAll_ParentAndChild(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.load(t)

	require.NoError(t, f.customers.SetFieldValue("name", "Anna"))
	require.NoError(t, f.orders.New(ctx))
	require.NoError(t, f.orders.SetFieldValue("item", "fig"))
	require.NoError(t, f.orders.SetFieldValue("qty", 3))

	require.NoError(t, f.customers.SaveAll(ctx))
	assert.False(t, f.customers.IsAnyChanged())
	assert.False(t, f.orders.IsAnyChanged())
	assert.Equal(t, "Anna", testutil.QueryValue(t, f.tr, "SELECT name FROM customers WHERE id = 1"))
	assert.Equal(t, int64(1), testutil.QueryValue(t, f.tr, "SELECT customer_id FROM orders WHERE item = 'fig'"))

	pk, err := f.orders.PK()
	require.NoError(t, err)
	assert.Equal(t, int64(4), pk)
}

func TestSaveAll_HandsNewParentKeyToChildren(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.load(t)

	require.NoError(t, f.customers.New(ctx))
	require.NoError(t, f.customers.SetFieldValue("name", "Cy"))
	assert.Equal(t, 0, f.orders.RowCount(), "a new parent has no stored children")

	require.NoError(t, f.orders.New(ctx))
	link, err := f.orders.FieldValue("customer_id")
	require.NoError(t, err)
	assert.Equal(t, int64(-1), link)
	assert.False(t, f.orders.IsChanged(), "defaults and link value are not edits")
	require.NoError(t, f.orders.SetFieldValue("item", "kiwi"))

	require.NoError(t, f.customers.SaveAll(ctx))

	pk, err := f.customers.PK()
	require.NoError(t, err)
	assert.Equal(t, int64(3), pk)
	assert.Equal(t, int64(3), testutil.QueryValue(t, f.tr, "SELECT customer_id FROM orders WHERE item = 'kiwi'"))
	assert.Contains(t, f.orders.ContextKeys(), "i:3")
	assert.NotContains(t, f.orders.ContextKeys(), "i:-1")
	link, err = f.orders.FieldValue("customer_id")
	require.NoError(t, err)
	assert.Equal(t, int64(3), link)
}

func TestSave_NewParentWithOnlyChildEdits(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.load(t)

	require.NoError(t, f.customers.New(ctx))
	require.NoError(t, f.orders.New(ctx))
	require.NoError(t, f.orders.SetFieldValue("item", "lime"))
	assert.True(t, f.customers.IsChanged())

	require.NoError(t, f.customers.Save(ctx))
	assert.Len(t, f.tr.Matching("INSERT"), 2)
	assert.False(t, f.customers.IsNewRow())
}

func TestSave_ValidationStopsBeforeAnyStatement(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.load(t)
	f.customers.ValidateRecord(func(bo *BizObj) string {
		v, _ := bo.FieldValue("name")
		if v == "" {
			return "name is required"
		}
		return ""
	})

	require.NoError(t, f.customers.SetFieldValue("name", ""))
	err := f.customers.Save(ctx)
	require.Error(t, err)
	assert.True(t, dberr.IsBusinessRule(err))
	assert.Contains(t, err.Error(), "name is required")
	assert.Empty(t, f.tr.Statements())
	assert.False(t, f.customers.Transactions().Held())
}

func TestSave_CallerOwnsTransaction(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.load(t)

	tok, err := f.customers.BeginTransaction(ctx)
	require.NoError(t, err)
	require.NoError(t, f.customers.SetFieldValue("name", "Anna"))
	require.NoError(t, f.customers.Save(ctx))
	assert.True(t, f.customers.Transactions().Held(), "save joins the caller's transaction")

	_, err = f.orders.BeginTransaction(ctx)
	assert.Equal(t, dberr.CodeTransactionHeld, dberr.CodeOf(err))

	require.NoError(t, f.customers.RollbackTransaction(ctx, tok))
	assert.Equal(t, "Ann", testutil.QueryValue(t, f.tr, "SELECT name FROM customers WHERE id = 1"))
	assert.Equal(t, dberr.CodeNotHolder, dberr.CodeOf(f.customers.CommitTransaction(ctx, tok)))
}

func TestTransactions_SharedByRootsOnOneDriver(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.load(t)

	other := New(f.tr, Config{
		Name:     "all_orders",
		Table:    "orders",
		KeyField: []string{"id"},
		Schema:   ordersSchema,
		Logger:   testutil.DiscardLogger(),
	})
	assert.Same(t, f.customers.Transactions(), other.Transactions())
	require.NoError(t, other.Requery(ctx))
	id, err := other.FieldValue("id")
	require.NoError(t, err)
	item, err := other.FieldValue("item")
	require.NoError(t, err)

	tok, err := f.customers.BeginTransaction(ctx)
	require.NoError(t, err)

	_, err = other.BeginTransaction(ctx)
	assert.Equal(t, dberr.CodeTransactionHeld, dberr.CodeOf(err))

	require.NoError(t, other.SetFieldValue("item", "quince"))
	require.NoError(t, other.Save(ctx))
	assert.True(t, other.Transactions().Held(), "save joins the open transaction")
	assert.Equal(t, "quince", testutil.QueryValue(t, f.tr, "SELECT item FROM orders WHERE id = ?", id))

	require.NoError(t, f.customers.RollbackTransaction(ctx, tok))
	assert.False(t, other.Transactions().Held())
	assert.Equal(t, item, testutil.QueryValue(t, f.tr, "SELECT item FROM orders WHERE id = ?", id))
}

func TestSave_ParentKeyEditMovesChildren(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.load(t)

	require.NoError(t, f.customers.SetFieldValue("id", int64(10)))
	assert.Contains(t, f.orders.ContextKeys(), "i:10")
	assert.NotContains(t, f.orders.ContextKeys(), "i:1")
	require.Equal(t, 2, f.orders.RowCount())
	assert.Equal(t, map[string]any{"customer_id": int64(1)}, f.orders.Cursor().Memento(0))

	require.NoError(t, f.customers.Cancel())
	assert.Contains(t, f.orders.ContextKeys(), "i:1")
	assert.NotContains(t, f.orders.ContextKeys(), "i:10")
	assert.False(t, f.customers.IsAnyChanged())
	assert.False(t, f.orders.IsAnyChanged())

	require.NoError(t, f.customers.SetFieldValue("id", int64(10)))
	require.NoError(t, f.customers.Save(ctx))
	assert.Equal(t, "Ann", testutil.QueryValue(t, f.tr, "SELECT name FROM customers WHERE id = 10"))
	assert.Equal(t, int64(2), testutil.QueryValue(t, f.tr, "SELECT COUNT(*) FROM orders WHERE customer_id = 10"))
	assert.Equal(t, int64(0), testutil.QueryValue(t, f.tr, "SELECT COUNT(*) FROM orders WHERE customer_id = 1"))
	assert.False(t, f.customers.IsAnyChanged())
}

func TestDelete_RestrictedByChildren(t *testing.T) {
	f := newFixture(t, nil)
	f.load(t)

	err := f.customers.Delete(context.Background())
	require.Error(t, err)
	assert.True(t, dberr.IsBusinessRule(err))
	assert.Empty(t, f.tr.Matching("DELETE"))
	assert.Equal(t, 2, f.customers.RowCount())
}

func TestDelete_CascadesToChildren(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.DeleteChildren = true })
	f.load(t)

	require.NoError(t, f.customers.Delete(context.Background()))
	assert.Len(t, f.tr.Matching("DELETE"), 3)
	assert.Equal(t, int64(1), testutil.QueryValue(t, f.tr, "SELECT COUNT(*) FROM orders"))
	assert.Equal(t, int64(1), testutil.QueryValue(t, f.tr, "SELECT COUNT(*) FROM customers"))

	assert.Equal(t, 1, f.customers.RowCount())
	item, err := f.orders.FieldValue("item")
	require.NoError(t, err)
	assert.Equal(t, "plum", item, "children follow the new current row")
}

func TestDeleteAllChildren(t *testing.T) {
	f := newFixture(t, nil)
	f.load(t)

	require.NoError(t, f.customers.DeleteAllChildren(context.Background()))
	assert.Equal(t, 0, f.orders.RowCount())
	assert.Equal(t, int64(0), testutil.QueryValue(t, f.tr, "SELECT COUNT(*) FROM orders WHERE customer_id = 1"))
	assert.Equal(t, 2, f.customers.RowCount())
}

func TestNavigation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	assert.True(t, dberr.IsNoRecords(f.customers.Next(ctx)))
	f.load(t)

	assert.True(t, dberr.IsBeginningOfFile(f.customers.Prior(ctx)))
	require.NoError(t, f.customers.Last(ctx))
	assert.Equal(t, 1, f.customers.RowNumber())
	assert.True(t, dberr.IsEndOfFile(f.customers.Next(ctx)))
	require.NoError(t, f.customers.First(ctx))
	assert.Equal(t, 0, f.customers.RowNumber())

	require.NoError(t, f.customers.MoveToPK(ctx, int64(2)))
	assert.Equal(t, 1, f.customers.RowNumber())
	assert.True(t, dberr.IsRowNotFound(f.customers.MoveToPK(ctx, 99)))
	assert.True(t, dberr.IsRowNotFound(f.customers.SetRowNumber(ctx, 5)))
	require.NoError(t, f.customers.SetRowNumber(ctx, 0))
}

func TestHooks(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.load(t)

	var seen []string
	f.customers.OnAfter(EventRowNumberChange, func(*BizObj) { seen = append(seen, "row") })
	f.customers.OnAfter(EventNext, func(*BizObj) { seen = append(seen, "next") })
	require.NoError(t, f.customers.Next(ctx))
	assert.Equal(t, []string{"row", "next"}, seen)

	f.customers.OnBefore(EventPrior, func(*BizObj) string { return "locked" })
	err := f.customers.Prior(ctx)
	require.Error(t, err)
	assert.True(t, dberr.IsBusinessRule(err))
	assert.Contains(t, err.Error(), "locked")
	assert.Equal(t, 1, f.customers.RowNumber())

	f.orders.ValidateField(func(_ *BizObj, field string, v any) string {
		if field == "qty" && v.(int) < 0 {
			return "qty must not be negative"
		}
		return ""
	})
	err = f.orders.SetFieldValue("qty", -4)
	var de *dberr.Error
	require.ErrorAs(t, err, &de)
	assert.Equal(t, dberr.CodeBusinessRule, de.Code)
	assert.Equal(t, "qty", de.Field)
	assert.False(t, f.orders.IsChanged())
}

func TestNew_DefaultsAndOnNewAreNotDirty(t *testing.T) {
	ctx := context.Background()
	calls := 0
	f := newFixture(t, func(c *Config) {
		c.DefaultValues = map[string]any{
			"item": "widget",
			"qty": DefaultFunc(func(*BizObj) any {
				calls++
				return 5
			}),
		}
	})
	f.load(t)
	f.orders.OnNew(func(bo *BizObj) {
		_ = bo.SetFieldValue("item", "gadget")
	})

	require.NoError(t, f.orders.New(ctx))
	assert.Equal(t, 1, calls)
	item, _ := f.orders.FieldValue("item")
	qty, _ := f.orders.FieldValue("qty")
	assert.Equal(t, "gadget", item)
	assert.Equal(t, int64(5), qty)
	assert.False(t, f.orders.IsChanged())
	assert.Empty(t, f.orders.Cursor().Memento(f.orders.RowNumber()))
}

func TestCancel(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.load(t)

	require.NoError(t, f.customers.SetFieldValue("name", "Anna"))
	require.NoError(t, f.orders.New(ctx))
	require.NoError(t, f.orders.SetFieldValue("item", "fig"))
	require.NoError(t, f.orders.New(ctx))
	assert.Equal(t, 4, f.orders.RowCount())

	require.NoError(t, f.customers.Cancel())
	assert.False(t, f.customers.IsAnyChanged())
	assert.Equal(t, 2, f.orders.RowCount())
	name, _ := f.customers.FieldValue("name")
	assert.Equal(t, "Ann", name)
}

func TestCancelAll(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.load(t)

	require.NoError(t, f.customers.SetFieldValue("name", "Anna"))
	require.NoError(t, f.customers.Next(ctx))
	require.NoError(t, f.customers.SetFieldValue("name", "Bobby"))
	require.NoError(t, f.customers.New(ctx))

	require.NoError(t, f.customers.CancelAll())
	assert.False(t, f.customers.IsAnyChanged())
	assert.Equal(t, 2, f.customers.RowCount())
	assert.Empty(t, f.tr.Matching("UPDATE"))
}

func TestScan(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.load(t)
	require.NoError(t, f.customers.Next(ctx))

	var names []any
	collect := func(bo *BizObj) error {
		v, err := bo.FieldValue("name")
		names = append(names, v)
		return err
	}
	require.NoError(t, f.customers.Scan(ctx, collect, ScanOptions{}))
	assert.Equal(t, []any{"Ann", "Bob"}, names)
	assert.Equal(t, 1, f.customers.RowNumber())

	names = nil
	require.NoError(t, f.customers.Scan(ctx, collect, ScanOptions{Reverse: true}))
	assert.Equal(t, []any{"Bob", "Ann"}, names)

	names = nil
	require.NoError(t, f.customers.Scan(ctx, func(bo *BizObj) error {
		bo.ExitScan()
		return collect(bo)
	}, ScanOptions{}))
	assert.Equal(t, []any{"Ann"}, names)

	var counts []int
	require.NoError(t, f.customers.Scan(ctx, func(*BizObj) error {
		counts = append(counts, f.orders.RowCount())
		return nil
	}, ScanOptions{RequeryChildren: true}))
	assert.Equal(t, []int{2, 1}, counts)
	assert.Equal(t, 1, f.orders.RowCount(), "children return to the current row")
}

func TestScanChangedRows(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.load(t)

	require.NoError(t, f.customers.SetFieldValue("name", "Anna"))
	require.NoError(t, f.customers.Next(ctx))
	require.NoError(t, f.orders.SetFieldValue("qty", 9))
	require.NoError(t, f.customers.First(ctx))

	var visited []int
	require.NoError(t, f.customers.ScanChangedRows(func(bo *BizObj) error {
		visited = append(visited, bo.RowNumber())
		return nil
	}, false))
	assert.Equal(t, []int{1, 0}, visited, "descending, including rows with changed children")
	assert.Equal(t, 0, f.customers.RowNumber())
	assert.Equal(t, 2, f.orders.RowCount())
}

func TestScanChangedRows_RestoresOnError(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.load(t)
	require.NoError(t, f.customers.SetFieldValue("name", "Anna"))
	require.NoError(t, f.customers.Next(ctx))
	require.NoError(t, f.customers.SetFieldValue("name", "Bobby"))

	err := f.customers.ScanChangedRows(func(bo *BizObj) error {
		if bo.RowNumber() == 0 {
			return dberr.BusinessRule("stop")
		}
		return nil
	}, true)
	require.Error(t, err)
	assert.Equal(t, 1, f.customers.RowNumber())
}

func TestFieldValueAt_VirtualFieldSeesRowChildren(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.load(t)
	f.customers.RegisterVirtualField("order_count", cursor.VirtualFunc{
		Fn: func(*cursor.Cursor, int) (any, error) {
			return f.orders.RowCount(), nil
		},
		RequeryChildren: true,
	})

	v, err := f.customers.FieldValueAt(ctx, 1, "order_count")
	require.NoError(t, err)
	assert.Equal(t, 1, v)
	assert.Equal(t, 0, f.customers.RowNumber())
	assert.Equal(t, 2, f.orders.RowCount())
}

func TestDataDiff(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.load(t)

	require.NoError(t, f.customers.SetFieldValue("name", "Anna"))
	require.NoError(t, f.orders.New(ctx))
	require.NoError(t, f.orders.SetFieldValue("item", "fig"))

	d := f.customers.DataDiff(false)
	assert.Equal(t, "customers", d.DataSource)
	assert.Equal(t, []string{"id"}, d.KeyField)
	require.Len(t, d.Rows, 1)
	assert.Equal(t, int64(1), d.Rows[0].Key)
	assert.Equal(t, wire.FieldChange{Old: "Ann", New: "Anna"}, d.Rows[0].Changes["name"])

	od := d.Children["orders"]
	require.NotNil(t, od)
	require.Len(t, od.Rows, 1)
	assert.True(t, od.Rows[0].IsNew)
	assert.Equal(t, int64(-1), od.Rows[0].Key)
	assert.Equal(t, "fig", od.Rows[0].Changes["item"].New)

	h, err := wire.Hash(d)
	require.NoError(t, err)
	assert.Len(t, h, 64)

	require.NoError(t, f.customers.CancelAll())
	assert.True(t, f.customers.DataDiff(true).IsEmpty())
}

func TestDataDiff_NewRowsWithBlankKeys(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, func(c *Config) { c.AutoPopulatePK = false })
	f.load(t)

	require.NoError(t, f.orders.New(ctx))
	require.NoError(t, f.orders.SetFieldValue("item", "fig"))
	require.NoError(t, f.orders.New(ctx))
	require.NoError(t, f.orders.SetFieldValue("item", "kiwi"))

	d := f.orders.DataDiff(false)
	require.Len(t, d.Rows, 1)
	assert.True(t, d.Rows[0].IsNew)
	assert.Equal(t, int64(0), d.Rows[0].Key)
	assert.Equal(t, "kiwi", d.Rows[0].Changes["item"].New)

	d = f.orders.DataDiff(true)
	require.Len(t, d.Rows, 2)
	assert.Equal(t, "fig", d.Rows[0].Changes["item"].New)
	assert.Equal(t, "kiwi", d.Rows[1].Changes["item"].New)

	od := f.customers.DataDiff(false).Children["orders"]
	require.NotNil(t, od)
	assert.Len(t, od.Rows, 2)
}

func TestWriteXML_NestsChildren(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.load(t)
	require.NoError(t, f.customers.Scan(ctx, func(*BizObj) error { return nil },
		ScanOptions{RequeryChildren: true}))

	var buf bytes.Buffer
	require.NoError(t, f.customers.WriteXML(&buf))

	g := goldie.New(t, goldie.WithFixtureDir("testdata/golden"), goldie.WithNameSuffix(".golden"))
	g.Assert(t, "customers_orders_xml", buf.Bytes())
}

func TestAddChild_Rejects(t *testing.T) {
	f := newFixture(t, nil)
	assert.Error(t, f.customers.AddChild(f.orders))
	assert.Error(t, f.orders.AddChild(f.customers))
	child, ok := f.customers.Child("orders")
	assert.True(t, ok)
	assert.Same(t, f.orders, child)
	assert.Same(t, f.customers, f.orders.Parent())
	assert.Same(t, f.customers.Transactions(), f.orders.Transactions())
}

func TestEventString(t *testing.T) {
	assert.Equal(t, "SaveAll", EventSaveAll.String())
	assert.Equal(t, "SetCurrentParent", EventSetCurrentParent.String())
	assert.Equal(t, "Event(?)", Event(99).String())
}
