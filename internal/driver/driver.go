// Package driver is the boundary between cursors and a database backend.
//
// A Driver executes SQL text with "?" placeholders and returns rows in one
// of two explicit shapes, MappedRow or PositionalRow. Backend differences
// (quoting, limit syntax, placeholder numbering, key generation, connection
// error detection) live behind the Dialect interface.
//
// Drivers hold exactly one connection. A cursor, its auxiliary cursor and
// every business object sharing the driver take turns on it; nothing here
// is safe for concurrent use.
package driver

import (
	"context"
	"log/slog"

	"github.com/roach88/bizcursor/internal/txn"
)

// Transactor is a driver that owns the transaction manager of its
// connection.
type Transactor interface {
	Transactions() *txn.Manager
}

// TransactionsFor returns d's shared transaction manager, or a fresh one
// when d does not own a manager.
func TransactionsFor(d Driver, logger *slog.Logger) *txn.Manager {
	if t, ok := d.(Transactor); ok {
		return t.Transactions()
	}
	return txn.NewManager(d, logger)
}

// RowData is one returned row. It is either a MappedRow or a PositionalRow.
type RowData interface {
	rowData()
}

// MappedRow carries values keyed by column name.
type MappedRow map[string]any

func (MappedRow) rowData() {}

// PositionalRow carries values in column order.
type PositionalRow []any

func (PositionalRow) rowData() {}

// Column describes one result column.
type Column struct {
	Name         string
	DatabaseType string
}

// Result is the outcome of one statement. Rows is nil for statements that
// return no rows; RowCount is then the number of affected rows.
type Result struct {
	RowCount int64
	Columns  []Column
	Rows     []RowData
	HasRows  bool
}

// ColumnNames returns the column names in order.
func (r *Result) ColumnNames() []string {
	out := make([]string, len(r.Columns))
	for i, c := range r.Columns {
		out[i] = c.Name
	}
	return out
}

// ColumnTypes returns the declared column types in order.
func (r *Result) ColumnTypes() []string {
	out := make([]string, len(r.Columns))
	for i, c := range r.Columns {
		out[i] = c.DatabaseType
	}
	return out
}

// Executor runs one statement.
type Executor interface {
	Execute(ctx context.Context, query string, params ...any) (*Result, error)
}

// Driver is a single backend connection.
type Driver interface {
	Executor

	// LastInsertID returns the key generated by the most recent INSERT.
	LastInsertID(ctx context.Context) (any, error)

	Begin(ctx context.Context) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
	InTransaction() bool

	Dialect() Dialect
	Close() error
}

// Dialect captures backend-specific SQL behaviour.
type Dialect interface {
	Name() string
	QuoteIdentifier(name string) string
	LimitClause(n int) string

	// Rebind rewrites "?" placeholders into the backend's syntax.
	Rebind(query string) string

	// PregenerateKey obtains a key value before an INSERT for backends that
	// cannot report generated keys afterwards. ok is false when the backend
	// assigns keys itself and LastInsertID should be used.
	PregenerateKey(ctx context.Context, ex Executor, table, field string) (key any, ok bool, err error)

	// ClassifyError wraps transport failures in *dberr.ConnError.
	ClassifyError(err error) error
}
