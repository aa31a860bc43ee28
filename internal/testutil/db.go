package testutil

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/bizcursor/internal/driver"
)

// DiscardLogger returns a logger that drops everything.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// OpenSQLite opens a fresh database file under t.TempDir, runs each
// statement in setup, and wraps the driver in a Trace that starts empty.
// The database is closed when the test ends.
func OpenSQLite(t *testing.T, setup ...string) *driver.Trace {
	t.Helper()
	s, err := driver.OpenSQLite(filepath.Join(t.TempDir(), "test.db"), DiscardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	ctx := context.Background()
	for _, q := range setup {
		_, err := s.Execute(ctx, q)
		require.NoError(t, err, "setup: %s", q)
	}
	return driver.NewTrace(s, DiscardLogger())
}

// Customers and orders, the master/detail fixture shared by package tests.
var CustomerOrdersSetup = []string{
	"CREATE TABLE customers (id INTEGER PRIMARY KEY AUTOINCREMENT, name TEXT NOT NULL DEFAULT '')",
	"CREATE TABLE orders (id INTEGER PRIMARY KEY AUTOINCREMENT, customer_id INTEGER NOT NULL, " +
		"item TEXT NOT NULL DEFAULT '', qty INTEGER NOT NULL DEFAULT 1 CHECK (qty > 0))",
	"INSERT INTO customers (name) VALUES ('Ann'), ('Bob')",
	"INSERT INTO orders (customer_id, item, qty) VALUES (1, 'apple', 2), (1, 'pear', 1), (2, 'plum', 5)",
}

// QueryValue runs query on d and returns the first column of the first row.
func QueryValue(t *testing.T, d driver.Driver, query string, params ...any) any {
	t.Helper()
	res, err := d.Execute(context.Background(), query, params...)
	require.NoError(t, err)
	require.NotEmpty(t, res.Rows, "no rows: %s", query)
	switch row := res.Rows[0].(type) {
	case driver.PositionalRow:
		return row[0]
	case driver.MappedRow:
		return row[res.Columns[0].Name]
	}
	t.Fatalf("unexpected row shape %T", res.Rows[0])
	return nil
}
