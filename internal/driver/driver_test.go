package driver

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/cockroachdb/apd/v3"
	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/bizcursor/internal/dberr"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func openTestDB(t *testing.T) *SQL {
	t.Helper()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "test.db"), discard())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenSQLite_CreatesFileAndPragmas(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := OpenSQLite(path, discard())
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(path)
	require.NoError(t, err)

	res, err := s.Execute(context.Background(), "PRAGMA foreign_keys")
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, int64(1), res.Rows[0].(PositionalRow)[0])
}

func TestOpenSQLite_InvalidPath(t *testing.T) {
	_, err := OpenSQLite("/nonexistent/dir/test.db", discard())
	assert.Error(t, err)
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	_, err := Open("oracle", "x", discard())
	assert.ErrorContains(t, err, "unsupported driver")
}

func TestOpen_InvalidMySQLDSN(t *testing.T) {
	_, err := Open("mysql", "not a dsn", discard())
	assert.ErrorContains(t, err, "invalid mysql dsn")
}

func TestExecute_SelectAndInsert(t *testing.T) {
	ctx := context.Background()
	s := openTestDB(t)

	_, err := s.Execute(ctx, "CREATE TABLE items (id INTEGER PRIMARY KEY AUTOINCREMENT, name TEXT, price NUMERIC)")
	require.NoError(t, err)

	res, err := s.Execute(ctx, "INSERT INTO items (name, price) VALUES (?, ?)", "widget", apd.New(1250, -2))
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.RowCount)
	assert.False(t, res.HasRows)

	id, err := s.LastInsertID(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)

	res, err = s.Execute(ctx, "SELECT id, name, price FROM items WHERE name = ?", "widget")
	require.NoError(t, err)
	assert.True(t, res.HasRows)
	assert.Equal(t, []string{"id", "name", "price"}, res.ColumnNames())
	assert.Equal(t, []string{"INTEGER", "TEXT", "NUMERIC"}, res.ColumnTypes())
	require.Len(t, res.Rows, 1)
	row := res.Rows[0].(PositionalRow)
	assert.Equal(t, int64(1), row[0])
	assert.Equal(t, 12.5, row[2])
}

func TestExecute_QueryFailed(t *testing.T) {
	s := openTestDB(t)
	_, err := s.Execute(context.Background(), "SELECT * FROM missing")
	assert.True(t, dberr.IsQueryFailed(err))
}

func TestLastInsertID_NoInsert(t *testing.T) {
	s := openTestDB(t)
	_, err := s.LastInsertID(context.Background())
	assert.Error(t, err)
}

func TestTransaction_Rollback(t *testing.T) {
	ctx := context.Background()
	s := openTestDB(t)
	_, err := s.Execute(ctx, "CREATE TABLE t (v INTEGER)")
	require.NoError(t, err)

	require.NoError(t, s.Begin(ctx))
	assert.True(t, s.InTransaction())
	assert.Equal(t, dberr.CodeTransactionHeld, dberr.CodeOf(s.Begin(ctx)))
	_, err = s.Execute(ctx, "INSERT INTO t (v) VALUES (1)")
	require.NoError(t, err)
	require.NoError(t, s.Rollback(ctx))
	assert.False(t, s.InTransaction())

	res, err := s.Execute(ctx, "SELECT COUNT(*) FROM t")
	require.NoError(t, err)
	assert.Equal(t, int64(0), res.Rows[0].(PositionalRow)[0])

	assert.Error(t, s.Commit(ctx))
	assert.Error(t, s.Rollback(ctx))
}

func TestTransaction_Commit(t *testing.T) {
	ctx := context.Background()
	s := openTestDB(t)
	_, err := s.Execute(ctx, "CREATE TABLE t (v INTEGER)")
	require.NoError(t, err)

	require.NoError(t, s.Begin(ctx))
	_, err = s.Execute(ctx, "INSERT INTO t (v) VALUES (1)")
	require.NoError(t, err)
	require.NoError(t, s.Commit(ctx))

	res, err := s.Execute(ctx, "SELECT COUNT(*) FROM t")
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Rows[0].(PositionalRow)[0])
}

func TestTransactionsFor_OneManagerPerConnection(t *testing.T) {
	ctx := context.Background()
	s := openTestDB(t)
	a, b := NewTrace(s, discard()), NewTrace(s, discard())

	m := TransactionsFor(a, discard())
	assert.Same(t, s.Transactions(), m)
	assert.Same(t, m, TransactionsFor(b, discard()))

	tok, err := m.Begin(ctx, "a")
	require.NoError(t, err)
	assert.True(t, s.InTransaction())
	_, err = TransactionsFor(b, discard()).Begin(ctx, "b")
	assert.Equal(t, dberr.CodeTransactionHeld, dberr.CodeOf(err))
	require.NoError(t, m.Rollback(ctx, tok))
	assert.False(t, s.InTransaction())
}

func TestReturnsRows(t *testing.T) {
	cases := map[string]bool{
		"SELECT 1":                                 true,
		"  select * from t":                        true,
		"PRAGMA table_info(t)":                     true,
		"WITH x AS (SELECT 1) SELECT * FROM x":     true,
		"(SELECT 1)":                               true,
		"-- comment\nSELECT 1":                     true,
		"INSERT INTO t (a) VALUES (1)":             false,
		"INSERT INTO t (a) VALUES (1) RETURNING a": true,
		"UPDATE t SET a = 1":                       false,
		"DELETE FROM t":                            false,
	}
	for q, want := range cases {
		assert.Equal(t, want, ReturnsRows(q), q)
	}
}

func TestDialect_Quoting(t *testing.T) {
	assert.Equal(t, `"order"`, SQLiteDialect{}.QuoteIdentifier("order"))
	assert.Equal(t, `"a""b"`, PostgresDialect{}.QuoteIdentifier(`a"b`))
	assert.Equal(t, "`order`", MySQLDialect{}.QuoteIdentifier("order"))
	assert.Equal(t, "LIMIT 10", SQLiteDialect{}.LimitClause(10))
}

func TestPostgresDialect_Rebind(t *testing.T) {
	got := PostgresDialect{}.Rebind("SELECT * FROM t WHERE a = ? AND b = '?' AND c = ?")
	assert.Equal(t, "SELECT * FROM t WHERE a = $1 AND b = '?' AND c = $2", got)
}

func TestDialectFor(t *testing.T) {
	d, err := DialectFor("pgx")
	require.NoError(t, err)
	assert.Equal(t, "pgx", d.Name())
	_, err = DialectFor("db2")
	assert.Error(t, err)
}

func TestClassifyError(t *testing.T) {
	var ce *dberr.ConnError

	err := MySQLDialect{}.ClassifyError(mysql.ErrInvalidConn)
	assert.True(t, errors.As(err, &ce))

	err = MySQLDialect{}.ClassifyError(&mysql.MySQLError{Number: 1062, Message: "duplicate"})
	assert.False(t, errors.As(err, &ce))

	err = PostgresDialect{}.ClassifyError(&pgconn.PgError{Code: "08006"})
	assert.True(t, errors.As(err, &ce))

	err = PostgresDialect{}.ClassifyError(&pgconn.PgError{Code: "23505"})
	assert.False(t, errors.As(err, &ce))
	assert.True(t, dberr.IsQueryFailed(dberr.FromDriver(err, "INSERT")))
}

type stubExecutor struct {
	rows []RowData
}

func (s stubExecutor) Execute(context.Context, string, ...any) (*Result, error) {
	return &Result{HasRows: true, Rows: s.rows}, nil
}

func TestPostgresDialect_PregenerateKey(t *testing.T) {
	key, ok, err := PostgresDialect{}.PregenerateKey(context.Background(),
		stubExecutor{rows: []RowData{PositionalRow{int64(41)}}}, "items", "id")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(41), key)

	_, ok, err = SQLiteDialect{}.PregenerateKey(context.Background(), nil, "items", "id")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTrace_Records(t *testing.T) {
	ctx := context.Background()
	tr := NewTrace(openTestDB(t), discard())
	_, err := tr.Execute(ctx, "CREATE TABLE t (v INTEGER)")
	require.NoError(t, err)
	_, err = tr.Execute(ctx, "INSERT INTO t (v) VALUES (?)", 7)
	require.NoError(t, err)

	assert.Len(t, tr.Statements(), 2)
	inserts := tr.Matching("insert")
	require.Len(t, inserts, 1)
	assert.Equal(t, []any{7}, inserts[0].Params)

	tr.Reset()
	assert.Empty(t, tr.Statements())
}
