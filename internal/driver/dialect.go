package driver

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"

	"github.com/roach88/bizcursor/internal/dberr"
)

// DialectFor returns the dialect registered under a database/sql driver name.
func DialectFor(driverName string) (Dialect, error) {
	switch driverName {
	case "sqlite3", "sqlite":
		return SQLiteDialect{}, nil
	case "pgx", "postgres", "postgresql":
		return PostgresDialect{}, nil
	case "mysql":
		return MySQLDialect{}, nil
	}
	return nil, fmt.Errorf("unsupported driver %q", driverName)
}

func quoteWith(name, q string) string {
	return q + strings.ReplaceAll(name, q, q+q) + q
}

// SQLiteDialect targets github.com/mattn/go-sqlite3.
type SQLiteDialect struct{}

func (SQLiteDialect) Name() string                       { return "sqlite3" }
func (SQLiteDialect) QuoteIdentifier(name string) string { return quoteWith(name, `"`) }
func (SQLiteDialect) LimitClause(n int) string           { return fmt.Sprintf("LIMIT %d", n) }
func (SQLiteDialect) Rebind(query string) string         { return query }

func (SQLiteDialect) PregenerateKey(context.Context, Executor, string, string) (any, bool, error) {
	return nil, false, nil
}

// ClassifyError marks failures to open or read the database file as
// connection errors.
func (SQLiteDialect) ClassifyError(err error) error {
	var se sqlite3.Error
	if errors.As(err, &se) {
		switch se.Code {
		case sqlite3.ErrCantOpen, sqlite3.ErrNotADB, sqlite3.ErrIoErr:
			return &dberr.ConnError{Err: err}
		}
	}
	return err
}

// PostgresDialect targets github.com/jackc/pgx/v5/stdlib.
type PostgresDialect struct{}

func (PostgresDialect) Name() string                       { return "pgx" }
func (PostgresDialect) QuoteIdentifier(name string) string { return quoteWith(name, `"`) }
func (PostgresDialect) LimitClause(n int) string           { return fmt.Sprintf("LIMIT %d", n) }

// Rebind numbers placeholders $1, $2, ... skipping quoted text.
func (PostgresDialect) Rebind(query string) string {
	var sb strings.Builder
	n := 0
	var quote rune
	for _, r := range query {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			}
		case r == '\'' || r == '"':
			quote = r
		case r == '?':
			n++
			sb.WriteString("$" + strconv.Itoa(n))
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

// PregenerateKey draws the next value from the column's serial sequence.
// The postgres stdlib driver does not support LastInsertId.
func (PostgresDialect) PregenerateKey(ctx context.Context, ex Executor, table, field string) (any, bool, error) {
	res, err := ex.Execute(ctx, "SELECT nextval(pg_get_serial_sequence(?, ?))", table, field)
	if err != nil {
		return nil, false, fmt.Errorf("pregenerate key: %w", err)
	}
	if len(res.Rows) == 0 {
		return nil, false, fmt.Errorf("pregenerate key: no sequence for %s.%s", table, field)
	}
	switch row := res.Rows[0].(type) {
	case PositionalRow:
		return row[0], true, nil
	case MappedRow:
		return row["nextval"], true, nil
	}
	return nil, false, fmt.Errorf("pregenerate key: unexpected row shape")
}

// ClassifyError marks connect failures and SQLSTATE class 08 as connection errors.
func (PostgresDialect) ClassifyError(err error) error {
	var ce *pgconn.ConnectError
	if errors.As(err, &ce) {
		return &dberr.ConnError{Err: err}
	}
	var pe *pgconn.PgError
	if errors.As(err, &pe) && strings.HasPrefix(pe.Code, "08") {
		return &dberr.ConnError{Err: err}
	}
	return err
}

// MySQLDialect targets github.com/go-sql-driver/mysql.
type MySQLDialect struct{}

func (MySQLDialect) Name() string                       { return "mysql" }
func (MySQLDialect) QuoteIdentifier(name string) string { return quoteWith(name, "`") }
func (MySQLDialect) LimitClause(n int) string           { return fmt.Sprintf("LIMIT %d", n) }
func (MySQLDialect) Rebind(query string) string         { return query }

func (MySQLDialect) PregenerateKey(context.Context, Executor, string, string) (any, bool, error) {
	return nil, false, nil
}

// ClassifyError marks invalid connections and "server has gone away" as
// connection errors.
func (MySQLDialect) ClassifyError(err error) error {
	if errors.Is(err, mysql.ErrInvalidConn) {
		return &dberr.ConnError{Err: err}
	}
	var me *mysql.MySQLError
	if errors.As(err, &me) && (me.Number == 2006 || me.Number == 2013) {
		return &dberr.ConnError{Err: err}
	}
	return err
}
