package driver

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cockroachdb/apd/v3"

	"github.com/roach88/bizcursor/internal/dberr"
	"github.com/roach88/bizcursor/internal/txn"
)

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// SQL adapts a database/sql handle to the Driver interface.
type SQL struct {
	db      *sql.DB
	tx      *sql.Tx
	dialect Dialect
	logger  *slog.Logger

	lastID    any
	lastIDErr error

	txm *txn.Manager
}

// NewSQL wraps db. The pool is limited to one connection so transactions and
// plain statements see the same session.
func NewSQL(db *sql.DB, dialect Dialect, logger *slog.Logger) *SQL {
	if logger == nil {
		logger = slog.Default()
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	return &SQL{db: db, dialect: dialect, logger: logger}
}

// DB returns the underlying handle.
func (s *SQL) DB() *sql.DB {
	return s.db
}

// Transactions returns the connection's transaction manager. Every caller
// sharing s gets the same manager, so one token at a time owns the session.
func (s *SQL) Transactions() *txn.Manager {
	if s.txm == nil {
		s.txm = txn.NewManager(s, s.logger)
	}
	return s.txm
}

// Dialect returns the backend dialect.
func (s *SQL) Dialect() Dialect {
	return s.dialect
}

// Close closes the database handle, rolling back any open transaction.
func (s *SQL) Close() error {
	if s.db == nil {
		return nil
	}
	if s.tx != nil {
		_ = s.tx.Rollback()
		s.tx = nil
	}
	return s.db.Close()
}

func (s *SQL) conn() queryer {
	if s.tx != nil {
		return s.tx
	}
	return s.db
}

// Execute runs query. Statements that return rows produce PositionalRows.
func (s *SQL) Execute(ctx context.Context, query string, params ...any) (*Result, error) {
	q := s.dialect.Rebind(query)
	args := bindParams(params)
	s.logger.Debug("execute", "dialect", s.dialect.Name(), "sql", q, "params", len(args))

	if ReturnsRows(query) {
		rows, err := s.conn().QueryContext(ctx, q, args...)
		if err != nil {
			return nil, dberr.FromDriver(s.dialect.ClassifyError(err), query)
		}
		defer rows.Close()
		res, err := scanRows(rows)
		if err != nil {
			return nil, dberr.FromDriver(s.dialect.ClassifyError(err), query)
		}
		return res, nil
	}

	r, err := s.conn().ExecContext(ctx, q, args...)
	if err != nil {
		return nil, dberr.FromDriver(s.dialect.ClassifyError(err), query)
	}
	n, err := r.RowsAffected()
	if err != nil {
		n = -1
	}
	if isInsert(query) {
		id, idErr := r.LastInsertId()
		if idErr != nil {
			s.lastID, s.lastIDErr = nil, idErr
		} else {
			s.lastID, s.lastIDErr = id, nil
		}
	}
	return &Result{RowCount: n}, nil
}

func scanRows(rows *sql.Rows) (*Result, error) {
	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, fmt.Errorf("column types: %w", err)
	}
	res := &Result{HasRows: true, Columns: make([]Column, len(types))}
	for i, ct := range types {
		res.Columns[i] = Column{Name: ct.Name(), DatabaseType: ct.DatabaseTypeName()}
	}
	for rows.Next() {
		vals := make([]any, len(types))
		ptrs := make([]any, len(types))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		res.Rows = append(res.Rows, PositionalRow(vals))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	res.RowCount = int64(len(res.Rows))
	return res, nil
}

// bindParams converts values database/sql cannot bind natively.
func bindParams(params []any) []any {
	out := make([]any, len(params))
	for i, p := range params {
		switch v := p.(type) {
		case *apd.Decimal:
			if v == nil {
				out[i] = nil
			} else {
				out[i] = v.String()
			}
		case []byte:
			out[i] = append([]byte(nil), v...)
		default:
			out[i] = p
		}
	}
	return out
}

// LastInsertID returns the id reported for the most recent INSERT.
func (s *SQL) LastInsertID(ctx context.Context) (any, error) {
	if s.lastIDErr != nil {
		return nil, s.lastIDErr
	}
	if s.lastID == nil {
		return nil, errors.New("no insert executed")
	}
	return s.lastID, nil
}

// Begin starts a transaction.
func (s *SQL) Begin(ctx context.Context) error {
	if s.tx != nil {
		return dberr.New(dberr.CodeTransactionHeld, "begin: transaction already open")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return dberr.FromDriver(s.dialect.ClassifyError(err), "BEGIN")
	}
	s.tx = tx
	return nil
}

// Commit commits the open transaction.
func (s *SQL) Commit(ctx context.Context) error {
	if s.tx == nil {
		return fmt.Errorf("commit: no transaction open")
	}
	tx := s.tx
	s.tx = nil
	if err := tx.Commit(); err != nil {
		return dberr.FromDriver(s.dialect.ClassifyError(err), "COMMIT")
	}
	return nil
}

// Rollback aborts the open transaction.
func (s *SQL) Rollback(ctx context.Context) error {
	if s.tx == nil {
		return fmt.Errorf("rollback: no transaction open")
	}
	tx := s.tx
	s.tx = nil
	if err := tx.Rollback(); err != nil {
		return dberr.FromDriver(s.dialect.ClassifyError(err), "ROLLBACK")
	}
	return nil
}

// InTransaction reports whether a transaction is open.
func (s *SQL) InTransaction() bool {
	return s.tx != nil
}

var rowKeywords = []string{"SELECT", "PRAGMA", "WITH", "SHOW", "EXPLAIN", "VALUES", "DESCRIBE", "DESC"}

// ReturnsRows reports whether a statement produces a result set.
func ReturnsRows(query string) bool {
	kw := firstKeyword(query)
	for _, k := range rowKeywords {
		if kw == k {
			return true
		}
	}
	return strings.Contains(strings.ToUpper(query), " RETURNING ")
}

func isInsert(query string) bool {
	kw := firstKeyword(query)
	return kw == "INSERT" || kw == "REPLACE"
}

func firstKeyword(query string) string {
	q := strings.TrimSpace(query)
	for strings.HasPrefix(q, "--") || strings.HasPrefix(q, "(") {
		if strings.HasPrefix(q, "(") {
			q = strings.TrimSpace(q[1:])
			continue
		}
		nl := strings.IndexByte(q, '\n')
		if nl < 0 {
			return ""
		}
		q = strings.TrimSpace(q[nl+1:])
	}
	end := strings.IndexFunc(q, func(r rune) bool {
		return r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '('
	})
	if end < 0 {
		end = len(q)
	}
	return strings.ToUpper(q[:end])
}
