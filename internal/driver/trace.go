package driver

import (
	"context"
	"log/slog"
	"slices"
	"strings"

	"github.com/roach88/bizcursor/internal/txn"
)

// Statement is one executed statement as seen by Trace.
type Statement struct {
	SQL    string
	Params []any
}

// Trace wraps a Driver and records every statement it executes.
type Trace struct {
	Driver
	logger *slog.Logger
	stmts  []Statement
	txm    *txn.Manager
}

// NewTrace wraps d. A nil logger uses slog.Default().
func NewTrace(d Driver, logger *slog.Logger) *Trace {
	if logger == nil {
		logger = slog.Default()
	}
	return &Trace{Driver: d, logger: logger}
}

// Transactions returns the wrapped driver's transaction manager.
func (t *Trace) Transactions() *txn.Manager {
	if t.txm == nil {
		t.txm = TransactionsFor(t.Driver, t.logger)
	}
	return t.txm
}

// Execute records and forwards the statement.
func (t *Trace) Execute(ctx context.Context, query string, params ...any) (*Result, error) {
	t.stmts = append(t.stmts, Statement{SQL: query, Params: slices.Clone(params)})
	res, err := t.Driver.Execute(ctx, query, params...)
	if err != nil {
		t.logger.Debug("statement failed", "sql", query, "error", err)
		return nil, err
	}
	t.logger.Debug("statement", "sql", query, "rows", res.RowCount)
	return res, nil
}

// Statements returns every recorded statement in order.
func (t *Trace) Statements() []Statement {
	return slices.Clone(t.stmts)
}

// Matching returns recorded statements whose first keyword is kw (e.g. "INSERT").
func (t *Trace) Matching(kw string) []Statement {
	var out []Statement
	for _, s := range t.stmts {
		if firstKeyword(s.SQL) == strings.ToUpper(kw) {
			out = append(out, s)
		}
	}
	return out
}

// Reset forgets recorded statements.
func (t *Trace) Reset() {
	t.stmts = nil
}
