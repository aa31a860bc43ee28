// Package txn coordinates transactions on a shared connection.
//
// Ownership is a capability: Begin hands out a Token and only that Token may
// Commit or Rollback. A second Begin while a Token is live fails with
// TRANSACTION_HELD. The scheme is cooperative; a caller that issues
// statements without a token is not blocked.
package txn

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/roach88/bizcursor/internal/dberr"
)

// Backend is the part of a driver that runs transaction primitives.
type Backend interface {
	Begin(ctx context.Context) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Token is proof of transaction ownership.
type Token struct {
	id    uuid.UUID
	owner string
}

// ID returns the token identity.
func (t *Token) ID() uuid.UUID { return t.id }

// Owner returns the label passed to Begin.
func (t *Token) Owner() string { return t.owner }

func (t *Token) String() string {
	return fmt.Sprintf("%s(%s)", t.owner, t.id)
}

// Manager hands out one Token at a time for a backend.
type Manager struct {
	backend Backend
	holder  *Token
	logger  *slog.Logger
}

// NewManager creates a manager for backend.
func NewManager(backend Backend, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{backend: backend, logger: logger}
}

// Held reports whether a token is live.
func (m *Manager) Held() bool {
	return m.holder != nil
}

// Holder returns the live token, or nil.
func (m *Manager) Holder() *Token {
	return m.holder
}

// Begin opens a transaction and returns its token. owner labels the token
// in logs and errors.
func (m *Manager) Begin(ctx context.Context, owner string) (*Token, error) {
	if m.holder != nil {
		return nil, dberr.New(dberr.CodeTransactionHeld,
			fmt.Sprintf("transaction already held by %s", m.holder.owner))
	}
	if err := m.backend.Begin(ctx); err != nil {
		return nil, err
	}
	m.holder = &Token{id: uuid.New(), owner: owner}
	m.logger.Debug("transaction begun", "token", m.holder.id, "owner", owner)
	return m.holder, nil
}

// Commit commits the transaction owned by tok.
func (m *Manager) Commit(ctx context.Context, tok *Token) error {
	if err := m.check(tok); err != nil {
		return err
	}
	m.holder = nil
	m.logger.Debug("transaction committed", "token", tok.id, "owner", tok.owner)
	return m.backend.Commit(ctx)
}

// Rollback aborts the transaction owned by tok.
func (m *Manager) Rollback(ctx context.Context, tok *Token) error {
	if err := m.check(tok); err != nil {
		return err
	}
	m.holder = nil
	m.logger.Debug("transaction rolled back", "token", tok.id, "owner", tok.owner)
	return m.backend.Rollback(ctx)
}

func (m *Manager) check(tok *Token) error {
	if tok == nil || m.holder == nil || tok != m.holder {
		return dberr.New(dberr.CodeNotHolder, "token does not own the transaction")
	}
	return nil
}
