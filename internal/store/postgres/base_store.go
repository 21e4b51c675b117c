// Package postgres is the production MetricsStore implementation, backed by
// database/sql and lib/pq, using a tx-in-context pattern trimmed to the
// query helpers this package actually exercises.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
)

// querier is the subset of *sql.DB / *sql.Tx every query in this package
// needs.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type txKey struct{}

// TxFromContext extracts an in-flight transaction from ctx, if one was
// attached by WithTx.
func TxFromContext(ctx context.Context) *sql.Tx {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return tx
	}
	return nil
}

func contextWithTx(ctx context.Context, tx *sql.Tx) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

// BaseStore provides the tx-or-db indirection shared by every table-specific
// accessor in this package.
type BaseStore struct {
	db *sql.DB
}

// NewBaseStore wraps an already-opened connection pool.
func NewBaseStore(db *sql.DB) *BaseStore {
	return &BaseStore{db: db}
}

// DB returns the underlying connection pool.
func (s *BaseStore) DB() *sql.DB { return s.db }

// Querier returns the active transaction if ctx carries one, else the pool.
func (s *BaseStore) Querier(ctx context.Context) querier {
	if tx := TxFromContext(ctx); tx != nil {
		return tx
	}
	return s.db
}

// WithTx runs fn inside a transaction, committing on success and rolling
// back on any error fn or the commit itself returns.
func (s *BaseStore) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	txCtx := contextWithTx(ctx, tx)
	if err := fn(txCtx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *BaseStore) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.Querier(ctx).ExecContext(ctx, query, args...)
}

func (s *BaseStore) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.Querier(ctx).QueryRowContext(ctx, query, args...)
}

func (s *BaseStore) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.Querier(ctx).QueryContext(ctx, query, args...)
}
