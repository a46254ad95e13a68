package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// querier is the subset of *sql.DB and *sql.Tx used by the readers, so
// the same lookup code runs inside and outside a transaction.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// MySQLStore implements Store over a MySQL database.  Inventory guards rely
// on InnoDB row locks (SELECT ... FOR UPDATE) and conditional updates
// checked through RowsAffected; no application-level mutex is involved,
// so several server processes can share one database safely.
type MySQLStore struct {
	mysqlReader
	db *sql.DB
}

// NewMySQLStore returns a Store bound to the given database.
func NewMySQLStore(db *sql.DB) *MySQLStore {
	return &MySQLStore{mysqlReader: mysqlReader{q: db}, db: db}
}

var _ Store = (*MySQLStore)(nil)

// DB exposes the underlying sql.DB, e.g. for health checks.
func (s *MySQLStore) DB() *sql.DB { return s.db }

// Close closes the connection pool.
func (s *MySQLStore) Close() error { return s.db.Close() }

// WithTx begins a READ COMMITTED transaction, runs fn and commits.  The
// transaction is rolled back when fn fails or panics.  Locking reads inside
// fn see the latest committed rows, which is what the check-and-commit
// sequences need.
func (s *MySQLStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", classify(err))
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	if err := fn(&mysqlTx{mysqlReader: mysqlReader{q: tx}, tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", classify(err))
	}
	committed = true
	return nil
}

// mysqlReader implements Reader over either the pool or a transaction.
type mysqlReader struct {
	q querier
}

// mysqlTx implements Tx.
type mysqlTx struct {
	mysqlReader
	tx *sql.Tx
}

// execCAS runs a conditional update and reports whether exactly one row
// changed.
func execCAS(ctx context.Context, q querier, query string, args ...interface{}) (bool, error) {
	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return false, classify(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, classify(err)
	}
	return n == 1, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}
