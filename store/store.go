// Package store is a thin sqlx wrapper that announces every statement it
// runs on the event bus as an events.QueryExecuted.
//
// The sqlx handles are not exposed: every statement goes through a
// method here, on a DB or on a Tx begun from it, so none can skip the
// event. Statements take a context so the event can be attributed to the
// unit of work that ran them.
package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/stripe/requesttrace/events"
)

// statements runs queries on a sqlx handle (a pool or a transaction)
// and publishes one QueryExecuted per statement, failed ones included.
type statements struct {
	ext  sqlx.ExtContext
	name string
	bus  *events.Bus
}

func (s statements) observe(ctx context.Context, query string, start time.Time) {
	events.Publish(ctx, s.bus, events.QueryExecuted{
		Connection: s.name,
		Query:      query,
		Duration:   time.Since(start),
	})
}

// Name returns the connection name.
func (s statements) Name() string {
	return s.name
}

// ExecContext executes query without returning rows.
func (s statements) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	defer s.observe(ctx, query, time.Now())
	return s.ext.ExecContext(ctx, query, args...)
}

// GetContext scans a single row into dest.
func (s statements) GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	defer s.observe(ctx, query, time.Now())
	return sqlx.GetContext(ctx, s.ext, dest, query, args...)
}

// SelectContext scans all rows into dest, which must be a slice.
func (s statements) SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	defer s.observe(ctx, query, time.Now())
	return sqlx.SelectContext(ctx, s.ext, dest, query, args...)
}

// QueryxContext runs query and returns its rows. The event is published
// once the query has returned, before the rows are read.
func (s statements) QueryxContext(ctx context.Context, query string, args ...interface{}) (*sqlx.Rows, error) {
	defer s.observe(ctx, query, time.Now())
	return s.ext.QueryxContext(ctx, query, args...)
}

// QueryRowxContext runs query for at most one row. Errors surface when
// the row is scanned.
func (s statements) QueryRowxContext(ctx context.Context, query string, args ...interface{}) *sqlx.Row {
	defer s.observe(ctx, query, time.Now())
	return s.ext.QueryRowxContext(ctx, query, args...)
}

// NamedExecContext executes a query with :name parameters bound from
// arg. The event carries the query as written.
func (s statements) NamedExecContext(ctx context.Context, query string, arg interface{}) (sql.Result, error) {
	defer s.observe(ctx, query, time.Now())
	return sqlx.NamedExecContext(ctx, s.ext, query, arg)
}

// NamedQueryContext runs a query with :name parameters bound from arg.
func (s statements) NamedQueryContext(ctx context.Context, query string, arg interface{}) (*sqlx.Rows, error) {
	defer s.observe(ctx, query, time.Now())
	return sqlx.NamedQueryContext(ctx, s.ext, query, arg)
}

// DB runs statements on a named connection pool.
type DB struct {
	statements
	db *sqlx.DB
}

// Open opens a connection pool with driverName and dsn. name identifies
// the connection in query events.
func Open(name, driverName, dsn string, bus *events.Bus) (*DB, error) {
	db, err := sqlx.Open(driverName, dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "could not open %s connection %q", driverName, name)
	}
	return New(name, db, bus), nil
}

// New wraps an open sqlx pool. Statements run on db directly are not
// announced.
func New(name string, db *sqlx.DB, bus *events.Bus) *DB {
	return &DB{
		statements: statements{ext: db, name: name, bus: bus},
		db:         db,
	}
}

// PingContext checks that the database is reachable.
func (db *DB) PingContext(ctx context.Context) error {
	return db.db.PingContext(ctx)
}

// Close closes the pool.
func (db *DB) Close() error {
	return db.db.Close()
}

// BeginTxx starts a transaction whose statements are announced like the
// pool's.
func (db *DB) BeginTxx(ctx context.Context, opts *sql.TxOptions) (*Tx, error) {
	tx, err := db.db.BeginTxx(ctx, opts)
	if err != nil {
		return nil, errors.Wrapf(err, "could not begin transaction on %q", db.name)
	}
	return &Tx{
		statements: statements{ext: tx, name: db.name, bus: db.bus},
		tx:         tx,
	}, nil
}

// Tx is a transaction on a named connection.
type Tx struct {
	statements
	tx *sqlx.Tx
}

func (tx *Tx) Commit() error {
	return tx.tx.Commit()
}

func (tx *Tx) Rollback() error {
	return tx.tx.Rollback()
}
