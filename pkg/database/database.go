// Package database implements the minimal transactional interface the
// indexer and cleaner run their hot paths against (spec.md §4.3):
// connections distinguished by read|write kind and high|low priority,
// transactions with execute/query/commit/rollback, and a prepared
// statement cache keyed by statement text that outlives any single
// transaction.
package database

import "context"

// Kind distinguishes a connection that may mutate the schema's tables
// from one that may only read them.
type Kind int

const (
	KindRead Kind = iota
	KindWrite
)

// Priority labels a connection request as latency-sensitive (e.g. an
// interactive Handle request) or bulk background work (e.g. the
// cleaner's eviction scan). Both backends in this package accept it
// but do not use it to choose or reserve a connection.
type Priority int

const (
	PriorityHigh Priority = iota
	PriorityLow
)

// Row is one row of a query result, keyed by column name.
type Row map[string]any

// Database is the top-level handle a backend returns from Open.
// Connection acquires a Connection of the requested kind/priority;
// backends that have no real distinction between kinds (e.g. Postgres
// with a native pool) may return the same pooled connection type for
// both.
type Database interface {
	Connection(ctx context.Context, kind Kind, priority Priority) (Connection, error)
	Close() error
}

// Connection is a single logical database session capable of
// starting transactions. Implementations may back it with a real
// dedicated connection (SQLite) or a pool checkout (Postgres).
type Connection interface {
	Transaction(ctx context.Context) (Transaction, error)
	Close() error
}

// Transaction is the unit of work every indexer/cleaner batch runs
// inside. Execute is for statements with no result set (INSERT,
// UPDATE, DELETE, ON CONFLICT upserts); the Query* methods are for
// statements that return rows.
type Transaction interface {
	Execute(ctx context.Context, stmt string, args ...any) (rowsAffected int64, err error)
	QueryOptional(ctx context.Context, stmt string, args ...any) (Row, bool, error)
	QueryOne(ctx context.Context, stmt string, args ...any) (Row, error)
	QueryAll(ctx context.Context, stmt string, args ...any) ([]Row, error)
	Commit() error
	Rollback() error
}
