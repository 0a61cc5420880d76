package database

import "context"

// DB is the contract the catalog needs from a SQL engine.
// The catalog talks only to this interface; it never imports the postgres
// or mysql packages directly.
type DB interface {
	// Ping verifies the database is reachable.
	Ping(ctx context.Context) error

	// Close releases all resources held by the connection pool.
	Close()

	// QueryRow executes a SQL statement that returns at most one row.
	// A missing row surfaces from Row.Scan as a not_found *errs.Error.
	QueryRow(ctx context.Context, sql string, args ...any) Row

	// Placeholder returns the bind parameter marker for the n-th argument
	// (1-based) in this engine's dialect.
	Placeholder(n int) string
}

// Row is an abstraction over a single database row.
type Row interface {
	Scan(dest ...any) error
}
