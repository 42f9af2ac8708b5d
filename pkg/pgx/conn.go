package pgx

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Conn is satisfied by *pgx.Conn, *pgxpool.Pool and pgxmock connections. The
// schema loader queries through it.
type Conn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	// QueryRow executes a query that is expected to return at most one row.
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Beginner
}

// Beginner starts transactions. Sessions begin one per request.
type Beginner interface {
	// Begin starts a transaction. The context only affects the begin command;
	// there is no auto-rollback on context cancellation.
	Begin(ctx context.Context) (pgx.Tx, error)
}
