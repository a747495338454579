package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Executor is the subset of pgx shared by *pgxpool.Pool and pgx.Tx, so a
// repository can run inside or outside a transaction.
type Executor interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// TxBeginner starts transactions. Satisfied by *pgxpool.Pool and pgxmock pools.
type TxBeginner interface {
	Executor
	Begin(ctx context.Context) (pgx.Tx, error)
}

var (
	_ Executor   = (*pgxpool.Pool)(nil)
	_ Executor   = (pgx.Tx)(nil)
	_ TxBeginner = (*pgxpool.Pool)(nil)
)
