package pgx

import (
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pashagolub/pgxmock/v4"
)

// Compile-time interface compliance checks
var (
	_ Conn     = (*pgx.Conn)(nil)
	_ Conn     = (*pgxpool.Pool)(nil)
	_ Conn     = (pgxmock.PgxPoolIface)(nil)
	_ Beginner = (pgx.Tx)(nil)
)
