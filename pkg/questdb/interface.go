package questdb

import (
	"context"

	"github.com/jackc/pgx/v5"
)

// QuestDBClient defines the interface for QuestDB operations used by the
// collector's repositories.
type QuestDBClient interface {
	Close()
	Ping(ctx context.Context) error
	Exec(ctx context.Context, sql string, args ...any) error
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}
