package adapters

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGXSink implements Sink for pgxpool.Pool using the native COPY protocol.
type PGXSink struct {
	pool *pgxpool.Pool
}

// NewPGXSink creates a new pgx-backed sink.
func NewPGXSink(pool *pgxpool.Pool) *PGXSink {
	return &PGXSink{pool: pool}
}

// CopyFrom bulk-loads rows into table using COPY.
func (s *PGXSink) CopyFrom(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	return s.pool.CopyFrom(ctx, pgx.Identifier{table}, columns, pgx.CopyFromRows(rows))
}

// Exec executes a statement and returns the number of rows affected.
func (s *PGXSink) Exec(ctx context.Context, statement string) (int64, error) {
	tag, err := s.pool.Exec(ctx, statement)
	if err != nil {
		return 0, err
	}

	return tag.RowsAffected(), nil
}
