package adapters

import (
	"context"

	"github.com/jmoiron/sqlx"
)

// SQLXSink implements Sink for sqlx.DB.
type SQLXSink struct {
	db *sqlx.DB
}

// NewSQLXSink creates a new sqlx-backed sink.
func NewSQLXSink(db *sqlx.DB) *SQLXSink {
	return &SQLXSink{db: db}
}

// CopyFrom bulk-loads rows into table using pq.CopyIn on the underlying DB.
func (s *SQLXSink) CopyFrom(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	return copyInTx(ctx, s.db.DB, table, columns, rows)
}

// Exec executes a statement and returns the number of rows affected.
func (s *SQLXSink) Exec(ctx context.Context, statement string) (int64, error) {
	result, err := s.db.ExecContext(ctx, statement)
	if err != nil {
		return 0, err
	}

	return result.RowsAffected()
}
