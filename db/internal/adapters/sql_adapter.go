package adapters

import (
	"context"
	"database/sql"
	"errors"

	"github.com/lib/pq"
)

// SQLSink implements Sink for a standard library sql.DB connected through
// the lib/pq driver. COPY is reached via pq.CopyIn inside a transaction.
type SQLSink struct {
	db *sql.DB
}

// NewSQLSink creates a new sql.DB-backed sink.
func NewSQLSink(db *sql.DB) *SQLSink {
	return &SQLSink{db: db}
}

// CopyFrom bulk-loads rows into table using pq.CopyIn.
func (s *SQLSink) CopyFrom(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	return copyInTx(ctx, s.db, table, columns, rows)
}

// Exec executes a statement and returns the number of rows affected.
func (s *SQLSink) Exec(ctx context.Context, statement string) (int64, error) {
	result, err := s.db.ExecContext(ctx, statement)
	if err != nil {
		return 0, err
	}

	return result.RowsAffected()
}

// copyInTx runs a full CopyIn cycle: prepare, stream rows, finalize, commit.
// A failure anywhere rolls the transaction back so the sink never leaves a
// partial batch behind.
func copyInTx(ctx context.Context, db *sql.DB, table string, columns []string, rows [][]any) (int64, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}

	stmt, err := tx.PrepareContext(ctx, pq.CopyIn(table, columns...))
	if err != nil {
		return 0, errors.Join(err, tx.Rollback())
	}

	for _, row := range rows {
		if _, execErr := stmt.ExecContext(ctx, row...); execErr != nil {
			return 0, errors.Join(execErr, stmt.Close(), tx.Rollback())
		}
	}

	// Final Exec with no arguments flushes the COPY buffer.
	if _, err = stmt.ExecContext(ctx); err != nil {
		return 0, errors.Join(err, stmt.Close(), tx.Rollback())
	}

	if err = stmt.Close(); err != nil {
		return 0, errors.Join(err, tx.Rollback())
	}

	if err = tx.Commit(); err != nil {
		return 0, err
	}

	return int64(len(rows)), nil
}
