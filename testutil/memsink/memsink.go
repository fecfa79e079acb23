// Package memsink provides an in-memory recording sink for bulk writer tests.
package memsink

import (
	"context"
	"sync"
)

// CopyCall records one bulk load issued to the sink.
type CopyCall struct {
	Table   string
	Columns []string
	Rows    [][]any
}

// ExecCall records one raw statement issued to the sink.
type ExecCall struct {
	Statement string
}

// Sink records every operation in arrival order so tests can assert on
// flush ordering and statement sequencing.
type Sink struct {
	mu           sync.Mutex
	copyCalls    []CopyCall
	execCalls    []ExecCall
	CopyErr      error
	ExecErr      error
	ExecAffected int64
}

// NewSink creates an empty recording sink that reports one affected row per
// Exec call.
func NewSink() *Sink {
	return &Sink{ExecAffected: 1}
}

func (s *Sink) CopyFrom(_ context.Context, table string, columns []string, rows [][]any) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.CopyErr != nil {
		return 0, s.CopyErr
	}

	s.copyCalls = append(s.copyCalls, CopyCall{Table: table, Columns: columns, Rows: rows})

	return int64(len(rows)), nil
}

func (s *Sink) Exec(_ context.Context, statement string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ExecErr != nil {
		return 0, s.ExecErr
	}

	s.execCalls = append(s.execCalls, ExecCall{Statement: statement})

	return s.ExecAffected, nil
}

// CopyCalls returns the recorded bulk loads in arrival order.
func (s *Sink) CopyCalls() []CopyCall {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]CopyCall, len(s.copyCalls))
	copy(out, s.copyCalls)

	return out
}

// ExecCalls returns the recorded raw statements in arrival order.
func (s *Sink) ExecCalls() []ExecCall {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]ExecCall, len(s.execCalls))
	copy(out, s.execCalls)

	return out
}

// FlushedTables returns the table of each bulk load in arrival order.
func (s *Sink) FlushedTables() []string {
	calls := s.CopyCalls()
	tables := make([]string, 0, len(calls))
	for _, call := range calls {
		tables = append(tables, call.Table)
	}

	return tables
}

// RowCount returns the total rows bulk loaded into a table.
func (s *Sink) RowCount(table string) int {
	total := 0
	for _, call := range s.CopyCalls() {
		if call.Table == table {
			total += len(call.Rows)
		}
	}

	return total
}
