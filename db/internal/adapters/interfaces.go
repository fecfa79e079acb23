package adapters

import "context"

// Sink defines the storage operations needed by the bulk writer: a columnar
// bulk-load round trip and plain statement execution for updates and raw
// statements.
type Sink interface {
	CopyFrom(ctx context.Context, table string, columns []string, rows [][]any) (int64, error)
	Exec(ctx context.Context, statement string) (int64, error)
}
