package db

import (
	"context"
	"errors"
)

var (
	// ErrNilDatabaseConnection occurs when a constructor receives a nil pool or DB.
	ErrNilDatabaseConnection = errors.New("database connection must not be nil")

	// ErrInvalidBatchSize occurs when the configured batch size is not positive.
	ErrInvalidBatchSize = errors.New("batch size must be positive")

	// ErrEmptyUpdate occurs when UpdateRecord is called with no changes.
	ErrEmptyUpdate = errors.New("update must contain at least one change")

	// ErrFlushFailed occurs when a bulk-load round trip fails.
	ErrFlushFailed = errors.New("flushing buffered records failed")

	// ErrUpdateFailed occurs when a durable-row update fails.
	ErrUpdateFailed = errors.New("updating record failed")

	// ErrBuildingStatementFailed occurs when SQL statement construction fails.
	ErrBuildingStatementFailed = errors.New("building sql statement failed")

	// ErrRawStatementFailed occurs when a queued raw statement fails at flush time.
	ErrRawStatementFailed = errors.New("executing raw statement failed")
)

// Record is a single row destined for a table, keyed by column name.
type Record map[string]any

// Writer is the persistence surface used by the logical processes. It is
// implemented by BulkWriter and by the streaming decorator around it.
type Writer interface {
	Add(ctx context.Context, table string, record Record) error
	AddMany(ctx context.Context, table string, records []Record) error
	AddRawStatement(kind string, statement string)
	UpdateRecord(ctx context.Context, table string, keyField string, keyValue any, changes Record) (bool, error)
	IsBuffered(table string, keyField string, keyValue any) bool
	FlushForCDC(ctx context.Context, table string, keyField string, keyValue any) (bool, error)
	FlushAll(ctx context.Context) error
	Count(table string) int
	Counts() map[string]int
}

// defaultFlushOrder lists destination tables parent-first so that a full
// flush never violates foreign keys. Tables not listed here are flushed
// afterwards in name order.
var defaultFlushOrder = []string{
	"member",
	"member_update",
	"policy",
	"policy_member",
	"coverage",
	"claim",
	"claim_assessment",
	"invoice",
	"payment",
	"arrears",
	"interaction",
	"service_case",
	"complaint",
	"communication",
	"web_session",
	"nps_survey_pending",
	"nps_survey",
	"csat_survey_pending",
	"csat_survey",
}
