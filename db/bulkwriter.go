// Package db provides the buffered bulk-load persistence layer. Records
// accumulate in per-table buffers and are written with the COPY protocol in
// dependency order; targeted updates and raw statements go through regular
// execution, with a CDC-safe flush primitive guaranteeing insert-before-update
// visibility per key on the replication stream.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres" // dialect registration
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"

	"github.com/brickwellhealth/simulator/db/internal/adapters"
	"github.com/brickwellhealth/simulator/observability"
)

const (
	defaultBatchSize = 10000

	logMsgBatchFlushed        = "batch flushed"
	logMsgRawStatementsRun    = "raw statements executed"
	logMsgCDCFlushTriggered   = "cdc flush triggered"
	logMsgRecordUpdatedBuffer = "record updated in buffer"
	logMsgRecordUpdatedDB     = "record updated in database"
	logMsgRecordNotFound      = "record not found for update"
	logAttrTable              = "table"
	logAttrRecords            = "records"
	logAttrTotal              = "total"
	logAttrCount              = "count"
	logAttrKeyField           = "key_field"
	logAttrKeyValue           = "key_value"
	logAttrKind               = "kind"

	dialectPostgres = "postgres"
)

// Sink is the storage adapter used by the BulkWriter. Production code wires
// one of the pgx/sqlx/sql.DB adapters; tests supply a recording sink.
type Sink = adapters.Sink

type rawStatement struct {
	kind      string
	statement string
}

// BulkWriter buffers records per destination table and flushes them with a
// columnar bulk load. It is owned by a single worker and is not safe for
// concurrent use.
type BulkWriter struct {
	sink        Sink
	batchSize   int
	flushOrder  []string
	logger      observability.Logger
	buffers     map[string][]Record
	columnOrder map[string][]string
	counts      map[string]int
	rawBuffer   []rawStatement
}

// Option defines a functional option for configuring a BulkWriter.
type Option func(*BulkWriter) error

// WithBatchSize sets the per-table buffer threshold that triggers a flush.
func WithBatchSize(size int) Option {
	return func(w *BulkWriter) error {
		if size <= 0 {
			return ErrInvalidBatchSize
		}

		w.batchSize = size

		return nil
	}
}

// WithLogger sets the logger for the BulkWriter.
func WithLogger(logger observability.Logger) Option {
	return func(w *BulkWriter) error {
		w.logger = logger
		return nil
	}
}

// WithFlushOrder overrides the parent-first table flush order.
func WithFlushOrder(order []string) Option {
	return func(w *BulkWriter) error {
		w.flushOrder = order
		return nil
	}
}

// NewBulkWriter creates a BulkWriter over an arbitrary Sink.
func NewBulkWriter(sink Sink, options ...Option) (*BulkWriter, error) {
	if sink == nil {
		return nil, ErrNilDatabaseConnection
	}

	w := &BulkWriter{
		sink:        sink,
		batchSize:   defaultBatchSize,
		flushOrder:  defaultFlushOrder,
		buffers:     make(map[string][]Record),
		columnOrder: make(map[string][]string),
		counts:      make(map[string]int),
	}

	for _, option := range options {
		if err := option(w); err != nil {
			return nil, err
		}
	}

	return w, nil
}

// NewBulkWriterFromPGXPool creates a BulkWriter using a pgx pool.
func NewBulkWriterFromPGXPool(pool *pgxpool.Pool, options ...Option) (*BulkWriter, error) {
	if pool == nil {
		return nil, ErrNilDatabaseConnection
	}

	return NewBulkWriter(adapters.NewPGXSink(pool), options...)
}

// NewBulkWriterFromSQLDB creates a BulkWriter using a sql.DB (lib/pq driver).
func NewBulkWriterFromSQLDB(database *sql.DB, options ...Option) (*BulkWriter, error) {
	if database == nil {
		return nil, ErrNilDatabaseConnection
	}

	return NewBulkWriter(adapters.NewSQLSink(database), options...)
}

// NewBulkWriterFromSQLX creates a BulkWriter using a sqlx.DB (lib/pq driver).
func NewBulkWriterFromSQLX(database *sqlx.DB, options ...Option) (*BulkWriter, error) {
	if database == nil {
		return nil, ErrNilDatabaseConnection
	}

	return NewBulkWriter(adapters.NewSQLXSink(database), options...)
}

// Add buffers one record for table. When any table reaches the batch size,
// every buffer is flushed in dependency order.
func (w *BulkWriter) Add(ctx context.Context, table string, record Record) error {
	if _, known := w.columnOrder[table]; !known {
		w.columnOrder[table] = sortedColumns(record)
	}

	w.buffers[table] = append(w.buffers[table], record)

	if len(w.buffers[table]) >= w.batchSize {
		return w.FlushAll(ctx)
	}

	return nil
}

// AddMany buffers multiple records for table.
func (w *BulkWriter) AddMany(ctx context.Context, table string, records []Record) error {
	for _, record := range records {
		if err := w.Add(ctx, table, record); err != nil {
			return err
		}
	}

	return nil
}

// AddRawStatement queues a raw SQL statement for replay after the next
// record flush. Statements run in the order they were added so that
// cross-table effects (cascading status changes) see their referenced rows.
func (w *BulkWriter) AddRawStatement(kind string, statement string) {
	w.rawBuffer = append(w.rawBuffer, rawStatement{kind: kind, statement: statement})
}

// UpdateRecord applies changes to the record identified by keyField=keyValue.
// If the record is still buffered, the buffered copy is mutated so the bulk
// load carries the final values; otherwise an UPDATE is executed against the
// durable row. It reports whether a record was found.
func (w *BulkWriter) UpdateRecord(
	ctx context.Context,
	table string,
	keyField string,
	keyValue any,
	changes Record,
) (bool, error) {

	if len(changes) == 0 {
		return false, ErrEmptyUpdate
	}

	if record := w.findBuffered(table, keyField, keyValue); record != nil {
		for column, value := range changes {
			record[column] = value
		}

		w.logDebug(logMsgRecordUpdatedBuffer,
			logAttrTable, table,
			logAttrKeyField, keyField,
			logAttrKeyValue, fmt.Sprintf("%v", keyValue))

		return true, nil
	}

	return w.updateDurable(ctx, table, keyField, keyValue, changes)
}

// IsBuffered reports whether the record identified by keyField=keyValue is
// still pending in a buffer (not yet durable).
func (w *BulkWriter) IsBuffered(table string, keyField string, keyValue any) bool {
	return w.findBuffered(table, keyField, keyValue) != nil
}

// FlushForCDC guarantees that the INSERT for the given key is durable before
// any subsequent UPDATE against it, as required by change-data-capture
// consumers of the replication stream. If the key is still buffered, all
// buffers are flushed; if it is already durable this is a no-op. It reports
// whether the caller may proceed with the update.
func (w *BulkWriter) FlushForCDC(ctx context.Context, table string, keyField string, keyValue any) (bool, error) {
	if !w.IsBuffered(table, keyField, keyValue) {
		return true, nil
	}

	w.logDebug(logMsgCDCFlushTriggered,
		logAttrTable, table,
		logAttrKeyField, keyField,
		logAttrKeyValue, fmt.Sprintf("%v", keyValue))

	if err := w.FlushAll(ctx); err != nil {
		return false, err
	}

	return true, nil
}

// FlushAll writes every buffered table in dependency order, then replays
// queued raw statements in the order they were added.
func (w *BulkWriter) FlushAll(ctx context.Context) error {
	flushed := make(map[string]bool, len(w.buffers))

	for _, table := range w.flushOrder {
		if _, pending := w.buffers[table]; pending {
			if err := w.flushTable(ctx, table); err != nil {
				return err
			}
			flushed[table] = true
		}
	}

	for _, table := range sortedTables(w.buffers) {
		if !flushed[table] {
			if err := w.flushTable(ctx, table); err != nil {
				return err
			}
		}
	}

	return w.flushRawStatements(ctx)
}

// Count returns the total records written for a table, including pending
// buffered records.
func (w *BulkWriter) Count(table string) int {
	return w.counts[table] + len(w.buffers[table])
}

// Counts returns the per-table totals for every table seen so far.
func (w *BulkWriter) Counts() map[string]int {
	all := make(map[string]int, len(w.counts)+len(w.buffers))
	for table := range w.counts {
		all[table] = w.Count(table)
	}
	for table := range w.buffers {
		all[table] = w.Count(table)
	}

	return all
}

func (w *BulkWriter) findBuffered(table string, keyField string, keyValue any) Record {
	key := fmt.Sprintf("%v", keyValue)

	for _, record := range w.buffers[table] {
		if fmt.Sprintf("%v", record[keyField]) == key {
			return record
		}
	}

	return nil
}

func (w *BulkWriter) updateDurable(
	ctx context.Context,
	table string,
	keyField string,
	keyValue any,
	changes Record,
) (bool, error) {

	statement, buildErr := buildUpdateStatement(table, keyField, keyValue, changes)
	if buildErr != nil {
		return false, errors.Join(ErrBuildingStatementFailed, buildErr)
	}

	rowsAffected, execErr := w.sink.Exec(ctx, statement)
	if execErr != nil {
		return false, errors.Join(ErrUpdateFailed, execErr)
	}

	if rowsAffected == 0 {
		w.logDebug(logMsgRecordNotFound,
			logAttrTable, table,
			logAttrKeyField, keyField,
			logAttrKeyValue, fmt.Sprintf("%v", keyValue))

		return false, nil
	}

	w.logDebug(logMsgRecordUpdatedDB,
		logAttrTable, table,
		logAttrKeyField, keyField,
		logAttrKeyValue, fmt.Sprintf("%v", keyValue))

	return true, nil
}

func (w *BulkWriter) flushTable(ctx context.Context, table string) error {
	records := w.buffers[table]
	if len(records) == 0 {
		delete(w.buffers, table)
		return nil
	}

	columns := w.columnOrder[table]
	rows := make([][]any, 0, len(records))

	for _, record := range records {
		row := make([]any, len(columns))
		for i, column := range columns {
			row[i] = normalizeValue(record[column])
		}
		rows = append(rows, row)
	}

	if _, err := w.sink.CopyFrom(ctx, table, columns, rows); err != nil {
		return errors.Join(ErrFlushFailed, err)
	}

	w.counts[table] += len(records)
	delete(w.buffers, table)

	w.logDebug(logMsgBatchFlushed,
		logAttrTable, table,
		logAttrRecords, len(records),
		logAttrTotal, w.counts[table])

	return nil
}

func (w *BulkWriter) flushRawStatements(ctx context.Context) error {
	if len(w.rawBuffer) == 0 {
		return nil
	}

	// The buffer is cleared even on failure so a retry never replays a
	// statement that may already have taken effect.
	pending := w.rawBuffer
	w.rawBuffer = nil

	for _, raw := range pending {
		if _, err := w.sink.Exec(ctx, raw.statement); err != nil {
			return errors.Join(ErrRawStatementFailed, fmt.Errorf("kind %q: %w", raw.kind, err))
		}
	}

	w.logDebug(logMsgRawStatementsRun, logAttrCount, len(pending))

	return nil
}

func (w *BulkWriter) logDebug(msg string, args ...any) {
	if w.logger != nil {
		w.logger.Debug(msg, args...)
	}
}

func buildUpdateStatement(table string, keyField string, keyValue any, changes Record) (string, error) {
	assignments := make(goqu.Record, len(changes))
	for column, value := range changes {
		assignments[column] = normalizeValue(value)
	}

	statement, _, err := goqu.Dialect(dialectPostgres).
		Update(table).
		Set(assignments).
		Where(goqu.C(keyField).Eq(normalizeValue(keyValue))).
		ToSQL()
	if err != nil {
		return "", err
	}

	return statement, nil
}

// normalizeValue maps simulator types onto driver-friendly values.
func normalizeValue(value any) any {
	if id, ok := value.(uuid.UUID); ok {
		return id.String()
	}

	return value
}

func sortedColumns(record Record) []string {
	columns := make([]string, 0, len(record))
	for column := range record {
		columns = append(columns, column)
	}
	sort.Strings(columns)

	return columns
}

func sortedTables(buffers map[string][]Record) []string {
	tables := make([]string, 0, len(buffers))
	for table := range buffers {
		tables = append(tables, table)
	}
	sort.Strings(tables)

	return tables
}
