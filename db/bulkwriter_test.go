package db_test

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brickwellhealth/simulator/db"
	"github.com/brickwellhealth/simulator/testutil/memsink"
)

func Test_BulkWriter_Add_BuffersUntilBatchSize(t *testing.T) {
	sink := memsink.NewSink()
	writer, err := db.NewBulkWriter(sink, db.WithBatchSize(3))
	require.NoError(t, err)

	ctx := context.Background()

	require.NoError(t, writer.Add(ctx, "member", db.Record{"member_id": "m-1", "name": "Ada"}))
	require.NoError(t, writer.Add(ctx, "member", db.Record{"member_id": "m-2", "name": "Grace"}))
	assert.Empty(t, sink.CopyCalls(), "nothing should be flushed below the batch size")
	assert.Equal(t, 2, writer.Count("member"))

	require.NoError(t, writer.Add(ctx, "member", db.Record{"member_id": "m-3", "name": "Edsger"}))
	assert.Equal(t, 3, sink.RowCount("member"))
	assert.Equal(t, 3, writer.Count("member"))
}

func Test_BulkWriter_Add_BatchSizeFlushesAllTables(t *testing.T) {
	sink := memsink.NewSink()
	writer, err := db.NewBulkWriter(sink, db.WithBatchSize(2))
	require.NoError(t, err)

	ctx := context.Background()

	require.NoError(t, writer.Add(ctx, "claim", db.Record{"claim_id": "c-1"}))
	require.NoError(t, writer.Add(ctx, "member", db.Record{"member_id": "m-1"}))
	require.NoError(t, writer.Add(ctx, "member", db.Record{"member_id": "m-2"}))

	assert.Equal(t, []string{"member", "claim"}, sink.FlushedTables(),
		"a full buffer flushes every table in dependency order")
}

func Test_BulkWriter_FlushAll_RespectsDependencyOrder(t *testing.T) {
	sink := memsink.NewSink()
	writer, err := db.NewBulkWriter(sink)
	require.NoError(t, err)

	ctx := context.Background()

	require.NoError(t, writer.Add(ctx, "claim", db.Record{"claim_id": "c-1"}))
	require.NoError(t, writer.Add(ctx, "policy", db.Record{"policy_id": "p-1"}))
	require.NoError(t, writer.Add(ctx, "member", db.Record{"member_id": "m-1"}))
	require.NoError(t, writer.Add(ctx, "zz_custom", db.Record{"id": "x-1"}))

	require.NoError(t, writer.FlushAll(ctx))

	assert.Equal(t, []string{"member", "policy", "claim", "zz_custom"}, sink.FlushedTables(),
		"known tables flush parent first, unknown tables follow sorted")
}

func Test_BulkWriter_FlushAll_UsesStableColumnOrder(t *testing.T) {
	sink := memsink.NewSink()
	writer, err := db.NewBulkWriter(sink)
	require.NoError(t, err)

	ctx := context.Background()

	require.NoError(t, writer.Add(ctx, "member", db.Record{"name": "Ada", "member_id": "m-1", "age": 36}))
	require.NoError(t, writer.FlushAll(ctx))

	calls := sink.CopyCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, []string{"age", "member_id", "name"}, calls[0].Columns)
	assert.Equal(t, []any{36, "m-1", "Ada"}, calls[0].Rows[0])
}

func Test_BulkWriter_FlushAll_NormalizesUUIDs(t *testing.T) {
	sink := memsink.NewSink()
	writer, err := db.NewBulkWriter(sink)
	require.NoError(t, err)

	ctx := context.Background()
	memberID := uuid.New()

	require.NoError(t, writer.Add(ctx, "member", db.Record{"member_id": memberID}))
	require.NoError(t, writer.FlushAll(ctx))

	calls := sink.CopyCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, memberID.String(), calls[0].Rows[0][0])
}

func Test_BulkWriter_UpdateRecord_MutatesBufferedRecord(t *testing.T) {
	sink := memsink.NewSink()
	writer, err := db.NewBulkWriter(sink)
	require.NoError(t, err)

	ctx := context.Background()

	require.NoError(t, writer.Add(ctx, "claim", db.Record{"claim_id": "c-1", "status": "submitted"}))

	applied, err := writer.UpdateRecord(ctx, "claim", "claim_id", "c-1", db.Record{"status": "approved"})
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Empty(t, sink.ExecCalls(), "a buffered update must not hit the database")

	require.NoError(t, writer.FlushAll(ctx))

	calls := sink.CopyCalls()
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0].Rows[0], "approved", "the bulk load carries the final value")
}

func Test_BulkWriter_UpdateRecord_FallsBackToDatabase(t *testing.T) {
	sink := memsink.NewSink()
	writer, err := db.NewBulkWriter(sink)
	require.NoError(t, err)

	ctx := context.Background()

	require.NoError(t, writer.Add(ctx, "claim", db.Record{"claim_id": "c-1", "status": "submitted"}))
	require.NoError(t, writer.FlushAll(ctx))

	applied, err := writer.UpdateRecord(ctx, "claim", "claim_id", "c-1", db.Record{"status": "paid"})
	require.NoError(t, err)
	assert.True(t, applied)

	execs := sink.ExecCalls()
	require.Len(t, execs, 1)
	assert.True(t, strings.HasPrefix(execs[0].Statement, `UPDATE "claim"`), execs[0].Statement)
	assert.Contains(t, execs[0].Statement, "paid")
	assert.Contains(t, execs[0].Statement, "c-1")
}

func Test_BulkWriter_UpdateRecord_ReportsMissingRecord(t *testing.T) {
	sink := memsink.NewSink()
	sink.ExecAffected = 0
	writer, err := db.NewBulkWriter(sink)
	require.NoError(t, err)

	applied, err := writer.UpdateRecord(context.Background(), "claim", "claim_id", "missing", db.Record{"status": "paid"})
	require.NoError(t, err)
	assert.False(t, applied)
}

func Test_BulkWriter_UpdateRecord_RejectsEmptyChanges(t *testing.T) {
	sink := memsink.NewSink()
	writer, err := db.NewBulkWriter(sink)
	require.NoError(t, err)

	_, err = writer.UpdateRecord(context.Background(), "claim", "claim_id", "c-1", db.Record{})
	assert.ErrorIs(t, err, db.ErrEmptyUpdate)
}

func Test_BulkWriter_FlushForCDC_FlushesWhenKeyIsBuffered(t *testing.T) {
	sink := memsink.NewSink()
	writer, err := db.NewBulkWriter(sink)
	require.NoError(t, err)

	ctx := context.Background()

	require.NoError(t, writer.Add(ctx, "claim", db.Record{"claim_id": "c-1", "status": "submitted"}))
	require.NoError(t, writer.Add(ctx, "member", db.Record{"member_id": "m-1"}))
	assert.True(t, writer.IsBuffered("claim", "claim_id", "c-1"))

	proceed, err := writer.FlushForCDC(ctx, "claim", "claim_id", "c-1")
	require.NoError(t, err)
	assert.True(t, proceed)

	assert.Equal(t, []string{"member", "claim"}, sink.FlushedTables(),
		"a cdc flush drains every buffer so the insert lands before the update")
	assert.False(t, writer.IsBuffered("claim", "claim_id", "c-1"))
}

func Test_BulkWriter_FlushForCDC_NoOpWhenAlreadyDurable(t *testing.T) {
	sink := memsink.NewSink()
	writer, err := db.NewBulkWriter(sink)
	require.NoError(t, err)

	ctx := context.Background()

	require.NoError(t, writer.Add(ctx, "claim", db.Record{"claim_id": "c-1"}))
	require.NoError(t, writer.FlushAll(ctx))
	flushesBefore := len(sink.CopyCalls())

	proceed, err := writer.FlushForCDC(ctx, "claim", "claim_id", "c-1")
	require.NoError(t, err)
	assert.True(t, proceed)
	assert.Len(t, sink.CopyCalls(), flushesBefore, "no additional flush for a durable key")
}

func Test_BulkWriter_InsertBeforeUpdateOnStream(t *testing.T) {
	// The canonical lifecycle: insert a claim, later the same day flip its
	// status. The replication stream must see the INSERT before the UPDATE.
	sink := memsink.NewSink()
	writer, err := db.NewBulkWriter(sink)
	require.NoError(t, err)

	ctx := context.Background()

	require.NoError(t, writer.Add(ctx, "claim", db.Record{"claim_id": "c-9", "status": "submitted"}))

	proceed, err := writer.FlushForCDC(ctx, "claim", "claim_id", "c-9")
	require.NoError(t, err)
	require.True(t, proceed)

	applied, err := writer.UpdateRecord(ctx, "claim", "claim_id", "c-9", db.Record{"status": "rejected"})
	require.NoError(t, err)
	require.True(t, applied)

	require.Len(t, sink.CopyCalls(), 1, "insert flushed first")
	require.Len(t, sink.ExecCalls(), 1, "update executed after the flush")
}

func Test_BulkWriter_RawStatements_RunAfterRecordsInOrder(t *testing.T) {
	sink := memsink.NewSink()
	writer, err := db.NewBulkWriter(sink)
	require.NoError(t, err)

	ctx := context.Background()

	require.NoError(t, writer.Add(ctx, "policy", db.Record{"policy_id": "p-1"}))
	writer.AddRawStatement("policy_suspension", `UPDATE "policy" SET "status" = 'suspended' WHERE "policy_id" = 'p-1'`)
	writer.AddRawStatement("coverage_lapse", `UPDATE "coverage" SET "status" = 'lapsed' WHERE "policy_id" = 'p-1'`)

	require.NoError(t, writer.FlushAll(ctx))

	require.Len(t, sink.CopyCalls(), 1)
	execs := sink.ExecCalls()
	require.Len(t, execs, 2)
	assert.Contains(t, execs[0].Statement, "suspended")
	assert.Contains(t, execs[1].Statement, "lapsed")
}

func Test_BulkWriter_Counts_TracksBufferedAndFlushed(t *testing.T) {
	sink := memsink.NewSink()
	writer, err := db.NewBulkWriter(sink)
	require.NoError(t, err)

	ctx := context.Background()

	require.NoError(t, writer.Add(ctx, "member", db.Record{"member_id": "m-1"}))
	require.NoError(t, writer.Add(ctx, "member", db.Record{"member_id": "m-2"}))
	require.NoError(t, writer.FlushAll(ctx))
	require.NoError(t, writer.Add(ctx, "member", db.Record{"member_id": "m-3"}))

	assert.Equal(t, 3, writer.Count("member"))
	assert.Equal(t, map[string]int{"member": 3}, writer.Counts())
}

func Test_BulkWriter_Options_Validation(t *testing.T) {
	_, err := db.NewBulkWriter(nil)
	assert.ErrorIs(t, err, db.ErrNilDatabaseConnection)

	_, err = db.NewBulkWriter(memsink.NewSink(), db.WithBatchSize(0))
	assert.ErrorIs(t, err, db.ErrInvalidBatchSize)
}
