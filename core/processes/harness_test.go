package processes_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/brickwellhealth/simulator/core"
	"github.com/brickwellhealth/simulator/db"
	"github.com/brickwellhealth/simulator/testutil/memsink"
)

// harness wires the plumbing every process needs: shared state, a buffered
// writer over an in-memory sink, clock, deterministic RNG, and partition.
type harness struct {
	t         *testing.T
	state     *core.SharedState
	sink      *memsink.Sink
	writer    *db.BulkWriter
	clock     *core.Clock
	rng       *core.RNG
	partition *core.Partition
}

func newHarness(t *testing.T, seed uint64) *harness {
	t.Helper()

	start := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	sink := memsink.NewSink()

	writer, err := db.NewBulkWriter(sink)
	require.NoError(t, err)

	return &harness{
		t:         t,
		state:     core.NewSharedState(),
		sink:      sink,
		writer:    writer,
		clock:     core.NewClock(start, start.AddDate(2, 0, 0)),
		rng:       core.NewRNG(seed),
		partition: core.NewPartition(0, 1),
	}
}

func (h *harness) engine(overrides core.TriggerOverrides) *core.TriggerEngine {
	return core.NewTriggerEngine(h.rng, overrides, 0, 0)
}

// seedPolicy registers one active policy with a single member, started on
// the clock's current date.
func (h *harness) seedPolicy() *core.PolicyInfo {
	h.t.Helper()

	policy := &core.PolicyInfo{
		PolicyID:       h.partition.GenerateOwnedUUID(h.rng),
		MemberID:       h.partition.GenerateOwnedUUID(h.rng),
		StartDate:      h.clock.CurrentDate(),
		Status:         "Active",
		PremiumMonthly: 310.0,
	}
	h.state.AddPolicy(policy)
	h.state.AddMembership(&core.Membership{
		PolicyMemberID: h.partition.GenerateOwnedUUID(h.rng),
		PolicyID:       policy.PolicyID,
		MemberID:       policy.MemberID,
	})

	return policy
}

// runDays steps the process and the clock through the given number of days.
func (h *harness) runDays(process core.Process, days int) {
	h.t.Helper()

	for i := 0; i < days; i++ {
		require.NoError(h.t, process.AdvanceOneDay(context.Background()))
		h.clock.Advance()
	}
}

// flushedValue returns the value of one column for the first flushed row of
// a table whose key column matches the key value.
func (h *harness) flushedValue(table string, keyColumn string, key uuid.UUID, column string) any {
	h.t.Helper()

	require.NoError(h.t, h.writer.FlushAll(context.Background()))

	for _, call := range h.sink.CopyCalls() {
		if call.Table != table {
			continue
		}

		keyIdx, colIdx := -1, -1
		for i, name := range call.Columns {
			switch name {
			case keyColumn:
				keyIdx = i
			case column:
				colIdx = i
			}
		}
		require.GreaterOrEqual(h.t, keyIdx, 0)
		require.GreaterOrEqual(h.t, colIdx, 0)

		for _, row := range call.Rows {
			if row[keyIdx] == key.String() {
				return row[colIdx]
			}
		}
	}

	h.t.Fatalf("no flushed row in %s with %s = %s", table, keyColumn, key)

	return nil
}

func eventsByType(events []core.CRMEvent) map[string][]core.CRMEvent {
	byType := make(map[string][]core.CRMEvent)
	for _, event := range events {
		byType[event.EventType] = append(byType[event.EventType], event)
	}

	return byType
}
