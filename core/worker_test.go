package core_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brickwellhealth/simulator/core"
	"github.com/brickwellhealth/simulator/db"
	"github.com/brickwellhealth/simulator/testutil/logspy"
	"github.com/brickwellhealth/simulator/testutil/memsink"
)

// dailyRecorder writes one member row per simulated day and carries its day
// count through snapshot and restore.
type dailyRecorder struct {
	writer *db.BulkWriter
	days   int
	fail   error
}

func (p *dailyRecorder) Name() string {
	return "daily_recorder"
}

func (p *dailyRecorder) AdvanceOneDay(ctx context.Context) error {
	if p.fail != nil {
		return p.fail
	}

	p.days++

	return p.writer.Add(ctx, "member", db.Record{"member_id": fmt.Sprintf("m-%d", p.days)})
}

func (p *dailyRecorder) SnapshotState() ([]byte, error) {
	return jsoniter.ConfigFastest.Marshal(map[string]int{"days": p.days})
}

func (p *dailyRecorder) RestoreState(data []byte) error {
	var snapshot map[string]int
	if err := jsoniter.ConfigFastest.Unmarshal(data, &snapshot); err != nil {
		return err
	}

	p.days = snapshot["days"]

	return nil
}

type recordingCloser struct {
	closed bool
}

func (c *recordingCloser) Close() error {
	c.closed = true

	return nil
}

type workerFixture struct {
	worker  *core.Worker
	process *dailyRecorder
	sink    *memsink.Sink
	state   *core.SharedState
}

func newWorkerFixture(t *testing.T, days int, options ...core.WorkerOption) workerFixture {
	t.Helper()

	start := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	clock := core.NewClock(start, start.AddDate(0, 0, days))

	sink := memsink.NewSink()
	writer, err := db.NewBulkWriter(sink)
	require.NoError(t, err)

	state := core.NewSharedState()
	worker, err := core.NewWorker(0, 1, clock, core.NewRNG(42), state, writer,
		core.NewCheckpointManager(t.TempDir()), options...)
	require.NoError(t, err)

	process := &dailyRecorder{writer: writer}
	worker.Register(process)

	return workerFixture{worker: worker, process: process, sink: sink, state: state}
}

func Test_Worker_Run_With_No_Processes_Fails(t *testing.T) {
	start := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	writer, err := db.NewBulkWriter(memsink.NewSink())
	require.NoError(t, err)

	worker, err := core.NewWorker(0, 1, core.NewClock(start, start.AddDate(0, 0, 5)),
		core.NewRNG(1), core.NewSharedState(), writer, nil)
	require.NoError(t, err)

	_, runErr := worker.Run(context.Background())

	assert.ErrorIs(t, runErr, core.ErrNoProcesses)
}

func Test_Worker_Run_Steps_Every_Day_And_Flushes_At_The_End(t *testing.T) {
	fixture := newWorkerFixture(t, 5)

	stats, err := fixture.worker.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 5, stats.DaysSimulated)
	assert.Equal(t, 5, fixture.process.days)
	assert.Equal(t, map[string]int{"member": 5}, stats.RecordCounts)
	assert.Equal(t, 5, fixture.sink.RowCount("member"), "buffered rows are flushed before the worker exits")
	assert.NotNil(t, stats.StateStats)
}

func Test_Worker_Run_Closes_The_Registered_Closer(t *testing.T) {
	closer := &recordingCloser{}
	fixture := newWorkerFixture(t, 2,
		core.WithCloser(closer),
		core.WithStreamingStats(func() map[string]int { return map[string]int{"published": 7} }))

	stats, err := fixture.worker.Run(context.Background())
	require.NoError(t, err)

	assert.True(t, closer.closed)
	assert.Equal(t, map[string]int{"published": 7}, stats.StreamingStats)
}

func Test_Worker_Run_Writes_Its_Stats_File(t *testing.T) {
	statsDir := t.TempDir()
	fixture := newWorkerFixture(t, 3, core.WithStatsDir(statsDir))

	_, err := fixture.worker.Run(context.Background())
	require.NoError(t, err)

	encoded, err := os.ReadFile(statsDir + "/stats_worker_0.json")
	require.NoError(t, err)

	var stats core.WorkerStats
	require.NoError(t, jsoniter.ConfigFastest.Unmarshal(encoded, &stats))
	assert.Equal(t, 0, stats.WorkerID)
	assert.Equal(t, 3, stats.DaysSimulated)
	assert.Equal(t, map[string]int{"member": 3}, stats.RecordCounts)
}

func Test_Worker_Run_Deletes_The_Checkpoint_On_Completion(t *testing.T) {
	checkpointDir := t.TempDir()
	checkpoints := core.NewCheckpointManager(checkpointDir)
	require.NoError(t, checkpoints.Save(core.Checkpoint{WorkerID: 0, Workers: 1, Day: 1}))

	start := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	writer, err := db.NewBulkWriter(memsink.NewSink())
	require.NoError(t, err)

	worker, err := core.NewWorker(0, 1, core.NewClock(start, start.AddDate(0, 0, 2)),
		core.NewRNG(1), core.NewSharedState(), writer, checkpoints)
	require.NoError(t, err)
	worker.Register(&dailyRecorder{writer: writer})

	_, err = worker.Run(context.Background())
	require.NoError(t, err)

	assert.False(t, checkpoints.Exists(0))
}

func Test_Worker_Run_Checkpoints_On_The_Configured_Interval(t *testing.T) {
	spy := logspy.NewSpy()
	fixture := newWorkerFixture(t, 3,
		core.WithCheckpointInterval(time.Nanosecond),
		core.WithWorkerLogger(spy))

	_, err := fixture.worker.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, spy.CountMessage("worker started"))
	assert.Equal(t, 3, spy.CountMessage("checkpoint saved"))
	assert.Equal(t, 1, spy.CountMessage("worker finished"))
	assert.Len(t, fixture.sink.CopyCalls(), 3, "every checkpoint flushes the buffered day first")
}

func Test_Worker_Run_Wraps_Process_Failures(t *testing.T) {
	fixture := newWorkerFixture(t, 5)
	fixture.process.fail = errors.New("generator exploded")

	_, err := fixture.worker.Run(context.Background())

	require.ErrorIs(t, err, core.ErrProcessFailed)
	assert.Contains(t, err.Error(), "daily_recorder")
	assert.Contains(t, err.Error(), "generator exploded")
}

func Test_Worker_Run_Stops_On_Context_Cancellation(t *testing.T) {
	fixture := newWorkerFixture(t, 5)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := fixture.worker.Run(ctx)

	assert.ErrorIs(t, err, context.Canceled)
}

func Test_Worker_Resume_Restores_Clock_RNG_State_And_Process_State(t *testing.T) {
	interrupted := core.NewRNG(9)
	for draw := 0; draw < 3; draw++ {
		interrupted.Float64()
	}
	rngState, err := interrupted.MarshalState()
	require.NoError(t, err)
	expectedDraw := interrupted.Float64()

	interruptedState := core.NewSharedState()
	interruptedState.AddPolicy(&core.PolicyInfo{Status: "Active"})

	checkpoint := core.Checkpoint{
		WorkerID:    0,
		Workers:     1,
		Day:         3,
		RNGState:    rngState,
		SharedState: interruptedState.Snapshot(),
		ProcessStates: map[string]jsoniter.RawMessage{
			"daily_recorder": jsoniter.RawMessage(`{"days":3}`),
		},
	}

	start := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	clock := core.NewClock(start, start.AddDate(0, 0, 5))
	writer, err := db.NewBulkWriter(memsink.NewSink())
	require.NoError(t, err)

	rng := core.NewRNG(0)
	state := core.NewSharedState()
	worker, err := core.NewWorker(0, 1, clock, rng, state, writer, nil)
	require.NoError(t, err)

	process := &dailyRecorder{writer: writer}
	worker.Register(process)

	require.NoError(t, worker.Resume(checkpoint))

	assert.Equal(t, 3, clock.Day())
	assert.Equal(t, 3, process.days)
	assert.Equal(t, 1, state.Stats()["active_policies"])
	assert.Equal(t, expectedDraw, rng.Float64(), "the rng continues the interrupted draw sequence")

	stats, err := worker.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, stats.DaysSimulated, "only the remaining days are simulated")
	assert.Equal(t, 5, process.days)
}

func Test_Worker_Resume_Rejects_A_Different_Worker_Count(t *testing.T) {
	fixture := newWorkerFixture(t, 5)

	err := fixture.worker.Resume(core.Checkpoint{WorkerID: 0, Workers: 4})

	assert.ErrorIs(t, err, core.ErrWorkerCountMismatch)
}
