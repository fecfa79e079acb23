package core_test

import (
	"os"
	"path/filepath"
	"testing"

	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brickwellhealth/simulator/core"
)

func Test_CheckpointManager_Save_Load_Round_Trips(t *testing.T) {
	manager := core.NewCheckpointManager(t.TempDir())

	rng := core.NewRNG(42)
	rngState, err := rng.MarshalState()
	require.NoError(t, err)

	saved := core.Checkpoint{
		WorkerID: 1,
		Workers:  4,
		Day:      17,
		RNGState: rngState,
		ProcessStates: map[string]jsoniter.RawMessage{
			"policy": jsoniter.RawMessage(`{"pending_invoices":[]}`),
		},
		RecordCounts: map[string]int{"policy": 12, "claim": 88},
	}
	require.NoError(t, manager.Save(saved))

	loaded, err := manager.Load(1)
	require.NoError(t, err)

	assert.Equal(t, 1, loaded.WorkerID)
	assert.Equal(t, 4, loaded.Workers)
	assert.Equal(t, 17, loaded.Day)
	assert.Equal(t, rngState, loaded.RNGState)
	assert.Equal(t, saved.RecordCounts, loaded.RecordCounts)
	assert.JSONEq(t, `{"pending_invoices":[]}`, string(loaded.ProcessStates["policy"]))
	assert.False(t, loaded.CreatedAt.IsZero(), "save stamps the creation time")
}

func Test_CheckpointManager_Load_Missing_Worker_Fails(t *testing.T) {
	manager := core.NewCheckpointManager(t.TempDir())

	_, err := manager.Load(3)

	assert.ErrorIs(t, err, core.ErrCheckpointNotFound)
}

func Test_CheckpointManager_Load_Rejects_Foreign_Format_Versions(t *testing.T) {
	dir := t.TempDir()
	manager := core.NewCheckpointManager(dir)

	stale := []byte(`{"version":1,"worker_id":0,"num_workers":1,"day":5}`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "checkpoint_worker_0.json"), stale, 0o644))

	_, err := manager.Load(0)

	assert.ErrorIs(t, err, core.ErrCheckpointVersionMismatch)
}

func Test_CheckpointManager_Exists_And_Delete(t *testing.T) {
	manager := core.NewCheckpointManager(t.TempDir())

	assert.False(t, manager.Exists(0))
	require.NoError(t, manager.Delete(0), "deleting a missing checkpoint is not an error")

	require.NoError(t, manager.Save(core.Checkpoint{WorkerID: 0, Workers: 1}))
	assert.True(t, manager.Exists(0))

	require.NoError(t, manager.Delete(0))
	assert.False(t, manager.Exists(0))
}

func Test_CheckpointManager_List_Sorts_By_Worker_And_Skips_Junk(t *testing.T) {
	dir := t.TempDir()
	manager := core.NewCheckpointManager(dir)

	require.NoError(t, manager.Save(core.Checkpoint{WorkerID: 2, Workers: 3, Day: 10}))
	require.NoError(t, manager.Save(core.Checkpoint{WorkerID: 0, Workers: 3, Day: 12}))
	require.NoError(t, manager.Save(core.Checkpoint{WorkerID: 1, Workers: 3, Day: 11}))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("scratch"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "checkpoint_worker_9.json"), []byte("{broken"), 0o644))

	checkpoints, err := manager.List()
	require.NoError(t, err)

	require.Len(t, checkpoints, 3)
	assert.Equal(t, []int{0, 1, 2},
		[]int{checkpoints[0].WorkerID, checkpoints[1].WorkerID, checkpoints[2].WorkerID})
	assert.Equal(t, 12, checkpoints[0].Day)
}

func Test_CheckpointManager_List_Missing_Directory_Is_Empty(t *testing.T) {
	manager := core.NewCheckpointManager(filepath.Join(t.TempDir(), "never_created"))

	checkpoints, err := manager.List()

	require.NoError(t, err)
	assert.Empty(t, checkpoints)
}

func Test_Checkpoint_ValidateForResume_Guards_Partitioning(t *testing.T) {
	checkpoint := core.Checkpoint{WorkerID: 2, Workers: 4}

	assert.NoError(t, checkpoint.ValidateForResume(2, 4))
	assert.ErrorIs(t, checkpoint.ValidateForResume(2, 8), core.ErrWorkerCountMismatch)
	assert.Error(t, checkpoint.ValidateForResume(3, 4))
}
