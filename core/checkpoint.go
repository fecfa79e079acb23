package core

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	jsoniter "github.com/json-iterator/go"
)

const (
	checkpointVersion = 2
	checkpointPrefix  = "checkpoint_worker_"
	checkpointSuffix  = ".json"
)

var (
	// ErrCheckpointNotFound occurs when a resume is requested for a worker
	// that has no checkpoint file.
	ErrCheckpointNotFound = errors.New("checkpoint not found")

	// ErrCheckpointVersionMismatch occurs when a checkpoint was written by an
	// incompatible format version.
	ErrCheckpointVersionMismatch = errors.New("checkpoint version mismatch")

	// ErrWorkerCountMismatch occurs when a checkpoint was written for a
	// different worker count, which would invalidate partitioning.
	ErrWorkerCountMismatch = errors.New("checkpoint worker count mismatch")
)

// Checkpoint is a worker's complete resumable state: simulated day, the
// exact RNG state, the shared state, and each process's private state keyed
// by process name.
type Checkpoint struct {
	Version       int                            `json:"version"`
	WorkerID      int                            `json:"worker_id"`
	Workers       int                            `json:"num_workers"`
	Day           int                            `json:"day"`
	RNGState      []byte                         `json:"rng_state"`
	SharedState   stateSnapshot                  `json:"shared_state"`
	ProcessStates map[string]jsoniter.RawMessage `json:"process_states"`
	RecordCounts  map[string]int                 `json:"record_counts"`
	CreatedAt     time.Time                      `json:"created_at"`
}

// CheckpointManager persists one checkpoint file per worker under a
// directory, written atomically so a crashed worker never leaves a partial
// file behind.
type CheckpointManager struct {
	dir string
}

// NewCheckpointManager creates a manager over the given directory.
func NewCheckpointManager(dir string) *CheckpointManager {
	return &CheckpointManager{dir: dir}
}

// Save writes the checkpoint atomically: encode to a temp file in the same
// directory, fsync, then rename over the final path.
func (m *CheckpointManager) Save(checkpoint Checkpoint) error {
	checkpoint.Version = checkpointVersion
	checkpoint.CreatedAt = time.Now().UTC()

	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return err
	}

	encoded, err := jsoniter.ConfigFastest.Marshal(checkpoint)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(m.dir, "tmp_"+checkpointPrefix)
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	if _, err = tmp.Write(encoded); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err = tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err = tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}

	return os.Rename(tmpPath, m.path(checkpoint.WorkerID))
}

// Load reads and validates a worker's checkpoint. A missing file returns
// ErrCheckpointNotFound.
func (m *CheckpointManager) Load(workerID int) (Checkpoint, error) {
	encoded, err := os.ReadFile(m.path(workerID))
	if err != nil {
		if os.IsNotExist(err) {
			return Checkpoint{}, fmt.Errorf("%w: worker %d", ErrCheckpointNotFound, workerID)
		}
		return Checkpoint{}, err
	}

	var checkpoint Checkpoint
	if err = jsoniter.ConfigFastest.Unmarshal(encoded, &checkpoint); err != nil {
		return Checkpoint{}, err
	}

	if checkpoint.Version != checkpointVersion {
		return Checkpoint{}, fmt.Errorf("%w: expected %d, got %d",
			ErrCheckpointVersionMismatch, checkpointVersion, checkpoint.Version)
	}

	return checkpoint, nil
}

// Exists reports whether a worker has a checkpoint file.
func (m *CheckpointManager) Exists(workerID int) bool {
	_, err := os.Stat(m.path(workerID))

	return err == nil
}

// Delete removes a worker's checkpoint, typically after a successful run.
func (m *CheckpointManager) Delete(workerID int) error {
	err := os.Remove(m.path(workerID))
	if err != nil && !os.IsNotExist(err) {
		return err
	}

	return nil
}

// List returns every checkpoint in the directory, sorted by worker id.
func (m *CheckpointManager) List() ([]Checkpoint, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var checkpoints []Checkpoint
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || len(name) <= len(checkpointPrefix)+len(checkpointSuffix) {
			continue
		}
		if name[:len(checkpointPrefix)] != checkpointPrefix || filepath.Ext(name) != checkpointSuffix {
			continue
		}

		encoded, readErr := os.ReadFile(filepath.Join(m.dir, name))
		if readErr != nil {
			continue
		}

		var checkpoint Checkpoint
		if jsoniter.ConfigFastest.Unmarshal(encoded, &checkpoint) == nil {
			checkpoints = append(checkpoints, checkpoint)
		}
	}

	sort.Slice(checkpoints, func(i, j int) bool {
		return checkpoints[i].WorkerID < checkpoints[j].WorkerID
	})

	return checkpoints, nil
}

// ValidateForResume checks a loaded checkpoint against the run parameters.
func (c Checkpoint) ValidateForResume(workerID int, workers int) error {
	if c.Workers != workers {
		return fmt.Errorf("%w: checkpoint has %d workers, run has %d",
			ErrWorkerCountMismatch, c.Workers, workers)
	}
	if c.WorkerID != workerID {
		return fmt.Errorf("checkpoint belongs to worker %d, not %d", c.WorkerID, workerID)
	}

	return nil
}

func (m *CheckpointManager) path(workerID int) string {
	return filepath.Join(m.dir, fmt.Sprintf("%s%d%s", checkpointPrefix, workerID, checkpointSuffix))
}
