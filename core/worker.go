package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/brickwellhealth/simulator/db"
	"github.com/brickwellhealth/simulator/observability"
)

const (
	statsFilePrefix = "stats_worker_"

	logMsgWorkerStarted       = "worker started"
	logMsgWorkerResumed       = "worker resumed from checkpoint"
	logMsgWorkerFinished      = "worker finished"
	logMsgCheckpointSaved     = "checkpoint saved"
	logMsgSimulationProgress  = "simulation progress"
	logAttrWorkerID           = "worker_id"
	logAttrDay                = "day"
	logAttrDate               = "date"
	logAttrProgress           = "progress_pct"
	logAttrDays               = "days"
)

var (
	// ErrNoProcesses occurs when a worker is started with nothing registered.
	ErrNoProcesses = errors.New("worker has no registered processes")

	// ErrProcessFailed wraps a failure inside a logical process.
	ErrProcessFailed = errors.New("logical process failed")
)

// WorkerStats is the per-worker result written for the runner to aggregate.
type WorkerStats struct {
	WorkerID       int            `json:"worker_id"`
	DaysSimulated  int            `json:"days_simulated"`
	RecordCounts   map[string]int `json:"record_counts"`
	StreamingStats map[string]int `json:"streaming_stats,omitempty"`
	StateStats     map[string]int `json:"state_stats"`
	WallSeconds    float64        `json:"wall_seconds"`
}

// Worker owns one partition of the simulation: its own clock, RNG, shared
// state, writer, and the logical processes stepped cooperatively one day at
// a time. All worker-local state is touched only by the goroutine running
// Run.
type Worker struct {
	id          int
	workers     int
	clock       *Clock
	rng         *RNG
	partition   *Partition
	state       *SharedState
	writer      db.Writer
	checkpoints *CheckpointManager
	processes   []Process

	checkpointInterval time.Duration
	progressEvery      int
	statsDir           string
	closer             io.Closer
	streamingStats     func() map[string]int
	logger             observability.Logger
}

// WorkerOption defines a functional option for configuring a Worker.
type WorkerOption func(*Worker) error

// WithCheckpointInterval sets the wall-clock interval between checkpoints.
// Zero disables periodic checkpointing.
func WithCheckpointInterval(interval time.Duration) WorkerOption {
	return func(w *Worker) error {
		w.checkpointInterval = interval
		return nil
	}
}

// WithStatsDir sets where the worker writes its stats file for the runner.
func WithStatsDir(dir string) WorkerOption {
	return func(w *Worker) error {
		w.statsDir = dir
		return nil
	}
}

// WithCloser registers a resource closed after the final flush, typically
// the streaming writer.
func WithCloser(closer io.Closer) WorkerOption {
	return func(w *Worker) error {
		w.closer = closer
		return nil
	}
}

// WithStreamingStats registers a source of streaming counters for the stats
// file.
func WithStreamingStats(fn func() map[string]int) WorkerOption {
	return func(w *Worker) error {
		w.streamingStats = fn
		return nil
	}
}

// WithWorkerLogger sets the logger for the Worker.
func WithWorkerLogger(logger observability.Logger) WorkerOption {
	return func(w *Worker) error {
		w.logger = logger
		return nil
	}
}

// NewWorker creates a fresh worker at day zero.
func NewWorker(
	workerID int,
	workers int,
	clock *Clock,
	rng *RNG,
	state *SharedState,
	writer db.Writer,
	checkpoints *CheckpointManager,
	options ...WorkerOption,
) (*Worker, error) {

	w := &Worker{
		id:            workerID,
		workers:       workers,
		clock:         clock,
		rng:           rng,
		partition:     NewPartition(workerID, workers),
		state:         state,
		writer:        writer,
		checkpoints:   checkpoints,
		progressEvery: 30,
	}

	for _, option := range options {
		if err := option(w); err != nil {
			return nil, err
		}
	}

	return w, nil
}

// Register appends a process to the day loop. Registration order is the
// execution order within each day and must be identical on resume.
func (w *Worker) Register(process Process) {
	w.processes = append(w.processes, process)
}

// Partition returns the worker's partition view.
func (w *Worker) Partition() *Partition {
	return w.partition
}

// Resume restores clock day, RNG state, shared state, and each registered
// process's private state from a checkpoint. Must be called after all
// processes are registered.
func (w *Worker) Resume(checkpoint Checkpoint) error {
	if err := checkpoint.ValidateForResume(w.id, w.workers); err != nil {
		return err
	}

	if err := w.rng.UnmarshalState(checkpoint.RNGState); err != nil {
		return err
	}

	w.state.Restore(checkpoint.SharedState)

	for w.clock.Day() < checkpoint.Day {
		w.clock.Advance()
	}

	for _, process := range w.processes {
		if encoded, saved := checkpoint.ProcessStates[process.Name()]; saved {
			if err := process.RestoreState(encoded); err != nil {
				return fmt.Errorf("restoring %s: %w", process.Name(), err)
			}
		}
	}

	w.logInfo(logMsgWorkerResumed,
		logAttrWorkerID, w.id,
		logAttrDay, checkpoint.Day)

	return nil
}

// Run steps every registered process one day at a time until the clock
// reaches the end of the simulated range, checkpointing on the configured
// wall-clock interval. On completion it flushes all buffers, closes the
// registered closer, writes the stats file, and deletes the checkpoint.
func (w *Worker) Run(ctx context.Context) (WorkerStats, error) {
	if len(w.processes) == 0 {
		return WorkerStats{}, ErrNoProcesses
	}

	w.logInfo(logMsgWorkerStarted,
		logAttrWorkerID, w.id,
		logAttrDay, w.clock.Day(),
		logAttrDays, w.clock.DurationDays())

	started := time.Now()
	lastCheckpoint := started
	startDay := w.clock.Day()

	for !w.clock.Done() {
		if err := ctx.Err(); err != nil {
			return WorkerStats{}, err
		}

		for _, process := range w.processes {
			if err := process.AdvanceOneDay(ctx); err != nil {
				return WorkerStats{}, errors.Join(ErrProcessFailed,
					fmt.Errorf("process %s, day %d: %w", process.Name(), w.clock.Day(), err))
			}
		}

		w.clock.Advance()

		if w.progressEvery > 0 && w.clock.Day()%w.progressEvery == 0 {
			w.logInfo(logMsgSimulationProgress,
				logAttrWorkerID, w.id,
				logAttrDay, w.clock.Day(),
				logAttrDate, w.clock.CurrentDate().Format(time.DateOnly),
				logAttrProgress, fmt.Sprintf("%.1f", w.clock.Progress()))
		}

		if w.checkpointInterval > 0 && time.Since(lastCheckpoint) >= w.checkpointInterval {
			if err := w.saveCheckpoint(ctx); err != nil {
				return WorkerStats{}, err
			}
			lastCheckpoint = time.Now()
		}
	}

	if err := w.writer.FlushAll(ctx); err != nil {
		return WorkerStats{}, err
	}

	if w.closer != nil {
		if err := w.closer.Close(); err != nil {
			return WorkerStats{}, err
		}
	}

	stats := WorkerStats{
		WorkerID:      w.id,
		DaysSimulated: w.clock.Day() - startDay,
		RecordCounts:  w.writer.Counts(),
		StateStats:    w.state.Stats(),
		WallSeconds:   time.Since(started).Seconds(),
	}
	if w.streamingStats != nil {
		stats.StreamingStats = w.streamingStats()
	}

	if w.statsDir != "" {
		if err := w.writeStats(stats); err != nil {
			return WorkerStats{}, err
		}
	}

	if w.checkpoints != nil {
		if err := w.checkpoints.Delete(w.id); err != nil {
			return WorkerStats{}, err
		}
	}

	w.logInfo(logMsgWorkerFinished,
		logAttrWorkerID, w.id,
		logAttrDays, stats.DaysSimulated)

	return stats, nil
}

// saveCheckpoint flushes all buffers first so the checkpoint never claims
// records that were not durable, then snapshots every process.
func (w *Worker) saveCheckpoint(ctx context.Context) error {
	if w.checkpoints == nil {
		return nil
	}

	if err := w.writer.FlushAll(ctx); err != nil {
		return err
	}

	rngState, err := w.rng.MarshalState()
	if err != nil {
		return err
	}

	processStates := make(map[string]jsoniter.RawMessage, len(w.processes))
	for _, process := range w.processes {
		encoded, snapErr := process.SnapshotState()
		if snapErr != nil {
			return fmt.Errorf("snapshotting %s: %w", process.Name(), snapErr)
		}
		processStates[process.Name()] = encoded
	}

	checkpoint := Checkpoint{
		WorkerID:      w.id,
		Workers:       w.workers,
		Day:           w.clock.Day(),
		RNGState:      rngState,
		SharedState:   w.state.Snapshot(),
		ProcessStates: processStates,
		RecordCounts:  w.writer.Counts(),
	}

	if err = w.checkpoints.Save(checkpoint); err != nil {
		return err
	}

	w.logInfo(logMsgCheckpointSaved,
		logAttrWorkerID, w.id,
		logAttrDay, w.clock.Day())

	return nil
}

func (w *Worker) writeStats(stats WorkerStats) error {
	if err := os.MkdirAll(w.statsDir, 0o755); err != nil {
		return err
	}

	encoded, err := jsoniter.ConfigFastest.Marshal(stats)
	if err != nil {
		return err
	}

	return os.WriteFile(statsPath(w.statsDir, w.id), encoded, 0o644)
}

func statsPath(dir string, workerID int) string {
	return filepath.Join(dir, fmt.Sprintf("%s%d.json", statsFilePrefix, workerID))
}

func (w *Worker) logInfo(msg string, args ...any) {
	if w.logger != nil {
		w.logger.Info(msg, args...)
	}
}
