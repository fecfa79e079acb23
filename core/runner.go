package core

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/brickwellhealth/simulator/observability"
)

const (
	logMsgRunStarted       = "run started"
	logMsgRunFinished      = "run finished"
	logMsgWorkerSpawned    = "worker process spawned"
	logMsgWorkerExited     = "worker process exited"
	logAttrWorkers         = "workers"
	logAttrResume          = "resume"
	logAttrPID             = "pid"
	logAttrDurationSeconds = "duration_seconds"
)

var (
	// ErrMissingCheckpoints aborts a resume before any worker starts when
	// one or more workers have no checkpoint. Partial resume would
	// desynchronize partitioning, so the whole run fails fast.
	ErrMissingCheckpoints = errors.New("resume requested but checkpoints are missing")

	// ErrWorkerFailed occurs when a spawned worker process exits non-zero.
	ErrWorkerFailed = errors.New("worker process failed")
)

// RunStats aggregates the per-worker stats files after a run.
type RunStats struct {
	Workers         int            `json:"workers"`
	DaysSimulated   int            `json:"days_simulated"`
	RecordCounts    map[string]int `json:"record_counts"`
	StreamingStats  map[string]int `json:"streaming_stats,omitempty"`
	WallSeconds     float64        `json:"wall_seconds"`
	PerWorker       []WorkerStats  `json:"per_worker"`
}

// SpawnFunc builds the OS command for one worker process. The CLI layer
// supplies it so the runner stays free of flag knowledge.
type SpawnFunc func(ctx context.Context, workerID int) *exec.Cmd

// Runner coordinates a multi-worker run: it validates resumability up
// front, spawns one OS process per worker, waits for all of them, and
// aggregates their stats files.
type Runner struct {
	workers     int
	resume      bool
	checkpoints *CheckpointManager
	statsDir    string
	spawn       SpawnFunc
	logger      observability.Logger
}

// NewRunner creates a runner for the given worker count.
func NewRunner(
	workers int,
	resume bool,
	checkpoints *CheckpointManager,
	statsDir string,
	spawn SpawnFunc,
	logger observability.Logger,
) *Runner {

	return &Runner{
		workers:     workers,
		resume:      resume,
		checkpoints: checkpoints,
		statsDir:    statsDir,
		spawn:       spawn,
		logger:      logger,
	}
}

// ValidateResume enforces the all-or-nothing resume rule: every worker must
// have a checkpoint, and the error names each worker that does not.
func (r *Runner) ValidateResume() error {
	if !r.resume {
		return nil
	}

	var missing []string
	for workerID := 0; workerID < r.workers; workerID++ {
		if !r.checkpoints.Exists(workerID) {
			missing = append(missing, fmt.Sprintf("%d", workerID))
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("%w: workers %s", ErrMissingCheckpoints, strings.Join(missing, ", "))
	}

	return nil
}

// Run validates, spawns all worker processes, waits for them, and
// aggregates their stats. The first worker failure is reported after every
// process has been waited on.
func (r *Runner) Run(ctx context.Context) (RunStats, error) {
	if err := r.ValidateResume(); err != nil {
		return RunStats{}, err
	}

	r.logInfo(logMsgRunStarted, logAttrWorkers, r.workers, logAttrResume, r.resume)
	started := time.Now()

	commands := make([]*exec.Cmd, r.workers)
	for workerID := 0; workerID < r.workers; workerID++ {
		cmd := r.spawn(ctx, workerID)
		if err := cmd.Start(); err != nil {
			return RunStats{}, fmt.Errorf("starting worker %d: %w", workerID, err)
		}
		commands[workerID] = cmd

		r.logInfo(logMsgWorkerSpawned,
			logAttrWorkerID, workerID,
			logAttrPID, cmd.Process.Pid)
	}

	var runErr error
	for workerID, cmd := range commands {
		if err := cmd.Wait(); err != nil {
			runErr = errors.Join(runErr,
				fmt.Errorf("%w: worker %d: %v", ErrWorkerFailed, workerID, err))
		}

		r.logInfo(logMsgWorkerExited, logAttrWorkerID, workerID)
	}

	if runErr != nil {
		return RunStats{}, runErr
	}

	stats, err := r.aggregate()
	if err != nil {
		return RunStats{}, err
	}
	stats.WallSeconds = time.Since(started).Seconds()

	r.logInfo(logMsgRunFinished,
		logAttrWorkers, r.workers,
		logAttrDurationSeconds, fmt.Sprintf("%.1f", stats.WallSeconds))

	return stats, nil
}

// RunSequential runs every worker in-process, one after another. Used for
// debugging and tests, where spawning OS processes would obscure failures.
func (r *Runner) RunSequential(ctx context.Context, newWorker func(workerID int) (*Worker, error)) (RunStats, error) {
	if err := r.ValidateResume(); err != nil {
		return RunStats{}, err
	}

	started := time.Now()
	perWorker := make([]WorkerStats, 0, r.workers)

	for workerID := 0; workerID < r.workers; workerID++ {
		worker, err := newWorker(workerID)
		if err != nil {
			return RunStats{}, fmt.Errorf("building worker %d: %w", workerID, err)
		}

		if r.resume {
			checkpoint, loadErr := r.checkpoints.Load(workerID)
			if loadErr != nil {
				return RunStats{}, loadErr
			}
			if err = worker.Resume(checkpoint); err != nil {
				return RunStats{}, err
			}
		}

		stats, runErr := worker.Run(ctx)
		if runErr != nil {
			return RunStats{}, fmt.Errorf("%w: worker %d: %v", ErrWorkerFailed, workerID, runErr)
		}

		perWorker = append(perWorker, stats)
	}

	stats := combineStats(perWorker)
	stats.WallSeconds = time.Since(started).Seconds()

	return stats, nil
}

// aggregate reads every worker's stats file from the stats directory.
func (r *Runner) aggregate() (RunStats, error) {
	perWorker := make([]WorkerStats, 0, r.workers)

	for workerID := 0; workerID < r.workers; workerID++ {
		encoded, err := os.ReadFile(statsPath(r.statsDir, workerID))
		if err != nil {
			return RunStats{}, fmt.Errorf("reading stats for worker %d: %w", workerID, err)
		}

		var stats WorkerStats
		if err = jsoniter.ConfigFastest.Unmarshal(encoded, &stats); err != nil {
			return RunStats{}, fmt.Errorf("decoding stats for worker %d: %w", workerID, err)
		}

		perWorker = append(perWorker, stats)
	}

	return combineStats(perWorker), nil
}

func combineStats(perWorker []WorkerStats) RunStats {
	combined := RunStats{
		Workers:      len(perWorker),
		RecordCounts: make(map[string]int),
		PerWorker:    perWorker,
	}

	streaming := make(map[string]int)
	for _, stats := range perWorker {
		if stats.DaysSimulated > combined.DaysSimulated {
			combined.DaysSimulated = stats.DaysSimulated
		}
		for table, count := range stats.RecordCounts {
			combined.RecordCounts[table] += count
		}
		for name, value := range stats.StreamingStats {
			streaming[name] += value
		}
	}

	if len(streaming) > 0 {
		combined.StreamingStats = streaming
	}

	sort.Slice(combined.PerWorker, func(i, j int) bool {
		return combined.PerWorker[i].WorkerID < combined.PerWorker[j].WorkerID
	})

	return combined
}

func (r *Runner) logInfo(msg string, args ...any) {
	if r.logger != nil {
		r.logger.Info(msg, args...)
	}
}
