package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"
	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"

	"github.com/brickwellhealth/simulator/config"
	"github.com/brickwellhealth/simulator/core"
	"github.com/brickwellhealth/simulator/core/processes"
	"github.com/brickwellhealth/simulator/db"
	"github.com/brickwellhealth/simulator/observability"
	"github.com/brickwellhealth/simulator/streaming"
)

var (
	workerID     int
	workerCount  int
	workerResume bool
)

// workerCmd is the hidden entry point the runner re-execs for each worker
// process. It is not meant to be invoked by hand.
var workerCmd = &cobra.Command{
	Use:    "worker",
	Hidden: true,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}

		logger := newLogger()

		worker, err := buildWorker(cmd.Context(), cfg, workerID, workerCount, logger)
		if err != nil {
			return err
		}

		if workerResume {
			checkpoint, loadErr := core.NewCheckpointManager(cfg.Parallel.CheckpointDir).Load(workerID)
			if loadErr != nil {
				return loadErr
			}
			if err = worker.Resume(checkpoint); err != nil {
				return err
			}
		}

		stats, err := worker.Run(cmd.Context())
		if err != nil {
			return err
		}

		encoded, err := jsoniter.ConfigFastest.Marshal(stats)
		if err != nil {
			return err
		}
		fmt.Fprintln(os.Stdout, string(encoded))

		return nil
	},
}

func init() {
	workerCmd.Flags().IntVar(&workerID, "worker-id", 0, "zero-based id of this worker")
	workerCmd.Flags().IntVar(&workerCount, "workers", 1, "total worker count of the run")
	workerCmd.Flags().BoolVar(&workerResume, "resume", false, "resume from this worker's checkpoint")
}

// buildWorker assembles one worker: clock, seeded RNG, writer stack, and the
// four logical processes in their fixed execution order.
func buildWorker(
	ctx context.Context,
	cfg config.Config,
	id int,
	workers int,
	logger observability.Logger,
) (*core.Worker, error) {

	start, end, err := cfg.Simulation.Dates()
	if err != nil {
		return nil, err
	}

	clock := core.NewClock(start, end)
	rng := core.NewRNG(cfg.Seed + uint64(id))
	state := core.NewSharedState()

	inner, err := newBulkWriter(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	var writer db.Writer = inner
	var closer io.Closer
	var streamingStats func() map[string]int

	if cfg.Streaming.Enabled() {
		streamCfg := cfg.Streaming.ToStreaming()

		publisher, pubErr := streaming.NewPublisher(streamCfg, id, logger)
		if pubErr != nil {
			return nil, pubErr
		}

		options := []streaming.WrapperOption{
			streaming.WithFlushInterval(streamCfg.FlushInterval),
			streaming.WithPublishBatchSize(streamCfg.BatchSize),
			streaming.WithWrapperLogger(logger),
		}
		if !streamCfg.FailOpen {
			options = append(options, streaming.WithFailClosed())
		}

		wrapped, wrapErr := streaming.NewStreamingWriter(
			inner, publisher, streaming.NewResolver(streamCfg),
			streamCfg.Tables, id, clock.CurrentDateTime, options...)
		if wrapErr != nil {
			return nil, wrapErr
		}

		writer = wrapped
		closer = wrapped
		streamingStats = wrapped.StreamingStats
	}

	checkpoints := core.NewCheckpointManager(cfg.Parallel.CheckpointDir)

	workerOptions := []core.WorkerOption{
		core.WithCheckpointInterval(cfg.Parallel.CheckpointInterval()),
		core.WithStatsDir(cfg.Parallel.StatsDir),
		core.WithWorkerLogger(logger),
	}
	if closer != nil {
		workerOptions = append(workerOptions, core.WithCloser(closer))
	}
	if streamingStats != nil {
		workerOptions = append(workerOptions, core.WithStreamingStats(streamingStats))
	}

	worker, err := core.NewWorker(id, workers, clock, rng, state, writer, checkpoints, workerOptions...)
	if err != nil {
		return nil, err
	}

	engine := core.NewTriggerEngine(rng, cfg.TriggerOverrides(),
		cfg.Triggers.CaseChargeThreshold, cfg.Triggers.ComplaintChargeThreshold)
	partition := worker.Partition()

	worker.Register(processes.NewPolicyProcess(
		cfg.PolicyProcess(), state, writer, clock, rng, partition, logger))
	worker.Register(processes.NewClaimsProcess(
		cfg.ClaimsProcess(), state, writer, clock, rng, partition, logger))
	worker.Register(processes.NewCRMProcess(
		cfg.CRMProcess(), state, writer, clock, rng, partition, engine, logger))
	worker.Register(processes.NewSurveyProcess(
		cfg.SurveyProcess(), state, writer, clock, rng, partition, engine, logger))

	return worker, nil
}

// newBulkWriter connects to PostgreSQL through the configured adapter.
func newBulkWriter(ctx context.Context, cfg config.Config, logger observability.Logger) (*db.BulkWriter, error) {
	options := []db.Option{
		db.WithBatchSize(cfg.Database.BatchSize),
		db.WithLogger(logger),
	}

	switch cfg.Database.Adapter {
	case config.AdapterPGX:
		poolCfg, err := pgxpool.ParseConfig(cfg.Database.DSN())
		if err != nil {
			return nil, err
		}
		poolCfg.MaxConns = int32(cfg.Database.PoolSize)

		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			return nil, err
		}

		return db.NewBulkWriterFromPGXPool(pool, options...)

	case config.AdapterSQLX:
		database, err := sqlx.Open("postgres", cfg.Database.DSN())
		if err != nil {
			return nil, err
		}
		database.SetMaxOpenConns(cfg.Database.PoolSize)

		return db.NewBulkWriterFromSQLX(database, options...)

	default:
		database, err := sql.Open("postgres", cfg.Database.DSN())
		if err != nil {
			return nil, err
		}
		database.SetMaxOpenConns(cfg.Database.PoolSize)

		return db.NewBulkWriterFromSQLDB(database, options...)
	}
}
