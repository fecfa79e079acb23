package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"

	"github.com/brickwellhealth/simulator/config"
	"github.com/brickwellhealth/simulator/core"
)

var (
	runWorkers    int
	runResume     bool
	runSequential bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the simulation across parallel worker processes",
	Long: `run partitions the entity space across workers and simulates every day
of the configured range. With --resume, every worker must have a checkpoint
or the run aborts before any worker starts.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if runWorkers > 0 {
			cfg.Parallel.Workers = runWorkers
		}

		logger := newLogger()
		checkpoints := core.NewCheckpointManager(cfg.Parallel.CheckpointDir)

		runner := core.NewRunner(cfg.Parallel.Workers, runResume, checkpoints,
			cfg.Parallel.StatsDir, spawnWorker(cfg.Parallel.Workers), logger)

		var stats core.RunStats
		if runSequential {
			stats, err = runner.RunSequential(cmd.Context(), func(id int) (*core.Worker, error) {
				return buildWorker(cmd.Context(), cfg, id, cfg.Parallel.Workers, logger)
			})
		} else {
			stats, err = runner.Run(cmd.Context())
		}
		if err != nil {
			return err
		}

		encoded, err := jsoniter.ConfigFastest.MarshalIndent(stats, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(os.Stdout, string(encoded))

		return nil
	},
}

func init() {
	runCmd.Flags().IntVar(&runWorkers, "workers", 0,
		"worker count, overriding the configuration when positive")
	runCmd.Flags().BoolVar(&runResume, "resume", false,
		"resume every worker from its checkpoint")
	runCmd.Flags().BoolVar(&runSequential, "sequential", false,
		"run workers one after another in this process instead of spawning")
}

// spawnWorker builds the command line for one worker process: a re-exec of
// this binary's hidden worker subcommand with the worker's identity flags.
func spawnWorker(workers int) core.SpawnFunc {
	return func(ctx context.Context, id int) *exec.Cmd {
		executable, err := os.Executable()
		if err != nil {
			executable = os.Args[0]
		}

		args := []string{
			"worker",
			"--worker-id", strconv.Itoa(id),
			"--workers", strconv.Itoa(workers),
			"--log-level", logLevel,
		}
		if configPath != "" {
			args = append(args, "--config", configPath)
		}
		if runResume {
			args = append(args, "--resume")
		}

		cmd := exec.CommandContext(ctx, executable, args...)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr

		return cmd
	}
}
