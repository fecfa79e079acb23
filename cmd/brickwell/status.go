package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/brickwellhealth/simulator/config"
	"github.com/brickwellhealth/simulator/core"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "List the checkpoints of an interrupted run",
	RunE: func(_ *cobra.Command, _ []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}

		checkpoints, err := core.NewCheckpointManager(cfg.Parallel.CheckpointDir).List()
		if err != nil {
			return err
		}

		if len(checkpoints) == 0 {
			fmt.Fprintf(os.Stdout, "no checkpoints in %s\n", cfg.Parallel.CheckpointDir)
			return nil
		}

		writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(writer, "WORKER\tOF\tDAY\tRECORDS\tSAVED AT")

		for _, checkpoint := range checkpoints {
			total := 0
			for _, count := range checkpoint.RecordCounts {
				total += count
			}

			fmt.Fprintf(writer, "%d\t%d\t%d\t%d\t%s\n",
				checkpoint.WorkerID, checkpoint.Workers, checkpoint.Day, total,
				checkpoint.CreatedAt.Format(time.RFC3339))
		}

		return writer.Flush()
	},
}
