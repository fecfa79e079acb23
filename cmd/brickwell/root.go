package main

import (
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/brickwellhealth/simulator/observability"
	"github.com/brickwellhealth/simulator/observability/oteladapters"
)

var (
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "brickwell",
	Short: "Synthetic transactional data simulator for Brickwell Health",
	Long: `brickwell simulates a private health insurer's operational systems and
bulk-loads the resulting records into PostgreSQL, optionally mirroring
selected tables as change events to a streaming backend. Runs are
deterministic for a fixed seed and worker count, and resumable from
checkpoints.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"path to the simulation YAML file (defaults apply when omitted)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info",
		"log verbosity: debug, info, warn, or error")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(statusCmd)
}

// newLogger builds the process logger writing structured lines to stderr so
// stdout stays reserved for result output.
func newLogger() observability.Logger {
	var level slog.Level
	switch strings.ToLower(logLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})

	return oteladapters.NewSlogLogger(handler)
}
