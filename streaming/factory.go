package streaming

import (
	"fmt"
	"time"

	"github.com/brickwellhealth/simulator/observability"
)

const (
	// BackendNoop discards all events.
	BackendNoop = "noop"

	// BackendLog writes one structured log line per event or batch.
	BackendLog = "log"

	// BackendMemory captures events in process, for tests.
	BackendMemory = "memory"

	// BackendJSONFile appends NDJSON files per topic per worker.
	BackendJSONFile = "json_file"

	// BackendZeroBus streams to the managed ingest service.
	BackendZeroBus = "zerobus"
)

// Config carries everything needed to stand up a streaming pipeline for one
// worker.
type Config struct {
	Backend       string
	Tables        []string
	TopicStrategy string
	TopicPrefix   string
	TopicMapping  map[string]string
	FailOpen      bool
	FlushInterval time.Duration
	BatchSize     int
	OutputDir     string
	ZeroBus       ZeroBusConfig
}

// NewPublisher creates the publisher backend named by the config.
func NewPublisher(cfg Config, workerID int, logger observability.Logger) (EventPublisher, error) {
	switch cfg.Backend {
	case BackendZeroBus:
		return NewZeroBusPublisher(cfg.ZeroBus, logger), nil

	case BackendJSONFile:
		return NewJSONFilePublisher(cfg.OutputDir, workerID)

	case BackendLog:
		return NewLogPublisher(logger), nil

	case BackendMemory:
		return NewMemoryPublisher(), nil

	case BackendNoop, "":
		return NewNoopPublisher(), nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Backend)
	}
}

// NewResolver creates the topic resolver for the config. For the managed
// ingest backend an empty prefix is derived from catalog and schema so that
// per-table topics become fully qualified destination names.
func NewResolver(cfg Config) *TopicResolver {
	prefix := cfg.TopicPrefix
	if cfg.Backend == BackendZeroBus && prefix == "" {
		zb := cfg.ZeroBus
		if zb.Catalog != "" && zb.SchemaName != "" {
			prefix = zb.Catalog + "." + zb.SchemaName + "."
		}
	}

	return NewTopicResolver(cfg.TopicStrategy, prefix, cfg.TopicMapping)
}
