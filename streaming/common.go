package streaming

import "errors"

var (
	// ErrNilWriter occurs when the streaming wrapper receives no inner writer.
	ErrNilWriter = errors.New("inner writer must not be nil")

	// ErrNilPublisher occurs when a constructor receives no publisher.
	ErrNilPublisher = errors.New("publisher must not be nil")

	// ErrPublishFailed occurs when a backend rejects an event or batch.
	ErrPublishFailed = errors.New("publishing events failed")

	// ErrUnknownBackend occurs when the configured backend name is not recognized.
	ErrUnknownBackend = errors.New("unknown streaming backend")

	// ErrTokenFetchFailed occurs when an OAuth token cannot be obtained.
	ErrTokenFetchFailed = errors.New("fetching oauth token failed")

	// ErrStreamUnavailable occurs when an ingest stream cannot be opened.
	ErrStreamUnavailable = errors.New("ingest stream unavailable")
)

const (
	logAttrTopic       = "topic"
	logAttrTable       = "table"
	logAttrEventType   = "event_type"
	logAttrEventID     = "event_id"
	logAttrEventCount  = "event_count"
	logAttrWorkerID    = "worker_id"
	logAttrError       = "error"
	logAttrCount       = "count"
	logAttrState       = "state"
	logAttrCacheFile   = "cache_file"
	logAttrStreamCount = "stream_count"
)
