package streaming

import "context"

// NoopPublisher discards all events. Used when streaming is disabled.
type NoopPublisher struct{}

var _ EventPublisher = NoopPublisher{}

// NewNoopPublisher creates a publisher that discards everything.
func NewNoopPublisher() NoopPublisher {
	return NoopPublisher{}
}

func (NoopPublisher) Publish(_ context.Context, _ string, _ PublishEvent) error {
	return nil
}

func (NoopPublisher) PublishBatch(_ context.Context, _ string, _ []PublishEvent) error {
	return nil
}

func (NoopPublisher) Flush() error { return nil }

func (NoopPublisher) Close() error { return nil }

func (NoopPublisher) Stats() map[string]int { return map[string]int{} }
