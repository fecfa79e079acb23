package streaming

import (
	"context"

	"github.com/brickwellhealth/simulator/observability"
)

const (
	logMsgEventPublished = "streaming event"
	logMsgBatchPublished = "streaming batch"
)

// LogPublisher emits one structured log line per event or batch. Useful for
// local runs where the event flow matters more than the payloads.
type LogPublisher struct {
	logger observability.Logger
	count  int
}

var _ EventPublisher = (*LogPublisher)(nil)

// NewLogPublisher creates a publisher that logs events through logger.
func NewLogPublisher(logger observability.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(_ context.Context, topic string, event PublishEvent) error {
	if p.logger != nil {
		p.logger.Debug(logMsgEventPublished,
			logAttrTopic, topic,
			logAttrEventType, event.EventType,
			logAttrTable, event.Table,
			logAttrEventID, event.EventID.String())
	}

	p.count++

	return nil
}

func (p *LogPublisher) PublishBatch(_ context.Context, topic string, events []PublishEvent) error {
	if p.logger != nil {
		p.logger.Debug(logMsgBatchPublished,
			logAttrTopic, topic,
			logAttrEventCount, len(events))
	}

	p.count += len(events)

	return nil
}

func (p *LogPublisher) Flush() error { return nil }

func (p *LogPublisher) Close() error { return nil }

func (p *LogPublisher) Stats() map[string]int {
	return map[string]int{"log_events": p.count}
}
