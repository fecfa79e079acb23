// Package streaming mirrors simulator writes as published change events.
// A StreamingWriter decorates the bulk writer and forwards insert/update
// events for selected tables to one of several EventPublisher backends
// through an unbounded queue drained by a background goroutine.
package streaming

import (
	"context"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
)

const (
	// EventTypeInsert marks a full new record.
	EventTypeInsert = "insert"

	// EventTypeUpdate marks changed fields plus the primary key.
	EventTypeUpdate = "update"
)

// PublishEvent is one change destined for a streaming backend. For inserts
// Data carries the full record; for updates Data carries the changed fields
// and Key identifies the row.
type PublishEvent struct {
	EventID   uuid.UUID      `json:"_event_id"`
	EventType string         `json:"_event_type"`
	Table     string         `json:"_table"`
	Timestamp time.Time      `json:"_event_timestamp"`
	WorkerID  int            `json:"_worker_id"`
	Key       map[string]any `json:"_key"`
	Data      map[string]any `json:"data"`
}

// NewEvent creates a PublishEvent with a fresh event id.
func NewEvent(
	eventType string,
	table string,
	timestamp time.Time,
	workerID int,
	data map[string]any,
	key map[string]any,
) PublishEvent {

	return PublishEvent{
		EventID:   uuid.New(),
		EventType: eventType,
		Table:     table,
		Timestamp: timestamp,
		WorkerID:  workerID,
		Key:       key,
		Data:      data,
	}
}

// ToIngestRecord flattens the event into a single row for ingestion
// backends, with metadata columns prepended to the record data.
func (e PublishEvent) ToIngestRecord() map[string]any {
	record := map[string]any{
		"_event_type":      e.EventType,
		"_event_id":        e.EventID.String(),
		"_event_timestamp": e.Timestamp.Format(time.RFC3339Nano),
		"_event_worker_id": e.WorkerID,
	}

	for field, value := range e.Key {
		record[field] = serializeValue(value)
	}

	for field, value := range e.Data {
		record[field] = serializeValue(value)
	}

	return record
}

// MarshalJSON renders the envelope form used by the file and log backends.
func (e PublishEvent) MarshalJSON() ([]byte, error) {
	envelope := map[string]any{
		"_event_type":      e.EventType,
		"_event_id":        e.EventID.String(),
		"_event_timestamp": e.Timestamp.Format(time.RFC3339Nano),
		"_worker_id":       e.WorkerID,
		"_table":           e.Table,
		"_key":             serializeMap(e.Key),
		"data":             serializeMap(e.Data),
	}

	return jsoniter.ConfigFastest.Marshal(envelope)
}

func serializeMap(values map[string]any) map[string]any {
	out := make(map[string]any, len(values))
	for field, value := range values {
		out[field] = serializeValue(value)
	}

	return out
}

func serializeValue(value any) any {
	switch v := value.(type) {
	case uuid.UUID:
		return v.String()
	case time.Time:
		return v.Format(time.RFC3339Nano)
	case []byte:
		return string(v)
	default:
		return value
	}
}

// EventPublisher is the backend contract shared by every publish sink.
type EventPublisher interface {
	Publish(ctx context.Context, topic string, event PublishEvent) error
	PublishBatch(ctx context.Context, topic string, events []PublishEvent) error
	Flush() error
	Close() error
	Stats() map[string]int
}
