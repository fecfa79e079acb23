package streaming

import (
	"context"
	"sync"
)

// CapturedEvent pairs an event with the topic it was published to.
type CapturedEvent struct {
	Topic string
	Event PublishEvent
}

// MemoryPublisher captures every event for inspection in tests.
type MemoryPublisher struct {
	mu           sync.Mutex
	captured     []CapturedEvent
	publishCount int
	batchCount   int
	closed       bool
}

var _ EventPublisher = (*MemoryPublisher)(nil)

// NewMemoryPublisher creates an empty capturing publisher.
func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{}
}

func (p *MemoryPublisher) Publish(_ context.Context, topic string, event PublishEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.captured = append(p.captured, CapturedEvent{Topic: topic, Event: event})
	p.publishCount++

	return nil
}

func (p *MemoryPublisher) PublishBatch(_ context.Context, topic string, events []PublishEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, event := range events {
		p.captured = append(p.captured, CapturedEvent{Topic: topic, Event: event})
	}
	p.batchCount++
	p.publishCount += len(events)

	return nil
}

func (p *MemoryPublisher) Flush() error { return nil }

func (p *MemoryPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.closed = true

	return nil
}

func (p *MemoryPublisher) Stats() map[string]int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return map[string]int{
		"publish_count": p.publishCount,
		"batch_count":   p.batchCount,
		"total_events":  len(p.captured),
	}
}

// Events returns all captured events in publish order.
func (p *MemoryPublisher) Events() []CapturedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]CapturedEvent, len(p.captured))
	copy(out, p.captured)

	return out
}

// EventsForTable returns the captured events for one table.
func (p *MemoryPublisher) EventsForTable(table string) []PublishEvent {
	p.mu.Lock()
	defer p.mu.Unlock()

	var out []PublishEvent
	for _, captured := range p.captured {
		if captured.Event.Table == table {
			out = append(out, captured.Event)
		}
	}

	return out
}

// EventsByType returns the captured events of one type (insert or update).
func (p *MemoryPublisher) EventsByType(eventType string) []PublishEvent {
	p.mu.Lock()
	defer p.mu.Unlock()

	var out []PublishEvent
	for _, captured := range p.captured {
		if captured.Event.EventType == eventType {
			out = append(out, captured.Event)
		}
	}

	return out
}

// Closed reports whether Close was called.
func (p *MemoryPublisher) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.closed
}

// Clear resets all captured events and counters.
func (p *MemoryPublisher) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.captured = nil
	p.publishCount = 0
	p.batchCount = 0
}
