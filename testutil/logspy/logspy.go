// Package logspy provides a recording logger for asserting on operational
// log output in tests.
package logspy

import (
	"sync"

	"github.com/brickwellhealth/simulator/observability"
)

// Record is one captured log call.
type Record struct {
	Level   string
	Message string
	Args    []any
}

// Spy implements observability.Logger and captures every call.
type Spy struct {
	mu      sync.Mutex
	records []Record
}

var _ observability.Logger = (*Spy)(nil)

// NewSpy creates an empty recording logger.
func NewSpy() *Spy {
	return &Spy{}
}

func (s *Spy) Debug(msg string, args ...any) {
	s.record("debug", msg, args)
}

func (s *Spy) Info(msg string, args ...any) {
	s.record("info", msg, args)
}

func (s *Spy) Warn(msg string, args ...any) {
	s.record("warn", msg, args)
}

func (s *Spy) Error(msg string, args ...any) {
	s.record("error", msg, args)
}

func (s *Spy) record(level string, msg string, args []any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = append(s.records, Record{Level: level, Message: msg, Args: args})
}

// Records returns every captured call in arrival order.
func (s *Spy) Records() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Record, len(s.records))
	copy(out, s.records)

	return out
}

// Messages returns the captured messages in arrival order.
func (s *Spy) Messages() []string {
	records := s.Records()
	messages := make([]string, 0, len(records))
	for _, record := range records {
		messages = append(messages, record.Message)
	}

	return messages
}

// CountMessage returns how often a message was logged.
func (s *Spy) CountMessage(msg string) int {
	count := 0
	for _, record := range s.Records() {
		if record.Message == msg {
			count++
		}
	}

	return count
}
