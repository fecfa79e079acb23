package core

import (
	"context"

	"github.com/google/uuid"

	"github.com/brickwellhealth/simulator/db"
)

// GeneratorContext carries everything a domain generator may draw on.
// Generators are pure with respect to the RNG: the same state produces the
// same record.
type GeneratorContext struct {
	RNG       *RNG
	Clock     *Clock
	Partition *Partition
	WorkerID  int
	PolicyID  uuid.UUID
	MemberID  uuid.UUID
	RelatedID uuid.UUID
	Attrs     map[string]any
}

// Generator produces one record payload for a destination table. The core
// treats all domain generators uniformly through this signature.
type Generator interface {
	Generate(ctx GeneratorContext) db.Record
}

// GeneratorFunc adapts a function to the Generator interface.
type GeneratorFunc func(ctx GeneratorContext) db.Record

func (f GeneratorFunc) Generate(ctx GeneratorContext) db.Record {
	return f(ctx)
}

// Process is a resumable, day-stepped unit of behavior. The worker calls
// AdvanceOneDay on every registered process once per simulated day, in
// registration order; a process performs its bounded work for the day and
// returns. Snapshot and Restore carry the process's private state across a
// checkpoint.
type Process interface {
	Name() string
	AdvanceOneDay(ctx context.Context) error
	SnapshotState() ([]byte, error)
	RestoreState(data []byte) error
}
