package core

import (
	"encoding/binary"

	"github.com/google/uuid"
)

// Partition decides entity ownership for one worker. Ownership is the UUID
// value modulo the worker count, so any worker can decide ownership of any
// entity without coordination, and child records follow their parent by
// reusing the parent-owned id.
type Partition struct {
	workerID int
	workers  int
}

// NewPartition creates the partition view for one worker.
func NewPartition(workerID int, workers int) *Partition {
	if workers < 1 {
		workers = 1
	}

	return &Partition{workerID: workerID, workers: workers}
}

// WorkerID returns the owning worker of this partition view.
func (p *Partition) WorkerID() int {
	return p.workerID
}

// Workers returns the total worker count.
func (p *Partition) Workers() int {
	return p.workers
}

// Owns reports whether this worker owns the entity.
func (p *Partition) Owns(id uuid.UUID) bool {
	return p.PartitionOf(id) == p.workerID
}

// PartitionOf returns the worker that owns the entity.
func (p *Partition) PartitionOf(id uuid.UUID) int {
	return int(uuidMod(id, uint64(p.workers)))
}

// GenerateOwnedUUID draws random v4 UUIDs from the RNG until one lands in
// this worker's partition. Expected attempts equal the worker count.
func (p *Partition) GenerateOwnedUUID(rng *RNG) uuid.UUID {
	for {
		var raw [16]byte
		binary.BigEndian.PutUint64(raw[0:8], rng.Uint64())
		binary.BigEndian.PutUint64(raw[8:16], rng.Uint64())

		raw[6] = (raw[6] & 0x0F) | 0x40
		raw[8] = (raw[8] & 0x3F) | 0x80

		id := uuid.UUID(raw)
		if p.Owns(id) {
			return id
		}
	}
}

// FilterOwned returns the subset of ids owned by this worker.
func (p *Partition) FilterOwned(ids []uuid.UUID) []uuid.UUID {
	owned := make([]uuid.UUID, 0, len(ids)/p.workers+1)
	for _, id := range ids {
		if p.Owns(id) {
			owned = append(owned, id)
		}
	}

	return owned
}

// PartitionCounts counts ids per owning worker.
func (p *Partition) PartitionCounts(ids []uuid.UUID) map[int]int {
	counts := make(map[int]int, p.workers)
	for worker := 0; worker < p.workers; worker++ {
		counts[worker] = 0
	}

	for _, id := range ids {
		counts[p.PartitionOf(id)]++
	}

	return counts
}

// uuidMod reduces the 128-bit UUID value modulo n byte by byte.
func uuidMod(id uuid.UUID, n uint64) uint64 {
	var remainder uint64
	for _, b := range id {
		remainder = (remainder<<8 | uint64(b)) % n
	}

	return remainder
}
