package core_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brickwellhealth/simulator/core"
)

func Test_Partition_Every_Entity_Has_Exactly_One_Owner(t *testing.T) {
	const workers = 4

	views := make([]*core.Partition, workers)
	for workerID := 0; workerID < workers; workerID++ {
		views[workerID] = core.NewPartition(workerID, workers)
	}

	for trial := 0; trial < 200; trial++ {
		id := uuid.New()

		owners := 0
		for _, view := range views {
			if view.Owns(id) {
				owners++
			}
		}

		assert.Equal(t, 1, owners, "entity %s", id)
	}
}

func Test_Partition_All_Views_Agree_On_The_Owner(t *testing.T) {
	first := core.NewPartition(0, 8)
	second := core.NewPartition(5, 8)

	for trial := 0; trial < 100; trial++ {
		id := uuid.New()
		assert.Equal(t, first.PartitionOf(id), second.PartitionOf(id))
	}
}

func Test_Partition_Single_Worker_Owns_Everything(t *testing.T) {
	partition := core.NewPartition(0, 1)

	for trial := 0; trial < 50; trial++ {
		assert.True(t, partition.Owns(uuid.New()))
	}
}

func Test_Partition_Worker_Count_Is_Clamped_To_One(t *testing.T) {
	partition := core.NewPartition(0, 0)

	assert.Equal(t, 1, partition.Workers())
	assert.True(t, partition.Owns(uuid.New()))
}

func Test_Partition_GenerateOwnedUUID_Lands_In_Own_Partition(t *testing.T) {
	rng := core.NewRNG(42)
	partition := core.NewPartition(2, 4)

	for trial := 0; trial < 100; trial++ {
		id := partition.GenerateOwnedUUID(rng)

		assert.True(t, partition.Owns(id))
		assert.Equal(t, uuid.Version(4), id.Version())
		assert.Equal(t, uuid.RFC4122, id.Variant())
	}
}

func Test_Partition_GenerateOwnedUUID_Is_Deterministic_Per_Seed(t *testing.T) {
	partition := core.NewPartition(1, 4)

	first := partition.GenerateOwnedUUID(core.NewRNG(7))
	second := partition.GenerateOwnedUUID(core.NewRNG(7))

	assert.Equal(t, first, second)
}

func Test_Partition_FilterOwned_Keeps_Only_Owned_IDs(t *testing.T) {
	partition := core.NewPartition(1, 3)

	ids := make([]uuid.UUID, 300)
	for i := range ids {
		ids[i] = uuid.New()
	}

	owned := partition.FilterOwned(ids)
	require.NotEmpty(t, owned)

	for _, id := range owned {
		assert.True(t, partition.Owns(id))
	}

	counts := partition.PartitionCounts(ids)
	assert.Equal(t, len(owned), counts[1])
}

func Test_Partition_PartitionCounts_Covers_Every_Worker_And_Every_ID(t *testing.T) {
	partition := core.NewPartition(0, 5)

	ids := make([]uuid.UUID, 250)
	for i := range ids {
		ids[i] = uuid.New()
	}

	counts := partition.PartitionCounts(ids)
	require.Len(t, counts, 5)

	total := 0
	for worker := 0; worker < 5; worker++ {
		count, present := counts[worker]
		assert.True(t, present, "worker %d missing from counts", worker)
		total += count
	}

	assert.Equal(t, len(ids), total)
}
