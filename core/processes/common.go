// Package processes contains the logical simulation processes the worker
// steps once per simulated day: policy lifecycle (acquisition, billing,
// lapse), claims adjudication, CRM journeys, and survey dispatch. Processes
// communicate only through the shared state's typed repositories and event
// queues; record payloads come from the domain generators.
package processes

import (
	"bytes"
	"sort"

	"github.com/google/uuid"
)

// All simulator-written rows carry this audit marker so downstream consumers
// can tell synthetic mutations from operator ones.
const modifiedBy = "SIMULATION"

const (
	logAttrWorkerID = "worker_id"
	logAttrDay      = "day"
	logAttrDate     = "date"
	logAttrCount    = "count"
	logAttrPolicyID = "policy_id"
	logAttrMemberID = "member_id"
	logAttrClaimID  = "claim_id"
	logAttrError    = "error"
)

// sortedUUIDs returns map keys in a stable byte order. Processes iterate
// their repositories through this so a run is reproducible for a seed.
func sortedUUIDs[V any](m map[uuid.UUID]V) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}

	sort.Slice(ids, func(i, j int) bool {
		return bytes.Compare(ids[i][:], ids[j][:]) < 0
	})

	return ids
}
