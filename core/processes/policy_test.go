package processes_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brickwellhealth/simulator/core"
	"github.com/brickwellhealth/simulator/core/processes"
)

func Test_PolicyProcess_Acquisition_Creates_Consistent_Rows_And_State(t *testing.T) {
	h := newHarness(t, 11)
	h.partition = core.NewPartition(1, 4)

	process := processes.NewPolicyProcess(
		processes.PolicyConfig{}, h.state, h.writer, h.clock, h.rng, h.partition, nil)

	h.runDays(process, 5)

	counters := process.Counters()
	require.Positive(t, counters["policies_created"])

	assert.Len(t, h.state.Policies, counters["policies_created"])
	assert.Equal(t, counters["policies_created"], h.writer.Count("policy"))
	assert.Equal(t, counters["members_created"], h.writer.Count("member"))
	assert.Equal(t, counters["members_created"], h.writer.Count("policy_member"))
	assert.Len(t, h.state.Memberships, counters["members_created"])
	assert.Equal(t, 3*counters["policies_created"], h.writer.Count("coverage"))

	for policyID, policy := range h.state.Policies {
		assert.True(t, h.partition.Owns(policyID))
		assert.Equal(t, "Active", policy.Status)
		assert.Positive(t, policy.PremiumMonthly)
	}
}

func Test_PolicyProcess_Debit_Success_Pays_Invoice_On_Due_Day(t *testing.T) {
	h := newHarness(t, 5)
	h.seedPolicy()

	process := processes.NewPolicyProcess(
		processes.PolicyConfig{
			DailyAcquisitions:  1e-12,
			PaymentSuccessRate: 0.999999,
		},
		h.state, h.writer, h.clock, h.rng, h.partition, nil)

	// First invoice lands on the first monthly anniversary (day 31) and its
	// debit runs 15 days later. 50 days covers exactly one billing cycle.
	h.runDays(process, 50)

	counters := process.Counters()
	assert.Equal(t, 1, counters["invoices_generated"])
	assert.Equal(t, 1, counters["payments_successful"])
	assert.Zero(t, counters["payments_failed"])
	assert.Equal(t, 1, h.writer.Count("payment"))
	assert.Empty(t, h.state.DrainCRMEvents())

	require.NoError(t, h.writer.FlushAll(context.Background()))

	paid := false
	for _, call := range h.sink.CopyCalls() {
		if call.Table != "invoice" {
			continue
		}
		for i, column := range call.Columns {
			if column == "invoice_status" {
				paid = call.Rows[0][i] == "Paid"
			}
		}
	}
	assert.True(t, paid, "buffered invoice should carry the paid status")
}

func Test_PolicyProcess_Arrears_Ladder_Suspends_Then_Lapses(t *testing.T) {
	h := newHarness(t, 7)
	policy := h.seedPolicy()

	process := processes.NewPolicyProcess(
		processes.PolicyConfig{
			DailyAcquisitions:  1e-12,
			PaymentSuccessRate: 1e-12,
		},
		h.state, h.writer, h.clock, h.rng, h.partition, nil)

	// Two invoices are issued before suspension stops billing. Every debit
	// fails, so the first invoice walks the whole ladder: arrears at 14 days
	// overdue, suspension at 30, lapse at 60.
	h.runDays(process, 110)

	counters := process.Counters()
	assert.Equal(t, 2, counters["invoices_generated"])
	assert.Equal(t, 6, counters["payments_failed"])
	assert.Equal(t, 2, counters["arrears_created"])
	assert.Equal(t, 1, counters["policies_suspended"])
	assert.Equal(t, 1, counters["policies_lapsed"])

	byType := eventsByType(h.state.DrainCRMEvents())
	require.Len(t, byType[core.EventPaymentFailed], 6)
	assert.Len(t, byType[core.EventArrearsCreated], 2)
	assert.Len(t, byType[core.EventPolicySuspended], 1)

	attempts := make([]int, 0, 6)
	for _, event := range byType[core.EventPaymentFailed] {
		assert.Equal(t, policy.PolicyID, event.PolicyID)
		attempts = append(attempts, event.AttemptNumber)
	}
	assert.ElementsMatch(t, []int{1, 2, 3, 1, 2, 3}, attempts)

	assert.NotContains(t, h.state.Policies, policy.PolicyID)
	assert.Empty(t, h.state.Memberships)
	assert.Zero(t, h.writer.Count("payment"))
	assert.Equal(t, 2, h.writer.Count("arrears"))

	require.NoError(t, h.writer.FlushAll(context.Background()))

	statements := h.sink.ExecCalls()
	require.Len(t, statements, 4)
	assert.Contains(t, statements[0].Statement, "'Suspended'")
	assert.Contains(t, statements[1].Statement, "'Lapsed'")
	assert.Contains(t, statements[2].Statement, "UPDATE coverage")
	assert.Contains(t, statements[3].Statement, "UPDATE policy_member")
	for _, call := range statements {
		assert.True(t, strings.Contains(call.Statement, policy.PolicyID.String()))
	}
}

func Test_PolicyProcess_Snapshot_Restore_Round_Trips_Pending_Invoices(t *testing.T) {
	h := newHarness(t, 13)
	h.seedPolicy()

	process := processes.NewPolicyProcess(
		processes.PolicyConfig{DailyAcquisitions: 1e-12, PaymentSuccessRate: 1e-12},
		h.state, h.writer, h.clock, h.rng, h.partition, nil)

	h.runDays(process, 50)
	require.Positive(t, process.Counters()["payments_failed"])

	data, err := process.SnapshotState()
	require.NoError(t, err)

	restored := processes.NewPolicyProcess(
		processes.PolicyConfig{DailyAcquisitions: 1e-12, PaymentSuccessRate: 1e-12},
		h.state, h.writer, h.clock, h.rng, h.partition, nil)
	require.NoError(t, restored.RestoreState(data))

	assert.Equal(t, process.Counters(), restored.Counters())

	again, err := restored.SnapshotState()
	require.NoError(t, err)
	assert.JSONEq(t, string(data), string(again))
}
