package core_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brickwellhealth/simulator/core"
)

func Test_SharedState_RemovePolicy_Drops_Its_Memberships(t *testing.T) {
	state := core.NewSharedState()

	policyID := uuid.New()
	otherPolicyID := uuid.New()

	state.AddPolicy(&core.PolicyInfo{PolicyID: policyID, Status: "Active"})
	state.AddPolicy(&core.PolicyInfo{PolicyID: otherPolicyID, Status: "Active"})
	state.AddMembership(&core.Membership{PolicyMemberID: uuid.New(), PolicyID: policyID, MemberID: uuid.New()})
	state.AddMembership(&core.Membership{PolicyMemberID: uuid.New(), PolicyID: policyID, MemberID: uuid.New()})
	state.AddMembership(&core.Membership{PolicyMemberID: uuid.New(), PolicyID: otherPolicyID, MemberID: uuid.New()})

	state.RemovePolicy(policyID)

	assert.Len(t, state.Policies, 1)
	require.Len(t, state.Memberships, 1)
	for _, membership := range state.Memberships {
		assert.Equal(t, otherPolicyID, membership.PolicyID)
	}
}

func Test_SharedState_Queues_Drain_Once(t *testing.T) {
	state := core.NewSharedState()

	state.AddCRMEvent(core.CRMEvent{EventType: core.EventClaimSubmitted})
	state.AddCRMEvent(core.CRMEvent{EventType: core.EventClaimRejected})
	state.AddSurveyEvent(core.CRMEvent{EventType: core.EventJourneyCompleted})
	state.AddCommunicationEvent(core.CommunicationEvent{EventType: "CLAIM_RECEIVED"})

	assert.Len(t, state.PeekCRMEvents(), 2, "peek leaves the queue intact")

	crmEvents := state.DrainCRMEvents()
	require.Len(t, crmEvents, 2)
	assert.Equal(t, core.EventClaimSubmitted, crmEvents[0].EventType)
	assert.Empty(t, state.DrainCRMEvents())

	assert.Len(t, state.DrainSurveyEvents(), 1)
	assert.Empty(t, state.DrainSurveyEvents())

	assert.Len(t, state.DrainCommunicationEvents(), 1)
	assert.Empty(t, state.DrainCommunicationEvents())
}

func Test_SharedState_Engagement_Level_Defaults_To_Medium(t *testing.T) {
	state := core.NewSharedState()
	memberID := uuid.New()

	assert.Equal(t, core.EngagementMedium, state.EngagementLevel(memberID))

	state.SetEngagementLevel(memberID, core.EngagementHigh)

	assert.Equal(t, core.EngagementHigh, state.EngagementLevel(memberID))
}

func Test_SharedState_RecentInteractions_Respects_The_Window(t *testing.T) {
	state := core.NewSharedState()
	memberID := uuid.New()
	asOf := time.Date(2024, time.June, 1, 12, 0, 0, 0, time.UTC)

	state.AddInteraction(memberID, core.InteractionRecord{
		InteractionID: uuid.New(),
		Timestamp:     asOf.AddDate(0, 0, -40),
		TypeCode:      "GENERAL_INQUIRY",
	})
	state.AddInteraction(memberID, core.InteractionRecord{
		InteractionID: uuid.New(),
		Timestamp:     asOf.AddDate(0, 0, -5),
		TypeCode:      "CLAIM_STATUS",
	})

	recent := state.RecentInteractions(memberID, 30, asOf)

	require.Len(t, recent, 1)
	assert.Equal(t, "CLAIM_STATUS", recent[0].TypeCode)
	assert.Empty(t, state.RecentInteractions(uuid.New(), 30, asOf))
}

func Test_SharedState_Pending_Surveys_Are_Keyed_By_Member_And_Type(t *testing.T) {
	state := core.NewSharedState()
	memberID := uuid.New()

	state.AddPendingSurvey(memberID, "NPS")

	assert.True(t, state.HasPendingSurvey(memberID, "NPS"))
	assert.False(t, state.HasPendingSurvey(memberID, "CSAT"))
	assert.False(t, state.HasPendingSurvey(uuid.New(), "NPS"))

	state.RemovePendingSurvey(memberID, "NPS")

	assert.False(t, state.HasPendingSurvey(memberID, "NPS"))
}

func Test_SharedState_Stats_Reports_Every_Repository_And_Queue(t *testing.T) {
	state := core.NewSharedState()

	policyID := uuid.New()
	state.AddPolicy(&core.PolicyInfo{PolicyID: policyID})
	state.AddMembership(&core.Membership{PolicyMemberID: uuid.New(), PolicyID: policyID})
	state.PendingClaims[uuid.New()] = &core.PendingClaim{Status: "Submitted"}
	state.AddCRMEvent(core.CRMEvent{EventType: core.EventClaimSubmitted})
	state.AddPendingSurvey(uuid.New(), "NPS")

	stats := state.Stats()

	assert.Equal(t, 1, stats["active_policies"])
	assert.Equal(t, 1, stats["memberships"])
	assert.Equal(t, 1, stats["pending_claims"])
	assert.Equal(t, 1, stats["crm_events"])
	assert.Equal(t, 0, stats["survey_events"])
	assert.Equal(t, 0, stats["communication_events"])
	assert.Equal(t, 1, stats["pending_surveys"])
}

func Test_SharedState_Snapshot_Restore_Round_Trips_Everything(t *testing.T) {
	state := core.NewSharedState()

	policyID := uuid.New()
	memberID := uuid.New()
	state.AddPolicy(&core.PolicyInfo{
		PolicyID:       policyID,
		MemberID:       memberID,
		StartDate:      time.Date(2024, time.January, 15, 0, 0, 0, 0, time.UTC),
		Status:         "Active",
		PremiumMonthly: 310.0,
	})
	state.AddMembership(&core.Membership{PolicyMemberID: uuid.New(), PolicyID: policyID, MemberID: memberID})
	state.PendingClaims[uuid.New()] = &core.PendingClaim{
		PolicyID:     policyID,
		MemberID:     memberID,
		Status:       "Submitted",
		ChargeAmount: 420.50,
		SubmittedDay: 3,
	}
	state.AddCRMEvent(core.CRMEvent{EventType: core.EventClaimSubmitted, PolicyID: policyID, MemberID: memberID})
	state.AddSurveyEvent(core.CRMEvent{EventType: core.EventJourneyCompleted, MemberID: memberID})
	state.AddCommunicationEvent(core.CommunicationEvent{EventType: "CLAIM_RECEIVED", MemberID: memberID})
	state.SetEngagementLevel(memberID, core.EngagementLow)
	state.AddInteraction(memberID, core.InteractionRecord{
		InteractionID: uuid.New(),
		Timestamp:     time.Date(2024, time.January, 18, 12, 0, 0, 0, time.UTC),
		TypeCode:      "CLAIM_STATUS",
	})
	state.AddPendingSurvey(memberID, "NPS")
	state.AddPendingSurvey(memberID, "CSAT")

	encoded, err := jsoniter.ConfigFastest.Marshal(state.Snapshot())
	require.NoError(t, err)

	restored := core.NewSharedState()
	var snapshot = restored.Snapshot()
	require.NoError(t, jsoniter.ConfigFastest.Unmarshal(encoded, &snapshot))
	restored.Restore(snapshot)

	assert.Equal(t, state.Stats(), restored.Stats())
	assert.Equal(t, state.Policies[policyID], restored.Policies[policyID])
	assert.Equal(t, core.EngagementLow, restored.EngagementLevel(memberID))
	assert.True(t, restored.HasPendingSurvey(memberID, "NPS"))
	assert.True(t, restored.HasPendingSurvey(memberID, "CSAT"))
	assert.Len(t, restored.RecentInteractions(memberID, 30, time.Date(2024, time.January, 20, 0, 0, 0, 0, time.UTC)), 1)

	reencoded, err := jsoniter.ConfigFastest.Marshal(restored.Snapshot())
	require.NoError(t, err)
	assert.JSONEq(t, string(encoded), string(reencoded))
}

func Test_SharedState_Restore_From_Empty_Snapshot_Leaves_Usable_Maps(t *testing.T) {
	state := core.NewSharedState()
	state.AddPolicy(&core.PolicyInfo{PolicyID: uuid.New()})

	state.Restore(core.NewSharedState().Snapshot())

	assert.Empty(t, state.Policies)

	state.AddPolicy(&core.PolicyInfo{PolicyID: uuid.New()})
	state.AddPendingSurvey(uuid.New(), "NPS")

	assert.Equal(t, 1, state.Stats()["active_policies"])
	assert.Equal(t, 1, state.Stats()["pending_surveys"])
}
