package core

import (
	"time"

	"github.com/google/uuid"
)

// PolicyInfo is the worker-local view of an active policy.
type PolicyInfo struct {
	PolicyID       uuid.UUID `json:"policy_id"`
	MemberID       uuid.UUID `json:"member_id"`
	StartDate      time.Time `json:"start_date"`
	Status         string    `json:"status"`
	PremiumMonthly float64   `json:"premium_monthly"`
}

// Membership links a member to a policy.
type Membership struct {
	PolicyMemberID uuid.UUID `json:"policy_member_id"`
	PolicyID       uuid.UUID `json:"policy_id"`
	MemberID       uuid.UUID `json:"member_id"`
}

// PendingClaim tracks a claim moving through its lifecycle pipeline. Day
// fields are simulated-day offsets on the worker's clock.
type PendingClaim struct {
	ClaimID       uuid.UUID `json:"claim_id"`
	PolicyID      uuid.UUID `json:"policy_id"`
	MemberID      uuid.UUID `json:"member_id"`
	Status        string    `json:"status"`
	ChargeAmount  float64   `json:"charge_amount"`
	SubmittedDay  int       `json:"submitted_day"`
	AssessmentDay int       `json:"assessment_day"`
	DecisionDay   int       `json:"decision_day"`
	PaymentDay    int       `json:"payment_day"`
	Approved      bool      `json:"approved"`
	DenialReason  string    `json:"denial_reason,omitempty"`
}

// CRMEvent flows through the worker-local CRM queue: claims and billing
// produce trigger events, the CRM process produces completion and journey
// events, the survey process consumes them. Identifier fields are zero when
// absent.
type CRMEvent struct {
	EventType     string    `json:"event_type"`
	Timestamp     time.Time `json:"timestamp"`
	PolicyID      uuid.UUID `json:"policy_id"`
	MemberID      uuid.UUID `json:"member_id"`
	ClaimID       uuid.UUID `json:"claim_id,omitempty"`
	InvoiceID     uuid.UUID `json:"invoice_id,omitempty"`
	InteractionID uuid.UUID `json:"interaction_id,omitempty"`
	CaseID        uuid.UUID `json:"case_id,omitempty"`
	ComplaintID   uuid.UUID `json:"complaint_id,omitempty"`

	ChargeAmount           float64 `json:"charge_amount,omitempty"`
	AttemptNumber          int     `json:"attempt_number,omitempty"`
	DenialReason           string  `json:"denial_reason,omitempty"`
	FirstContactResolution bool    `json:"fcr"`
	SLABreached            bool    `json:"sla_breached,omitempty"`
	ResolutionOutcome      string  `json:"resolution_outcome,omitempty"`
	PHIOEscalated          bool    `json:"phio_escalated,omitempty"`

	Journey *JourneySummary `json:"journey,omitempty"`
}

// JourneySummary is the full context emitted once when a journey closes,
// consumed by the survey process.
type JourneySummary struct {
	TriggerType            string            `json:"trigger_type"`
	SurveyType             string            `json:"survey_type"`
	Escalated              bool              `json:"escalated"`
	EscalationType         string            `json:"escalation_type,omitempty"`
	InteractionCount       int               `json:"interaction_count"`
	HadCase                bool              `json:"had_case"`
	HadComplaint           bool              `json:"had_complaint"`
	DaysToResolution       int               `json:"days_to_resolution"`
	FirstContactResolution bool              `json:"first_contact_resolution"`
	ResolutionOutcome      string            `json:"resolution_outcome,omitempty"`
	CaseSLABreached        bool              `json:"case_sla_breached,omitempty"`
	PHIOEscalated          bool              `json:"phio_escalated,omitempty"`
	AdditionalClaims       int               `json:"additional_claims"`
	PredictionFactors      EscalationFactors `json:"prediction_factors"`
}

// CommunicationEvent flows from the CRM process to the communication
// consumer so transactional messages can reference their trigger.
type CommunicationEvent struct {
	EventType        string    `json:"event_type"`
	Timestamp        time.Time `json:"timestamp"`
	PolicyID         uuid.UUID `json:"policy_id"`
	MemberID         uuid.UUID `json:"member_id"`
	InteractionID    uuid.UUID `json:"interaction_id,omitempty"`
	ClaimID          uuid.UUID `json:"claim_id,omitempty"`
	InvoiceID        uuid.UUID `json:"invoice_id,omitempty"`
	TriggerEventType string    `json:"trigger_event_type,omitempty"`
}

// InteractionRecord is the lightweight per-member interaction index used for
// escalation context and survey suppression.
type InteractionRecord struct {
	InteractionID          uuid.UUID `json:"interaction_id"`
	Timestamp              time.Time `json:"timestamp"`
	FirstContactResolution bool      `json:"fcr"`
	TypeCode               string    `json:"type_code"`
}

type surveyKey struct {
	MemberID   uuid.UUID
	SurveyType string
}

// SharedState is the worker-local state all logical processes communicate
// through. One instance per worker, touched only by the scheduler goroutine,
// so no locking. Producers append to the event queues; consumers drain and
// clear them each day.
type SharedState struct {
	Policies      map[uuid.UUID]*PolicyInfo
	Memberships   map[uuid.UUID]*Membership
	PendingClaims map[uuid.UUID]*PendingClaim

	crmQueue           []CRMEvent
	surveyQueue        []CRMEvent
	communicationQueue []CommunicationEvent

	engagementLevels   map[uuid.UUID]string
	recentInteractions map[uuid.UUID][]InteractionRecord
	pendingSurveys     map[surveyKey]bool
}

// NewSharedState creates empty shared state for one worker.
func NewSharedState() *SharedState {
	return &SharedState{
		Policies:           make(map[uuid.UUID]*PolicyInfo),
		Memberships:        make(map[uuid.UUID]*Membership),
		PendingClaims:      make(map[uuid.UUID]*PendingClaim),
		engagementLevels:   make(map[uuid.UUID]string),
		recentInteractions: make(map[uuid.UUID][]InteractionRecord),
		pendingSurveys:     make(map[surveyKey]bool),
	}
}

// AddPolicy registers an active policy.
func (s *SharedState) AddPolicy(policy *PolicyInfo) {
	s.Policies[policy.PolicyID] = policy
}

// RemovePolicy drops a policy and its memberships.
func (s *SharedState) RemovePolicy(policyID uuid.UUID) {
	delete(s.Policies, policyID)

	for id, membership := range s.Memberships {
		if membership.PolicyID == policyID {
			delete(s.Memberships, id)
		}
	}
}

// AddMembership registers a policy membership.
func (s *SharedState) AddMembership(membership *Membership) {
	s.Memberships[membership.PolicyMemberID] = membership
}

// AddCRMEvent appends to the CRM queue.
func (s *SharedState) AddCRMEvent(event CRMEvent) {
	s.crmQueue = append(s.crmQueue, event)
}

// DrainCRMEvents returns all queued CRM events and clears the queue.
func (s *SharedState) DrainCRMEvents() []CRMEvent {
	events := s.crmQueue
	s.crmQueue = nil

	return events
}

// PeekCRMEvents returns queued CRM events without clearing.
func (s *SharedState) PeekCRMEvents() []CRMEvent {
	return s.crmQueue
}

// AddSurveyEvent appends to the survey queue, the completion-event channel
// from the CRM process to the survey process.
func (s *SharedState) AddSurveyEvent(event CRMEvent) {
	s.surveyQueue = append(s.surveyQueue, event)
}

// DrainSurveyEvents returns all queued survey events and clears the queue.
func (s *SharedState) DrainSurveyEvents() []CRMEvent {
	events := s.surveyQueue
	s.surveyQueue = nil

	return events
}

// AddCommunicationEvent appends to the communication queue.
func (s *SharedState) AddCommunicationEvent(event CommunicationEvent) {
	s.communicationQueue = append(s.communicationQueue, event)
}

// DrainCommunicationEvents returns all queued communication events and
// clears the queue.
func (s *SharedState) DrainCommunicationEvents() []CommunicationEvent {
	events := s.communicationQueue
	s.communicationQueue = nil

	return events
}

// SetEngagementLevel stores a member's digital engagement level.
func (s *SharedState) SetEngagementLevel(memberID uuid.UUID, level string) {
	s.engagementLevels[memberID] = level
}

// EngagementLevel returns a member's engagement level, defaulting to medium.
func (s *SharedState) EngagementLevel(memberID uuid.UUID) string {
	if level, known := s.engagementLevels[memberID]; known {
		return level
	}

	return EngagementMedium
}

// AddInteraction indexes an interaction for a member.
func (s *SharedState) AddInteraction(memberID uuid.UUID, record InteractionRecord) {
	s.recentInteractions[memberID] = append(s.recentInteractions[memberID], record)
}

// RecentInteractions returns the member's interactions within the window
// ending at asOf.
func (s *SharedState) RecentInteractions(memberID uuid.UUID, days int, asOf time.Time) []InteractionRecord {
	cutoff := asOf.AddDate(0, 0, -days)

	var recent []InteractionRecord
	for _, record := range s.recentInteractions[memberID] {
		if !record.Timestamp.Before(cutoff) {
			recent = append(recent, record)
		}
	}

	return recent
}

// HasPendingSurvey reports whether a survey of this type is already pending
// for the member.
func (s *SharedState) HasPendingSurvey(memberID uuid.UUID, surveyType string) bool {
	return s.pendingSurveys[surveyKey{MemberID: memberID, SurveyType: surveyType}]
}

// AddPendingSurvey marks a survey as pending for the member.
func (s *SharedState) AddPendingSurvey(memberID uuid.UUID, surveyType string) {
	s.pendingSurveys[surveyKey{MemberID: memberID, SurveyType: surveyType}] = true
}

// RemovePendingSurvey clears the pending mark.
func (s *SharedState) RemovePendingSurvey(memberID uuid.UUID, surveyType string) {
	delete(s.pendingSurveys, surveyKey{MemberID: memberID, SurveyType: surveyType})
}

// Stats reports the size of every repository and queue.
func (s *SharedState) Stats() map[string]int {
	return map[string]int{
		"active_policies":      len(s.Policies),
		"memberships":          len(s.Memberships),
		"pending_claims":       len(s.PendingClaims),
		"crm_events":           len(s.crmQueue),
		"survey_events":        len(s.surveyQueue),
		"communication_events": len(s.communicationQueue),
		"pending_surveys":      len(s.pendingSurveys),
	}
}

// stateSnapshot is the serializable form of SharedState.
type stateSnapshot struct {
	Policies           map[uuid.UUID]*PolicyInfo           `json:"policies"`
	Memberships        map[uuid.UUID]*Membership           `json:"memberships"`
	PendingClaims      map[uuid.UUID]*PendingClaim         `json:"pending_claims"`
	CRMQueue           []CRMEvent                          `json:"crm_queue"`
	SurveyQueue        []CRMEvent                          `json:"survey_queue"`
	CommunicationQueue []CommunicationEvent                `json:"communication_queue"`
	EngagementLevels   map[uuid.UUID]string                `json:"engagement_levels"`
	RecentInteractions map[uuid.UUID][]InteractionRecord   `json:"recent_interactions"`
	PendingSurveys     map[uuid.UUID]map[string]bool       `json:"pending_surveys"`
}

// Snapshot captures the full shared state for checkpointing.
func (s *SharedState) Snapshot() stateSnapshot {
	pendingSurveys := make(map[uuid.UUID]map[string]bool, len(s.pendingSurveys))
	for key := range s.pendingSurveys {
		if pendingSurveys[key.MemberID] == nil {
			pendingSurveys[key.MemberID] = make(map[string]bool)
		}
		pendingSurveys[key.MemberID][key.SurveyType] = true
	}

	return stateSnapshot{
		Policies:           s.Policies,
		Memberships:        s.Memberships,
		PendingClaims:      s.PendingClaims,
		CRMQueue:           s.crmQueue,
		SurveyQueue:        s.surveyQueue,
		CommunicationQueue: s.communicationQueue,
		EngagementLevels:   s.engagementLevels,
		RecentInteractions: s.recentInteractions,
		PendingSurveys:     pendingSurveys,
	}
}

// Restore replaces the shared state with a snapshot.
func (s *SharedState) Restore(snapshot stateSnapshot) {
	s.Policies = orEmptyMap(snapshot.Policies)
	s.Memberships = orEmptyMap(snapshot.Memberships)
	s.PendingClaims = orEmptyMap(snapshot.PendingClaims)
	s.crmQueue = snapshot.CRMQueue
	s.surveyQueue = snapshot.SurveyQueue
	s.communicationQueue = snapshot.CommunicationQueue
	s.engagementLevels = orEmptyMap(snapshot.EngagementLevels)
	s.recentInteractions = orEmptyMap(snapshot.RecentInteractions)

	s.pendingSurveys = make(map[surveyKey]bool)
	for memberID, types := range snapshot.PendingSurveys {
		for surveyType := range types {
			s.pendingSurveys[surveyKey{MemberID: memberID, SurveyType: surveyType}] = true
		}
	}
}

func orEmptyMap[K comparable, V any](m map[K]V) map[K]V {
	if m == nil {
		return make(map[K]V)
	}

	return m
}
