package processes

import (
	"context"
	"math"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"

	"github.com/brickwellhealth/simulator/core"
	"github.com/brickwellhealth/simulator/db"
	"github.com/brickwellhealth/simulator/observability"
)

const (
	logMsgCRMEventsDrained  = "crm events drained"
	logMsgJourneyCompleted  = "member journey completed"
	logAttrJourneyID        = "journey_id"
	logAttrTriggerType      = "trigger_type"
	logAttrEscalationType   = "escalation_type"
	logAttrInteractionCount = "interaction_count"

	maxCaseResolutionHours    = 720.0
	maxComplaintResolutionDay = 180
	phioEscalationLagDays     = 14
)

var (
	baselineInquiryTypes = []string{
		"GENERAL_INQUIRY", "COVER_INQUIRY", "BENEFIT_INQUIRY",
		"POLICY_INFO", "MEMBERSHIP_CARD",
	}

	complaintOutcomes       = []string{"NotUpheld", "PartiallyUpheld", "Upheld", "Withdrawn"}
	complaintOutcomeWeights = []float64{0.45, 0.30, 0.20, 0.05}

	communicationTemplates = map[string]string{
		core.EventClaimSubmitted:  "CLAIM_RECEIVED",
		core.EventClaimRejected:   "CLAIM_REJECTED",
		core.EventClaimDelayed:    "CLAIM_DELAYED",
		core.EventClaimPaid:       "CLAIM_PAID",
		core.EventPaymentFailed:   "PAYMENT_FAILED",
		core.EventArrearsCreated:  "ARREARS_NOTICE",
		core.EventPolicySuspended: "SUSPENSION_NOTICE",
	}
)

// CRMConfig tunes journey tracking and the interaction, case, and complaint
// lifecycles. Zero values select the defaults.
type CRMConfig struct {
	// MergeWindowDays is how long after a journey starts that further
	// trigger events for the same member fold into it instead of opening a
	// new journey.
	MergeWindowDays int

	// JourneyTimeoutDays is the quiet period after the last open case or
	// complaint closes (or after start, when nothing opened) before the
	// journey completes.
	JourneyTimeoutDays int

	// BaselineInteractionsPerMemberYear is the mean annual rate of routine
	// inquiries unrelated to trigger events.
	BaselineInteractionsPerMemberYear float64

	// FirstContactResolutionRate is the share of interactions resolved on
	// first contact.
	FirstContactResolutionRate float64

	// CaseSLABreachRate is the share of cases that breach their SLA.
	CaseSLABreachRate float64

	// PHIOEscalationRate is the share of complaints escalated to the
	// ombudsman.
	PHIOEscalationRate float64

	// WebSessionDailyRate maps engagement level to the per-member daily
	// probability of a portal session.
	WebSessionDailyRate map[string]float64
}

func (c *CRMConfig) applyDefaults() {
	if c.MergeWindowDays <= 0 {
		c.MergeWindowDays = 30
	}
	if c.JourneyTimeoutDays <= 0 {
		c.JourneyTimeoutDays = 2
	}
	if c.BaselineInteractionsPerMemberYear <= 0 {
		c.BaselineInteractionsPerMemberYear = 2.5
	}
	if c.FirstContactResolutionRate <= 0 {
		c.FirstContactResolutionRate = 0.70
	}
	if c.CaseSLABreachRate <= 0 {
		c.CaseSLABreachRate = 0.08
	}
	if c.PHIOEscalationRate <= 0 {
		c.PHIOEscalationRate = 0.08
	}
	if c.WebSessionDailyRate == nil {
		c.WebSessionDailyRate = map[string]float64{
			core.EngagementHigh:   0.30,
			core.EngagementMedium: 0.10,
			core.EngagementLow:    0.02,
		}
	}
}

// journey tracks one member's episode from a trigger event to quiescence.
// A zero TimeoutDay means the journey is waiting on open cases or
// complaints.
type journey struct {
	JourneyID              uuid.UUID              `json:"journey_id"`
	MemberID               uuid.UUID              `json:"member_id"`
	PolicyID               uuid.UUID              `json:"policy_id"`
	TriggerType            string                 `json:"trigger_type"`
	StartDay               int                    `json:"start_day"`
	TimeoutDay             int                    `json:"timeout_day"`
	InteractionCount       int                    `json:"interaction_count"`
	OpenCases              int                    `json:"open_cases"`
	OpenComplaints         int                    `json:"open_complaints"`
	HadCase                bool                   `json:"had_case"`
	HadComplaint           bool                   `json:"had_complaint"`
	AdditionalClaims       int                    `json:"additional_claims"`
	FirstContactResolution bool                   `json:"first_contact_resolution"`
	ResolutionOutcome      string                 `json:"resolution_outcome,omitempty"`
	CaseSLABreached        bool                   `json:"case_sla_breached"`
	PHIOEscalated          bool                   `json:"phio_escalated"`
	Escalated              bool                   `json:"escalated"`
	EscalationType         string                 `json:"escalation_type,omitempty"`
	Factors                core.EscalationFactors `json:"factors"`
}

type pendingCase struct {
	CaseID      uuid.UUID `json:"case_id"`
	MemberID    uuid.UUID `json:"member_id"`
	PolicyID    uuid.UUID `json:"policy_id"`
	JourneyKey  uuid.UUID `json:"journey_key"`
	OpenedDay   int       `json:"opened_day"`
	ResolveDay  int       `json:"resolve_day"`
	SLABreached bool      `json:"sla_breached"`
	SourceEvent string    `json:"source_event"`
}

type pendingComplaint struct {
	ComplaintID   uuid.UUID `json:"complaint_id"`
	MemberID      uuid.UUID `json:"member_id"`
	PolicyID      uuid.UUID `json:"policy_id"`
	JourneyKey    uuid.UUID `json:"journey_key"`
	ReceivedDay   int       `json:"received_day"`
	Acknowledged  bool      `json:"acknowledged"`
	ResolveDay    int       `json:"resolve_day"`
	Outcome       string    `json:"outcome"`
	PHIOEscalated bool      `json:"phio_escalated"`
	SourceEvent   string    `json:"source_event"`
}

// CRMProcess consumes trigger events from the CRM queue, tracks member
// journeys with escalation prediction, and runs the interaction, case, and
// complaint lifecycles. Completion events flow to the survey queue; journeys
// are keyed by member, so concurrent trigger events for one member merge
// into a single episode within the merge window.
type CRMProcess struct {
	cfg       CRMConfig
	state     *core.SharedState
	writer    db.Writer
	clock     *core.Clock
	rng       *core.RNG
	partition *core.Partition
	engine    *core.TriggerEngine
	gens      map[string]core.Generator
	logger    observability.Logger

	journeys          map[uuid.UUID]*journey
	pendingCases      map[uuid.UUID]*pendingCase
	pendingComplaints map[uuid.UUID]*pendingComplaint
	rejectionCounts   map[uuid.UUID]int
	counters          map[string]int
}

var _ core.Process = (*CRMProcess)(nil)

// NewCRMProcess creates the CRM process over a shared trigger engine.
func NewCRMProcess(
	cfg CRMConfig,
	state *core.SharedState,
	writer db.Writer,
	clock *core.Clock,
	rng *core.RNG,
	partition *core.Partition,
	engine *core.TriggerEngine,
	logger observability.Logger,
) *CRMProcess {
	cfg.applyDefaults()

	return &CRMProcess{
		cfg:               cfg,
		state:             state,
		writer:            writer,
		clock:             clock,
		rng:               rng,
		partition:         partition,
		engine:            engine,
		gens:              DefaultGenerators(),
		logger:            logger,
		journeys:          make(map[uuid.UUID]*journey),
		pendingCases:      make(map[uuid.UUID]*pendingCase),
		pendingComplaints: make(map[uuid.UUID]*pendingComplaint),
		rejectionCounts:   make(map[uuid.UUID]int),
		counters:          make(map[string]int),
	}
}

func (p *CRMProcess) Name() string {
	return "crm"
}

func (p *CRMProcess) AdvanceOneDay(ctx context.Context) error {
	if err := p.consumeTriggerEvents(ctx); err != nil {
		return err
	}

	if err := p.generateBaselineInteractions(ctx); err != nil {
		return err
	}

	if err := p.generateWebSessions(ctx); err != nil {
		return err
	}

	if err := p.resolveCases(ctx); err != nil {
		return err
	}

	if err := p.resolveComplaints(ctx); err != nil {
		return err
	}

	p.completeJourneys()

	return nil
}

func (p *CRMProcess) consumeTriggerEvents(ctx context.Context) error {
	events := p.state.DrainCRMEvents()
	if len(events) == 0 {
		return nil
	}

	for _, event := range events {
		if err := p.handleTriggerEvent(ctx, event); err != nil {
			return err
		}
	}

	p.logDebug(logMsgCRMEventsDrained,
		logAttrDay, p.clock.Day(),
		logAttrCount, len(events))

	return nil
}

func (p *CRMProcess) handleTriggerEvent(ctx context.Context, event core.CRMEvent) error {
	if event.EventType == core.EventClaimRejected {
		p.rejectionCounts[event.MemberID]++
	}

	triggerCtx := p.triggerContextFor(event)

	current, merged := p.mergeOrStartJourney(event)

	var actions []string
	if merged {
		actions = p.engine.TriggeredEvents(event.EventType, triggerCtx)
	} else {
		prediction := p.engine.PredictEscalation(event.EventType, triggerCtx)
		current.Escalated = prediction.WillEscalate
		current.EscalationType = prediction.EscalationType
		current.Factors = prediction.Factors
		actions = prediction.TriggeredActions
	}

	for _, action := range actions {
		switch action {
		case core.ActionInteraction:
			if err := p.createInteraction(ctx, event, current, triggerCtx); err != nil {
				return err
			}
		case core.ActionCase:
			if err := p.openCase(ctx, event.EventType, event.MemberID, event.PolicyID, current); err != nil {
				return err
			}
		case core.ActionComplaint:
			if err := p.openComplaint(ctx, event.EventType, event.MemberID, event.PolicyID, current); err != nil {
				return err
			}
		case core.ActionCommunication:
			if err := p.sendCommunication(ctx, event); err != nil {
				return err
			}
		}
	}

	// The survey process makes its own draws for survey-style targets, so
	// claim outcome events are forwarded as-is.
	if event.EventType == core.EventClaimRejected || event.EventType == core.EventClaimPaid {
		p.state.AddSurveyEvent(event)
	}

	if current.OpenCases == 0 && current.OpenComplaints == 0 && current.TimeoutDay == 0 {
		current.TimeoutDay = p.clock.Day() + p.cfg.JourneyTimeoutDays
	}

	return nil
}

func (p *CRMProcess) triggerContextFor(event core.CRMEvent) core.TriggerContext {
	tenureDays := 0
	if policy, known := p.state.Policies[event.PolicyID]; known {
		tenureDays = int(p.clock.CurrentDate().Sub(policy.StartDate).Hours() / 24)
	}

	return core.TriggerContext{
		ChargeAmount:         event.ChargeAmount,
		AttemptNumber:        event.AttemptNumber,
		DenialReason:         event.DenialReason,
		MemberTenureDays:     tenureDays,
		PriorClaimRejections: p.rejectionCounts[event.MemberID],
		DigitalEngagement:    p.state.EngagementLevel(event.MemberID),
	}
}

// mergeOrStartJourney folds the event into the member's running journey when
// one started within the merge window, otherwise opens a fresh one.
func (p *CRMProcess) mergeOrStartJourney(event core.CRMEvent) (*journey, bool) {
	day := p.clock.Day()

	if existing, running := p.journeys[event.MemberID]; running && day-existing.StartDay < p.cfg.MergeWindowDays {
		if event.ClaimID != uuid.Nil {
			existing.AdditionalClaims++
		}
		existing.TimeoutDay = 0

		return existing, true
	}

	fresh := &journey{
		JourneyID:   p.partition.GenerateOwnedUUID(p.rng),
		MemberID:    event.MemberID,
		PolicyID:    event.PolicyID,
		TriggerType: event.EventType,
		StartDay:    day,
	}
	p.journeys[event.MemberID] = fresh
	p.counters["journeys_started"]++

	return fresh, false
}

func (p *CRMProcess) createInteraction(ctx context.Context, event core.CRMEvent, current *journey, triggerCtx core.TriggerContext) error {
	interactionID := p.partition.GenerateOwnedUUID(p.rng)
	fcr := p.rng.Float64() < p.cfg.FirstContactResolutionRate
	interactionType := p.engine.InteractionTypeFor(event.EventType)

	if err := p.writeInteraction(ctx, interactionID, event.MemberID, event.PolicyID, interactionType, fcr); err != nil {
		return err
	}

	current.InteractionCount++
	if current.InteractionCount == 1 {
		current.FirstContactResolution = fcr
	}

	completionCtx := triggerCtx
	completionCtx.FirstContactResolution = fcr

	if !fcr && p.engine.ShouldTrigger(core.EventInteractionCompleted, core.ActionCase, completionCtx) {
		if err := p.openCase(ctx, core.EventInteractionCompleted, event.MemberID, event.PolicyID, current); err != nil {
			return err
		}
	}

	p.state.AddSurveyEvent(core.CRMEvent{
		EventType:              core.EventInteractionCompleted,
		Timestamp:              p.clock.CurrentDateTime(),
		PolicyID:               event.PolicyID,
		MemberID:               event.MemberID,
		InteractionID:          interactionID,
		FirstContactResolution: fcr,
	})

	return nil
}

func (p *CRMProcess) writeInteraction(ctx context.Context, interactionID uuid.UUID, memberID uuid.UUID, policyID uuid.UUID, interactionType string, fcr bool) error {
	record, err := p.buildRecord("interaction", core.GeneratorContext{
		RNG:       p.rng,
		Clock:     p.clock,
		WorkerID:  p.partition.WorkerID(),
		PolicyID:  policyID,
		MemberID:  memberID,
		RelatedID: interactionID,
		Attrs: map[string]any{
			"interaction_type": interactionType,
			"fcr":              fcr,
		},
	})
	if err != nil {
		return err
	}
	if err = p.writer.Add(ctx, "interaction", record); err != nil {
		return err
	}

	p.state.AddInteraction(memberID, core.InteractionRecord{
		InteractionID:          interactionID,
		Timestamp:              p.clock.CurrentDateTime(),
		FirstContactResolution: fcr,
		TypeCode:               interactionType,
	})

	p.counters["interactions_created"]++

	return nil
}

func (p *CRMProcess) openCase(ctx context.Context, sourceEvent string, memberID uuid.UUID, policyID uuid.UUID, current *journey) error {
	caseID := p.partition.GenerateOwnedUUID(p.rng)

	record, err := p.buildRecord("service_case", core.GeneratorContext{
		RNG:       p.rng,
		Clock:     p.clock,
		WorkerID:  p.partition.WorkerID(),
		PolicyID:  policyID,
		MemberID:  memberID,
		RelatedID: caseID,
		Attrs:     map[string]any{"case_type": p.engine.CaseTypeFor(sourceEvent)},
	})
	if err != nil {
		return err
	}
	if err = p.writer.Add(ctx, "service_case", record); err != nil {
		return err
	}

	resolutionHours := math.Min(p.rng.LogNormal(3.2, 0.7), maxCaseResolutionHours)
	resolveAfterDays := int(resolutionHours / 24)
	if resolveAfterDays < 1 {
		resolveAfterDays = 1
	}

	journeyKey := uuid.Nil
	if current != nil {
		journeyKey = current.MemberID
		current.HadCase = true
		current.OpenCases++
		current.TimeoutDay = 0
	}

	p.pendingCases[caseID] = &pendingCase{
		CaseID:      caseID,
		MemberID:    memberID,
		PolicyID:    policyID,
		JourneyKey:  journeyKey,
		OpenedDay:   p.clock.Day(),
		ResolveDay:  p.clock.Day() + resolveAfterDays,
		SLABreached: p.rng.Float64() < p.cfg.CaseSLABreachRate,
		SourceEvent: sourceEvent,
	}

	p.counters["cases_opened"]++

	return nil
}

func (p *CRMProcess) openComplaint(ctx context.Context, sourceEvent string, memberID uuid.UUID, policyID uuid.UUID, current *journey) error {
	complaintID := p.partition.GenerateOwnedUUID(p.rng)

	record, err := p.buildRecord("complaint", core.GeneratorContext{
		RNG:       p.rng,
		Clock:     p.clock,
		WorkerID:  p.partition.WorkerID(),
		PolicyID:  policyID,
		MemberID:  memberID,
		RelatedID: complaintID,
		Attrs:     map[string]any{"category": p.engine.ComplaintCategoryFor(sourceEvent)},
	})
	if err != nil {
		return err
	}
	if err = p.writer.Add(ctx, "complaint", record); err != nil {
		return err
	}

	resolveAfterDays := int(math.Round(p.rng.LogNormal(3.40, 0.69)))
	if resolveAfterDays < 1 {
		resolveAfterDays = 1
	}
	if resolveAfterDays > maxComplaintResolutionDay {
		resolveAfterDays = maxComplaintResolutionDay
	}

	journeyKey := uuid.Nil
	if current != nil {
		journeyKey = current.MemberID
		current.HadComplaint = true
		current.OpenComplaints++
		current.TimeoutDay = 0
	}

	p.pendingComplaints[complaintID] = &pendingComplaint{
		ComplaintID:   complaintID,
		MemberID:      memberID,
		PolicyID:      policyID,
		JourneyKey:    journeyKey,
		ReceivedDay:   p.clock.Day(),
		ResolveDay:    p.clock.Day() + resolveAfterDays,
		Outcome:       p.rng.WeightedChoice(complaintOutcomes, complaintOutcomeWeights),
		PHIOEscalated: p.rng.Float64() < p.cfg.PHIOEscalationRate,
		SourceEvent:   sourceEvent,
	}

	p.counters["complaints_opened"]++

	return nil
}

func (p *CRMProcess) sendCommunication(ctx context.Context, event core.CRMEvent) error {
	template, known := communicationTemplates[event.EventType]
	if !known {
		template = "GENERAL_NOTICE"
	}

	communicationID := p.partition.GenerateOwnedUUID(p.rng)

	record, err := p.buildRecord("communication", core.GeneratorContext{
		RNG:       p.rng,
		Clock:     p.clock,
		WorkerID:  p.partition.WorkerID(),
		PolicyID:  event.PolicyID,
		MemberID:  event.MemberID,
		RelatedID: communicationID,
		Attrs: map[string]any{
			"template_code": template,
			"trigger_event": event.EventType,
		},
	})
	if err != nil {
		return err
	}
	if err = p.writer.Add(ctx, "communication", record); err != nil {
		return err
	}

	p.state.AddCommunicationEvent(core.CommunicationEvent{
		EventType:        template,
		Timestamp:        p.clock.CurrentDateTime(),
		PolicyID:         event.PolicyID,
		MemberID:         event.MemberID,
		ClaimID:          event.ClaimID,
		InvoiceID:        event.InvoiceID,
		TriggerEventType: event.EventType,
	})

	p.counters["communications_sent"]++

	return nil
}

// generateBaselineInteractions models routine inquiries that arrive without
// any trigger event.
func (p *CRMProcess) generateBaselineInteractions(ctx context.Context) error {
	memberships := sortedUUIDs(p.state.Memberships)
	if len(memberships) == 0 {
		return nil
	}

	lambda := float64(len(memberships)) * p.cfg.BaselineInteractionsPerMemberYear / 365.0

	arrivals := p.rng.Poisson(lambda)
	for i := 0; i < arrivals; i++ {
		membership := p.state.Memberships[memberships[p.rng.IntN(len(memberships))]]
		interactionID := p.partition.GenerateOwnedUUID(p.rng)
		inquiryType := p.rng.Choice(baselineInquiryTypes)
		fcr := p.rng.Float64() < p.cfg.FirstContactResolutionRate

		if err := p.writeInteraction(ctx, interactionID, membership.MemberID, membership.PolicyID, inquiryType, fcr); err != nil {
			return err
		}

		completionCtx := core.TriggerContext{
			FirstContactResolution: fcr,
			DigitalEngagement:      p.state.EngagementLevel(membership.MemberID),
		}
		if !fcr && p.engine.ShouldTrigger(core.EventInteractionCompleted, core.ActionCase, completionCtx) {
			if err := p.openCase(ctx, core.EventInteractionCompleted, membership.MemberID, membership.PolicyID, nil); err != nil {
				return err
			}
		}

		p.state.AddSurveyEvent(core.CRMEvent{
			EventType:              core.EventInteractionCompleted,
			Timestamp:              p.clock.CurrentDateTime(),
			PolicyID:               membership.PolicyID,
			MemberID:               membership.MemberID,
			InteractionID:          interactionID,
			FirstContactResolution: fcr,
		})
	}

	return nil
}

func (p *CRMProcess) generateWebSessions(ctx context.Context) error {
	for _, membershipID := range sortedUUIDs(p.state.Memberships) {
		membership := p.state.Memberships[membershipID]
		rate := p.cfg.WebSessionDailyRate[p.state.EngagementLevel(membership.MemberID)]

		if p.rng.Float64() >= rate {
			continue
		}

		record, err := p.buildRecord("web_session", core.GeneratorContext{
			RNG:       p.rng,
			Clock:     p.clock,
			WorkerID:  p.partition.WorkerID(),
			MemberID:  membership.MemberID,
			RelatedID: p.partition.GenerateOwnedUUID(p.rng),
		})
		if err != nil {
			return err
		}
		if err = p.writer.Add(ctx, "web_session", record); err != nil {
			return err
		}

		p.counters["web_sessions"]++
	}

	return nil
}

func (p *CRMProcess) resolveCases(ctx context.Context) error {
	day := p.clock.Day()

	for _, caseID := range sortedUUIDs(p.pendingCases) {
		pending := p.pendingCases[caseID]
		if day < pending.ResolveDay {
			continue
		}

		if _, err := p.writer.FlushForCDC(ctx, "service_case", "case_id", pending.CaseID); err != nil {
			return err
		}

		if _, err := p.writer.UpdateRecord(ctx, "service_case", "case_id", pending.CaseID, db.Record{
			"case_status":  "Resolved",
			"resolved_at":  p.clock.CurrentDateTime(),
			"sla_breached": pending.SLABreached,
		}); err != nil {
			return err
		}

		p.state.AddSurveyEvent(core.CRMEvent{
			EventType:   core.EventCaseResolved,
			Timestamp:   p.clock.CurrentDateTime(),
			PolicyID:    pending.PolicyID,
			MemberID:    pending.MemberID,
			CaseID:      pending.CaseID,
			SLABreached: pending.SLABreached,
		})

		if current, running := p.journeys[pending.JourneyKey]; running {
			current.OpenCases--
			if pending.SLABreached {
				current.CaseSLABreached = true
			}
			if current.OpenCases == 0 && current.OpenComplaints == 0 {
				current.TimeoutDay = day + p.cfg.JourneyTimeoutDays
			}
		}

		delete(p.pendingCases, caseID)
		p.counters["cases_resolved"]++
	}

	return nil
}

func (p *CRMProcess) resolveComplaints(ctx context.Context) error {
	day := p.clock.Day()

	for _, complaintID := range sortedUUIDs(p.pendingComplaints) {
		pending := p.pendingComplaints[complaintID]

		if !pending.Acknowledged && day > pending.ReceivedDay {
			if _, err := p.writer.FlushForCDC(ctx, "complaint", "complaint_id", pending.ComplaintID); err != nil {
				return err
			}
			if _, err := p.writer.UpdateRecord(ctx, "complaint", "complaint_id", pending.ComplaintID, db.Record{
				"complaint_status": "Acknowledged",
				"acknowledged_at":  p.clock.CurrentDateTime(),
			}); err != nil {
				return err
			}
			pending.Acknowledged = true
		}

		if day < pending.ResolveDay {
			continue
		}

		changes := db.Record{
			"complaint_status":   "Closed",
			"resolution_outcome": pending.Outcome,
			"resolved_at":        p.clock.CurrentDateTime(),
			"phio_escalated":     pending.PHIOEscalated,
		}
		if pending.PHIOEscalated {
			changes["phio_escalation_date"] = p.clock.DateForDay(pending.ReceivedDay + phioEscalationLagDays)
		}

		if _, err := p.writer.FlushForCDC(ctx, "complaint", "complaint_id", pending.ComplaintID); err != nil {
			return err
		}
		if _, err := p.writer.UpdateRecord(ctx, "complaint", "complaint_id", pending.ComplaintID, changes); err != nil {
			return err
		}

		p.state.AddSurveyEvent(core.CRMEvent{
			EventType:         core.EventComplaintResolved,
			Timestamp:         p.clock.CurrentDateTime(),
			PolicyID:          pending.PolicyID,
			MemberID:          pending.MemberID,
			ComplaintID:       pending.ComplaintID,
			ResolutionOutcome: pending.Outcome,
			PHIOEscalated:     pending.PHIOEscalated,
		})

		if current, running := p.journeys[pending.JourneyKey]; running {
			current.OpenComplaints--
			current.ResolutionOutcome = pending.Outcome
			if pending.PHIOEscalated {
				current.PHIOEscalated = true
			}
			if current.OpenCases == 0 && current.OpenComplaints == 0 {
				current.TimeoutDay = day + p.cfg.JourneyTimeoutDays
			}
		}

		delete(p.pendingComplaints, complaintID)
		p.counters["complaints_resolved"]++
	}

	return nil
}

// completeJourneys closes journeys whose quiet period has elapsed. The
// escalation type is promoted when the episode actually went further than
// predicted.
func (p *CRMProcess) completeJourneys() {
	day := p.clock.Day()

	for _, memberID := range sortedUUIDs(p.journeys) {
		current := p.journeys[memberID]
		if current.OpenCases > 0 || current.OpenComplaints > 0 {
			continue
		}
		if current.TimeoutDay == 0 || day < current.TimeoutDay {
			continue
		}

		actual := p.actualEscalation(current)
		if escalationRank(actual) > escalationRank(current.EscalationType) {
			current.EscalationType = actual
			current.Escalated = actual != ""
		}

		summary := core.JourneySummary{
			TriggerType:            current.TriggerType,
			SurveyType:             "nps",
			Escalated:              current.Escalated,
			EscalationType:         current.EscalationType,
			InteractionCount:       current.InteractionCount,
			HadCase:                current.HadCase,
			HadComplaint:           current.HadComplaint,
			DaysToResolution:       day - current.StartDay,
			FirstContactResolution: current.FirstContactResolution,
			ResolutionOutcome:      current.ResolutionOutcome,
			CaseSLABreached:        current.CaseSLABreached,
			PHIOEscalated:          current.PHIOEscalated,
			AdditionalClaims:       current.AdditionalClaims,
			PredictionFactors:      current.Factors,
		}

		p.state.AddSurveyEvent(core.CRMEvent{
			EventType: core.EventJourneyCompleted,
			Timestamp: p.clock.CurrentDateTime(),
			PolicyID:  current.PolicyID,
			MemberID:  current.MemberID,
			Journey:   &summary,
		})

		p.logDebug(logMsgJourneyCompleted,
			logAttrJourneyID, current.JourneyID.String(),
			logAttrTriggerType, current.TriggerType,
			logAttrEscalationType, current.EscalationType,
			logAttrInteractionCount, current.InteractionCount)

		delete(p.journeys, memberID)
		p.counters["journeys_completed"]++
	}
}

func (p *CRMProcess) actualEscalation(current *journey) string {
	switch {
	case current.HadComplaint:
		return core.ActionComplaint
	case current.HadCase:
		return core.ActionCase
	case current.InteractionCount > 0:
		return core.ActionInteraction
	default:
		return ""
	}
}

func escalationRank(escalationType string) int {
	switch escalationType {
	case core.ActionComplaint:
		return 3
	case core.ActionCase:
		return 2
	case core.ActionInteraction:
		return 1
	default:
		return 0
	}
}

func (p *CRMProcess) buildRecord(table string, genCtx core.GeneratorContext) (db.Record, error) {
	generator, known := p.gens[table]
	if !known {
		return nil, ErrUnknownGenerator
	}

	return generator.Generate(genCtx), nil
}

type crmSnapshot struct {
	Journeys          map[uuid.UUID]*journey          `json:"journeys"`
	PendingCases      map[uuid.UUID]*pendingCase      `json:"pending_cases"`
	PendingComplaints map[uuid.UUID]*pendingComplaint `json:"pending_complaints"`
	RejectionCounts   map[uuid.UUID]int               `json:"rejection_counts"`
	Counters          map[string]int                  `json:"counters"`
}

func (p *CRMProcess) SnapshotState() ([]byte, error) {
	return jsoniter.ConfigFastest.Marshal(crmSnapshot{
		Journeys:          p.journeys,
		PendingCases:      p.pendingCases,
		PendingComplaints: p.pendingComplaints,
		RejectionCounts:   p.rejectionCounts,
		Counters:          p.counters,
	})
}

func (p *CRMProcess) RestoreState(data []byte) error {
	var snapshot crmSnapshot
	if err := jsoniter.ConfigFastest.Unmarshal(data, &snapshot); err != nil {
		return err
	}

	p.journeys = orEmptyProcessMap(snapshot.Journeys)
	p.pendingCases = orEmptyProcessMap(snapshot.PendingCases)
	p.pendingComplaints = orEmptyProcessMap(snapshot.PendingComplaints)
	p.rejectionCounts = orEmptyProcessMap(snapshot.RejectionCounts)
	p.counters = snapshot.Counters
	if p.counters == nil {
		p.counters = make(map[string]int)
	}

	return nil
}

// Counters exposes the process statistics for the worker's stats file.
func (p *CRMProcess) Counters() map[string]int {
	return p.counters
}

func (p *CRMProcess) logDebug(msg string, args ...any) {
	if p.logger != nil {
		p.logger.Debug(msg, args...)
	}
}

func orEmptyProcessMap[V any](m map[uuid.UUID]V) map[uuid.UUID]V {
	if m == nil {
		return make(map[uuid.UUID]V)
	}

	return m
}
