package core

// Source event types feeding the trigger engine.
const (
	EventClaimSubmitted       = "claim_submitted"
	EventClaimRejected        = "claim_rejected"
	EventClaimDelayed         = "claim_delayed"
	EventClaimPaid            = "claim_paid"
	EventPaymentFailed        = "payment_failed"
	EventArrearsCreated       = "arrears_created"
	EventPolicySuspended      = "policy_suspended"
	EventInteractionCompleted = "interaction_completed"
	EventCaseResolved         = "case_resolved"
	EventComplaintResolved    = "complaint_resolved"
	EventJourneyCompleted     = "journey_completed"
)

// Target actions a source event can trigger.
const (
	ActionInteraction   = "interaction"
	ActionCase          = "case"
	ActionComplaint     = "complaint"
	ActionCommunication = "communication"
	ActionNPSSurvey     = "nps_survey"
	ActionCSATSurvey    = "csat_survey"
)

// Digital engagement levels used by the escalation factor model.
const (
	EngagementLow    = "low"
	EngagementMedium = "medium"
	EngagementHigh   = "high"
)

// TriggerContext carries the event attributes that conditional probabilities
// and the escalation factor model evaluate.
type TriggerContext struct {
	ChargeAmount           float64
	AttemptNumber          int
	FirstContactResolution bool
	DenialReason           string
	MemberTenureDays       int
	PriorClaimRejections   int
	DigitalEngagement      string
}

// Probability is either a fixed value or a function of the trigger context,
// resolved uniformly before sampling.
type Probability struct {
	fixed       float64
	conditional func(TriggerContext) float64
}

// Fixed creates a constant probability.
func Fixed(value float64) Probability {
	return Probability{fixed: value}
}

// Conditional creates a context-dependent probability.
func Conditional(fn func(TriggerContext) float64) Probability {
	return Probability{conditional: fn}
}

// Resolve returns the effective probability for a context.
func (p Probability) Resolve(ctx TriggerContext) float64 {
	if p.conditional != nil {
		return p.conditional(ctx)
	}

	return p.fixed
}

func (p Probability) isConditional() bool {
	return p.conditional != nil
}

// triggerTarget pairs one target action with its probability. Targets are
// held in slices, not maps, so the draw sequence per source event is fixed.
type triggerTarget struct {
	action string
	prob   Probability
}

// EscalationFactors expose why an escalation was predicted. They are carried
// through the journey into the completion event for downstream analysis; the
// sampling itself uses the trigger matrix, not these factors.
type EscalationFactors struct {
	AmountFactor     float64 `json:"amount_factor"`
	ReasonFactor     float64 `json:"reason_factor"`
	TenureFactor     float64 `json:"tenure_factor"`
	HistoryFactor    float64 `json:"history_factor"`
	EngagementFactor float64 `json:"engagement_factor"`
	BaseProbability  float64 `json:"base_probability"`
	FinalProbability float64 `json:"final_probability"`
}

// EscalationPrediction is the unified trigger decision for one source event.
// TriggeredActions is exactly what TriggeredEvents would have returned for
// the same draws; the escalation type is derived from it by hierarchy.
type EscalationPrediction struct {
	WillEscalate     bool
	EscalationType   string
	HighestLevel     string
	TriggeredActions []string
	Factors          EscalationFactors
}

// TriggerEngine maps source events to probabilistically triggered CRM
// actions. With a fixed random source its output is a pure function of the
// matrix, the context, and the draw sequence.
type TriggerEngine struct {
	rng     RandomSource
	matrix  map[string][]triggerTarget
	caseThr float64
	cplThr  float64
}

// TriggerOverrides replace fixed probabilities in the default matrix, keyed
// by source event then target action. Conditional probabilities cannot be
// overridden.
type TriggerOverrides map[string]map[string]float64

// NewTriggerEngine creates an engine over the default probability matrix.
// caseThreshold and complaintThreshold are the charge amounts above which
// rejected claims can escalate to a case or complaint; zero selects the
// defaults (500 and 1000).
func NewTriggerEngine(rng RandomSource, overrides TriggerOverrides, caseThreshold float64, complaintThreshold float64) *TriggerEngine {
	if caseThreshold <= 0 {
		caseThreshold = 500
	}
	if complaintThreshold <= 0 {
		complaintThreshold = 1000
	}

	engine := &TriggerEngine{
		rng:     rng,
		caseThr: caseThreshold,
		cplThr:  complaintThreshold,
	}
	engine.loadMatrix(overrides)

	return engine
}

func (e *TriggerEngine) loadMatrix(overrides TriggerOverrides) {
	e.matrix = map[string][]triggerTarget{
		EventClaimSubmitted: {
			{ActionInteraction, Fixed(0.40)},
			{ActionCommunication, Fixed(1.00)},
		},
		EventClaimRejected: {
			{ActionInteraction, Fixed(0.80)},
			{ActionCase, Conditional(e.caseOnHighValue)},
			{ActionComplaint, Conditional(e.complaintOnVeryHighValue)},
			{ActionCommunication, Fixed(1.00)},
			{ActionNPSSurvey, Fixed(0.50)},
		},
		EventClaimDelayed: {
			{ActionInteraction, Fixed(0.30)},
			{ActionComplaint, Fixed(0.10)},
			{ActionCommunication, Fixed(0.50)},
		},
		EventClaimPaid: {
			{ActionInteraction, Fixed(0.10)},
			{ActionCommunication, Fixed(1.00)},
			{ActionNPSSurvey, Fixed(0.30)},
		},
		EventPaymentFailed: {
			{ActionInteraction, Fixed(0.60)},
			{ActionCase, Conditional(caseOnThirdFailure)},
			{ActionCommunication, Fixed(1.00)},
		},
		EventArrearsCreated: {
			{ActionInteraction, Fixed(0.50)},
			{ActionCase, Fixed(1.00)},
			{ActionCommunication, Fixed(1.00)},
		},
		EventPolicySuspended: {
			{ActionInteraction, Fixed(0.70)},
			{ActionComplaint, Fixed(0.20)},
			{ActionCommunication, Fixed(1.00)},
		},
		EventInteractionCompleted: {
			{ActionCase, Conditional(caseOnNonFCR)},
			{ActionNPSSurvey, Fixed(0.20)},
			{ActionCSATSurvey, Fixed(0.40)},
		},
		EventCaseResolved: {
			{ActionCSATSurvey, Fixed(0.60)},
		},
		EventComplaintResolved: {
			{ActionNPSSurvey, Fixed(0.80)},
			{ActionCSATSurvey, Fixed(0.60)},
		},
	}

	for source, targets := range overrides {
		matrix, known := e.matrix[source]
		if !known {
			continue
		}
		for i, target := range matrix {
			if value, overridden := targets[target.action]; overridden && !target.prob.isConditional() {
				matrix[i].prob = Fixed(value)
			}
		}
	}
}

func (e *TriggerEngine) caseOnHighValue(ctx TriggerContext) float64 {
	if ctx.ChargeAmount > e.caseThr {
		return 0.30
	}

	return 0
}

func (e *TriggerEngine) complaintOnVeryHighValue(ctx TriggerContext) float64 {
	if ctx.ChargeAmount > e.cplThr {
		return 0.15
	}

	return 0.05
}

func caseOnThirdFailure(ctx TriggerContext) float64 {
	if ctx.AttemptNumber >= 3 {
		return 1.00
	}

	return 0
}

func caseOnNonFCR(ctx TriggerContext) float64 {
	if !ctx.FirstContactResolution {
		return 0.30
	}

	return 0
}

// TriggeredEvents decides which actions fire for a source event. One draw is
// consumed per target with a positive resolved probability, in matrix order.
// Unknown source events trigger nothing.
func (e *TriggerEngine) TriggeredEvents(sourceEvent string, ctx TriggerContext) []string {
	targets, known := e.matrix[sourceEvent]
	if !known {
		return nil
	}

	var triggered []string
	for _, target := range targets {
		probability := target.prob.Resolve(ctx)
		if probability <= 0 {
			continue
		}

		if e.rng.Float64() < probability {
			triggered = append(triggered, target.action)
		}
	}

	return triggered
}

// ShouldTrigger decides one specific target in isolation, consuming a single
// draw. It does not share draws with TriggeredEvents.
func (e *TriggerEngine) ShouldTrigger(sourceEvent string, action string, ctx TriggerContext) bool {
	targets, known := e.matrix[sourceEvent]
	if !known {
		return false
	}

	for _, target := range targets {
		if target.action != action {
			continue
		}

		probability := target.prob.Resolve(ctx)
		if probability <= 0 {
			return false
		}

		return e.rng.Float64() < probability
	}

	return false
}

// PredictEscalation makes the unified trigger decision for a source event:
// the same draws decide both which CRM actions are created and how the
// journey will behave, so the two consumers always agree. The escalation
// type is the highest-ranking triggered action.
func (e *TriggerEngine) PredictEscalation(sourceEvent string, ctx TriggerContext) EscalationPrediction {
	if _, known := e.matrix[sourceEvent]; !known {
		return EscalationPrediction{}
	}

	factors := calculateEscalationFactors(sourceEvent, ctx)
	triggered := e.TriggeredEvents(sourceEvent, ctx)
	escalation := HighestEscalation(triggered)

	return EscalationPrediction{
		WillEscalate:     escalation != "",
		EscalationType:   escalation,
		HighestLevel:     escalation,
		TriggeredActions: triggered,
		Factors:          factors,
	}
}

// HighestEscalation ranks triggered actions by severity: complaint beats
// case beats interaction. Empty means no escalation.
func HighestEscalation(actions []string) string {
	var hasCase, hasInteraction bool
	for _, action := range actions {
		switch action {
		case ActionComplaint:
			return ActionComplaint
		case ActionCase:
			hasCase = true
		case ActionInteraction:
			hasInteraction = true
		}
	}

	if hasCase {
		return ActionCase
	}
	if hasInteraction {
		return ActionInteraction
	}

	return ""
}

// InteractionTypeFor maps a source event to the interaction type code used
// for reference data lookups.
func (e *TriggerEngine) InteractionTypeFor(sourceEvent string) string {
	switch sourceEvent {
	case EventClaimSubmitted, EventClaimDelayed, EventClaimPaid:
		return "CLAIM_STATUS"
	case EventClaimRejected:
		return "CLAIM_DISPUTE"
	case EventPaymentFailed:
		return "BILLING_INQUIRY"
	case EventArrearsCreated:
		return "BILLING_DISPUTE"
	case EventPolicySuspended:
		return "PAYMENT_ARRANGEMENT"
	default:
		return "GENERAL_INQUIRY"
	}
}

// CaseTypeFor maps a source event to the case type code.
func (e *TriggerEngine) CaseTypeFor(sourceEvent string) string {
	switch sourceEvent {
	case EventClaimRejected:
		return "CLAIM_DISPUTE"
	case EventPaymentFailed, EventArrearsCreated:
		return "PAYMENT_ISSUE"
	case EventPolicySuspended:
		return "HARDSHIP"
	default:
		return "GENERAL"
	}
}

// ComplaintCategoryFor maps a source event to the complaint category code.
func (e *TriggerEngine) ComplaintCategoryFor(sourceEvent string) string {
	switch sourceEvent {
	case EventClaimRejected:
		return "CLAIM_DENIAL"
	case EventClaimDelayed:
		return "CLAIM_DELAY"
	case EventPaymentFailed:
		return "BILLING_ERROR"
	case EventArrearsCreated:
		return "ARREARS_DISPUTE"
	case EventPolicySuspended:
		return "PREMIUM_INCREASE"
	default:
		return "OTHER"
	}
}

var highEscalationReasons = map[string]bool{
	"PolicyExclusions": true,
	"PreExisting":      true,
	"LimitsExhausted":  true,
}

var mediumEscalationReasons = map[string]bool{
	"ProviderIssues": true,
	"Administrative": true,
}

func calculateEscalationFactors(sourceEvent string, ctx TriggerContext) EscalationFactors {
	var factors EscalationFactors

	switch sourceEvent {
	case EventClaimRejected:
		factors.BaseProbability = 0.80
	case EventClaimPaid:
		factors.BaseProbability = 0.10
	default:
		factors.BaseProbability = 0.30
	}

	switch {
	case ctx.ChargeAmount > 1000:
		factors.AmountFactor = 0.20
	case ctx.ChargeAmount > 500:
		factors.AmountFactor = 0.10
	case ctx.ChargeAmount > 200:
		factors.AmountFactor = 0.05
	}

	switch {
	case highEscalationReasons[ctx.DenialReason]:
		factors.ReasonFactor = 0.15
	case mediumEscalationReasons[ctx.DenialReason]:
		factors.ReasonFactor = 0.05
	}

	switch {
	case ctx.MemberTenureDays > 1825:
		factors.TenureFactor = 0.10
	case ctx.MemberTenureDays > 730:
		factors.TenureFactor = 0.05
	}

	switch {
	case ctx.PriorClaimRejections >= 3:
		factors.HistoryFactor = 0.15
	case ctx.PriorClaimRejections >= 1:
		factors.HistoryFactor = 0.08
	}

	switch ctx.DigitalEngagement {
	case EngagementLow:
		factors.EngagementFactor = 0.10
	case EngagementHigh:
		factors.EngagementFactor = -0.05
	}

	final := factors.BaseProbability +
		factors.AmountFactor +
		factors.ReasonFactor +
		factors.TenureFactor +
		factors.HistoryFactor +
		factors.EngagementFactor

	if final > 0.95 {
		final = 0.95
	}
	if final < 0 {
		final = 0
	}
	factors.FinalProbability = final

	return factors
}
