package processes

import (
	"context"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"

	"github.com/brickwellhealth/simulator/core"
	"github.com/brickwellhealth/simulator/db"
	"github.com/brickwellhealth/simulator/observability"
)

const (
	logMsgSurveysInvited = "survey invitations created"

	surveyTypeNPS  = "nps"
	surveyTypeCSAT = "csat"
)

var surveyPendingTables = map[string]string{
	surveyTypeNPS:  "nps_survey_pending",
	surveyTypeCSAT: "csat_survey_pending",
}

// SurveyConfig tunes invitation behavior. Zero values select the defaults.
type SurveyConfig struct {
	// FatigueDays suppresses further invitations of the same type for a
	// member while one is outstanding, for this many days.
	FatigueDays int

	// AnniversaryNPSRate is the probability of an NPS invitation on a
	// policy's start date anniversary.
	AnniversaryNPSRate float64
}

func (c *SurveyConfig) applyDefaults() {
	if c.FatigueDays <= 0 {
		c.FatigueDays = 14
	}
	if c.AnniversaryNPSRate <= 0 {
		c.AnniversaryNPSRate = 0.15
	}
}

// surveyInvite records an outstanding invitation for fatigue expiry.
type surveyInvite struct {
	MemberID   uuid.UUID `json:"member_id"`
	SurveyType string    `json:"survey_type"`
	InvitedDay int       `json:"invited_day"`
}

// SurveyProcess consumes completion events from the survey queue and writes
// pending survey rows, the work queue for the external response generation
// job. Journey completions always invite; other completion events draw
// through the trigger engine. A fatigue window stops members from being
// invited twice for the same survey type.
type SurveyProcess struct {
	cfg       SurveyConfig
	state     *core.SharedState
	writer    db.Writer
	clock     *core.Clock
	rng       *core.RNG
	partition *core.Partition
	engine    *core.TriggerEngine
	gens      map[string]core.Generator
	logger    observability.Logger

	invites  []surveyInvite
	counters map[string]int
}

var _ core.Process = (*SurveyProcess)(nil)

// NewSurveyProcess creates the survey dispatch process.
func NewSurveyProcess(
	cfg SurveyConfig,
	state *core.SharedState,
	writer db.Writer,
	clock *core.Clock,
	rng *core.RNG,
	partition *core.Partition,
	engine *core.TriggerEngine,
	logger observability.Logger,
) *SurveyProcess {
	cfg.applyDefaults()

	return &SurveyProcess{
		cfg:       cfg,
		state:     state,
		writer:    writer,
		clock:     clock,
		rng:       rng,
		partition: partition,
		engine:    engine,
		gens:      DefaultGenerators(),
		logger:    logger,
		counters:  make(map[string]int),
	}
}

func (p *SurveyProcess) Name() string {
	return "survey"
}

func (p *SurveyProcess) AdvanceOneDay(ctx context.Context) error {
	p.expireInvites()

	invited := 0

	for _, event := range p.state.DrainSurveyEvents() {
		count, err := p.handleCompletionEvent(ctx, event)
		if err != nil {
			return err
		}
		invited += count
	}

	anniversaries, err := p.inviteAnniversaries(ctx)
	if err != nil {
		return err
	}
	invited += anniversaries

	if invited > 0 {
		p.logDebug(logMsgSurveysInvited,
			logAttrDay, p.clock.Day(),
			logAttrCount, invited)
	}

	return nil
}

// expireInvites lifts the fatigue suppression once an invitation has been
// outstanding longer than the fatigue window.
func (p *SurveyProcess) expireInvites() {
	day := p.clock.Day()

	remaining := p.invites[:0]
	for _, invite := range p.invites {
		if day-invite.InvitedDay >= p.cfg.FatigueDays {
			p.state.RemovePendingSurvey(invite.MemberID, invite.SurveyType)

			continue
		}
		remaining = append(remaining, invite)
	}
	p.invites = remaining
}

func (p *SurveyProcess) handleCompletionEvent(ctx context.Context, event core.CRMEvent) (int, error) {
	if event.EventType == core.EventJourneyCompleted {
		triggerType := core.EventJourneyCompleted
		if event.Journey != nil {
			triggerType = event.Journey.TriggerType
		}

		return p.invite(ctx, event, surveyTypeNPS, triggerType)
	}

	triggerCtx := core.TriggerContext{
		ChargeAmount:           event.ChargeAmount,
		DenialReason:           event.DenialReason,
		FirstContactResolution: event.FirstContactResolution,
		DigitalEngagement:      p.state.EngagementLevel(event.MemberID),
	}

	invited := 0

	if p.engine.ShouldTrigger(event.EventType, core.ActionNPSSurvey, triggerCtx) {
		count, err := p.invite(ctx, event, surveyTypeNPS, event.EventType)
		if err != nil {
			return invited, err
		}
		invited += count
	}

	if p.engine.ShouldTrigger(event.EventType, core.ActionCSATSurvey, triggerCtx) {
		count, err := p.invite(ctx, event, surveyTypeCSAT, event.EventType)
		if err != nil {
			return invited, err
		}
		invited += count
	}

	return invited, nil
}

func (p *SurveyProcess) invite(ctx context.Context, event core.CRMEvent, surveyType string, triggerType string) (int, error) {
	if p.state.HasPendingSurvey(event.MemberID, surveyType) {
		p.counters["invitations_suppressed"]++

		return 0, nil
	}

	table := surveyPendingTables[surveyType]

	generator, known := p.gens[table]
	if !known {
		return 0, ErrUnknownGenerator
	}

	record := generator.Generate(core.GeneratorContext{
		RNG:       p.rng,
		Clock:     p.clock,
		WorkerID:  p.partition.WorkerID(),
		PolicyID:  event.PolicyID,
		MemberID:  event.MemberID,
		RelatedID: p.partition.GenerateOwnedUUID(p.rng),
		Attrs: map[string]any{
			"survey_type":  surveyType,
			"trigger_type": triggerType,
		},
	})
	if err := p.writer.Add(ctx, table, record); err != nil {
		return 0, err
	}

	p.state.AddPendingSurvey(event.MemberID, surveyType)
	p.invites = append(p.invites, surveyInvite{
		MemberID:   event.MemberID,
		SurveyType: surveyType,
		InvitedDay: p.clock.Day(),
	})

	p.counters[surveyType+"_invitations"]++

	return 1, nil
}

// inviteAnniversaries sends relationship NPS invitations on policy start
// date anniversaries.
func (p *SurveyProcess) inviteAnniversaries(ctx context.Context) (int, error) {
	today := p.clock.CurrentDate()
	invited := 0

	for _, policyID := range sortedUUIDs(p.state.Policies) {
		policy := p.state.Policies[policyID]
		if policy.Status != "Active" {
			continue
		}

		start := policy.StartDate
		if start.Year() == today.Year() || start.Month() != today.Month() || start.Day() != today.Day() {
			continue
		}

		if p.rng.Float64() >= p.cfg.AnniversaryNPSRate {
			continue
		}

		count, err := p.invite(ctx, core.CRMEvent{
			PolicyID: policy.PolicyID,
			MemberID: policy.MemberID,
		}, surveyTypeNPS, "ANNIVERSARY")
		if err != nil {
			return invited, err
		}
		invited += count
	}

	return invited, nil
}

type surveySnapshot struct {
	Invites  []surveyInvite `json:"invites"`
	Counters map[string]int `json:"counters"`
}

func (p *SurveyProcess) SnapshotState() ([]byte, error) {
	return jsoniter.ConfigFastest.Marshal(surveySnapshot{
		Invites:  p.invites,
		Counters: p.counters,
	})
}

func (p *SurveyProcess) RestoreState(data []byte) error {
	var snapshot surveySnapshot
	if err := jsoniter.ConfigFastest.Unmarshal(data, &snapshot); err != nil {
		return err
	}

	p.invites = snapshot.Invites
	p.counters = snapshot.Counters
	if p.counters == nil {
		p.counters = make(map[string]int)
	}

	return nil
}

// Counters exposes the process statistics for the worker's stats file.
func (p *SurveyProcess) Counters() map[string]int {
	return p.counters
}

func (p *SurveyProcess) logDebug(msg string, args ...any) {
	if p.logger != nil {
		p.logger.Debug(msg, args...)
	}
}
