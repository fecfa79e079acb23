package processes

import (
	"context"

	jsoniter "github.com/json-iterator/go"

	"github.com/brickwellhealth/simulator/core"
	"github.com/brickwellhealth/simulator/db"
	"github.com/brickwellhealth/simulator/observability"
)

const (
	logMsgClaimsSubmitted = "claims submitted"
	logMsgClaimRejected   = "claim rejected"

	claimStatusSubmitted = "SUBMITTED"
	claimStatusAssessed  = "ASSESSED"
	claimStatusApproved  = "APPROVED"
	claimStatusRejected  = "REJECTED"
	claimStatusPaid      = "PAID"
)

var (
	claimTypes       = []string{"Extras", "Hospital", "Ambulance"}
	claimTypeWeights = []float64{0.55, 0.30, 0.15}

	// Log-normal charge parameters per claim type: extras cluster around
	// $90, hospital around $1,800, ambulance around $400.
	claimChargeMu    = map[string]float64{"Extras": 4.5, "Hospital": 7.5, "Ambulance": 6.0}
	claimChargeSigma = map[string]float64{"Extras": 0.8, "Hospital": 1.0, "Ambulance": 0.4}

	denialReasons = []string{
		"PolicyExclusions", "PreExisting", "LimitsExhausted",
		"ProviderIssues", "Administrative", "WaitingPeriod",
	}
	denialReasonWeights = []float64{0.25, 0.20, 0.15, 0.15, 0.15, 0.10}
)

// ClaimsConfig tunes claim volume and the adjudication pipeline. Zero values
// select the defaults.
type ClaimsConfig struct {
	// ClaimsPerMemberYear is the mean annual claim frequency per covered
	// member.
	ClaimsPerMemberYear float64

	// ApprovalRate is the share of claims approved at decision time.
	ApprovalRate float64

	// AssessmentDaysMin/Max bound the lodgement-to-assessment delay.
	AssessmentDaysMin int
	AssessmentDaysMax int

	// DecisionDaysMax bounds the assessment-to-decision delay (minimum 1).
	DecisionDaysMax int

	// PaymentDaysMax bounds the decision-to-payment delay (minimum 1).
	PaymentDaysMax int

	// DelayNoticeDays is how long a claim may sit unassessed before a
	// delay event fires.
	DelayNoticeDays int
}

func (c *ClaimsConfig) applyDefaults() {
	if c.ClaimsPerMemberYear <= 0 {
		c.ClaimsPerMemberYear = 4.0
	}
	if c.ApprovalRate <= 0 {
		c.ApprovalRate = 0.82
	}
	if c.AssessmentDaysMin <= 0 {
		c.AssessmentDaysMin = 2
	}
	if c.AssessmentDaysMax <= 0 {
		c.AssessmentDaysMax = 14
	}
	if c.DecisionDaysMax <= 0 {
		c.DecisionDaysMax = 5
	}
	if c.PaymentDaysMax <= 0 {
		c.PaymentDaysMax = 5
	}
	if c.DelayNoticeDays <= 0 {
		c.DelayNoticeDays = 10
	}
}

// ClaimsProcess generates claim submissions and steps each pending claim
// through assessment, decision, and payment. Status transitions on rows that
// may still sit in the write buffer are preceded by a CDC flush so change
// capture always sees the insert before the update. Submission, rejection,
// payment, and delay feed the CRM queue.
type ClaimsProcess struct {
	cfg       ClaimsConfig
	state     *core.SharedState
	writer    db.Writer
	clock     *core.Clock
	rng       *core.RNG
	partition *core.Partition
	gens      map[string]core.Generator
	logger    observability.Logger

	counters map[string]int
}

var _ core.Process = (*ClaimsProcess)(nil)

// NewClaimsProcess creates the claims adjudication process.
func NewClaimsProcess(
	cfg ClaimsConfig,
	state *core.SharedState,
	writer db.Writer,
	clock *core.Clock,
	rng *core.RNG,
	partition *core.Partition,
	logger observability.Logger,
) *ClaimsProcess {
	cfg.applyDefaults()

	return &ClaimsProcess{
		cfg:       cfg,
		state:     state,
		writer:    writer,
		clock:     clock,
		rng:       rng,
		partition: partition,
		gens:      DefaultGenerators(),
		logger:    logger,
		counters:  make(map[string]int),
	}
}

func (p *ClaimsProcess) Name() string {
	return "claims"
}

func (p *ClaimsProcess) AdvanceOneDay(ctx context.Context) error {
	if err := p.submitClaims(ctx); err != nil {
		return err
	}

	return p.advancePendingClaims(ctx)
}

func (p *ClaimsProcess) submitClaims(ctx context.Context) error {
	memberships := sortedUUIDs(p.state.Memberships)
	if len(memberships) == 0 {
		return nil
	}

	lambda := float64(len(memberships)) * p.cfg.ClaimsPerMemberYear / 365.0
	submissions := p.rng.Poisson(lambda)

	for i := 0; i < submissions; i++ {
		membership := p.state.Memberships[memberships[p.rng.IntN(len(memberships))]]

		policy, active := p.state.Policies[membership.PolicyID]
		if !active || policy.Status != "Active" {
			continue
		}

		if err := p.submitClaim(ctx, membership); err != nil {
			return err
		}
	}

	if submissions > 0 {
		p.logDebug(logMsgClaimsSubmitted,
			logAttrDay, p.clock.Day(),
			logAttrCount, submissions)
	}

	return nil
}

func (p *ClaimsProcess) submitClaim(ctx context.Context, membership *core.Membership) error {
	claimID := p.partition.GenerateOwnedUUID(p.rng)
	claimType := p.rng.WeightedChoice(claimTypes, claimTypeWeights)
	charge := p.rng.LogNormal(claimChargeMu[claimType], claimChargeSigma[claimType])

	approved := p.rng.Float64() < p.cfg.ApprovalRate
	denialReason := ""
	if !approved {
		denialReason = p.rng.WeightedChoice(denialReasons, denialReasonWeights)
	}

	day := p.clock.Day()
	assessmentDay := day + p.rng.UniformN(p.cfg.AssessmentDaysMin, p.cfg.AssessmentDaysMax)
	decisionDay := assessmentDay + p.rng.UniformN(1, p.cfg.DecisionDaysMax)
	paymentDay := decisionDay + p.rng.UniformN(1, p.cfg.PaymentDaysMax)

	record, err := p.buildRecord("claim", core.GeneratorContext{
		RNG:       p.rng,
		Clock:     p.clock,
		WorkerID:  p.partition.WorkerID(),
		PolicyID:  membership.PolicyID,
		MemberID:  membership.MemberID,
		RelatedID: claimID,
		Attrs: map[string]any{
			"claim_type":   claimType,
			"total_charge": charge,
		},
	})
	if err != nil {
		return err
	}
	if err = p.writer.Add(ctx, "claim", record); err != nil {
		return err
	}

	p.state.PendingClaims[claimID] = &core.PendingClaim{
		ClaimID:       claimID,
		PolicyID:      membership.PolicyID,
		MemberID:      membership.MemberID,
		Status:        claimStatusSubmitted,
		ChargeAmount:  charge,
		SubmittedDay:  day,
		AssessmentDay: assessmentDay,
		DecisionDay:   decisionDay,
		PaymentDay:    paymentDay,
		Approved:      approved,
		DenialReason:  denialReason,
	}

	p.state.AddCRMEvent(core.CRMEvent{
		EventType:    core.EventClaimSubmitted,
		Timestamp:    p.clock.CurrentDateTime(),
		PolicyID:     membership.PolicyID,
		MemberID:     membership.MemberID,
		ClaimID:      claimID,
		ChargeAmount: charge,
	})

	p.counters["claims_submitted"]++

	return nil
}

func (p *ClaimsProcess) advancePendingClaims(ctx context.Context) error {
	day := p.clock.Day()

	for _, claimID := range sortedUUIDs(p.state.PendingClaims) {
		claim := p.state.PendingClaims[claimID]

		if claim.Status == claimStatusSubmitted && day == claim.SubmittedDay+p.cfg.DelayNoticeDays {
			p.state.AddCRMEvent(core.CRMEvent{
				EventType:    core.EventClaimDelayed,
				Timestamp:    p.clock.CurrentDateTime(),
				PolicyID:     claim.PolicyID,
				MemberID:     claim.MemberID,
				ClaimID:      claim.ClaimID,
				ChargeAmount: claim.ChargeAmount,
			})
			p.counters["claims_delayed"]++
		}

		if claim.Status == claimStatusSubmitted && day >= claim.AssessmentDay {
			if err := p.assessClaim(ctx, claim); err != nil {
				return err
			}

			continue
		}

		if claim.Status == claimStatusAssessed && day >= claim.DecisionDay {
			if err := p.decideClaim(ctx, claim); err != nil {
				return err
			}

			continue
		}

		if claim.Status == claimStatusApproved && day >= claim.PaymentDay {
			if err := p.payClaim(ctx, claim); err != nil {
				return err
			}
		}
	}

	return nil
}

func (p *ClaimsProcess) assessClaim(ctx context.Context, claim *core.PendingClaim) error {
	if _, err := p.writer.FlushForCDC(ctx, "claim", "claim_id", claim.ClaimID); err != nil {
		return err
	}

	if _, err := p.writer.UpdateRecord(ctx, "claim", "claim_id", claim.ClaimID, db.Record{
		"claim_status":    claimStatusAssessed,
		"assessment_date": p.clock.CurrentDate(),
	}); err != nil {
		return err
	}

	benefit := claim.ChargeAmount * (0.5 + 0.4*p.rng.Float64())
	if !claim.Approved {
		benefit = 0
	}

	record, err := p.buildRecord("claim_assessment", core.GeneratorContext{
		RNG:       p.rng,
		Clock:     p.clock,
		WorkerID:  p.partition.WorkerID(),
		PolicyID:  claim.PolicyID,
		MemberID:  claim.MemberID,
		RelatedID: claim.ClaimID,
		Attrs: map[string]any{
			"assessment_id":  p.partition.GenerateOwnedUUID(p.rng),
			"approved":       claim.Approved,
			"benefit_amount": benefit,
		},
	})
	if err != nil {
		return err
	}
	if err = p.writer.Add(ctx, "claim_assessment", record); err != nil {
		return err
	}

	claim.Status = claimStatusAssessed
	p.counters["claims_assessed"]++

	return nil
}

func (p *ClaimsProcess) decideClaim(ctx context.Context, claim *core.PendingClaim) error {
	if claim.Approved {
		if _, err := p.writer.UpdateRecord(ctx, "claim", "claim_id", claim.ClaimID, db.Record{
			"claim_status": claimStatusApproved,
		}); err != nil {
			return err
		}

		claim.Status = claimStatusApproved
		p.counters["claims_approved"]++

		return nil
	}

	if _, err := p.writer.UpdateRecord(ctx, "claim", "claim_id", claim.ClaimID, db.Record{
		"claim_status":     claimStatusRejected,
		"rejection_reason": claim.DenialReason,
	}); err != nil {
		return err
	}

	p.state.AddCRMEvent(core.CRMEvent{
		EventType:    core.EventClaimRejected,
		Timestamp:    p.clock.CurrentDateTime(),
		PolicyID:     claim.PolicyID,
		MemberID:     claim.MemberID,
		ClaimID:      claim.ClaimID,
		ChargeAmount: claim.ChargeAmount,
		DenialReason: claim.DenialReason,
	})

	p.logDebug(logMsgClaimRejected,
		logAttrClaimID, claim.ClaimID.String(),
		"denial_reason", claim.DenialReason)

	delete(p.state.PendingClaims, claim.ClaimID)
	p.counters["claims_rejected"]++

	return nil
}

func (p *ClaimsProcess) payClaim(ctx context.Context, claim *core.PendingClaim) error {
	if _, err := p.writer.FlushForCDC(ctx, "claim", "claim_id", claim.ClaimID); err != nil {
		return err
	}

	if _, err := p.writer.UpdateRecord(ctx, "claim", "claim_id", claim.ClaimID, db.Record{
		"claim_status": claimStatusPaid,
		"payment_date": p.clock.CurrentDate(),
	}); err != nil {
		return err
	}

	p.state.AddCRMEvent(core.CRMEvent{
		EventType:    core.EventClaimPaid,
		Timestamp:    p.clock.CurrentDateTime(),
		PolicyID:     claim.PolicyID,
		MemberID:     claim.MemberID,
		ClaimID:      claim.ClaimID,
		ChargeAmount: claim.ChargeAmount,
	})

	delete(p.state.PendingClaims, claim.ClaimID)
	p.counters["claims_paid"]++

	return nil
}

func (p *ClaimsProcess) buildRecord(table string, genCtx core.GeneratorContext) (db.Record, error) {
	generator, known := p.gens[table]
	if !known {
		return nil, ErrUnknownGenerator
	}

	return generator.Generate(genCtx), nil
}

type claimsSnapshot struct {
	Counters map[string]int `json:"counters"`
}

// SnapshotState captures only the process counters; the pending claim
// pipeline itself lives in the shared state's snapshot.
func (p *ClaimsProcess) SnapshotState() ([]byte, error) {
	return jsoniter.ConfigFastest.Marshal(claimsSnapshot{Counters: p.counters})
}

func (p *ClaimsProcess) RestoreState(data []byte) error {
	var snapshot claimsSnapshot
	if err := jsoniter.ConfigFastest.Unmarshal(data, &snapshot); err != nil {
		return err
	}

	p.counters = snapshot.Counters
	if p.counters == nil {
		p.counters = make(map[string]int)
	}

	return nil
}

// Counters exposes the process statistics for the worker's stats file.
func (p *ClaimsProcess) Counters() map[string]int {
	return p.counters
}

func (p *ClaimsProcess) logDebug(msg string, args ...any) {
	if p.logger != nil {
		p.logger.Debug(msg, args...)
	}
}
