package processes

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"

	"github.com/brickwellhealth/simulator/core"
	"github.com/brickwellhealth/simulator/db"
	"github.com/brickwellhealth/simulator/observability"
)

const (
	logMsgPolicyProcessDay  = "policy process advanced one day"
	logMsgPolicySuspended   = "policy suspended for arrears"
	logMsgPolicyLapsed      = "policy lapsed for arrears"
	logAttrDaysOverdue      = "days_overdue"
	logAttrPoliciesAcquired = "policies_acquired"
)

// ErrUnknownGenerator reports a missing payload generator for a table the
// process writes to.
var ErrUnknownGenerator = errors.New("no generator registered for table")

// PolicyConfig tunes acquisition, billing, and arrears behavior. Zero values
// select the defaults.
type PolicyConfig struct {
	// DailyAcquisitions is the mean number of new policies this worker
	// creates per simulated day.
	DailyAcquisitions float64

	// PaymentSuccessRate is the per-attempt direct debit success rate.
	PaymentSuccessRate float64

	// MaxDebitRetries is the number of retries after the first failed
	// attempt.
	MaxDebitRetries int

	// RetryIntervalDays separates consecutive debit attempts.
	RetryIntervalDays int

	// DaysToArrears, DaysToSuspension, and DaysToLapse are measured from the
	// invoice due date.
	DaysToArrears    int
	DaysToSuspension int
	DaysToLapse      int

	// MemberUpdateDailyRate is the per-policy daily probability of a member
	// detail change.
	MemberUpdateDailyRate float64
}

func (c *PolicyConfig) applyDefaults() {
	if c.DailyAcquisitions <= 0 {
		c.DailyAcquisitions = 10
	}
	if c.PaymentSuccessRate <= 0 {
		c.PaymentSuccessRate = 0.80
	}
	if c.MaxDebitRetries <= 0 {
		c.MaxDebitRetries = 2
	}
	if c.RetryIntervalDays <= 0 {
		c.RetryIntervalDays = 5
	}
	if c.DaysToArrears <= 0 {
		c.DaysToArrears = 14
	}
	if c.DaysToSuspension <= 0 {
		c.DaysToSuspension = 30
	}
	if c.DaysToLapse <= 0 {
		c.DaysToLapse = 60
	}
	if c.MemberUpdateDailyRate <= 0 {
		c.MemberUpdateDailyRate = 0.0008
	}
}

// pendingInvoice tracks one unpaid invoice through debit attempts and the
// arrears escalation ladder. Day fields are simulated-day offsets.
type pendingInvoice struct {
	InvoiceID      uuid.UUID `json:"invoice_id"`
	PolicyID       uuid.UUID `json:"policy_id"`
	MemberID       uuid.UUID `json:"member_id"`
	Amount         float64   `json:"amount"`
	DueDay         int       `json:"due_day"`
	NextAttemptDay int       `json:"next_attempt_day"`
	Attempts       int       `json:"attempts"`
	ArrearsCreated bool      `json:"arrears_created"`
}

// PolicyProcess handles new policy acquisition, monthly billing with direct
// debit retries, and the arrears ladder from overdue invoices through
// suspension to lapse. Failed payments, arrears, and suspensions feed the
// CRM queue as trigger events.
type PolicyProcess struct {
	cfg       PolicyConfig
	state     *core.SharedState
	writer    db.Writer
	clock     *core.Clock
	rng       *core.RNG
	partition *core.Partition
	gens      map[string]core.Generator
	logger    observability.Logger

	pendingInvoices map[uuid.UUID]*pendingInvoice
	counters        map[string]int
}

var _ core.Process = (*PolicyProcess)(nil)

// NewPolicyProcess creates the policy lifecycle process.
func NewPolicyProcess(
	cfg PolicyConfig,
	state *core.SharedState,
	writer db.Writer,
	clock *core.Clock,
	rng *core.RNG,
	partition *core.Partition,
	logger observability.Logger,
) *PolicyProcess {
	cfg.applyDefaults()

	return &PolicyProcess{
		cfg:             cfg,
		state:           state,
		writer:          writer,
		clock:           clock,
		rng:             rng,
		partition:       partition,
		gens:            DefaultGenerators(),
		logger:          logger,
		pendingInvoices: make(map[uuid.UUID]*pendingInvoice),
		counters:        make(map[string]int),
	}
}

func (p *PolicyProcess) Name() string {
	return "policy"
}

func (p *PolicyProcess) AdvanceOneDay(ctx context.Context) error {
	if err := p.acquirePolicies(ctx); err != nil {
		return err
	}

	if err := p.issueInvoices(ctx); err != nil {
		return err
	}

	if err := p.processDirectDebits(ctx); err != nil {
		return err
	}

	if err := p.checkArrears(ctx); err != nil {
		return err
	}

	return p.generateMemberUpdates(ctx)
}

func (p *PolicyProcess) acquirePolicies(ctx context.Context) error {
	arrivals := p.rng.Poisson(p.cfg.DailyAcquisitions)

	for i := 0; i < arrivals; i++ {
		if err := p.createPolicy(ctx); err != nil {
			return err
		}
	}

	if arrivals > 0 {
		p.logDebug(logMsgPolicyProcessDay,
			logAttrDay, p.clock.Day(),
			logAttrPoliciesAcquired, arrivals)
	}

	return nil
}

func (p *PolicyProcess) createPolicy(ctx context.Context) error {
	policyID := p.partition.GenerateOwnedUUID(p.rng)
	policyType := p.rng.WeightedChoice(policyTypes, policyTypeWeights)
	tier := p.rng.WeightedChoice(productTiers, tierWeights)
	premium := tierBasePremium[tier] * (0.9 + 0.2*p.rng.Float64())

	memberIDs := make([]uuid.UUID, p.familySize(policyType))
	for i := range memberIDs {
		memberIDs[i] = p.partition.GenerateOwnedUUID(p.rng)
	}
	primaryID := memberIDs[0]

	for _, memberID := range memberIDs {
		record, err := p.buildRecord("member", core.GeneratorContext{
			RNG:      p.rng,
			Clock:    p.clock,
			WorkerID: p.partition.WorkerID(),
			MemberID: memberID,
		})
		if err != nil {
			return err
		}
		if err = p.writer.Add(ctx, "member", record); err != nil {
			return err
		}
	}

	policyRec, err := p.buildRecord("policy", core.GeneratorContext{
		RNG:      p.rng,
		Clock:    p.clock,
		WorkerID: p.partition.WorkerID(),
		PolicyID: policyID,
		MemberID: primaryID,
		Attrs: map[string]any{
			"policy_type":     policyType,
			"product_tier":    tier,
			"premium_monthly": premium,
		},
	})
	if err != nil {
		return err
	}
	if err = p.writer.Add(ctx, "policy", policyRec); err != nil {
		return err
	}

	p.state.AddPolicy(&core.PolicyInfo{
		PolicyID:       policyID,
		MemberID:       primaryID,
		StartDate:      p.clock.CurrentDate(),
		Status:         "Active",
		PremiumMonthly: premium,
	})

	for i, memberID := range memberIDs {
		policyMemberID := p.partition.GenerateOwnedUUID(p.rng)

		record, buildErr := p.buildRecord("policy_member", core.GeneratorContext{
			RNG:       p.rng,
			Clock:     p.clock,
			WorkerID:  p.partition.WorkerID(),
			PolicyID:  policyID,
			MemberID:  memberID,
			RelatedID: policyMemberID,
			Attrs:     map[string]any{"is_primary": i == 0},
		})
		if buildErr != nil {
			return buildErr
		}
		if err = p.writer.Add(ctx, "policy_member", record); err != nil {
			return err
		}

		p.state.AddMembership(&core.Membership{
			PolicyMemberID: policyMemberID,
			PolicyID:       policyID,
			MemberID:       memberID,
		})

		p.state.SetEngagementLevel(memberID, p.rng.WeightedChoice(
			[]string{core.EngagementHigh, core.EngagementMedium, core.EngagementLow},
			[]float64{0.15, 0.35, 0.50},
		))
	}

	for _, coverageType := range []string{"Hospital", "Extras", "Ambulance"} {
		record, buildErr := p.buildRecord("coverage", core.GeneratorContext{
			RNG:       p.rng,
			Clock:     p.clock,
			WorkerID:  p.partition.WorkerID(),
			PolicyID:  policyID,
			RelatedID: p.partition.GenerateOwnedUUID(p.rng),
			Attrs:     map[string]any{"coverage_type": coverageType},
		})
		if buildErr != nil {
			return buildErr
		}
		if err = p.writer.Add(ctx, "coverage", record); err != nil {
			return err
		}
	}

	p.counters["policies_created"]++
	p.counters["members_created"] += len(memberIDs)

	return nil
}

func (p *PolicyProcess) familySize(policyType string) int {
	switch policyType {
	case "Single":
		return 1
	case "Couple":
		return 2
	case "SingleParent":
		return p.rng.UniformN(2, 3)
	default:
		return p.rng.UniformN(3, 5)
	}
}

// issueInvoices bills each active policy on the monthly anniversary of its
// start date. Policies started late in the month bill on the last day of
// shorter months.
func (p *PolicyProcess) issueInvoices(ctx context.Context) error {
	today := p.clock.CurrentDate()
	lastOfMonth := daysInMonth(today)

	for _, policyID := range sortedUUIDs(p.state.Policies) {
		policy := p.state.Policies[policyID]
		if policy.Status != "Active" {
			continue
		}

		billingDay := policy.StartDate.Day()
		if billingDay > lastOfMonth {
			billingDay = lastOfMonth
		}
		if today.Day() != billingDay || sameMonth(policy.StartDate, today) {
			continue
		}

		invoiceID := p.partition.GenerateOwnedUUID(p.rng)
		dueDay := p.clock.Day() + 15

		record, err := p.buildRecord("invoice", core.GeneratorContext{
			RNG:       p.rng,
			Clock:     p.clock,
			WorkerID:  p.partition.WorkerID(),
			PolicyID:  policyID,
			RelatedID: invoiceID,
			Attrs: map[string]any{
				"amount":   policy.PremiumMonthly,
				"due_date": today.AddDate(0, 0, 15),
			},
		})
		if err != nil {
			return err
		}
		if err = p.writer.Add(ctx, "invoice", record); err != nil {
			return err
		}

		p.pendingInvoices[invoiceID] = &pendingInvoice{
			InvoiceID:      invoiceID,
			PolicyID:       policyID,
			MemberID:       policy.MemberID,
			Amount:         policy.PremiumMonthly,
			DueDay:         dueDay,
			NextAttemptDay: dueDay,
		}

		p.counters["invoices_generated"]++
	}

	return nil
}

func (p *PolicyProcess) processDirectDebits(ctx context.Context) error {
	day := p.clock.Day()
	totalAttempts := 1 + p.cfg.MaxDebitRetries

	for _, invoiceID := range sortedUUIDs(p.pendingInvoices) {
		invoice := p.pendingInvoices[invoiceID]
		if invoice.NextAttemptDay < 0 || day != invoice.NextAttemptDay {
			continue
		}

		invoice.Attempts++

		if p.rng.Float64() < p.cfg.PaymentSuccessRate {
			if err := p.recordPayment(ctx, invoice); err != nil {
				return err
			}
			delete(p.pendingInvoices, invoiceID)
			p.counters["payments_successful"]++

			continue
		}

		if invoice.Attempts < totalAttempts {
			invoice.NextAttemptDay = day + p.cfg.RetryIntervalDays
		} else {
			invoice.NextAttemptDay = -1
		}

		p.state.AddCRMEvent(core.CRMEvent{
			EventType:     core.EventPaymentFailed,
			Timestamp:     p.clock.CurrentDateTime(),
			PolicyID:      invoice.PolicyID,
			MemberID:      invoice.MemberID,
			InvoiceID:     invoice.InvoiceID,
			ChargeAmount:  invoice.Amount,
			AttemptNumber: invoice.Attempts,
		})

		p.counters["payments_failed"]++
	}

	return nil
}

func (p *PolicyProcess) recordPayment(ctx context.Context, invoice *pendingInvoice) error {
	record, err := p.buildRecord("payment", core.GeneratorContext{
		RNG:       p.rng,
		Clock:     p.clock,
		WorkerID:  p.partition.WorkerID(),
		PolicyID:  invoice.PolicyID,
		RelatedID: invoice.InvoiceID,
		Attrs: map[string]any{
			"payment_id": p.partition.GenerateOwnedUUID(p.rng),
			"amount":     invoice.Amount,
		},
	})
	if err != nil {
		return err
	}
	if err = p.writer.Add(ctx, "payment", record); err != nil {
		return err
	}

	_, err = p.writer.UpdateRecord(ctx, "invoice", "invoice_id", invoice.InvoiceID, db.Record{
		"invoice_status": "Paid",
		"paid_amount":    invoice.Amount,
	})

	return err
}

// checkArrears walks the escalation ladder for overdue invoices: arrears
// record, then suspension, then lapse with full cascade.
func (p *PolicyProcess) checkArrears(ctx context.Context) error {
	day := p.clock.Day()

	for _, invoiceID := range sortedUUIDs(p.pendingInvoices) {
		invoice := p.pendingInvoices[invoiceID]

		daysOverdue := day - invoice.DueDay
		if daysOverdue < p.cfg.DaysToArrears {
			continue
		}

		policy, active := p.state.Policies[invoice.PolicyID]
		if !active {
			delete(p.pendingInvoices, invoiceID)

			continue
		}

		if daysOverdue >= p.cfg.DaysToLapse {
			if err := p.lapsePolicy(invoice, policy, daysOverdue); err != nil {
				return err
			}
			delete(p.pendingInvoices, invoiceID)

			continue
		}

		if daysOverdue >= p.cfg.DaysToSuspension && policy.Status == "Active" {
			p.suspendPolicy(invoice, policy, daysOverdue)
		}

		if !invoice.ArrearsCreated {
			if err := p.createArrears(ctx, invoice, daysOverdue); err != nil {
				return err
			}
		}
	}

	return nil
}

func (p *PolicyProcess) createArrears(ctx context.Context, invoice *pendingInvoice, daysOverdue int) error {
	record, err := p.buildRecord("arrears", core.GeneratorContext{
		RNG:       p.rng,
		Clock:     p.clock,
		WorkerID:  p.partition.WorkerID(),
		PolicyID:  invoice.PolicyID,
		RelatedID: invoice.InvoiceID,
		Attrs: map[string]any{
			"arrears_id":   p.partition.GenerateOwnedUUID(p.rng),
			"amount":       invoice.Amount,
			"days_overdue": daysOverdue,
		},
	})
	if err != nil {
		return err
	}
	if err = p.writer.Add(ctx, "arrears", record); err != nil {
		return err
	}

	invoice.ArrearsCreated = true

	p.state.AddCRMEvent(core.CRMEvent{
		EventType:    core.EventArrearsCreated,
		Timestamp:    p.clock.CurrentDateTime(),
		PolicyID:     invoice.PolicyID,
		MemberID:     invoice.MemberID,
		InvoiceID:    invoice.InvoiceID,
		ChargeAmount: invoice.Amount,
	})

	p.counters["arrears_created"]++

	return nil
}

func (p *PolicyProcess) suspendPolicy(invoice *pendingInvoice, policy *core.PolicyInfo, daysOverdue int) {
	policy.Status = "Suspended"

	p.writer.AddRawStatement("policy_suspension_arrears", fmt.Sprintf(
		`UPDATE policy SET policy_status = 'Suspended', modified_at = '%s', modified_by = '%s' WHERE policy_id = '%s'`,
		p.clock.CurrentDateTime().Format(time.RFC3339), modifiedBy, policy.PolicyID,
	))

	p.state.AddCRMEvent(core.CRMEvent{
		EventType: core.EventPolicySuspended,
		Timestamp: p.clock.CurrentDateTime(),
		PolicyID:  policy.PolicyID,
		MemberID:  invoice.MemberID,
		InvoiceID: invoice.InvoiceID,
	})

	p.counters["policies_suspended"]++

	p.logInfo(logMsgPolicySuspended,
		logAttrPolicyID, policy.PolicyID.String(),
		logAttrDaysOverdue, daysOverdue)
}

func (p *PolicyProcess) lapsePolicy(invoice *pendingInvoice, policy *core.PolicyInfo, daysOverdue int) error {
	today := p.clock.CurrentDate().Format("2006-01-02")
	now := p.clock.CurrentDateTime().Format(time.RFC3339)

	p.writer.AddRawStatement("policy_lapse", fmt.Sprintf(
		`UPDATE policy SET policy_status = 'Lapsed', end_date = '%s', cancellation_reason = 'Lapsed due to non-payment (%d days overdue)', modified_at = '%s', modified_by = '%s' WHERE policy_id = '%s'`,
		today, daysOverdue, now, modifiedBy, policy.PolicyID,
	))

	p.writer.AddRawStatement("coverage_lapse", fmt.Sprintf(
		`UPDATE coverage SET status = 'Terminated', end_date = '%s', modified_at = '%s', modified_by = '%s' WHERE policy_id = '%s' AND status = 'Active'`,
		today, now, modifiedBy, policy.PolicyID,
	))

	p.writer.AddRawStatement("policy_member_lapse", fmt.Sprintf(
		`UPDATE policy_member SET is_active = FALSE, end_date = '%s' WHERE policy_id = '%s' AND is_active = TRUE`,
		today, policy.PolicyID,
	))

	p.state.RemovePolicy(policy.PolicyID)

	p.counters["policies_lapsed"]++

	p.logInfo(logMsgPolicyLapsed,
		logAttrPolicyID, policy.PolicyID.String(),
		logAttrDaysOverdue, daysOverdue)

	return nil
}

func (p *PolicyProcess) generateMemberUpdates(ctx context.Context) error {
	policyIDs := sortedUUIDs(p.state.Policies)
	if len(policyIDs) == 0 {
		return nil
	}

	updates := p.rng.Poisson(float64(len(policyIDs)) * p.cfg.MemberUpdateDailyRate)

	for i := 0; i < updates; i++ {
		policy := p.state.Policies[policyIDs[p.rng.IntN(len(policyIDs))]]

		record, err := p.buildRecord("member_update", core.GeneratorContext{
			RNG:       p.rng,
			Clock:     p.clock,
			WorkerID:  p.partition.WorkerID(),
			MemberID:  policy.MemberID,
			RelatedID: p.partition.GenerateOwnedUUID(p.rng),
		})
		if err != nil {
			return err
		}
		if err = p.writer.Add(ctx, "member_update", record); err != nil {
			return err
		}

		p.counters["member_updates"]++
	}

	return nil
}

func (p *PolicyProcess) buildRecord(table string, genCtx core.GeneratorContext) (db.Record, error) {
	generator, known := p.gens[table]
	if !known {
		return nil, errors.Join(ErrUnknownGenerator, errors.New(table))
	}

	return generator.Generate(genCtx), nil
}

type policySnapshot struct {
	PendingInvoices map[uuid.UUID]*pendingInvoice `json:"pending_invoices"`
	Counters        map[string]int                `json:"counters"`
}

func (p *PolicyProcess) SnapshotState() ([]byte, error) {
	return jsoniter.ConfigFastest.Marshal(policySnapshot{
		PendingInvoices: p.pendingInvoices,
		Counters:        p.counters,
	})
}

func (p *PolicyProcess) RestoreState(data []byte) error {
	var snapshot policySnapshot
	if err := jsoniter.ConfigFastest.Unmarshal(data, &snapshot); err != nil {
		return err
	}

	p.pendingInvoices = snapshot.PendingInvoices
	if p.pendingInvoices == nil {
		p.pendingInvoices = make(map[uuid.UUID]*pendingInvoice)
	}

	p.counters = snapshot.Counters
	if p.counters == nil {
		p.counters = make(map[string]int)
	}

	return nil
}

// Counters exposes the process statistics for the worker's stats file.
func (p *PolicyProcess) Counters() map[string]int {
	return p.counters
}

func (p *PolicyProcess) logDebug(msg string, args ...any) {
	if p.logger != nil {
		p.logger.Debug(msg, args...)
	}
}

func (p *PolicyProcess) logInfo(msg string, args ...any) {
	if p.logger != nil {
		p.logger.Info(msg, args...)
	}
}

func daysInMonth(t time.Time) int {
	firstOfNext := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)

	return firstOfNext.AddDate(0, 0, -1).Day()
}

func sameMonth(a time.Time, b time.Time) bool {
	return a.Year() == b.Year() && a.Month() == b.Month()
}
