package processes

import (
	"fmt"

	"github.com/brickwellhealth/simulator/core"
	"github.com/brickwellhealth/simulator/db"
)

// Reference data for synthetic record payloads. Kept small on purpose; the
// distributions matter more than the vocabulary.
var (
	firstNames = []string{
		"Olivia", "Noah", "Amelia", "Jack", "Charlotte", "William", "Mia",
		"Oliver", "Grace", "Henry", "Ava", "Thomas", "Isla", "Lucas", "Ruby",
		"James", "Evie", "Leo", "Sophie", "Ethan",
	}

	lastNames = []string{
		"Smith", "Jones", "Williams", "Brown", "Wilson", "Taylor", "Nguyen",
		"Johnson", "Martin", "White", "Anderson", "Walker", "Thompson",
		"Harris", "Lee", "Ryan", "Robinson", "Kelly", "King", "Chen",
	}

	residentialStates = []string{"NSW", "VIC", "QLD", "WA", "SA", "TAS", "ACT", "NT"}
	stateWeights      = []float64{0.32, 0.26, 0.20, 0.10, 0.07, 0.02, 0.02, 0.01}

	policyTypes       = []string{"Single", "Couple", "Family", "SingleParent"}
	policyTypeWeights = []float64{0.35, 0.25, 0.30, 0.10}

	productTiers    = []string{"Gold", "Silver", "Bronze", "Basic"}
	tierWeights     = []float64{0.15, 0.30, 0.40, 0.15}
	tierBasePremium = map[string]float64{
		"Gold":   420.0,
		"Silver": 310.0,
		"Bronze": 215.0,
		"Basic":  140.0,
	}

	coverageAnnualLimits = map[string]float64{
		"Hospital":  0, // unlimited
		"Extras":    1800.0,
		"Ambulance": 5000.0,
	}

	interactionChannels      = []string{"Phone", "Chat", "Email", "Branch"}
	interactionChannelWeight = []float64{0.50, 0.25, 0.17, 0.08}

	communicationChannels = []string{"Email", "SMS", "Letter"}
	commChannelWeights    = []float64{0.70, 0.22, 0.08}
)

// DefaultGenerators returns the domain generators keyed by destination
// table. Processes resolve payload builders through this map so tests can
// substitute deterministic ones.
func DefaultGenerators() map[string]core.Generator {
	return map[string]core.Generator{
		"member":              core.GeneratorFunc(memberRecord),
		"member_update":       core.GeneratorFunc(memberUpdateRecord),
		"policy":              core.GeneratorFunc(policyRecord),
		"policy_member":       core.GeneratorFunc(policyMemberRecord),
		"coverage":            core.GeneratorFunc(coverageRecord),
		"invoice":             core.GeneratorFunc(invoiceRecord),
		"payment":             core.GeneratorFunc(paymentRecord),
		"arrears":             core.GeneratorFunc(arrearsRecord),
		"claim":               core.GeneratorFunc(claimRecord),
		"claim_assessment":    core.GeneratorFunc(claimAssessmentRecord),
		"interaction":         core.GeneratorFunc(interactionRecord),
		"service_case":        core.GeneratorFunc(serviceCaseRecord),
		"complaint":           core.GeneratorFunc(complaintRecord),
		"communication":       core.GeneratorFunc(communicationRecord),
		"web_session":         core.GeneratorFunc(webSessionRecord),
		"nps_survey_pending":  core.GeneratorFunc(surveyPendingRecord),
		"csat_survey_pending": core.GeneratorFunc(surveyPendingRecord),
	}
}

func memberRecord(ctx core.GeneratorContext) db.Record {
	ageYears := 18 + ctx.RNG.IntN(62)
	dob := ctx.Clock.CurrentDate().AddDate(-ageYears, 0, -ctx.RNG.IntN(365))
	first := ctx.RNG.Choice(firstNames)
	last := ctx.RNG.Choice(lastNames)

	gender := "Female"
	if ctx.RNG.Float64() < 0.49 {
		gender = "Male"
	}

	return db.Record{
		"member_id":     ctx.MemberID,
		"first_name":    first,
		"last_name":     last,
		"date_of_birth": dob,
		"gender":        gender,
		"state":         ctx.RNG.WeightedChoice(residentialStates, stateWeights),
		"email":         fmt.Sprintf("%s.%s.%d@example.com", first, last, ctx.RNG.IntN(10000)),
		"created_at":    ctx.Clock.CurrentDateTime(),
		"modified_by":   modifiedBy,
	}
}

func memberUpdateRecord(ctx core.GeneratorContext) db.Record {
	fields := []string{"address", "email", "phone", "bank_account"}

	return db.Record{
		"member_update_id": ctx.RelatedID,
		"member_id":        ctx.MemberID,
		"updated_field":    ctx.RNG.Choice(fields),
		"update_source":    ctx.RNG.WeightedChoice([]string{"Portal", "Phone", "Branch"}, []float64{0.6, 0.3, 0.1}),
		"updated_at":       ctx.Clock.CurrentDateTime(),
		"modified_by":      modifiedBy,
	}
}

func policyRecord(ctx core.GeneratorContext) db.Record {
	policyType := ctx.Attrs["policy_type"].(string)
	tier := ctx.Attrs["product_tier"].(string)
	premium := ctx.Attrs["premium_monthly"].(float64)

	return db.Record{
		"policy_id":       ctx.PolicyID,
		"member_id":       ctx.MemberID,
		"policy_number":   fmt.Sprintf("BW%02d%08d", ctx.WorkerID, ctx.RNG.IntN(100000000)),
		"policy_type":     policyType,
		"product_tier":    tier,
		"policy_status":   "Active",
		"effective_date":  ctx.Clock.CurrentDate(),
		"premium_monthly": premium,
		"excess_amount":   float64(ctx.RNG.UniformN(0, 3) * 250),
		"created_at":      ctx.Clock.CurrentDateTime(),
		"modified_by":     modifiedBy,
	}
}

func policyMemberRecord(ctx core.GeneratorContext) db.Record {
	return db.Record{
		"policy_member_id": ctx.RelatedID,
		"policy_id":        ctx.PolicyID,
		"member_id":        ctx.MemberID,
		"is_primary":       ctx.Attrs["is_primary"].(bool),
		"is_active":        true,
		"start_date":       ctx.Clock.CurrentDate(),
	}
}

func coverageRecord(ctx core.GeneratorContext) db.Record {
	coverageType := ctx.Attrs["coverage_type"].(string)

	return db.Record{
		"coverage_id":   ctx.RelatedID,
		"policy_id":     ctx.PolicyID,
		"coverage_type": coverageType,
		"status":        "Active",
		"start_date":    ctx.Clock.CurrentDate(),
		"annual_limit":  coverageAnnualLimits[coverageType],
		"modified_by":   modifiedBy,
	}
}

func invoiceRecord(ctx core.GeneratorContext) db.Record {
	return db.Record{
		"invoice_id":     ctx.RelatedID,
		"policy_id":      ctx.PolicyID,
		"invoice_status": "Issued",
		"total_amount":   ctx.Attrs["amount"].(float64),
		"paid_amount":    0.0,
		"issue_date":     ctx.Clock.CurrentDate(),
		"due_date":       ctx.Attrs["due_date"],
		"created_at":     ctx.Clock.CurrentDateTime(),
		"modified_by":    modifiedBy,
	}
}

func paymentRecord(ctx core.GeneratorContext) db.Record {
	return db.Record{
		"payment_id":     ctx.Attrs["payment_id"],
		"invoice_id":     ctx.RelatedID,
		"policy_id":      ctx.PolicyID,
		"amount":         ctx.Attrs["amount"].(float64),
		"payment_method": "DirectDebit",
		"payment_date":   ctx.Clock.CurrentDate(),
		"created_at":     ctx.Clock.CurrentDateTime(),
	}
}

func arrearsRecord(ctx core.GeneratorContext) db.Record {
	return db.Record{
		"arrears_id":   ctx.Attrs["arrears_id"],
		"policy_id":    ctx.PolicyID,
		"invoice_id":   ctx.RelatedID,
		"amount":       ctx.Attrs["amount"].(float64),
		"days_overdue": ctx.Attrs["days_overdue"].(int),
		"arrears_date": ctx.Clock.CurrentDate(),
		"created_at":   ctx.Clock.CurrentDateTime(),
	}
}

func claimRecord(ctx core.GeneratorContext) db.Record {
	serviceDate := ctx.Clock.CurrentDate().AddDate(0, 0, -ctx.RNG.IntN(21))

	return db.Record{
		"claim_id":       ctx.RelatedID,
		"policy_id":      ctx.PolicyID,
		"member_id":      ctx.MemberID,
		"claim_type":     ctx.Attrs["claim_type"].(string),
		"claim_status":   "SUBMITTED",
		"total_charge":   ctx.Attrs["total_charge"].(float64),
		"service_date":   serviceDate,
		"lodgement_date": ctx.Clock.CurrentDate(),
		"created_at":     ctx.Clock.CurrentDateTime(),
		"modified_by":    modifiedBy,
	}
}

func claimAssessmentRecord(ctx core.GeneratorContext) db.Record {
	outcome := "Payable"
	if !ctx.Attrs["approved"].(bool) {
		outcome = "Rejected"
	}

	return db.Record{
		"assessment_id":   ctx.Attrs["assessment_id"],
		"claim_id":        ctx.RelatedID,
		"assessor":        modifiedBy,
		"outcome":         outcome,
		"benefit_amount":  ctx.Attrs["benefit_amount"].(float64),
		"assessment_date": ctx.Clock.CurrentDate(),
		"created_at":      ctx.Clock.CurrentDateTime(),
	}
}

func interactionRecord(ctx core.GeneratorContext) db.Record {
	return db.Record{
		"interaction_id":           ctx.RelatedID,
		"member_id":                ctx.MemberID,
		"policy_id":                ctx.PolicyID,
		"interaction_type":         ctx.Attrs["interaction_type"].(string),
		"channel":                  ctx.RNG.WeightedChoice(interactionChannels, interactionChannelWeight),
		"first_contact_resolution": ctx.Attrs["fcr"].(bool),
		"duration_minutes":         2 + ctx.RNG.IntN(28),
		"started_at":               ctx.Clock.CurrentDateTime(),
		"created_by":               modifiedBy,
	}
}

func serviceCaseRecord(ctx core.GeneratorContext) db.Record {
	return db.Record{
		"case_id":     ctx.RelatedID,
		"member_id":   ctx.MemberID,
		"policy_id":   ctx.PolicyID,
		"case_type":   ctx.Attrs["case_type"].(string),
		"priority":    ctx.RNG.WeightedChoice([]string{"Low", "Medium", "High"}, []float64{0.4, 0.45, 0.15}),
		"case_status": "Open",
		"opened_at":   ctx.Clock.CurrentDateTime(),
		"created_by":  modifiedBy,
	}
}

func complaintRecord(ctx core.GeneratorContext) db.Record {
	return db.Record{
		"complaint_id":     ctx.RelatedID,
		"member_id":        ctx.MemberID,
		"policy_id":        ctx.PolicyID,
		"category":         ctx.Attrs["category"].(string),
		"severity":         ctx.RNG.WeightedChoice([]string{"Low", "Medium", "High"}, []float64{0.5, 0.35, 0.15}),
		"complaint_status": "Received",
		"received_at":      ctx.Clock.CurrentDateTime(),
		"created_by":       modifiedBy,
	}
}

func communicationRecord(ctx core.GeneratorContext) db.Record {
	return db.Record{
		"communication_id": ctx.RelatedID,
		"member_id":        ctx.MemberID,
		"policy_id":        ctx.PolicyID,
		"template_code":    ctx.Attrs["template_code"].(string),
		"channel":          ctx.RNG.WeightedChoice(communicationChannels, commChannelWeights),
		"trigger_event":    ctx.Attrs["trigger_event"].(string),
		"sent_at":          ctx.Clock.CurrentDateTime(),
		"created_by":       modifiedBy,
	}
}

func webSessionRecord(ctx core.GeneratorContext) db.Record {
	return db.Record{
		"session_id":       ctx.RelatedID,
		"member_id":        ctx.MemberID,
		"pages_viewed":     1 + ctx.RNG.IntN(12),
		"duration_seconds": 30 + ctx.RNG.IntN(900),
		"device":           ctx.RNG.WeightedChoice([]string{"Mobile", "Desktop", "Tablet"}, []float64{0.58, 0.35, 0.07}),
		"started_at":       ctx.Clock.CurrentDateTime(),
	}
}

func surveyPendingRecord(ctx core.GeneratorContext) db.Record {
	return db.Record{
		"survey_id":     ctx.RelatedID,
		"member_id":     ctx.MemberID,
		"policy_id":     ctx.PolicyID,
		"survey_type":   ctx.Attrs["survey_type"].(string),
		"trigger_type":  ctx.Attrs["trigger_type"].(string),
		"survey_status": "Pending",
		"invited_at":    ctx.Clock.CurrentDateTime(),
		"created_by":    modifiedBy,
	}
}
