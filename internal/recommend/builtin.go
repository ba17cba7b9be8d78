package recommend

import (
	"fmt"
	"strings"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/tax"
)

// Built-in rule identifiers.
const (
	RuleRegimeSwitch       = "regime.switch"
	Rule80CHeadroom        = "deduction.80c_headroom"
	RuleNPSHeadroom        = "deduction.nps_headroom"
	RuleHealthInsurance    = "deduction.health_insurance"
	RuleMissingSources     = "income.missing_sources"
	RuleSurchargeAwareness = "income.surcharge_awareness"
	RuleAdvanceTax         = "tax.advance_tax"
	RuleResolveAuditFlags  = "audit.resolve_flags"
)

var (
	criticalSwitchSavings = domain.Rupees(50000)
	highHeadroom          = domain.Rupees(50000)
	advanceTaxGross       = domain.Rupees(1000000)
	advanceTaxLiability   = domain.Rupees(10000)
)

// BuiltinRules returns the recommendation rules in evaluation order.
func BuiltinRules() []Rule {
	return []Rule{
		{ID: RuleRegimeSwitch, Suggest: suggestRegimeSwitch},
		{ID: Rule80CHeadroom, Suggest: suggest80CHeadroom},
		{ID: RuleNPSHeadroom, Suggest: suggestNPSHeadroom},
		{ID: RuleHealthInsurance, Suggest: suggestHealthInsurance},
		{ID: RuleMissingSources, Suggest: suggestMissingSources},
		{ID: RuleSurchargeAwareness, Suggest: suggestSurchargeAwareness},
		{ID: RuleAdvanceTax, Suggest: suggestAdvanceTax},
		{ID: RuleResolveAuditFlags, Suggest: suggestResolveAuditFlags},
	}
}

func suggestRegimeSwitch(in *Input) *domain.Recommendation {
	cheaper := in.Cheaper()
	savings := (in.OldTax - in.NewTax).Abs()
	if cheaper == in.Regime || savings <= 0 {
		return nil
	}

	priority := domain.PriorityHigh
	if savings >= criticalSwitchSavings {
		priority = domain.PriorityCritical
	}
	return &domain.Recommendation{
		RuleID:         RuleRegimeSwitch,
		Type:           domain.RecommendOptimization,
		Category:       "regime",
		Priority:       priority,
		Title:          fmt.Sprintf("Switch to the %s regime", cheaper),
		Description:    fmt.Sprintf("Filing under the %s regime costs %s less for %s.", cheaper, savings, in.FinancialYear),
		Reason:         fmt.Sprintf("Old regime tax is %s and new regime tax is %s.", in.OldTax, in.NewTax),
		ImpactAmount:   savings,
		Confidence:     domain.ConfidenceHigh,
		ActionRequired: true,
	}
}

func headroom(in *Input, code domain.SectionCode) (domain.Money, domain.Money, bool) {
	if in.Regime != domain.RegimeOld {
		return 0, 0, false
	}
	limit, ok := in.Table().Cap(code)
	if !ok {
		return 0, 0, false
	}
	room := limit - in.Deductions.Section(code).Capped
	if room <= 0 {
		return 0, 0, false
	}
	impact := in.TaxOn(room)
	if impact <= 0 {
		return 0, 0, false
	}
	return room, impact, true
}

func suggest80CHeadroom(in *Input) *domain.Recommendation {
	room, impact, ok := headroom(in, domain.Section80C)
	if !ok {
		return nil
	}

	priority := domain.PriorityMedium
	if room >= highHeadroom {
		priority = domain.PriorityHigh
	}
	return &domain.Recommendation{
		RuleID:       Rule80CHeadroom,
		Type:         domain.RecommendOptimization,
		Category:     "deductions",
		Priority:     priority,
		Title:        "Use the remaining 80C limit",
		Description:  fmt.Sprintf("Investing another %s in PPF, ELSS or life insurance would save about %s.", room, impact),
		Reason:       "Section 80C is not fully used.",
		ImpactAmount: impact,
		Confidence:   domain.ConfidenceMedium,
	}
}

func suggestNPSHeadroom(in *Input) *domain.Recommendation {
	room, impact, ok := headroom(in, domain.Section80CCD1B)
	if !ok {
		return nil
	}
	return &domain.Recommendation{
		RuleID:       RuleNPSHeadroom,
		Type:         domain.RecommendOptimization,
		Category:     "deductions",
		Priority:     domain.PriorityMedium,
		Title:        "Contribute to NPS under 80CCD(1B)",
		Description:  fmt.Sprintf("An additional NPS contribution of %s would save about %s.", room, impact),
		Reason:       "Section 80CCD(1B) allows a deduction over and above 80C.",
		ImpactAmount: impact,
		Confidence:   domain.ConfidenceMedium,
	}
}

func suggestHealthInsurance(in *Input) *domain.Recommendation {
	if in.Regime != domain.RegimeOld || in.Deductions.Claimed(domain.Section80D) {
		return nil
	}
	limit, ok := in.Table().Cap(domain.Section80D)
	if !ok {
		return nil
	}
	impact := in.TaxOn(limit)
	if impact <= 0 {
		return nil
	}
	return &domain.Recommendation{
		RuleID:       RuleHealthInsurance,
		Type:         domain.RecommendPlanning,
		Category:     "insurance",
		Priority:     domain.PriorityMedium,
		Title:        "Consider health insurance",
		Description:  fmt.Sprintf("Premiums up to %s are deductible under 80D and would save about %s.", limit, impact),
		Reason:       "No 80D claim was declared.",
		ImpactAmount: impact,
		Confidence:   domain.ConfidenceLow,
	}
}

func suggestMissingSources(in *Input) *domain.Recommendation {
	if len(in.Income.MissingTypes) == 0 {
		return nil
	}
	names := make([]string, len(in.Income.MissingTypes))
	for i, t := range in.Income.MissingTypes {
		names[i] = string(t)
	}
	return &domain.Recommendation{
		RuleID:      RuleMissingSources,
		Type:        domain.RecommendCompliance,
		Category:    "income",
		Priority:    domain.PriorityLow,
		Title:       "Check for undeclared income",
		Description: "No income was declared of type: " + strings.Join(names, ", ") + ".",
		Reason:      "Most taxpayers have salary and bank interest to report.",
		Confidence:  domain.ConfidenceLow,
	}
}

func suggestSurchargeAwareness(in *Input) *domain.Recommendation {
	table := in.Table()
	if len(table.SurchargeBands) == 0 {
		return nil
	}
	basis := in.Taxable()
	if table.SurchargeBasis == domain.SurchargeOnGross {
		basis = in.GrossIncome
	}
	first := table.SurchargeBands[0].MinIncome
	if basis < first {
		return nil
	}

	res := tax.ComputeRegime(in.GrossIncome, in.Deductions, table)
	return &domain.Recommendation{
		RuleID:       RuleSurchargeAwareness,
		Type:         domain.RecommendRiskAlert,
		Category:     "surcharge",
		Priority:     domain.PriorityMedium,
		Title:        "Income attracts surcharge",
		Description:  fmt.Sprintf("Income of %s is above the %s surcharge threshold; surcharge at %s%% adds %s.", basis, first, res.SurchargeRatePercent, res.Surcharge),
		Reason:       "Surcharge applies without marginal relief in this computation.",
		ImpactAmount: domain.RoundToRupee(res.Surcharge.Decimal()),
		Confidence:   domain.ConfidenceMedium,
	}
}

func suggestAdvanceTax(in *Input) *domain.Recommendation {
	if in.GrossIncome <= advanceTaxGross || in.SelectedTax() <= advanceTaxLiability {
		return nil
	}
	return &domain.Recommendation{
		RuleID:         RuleAdvanceTax,
		Type:           domain.RecommendMandatory,
		Category:       "compliance",
		Priority:       domain.PriorityHigh,
		Title:          "Pay advance tax",
		Description:    fmt.Sprintf("Estimated liability of %s exceeds %s; pay in instalments by 15 June, 15 September, 15 December and 15 March.", in.SelectedTax(), advanceTaxLiability),
		Reason:         "Shortfalls attract interest under sections 234B and 234C.",
		Confidence:     domain.ConfidenceHigh,
		ActionRequired: true,
	}
}

func suggestResolveAuditFlags(in *Input) *domain.Recommendation {
	if !in.Audit.NeedsResolution() {
		return nil
	}
	return &domain.Recommendation{
		RuleID:         RuleResolveAuditFlags,
		Type:           domain.RecommendCompliance,
		Category:       "audit",
		Priority:       domain.PriorityCritical,
		Title:          "Resolve audit issues before filing",
		Description:    fmt.Sprintf("%d audit flag(s) must be fixed before the return is filed.", in.Audit.Summary.ResolutionRequired),
		Reason:         fmt.Sprintf("Audit score is %d (%s).", in.Audit.AuditScore, in.Audit.ReadinessLevel),
		Confidence:     domain.ConfidenceHigh,
		ActionRequired: true,
	}
}
