package audit

import (
	"fmt"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/shopspring/decimal"
)

// Built-in rule identifiers.
const (
	RuleNoIncome          = "income.none"
	RuleUnverifiedIncome  = "income.unverified"
	RuleLimit80C          = "deduction.limit.80C"
	RuleLimit80D          = "deduction.limit.80D"
	RuleLimit24B          = "deduction.limit.24B"
	RuleDeductionRatio    = "deduction.ratio"
	RuleOldLowDeductions  = "regime.old_low_deductions"
	RuleIncomeMismatch    = "income.mismatch"
	RuleUnrecognizedClaim = "deduction.unrecognized"
)

var (
	maxDeductionRatio     = decimal.NewFromFloat(0.5)
	lowDeductionThreshold = domain.Rupees(50000)
	mismatchTolerance     = domain.Rupees(10000)
)

// BuiltinRules returns the statutory and data-quality rules in presentation order.
func BuiltinRules() []Rule {
	return []Rule{
		{ID: RuleNoIncome, Check: checkNoIncome},
		{ID: RuleUnverifiedIncome, Check: checkUnverifiedIncome},
		{ID: RuleLimit80C, Check: checkSectionLimit(RuleLimit80C, domain.Section80C, 20)},
		{ID: RuleLimit80D, Check: checkSectionLimit(RuleLimit80D, domain.Section80D, 15)},
		{ID: RuleLimit24B, Check: checkSectionLimit(RuleLimit24B, domain.Section24B, 15)},
		{ID: RuleDeductionRatio, Check: checkDeductionRatio},
		{ID: RuleOldLowDeductions, Check: checkOldLowDeductions},
		{ID: RuleIncomeMismatch, Check: checkIncomeMismatch},
		{ID: RuleUnrecognizedClaim, Check: checkUnrecognizedClaim},
	}
}

func checkNoIncome(in *Input) []domain.AuditFlag {
	if in.Income.HasRecords() {
		return nil
	}
	return []domain.AuditFlag{{
		RuleID:      RuleNoIncome,
		FlagType:    domain.FlagMissingDocument,
		Severity:    domain.SeverityCritical,
		Title:       "No income records",
		Description: "No income has been declared for " + in.FinancialYear + ". Add at least one income source before filing.",
		Penalty:     30,
	}}
}

func checkUnverifiedIncome(in *Input) []domain.AuditFlag {
	n := in.UnverifiedRecords()
	if n == 0 {
		return nil
	}

	var amount domain.Money
	for _, r := range in.Records {
		if !r.Verified() {
			amount += r.GrossAmount
		}
	}
	return []domain.AuditFlag{{
		RuleID:         RuleUnverifiedIncome,
		FlagType:       domain.FlagVerificationNeeded,
		Severity:       domain.SeverityWarning,
		Title:          "Unverified income sources",
		Description:    fmt.Sprintf("%d income record(s) have no supporting document and were not confirmed.", n),
		AffectedAmount: &amount,
		Penalty:        15,
	}}
}

func checkSectionLimit(id string, code domain.SectionCode, penalty int) func(*Input) []domain.AuditFlag {
	return func(in *Input) []domain.AuditFlag {
		a := in.Deductions.Section(code)
		if a.Cap == nil || a.Excess() <= 0 {
			return nil
		}
		section := code
		excess := a.Excess()
		return []domain.AuditFlag{{
			RuleID:          id,
			FlagType:        domain.FlagLimitExceeded,
			Severity:        domain.SeverityError,
			Title:           fmt.Sprintf("Section %s limit exceeded", code),
			Description:     fmt.Sprintf("Claimed %s under %s against a limit of %s; %s will not be allowed.", a.Claimed, code, *a.Cap, excess),
			AffectedSection: &section,
			AffectedAmount:  &excess,
			Penalty:         penalty,
		}}
	}
}

func checkDeductionRatio(in *Input) []domain.AuditFlag {
	ratio := in.DeductionRatio()
	if !ratio.GreaterThan(maxDeductionRatio) {
		return nil
	}
	total := in.Deductions.TotalCapped
	return []domain.AuditFlag{{
		RuleID:         RuleDeductionRatio,
		FlagType:       domain.FlagHighRisk,
		Severity:       domain.SeverityWarning,
		Title:          "High deduction ratio",
		Description:    fmt.Sprintf("Deductions are %s%% of gross income, which draws scrutiny.", ratio.Mul(decimal.NewFromInt(100)).StringFixed(1)),
		AffectedAmount: &total,
		Penalty:        10,
	}}
}

func checkOldLowDeductions(in *Input) []domain.AuditFlag {
	if in.Regime != domain.RegimeOld || in.Deductions.TotalCapped >= lowDeductionThreshold {
		return nil
	}
	return []domain.AuditFlag{{
		RuleID:      RuleOldLowDeductions,
		FlagType:    domain.FlagCompliance,
		Severity:    domain.SeverityInfo,
		Title:       "Old regime with few deductions",
		Description: fmt.Sprintf("Total deductions of %s are below %s; the new regime may cost less.", in.Deductions.TotalCapped, lowDeductionThreshold),
		Penalty:     5,
	}}
}

func checkIncomeMismatch(in *Input) []domain.AuditFlag {
	diff := (in.GrossIncome - in.Income.GrossIncome).Abs()
	if diff <= mismatchTolerance {
		return nil
	}
	return []domain.AuditFlag{{
		RuleID:         RuleIncomeMismatch,
		FlagType:       domain.FlagMismatch,
		Severity:       domain.SeverityWarning,
		Title:          "Declared income does not match records",
		Description:    fmt.Sprintf("Declared gross income %s differs from the sum of income records %s.", in.GrossIncome, in.Income.GrossIncome),
		AffectedAmount: &diff,
		Penalty:        10,
	}}
}

func checkUnrecognizedClaim(in *Input) []domain.AuditFlag {
	if !in.Deductions.Claimed(domain.SectionOther) {
		return nil
	}
	section := domain.SectionOther
	amount := in.Deductions.Section(domain.SectionOther).Claimed
	return []domain.AuditFlag{{
		RuleID:          RuleUnrecognizedClaim,
		FlagType:        domain.FlagVerificationNeeded,
		Severity:        domain.SeverityWarning,
		Title:           "Unrecognized deduction section",
		Description:     fmt.Sprintf("Claims of %s use a section code that is not recognized and were not deducted.", amount),
		AffectedSection: &section,
		AffectedAmount:  &amount,
		Penalty:         5,
	}}
}
