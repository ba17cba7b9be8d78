// Package audit scores a taxpayer's aggregated data for compliance and data
// quality. Every rule is independent; the order of evaluation only affects the
// order flags are presented in.
package audit

import (
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/shopspring/decimal"
)

// MaxScore is the score of a return with no flags.
const MaxScore = 100

// Input is everything an audit rule may look at.
// GrossIncome is the gross the caller declared; Income is what the records add up to.
type Input struct {
	FinancialYear string
	Regime        domain.Regime
	GrossIncome   domain.Money
	Income        domain.IncomeSummary
	Records       []domain.IncomeRecord
	Deductions    domain.DeductionSummary
}

// DeductionRatio is capped deductions over declared gross income.
// Zero when gross is not positive.
func (in *Input) DeductionRatio() decimal.Decimal {
	if in.GrossIncome <= 0 {
		return decimal.Zero
	}
	return in.Deductions.TotalCapped.Decimal().Div(in.GrossIncome.Decimal())
}

// UnverifiedRecords counts records with neither a source reference nor a
// user confirmation.
func (in *Input) UnverifiedRecords() int {
	n := 0
	for _, r := range in.Records {
		if !r.Verified() {
			n++
		}
	}
	return n
}

// Rule is a named, pure check over the audit input.
type Rule struct {
	ID    string
	Check func(in *Input) []domain.AuditFlag
}

// Engine evaluates an ordered rule list.
type Engine struct {
	rules []Rule
}

// NewEngine creates an engine over rules. With no rules it uses BuiltinRules.
func NewEngine(rules ...Rule) *Engine {
	if len(rules) == 0 {
		rules = BuiltinRules()
	}
	return &Engine{rules: rules}
}

// Rules returns the engine's rule IDs in evaluation order.
func (e *Engine) Rules() []string {
	ids := make([]string, len(e.rules))
	for i, r := range e.rules {
		ids[i] = r.ID
	}
	return ids
}

// Run evaluates the engine's rules followed by extra, and folds the flags into
// a report. Each flag removes its penalty from MaxScore; the score never goes
// below zero.
func (e *Engine) Run(in *Input, extra ...Rule) *domain.AuditReport {
	flags := make([]domain.AuditFlag, 0)
	for _, r := range e.rules {
		flags = append(flags, r.Check(in)...)
	}
	for _, r := range extra {
		flags = append(flags, r.Check(in)...)
	}
	return Report(flags)
}

// Report builds a scored report from an already evaluated flag list.
func Report(flags []domain.AuditFlag) *domain.AuditReport {
	score := MaxScore
	var summary domain.AuditSummary

	for i := range flags {
		f := &flags[i]
		if f.Severity == domain.SeverityCritical || f.Severity == domain.SeverityError {
			f.ResolutionRequired = true
		}

		score -= f.Penalty
		summary.TotalFlags++
		switch f.Severity {
		case domain.SeverityCritical:
			summary.Critical++
		case domain.SeverityError:
			summary.Errors++
		case domain.SeverityWarning:
			summary.Warnings++
		default:
			summary.Info++
		}
		if f.ResolutionRequired {
			summary.ResolutionRequired++
		}
	}
	if score < 0 {
		score = 0
	}

	return &domain.AuditReport{
		AuditScore:     score,
		ReadinessLevel: domain.ReadinessFor(score),
		Flags:          flags,
		Summary:        summary,
	}
}
