// Package recommend turns a taxpayer's aggregates and regime comparison into
// a prioritized list of quantified suggestions.
package recommend

import (
	"cmp"
	"slices"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/tax"
	"github.com/shopspring/decimal"
)

// Input is everything a recommendation rule may look at. OldTax and NewTax are
// the totals of the two regimes; Audit is optional.
type Input struct {
	FinancialYear string
	Regime        domain.Regime
	GrossIncome   domain.Money
	OldTax        domain.Money
	NewTax        domain.Money
	Income        domain.IncomeSummary
	Deductions    domain.DeductionSummary
	Tables        *domain.RuleTables
	Audit         *domain.AuditReport
}

// Table returns the rule table of the selected regime.
func (in *Input) Table() *domain.TaxRuleTable {
	return in.Tables.For(in.Regime)
}

// SelectedTax is the total tax under the selected regime.
func (in *Input) SelectedTax() domain.Money {
	if in.Regime == domain.RegimeOld {
		return in.OldTax
	}
	return in.NewTax
}

// Cheaper returns the regime with the lower tax; ties favour new.
func (in *Input) Cheaper() domain.Regime {
	if in.OldTax < in.NewTax {
		return domain.RegimeOld
	}
	return domain.RegimeNew
}

// Taxable is the taxable income under the selected regime.
func (in *Input) Taxable() domain.Money {
	return tax.BaseFor(in.GrossIncome, in.Deductions, in.Table()).Taxable()
}

// TaxOn estimates the tax a deduction of amount would save at the taxpayer's
// current marginal slab rate, cess included, rounded to the rupee.
func (in *Input) TaxOn(amount domain.Money) domain.Money {
	table := in.Table()
	rate := tax.MarginalRate(in.Taxable(), table).Div(percent)
	cess := decimal.NewFromInt(1).Add(table.CessRatePercent.Div(percent))
	return domain.RoundToRupee(amount.Decimal().Mul(rate).Mul(cess))
}

var percent = decimal.NewFromInt(100)

// Rule is a named, pure suggestion. Suggest returns nil when it does not apply.
type Rule struct {
	ID      string
	Suggest func(in *Input) *domain.Recommendation
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

// Run evaluates every rule and returns the recommendations stable-sorted by
// priority, so equal priorities keep rule order.
func (e *Engine) Run(in *Input) *domain.RecommendationReport {
	recs := make([]domain.Recommendation, 0, len(e.rules))
	for _, r := range e.rules {
		if rec := r.Suggest(in); rec != nil {
			recs = append(recs, *rec)
		}
	}

	slices.SortStableFunc(recs, func(a, b domain.Recommendation) int {
		return cmp.Compare(a.Priority.Rank(), b.Priority.Rank())
	})

	return &domain.RecommendationReport{
		Recommendations: recs,
		Summary:         summarize(recs),
	}
}

func summarize(recs []domain.Recommendation) domain.RecommendationSummary {
	s := domain.RecommendationSummary{
		Total:  len(recs),
		ByType: make(map[domain.RecommendationType]int),
	}
	for _, r := range recs {
		s.ByType[r.Type]++
		if r.ActionRequired {
			s.ActionRequired++
		}
		if r.Type == domain.RecommendOptimization || r.Type == domain.RecommendPlanning {
			s.TotalPotentialSavings += r.ImpactAmount
		}
	}
	return s
}
