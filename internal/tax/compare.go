package tax

import (
	"github.com/opensource-finance/harrier/internal/domain"
)

// DeductionsUnder returns the capped deductions a regime lets the taxpayer
// claim. The old regime takes every capped section; the new regime only the
// sections its table allows.
func DeductionsUnder(d domain.DeductionSummary, table *domain.TaxRuleTable) domain.Money {
	if table.Regime == domain.RegimeOld {
		return d.TotalCapped
	}
	return d.AllowedUnder(table)
}

// BaseFor builds the computation base for one regime.
func BaseFor(gross domain.Money, d domain.DeductionSummary, table *domain.TaxRuleTable) Base {
	return Base{
		Gross:             gross,
		StandardDeduction: table.StandardDeduction,
		Deductions:        DeductionsUnder(d, table),
	}
}

// ComputeRegime computes one regime from gross income and aggregated claims.
func ComputeRegime(gross domain.Money, d domain.DeductionSummary, table *domain.TaxRuleTable) *domain.TaxComputationResult {
	return ComputeBase(BaseFor(gross, d, table), table)
}

// Compare computes both regimes on the same income and claims. Ties favour
// the new regime.
func Compare(gross domain.Money, d domain.DeductionSummary, tables *domain.RuleTables) *domain.RegimeComparison {
	old := ComputeRegime(gross, d, tables.Old)
	nw := ComputeRegime(gross, d, tables.New)

	cmp := &domain.RegimeComparison{
		Old:           old,
		New:           nw,
		Cheaper:       domain.RegimeNew,
		SavingsAmount: (old.TotalTax - nw.TotalTax).Abs(),
	}
	if old.TotalTax < nw.TotalTax {
		cmp.Cheaper = domain.RegimeOld
	}
	return cmp
}
