// Package tax implements the progressive slab calculator and the regime
// comparator.
package tax

import (
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Base is the income a regime is computed on.
type Base struct {
	Gross             domain.Money
	StandardDeduction domain.Money
	Deductions        domain.Money
}

// Taxable returns gross less both deductions, floored at zero.
func (b Base) Taxable() domain.Money {
	return (b.Gross - b.StandardDeduction - b.Deductions).Max(0)
}

// Compute runs the slabs of table over a taxable income. Gross income is taken
// to be the taxable income itself; negative input is clamped to zero.
func Compute(taxable domain.Money, table *domain.TaxRuleTable) *domain.TaxComputationResult {
	taxable = taxable.Max(0)
	return compute(Base{Gross: taxable}, taxable, table)
}

// ComputeBase derives taxable income from base and runs the slabs.
func ComputeBase(base Base, table *domain.TaxRuleTable) *domain.TaxComputationResult {
	return compute(base, base.Taxable(), table)
}

func compute(base Base, taxable domain.Money, table *domain.TaxRuleTable) *domain.TaxComputationResult {
	res := &domain.TaxComputationResult{
		FinancialYear:     table.FinancialYear,
		Regime:            table.Regime,
		GrossIncome:       base.Gross,
		StandardDeduction: base.StandardDeduction,
		TotalDeductions:   base.Deductions,
		TaxableIncome:     taxable,
		SlabBreakdown:     make([]domain.SlabTax, 0, len(table.Slabs)),
	}

	// All intermediate amounts stay exact, in paise.
	income := taxable.Decimal()
	before := decimal.Zero
	for i, slab := range table.Slabs {
		inSlab := decimal.Zero
		if income.GreaterThan(slab.Min.Decimal()) {
			upper := income
			if slab.Max != nil {
				upper = decimal.Min(income, slab.Max.Decimal())
			}
			inSlab = upper.Sub(slab.Min.Decimal())
		}
		slabTax := inSlab.Mul(slab.RatePercent).Div(hundred)
		before = before.Add(slabTax)

		res.SlabBreakdown = append(res.SlabBreakdown, domain.SlabTax{
			SlabIndex:     i,
			Min:           slab.Min,
			Max:           slab.Max,
			RatePercent:   slab.RatePercent,
			TaxableInSlab: domain.RoundToPaisa(inSlab),
			TaxInSlab:     domain.RoundToPaisa(slabTax),
		})
	}

	rebate := decimal.Zero
	if taxable <= table.RebateThresholdIncome {
		rebate = decimal.Min(before, table.RebateMaxAmount.Decimal())
	}
	after := before.Sub(rebate)

	surchargeRate := SurchargeRate(surchargeBasis(base, taxable, table), table)
	surcharge := after.Mul(surchargeRate).Div(hundred)
	cess := after.Add(surcharge).Mul(table.CessRatePercent).Div(hundred)

	res.TaxBeforeRebate = domain.RoundToPaisa(before)
	res.Rebate87A = domain.RoundToPaisa(rebate)
	res.TaxAfterRebate = domain.RoundToPaisa(after)
	res.Surcharge = domain.RoundToPaisa(surcharge)
	res.SurchargeRatePercent = surchargeRate
	res.Cess = domain.RoundToPaisa(cess)
	res.TotalTax = domain.RoundToRupee(after.Add(surcharge).Add(cess))
	res.EffectiveRatePercent = EffectiveRate(res.TotalTax, res.GrossIncome)

	return res
}

func surchargeBasis(base Base, taxable domain.Money, table *domain.TaxRuleTable) domain.Money {
	if table.SurchargeBasis == domain.SurchargeOnGross {
		return base.Gross
	}
	return taxable
}

// SurchargeRate returns the rate of the highest band whose threshold the
// income reaches, or zero. No marginal relief is applied.
func SurchargeRate(income domain.Money, table *domain.TaxRuleTable) decimal.Decimal {
	rate := decimal.Zero
	for _, band := range table.SurchargeBands {
		if band.MinIncome <= income {
			rate = band.RatePercent
		}
	}
	return rate
}

// EffectiveRate is total tax as a percentage of gross, to two places.
func EffectiveRate(total, gross domain.Money) decimal.Decimal {
	if gross <= 0 {
		return decimal.Zero
	}
	return total.Decimal().Div(gross.Decimal()).Mul(hundred).Round(2)
}

// MarginalRate returns the rate of the slab that contains taxable.
func MarginalRate(taxable domain.Money, table *domain.TaxRuleTable) decimal.Decimal {
	if len(table.Slabs) == 0 {
		return decimal.Zero
	}
	for _, slab := range table.Slabs {
		if slab.Max == nil || taxable <= *slab.Max {
			return slab.RatePercent
		}
	}
	return table.Slabs[len(table.Slabs)-1].RatePercent
}
