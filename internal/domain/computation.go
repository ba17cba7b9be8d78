package domain

import "github.com/shopspring/decimal"

// SlabTax is the share of taxable income and tax that fell into one slab.
type SlabTax struct {
	SlabIndex     int             `json:"slabIndex"`
	Min           Money           `json:"min"`
	Max           *Money          `json:"max"`
	RatePercent   decimal.Decimal `json:"ratePercent"`
	TaxableInSlab Money           `json:"taxableInSlab"`
	TaxInSlab     Money           `json:"taxInSlab"`
}

// TaxComputationResult is the outcome of running one regime's slabs over an
// income. Component amounts are shown to the paisa; only TotalTax is rounded
// to the rupee, and it is rounded from the exact sum.
type TaxComputationResult struct {
	FinancialYear        string          `json:"financialYear"`
	Regime               Regime          `json:"regime"`
	GrossIncome          Money           `json:"grossIncome"`
	StandardDeduction    Money           `json:"standardDeduction"`
	TotalDeductions      Money           `json:"totalDeductions"`
	TaxableIncome        Money           `json:"taxableIncome"`
	SlabBreakdown        []SlabTax       `json:"slabBreakdown"`
	TaxBeforeRebate      Money           `json:"taxBeforeRebate"`
	Rebate87A            Money           `json:"rebate87A"`
	TaxAfterRebate       Money           `json:"taxAfterRebate"`
	Surcharge            Money           `json:"surcharge"`
	SurchargeRatePercent decimal.Decimal `json:"surchargeRatePercent"`
	Cess                 Money           `json:"cess"`
	TotalTax             Money           `json:"totalTax"`
	EffectiveRatePercent decimal.Decimal `json:"effectiveRatePercent"`
}

// RegimeComparison holds both regime results for the same income and claims.
type RegimeComparison struct {
	Old           *TaxComputationResult `json:"old"`
	New           *TaxComputationResult `json:"new"`
	Cheaper       Regime                `json:"cheaper"`
	SavingsAmount Money                 `json:"savingsAmount"`
}

// Result returns the computation for the given regime.
func (c *RegimeComparison) Result(r Regime) *TaxComputationResult {
	if r == RegimeOld {
		return c.Old
	}
	return c.New
}

// Assessment is the output of the full pipeline for one taxpayer.
type Assessment struct {
	FinancialYear   string                `json:"financialYear"`
	Selected        Regime                `json:"selectedRegime"`
	Income          IncomeSummary         `json:"income"`
	Deductions      DeductionSummary      `json:"deductions"`
	Comparison      *RegimeComparison     `json:"comparison"`
	Audit           *AuditReport          `json:"audit"`
	Recommendations *RecommendationReport `json:"recommendations"`
}
