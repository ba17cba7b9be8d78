package domain

import "github.com/shopspring/decimal"

// ExportDocumentType and ExportVersion identify the export payload layout.
const (
	ExportDocumentType = "tax_computation_summary"
	ExportVersion      = "1.0"
)

// ExportDocument is the structured summary handed to downstream renderers.
// It carries no timestamps of its own so the same inputs always produce the
// same document.
type ExportDocument struct {
	DocumentID       string               `json:"document_id"`
	DocumentType     string               `json:"document_type"`
	Version          string               `json:"version"`
	FinancialYear    string               `json:"financial_year"`
	AssessmentYear   string               `json:"assessment_year"`
	Regime           Regime               `json:"regime"`
	Taxpayer         ExportTaxpayer       `json:"taxpayer"`
	IncomeSummary    ExportIncomeSummary  `json:"income_summary"`
	DeductionsTable  []ExportDeductionRow `json:"deductions_table"`
	SlabWiseTaxTable []ExportSlabRow      `json:"slab_wise_tax_table"`
	TaxComputation   ExportTaxComputation `json:"tax_computation"`
	Disclaimer       string               `json:"disclaimer"`
	Footer           string               `json:"footer"`
}

// ExportTaxpayer is caller-supplied metadata printed on the document.
type ExportTaxpayer struct {
	Name       string `json:"name,omitempty"`
	PAN        string `json:"pan,omitempty"`
	PreparedOn string `json:"prepared_on,omitempty"`
}

// ExportIncomeSummary lists income by type.
type ExportIncomeSummary struct {
	Lines       []ExportIncomeLine `json:"lines"`
	GrossIncome Money              `json:"gross_income"`
}

// ExportIncomeLine is one income type row.
type ExportIncomeLine struct {
	Type   IncomeType `json:"type"`
	Amount Money      `json:"amount"`
}

// ExportDeductionRow is one deduction section row.
type ExportDeductionRow struct {
	Section SectionCode `json:"section"`
	Claimed Money       `json:"claimed"`
	Limit   *Money      `json:"limit"`
	Allowed Money       `json:"allowed"`
}

// ExportSlabRow is one slab of the computation.
type ExportSlabRow struct {
	Slab          string          `json:"slab"`
	RatePercent   decimal.Decimal `json:"rate_percent"`
	TaxableAmount Money           `json:"taxable_amount"`
	Tax           Money           `json:"tax"`
}

// ExportTaxComputation is the computation waterfall.
type ExportTaxComputation struct {
	GrossIncome          Money           `json:"gross_income"`
	StandardDeduction    Money           `json:"standard_deduction"`
	TotalDeductions      Money           `json:"total_deductions"`
	TaxableIncome        Money           `json:"taxable_income"`
	TaxBeforeRebate      Money           `json:"tax_before_rebate"`
	Rebate87A            Money           `json:"rebate_87a"`
	TaxAfterRebate       Money           `json:"tax_after_rebate"`
	Surcharge            Money           `json:"surcharge"`
	Cess                 Money           `json:"cess"`
	TotalTax             Money           `json:"total_tax"`
	EffectiveRatePercent decimal.Decimal `json:"effective_rate_percent"`
}
