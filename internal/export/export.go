// Package export builds the versioned summary document that downstream
// renderers turn into PDFs or spreadsheets.
package export

import (
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/opensource-finance/harrier/internal/domain"
)

// Disclaimer is printed on every document.
const Disclaimer = "This summary is computed from the figures you supplied and the statutory " +
	"rates for the financial year. It is not tax advice and does not account for marginal " +
	"relief. Verify against Form 16, Form 26AS and AIS before filing."

// documentNamespace seeds name-based document IDs.
var documentNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://harrier.opensource-finance.org/export"))

// Request is a completed computation plus the metadata printed with it.
// Income and Deductions are optional; without them the document carries only
// the totals in Result.
type Request struct {
	Result     *domain.TaxComputationResult `json:"result"`
	Income     *domain.IncomeSummary        `json:"income,omitempty"`
	Deductions *domain.DeductionSummary     `json:"deductions,omitempty"`
	Taxpayer   domain.ExportTaxpayer        `json:"taxpayer"`
}

// Build assembles the document. table, when given, decides which deduction
// rows were allowed under the result's regime. Identical requests produce
// byte-identical documents.
func Build(req *Request, table *domain.TaxRuleTable) (*domain.ExportDocument, error) {
	if req == nil || req.Result == nil {
		return nil, domain.NewValidationError("result", "is required")
	}
	res := req.Result
	if !res.Regime.Valid() {
		return nil, domain.NewValidationError("result.regime", fmt.Sprintf("unknown regime %q", res.Regime))
	}
	fy, err := domain.ParseFinancialYear(res.FinancialYear)
	if err != nil {
		return nil, &domain.ValidationError{Field: "result.financialYear", Reason: err.Error(), Err: err}
	}

	doc := &domain.ExportDocument{
		DocumentType:     domain.ExportDocumentType,
		Version:          domain.ExportVersion,
		FinancialYear:    fy.Code,
		AssessmentYear:   fy.AssessmentYear(),
		Regime:           res.Regime,
		Taxpayer:         req.Taxpayer,
		IncomeSummary:    incomeSummary(req.Income, res.GrossIncome),
		DeductionsTable:  deductionsTable(req.Deductions, res.Regime, table),
		SlabWiseTaxTable: slabTable(res.SlabBreakdown),
		TaxComputation: domain.ExportTaxComputation{
			GrossIncome:          res.GrossIncome,
			StandardDeduction:    res.StandardDeduction,
			TotalDeductions:      res.TotalDeductions,
			TaxableIncome:        res.TaxableIncome,
			TaxBeforeRebate:      res.TaxBeforeRebate,
			Rebate87A:            res.Rebate87A,
			TaxAfterRebate:       res.TaxAfterRebate,
			Surcharge:            res.Surcharge,
			Cess:                 res.Cess,
			TotalTax:             res.TotalTax,
			EffectiveRatePercent: res.EffectiveRatePercent,
		},
		Disclaimer: Disclaimer,
		Footer: fmt.Sprintf("Harrier %s %s | FY %s (AY %s) | %s regime",
			domain.ExportDocumentType, domain.ExportVersion, fy.Code, fy.AssessmentYear(), res.Regime),
	}

	body, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode export document: %w", err)
	}
	doc.DocumentID = uuid.NewSHA1(documentNamespace, body).String()

	return doc, nil
}

func incomeSummary(income *domain.IncomeSummary, gross domain.Money) domain.ExportIncomeSummary {
	s := domain.ExportIncomeSummary{
		Lines:       []domain.ExportIncomeLine{},
		GrossIncome: gross,
	}
	if income == nil {
		return s
	}
	for _, t := range domain.IncomeTypes {
		if amount, ok := income.ByType[t]; ok {
			s.Lines = append(s.Lines, domain.ExportIncomeLine{Type: t, Amount: amount})
		}
	}
	return s
}

func deductionsTable(d *domain.DeductionSummary, regime domain.Regime, table *domain.TaxRuleTable) []domain.ExportDeductionRow {
	rows := []domain.ExportDeductionRow{}
	if d == nil {
		return rows
	}
	allowed := func(code domain.SectionCode) bool {
		return regime == domain.RegimeOld || table == nil || table.Allows(code)
	}

	for _, code := range slices.Concat(domain.KnownSections, []domain.SectionCode{domain.SectionOther}) {
		a, ok := d.BySection[code]
		if !ok {
			continue
		}
		row := domain.ExportDeductionRow{Section: code, Claimed: a.Claimed, Limit: a.Cap}
		if allowed(code) {
			row.Allowed = a.Capped
		}
		rows = append(rows, row)
	}
	return rows
}

func slabTable(slabs []domain.SlabTax) []domain.ExportSlabRow {
	rows := make([]domain.ExportSlabRow, len(slabs))
	for i, s := range slabs {
		label := "Above " + FormatINR(s.Min)
		if s.Max != nil {
			label = FormatINR(s.Min) + " - " + FormatINR(*s.Max)
		}
		rows[i] = domain.ExportSlabRow{
			Slab:          label,
			RatePercent:   s.RatePercent,
			TaxableAmount: s.TaxableInSlab,
			Tax:           s.TaxInSlab,
		}
	}
	return rows
}

// FormatINR renders rupees with Indian digit grouping, e.g. 12,50,000 or
// 1,234.50. Paise are shown only when non-zero.
func FormatINR(m domain.Money) string {
	sign := ""
	if m < 0 {
		sign = "-"
		m = -m
	}
	rupees := int64(m) / domain.PaisePerRupee
	paise := int64(m) % domain.PaisePerRupee

	digits := strconv.FormatInt(rupees, 10)
	grouped := digits
	if len(digits) > 3 {
		head, tail := digits[:len(digits)-3], digits[len(digits)-3:]
		// Lakh and crore groups are two digits wide.
		var groups []string
		for len(head) > 2 {
			groups = append([]string{head[len(head)-2:]}, groups...)
			head = head[:len(head)-2]
		}
		groups = append([]string{head}, groups...)
		grouped = strings.Join(append(groups, tail), ",")
	}

	if paise != 0 {
		return fmt.Sprintf("%s%s.%02d", sign, grouped, paise)
	}
	return sign + grouped
}
