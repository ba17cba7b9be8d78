// Package aggregate folds raw income records and deduction claims into the
// summaries the tax stages consume.
package aggregate

import (
	"github.com/opensource-finance/harrier/internal/domain"
)

// ExpectedSources are the income types whose absence is reported.
var ExpectedSources = []domain.IncomeType{domain.IncomeSalary, domain.IncomeInterest}

// Income sums records by type. It only reports missing expected sources;
// judging them is left to the audit and recommendation stages.
func Income(records []domain.IncomeRecord) domain.IncomeSummary {
	s := domain.IncomeSummary{
		ByType:       make(map[domain.IncomeType]domain.Money),
		MissingTypes: []domain.IncomeType{},
		RecordCount:  len(records),
	}
	for _, r := range records {
		s.ByType[r.Type] += r.GrossAmount
		s.GrossIncome += r.GrossAmount
	}
	for _, t := range ExpectedSources {
		if _, ok := s.ByType[t]; !ok {
			s.MissingTypes = append(s.MissingTypes, t)
		}
	}
	return s
}

// Deductions sums claims per section and caps each sum. Sections without a cap
// pass through; unrecognised codes land in SectionOther and are never
// deductible.
func Deductions(claims []domain.DeductionClaim, caps map[domain.SectionCode]domain.Money) domain.DeductionSummary {
	claimed := make(map[domain.SectionCode]domain.Money)
	for _, c := range claims {
		claimed[domain.NormalizeSection(c.SectionCode)] += c.ClaimedAmount
	}
	return capSections(claimed, caps)
}

// FromSections builds a summary from amounts that were already summed per
// section by the caller.
func FromSections(bySection map[string]domain.Money, caps map[domain.SectionCode]domain.Money) domain.DeductionSummary {
	claimed := make(map[domain.SectionCode]domain.Money, len(bySection))
	for code, amount := range bySection {
		claimed[domain.NormalizeSection(code)] += amount
	}
	return capSections(claimed, caps)
}

func capSections(claimed map[domain.SectionCode]domain.Money, caps map[domain.SectionCode]domain.Money) domain.DeductionSummary {
	s := domain.DeductionSummary{
		BySection: make(map[domain.SectionCode]domain.SectionAmount, len(claimed)),
	}
	for code, sum := range claimed {
		sum = sum.Max(0)
		a := domain.SectionAmount{Claimed: sum, Capped: sum}
		if code == domain.SectionOther {
			a.Capped = 0
		} else if c, ok := caps[code]; ok {
			limit := c
			a.Cap = &limit
			a.Capped = sum.Min(c)
		}
		s.BySection[code] = a
		s.TotalCapped += a.Capped
	}
	return s
}
