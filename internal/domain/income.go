package domain

// IncomeType classifies an income record.
type IncomeType string

const (
	IncomeSalary    IncomeType = "Salary"
	IncomeBusiness  IncomeType = "Business"
	IncomeFreelance IncomeType = "Freelance"
	IncomeRental    IncomeType = "Rental"
	IncomeInterest  IncomeType = "Interest"
	IncomeDividend  IncomeType = "Dividend"
	IncomePension   IncomeType = "Pension"
	IncomeGift      IncomeType = "Gift"
	IncomeOther     IncomeType = "Other"
)

// IncomeTypes lists every income type in display order.
var IncomeTypes = []IncomeType{
	IncomeSalary, IncomeBusiness, IncomeFreelance, IncomeRental, IncomeInterest,
	IncomeDividend, IncomePension, IncomeGift, IncomeOther,
}

// Valid reports whether t is a known income type.
func (t IncomeType) Valid() bool {
	for _, known := range IncomeTypes {
		if t == known {
			return true
		}
	}
	return false
}

// IncomeRecord is a single declared income entry supplied by the caller.
type IncomeRecord struct {
	Type        IncomeType `json:"type" yaml:"type"`
	GrossAmount Money      `json:"grossAmount" yaml:"gross_amount"`
	SourceRef   string     `json:"sourceRef,omitempty" yaml:"source_ref"`
	Confirmed   bool       `json:"confirmed" yaml:"confirmed"`
}

// Verified reports whether the record has a supporting document or was
// confirmed by the user.
func (r IncomeRecord) Verified() bool {
	return r.Confirmed || r.SourceRef != ""
}

// IncomeSummary is the aggregated view of a set of income records.
type IncomeSummary struct {
	GrossIncome  Money                `json:"grossIncome"`
	ByType       map[IncomeType]Money `json:"byType"`
	MissingTypes []IncomeType         `json:"missingTypes"`
	RecordCount  int                  `json:"recordCount"`
}

// HasRecords reports whether any income was declared.
func (s IncomeSummary) HasRecords() bool {
	return s.RecordCount > 0
}

// Missing reports whether the expected income type was absent.
func (s IncomeSummary) Missing(t IncomeType) bool {
	for _, m := range s.MissingTypes {
		if m == t {
			return true
		}
	}
	return false
}
