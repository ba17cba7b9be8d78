package pipeline

import (
	"errors"
	"fmt"

	"github.com/opensource-finance/harrier/internal/domain"
)

// ComputeRequest asks for one regime's computation.
type ComputeRequest struct {
	FinancialYearCode string                  `json:"financialYearCode" yaml:"financial_year"`
	Regime            domain.Regime           `json:"regime" yaml:"regime"`
	IncomeRecords     []domain.IncomeRecord   `json:"incomeRecords" yaml:"income_records"`
	DeductionClaims   []domain.DeductionClaim `json:"deductionClaims" yaml:"deduction_claims"`
}

// CompareRequest asks for both regimes on the same data.
type CompareRequest struct {
	FinancialYearCode string                  `json:"financialYearCode" yaml:"financial_year"`
	IncomeRecords     []domain.IncomeRecord   `json:"incomeRecords" yaml:"income_records"`
	DeductionClaims   []domain.DeductionClaim `json:"deductionClaims" yaml:"deduction_claims"`
}

// AuditRequest carries pre-aggregated deductions and a declared gross income.
type AuditRequest struct {
	FinancialYearCode   string                  `json:"financialYearCode"`
	Regime              domain.Regime           `json:"regime"`
	GrossIncome         domain.Money            `json:"grossIncome"`
	DeductionsBySection map[string]domain.Money `json:"deductionsBySection"`
	IncomeRecords       []domain.IncomeRecord   `json:"incomeRecords"`
}

// RecommendRequest carries the regime totals the caller already computed.
type RecommendRequest struct {
	FinancialYearCode   string                  `json:"financialYearCode"`
	Regime              domain.Regime           `json:"regime"`
	GrossIncome         domain.Money            `json:"grossIncome"`
	OldRegimeTax        domain.Money            `json:"oldRegimeTax"`
	NewRegimeTax        domain.Money            `json:"newRegimeTax"`
	DeductionsBySection map[string]domain.Money `json:"deductionsBySection"`
	IncomeRecords       []domain.IncomeRecord   `json:"incomeRecords"`
}

// AssessRequest runs the full pipeline. An empty Regime selects the cheaper one.
type AssessRequest struct {
	FinancialYearCode string                  `json:"financialYearCode" yaml:"financial_year"`
	Regime            domain.Regime           `json:"regime,omitempty" yaml:"regime"`
	IncomeRecords     []domain.IncomeRecord   `json:"incomeRecords" yaml:"income_records"`
	DeductionClaims   []domain.DeductionClaim `json:"deductionClaims" yaml:"deduction_claims"`
}

func (r *ComputeRequest) validate() error {
	if err := validateRegime(r.Regime); err != nil {
		return err
	}
	if err := validateRecords(r.IncomeRecords); err != nil {
		return err
	}
	return validateClaims(r.DeductionClaims)
}

func (r *CompareRequest) validate() error {
	if err := validateRecords(r.IncomeRecords); err != nil {
		return err
	}
	return validateClaims(r.DeductionClaims)
}

func (r *AuditRequest) validate() error {
	if err := validateRegime(r.Regime); err != nil {
		return err
	}
	if err := validateAmount("grossIncome", r.GrossIncome); err != nil {
		return err
	}
	if err := validateSections(r.DeductionsBySection); err != nil {
		return err
	}
	return validateRecords(r.IncomeRecords)
}

func (r *RecommendRequest) validate() error {
	if err := validateRegime(r.Regime); err != nil {
		return err
	}
	if err := validateAmount("grossIncome", r.GrossIncome); err != nil {
		return err
	}
	if err := validateAmount("oldRegimeTax", r.OldRegimeTax); err != nil {
		return err
	}
	if err := validateAmount("newRegimeTax", r.NewRegimeTax); err != nil {
		return err
	}
	if err := validateSections(r.DeductionsBySection); err != nil {
		return err
	}
	return validateRecords(r.IncomeRecords)
}

func (r *AssessRequest) validate() error {
	if r.Regime != "" {
		if err := validateRegime(r.Regime); err != nil {
			return err
		}
	}
	if err := validateRecords(r.IncomeRecords); err != nil {
		return err
	}
	return validateClaims(r.DeductionClaims)
}

func validateRegime(r domain.Regime) error {
	if r == "" {
		return domain.NewValidationError("regime", "is required")
	}
	if !r.Valid() {
		return domain.NewValidationError("regime", fmt.Sprintf("must be %q or %q, got %q", domain.RegimeOld, domain.RegimeNew, r))
	}
	return nil
}

func validateRecords(records []domain.IncomeRecord) error {
	var total domain.Money
	for i, rec := range records {
		field := fmt.Sprintf("incomeRecords[%d].grossAmount", i)
		if !rec.Type.Valid() {
			return domain.NewValidationError(fmt.Sprintf("incomeRecords[%d].type", i), fmt.Sprintf("unknown income type %q", rec.Type))
		}
		if err := validateAmount(field, rec.GrossAmount); err != nil {
			return err
		}
		var ok bool
		if total, ok = total.AddBounded(rec.GrossAmount); !ok {
			return domain.NewValidationError(field, fmt.Sprintf("total income exceeds %s", domain.MaxMoney))
		}
	}
	return nil
}

func validateClaims(claims []domain.DeductionClaim) error {
	var total domain.Money
	for i, c := range claims {
		field := fmt.Sprintf("deductionClaims[%d].claimedAmount", i)
		if err := validateAmount(field, c.ClaimedAmount); err != nil {
			return err
		}
		var ok bool
		if total, ok = total.AddBounded(c.ClaimedAmount); !ok {
			return domain.NewValidationError(field, fmt.Sprintf("total claims exceed %s", domain.MaxMoney))
		}
	}
	return nil
}

func validateSections(bySection map[string]domain.Money) error {
	var total domain.Money
	for code, amount := range bySection {
		field := "deductionsBySection." + code
		if err := validateAmount(field, amount); err != nil {
			return err
		}
		var ok bool
		if total, ok = total.AddBounded(amount); !ok {
			return domain.NewValidationError(field, fmt.Sprintf("total deductions exceed %s", domain.MaxMoney))
		}
	}
	return nil
}

// validateAmount rejects negative amounts and amounts above MaxMoney.
// Decoded JSON is already bounded; Go callers are not.
func validateAmount(field string, m domain.Money) error {
	if m < 0 {
		return domain.NewValidationError(field, "must not be negative")
	}
	if m > domain.MaxMoney {
		return domain.NewValidationError(field, fmt.Sprintf("exceeds %s", domain.MaxMoney))
	}
	return nil
}

// yearError turns a financial year lookup failure into a field-level
// validation error.
func yearError(code string, err error) error {
	if errors.Is(err, domain.ErrUnknownFinancialYear) {
		return &domain.ValidationError{
			Field:  "financialYearCode",
			Reason: fmt.Sprintf("no rule table for %q", code),
			Err:    err,
		}
	}
	return &domain.ValidationError{Field: "financialYearCode", Reason: err.Error(), Err: err}
}
