package domain

import "time"

// CalculationKind records which operation produced a saved calculation.
type CalculationKind string

const (
	KindCompute CalculationKind = "compute"
	KindCompare CalculationKind = "compare"
	KindAssess  CalculationKind = "assess"
)

// Calculation is a completed computation kept by the collaborator store.
// The engine never writes it; the worker does, after the pipeline returns.
type Calculation struct {
	ID            string                `json:"id"`
	Identity      string                `json:"identity"`
	Kind          CalculationKind       `json:"kind"`
	FinancialYear string                `json:"financialYear"`
	Regime        Regime                `json:"regime"`
	Income        IncomeSummary         `json:"income"`
	Deductions    DeductionSummary      `json:"deductions"`
	Result        *TaxComputationResult `json:"result"`
	Comparison    *RegimeComparison     `json:"comparison,omitempty"`
	CreatedAt     time.Time             `json:"createdAt"`
}
