package domain

// FlagType classifies an audit flag.
type FlagType string

const (
	FlagMissingDocument    FlagType = "MissingDocument"
	FlagLimitExceeded      FlagType = "LimitExceeded"
	FlagMismatch           FlagType = "Mismatch"
	FlagHighRisk           FlagType = "HighRisk"
	FlagCompliance         FlagType = "Compliance"
	FlagVerificationNeeded FlagType = "VerificationNeeded"
)

// Severity ranks an audit flag.
type Severity string

const (
	SeverityCritical Severity = "Critical"
	SeverityError    Severity = "Error"
	SeverityWarning  Severity = "Warning"
	SeverityInfo     Severity = "Info"
)

// AuditFlag is one triggered compliance or data-quality rule.
// RuleID and Penalty trace the flag back to the rule that raised it.
type AuditFlag struct {
	RuleID             string       `json:"ruleId"`
	FlagType           FlagType     `json:"flagType"`
	Severity           Severity     `json:"severity"`
	Title              string       `json:"title"`
	Description        string       `json:"description"`
	AffectedSection    *SectionCode `json:"affectedSection,omitempty"`
	AffectedAmount     *Money       `json:"affectedAmount,omitempty"`
	ResolutionRequired bool         `json:"resolutionRequired"`
	Penalty            int          `json:"penalty"`
}

// ReadinessLevel buckets the audit score.
type ReadinessLevel string

const (
	ReadinessExcellent      ReadinessLevel = "Excellent"
	ReadinessGood           ReadinessLevel = "Good"
	ReadinessNeedsAttention ReadinessLevel = "NeedsAttention"
	ReadinessCritical       ReadinessLevel = "Critical"
)

// ReadinessFor maps a 0-100 score onto a readiness level.
func ReadinessFor(score int) ReadinessLevel {
	switch {
	case score >= 90:
		return ReadinessExcellent
	case score >= 75:
		return ReadinessGood
	case score >= 50:
		return ReadinessNeedsAttention
	default:
		return ReadinessCritical
	}
}

// AuditSummary counts flags by severity.
type AuditSummary struct {
	TotalFlags         int `json:"totalFlags"`
	Critical           int `json:"critical"`
	Errors             int `json:"errors"`
	Warnings           int `json:"warnings"`
	Info               int `json:"info"`
	ResolutionRequired int `json:"resolutionRequired"`
}

// AuditReport is the output of the audit stage.
type AuditReport struct {
	AuditScore     int            `json:"auditScore"`
	ReadinessLevel ReadinessLevel `json:"readinessLevel"`
	Flags          []AuditFlag    `json:"flags"`
	Summary        AuditSummary   `json:"summary"`
}

// NeedsResolution reports whether any flag must be fixed before filing.
func (r *AuditReport) NeedsResolution() bool {
	return r != nil && r.Summary.ResolutionRequired > 0
}
