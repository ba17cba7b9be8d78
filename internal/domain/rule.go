package domain

import (
	"strings"
	"time"
)

// AuditRuleConfig defines an operator-supplied audit rule.
// Expression is a CEL predicate over the audit input; when it evaluates to
// true the rule raises one flag with the configured type, severity and penalty.
type AuditRuleConfig struct {
	ID              string      `json:"id" yaml:"id"`
	Title           string      `json:"title" yaml:"title"`
	Description     string      `json:"description" yaml:"description"`
	Expression      string      `json:"expression" yaml:"expression"`
	FlagType        FlagType    `json:"flagType" yaml:"flag_type"`
	Severity        Severity    `json:"severity" yaml:"severity"`
	Penalty         int         `json:"penalty" yaml:"penalty"`
	AffectedSection SectionCode `json:"affectedSection,omitempty" yaml:"affected_section"`
	Enabled         bool        `json:"enabled" yaml:"enabled"`
	CreatedAt       time.Time   `json:"createdAt"`
	UpdatedAt       time.Time   `json:"updatedAt"`
}

// Validate checks the fields that do not need a compiler. It normalizes
// AffectedSection in place so "80c" matches the aggregated 80C amount.
func (c *AuditRuleConfig) Validate() error {
	switch {
	case c.ID == "":
		return NewValidationError("id", "is required")
	case c.Title == "":
		return NewValidationError("title", "is required")
	case c.Expression == "":
		return NewValidationError("expression", "is required")
	case c.Penalty < 0 || c.Penalty > 100:
		return NewValidationError("penalty", "must be between 0 and 100")
	}
	switch c.FlagType {
	case FlagMissingDocument, FlagLimitExceeded, FlagMismatch, FlagHighRisk, FlagCompliance, FlagVerificationNeeded:
	default:
		return NewValidationError("flagType", "unknown flag type "+string(c.FlagType))
	}
	switch c.Severity {
	case SeverityCritical, SeverityError, SeverityWarning, SeverityInfo:
	default:
		return NewValidationError("severity", "unknown severity "+string(c.Severity))
	}
	if c.AffectedSection != "" {
		raw := string(c.AffectedSection)
		c.AffectedSection = NormalizeSection(raw)
		if c.AffectedSection == SectionOther && !strings.EqualFold(strings.TrimSpace(raw), string(SectionOther)) {
			return NewValidationError("affectedSection", "unknown section "+raw)
		}
	}
	return nil
}
