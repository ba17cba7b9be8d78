package domain

import "strings"

// SectionCode is a statutory deduction section.
type SectionCode string

const (
	Section80C     SectionCode = "80C"
	Section80CCD1B SectionCode = "80CCD1B"
	Section80CCD2  SectionCode = "80CCD2"
	Section80D     SectionCode = "80D"
	Section80E     SectionCode = "80E"
	Section80G     SectionCode = "80G"
	Section80TTA   SectionCode = "80TTA"
	Section24B     SectionCode = "24B"
	SectionHRA     SectionCode = "HRA"
	SectionOther   SectionCode = "Other"
)

// KnownSections lists the recognized section codes in display order.
var KnownSections = []SectionCode{
	Section80C, Section80CCD1B, Section80CCD2, Section80D, Section80E,
	Section80G, Section80TTA, Section24B, SectionHRA,
}

// NormalizeSection maps free-form codes ("80ccd(1b)", " 80c ") onto a known
// section, or SectionOther when nothing matches.
func NormalizeSection(raw string) SectionCode {
	s := strings.ToUpper(strings.TrimSpace(raw))
	s = strings.NewReplacer("(", "", ")", "", " ", "", "-", "", "_", "").Replace(s)
	if s == "" {
		return SectionOther
	}
	for _, known := range KnownSections {
		if strings.ToUpper(string(known)) == s {
			return known
		}
	}
	return SectionOther
}

// DeductionClaim is a claimed amount under one section.
type DeductionClaim struct {
	SectionCode   string `json:"sectionCode" yaml:"section_code"`
	ClaimedAmount Money  `json:"claimedAmount" yaml:"claimed_amount"`
}

// SectionAmount is the claimed and allowed amount for a section.
// Cap is nil when the section has no statutory cap.
type SectionAmount struct {
	Claimed Money  `json:"claimed"`
	Capped  Money  `json:"capped"`
	Cap     *Money `json:"cap,omitempty"`
}

// Excess is the part of the claim above the cap.
func (a SectionAmount) Excess() Money {
	return (a.Claimed - a.Capped).Max(0)
}

// DeductionSummary is the aggregated, capped view of deduction claims.
type DeductionSummary struct {
	BySection   map[SectionCode]SectionAmount `json:"bySection"`
	TotalCapped Money                         `json:"totalCapped"`
}

// Section returns the aggregate for code, zero if nothing was claimed.
func (d DeductionSummary) Section(code SectionCode) SectionAmount {
	return d.BySection[code]
}

// Claimed reports whether any amount was claimed under code.
func (d DeductionSummary) Claimed(code SectionCode) bool {
	a, ok := d.BySection[code]
	return ok && a.Claimed > 0
}

// AllowedUnder sums the capped amounts of the sections the table allows.
func (d DeductionSummary) AllowedUnder(t *TaxRuleTable) Money {
	var total Money
	for code, a := range d.BySection {
		if t.Allows(code) {
			total += a.Capped
		}
	}
	return total
}
