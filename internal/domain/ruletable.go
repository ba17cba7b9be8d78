package domain

import (
	"fmt"
	"slices"

	"github.com/shopspring/decimal"
)

// Regime is one of the two statutory computation modes.
type Regime string

const (
	RegimeOld Regime = "old"
	RegimeNew Regime = "new"
)

// Valid reports whether r is a known regime.
func (r Regime) Valid() bool {
	return r == RegimeOld || r == RegimeNew
}

// SurchargeBasis selects the income a surcharge band is matched against.
type SurchargeBasis string

const (
	SurchargeOnTaxable SurchargeBasis = "taxable"
	SurchargeOnGross   SurchargeBasis = "gross"
)

// Slab is a contiguous income range taxed at a fixed marginal rate.
// Max is nil for the final, unbounded slab.
type Slab struct {
	Min         Money           `json:"min" yaml:"min"`
	Max         *Money          `json:"max" yaml:"max"`
	RatePercent decimal.Decimal `json:"ratePercent" yaml:"rate_percent"`
}

// SurchargeBand applies RatePercent on tax once income reaches MinIncome.
type SurchargeBand struct {
	MinIncome   Money           `json:"minIncome" yaml:"min_income"`
	RatePercent decimal.Decimal `json:"ratePercent" yaml:"rate_percent"`
}

// TaxRuleTable holds the statutory constants for one financial year and regime.
// Tables are loaded once at start-up and never mutated; use Clone before handing
// one to code that might.
type TaxRuleTable struct {
	FinancialYear         string                `json:"financialYear"`
	Regime                Regime                `json:"regime"`
	Slabs                 []Slab                `json:"slabs"`
	StandardDeduction     Money                 `json:"standardDeduction"`
	RebateThresholdIncome Money                 `json:"rebateThresholdIncome"`
	RebateMaxAmount       Money                 `json:"rebateMaxAmount"`
	SectionCaps           map[SectionCode]Money `json:"sectionCaps"`
	AllowedSections       []SectionCode         `json:"allowedSections"`
	SurchargeBands        []SurchargeBand       `json:"surchargeBands"`
	SurchargeBasis        SurchargeBasis        `json:"surchargeBasis"`
	CessRatePercent       decimal.Decimal       `json:"cessRatePercent"`
}

var maxPercent = decimal.NewFromInt(100)

// Validate checks the structural invariants of the table. A failure means the
// deployed rule data is corrupt, not that the user sent bad input.
func (t *TaxRuleTable) Validate() error {
	fail := func(format string, args ...any) error {
		return &InvariantViolation{
			Component: fmt.Sprintf("rule table %s/%s", t.FinancialYear, t.Regime),
			Reason:    fmt.Sprintf(format, args...),
		}
	}

	if !t.Regime.Valid() {
		return fail("unknown regime %q", t.Regime)
	}
	if len(t.Slabs) == 0 {
		return fail("no slabs defined")
	}
	if t.Slabs[0].Min != 0 {
		return fail("first slab must start at 0, starts at %s", t.Slabs[0].Min)
	}

	for i, s := range t.Slabs {
		if s.RatePercent.IsNegative() || s.RatePercent.GreaterThan(maxPercent) {
			return fail("slab %d rate %s out of range", i, s.RatePercent)
		}
		last := i == len(t.Slabs)-1
		if last {
			if s.Max != nil {
				return fail("final slab must be unbounded")
			}
			continue
		}
		if s.Max == nil {
			return fail("slab %d is unbounded but is not the final slab", i)
		}
		if *s.Max <= s.Min {
			return fail("slab %d max %s must exceed min %s", i, *s.Max, s.Min)
		}
		if next := t.Slabs[i+1]; next.Min != *s.Max {
			return fail("slabs %d and %d are not contiguous (%s != %s)", i, i+1, *s.Max, next.Min)
		}
	}

	for i, b := range t.SurchargeBands {
		if b.RatePercent.IsNegative() || b.RatePercent.GreaterThan(maxPercent) {
			return fail("surcharge band %d rate %s out of range", i, b.RatePercent)
		}
		if i > 0 && b.MinIncome <= t.SurchargeBands[i-1].MinIncome {
			return fail("surcharge bands must be strictly ascending")
		}
	}

	switch t.SurchargeBasis {
	case SurchargeOnTaxable, SurchargeOnGross:
	default:
		return fail("unknown surcharge basis %q", t.SurchargeBasis)
	}

	if t.CessRatePercent.IsNegative() || t.CessRatePercent.GreaterThan(maxPercent) {
		return fail("cess rate %s out of range", t.CessRatePercent)
	}
	if t.StandardDeduction < 0 || t.RebateThresholdIncome < 0 || t.RebateMaxAmount < 0 {
		return fail("negative statutory amount")
	}
	for code, c := range t.SectionCaps {
		if c < 0 {
			return fail("negative cap for section %s", code)
		}
	}

	return nil
}

// Clone returns a deep copy of the table.
func (t *TaxRuleTable) Clone() *TaxRuleTable {
	c := *t
	c.Slabs = make([]Slab, len(t.Slabs))
	for i, s := range t.Slabs {
		c.Slabs[i] = s
		if s.Max != nil {
			m := *s.Max
			c.Slabs[i].Max = &m
		}
	}
	c.SectionCaps = make(map[SectionCode]Money, len(t.SectionCaps))
	for k, v := range t.SectionCaps {
		c.SectionCaps[k] = v
	}
	c.AllowedSections = slices.Clone(t.AllowedSections)
	c.SurchargeBands = slices.Clone(t.SurchargeBands)
	return &c
}

// Cap returns the cap for a section and whether one is defined.
func (t *TaxRuleTable) Cap(code SectionCode) (Money, bool) {
	c, ok := t.SectionCaps[code]
	return c, ok
}

// Allows reports whether the regime lets a taxpayer deduct the section.
func (t *TaxRuleTable) Allows(code SectionCode) bool {
	return slices.Contains(t.AllowedSections, code)
}

// RuleTables pairs the two regime tables of one financial year.
type RuleTables struct {
	Year FinancialYear `json:"financialYear"`
	Old  *TaxRuleTable `json:"old"`
	New  *TaxRuleTable `json:"new"`
}

// For returns the table for the given regime.
func (rt *RuleTables) For(r Regime) *TaxRuleTable {
	if r == RegimeOld {
		return rt.Old
	}
	return rt.New
}
