package tax

import (
	"testing"

	"github.com/opensource-finance/harrier/internal/aggregate"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func yearTables(t *testing.T, fy string) *domain.RuleTables {
	t.Helper()
	tables, err := registry.Year(fy)
	require.NoError(t, err)
	return tables
}

func TestCompare(t *testing.T) {
	tables := yearTables(t, "2025-26")

	t.Run("NewRegimeCheaperWithoutDeductions", func(t *testing.T) {
		d := aggregate.Deductions(nil, tables.Old.SectionCaps)
		cmp := Compare(domain.Rupees(1500000), d, tables)

		assert.Equal(t, domain.RegimeNew, cmp.Cheaper)
		assert.Equal(t, (cmp.Old.TotalTax - cmp.New.TotalTax).Abs(), cmp.SavingsAmount)
		assert.Greater(t, cmp.SavingsAmount, domain.Money(0))
	})

	t.Run("OldRegimeUsesItemisedDeductions", func(t *testing.T) {
		d := aggregate.Deductions([]domain.DeductionClaim{
			{SectionCode: "80C", ClaimedAmount: domain.Rupees(150000)},
			{SectionCode: "80D", ClaimedAmount: domain.Rupees(25000)},
			{SectionCode: "24B", ClaimedAmount: domain.Rupees(200000)},
			{SectionCode: "80CCD2", ClaimedAmount: domain.Rupees(50000)},
		}, tables.Old.SectionCaps)
		cmp := Compare(domain.Rupees(1500000), d, tables)

		assert.Equal(t, domain.Rupees(425000), cmp.Old.TotalDeductions)
		assert.Equal(t, domain.Rupees(50000), cmp.New.TotalDeductions)
		assert.Equal(t, domain.Rupees(1500000-50000-425000), cmp.Old.TaxableIncome)
		assert.Equal(t, domain.Rupees(1500000-75000-50000), cmp.New.TaxableIncome)
	})

	t.Run("TieFavoursNew", func(t *testing.T) {
		d := aggregate.Deductions(nil, tables.Old.SectionCaps)
		cmp := Compare(domain.Rupees(300000), d, tables)

		assert.Equal(t, domain.Money(0), cmp.Old.TotalTax)
		assert.Equal(t, domain.Money(0), cmp.New.TotalTax)
		assert.Equal(t, domain.RegimeNew, cmp.Cheaper)
		assert.Equal(t, domain.Money(0), cmp.SavingsAmount)
	})

	t.Run("MatchesDirectCompute", func(t *testing.T) {
		d := aggregate.Deductions([]domain.DeductionClaim{
			{SectionCode: "80C", ClaimedAmount: domain.Rupees(120000)},
			{SectionCode: "HRA", ClaimedAmount: domain.Rupees(96000)},
		}, tables.Old.SectionCaps)
		cmp := Compare(domain.Rupees(2200000), d, tables)

		for _, pair := range []struct {
			got   *domain.TaxComputationResult
			table *domain.TaxRuleTable
		}{{cmp.Old, tables.Old}, {cmp.New, tables.New}} {
			direct := Compute(pair.got.TaxableIncome, pair.table)
			assert.Equal(t, direct.SlabBreakdown, pair.got.SlabBreakdown)
			assert.Equal(t, direct.TaxBeforeRebate, pair.got.TaxBeforeRebate)
			assert.Equal(t, direct.Rebate87A, pair.got.Rebate87A)
			assert.Equal(t, direct.Surcharge, pair.got.Surcharge)
			assert.Equal(t, direct.Cess, pair.got.Cess)
			assert.Equal(t, direct.TotalTax, pair.got.TotalTax)
		}
	})
}
