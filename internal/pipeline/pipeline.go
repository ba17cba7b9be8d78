// Package pipeline validates requests and runs the tax stages in order:
// aggregation, slab computation, regime comparison, audit, recommendations.
// Every stage is a pure function of its inputs; the processor holds only
// read-only data.
package pipeline

import (
	"context"
	"fmt"

	"github.com/opensource-finance/harrier/internal/aggregate"
	"github.com/opensource-finance/harrier/internal/audit"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/recommend"
	"github.com/opensource-finance/harrier/internal/ruletable"
	"github.com/opensource-finance/harrier/internal/tax"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("harrier-pipeline")

// CustomRules supplies operator-defined audit rules evaluated after the
// built-ins.
type CustomRules interface {
	AuditRules() []audit.Rule
}

// Processor runs the pipeline.
type Processor struct {
	tables    *ruletable.Registry
	audit     *audit.Engine
	recommend *recommend.Engine
	custom    CustomRules
}

// NewProcessor creates a processor over the rule table registry. custom may be nil.
func NewProcessor(tables *ruletable.Registry, custom CustomRules) *Processor {
	return &Processor{
		tables:    tables,
		audit:     audit.NewEngine(),
		recommend: recommend.NewEngine(),
		custom:    custom,
	}
}

// Tables returns the registry the processor computes against.
func (p *Processor) Tables() *ruletable.Registry {
	return p.tables
}

// Compute runs one regime.
func (p *Processor) Compute(ctx context.Context, req *ComputeRequest) (res *domain.TaxComputationResult, err error) {
	_, span := start(ctx, "pipeline.Compute", req.FinancialYearCode, req.Regime)
	defer func() { end(span, err) }()

	if err := req.validate(); err != nil {
		return nil, err
	}
	tables, err := p.year(req.FinancialYearCode)
	if err != nil {
		return nil, err
	}
	table := tables.For(req.Regime)

	income := aggregate.Income(req.IncomeRecords)
	deductions := aggregate.Deductions(req.DeductionClaims, table.SectionCaps)

	res = tax.ComputeRegime(income.GrossIncome, deductions, table)
	if err := verify(res); err != nil {
		return nil, err
	}
	return res, nil
}

// Compare runs both regimes on the same data.
func (p *Processor) Compare(ctx context.Context, req *CompareRequest) (cmp *domain.RegimeComparison, err error) {
	_, span := start(ctx, "pipeline.Compare", req.FinancialYearCode, "")
	defer func() { end(span, err) }()

	if err := req.validate(); err != nil {
		return nil, err
	}
	tables, err := p.year(req.FinancialYearCode)
	if err != nil {
		return nil, err
	}

	income := aggregate.Income(req.IncomeRecords)
	deductions := aggregate.Deductions(req.DeductionClaims, tables.Old.SectionCaps)

	return p.compare(income, deductions, tables)
}

// Audit scores the declared data.
func (p *Processor) Audit(ctx context.Context, req *AuditRequest) (report *domain.AuditReport, err error) {
	_, span := start(ctx, "pipeline.Audit", req.FinancialYearCode, req.Regime)
	defer func() { end(span, err) }()

	if err := req.validate(); err != nil {
		return nil, err
	}
	tables, err := p.year(req.FinancialYearCode)
	if err != nil {
		return nil, err
	}

	in := &audit.Input{
		FinancialYear: tables.Year.Code,
		Regime:        req.Regime,
		GrossIncome:   req.GrossIncome,
		Income:        aggregate.Income(req.IncomeRecords),
		Records:       req.IncomeRecords,
		Deductions:    aggregate.FromSections(req.DeductionsBySection, tables.For(req.Regime).SectionCaps),
	}
	report = p.runAudit(in)
	span.SetAttributes(attribute.Int("audit.score", report.AuditScore))
	return report, nil
}

// Recommend produces the recommendation list. The audit is rerun on the same
// data so the resolve-flags rule can fire.
func (p *Processor) Recommend(ctx context.Context, req *RecommendRequest) (report *domain.RecommendationReport, err error) {
	_, span := start(ctx, "pipeline.Recommend", req.FinancialYearCode, req.Regime)
	defer func() { end(span, err) }()

	if err := req.validate(); err != nil {
		return nil, err
	}
	tables, err := p.year(req.FinancialYearCode)
	if err != nil {
		return nil, err
	}

	income := aggregate.Income(req.IncomeRecords)
	deductions := aggregate.FromSections(req.DeductionsBySection, tables.For(req.Regime).SectionCaps)

	auditReport := p.runAudit(&audit.Input{
		FinancialYear: tables.Year.Code,
		Regime:        req.Regime,
		GrossIncome:   req.GrossIncome,
		Income:        income,
		Records:       req.IncomeRecords,
		Deductions:    deductions,
	})

	report = p.recommend.Run(&recommend.Input{
		FinancialYear: tables.Year.Code,
		Regime:        req.Regime,
		GrossIncome:   req.GrossIncome,
		OldTax:        req.OldRegimeTax,
		NewTax:        req.NewRegimeTax,
		Income:        income,
		Deductions:    deductions,
		Tables:        tables,
		Audit:         auditReport,
	})
	span.SetAttributes(attribute.Int("recommendations", report.Summary.Total))
	return report, nil
}

// Assess runs every stage on one request.
func (p *Processor) Assess(ctx context.Context, req *AssessRequest) (a *domain.Assessment, err error) {
	_, span := start(ctx, "pipeline.Assess", req.FinancialYearCode, req.Regime)
	defer func() { end(span, err) }()

	if err := req.validate(); err != nil {
		return nil, err
	}
	tables, err := p.year(req.FinancialYearCode)
	if err != nil {
		return nil, err
	}

	income := aggregate.Income(req.IncomeRecords)
	deductions := aggregate.Deductions(req.DeductionClaims, tables.Old.SectionCaps)

	cmp, err := p.compare(income, deductions, tables)
	if err != nil {
		return nil, err
	}

	selected := req.Regime
	if selected == "" {
		selected = cmp.Cheaper
	}

	auditReport := p.runAudit(&audit.Input{
		FinancialYear: tables.Year.Code,
		Regime:        selected,
		GrossIncome:   income.GrossIncome,
		Income:        income,
		Records:       req.IncomeRecords,
		Deductions:    deductions,
	})

	recs := p.recommend.Run(&recommend.Input{
		FinancialYear: tables.Year.Code,
		Regime:        selected,
		GrossIncome:   income.GrossIncome,
		OldTax:        cmp.Old.TotalTax,
		NewTax:        cmp.New.TotalTax,
		Income:        income,
		Deductions:    deductions,
		Tables:        tables,
		Audit:         auditReport,
	})

	span.SetAttributes(
		attribute.String("regime.selected", string(selected)),
		attribute.Int("audit.score", auditReport.AuditScore),
	)

	return &domain.Assessment{
		FinancialYear:   tables.Year.Code,
		Selected:        selected,
		Income:          income,
		Deductions:      deductions,
		Comparison:      cmp,
		Audit:           auditReport,
		Recommendations: recs,
	}, nil
}

func (p *Processor) compare(income domain.IncomeSummary, deductions domain.DeductionSummary, tables *domain.RuleTables) (*domain.RegimeComparison, error) {
	cmp := tax.Compare(income.GrossIncome, deductions, tables)
	if err := verify(cmp.Old); err != nil {
		return nil, err
	}
	if err := verify(cmp.New); err != nil {
		return nil, err
	}
	return cmp, nil
}

func (p *Processor) runAudit(in *audit.Input) *domain.AuditReport {
	var extra []audit.Rule
	if p.custom != nil {
		extra = p.custom.AuditRules()
	}
	return p.audit.Run(in, extra...)
}

// year resolves a financial year code to its rule tables.
func (p *Processor) year(code string) (*domain.RuleTables, error) {
	if code == "" {
		return nil, domain.NewValidationError("financialYearCode", "is required")
	}
	fy, err := domain.ParseFinancialYear(code)
	if err != nil {
		return nil, yearError(code, err)
	}
	tables, err := p.tables.Year(fy.Code)
	if err != nil {
		return nil, yearError(code, err)
	}
	return tables, nil
}

// verify checks the result invariants that must hold for any valid table.
func verify(res *domain.TaxComputationResult) error {
	fail := func(reason string) error {
		return &domain.InvariantViolation{
			Component: fmt.Sprintf("computation %s/%s", res.FinancialYear, res.Regime),
			Reason:    reason,
		}
	}
	switch {
	case res.TaxableIncome < 0:
		return fail("negative taxable income")
	case res.Rebate87A > res.TaxBeforeRebate:
		return fail("rebate exceeds tax before rebate")
	case res.TotalTax < 0:
		return fail("negative total tax")
	}
	return nil
}

func start(ctx context.Context, name, fy string, regime domain.Regime) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("financial_year", fy),
		attribute.String("regime", string(regime)),
	))
}

func end(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
