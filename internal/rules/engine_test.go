package rules

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/opensource-finance/harrier/internal/aggregate"
	"github.com/opensource-finance/harrier/internal/audit"
	"github.com/opensource-finance/harrier/internal/domain"
)

var caps = map[domain.SectionCode]domain.Money{
	domain.Section80C: domain.Rupees(150000),
	domain.Section80D: domain.Rupees(25000),
}

func newInput() *audit.Input {
	records := []domain.IncomeRecord{
		{Type: domain.IncomeSalary, GrossAmount: domain.Rupees(1800000), SourceRef: "form16"},
		{Type: domain.IncomeRental, GrossAmount: domain.Rupees(300000)},
	}
	return &audit.Input{
		FinancialYear: "2025-26",
		Regime:        domain.RegimeOld,
		GrossIncome:   domain.Rupees(2100000),
		Income:        aggregate.Income(records),
		Records:       records,
		Deductions: aggregate.Deductions([]domain.DeductionClaim{
			{SectionCode: "80C", ClaimedAmount: domain.Rupees(150000)},
			{SectionCode: "HRA", ClaimedAmount: domain.Rupees(240000)},
		}, caps),
	}
}

func rentalRule() *domain.AuditRuleConfig {
	return &domain.AuditRuleConfig{
		ID:          "custom.rental_without_hra_check",
		Title:       "Rental income alongside HRA",
		Description: "HRA is claimed while rental income is declared.",
		Expression:  `"Rental" in income && "HRA" in claimed && claimed["HRA"] > 0.0`,
		FlagType:    domain.FlagHighRisk,
		Severity:    domain.SeverityWarning,
		Penalty:     8,
		Enabled:     true,
	}
}

func TestEngineCreation(t *testing.T) {
	engine, err := NewEngine()
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	defer engine.Close()

	if engine.RulesCount() != 0 {
		t.Errorf("expected 0 rules, got %d", engine.RulesCount())
	}
}

func TestLoadRule(t *testing.T) {
	engine, _ := NewEngine()
	defer engine.Close()

	if err := engine.LoadRule(rentalRule()); err != nil {
		t.Fatalf("failed to load rule: %v", err)
	}
	if engine.RulesCount() != 1 {
		t.Errorf("expected 1 rule, got %d", engine.RulesCount())
	}
}

func TestLoadInvalidRule(t *testing.T) {
	engine, _ := NewEngine()
	defer engine.Close()

	tests := []struct {
		name       string
		expression string
	}{
		{"syntax", "this is not valid CEL !!!"},
		{"non-bool", "gross_income * 2.0"},
		{"unknown variable", "salary > 10.0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := rentalRule()
			cfg.Expression = tt.expression

			err := engine.LoadRule(cfg)
			if err == nil {
				t.Fatal("expected error for invalid expression")
			}
			var ve *domain.ValidationError
			if !errors.As(err, &ve) || ve.Field != "expression" {
				t.Errorf("expected expression validation error, got %v", err)
			}
		})
	}

	if engine.RulesCount() != 0 {
		t.Errorf("invalid rules must not load, got %d", engine.RulesCount())
	}
}

func TestValidateRuleDoesNotLoad(t *testing.T) {
	engine, _ := NewEngine()
	defer engine.Close()

	if err := engine.ValidateRule(rentalRule()); err != nil {
		t.Fatalf("expected valid rule: %v", err)
	}
	if engine.RulesCount() != 0 {
		t.Errorf("ValidateRule must not load, got %d rules", engine.RulesCount())
	}

	bad := rentalRule()
	bad.Severity = "Severe"
	if err := engine.ValidateRule(bad); err == nil {
		t.Error("expected error for unknown severity")
	}
	if err := engine.ValidateRule(nil); err == nil {
		t.Error("expected error for nil rule")
	}
}

func TestAuditRulesRaiseFlags(t *testing.T) {
	engine, _ := NewEngine()
	defer engine.Close()

	ratio := &domain.AuditRuleConfig{
		ID:              "custom.a_80c_full",
		Title:           "80C fully used",
		Expression:      `regime == "old" && capped["80C"] >= 150000.0`,
		FlagType:        domain.FlagCompliance,
		Severity:        domain.SeverityInfo,
		Penalty:         2,
		AffectedSection: domain.Section80C,
		Enabled:         true,
	}
	never := &domain.AuditRuleConfig{
		ID:         "custom.never",
		Title:      "Never",
		Expression: "record_count > 100",
		FlagType:   domain.FlagCompliance,
		Severity:   domain.SeverityInfo,
		Penalty:    50,
		Enabled:    true,
	}
	if err := engine.LoadRules([]*domain.AuditRuleConfig{rentalRule(), ratio, never}); err != nil {
		t.Fatalf("failed to load rules: %v", err)
	}

	extra := engine.AuditRules()
	if len(extra) != 3 {
		t.Fatalf("expected 3 audit rules, got %d", len(extra))
	}
	if extra[0].ID != "custom.a_80c_full" || extra[2].ID != "custom.rental_without_hra_check" {
		t.Errorf("expected rules in ID order, got %s, %s, %s", extra[0].ID, extra[1].ID, extra[2].ID)
	}

	in := newInput()
	report := audit.NewEngine(audit.BuiltinRules()...).Run(in, extra...)

	var got []string
	for _, f := range report.Flags {
		got = append(got, f.RuleID)
	}
	// income.unverified from the rental record, then the two custom hits.
	want := []string{audit.RuleUnverifiedIncome, "custom.a_80c_full", "custom.rental_without_hra_check"}
	if len(got) != len(want) {
		t.Fatalf("expected flags %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("flag %d: expected %s, got %s", i, want[i], got[i])
		}
	}

	if report.AuditScore != audit.MaxScore-15-2-8 {
		t.Errorf("expected score %d, got %d", audit.MaxScore-15-2-8, report.AuditScore)
	}
	f := report.Flags[1]
	if f.AffectedSection == nil || *f.AffectedSection != domain.Section80C {
		t.Errorf("expected affected section 80C, got %v", f.AffectedSection)
	}
	if f.AffectedAmount == nil || *f.AffectedAmount != domain.Rupees(150000) {
		t.Errorf("expected affected amount 150000, got %v", f.AffectedAmount)
	}
}

func TestEvaluationErrorRaisesNothing(t *testing.T) {
	engine, _ := NewEngine()
	defer engine.Close()

	cfg := rentalRule()
	cfg.Expression = `claimed["80D"] > 0.0`
	if err := engine.LoadRule(cfg); err != nil {
		t.Fatalf("failed to load rule: %v", err)
	}

	rules := engine.AuditRules()
	if flags := rules[0].Check(newInput()); len(flags) != 0 {
		t.Errorf("expected no flags on missing key, got %v", flags)
	}
}

func TestReloadRules(t *testing.T) {
	engine, _ := NewEngine()
	defer engine.Close()

	_ = engine.LoadRule(rentalRule())

	disabled := rentalRule()
	disabled.ID = "custom.disabled"
	disabled.Enabled = false
	replacement := rentalRule()
	replacement.ID = "custom.replacement"

	if err := engine.ReloadRules([]*domain.AuditRuleConfig{disabled, replacement}); err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	loaded := engine.GetLoadedRules()
	if len(loaded) != 1 || loaded[0].ID != "custom.replacement" {
		t.Errorf("expected only custom.replacement, got %v", loaded)
	}

	broken := rentalRule()
	broken.Expression = "((("
	if err := engine.ReloadRules([]*domain.AuditRuleConfig{broken}); err == nil {
		t.Fatal("expected reload error")
	}
	if engine.RulesCount() != 1 {
		t.Errorf("failed reload must keep previous rules, got %d", engine.RulesCount())
	}
}

type fakeSource struct {
	rules []*domain.AuditRuleConfig
	err   error
}

func (f *fakeSource) ListAuditRules(ctx context.Context) ([]*domain.AuditRuleConfig, error) {
	return f.rules, f.err
}

func TestReloadFrom(t *testing.T) {
	engine, _ := NewEngine()
	defer engine.Close()

	disabled := rentalRule()
	disabled.ID = "custom.disabled"
	disabled.Enabled = false

	count, err := engine.ReloadFrom(context.Background(), &fakeSource{
		rules: []*domain.AuditRuleConfig{rentalRule(), disabled},
	})
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if count != 1 {
		t.Errorf("expected 1 loaded rule, got %d", count)
	}

	boom := errors.New("database unavailable")
	if _, err := engine.ReloadFrom(context.Background(), &fakeSource{err: boom}); !errors.Is(err, boom) {
		t.Errorf("expected source error, got %v", err)
	}
	if engine.RulesCount() != 1 {
		t.Errorf("failed reload must keep previous rules, got %d", engine.RulesCount())
	}
}

func TestConcurrentReloadAndEvaluate(t *testing.T) {
	engine, _ := NewEngine()
	defer engine.Close()

	in := newInput()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = engine.ReloadRules([]*domain.AuditRuleConfig{rentalRule()})
		}()
		go func() {
			defer wg.Done()
			for _, r := range engine.AuditRules() {
				r.Check(in)
			}
		}()
	}
	wg.Wait()

	if engine.RulesCount() != 1 {
		t.Errorf("expected 1 rule after reloads, got %d", engine.RulesCount())
	}
}

func TestActivation(t *testing.T) {
	act := Activation(newInput())

	if act["gross_income"].(float64) != 2100000 {
		t.Errorf("expected gross_income 2100000, got %v", act["gross_income"])
	}
	if act["record_count"].(int64) != 2 {
		t.Errorf("expected record_count 2, got %v", act["record_count"])
	}
	if act["unverified_count"].(int64) != 1 {
		t.Errorf("expected unverified_count 1, got %v", act["unverified_count"])
	}
	if act["total_deductions"].(float64) != 390000 {
		t.Errorf("expected total_deductions 390000, got %v", act["total_deductions"])
	}
	if act["capped"].(map[string]float64)["HRA"] != 240000 {
		t.Errorf("expected HRA capped 240000, got %v", act["capped"])
	}
}

func TestStoredRulesAreValidated(t *testing.T) {
	engine, _ := NewEngine()
	defer engine.Close()

	tests := []struct {
		name   string
		mutate func(*domain.AuditRuleConfig)
		field  string
	}{
		{"PenaltyOutOfRange", func(c *domain.AuditRuleConfig) { c.Penalty = 150 }, "penalty"},
		{"UnknownSeverity", func(c *domain.AuditRuleConfig) { c.Severity = "Severe" }, "severity"},
		{"UnknownSection", func(c *domain.AuditRuleConfig) { c.AffectedSection = "80ZZ" }, "affectedSection"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := rentalRule()
			tt.mutate(cfg)

			var ve *domain.ValidationError
			if err := engine.LoadRule(cfg); !errors.As(err, &ve) || ve.Field != tt.field {
				t.Errorf("LoadRule: expected %s validation error, got %v", tt.field, err)
			}
			if err := engine.ReloadRules([]*domain.AuditRuleConfig{cfg}); !errors.As(err, &ve) || ve.Field != tt.field {
				t.Errorf("ReloadRules: expected %s validation error, got %v", tt.field, err)
			}
			if engine.RulesCount() != 0 {
				t.Errorf("invalid rule was loaded")
			}
		})
	}
}

func TestAffectedSectionIsNormalized(t *testing.T) {
	engine, _ := NewEngine()
	defer engine.Close()

	cfg := rentalRule()
	cfg.Expression = `claimed["80C"] > 0.0`
	cfg.AffectedSection = " 80c "
	if err := engine.LoadRule(cfg); err != nil {
		t.Fatalf("failed to load rule: %v", err)
	}
	if cfg.AffectedSection != domain.Section80C {
		t.Errorf("expected section normalized to 80C, got %q", cfg.AffectedSection)
	}

	flags := engine.AuditRules()[0].Check(newInput())
	if len(flags) != 1 {
		t.Fatalf("expected 1 flag, got %d", len(flags))
	}
	if flags[0].AffectedAmount == nil || *flags[0].AffectedAmount != domain.Rupees(150000) {
		t.Errorf("expected affected amount 150000, got %v", flags[0].AffectedAmount)
	}
}
