// Package rules compiles operator-defined audit rules written in CEL.
package rules

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/opensource-finance/harrier/internal/audit"
	"github.com/opensource-finance/harrier/internal/domain"
)

// Engine holds compiled custom audit rules.
type Engine struct {
	mu            sync.RWMutex
	env           *cel.Env
	compiledRules map[string]*CompiledRule
}

// CompiledRule holds a pre-compiled CEL program.
type CompiledRule struct {
	Config  *domain.AuditRuleConfig
	Program cel.Program
}

// NewEngine creates a rule engine with the audit input variables declared.
func NewEngine() (*Engine, error) {
	env, err := cel.NewEnv(
		cel.Variable("financial_year", cel.StringType),
		cel.Variable("regime", cel.StringType),
		cel.Variable("gross_income", cel.DoubleType),
		cel.Variable("records_income", cel.DoubleType),
		cel.Variable("total_deductions", cel.DoubleType),
		cel.Variable("deduction_ratio", cel.DoubleType),
		cel.Variable("record_count", cel.IntType),
		cel.Variable("unverified_count", cel.IntType),
		// Amounts per section or income type, in rupees.
		cel.Variable("claimed", cel.MapType(cel.StringType, cel.DoubleType)),
		cel.Variable("capped", cel.MapType(cel.StringType, cel.DoubleType)),
		cel.Variable("income", cel.MapType(cel.StringType, cel.DoubleType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Engine{
		env:           env,
		compiledRules: make(map[string]*CompiledRule),
	}, nil
}

// ValidateRule compiles and validates a rule without mutating loaded engine rules.
func (e *Engine) ValidateRule(cfg *domain.AuditRuleConfig) error {
	if cfg == nil {
		return domain.NewValidationError("rule", "is required")
	}
	e.mu.RLock()
	defer e.mu.RUnlock()

	_, err := e.compileRule(cfg)
	return err
}

// LoadRule compiles and loads a rule into the engine.
func (e *Engine) LoadRule(cfg *domain.AuditRuleConfig) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	compiled, err := e.compileRule(cfg)
	if err != nil {
		return err
	}

	e.compiledRules[cfg.ID] = compiled

	return nil
}

// LoadRules compiles and loads the enabled rules.
func (e *Engine) LoadRules(configs []*domain.AuditRuleConfig) error {
	for _, cfg := range configs {
		if cfg.Enabled {
			if err := e.LoadRule(cfg); err != nil {
				return err
			}
		}
	}
	return nil
}

// ReloadRules replaces every loaded rule. Nothing changes if any rule fails to compile.
func (e *Engine) ReloadRules(configs []*domain.AuditRuleConfig) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	newRules := make(map[string]*CompiledRule)
	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}

		compiled, err := e.compileRule(cfg)
		if err != nil {
			return err
		}
		newRules[cfg.ID] = compiled
	}

	e.compiledRules = newRules

	return nil
}

// RulesCount returns the number of loaded rules.
func (e *Engine) RulesCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.compiledRules)
}

// GetLoadedRules returns the loaded rule configurations sorted by ID.
func (e *Engine) GetLoadedRules() []*domain.AuditRuleConfig {
	compiled := e.snapshot()
	configs := make([]*domain.AuditRuleConfig, len(compiled))
	for i, c := range compiled {
		configs[i] = c.Config
	}
	return configs
}

// AuditRules returns the loaded rules as audit rules in ascending ID order.
// The slice is a snapshot; a later reload does not affect it.
func (e *Engine) AuditRules() []audit.Rule {
	compiled := e.snapshot()
	out := make([]audit.Rule, len(compiled))
	for i, c := range compiled {
		out[i] = audit.Rule{ID: c.Config.ID, Check: c.check}
	}
	return out
}

// RuleSource lists stored audit rules.
type RuleSource interface {
	ListAuditRules(ctx context.Context) ([]*domain.AuditRuleConfig, error)
}

// ReloadFrom replaces the loaded rules with the enabled rules in src and
// returns how many are loaded. On error the previous rules stay in place.
func (e *Engine) ReloadFrom(ctx context.Context, src RuleSource) (int, error) {
	configs, err := src.ListAuditRules(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list audit rules: %w", err)
	}
	if err := e.ReloadRules(configs); err != nil {
		return 0, err
	}
	return e.RulesCount(), nil
}

// Close drops every loaded rule.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.compiledRules = make(map[string]*CompiledRule)
	return nil
}

func (e *Engine) snapshot() []*CompiledRule {
	e.mu.RLock()
	rules := make([]*CompiledRule, 0, len(e.compiledRules))
	for _, r := range e.compiledRules {
		rules = append(rules, r)
	}
	e.mu.RUnlock()

	slices.SortFunc(rules, func(a, b *CompiledRule) int {
		return strings.Compare(a.Config.ID, b.Config.ID)
	})
	return rules
}

// compileRule validates cfg before compiling it, so rules read back from the
// repository get the same checks as rules created through the API.
func (e *Engine) compileRule(cfg *domain.AuditRuleConfig) (*CompiledRule, error) {
	if cfg == nil {
		return nil, domain.NewValidationError("rule", "is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	ast, issues := e.env.Compile(cfg.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, &domain.ValidationError{
			Field:  "expression",
			Reason: fmt.Sprintf("failed to compile rule %s: %v", cfg.ID, issues.Err()),
			Err:    issues.Err(),
		}
	}

	if ast.OutputType() != cel.BoolType {
		return nil, domain.NewValidationError("expression",
			fmt.Sprintf("rule %s: expression must return bool, got %s", cfg.ID, ast.OutputType()))
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for rule %s: %w", cfg.ID, err)
	}

	return &CompiledRule{
		Config:  cfg,
		Program: program,
	}, nil
}

// check evaluates the rule and raises at most one flag. A rule that fails at
// evaluation time is logged and raises nothing.
func (c *CompiledRule) check(in *audit.Input) []domain.AuditFlag {
	out, _, err := c.Program.Eval(Activation(in))
	if err != nil {
		slog.Warn("custom audit rule evaluation failed", "rule_id", c.Config.ID, "error", err)
		return nil
	}
	if hit, ok := out.(types.Bool); !ok || !bool(hit) {
		return nil
	}

	flag := domain.AuditFlag{
		RuleID:      c.Config.ID,
		FlagType:    c.Config.FlagType,
		Severity:    c.Config.Severity,
		Title:       c.Config.Title,
		Description: c.Config.Description,
		Penalty:     c.Config.Penalty,
	}
	if c.Config.AffectedSection != "" {
		section := c.Config.AffectedSection
		flag.AffectedSection = &section
		amount := in.Deductions.Section(section).Claimed
		flag.AffectedAmount = &amount
	}
	return []domain.AuditFlag{flag}
}

// Activation maps the audit input onto the CEL variables. Amounts are rupees.
func Activation(in *audit.Input) map[string]any {
	claimed := make(map[string]float64, len(in.Deductions.BySection))
	capped := make(map[string]float64, len(in.Deductions.BySection))
	for code, a := range in.Deductions.BySection {
		claimed[string(code)] = rupees(a.Claimed)
		capped[string(code)] = rupees(a.Capped)
	}
	income := make(map[string]float64, len(in.Income.ByType))
	for t, m := range in.Income.ByType {
		income[string(t)] = rupees(m)
	}

	return map[string]any{
		"financial_year":   in.FinancialYear,
		"regime":           string(in.Regime),
		"gross_income":     rupees(in.GrossIncome),
		"records_income":   rupees(in.Income.GrossIncome),
		"total_deductions": rupees(in.Deductions.TotalCapped),
		"deduction_ratio":  in.DeductionRatio().InexactFloat64(),
		"record_count":     int64(in.Income.RecordCount),
		"unverified_count": int64(in.UnverifiedRecords()),
		"claimed":          claimed,
		"capped":           capped,
		"income":           income,
	}
}

func rupees(m domain.Money) float64 {
	return m.RupeeDecimal().InexactFloat64()
}
