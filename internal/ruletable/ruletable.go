// Package ruletable loads the versioned statutory tax tables.
package ruletable

import (
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"slices"
	"strings"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

//go:embed tables/*.yaml
var embedded embed.FS

// yearFile is the on-disk layout of one financial year.
type yearFile struct {
	FinancialYear string     `yaml:"financial_year"`
	Old           *tableFile `yaml:"old"`
	New           *tableFile `yaml:"new"`
}

type tableFile struct {
	Slabs                 []domain.Slab                       `yaml:"slabs"`
	StandardDeduction     domain.Money                        `yaml:"standard_deduction"`
	RebateThresholdIncome domain.Money                        `yaml:"rebate_threshold_income"`
	RebateMaxAmount       domain.Money                        `yaml:"rebate_max_amount"`
	SectionCaps           map[domain.SectionCode]domain.Money `yaml:"section_caps"`
	AllowedSections       []domain.SectionCode                `yaml:"allowed_sections"`
	SurchargeBasis        domain.SurchargeBasis               `yaml:"surcharge_basis"`
	SurchargeBands        []domain.SurchargeBand              `yaml:"surcharge_bands"`
	CessRatePercent       decimal.Decimal                     `yaml:"cess_rate_percent"`
}

func (f *tableFile) toDomain(year string, regime domain.Regime) *domain.TaxRuleTable {
	basis := f.SurchargeBasis
	if basis == "" {
		basis = domain.SurchargeOnTaxable
	}
	caps := make(map[domain.SectionCode]domain.Money, len(f.SectionCaps))
	for code, amount := range f.SectionCaps {
		caps[domain.NormalizeSection(string(code))] = amount
	}
	allowed := make([]domain.SectionCode, 0, len(f.AllowedSections))
	for _, code := range f.AllowedSections {
		allowed = append(allowed, domain.NormalizeSection(string(code)))
	}
	return &domain.TaxRuleTable{
		FinancialYear:         year,
		Regime:                regime,
		Slabs:                 f.Slabs,
		StandardDeduction:     f.StandardDeduction,
		RebateThresholdIncome: f.RebateThresholdIncome,
		RebateMaxAmount:       f.RebateMaxAmount,
		SectionCaps:           caps,
		AllowedSections:       allowed,
		SurchargeBands:        f.SurchargeBands,
		SurchargeBasis:        basis,
		CessRatePercent:       f.CessRatePercent,
	}
}

// Registry holds every loaded rule table. It is built once at start-up and
// only read afterwards, so it is safe for concurrent use without locking.
type Registry struct {
	years map[string]*domain.RuleTables
}

// Default loads the embedded tables.
func Default() (*Registry, error) {
	return Load(embedded)
}

// MustDefault is Default for tests and static initialisation.
func MustDefault() *Registry {
	r, err := Default()
	if err != nil {
		panic(err)
	}
	return r
}

// Load parses every *.yaml file under tables/ (or the root) of fsys.
// Any malformed or invalid table fails the whole load.
func Load(fsys fs.FS) (*Registry, error) {
	r := &Registry{years: make(map[string]*domain.RuleTables)}
	if err := r.loadFS(fsys); err != nil {
		return nil, err
	}
	if len(r.years) == 0 {
		return nil, fmt.Errorf("no rule tables found")
	}
	return r, nil
}

// LoadWithOverrides loads the embedded tables, then files from dir.
// A year present in both is replaced by the directory copy.
func LoadWithOverrides(dir string) (*Registry, error) {
	r, err := Default()
	if err != nil {
		return nil, err
	}
	if dir == "" {
		return r, nil
	}
	if err := r.loadFS(os.DirFS(dir)); err != nil {
		return nil, fmt.Errorf("failed to load rule tables from %s: %w", dir, err)
	}
	return r, nil
}

func (r *Registry) loadFS(fsys fs.FS) error {
	files, err := fs.Glob(fsys, "tables/*.yaml")
	if err != nil {
		return err
	}
	root, err := fs.Glob(fsys, "*.yaml")
	if err != nil {
		return err
	}
	files = append(files, root...)
	slices.Sort(files)

	for _, name := range files {
		data, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", name, err)
		}
		tables, err := parseYear(data)
		if err != nil {
			return fmt.Errorf("%s: %w", path.Base(name), err)
		}
		if _, exists := r.years[tables.Year.Code]; exists {
			slog.Info("rule table overridden", "financial_year", tables.Year.Code, "file", name)
		}
		r.years[tables.Year.Code] = tables
	}
	return nil
}

func parseYear(data []byte) (*domain.RuleTables, error) {
	var f yearFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse rule table: %w", err)
	}

	fy, err := domain.ParseFinancialYear(f.FinancialYear)
	if err != nil {
		return nil, err
	}
	if f.Old == nil || f.New == nil {
		return nil, fmt.Errorf("financial year %s must define both old and new regimes", fy.Code)
	}

	tables := &domain.RuleTables{
		Year: fy,
		Old:  f.Old.toDomain(fy.Code, domain.RegimeOld),
		New:  f.New.toDomain(fy.Code, domain.RegimeNew),
	}
	if err := tables.Old.Validate(); err != nil {
		return nil, err
	}
	if err := tables.New.Validate(); err != nil {
		return nil, err
	}
	return tables, nil
}

// Lookup returns a copy of the table for a financial year and regime.
func (r *Registry) Lookup(code string, regime domain.Regime) (*domain.TaxRuleTable, error) {
	if !regime.Valid() {
		return nil, fmt.Errorf("unknown regime %q", regime)
	}
	tables, err := r.Year(code)
	if err != nil {
		return nil, err
	}
	return tables.For(regime), nil
}

// Year returns copies of both regime tables for a financial year.
func (r *Registry) Year(code string) (*domain.RuleTables, error) {
	tables, ok := r.years[strings.TrimSpace(code)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownFinancialYear, code)
	}
	return &domain.RuleTables{
		Year: tables.Year,
		Old:  tables.Old.Clone(),
		New:  tables.New.Clone(),
	}, nil
}

// Years lists the loaded financial year codes in ascending order.
func (r *Registry) Years() []string {
	codes := make([]string, 0, len(r.years))
	for code := range r.years {
		codes = append(codes, code)
	}
	slices.Sort(codes)
	return codes
}

// Latest returns the most recent financial year code.
func (r *Registry) Latest() string {
	years := r.Years()
	if len(years) == 0 {
		return ""
	}
	return years[len(years)-1]
}
