package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/export"
	"github.com/opensource-finance/harrier/internal/pipeline"
	"github.com/opensource-finance/harrier/internal/ruletable"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// input is the file format shared by compute and assess. JSON is valid YAML,
// so either works.
type input struct {
	FinancialYear   string                  `yaml:"financial_year"`
	Regime          domain.Regime           `yaml:"regime"`
	IncomeRecords   []domain.IncomeRecord   `yaml:"income_records"`
	DeductionClaims []domain.DeductionClaim `yaml:"deduction_claims"`
}

func readInput(path string) (*input, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read input: %w", err)
	}
	var in input
	if err := yaml.Unmarshal(data, &in); err != nil {
		return nil, fmt.Errorf("failed to parse input %s: %w", path, err)
	}
	return &in, nil
}

// processor builds a pipeline without custom audit rules; those live in the
// server's repository.
func processor(cmd *cobra.Command) (*pipeline.Processor, error) {
	cfg, err := configFromFlags(cmd)
	if err != nil {
		return nil, err
	}
	tables, err := ruletable.LoadWithOverrides(cfg.RuleTableDir)
	if err != nil {
		return nil, err
	}
	return pipeline.NewProcessor(tables, nil), nil
}

func computeCmd() *cobra.Command {
	var (
		file   string
		regime string
		format string
	)

	cmd := &cobra.Command{
		Use:   "compute",
		Short: "Compute tax for one regime, or compare both when no regime is given",
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := readInput(file)
			if err != nil {
				return err
			}
			if regime != "" {
				in.Regime = domain.Regime(regime)
			}
			p, err := processor(cmd)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			if in.Regime == "" {
				cmp, err := p.Compare(cmd.Context(), &pipeline.CompareRequest{
					FinancialYearCode: in.FinancialYear,
					IncomeRecords:     in.IncomeRecords,
					DeductionClaims:   in.DeductionClaims,
				})
				if err != nil {
					return err
				}
				if format == "json" {
					return writeJSON(out, cmp)
				}
				printComparison(out, cmp)
				return nil
			}

			res, err := p.Compute(cmd.Context(), &pipeline.ComputeRequest{
				FinancialYearCode: in.FinancialYear,
				Regime:            in.Regime,
				IncomeRecords:     in.IncomeRecords,
				DeductionClaims:   in.DeductionClaims,
			})
			if err != nil {
				return err
			}
			if format == "json" {
				return writeJSON(out, res)
			}
			printResult(out, res)
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "input file (YAML or JSON)")
	cmd.Flags().StringVar(&regime, "regime", "", "old or new; overrides the input file")
	cmd.Flags().StringVar(&format, "format", "text", "output format: text or json")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func assessCmd() *cobra.Command {
	var (
		file   string
		format string
	)

	cmd := &cobra.Command{
		Use:   "assess",
		Short: "Run the full pipeline: compare, audit and recommend",
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := readInput(file)
			if err != nil {
				return err
			}
			p, err := processor(cmd)
			if err != nil {
				return err
			}

			a, err := p.Assess(cmd.Context(), &pipeline.AssessRequest{
				FinancialYearCode: in.FinancialYear,
				Regime:            in.Regime,
				IncomeRecords:     in.IncomeRecords,
				DeductionClaims:   in.DeductionClaims,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if format == "json" {
				return writeJSON(out, a)
			}
			printComparison(out, a.Comparison)
			printAudit(out, a.Audit)
			printRecommendations(out, a.Recommendations)
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "input file (YAML or JSON)")
	cmd.Flags().StringVar(&format, "format", "text", "output format: text or json")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func tablesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tables [financial-year]",
		Short: "List financial years, or print one year's rule tables",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := processor(cmd)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			if len(args) == 0 {
				for _, fy := range p.Tables().Years() {
					fmt.Fprintln(out, fy)
				}
				return nil
			}

			year, err := p.Tables().Year(args[0])
			if err != nil {
				return err
			}
			return writeJSON(out, year)
		},
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printResult(w io.Writer, res *domain.TaxComputationResult) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintf(w, "FY %s, %s regime\n\n", res.FinancialYear, res.Regime)

	rows := []struct {
		label  string
		amount domain.Money
	}{
		{"Gross income", res.GrossIncome},
		{"Standard deduction", res.StandardDeduction},
		{"Deductions", res.TotalDeductions},
		{"Taxable income", res.TaxableIncome},
		{"Tax before rebate", res.TaxBeforeRebate},
		{"Rebate u/s 87A", res.Rebate87A},
		{"Surcharge", res.Surcharge},
		{"Cess", res.Cess},
		{"Total tax", res.TotalTax},
	}
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%s\t\n", r.label, export.FormatINR(r.amount))
	}
	tw.Flush()
	fmt.Fprintf(w, "\nEffective rate: %s%%\n", res.EffectiveRatePercent.StringFixed(2))
}

func printComparison(w io.Writer, cmp *domain.RegimeComparison) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "FY %s\n\n", cmp.New.FinancialYear)
	fmt.Fprintln(tw, "\tOld regime\tNew regime\t")
	fmt.Fprintf(tw, "Taxable income\t%s\t%s\t\n", export.FormatINR(cmp.Old.TaxableIncome), export.FormatINR(cmp.New.TaxableIncome))
	fmt.Fprintf(tw, "Total tax\t%s\t%s\t\n", export.FormatINR(cmp.Old.TotalTax), export.FormatINR(cmp.New.TotalTax))
	tw.Flush()
	fmt.Fprintf(w, "\nCheaper: %s regime, saves %s\n", cmp.Cheaper, export.FormatINR(cmp.SavingsAmount))
}

func printAudit(w io.Writer, report *domain.AuditReport) {
	fmt.Fprintf(w, "\nAudit score %d (%s)\n", report.AuditScore, report.ReadinessLevel)
	for _, f := range report.Flags {
		fmt.Fprintf(w, "  [%s] %s\n", f.Severity, f.Title)
	}
}

func printRecommendations(w io.Writer, report *domain.RecommendationReport) {
	fmt.Fprintf(w, "\nRecommendations (potential savings %s)\n", export.FormatINR(report.Summary.TotalPotentialSavings))
	for _, r := range report.Recommendations {
		fmt.Fprintf(w, "  [%s] %s\n", r.Priority, r.Title)
	}
}
