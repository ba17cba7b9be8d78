package main

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/pipeline"
	"github.com/spf13/cobra"
)

// Profile is one taxpayer row. Expected is the regime the row is labelled
// with; empty means unlabelled.
type Profile struct {
	Name     string
	Records  []domain.IncomeRecord
	Claims   []domain.DeductionClaim
	Expected domain.Regime
}

// BenchMetrics tracks benchmark results
type BenchMetrics struct {
	Agree    int64 // cheaper regime matches the label
	Disagree int64
	Unlabel  int64

	TotalProcessed int64
	TotalErrors    int64

	ProcessingTimeMs int64
}

func benchCmd() *cobra.Command {
	var (
		csvPath  string
		baseURL  string
		secret   string
		fy       string
		limit    int
		workers  int
		verbose  bool
		subject  string
		generate int
	)

	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Load-test a running server with regime comparisons",
		Long: "Sends taxpayer profiles to POST /v1/compare and reports latency, throughput and\n" +
			"agreement with the expected_regime column when the CSV has one.\n\n" +
			"CSV columns (header required, case-insensitive): name, salary, interest, rental,\n" +
			"business, 80c, 80d, hra, expected_regime. Without --csv a salary ladder is generated.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if secret == "" {
				secret = os.Getenv("HARRIER_JWT_SECRET")
			}
			if secret == "" {
				return errors.New("--secret or HARRIER_JWT_SECRET is required to sign requests")
			}
			token, err := signToken(secret, subject)
			if err != nil {
				return err
			}

			var profiles []Profile
			if csvPath != "" {
				f, err := os.Open(csvPath)
				if err != nil {
					return err
				}
				defer f.Close()
				profiles, err = readProfiles(f, limit)
				if err != nil {
					return fmt.Errorf("failed to read CSV: %w", err)
				}
			} else {
				profiles = salaryLadder(generate)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Harrier URL: %s\nProfiles:    %d\nWorkers:     %d\n\n", baseURL, len(profiles), workers)

			if err := checkHealth(baseURL); err != nil {
				return fmt.Errorf("harrier not reachable at %s: %w", baseURL, err)
			}

			start := time.Now()
			m := runBenchmark(out, profiles, baseURL, token, fy, workers, verbose)
			printBenchResults(out, m, time.Since(start))
			return nil
		},
	}

	cmd.Flags().StringVar(&csvPath, "csv", "", "path to a taxpayer profile CSV")
	cmd.Flags().StringVar(&baseURL, "url", "http://localhost:8080", "Harrier base URL")
	cmd.Flags().StringVar(&secret, "secret", "", "HS256 secret used to sign the bearer token")
	cmd.Flags().StringVar(&subject, "subject", "benchmark", "token subject (caller identity)")
	cmd.Flags().StringVar(&fy, "fy", "2025-26", "financial year code")
	cmd.Flags().IntVar(&limit, "limit", 10000, "maximum profiles to read (0 = all)")
	cmd.Flags().IntVar(&generate, "generate", 200, "generated profiles when no CSV is given")
	cmd.Flags().IntVar(&workers, "workers", 10, "number of concurrent workers")
	cmd.Flags().BoolVar(&verbose, "verbose", false, "print each profile result")
	return cmd
}

func signToken(secret, subject string) (string, error) {
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   subject,
		ID:        uuid.NewString(),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	return tok.SignedString([]byte(secret))
}

func checkHealth(baseURL string) error {
	resp, err := http.Get(baseURL + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

var incomeColumns = map[string]domain.IncomeType{
	"salary":   domain.IncomeSalary,
	"interest": domain.IncomeInterest,
	"rental":   domain.IncomeRental,
	"business": domain.IncomeBusiness,
}

var claimColumns = []string{"80c", "80d", "hra"}

func readProfiles(r io.Reader, limit int) ([]Profile, error) {
	reader := csv.NewReader(r)

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	colIndex := make(map[string]int)
	for i, col := range header {
		colIndex[strings.ToLower(strings.TrimSpace(col))] = i
	}

	cell := func(record []string, col string) string {
		i, ok := colIndex[col]
		if !ok || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	var profiles []Profile
	for line := 2; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}

		p := Profile{
			Name:     cell(record, "name"),
			Expected: domain.Regime(strings.ToLower(cell(record, "expected_regime"))),
		}
		if p.Name == "" {
			p.Name = fmt.Sprintf("row-%d", line)
		}
		if p.Expected != "" && !p.Expected.Valid() {
			return nil, fmt.Errorf("line %d: unknown expected_regime %q", line, p.Expected)
		}

		for col, typ := range incomeColumns {
			raw := cell(record, col)
			if raw == "" {
				continue
			}
			amount, err := domain.ParseMoney(raw)
			if err != nil {
				return nil, fmt.Errorf("line %d: %s: %w", line, col, err)
			}
			p.Records = append(p.Records, domain.IncomeRecord{Type: typ, GrossAmount: amount, Confirmed: true})
		}
		for _, col := range claimColumns {
			raw := cell(record, col)
			if raw == "" {
				continue
			}
			amount, err := domain.ParseMoney(raw)
			if err != nil {
				return nil, fmt.Errorf("line %d: %s: %w", line, col, err)
			}
			p.Claims = append(p.Claims, domain.DeductionClaim{SectionCode: strings.ToUpper(col), ClaimedAmount: amount})
		}

		profiles = append(profiles, p)
		if limit > 0 && len(profiles) >= limit {
			break
		}
	}

	return profiles, nil
}

// salaryLadder generates n salaried profiles from 5 to 50 lakh, alternating
// between no claims and a full 80C + 80D claim.
func salaryLadder(n int) []Profile {
	profiles := make([]Profile, 0, n)
	for i := 0; i < n; i++ {
		salary := domain.Rupees(500000 + int64(i%46)*100000)
		p := Profile{
			Name:    fmt.Sprintf("ladder-%d", i),
			Records: []domain.IncomeRecord{{Type: domain.IncomeSalary, GrossAmount: salary, SourceRef: "form16"}},
		}
		if i%2 == 1 {
			p.Claims = []domain.DeductionClaim{
				{SectionCode: "80C", ClaimedAmount: domain.Rupees(150000)},
				{SectionCode: "80D", ClaimedAmount: domain.Rupees(25000)},
			}
		}
		profiles = append(profiles, p)
	}
	return profiles
}

func runBenchmark(out io.Writer, profiles []Profile, baseURL, token, fy string, numWorkers int, verbose bool) *BenchMetrics {
	metrics := &BenchMetrics{}

	work := make(chan Profile, 100)
	var wg sync.WaitGroup
	var printMu sync.Mutex

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 10 * time.Second}

			for p := range work {
				start := time.Now()
				cmp, err := compareProfile(client, baseURL, token, fy, p)
				atomic.AddInt64(&metrics.ProcessingTimeMs, time.Since(start).Milliseconds())
				atomic.AddInt64(&metrics.TotalProcessed, 1)

				if err != nil {
					atomic.AddInt64(&metrics.TotalErrors, 1)
					if verbose {
						printMu.Lock()
						fmt.Fprintf(out, "ERROR: %s -> %v\n", p.Name, err)
						printMu.Unlock()
					}
					continue
				}

				status := "-"
				switch {
				case p.Expected == "":
					atomic.AddInt64(&metrics.Unlabel, 1)
				case p.Expected == cmp.Cheaper:
					atomic.AddInt64(&metrics.Agree, 1)
					status = "✓"
				default:
					atomic.AddInt64(&metrics.Disagree, 1)
					status = "✗"
				}

				if verbose {
					printMu.Lock()
					fmt.Fprintf(out, "%s %-12s | Old: %12s | New: %12s | Cheaper: %-3s | Expected: %s\n",
						status, p.Name, cmp.Old.TotalTax, cmp.New.TotalTax, cmp.Cheaper, p.Expected)
					printMu.Unlock()
				}
			}
		}()
	}

	for _, p := range profiles {
		work <- p
	}
	close(work)
	wg.Wait()

	return metrics
}

func compareProfile(client *http.Client, baseURL, token, fy string, p Profile) (*domain.RegimeComparison, error) {
	body, err := json.Marshal(pipeline.CompareRequest{
		FinancialYearCode: fy,
		IncomeRecords:     p.Records,
		DeductionClaims:   p.Claims,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequest(http.MethodPost, baseURL+"/v1/compare", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var cmp domain.RegimeComparison
	if err := json.NewDecoder(resp.Body).Decode(&cmp); err != nil {
		return nil, err
	}
	if cmp.Old == nil || cmp.New == nil {
		return nil, errors.New("incomplete comparison")
	}
	return &cmp, nil
}

func printBenchResults(out io.Writer, m *BenchMetrics, duration time.Duration) {
	fmt.Fprintf(out, "\nRESULTS\n")
	fmt.Fprintf(out, "   Total Processed:  %d\n", m.TotalProcessed)
	fmt.Fprintf(out, "   Errors:           %d\n", m.TotalErrors)

	labelled := m.Agree + m.Disagree
	if labelled > 0 {
		fmt.Fprintf(out, "\nREGIME LABELS\n")
		fmt.Fprintf(out, "   Agree:            %d / %d (%.2f%%)\n", m.Agree, labelled, 100*float64(m.Agree)/float64(labelled))
		fmt.Fprintf(out, "   Disagree:         %d\n", m.Disagree)
	}
	if m.Unlabel > 0 {
		fmt.Fprintf(out, "   Unlabelled:       %d\n", m.Unlabel)
	}

	fmt.Fprintf(out, "\nPERFORMANCE\n")
	fmt.Fprintf(out, "   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if m.TotalProcessed > 0 {
		avgMs := float64(m.ProcessingTimeMs) / float64(m.TotalProcessed)
		fmt.Fprintf(out, "   Avg Latency:      %.2f ms\n", avgMs)
		fmt.Fprintf(out, "   Throughput:       %.2f req/sec\n", float64(m.TotalProcessed)/duration.Seconds())
	}
	fmt.Fprintln(out)
}
