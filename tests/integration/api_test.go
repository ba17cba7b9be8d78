//go:build integration
// +build integration

// Package integration provides end-to-end tests against a running Harrier server.
//
// These tests drive the public HTTP API the way a client does:
//
//	Income + claims → Compute / Compare → Audit → Recommend → Saved calculation → Export
//
// Run with:
//
//	HARRIER_JWT_SECRET=dev-secret harrier serve &
//	HARRIER_TEST_SECRET=dev-secret go test -tags=integration -v ./tests/integration/...
//
// HARRIER_TEST_URL defaults to http://localhost:8080. The secret must match the
// server's auth.jwt_secret; tokens are minted here with a per-run subject so
// saved calculations never collide between runs.
//
// REFERENCE FIGURES (FY 2025-26):
//
// | Scenario                         | Regime | Total tax |
// |----------------------------------|--------|-----------|
// | Salary 15,00,000, no claims      | new    | 97,500    |
// | Salary 12,00,000, no claims      | new    | 0 (87A)   |
// | Salary 15,00,000, 80C 1,50,000   | old    | 2,10,600  |
package integration

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TestConfig holds test environment configuration
type TestConfig struct {
	BaseURL string
	Token   string
}

func getTestConfig(t *testing.T) TestConfig {
	t.Helper()

	secret := os.Getenv("HARRIER_TEST_SECRET")
	if secret == "" {
		t.Skip("HARRIER_TEST_SECRET not set")
	}
	baseURL := os.Getenv("HARRIER_TEST_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "integration-" + uuid.NewString(),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	signed, err := tok.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("Failed to sign token: %v", err)
	}

	return TestConfig{BaseURL: baseURL, Token: signed}
}

// ============================================================================
// API Request/Response Types (matching Harrier's API contract)
// ============================================================================

type IncomeRecord struct {
	Type        string  `json:"type"`
	GrossAmount float64 `json:"grossAmount"`
	SourceRef   string  `json:"sourceRef,omitempty"`
	Confirmed   bool    `json:"confirmed"`
}

type DeductionClaim struct {
	SectionCode   string  `json:"sectionCode"`
	ClaimedAmount float64 `json:"claimedAmount"`
}

type PipelineRequest struct {
	FinancialYearCode string           `json:"financialYearCode"`
	Regime            string           `json:"regime,omitempty"`
	IncomeRecords     []IncomeRecord   `json:"incomeRecords"`
	DeductionClaims   []DeductionClaim `json:"deductionClaims"`
}

type ComputationResult struct {
	Regime        string  `json:"regime"`
	TaxableIncome float64 `json:"taxableIncome"`
	Rebate87A     float64 `json:"rebate87A"`
	TotalTax      float64 `json:"totalTax"`
}

type Comparison struct {
	Old           ComputationResult `json:"old"`
	New           ComputationResult `json:"new"`
	Cheaper       string            `json:"cheaper"`
	SavingsAmount float64           `json:"savingsAmount"`
}

type Assessment struct {
	SelectedRegime string     `json:"selectedRegime"`
	Comparison     Comparison `json:"comparison"`
	Audit          struct {
		AuditScore     int    `json:"auditScore"`
		ReadinessLevel string `json:"readinessLevel"`
	} `json:"audit"`
	Recommendations struct {
		Recommendations []struct {
			RuleID   string `json:"ruleId"`
			Priority string `json:"priority"`
		} `json:"recommendations"`
	} `json:"recommendations"`
}

// ============================================================================
// Test Helper Functions
// ============================================================================

func call(t *testing.T, config TestConfig, method, path string, body any) (*http.Response, []byte) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("Failed to marshal request: %v", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, config.BaseURL+path, reader)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if config.Token != "" {
		req.Header.Set("Authorization", "Bearer "+config.Token)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("Failed to read response: %v", err)
	}
	return resp, respBody
}

func mustOK(t *testing.T, resp *http.Response, body []byte, out any) {
	t.Helper()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", resp.StatusCode, string(body))
	}
	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			t.Fatalf("Failed to unmarshal response: %v (body: %s)", err, string(body))
		}
	}
}

func salary(amount float64) PipelineRequest {
	return PipelineRequest{
		FinancialYearCode: "2025-26",
		IncomeRecords: []IncomeRecord{
			{Type: "Salary", GrossAmount: amount, SourceRef: "form16"},
		},
	}
}

// ============================================================================
// SCENARIO 1: Reference computations
// ============================================================================

func TestCompute_NewRegimeReference(t *testing.T) {
	config := getTestConfig(t)

	req := salary(1500000)
	req.Regime = "new"

	var res ComputationResult
	resp, body := call(t, config, http.MethodPost, "/v1/compute", req)
	mustOK(t, resp, body, &res)

	if res.TotalTax != 97500 {
		t.Errorf("Expected total tax 97500, got %.2f", res.TotalTax)
	}
	t.Logf("✓ 15L salary, new regime: total tax %.2f", res.TotalTax)
}

func TestCompute_RebateBringsTaxToZero(t *testing.T) {
	config := getTestConfig(t)

	req := salary(1200000)
	req.Regime = "new"

	var res ComputationResult
	resp, body := call(t, config, http.MethodPost, "/v1/compute", req)
	mustOK(t, resp, body, &res)

	if res.TotalTax != 0 {
		t.Errorf("Expected zero tax after 87A rebate, got %.2f", res.TotalTax)
	}
	if res.Rebate87A == 0 {
		t.Error("Expected a non-zero 87A rebate")
	}
}

// ============================================================================
// SCENARIO 2: Regime comparison
// ============================================================================

func TestCompare_NewRegimeCheaper(t *testing.T) {
	config := getTestConfig(t)

	req := salary(1500000)
	req.DeductionClaims = []DeductionClaim{{SectionCode: "80C", ClaimedAmount: 150000}}

	var cmp Comparison
	resp, body := call(t, config, http.MethodPost, "/v1/compare", req)
	mustOK(t, resp, body, &cmp)

	if cmp.Cheaper != "new" {
		t.Errorf("Expected new regime cheaper, got %s", cmp.Cheaper)
	}
	if cmp.Old.TotalTax != 210600 {
		t.Errorf("Expected old regime tax 210600, got %.2f", cmp.Old.TotalTax)
	}
	if cmp.SavingsAmount != cmp.Old.TotalTax-cmp.New.TotalTax {
		t.Errorf("Savings %.2f does not match totals", cmp.SavingsAmount)
	}
}

// ============================================================================
// SCENARIO 3: Full assessment, persistence and export
// ============================================================================

func TestAssess_SavedAndExported(t *testing.T) {
	config := getTestConfig(t)

	req := salary(1800000)
	req.IncomeRecords = append(req.IncomeRecords, IncomeRecord{Type: "Interest", GrossAmount: 40000, Confirmed: true})
	req.DeductionClaims = []DeductionClaim{{SectionCode: "80C", ClaimedAmount: 50000}}

	var a Assessment
	resp, body := call(t, config, http.MethodPost, "/v1/assess", req)
	mustOK(t, resp, body, &a)

	if a.SelectedRegime != a.Comparison.Cheaper {
		t.Errorf("Expected cheaper regime selected, got %s", a.SelectedRegime)
	}
	if a.Audit.AuditScore < 0 || a.Audit.AuditScore > 100 {
		t.Errorf("Audit score out of range: %d", a.Audit.AuditScore)
	}

	id := resp.Header.Get("X-Calculation-ID")
	if id == "" {
		t.Skip("Server does not persist results")
	}

	// Persistence is asynchronous (bus → worker).
	var saved *http.Response
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		saved, _ = call(t, config, http.MethodGet, "/v1/calculations/"+id, nil)
		if saved.StatusCode == http.StatusOK {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}
	if saved.StatusCode != http.StatusOK {
		t.Fatalf("Calculation %s was not saved (last status %d)", id, saved.StatusCode)
	}

	var doc struct {
		DocumentID   string `json:"document_id"`
		DocumentType string `json:"document_type"`
	}
	resp, body = call(t, config, http.MethodGet, "/v1/calculations/"+id+"/export?name=Integration", nil)
	mustOK(t, resp, body, &doc)

	if doc.DocumentType != "tax_computation_summary" {
		t.Errorf("Unexpected document type %q", doc.DocumentType)
	}
	t.Logf("✓ Assessment %s saved and exported as %s", id, doc.DocumentID)
}

// ============================================================================
// SCENARIO 4: Boundary errors
// ============================================================================

func TestErrors(t *testing.T) {
	config := getTestConfig(t)

	t.Run("MissingToken", func(t *testing.T) {
		anon := TestConfig{BaseURL: config.BaseURL}
		resp, _ := call(t, anon, http.MethodPost, "/v1/compute", salary(1000000))
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("Expected 401, got %d", resp.StatusCode)
		}
	})

	t.Run("UnknownFinancialYear", func(t *testing.T) {
		req := salary(1000000)
		req.FinancialYearCode = "2030-31"
		req.Regime = "new"

		resp, body := call(t, config, http.MethodPost, "/v1/compute", req)
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("Expected 400, got %d: %s", resp.StatusCode, string(body))
		}
	})

	t.Run("UnknownCalculation", func(t *testing.T) {
		resp, _ := call(t, config, http.MethodGet, "/v1/calculations/"+uuid.NewString(), nil)
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("Expected 404, got %d", resp.StatusCode)
		}
	})
}
