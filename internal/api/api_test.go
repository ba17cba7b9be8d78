package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/opensource-finance/harrier/internal/bus"
	"github.com/opensource-finance/harrier/internal/cache"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/pipeline"
	"github.com/opensource-finance/harrier/internal/repository"
	"github.com/opensource-finance/harrier/internal/rules"
	"github.com/opensource-finance/harrier/internal/ruletable"
	"github.com/opensource-finance/harrier/internal/worker"
)

const (
	testSecret   = "test-secret"
	testOperator = "ops-admin"
)

type testEnv struct {
	server *Server
	repo   domain.Repository
	bus    *bus.ChannelBus
}

// createTestServer wires a server over SQLite, the LRU cache and the channel
// bus, with the persistence worker running.
func createTestServer(t *testing.T, mutate ...func(*domain.Config)) *testEnv {
	t.Helper()

	cfg := domain.DefaultConfig()
	cfg.Auth.JWTSecret = testSecret
	cfg.Auth.OperatorSubjects = []string{testOperator}
	for _, m := range mutate {
		m(cfg)
	}

	reg, err := ruletable.Default()
	if err != nil {
		t.Fatalf("failed to load rule tables: %v", err)
	}
	engine, err := rules.NewEngine()
	if err != nil {
		t.Fatalf("failed to create rule engine: %v", err)
	}

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "api.db"),
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	lru := cache.NewLRUCache(1000)
	eventBus := bus.NewChannelBus(100)
	t.Cleanup(func() { eventBus.Close() })

	w := worker.NewWorker(eventBus, repo, lru, worker.Config{CacheTTL: time.Minute})
	if err := w.Start(); err != nil {
		t.Fatalf("failed to start worker: %v", err)
	}
	t.Cleanup(func() { w.Stop() })

	handler := NewHandler(pipeline.NewProcessor(reg, engine), engine, Options{
		Repo:           repo,
		Cache:          lru,
		Bus:            eventBus,
		Version:        "test-v1",
		ResultTTL:      time.Minute,
		PersistResults: true,
	})

	return &testEnv{
		server: NewServer(cfg, handler),
		repo:   repo,
		bus:    eventBus,
	}
}

func token(t *testing.T, subject string, secret string) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	signed, err := tok.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func (e *testEnv) do(t *testing.T, method, path, subject string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if raw, ok := body.(string); ok {
			buf.WriteString(raw)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if subject != "" {
		req.Header.Set("Authorization", "Bearer "+token(t, subject, testSecret))
	}

	rr := httptest.NewRecorder()
	e.server.Router().ServeHTTP(rr, req)
	return rr
}

func salaryRequest(amount int64) pipeline.ComputeRequest {
	return pipeline.ComputeRequest{
		FinancialYearCode: "2025-26",
		Regime:            domain.RegimeNew,
		IncomeRecords: []domain.IncomeRecord{
			{Type: domain.IncomeSalary, GrossAmount: domain.Rupees(amount), SourceRef: "form16"},
		},
	}
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse error response: %v", err)
	}
	return resp
}

func TestHealthEndpoint(t *testing.T) {
	env := createTestServer(t)

	rr := env.do(t, http.MethodGet, "/health", "", nil)
	if rr.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rr.Code)
	}

	var resp map[string]any
	json.Unmarshal(rr.Body.Bytes(), &resp)
	if resp["status"] != "healthy" {
		t.Errorf("expected status 'healthy', got '%v'", resp["status"])
	}
	if resp["version"] != "test-v1" {
		t.Errorf("expected version 'test-v1', got '%v'", resp["version"])
	}

	if rr := env.do(t, http.MethodGet, "/ready", "", nil); rr.Code != http.StatusOK {
		t.Errorf("expected ready 200, got %d", rr.Code)
	}
}

func TestIdentityRequired(t *testing.T) {
	env := createTestServer(t)
	body, _ := json.Marshal(salaryRequest(1500000))

	t.Run("MissingToken", func(t *testing.T) {
		rr := env.do(t, http.MethodPost, "/v1/compute", "", string(body))
		if rr.Code != http.StatusUnauthorized {
			t.Errorf("expected status 401, got %d", rr.Code)
		}
	})

	t.Run("WrongSecret", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/v1/compute", bytes.NewReader(body))
		req.Header.Set("Authorization", "Bearer "+token(t, "user-001", "other-secret"))
		rr := httptest.NewRecorder()
		env.server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusUnauthorized {
			t.Errorf("expected status 401, got %d", rr.Code)
		}
	})

	t.Run("NoSubject", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/v1/compute", bytes.NewReader(body))
		req.Header.Set("Authorization", "Bearer "+token(t, "", testSecret))
		rr := httptest.NewRecorder()
		env.server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusUnauthorized {
			t.Errorf("expected status 401, got %d", rr.Code)
		}
	})

	t.Run("NoneAlgorithm", func(t *testing.T) {
		tok := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{Subject: "user-001"})
		signed, _ := tok.SignedString(jwt.UnsafeAllowNoneSignatureType)

		req := httptest.NewRequest(http.MethodPost, "/v1/compute", bytes.NewReader(body))
		req.Header.Set("Authorization", "Bearer "+signed)
		rr := httptest.NewRecorder()
		env.server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusUnauthorized {
			t.Errorf("expected status 401, got %d", rr.Code)
		}
	})
}

func TestComputeEndpoint(t *testing.T) {
	env := createTestServer(t)

	t.Run("NewRegime", func(t *testing.T) {
		rr := env.do(t, http.MethodPost, "/v1/compute", "user-001", salaryRequest(1500000))
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}
		if rr.Header().Get("X-Cache") != "MISS" {
			t.Errorf("expected cache miss on first request, got %q", rr.Header().Get("X-Cache"))
		}

		var res domain.TaxComputationResult
		if err := json.Unmarshal(rr.Body.Bytes(), &res); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
		if res.TotalTax != domain.Rupees(97500) {
			t.Errorf("expected total tax 97500.00, got %s", res.TotalTax)
		}
		if res.Regime != domain.RegimeNew {
			t.Errorf("expected regime new, got %s", res.Regime)
		}
	})

	t.Run("MemoizedPerIdentity", func(t *testing.T) {
		first := env.do(t, http.MethodPost, "/v1/compute", "user-001", salaryRequest(1500000))
		if first.Header().Get("X-Cache") != "HIT" {
			t.Errorf("expected cache hit on repeat request, got %q", first.Header().Get("X-Cache"))
		}

		other := env.do(t, http.MethodPost, "/v1/compute", "user-002", salaryRequest(1500000))
		if other.Header().Get("X-Cache") != "MISS" {
			t.Errorf("expected cache miss for another identity, got %q", other.Header().Get("X-Cache"))
		}
		if first.Body.String() != other.Body.String() {
			t.Error("expected identical results for identical input")
		}
	})

	t.Run("UnknownFinancialYear", func(t *testing.T) {
		req := salaryRequest(1500000)
		req.FinancialYearCode = "2030-31"

		rr := env.do(t, http.MethodPost, "/v1/compute", "user-001", req)
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("expected status 400, got %d", rr.Code)
		}
		if resp := decodeError(t, rr); resp.Field != "financialYearCode" {
			t.Errorf("expected field financialYearCode, got %q", resp.Field)
		}
	})

	t.Run("InvalidRegime", func(t *testing.T) {
		req := salaryRequest(1500000)
		req.Regime = "flat"

		rr := env.do(t, http.MethodPost, "/v1/compute", "user-001", req)
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("expected status 400, got %d", rr.Code)
		}
		if resp := decodeError(t, rr); resp.Field != "regime" {
			t.Errorf("expected field regime, got %q", resp.Field)
		}
	})

	t.Run("InvalidJSON", func(t *testing.T) {
		rr := env.do(t, http.MethodPost, "/v1/compute", "user-001", "{not json")
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("AmountTooLarge", func(t *testing.T) {
		body := `{"financialYearCode":"2025-26","regime":"new",` +
			`"incomeRecords":[{"type":"Salary","grossAmount":200000000000000000}]}`
		rr := env.do(t, http.MethodPost, "/v1/compute", "user-001", body)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d: %s", rr.Code, rr.Body.String())
		}
	})

	t.Run("IncomeTotalTooLarge", func(t *testing.T) {
		body := `{"financialYearCode":"2025-26","regime":"new","incomeRecords":[` +
			`{"type":"Salary","grossAmount":900000000000},` +
			`{"type":"Business","grossAmount":900000000000}]}`
		rr := env.do(t, http.MethodPost, "/v1/compute", "user-001", body)
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("expected status 400, got %d: %s", rr.Code, rr.Body.String())
		}
		if resp := decodeError(t, rr); resp.Field != "incomeRecords[1].grossAmount" {
			t.Errorf("expected field incomeRecords[1].grossAmount, got %q", resp.Field)
		}
	})
}

func TestCachedCalculationID(t *testing.T) {
	t.Run("NotAdvertisedWhenPublishFailed", func(t *testing.T) {
		reg, _ := ruletable.Default()
		engine, _ := rules.NewEngine()
		repo, err := repository.New(domain.RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: filepath.Join(t.TempDir(), "api.db"),
		})
		if err != nil {
			t.Fatalf("failed to create repository: %v", err)
		}
		defer repo.Close()

		closed := bus.NewChannelBus(10)
		closed.Close()

		cfg := domain.DefaultConfig()
		cfg.Auth.JWTSecret = testSecret
		env := &testEnv{
			server: NewServer(cfg, NewHandler(pipeline.NewProcessor(reg, engine), engine, Options{
				Repo:           repo,
				Cache:          cache.NewLRUCache(100),
				Bus:            closed,
				ResultTTL:      time.Minute,
				PersistResults: true,
			})),
			repo: repo,
		}

		for i, want := range []string{"MISS", "HIT"} {
			rr := env.do(t, http.MethodPost, "/v1/compute", "user-001", salaryRequest(1500000))
			if rr.Code != http.StatusOK {
				t.Fatalf("request %d: expected status 200, got %d", i+1, rr.Code)
			}
			if rr.Header().Get("X-Cache") != want {
				t.Errorf("request %d: expected X-Cache %s, got %q", i+1, want, rr.Header().Get("X-Cache"))
			}
			if id := rr.Header().Get("X-Calculation-ID"); id != "" {
				t.Errorf("request %d: advertised unsaved calculation %s", i+1, id)
			}
		}
	})

	t.Run("AdvertisedOnceSaved", func(t *testing.T) {
		env := createTestServer(t)

		first := env.do(t, http.MethodPost, "/v1/compute", "user-001", salaryRequest(1800000))
		id := first.Header().Get("X-Calculation-ID")
		if id == "" {
			t.Fatal("expected X-Calculation-ID on a published calculation")
		}

		deadline := time.Now().Add(2 * time.Second)
		for time.Now().Before(deadline) {
			if env.do(t, http.MethodGet, "/v1/calculations/"+id, "user-001", nil).Code == http.StatusOK {
				break
			}
			time.Sleep(10 * time.Millisecond)
		}

		hit := env.do(t, http.MethodPost, "/v1/compute", "user-001", salaryRequest(1800000))
		if hit.Header().Get("X-Cache") != "HIT" {
			t.Fatalf("expected cache hit, got %q", hit.Header().Get("X-Cache"))
		}
		if got := hit.Header().Get("X-Calculation-ID"); got != id {
			t.Errorf("expected X-Calculation-ID %s on hit, got %q", id, got)
		}
	})
}

func TestCompareEndpoint(t *testing.T) {
	env := createTestServer(t)

	req := pipeline.CompareRequest{
		FinancialYearCode: "2025-26",
		IncomeRecords: []domain.IncomeRecord{
			{Type: domain.IncomeSalary, GrossAmount: domain.Rupees(1500000), SourceRef: "form16"},
		},
		DeductionClaims: []domain.DeductionClaim{
			{SectionCode: "80C", ClaimedAmount: domain.Rupees(100000)},
		},
	}

	rr := env.do(t, http.MethodPost, "/v1/compare", "user-001", req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var cmp domain.RegimeComparison
	if err := json.Unmarshal(rr.Body.Bytes(), &cmp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if cmp.Cheaper != domain.RegimeNew {
		t.Errorf("expected new regime cheaper, got %s", cmp.Cheaper)
	}
	if cmp.SavingsAmount != cmp.Old.TotalTax-cmp.New.TotalTax {
		t.Errorf("savings %s does not match totals", cmp.SavingsAmount)
	}
}

func TestAssessAndSavedCalculation(t *testing.T) {
	env := createTestServer(t)

	req := pipeline.AssessRequest{
		FinancialYearCode: "2025-26",
		IncomeRecords: []domain.IncomeRecord{
			{Type: domain.IncomeSalary, GrossAmount: domain.Rupees(1500000), SourceRef: "form16"},
			{Type: domain.IncomeInterest, GrossAmount: domain.Rupees(20000), Confirmed: true},
		},
		DeductionClaims: []domain.DeductionClaim{
			{SectionCode: "80C", ClaimedAmount: domain.Rupees(150000)},
		},
	}

	rr := env.do(t, http.MethodPost, "/v1/assess", "user-001", req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var a domain.Assessment
	if err := json.Unmarshal(rr.Body.Bytes(), &a); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if a.Selected != a.Comparison.Cheaper {
		t.Errorf("expected cheaper regime selected, got %s", a.Selected)
	}
	if a.Audit == nil || a.Recommendations == nil {
		t.Fatal("expected audit and recommendations in assessment")
	}

	id := rr.Header().Get("X-Calculation-ID")
	if id == "" {
		t.Fatal("expected X-Calculation-ID header")
	}

	var saved *httptest.ResponseRecorder
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		saved = env.do(t, http.MethodGet, "/v1/calculations/"+id, "user-001", nil)
		if saved.Code == http.StatusOK {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if saved.Code != http.StatusOK {
		t.Fatalf("expected saved calculation, got %d", saved.Code)
	}

	var calc domain.Calculation
	json.Unmarshal(saved.Body.Bytes(), &calc)
	if calc.Kind != domain.KindAssess || calc.Regime != a.Selected {
		t.Errorf("unexpected saved calculation: kind=%s regime=%s", calc.Kind, calc.Regime)
	}

	t.Run("OtherIdentityCannotRead", func(t *testing.T) {
		rr := env.do(t, http.MethodGet, "/v1/calculations/"+id, "user-002", nil)
		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})

	t.Run("List", func(t *testing.T) {
		rr := env.do(t, http.MethodGet, "/v1/calculations?financialYear=2025-26", "user-001", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
		var resp struct {
			Count int `json:"count"`
		}
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp.Count != 1 {
			t.Errorf("expected 1 calculation, got %d", resp.Count)
		}
	})

	t.Run("Export", func(t *testing.T) {
		rr := env.do(t, http.MethodGet, "/v1/calculations/"+id+"/export?name=A.%20Taxpayer&pan=ABCDE1234F", "user-001", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var doc domain.ExportDocument
		json.Unmarshal(rr.Body.Bytes(), &doc)
		if doc.DocumentType != "tax_computation_summary" {
			t.Errorf("unexpected document type %q", doc.DocumentType)
		}
		if doc.Taxpayer.PAN != "ABCDE1234F" {
			t.Errorf("expected PAN from query, got %q", doc.Taxpayer.PAN)
		}
		if len(doc.IncomeSummary.Lines) != 2 {
			t.Errorf("expected 2 income lines, got %d", len(doc.IncomeSummary.Lines))
		}
	})

	t.Run("MissingCalculation", func(t *testing.T) {
		rr := env.do(t, http.MethodGet, "/v1/calculations/nonexistent", "user-001", nil)
		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})
}

func TestExportEndpoint(t *testing.T) {
	env := createTestServer(t)

	rr := env.do(t, http.MethodPost, "/v1/compute", "user-001", salaryRequest(1200000))
	var res domain.TaxComputationResult
	json.Unmarshal(rr.Body.Bytes(), &res)

	body := map[string]any{
		"result":   res,
		"taxpayer": map[string]string{"name": "A. Taxpayer"},
	}

	first := env.do(t, http.MethodPost, "/v1/export", "user-001", body)
	if first.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", first.Code, first.Body.String())
	}
	second := env.do(t, http.MethodPost, "/v1/export", "user-001", body)
	if first.Body.String() != second.Body.String() {
		t.Error("expected byte-identical export documents")
	}

	rr = env.do(t, http.MethodPost, "/v1/export", "user-001", map[string]any{})
	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected status 400 without result, got %d", rr.Code)
	}
}

func TestRuleTableEndpoints(t *testing.T) {
	env := createTestServer(t)

	t.Run("FinancialYears", func(t *testing.T) {
		rr := env.do(t, http.MethodGet, "/v1/financial-years", "user-001", nil)
		var resp struct {
			FinancialYears []string `json:"financialYears"`
			Latest         string   `json:"latest"`
		}
		json.Unmarshal(rr.Body.Bytes(), &resp)

		found := false
		for _, fy := range resp.FinancialYears {
			if fy == "2025-26" {
				found = true
			}
		}
		if !found {
			t.Errorf("expected 2025-26 in %v", resp.FinancialYears)
		}
		if resp.Latest == "" {
			t.Error("expected latest financial year")
		}
	})

	t.Run("Lookup", func(t *testing.T) {
		rr := env.do(t, http.MethodGet, "/v1/rule-tables/2025-26/new", "user-001", nil)
		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rr.Code)
		}
	})

	t.Run("UnknownYear", func(t *testing.T) {
		rr := env.do(t, http.MethodGet, "/v1/rule-tables/1999-00/new", "user-001", nil)
		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})

	t.Run("BadRegime", func(t *testing.T) {
		rr := env.do(t, http.MethodGet, "/v1/rule-tables/2025-26/flat", "user-001", nil)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})
}

func TestAuditRuleEndpoints(t *testing.T) {
	env := createTestServer(t)

	auditReq := pipeline.AuditRequest{
		FinancialYearCode: "2025-26",
		Regime:            domain.RegimeNew,
		GrossIncome:       domain.Rupees(2000000),
		IncomeRecords: []domain.IncomeRecord{
			{Type: domain.IncomeSalary, GrossAmount: domain.Rupees(2000000), SourceRef: "form16"},
		},
	}

	hasFlag := func(t *testing.T, id string) bool {
		t.Helper()
		rr := env.do(t, http.MethodPost, "/v1/audit", "user-001", auditReq)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}
		var report domain.AuditReport
		json.Unmarshal(rr.Body.Bytes(), &report)
		for _, f := range report.Flags {
			if f.RuleID == id {
				return true
			}
		}
		return false
	}

	rule := domain.AuditRuleConfig{
		ID:         "custom.high_income",
		Title:      "High income review",
		Expression: "gross_income > 1000000.0",
		FlagType:   domain.FlagHighRisk,
		Severity:   domain.SeverityInfo,
		Penalty:    2,
		Enabled:    true,
	}

	t.Run("RejectsBadExpression", func(t *testing.T) {
		bad := rule
		bad.Expression = "gross_income +"
		rr := env.do(t, http.MethodPost, "/v1/audit-rules", testOperator, bad)
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("expected status 400, got %d", rr.Code)
		}
		if resp := decodeError(t, rr); resp.Field != "expression" {
			t.Errorf("expected field expression, got %q", resp.Field)
		}
	})

	t.Run("CreateAndReload", func(t *testing.T) {
		if hasFlag(t, rule.ID) {
			t.Fatal("custom rule fired before it was loaded")
		}

		rr := env.do(t, http.MethodPost, "/v1/audit-rules", testOperator, rule)
		if rr.Code != http.StatusCreated {
			t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
		}

		rr = env.do(t, http.MethodPost, "/v1/audit-rules/reload", testOperator, nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}
		var resp struct {
			Count int `json:"count"`
		}
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp.Count != 1 {
			t.Errorf("expected 1 loaded rule, got %d", resp.Count)
		}

		if !hasFlag(t, rule.ID) {
			t.Error("expected custom rule to raise a flag after reload")
		}
	})

	t.Run("GetAndList", func(t *testing.T) {
		rr := env.do(t, http.MethodGet, "/v1/audit-rules/"+rule.ID, "user-001", nil)
		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rr.Code)
		}

		rr = env.do(t, http.MethodGet, "/v1/audit-rules", "user-001", nil)
		var resp struct {
			Count  int    `json:"count"`
			Source string `json:"source"`
		}
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp.Count != 1 || resp.Source != "database" {
			t.Errorf("unexpected list response: %+v", resp)
		}
	})

	t.Run("DisableAndReload", func(t *testing.T) {
		rr := env.do(t, http.MethodDelete, "/v1/audit-rules/"+rule.ID, testOperator, nil)
		if rr.Code != http.StatusNoContent {
			t.Fatalf("expected status 204, got %d", rr.Code)
		}

		env.do(t, http.MethodPost, "/v1/audit-rules/reload", testOperator, nil)
		if hasFlag(t, rule.ID) {
			t.Error("disabled rule still raises a flag")
		}

		rr = env.do(t, http.MethodDelete, "/v1/audit-rules/missing", testOperator, nil)
		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})
}

func TestAuditRuleMutationsRequireOperator(t *testing.T) {
	env := createTestServer(t)

	rule := domain.AuditRuleConfig{
		ID:         "custom.always",
		Title:      "Always fires",
		Expression: "true",
		FlagType:   domain.FlagHighRisk,
		Severity:   domain.SeverityCritical,
		Penalty:    100,
		Enabled:    true,
	}

	requests := []struct {
		name   string
		method string
		path   string
		body   any
	}{
		{"Create", http.MethodPost, "/v1/audit-rules", rule},
		{"Reload", http.MethodPost, "/v1/audit-rules/reload", nil},
		{"Disable", http.MethodDelete, "/v1/audit-rules/" + rule.ID, nil},
	}
	for _, tt := range requests {
		t.Run(tt.name, func(t *testing.T) {
			rr := env.do(t, tt.method, tt.path, "taxpayer-1", tt.body)
			if rr.Code != http.StatusForbidden {
				t.Errorf("expected status 403, got %d: %s", rr.Code, rr.Body.String())
			}
		})
	}

	rules, err := env.repo.ListAuditRules(context.Background())
	if err != nil {
		t.Fatalf("failed to list rules: %v", err)
	}
	if len(rules) != 0 {
		t.Errorf("expected no stored rules, got %d", len(rules))
	}

	rr := env.do(t, http.MethodPost, "/v1/audit", "taxpayer-2", pipeline.AuditRequest{
		FinancialYearCode: "2025-26",
		Regime:            domain.RegimeNew,
		GrossIncome:       domain.Rupees(1000000),
		IncomeRecords: []domain.IncomeRecord{
			{Type: domain.IncomeSalary, GrossAmount: domain.Rupees(1000000), SourceRef: "form16"},
			{Type: domain.IncomeInterest, GrossAmount: domain.Rupees(10000), SourceRef: "26as"},
		},
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var report domain.AuditReport
	json.Unmarshal(rr.Body.Bytes(), &report)
	for _, f := range report.Flags {
		if f.RuleID == rule.ID {
			t.Error("rule from a non-operator reached another identity's audit")
		}
	}

	t.Run("NoOperatorsConfigured", func(t *testing.T) {
		env := createTestServer(t, func(cfg *domain.Config) {
			cfg.Auth.OperatorSubjects = nil
		})
		rr := env.do(t, http.MethodPost, "/v1/audit-rules/reload", testOperator, nil)
		if rr.Code != http.StatusForbidden {
			t.Errorf("expected status 403, got %d", rr.Code)
		}
	})
}

func TestRateLimit(t *testing.T) {
	env := createTestServer(t, func(cfg *domain.Config) {
		cfg.RateLimit = domain.RateLimitConfig{Enabled: true, Requests: 2, WindowSeconds: 60}
	})

	for i := 0; i < 2; i++ {
		rr := env.do(t, http.MethodGet, "/v1/financial-years", "user-001", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("request %d: expected status 200, got %d", i+1, rr.Code)
		}
	}

	rr := env.do(t, http.MethodGet, "/v1/financial-years", "user-001", nil)
	if rr.Code != http.StatusTooManyRequests {
		t.Errorf("expected status 429, got %d", rr.Code)
	}

	rr = env.do(t, http.MethodGet, "/v1/financial-years", "user-002", nil)
	if rr.Code != http.StatusOK {
		t.Errorf("expected other identity unaffected, got %d", rr.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	env := createTestServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/v1/compute", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rr := httptest.NewRecorder()
	env.server.Router().ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Errorf("expected status 204, got %d", rr.Code)
	}
	if rr.Header().Get("Access-Control-Allow-Origin") != "https://app.example.com" {
		t.Errorf("unexpected allow-origin %q", rr.Header().Get("Access-Control-Allow-Origin"))
	}
}
