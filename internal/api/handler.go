package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/opensource-finance/harrier/internal/aggregate"
	"github.com/opensource-finance/harrier/internal/cache"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/export"
	"github.com/opensource-finance/harrier/internal/pipeline"
	"github.com/opensource-finance/harrier/internal/rules"
)

const maxBodyBytes = 1 << 20

// calculationNamespace seeds deterministic IDs for memoized calculations, so
// a repeated request maps onto the calculation already saved for it.
var calculationNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://harrier.opensource-finance.org/calculation"))

// Handler holds dependencies for API handlers.
type Handler struct {
	pipeline  *pipeline.Processor
	rules     *rules.Engine
	repo      domain.Repository
	cache     domain.Cache
	bus       domain.EventBus
	version   string
	resultTTL time.Duration
	persist   bool
}

// Options configures the optional collaborators of a Handler.
// Any of Repo, Cache and Bus may be nil.
type Options struct {
	Repo      domain.Repository
	Cache     domain.Cache
	Bus       domain.EventBus
	Version   string
	ResultTTL time.Duration

	// PersistResults publishes completed computations for the worker to save.
	PersistResults bool
}

// NewHandler creates a new API handler.
func NewHandler(processor *pipeline.Processor, engine *rules.Engine, opts Options) *Handler {
	ttl := opts.ResultTTL
	if ttl == 0 {
		ttl = 10 * time.Minute
	}
	return &Handler{
		pipeline:  processor,
		rules:     engine,
		repo:      opts.Repo,
		cache:     opts.Cache,
		bus:       opts.Bus,
		version:   opts.Version,
		resultTTL: ttl,
		persist:   opts.PersistResults && opts.Bus != nil,
	}
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

// Compute handles POST /v1/compute.
func (h *Handler) Compute(w http.ResponseWriter, r *http.Request) {
	var req pipeline.ComputeRequest
	if !decode(w, r, &req) {
		return
	}

	h.memoized(w, r, "compute", &req, func(ctx context.Context) (any, *domain.Calculation, error) {
		res, err := h.pipeline.Compute(ctx, &req)
		if err != nil {
			return nil, nil, err
		}

		income := aggregate.Income(req.IncomeRecords)
		var deductions domain.DeductionSummary
		if table, err := h.pipeline.Tables().Lookup(res.FinancialYear, res.Regime); err == nil {
			deductions = aggregate.Deductions(req.DeductionClaims, table.SectionCaps)
		}

		return res, &domain.Calculation{
			Kind:          domain.KindCompute,
			FinancialYear: res.FinancialYear,
			Regime:        res.Regime,
			Income:        income,
			Deductions:    deductions,
			Result:        res,
		}, nil
	})
}

// Compare handles POST /v1/compare.
func (h *Handler) Compare(w http.ResponseWriter, r *http.Request) {
	var req pipeline.CompareRequest
	if !decode(w, r, &req) {
		return
	}

	h.memoized(w, r, "compare", &req, func(ctx context.Context) (any, *domain.Calculation, error) {
		cmp, err := h.pipeline.Compare(ctx, &req)
		if err != nil {
			return nil, nil, err
		}

		income := aggregate.Income(req.IncomeRecords)
		var deductions domain.DeductionSummary
		if table, err := h.pipeline.Tables().Lookup(cmp.Old.FinancialYear, domain.RegimeOld); err == nil {
			deductions = aggregate.Deductions(req.DeductionClaims, table.SectionCaps)
		}

		return cmp, &domain.Calculation{
			Kind:          domain.KindCompare,
			FinancialYear: cmp.Old.FinancialYear,
			Regime:        cmp.Cheaper,
			Income:        income,
			Deductions:    deductions,
			Result:        cmp.Result(cmp.Cheaper),
			Comparison:    cmp,
		}, nil
	})
}

// Audit handles POST /v1/audit.
func (h *Handler) Audit(w http.ResponseWriter, r *http.Request) {
	var req pipeline.AuditRequest
	if !decode(w, r, &req) {
		return
	}

	report, err := h.pipeline.Audit(r.Context(), &req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// Recommend handles POST /v1/recommend.
func (h *Handler) Recommend(w http.ResponseWriter, r *http.Request) {
	var req pipeline.RecommendRequest
	if !decode(w, r, &req) {
		return
	}

	report, err := h.pipeline.Recommend(r.Context(), &req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// Assess handles POST /v1/assess. Custom audit rules take part, so the
// response is never memoized.
func (h *Handler) Assess(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req pipeline.AssessRequest
	if !decode(w, r, &req) {
		return
	}

	a, err := h.pipeline.Assess(ctx, &req)
	if err != nil {
		writeError(w, err)
		return
	}

	calc := &domain.Calculation{
		ID:            uuid.New().String(),
		Kind:          domain.KindAssess,
		FinancialYear: a.FinancialYear,
		Regime:        a.Selected,
		Income:        a.Income,
		Deductions:    a.Deductions,
		Result:        a.Comparison.Result(a.Selected),
		Comparison:    a.Comparison,
	}
	h.publish(ctx, w, calc)

	writeJSON(w, http.StatusOK, a)
}

// memoized serves op from the response cache when it can. The key covers the
// operation and the re-encoded request, so requests that decode alike share
// an entry. Calculations get IDs derived from the same key.
func (h *Handler) memoized(w http.ResponseWriter, r *http.Request, op string, req any, run func(context.Context) (any, *domain.Calculation, error)) {
	ctx := r.Context()
	identity := GetIdentity(ctx)

	canonical, err := json.Marshal(req)
	if err != nil {
		writeError(w, err)
		return
	}
	key := cache.ResponseKey(op, canonical)
	calcID := uuid.NewSHA1(calculationNamespace, []byte(identity+"|"+key)).String()

	if h.cache != nil {
		data, err := h.cache.Get(ctx, identity, key)
		if err != nil {
			slog.Warn("response cache read failed", "op", op, "error", err)
		}
		if data != nil {
			// Only advertise an ID the caller can fetch; the first publish may have failed.
			if h.persist {
				if _, err := h.loadCalculation(ctx, calcID); err == nil {
					w.Header().Set("X-Calculation-ID", calcID)
				}
			}
			w.Header().Set("X-Cache", "HIT")
			writeRaw(w, http.StatusOK, data)
			return
		}
	}

	resp, calc, err := run(ctx)
	if err != nil {
		writeError(w, err)
		return
	}

	data, err := json.Marshal(resp)
	if err != nil {
		writeError(w, err)
		return
	}

	if h.cache != nil {
		if err := h.cache.Set(ctx, identity, key, data, h.resultTTL); err != nil {
			slog.Warn("response cache write failed", "op", op, "error", err)
		}
	}

	if calc != nil {
		calc.ID = calcID
		h.publish(ctx, w, calc)
	}

	w.Header().Set("X-Cache", "MISS")
	writeRaw(w, http.StatusOK, data)
}

// publish hands a completed calculation to the worker. Persistence happens
// after the response is computed and never fails the request.
func (h *Handler) publish(ctx context.Context, w http.ResponseWriter, calc *domain.Calculation) {
	if !h.persist {
		return
	}

	identity := GetIdentity(ctx)
	calc.Identity = identity
	calc.CreatedAt = time.Now().UTC()

	payload, err := json.Marshal(calc)
	if err != nil {
		slog.Error("failed to encode calculation", "calculation_id", calc.ID, "error", err)
		return
	}
	if err := h.bus.Publish(ctx, identity, domain.TopicComputationCompleted, payload); err != nil {
		slog.Error("failed to publish calculation", "calculation_id", calc.ID, "error", err)
		return
	}
	w.Header().Set("X-Calculation-ID", calc.ID)
}

// Export handles POST /v1/export.
func (h *Handler) Export(w http.ResponseWriter, r *http.Request) {
	var req export.Request
	if !decode(w, r, &req) {
		return
	}

	doc, err := export.Build(&req, h.tableFor(req.Result))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// ExportCalculation handles GET /v1/calculations/{id}/export.
// Taxpayer details come from the name and pan query parameters.
func (h *Handler) ExportCalculation(w http.ResponseWriter, r *http.Request) {
	calc, err := h.loadCalculation(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}

	req := &export.Request{
		Result:     calc.Result,
		Income:     &calc.Income,
		Deductions: &calc.Deductions,
		Taxpayer: domain.ExportTaxpayer{
			Name: r.URL.Query().Get("name"),
			PAN:  r.URL.Query().Get("pan"),
		},
	}

	doc, err := export.Build(req, h.tableFor(calc.Result))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (h *Handler) tableFor(res *domain.TaxComputationResult) *domain.TaxRuleTable {
	if res == nil {
		return nil
	}
	table, err := h.pipeline.Tables().Lookup(res.FinancialYear, res.Regime)
	if err != nil {
		return nil
	}
	return table
}

// GetCalculation handles GET /v1/calculations/{id}.
func (h *Handler) GetCalculation(w http.ResponseWriter, r *http.Request) {
	calc, err := h.loadCalculation(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, calc)
}

// ListCalculations handles GET /v1/calculations?financialYear=.
func (h *Handler) ListCalculations(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: "repository not available"})
		return
	}

	calcs, err := h.repo.ListCalculations(r.Context(), GetIdentity(r.Context()), r.URL.Query().Get("financialYear"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"calculations": calcs,
		"count":        len(calcs),
	})
}

// loadCalculation reads the cache first, then the repository.
func (h *Handler) loadCalculation(ctx context.Context, id string) (*domain.Calculation, error) {
	if id == "" {
		return nil, domain.NewValidationError("id", "is required")
	}
	identity := GetIdentity(ctx)

	if h.cache != nil {
		calc, err := h.cache.GetCalculation(ctx, identity, id)
		if err != nil {
			slog.Warn("calculation cache read failed", "calculation_id", id, "error", err)
		}
		if calc != nil {
			return calc, nil
		}
	}

	if h.repo == nil {
		return nil, domain.ErrNotFound
	}
	calc, err := h.repo.GetCalculation(ctx, identity, id)
	if err != nil {
		return nil, err
	}
	if h.cache != nil {
		_ = h.cache.SetCalculation(ctx, identity, calc, h.resultTTL)
	}
	return calc, nil
}

// FinancialYears handles GET /v1/financial-years.
func (h *Handler) FinancialYears(w http.ResponseWriter, r *http.Request) {
	reg := h.pipeline.Tables()
	writeJSON(w, http.StatusOK, map[string]any{
		"financialYears": reg.Years(),
		"latest":         reg.Latest(),
	})
}

// RuleTable handles GET /v1/rule-tables/{fy}/{regime}.
func (h *Handler) RuleTable(w http.ResponseWriter, r *http.Request) {
	regime := domain.Regime(chi.URLParam(r, "regime"))
	if !regime.Valid() {
		writeError(w, domain.NewValidationError("regime", fmt.Sprintf("must be %q or %q", domain.RegimeOld, domain.RegimeNew)))
		return
	}

	fy := chi.URLParam(r, "fy")
	table, err := h.pipeline.Tables().Lookup(fy, regime)
	if err != nil {
		writeError(w, fmt.Errorf("%w: no rule table for %s/%s", domain.ErrNotFound, fy, regime))
		return
	}
	writeJSON(w, http.StatusOK, table)
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}
	if h.bus != nil {
		if err := h.bus.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":         status,
		"version":        h.version,
		"financialYears": len(h.pipeline.Tables().Years()),
		"customRules":    h.customRuleCount(),
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if len(h.pipeline.Tables().Years()) == 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"ready": "false",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

func (h *Handler) customRuleCount() int {
	if h.rules == nil {
		return 0
	}
	return h.rules.RulesCount()
}

// decode reads a JSON body into v. It writes the 400 itself and reports
// whether the handler should continue.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid JSON request body", Field: "body"})
		return false
	}
	return true
}

// writeError maps domain errors onto status codes.
func writeError(w http.ResponseWriter, err error) {
	var ve *domain.ValidationError
	var iv *domain.InvariantViolation

	switch {
	case errors.As(err, &ve):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: ve.Error(), Field: ve.Field})
	case errors.Is(err, domain.ErrUnauthorized):
		writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: err.Error()})
	case errors.Is(err, domain.ErrNotFound):
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: err.Error()})
	case errors.As(err, &iv):
		slog.Error("invariant violation", "component", iv.Component, "reason", iv.Reason)
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: iv.Error()})
	default:
		slog.Error("request failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeRaw(w http.ResponseWriter, status int, data []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
}
