package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/opensource-finance/harrier/internal/domain"
)

// ListAuditRules returns stored custom audit rules, or the loaded ones when
// no repository is configured.
func (h *Handler) ListAuditRules(w http.ResponseWriter, r *http.Request) {
	source := "engine"
	stored := h.rules.GetLoadedRules()

	if h.repo != nil {
		var err error
		stored, err = h.repo.ListAuditRules(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		source = "database"
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"rules":  stored,
		"count":  len(stored),
		"loaded": h.rules.RulesCount(),
		"source": source,
	})
}

// GetAuditRule retrieves one custom audit rule.
func (h *Handler) GetAuditRule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if h.repo != nil {
		rule, err := h.repo.GetAuditRule(r.Context(), id)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, rule)
		return
	}

	for _, rule := range h.rules.GetLoadedRules() {
		if rule.ID == id {
			writeJSON(w, http.StatusOK, rule)
			return
		}
	}
	writeError(w, domain.ErrNotFound)
}

// CreateAuditRule validates and stores a custom audit rule.
// Stored rules take effect after POST /v1/audit-rules/reload.
func (h *Handler) CreateAuditRule(w http.ResponseWriter, r *http.Request) {
	var rule domain.AuditRuleConfig
	if !decode(w, r, &rule) {
		return
	}

	if err := h.rules.ValidateRule(&rule); err != nil {
		writeError(w, err)
		return
	}

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: "repository not available"})
		return
	}
	if err := h.repo.SaveAuditRule(r.Context(), &rule); err != nil {
		writeError(w, err)
		return
	}

	slog.Info("audit rule saved", "rule_id", rule.ID, "enabled", rule.Enabled)
	writeJSON(w, http.StatusCreated, map[string]any{
		"rule":    rule,
		"message": "Rule saved. Call POST /v1/audit-rules/reload to apply changes.",
	})
}

// DisableAuditRule soft-deletes a stored rule. It stays loaded until the next reload.
func (h *Handler) DisableAuditRule(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: "repository not available"})
		return
	}

	id := chi.URLParam(r, "id")
	if err := h.repo.DisableAuditRule(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}

	slog.Info("audit rule disabled", "rule_id", id)
	w.WriteHeader(http.StatusNoContent)
}

// ReloadAuditRules swaps the loaded rules for the enabled rules in the repository.
func (h *Handler) ReloadAuditRules(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: "repository not available"})
		return
	}

	count, err := h.rules.ReloadFrom(r.Context(), h.repo)
	if err != nil {
		slog.Error("failed to reload audit rules", "error", err)
		writeError(w, err)
		return
	}

	slog.Info("audit rules reloaded", "count", count)
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "audit rules reloaded successfully",
		"count":   count,
	})
}
