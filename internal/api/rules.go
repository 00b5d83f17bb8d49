package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/opensource-finance/claimguard/internal/domain"
)

// ListRules returns the stored rule set, including disabled rules, next to
// the set the engine is currently evaluating.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "repository not available")
		return
	}

	stored, err := h.repo.ListRuleConfigs(r.Context(), domain.GlobalTenantID)
	if err != nil {
		slog.Error("failed to list rules", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list rules")
		return
	}

	active := h.engine.LoadedRules()
	writeJSON(w, http.StatusOK, map[string]any{
		"rules":       stored,
		"count":       len(stored),
		"active":      active,
		"activeCount": len(active),
	})
}

// GetRule retrieves a stored rule by ID.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	ruleID := chi.URLParam(r, "id")

	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "repository not available")
		return
	}

	rule, err := h.repo.GetRuleConfig(r.Context(), domain.GlobalTenantID, ruleID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "rule not found")
			return
		}
		slog.Error("failed to get rule", "rule_id", ruleID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get rule")
		return
	}

	writeJSON(w, http.StatusOK, rule)
}

// CreateRuleRequest is the request body for creating or replacing a rule.
type CreateRuleRequest struct {
	ID          string  `json:"id" validate:"required,max=64"`
	Name        string  `json:"name" validate:"required"`
	Description string  `json:"description,omitempty"`
	Version     string  `json:"version,omitempty"`
	Expression  string  `json:"expression" validate:"required"`
	Delta       float64 `json:"delta" validate:"gte=-1,lte=1"`
	Enabled     bool    `json:"enabled"`
}

// CreateRule validates a rule by compiling it, stores it globally and
// reloads the engine from the store.
//
// Rules are shared by every tenant, so any caller that passes the tenant
// header can change scoring for all tenants. Deployments must restrict this
// route at the gateway.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "repository not available")
		return
	}

	var req CreateRuleRequest
	if !h.decode(w, r, &req) {
		return
	}

	rule := &domain.RuleConfig{
		ID:          req.ID,
		TenantID:    domain.GlobalTenantID,
		Name:        req.Name,
		Description: req.Description,
		Version:     req.Version,
		Expression:  req.Expression,
		Delta:       req.Delta,
		Enabled:     req.Enabled,
	}

	if err := h.engine.ValidateRule(rule); err != nil {
		writeError(w, http.StatusBadRequest, "invalid rule: "+err.Error())
		return
	}

	if err := h.repo.SaveRuleConfig(ctx, domain.GlobalTenantID, rule); err != nil {
		slog.Error("failed to save rule config", "rule_id", rule.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to save rule")
		return
	}

	active, err := h.reloadRules(ctx)
	if err != nil {
		slog.Error("failed to reload rules after save", "rule_id", rule.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "rule saved but reload failed")
		return
	}

	slog.Info("rule saved", "rule_id", rule.ID, "version", rule.Version, "active_rules", active)
	writeJSON(w, http.StatusCreated, map[string]any{
		"rule":   rule,
		"active": active,
	})
}

// ReloadRules replaces the engine's rule set with the stored one.
// A failed reload leaves the active set in place.
func (h *Handler) ReloadRules(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "repository not available")
		return
	}

	active, err := h.reloadRules(r.Context())
	if err != nil {
		slog.Error("failed to reload rules", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to reload rules: "+err.Error())
		return
	}

	slog.Info("rules reloaded from database", "active_rules", active)
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "rules reloaded successfully",
		"active":  active,
	})
}

func (h *Handler) reloadRules(ctx context.Context) (int, error) {
	stored, err := h.repo.ListRuleConfigs(ctx, domain.GlobalTenantID)
	if err != nil {
		return 0, err
	}
	if err := h.engine.ReloadRules(stored); err != nil {
		return 0, err
	}
	return h.engine.RulesCount(), nil
}
