// Package handlers contains the HTTP handlers of the rules API: rule
// catalog maintenance and on-demand evaluation.
package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"weatherrules/internal/core"
	"weatherrules/internal/types"
)

// RuleStore is the catalog contract the handler depends on.
type RuleStore interface {
	ListRules(ctx context.Context, farmID, stakeholder string) ([]types.RuleDefinition, error)
	GetRule(ctx context.Context, farmID, ruleID string) (*types.RuleDefinition, error)
	PutRule(ctx context.Context, def types.RuleDefinition) error
	DeleteRule(ctx context.Context, farmID, ruleID string) error
}

// RuleHandler maps /v1/rules requests onto the catalog.
type RuleHandler struct {
	store  RuleStore
	logger *slog.Logger
}

func NewRuleHandler(store RuleStore, logger *slog.Logger) *RuleHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &RuleHandler{store: store, logger: logger}
}

// RegisterRoutes mounts the rule endpoints on r, which is expected to be
// the /v1/rules subrouter.
func (h *RuleHandler) RegisterRoutes(r chi.Router) {
	r.Get("/", h.HandleList)
	r.Put("/", h.HandlePut)
	r.Get("/{farmID}/{ruleID}", h.HandleGet)
	r.Delete("/{farmID}/{ruleID}", h.HandleDelete)
}

// HandleList handles GET /v1/rules?farm_id=&stakeholder=.
func (h *RuleHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	farmID, stakeholder := q.Get("farm_id"), q.Get("stakeholder")
	if farmID == "" || stakeholder == "" {
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationMissingField,
			"farm_id and stakeholder query parameters are required", nil))
		return
	}

	defs, err := h.store.ListRules(r.Context(), farmID, stakeholder)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to list rules", "farm_id", farmID, "stakeholder", stakeholder, "error", err)
		core.Error(w, r, err)
		return
	}
	if defs == nil {
		defs = []types.RuleDefinition{}
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: defs})
}

// HandleGet handles GET /v1/rules/{farmID}/{ruleID}.
func (h *RuleHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	def, err := h.store.GetRule(r.Context(), chi.URLParam(r, "farmID"), chi.URLParam(r, "ruleID"))
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: def})
}

// HandlePut handles PUT /v1/rules. The definition is validated, including
// its condition tree, before it is stored.
func (h *RuleHandler) HandlePut(w http.ResponseWriter, r *http.Request) {
	var def types.RuleDefinition
	if err := core.DecodeJSON(w, r, &def); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.store.PutRule(r.Context(), def); err != nil {
		if !types.IsValidation(err) {
			h.logger.ErrorContext(r.Context(), "failed to store rule", "farm_id", def.FarmID, "rule_id", def.RuleID, "error", err)
		}
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: def})
}

// HandleDelete handles DELETE /v1/rules/{farmID}/{ruleID}.
func (h *RuleHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	farmID, ruleID := chi.URLParam(r, "farmID"), chi.URLParam(r, "ruleID")
	if err := h.store.DeleteRule(r.Context(), farmID, ruleID); err != nil {
		core.Error(w, r, err)
		return
	}
	h.logger.InfoContext(r.Context(), "rule deleted", "farm_id", farmID, "rule_id", ruleID)
	w.WriteHeader(http.StatusNoContent)
}
