package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"weatherrules/internal/core"
	"weatherrules/internal/types"
)

// FarmEvaluator runs one evaluation pass. *dispatcher.Dispatcher implements it.
type FarmEvaluator interface {
	EvaluateFarm(ctx context.Context, req types.EvaluationRequest) (*types.FarmEvaluation, error)
}

// EvaluationHandler exposes on-demand evaluation. Triggered actions are
// delivered exactly as for a scheduled pass.
type EvaluationHandler struct {
	evaluator FarmEvaluator
	logger    *slog.Logger
}

func NewEvaluationHandler(evaluator FarmEvaluator, logger *slog.Logger) *EvaluationHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &EvaluationHandler{evaluator: evaluator, logger: logger}
}

func (h *EvaluationHandler) RegisterRoutes(r chi.Router) {
	r.Post("/", h.HandleEvaluate)
}

// HandleEvaluate handles POST /v1/evaluations with an EvaluationRequest body.
// data_type defaults to forecast.
func (h *EvaluationHandler) HandleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req types.EvaluationRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if req.DataType == "" {
		req.DataType = types.DataTypeForecast
	}

	result, err := h.evaluator.EvaluateFarm(r.Context(), req)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	h.logger.InfoContext(r.Context(), "on-demand evaluation complete",
		"farm_id", req.FarmID, "stakeholder", req.Stakeholder, "triggered", len(result.Triggered))
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: result})
}
