package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/petermazzocco/excel-analytics/internal/insights"
)

const maxInsightBody = 5 << 20

// InsightsHandler exposes generated summaries, relationships and forecasts.
type InsightsHandler struct {
	svc    *insights.Service
	logger *slog.Logger
}

func NewInsightsHandler(svc *insights.Service, logger *slog.Logger) *InsightsHandler {
	return &InsightsHandler{svc: svc, logger: logger}
}

type dataRequest struct {
	Data    []map[string]any `json:"data"`
	Columns []string         `json:"columns"`
}

// Summarize POST /api/summarize
func (h *InsightsHandler) Summarize(w http.ResponseWriter, r *http.Request) {
	var req dataRequest
	if !h.decode(w, r, &req) {
		return
	}
	summary, err := h.svc.Summarize(r.Context(), req.Data)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "summary": summary})
}

// Relationships POST /api/data/relationships
func (h *InsightsHandler) Relationships(w http.ResponseWriter, r *http.Request) {
	var req dataRequest
	if !h.decode(w, r, &req) {
		return
	}
	text, err := h.svc.Relationships(r.Context(), req.Columns, req.Data)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "relationships": text})
}

// Predict POST /api/predict
func (h *InsightsHandler) Predict(w http.ResponseWriter, r *http.Request) {
	var req dataRequest
	if !h.decode(w, r, &req) {
		return
	}
	prediction, err := h.svc.Predict(r.Context(), req.Data)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "prediction": prediction})
}

func (h *InsightsHandler) decode(w http.ResponseWriter, r *http.Request, dst *dataRequest) bool {
	if err := decodeJSON(w, r, dst, maxInsightBody); err != nil {
		if isTooLarge(err) {
			writeError(w, http.StatusBadRequest, "Request body too large")
			return false
		}
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

func (h *InsightsHandler) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, insights.ErrEmptyInput):
		writeError(w, http.StatusBadRequest, "No data provided")
	case errors.Is(err, insights.ErrNotConfigured):
		writeError(w, http.StatusServiceUnavailable, "AI service not configured")
	case errors.Is(err, insights.ErrUnavailable):
		writeError(w, http.StatusServiceUnavailable, "AI service unavailable")
	default:
		h.logger.Error("insight request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to generate insight")
	}
}
