package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/xela07ax/agent-control-plane/internal/domain"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Error      string   `json:"error"`
	Violations []string `json:"violations,omitempty"`
}

// writeError маппит доменные ошибки в HTTP-статусы:
// валидация — 400 с полным списком нарушений, конфликт решений — 409
func writeError(w http.ResponseWriter, err error) {
	if ve, ok := domain.IsValidation(err); ok {
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error:      "validation failed",
			Violations: ve.Violations,
		})
		return
	}

	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "not found"})
	case errors.Is(err, domain.ErrAlreadyProcessed):
		writeJSON(w, http.StatusConflict, errorResponse{Error: "already processed"})
	case errors.Is(err, domain.ErrInvalidTransition):
		writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error()})
	case errors.Is(err, domain.ErrNoEligibleAgent):
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: err.Error()})
	default:
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}
