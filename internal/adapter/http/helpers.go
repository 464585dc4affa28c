package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Strob0t/ForgeBot/internal/domain"
	"github.com/Strob0t/ForgeBot/internal/port/llm"
	"github.com/Strob0t/ForgeBot/internal/service"
)

// readJSON decodes a JSON request body with a size limit.
func readJSON[T any](w http.ResponseWriter, r *http.Request, bodyLimit int64) (T, bool) {
	var v T
	r.Body = http.MaxBytesReader(w, r.Body, bodyLimit)
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		} else {
			writeError(w, http.StatusBadRequest, "invalid request body")
		}
		return v, false
	}
	return v, true
}

// urlParam is a short alias for chi.URLParam.
func urlParam(r *http.Request, name string) string {
	return chi.URLParam(r, name)
}

// requireField writes a 400 error and returns false when value is empty.
func requireField(w http.ResponseWriter, value, fieldName string) bool {
	if value == "" {
		writeError(w, http.StatusBadRequest, fieldName+" is required")
		return false
	}
	return true
}

type errorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
	BuildID   string `json:"build_id,omitempty"`
	Iteration int    `json:"iteration,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to write JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// writeDomainError maps service errors onto HTTP statuses. Model failures
// are upstream problems (502); quota exhaustion is reported as 402 so
// callers can tell it from an outage.
func writeDomainError(w http.ResponseWriter, r *http.Request, err error, fallbackMsg string) {
	resp := errorResponse{RequestID: w.Header().Get(headerRequestID)}
	var iterErr *service.IterationError
	if errors.As(err, &iterErr) {
		resp.Iteration = iterErr.Iteration
	}

	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrNotFound):
		status, resp.Error = http.StatusNotFound, fallbackMsg
	case errors.Is(err, domain.ErrInvalidInput):
		status, resp.Error = http.StatusBadRequest, err.Error()
	case errors.Is(err, service.ErrBuildLog):
		resp.Error = "build log unavailable"
	default:
		if q, ok := llm.AsQuota(err); ok {
			status, resp.Error = http.StatusPaymentRequired, q.Error()
			break
		}
		var le *llm.Error
		if errors.As(err, &le) {
			status, resp.Error = http.StatusBadGateway, "model provider failed: "+string(le.Category)
			break
		}
		resp.Error = "internal server error"
	}

	if status >= http.StatusInternalServerError {
		slog.ErrorContext(r.Context(), "request failed", "status", status, "error", err)
	}
	writeJSON(w, status, resp)
}
