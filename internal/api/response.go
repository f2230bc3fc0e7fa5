package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/kalambet/recall/internal/ingest"
	"github.com/kalambet/recall/internal/question"
	"github.com/kalambet/recall/internal/tuning"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	writeJSON(w, code, map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}

// storeError maps store sentinels onto HTTP responses. Anything
// unrecognized is treated as an upstream or internal failure.
func storeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, question.ErrNotFound),
		errors.Is(err, tuning.ErrNotFound),
		errors.Is(err, ingest.ErrNotFound):
		httpError(w, http.StatusNotFound, "not_found", "%v", err)
	case errors.Is(err, question.ErrValidation),
		errors.Is(err, tuning.ErrValidation),
		errors.Is(err, ingest.ErrValidation),
		errors.Is(err, tuning.ErrBatchReadOnly),
		errors.Is(err, tuning.ErrBatchFull):
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
	case errors.Is(err, question.ErrConflict):
		httpError(w, http.StatusConflict, "conflict", "%v", err)
	default:
		httpError(w, http.StatusBadGateway, "api_error", "%v", err)
	}
}
