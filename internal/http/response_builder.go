package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"spesebook/internal/core"
	"spesebook/internal/log"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// statusFor maps a service error onto an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadRequest), errors.Is(err, core.ErrInvalidFormat):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrDuplicateKey):
		return http.StatusConflict
	case errors.Is(err, core.ErrProtected):
		return http.StatusForbidden
	case errors.Is(err, core.ErrValidation):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// writeServiceError logs err and writes the mapped status. Internal errors
// are not echoed to the client.
func writeServiceError(w http.ResponseWriter, r *http.Request, operation string, err error) {
	status := statusFor(err)
	msg := err.Error()

	logger := log.NewStructuredLogger(log.FromContext(r.Context()))
	if status >= 500 {
		logger.LogError(r.Context(), "Request failed", err, operation, nil)
		msg = http.StatusText(status)
	} else {
		log.FromContext(r.Context()).WithComponent(log.ComponentHTTP).DebugContext(r.Context(), "Request rejected",
			log.FieldOperation, operation, log.FieldStatusCode, status, log.FieldError, err)
	}
	writeError(w, status, msg)
}
