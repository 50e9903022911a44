// Package handlers provides the HTTP handlers of the reading API.
package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/lightcar-iot/lightcar/internal/readings"
)

// Envelope wraps every reading API response.
type Envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    any    `json:"data"`
}

const internalErrorMessage = "internal server error"

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("Failed to write response", "err", err)
	}
}

func writeSuccess(w http.ResponseWriter, status int, msg string, data any) {
	writeJSON(w, status, Envelope{Success: true, Message: msg, Data: data})
}

// writeError answers with the status matching the kind of err.
// Client errors carry their detail, others are only logged.
func writeError(w http.ResponseWriter, reqID string, err error) {
	status := statusFromError(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		slog.Error("Request failed", "req_id", reqID, "err", err)
		msg = internalErrorMessage
	} else {
		slog.Info("Request rejected", "req_id", reqID, "status", status, "err", err)
	}

	writeJSON(w, status, Envelope{Success: false, Message: msg})
}

func statusFromError(err error) int {
	switch {
	case errors.Is(err, readings.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, readings.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, readings.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
