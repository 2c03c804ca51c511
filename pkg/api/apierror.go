// Package api provides the HTTP surface, error taxonomy, and shared
// middleware for the daemon's API server.
package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
)

// ErrorResponse is the body of every non-2xx response: {error, details?}.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// WriteError writes a JSON error response with the given status and title.
func WriteError(w http.ResponseWriter, status int, title, details string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{Error: title, Details: details})
}

// WriteBadRequest writes a 400 validation error.
func WriteBadRequest(w http.ResponseWriter, details string) {
	WriteError(w, http.StatusBadRequest, "validation_failed", details)
}

// WriteUnauthorized writes a 401 auth error.
func WriteUnauthorized(w http.ResponseWriter, details string) {
	if details == "" {
		details = "authentication required"
	}
	WriteError(w, http.StatusUnauthorized, "unauthorized", details)
}

// WriteForbidden writes a 403 error.
func WriteForbidden(w http.ResponseWriter, details string) {
	if details == "" {
		details = "insufficient permissions"
	}
	WriteError(w, http.StatusForbidden, "forbidden", details)
}

// WriteNotFound writes a 404 error.
func WriteNotFound(w http.ResponseWriter, details string) {
	WriteError(w, http.StatusNotFound, "not_found", details)
}

// WriteExpired writes a 410 error (expired token/resource).
func WriteExpired(w http.ResponseWriter, details string) {
	WriteError(w, http.StatusGone, "expired", details)
}

// WriteMethodNotAllowed writes a 405 error.
func WriteMethodNotAllowed(w http.ResponseWriter) {
	WriteError(w, http.StatusMethodNotAllowed, "method_not_allowed", "the HTTP method is not supported for this endpoint")
}

// WriteConflict writes a 409 error.
func WriteConflict(w http.ResponseWriter, details string) {
	WriteError(w, http.StatusConflict, "conflict", details)
}

// WriteTooLarge writes a 413 error (payload exceeds a size limit).
func WriteTooLarge(w http.ResponseWriter, details string) {
	WriteError(w, http.StatusRequestEntityTooLarge, "payload_too_large", details)
}

// WriteTooManyRequests writes a 429 error with a Retry-After header.
func WriteTooManyRequests(w http.ResponseWriter, retryAfterSecs int) {
	w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfterSecs))
	WriteError(w, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded, retry after the specified interval")
}

// WriteInternal writes a 500 error. err is logged but never exposed to
// the client.
func WriteInternal(w http.ResponseWriter, err error) {
	slog.Error("internal server error", "error", err)
	WriteError(w, http.StatusInternalServerError, "internal", "an unexpected error occurred")
}

// WriteUnavailable writes a 503 error (a dependency is unavailable).
func WriteUnavailable(w http.ResponseWriter, details string) {
	WriteError(w, http.StatusServiceUnavailable, "unavailable", details)
}
