// Package api provides HTTP handlers for the penpal API.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/ashureev/penpal/internal/domain"
	"github.com/ashureev/penpal/internal/observability"
)

const maxBodyBytes = 1 << 20

// Error codes returned in the "code" field of error bodies.
const (
	CodeInvalidArgument = "invalid_argument"
	CodeUnauthenticated = "unauthenticated"
	CodeNotFound        = "not_found"
	CodeAlreadyExists   = "already_exists"
	CodeSessionClosed   = "session_closed"
	CodeOrderConflict   = "order_conflict"
	CodeInternal        = "internal"
)

// Handler provides common handler utilities.
type Handler struct {
	debugErrors bool
	isDev       bool
}

// NewHandler creates a new Handler. debugErrors echoes internal error details
// in 500 responses.
func NewHandler(isDev, debugErrors bool) *Handler {
	return &Handler{isDev: isDev, debugErrors: debugErrors}
}

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error     string `json:"error"`
	Code      string `json:"code,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
	Detail    string `json:"detail,omitempty"`
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, errorBody{Error: message})
}

// ErrorCode writes a JSON error response carrying a machine-readable code.
func ErrorCode(w http.ResponseWriter, status int, code, message string) {
	JSON(w, status, errorBody{Error: message, Code: code})
}

// WriteError maps err onto a status code and error body. Domain errors keep
// their message; anything else is logged and answered with a generic 500.
func (h *Handler) WriteError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidArgument):
		ErrorCode(w, http.StatusBadRequest, CodeInvalidArgument, err.Error())
	case errors.Is(err, domain.ErrUnauthenticated):
		ErrorCode(w, http.StatusUnauthorized, CodeUnauthenticated, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		ErrorCode(w, http.StatusNotFound, CodeNotFound, "not found")
	case errors.Is(err, domain.ErrAlreadyExists):
		ErrorCode(w, http.StatusConflict, CodeAlreadyExists, "already exists")
	case errors.Is(err, domain.ErrSessionClosed):
		ErrorCode(w, http.StatusConflict, CodeSessionClosed, "session is already completed")
	case errors.Is(err, domain.ErrOrderConflict):
		w.Header().Set("Retry-After", "1")
		JSON(w, http.StatusConflict, errorBody{
			Error:     "another submission was processed first, please retry",
			Code:      CodeOrderConflict,
			Retryable: true,
		})
	default:
		observability.LoggerFromContext(r.Context()).Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
		)
		body := errorBody{Error: "internal server error", Code: CodeInternal}
		if h.debugErrors {
			body.Detail = err.Error()
		}
		JSON(w, http.StatusInternalServerError, body)
	}
}

// decodeJSON strictly decodes the request body into v. Unknown fields,
// trailing data and oversized bodies are rejected.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: invalid request body: %v", domain.ErrInvalidArgument, err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: request body must contain a single JSON object", domain.ErrInvalidArgument)
	}
	return nil
}
