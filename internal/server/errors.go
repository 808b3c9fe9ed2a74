package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/GuyNachshon/hirag/internal/transcription"
)

// ErrorKind classifies failures surfaced to API clients
type ErrorKind string

const (
	// KindValidation covers bad input: file type, size, missing fields, unknown ids
	KindValidation ErrorKind = "validation"
	// KindUnavailable means a dependency was never configured
	KindUnavailable ErrorKind = "upstream_unavailable"
	// KindUpstream means a remote model or service failed or timed out
	KindUpstream ErrorKind = "upstream_failure"
	// KindInternal is any unexpected failure
	KindInternal ErrorKind = "internal"
)

// APIError is an error with the HTTP status and machine-readable code sent to the client
type APIError struct {
	Kind    ErrorKind
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s (%d %s): %s", e.Kind, e.Status, e.Code, e.Message)
}

// errorBody is the JSON error payload
type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func validationError(status int, code, message string) *APIError {
	return &APIError{Kind: KindValidation, Status: status, Code: code, Message: message}
}

func notFound(code, message string) *APIError {
	return validationError(http.StatusNotFound, code, message)
}

func unavailable(message string) *APIError {
	return &APIError{Kind: KindUnavailable, Status: http.StatusServiceUnavailable, Code: "service_unavailable", Message: message}
}

func internalError(prefix string, err error) *APIError {
	return &APIError{Kind: KindInternal, Status: http.StatusInternalServerError, Code: "server_error",
		Message: prefix + ": " + err.Error()}
}

// transcriptionError maps a transcription failure to its HTTP status.
// Typed client errors keep their code; anything else is internal.
func transcriptionError(prefix string, err error) *APIError {
	var te *transcription.Error
	if !errors.As(err, &te) {
		return internalError(prefix, err)
	}
	status := te.HTTPStatus()
	kind := KindUpstream
	if status == http.StatusInternalServerError {
		kind = KindInternal
	}
	return &APIError{Kind: kind, Status: status, Code: string(te.Code), Message: prefix + ": " + te.Error()}
}

// writeJSON encodes v with the given status
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError sends the error payload and tags the response for metrics
func writeError(w http.ResponseWriter, e *APIError) {
	if rw, ok := w.(*responseWriter); ok {
		rw.errorKind = e.Kind
	}
	writeJSON(w, e.Status, errorBody{Error: e.Code, Message: e.Message})
}
