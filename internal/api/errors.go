package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/gray-logic-mystrom/internal/bridges/mystrom"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes.
const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeNotFound     = "not_found"
	ErrCodeUnauthorized = "unauthorised"
	ErrCodeConflict     = "conflict"
	ErrCodeInternal     = "internal_error"
	ErrCodeValidation   = "validation_error"
	ErrCodeDevice       = "device_error"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

// writeBadRequest writes a 400 error response.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// writeNotFound writes a 404 error response.
func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

// writeUnauthorized writes a 401 error response.
func writeUnauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeBridgeError maps a manager or command error onto an HTTP status.
//
//	lookup / unknown entry    -> 404
//	invalid input             -> 400
//	already configured        -> 409
//	connection / protocol     -> 502
func writeBridgeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, mystrom.ErrLookup), errors.Is(err, mystrom.ErrEntryNotFound):
		writeNotFound(w, err.Error())
	case errors.Is(err, mystrom.ErrInvalidHost), errors.Is(err, mystrom.ErrInvalidDeviceType),
		errors.Is(err, mystrom.ErrUnknownCommand):
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
	case errors.Is(err, mystrom.ErrAlreadyConfigured):
		writeError(w, http.StatusConflict, ErrCodeConflict, err.Error())
	case errors.Is(err, mystrom.ErrCannotConnect), errors.Is(err, mystrom.ErrConnection),
		errors.Is(err, mystrom.ErrProtocol):
		writeError(w, http.StatusBadGateway, ErrCodeDevice, err.Error())
	default:
		writeInternalError(w, err.Error())
	}
}
