package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/gray-logic-hub/internal/device"
	"github.com/nerrad567/gray-logic-hub/internal/module"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Topic   string `json:"topic,omitempty"`
	Message string `json:"message"`
}

// Common error codes.
const (
	ErrCodeBadRequest     = "bad_request"
	ErrCodeNotFound       = "not_found"
	ErrCodeUnauthorized   = "unauthorised"
	ErrCodeConflict       = "conflict"
	ErrCodeInternal       = "internal_error"
	ErrCodeValidation     = "validation_error"
	ErrCodeDriver         = "driver_error"
	ErrCodeNotResponding  = "not_responding"
	ErrCodeNotImplemented = "not_implemented"
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

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// deviceError converts a hub error into a response body.
func deviceError(err error) Error {
	de := device.AsError("", err)
	out := Error{Topic: de.Topic, Message: de.Message}

	switch {
	case errors.Is(err, device.ErrDeviceNotFound), errors.Is(err, device.ErrServiceNotFound):
		out.Status, out.Code = http.StatusNotFound, ErrCodeNotFound
	case errors.Is(err, device.ErrNotResponding):
		out.Status, out.Code = http.StatusGatewayTimeout, ErrCodeNotResponding
	case de.Kind == device.KindDriver:
		out.Status, out.Code = http.StatusBadGateway, ErrCodeDriver
	case errors.Is(err, device.ErrUsernameMismatch),
		errors.Is(err, device.ErrPasswordMismatch),
		errors.Is(err, device.ErrCannotVerify):
		out.Status, out.Code = http.StatusUnauthorized, ErrCodeUnauthorized
	case errors.Is(err, device.ErrDiscovering),
		errors.Is(err, device.ErrNotConnected),
		errors.Is(err, device.ErrDeviceOffline):
		out.Status, out.Code = http.StatusConflict, ErrCodeConflict
	case errors.Is(err, device.ErrActionNotImplemented):
		out.Status, out.Code = http.StatusNotImplemented, ErrCodeNotImplemented
	default:
		out.Status, out.Code = http.StatusBadRequest, ErrCodeBadRequest
	}
	return out
}

// writeDeviceError writes the response for an error from the device layer.
func writeDeviceError(w http.ResponseWriter, err error) {
	body := deviceError(err)
	writeJSON(w, body.Status, body)
}

// writeModuleError maps module manager errors to responses.
func writeModuleError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, module.ErrModuleNotFound), errors.Is(err, module.ErrNotInstalled):
		writeError(w, http.StatusNotFound, ErrCodeNotFound, err.Error())
	case errors.Is(err, module.ErrModuleExists):
		writeError(w, http.StatusConflict, ErrCodeConflict, err.Error())
	case errors.Is(err, module.ErrInvalidName),
		errors.Is(err, module.ErrInvalidSource),
		errors.Is(err, module.ErrInvalidVersion),
		errors.Is(err, module.ErrUnknownDriver),
		errors.Is(err, module.ErrManifestMismatch):
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
	case errors.Is(err, module.ErrNoFetcher):
		writeError(w, http.StatusNotImplemented, ErrCodeNotImplemented, err.Error())
	default:
		writeError(w, http.StatusBadGateway, ErrCodeDriver, err.Error())
	}
}
