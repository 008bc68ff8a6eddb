package auth

import (
	"encoding/json"
	"errors"
	"net/http"
)

// errorBody is the structured rejection body. Message never carries
// internal detail: no stack traces, no raw credentials.
type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// HTTPStatus maps a classified error to its response status. Certificate
// rejections surface as 403 by convention; every other invalid credential
// is 401.
func HTTPStatus(err error, mode Mode) int {
	var e *Error
	if !errors.As(err, &e) {
		return http.StatusInternalServerError
	}

	switch e.Type {
	case ErrorTypeCredentialMissing:
		if mode == ModeMutualTLS {
			// A request on an mtls route with no peer certificate only
			// occurs at a non-handshake enforcement point.
			return http.StatusBadRequest
		}
		return http.StatusUnauthorized
	case ErrorTypeCredentialInvalid:
		if mode == ModeMutualTLS {
			return http.StatusForbidden
		}
		return http.StatusUnauthorized
	case ErrorTypeUpstreamUnavailable:
		return http.StatusServiceUnavailable
	case ErrorTypeRouteNotFound:
		return http.StatusNotFound
	case ErrorTypePolicyDenied:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// shortCode returns the machine-readable error code for a status.
func shortCode(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusNotFound:
		return "not found"
	case http.StatusTooManyRequests:
		return "too many requests"
	case http.StatusBadGateway:
		return "bad gateway"
	case http.StatusServiceUnavailable:
		return "service unavailable"
	default:
		return "internal server error"
	}
}

// WriteError writes the structured rejection for a classified error.
func WriteError(w http.ResponseWriter, err error, mode Mode) {
	status := HTTPStatus(err, mode)

	message := "internal server error"
	var e *Error
	if errors.As(err, &e) && e.Message != "" && status != http.StatusInternalServerError {
		message = e.Message
	}

	WriteJSONError(w, status, message)
}

// WriteJSONError writes a rejection body with the code derived from the
// status.
func WriteJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{
		Error:   shortCode(status),
		Message: message,
	})
}
