package auth

import (
	"errors"
	"fmt"
)

// ErrorType classifies a verification failure. The type drives the HTTP
// status and the audit reason; the human message goes to the client.
type ErrorType string

const (
	// ErrorTypeCredentialMissing means no credential of the expected
	// kind was supplied.
	ErrorTypeCredentialMissing ErrorType = "credential_missing"
	// ErrorTypeCredentialInvalid means a credential was supplied but
	// failed verification.
	ErrorTypeCredentialInvalid ErrorType = "credential_invalid"
	// ErrorTypeUpstreamUnavailable means the identity provider or
	// registry backing the verifier could not be reached.
	ErrorTypeUpstreamUnavailable ErrorType = "upstream_unavailable"
	// ErrorTypeRouteNotFound means no route prefix matched and no
	// default route is configured.
	ErrorTypeRouteNotFound ErrorType = "route_not_found"
	// ErrorTypePolicyDenied means verification succeeded but the
	// route's claims policy rejected the identity.
	ErrorTypePolicyDenied ErrorType = "policy_denied"
	// ErrorTypeInternal is an unexpected router-side failure.
	ErrorTypeInternal ErrorType = "internal"
)

// Sentinel verification errors. Verifiers wrap these in an *Error with a
// distinct audit reason; callers match them with errors.Is.
var (
	ErrNoCredentials = errors.New("no credentials provided")

	ErrAPIKeyMissing = errors.New("API key required")
	ErrAPIKeyInvalid = errors.New("invalid API key")

	ErrTokenMissing     = errors.New("bearer token required")
	ErrTokenMalformed   = errors.New("malformed token")
	ErrTokenExpired     = errors.New("token expired")
	ErrTokenNotYetValid = errors.New("token not yet valid")
	ErrTokenSignature   = errors.New("token signature verification failed")
	ErrIssuerMismatch   = errors.New("token issuer mismatch")
	ErrAudienceMismatch = errors.New("token audience mismatch")

	ErrCertificateRequired  = errors.New("client certificate required")
	ErrCertificateUntrusted = errors.New("client certificate not trusted")
	ErrCertificateExpired   = errors.New("client certificate expired or not yet valid")
	ErrCertificateRevoked   = errors.New("client certificate revoked")

	ErrTokenRejected       = errors.New("token rejected by identity provider")
	ErrProviderUnavailable = errors.New("identity provider unavailable")

	ErrPolicyDenied = errors.New("claims policy denied")
)

// Error is a classified verification failure. Reason is a stable
// machine-readable string for the security audit log; Message is the
// human-readable text returned to the client.
type Error struct {
	Type    ErrorType
	Reason  string
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the wrapped cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches either another *Error of the same type or the wrapped
// sentinel.
func (e *Error) Is(target error) bool {
	if other, ok := target.(*Error); ok {
		return e.Type == other.Type
	}
	return errors.Is(e.Cause, target)
}

// NewError creates a classified error.
func NewError(t ErrorType, reason, message string) *Error {
	return &Error{Type: t, Reason: reason, Message: message}
}

// WrapError wraps a sentinel or external error with a classification.
func WrapError(t ErrorType, reason, message string, cause error) *Error {
	return &Error{Type: t, Reason: reason, Message: message, Cause: cause}
}

// TypeOf returns the classification of err, or ErrorTypeInternal for
// unclassified errors.
func TypeOf(err error) ErrorType {
	var e *Error
	if errors.As(err, &e) {
		return e.Type
	}
	return ErrorTypeInternal
}

// ReasonOf returns the audit reason of err, or "internal_error" for
// unclassified errors.
func ReasonOf(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Reason != "" {
		return e.Reason
	}
	return "internal_error"
}
