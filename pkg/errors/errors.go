// Package errors defines the error taxonomy shared across the gateway.
// Every failure surfaced to a client carries a stable machine code plus a
// human-readable message; the code decides the HTTP status class.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error types
const (
	// ErrInvalidToken is returned when a bearer token is malformed or unverifiable
	ErrInvalidToken = "invalid_token"

	// ErrExpiredToken is returned when a bearer token is past its expiry
	ErrExpiredToken = "expired_token"

	// ErrInvalidSignature is returned when token signature verification fails
	ErrInvalidSignature = "invalid_signature"

	// ErrInvalidIssuer is returned when the token issuer is not trusted
	ErrInvalidIssuer = "invalid_issuer"

	// ErrInvalidAudience is returned when the token audience does not match the resource
	ErrInvalidAudience = "invalid_audience"

	// ErrMissingScope is returned when the token carries no scopes at all
	ErrMissingScope = "missing_scope"

	// ErrInsufficientScope is returned when the token lacks the required scope
	ErrInsufficientScope = "insufficient_scope"

	// ErrTokenReplayed is returned when a one-time token-id has already been consumed
	ErrTokenReplayed = "token_replayed"

	// ErrForbidden is returned when an authenticated identity is not entitled to the action
	ErrForbidden = "forbidden"

	// ErrCrossTenantAccess is returned when an identity reaches outside its tenant
	ErrCrossTenantAccess = "cross_tenant_access"

	// ErrOrgMismatch is returned when the token organization does not match the request path
	ErrOrgMismatch = "org_mismatch"

	// ErrEnvMismatch is returned when the token environment does not match the request path
	ErrEnvMismatch = "env_mismatch"

	// ErrToolNotFound is returned when the requested tool does not exist
	ErrToolNotFound = "tool_not_found"

	// ErrOrganizationNotFound is returned when the organization does not exist
	ErrOrganizationNotFound = "organization_not_found"

	// ErrEnvironmentNotFound is returned when the environment does not exist
	ErrEnvironmentNotFound = "environment_not_found"

	// ErrResourceNotFound is returned when a referenced resource does not exist
	ErrResourceNotFound = "resource_not_found"

	// ErrInvalidRequest is returned when the request is malformed
	ErrInvalidRequest = "invalid_request"

	// ErrMissingToolName is returned when the request names no tool
	ErrMissingToolName = "missing_tool_name"

	// ErrInvalidSchema is returned when the request body does not match the expected schema
	ErrInvalidSchema = "invalid_schema"

	// ErrRateLimited is returned when the identity exceeded its request budget
	ErrRateLimited = "rate_limited"

	// ErrExecutionFailed is returned when downstream tool execution fails
	ErrExecutionFailed = "execution_failed"

	// ErrInternal is returned when there is an internal error
	ErrInternal = "internal_error"
)

// Error represents an error in the gateway
type Error struct {
	// Type is the machine-readable error code
	Type string

	// Message is the error message
	Message string

	// Cause is the underlying error
	Cause error
}

// Error returns the error message
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %s", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new error
func NewError(errorType, message string, cause error) *Error {
	return &Error{
		Type:    errorType,
		Message: message,
		Cause:   cause,
	}
}

// NewInvalidTokenError creates a new invalid token error
func NewInvalidTokenError(message string, cause error) *Error {
	return NewError(ErrInvalidToken, message, cause)
}

// NewExpiredTokenError creates a new expired token error
func NewExpiredTokenError(message string, cause error) *Error {
	return NewError(ErrExpiredToken, message, cause)
}

// NewInvalidIssuerError creates a new invalid issuer error
func NewInvalidIssuerError(message string, cause error) *Error {
	return NewError(ErrInvalidIssuer, message, cause)
}

// NewInvalidAudienceError creates a new invalid audience error
func NewInvalidAudienceError(message string, cause error) *Error {
	return NewError(ErrInvalidAudience, message, cause)
}

// NewInsufficientScopeError creates a new insufficient scope error
func NewInsufficientScopeError(message string, cause error) *Error {
	return NewError(ErrInsufficientScope, message, cause)
}

// NewTokenReplayedError creates a new token replayed error
func NewTokenReplayedError(message string, cause error) *Error {
	return NewError(ErrTokenReplayed, message, cause)
}

// NewForbiddenError creates a new forbidden error
func NewForbiddenError(message string, cause error) *Error {
	return NewError(ErrForbidden, message, cause)
}

// NewNotFoundError creates a new not found error of the given type
func NewNotFoundError(errorType, message string) *Error {
	return NewError(errorType, message, nil)
}

// NewInvalidRequestError creates a new invalid request error
func NewInvalidRequestError(message string, cause error) *Error {
	return NewError(ErrInvalidRequest, message, cause)
}

// NewInternalError creates a new internal error
func NewInternalError(message string, cause error) *Error {
	return NewError(ErrInternal, message, cause)
}

// Type returns the machine code of err, or internal_error if err is not a
// gateway error.
func Type(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Type
	}
	return ErrInternal
}

// Is checks whether err is a gateway error with the given type.
func Is(err error, errorType string) bool {
	var e *Error
	return errors.As(err, &e) && e.Type == errorType
}

// statusByType maps machine codes to HTTP status classes.
var statusByType = map[string]int{
	ErrInvalidToken:         http.StatusUnauthorized,
	ErrExpiredToken:         http.StatusUnauthorized,
	ErrInvalidSignature:     http.StatusUnauthorized,
	ErrInvalidIssuer:        http.StatusUnauthorized,
	ErrInvalidAudience:      http.StatusUnauthorized,
	ErrMissingScope:         http.StatusUnauthorized,
	ErrTokenReplayed:        http.StatusUnauthorized,
	ErrInsufficientScope:    http.StatusForbidden,
	ErrForbidden:            http.StatusForbidden,
	ErrCrossTenantAccess:    http.StatusForbidden,
	ErrOrgMismatch:          http.StatusForbidden,
	ErrEnvMismatch:          http.StatusForbidden,
	ErrToolNotFound:         http.StatusNotFound,
	ErrOrganizationNotFound: http.StatusNotFound,
	ErrEnvironmentNotFound:  http.StatusNotFound,
	ErrResourceNotFound:     http.StatusNotFound,
	ErrInvalidRequest:       http.StatusBadRequest,
	ErrMissingToolName:      http.StatusBadRequest,
	ErrInvalidSchema:        http.StatusBadRequest,
	ErrRateLimited:          http.StatusTooManyRequests,
	ErrExecutionFailed:      http.StatusInternalServerError,
	ErrInternal:             http.StatusInternalServerError,
}

// HTTPStatus returns the HTTP status for err based on its machine code.
// Unknown errors map to 500.
func HTTPStatus(err error) int {
	if status, ok := statusByType[Type(err)]; ok {
		return status
	}
	return http.StatusInternalServerError
}
