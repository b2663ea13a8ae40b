// Package guard authenticates HTTP and WebSocket traffic. It chains origin
// validation, bearer extraction, rate limiting, and token/session
// reconciliation, and maps every failure to a closed set of client-facing
// codes so internals never leak through error bodies.
package guard

import (
	"errors"
	"net/http"

	"minutes-maker/backend/internal/session/service"
	"minutes-maker/backend/internal/token"
)

// Code identifies why a request was refused. The set is closed: anything
// outside it is an internal fault and reported as CodeInternal.
type Code string

const (
	CodeMissingToken       Code = "missing_token"
	CodeInvalidTokenFormat Code = "invalid_token_format"
	CodeJWKKeyNotFound     Code = "jwk_key_not_found"
	CodeTokenExpired       Code = "token_expired"
	CodeInvalidAudience    Code = "invalid_audience"
	CodeInvalidIssuer      Code = "invalid_issuer"
	CodeInvalidTokenType   Code = "invalid_token_type"
	CodeSessionExpired     Code = "session_expired"
	CodeSessionInactive    Code = "session_inactive"
	CodeUserMismatch       Code = "user_mismatch"
	CodeUserNotFound       Code = "user_not_found"
	CodeUserInactive       Code = "user_inactive"
	CodeCSRFFailed         Code = "csrf_validation_failed"
	CodeRateLimited        Code = "rate_limit_exceeded"
	CodeInternal           Code = "internal_error"
)

// HTTPStatus maps the code to its response status.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeCSRFFailed:
		return http.StatusForbidden
	case CodeRateLimited:
		return http.StatusTooManyRequests
	case CodeInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusUnauthorized
	}
}

// AuthError couples a client-facing code with the underlying cause. The
// cause is for logs only and never serialized to the client.
type AuthError struct {
	Code Code
	Err  error
}

func (e *AuthError) Error() string {
	if e.Err == nil {
		return string(e.Code)
	}
	return string(e.Code) + ": " + e.Err.Error()
}

func (e *AuthError) Unwrap() error { return e.Err }

func authErr(code Code, err error) *AuthError {
	return &AuthError{Code: code, Err: err}
}

// classify maps verification and session errors onto the closed code set.
// Unrecognized errors are infrastructure faults and become CodeInternal.
func classify(err error) *AuthError {
	switch {
	case errors.Is(err, token.ErrTokenExpired):
		return authErr(CodeTokenExpired, err)
	case errors.Is(err, token.ErrKeyNotFound):
		return authErr(CodeJWKKeyNotFound, err)
	case errors.Is(err, token.ErrInvalidIssuer):
		return authErr(CodeInvalidIssuer, err)
	case errors.Is(err, token.ErrInvalidAudience):
		return authErr(CodeInvalidAudience, err)
	case errors.Is(err, token.ErrInvalidTokenType):
		return authErr(CodeInvalidTokenType, err)
	case errors.Is(err, token.ErrMalformedToken), errors.Is(err, token.ErrInvalidSignature):
		return authErr(CodeInvalidTokenFormat, err)
	case errors.Is(err, service.ErrSessionExpired):
		return authErr(CodeSessionExpired, err)
	case errors.Is(err, service.ErrSessionInactive):
		return authErr(CodeSessionInactive, err)
	case errors.Is(err, service.ErrUserMismatch):
		return authErr(CodeUserMismatch, err)
	case errors.Is(err, service.ErrUserNotFound):
		return authErr(CodeUserNotFound, err)
	case errors.Is(err, service.ErrUserInactive):
		return authErr(CodeUserInactive, err)
	default:
		return authErr(CodeInternal, err)
	}
}
