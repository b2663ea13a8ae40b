package token

import "errors"

// Verification failures callers branch on. ErrTokenExpired is the only
// failure the session layer may recover from (silent refresh); everything
// else rejects the request. ErrKeySetUnavailable is an infrastructure
// failure and must never be treated as an invalid token.
var (
	ErrTokenExpired      = errors.New("token expired")
	ErrMalformedToken    = errors.New("token malformed")
	ErrInvalidSignature  = errors.New("token signature invalid")
	ErrKeyNotFound       = errors.New("token signing key not found")
	ErrKeySetUnavailable = errors.New("key set unavailable")
	ErrInvalidIssuer     = errors.New("token issuer invalid")
	ErrInvalidAudience   = errors.New("token audience invalid")
	ErrInvalidTokenType  = errors.New("token use invalid")
)
