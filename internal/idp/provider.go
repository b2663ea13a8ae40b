// Package idp talks to the external identity provider. Only the refresh
// grant is needed here; sign-in and sign-up are the provider's own surface.
package idp

import (
	"context"
	"errors"
	"time"
)

// ErrRefreshRejected is returned when the provider refuses a refresh
// credential (revoked, rotated away, or expired upstream).
var ErrRefreshRejected = errors.New("idp: refresh rejected")

// TokenSet holds the credentials a successful refresh grant returns.
type TokenSet struct {
	AccessToken  string
	IDToken      string
	RefreshToken string
	ExpiresAt    time.Time
}

// Provider exchanges a refresh credential for fresh tokens.
type Provider interface {
	Refresh(ctx context.Context, refreshToken string) (*TokenSet, error)
}
