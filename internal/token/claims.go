package token

import "time"

// Use is the token class carried in the token_use claim.
type Use string

const (
	// UseIdentity marks identity tokens; audience is validated against aud.
	UseIdentity Use = "id"
	// UseAccess marks access tokens; audience is validated against client_id.
	UseAccess Use = "access"
)

// Claims is the verified subset of provider token claims the rest of the
// system works with.
type Claims struct {
	Subject   string
	Email     string
	Username  string
	TokenUse  Use
	IssuedAt  time.Time
	ExpiresAt time.Time

	// Raw holds the full claim set for callers that need provider-specific
	// fields (e.g. custom attributes).
	Raw map[string]any
}
