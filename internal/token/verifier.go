package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Verifier validates provider JWTs: RS256 signature against the cached key
// set, issuer, expiry, token class, and the class-specific audience claim.
type Verifier struct {
	keys     *KeySetCache
	issuer   string
	clientID string
	now      func() time.Time
}

// VerifierOption configures a Verifier.
type VerifierOption func(*Verifier)

// WithVerifierClock overrides the verification clock. For tests.
func WithVerifierClock(now func() time.Time) VerifierOption {
	return func(v *Verifier) { v.now = now }
}

// NewVerifier returns a Verifier for tokens issued by issuer to clientID.
func NewVerifier(keys *KeySetCache, issuer, clientID string, opts ...VerifierOption) *Verifier {
	v := &Verifier{
		keys:     keys,
		issuer:   issuer,
		clientID: clientID,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// VerifyIdentityToken verifies an identity token (token_use "id").
// The aud claim must contain the configured client ID.
func (v *Verifier) VerifyIdentityToken(ctx context.Context, raw string) (*Claims, error) {
	return v.verify(ctx, raw, UseIdentity)
}

// VerifyAccessToken verifies an access token (token_use "access").
// The client_id claim must equal the configured client ID.
func (v *Verifier) VerifyAccessToken(ctx context.Context, raw string) (*Claims, error) {
	return v.verify(ctx, raw, UseAccess)
}

func (v *Verifier) verify(ctx context.Context, raw string, use Use) (*Claims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithTimeFunc(v.now),
		jwt.WithExpirationRequired(),
	)
	claims := jwt.MapClaims{}
	_, err := parser.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, fmt.Errorf("%w: missing kid header", ErrKeyNotFound)
		}
		return v.keys.Key(ctx, kid)
	})
	if err != nil {
		return nil, mapParseError(err)
	}

	iss, _ := claims.GetIssuer()
	if iss != v.issuer {
		return nil, fmt.Errorf("%w: %q", ErrInvalidIssuer, iss)
	}

	tokenUse, _ := claims["token_use"].(string)
	if tokenUse != string(use) {
		return nil, fmt.Errorf("%w: got %q, want %q", ErrInvalidTokenType, tokenUse, use)
	}

	switch use {
	case UseIdentity:
		aud, _ := claims.GetAudience()
		if !contains(aud, v.clientID) {
			return nil, fmt.Errorf("%w: aud does not contain client id", ErrInvalidAudience)
		}
	case UseAccess:
		clientID, _ := claims["client_id"].(string)
		if clientID != v.clientID {
			return nil, fmt.Errorf("%w: client_id mismatch", ErrInvalidAudience)
		}
	}

	return claimsFromMap(claims, use), nil
}

// mapParseError folds golang-jwt parse failures onto this package's
// sentinels. Expiry must stay distinguishable from every other failure.
func mapParseError(err error) error {
	switch {
	case errors.Is(err, ErrKeySetUnavailable):
		return err
	case errors.Is(err, ErrKeyNotFound):
		return err
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrTokenExpired
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	case errors.Is(err, jwt.ErrTokenMalformed):
		return fmt.Errorf("%w: %v", ErrMalformedToken, err)
	default:
		return fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
}

func claimsFromMap(m jwt.MapClaims, use Use) *Claims {
	c := &Claims{TokenUse: use, Raw: map[string]any(m)}
	c.Subject, _ = m["sub"].(string)
	c.Email, _ = m["email"].(string)
	if u, ok := m["username"].(string); ok {
		c.Username = u
	} else if u, ok := m["cognito:username"].(string); ok {
		c.Username = u
	}
	if exp, err := m.GetExpirationTime(); err == nil && exp != nil {
		c.ExpiresAt = exp.Time.UTC()
	}
	if iat, err := m.GetIssuedAt(); err == nil && iat != nil {
		c.IssuedAt = iat.Time.UTC()
	}
	return c
}

func contains(list []string, want string) bool {
	for _, s := range list {
		if s == want {
			return true
		}
	}
	return false
}
