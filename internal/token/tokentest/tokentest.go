// Package tokentest provides a fake token authority for unit tests: an RSA
// key pair, a JWKS endpoint served over httptest, and helpers to mint tokens
// shaped like the provider's.
package tokentest

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
)

// Authority signs test tokens and serves the matching JWKS document.
type Authority struct {
	t        *testing.T
	Key      *rsa.PrivateKey
	KeyID    string
	Issuer   string
	ClientID string

	srv       *httptest.Server
	fetchFail bool
	fetches   int
}

// New generates a key pair and starts a JWKS server. The server is closed
// via t.Cleanup. Issuer defaults to the server URL.
func New(t *testing.T) *Authority {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("tokentest: generate key: %v", err)
	}
	a := &Authority{t: t, Key: key, KeyID: "test-key-1", ClientID: "test-client-id"}
	a.srv = httptest.NewServer(http.HandlerFunc(a.serveJWKS))
	a.Issuer = a.srv.URL
	t.Cleanup(a.srv.Close)
	return a
}

// JWKSURL is the URL of the served JWKS document.
func (a *Authority) JWKSURL() string { return a.srv.URL + "/.well-known/jwks.json" }

// Fetches returns how many times the JWKS document has been requested.
func (a *Authority) Fetches() int { return a.fetches }

// SetUnavailable makes the JWKS endpoint return 503 when fail is true.
func (a *Authority) SetUnavailable(fail bool) { a.fetchFail = fail }

// Rotate replaces the signing key and kid, as a provider key rotation would.
func (a *Authority) Rotate() {
	a.t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		a.t.Fatalf("tokentest: rotate key: %v", err)
	}
	a.Key = key
	a.KeyID = a.KeyID + "r"
}

func (a *Authority) serveJWKS(w http.ResponseWriter, _ *http.Request) {
	a.fetches++
	if a.fetchFail {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}
	set := jose.JSONWebKeySet{Keys: []jose.JSONWebKey{{
		Key: &a.Key.PublicKey, KeyID: a.KeyID, Algorithm: "RS256", Use: "sig",
	}}}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(set)
}

// AccessClaims returns an access-token claim set for sub expiring at exp.
func (a *Authority) AccessClaims(sub string, exp time.Time) jwt.MapClaims {
	return jwt.MapClaims{
		"sub":       sub,
		"iss":       a.Issuer,
		"client_id": a.ClientID,
		"token_use": "access",
		"username":  sub,
		"iat":       exp.Add(-time.Hour).Unix(),
		"exp":       exp.Unix(),
	}
}

// IdentityClaims returns an identity-token claim set for sub expiring at exp.
func (a *Authority) IdentityClaims(sub, email string, exp time.Time) jwt.MapClaims {
	return jwt.MapClaims{
		"sub":       sub,
		"iss":       a.Issuer,
		"aud":       a.ClientID,
		"token_use": "id",
		"email":     email,
		"iat":       exp.Add(-time.Hour).Unix(),
		"exp":       exp.Unix(),
	}
}

// Sign mints a token over claims with the authority key and kid.
func (a *Authority) Sign(claims jwt.MapClaims) string {
	return a.SignWithKeyID(a.KeyID, claims)
}

// SignWithKeyID mints a token with an explicit kid header. A kid the JWKS
// does not carry produces an unknown-key token.
func (a *Authority) SignWithKeyID(kid string, claims jwt.MapClaims) string {
	a.t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = kid
	raw, err := tok.SignedString(a.Key)
	if err != nil {
		a.t.Fatalf("tokentest: sign: %v", err)
	}
	return raw
}

// SignWithKey mints a token with a foreign key, keeping the authority kid.
// Verification against the JWKS must fail the signature check.
func (a *Authority) SignWithKey(key *rsa.PrivateKey, claims jwt.MapClaims) string {
	a.t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = a.KeyID
	raw, err := tok.SignedString(key)
	if err != nil {
		a.t.Fatalf("tokentest: sign with key: %v", err)
	}
	return raw
}
