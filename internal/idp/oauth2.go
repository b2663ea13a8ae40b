package idp

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/oauth2"
)

// OAuth2Provider implements Provider against a standard OAuth2 token
// endpoint using the refresh_token grant.
type OAuth2Provider struct {
	conf *oauth2.Config
	now  func() time.Time
}

// NewOAuth2Provider returns a provider client for the given token endpoint.
// clientSecret may be empty for public clients.
func NewOAuth2Provider(tokenURL, clientID, clientSecret string) *OAuth2Provider {
	return &OAuth2Provider{
		conf: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint:     oauth2.Endpoint{TokenURL: tokenURL},
		},
		now: func() time.Time { return time.Now().UTC() },
	}
}

// Refresh performs the refresh grant. Providers that do not rotate refresh
// credentials return no new one; the input credential is carried over so
// callers always get a complete set.
func (p *OAuth2Provider) Refresh(ctx context.Context, refreshToken string) (*TokenSet, error) {
	if refreshToken == "" {
		return nil, fmt.Errorf("%w: empty refresh token", ErrRefreshRejected)
	}
	src := p.conf.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRefreshRejected, err)
	}
	set := &TokenSet{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.Expiry.UTC(),
	}
	if set.RefreshToken == "" {
		set.RefreshToken = refreshToken
	}
	if id, ok := tok.Extra("id_token").(string); ok {
		set.IDToken = id
	}
	if set.ExpiresAt.IsZero() {
		set.ExpiresAt = p.now().Add(time.Hour)
	}
	return set, nil
}
