// Package token verifies provider-issued JWTs against the provider's
// published JWKS. Keys are cached with a TTL; an unknown kid forces one
// re-fetch so provider key rotation is picked up without a restart.
package token

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	jose "github.com/go-jose/go-jose/v4"
)

// KeySource fetches the provider's current JWKS document.
type KeySource interface {
	FetchKeySet(ctx context.Context) (*jose.JSONWebKeySet, error)
}

// HTTPKeySource fetches a JWKS document over HTTP(S).
type HTTPKeySource struct {
	URL    string
	Client *http.Client
}

// NewHTTPKeySource returns a KeySource for the given JWKS URL.
// client may be nil; then a client with a 10s timeout is used.
func NewHTTPKeySource(url string, client *http.Client) *HTTPKeySource {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPKeySource{URL: url, Client: client}
}

// FetchKeySet retrieves and decodes the JWKS document.
func (s *HTTPKeySource) FetchKeySet(ctx context.Context) (*jose.JSONWebKeySet, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("jwks fetch returned %s", resp.Status)
	}
	var set jose.JSONWebKeySet
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return nil, fmt.Errorf("jwks decode: %w", err)
	}
	return &set, nil
}

// KeySetCache caches the provider key set and resolves signing keys by kid.
// Safe for concurrent use.
type KeySetCache struct {
	source KeySource
	ttl    time.Duration
	now    func() time.Time

	mu        sync.Mutex
	keys      *jose.JSONWebKeySet
	fetchedAt time.Time
}

// KeySetOption configures a KeySetCache.
type KeySetOption func(*KeySetCache)

// WithKeySetClock overrides the cache clock. For tests.
func WithKeySetClock(now func() time.Time) KeySetOption {
	return func(c *KeySetCache) { c.now = now }
}

// NewKeySetCache returns a cache over source with the given TTL.
// A non-positive ttl disables caching (every lookup re-fetches).
func NewKeySetCache(source KeySource, ttl time.Duration, opts ...KeySetOption) *KeySetCache {
	c := &KeySetCache{
		source: source,
		ttl:    ttl,
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Key returns the RSA public key for kid.
//
// A fresh cached set is consulted first. On a miss (unknown kid, stale set,
// or empty cache) the document is re-fetched once. A kid still unknown after
// the re-fetch yields ErrKeyNotFound. A fetch failure with nothing cached
// yields ErrKeySetUnavailable; verification must treat that as a hard
// failure, never as an invalid token.
func (c *KeySetCache) Key(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.keys != nil && c.fresh() {
		if key, ok := c.lookup(kid); ok {
			return key, nil
		}
	}

	set, err := c.source.FetchKeySet(ctx)
	if err != nil {
		if c.keys == nil {
			return nil, fmt.Errorf("%w: %v", ErrKeySetUnavailable, err)
		}
		// Stale keys beat no keys; rotation is retried on the next miss.
		if key, ok := c.lookup(kid); ok {
			return key, nil
		}
		return nil, fmt.Errorf("%w: %q (stale set, refresh failed: %v)", ErrKeyNotFound, kid, err)
	}
	c.keys = set
	c.fetchedAt = c.now()

	if key, ok := c.lookup(kid); ok {
		return key, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrKeyNotFound, kid)
}

// Invalidate drops the cached key set. The next lookup re-fetches.
func (c *KeySetCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.keys = nil
	c.fetchedAt = time.Time{}
}

// FetchedAt returns when the current key set was fetched; zero when empty.
func (c *KeySetCache) FetchedAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fetchedAt
}

func (c *KeySetCache) fresh() bool {
	if c.ttl <= 0 {
		return false
	}
	return c.now().Sub(c.fetchedAt) < c.ttl
}

// lookup must be called with c.mu held.
func (c *KeySetCache) lookup(kid string) (*rsa.PublicKey, bool) {
	if c.keys == nil {
		return nil, false
	}
	for _, k := range c.keys.Key(kid) {
		if pub, ok := k.Key.(*rsa.PublicKey); ok {
			return pub, true
		}
	}
	return nil, false
}
