// Package service synchronizes verified provider tokens with server-side
// session state: just-in-time creation, activity tracking, auto-extension,
// and silent refresh of expired access tokens.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"minutes-maker/backend/internal/idp"
	"minutes-maker/backend/internal/security"
	sessiondomain "minutes-maker/backend/internal/session/domain"
	sessionrepo "minutes-maker/backend/internal/session/repository"
	"minutes-maker/backend/internal/token"
	userdomain "minutes-maker/backend/internal/user/domain"
	userrepo "minutes-maker/backend/internal/user/repository"
)

// Session-layer failures the guard maps to response codes. All of these mean
// the request is rejected but the client can recover by signing in again.
var (
	ErrSessionExpired  = errors.New("session expired")
	ErrSessionInactive = errors.New("session inactive")
	ErrUserMismatch    = errors.New("session user mismatch")
	ErrUserNotFound    = errors.New("user not found")
	ErrUserInactive    = errors.New("user inactive")
)

// AccessVerifier verifies raw access tokens. Satisfied by token.Verifier.
type AccessVerifier interface {
	VerifyAccessToken(ctx context.Context, raw string) (*token.Claims, error)
}

// Config holds the synchronizer's timing rules.
type Config struct {
	// Extension is how far expires_at moves on auto-extension.
	Extension time.Duration
	// InactivityTimeout is the idle duration after which a session is terminal.
	InactivityTimeout time.Duration
	// RefreshWindow is how recent the last activity must be for an expired
	// session or token to be silently recovered.
	RefreshWindow time.Duration
}

func (c *Config) applyDefaults() {
	if c.Extension <= 0 {
		c.Extension = 24 * time.Hour
	}
	if c.InactivityTimeout <= 0 {
		c.InactivityTimeout = 2 * time.Hour
	}
	if c.RefreshWindow <= 0 {
		c.RefreshWindow = time.Hour
	}
}

// Result is a successful validation outcome.
type Result struct {
	User    *userdomain.User
	Session *sessiondomain.Session
	// Created is true when this call created the session row, i.e. the first
	// request of a new sign-in.
	Created bool
	// Refreshed is non-nil when a silent refresh ran; the caller should hand
	// the new tokens back to the client.
	Refreshed *idp.TokenSet
}

// Synchronizer validates access tokens and keeps session rows in step.
type Synchronizer struct {
	sessions sessionrepo.Repository
	users    userrepo.Repository
	verifier AccessVerifier
	provider idp.Provider
	cipher   *security.TokenCipher
	cfg      Config
	now      func() time.Time
}

// Option configures a Synchronizer.
type Option func(*Synchronizer)

// WithClock overrides the synchronizer clock. For tests.
func WithClock(now func() time.Time) Option {
	return func(s *Synchronizer) { s.now = now }
}

// NewSynchronizer wires a Synchronizer. provider may be nil; then expired
// tokens are never refreshed. cipher may be nil; then refresh credentials
// cannot be recovered and refresh is likewise disabled.
func NewSynchronizer(
	sessions sessionrepo.Repository,
	users userrepo.Repository,
	verifier AccessVerifier,
	provider idp.Provider,
	cipher *security.TokenCipher,
	cfg Config,
	opts ...Option,
) *Synchronizer {
	cfg.applyDefaults()
	s := &Synchronizer{
		sessions: sessions,
		users:    users,
		verifier: verifier,
		provider: provider,
		cipher:   cipher,
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ValidateAndSync verifies rawToken and reconciles session and user state.
//
// An expired access token gets one silent refresh attempt when the session
// saw activity inside the refresh window; any refresh failure surfaces as
// token.ErrTokenExpired. A valid token with no session row creates one
// just-in-time with expires_at taken from the token, however little lifetime
// remains. Verification and storage faults propagate as-is and must be
// treated as hard failures.
func (s *Synchronizer) ValidateAndSync(ctx context.Context, rawToken, clientIP, userAgent string) (*Result, error) {
	now := s.now()

	claims, err := s.verifier.VerifyAccessToken(ctx, rawToken)
	var refreshed *idp.TokenSet
	var sess *sessiondomain.Session
	if err != nil {
		if !errors.Is(err, token.ErrTokenExpired) {
			return nil, err
		}
		rawToken, claims, sess, refreshed, err = s.refreshExpired(ctx, rawToken, now)
		if err != nil {
			return nil, err
		}
	}

	if sess == nil {
		sess, err = s.sessions.GetByAccessTokenHash(ctx, security.HashToken(rawToken))
		if err != nil {
			return nil, fmt.Errorf("session lookup: %w", err)
		}
	}

	if sess == nil {
		return s.createSession(ctx, rawToken, claims, clientIP, userAgent, now)
	}

	if !sess.IsActive {
		return nil, ErrSessionExpired
	}

	if !sess.ExpiresAt.After(now) {
		if !sess.ActiveWithin(now, s.cfg.RefreshWindow) {
			if err := s.sessions.Invalidate(ctx, sess.ID); err != nil {
				return nil, fmt.Errorf("invalidate expired session: %w", err)
			}
			return nil, ErrSessionExpired
		}
		newExpiry := now.Add(s.cfg.Extension)
		if err := s.sessions.Extend(ctx, sess.ID, newExpiry, now); err != nil {
			return nil, fmt.Errorf("extend session: %w", err)
		}
		sess.ExpiresAt = newExpiry
	}

	if now.Sub(sess.LastActivity) > s.cfg.InactivityTimeout {
		if err := s.sessions.Invalidate(ctx, sess.ID); err != nil {
			return nil, fmt.Errorf("invalidate inactive session: %w", err)
		}
		return nil, ErrSessionInactive
	}

	if sess.Subject != claims.Subject {
		if err := s.sessions.Invalidate(ctx, sess.ID); err != nil {
			return nil, fmt.Errorf("invalidate mismatched session: %w", err)
		}
		return nil, ErrUserMismatch
	}

	if err := s.sessions.UpdateActivity(ctx, sess.ID, now); err != nil {
		return nil, fmt.Errorf("touch session: %w", err)
	}
	sess.LastActivity = now

	user, err := s.loadActiveUser(ctx, claims.Subject, now)
	if err != nil {
		return nil, err
	}

	return &Result{User: user, Session: sess, Refreshed: refreshed}, nil
}

// createSession provisions a session row for a verified token that has none.
// Creation is unconditional once the token verifies: even a token about to
// expire gets a row, so the expiry path can reason about it on the next
// request instead of the client being bounced with no session at all.
func (s *Synchronizer) createSession(ctx context.Context, rawToken string, claims *token.Claims, clientIP, userAgent string, now time.Time) (*Result, error) {
	user, err := s.loadActiveUser(ctx, claims.Subject, now)
	if err != nil {
		return nil, err
	}

	expiresAt := claims.ExpiresAt
	if expiresAt.IsZero() {
		expiresAt = now.Add(time.Hour)
	}
	sess := &sessiondomain.Session{
		ID:              uuid.New().String(),
		UserID:          user.ID,
		Subject:         claims.Subject,
		AccessTokenHash: security.HashToken(rawToken),
		ExpiresAt:       expiresAt,
		CreatedAt:       now,
		LastActivity:    now,
		IsActive:        true,
		ClientIP:        clientIP,
		UserAgent:       userAgent,
	}
	if err := s.sessions.Create(ctx, sess); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return &Result{User: user, Session: sess, Created: true}, nil
}

// refreshExpired recovers from an expired access token via the stored
// refresh credential. Returns the new raw token, its claims, the session,
// and the fresh token set. Every recoverable failure maps to
// token.ErrTokenExpired; the caller cannot tell (and must not care) which
// step refused.
func (s *Synchronizer) refreshExpired(ctx context.Context, rawToken string, now time.Time) (string, *token.Claims, *sessiondomain.Session, *idp.TokenSet, error) {
	if s.provider == nil || s.cipher == nil {
		return "", nil, nil, nil, token.ErrTokenExpired
	}

	sess, err := s.sessions.GetByAccessTokenHash(ctx, security.HashToken(rawToken))
	if err != nil {
		return "", nil, nil, nil, fmt.Errorf("session lookup: %w", err)
	}
	if sess == nil || !sess.IsActive {
		return "", nil, nil, nil, token.ErrTokenExpired
	}
	if now.Sub(sess.LastActivity) > s.cfg.InactivityTimeout {
		if err := s.sessions.Invalidate(ctx, sess.ID); err != nil {
			return "", nil, nil, nil, fmt.Errorf("invalidate inactive session: %w", err)
		}
		return "", nil, nil, nil, ErrSessionInactive
	}
	if !sess.ActiveWithin(now, s.cfg.RefreshWindow) {
		return "", nil, nil, nil, token.ErrTokenExpired
	}

	cred, err := s.cipher.Decrypt(sess.RefreshTokenEnc)
	if err != nil || cred == "" {
		return "", nil, nil, nil, token.ErrTokenExpired
	}

	set, err := s.provider.Refresh(ctx, cred)
	if err != nil {
		return "", nil, nil, nil, token.ErrTokenExpired
	}

	claims, err := s.verifier.VerifyAccessToken(ctx, set.AccessToken)
	if err != nil {
		return "", nil, nil, nil, err
	}

	enc, err := s.cipher.Encrypt(set.RefreshToken)
	if err != nil {
		return "", nil, nil, nil, fmt.Errorf("encrypt refresh credential: %w", err)
	}
	upd := sessionrepo.TokenUpdate{
		AccessTokenHash:  security.HashToken(set.AccessToken),
		RefreshTokenHash: security.HashToken(set.RefreshToken),
		RefreshTokenEnc:  enc,
		ExpiresAt:        claims.ExpiresAt,
	}
	if set.IDToken != "" {
		upd.IDTokenHash = security.HashToken(set.IDToken)
	}
	if err := s.sessions.UpdateTokens(ctx, sess.ID, upd); err != nil {
		return "", nil, nil, nil, fmt.Errorf("store refreshed tokens: %w", err)
	}
	sess.AccessTokenHash = upd.AccessTokenHash
	sess.IDTokenHash = upd.IDTokenHash
	sess.RefreshTokenHash = upd.RefreshTokenHash
	sess.RefreshTokenEnc = upd.RefreshTokenEnc
	sess.ExpiresAt = upd.ExpiresAt

	return set.AccessToken, claims, sess, set, nil
}

func (s *Synchronizer) loadActiveUser(ctx context.Context, subject string, now time.Time) (*userdomain.User, error) {
	user, err := s.users.GetBySubject(ctx, subject)
	if err != nil {
		return nil, fmt.Errorf("user lookup: %w", err)
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	if !user.IsActive {
		return nil, ErrUserInactive
	}
	if err := s.users.TouchLastLogin(ctx, user.ID, now); err != nil {
		return nil, fmt.Errorf("touch last login: %w", err)
	}
	user.LastLogin = &now
	return user, nil
}

// RegisterTokens stores credential hashes and the encrypted refresh token on
// an existing session, e.g. right after the client completes a provider
// sign-in and hands the backend its token set.
func (s *Synchronizer) RegisterTokens(ctx context.Context, sessionID string, set *idp.TokenSet) error {
	enc := ""
	if s.cipher != nil && set.RefreshToken != "" {
		var err error
		if enc, err = s.cipher.Encrypt(set.RefreshToken); err != nil {
			return fmt.Errorf("encrypt refresh credential: %w", err)
		}
	}
	upd := sessionrepo.TokenUpdate{
		AccessTokenHash:  security.HashToken(set.AccessToken),
		RefreshTokenEnc:  enc,
		ExpiresAt:        set.ExpiresAt,
	}
	if set.RefreshToken != "" {
		upd.RefreshTokenHash = security.HashToken(set.RefreshToken)
	}
	if set.IDToken != "" {
		upd.IDTokenHash = security.HashToken(set.IDToken)
	}
	return s.sessions.UpdateTokens(ctx, sessionID, upd)
}

// ExtendSession pushes the session's expiry forward by the configured
// extension and touches its activity.
func (s *Synchronizer) ExtendSession(ctx context.Context, sessionID string) error {
	now := s.now()
	return s.sessions.Extend(ctx, sessionID, now.Add(s.cfg.Extension), now)
}

// InvalidateSession deactivates one session. Idempotent.
func (s *Synchronizer) InvalidateSession(ctx context.Context, sessionID string) error {
	return s.sessions.Invalidate(ctx, sessionID)
}

// InvalidateUserSessions deactivates all of a user's sessions (sign out
// everywhere). Returns how many sessions were deactivated.
func (s *Synchronizer) InvalidateUserSessions(ctx context.Context, userID string) (int64, error) {
	return s.sessions.InvalidateAllByUser(ctx, userID)
}

// Statistics reports session table counts for monitoring.
func (s *Synchronizer) Statistics(ctx context.Context) (*sessionrepo.Stats, error) {
	return s.sessions.Statistics(ctx, s.now(), time.Hour)
}
