package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"minutes-maker/backend/internal/idp"
	"minutes-maker/backend/internal/security"
	sessiondomain "minutes-maker/backend/internal/session/domain"
	sessionrepo "minutes-maker/backend/internal/session/repository"
	"minutes-maker/backend/internal/token"
	userdomain "minutes-maker/backend/internal/user/domain"
)

type memSessionRepo struct {
	mu   sync.Mutex
	byID map[string]*sessiondomain.Session
}

func newMemSessionRepo() *memSessionRepo {
	return &memSessionRepo{byID: map[string]*sessiondomain.Session{}}
}

func (r *memSessionRepo) GetByID(_ context.Context, id string) (*sessiondomain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.byID[id]; ok {
		cp := *s
		return &cp, nil
	}
	return nil, nil
}

func (r *memSessionRepo) GetByAccessTokenHash(_ context.Context, hash string) (*sessiondomain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.byID {
		if s.AccessTokenHash == hash {
			cp := *s
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *memSessionRepo) Create(_ context.Context, s *sessiondomain.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *s
	r.byID[s.ID] = &cp
	return nil
}

func (r *memSessionRepo) UpdateTokens(_ context.Context, id string, upd sessionrepo.TokenUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.byID[id]
	s.AccessTokenHash = upd.AccessTokenHash
	s.IDTokenHash = upd.IDTokenHash
	s.RefreshTokenHash = upd.RefreshTokenHash
	s.RefreshTokenEnc = upd.RefreshTokenEnc
	s.ExpiresAt = upd.ExpiresAt
	return nil
}

func (r *memSessionRepo) UpdateActivity(_ context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[id].LastActivity = at
	return nil
}

func (r *memSessionRepo) Extend(_ context.Context, id string, expiresAt, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.byID[id]
	s.ExpiresAt = expiresAt
	s.LastActivity = at
	return nil
}

func (r *memSessionRepo) Invalidate(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.byID[id]; ok {
		s.IsActive = false
	}
	return nil
}

func (r *memSessionRepo) InvalidateAllByUser(_ context.Context, userID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, s := range r.byID {
		if s.UserID == userID && s.IsActive {
			s.IsActive = false
			n++
		}
	}
	return n, nil
}

func (r *memSessionRepo) DeactivateStale(_ context.Context, now, idleBefore time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, s := range r.byID {
		if s.IsActive && (!s.ExpiresAt.After(now) || s.LastActivity.Before(idleBefore)) {
			s.IsActive = false
			n++
		}
	}
	return n, nil
}

func (r *memSessionRepo) Statistics(_ context.Context, now time.Time, recentWindow time.Duration) (*sessionrepo.Stats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := &sessionrepo.Stats{}
	for _, s := range r.byID {
		if !s.IsActive {
			continue
		}
		if s.ExpiresAt.After(now) {
			st.Active++
		} else {
			st.ExpiredActive++
		}
		if now.Sub(s.LastActivity) <= recentWindow {
			st.RecentlyActive++
		}
	}
	return st, nil
}

type memUserRepo struct {
	mu   sync.Mutex
	byID map[string]*userdomain.User
}

func newMemUserRepo() *memUserRepo {
	return &memUserRepo{byID: map[string]*userdomain.User{}}
}

func (r *memUserRepo) GetByID(_ context.Context, id string) (*userdomain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.byID[id]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, nil
}

func (r *memUserRepo) GetBySubject(_ context.Context, subject string) (*userdomain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.byID {
		if u.Subject == subject {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *memUserRepo) Create(_ context.Context, u *userdomain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *u
	r.byID[u.ID] = &cp
	return nil
}

func (r *memUserRepo) TouchLastLogin(_ context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.byID[id]; ok {
		u.LastLogin = &at
	}
	return nil
}

func (r *memUserRepo) SetActive(_ context.Context, id string, active bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.byID[id]; ok {
		u.IsActive = active
	}
	return nil
}

// fakeVerifier maps raw tokens to claims or errors.
type fakeVerifier struct {
	claims map[string]*token.Claims
	errs   map[string]error
}

func (v *fakeVerifier) VerifyAccessToken(_ context.Context, raw string) (*token.Claims, error) {
	if err, ok := v.errs[raw]; ok {
		return nil, err
	}
	if c, ok := v.claims[raw]; ok {
		return c, nil
	}
	return nil, token.ErrMalformedToken
}

// fakeProvider returns a fixed token set or error and counts calls.
type fakeProvider struct {
	set   *idp.TokenSet
	err   error
	calls int
}

func (p *fakeProvider) Refresh(context.Context, string) (*idp.TokenSet, error) {
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	return p.set, nil
}

type fixture struct {
	sessions *memSessionRepo
	users    *memUserRepo
	verifier *fakeVerifier
	provider *fakeProvider
	cipher   *security.TokenCipher
	now      time.Time
	sync     *Synchronizer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cipher, err := security.NewTokenCipher("test-passphrase")
	if err != nil {
		t.Fatalf("NewTokenCipher: %v", err)
	}
	f := &fixture{
		sessions: newMemSessionRepo(),
		users:    newMemUserRepo(),
		verifier: &fakeVerifier{claims: map[string]*token.Claims{}, errs: map[string]error{}},
		provider: &fakeProvider{},
		cipher:   cipher,
		now:      time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	f.sync = NewSynchronizer(
		f.sessions, f.users, f.verifier, f.provider, f.cipher,
		Config{},
		WithClock(func() time.Time { return f.now }),
	)
	return f
}

func (f *fixture) addUser(id, subject string, active bool) {
	_ = f.users.Create(context.Background(), &userdomain.User{
		ID: id, Subject: subject, CreatedAt: f.now.Add(-24 * time.Hour), IsActive: active,
	})
}

func (f *fixture) addToken(raw, subject string, exp time.Time) {
	f.verifier.claims[raw] = &token.Claims{
		Subject: subject, TokenUse: token.UseAccess, ExpiresAt: exp,
	}
}

func (f *fixture) addSession(s *sessiondomain.Session) {
	_ = f.sessions.Create(context.Background(), s)
}

func TestValidateAndSync_CreatesSessionJustInTime(t *testing.T) {
	f := newFixture(t)
	f.addUser("u1", "sub-1", true)
	exp := f.now.Add(time.Hour)
	f.addToken("tok-1", "sub-1", exp)

	res, err := f.sync.ValidateAndSync(context.Background(), "tok-1", "203.0.113.9", "test-agent")
	if err != nil {
		t.Fatalf("ValidateAndSync: %v", err)
	}
	if res.Session == nil {
		t.Fatal("no session in result")
	}
	if !res.Created {
		t.Error("Created = false for a first-request session")
	}
	if !res.Session.ExpiresAt.Equal(exp) {
		t.Errorf("ExpiresAt = %v, want token exp %v", res.Session.ExpiresAt, exp)
	}
	if res.Session.ClientIP != "203.0.113.9" || res.Session.UserAgent != "test-agent" {
		t.Errorf("client metadata not recorded: %q %q", res.Session.ClientIP, res.Session.UserAgent)
	}
	stored, _ := f.sessions.GetByAccessTokenHash(context.Background(), security.HashToken("tok-1"))
	if stored == nil {
		t.Fatal("session not persisted")
	}
	if res.User == nil || res.User.LastLogin == nil {
		t.Error("user last_login not touched")
	}
}

func TestValidateAndSync_CreatesSessionForNearlyExpiredToken(t *testing.T) {
	f := newFixture(t)
	f.addUser("u1", "sub-1", true)
	// A token with one second of life left still gets a session row.
	f.addToken("tok-short", "sub-1", f.now.Add(time.Second))

	res, err := f.sync.ValidateAndSync(context.Background(), "tok-short", "", "")
	if err != nil {
		t.Fatalf("ValidateAndSync: %v", err)
	}
	if res.Session == nil || !res.Session.IsActive {
		t.Fatal("session should be created and active")
	}
}

func TestValidateAndSync_UserNotFound(t *testing.T) {
	f := newFixture(t)
	f.addToken("tok-1", "sub-unknown", f.now.Add(time.Hour))

	_, err := f.sync.ValidateAndSync(context.Background(), "tok-1", "", "")
	if !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("err = %v, want ErrUserNotFound", err)
	}
}

func TestValidateAndSync_UserInactive(t *testing.T) {
	f := newFixture(t)
	f.addUser("u1", "sub-1", false)
	f.addToken("tok-1", "sub-1", f.now.Add(time.Hour))

	_, err := f.sync.ValidateAndSync(context.Background(), "tok-1", "", "")
	if !errors.Is(err, ErrUserInactive) {
		t.Fatalf("err = %v, want ErrUserInactive", err)
	}
}

func TestValidateAndSync_TouchesActivity(t *testing.T) {
	f := newFixture(t)
	f.addUser("u1", "sub-1", true)
	f.addToken("tok-1", "sub-1", f.now.Add(time.Hour))
	f.addSession(&sessiondomain.Session{
		ID: "s1", UserID: "u1", Subject: "sub-1",
		AccessTokenHash: security.HashToken("tok-1"),
		ExpiresAt:       f.now.Add(time.Hour),
		LastActivity:    f.now.Add(-10 * time.Minute),
		IsActive:        true,
	})

	res, err := f.sync.ValidateAndSync(context.Background(), "tok-1", "", "")
	if err != nil {
		t.Fatalf("ValidateAndSync: %v", err)
	}
	if !res.Session.LastActivity.Equal(f.now) {
		t.Errorf("LastActivity = %v, want %v", res.Session.LastActivity, f.now)
	}
	if res.Created {
		t.Error("Created = true for an existing session")
	}
}

func TestValidateAndSync_AutoExtendsRecentlyActiveExpiredSession(t *testing.T) {
	f := newFixture(t)
	f.addUser("u1", "sub-1", true)
	f.addToken("tok-1", "sub-1", f.now.Add(time.Hour))
	f.addSession(&sessiondomain.Session{
		ID: "s1", UserID: "u1", Subject: "sub-1",
		AccessTokenHash: security.HashToken("tok-1"),
		ExpiresAt:       f.now.Add(-time.Minute),
		LastActivity:    f.now.Add(-30 * time.Minute),
		IsActive:        true,
	})

	res, err := f.sync.ValidateAndSync(context.Background(), "tok-1", "", "")
	if err != nil {
		t.Fatalf("ValidateAndSync: %v", err)
	}
	want := f.now.Add(24 * time.Hour)
	if !res.Session.ExpiresAt.Equal(want) {
		t.Errorf("ExpiresAt = %v, want extended to %v", res.Session.ExpiresAt, want)
	}
}

func TestValidateAndSync_ExpiredSessionWithoutRecentActivity(t *testing.T) {
	f := newFixture(t)
	f.addUser("u1", "sub-1", true)
	f.addToken("tok-1", "sub-1", f.now.Add(time.Hour))
	f.addSession(&sessiondomain.Session{
		ID: "s1", UserID: "u1", Subject: "sub-1",
		AccessTokenHash: security.HashToken("tok-1"),
		ExpiresAt:       f.now.Add(-time.Minute),
		LastActivity:    f.now.Add(-90 * time.Minute), // outside the 1h refresh window
		IsActive:        true,
	})

	_, err := f.sync.ValidateAndSync(context.Background(), "tok-1", "", "")
	if !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("err = %v, want ErrSessionExpired", err)
	}
	stored, _ := f.sessions.GetByID(context.Background(), "s1")
	if stored.IsActive {
		t.Error("session should have been invalidated")
	}
}

func TestValidateAndSync_InactivityIsTerminal(t *testing.T) {
	f := newFixture(t)
	f.addUser("u1", "sub-1", true)
	f.addToken("tok-1", "sub-1", f.now.Add(time.Hour))
	f.addSession(&sessiondomain.Session{
		ID: "s1", UserID: "u1", Subject: "sub-1",
		AccessTokenHash: security.HashToken("tok-1"),
		ExpiresAt:       f.now.Add(time.Hour),
		LastActivity:    f.now.Add(-(2*time.Hour + time.Minute)),
		IsActive:        true,
	})

	_, err := f.sync.ValidateAndSync(context.Background(), "tok-1", "", "")
	if !errors.Is(err, ErrSessionInactive) {
		t.Fatalf("err = %v, want ErrSessionInactive", err)
	}
	stored, _ := f.sessions.GetByID(context.Background(), "s1")
	if stored.IsActive {
		t.Error("session should have been invalidated")
	}
}

func TestValidateAndSync_SubjectMismatch(t *testing.T) {
	f := newFixture(t)
	f.addUser("u1", "sub-other", true)
	f.addToken("tok-1", "sub-other", f.now.Add(time.Hour))
	f.addSession(&sessiondomain.Session{
		ID: "s1", UserID: "u1", Subject: "sub-original",
		AccessTokenHash: security.HashToken("tok-1"),
		ExpiresAt:       f.now.Add(time.Hour),
		LastActivity:    f.now.Add(-time.Minute),
		IsActive:        true,
	})

	_, err := f.sync.ValidateAndSync(context.Background(), "tok-1", "", "")
	if !errors.Is(err, ErrUserMismatch) {
		t.Fatalf("err = %v, want ErrUserMismatch", err)
	}
	stored, _ := f.sessions.GetByID(context.Background(), "s1")
	if stored.IsActive {
		t.Error("mismatched session should have been invalidated")
	}
}

func TestValidateAndSync_InvalidatedSessionRejected(t *testing.T) {
	f := newFixture(t)
	f.addUser("u1", "sub-1", true)
	f.addToken("tok-1", "sub-1", f.now.Add(time.Hour))
	f.addSession(&sessiondomain.Session{
		ID: "s1", UserID: "u1", Subject: "sub-1",
		AccessTokenHash: security.HashToken("tok-1"),
		ExpiresAt:       f.now.Add(time.Hour),
		LastActivity:    f.now.Add(-time.Minute),
		IsActive:        false,
	})

	_, err := f.sync.ValidateAndSync(context.Background(), "tok-1", "", "")
	if !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("err = %v, want ErrSessionExpired", err)
	}
}

func TestValidateAndSync_SilentRefresh(t *testing.T) {
	f := newFixture(t)
	f.addUser("u1", "sub-1", true)
	f.verifier.errs["tok-old"] = token.ErrTokenExpired
	newExp := f.now.Add(time.Hour)
	f.addToken("tok-new", "sub-1", newExp)
	f.provider.set = &idp.TokenSet{
		AccessToken: "tok-new", IDToken: "id-new", RefreshToken: "refresh-2", ExpiresAt: newExp,
	}
	enc, err := f.cipher.Encrypt("refresh-1")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	f.addSession(&sessiondomain.Session{
		ID: "s1", UserID: "u1", Subject: "sub-1",
		AccessTokenHash:  security.HashToken("tok-old"),
		RefreshTokenHash: security.HashToken("refresh-1"),
		RefreshTokenEnc:  enc,
		ExpiresAt:        f.now.Add(-time.Minute),
		LastActivity:     f.now.Add(-10 * time.Minute),
		IsActive:         true,
	})

	res, err := f.sync.ValidateAndSync(context.Background(), "tok-old", "", "")
	if err != nil {
		t.Fatalf("ValidateAndSync: %v", err)
	}
	if res.Refreshed == nil {
		t.Fatal("Refreshed should be set after a silent refresh")
	}
	if res.Refreshed.AccessToken != "tok-new" {
		t.Errorf("Refreshed.AccessToken = %q, want tok-new", res.Refreshed.AccessToken)
	}
	stored, _ := f.sessions.GetByID(context.Background(), "s1")
	if stored.AccessTokenHash != security.HashToken("tok-new") {
		t.Error("stored access token hash not rotated")
	}
	if stored.RefreshTokenHash != security.HashToken("refresh-2") {
		t.Error("stored refresh token hash not rotated")
	}
	if got, _ := f.cipher.Decrypt(stored.RefreshTokenEnc); got != "refresh-2" {
		t.Errorf("stored refresh credential decrypts to %q, want refresh-2", got)
	}
	if f.provider.calls != 1 {
		t.Errorf("provider calls = %d, want 1", f.provider.calls)
	}
}

func TestValidateAndSync_RefreshFailureIsTokenExpired(t *testing.T) {
	f := newFixture(t)
	f.addUser("u1", "sub-1", true)
	f.verifier.errs["tok-old"] = token.ErrTokenExpired
	f.provider.err = idp.ErrRefreshRejected
	enc, _ := f.cipher.Encrypt("refresh-1")
	f.addSession(&sessiondomain.Session{
		ID: "s1", UserID: "u1", Subject: "sub-1",
		AccessTokenHash: security.HashToken("tok-old"),
		RefreshTokenEnc: enc,
		ExpiresAt:       f.now.Add(-time.Minute),
		LastActivity:    f.now.Add(-10 * time.Minute),
		IsActive:        true,
	})

	_, err := f.sync.ValidateAndSync(context.Background(), "tok-old", "", "")
	if !errors.Is(err, token.ErrTokenExpired) {
		t.Fatalf("err = %v, want ErrTokenExpired", err)
	}
}

func TestValidateAndSync_ExpiredTokenWithoutSession(t *testing.T) {
	f := newFixture(t)
	f.verifier.errs["tok-old"] = token.ErrTokenExpired

	_, err := f.sync.ValidateAndSync(context.Background(), "tok-old", "", "")
	if !errors.Is(err, token.ErrTokenExpired) {
		t.Fatalf("err = %v, want ErrTokenExpired", err)
	}
	if f.provider.calls != 0 {
		t.Errorf("provider calls = %d, want 0 (no session, nothing to refresh)", f.provider.calls)
	}
}

func TestValidateAndSync_ExpiredTokenIdleSession(t *testing.T) {
	f := newFixture(t)
	f.addUser("u1", "sub-1", true)
	f.verifier.errs["tok-old"] = token.ErrTokenExpired
	enc, _ := f.cipher.Encrypt("refresh-1")
	f.addSession(&sessiondomain.Session{
		ID: "s1", UserID: "u1", Subject: "sub-1",
		AccessTokenHash: security.HashToken("tok-old"),
		RefreshTokenEnc: enc,
		ExpiresAt:       f.now.Add(time.Hour),
		LastActivity:    f.now.Add(-3 * time.Hour),
		IsActive:        true,
	})

	_, err := f.sync.ValidateAndSync(context.Background(), "tok-old", "", "")
	if !errors.Is(err, ErrSessionInactive) {
		t.Fatalf("err = %v, want ErrSessionInactive (inactivity beats refresh)", err)
	}
	if f.provider.calls != 0 {
		t.Errorf("provider calls = %d, want 0", f.provider.calls)
	}
}

func TestValidateAndSync_InfraFailurePropagates(t *testing.T) {
	f := newFixture(t)
	f.verifier.errs["tok-1"] = token.ErrKeySetUnavailable

	_, err := f.sync.ValidateAndSync(context.Background(), "tok-1", "", "")
	if !errors.Is(err, token.ErrKeySetUnavailable) {
		t.Fatalf("err = %v, want ErrKeySetUnavailable", err)
	}
}

func TestInvalidateUserSessions(t *testing.T) {
	f := newFixture(t)
	for _, id := range []string{"s1", "s2"} {
		f.addSession(&sessiondomain.Session{
			ID: id, UserID: "u1", Subject: "sub-1",
			AccessTokenHash: security.HashToken(id),
			ExpiresAt:       f.now.Add(time.Hour),
			LastActivity:    f.now,
			IsActive:        true,
		})
	}
	f.addSession(&sessiondomain.Session{
		ID: "s3", UserID: "u2", Subject: "sub-2",
		AccessTokenHash: security.HashToken("s3"),
		ExpiresAt:       f.now.Add(time.Hour),
		LastActivity:    f.now,
		IsActive:        true,
	})

	n, err := f.sync.InvalidateUserSessions(context.Background(), "u1")
	if err != nil {
		t.Fatalf("InvalidateUserSessions: %v", err)
	}
	if n != 2 {
		t.Errorf("invalidated = %d, want 2", n)
	}
	other, _ := f.sessions.GetByID(context.Background(), "s3")
	if !other.IsActive {
		t.Error("other user's session should remain active")
	}
}

func TestStatistics(t *testing.T) {
	f := newFixture(t)
	f.addSession(&sessiondomain.Session{
		ID: "s1", UserID: "u1", AccessTokenHash: "h1",
		ExpiresAt: f.now.Add(time.Hour), LastActivity: f.now.Add(-5 * time.Minute), IsActive: true,
	})
	f.addSession(&sessiondomain.Session{
		ID: "s2", UserID: "u1", AccessTokenHash: "h2",
		ExpiresAt: f.now.Add(-time.Minute), LastActivity: f.now.Add(-3 * time.Hour), IsActive: true,
	})

	st, err := f.sync.Statistics(context.Background())
	if err != nil {
		t.Fatalf("Statistics: %v", err)
	}
	if st.Active != 1 || st.ExpiredActive != 1 || st.RecentlyActive != 1 {
		t.Errorf("Stats = %+v, want Active=1 ExpiredActive=1 RecentlyActive=1", st)
	}
}
