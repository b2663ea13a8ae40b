package domain

import "time"

// State classifies a session at a point in time.
type State string

const (
	// StateActive: usable as-is.
	StateActive State = "active"
	// StateExpired: expires_at has passed; recoverable by auto-extension or refresh.
	StateExpired State = "expired"
	// StateInactive: idle past the inactivity timeout; terminal.
	StateInactive State = "inactive"
	// StateInvalidated: explicitly deactivated; terminal.
	StateInvalidated State = "invalidated"
)

// Session binds a verified provider token to server-side state. Raw tokens
// are never stored; only hashes plus an encrypted refresh credential.
type Session struct {
	ID      string
	UserID  string
	Subject string // provider subject the session was minted for

	AccessTokenHash  string
	IDTokenHash      string // empty when the client holds no identity token
	RefreshTokenHash string
	RefreshTokenEnc  string // encrypted copy for silent refresh; empty when absent

	ExpiresAt    time.Time
	CreatedAt    time.Time
	LastActivity time.Time
	IsActive     bool

	ClientIP  string
	UserAgent string
}

// StateAt classifies the session at now given the inactivity timeout.
func (s *Session) StateAt(now time.Time, inactivityTimeout time.Duration) State {
	if !s.IsActive {
		return StateInvalidated
	}
	if now.Sub(s.LastActivity) > inactivityTimeout {
		return StateInactive
	}
	if !s.ExpiresAt.After(now) {
		return StateExpired
	}
	return StateActive
}

// ActiveWithin reports whether the session saw activity in the window ending at now.
func (s *Session) ActiveWithin(now time.Time, window time.Duration) bool {
	return now.Sub(s.LastActivity) <= window
}
