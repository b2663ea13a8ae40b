package repository

import (
	"context"
	"time"

	"minutes-maker/backend/internal/session/domain"
)

// TokenUpdate carries the stored credential fields replaced after a silent refresh.
type TokenUpdate struct {
	AccessTokenHash  string
	IDTokenHash      string
	RefreshTokenHash string
	RefreshTokenEnc  string
	ExpiresAt        time.Time
}

// Stats summarizes the session table for monitoring.
type Stats struct {
	Active         int64 // is_active and not past expires_at
	ExpiredActive  int64 // is_active but past expires_at (awaiting sweep)
	RecentlyActive int64 // is_active with activity inside the recent window
}

// Repository defines persistence for sessions.
type Repository interface {
	GetByID(ctx context.Context, id string) (*domain.Session, error)
	GetByAccessTokenHash(ctx context.Context, hash string) (*domain.Session, error)
	Create(ctx context.Context, s *domain.Session) error
	UpdateTokens(ctx context.Context, id string, upd TokenUpdate) error
	UpdateActivity(ctx context.Context, id string, at time.Time) error
	Extend(ctx context.Context, id string, expiresAt, at time.Time) error
	Invalidate(ctx context.Context, id string) error
	InvalidateAllByUser(ctx context.Context, userID string) (int64, error)
	// DeactivateStale deactivates sessions past expires_at or idle since before
	// idleBefore. Returns the number of rows deactivated; idempotent.
	DeactivateStale(ctx context.Context, now, idleBefore time.Time) (int64, error)
	Statistics(ctx context.Context, now time.Time, recentWindow time.Duration) (*Stats, error)
}
