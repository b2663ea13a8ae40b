package repository

import (
	"context"
	"time"

	"minutes-maker/backend/internal/audit/domain"
)

// Repository defines persistence for auth events.
type Repository interface {
	GetByID(ctx context.Context, id string) (*domain.AuthEvent, error)
	ListByUser(ctx context.Context, userID string, limit, offset int32) ([]*domain.AuthEvent, error)
	ListSince(ctx context.Context, since time.Time, limit int32) ([]*domain.AuthEvent, error)
	Create(ctx context.Context, e *domain.AuthEvent) error
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
