package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"minutes-maker/backend/internal/audit/domain"
)

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns an auth event repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const eventColumns = `id, user_id, identifier, event_type, result, severity, ip, user_agent, metadata, created_at`

// GetByID returns the auth event for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.AuthEvent, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM auth_events WHERE id = $1`, id)
	e, err := scanEvent(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return e, nil
}

// ListByUser returns auth events for the given user, newest first, paginated
// by limit and offset.
func (r *PostgresRepository) ListByUser(ctx context.Context, userID string, limit, offset int32) ([]*domain.AuthEvent, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM auth_events
		 WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		userID, limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEvents(rows)
}

// ListSince returns auth events created at or after since, newest first,
// capped at limit.
func (r *PostgresRepository) ListSince(ctx context.Context, since time.Time, limit int32) ([]*domain.AuthEvent, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM auth_events
		 WHERE created_at >= $1 ORDER BY created_at DESC LIMIT $2`,
		since, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEvents(rows)
}

// Create persists the auth event. The event must have ID set.
func (r *PostgresRepository) Create(ctx context.Context, e *domain.AuthEvent) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO auth_events (id, user_id, identifier, event_type, result, severity, ip, user_agent, metadata, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		e.ID, nullString(e.UserID), nullString(e.Identifier), e.EventType, e.Result, e.Severity,
		nullString(e.IP), nullString(e.UserAgent), nullString(e.Metadata), e.CreatedAt,
	)
	return err
}

// DeleteBefore removes events created before cutoff and returns the count.
func (r *PostgresRepository) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM auth_events WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (*domain.AuthEvent, error) {
	var e domain.AuthEvent
	var userID, identifier, ip, userAgent, metadata sql.NullString
	err := row.Scan(&e.ID, &userID, &identifier, &e.EventType, &e.Result, &e.Severity,
		&ip, &userAgent, &metadata, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	e.UserID = userID.String
	e.Identifier = identifier.String
	e.IP = ip.String
	e.UserAgent = userAgent.String
	e.Metadata = metadata.String
	return &e, nil
}

func collectEvents(rows *sql.Rows) ([]*domain.AuthEvent, error) {
	var out []*domain.AuthEvent
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
