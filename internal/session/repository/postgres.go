package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"minutes-maker/backend/internal/session/domain"
)

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a session repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const sessionColumns = `id, user_id, subject, access_token_hash, id_token_hash,
refresh_token_hash, refresh_token_enc, expires_at, created_at, last_activity,
is_active, client_ip, user_agent`

// GetByID returns the session for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.Session, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM user_sessions WHERE id = $1`, id)
	return scanSession(row)
}

// GetByAccessTokenHash returns the session holding the given access token hash,
// or nil if not found. The hash column is unique; a token maps to one session.
func (r *PostgresRepository) GetByAccessTokenHash(ctx context.Context, hash string) (*domain.Session, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM user_sessions WHERE access_token_hash = $1`, hash)
	return scanSession(row)
}

// Create persists the session to the database. The session must have ID set.
func (r *PostgresRepository) Create(ctx context.Context, s *domain.Session) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO user_sessions (id, user_id, subject, access_token_hash, id_token_hash,
		 refresh_token_hash, refresh_token_enc, expires_at, created_at, last_activity,
		 is_active, client_ip, user_agent)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		s.ID, s.UserID, s.Subject, s.AccessTokenHash, nullString(s.IDTokenHash),
		nullString(s.RefreshTokenHash), nullString(s.RefreshTokenEnc), s.ExpiresAt,
		s.CreatedAt, s.LastActivity, s.IsActive, nullString(s.ClientIP), nullString(s.UserAgent),
	)
	return err
}

// UpdateTokens replaces the stored credential fields after a silent refresh.
func (r *PostgresRepository) UpdateTokens(ctx context.Context, id string, upd TokenUpdate) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE user_sessions
		 SET access_token_hash = $2, id_token_hash = $3, refresh_token_hash = $4,
		     refresh_token_enc = $5, expires_at = $6
		 WHERE id = $1`,
		id, upd.AccessTokenHash, nullString(upd.IDTokenHash),
		nullString(upd.RefreshTokenHash), nullString(upd.RefreshTokenEnc), upd.ExpiresAt,
	)
	return err
}

// UpdateActivity sets the session's last_activity timestamp.
func (r *PostgresRepository) UpdateActivity(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `UPDATE user_sessions SET last_activity = $2 WHERE id = $1`, id, at)
	return err
}

// Extend pushes expires_at forward and touches last_activity.
func (r *PostgresRepository) Extend(ctx context.Context, id string, expiresAt, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE user_sessions SET expires_at = $2, last_activity = $3 WHERE id = $1`,
		id, expiresAt, at,
	)
	return err
}

// Invalidate marks the session inactive. Idempotent.
func (r *PostgresRepository) Invalidate(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE user_sessions SET is_active = FALSE WHERE id = $1`, id)
	return err
}

// InvalidateAllByUser marks all of a user's active sessions inactive and
// returns how many were affected.
func (r *PostgresRepository) InvalidateAllByUser(ctx context.Context, userID string) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE user_sessions SET is_active = FALSE WHERE user_id = $1 AND is_active`, userID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DeactivateStale deactivates sessions past expires_at or idle since before idleBefore.
func (r *PostgresRepository) DeactivateStale(ctx context.Context, now, idleBefore time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE user_sessions SET is_active = FALSE
		 WHERE is_active AND (expires_at <= $1 OR last_activity < $2)`,
		now, idleBefore,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Statistics summarizes the session table at now.
func (r *PostgresRepository) Statistics(ctx context.Context, now time.Time, recentWindow time.Duration) (*Stats, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT
		   COUNT(*) FILTER (WHERE is_active AND expires_at > $1),
		   COUNT(*) FILTER (WHERE is_active AND expires_at <= $1),
		   COUNT(*) FILTER (WHERE is_active AND last_activity >= $2)
		 FROM user_sessions`,
		now, now.Add(-recentWindow),
	)
	var st Stats
	if err := row.Scan(&st.Active, &st.ExpiredActive, &st.RecentlyActive); err != nil {
		return nil, err
	}
	return &st, nil
}

func scanSession(row *sql.Row) (*domain.Session, error) {
	var s domain.Session
	var idTokenHash, refreshHash, refreshEnc, clientIP, userAgent sql.NullString
	err := row.Scan(
		&s.ID, &s.UserID, &s.Subject, &s.AccessTokenHash, &idTokenHash,
		&refreshHash, &refreshEnc, &s.ExpiresAt, &s.CreatedAt, &s.LastActivity,
		&s.IsActive, &clientIP, &userAgent,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	s.IDTokenHash = idTokenHash.String
	s.RefreshTokenHash = refreshHash.String
	s.RefreshTokenEnc = refreshEnc.String
	s.ClientIP = clientIP.String
	s.UserAgent = userAgent.String
	return &s, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
