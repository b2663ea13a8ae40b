package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"minutes-maker/backend/internal/user/domain"
)

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a user repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const userColumns = `id, subject, email, created_at, last_login, is_active`

// GetByID returns the user for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return scanUser(row)
}

// GetBySubject returns the user for the provider subject, or nil if not found.
func (r *PostgresRepository) GetBySubject(ctx context.Context, subject string) (*domain.User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE subject = $1`, subject)
	return scanUser(row)
}

// Create persists the user to the database. The user must have ID set.
func (r *PostgresRepository) Create(ctx context.Context, u *domain.User) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (id, subject, email, created_at, last_login, is_active)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		u.ID, u.Subject, nullString(u.Email), u.CreatedAt, nullTime(u.LastLogin), u.IsActive,
	)
	return err
}

// TouchLastLogin sets the user's last_login timestamp. Returns an error if the update fails.
func (r *PostgresRepository) TouchLastLogin(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `UPDATE users SET last_login = $2 WHERE id = $1`, id, at)
	return err
}

// SetActive flips the user's is_active flag. Returns an error if the update fails.
func (r *PostgresRepository) SetActive(ctx context.Context, id string, active bool) error {
	_, err := r.db.ExecContext(ctx, `UPDATE users SET is_active = $2 WHERE id = $1`, id, active)
	return err
}

func scanUser(row *sql.Row) (*domain.User, error) {
	var u domain.User
	var email sql.NullString
	var lastLogin sql.NullTime
	err := row.Scan(&u.ID, &u.Subject, &email, &u.CreatedAt, &lastLogin, &u.IsActive)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if email.Valid {
		u.Email = email.String
	}
	if lastLogin.Valid {
		t := lastLogin.Time
		u.LastLogin = &t
	}
	return &u, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
