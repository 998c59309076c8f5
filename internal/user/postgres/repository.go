// Package postgres implements the user repository on pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/realhut/authd/internal/user"
)

const uniqueViolation = "23505"

// DB is the subset of pgxpool.Pool the repository uses; pgxmock
// implements it for tests.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Repository struct {
	db DB
}

func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// NewRepositoryWithDB accepts any DB implementation; used by tests.
func NewRepositoryWithDB(db DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Create(ctx context.Context, u *user.User) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO users (id, name, email, password_hash, role, is_email_verified, avatar_url, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now(), now())
	`, u.ID, u.Name, u.Email, u.PasswordHash, u.Role, u.EmailVerified, u.AvatarURL)
	if err != nil {
		if isUniqueViolation(err) {
			return user.ErrDuplicateEmail
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

func (r *Repository) FindByEmail(ctx context.Context, email string) (*user.User, error) {
	return r.findBy(ctx, "email", email)
}

func (r *Repository) FindByID(ctx context.Context, id string) (*user.User, error) {
	return r.findBy(ctx, "id", id)
}

func (r *Repository) findBy(ctx context.Context, column, value string) (*user.User, error) {
	query := fmt.Sprintf(`
		SELECT id, name, email, password_hash, role, is_email_verified, avatar_url, created_at, updated_at
		FROM users
		WHERE %s = $1
		LIMIT 1
	`, column)

	var u user.User
	err := r.db.QueryRow(ctx, query, value).Scan(
		&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.Role,
		&u.EmailVerified, &u.AvatarURL, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, user.ErrNotFound
		}
		return nil, fmt.Errorf("failed to find user by %s: %w", column, err)
	}

	return &u, nil
}

func (r *Repository) SetEmailVerified(ctx context.Context, id string, verified bool) error {
	return r.update(ctx, id, `UPDATE users SET is_email_verified = $2, updated_at = now() WHERE id = $1`, verified)
}

func (r *Repository) UpdateEmail(ctx context.Context, id, email string) error {
	err := r.update(ctx, id, `UPDATE users SET email = $2, is_email_verified = false, updated_at = now() WHERE id = $1`, email)
	if isUniqueViolation(err) {
		return user.ErrDuplicateEmail
	}
	return err
}

func (r *Repository) UpdatePasswordHash(ctx context.Context, id, hash string) error {
	return r.update(ctx, id, `UPDATE users SET password_hash = $2, updated_at = now() WHERE id = $1`, hash)
}

func (r *Repository) UpdateProfile(ctx context.Context, id, name, avatarURL string) error {
	return r.update(ctx, id, `UPDATE users SET name = $2, avatar_url = $3, updated_at = now() WHERE id = $1`, name, avatarURL)
}

func (r *Repository) Delete(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return user.ErrNotFound
	}
	return nil
}

func (r *Repository) update(ctx context.Context, id, query string, args ...any) error {
	tag, err := r.db.Exec(ctx, query, append([]any{id}, args...)...)
	if err != nil {
		if isUniqueViolation(err) {
			return err
		}
		return fmt.Errorf("failed to update user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return user.ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
