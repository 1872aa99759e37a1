package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/kilianp07/citro80/core/model"
	"github.com/kilianp07/citro80/core/store"
)

const userColumns = `id, email, email_verified_at, is_superuser, created_at, updated_at`

func scanUser(row pgx.Row) (model.User, error) {
	var u model.User
	err := row.Scan(&u.ID, &u.Email, &u.EmailVerifiedAt, &u.IsSuperuser, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return u, store.ErrNotFound
	}
	return u, err
}

// GetUser returns the user with the given id.
func (s *Store) GetUser(ctx context.Context, id string) (model.User, error) {
	return scanUser(s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

// GetOrCreateUser returns the user owning email, creating it when needed.
func (s *Store) GetOrCreateUser(ctx context.Context, email string) (model.User, error) {
	email = model.NormalizeEmail(email)
	id := model.UserIDForEmail(email)
	if _, err := s.pool.Exec(ctx, `INSERT INTO users (id, email) VALUES ($1, $2) ON CONFLICT (id) DO NOTHING`, id, email); err != nil {
		return model.User{}, err
	}
	return s.GetUser(ctx, id)
}

// ListUsers returns all users ordered by creation.
func (s *Store) ListUsers(ctx context.Context) ([]model.User, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+userColumns+` FROM users ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, u)
	}
	return res, rows.Err()
}

// MarkEmailVerified stamps the first successful login.
func (s *Store) MarkEmailVerified(ctx context.Context, id string) error {
	return s.execUser(ctx, `UPDATE users SET email_verified_at = COALESCE(email_verified_at, now()), updated_at = now() WHERE id = $1`, id)
}

// SetSuperuser grants or revokes admin rights.
func (s *Store) SetSuperuser(ctx context.Context, id string, superuser bool) error {
	return s.execUser(ctx, `UPDATE users SET is_superuser = $2, updated_at = now() WHERE id = $1`, id, superuser)
}

func (s *Store) execUser(ctx context.Context, query string, args ...any) error {
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}
