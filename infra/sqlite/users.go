package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/kilianp07/citro80/core/model"
	"github.com/kilianp07/citro80/core/store"
)

const userColumns = `id, email, email_verified_at, is_superuser, created_at, updated_at`

func scanUser(row scanner) (model.User, error) {
	var (
		u                model.User
		verified         sql.NullInt64
		super            int
		created, updated int64
	)
	if err := row.Scan(&u.ID, &u.Email, &verified, &super, &created, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return u, store.ErrNotFound
		}
		return u, err
	}
	if verified.Valid {
		t := time.UnixMilli(verified.Int64).UTC()
		u.EmailVerifiedAt = &t
	}
	u.IsSuperuser = super != 0
	u.CreatedAt = time.UnixMilli(created).UTC()
	u.UpdatedAt = time.UnixMilli(updated).UTC()
	return u, nil
}

// GetUser returns the user with the given id.
func (s *Store) GetUser(ctx context.Context, id string) (model.User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id))
}

// GetOrCreateUser returns the user owning email, creating it when needed.
func (s *Store) GetOrCreateUser(ctx context.Context, email string) (model.User, error) {
	email = model.NormalizeEmail(email)
	id := model.UserIDForEmail(email)
	now := s.now().UnixMilli()
	err := withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `INSERT INTO users (id, email, is_superuser, created_at, updated_at)
            VALUES (?, ?, 0, ?, ?) ON CONFLICT(id) DO NOTHING`, id, email, now, now)
		return err
	})
	if err != nil {
		return model.User{}, err
	}
	return s.GetUser(ctx, id)
}

// ListUsers returns all users ordered by creation.
func (s *Store) ListUsers(ctx context.Context) ([]model.User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
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
	now := s.now().UnixMilli()
	return s.execUser(ctx, `UPDATE users SET email_verified_at = COALESCE(email_verified_at, ?), updated_at = ? WHERE id = ?`, now, now, id)
}

// SetSuperuser grants or revokes admin rights.
func (s *Store) SetSuperuser(ctx context.Context, id string, superuser bool) error {
	return s.execUser(ctx, `UPDATE users SET is_superuser = ?, updated_at = ? WHERE id = ?`, boolInt(superuser), s.now().UnixMilli(), id)
}

func (s *Store) execUser(ctx context.Context, query string, args ...any) error {
	return withRetry(ctx, func() error {
		res, err := s.db.ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return store.ErrNotFound
		}
		return nil
	})
}
