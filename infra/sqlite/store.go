// Package sqlite implements the settings and user stores on SQLite for
// single-node deployments and tests.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/kilianp07/citro80/core/model"
	"github.com/kilianp07/citro80/core/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
    id TEXT PRIMARY KEY,
    email TEXT NOT NULL UNIQUE,
    email_verified_at INTEGER,
    is_superuser INTEGER NOT NULL DEFAULT 0,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS vehicles (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    external_id TEXT NOT NULL UNIQUE,
    user_id TEXT NOT NULL,
    max_charge INTEGER NOT NULL,
    is_active INTEGER NOT NULL DEFAULT 0,
    action_id TEXT,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS vehicles_active_idx ON vehicles(is_active);
CREATE INDEX IF NOT EXISTS vehicles_user_idx ON vehicles(user_id);
`

const vehicleColumns = `external_id, user_id, max_charge, is_active, action_id, created_at, updated_at`

// Store persists settings and users in a SQLite database. Writes to the same
// vehicle are serialized in process; SQLite itself serializes writers.
type Store struct {
	store.Hooks
	db    *sql.DB
	locks *keyedMutex
	now   func() time.Time
}

var _ store.Store = (*Store)(nil)

// Open opens or creates the database at path and ensures schema.
func Open(path string) (*Store, error) {
	dsn := path
	if !strings.Contains(dsn, "?") {
		dsn += "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_txlock=immediate"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	s := &Store{db: db, locks: newKeyedMutex(), now: time.Now}
	if err := s.Migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Migrate creates the schema when missing.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("sqlite schema: %w", err)
	}
	return nil
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

type scanner interface {
	Scan(dest ...any) error
}

func scanSettings(row scanner) (model.VehicleSettings, error) {
	var (
		st               model.VehicleSettings
		active           int
		action           sql.NullString
		created, updated int64
	)
	if err := row.Scan(&st.ExternalID, &st.UserID, &st.DesiredMaxCharge, &active, &action, &created, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return st, store.ErrNotFound
		}
		return st, err
	}
	st.IsActive = active != 0
	if action.Valid {
		id := action.String
		st.LastActionID = &id
	}
	st.CreatedAt = time.UnixMilli(created).UTC()
	st.UpdatedAt = time.UnixMilli(updated).UTC()
	return st, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullString(p *string) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}

// Get returns the settings of a vehicle.
func (s *Store) Get(ctx context.Context, vehicleID string) (model.VehicleSettings, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+vehicleColumns+` FROM vehicles WHERE external_id = ?`, vehicleID)
	return scanSettings(row)
}

// GetMany returns settings keyed by vehicle id; empty ids returns all rows.
func (s *Store) GetMany(ctx context.Context, ids []string) (map[string]model.VehicleSettings, error) {
	query := `SELECT ` + vehicleColumns + ` FROM vehicles`
	args := make([]any, 0, len(ids))
	if len(ids) > 0 {
		query += ` WHERE external_id IN (?` + strings.Repeat(",?", len(ids)-1) + `)`
		for _, id := range ids {
			args = append(args, id)
		}
	}
	return s.queryMap(ctx, query, args...)
}

// ListActive returns all vehicles with is_active set.
func (s *Store) ListActive(ctx context.Context) ([]model.VehicleSettings, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+vehicleColumns+` FROM vehicles WHERE is_active = 1 ORDER BY external_id`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var res []model.VehicleSettings
	for rows.Next() {
		st, err := scanSettings(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, st)
	}
	return res, rows.Err()
}

func (s *Store) queryMap(ctx context.Context, query string, args ...any) (map[string]model.VehicleSettings, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	res := make(map[string]model.VehicleSettings)
	for rows.Next() {
		st, err := scanSettings(rows)
		if err != nil {
			return nil, err
		}
		res[st.ExternalID] = st
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return res, nil
}

// Save applies p to the user's vehicle, inserting the row on first save.
func (s *Store) Save(ctx context.Context, userID, vehicleID string, p store.Patch) (model.VehicleSettings, error) {
	if err := p.Validate(); err != nil {
		return model.VehicleSettings{}, err
	}
	unlock := s.locks.Lock(vehicleID)
	defer unlock()

	var (
		out     model.VehicleSettings
		changed bool
	)
	err := withRetry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		cur, err := scanSettings(tx.QueryRowContext(ctx, `SELECT `+vehicleColumns+` FROM vehicles WHERE external_id = ?`, vehicleID))
		switch {
		case errors.Is(err, store.ErrNotFound):
			now := s.now().UTC()
			cur = model.VehicleSettings{
				ExternalID:       vehicleID,
				UserID:           userID,
				DesiredMaxCharge: model.DefaultMaxCharge,
				CreatedAt:        now,
			}
			p.Apply(&cur)
			cur.UpdatedAt = now
			if _, err := tx.ExecContext(ctx, `INSERT INTO vehicles (`+vehicleColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
				cur.ExternalID, cur.UserID, cur.DesiredMaxCharge, boolInt(cur.IsActive), nullString(cur.LastActionID),
				cur.CreatedAt.UnixMilli(), cur.UpdatedAt.UnixMilli()); err != nil {
				return err
			}
			changed = true
		case err != nil:
			return err
		case cur.UserID != userID:
			return store.ErrForbidden
		default:
			changed = p.Apply(&cur)
			if changed {
				cur.UpdatedAt = s.now().UTC()
				if err := updateRow(ctx, tx, cur); err != nil {
					return err
				}
			}
		}
		out = cur
		return tx.Commit()
	})
	if err != nil {
		return model.VehicleSettings{}, err
	}
	if changed {
		s.Fire(ctx, out)
	}
	return out, nil
}

// Update runs fn on the vehicle row inside a BEGIN IMMEDIATE transaction
// and persists the result when fn reports a change. The database write lock
// is held from before the read until commit, including across fn.
func (s *Store) Update(ctx context.Context, vehicleID string, fn store.UpdateFunc) (model.VehicleSettings, error) {
	unlock := s.locks.Lock(vehicleID)
	defer unlock()

	var tx *sql.Tx
	err := withRetry(ctx, func() error {
		var err error
		tx, err = s.db.BeginTx(ctx, nil)
		return err
	})
	if err != nil {
		return model.VehicleSettings{}, err
	}
	defer func() { _ = tx.Rollback() }()

	cur, err := scanSettings(tx.QueryRowContext(ctx, `SELECT `+vehicleColumns+` FROM vehicles WHERE external_id = ?`, vehicleID))
	if err != nil {
		return cur, err
	}
	next := cur
	changed, err := fn(&next)
	if err != nil {
		return cur, err
	}
	if !changed {
		return cur, nil
	}
	next.ExternalID = cur.ExternalID
	next.UpdatedAt = s.now().UTC()
	if err := updateRow(ctx, tx, next); err != nil {
		return cur, err
	}
	if err := tx.Commit(); err != nil {
		if isBusy(err) {
			return cur, fmt.Errorf("%w: %v", store.ErrConflict, err)
		}
		return cur, err
	}
	s.Fire(ctx, next)
	return next, nil
}

func updateRow(ctx context.Context, tx *sql.Tx, st model.VehicleSettings) error {
	res, err := tx.ExecContext(ctx, `UPDATE vehicles SET user_id = ?, max_charge = ?, is_active = ?, action_id = ?, updated_at = ?
        WHERE external_id = ?`,
		st.UserID, st.DesiredMaxCharge, boolInt(st.IsActive), nullString(st.LastActionID), st.UpdatedAt.UnixMilli(), st.ExternalID)
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
}

func isBusy(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		code := se.Code() & 0xff
		return code == sqlite3.SQLITE_BUSY || code == sqlite3.SQLITE_LOCKED
	}
	return false
}

// withRetry replays fn when SQLite reports the database as busy.
func withRetry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt < store.MaxConflictRetries; attempt++ {
		if err = fn(); err == nil || !isBusy(err) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt+1) * 20 * time.Millisecond):
		}
	}
	return fmt.Errorf("%w: %v", store.ErrConflict, err)
}
