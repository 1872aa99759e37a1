// Package postgres implements the settings and user stores on PostgreSQL.
// Settings writes lock the vehicle row with SELECT ... FOR UPDATE, so writers
// of the same vehicle are serialized while other vehicles proceed.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kilianp07/citro80/core/model"
	"github.com/kilianp07/citro80/core/store"
	"github.com/kilianp07/citro80/infra/logger"
)

// Config defines the connection parameters.
type Config struct {
	URL             string `json:"url"`
	MaxConns        int32  `json:"max_conns"`
	MaxConnLifetime string `json:"max_conn_lifetime"`
}

const vehicleColumns = `external_id, user_id, max_charge, is_active, action_id, created_at, updated_at`

// errInsertRaced signals that a concurrent insert created the row first.
var errInsertRaced = errors.New("vehicle row created concurrently")

// Store persists settings and users in PostgreSQL.
type Store struct {
	store.Hooks
	pool *pgxpool.Pool
	log  logger.Logger
}

var _ store.Store = (*Store)(nil)

// Open dials the database described by cfg.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse connection string: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime != "" {
		d, err := time.ParseDuration(cfg.MaxConnLifetime)
		if err != nil {
			return nil, fmt.Errorf("postgres: max_conn_lifetime: %w", err)
		}
		poolCfg.MaxConnLifetime = d
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	return &Store{pool: pool, log: logger.New("postgres")}, nil
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

// Close releases the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func scanSettings(row pgx.Row) (model.VehicleSettings, error) {
	var st model.VehicleSettings
	err := row.Scan(&st.ExternalID, &st.UserID, &st.DesiredMaxCharge, &st.IsActive, &st.LastActionID, &st.CreatedAt, &st.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return st, store.ErrNotFound
	}
	return st, err
}

func collectSettings(rows pgx.Rows) ([]model.VehicleSettings, error) {
	defer rows.Close()
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

// Get returns the settings of a vehicle.
func (s *Store) Get(ctx context.Context, vehicleID string) (model.VehicleSettings, error) {
	return scanSettings(s.pool.QueryRow(ctx, `SELECT `+vehicleColumns+` FROM vehicles WHERE external_id = $1`, vehicleID))
}

// GetMany returns settings keyed by vehicle id; empty ids returns all rows.
func (s *Store) GetMany(ctx context.Context, ids []string) (map[string]model.VehicleSettings, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if len(ids) == 0 {
		rows, err = s.pool.Query(ctx, `SELECT `+vehicleColumns+` FROM vehicles`)
	} else {
		rows, err = s.pool.Query(ctx, `SELECT `+vehicleColumns+` FROM vehicles WHERE external_id = ANY($1)`, ids)
	}
	if err != nil {
		return nil, err
	}
	list, err := collectSettings(rows)
	if err != nil {
		return nil, err
	}
	res := make(map[string]model.VehicleSettings, len(list))
	for _, st := range list {
		res[st.ExternalID] = st
	}
	return res, nil
}

// ListActive returns all vehicles with is_active set.
func (s *Store) ListActive(ctx context.Context) ([]model.VehicleSettings, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+vehicleColumns+` FROM vehicles WHERE is_active ORDER BY external_id`)
	if err != nil {
		return nil, err
	}
	return collectSettings(rows)
}

func lockRow(ctx context.Context, tx pgx.Tx, vehicleID string) (model.VehicleSettings, error) {
	return scanSettings(tx.QueryRow(ctx, `SELECT `+vehicleColumns+` FROM vehicles WHERE external_id = $1 FOR UPDATE`, vehicleID))
}

func writeRow(ctx context.Context, tx pgx.Tx, st model.VehicleSettings) (model.VehicleSettings, error) {
	return scanSettings(tx.QueryRow(ctx, `UPDATE vehicles
        SET max_charge = $2, is_active = $3, action_id = $4, updated_at = now()
        WHERE external_id = $1
        RETURNING `+vehicleColumns,
		st.ExternalID, st.DesiredMaxCharge, st.IsActive, st.LastActionID))
}

// Save applies p to the user's vehicle, inserting the row on first save.
func (s *Store) Save(ctx context.Context, userID, vehicleID string, p store.Patch) (model.VehicleSettings, error) {
	if err := p.Validate(); err != nil {
		return model.VehicleSettings{}, err
	}
	var (
		out     model.VehicleSettings
		changed bool
	)
	err := s.retry(ctx, nil, func(tx pgx.Tx) error {
		cur, err := lockRow(ctx, tx, vehicleID)
		switch {
		case errors.Is(err, store.ErrNotFound):
			cur = model.VehicleSettings{ExternalID: vehicleID, UserID: userID, DesiredMaxCharge: model.DefaultMaxCharge}
			p.Apply(&cur)
			out, err = scanSettings(tx.QueryRow(ctx, `INSERT INTO vehicles (external_id, user_id, max_charge, is_active)
                VALUES ($1, $2, $3, $4)
                ON CONFLICT (external_id) DO NOTHING
                RETURNING `+vehicleColumns,
				cur.ExternalID, cur.UserID, cur.DesiredMaxCharge, cur.IsActive))
			if errors.Is(err, store.ErrNotFound) {
				return errInsertRaced
			}
			changed = err == nil
			return err
		case err != nil:
			return err
		case cur.UserID != userID:
			return store.ErrForbidden
		}
		changed = p.Apply(&cur)
		if !changed {
			out = cur
			return nil
		}
		out, err = writeRow(ctx, tx, cur)
		return err
	})
	if err != nil {
		return model.VehicleSettings{}, err
	}
	if changed {
		s.Fire(ctx, out)
	}
	return out, nil
}

// Update runs fn on the locked vehicle row and persists the result when fn
// reports a change. The lock is held until commit.
func (s *Store) Update(ctx context.Context, vehicleID string, fn store.UpdateFunc) (model.VehicleSettings, error) {
	var (
		out     model.VehicleSettings
		changed bool
		called  bool
	)
	err := s.retry(ctx, &called, func(tx pgx.Tx) error {
		cur, err := lockRow(ctx, tx, vehicleID)
		if err != nil {
			return err
		}
		out = cur
		next := cur
		called = true
		changed, err = fn(&next)
		if err != nil || !changed {
			return err
		}
		next.ExternalID = cur.ExternalID
		out, err = writeRow(ctx, tx, next)
		return err
	})
	if err != nil {
		return out, err
	}
	if changed {
		s.Fire(ctx, out)
	}
	return out, nil
}

func isConflict(err error) bool {
	if errors.Is(err, errInsertRaced) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "55P03":
			return true
		}
	}
	return false
}

// retry runs fn in a transaction and replays it on serialization failures.
// Once sideEffects is set the transaction is not replayed, because fn has
// already talked to external systems.
func (s *Store) retry(ctx context.Context, sideEffects *bool, fn func(pgx.Tx) error) error {
	var err error
	for attempt := 0; attempt < store.MaxConflictRetries; attempt++ {
		err = pgx.BeginFunc(ctx, s.pool, fn)
		if err == nil || !isConflict(err) {
			return err
		}
		if sideEffects != nil && *sideEffects {
			break
		}
		s.log.Warnf("transaction conflict, retrying (attempt %d): %v", attempt+1, err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt+1) * 25 * time.Millisecond):
		}
	}
	return fmt.Errorf("%w: %v", store.ErrConflict, err)
}
