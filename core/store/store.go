// Package store defines the persistence contracts for vehicle settings and
// users. Implementations live under infra/postgres and infra/sqlite.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/kilianp07/citro80/core/model"
)

var (
	// ErrNotFound is returned when the requested row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a write kept colliding with concurrent
	// writers after all retries.
	ErrConflict = errors.New("concurrent update conflict")
	// ErrForbidden is returned when a user writes a vehicle owned by someone else.
	ErrForbidden = errors.New("vehicle belongs to another user")
	// ErrInvalid is returned for settings outside their allowed range.
	ErrInvalid = errors.New("invalid settings")
)

// MaxConflictRetries bounds how many times a transaction is replayed after a
// serialization failure.
const MaxConflictRetries = 3

// Patch is a partial settings update. Nil fields are left untouched.
type Patch struct {
	DesiredMaxCharge *int  `json:"maxCharge,omitempty" validate:"omitempty,min=0,max=100"`
	IsActive         *bool `json:"isActive,omitempty"`
}

var validate = validator.New()

// Validate checks the patch against its struct tags.
func (p Patch) Validate() error {
	if err := validate.Struct(p); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}

// Apply copies the set fields onto s and reports whether anything changed.
// Re-arming an inactive policy forgets the previous stop action so the next
// charging session gets a fresh one.
func (p Patch) Apply(s *model.VehicleSettings) bool {
	changed := false
	if p.DesiredMaxCharge != nil && *p.DesiredMaxCharge != s.DesiredMaxCharge {
		s.DesiredMaxCharge = *p.DesiredMaxCharge
		changed = true
	}
	if p.IsActive != nil && *p.IsActive != s.IsActive {
		if *p.IsActive {
			s.LastActionID = nil
		}
		s.IsActive = *p.IsActive
		changed = true
	}
	return changed
}

// UpdateFunc mutates the locked settings row. Returning false leaves the row
// untouched and fires no hooks.
type UpdateFunc func(s *model.VehicleSettings) (changed bool, err error)

// Settings persists per-vehicle stop-charging settings.
type Settings interface {
	// Get returns the settings of one vehicle or ErrNotFound.
	Get(ctx context.Context, vehicleID string) (model.VehicleSettings, error)
	// GetMany returns settings keyed by vehicle id. An empty ids slice returns
	// every row. Missing vehicles are absent from the map.
	GetMany(ctx context.Context, ids []string) (map[string]model.VehicleSettings, error)
	// ListActive returns every vehicle with an armed policy.
	ListActive(ctx context.Context) ([]model.VehicleSettings, error)
	// Save applies a partial update for the user's vehicle, creating the row on
	// first save.
	Save(ctx context.Context, userID, vehicleID string, p Patch) (model.VehicleSettings, error)
	// Update runs fn against the row while holding its lock.
	Update(ctx context.Context, vehicleID string, fn UpdateFunc) (model.VehicleSettings, error)
	// OnCommit registers a hook fired after every committed mutation.
	OnCommit(h CommitHook)
}

// Users persists user accounts.
type Users interface {
	GetUser(ctx context.Context, id string) (model.User, error)
	GetOrCreateUser(ctx context.Context, email string) (model.User, error)
	ListUsers(ctx context.Context) ([]model.User, error)
	MarkEmailVerified(ctx context.Context, id string) error
	SetSuperuser(ctx context.Context, id string, superuser bool) error
}

// Store bundles both contracts with lifecycle methods.
type Store interface {
	Settings
	Users
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
