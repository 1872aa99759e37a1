// Package jobs defines background jobs, their handlers and the queue
// contracts implemented in infra/jobs.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Job names.
const (
	KillCharging = "kill-charging"
	SendEmail    = "send-email"
)

// ErrUnknownJob is returned when no handler is registered for a job name.
var ErrUnknownJob = errors.New("jobs: unknown job")

// Job is one unit of background work.
type Job struct {
	ID         uuid.UUID       `json:"id"`
	Name       string          `json:"name"`
	Payload    json.RawMessage `json:"payload"`
	Attempt    int             `json:"attempt"`
	EnqueuedAt time.Time       `json:"enqueuedAt"`
}

// KillChargingPayload is the payload of KillCharging jobs.
type KillChargingPayload struct {
	VehicleID string `json:"vehicleId"`
}

// SendEmailPayload is the payload of SendEmail jobs.
type SendEmailPayload struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Message string `json:"message"`
}

// New builds a job with a fresh id and the JSON encoded payload.
func New(name string, payload any) (Job, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Job{}, fmt.Errorf("jobs: encode %s payload: %w", name, err)
	}
	return Job{ID: uuid.New(), Name: name, Payload: raw, Attempt: 1, EnqueuedAt: time.Now().UTC()}, nil
}

// Decode unmarshals the job payload into T. Malformed payloads are
// permanent failures.
func Decode[T any](j Job) (T, error) {
	var v T
	if err := json.Unmarshal(j.Payload, &v); err != nil {
		return v, Permanent(fmt.Errorf("jobs: decode %s payload: %w", j.Name, err))
	}
	return v, nil
}

// Handler processes a job. Returning an error schedules a retry unless the
// error is permanent or the attempts are exhausted.
type Handler func(ctx context.Context, j Job) error

// Queue enqueues jobs.
type Queue interface {
	Enqueue(ctx context.Context, name string, payload any) error
}

// Consumer runs registered handlers for queued jobs until ctx is cancelled.
type Consumer interface {
	Consume(ctx context.Context, reg *Registry) error
}

// Registry maps job names to handlers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register adds or replaces the handler for name.
func (r *Registry) Register(name string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = h
}

// Lookup returns the handler registered for name.
func (r *Registry) Lookup(name string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[name]
	return h, ok
}

// Names lists registered job names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.handlers))
	for n := range r.handlers {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}
