package store

import (
	"context"
	"sync"

	"github.com/kilianp07/citro80/core/model"
)

// CommitHook runs after a settings mutation has been committed.
type CommitHook func(ctx context.Context, s model.VehicleSettings)

// Hooks is an ordered list of commit hooks safe for concurrent use.
// Backends embed it to implement Settings.OnCommit.
type Hooks struct {
	mu    sync.RWMutex
	hooks []CommitHook
}

// OnCommit registers h.
func (h *Hooks) OnCommit(fn CommitHook) {
	if fn == nil {
		return
	}
	h.mu.Lock()
	h.hooks = append(h.hooks, fn)
	h.mu.Unlock()
}

// Fire runs all hooks in registration order.
func (h *Hooks) Fire(ctx context.Context, s model.VehicleSettings) {
	h.mu.RLock()
	hooks := append([]CommitHook(nil), h.hooks...)
	h.mu.RUnlock()
	for _, fn := range hooks {
		fn(ctx, s)
	}
}
