package monitor

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"

	"accountlink/internal/domain/account"
)

// Factory builds a monitor for a completed wizard session.
type Factory func(id string, records []account.Record) *Monitor

// Registry holds one monitor per completed wizard session. It is the
// dashboard-side receiver of the wizard handoff.
type Registry struct {
	mu       sync.RWMutex
	monitors map[string]*Monitor
	factory  Factory
	logger   *zap.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(factory Factory, logger *zap.Logger) *Registry {
	return &Registry{
		monitors: make(map[string]*Monitor),
		factory:  factory,
		logger:   logger,
	}
}

// Completed starts monitoring the accounts of a finished session.
func (r *Registry) Completed(_ context.Context, sessionID string, records []account.Record) error {
	m := r.factory(sessionID, records)
	r.mu.Lock()
	r.monitors[sessionID] = m
	r.mu.Unlock()
	r.logger.Info("monitoring started", zap.String("session", sessionID), zap.Int("accounts", len(records)))
	return nil
}

// Cancelled is a no-op: a cancelled wizard has nothing to monitor.
func (r *Registry) Cancelled(_ context.Context, sessionID string) error {
	r.logger.Debug("wizard cancelled, nothing to monitor", zap.String("session", sessionID))
	return nil
}

// Get looks up a monitor by session id.
func (r *Registry) Get(id string) (*Monitor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.monitors[id]
	return m, ok
}

// Remove stops tracking a monitor.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	delete(r.monitors, id)
	r.mu.Unlock()
}

// All returns the registered monitors ordered by id.
func (r *Registry) All() []*Monitor {
	r.mu.RLock()
	out := make([]*Monitor, 0, len(r.monitors))
	for _, m := range r.monitors {
		out = append(out, m)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}
