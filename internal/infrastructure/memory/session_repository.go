// Package memory holds process-local stores. Wizard sessions are transient and
// never outlive the process.
package memory

import (
	"fmt"
	"sync"
	"time"

	"accountlink/internal/domain/wizard"
)

// SessionRepository implements the wizard.SessionRepository interface in memory
type SessionRepository struct {
	mu       sync.RWMutex
	sessions map[string]*wizard.Session
}

// Ensure SessionRepository implements wizard.SessionRepository
var _ wizard.SessionRepository = (*SessionRepository)(nil)

// NewSessionRepository creates an empty session repository
func NewSessionRepository() *SessionRepository {
	return &SessionRepository{sessions: make(map[string]*wizard.Session)}
}

// Save stores or replaces a session
func (r *SessionRepository) Save(s *wizard.Session) error {
	if s == nil || s.ID() == "" {
		return fmt.Errorf("failed to save session: missing id")
	}
	r.mu.Lock()
	r.sessions[s.ID()] = s
	r.mu.Unlock()
	return nil
}

// Get retrieves a session by its ID
func (r *SessionRepository) Get(id string) (*wizard.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", id, wizard.ErrSessionNotFound)
	}
	return s, nil
}

// Delete removes a session. Deleting an unknown id is not an error.
func (r *SessionRepository) Delete(id string) error {
	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()
	return nil
}

// PruneIdle removes sessions not updated since cutoff and returns how many
// were removed.
func (r *SessionRepository) PruneIdle(cutoff time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for id, s := range r.sessions {
		if s.UpdatedAt().Before(cutoff) {
			delete(r.sessions, id)
			removed++
		}
	}
	return removed
}

// Len returns the number of stored sessions.
func (r *SessionRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
