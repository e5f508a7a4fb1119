package gateway

import (
	"log/slog"
	"sync"
	"time"
)

// Table is the process-wide session registry. Detached sessions carry a
// removal timer; when it fires the session is deleted permanently and its
// id can never be resumed again.
type Table struct {
	removalTimeout time.Duration

	mu       sync.Mutex
	sessions map[string]*Session
	removals map[string]*time.Timer
}

// NewTable creates a session table with the given detached-session
// removal timeout.
func NewTable(removalTimeout time.Duration) *Table {
	return &Table{
		removalTimeout: removalTimeout,
		sessions:       make(map[string]*Session),
		removals:       make(map[string]*time.Timer),
	}
}

// Add registers a session.
func (t *Table) Add(s *Session) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sessions[s.ID] = s
	slog.Info("Session registered", "session_id", s.ID, "uuid", s.Identity.UUID)
}

// Get looks up a session by id, or nil.
func (t *Table) Get(id string) *Session {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sessions[id]
}

// Claim looks up a session for resume and cancels any pending removal,
// both under one lock. Once Claim returns a session, a removal timer
// that fires afterwards is a no-op; a session whose timer already
// expired is gone and yields nil.
func (t *Table) Claim(id string) *Session {
	t.mu.Lock()
	defer t.mu.Unlock()
	sess, ok := t.sessions[id]
	if !ok {
		return nil
	}
	if timer, pending := t.removals[id]; pending {
		delete(t.removals, id)
		timer.Stop()
	}
	return sess
}

// Len returns the number of live sessions.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions)
}

// StartRemoval arms the removal timer for a detached session. An already
// pending timer is left in place.
func (t *Table) StartRemoval(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.sessions[id]; !ok {
		return
	}
	if _, pending := t.removals[id]; pending {
		return
	}
	t.removals[id] = time.AfterFunc(t.removalTimeout, func() {
		t.expire(id)
	})
}

// CancelRemoval cancels a pending removal timer; returns false when no
// timer was pending (the timer may already have fired).
func (t *Table) CancelRemoval(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	timer, ok := t.removals[id]
	if !ok {
		return false
	}
	delete(t.removals, id)
	return timer.Stop()
}

func (t *Table) expire(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, pending := t.removals[id]; !pending {
		// A qualifying reconnect won the race.
		return
	}
	delete(t.removals, id)
	delete(t.sessions, id)
	slog.Info("Detached session removed", "session_id", id)
}
