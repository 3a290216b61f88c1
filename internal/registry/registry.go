// Package registry is the single source of truth for who is online:
// a process-wide display-name→session directory, constructed once at
// server start and handed to every component that routes.
package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"

	"gorelay/internal/session"
)

// nameRules is what a display name must satisfy before it may appear
// on the wire: non-empty, bounded, and free of the comma and colon
// that delimit USERS: rosters and MSG: envelopes.  The comma is spelt
// 0x2C because a literal one would split the tag; the colon may appear
// verbatim, and tag parsing decodes nothing else.
const nameRules = "required,max=64,excludesall=0x2C:"

var validate = validator.New()

// ValidateName reports whether name is safe to register.
func ValidateName(name string) error {
	if err := validate.Var(name, nameRules); err != nil {
		return fmt.Errorf("display name %q: %w", name, err)
	}
	return nil
}

// Registry maps display names to live sessions.  Every operation runs
// under one mutex: joins and leaves mutate the map while snapshots and
// lookups read it, and none of them may observe a torn state.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*session.Session
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{sessions: make(map[string]*session.Session)}
}

// Join inserts or replaces the mapping for name and returns the
// session it displaced, if any.  The caller decides the evicted
// session's fate; the registry only guarantees at most one live
// session per name.
func (r *Registry) Join(name string, s *session.Session) *session.Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev := r.sessions[name]
	if prev == s {
		prev = nil
	}
	r.sessions[name] = s
	s.Advance(session.StateRegistered)
	return prev
}

// Leave removes name only while it still maps to s, guarding against a
// stale removal racing a newer Join under the same name.  Reports
// whether the mapping was removed.
func (r *Registry) Leave(name string, s *session.Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sessions[name] != s {
		return false
	}
	delete(r.sessions, name)
	return true
}

// Lookup returns the session registered under name.  This is the
// routing hot path; it holds the mutex only long enough for one map
// read and never blocks on I/O.
func (r *Registry) Lookup(name string) (*session.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[name]
	return s, ok
}

// Snapshot returns the current names in sorted order for a roster
// broadcast.  The slice is the caller's to keep.
func (r *Registry) Snapshot() []string {
	r.mu.Lock()
	names := lo.Keys(r.sessions)
	r.mu.Unlock()

	sort.Strings(names)
	return names
}

// Sessions returns every registered session.
func (r *Registry) Sessions() []*session.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return lo.Values(r.sessions)
}

// Len returns the number of registered names.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
