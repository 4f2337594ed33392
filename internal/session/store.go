package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// DefaultTTL is how long an idle session is kept.
const DefaultTTL = 24 * time.Hour

// ErrNotFound is returned for unknown, expired, or malformed session IDs.
var ErrNotFound = errors.New("session not found")

type entry struct {
	machine    *Machine
	lastAccess time.Time
}

// Store is an in-memory registry of sessions keyed by UUID.
type Store struct {
	gen Generator
	ttl time.Duration
	now func() time.Time

	mu       sync.Mutex
	sessions map[string]*entry
}

// NewStore creates a registry whose machines use gen. A non-positive ttl
// selects DefaultTTL.
func NewStore(gen Generator, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{
		gen:      gen,
		ttl:      ttl,
		now:      time.Now,
		sessions: make(map[string]*entry),
	}
}

// Create starts a new session in the UPLOAD state.
func (s *Store) Create() *Machine {
	id := uuid.NewString()
	m := NewMachine(id, s.gen, WithClock(s.now))

	s.mu.Lock()
	s.sessions[id] = &entry{machine: m, lastAccess: s.now()}
	s.mu.Unlock()

	log.Debug().Str("session", id).Msg("Session created")
	return m
}

// Get returns the session with the given ID and marks it as active.
func (s *Store) Get(id string) (*Machine, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	e.lastAccess = s.now()
	return e.machine, nil
}

// Delete removes a session. It reports whether the session existed.
func (s *Store) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		return false
	}
	delete(s.sessions, id)
	return true
}

// Len returns the number of live sessions.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Sweep removes sessions idle for longer than the TTL. Sessions with a
// generation in flight are kept. It returns the number removed.
func (s *Store) Sweep() int {
	cutoff := s.now().Add(-s.ttl)

	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, e := range s.sessions {
		if e.lastAccess.After(cutoff) || e.machine.Snapshot().Busy {
			continue
		}
		delete(s.sessions, id)
		removed++
	}
	if removed > 0 {
		log.Info().Int("removed", removed).Int("remaining", len(s.sessions)).Msg("Expired sessions swept")
	}
	return removed
}

// RunSweeper sweeps every interval until ctx is done.
func (s *Store) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}
