package session

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestStore(ttl time.Duration) (*Store, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	s := NewStore(&scriptedGenerator{}, ttl)
	s.now = clock.Now
	return s, clock
}

func TestStoreCreateGetDelete(t *testing.T) {
	s, _ := newTestStore(time.Hour)

	m := s.Create()
	id := m.Snapshot().ID
	if _, err := uuid.Parse(id); err != nil {
		t.Errorf("session ID %q is not a UUID: %v", id, err)
	}

	got, err := s.Get(id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != m {
		t.Error("Get returned a different machine")
	}

	if !s.Delete(id) {
		t.Error("Delete should report an existing session")
	}
	if s.Delete(id) {
		t.Error("second Delete should report false")
	}
	if _, err := s.Get(id); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestStoreGetRejectsMalformedID(t *testing.T) {
	s, _ := newTestStore(time.Hour)
	for _, id := range []string{"", "../etc/passwd", "not-a-uuid"} {
		if _, err := s.Get(id); !errors.Is(err, ErrNotFound) {
			t.Errorf("Get(%q): expected ErrNotFound, got %v", id, err)
		}
	}
	if _, err := s.Get(uuid.NewString()); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(unknown): expected ErrNotFound, got %v", err)
	}
}

func TestStoreSweep(t *testing.T) {
	s, clock := newTestStore(time.Hour)

	idle := s.Create().Snapshot().ID
	clock.Advance(30 * time.Minute)
	active := s.Create().Snapshot().ID

	clock.Advance(45 * time.Minute)
	if _, err := s.Get(active); err != nil {
		t.Fatal(err)
	}

	if removed := s.Sweep(); removed != 1 {
		t.Errorf("Sweep() removed %d, want 1", removed)
	}
	if _, err := s.Get(idle); !errors.Is(err, ErrNotFound) {
		t.Errorf("idle session should be expired, got %v", err)
	}
	if _, err := s.Get(active); err != nil {
		t.Errorf("active session should survive: %v", err)
	}
	if s.Len() != 1 {
		t.Errorf("Len() = %d, want 1", s.Len())
	}
}

func TestNewStoreDefaultTTL(t *testing.T) {
	s := NewStore(&scriptedGenerator{}, 0)
	if s.ttl != DefaultTTL {
		t.Errorf("ttl = %s, want %s", s.ttl, DefaultTTL)
	}
}
