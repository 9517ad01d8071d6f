package diversions

import (
	"context"
	"sync"
	"time"
)

// Lookup answers whether a route is under a planned diversion at an instant.
// The schedule itself lives in an external system; callers treat this as an
// opaque predicate.
type Lookup interface {
	Diverted(ctx context.Context, route string, at time.Time) (bool, error)
}

// None is a Lookup that never reports a diversion.
type None struct{}

func (None) Diverted(context.Context, string, time.Time) (bool, error) {
	return false, nil
}

type window struct {
	from time.Time
	to   time.Time
}

// Static is an in-memory diversion schedule, used where the external feed is
// unavailable and in tests.
type Static struct {
	mu      sync.RWMutex
	entries map[string][]window
}

func NewStatic() *Static {
	return &Static{entries: make(map[string][]window)}
}

// Add records a planned diversion for a route between from and to.
func (s *Static) Add(route string, from, to time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[route] = append(s.entries[route], window{from: from, to: to})
}

func (s *Static) Diverted(_ context.Context, route string, at time.Time) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, w := range s.entries[route] {
		if !at.Before(w.from) && !at.After(w.to) {
			return true, nil
		}
	}
	return false, nil
}
