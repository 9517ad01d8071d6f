package live

import (
	"time"

	"github.com/google/uuid"
)

// Entry is one per-vehicle latest live arrival record. Entries are owned
// exclusively by the poller and handed out as copies.
type Entry struct {
	VehicleKey  string
	Line        string
	Route       string
	Destination string
	StopCode    string
	Latitude    *float64
	Longitude   *float64
	ObservedAt  time.Time
}

// CycleMeta is the per-cycle bookkeeping, replaced wholesale each cycle.
type CycleMeta struct {
	BatchID        uuid.UUID
	Started        time.Time
	Finished       time.Time
	LinesRequested int
	LinesSucceeded int
	Attempts       int
	Errors         []string
}

// Status is the externally visible poller state, for monitoring to detect
// silent stalls.
type Status struct {
	Enabled   bool
	Running   bool
	Interval  time.Duration
	Staleness time.Duration
	LastCycle *CycleMeta
	LastError string
}

// ring is a count-bounded buffer of recent sightings, oldest evicted first.
type ring struct {
	entries []Entry
	next    int
	size    int
}

func newRing(capacity int) *ring {
	if capacity < 1 {
		capacity = 1
	}
	return &ring{entries: make([]Entry, capacity)}
}

func (r *ring) add(e Entry) {
	r.entries[r.next] = e
	r.next = (r.next + 1) % len(r.entries)
	if r.size < len(r.entries) {
		r.size++
	}
}

// list returns the buffered entries oldest first.
func (r *ring) list() []Entry {
	out := make([]Entry, 0, r.size)
	start := r.next - r.size
	if start < 0 {
		start += len(r.entries)
	}
	for i := 0; i < r.size; i++ {
		out = append(out, r.entries[(start+i)%len(r.entries)])
	}
	return out
}
