package dispatch

import (
	"sync"
	"time"
)

// Dedup prevents a settlement event from being dispatched more than once
// within a configurable time-to-live window. It is safe for concurrent use.
type Dedup struct {
	deadlines map[string]time.Time // event ID -> dedup window deadline
	ttl       time.Duration
	mu        sync.Mutex
}

// NewDedup creates a Dedup instance that treats an event ID as a duplicate
// until ttl has elapsed since it was first seen.
func NewDedup(ttl time.Duration) *Dedup {
	return &Dedup{
		deadlines: make(map[string]time.Time),
		ttl:       ttl,
	}
}

// Seen reports whether eventID is still inside its dedup window. A new or
// expired ID is recorded with a fresh deadline and false is returned.
func (d *Dedup) Seen(eventID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	if deadline, ok := d.deadlines[eventID]; ok && now.Before(deadline) {
		return true
	}

	d.deadlines[eventID] = now.Add(d.ttl)
	return false
}

// Sweep drops entries whose window has expired. Call periodically to keep
// the map bounded.
func (d *Dedup) Sweep() {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	for id, deadline := range d.deadlines {
		if !now.Before(deadline) {
			delete(d.deadlines, id)
		}
	}
}

// Len returns the number of tracked event IDs, expired entries included.
func (d *Dedup) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.deadlines)
}
