// Package session owns the live-session aggregate: the single active show,
// its stunt quota and running totals.
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Record is the persisted form of a session.
type Record struct {
	ID            uuid.UUID  `json:"id"`
	Title         string     `json:"title"`
	StartedAt     time.Time  `json:"started_at"`
	EndedAt       *time.Time `json:"ended_at,omitempty"`
	StuntCount    int        `json:"stunt_count"`
	StuntLimit    int        `json:"stunt_limit"`
	PeakViewers   int        `json:"peak_viewers"`
	TotalMessages int        `json:"total_messages"`
	MoneyRaised   int64      `json:"money_raised"`
}

// Snapshot is a consistent copy of a Live session.
type Snapshot struct {
	Record
	Viewers         int `json:"viewers"`
	StuntsRemaining int `json:"stunts_remaining"`
}

// Live is the in-memory aggregate. All fields change under mu.
type Live struct {
	mu      sync.Mutex
	rec     Record
	viewers int
}

func newLive(rec Record) *Live {
	return &Live{rec: rec}
}

// ID returns the session id.
func (l *Live) ID() uuid.UUID {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rec.ID
}

// Snapshot returns a copy of the current state.
func (l *Live) Snapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.snapshotLocked()
}

func (l *Live) snapshotLocked() Snapshot {
	rec := l.rec
	if l.rec.EndedAt != nil {
		t := *l.rec.EndedAt
		rec.EndedAt = &t
	}
	return Snapshot{Record: rec, Viewers: l.viewers, StuntsRemaining: rec.StuntLimit - rec.StuntCount}
}

// observeViewers records the current audience and reports whether it set a new peak.
func (l *Live) observeViewers(n int) (peak int, raised bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.viewers = n
	if n > l.rec.PeakViewers {
		l.rec.PeakViewers = n
		return n, true
	}
	return l.rec.PeakViewers, false
}
