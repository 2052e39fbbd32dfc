package ratelimit

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

type window struct {
	mu    sync.Mutex
	hits  []time.Time // ascending
	stale bool
}

// prune drops hits at or before cutoff.
func (w *window) prune(cutoff time.Time) {
	i := 0
	for i < len(w.hits) && !w.hits[i].After(cutoff) {
		i++
	}
	if i > 0 {
		w.hits = append(w.hits[:0], w.hits[i:]...)
	}
}

// Memory is a single-process sliding-window limiter. Each (user, action)
// pair has its own lock so unrelated users never contend.
type Memory struct {
	mu      sync.Mutex
	windows map[string]*window
	now     func() time.Time
	logger  *zap.Logger
}

// NewMemory creates an in-memory limiter.
func NewMemory(logger *zap.Logger) *Memory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Memory{windows: make(map[string]*window), now: time.Now, logger: logger}
}

// WithClock replaces the time source; used by tests.
func (m *Memory) WithClock(now func() time.Time) *Memory {
	m.now = now
	return m
}

func (m *Memory) get(k string) *window {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.windows[k]
	if !ok {
		w = &window{}
		m.windows[k] = w
	}
	return w
}

func (m *Memory) Check(_ context.Context, userID, action string, limit int) (Decision, error) {
	if limit <= 0 {
		return Decision{Allowed: false, RetryAfter: Window}, nil
	}
	k := key(userID, action)
	for {
		w := m.get(k)
		w.mu.Lock()
		if w.stale {
			// swept between lookup and lock
			w.mu.Unlock()
			continue
		}
		now := m.now()
		w.prune(now.Add(-Window))
		if len(w.hits) >= limit {
			retry := w.hits[0].Add(Window).Sub(now)
			w.mu.Unlock()
			return Decision{Allowed: false, RetryAfter: retry}, nil
		}
		w.hits = append(w.hits, now)
		remaining := limit - len(w.hits)
		w.mu.Unlock()
		return Decision{Allowed: true, Remaining: remaining}, nil
	}
}

// Sweep removes windows with no hits inside the trailing window.
func (m *Memory) Sweep() int {
	cutoff := m.now().Add(-Window)
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for k, w := range m.windows {
		w.mu.Lock()
		w.prune(cutoff)
		if len(w.hits) == 0 {
			w.stale = true
			delete(m.windows, k)
			removed++
		}
		w.mu.Unlock()
	}
	return removed
}

// Run sweeps idle windows every interval until ctx is cancelled.
func (m *Memory) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.Sweep(); n > 0 {
				m.logger.Debug("rate limit windows swept", zap.Int("removed", n))
			}
		}
	}
}
