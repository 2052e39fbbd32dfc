package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is a Store kept in process memory. Tests of the services that
// depend on the session use it in place of PostgreSQL.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[uuid.UUID]*Record)}
}

func (s *MemoryStore) Create(_ context.Context, title string, stuntLimit int) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for _, r := range s.sessions {
		if r.EndedAt == nil {
			r.EndedAt = &now
		}
	}
	rec := &Record{ID: uuid.New(), Title: title, StartedAt: now, StuntLimit: stuntLimit}
	s.sessions[rec.ID] = rec
	cp := *rec
	return &cp, nil
}

func (s *MemoryStore) Active(context.Context) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.sessions {
		if r.EndedAt == nil {
			cp := *r
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) End(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.sessions[id]; ok && r.EndedAt == nil {
		now := time.Now()
		r.EndedAt = &now
	}
	return nil
}

func (s *MemoryStore) ReserveStunt(_ context.Context, id uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.sessions[id]
	if !ok || r.EndedAt != nil || r.StuntCount >= r.StuntLimit {
		return false, nil
	}
	r.StuntCount++
	return true, nil
}

func (s *MemoryStore) ReleaseStunt(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.sessions[id]; ok && r.StuntCount > 0 {
		r.StuntCount--
	}
	return nil
}

func (s *MemoryStore) IncrementMessages(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.sessions[id]; ok {
		r.TotalMessages++
	}
	return nil
}

func (s *MemoryStore) AddMoney(_ context.Context, id uuid.UUID, cents int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.sessions[id]; ok {
		r.MoneyRaised += cents
	}
	return nil
}

func (s *MemoryStore) UpdatePeakViewers(_ context.Context, id uuid.UUID, peak int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.sessions[id]; ok && peak > r.PeakViewers {
		r.PeakViewers = peak
	}
	return nil
}
