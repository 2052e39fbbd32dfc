package messages

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/moedor-live/backend/internal/apperr"
)

type memStore struct {
	mu    sync.Mutex
	msgs  map[uuid.UUID]*Message
	likes map[uuid.UUID]map[uuid.UUID]bool
	delay time.Duration
}

func newMemStore() *memStore {
	return &memStore{msgs: make(map[uuid.UUID]*Message), likes: make(map[uuid.UUID]map[uuid.UUID]bool)}
}

func (s *memStore) Create(_ context.Context, m *Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *m
	s.msgs[m.ID] = &cp
	s.likes[m.ID] = make(map[uuid.UUID]bool)
	return nil
}

func (s *memStore) ToggleLike(_ context.Context, messageID, userID uuid.UUID) (int, bool, error) {
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.msgs[messageID]
	if !ok {
		return 0, false, apperr.ErrNotFound
	}
	set := s.likes[messageID]
	liked := !set[userID]
	if liked {
		set[userID] = true
	} else {
		delete(set, userID)
	}
	m.LikeCount = len(set)
	return m.LikeCount, liked, nil
}

func (s *memStore) MarkDisplayed(_ context.Context, id uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.msgs[id]
	if !ok {
		return apperr.ErrNotFound
	}
	m.Displayed = true
	if m.DisplayedAt == nil {
		m.DisplayedAt = &at
	}
	return nil
}

func (s *memStore) ListPending(_ context.Context, _ int) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Message
	for _, m := range s.msgs {
		if !m.Displayed {
			out = append(out, *m)
		}
	}
	return out, nil
}

func (s *memStore) DeleteStale(_ context.Context, cutoff time.Time) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []uuid.UUID
	for id, m := range s.msgs {
		if m.CreatedAt.Before(cutoff) && m.LikeCount == 0 {
			ids = append(ids, id)
			delete(s.msgs, id)
			delete(s.likes, id)
		}
	}
	return ids, nil
}

func (s *memStore) Stats(context.Context) (Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var st Stats
	for _, m := range s.msgs {
		st.TotalMessages++
		st.TotalLikes += m.LikeCount
		if m.Displayed {
			st.DisplayedMessages++
		} else {
			st.PendingMessages++
		}
	}
	return st, nil
}

type published struct {
	room, event string
	payload     interface{}
}

type fakeBus struct {
	mu     sync.Mutex
	events []published
}

func (b *fakeBus) Publish(room, event string, payload interface{}) {
	b.mu.Lock()
	b.events = append(b.events, published{room, event, payload})
	b.mu.Unlock()
}

func (b *fakeBus) count(room, event string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, e := range b.events {
		if e.room == room && e.event == event {
			n++
		}
	}
	return n
}
