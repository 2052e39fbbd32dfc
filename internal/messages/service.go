package messages

import (
	"context"
	"fmt"
	"html"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/zap"

	"github.com/moedor-live/backend/internal/apperr"
	"github.com/moedor-live/backend/internal/metrics"
	"github.com/moedor-live/backend/internal/realtime"
)

// Broadcaster publishes events to a room.
type Broadcaster interface {
	Publish(room, event string, payload interface{})
}

// SessionTracker is the slice of the live session the chat needs.
type SessionTracker interface {
	CurrentID() (uuid.UUID, bool)
	RecordMessage(ctx context.Context) error
}

// Service accepts chat messages, toggles likes and ranks pending messages.
type Service struct {
	store    Store
	ranker   *Ranker
	locks    *keyedMutex
	bus      Broadcaster
	sessions SessionTracker
	policy   *bluemonday.Policy
	now      func() time.Time
	logger   *zap.Logger
}

// NewService creates the chat service. sessions may be nil.
func NewService(store Store, bus Broadcaster, sessions SessionTracker, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:    store,
		ranker:   NewRanker(),
		locks:    newKeyedMutex(),
		bus:      bus,
		sessions: sessions,
		policy:   bluemonday.StrictPolicy(),
		now:      time.Now,
		logger:   logger,
	}
}

const maxCleanPasses = 8

// clean strips markup and returns plain text. Entity-encoded markup survives
// one sanitize pass, so sanitizing repeats until the text is stable.
func (s *Service) clean(v string) string {
	v = strings.TrimSpace(v)
	for i := 0; i < maxCleanPasses; i++ {
		next := strings.TrimSpace(html.UnescapeString(s.policy.Sanitize(v)))
		if next == v {
			return v
		}
		v = next
	}
	// still changing: keep only what the policy emits, escaped
	return s.policy.Sanitize(v)
}

// Validate reports whether pseudonym and body would be accepted by Submit.
func (s *Service) Validate(pseudonym, body string) error {
	_, _, err := s.validate(pseudonym, body)
	return err
}

func (s *Service) validate(pseudonym, body string) (string, string, error) {
	pseudonym = s.clean(pseudonym)
	body = s.clean(body)
	switch {
	case pseudonym == "":
		return "", "", apperr.Invalid("pseudonym", "must not be empty")
	case utf8.RuneCountInString(pseudonym) > MaxPseudonymLen:
		return "", "", apperr.Invalid("pseudonym", fmt.Sprintf("must be at most %d characters", MaxPseudonymLen))
	case body == "":
		return "", "", apperr.Invalid("body", "must not be empty")
	case utf8.RuneCountInString(body) > MaxBodyLen:
		return "", "", apperr.Invalid("body", fmt.Sprintf("must be at most %d characters", MaxBodyLen))
	}
	return pseudonym, body, nil
}

// Submit validates, stores and ranks a new message, then announces it on
// the live and overlay rooms. Rate limiting is the caller's concern.
func (s *Service) Submit(ctx context.Context, userID uuid.UUID, pseudonym, body string) (Message, error) {
	pseudonym, body, err := s.validate(pseudonym, body)
	if err != nil {
		return Message{}, err
	}
	m := Message{
		ID:        uuid.New(),
		UserID:    userID,
		Pseudonym: pseudonym,
		Body:      body,
		CreatedAt: s.now().UTC(),
	}
	if s.sessions != nil {
		if id, ok := s.sessions.CurrentID(); ok {
			m.SessionID = &id
		}
	}
	if err := s.store.Create(ctx, &m); err != nil {
		return Message{}, fmt.Errorf("create message: %w", err)
	}
	s.ranker.Add(m)
	metrics.MessagesSubmitted.Inc()
	metrics.PendingMessages.Set(float64(s.ranker.Len()))

	if s.sessions != nil {
		if err := s.sessions.RecordMessage(ctx); err != nil {
			s.logger.Warn("record message on session", zap.Error(err))
		}
	}
	s.bus.Publish(realtime.RoomLive, realtime.EventNewMessage, m)
	s.bus.Publish(realtime.RoomOverlay, realtime.EventNewMessage, m)
	return m, nil
}

// ToggleLike flips userID's like on messageID. Toggles on the same message
// are serialized; different messages proceed in parallel.
func (s *Service) ToggleLike(ctx context.Context, userID, messageID uuid.UUID) (LikeResult, error) {
	unlock := s.locks.Lock(messageID)
	defer unlock()

	likes, liked, err := s.store.ToggleLike(ctx, messageID, userID)
	if err != nil {
		return LikeResult{}, fmt.Errorf("toggle like: %w", err)
	}
	s.ranker.SetLikes(messageID, likes)

	res := LikeResult{MessageID: messageID, LikesCount: likes, Liked: liked, Action: "unliked"}
	if liked {
		res.Action = "liked"
	}
	s.bus.Publish(realtime.RoomLive, realtime.EventMessageLiked, res)
	s.bus.Publish(realtime.RoomOverlay, realtime.EventMessageLiked, res)
	return res, nil
}

// PeekTop returns the highest-ranked message not yet displayed.
func (s *Service) PeekTop() (Message, bool) {
	return s.ranker.Peek()
}

// Queue returns up to n pending messages in rank order.
func (s *Service) Queue(n int) []Message {
	return s.ranker.Top(n)
}

// MarkDisplayed flags id as shown on air and drops it from the ranking.
func (s *Service) MarkDisplayed(ctx context.Context, id uuid.UUID) error {
	unlock := s.locks.Lock(id)
	defer unlock()

	if err := s.store.MarkDisplayed(ctx, id, s.now().UTC()); err != nil {
		return fmt.Errorf("mark displayed: %w", err)
	}
	if s.ranker.Remove(id) {
		metrics.PendingMessages.Set(float64(s.ranker.Len()))
		s.bus.Publish(realtime.RoomOverlay, realtime.EventMessageDisplayed, map[string]uuid.UUID{"message_id": id})
	}
	return nil
}

// Warm rebuilds the ranking from the store.
func (s *Service) Warm(ctx context.Context) error {
	pending, err := s.store.ListPending(ctx, 0)
	if err != nil {
		return fmt.Errorf("list pending: %w", err)
	}
	for _, m := range pending {
		s.ranker.Add(m)
	}
	metrics.PendingMessages.Set(float64(s.ranker.Len()))
	s.logger.Info("message ranking warmed", zap.Int("pending", len(pending)))
	return nil
}

// Cleanup deletes messages older than maxAge that never got a like.
func (s *Service) Cleanup(ctx context.Context, maxAge time.Duration) (int, error) {
	ids, err := s.store.DeleteStale(ctx, s.now().Add(-maxAge))
	if err != nil {
		return 0, err
	}
	for _, id := range ids {
		s.ranker.Remove(id)
	}
	metrics.PendingMessages.Set(float64(s.ranker.Len()))
	return len(ids), nil
}

// RunCleanup calls Cleanup every interval until ctx is done.
func (s *Service) RunCleanup(ctx context.Context, interval, maxAge time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.Cleanup(ctx, maxAge)
			if err != nil {
				s.logger.Warn("message cleanup failed", zap.Error(err))
				continue
			}
			if n > 0 {
				s.logger.Info("stale messages removed", zap.Int("count", n))
			}
		}
	}
}

// Stats returns chat totals.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	return s.store.Stats(ctx)
}
