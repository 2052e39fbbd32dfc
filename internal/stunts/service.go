package stunts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/moedor-live/backend/internal/apperr"
	"github.com/moedor-live/backend/internal/metrics"
	"github.com/moedor-live/backend/internal/realtime"
	"github.com/moedor-live/backend/internal/session"
	"github.com/moedor-live/backend/pkg/queue"
)

const (
	maxNameLen  = 100
	defaultName = "Anônimo"
)

// Broadcaster publishes events to a room.
type Broadcaster interface {
	Publish(room, event string, payload interface{})
}

// Quota is the session's stunt allowance.
type Quota interface {
	ReserveStunt(ctx context.Context) (remaining int, err error)
	ReleaseStunt(ctx context.Context) error
	CurrentID() (uuid.UUID, bool)
	Snapshot() (session.Snapshot, error)
}

// JobSink accepts speech jobs.
type JobSink interface {
	Enqueue(ctx context.Context, job *queue.Job) error
	Len(ctx context.Context) (int, error)
}

// Service accepts approved stunt purchases and queues their speech jobs.
type Service struct {
	store  Store
	quota  Quota
	jobs   JobSink
	bus    Broadcaster
	logger *zap.Logger
	now    func() time.Time
}

// NewService creates the stunt service.
func NewService(store Store, quota Quota, jobs JobSink, bus Broadcaster, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, quota: quota, jobs: jobs, bus: bus, logger: logger, now: time.Now}
}

// Compose builds the spoken line for a truth.
func Compose(t Truth) string {
	return fmt.Sprintf("Atenção! %s! %s", t.TargetMember, t.Content)
}

// Request takes one unit of the session quota and queues the speech job.
// Once the quota is spent it fails with apperr.ErrLimitReached and queues
// nothing. Any failure after the reservation gives the unit back.
func (s *Service) Request(ctx context.Context, displayName string) (Accepted, error) {
	name := strings.TrimSpace(displayName)
	if name == "" {
		name = defaultName
	}
	if utf8.RuneCountInString(name) > maxNameLen {
		name = string([]rune(name)[:maxNameLen])
	}

	remaining, err := s.quota.ReserveStunt(ctx)
	if err != nil {
		if errors.Is(err, apperr.ErrLimitReached) {
			metrics.StuntJobs.WithLabelValues("limit_reached").Inc()
		}
		return Accepted{}, err
	}

	req, err := s.queue(ctx, name)
	if err != nil {
		if relErr := s.quota.ReleaseStunt(ctx); relErr != nil {
			s.logger.Error("release stunt reservation", zap.Error(relErr))
		}
		return Accepted{}, err
	}

	metrics.StuntJobs.WithLabelValues("queued").Inc()
	s.bus.Publish(realtime.RoomLive, realtime.EventEmbarrassingQueued, Queued{StuntID: req.ID, UserName: name, Remaining: remaining})
	s.logger.Info("stunt queued",
		zap.String("stunt_id", req.ID.String()),
		zap.String("user_name", name),
		zap.String("target", req.TargetMember),
		zap.Int("remaining", remaining))
	return Accepted{StuntID: req.ID, Remaining: remaining}, nil
}

func (s *Service) queue(ctx context.Context, name string) (*Request, error) {
	truth, err := s.store.PickTruth(ctx)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, apperr.Unavailable("truths", errors.New("no active truth"))
		}
		return nil, fmt.Errorf("pick truth: %w", err)
	}
	req := &Request{
		ID:           uuid.New(),
		Requester:    name,
		TruthID:      truth.ID,
		TargetMember: truth.TargetMember,
		Text:         Compose(*truth),
		Status:       StatusQueued,
		CreatedAt:    s.now().UTC(),
	}
	if id, ok := s.quota.CurrentID(); ok {
		req.SessionID = &id
	}
	if err := s.store.CreateRequest(ctx, req); err != nil {
		return nil, fmt.Errorf("create stunt request: %w", err)
	}

	job, err := queue.NewJob(queue.JobTypeSpeech, SpeechPayload{
		StuntID:      req.ID,
		Requester:    req.Requester,
		TruthID:      req.TruthID,
		TargetMember: req.TargetMember,
		Text:         req.Text,
	})
	if err == nil {
		err = s.jobs.Enqueue(ctx, job)
	}
	if err != nil {
		if ferr := s.store.FailRequest(ctx, req.ID, "enqueue: "+err.Error()); ferr != nil {
			s.logger.Warn("mark stunt failed", zap.Error(ferr))
		}
		return nil, apperr.Unavailable("speech_queue", err)
	}
	return req, nil
}

// AddTruth stores a new truth.
func (s *Service) AddTruth(ctx context.Context, target, content string) (Truth, error) {
	target, content = strings.TrimSpace(target), strings.TrimSpace(content)
	if target == "" || utf8.RuneCountInString(target) > maxNameLen {
		return Truth{}, apperr.Invalid("target_member", "must have 1 to 100 characters")
	}
	if content == "" {
		return Truth{}, apperr.Invalid("content", "must not be empty")
	}
	t := Truth{TargetMember: target, Content: content, IsActive: true}
	if err := s.store.AddTruth(ctx, &t); err != nil {
		return Truth{}, fmt.Errorf("add truth: %w", err)
	}
	return t, nil
}

// Truths lists all truths.
func (s *Service) Truths(ctx context.Context) ([]Truth, error) {
	return s.store.ListTruths(ctx)
}

// Recent lists the newest stunt requests.
func (s *Service) Recent(ctx context.Context, limit int) ([]Request, error) {
	return s.store.RecentRequests(ctx, limit)
}

// Stats reports truth usage, session quota and queue depth.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	total, used, err := s.store.TruthCounts(ctx)
	if err != nil {
		return Stats{}, err
	}
	st.TotalTruths, st.UsedTruths = total, used
	if snap, err := s.quota.Snapshot(); err == nil {
		st.CurrentCount = snap.StuntCount
		st.MaxPerLive = snap.StuntLimit
		st.Remaining = snap.StuntsRemaining
	}
	if n, err := s.jobs.Len(ctx); err == nil {
		st.QueueSize = n
	} else {
		s.logger.Warn("queue length", zap.Error(err))
	}
	return st, nil
}
