package polls

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/moedor-live/backend/internal/apperr"
	"github.com/moedor-live/backend/internal/metrics"
	"github.com/moedor-live/backend/internal/realtime"
)

const storeTimeout = 5 * time.Second

// Broadcaster publishes events to a room.
type Broadcaster interface {
	Publish(room, event string, payload interface{})
}

// SessionLookup returns the active session id, if any.
type SessionLookup interface {
	CurrentID() (uuid.UUID, bool)
}

// CreateParams describes a new poll.
type CreateParams struct {
	Prompt     string        `json:"prompt"`
	Options    []string      `json:"options"`
	Duration   time.Duration `json:"-"`
	Origin     Origin        `json:"origin"`
	Context    string        `json:"context,omitempty"`
	SourceText string        `json:"source_text,omitempty"`
}

// VoteUpdate is the poll_vote_update payload.
type VoteUpdate struct {
	PollID     uuid.UUID         `json:"poll_id"`
	OptionID   uuid.UUID         `json:"option_id"`
	Votes      int               `json:"votes"`
	TotalVotes int               `json:"total_votes"`
	Counts     map[uuid.UUID]int `json:"counts"`
}

// ClosedEvent is the poll_closed payload.
type ClosedEvent struct {
	PollID     uuid.UUID `json:"poll_id"`
	Prompt     string    `json:"prompt"`
	Results    []Result  `json:"results"`
	TotalVotes int       `json:"total_votes"`
	Reason     string    `json:"reason"`
}

// livePoll is an open poll owned by the engine. Tallies are only touched
// under mu; closed flips once, whichever of timer or Close gets there first.
type livePoll struct {
	mu     sync.Mutex
	poll   Poll
	voters map[uuid.UUID]struct{}
	closed atomic.Bool
	timer  Timer
}

// Engine owns the open polls.
type Engine struct {
	store     Store
	bus       Broadcaster
	sessions  SessionLookup
	scheduler Scheduler
	now       func() time.Time
	logger    *zap.Logger

	mu    sync.RWMutex
	polls map[uuid.UUID]*livePoll
}

// NewEngine creates a poll engine. sessions may be nil.
func NewEngine(store Store, bus Broadcaster, sessions SessionLookup, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		store:     store,
		bus:       bus,
		sessions:  sessions,
		scheduler: wallClock{},
		now:       time.Now,
		logger:    logger,
		polls:     make(map[uuid.UUID]*livePoll),
	}
}

// WithScheduler replaces the timer source.
func (e *Engine) WithScheduler(s Scheduler) *Engine {
	e.scheduler = s
	return e
}

func validate(p *CreateParams) error {
	p.Prompt = strings.TrimSpace(p.Prompt)
	switch {
	case p.Prompt == "":
		return apperr.Invalid("prompt", "must not be empty")
	case utf8.RuneCountInString(p.Prompt) > MaxPromptLen:
		return apperr.Invalid("prompt", fmt.Sprintf("must be at most %d characters", MaxPromptLen))
	case len(p.Options) < MinOptions || len(p.Options) > MaxOptions:
		return apperr.Invalid("options", fmt.Sprintf("need between %d and %d options", MinOptions, MaxOptions))
	case p.Duration < MinDuration || p.Duration > MaxDuration:
		return apperr.Invalid("duration_minutes", "must be between 1 and 60")
	}
	for i, o := range p.Options {
		o = strings.TrimSpace(o)
		if o == "" || utf8.RuneCountInString(o) > MaxOptionLen {
			return apperr.Invalid("options", fmt.Sprintf("option %d must have 1 to %d characters", i+1, MaxOptionLen))
		}
		p.Options[i] = o
	}
	if p.Origin == "" {
		p.Origin = OriginManual
	}
	return nil
}

// Create opens a poll, arms its expiry and announces it.
func (e *Engine) Create(ctx context.Context, params CreateParams) (Summary, error) {
	params.Options = append([]string(nil), params.Options...)
	if err := validate(&params); err != nil {
		return Summary{}, err
	}
	now := e.now().UTC()
	p := Poll{
		ID:         uuid.New(),
		Prompt:     params.Prompt,
		Origin:     params.Origin,
		Context:    params.Context,
		SourceText: params.SourceText,
		State:      StateOpen,
		OpenedAt:   now,
		ExpiresAt:  now.Add(params.Duration),
	}
	if e.sessions != nil {
		if id, ok := e.sessions.CurrentID(); ok {
			p.SessionID = &id
		}
	}
	for i, text := range params.Options {
		p.Options = append(p.Options, Option{ID: uuid.New(), Position: i, Text: text})
	}
	if err := e.store.Create(ctx, &p); err != nil {
		return Summary{}, fmt.Errorf("create poll: %w", err)
	}
	e.arm(p, params.Duration)

	s := summarize(p, now)
	e.bus.Publish(realtime.RoomLive, realtime.EventNewPoll, s)
	e.bus.Publish(realtime.RoomOverlay, realtime.EventNewPoll, s)
	e.logger.Info("poll opened",
		zap.String("poll_id", p.ID.String()),
		zap.String("origin", string(p.Origin)),
		zap.Duration("duration", params.Duration))
	return s, nil
}

func (e *Engine) arm(p Poll, d time.Duration) {
	lp := &livePoll{poll: p.clone(), voters: make(map[uuid.UUID]struct{})}
	e.mu.Lock()
	e.polls[p.ID] = lp
	e.mu.Unlock()
	metrics.PollsOpen.Inc()
	id := p.ID
	lp.mu.Lock()
	lp.timer = e.scheduler.AfterFunc(d, func() { e.expire(id) })
	lp.mu.Unlock()
}

func (e *Engine) live(id uuid.UUID) *livePoll {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.polls[id]
}

// Vote records userID's choice. Checks run in order: unknown poll, closed
// poll, repeated voter, unknown option.
func (e *Engine) Vote(ctx context.Context, pollID, userID, optionID uuid.UUID) (VoteUpdate, error) {
	lp := e.live(pollID)
	if lp == nil {
		return VoteUpdate{}, e.notLive(ctx, pollID)
	}

	lp.mu.Lock()
	if lp.closed.Load() {
		lp.mu.Unlock()
		metrics.VotesTotal.WithLabelValues("closed").Inc()
		return VoteUpdate{}, apperr.ErrPollClosed
	}
	if _, ok := lp.voters[userID]; ok {
		lp.mu.Unlock()
		metrics.VotesTotal.WithLabelValues("duplicate").Inc()
		return VoteUpdate{}, apperr.ErrAlreadyVoted
	}
	idx := lp.poll.option(optionID)
	if idx < 0 {
		lp.mu.Unlock()
		metrics.VotesTotal.WithLabelValues("invalid").Inc()
		return VoteUpdate{}, apperr.ErrInvalidOption
	}
	if err := e.store.RecordVote(ctx, pollID, userID, optionID); err != nil {
		if errors.Is(err, apperr.ErrAlreadyVoted) {
			lp.voters[userID] = struct{}{}
		}
		lp.mu.Unlock()
		metrics.VotesTotal.WithLabelValues("rejected").Inc()
		return VoteUpdate{}, fmt.Errorf("record vote: %w", err)
	}
	lp.voters[userID] = struct{}{}
	lp.poll.Options[idx].Votes++
	lp.poll.TotalVotes++
	upd := VoteUpdate{
		PollID:     pollID,
		OptionID:   optionID,
		Votes:      lp.poll.Options[idx].Votes,
		TotalVotes: lp.poll.TotalVotes,
		Counts:     make(map[uuid.UUID]int, len(lp.poll.Options)),
	}
	for _, o := range lp.poll.Options {
		upd.Counts[o.ID] = o.Votes
	}
	lp.mu.Unlock()

	metrics.VotesTotal.WithLabelValues("accepted").Inc()
	e.bus.Publish(realtime.RoomLive, realtime.EventPollVoteUpdate, upd)
	e.bus.Publish(realtime.RoomOverlay, realtime.EventPollVoteUpdate, upd)
	return upd, nil
}

// notLive explains why pollID is not among the open polls.
func (e *Engine) notLive(ctx context.Context, pollID uuid.UUID) error {
	p, err := e.store.Get(ctx, pollID)
	if err != nil {
		return err
	}
	if p.State == StateClosed {
		return apperr.ErrPollClosed
	}
	// open in the store but not armed here: another instance owns it
	return apperr.ErrNotFound
}

// Close ends an open poll now.
func (e *Engine) Close(ctx context.Context, pollID uuid.UUID) (Summary, error) {
	lp := e.live(pollID)
	if lp == nil {
		return Summary{}, e.notLive(ctx, pollID)
	}
	s, ok := e.finish(ctx, lp, "closed")
	if !ok {
		return Summary{}, apperr.ErrPollClosed
	}
	return s, nil
}

func (e *Engine) expire(id uuid.UUID) {
	lp := e.live(id)
	if lp == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	e.finish(ctx, lp, "expired")
}

// finish closes lp once. Only the caller that wins the flag broadcasts.
func (e *Engine) finish(ctx context.Context, lp *livePoll, reason string) (Summary, bool) {
	if !lp.closed.CompareAndSwap(false, true) {
		return Summary{}, false
	}
	now := e.now().UTC()

	lp.mu.Lock()
	if lp.timer != nil {
		lp.timer.Stop()
	}
	lp.poll.State = StateClosed
	lp.poll.ClosedAt = &now
	final := lp.poll.clone()
	lp.mu.Unlock()

	e.mu.Lock()
	delete(e.polls, final.ID)
	e.mu.Unlock()
	metrics.PollsOpen.Dec()

	if err := e.store.Close(ctx, final.ID, now); err != nil {
		// the row stays open until Restore closes it on the next start
		e.logger.Error("persist poll close", zap.String("poll_id", final.ID.String()), zap.Error(err))
	}

	s := summarize(final, now)
	ev := ClosedEvent{PollID: final.ID, Prompt: final.Prompt, Results: s.Results, TotalVotes: final.TotalVotes, Reason: reason}
	e.bus.Publish(realtime.RoomLive, realtime.EventPollClosed, ev)
	e.bus.Publish(realtime.RoomOverlay, realtime.EventPollClosed, ev)
	e.logger.Info("poll closed",
		zap.String("poll_id", final.ID.String()),
		zap.String("reason", reason),
		zap.Int("total_votes", final.TotalVotes))
	return s, true
}

// Active returns the open polls, newest first.
func (e *Engine) Active() []Summary {
	e.mu.RLock()
	lps := make([]*livePoll, 0, len(e.polls))
	for _, lp := range e.polls {
		lps = append(lps, lp)
	}
	e.mu.RUnlock()

	now := e.now()
	out := make([]Summary, 0, len(lps))
	for _, lp := range lps {
		lp.mu.Lock()
		p := lp.poll.clone()
		lp.mu.Unlock()
		if p.State == StateOpen {
			out = append(out, summarize(p, now))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Poll.OpenedAt.After(out[j].Poll.OpenedAt) })
	return out
}

// Results returns the running or final tally of a poll.
func (e *Engine) Results(ctx context.Context, pollID uuid.UUID) (Summary, error) {
	if lp := e.live(pollID); lp != nil {
		lp.mu.Lock()
		p := lp.poll.clone()
		lp.mu.Unlock()
		return summarize(p, e.now()), nil
	}
	p, err := e.store.Get(ctx, pollID)
	if err != nil {
		return Summary{}, err
	}
	return summarize(*p, e.now()), nil
}

// History returns recent polls with their results.
func (e *Engine) History(ctx context.Context, limit int) ([]Summary, error) {
	list, err := e.store.ListRecent(ctx, limit)
	if err != nil {
		return nil, err
	}
	now := e.now()
	out := make([]Summary, len(list))
	for i, p := range list {
		out[i] = summarize(p, now)
	}
	return out, nil
}

// Restore re-arms polls left open by a previous run and closes the ones
// that expired while the process was down.
func (e *Engine) Restore(ctx context.Context) error {
	open, err := e.store.ListOpen(ctx)
	if err != nil {
		return fmt.Errorf("list open polls: %w", err)
	}
	now := e.now()
	for _, p := range open {
		remaining := p.ExpiresAt.Sub(now)
		if remaining < 0 {
			remaining = 0
		}
		e.arm(p, remaining)
	}
	if len(open) > 0 {
		e.logger.Info("open polls restored", zap.Int("count", len(open)))
	}
	return nil
}

// Shutdown stops every pending expiry timer. Polls stay open in the store.
func (e *Engine) Shutdown() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, lp := range e.polls {
		lp.mu.Lock()
		if lp.timer != nil {
			lp.timer.Stop()
		}
		lp.mu.Unlock()
	}
}
