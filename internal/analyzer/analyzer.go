package analyzer

import (
	"context"
	"math/rand"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/moedor-live/backend/internal/polls"
	"github.com/moedor-live/backend/internal/realtime"
)

const maxSourceText = 500

// PollCreator opens polls.
type PollCreator interface {
	Create(ctx context.Context, params polls.CreateParams) (polls.Summary, error)
}

// Broadcaster publishes events to a room.
type Broadcaster interface {
	Publish(room, event string, payload interface{})
}

// SessionLookup returns the active session id, if any.
type SessionLookup interface {
	CurrentID() (uuid.UUID, bool)
}

// Options tune poll generation.
type Options struct {
	MinScore     float64
	PollDuration time.Duration
	// Cooldown is the minimum gap between two automatic polls.
	Cooldown time.Duration
}

// Generated is the poll_generated payload.
type Generated struct {
	PollID   uuid.UUID `json:"poll_id"`
	Question string    `json:"question"`
	Trigger  string    `json:"trigger"`
	Keyword  string    `json:"keyword"`
	Score    float64   `json:"score"`
}

// Outcome reports what Ingest did with a transcript.
type Outcome struct {
	Record  Record         `json:"transcript"`
	Finding *Finding       `json:"finding,omitempty"`
	Poll    *polls.Summary `json:"poll,omitempty"`
	Skipped string         `json:"skipped,omitempty"`
}

// Analyzer classifies transcripts and opens automatic polls.
type Analyzer struct {
	classifier Classifier
	polls      PollCreator
	store      Store
	bus        Broadcaster
	sessions   SessionLookup
	opts       Options
	logger     *zap.Logger
	now        func() time.Time

	mu       sync.Mutex
	rng      *rand.Rand
	lastPoll time.Time
}

// New creates an analyzer. A nil classifier means KeywordClassifier.
func New(c Classifier, creator PollCreator, store Store, bus Broadcaster, sessions SessionLookup, opts Options, logger *zap.Logger) *Analyzer {
	if c == nil {
		c = KeywordClassifier{}
	}
	if opts.PollDuration == 0 {
		opts.PollDuration = polls.DefaultLength
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Analyzer{
		classifier: c,
		polls:      creator,
		store:      store,
		bus:        bus,
		sessions:   sessions,
		opts:       opts,
		logger:     logger,
		now:        time.Now,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Preview classifies t without side effects.
func (a *Analyzer) Preview(t Transcript) (Finding, bool) {
	return a.classifier.Classify(t)
}

// Ingest stores t and, when it scores high enough and no automatic poll was
// opened within the cooldown, opens a poll about it.
func (a *Analyzer) Ingest(ctx context.Context, t Transcript) (Outcome, error) {
	t.Text = strings.TrimSpace(t.Text)
	if t.SpokenAt.IsZero() {
		t.SpokenAt = a.now().UTC()
	}
	rec := Record{ID: uuid.New(), Text: t.Text, SpokenAt: t.SpokenAt}
	if a.sessions != nil {
		if id, ok := a.sessions.CurrentID(); ok {
			rec.SessionID = &id
		}
	}
	out := Outcome{}

	f, ok := a.classifier.Classify(t)
	if ok {
		rec.Score, rec.Keyword = f.Score, f.Keyword
		out.Finding = &f
	}
	switch {
	case !ok:
		out.Skipped = "no_match"
	case f.Score < a.opts.MinScore:
		out.Skipped = "below_threshold"
	case !a.claimSlot():
		out.Skipped = "cooldown"
	default:
		s, err := a.openPoll(ctx, f)
		if err != nil {
			a.releaseSlot()
			return out, err
		}
		rec.PollID = &s.Poll.ID
		out.Poll = &s
	}

	if err := a.store.Save(ctx, &rec); err != nil {
		a.logger.Warn("save transcript", zap.Error(err))
	}
	out.Record = rec
	a.logger.Info("transcript analyzed",
		zap.Float64("score", rec.Score),
		zap.String("keyword", rec.Keyword),
		zap.String("skipped", out.Skipped))
	return out, nil
}

func (a *Analyzer) openPoll(ctx context.Context, f Finding) (polls.Summary, error) {
	a.mu.Lock()
	question := buildQuestion(f, a.rng)
	a.mu.Unlock()

	source := f.Segment
	if utf8.RuneCountInString(source) > maxSourceText {
		source = string([]rune(source)[:maxSourceText])
	}
	s, err := a.polls.Create(ctx, polls.CreateParams{
		Prompt:     question,
		Options:    buildOptions(f),
		Duration:   a.opts.PollDuration,
		Origin:     polls.OriginAutomatic,
		Context:    f.Context,
		SourceText: source,
	})
	if err != nil {
		return polls.Summary{}, err
	}
	ev := Generated{PollID: s.Poll.ID, Question: question, Trigger: "transcript_analysis", Keyword: f.Keyword, Score: f.Score}
	a.bus.Publish(realtime.RoomLive, realtime.EventPollGenerated, ev)
	a.bus.Publish(realtime.RoomOverlay, realtime.EventPollGenerated, ev)
	return s, nil
}

func (a *Analyzer) claimSlot() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	now := a.now()
	if !a.lastPoll.IsZero() && now.Sub(a.lastPoll) < a.opts.Cooldown {
		return false
	}
	a.lastPoll = now
	return true
}

func (a *Analyzer) releaseSlot() {
	a.mu.Lock()
	a.lastPoll = time.Time{}
	a.mu.Unlock()
}

// Recent returns the latest analyzed transcripts.
func (a *Analyzer) Recent(ctx context.Context, limit int) ([]Record, error) {
	return a.store.Recent(ctx, limit)
}
