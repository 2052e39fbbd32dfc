package polls

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/moedor-live/backend/internal/apperr"
	"github.com/moedor-live/backend/internal/realtime"
)

type memStore struct {
	mu    sync.Mutex
	polls map[uuid.UUID]*Poll
	votes map[[2]uuid.UUID]uuid.UUID
}

func newMemStore() *memStore {
	return &memStore{polls: make(map[uuid.UUID]*Poll), votes: make(map[[2]uuid.UUID]uuid.UUID)}
}

func (s *memStore) Create(_ context.Context, p *Poll) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := p.clone()
	s.polls[p.ID] = &cp
	return nil
}

func (s *memStore) RecordVote(_ context.Context, pollID, userID, optionID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := [2]uuid.UUID{pollID, userID}
	if _, ok := s.votes[key]; ok {
		return apperr.ErrAlreadyVoted
	}
	p := s.polls[pollID]
	idx := p.option(optionID)
	if idx < 0 {
		return apperr.ErrInvalidOption
	}
	s.votes[key] = optionID
	p.Options[idx].Votes++
	p.TotalVotes++
	return nil
}

func (s *memStore) Close(_ context.Context, id uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p := s.polls[id]; p != nil && p.State == StateOpen {
		p.State = StateClosed
		p.ClosedAt = &at
	}
	return nil
}

func (s *memStore) Get(_ context.Context, id uuid.UUID) (*Poll, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.polls[id]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	cp := p.clone()
	return &cp, nil
}

func (s *memStore) ListOpen(context.Context) ([]Poll, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Poll
	for _, p := range s.polls {
		if p.State == StateOpen {
			out = append(out, p.clone())
		}
	}
	return out, nil
}

func (s *memStore) ListRecent(_ context.Context, limit int) ([]Poll, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Poll
	for _, p := range s.polls {
		out = append(out, p.clone())
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type fakeTimer struct {
	mu      sync.Mutex
	d       time.Duration
	f       func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	was := !t.stopped
	t.stopped = true
	return was
}

// fire runs the callback regardless of Stop, like a timer that already
// started running when Stop was called.
func (t *fakeTimer) fire() { t.f() }

type fakeScheduler struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (s *fakeScheduler) AfterFunc(d time.Duration, f func()) Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &fakeTimer{d: d, f: f}
	s.timers = append(s.timers, t)
	return t
}

func (s *fakeScheduler) last() *fakeTimer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timers[len(s.timers)-1]
}

type fakeBus struct {
	mu     sync.Mutex
	events []string
	last   map[string]interface{}
}

func (b *fakeBus) Publish(room, event string, payload interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, room+"/"+event)
	if b.last == nil {
		b.last = make(map[string]interface{})
	}
	b.last[room+"/"+event] = payload
}

func (b *fakeBus) count(room, event string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, e := range b.events {
		if e == room+"/"+event {
			n++
		}
	}
	return n
}

func newTestEngine() (*Engine, *memStore, *fakeScheduler, *fakeBus) {
	store := newMemStore()
	sched := &fakeScheduler{}
	bus := &fakeBus{}
	return NewEngine(store, bus, nil, nil).WithScheduler(sched), store, sched, bus
}

func mustCreate(t *testing.T, e *Engine, opts ...string) Summary {
	t.Helper()
	s, err := e.Create(context.Background(), CreateParams{Prompt: "Quem ganha?", Options: opts, Duration: time.Minute})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return s
}

func TestTwoVotersSplitEvenly(t *testing.T) {
	e, _, sched, bus := newTestEngine()
	ctx := context.Background()
	s := mustCreate(t, e, "A", "B")
	if sched.last().d != time.Minute {
		t.Fatalf("timer armed for %v", sched.last().d)
	}
	a, b := s.Poll.Options[0].ID, s.Poll.Options[1].ID
	if _, err := e.Vote(ctx, s.Poll.ID, uuid.New(), a); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Vote(ctx, s.Poll.ID, uuid.New(), b); err != nil {
		t.Fatal(err)
	}
	sched.last().fire()

	if n := bus.count(realtime.RoomLive, realtime.EventPollClosed); n != 1 {
		t.Fatalf("poll_closed broadcasts = %d", n)
	}
	ev := bus.last[realtime.RoomLive+"/"+realtime.EventPollClosed].(ClosedEvent)
	want := []Result{{a, "A", 1, 50.0}, {b, "B", 1, 50.0}}
	if len(ev.Results) != 2 || ev.Results[0] != want[0] || ev.Results[1] != want[1] {
		t.Fatalf("results = %+v", ev.Results)
	}
	if ev.Reason != "expired" {
		t.Fatalf("reason = %q", ev.Reason)
	}
}

func TestCreateValidation(t *testing.T) {
	e, _, _, _ := newTestEngine()
	ctx := context.Background()
	cases := []CreateParams{
		{Prompt: "", Options: []string{"a", "b"}, Duration: time.Minute},
		{Prompt: "p", Options: []string{"a"}, Duration: time.Minute},
		{Prompt: "p", Options: []string{"1", "2", "3", "4", "5", "6", "7"}, Duration: time.Minute},
		{Prompt: "p", Options: []string{"a", " "}, Duration: time.Minute},
		{Prompt: "p", Options: []string{"a", "b"}, Duration: 30 * time.Second},
		{Prompt: "p", Options: []string{"a", "b"}, Duration: 61 * time.Minute},
	}
	for i, p := range cases {
		_, err := e.Create(ctx, p)
		var ve *apperr.ValidationError
		if !errors.As(err, &ve) {
			t.Errorf("case %d: err = %v, want validation error", i, err)
		}
	}
	if _, err := e.Create(ctx, CreateParams{Prompt: "p", Options: []string{"1", "2", "3", "4", "5", "6"}, Duration: 60 * time.Minute}); err != nil {
		t.Fatalf("upper bounds are inclusive: %v", err)
	}
}

func TestVoteErrors(t *testing.T) {
	e, _, _, _ := newTestEngine()
	ctx := context.Background()
	s := mustCreate(t, e, "A", "B")
	user := uuid.New()
	opt := s.Poll.Options[0].ID

	if _, err := e.Vote(ctx, uuid.New(), user, opt); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("unknown poll: %v", err)
	}
	if _, err := e.Vote(ctx, s.Poll.ID, user, uuid.New()); !errors.Is(err, apperr.ErrInvalidOption) {
		t.Fatalf("unknown option: %v", err)
	}
	if _, err := e.Vote(ctx, s.Poll.ID, user, opt); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Vote(ctx, s.Poll.ID, user, s.Poll.Options[1].ID); !errors.Is(err, apperr.ErrAlreadyVoted) {
		t.Fatalf("second vote: %v", err)
	}
	if _, err := e.Close(ctx, s.Poll.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Vote(ctx, s.Poll.ID, uuid.New(), opt); !errors.Is(err, apperr.ErrPollClosed) {
		t.Fatalf("vote after close: %v", err)
	}
	if _, err := e.Close(ctx, s.Poll.ID); !errors.Is(err, apperr.ErrPollClosed) {
		t.Fatalf("second close: %v", err)
	}
}

func TestConcurrentVotesMatchVoters(t *testing.T) {
	e, store, _, _ := newTestEngine()
	ctx := context.Background()
	s := mustCreate(t, e, "A", "B", "C")
	users := make([]uuid.UUID, 60)
	for i := range users {
		users[i] = uuid.New()
	}
	var wg sync.WaitGroup
	for i := 0; i < 120; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			e.Vote(ctx, s.Poll.ID, users[i%len(users)], s.Poll.Options[i%3].ID)
		}(i)
	}
	wg.Wait()

	r, err := e.Results(ctx, s.Poll.ID)
	if err != nil {
		t.Fatal(err)
	}
	sum := 0
	for _, res := range r.Results {
		sum += res.Votes
	}
	if sum != len(users) || r.Poll.TotalVotes != len(users) {
		t.Fatalf("tally sum = %d total = %d, want %d", sum, r.Poll.TotalVotes, len(users))
	}
	if len(store.votes) != len(users) {
		t.Fatalf("stored votes = %d", len(store.votes))
	}
}

func TestCloseRacesTimer(t *testing.T) {
	for i := 0; i < 20; i++ {
		e, store, sched, bus := newTestEngine()
		ctx := context.Background()
		s := mustCreate(t, e, "A", "B")
		timer := sched.last()

		var wg sync.WaitGroup
		wg.Add(3)
		go func() { defer wg.Done(); timer.fire() }()
		go func() { defer wg.Done(); e.Close(ctx, s.Poll.ID) }()
		go func() { defer wg.Done(); e.Close(ctx, s.Poll.ID) }()
		wg.Wait()

		if n := bus.count(realtime.RoomOverlay, realtime.EventPollClosed); n != 1 {
			t.Fatalf("run %d: poll_closed broadcasts = %d", i, n)
		}
		if p, _ := store.Get(ctx, s.Poll.ID); p.State != StateClosed {
			t.Fatalf("run %d: stored state = %s", i, p.State)
		}
		if len(e.Active()) != 0 {
			t.Fatalf("run %d: poll still active", i)
		}
	}
}

func TestResultsForArchivedPoll(t *testing.T) {
	e, _, _, _ := newTestEngine()
	ctx := context.Background()
	s := mustCreate(t, e, "A", "B", "C")
	for i := 0; i < 3; i++ {
		e.Vote(ctx, s.Poll.ID, uuid.New(), s.Poll.Options[2].ID)
	}
	e.Vote(ctx, s.Poll.ID, uuid.New(), s.Poll.Options[0].ID)
	e.Close(ctx, s.Poll.ID)

	r, err := e.Results(ctx, s.Poll.ID)
	if err != nil {
		t.Fatal(err)
	}
	if r.Poll.State != StateClosed || r.Results[0].Text != "C" || r.Results[0].Percentage != 75 {
		t.Fatalf("results = %+v", r)
	}
	if r.Results[1].Text != "A" || r.Results[2].Text != "B" || r.Results[2].Percentage != 0 {
		t.Fatalf("order = %+v", r.Results)
	}
}

func TestTallyRounding(t *testing.T) {
	opts := []Option{{Position: 0, Text: "a", Votes: 1}, {Position: 1, Text: "b", Votes: 1}, {Position: 2, Text: "c", Votes: 1}}
	for _, r := range Tally(opts) {
		if r.Percentage != 33.3 {
			t.Fatalf("percentage = %v", r.Percentage)
		}
	}
	for _, r := range Tally([]Option{{Text: "x"}, {Text: "y", Position: 1}}) {
		if r.Percentage != 0 {
			t.Fatal("empty poll should report 0%")
		}
	}
}

func TestRestoreClosesExpiredAndRearmsRest(t *testing.T) {
	store := newMemStore()
	now := time.Now()
	expired := Poll{ID: uuid.New(), Prompt: "old", State: StateOpen, OpenedAt: now.Add(-20 * time.Minute), ExpiresAt: now.Add(-10 * time.Minute),
		Options: []Option{{ID: uuid.New(), Text: "a"}, {ID: uuid.New(), Position: 1, Text: "b"}}}
	running := Poll{ID: uuid.New(), Prompt: "new", State: StateOpen, OpenedAt: now, ExpiresAt: now.Add(5 * time.Minute),
		Options: []Option{{ID: uuid.New(), Text: "a"}, {ID: uuid.New(), Position: 1, Text: "b"}}}
	store.Create(context.Background(), &expired)
	store.Create(context.Background(), &running)

	sched := &fakeScheduler{}
	e := NewEngine(store, &fakeBus{}, nil, nil).WithScheduler(sched)
	e.now = func() time.Time { return now }
	if err := e.Restore(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(sched.timers) != 2 {
		t.Fatalf("timers = %d", len(sched.timers))
	}
	for _, tm := range sched.timers {
		if tm.d == 0 {
			tm.fire()
		} else if tm.d != 5*time.Minute {
			t.Fatalf("rearmed for %v", tm.d)
		}
	}
	active := e.Active()
	if len(active) != 1 || active[0].Poll.ID != running.ID {
		t.Fatalf("active = %+v", active)
	}
}
