package engine

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/moedor-live/backend/internal/analyzer"
	"github.com/moedor-live/backend/internal/apperr"
	"github.com/moedor-live/backend/internal/messages"
	"github.com/moedor-live/backend/internal/polls"
	"github.com/moedor-live/backend/internal/ratelimit"
	"github.com/moedor-live/backend/internal/realtime"
	"github.com/moedor-live/backend/internal/session"
	"github.com/moedor-live/backend/internal/stunts"
)

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
	defer b.mu.Unlock()
	b.events = append(b.events, published{room, event, payload})
}

func (b *fakeBus) find(event string) (published, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, e := range b.events {
		if e.event == event {
			return e, true
		}
	}
	return published{}, false
}

type fakeStunts struct {
	mu    sync.Mutex
	names []string
	err   error
}

func (f *fakeStunts) Request(_ context.Context, name string) (stunts.Accepted, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return stunts.Accepted{}, f.err
	}
	f.names = append(f.names, name)
	return stunts.Accepted{StuntID: uuid.New(), Remaining: 2}, nil
}

type fakeSessions struct {
	mu       sync.Mutex
	cents    int64
	observed []int
}

func (f *fakeSessions) RecordDonation(_ context.Context, cents int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cents += cents
	return nil
}

func (f *fakeSessions) ObserveViewers(_ context.Context, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.observed = append(f.observed, n)
}

func (f *fakeSessions) Snapshot() (session.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := session.Snapshot{StuntsRemaining: 3}
	s.MoneyRaised = f.cents
	return s, nil
}

type fakeSpeech struct {
	mu   sync.Mutex
	seen []analyzer.Transcript
}

func (f *fakeSpeech) Ingest(_ context.Context, t analyzer.Transcript) (analyzer.Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen = append(f.seen, t)
	return analyzer.Outcome{Skipped: "no_match"}, nil
}

func (f *fakeSpeech) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.seen)
}

type memLedger struct {
	mu       sync.Mutex
	claimed  map[string]bool
	released []string
}

func (l *memLedger) Claim(_ context.Context, p PurchaseApproved) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.claimed[p.PaymentID] {
		return false, nil
	}
	l.claimed[p.PaymentID] = true
	return true, nil
}

func (l *memLedger) Release(_ context.Context, paymentID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.claimed, paymentID)
	l.released = append(l.released, paymentID)
	return nil
}

type fixedAudience int

func (a fixedAudience) Count(string) int { return int(a) }

type routerFixture struct {
	router   *Router
	bus      *fakeBus
	stunts   *fakeStunts
	sessions *fakeSessions
	speech   *fakeSpeech
	ledger   *memLedger
}

func newRouterFixture() routerFixture {
	f := routerFixture{
		bus:      &fakeBus{},
		stunts:   &fakeStunts{},
		sessions: &fakeSessions{},
		speech:   &fakeSpeech{},
		ledger:   &memLedger{claimed: make(map[string]bool)},
	}
	stats := NewStatsPublisher(fixedAudience(7), f.sessions, f.bus)
	f.router = NewRouter(f.stunts, f.sessions, f.ledger, f.speech, f.bus, stats, nil)
	return f
}

func TestRouterEmbarrassingPurchaseQueuesStunt(t *testing.T) {
	f := newRouterFixture()
	err := f.router.handle(context.Background(), PurchaseApproved{
		PaymentID: "p1", BuyerEmail: "ana@example.com", DonationType: "embarrassing", AmountCents: 500,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(f.stunts.names) != 1 || f.stunts.names[0] != "ana" {
		t.Fatalf("stunt names = %v", f.stunts.names)
	}
	if f.sessions.cents != 500 {
		t.Fatalf("money raised = %d, want 500", f.sessions.cents)
	}
	st, ok := f.bus.find(realtime.EventStatsUpdate)
	if !ok || st.room != realtime.RoomLive {
		t.Fatal("missing stats_update")
	}
	sp := st.payload.(map[string]interface{})
	if sp["new_donation"] != true || sp["type"] != DonationEmbarrassing {
		t.Fatalf("stats = %v", sp)
	}
	if _, ok := f.bus.find(realtime.EventDonationApproved); ok {
		t.Fatal("stunt purchases do not fly the donation plane")
	}
}

func TestRouterRedeliveredPaymentHandledOnce(t *testing.T) {
	f := newRouterFixture()
	ctx := context.Background()
	stunt := PurchaseApproved{PaymentID: "p1", BuyerName: "Ana", DonationType: DonationEmbarrassing, AmountCents: 2000}
	gift := PurchaseApproved{PaymentID: "p9", BuyerName: "Bia", DonationType: DonationFree, AmountCents: 300}
	for i := 0; i < 2; i++ {
		if err := f.router.handle(ctx, stunt); err != nil {
			t.Fatal(err)
		}
		if err := f.router.handle(ctx, gift); err != nil {
			t.Fatal(err)
		}
	}
	if len(f.stunts.names) != 1 {
		t.Fatalf("stunt requests = %d, want 1", len(f.stunts.names))
	}
	if f.sessions.cents != 2300 {
		t.Fatalf("money raised = %d, want 2300", f.sessions.cents)
	}
}

func TestRouterStuntLimitIsReported(t *testing.T) {
	f := newRouterFixture()
	f.stunts.err = apperr.ErrLimitReached
	err := f.router.handle(context.Background(), PurchaseApproved{PaymentID: "p2", DonationType: DonationEmbarrassing})
	if !errors.Is(err, apperr.ErrLimitReached) {
		t.Fatalf("err = %v", err)
	}
	if len(f.ledger.released) != 1 || f.ledger.released[0] != "p2" {
		t.Fatalf("released = %v", f.ledger.released)
	}
	if f.sessions.cents != 0 {
		t.Fatal("failed stunt must not count as money raised")
	}
}

func TestRouterFreeDonation(t *testing.T) {
	f := newRouterFixture()
	err := f.router.handle(context.Background(), PurchaseApproved{
		PaymentID: "p3", BuyerName: "Bia", DonationType: "free", AmountCents: 1050,
	})
	if err != nil {
		t.Fatal(err)
	}
	if f.sessions.cents != 1050 {
		t.Fatalf("money raised = %d", f.sessions.cents)
	}
	ev, ok := f.bus.find(realtime.EventDonationApproved)
	if !ok || ev.room != realtime.RoomOverlay {
		t.Fatalf("donation_approved = %+v, %v", ev, ok)
	}
	p := ev.payload.(map[string]interface{})
	if p["amount"] != 10.5 || p["user_name"] != "Bia" {
		t.Fatalf("payload = %v", p)
	}
	st, ok := f.bus.find(realtime.EventStatsUpdate)
	if !ok || st.room != realtime.RoomLive {
		t.Fatal("missing stats_update")
	}
	sp := st.payload.(map[string]interface{})
	if sp["online_users"] != 7 || sp["new_donation"] != true || sp["money_raised"] != 10.5 {
		t.Fatalf("stats = %v", sp)
	}
}

func TestRouterNewBuyer(t *testing.T) {
	f := newRouterFixture()
	if err := f.router.handle(context.Background(), PurchaseApproved{BuyerEmail: " Caio@Example.com "}); err != nil {
		t.Fatal(err)
	}
	ev, ok := f.bus.find(realtime.EventNewBuyer)
	if !ok || ev.room != realtime.RoomOverlay {
		t.Fatal("missing new_buyer on overlay")
	}
	if got := ev.payload.(map[string]interface{})["email"]; got != "caio@example.com" {
		t.Fatalf("email = %v", got)
	}
	if _, ok := f.bus.find(realtime.EventStatsUpdate); !ok {
		t.Fatal("missing stats_update")
	}
}

func TestRouterRunDeliversTranscripts(t *testing.T) {
	f := newRouterFixture()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.router.Run(ctx)
		close(done)
	}()
	for i := 0; i < 3; i++ {
		if err := f.router.Submit(ctx, TranscriptReceived{Transcript: analyzer.Transcript{Text: "oi"}}); err != nil {
			t.Fatal(err)
		}
	}
	deadline := time.Now().Add(2 * time.Second)
	for f.speech.count() < 3 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if got := f.speech.count(); got != 3 {
		t.Fatalf("ingested %d transcripts", got)
	}
	cancel()
	<-done
}

func TestSubmitHonorsContext(t *testing.T) {
	f := newRouterFixture()
	f.router.events = make(chan Event)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := f.router.Submit(ctx, PurchaseCanceled{PaymentID: "x"}); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
}

func TestAudienceChangeObservesLiveRoomOnly(t *testing.T) {
	bus := &fakeBus{}
	sess := &fakeSessions{}
	s := NewStatsPublisher(fixedAudience(0), sess, bus)
	s.AudienceChanged(realtime.RoomOverlay, 1)
	s.AudienceChanged(realtime.RoomLive, 4)
	if len(sess.observed) != 1 || sess.observed[0] != 4 {
		t.Fatalf("observed = %v", sess.observed)
	}
	if len(bus.events) != 1 || bus.events[0].payload.(map[string]interface{})["online_users"] != 4 {
		t.Fatalf("events = %+v", bus.events)
	}
}

type fakeMessages struct {
	submitted []string
	liked     []uuid.UUID
}

func (f *fakeMessages) Validate(pseudonym, body string) error {
	if body == "" || len([]rune(body)) > messages.MaxBodyLen {
		return apperr.Invalid("body", "bad length")
	}
	return nil
}

func (f *fakeMessages) Submit(_ context.Context, userID uuid.UUID, pseudonym, body string) (messages.Message, error) {
	f.submitted = append(f.submitted, pseudonym+":"+body)
	return messages.Message{ID: uuid.New(), UserID: userID, Pseudonym: pseudonym, Body: body}, nil
}

func (f *fakeMessages) ToggleLike(_ context.Context, _, messageID uuid.UUID) (messages.LikeResult, error) {
	f.liked = append(f.liked, messageID)
	return messages.LikeResult{MessageID: messageID, LikesCount: 1, Liked: true, Action: "liked"}, nil
}

type fakeVoter struct{ err error }

func (f fakeVoter) Vote(_ context.Context, pollID, _, _ uuid.UUID) (polls.VoteUpdate, error) {
	return polls.VoteUpdate{PollID: pollID}, f.err
}

func testClient(name string) *realtime.Client {
	return realtime.NewClient(realtime.NewHub(nil, nil), realtime.Identity{UserID: uuid.New(), Name: name}, nil)
}

func TestCommandsSendMessageRateLimited(t *testing.T) {
	msgs := &fakeMessages{}
	h := NewCommands(ratelimit.NewMemory(nil), Limits{MessagesPerMinute: 1, LikesPerMinute: 10}, msgs, fakeVoter{})
	c := testClient("Duda")
	ctx := context.Background()

	if _, err := h.HandleCommand(ctx, c, realtime.CommandSendMessage, json.RawMessage(`{"message":"oi"}`)); err != nil {
		t.Fatal(err)
	}
	if len(msgs.submitted) != 1 || msgs.submitted[0] != "Duda:oi" {
		t.Fatalf("submitted = %v", msgs.submitted)
	}
	_, err := h.HandleCommand(ctx, c, realtime.CommandSendMessage, json.RawMessage(`{"body":"de novo"}`))
	var rl *apperr.RateLimitedError
	if !errors.As(err, &rl) {
		t.Fatalf("second message err = %v", err)
	}
	if len(msgs.submitted) != 1 {
		t.Fatal("rate limited message reached the ranker")
	}
}

func TestCommandsRejectedMessageKeepsQuota(t *testing.T) {
	msgs := &fakeMessages{}
	h := NewCommands(ratelimit.NewMemory(nil), Limits{MessagesPerMinute: 1, LikesPerMinute: 10}, msgs, fakeVoter{})
	c := testClient("Duda")
	ctx := context.Background()

	long, _ := json.Marshal(map[string]string{"body": strings.Repeat("a", messages.MaxBodyLen+1)})
	var ve *apperr.ValidationError
	if _, err := h.HandleCommand(ctx, c, realtime.CommandSendMessage, long); !errors.As(err, &ve) {
		t.Fatalf("long message err = %v", err)
	}
	if _, err := h.HandleCommand(ctx, c, realtime.CommandSendMessage, json.RawMessage(`{"body":"oi"}`)); err != nil {
		t.Fatalf("valid message after rejection: %v", err)
	}
	if len(msgs.submitted) != 1 {
		t.Fatalf("submitted = %v", msgs.submitted)
	}
}

func TestCommandsValidation(t *testing.T) {
	h := NewCommands(ratelimit.NewMemory(nil), Limits{MessagesPerMinute: 1, LikesPerMinute: 10}, &fakeMessages{}, fakeVoter{})
	c := testClient("x")
	ctx := context.Background()
	var ve *apperr.ValidationError

	cases := []struct {
		event string
		data  string
	}{
		{realtime.CommandLikeMessage, `{}`},
		{realtime.CommandVotePoll, `{"poll_id":"` + uuid.NewString() + `"}`},
		{realtime.CommandSendMessage, `not json`},
		{realtime.CommandSendMessage, ``},
		{"dance", `{}`},
	}
	for _, tc := range cases {
		if _, err := h.HandleCommand(ctx, c, tc.event, json.RawMessage(tc.data)); !errors.As(err, &ve) {
			t.Errorf("%s %q: err = %v, want validation error", tc.event, tc.data, err)
		}
	}
}

func TestCommandsVotePassesErrorsThrough(t *testing.T) {
	h := NewCommands(ratelimit.NewMemory(nil), Limits{}, &fakeMessages{}, fakeVoter{err: apperr.ErrAlreadyVoted})
	data := `{"poll_id":"` + uuid.NewString() + `","option_id":"` + uuid.NewString() + `"}`
	_, err := h.HandleCommand(context.Background(), testClient("x"), realtime.CommandVotePoll, json.RawMessage(data))
	if !errors.Is(err, apperr.ErrAlreadyVoted) {
		t.Fatalf("err = %v", err)
	}
}

func TestWebhooks(t *testing.T) {
	gin.SetMode(gin.TestMode)
	f := newRouterFixture()
	h := NewWebhookHandler(f.router, nil)
	r := gin.New()
	r.POST("/webhooks/purchase", h.Purchase)
	r.POST("/webhooks/transcription", h.Transcription)

	post := func(path, body string) int {
		req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w.Code
	}

	if code := post("/webhooks/purchase", `{"status":"approved","amount":5,"donation_type":"free"}`); code != http.StatusAccepted {
		t.Fatalf("approved status = %d", code)
	}
	if code := post("/webhooks/purchase", `{"status":"pending"}`); code != http.StatusOK {
		t.Fatalf("pending status = %d", code)
	}
	if code := post("/webhooks/purchase", `{"amount":5}`); code != http.StatusBadRequest {
		t.Fatalf("missing status = %d", code)
	}
	if code := post("/webhooks/transcription", `{"text":"que polêmica"}`); code != http.StatusAccepted {
		t.Fatalf("transcription status = %d", code)
	}

	first := <-f.router.events
	if p, ok := first.(PurchaseApproved); !ok || p.AmountCents != 500 {
		t.Fatalf("first event = %#v", first)
	}
	second := <-f.router.events
	if tr, ok := second.(TranscriptReceived); !ok || tr.Transcript.Text != "que polêmica" || tr.Transcript.SpokenAt.IsZero() {
		t.Fatalf("second event = %#v", second)
	}
}
