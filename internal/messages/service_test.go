package messages

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/moedor-live/backend/internal/apperr"
	"github.com/moedor-live/backend/internal/realtime"
)

func newTestService() (*Service, *memStore, *fakeBus) {
	store := newMemStore()
	bus := &fakeBus{}
	return NewService(store, bus, nil, nil), store, bus
}

func TestSubmitValidation(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()
	cases := []struct {
		name, pseudonym, body, field string
	}{
		{"empty pseudonym", "  ", "oi", "pseudonym"},
		{"empty body", "ana", "", "body"},
		{"markup only", "ana", "<b></b>", "body"},
		{"long pseudonym", strings.Repeat("a", 51), "oi", "pseudonym"},
		{"long body", "ana", strings.Repeat("é", 251), "body"},
	}
	for _, tc := range cases {
		_, err := svc.Submit(ctx, uuid.New(), tc.pseudonym, tc.body)
		var ve *apperr.ValidationError
		if !errors.As(err, &ve) || ve.Field != tc.field {
			t.Errorf("%s: err = %v, want validation error on %s", tc.name, err, tc.field)
		}
	}
	if _, err := svc.Submit(ctx, uuid.New(), strings.Repeat("a", 50), strings.Repeat("é", 250)); err != nil {
		t.Fatalf("bounds are inclusive: %v", err)
	}
}

func TestSubmitStripsMarkup(t *testing.T) {
	svc, _, bus := newTestService()
	m, err := svc.Submit(context.Background(), uuid.New(), "ana", `<script>x()</script>oi & tchau`)
	if err != nil {
		t.Fatal(err)
	}
	if m.Body != "oi & tchau" {
		t.Fatalf("body = %q", m.Body)
	}
	if bus.count(realtime.RoomLive, realtime.EventNewMessage) != 1 || bus.count(realtime.RoomOverlay, realtime.EventNewMessage) != 1 {
		t.Fatal("new_message should go to live and overlay")
	}
}

func TestSubmitStripsEncodedMarkup(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()
	for _, body := range []string{
		"&lt;script&gt;alert(1)&lt;/script&gt; oi",
		"&amp;lt;img src=x onerror=alert(1)&amp;gt; oi",
	} {
		m, err := svc.Submit(ctx, uuid.New(), "ana", body)
		if err != nil {
			t.Fatalf("%q: %v", body, err)
		}
		if strings.Contains(m.Body, "<script") || strings.Contains(m.Body, "<img") {
			t.Fatalf("%q: markup survived as %q", body, m.Body)
		}
	}

	m, err := svc.Submit(ctx, uuid.New(), "ana", "te amo <3")
	if err != nil {
		t.Fatal(err)
	}
	if m.Body != "te amo <3" {
		t.Fatalf("plain text changed: %q", m.Body)
	}
}

func TestValidateMatchesSubmit(t *testing.T) {
	svc, store, _ := newTestService()
	var ve *apperr.ValidationError
	if err := svc.Validate("ana", strings.Repeat("a", MaxBodyLen+1)); !errors.As(err, &ve) || ve.Field != "body" {
		t.Fatalf("err = %v", err)
	}
	if err := svc.Validate("ana", "oi"); err != nil {
		t.Fatal(err)
	}
	if len(store.msgs) != 0 {
		t.Fatal("Validate must not store anything")
	}
}

func TestRankingByLikesThenAge(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 20, 0, 0, 0, time.UTC)
	tick := 0
	svc.now = func() time.Time { tick++; return base.Add(time.Duration(tick) * time.Second) }

	oi, _ := svc.Submit(ctx, uuid.New(), "a", "oi")
	alo, _ := svc.Submit(ctx, uuid.New(), "b", "alo")

	for i := 0; i < 6; i++ {
		if _, err := svc.ToggleLike(ctx, uuid.New(), oi.ID); err != nil {
			t.Fatal(err)
		}
	}
	for i := 0; i < 2; i++ {
		svc.ToggleLike(ctx, uuid.New(), alo.ID)
	}

	top, ok := svc.PeekTop()
	if !ok || top.ID != oi.ID || top.LikeCount != 6 {
		t.Fatalf("top = %+v", top)
	}
	if err := svc.MarkDisplayed(ctx, oi.ID); err != nil {
		t.Fatal(err)
	}
	top, _ = svc.PeekTop()
	if top.ID != alo.ID || top.LikeCount != 2 {
		t.Fatalf("after display top = %+v", top)
	}
}

func TestTieBrokenByEarliest(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()
	base := time.Now()
	tick := 0
	svc.now = func() time.Time { tick++; return base.Add(time.Duration(tick) * time.Millisecond) }
	first, _ := svc.Submit(ctx, uuid.New(), "a", "um")
	second, _ := svc.Submit(ctx, uuid.New(), "b", "dois")
	svc.ToggleLike(ctx, uuid.New(), second.ID)
	svc.ToggleLike(ctx, uuid.New(), first.ID)

	q := svc.Queue(10)
	if len(q) != 2 || q[0].ID != first.ID || q[1].ID != second.ID {
		t.Fatalf("queue order wrong: %+v", q)
	}
}

func TestToggleParity(t *testing.T) {
	svc, _, bus := newTestService()
	ctx := context.Background()
	m, _ := svc.Submit(ctx, uuid.New(), "a", "oi")
	user := uuid.New()
	var res LikeResult
	for i := 0; i < 5; i++ {
		var err error
		res, err = svc.ToggleLike(ctx, user, m.ID)
		if err != nil {
			t.Fatal(err)
		}
	}
	if !res.Liked || res.LikesCount != 1 || res.Action != "liked" {
		t.Fatalf("after 5 toggles = %+v", res)
	}
	res, _ = svc.ToggleLike(ctx, user, m.ID)
	if res.Liked || res.LikesCount != 0 || res.Action != "unliked" {
		t.Fatalf("after 6 toggles = %+v", res)
	}
	if n := bus.count(realtime.RoomLive, realtime.EventMessageLiked); n != 6 {
		t.Fatalf("message_liked events = %d, want 6", n)
	}
}

func TestConcurrentLikesMatchRows(t *testing.T) {
	svc, store, _ := newTestService()
	store.delay = time.Millisecond
	ctx := context.Background()
	m, _ := svc.Submit(ctx, uuid.New(), "a", "oi")
	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			svc.ToggleLike(ctx, uuid.New(), m.ID)
		}()
	}
	wg.Wait()
	top, _ := svc.PeekTop()
	if top.LikeCount != 40 {
		t.Fatalf("ranked likes = %d, want 40", top.LikeCount)
	}
	if len(store.likes[m.ID]) != 40 {
		t.Fatalf("stored likes = %d", len(store.likes[m.ID]))
	}
}

func TestToggleUnknownMessage(t *testing.T) {
	svc, _, _ := newTestService()
	_, err := svc.ToggleLike(context.Background(), uuid.New(), uuid.New())
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestMarkDisplayedIsOneWay(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()
	m, _ := svc.Submit(ctx, uuid.New(), "a", "oi")
	if err := svc.MarkDisplayed(ctx, m.ID); err != nil {
		t.Fatal(err)
	}
	if err := svc.MarkDisplayed(ctx, m.ID); err != nil {
		t.Fatalf("second mark should be a no-op: %v", err)
	}
	// a like after display must not bring it back into the ranking
	svc.ToggleLike(ctx, uuid.New(), m.ID)
	if _, ok := svc.PeekTop(); ok {
		t.Fatal("displayed message re-entered the ranking")
	}
	if err := svc.MarkDisplayed(ctx, uuid.New()); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestCleanupAndWarm(t *testing.T) {
	svc, store, bus := newTestService()
	ctx := context.Background()
	now := time.Now()
	svc.now = func() time.Time { return now.Add(-8 * 24 * time.Hour) }
	old, _ := svc.Submit(ctx, uuid.New(), "a", "velha")
	liked, _ := svc.Submit(ctx, uuid.New(), "b", "curtida")
	svc.ToggleLike(ctx, uuid.New(), liked.ID)
	svc.now = func() time.Time { return now }
	fresh, _ := svc.Submit(ctx, uuid.New(), "c", "nova")

	n, err := svc.Cleanup(ctx, 7*24*time.Hour)
	if err != nil || n != 1 {
		t.Fatalf("cleanup n=%d err=%v", n, err)
	}
	if n, _ := svc.Cleanup(ctx, 7*24*time.Hour); n != 0 {
		t.Fatal("cleanup should be idempotent")
	}
	for _, m := range svc.Queue(-1) {
		if m.ID == old.ID {
			t.Fatal("stale message still ranked")
		}
	}

	warm := NewService(store, bus, nil, nil)
	if err := warm.Warm(ctx); err != nil {
		t.Fatal(err)
	}
	q := warm.Queue(10)
	if len(q) != 2 || q[0].ID != liked.ID || q[1].ID != fresh.ID {
		t.Fatalf("warm queue = %+v", q)
	}
}
