package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/moedor-live/backend/internal/apperr"
)

func newTestClient(h *Hub) *Client {
	return NewClient(h, Identity{UserID: uuid.New(), Name: "viewer"}, nil)
}

func drain(c *Client) []WSMessage {
	var out []WSMessage
	for {
		select {
		case m := <-c.send:
			out = append(out, m)
		default:
			return out
		}
	}
}

func TestPublishReachesOnlyRoomMembers(t *testing.T) {
	h := NewHub(nil, nil)
	viewer := newTestClient(h)
	overlay := newTestClient(h)
	h.Subscribe(viewer, RoomLive)
	h.Subscribe(overlay, RoomOverlay)

	h.Publish(RoomOverlay, EventDonationApproved, map[string]int{"amount": 10})

	if got := drain(viewer); len(got) != 0 {
		t.Fatalf("live viewer received %d overlay events", len(got))
	}
	got := drain(overlay)
	if len(got) != 1 || got[0].Event != EventDonationApproved {
		t.Fatalf("overlay got %+v", got)
	}
}

func TestPublishDoesNotBlockOnSlowSubscriber(t *testing.T) {
	h := NewHub(nil, nil)
	slow := newTestClient(h)
	fast := newTestClient(h)
	h.Subscribe(slow, RoomLive)
	h.Subscribe(fast, RoomLive)

	done := make(chan struct{})
	go func() {
		for i := 0; i < sendBuffer+50; i++ {
			h.Publish(RoomLive, EventNewMessage, map[string]int{"i": i})
			// keep the fast client drained
			drain(fast)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a full subscriber")
	}
	if n := len(drain(slow)); n != sendBuffer {
		t.Fatalf("slow client buffered %d, want %d", n, sendBuffer)
	}
}

func TestAudienceCallback(t *testing.T) {
	h := NewHub(nil, nil)
	var mu sync.Mutex
	var counts []int
	h.SetAudienceChangeHandler(func(room string, n int) {
		if room != RoomLive {
			return
		}
		mu.Lock()
		counts = append(counts, n)
		mu.Unlock()
	})
	a, b := newTestClient(h), newTestClient(h)
	h.Subscribe(a, RoomLive)
	h.Subscribe(b, RoomLive)
	h.Subscribe(b, RoomLive) // duplicate
	h.Remove(a)

	mu.Lock()
	defer mu.Unlock()
	want := []int{1, 2, 1}
	if len(counts) != len(want) {
		t.Fatalf("counts = %v, want %v", counts, want)
	}
	for i := range want {
		if counts[i] != want[i] {
			t.Fatalf("counts = %v, want %v", counts, want)
		}
	}
	if h.Count(RoomLive) != 1 {
		t.Fatalf("Count = %d", h.Count(RoomLive))
	}
}

type recordingBridge struct {
	mu     sync.Mutex
	events []string
}

func (b *recordingBridge) Publish(_ context.Context, room, event string, _ []byte) error {
	b.mu.Lock()
	b.events = append(b.events, room+"/"+event)
	b.mu.Unlock()
	return nil
}

func TestPublishForwardsToBridge(t *testing.T) {
	bridge := &recordingBridge{}
	h := NewHub(nil, bridge)
	h.Publish(RoomLive, EventNewPoll, nil)
	if len(bridge.events) != 1 || bridge.events[0] != "live/new_poll" {
		t.Fatalf("bridge events = %v", bridge.events)
	}
	// Deliver is local only
	h.Deliver(RoomLive, EventNewPoll, nil)
	if len(bridge.events) != 1 {
		t.Fatal("Deliver must not re-publish to the bridge")
	}
}

func TestRedisDecodeSkipsOwnOrigin(t *testing.T) {
	r := NewRedisPubSub(nil, nil)
	own, _ := json.Marshal(redisPayload{Origin: r.origin, Event: "x"})
	if _, _, _, ok := r.decode("show:live", string(own)); ok {
		t.Fatal("own echo should be skipped")
	}
	foreign, _ := json.Marshal(redisPayload{Origin: "other", Event: EventNewMessage, Data: json.RawMessage(`{"a":1}`)})
	room, event, data, ok := r.decode("show:overlay", string(foreign))
	if !ok || room != RoomOverlay || event != EventNewMessage || string(data) != `{"a":1}` {
		t.Fatalf("decode = %q %q %s %v", room, event, data, ok)
	}
}

type stubHandler struct {
	reply interface{}
	err   error
}

func (s stubHandler) HandleCommand(context.Context, *Client, string, json.RawMessage) (interface{}, error) {
	return s.reply, s.err
}

func TestDispatchSendsErrorToCallerOnly(t *testing.T) {
	h := NewHub(nil, nil)
	caller, other := newTestClient(h), newTestClient(h)
	h.Subscribe(caller, RoomLive)
	h.Subscribe(other, RoomLive)

	caller.dispatch(stubHandler{err: &apperr.RateLimitedError{Action: "message", RetryAfter: 60 * time.Second}}, WSMessage{Event: CommandSendMessage})

	got := drain(caller)
	if len(got) != 1 || got[0].Event != EventError {
		t.Fatalf("caller got %+v", got)
	}
	var body map[string]interface{}
	_ = json.Unmarshal(got[0].Data, &body)
	if body["code"] != "rate_limited" || body["retry_after"] != float64(60) {
		t.Fatalf("error body = %v", body)
	}
	if len(drain(other)) != 0 {
		t.Fatal("error leaked to other subscribers")
	}
}

func TestDispatchJoinOverlay(t *testing.T) {
	h := NewHub(nil, nil)
	c := newTestClient(h)
	c.dispatch(nil, WSMessage{Event: CommandJoinOverlay})
	if h.Count(RoomOverlay) != 1 {
		t.Fatal("client should be in overlay room")
	}
	c.dispatch(nil, WSMessage{Event: CommandLeave})
	if h.Count(RoomOverlay) != 0 {
		t.Fatal("client should have left overlay room")
	}
}

func TestClosedClientReceivesNothing(t *testing.T) {
	h := NewHub(nil, nil)
	c := newTestClient(h)
	h.Subscribe(c, RoomLive)
	c.close()
	h.Publish(RoomLive, EventNewMessage, nil)
	if len(drain(c)) != 0 {
		t.Fatal("closed client should not receive events")
	}
}
