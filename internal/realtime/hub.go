package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/moedor-live/backend/internal/metrics"
)

const (
	// PingInterval and PongWait are used for heartbeat.
	PingInterval = 30
	PongWait     = 60

	bridgeTimeout = 2 * time.Second
)

// AudienceChangeHandler is called after the subscriber count of a room changes.
type AudienceChangeHandler func(room string, count int)

// Bridge forwards locally published events to other server instances.
type Bridge interface {
	Publish(ctx context.Context, room, event string, data []byte) error
}

// Hub maintains room -> set of clients and fans events out to them.
// Delivery never blocks: a client whose buffer is full misses the event.
type Hub struct {
	rooms      map[string]map[string]*Client
	mu         sync.RWMutex
	logger     *zap.Logger
	bridge     Bridge
	onAudience AudienceChangeHandler
}

// NewHub creates a new WebSocket hub. bridge may be nil for a single instance.
func NewHub(logger *zap.Logger, bridge Bridge) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		rooms:  make(map[string]map[string]*Client),
		logger: logger,
		bridge: bridge,
	}
}

// SetAudienceChangeHandler sets the callback for audience count changes (e.g. peak viewers).
func (h *Hub) SetAudienceChangeHandler(fn AudienceChangeHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onAudience = fn
}

// Subscribe adds c to room. Subscribing twice is a no-op.
func (h *Hub) Subscribe(c *Client, room string) {
	h.mu.Lock()
	members := h.rooms[room]
	if members == nil {
		members = make(map[string]*Client)
		h.rooms[room] = members
	}
	if _, ok := members[c.ID]; ok {
		h.mu.Unlock()
		return
	}
	members[c.ID] = c
	count := len(members)
	onAudience := h.onAudience
	h.mu.Unlock()

	metrics.Subscribers.WithLabelValues(room).Set(float64(count))
	if onAudience != nil {
		onAudience(room, count)
	}
	h.logger.Debug("client joined room", zap.String("client_id", c.ID), zap.String("room", room))
}

// Unsubscribe removes c from room.
func (h *Hub) Unsubscribe(c *Client, room string) {
	h.mu.Lock()
	members, ok := h.rooms[room]
	if !ok {
		h.mu.Unlock()
		return
	}
	if _, ok := members[c.ID]; !ok {
		h.mu.Unlock()
		return
	}
	delete(members, c.ID)
	count := len(members)
	if count == 0 {
		delete(h.rooms, room)
	}
	onAudience := h.onAudience
	h.mu.Unlock()

	metrics.Subscribers.WithLabelValues(room).Set(float64(count))
	if onAudience != nil {
		onAudience(room, count)
	}
	h.logger.Debug("client left room", zap.String("client_id", c.ID), zap.String("room", room))
}

// Remove drops c from every room it joined.
func (h *Hub) Remove(c *Client) {
	h.mu.RLock()
	var joined []string
	for room, members := range h.rooms {
		if _, ok := members[c.ID]; ok {
			joined = append(joined, room)
		}
	}
	h.mu.RUnlock()
	for _, room := range joined {
		h.Unsubscribe(c, room)
	}
}

// Count returns the number of subscribers in room on this instance.
func (h *Hub) Count(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// Publish delivers event to every local subscriber of room and forwards it
// to the bridge for other instances.
func (h *Hub) Publish(room, event string, payload interface{}) {
	data, err := encode(payload)
	if err != nil {
		h.logger.Error("encode event", zap.String("event", event), zap.Error(err))
		return
	}
	h.Deliver(room, event, data)
	if h.bridge != nil {
		ctx, cancel := context.WithTimeout(context.Background(), bridgeTimeout)
		defer cancel()
		if err := h.bridge.Publish(ctx, room, event, data); err != nil {
			h.logger.Warn("bridge publish failed", zap.String("room", room), zap.String("event", event), zap.Error(err))
		}
	}
}

// Deliver sends already-encoded data to local subscribers only.
func (h *Hub) Deliver(room, event string, data json.RawMessage) {
	msg := WSMessage{Event: event, Data: data}

	h.mu.RLock()
	members := h.rooms[room]
	targets := make([]*Client, 0, len(members))
	for _, c := range members {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	metrics.EventsPublished.WithLabelValues(room, event).Inc()
	for _, c := range targets {
		if !c.trySend(msg) {
			metrics.EventsDropped.WithLabelValues(room).Inc()
		}
	}
}

// SendTo delivers an event to a single client.
func (h *Hub) SendTo(c *Client, event string, payload interface{}) {
	data, err := encode(payload)
	if err != nil {
		return
	}
	c.trySend(WSMessage{Event: event, Data: data})
}

func encode(payload interface{}) (json.RawMessage, error) {
	switch v := payload.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return v, nil
	case []byte:
		return v, nil
	default:
		return json.Marshal(v)
	}
}
