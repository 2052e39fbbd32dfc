package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	channelPrefix = "show:"
	eventTTL      = 5 * time.Second
)

// redisPayload is the message published to Redis for cross-instance broadcast.
type redisPayload struct {
	Origin string          `json:"origin"`
	Event  string          `json:"event"`
	Data   json.RawMessage `json:"data"`
	At     int64           `json:"at"`
}

// RedisPubSub bridges hubs on different instances. Every payload carries
// the publishing instance id so an instance ignores its own echoes.
type RedisPubSub struct {
	client *redis.Client
	origin string
	logger *zap.Logger
}

// NewRedisPubSub creates a Redis pub/sub bridge for show events.
func NewRedisPubSub(client *redis.Client, logger *zap.Logger) *RedisPubSub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisPubSub{client: client, origin: uuid.NewString(), logger: logger}
}

// Publish publishes an event to the room's Redis channel.
func (r *RedisPubSub) Publish(ctx context.Context, room, event string, data []byte) error {
	body, err := json.Marshal(redisPayload{Origin: r.origin, Event: event, Data: data, At: time.Now().Unix()})
	if err != nil {
		return err
	}
	return r.client.Publish(ctx, channelPrefix+room, body).Err()
}

// Run subscribes to every room channel and hands foreign events to deliver
// until ctx is cancelled.
func (r *RedisPubSub) Run(ctx context.Context, deliver func(room, event string, data json.RawMessage)) error {
	pubsub := r.client.PSubscribe(ctx, channelPrefix+"*")
	defer pubsub.Close()
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("psubscribe: %w", err)
	}
	r.logger.Info("event bridge subscribed", zap.String("origin", r.origin))
	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			room, event, data, ok := r.decode(msg.Channel, msg.Payload)
			if !ok {
				continue
			}
			deliver(room, event, data)
		}
	}
}

// decode returns ok=false for malformed payloads and for our own echoes.
func (r *RedisPubSub) decode(channel, payload string) (room, event string, data json.RawMessage, ok bool) {
	var p redisPayload
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		r.logger.Debug("drop malformed bridge payload", zap.Error(err))
		return "", "", nil, false
	}
	if p.Origin == r.origin {
		return "", "", nil, false
	}
	return strings.TrimPrefix(channel, channelPrefix), p.Event, p.Data, true
}

// RemotePublisher publishes into the bus from a process that holds no
// sockets, e.g. the standalone speech worker.
type RemotePublisher struct {
	bridge Bridge
	logger *zap.Logger
}

// NewRemotePublisher wraps a bridge.
func NewRemotePublisher(bridge Bridge, logger *zap.Logger) *RemotePublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RemotePublisher{bridge: bridge, logger: logger}
}

// Publish encodes payload and forwards it through the bridge.
func (p *RemotePublisher) Publish(room, event string, payload interface{}) {
	data, err := encode(payload)
	if err != nil {
		p.logger.Error("encode event", zap.String("event", event), zap.Error(err))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), eventTTL)
	defer cancel()
	if err := p.bridge.Publish(ctx, room, event, data); err != nil {
		p.logger.Warn("remote publish failed", zap.String("event", event), zap.Error(err))
	}
}
