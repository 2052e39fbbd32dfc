package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/moedor-live/backend/internal/apperr"
)

const (
	sendBuffer     = 256
	maxMessageSize = 8192
	writeWait      = 10 * time.Second
	commandTimeout = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // overlay and viewers are served from other origins
	},
}

// WSMessage is the WebSocket message envelope.
type WSMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Identity is the validated viewer behind a connection.
type Identity struct {
	UserID uuid.UUID
	Name   string
	Role   string
}

// TokenValidator resolves a bearer token to an identity.
type TokenValidator func(token string) (Identity, error)

// CommandHandler executes inbound client commands. A non-nil reply is sent
// back to the caller as an ack; an error is sent back as an error event.
type CommandHandler interface {
	HandleCommand(ctx context.Context, c *Client, event string, data json.RawMessage) (interface{}, error)
}

// Client represents a single WebSocket connection.
type Client struct {
	ID       string
	Identity Identity
	JoinedAt time.Time
	hub      *Hub
	conn     *websocket.Conn
	send     chan WSMessage
	done     chan struct{}
	once     sync.Once
	logger   *zap.Logger
}

// NewClient builds a connection-less client; ServeWs attaches the socket.
func NewClient(hub *Hub, id Identity, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		ID:       uuid.NewString(),
		Identity: id,
		JoinedAt: time.Now(),
		hub:      hub,
		send:     make(chan WSMessage, sendBuffer),
		done:     make(chan struct{}),
		logger:   logger,
	}
}

// UserID returns the viewer id.
func (c *Client) UserID() uuid.UUID { return c.Identity.UserID }

func (c *Client) trySend(msg WSMessage) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

func (c *Client) close() {
	c.once.Do(func() { close(c.done) })
}

// ServeWs handles the WebSocket upgrade and runs the client loop.
// ?room=overlay subscribes the connection to the overlay room instead of live.
func ServeWs(hub *Hub, logger *zap.Logger, validate TokenValidator, handler CommandHandler) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.Query("token")
		if token == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "token required"})
			return
		}
		id, err := validate(token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		room := RoomLive
		if c.Query("room") == RoomOverlay {
			room = RoomOverlay
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}

		client := NewClient(hub, id, logger)
		client.conn = conn
		hub.Subscribe(client, room)
		go client.writePump()
		client.readPump(handler)
	}
}

func (c *Client) readPump(handler CommandHandler) {
	defer func() {
		c.hub.Remove(c)
		c.close()
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
		return nil
	})

	for {
		var msg WSMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("websocket read", zap.String("client_id", c.ID), zap.Error(err))
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
		c.dispatch(handler, msg)
	}
}

// dispatch runs one inbound command. Room membership is handled here; the
// rest goes to the command handler.
func (c *Client) dispatch(handler CommandHandler, msg WSMessage) {
	switch msg.Event {
	case CommandJoinOverlay:
		c.hub.Subscribe(c, RoomOverlay)
		c.hub.SendTo(c, EventAck, map[string]string{"event": msg.Event})
		return
	case CommandLeave:
		c.hub.Unsubscribe(c, RoomOverlay)
		c.hub.SendTo(c, EventAck, map[string]string{"event": msg.Event})
		return
	}
	if handler == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	reply, err := handler.HandleCommand(ctx, c, msg.Event, msg.Data)
	if err != nil {
		c.hub.SendTo(c, EventError, ErrorPayload(msg.Event, err))
		return
	}
	if reply != nil {
		c.hub.SendTo(c, EventAck, map[string]interface{}{"event": msg.Event, "data": reply})
	}
}

// ErrorPayload is what a client receives when its command failed.
func ErrorPayload(command string, err error) map[string]interface{} {
	out := map[string]interface{}{
		"command": command,
		"code":    apperr.Code(err),
		"message": err.Error(),
	}
	var rl *apperr.RateLimitedError
	if errors.As(err, &rl) {
		out["retry_after"] = rl.RetryAfterSeconds()
	}
	if out["code"] == "internal_error" {
		out["message"] = "internal error"
	}
	return out
}

func (c *Client) writePump() {
	ticker := time.NewTicker(PingInterval * time.Second)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
