// Package messages accepts viewer chat, tracks likes and keeps the pending
// messages ranked for the on-air display.
package messages

import (
	"time"

	"github.com/google/uuid"
)

// Field bounds in characters.
const (
	MaxPseudonymLen = 50
	MaxBodyLen      = 250
)

// Message is a viewer chat message.
type Message struct {
	ID          uuid.UUID  `json:"id"`
	SessionID   *uuid.UUID `json:"session_id,omitempty"`
	UserID      uuid.UUID  `json:"user_id"`
	Pseudonym   string     `json:"pseudonym"`
	Body        string     `json:"body"`
	LikeCount   int        `json:"likes_count"`
	Displayed   bool       `json:"displayed"`
	DisplayedAt *time.Time `json:"displayed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// LikeResult is returned by a like toggle.
type LikeResult struct {
	MessageID  uuid.UUID `json:"message_id"`
	LikesCount int       `json:"likes_count"`
	Liked      bool      `json:"liked"`
	Action     string    `json:"action"`
}

// Stats summarizes chat activity.
type Stats struct {
	TotalMessages     int `json:"total_messages"`
	PendingMessages   int `json:"pending_messages"`
	DisplayedMessages int `json:"displayed_messages"`
	TotalLikes        int `json:"total_likes"`
}
