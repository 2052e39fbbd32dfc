// Package stunts runs the paid on-air "embarrassing truth" pipeline: quota
// check, truth selection, speech synthesis and the overlay hand-off.
package stunts

import (
	"time"

	"github.com/google/uuid"
)

// Request statuses.
const (
	StatusQueued = "queued"
	StatusReady  = "ready"
	StatusFailed = "failed"
)

// Truth is a prepared line about a cast member.
type Truth struct {
	ID           uuid.UUID `json:"id"`
	TargetMember string    `json:"target_member"`
	Content      string    `json:"content"`
	TimesUsed    int       `json:"times_used"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
}

// Request is one paid stunt from approval to playable audio.
type Request struct {
	ID           uuid.UUID  `json:"id"`
	SessionID    *uuid.UUID `json:"session_id,omitempty"`
	Requester    string     `json:"user_name"`
	TruthID      uuid.UUID  `json:"truth_id"`
	TargetMember string     `json:"target_member"`
	Text         string     `json:"text"`
	Status       string     `json:"status"`
	AudioURL     string     `json:"audio_url,omitempty"`
	Error        string     `json:"error,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// SpeechPayload is the queued job body.
type SpeechPayload struct {
	StuntID      uuid.UUID `json:"stunt_id"`
	Requester    string    `json:"user_name"`
	TruthID      uuid.UUID `json:"truth_id"`
	TargetMember string    `json:"target_member"`
	Text         string    `json:"text"`
}

// Accepted is returned when a stunt is queued.
type Accepted struct {
	StuntID   uuid.UUID `json:"stunt_id"`
	Remaining int       `json:"remaining"`
}

// Stats summarizes the stunt pipeline.
type Stats struct {
	TotalTruths  int `json:"total_truths"`
	UsedTruths   int `json:"used_truths"`
	CurrentCount int `json:"current_count"`
	MaxPerLive   int `json:"max_per_live"`
	Remaining    int `json:"remaining"`
	QueueSize    int `json:"queue_size"`
}

// Queued is the embarrassing_queued payload.
type Queued struct {
	StuntID   uuid.UUID `json:"stunt_id"`
	UserName  string    `json:"user_name"`
	Remaining int       `json:"remaining"`
}

// Ready is the embarrassing_ready payload.
type Ready struct {
	StuntID      uuid.UUID `json:"stunt_id"`
	AudioURL     string    `json:"audio_url"`
	Text         string    `json:"text"`
	UserName     string    `json:"user_name"`
	TargetMember string    `json:"target_member"`
	TruthID      uuid.UUID `json:"truth_id"`
	Timestamp    time.Time `json:"timestamp"`
}
