// Package cameras captures live camera feeds and serves their latest frame
// as snapshots and MJPEG streams.
package cameras

import (
	"time"

	"github.com/google/uuid"
)

// Camera is a registered capture source and its place in the layout.
type Camera struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	SourceURL string    `json:"rtsp_url"`
	PositionX int       `json:"position_x"`
	PositionY int       `json:"position_y"`
	Width     int       `json:"width"`
	Height    int       `json:"height"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Input is the writable part of a camera.
type Input struct {
	Name      string `json:"name"`
	SourceURL string `json:"rtsp_url"`
	PositionX int    `json:"position_x"`
	PositionY int    `json:"position_y"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	IsActive  *bool  `json:"is_active,omitempty"`
}

// Status describes one camera and its worker.
type Status struct {
	ID          uuid.UUID  `json:"id"`
	Name        string     `json:"name"`
	IsActive    bool       `json:"is_active"`
	IsStreaming bool       `json:"is_streaming"`
	SourceURL   string     `json:"rtsp_url"`
	Frames      uint64     `json:"frames"`
	LastFrameAt *time.Time `json:"last_frame_at,omitempty"`
}

// Overview is the /cameras/status payload.
type Overview struct {
	Cameras   []Status `json:"cameras"`
	Total     int      `json:"total_cameras"`
	Active    int      `json:"active_cameras"`
	Streaming int      `json:"streaming_cameras"`
}

// Config holds capture and encode parameters.
type Config struct {
	CaptureFPS      int
	StreamFPS       int
	Width           int
	Height          int
	SnapshotQuality int
	StreamQuality   int
	RetryBackoff    time.Duration
}

func (c Config) withDefaults() Config {
	if c.CaptureFPS <= 0 {
		c.CaptureFPS = 30
	}
	if c.StreamFPS <= 0 {
		c.StreamFPS = 15
	}
	if c.Width <= 0 || c.Height <= 0 {
		c.Width, c.Height = 640, 480
	}
	if c.SnapshotQuality <= 0 {
		c.SnapshotQuality = 80
	}
	if c.StreamQuality <= 0 {
		c.StreamQuality = 70
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = time.Second
	}
	return c
}
