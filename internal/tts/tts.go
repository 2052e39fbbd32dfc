// Package tts turns stunt text into speech audio.
package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/moedor-live/backend/internal/apperr"
	"github.com/moedor-live/backend/internal/metrics"
)

const (
	defaultBaseURL = "https://api.elevenlabs.io"
	outputFormat   = "mp3_44100_128"
	// maxAudioBytes caps a single clip; stunt lines are a few seconds long.
	maxAudioBytes = 10 << 20
)

// Audio is a synthesized clip.
type Audio struct {
	Data        []byte
	ContentType string
}

// Synthesizer converts text to audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (Audio, error)
}

// Option configures an ElevenLabs client.
type Option func(*ElevenLabs)

// WithBaseURL overrides the API base URL.
func WithBaseURL(u string) Option {
	return func(e *ElevenLabs) {
		if u != "" {
			e.baseURL = u
		}
	}
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(e *ElevenLabs) { e.client = c }
}

// WithModel overrides the synthesis model.
func WithModel(model string) Option {
	return func(e *ElevenLabs) {
		if model != "" {
			e.modelID = model
		}
	}
}

// ElevenLabs calls the ElevenLabs text-to-speech REST API.
type ElevenLabs struct {
	apiKey  string
	voiceID string
	modelID string
	baseURL string
	client  *http.Client
}

// NewElevenLabs creates a client for voiceID.
func NewElevenLabs(apiKey, voiceID string, timeout time.Duration, opts ...Option) *ElevenLabs {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	e := &ElevenLabs{
		apiKey:  apiKey,
		voiceID: voiceID,
		modelID: "eleven_multilingual_v2",
		baseURL: defaultBaseURL,
		client:  &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Style           float64 `json:"style"`
	UseSpeakerBoost bool    `json:"use_speaker_boost"`
}

type speechRequest struct {
	Text          string        `json:"text"`
	ModelID       string        `json:"model_id"`
	VoiceSettings voiceSettings `json:"voice_settings"`
}

// Synthesize implements Synthesizer. Any failure is reported as an
// unavailable speech resource.
func (e *ElevenLabs) Synthesize(ctx context.Context, text string) (Audio, error) {
	start := time.Now()
	defer func() { metrics.SynthesisDuration.Observe(time.Since(start).Seconds()) }()

	body, err := json.Marshal(speechRequest{
		Text:    text,
		ModelID: e.modelID,
		VoiceSettings: voiceSettings{
			Stability:       0.5,
			SimilarityBoost: 0.5,
			Style:           0.5,
			UseSpeakerBoost: true,
		},
	})
	if err != nil {
		return Audio{}, fmt.Errorf("tts: marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1/text-to-speech/%s?output_format=%s", e.baseURL, url.PathEscape(e.voiceID), outputFormat)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return Audio{}, fmt.Errorf("tts: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/mpeg")
	req.Header.Set("xi-api-key", e.apiKey)

	resp, err := e.client.Do(req)
	if err != nil {
		return Audio{}, apperr.Unavailable("speech", fmt.Errorf("request failed: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return Audio{}, apperr.Unavailable("speech", fmt.Errorf("API error (status %d): %s", resp.StatusCode, bytes.TrimSpace(msg)))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxAudioBytes+1))
	if err != nil {
		return Audio{}, apperr.Unavailable("speech", fmt.Errorf("read audio: %w", err))
	}
	if len(data) == 0 {
		return Audio{}, apperr.Unavailable("speech", errors.New("empty audio"))
	}
	if len(data) > maxAudioBytes {
		return Audio{}, apperr.Unavailable("speech", fmt.Errorf("audio exceeds %d bytes", maxAudioBytes))
	}
	ct := resp.Header.Get("Content-Type")
	if ct == "" {
		ct = "audio/mpeg"
	}
	return Audio{Data: data, ContentType: ct}, nil
}
