package tts

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/moedor-live/backend/internal/apperr"
)

func TestSynthesizeSendsExpectedRequest(t *testing.T) {
	var got speechRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/text-to-speech/voice-1" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		if r.URL.Query().Get("output_format") != "mp3_44100_128" {
			t.Errorf("output_format = %q", r.URL.Query().Get("output_format"))
		}
		if r.Header.Get("xi-api-key") != "secret" || r.Header.Get("Accept") != "audio/mpeg" {
			t.Errorf("headers = %v", r.Header)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.Header().Set("Content-Type", "audio/mpeg")
		w.Write([]byte("ID3fakeaudio"))
	}))
	defer srv.Close()

	c := NewElevenLabs("secret", "voice-1", time.Second, WithBaseURL(srv.URL))
	a, err := c.Synthesize(context.Background(), "Atenção! Zé! Ele canta no chuveiro")
	if err != nil {
		t.Fatal(err)
	}
	if string(a.Data) != "ID3fakeaudio" || a.ContentType != "audio/mpeg" {
		t.Fatalf("audio = %+v", a)
	}
	if got.Text != "Atenção! Zé! Ele canta no chuveiro" || got.ModelID != "eleven_multilingual_v2" {
		t.Fatalf("request = %+v", got)
	}
	if got.VoiceSettings.Stability != 0.5 || !got.VoiceSettings.UseSpeakerBoost {
		t.Fatalf("voice settings = %+v", got.VoiceSettings)
	}
}

func TestSynthesizeAPIErrorIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"detail":"quota_exceeded"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := NewElevenLabs("k", "v", time.Second, WithBaseURL(srv.URL)).Synthesize(context.Background(), "oi")
	var ue *apperr.UnavailableError
	if !errors.As(err, &ue) || ue.Resource != "speech" {
		t.Fatalf("err = %v, want unavailable speech", err)
	}
}

func TestSynthesizeEmptyBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	if _, err := NewElevenLabs("k", "v", time.Second, WithBaseURL(srv.URL)).Synthesize(context.Background(), "oi"); err == nil {
		t.Fatal("expected error for empty audio")
	}
}
