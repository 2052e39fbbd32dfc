package storage

import (
	"context"
	"io"
	"path"
	"time"
)

// FolderStunts is the key prefix for synthesized stunt audio.
const FolderStunts = "stunts"

// Store persists generated artifacts and returns a URL the overlay can fetch.
type Store interface {
	// Put writes body under key. size may be -1 when unknown.
	Put(ctx context.Context, key, contentType string, body io.Reader, size int64) (string, error)
	Delete(ctx context.Context, key string) error
	// PurgeOlderThan removes artifacts under prefix last modified before now-age.
	PurgeOlderThan(ctx context.Context, prefix string, age time.Duration) (int, error)
}

// StuntAudioKey returns the object key for a stunt clip: stunts/{stunt_id}.mp3.
func StuntAudioKey(stuntID string) string {
	return path.Join(FolderStunts, path.Base(stuntID)+".mp3")
}
