package stunts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/moedor-live/backend/internal/metrics"
	"github.com/moedor-live/backend/internal/realtime"
	"github.com/moedor-live/backend/internal/tts"
	"github.com/moedor-live/backend/pkg/queue"
	"github.com/moedor-live/backend/pkg/storage"
)

// JobSource yields speech jobs in FIFO order.
type JobSource interface {
	Dequeue(ctx context.Context) (*queue.Job, error)
	DeadLetter(ctx context.Context, job *queue.Job, cause error) error
}

// Worker synthesizes queued stunts one at a time.
type Worker struct {
	jobs    JobSource
	synth   tts.Synthesizer
	audio   storage.Store
	store   Store
	bus     Broadcaster
	logger  *zap.Logger
	now     func() time.Time
	backoff time.Duration
}

// NewWorker creates a speech worker.
func NewWorker(jobs JobSource, synth tts.Synthesizer, audio storage.Store, store Store, bus Broadcaster, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		jobs:    jobs,
		synth:   synth,
		audio:   audio,
		store:   store,
		bus:     bus,
		logger:  logger,
		now:     time.Now,
		backoff: queue.RetryBackoff,
	}
}

// Process turns one job into audio and tells the overlay it is ready.
func (w *Worker) Process(ctx context.Context, job *queue.Job) error {
	if job.Type != queue.JobTypeSpeech {
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
	var p SpeechPayload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}

	audio, err := w.synth.Synthesize(ctx, p.Text)
	if err != nil {
		return fmt.Errorf("synthesize: %w", err)
	}
	key := storage.StuntAudioKey(p.StuntID.String())
	url, err := w.audio.Put(ctx, key, audio.ContentType, bytes.NewReader(audio.Data), int64(len(audio.Data)))
	if err != nil {
		return fmt.Errorf("store audio: %w", err)
	}
	now := w.now().UTC()
	if err := w.store.CompleteRequest(ctx, p.StuntID, url, now); err != nil {
		// the clip exists; the overlay can still play it
		w.logger.Error("record stunt audio", zap.String("stunt_id", p.StuntID.String()), zap.Error(err))
	}

	w.bus.Publish(realtime.RoomOverlay, realtime.EventEmbarrassingReady, Ready{
		StuntID:      p.StuntID,
		AudioURL:     url,
		Text:         p.Text,
		UserName:     p.Requester,
		TargetMember: p.TargetMember,
		TruthID:      p.TruthID,
		Timestamp:    now,
	})
	w.logger.Info("stunt audio ready", zap.String("stunt_id", p.StuntID.String()), zap.String("audio_url", url))
	return nil
}

// Run processes jobs until ctx is done. A failed job is dead-lettered and
// the loop moves on to the next one.
func (w *Worker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("speech worker stopping")
			return
		default:
		}

		job, err := w.jobs.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			w.logger.Warn("dequeue error", zap.Error(err))
			w.sleep(ctx)
			continue
		}
		if job == nil {
			continue
		}

		w.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
		if err := w.Process(ctx, job); err != nil {
			w.fail(ctx, job, err)
			continue
		}
		metrics.StuntJobs.WithLabelValues("ready").Inc()
	}
}

func (w *Worker) fail(ctx context.Context, job *queue.Job, cause error) {
	metrics.StuntJobs.WithLabelValues("failed").Inc()
	w.logger.Error("job failed", zap.String("job_id", job.ID), zap.Error(cause))
	if err := w.jobs.DeadLetter(ctx, job, cause); err != nil {
		w.logger.Error("dead-letter failed", zap.String("job_id", job.ID), zap.Error(err))
	}
	var p SpeechPayload
	if json.Unmarshal(job.Payload, &p) == nil {
		if err := w.store.FailRequest(ctx, p.StuntID, cause.Error()); err != nil {
			w.logger.Warn("mark stunt failed", zap.Error(err))
		}
	}
}

func (w *Worker) sleep(ctx context.Context) {
	t := time.NewTimer(w.backoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// RunAudioCleanup removes clips older than maxAge every interval.
func (w *Worker) RunAudioCleanup(ctx context.Context, interval, maxAge time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := w.audio.PurgeOlderThan(ctx, storage.FolderStunts, maxAge)
			if err != nil {
				w.logger.Warn("audio cleanup failed", zap.Error(err))
				continue
			}
			if n > 0 {
				w.logger.Info("old stunt audio removed", zap.Int("count", n))
			}
		}
	}
}
