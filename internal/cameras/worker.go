package cameras

import (
	"bytes"
	"context"
	"errors"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"github.com/disintegration/imaging"
	"go.uber.org/zap"

	"github.com/moedor-live/backend/internal/metrics"
)

// frame is an immutable decoded image. The stream encoding is computed
// once and shared by every viewer.
type frame struct {
	img image.Image
	at  time.Time
	seq uint64

	once    sync.Once
	encoded []byte
	encErr  error
}

func (f *frame) streamJPEG(quality int) ([]byte, error) {
	f.once.Do(func() {
		f.encoded, f.encErr = encodeJPEG(f.img, quality)
	})
	return f.encoded, f.encErr
}

func encodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// worker owns one camera's capture loop and its latest-frame slot.
type worker struct {
	cam    Camera
	opener Opener
	cfg    Config
	logger *zap.Logger

	latest atomic.Pointer[frame]
	frames atomic.Uint64
	cancel context.CancelFunc
	done   chan struct{}
}

func newWorker(cam Camera, opener Opener, cfg Config, logger *zap.Logger) *worker {
	return &worker{
		cam:    cam,
		opener: opener,
		cfg:    cfg,
		logger: logger.With(zap.String("camera_id", cam.ID.String()), zap.String("camera", cam.Name)),
		done:   make(chan struct{}),
	}
}

func (w *worker) start(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	w.cancel = cancel
	metrics.CamerasRunning.Inc()
	go func() {
		defer close(w.done)
		defer metrics.CamerasRunning.Dec()
		w.run(ctx)
	}()
}

// stop cancels the capture loop and waits for it to release the source.
func (w *worker) stop() {
	w.cancel()
	<-w.done
}

// run keeps the feed open until ctx ends. Any open or read failure closes
// the source, waits RetryBackoff and tries again.
func (w *worker) run(ctx context.Context) {
	w.logger.Info("camera worker started")
	defer w.logger.Info("camera worker stopped")
	label := w.cam.ID.String()
	for ctx.Err() == nil {
		src, err := w.opener.Open(ctx, w.cam.SourceURL)
		if err != nil {
			metrics.CameraErrors.WithLabelValues(label).Inc()
			w.logger.Warn("open camera source", zap.Error(err))
			w.pause(ctx)
			continue
		}
		err = w.capture(ctx, src)
		if cerr := src.Close(); cerr != nil {
			w.logger.Debug("close camera source", zap.Error(cerr))
		}
		if ctx.Err() != nil {
			return
		}
		metrics.CameraErrors.WithLabelValues(label).Inc()
		w.logger.Warn("camera read failed", zap.Error(err))
		w.pause(ctx)
	}
}

func (w *worker) capture(ctx context.Context, src Source) error {
	minGap := time.Second / time.Duration(w.cfg.CaptureFPS)
	var last time.Time
	label := w.cam.ID.String()
	for {
		data, err := src.Next(ctx)
		if err != nil {
			return err
		}
		if data == nil {
			return errors.New("empty frame")
		}
		now := time.Now()
		if !last.IsZero() && now.Sub(last) < minGap {
			continue
		}
		img, err := imaging.Decode(bytes.NewReader(data))
		if err != nil {
			metrics.CameraErrors.WithLabelValues(label).Inc()
			w.logger.Debug("skip undecodable frame", zap.Error(err))
			continue
		}
		if b := img.Bounds(); b.Dx() != w.cfg.Width || b.Dy() != w.cfg.Height {
			img = imaging.Resize(img, w.cfg.Width, w.cfg.Height, imaging.Linear)
		}
		last = now
		seq := w.frames.Add(1)
		w.latest.Store(&frame{img: img, at: now, seq: seq})
		metrics.CameraFrames.WithLabelValues(label).Inc()
	}
}

func (w *worker) pause(ctx context.Context) {
	t := time.NewTimer(w.cfg.RetryBackoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
