package cameras

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/moedor-live/backend/internal/apperr"
)

// Manager is the registry of running camera workers.
type Manager struct {
	store  Store
	opener Opener
	cfg    Config
	logger *zap.Logger

	base   context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	workers map[uuid.UUID]*worker
}

// NewManager creates a camera manager. Workers live until Stop, StopAll or Close.
func NewManager(store Store, opener Opener, cfg Config, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	base, cancel := context.WithCancel(context.Background())
	return &Manager{
		store:   store,
		opener:  opener,
		cfg:     cfg.withDefaults(),
		logger:  logger,
		base:    base,
		cancel:  cancel,
		workers: make(map[uuid.UUID]*worker),
	}
}

// Start launches the worker for an active camera, replacing a running one.
func (m *Manager) Start(ctx context.Context, id uuid.UUID) error {
	cam, err := m.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if !cam.IsActive {
		return apperr.Invalid("is_active", "camera is not active")
	}
	m.launch(*cam)
	return nil
}

func (m *Manager) launch(cam Camera) {
	w := newWorker(cam, m.opener, m.cfg, m.logger)
	m.mu.Lock()
	old := m.workers[cam.ID]
	m.workers[cam.ID] = w
	w.start(m.base)
	m.mu.Unlock()
	if old != nil {
		old.stop()
	}
}

// Stop ends the camera's worker and drops its frame. It reports whether a
// worker was running.
func (m *Manager) Stop(id uuid.UUID) bool {
	m.mu.Lock()
	w := m.workers[id]
	delete(m.workers, id)
	m.mu.Unlock()
	if w == nil {
		return false
	}
	w.stop()
	return true
}

// StartAll starts every active camera and returns how many were started.
func (m *Manager) StartAll(ctx context.Context) (int, error) {
	list, err := m.store.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list cameras: %w", err)
	}
	n := 0
	for _, cam := range list {
		if cam.IsActive {
			m.launch(cam)
			n++
		}
	}
	m.logger.Info("cameras started", zap.Int("count", n))
	return n, nil
}

// StopAll stops every worker and returns how many were running.
func (m *Manager) StopAll() int {
	m.mu.Lock()
	ws := make([]*worker, 0, len(m.workers))
	for id, w := range m.workers {
		ws = append(ws, w)
		delete(m.workers, id)
	}
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, w := range ws {
		wg.Add(1)
		go func(w *worker) {
			defer wg.Done()
			w.stop()
		}(w)
	}
	wg.Wait()
	return len(ws)
}

// Close stops everything; the manager can not start workers afterwards.
func (m *Manager) Close() {
	m.StopAll()
	m.cancel()
}

func (m *Manager) running(id uuid.UUID) *worker {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.workers[id]
}

// Snapshot returns the latest frame as a JPEG.
func (m *Manager) Snapshot(id uuid.UUID) ([]byte, error) {
	w := m.running(id)
	if w == nil {
		return nil, apperr.ErrFrameUnavailable
	}
	f := w.latest.Load()
	if f == nil {
		return nil, apperr.ErrFrameUnavailable
	}
	return encodeJPEG(f.img, m.cfg.SnapshotQuality)
}

// Stream yields JPEG frames at StreamFPS until ctx ends or the camera stops.
// Frames already sent are not repeated.
func (m *Manager) Stream(ctx context.Context, id uuid.UUID) (<-chan []byte, error) {
	w := m.running(id)
	if w == nil {
		return nil, apperr.ErrFrameUnavailable
	}
	out := make(chan []byte, 1)
	go func() {
		defer close(out)
		ticker := time.NewTicker(time.Second / time.Duration(m.cfg.StreamFPS))
		defer ticker.Stop()
		var sent uint64
		for {
			select {
			case <-ctx.Done():
				return
			case <-w.done:
				return
			case <-ticker.C:
			}
			f := w.latest.Load()
			if f == nil || f.seq == sent {
				continue
			}
			data, err := f.streamJPEG(m.cfg.StreamQuality)
			if err != nil {
				m.logger.Warn("encode stream frame", zap.Error(err))
				continue
			}
			select {
			case out <- data:
				sent = f.seq
			case <-ctx.Done():
				return
			case <-w.done:
				return
			}
		}
	}()
	return out, nil
}

// Status lists every camera with its worker state.
func (m *Manager) Status(ctx context.Context) (Overview, error) {
	list, err := m.store.List(ctx)
	if err != nil {
		return Overview{}, err
	}
	ov := Overview{Cameras: make([]Status, 0, len(list)), Total: len(list)}
	for _, cam := range list {
		st := Status{ID: cam.ID, Name: cam.Name, IsActive: cam.IsActive, SourceURL: redactURL(cam.SourceURL)}
		if w := m.running(cam.ID); w != nil {
			st.IsStreaming = true
			st.Frames = w.frames.Load()
			if f := w.latest.Load(); f != nil {
				at := f.at
				st.LastFrameAt = &at
			}
			ov.Streaming++
		}
		if cam.IsActive {
			ov.Active++
		}
		ov.Cameras = append(ov.Cameras, st)
	}
	return ov, nil
}

// List returns all cameras.
func (m *Manager) List(ctx context.Context) ([]Camera, error) {
	return m.store.List(ctx)
}

func validateInput(in *Input) error {
	in.Name = strings.TrimSpace(in.Name)
	in.SourceURL = strings.TrimSpace(in.SourceURL)
	if in.Name == "" || len(in.Name) > 100 {
		return apperr.Invalid("name", "must have 1 to 100 characters")
	}
	u, err := url.Parse(in.SourceURL)
	if err != nil || u.Scheme == "" || (u.Host == "" && u.Scheme != "file") {
		return apperr.Invalid("rtsp_url", "must be an absolute URL")
	}
	if in.Width == 0 {
		in.Width = 640
	}
	if in.Height == 0 {
		in.Height = 480
	}
	if in.Width < 0 || in.Height < 0 {
		return apperr.Invalid("size", "width and height must be positive")
	}
	return nil
}

// Create registers a camera.
func (m *Manager) Create(ctx context.Context, in Input) (Camera, error) {
	if err := validateInput(&in); err != nil {
		return Camera{}, err
	}
	cam := Camera{
		Name:      in.Name,
		SourceURL: in.SourceURL,
		PositionX: in.PositionX,
		PositionY: in.PositionY,
		Width:     in.Width,
		Height:    in.Height,
		IsActive:  in.IsActive == nil || *in.IsActive,
	}
	if err := m.store.Create(ctx, &cam); err != nil {
		return Camera{}, err
	}
	m.logger.Info("camera added", zap.String("camera_id", cam.ID.String()), zap.String("name", cam.Name))
	return cam, nil
}

// Update changes a camera. Deactivating it stops its worker; a running
// camera whose source changed is restarted on the new source.
func (m *Manager) Update(ctx context.Context, id uuid.UUID, in Input) (Camera, error) {
	cur, err := m.store.Get(ctx, id)
	if err != nil {
		return Camera{}, err
	}
	if err := validateInput(&in); err != nil {
		return Camera{}, err
	}
	cam := *cur
	cam.Name, cam.SourceURL = in.Name, in.SourceURL
	cam.PositionX, cam.PositionY = in.PositionX, in.PositionY
	cam.Width, cam.Height = in.Width, in.Height
	if in.IsActive != nil {
		cam.IsActive = *in.IsActive
	}
	if err := m.store.Update(ctx, &cam); err != nil {
		return Camera{}, err
	}
	switch {
	case !cam.IsActive:
		m.Stop(id)
	case cam.SourceURL != cur.SourceURL && m.running(id) != nil:
		m.launch(cam)
	}
	return cam, nil
}

// Delete stops and removes a camera.
func (m *Manager) Delete(ctx context.Context, id uuid.UUID) error {
	m.Stop(id)
	if err := m.store.Delete(ctx, id); err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return err
		}
		return fmt.Errorf("delete camera: %w", err)
	}
	return nil
}

func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		if len(raw) > 50 {
			return raw[:50] + "..."
		}
		return raw
	}
	if u.User != nil {
		u.User = url.User("***")
	}
	return u.String()
}
