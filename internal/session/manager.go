package session

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/moedor-live/backend/internal/apperr"
)

// Manager enforces a single active session and funnels every mutation of
// it through the Live aggregate. Durable writes happen before the in-memory
// state changes.
type Manager struct {
	store      Store
	stuntLimit int
	viewers    func() int
	logger     *zap.Logger

	mu      sync.RWMutex
	current *Live
}

// NewManager creates a session manager. stuntLimit is K, the per-session stunt quota.
func NewManager(store Store, stuntLimit int, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if stuntLimit <= 0 {
		stuntLimit = 3
	}
	return &Manager{store: store, stuntLimit: stuntLimit, logger: logger}
}

// CountViewersWith sets the audience source used to seed new sessions.
func (m *Manager) CountViewersWith(fn func() int) {
	m.viewers = fn
}

// Restore adopts a session left open by a previous process.
func (m *Manager) Restore(ctx context.Context) error {
	rec, err := m.store.Active(ctx)
	if err != nil {
		return fmt.Errorf("load active session: %w", err)
	}
	if rec == nil {
		return nil
	}
	m.mu.Lock()
	m.current = newLive(*rec)
	m.mu.Unlock()
	m.logger.Info("live session restored", zap.String("session_id", rec.ID.String()), zap.Int("stunt_count", rec.StuntCount))
	return nil
}

// Start opens a new session, ending the previous one.
func (m *Manager) Start(ctx context.Context, title string) (Snapshot, error) {
	title = strings.TrimSpace(title)
	if len(title) > 200 {
		return Snapshot{}, apperr.Invalid("title", "must be at most 200 characters")
	}
	rec, err := m.store.Create(ctx, title, m.stuntLimit)
	if err != nil {
		return Snapshot{}, fmt.Errorf("create session: %w", err)
	}
	live := newLive(*rec)
	m.mu.Lock()
	prev := m.current
	m.current = live
	m.mu.Unlock()
	if prev != nil {
		prev.mu.Lock()
		now := time.Now()
		prev.rec.EndedAt = &now
		prev.mu.Unlock()
	}
	if m.viewers != nil {
		m.ObserveViewers(ctx, m.viewers())
	}
	m.logger.Info("live session started", zap.String("session_id", rec.ID.String()), zap.Int("stunt_limit", rec.StuntLimit))
	return live.Snapshot(), nil
}

// End closes the active session.
func (m *Manager) End(ctx context.Context) (Snapshot, error) {
	live, err := m.Current()
	if err != nil {
		return Snapshot{}, err
	}
	id := live.ID()
	if err := m.store.End(ctx, id); err != nil {
		return Snapshot{}, fmt.Errorf("end session: %w", err)
	}
	m.mu.Lock()
	if m.current == live {
		m.current = nil
	}
	m.mu.Unlock()

	live.mu.Lock()
	now := time.Now()
	live.rec.EndedAt = &now
	snap := live.snapshotLocked()
	live.mu.Unlock()
	m.logger.Info("live session ended", zap.String("session_id", id.String()), zap.Int("stunts", snap.StuntCount), zap.Int64("money_raised", snap.MoneyRaised))
	return snap, nil
}

// Current returns the active session or apperr.ErrNoActiveSession.
func (m *Manager) Current() (*Live, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current == nil {
		return nil, apperr.ErrNoActiveSession
	}
	return m.current, nil
}

// CurrentID returns the active session id, if any.
func (m *Manager) CurrentID() (uuid.UUID, bool) {
	live, err := m.Current()
	if err != nil {
		return uuid.Nil, false
	}
	return live.ID(), true
}

// ReserveStunt claims one unit of the stunt quota and returns what is left.
// The count is persisted first and bounded in SQL, so two instances can not
// both take the last slot.
func (m *Manager) ReserveStunt(ctx context.Context) (remaining int, err error) {
	live, err := m.Current()
	if err != nil {
		return 0, err
	}
	live.mu.Lock()
	defer live.mu.Unlock()
	if live.rec.StuntCount >= live.rec.StuntLimit {
		return 0, apperr.ErrLimitReached
	}
	ok, err := m.store.ReserveStunt(ctx, live.rec.ID)
	if err != nil {
		return 0, fmt.Errorf("reserve stunt: %w", err)
	}
	if !ok {
		// another instance took it; align the local view with the store
		live.rec.StuntCount = live.rec.StuntLimit
		return 0, apperr.ErrLimitReached
	}
	live.rec.StuntCount++
	return live.rec.StuntLimit - live.rec.StuntCount, nil
}

// ReleaseStunt returns a reserved unit after a failed hand-off.
func (m *Manager) ReleaseStunt(ctx context.Context) error {
	live, err := m.Current()
	if err != nil {
		return err
	}
	live.mu.Lock()
	defer live.mu.Unlock()
	if live.rec.StuntCount == 0 {
		return nil
	}
	if err := m.store.ReleaseStunt(ctx, live.rec.ID); err != nil {
		return fmt.Errorf("release stunt: %w", err)
	}
	live.rec.StuntCount--
	return nil
}

// RecordMessage counts an accepted chat message. Without an active session it is a no-op.
func (m *Manager) RecordMessage(ctx context.Context) error {
	live, err := m.Current()
	if err != nil {
		return nil
	}
	live.mu.Lock()
	defer live.mu.Unlock()
	if err := m.store.IncrementMessages(ctx, live.rec.ID); err != nil {
		return fmt.Errorf("increment messages: %w", err)
	}
	live.rec.TotalMessages++
	return nil
}

// RecordDonation adds cents to the money raised.
func (m *Manager) RecordDonation(ctx context.Context, cents int64) error {
	if cents <= 0 {
		return nil
	}
	live, err := m.Current()
	if err != nil {
		return err
	}
	live.mu.Lock()
	defer live.mu.Unlock()
	if err := m.store.AddMoney(ctx, live.rec.ID, cents); err != nil {
		return fmt.Errorf("add money: %w", err)
	}
	live.rec.MoneyRaised += cents
	return nil
}

// ObserveViewers tracks the current audience; a new peak is persisted.
func (m *Manager) ObserveViewers(ctx context.Context, n int) {
	live, err := m.Current()
	if err != nil {
		return
	}
	peak, raised := live.observeViewers(n)
	if !raised {
		return
	}
	if err := m.store.UpdatePeakViewers(ctx, live.ID(), peak); err != nil {
		m.logger.Warn("update peak viewers", zap.Error(err), zap.Int("peak", peak))
	}
}

// Snapshot returns the active session state.
func (m *Manager) Snapshot() (Snapshot, error) {
	live, err := m.Current()
	if err != nil {
		return Snapshot{}, err
	}
	return live.Snapshot(), nil
}
