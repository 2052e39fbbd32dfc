package session

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/moedor-live/backend/pkg/database"
)

// Store persists sessions.
type Store interface {
	Create(ctx context.Context, title string, stuntLimit int) (*Record, error)
	Active(ctx context.Context) (*Record, error)
	End(ctx context.Context, id uuid.UUID) error
	// ReserveStunt increments stunt_count only while it is below the limit.
	ReserveStunt(ctx context.Context, id uuid.UUID) (bool, error)
	ReleaseStunt(ctx context.Context, id uuid.UUID) error
	IncrementMessages(ctx context.Context, id uuid.UUID) error
	AddMoney(ctx context.Context, id uuid.UUID, cents int64) error
	UpdatePeakViewers(ctx context.Context, id uuid.UUID, peak int) error
}

// Repository handles live_sessions persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a live sessions repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const recordColumns = `id, title, started_at, ended_at, stunt_count, stunt_limit, peak_viewers, total_messages, money_raised`

func scanRecord(row pgx.Row) (*Record, error) {
	var r Record
	err := row.Scan(&r.ID, &r.Title, &r.StartedAt, &r.EndedAt, &r.StuntCount, &r.StuntLimit, &r.PeakViewers, &r.TotalMessages, &r.MoneyRaised)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// Create ends any session left open and starts a new one.
func (r *Repository) Create(ctx context.Context, title string, stuntLimit int) (*Record, error) {
	var rec *Record
	err := database.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `UPDATE live_sessions SET ended_at = NOW(), updated_at = NOW() WHERE ended_at IS NULL`); err != nil {
			return err
		}
		var err error
		rec, err = scanRecord(tx.QueryRow(ctx, `INSERT INTO live_sessions (title, stunt_limit) VALUES ($1, $2) RETURNING `+recordColumns, title, stuntLimit))
		return err
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Active returns the open session, or nil if none.
func (r *Repository) Active(ctx context.Context) (*Record, error) {
	rec, err := scanRecord(r.pool.QueryRow(ctx, `SELECT `+recordColumns+` FROM live_sessions WHERE ended_at IS NULL ORDER BY started_at DESC LIMIT 1`))
	if err != nil {
		if database.IsNoRows(err) {
			return nil, nil
		}
		return nil, err
	}
	return rec, nil
}

// End sets ended_at for a session.
func (r *Repository) End(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `UPDATE live_sessions SET ended_at = NOW(), updated_at = NOW() WHERE id = $1 AND ended_at IS NULL`, id)
	return err
}

func (r *Repository) ReserveStunt(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE live_sessions SET stunt_count = stunt_count + 1, updated_at = NOW()
		WHERE id = $1 AND ended_at IS NULL AND stunt_count < stunt_limit`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *Repository) ReleaseStunt(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `UPDATE live_sessions SET stunt_count = stunt_count - 1, updated_at = NOW() WHERE id = $1 AND stunt_count > 0`, id)
	return err
}

func (r *Repository) IncrementMessages(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `UPDATE live_sessions SET total_messages = total_messages + 1, updated_at = NOW() WHERE id = $1`, id)
	return err
}

func (r *Repository) AddMoney(ctx context.Context, id uuid.UUID, cents int64) error {
	_, err := r.pool.Exec(ctx, `UPDATE live_sessions SET money_raised = money_raised + $1, updated_at = NOW() WHERE id = $2`, cents, id)
	return err
}

// UpdatePeakViewers only ever raises peak_viewers.
func (r *Repository) UpdatePeakViewers(ctx context.Context, id uuid.UUID, peak int) error {
	_, err := r.pool.Exec(ctx, `UPDATE live_sessions SET peak_viewers = $1, updated_at = NOW() WHERE id = $2 AND $1 > peak_viewers`, peak, id)
	return err
}
