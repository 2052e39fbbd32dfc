package stunts

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/moedor-live/backend/internal/apperr"
	"github.com/moedor-live/backend/pkg/database"
)

// Store persists truths and stunt requests.
type Store interface {
	// PickTruth returns a random active truth among the least used ones and
	// counts the use.
	PickTruth(ctx context.Context) (*Truth, error)
	AddTruth(ctx context.Context, t *Truth) error
	ListTruths(ctx context.Context) ([]Truth, error)
	TruthCounts(ctx context.Context) (total, used int, err error)

	CreateRequest(ctx context.Context, r *Request) error
	CompleteRequest(ctx context.Context, id uuid.UUID, audioURL string, at time.Time) error
	FailRequest(ctx context.Context, id uuid.UUID, reason string) error
	RecentRequests(ctx context.Context, limit int) ([]Request, error)
}

// Repository handles truths and stunt_requests persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a stunts repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const truthColumns = `id, target_member, content, times_used, is_active, created_at`

func scanTruth(row pgx.Row) (*Truth, error) {
	var t Truth
	if err := row.Scan(&t.ID, &t.TargetMember, &t.Content, &t.TimesUsed, &t.IsActive, &t.CreatedAt); err != nil {
		return nil, err
	}
	return &t, nil
}

// PickTruth locks the chosen row so two concurrent stunts never count the
// same use twice.
func (r *Repository) PickTruth(ctx context.Context) (*Truth, error) {
	const q = `UPDATE truths SET times_used = times_used + 1
		WHERE id = (
			SELECT id FROM truths WHERE is_active
			ORDER BY times_used, random() LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + truthColumns
	t, err := scanTruth(r.pool.QueryRow(ctx, q))
	if err != nil {
		if database.IsNoRows(err) {
			return nil, apperr.ErrNotFound
		}
		return nil, err
	}
	return t, nil
}

// AddTruth inserts t.
func (r *Repository) AddTruth(ctx context.Context, t *Truth) error {
	const q = `INSERT INTO truths (target_member, content) VALUES ($1, $2)
		RETURNING ` + truthColumns
	saved, err := scanTruth(r.pool.QueryRow(ctx, q, t.TargetMember, t.Content))
	if err != nil {
		return err
	}
	*t = *saved
	return nil
}

// ListTruths returns all truths, least used first.
func (r *Repository) ListTruths(ctx context.Context) ([]Truth, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+truthColumns+` FROM truths ORDER BY times_used, created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []Truth
	for rows.Next() {
		t, err := scanTruth(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *t)
	}
	return list, rows.Err()
}

// TruthCounts returns how many active truths exist and how many were used.
func (r *Repository) TruthCounts(ctx context.Context) (int, int, error) {
	const q = `SELECT COUNT(*), COUNT(*) FILTER (WHERE times_used > 0) FROM truths WHERE is_active`
	var total, used int
	err := r.pool.QueryRow(ctx, q).Scan(&total, &used)
	return total, used, err
}

// CreateRequest inserts a queued stunt.
func (r *Repository) CreateRequest(ctx context.Context, req *Request) error {
	const q = `INSERT INTO stunt_requests (id, session_id, requester, truth_id, text, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := r.pool.Exec(ctx, q, req.ID, req.SessionID, req.Requester, req.TruthID, req.Text, req.Status, req.CreatedAt)
	return err
}

// CompleteRequest stores the audio location.
func (r *Repository) CompleteRequest(ctx context.Context, id uuid.UUID, audioURL string, at time.Time) error {
	const q = `UPDATE stunt_requests SET status = 'ready', audio_url = $2, completed_at = $3 WHERE id = $1`
	_, err := r.pool.Exec(ctx, q, id, audioURL, at)
	return err
}

// FailRequest marks the stunt failed with reason.
func (r *Repository) FailRequest(ctx context.Context, id uuid.UUID, reason string) error {
	const q = `UPDATE stunt_requests SET status = 'failed', error = $2 WHERE id = $1`
	_, err := r.pool.Exec(ctx, q, id, reason)
	return err
}

// RecentRequests returns the newest stunts first.
func (r *Repository) RecentRequests(ctx context.Context, limit int) ([]Request, error) {
	const q = `SELECT s.id, s.session_id, s.requester, COALESCE(s.truth_id, '00000000-0000-0000-0000-000000000000'),
			COALESCE(t.target_member, ''), s.text, s.status, s.audio_url, s.error, s.created_at, s.completed_at
		FROM stunt_requests s LEFT JOIN truths t ON t.id = s.truth_id
		ORDER BY s.created_at DESC LIMIT $1`
	rows, err := r.pool.Query(ctx, q, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []Request
	for rows.Next() {
		var req Request
		if err := rows.Scan(&req.ID, &req.SessionID, &req.Requester, &req.TruthID, &req.TargetMember, &req.Text,
			&req.Status, &req.AudioURL, &req.Error, &req.CreatedAt, &req.CompletedAt); err != nil {
			return nil, err
		}
		list = append(list, req)
	}
	return list, rows.Err()
}
