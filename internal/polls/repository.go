package polls

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/moedor-live/backend/internal/apperr"
	"github.com/moedor-live/backend/pkg/database"
)

// Store persists polls, options and votes.
type Store interface {
	Create(ctx context.Context, p *Poll) error
	// RecordVote inserts the (poll, user) vote and bumps the tallies. A
	// repeated pair fails with apperr.ErrAlreadyVoted.
	RecordVote(ctx context.Context, pollID, userID, optionID uuid.UUID) error
	Close(ctx context.Context, id uuid.UUID, at time.Time) error
	Get(ctx context.Context, id uuid.UUID) (*Poll, error)
	ListOpen(ctx context.Context) ([]Poll, error)
	ListRecent(ctx context.Context, limit int) ([]Poll, error)
}

// Repository handles poll persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a polls repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const pollColumns = `id, session_id, prompt, origin, context, source_text, state, opened_at, expires_at, closed_at, total_votes`

func scanPoll(row pgx.Row) (Poll, error) {
	var p Poll
	err := row.Scan(&p.ID, &p.SessionID, &p.Prompt, &p.Origin, &p.Context, &p.SourceText,
		&p.State, &p.OpenedAt, &p.ExpiresAt, &p.ClosedAt, &p.TotalVotes)
	return p, err
}

// Create inserts the poll and its options in one transaction.
func (r *Repository) Create(ctx context.Context, p *Poll) error {
	return database.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		const q = `INSERT INTO polls (id, session_id, prompt, origin, context, source_text, state, opened_at, expires_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
		if _, err := tx.Exec(ctx, q, p.ID, p.SessionID, p.Prompt, p.Origin, p.Context, p.SourceText,
			p.State, p.OpenedAt, p.ExpiresAt); err != nil {
			return fmt.Errorf("insert poll: %w", err)
		}
		batch := &pgx.Batch{}
		for _, o := range p.Options {
			batch.Queue(`INSERT INTO poll_options (id, poll_id, position, text) VALUES ($1, $2, $3, $4)`,
				o.ID, p.ID, o.Position, o.Text)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert options: %w", err)
		}
		return nil
	})
}

// RecordVote stores the vote; the primary key on (poll_id, user_id)
// rejects a second vote from the same user.
func (r *Repository) RecordVote(ctx context.Context, pollID, userID, optionID uuid.UUID) error {
	return database.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `INSERT INTO poll_votes (poll_id, user_id, option_id) VALUES ($1, $2, $3)`,
			pollID, userID, optionID)
		if err != nil {
			if database.IsUniqueViolation(err) {
				return apperr.ErrAlreadyVoted
			}
			return err
		}
		tag, err := tx.Exec(ctx, `UPDATE poll_options SET votes = votes + 1 WHERE id = $1 AND poll_id = $2`, optionID, pollID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return apperr.ErrInvalidOption
		}
		_, err = tx.Exec(ctx, `UPDATE polls SET total_votes = total_votes + 1 WHERE id = $1`, pollID)
		return err
	})
}

// Close marks the poll closed. Closing a closed poll is a no-op.
func (r *Repository) Close(ctx context.Context, id uuid.UUID, at time.Time) error {
	const q = `UPDATE polls SET state = 'closed', closed_at = $2 WHERE id = $1 AND state = 'open'`
	_, err := r.pool.Exec(ctx, q, id, at)
	return err
}

// Get returns a poll with its options in position order.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (*Poll, error) {
	p, err := scanPoll(r.pool.QueryRow(ctx, `SELECT `+pollColumns+` FROM polls WHERE id = $1`, id))
	if err != nil {
		if database.IsNoRows(err) {
			return nil, apperr.ErrNotFound
		}
		return nil, err
	}
	if err := r.loadOptions(ctx, []*Poll{&p}); err != nil {
		return nil, err
	}
	return &p, nil
}

// ListOpen returns polls still marked open, used to re-arm timers on start.
func (r *Repository) ListOpen(ctx context.Context) ([]Poll, error) {
	return r.list(ctx, `SELECT `+pollColumns+` FROM polls WHERE state = 'open' ORDER BY opened_at`)
}

// ListRecent returns the latest polls, newest first.
func (r *Repository) ListRecent(ctx context.Context, limit int) ([]Poll, error) {
	return r.list(ctx, `SELECT `+pollColumns+` FROM polls ORDER BY opened_at DESC LIMIT $1`, limit)
}

func (r *Repository) list(ctx context.Context, q string, args ...interface{}) ([]Poll, error) {
	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []Poll
	for rows.Next() {
		p, err := scanPoll(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	ptrs := make([]*Poll, len(list))
	for i := range list {
		ptrs[i] = &list[i]
	}
	if err := r.loadOptions(ctx, ptrs); err != nil {
		return nil, err
	}
	return list, nil
}

func (r *Repository) loadOptions(ctx context.Context, polls []*Poll) error {
	if len(polls) == 0 {
		return nil
	}
	ids := make([]uuid.UUID, len(polls))
	byID := make(map[uuid.UUID]*Poll, len(polls))
	for i, p := range polls {
		ids[i] = p.ID
		byID[p.ID] = p
	}
	const q = `SELECT id, poll_id, position, text, votes FROM poll_options WHERE poll_id = ANY($1) ORDER BY poll_id, position`
	rows, err := r.pool.Query(ctx, q, ids)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var o Option
		var pollID uuid.UUID
		if err := rows.Scan(&o.ID, &pollID, &o.Position, &o.Text, &o.Votes); err != nil {
			return err
		}
		if p := byID[pollID]; p != nil {
			p.Options = append(p.Options, o)
		}
	}
	return rows.Err()
}
