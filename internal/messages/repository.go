package messages

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

// Store persists messages and likes.
type Store interface {
	Create(ctx context.Context, m *Message) error
	// ToggleLike flips the (message, user) like and returns the recounted total.
	ToggleLike(ctx context.Context, messageID, userID uuid.UUID) (likes int, liked bool, err error)
	MarkDisplayed(ctx context.Context, id uuid.UUID, at time.Time) error
	ListPending(ctx context.Context, limit int) ([]Message, error)
	// DeleteStale removes messages created before cutoff that have no likes.
	DeleteStale(ctx context.Context, cutoff time.Time) ([]uuid.UUID, error)
	Stats(ctx context.Context) (Stats, error)
}

// Repository handles chat_messages and message_likes persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a messages repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const messageColumns = `id, session_id, user_id, pseudonym, body, like_count, displayed, displayed_at, created_at`

func scanMessage(row pgx.Row) (Message, error) {
	var m Message
	err := row.Scan(&m.ID, &m.SessionID, &m.UserID, &m.Pseudonym, &m.Body, &m.LikeCount, &m.Displayed, &m.DisplayedAt, &m.CreatedAt)
	return m, err
}

// Create inserts a new message.
func (r *Repository) Create(ctx context.Context, m *Message) error {
	const q = `INSERT INTO chat_messages (id, session_id, user_id, pseudonym, body, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := r.pool.Exec(ctx, q, m.ID, m.SessionID, m.UserID, m.Pseudonym, m.Body, m.CreatedAt)
	return err
}

// ToggleLike locks the message row so concurrent toggles on it serialize,
// then recomputes like_count from message_likes.
func (r *Repository) ToggleLike(ctx context.Context, messageID, userID uuid.UUID) (int, bool, error) {
	var likes int
	var liked bool
	err := database.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		var one int
		if err := tx.QueryRow(ctx, `SELECT 1 FROM chat_messages WHERE id = $1 FOR UPDATE`, messageID).Scan(&one); err != nil {
			if database.IsNoRows(err) {
				return apperr.ErrNotFound
			}
			return err
		}
		tag, err := tx.Exec(ctx, `DELETE FROM message_likes WHERE message_id = $1 AND user_id = $2`, messageID, userID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			if _, err := tx.Exec(ctx, `INSERT INTO message_likes (message_id, user_id) VALUES ($1, $2)`, messageID, userID); err != nil {
				return err
			}
			liked = true
		}
		return tx.QueryRow(ctx, `UPDATE chat_messages
			SET like_count = (SELECT COUNT(*) FROM message_likes WHERE message_id = $1)
			WHERE id = $1 RETURNING like_count`, messageID).Scan(&likes)
	})
	if err != nil {
		return 0, false, err
	}
	return likes, liked, nil
}

// MarkDisplayed flags a message as shown. Marking twice is not an error.
func (r *Repository) MarkDisplayed(ctx context.Context, id uuid.UUID, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `UPDATE chat_messages SET displayed = TRUE, displayed_at = COALESCE(displayed_at, $2) WHERE id = $1`, id, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.ErrNotFound
	}
	return nil
}

// ListPending returns undisplayed messages in rank order. limit <= 0 means all.
func (r *Repository) ListPending(ctx context.Context, limit int) ([]Message, error) {
	q := `SELECT ` + messageColumns + ` FROM chat_messages WHERE displayed = FALSE ORDER BY like_count DESC, created_at ASC`
	args := []interface{}{}
	if limit > 0 {
		q += ` LIMIT $1`
		args = append(args, limit)
	}
	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *Repository) DeleteStale(ctx context.Context, cutoff time.Time) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `DELETE FROM chat_messages WHERE created_at < $1 AND like_count = 0 RETURNING id`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("delete stale messages: %w", err)
	}
	defer rows.Close()
	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *Repository) Stats(ctx context.Context) (Stats, error) {
	const q = `SELECT COUNT(*),
		COUNT(*) FILTER (WHERE displayed = FALSE),
		COUNT(*) FILTER (WHERE displayed = TRUE),
		COALESCE(SUM(like_count), 0)
		FROM chat_messages`
	var s Stats
	err := r.pool.QueryRow(ctx, q).Scan(&s.TotalMessages, &s.PendingMessages, &s.DisplayedMessages, &s.TotalLikes)
	return s, err
}
