package analyzer

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Record is a stored transcript with its analysis.
type Record struct {
	ID        uuid.UUID  `json:"id"`
	SessionID *uuid.UUID `json:"session_id,omitempty"`
	Text      string     `json:"text"`
	SpokenAt  time.Time  `json:"spoken_at"`
	Score     float64    `json:"score"`
	Keyword   string     `json:"keyword,omitempty"`
	PollID    *uuid.UUID `json:"poll_id,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// Store persists analyzed transcripts.
type Store interface {
	Save(ctx context.Context, r *Record) error
	Recent(ctx context.Context, limit int) ([]Record, error)
}

// Repository handles transcriptions persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a transcriptions repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Save inserts r.
func (r *Repository) Save(ctx context.Context, rec *Record) error {
	const q = `INSERT INTO transcriptions (id, session_id, text, spoken_at, score, keyword, poll_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING created_at`
	return r.pool.QueryRow(ctx, q, rec.ID, rec.SessionID, rec.Text, rec.SpokenAt, rec.Score, rec.Keyword, rec.PollID).
		Scan(&rec.CreatedAt)
}

// Recent returns the newest transcripts first.
func (r *Repository) Recent(ctx context.Context, limit int) ([]Record, error) {
	const q = `SELECT id, session_id, text, spoken_at, score, keyword, poll_id, created_at
		FROM transcriptions ORDER BY spoken_at DESC LIMIT $1`
	rows, err := r.pool.Query(ctx, q, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.SessionID, &rec.Text, &rec.SpokenAt, &rec.Score, &rec.Keyword, &rec.PollID, &rec.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, rec)
	}
	return list, rows.Err()
}
