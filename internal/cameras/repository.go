package cameras

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/moedor-live/backend/internal/apperr"
	"github.com/moedor-live/backend/pkg/database"
)

// Store persists the camera registry.
type Store interface {
	Create(ctx context.Context, c *Camera) error
	Update(ctx context.Context, c *Camera) error
	Delete(ctx context.Context, id uuid.UUID) error
	Get(ctx context.Context, id uuid.UUID) (*Camera, error)
	List(ctx context.Context) ([]Camera, error)
}

// Repository handles cameras persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a cameras repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const cameraColumns = `id, name, source_url, position_x, position_y, width, height, is_active, created_at, updated_at`

func scanCamera(row pgx.Row) (*Camera, error) {
	var c Camera
	err := row.Scan(&c.ID, &c.Name, &c.SourceURL, &c.PositionX, &c.PositionY,
		&c.Width, &c.Height, &c.IsActive, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func duplicateURL(err error) error {
	if database.IsUniqueViolation(err) {
		return apperr.Invalid("rtsp_url", "already registered")
	}
	return err
}

// Create inserts c and fills its generated fields.
func (r *Repository) Create(ctx context.Context, c *Camera) error {
	const q = `INSERT INTO cameras (name, source_url, position_x, position_y, width, height, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING ` + cameraColumns
	saved, err := scanCamera(r.pool.QueryRow(ctx, q,
		c.Name, c.SourceURL, c.PositionX, c.PositionY, c.Width, c.Height, c.IsActive))
	if err != nil {
		return duplicateURL(err)
	}
	*c = *saved
	return nil
}

// Update writes every mutable column of c.
func (r *Repository) Update(ctx context.Context, c *Camera) error {
	const q = `UPDATE cameras SET name = $2, source_url = $3, position_x = $4, position_y = $5,
			width = $6, height = $7, is_active = $8, updated_at = NOW()
		WHERE id = $1
		RETURNING ` + cameraColumns
	saved, err := scanCamera(r.pool.QueryRow(ctx, q,
		c.ID, c.Name, c.SourceURL, c.PositionX, c.PositionY, c.Width, c.Height, c.IsActive))
	if err != nil {
		if database.IsNoRows(err) {
			return apperr.ErrNotFound
		}
		return duplicateURL(err)
	}
	*c = *saved
	return nil
}

// Delete removes a camera.
func (r *Repository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM cameras WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.ErrNotFound
	}
	return nil
}

// Get returns a camera by id.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (*Camera, error) {
	const q = `SELECT ` + cameraColumns + ` FROM cameras WHERE id = $1`
	c, err := scanCamera(r.pool.QueryRow(ctx, q, id))
	if err != nil {
		if database.IsNoRows(err) {
			return nil, apperr.ErrNotFound
		}
		return nil, err
	}
	return c, nil
}

// List returns all cameras by creation order.
func (r *Repository) List(ctx context.Context) ([]Camera, error) {
	const q = `SELECT ` + cameraColumns + ` FROM cameras ORDER BY created_at, name`
	rows, err := r.pool.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []Camera
	for rows.Next() {
		c, err := scanCamera(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *c)
	}
	return list, rows.Err()
}
