package catalog

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists the raw material catalog in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ListActiveEntries returns the canonical name index for active raw materials.
func (r *Repository) ListActiveEntries(ctx context.Context) ([]NameEntry, error) {
	if r == nil {
		return nil, errors.New("catalog repository not initialised")
	}
	rows, err := r.pool.Query(ctx, `SELECT id, name, normalized_name
FROM priceable_entities
WHERE kind = 'RAW_MATERIAL' AND is_active
ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	entries := []NameEntry{}
	for rows.Next() {
		var entry NameEntry
		if err := rows.Scan(&entry.EntityID, &entry.Name, &entry.Normalized); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// RegisterRawMaterial creates a raw material and its canonical name entry.
// Re-registering a name reactivates the existing entity instead of duplicating it.
func (r *Repository) RegisterRawMaterial(ctx context.Context, in RegisterInput) (int64, error) {
	if err := in.Validate(); err != nil {
		return 0, err
	}
	var id int64
	err := r.pool.QueryRow(ctx, `INSERT INTO priceable_entities (kind, name, normalized_name, unit_code, is_active, created_at, updated_at)
VALUES ('RAW_MATERIAL', $1, $2, $3, TRUE, NOW(), NOW())
ON CONFLICT (kind, normalized_name) DO UPDATE SET is_active = TRUE, updated_at = NOW()
RETURNING id`, in.Name, Normalize(in.Name), in.UnitCode).Scan(&id)
	return id, err
}

// GetRawMaterial loads one raw material by id.
func (r *Repository) GetRawMaterial(ctx context.Context, id int64) (RawMaterial, error) {
	var m RawMaterial
	err := r.pool.QueryRow(ctx, `SELECT id, name, normalized_name, unit_code, is_active, created_at, updated_at
FROM priceable_entities
WHERE id = $1 AND kind = 'RAW_MATERIAL'`, id).
		Scan(&m.ID, &m.Name, &m.NormalizedName, &m.UnitCode, &m.IsActive, &m.CreatedAt, &m.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return RawMaterial{}, ErrNotFound
	}
	return m, err
}

// DeactivateRawMaterial soft-deletes a raw material. Entities are never hard-deleted.
func (r *Repository) DeactivateRawMaterial(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `UPDATE priceable_entities SET is_active = FALSE, updated_at = NOW()
WHERE id = $1 AND kind = 'RAW_MATERIAL'`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
