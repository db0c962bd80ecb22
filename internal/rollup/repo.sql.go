package rollup

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/mercurio-erp/mercurio-erp/internal/platform/db"
)

// Repository persists bills of materials in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ListComponents returns the product's recipe with material names attached.
func (r *Repository) ListComponents(ctx context.Context, productID int64) ([]Component, error) {
	if r == nil {
		return nil, errors.New("rollup repository not initialised")
	}
	rows, err := r.pool.Query(ctx, `SELECT c.product_id, c.raw_material_id, e.name, c.quantity::text, c.unit_code
FROM bom_components c
JOIN priceable_entities e ON e.id = c.raw_material_id
WHERE c.product_id = $1
ORDER BY c.raw_material_id ASC`, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	components := []Component{}
	for rows.Next() {
		var (
			component Component
			quantity  string
		)
		if err := rows.Scan(&component.ProductID, &component.RawMaterialID, &component.RawMaterialName, &quantity, &component.UnitCode); err != nil {
			return nil, err
		}
		component.Quantity, err = decimal.NewFromString(quantity)
		if err != nil {
			return nil, err
		}
		components = append(components, component)
	}
	return components, rows.Err()
}

// ListActiveProducts returns ids of active finished products.
func (r *Repository) ListActiveProducts(ctx context.Context) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT id FROM priceable_entities
WHERE kind = 'FINISHED_PRODUCT' AND is_active
ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	ids := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListAffectedProducts returns active products whose recipe references the
// raw material. Consumed by the cascade scheduler after a ledger append.
func (r *Repository) ListAffectedProducts(ctx context.Context, rawMaterialID int64) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT DISTINCT c.product_id
FROM bom_components c
JOIN priceable_entities e ON e.id = c.product_id AND e.is_active
WHERE c.raw_material_id = $1
ORDER BY c.product_id ASC`, rawMaterialID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	ids := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// RegisterFinishedProduct creates a finished-product entity. Re-registering a
// name reactivates the existing entity.
func (r *Repository) RegisterFinishedProduct(ctx context.Context, name, normalizedName, unitCode string) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx, `INSERT INTO priceable_entities (kind, name, normalized_name, unit_code, is_active, created_at, updated_at)
VALUES ('FINISHED_PRODUCT', $1, $2, $3, TRUE, NOW(), NOW())
ON CONFLICT (kind, normalized_name) DO UPDATE SET is_active = TRUE, updated_at = NOW()
RETURNING id`, name, normalizedName, unitCode).Scan(&id)
	return id, err
}

// ReplaceComponents swaps the product's recipe atomically. Components are
// validated at this boundary; the engine reads them as-is.
func (r *Repository) ReplaceComponents(ctx context.Context, productID int64, components []Component) error {
	normalized := make([]Component, 0, len(components))
	for _, component := range components {
		if component.ProductID == 0 {
			component.ProductID = productID
		}
		if err := component.Validate(); err != nil {
			return err
		}
		normalized = append(normalized, component)
	}
	components = normalized
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM bom_components WHERE product_id = $1`, productID); err != nil {
			return err
		}
		for _, component := range components {
			if _, err := tx.Exec(ctx, `INSERT INTO bom_components (product_id, raw_material_id, quantity, unit_code)
VALUES ($1, $2, $3::numeric, $4)`, productID, component.RawMaterialID, component.Quantity.String(), component.UnitCode); err != nil {
				return err
			}
		}
		return nil
	})
}
