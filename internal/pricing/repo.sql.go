package pricing

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/mercurio-erp/mercurio-erp/internal/platform/db"
)

// Repository persists price records in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepository struct {
	tx pgx.Tx
}

var _ RepositoryPort = (*Repository)(nil)
var _ TxPort = (*txRepository)(nil)

const recordColumns = `id, entity_id, kind, value::text, currency, effective_from, effective_until, COALESCE(source_ref, ''), created_at`

// WithTx executes the callback inside a serializable transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxPort) error) error {
	if r == nil {
		return errors.New("pricing repository not initialised")
	}
	return db.WithSerializableTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

func (r *Repository) GetCurrent(ctx context.Context, entityID int64) (PriceRecord, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+recordColumns+`
FROM price_records
WHERE entity_id=$1 AND effective_until IS NULL
ORDER BY effective_from DESC, id DESC
LIMIT 1`, entityID)
	return scanRecord(row)
}

func (r *Repository) GetAsOf(ctx context.Context, entityID int64, ts time.Time) (PriceRecord, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+recordColumns+`
FROM price_records
WHERE entity_id=$1 AND effective_from <= $2 AND (effective_until IS NULL OR effective_until > $2)
ORDER BY effective_from DESC, id DESC
LIMIT 1`, entityID, ts)
	return scanRecord(row)
}

func (r *Repository) GetHistory(ctx context.Context, q HistoryQuery) ([]PriceRecord, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 200
	}
	rows, err := r.pool.Query(ctx, `SELECT `+recordColumns+`
FROM price_records
WHERE entity_id=$1 AND effective_from BETWEEN COALESCE($2::timestamptz, '-infinity') AND COALESCE($3::timestamptz, 'infinity')
ORDER BY effective_from DESC, id DESC
LIMIT $4`, q.EntityID, nullTime(q.From), nullTime(q.To), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	records := []PriceRecord{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (r *Repository) ListIntegrityIssues(ctx context.Context) ([]IntegrityIssue, error) {
	rows, err := r.pool.Query(ctx, `SELECT entity_id, COUNT(*)
FROM price_records
WHERE effective_until IS NULL
GROUP BY entity_id
HAVING COUNT(*) > 1
ORDER BY entity_id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	issues := []IntegrityIssue{}
	for rows.Next() {
		var issue IntegrityIssue
		if err := rows.Scan(&issue.EntityID, &issue.OpenRecords); err != nil {
			return nil, err
		}
		issues = append(issues, issue)
	}
	return issues, rows.Err()
}

// LockEntity takes the per-entity advisory lock for the transaction. The lock
// serializes same-entity appends; different entities proceed in parallel.
func (t *txRepository) LockEntity(ctx context.Context, entityID int64) error {
	_, err := t.tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, entityID)
	return err
}

func (t *txRepository) GetOpenForUpdate(ctx context.Context, entityID int64) (PriceRecord, error) {
	row := t.tx.QueryRow(ctx, `SELECT `+recordColumns+`
FROM price_records
WHERE entity_id=$1 AND effective_until IS NULL
ORDER BY created_at DESC, id DESC
LIMIT 1
FOR UPDATE`, entityID)
	return scanRecord(row)
}

func (t *txRepository) ListOpenForUpdate(ctx context.Context, entityID int64) ([]PriceRecord, error) {
	rows, err := t.tx.Query(ctx, `SELECT `+recordColumns+`
FROM price_records
WHERE entity_id=$1 AND effective_until IS NULL
ORDER BY created_at DESC, id DESC
FOR UPDATE`, entityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	records := []PriceRecord{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (t *txRepository) CloseRecord(ctx context.Context, recordID int64, until time.Time) error {
	tag, err := t.tx.Exec(ctx, `UPDATE price_records
SET effective_until=$2
WHERE id=$1 AND effective_until IS NULL`, recordID, until)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *txRepository) InsertRecord(ctx context.Context, in AppendInput) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO price_records (entity_id, kind, value, currency, effective_from, source_ref, created_at)
VALUES ($1, $2, $3::numeric, $4, $5, NULLIF($6, ''), NOW())
RETURNING id`, in.EntityID, string(in.Kind), in.Value.String(), in.Currency, in.EffectiveFrom, in.SourceRef).Scan(&id)
	return id, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (PriceRecord, error) {
	var (
		rec   PriceRecord
		kind  string
		value string
		until *time.Time
	)
	err := row.Scan(&rec.ID, &rec.EntityID, &kind, &value, &rec.Currency, &rec.EffectiveFrom, &until, &rec.SourceRef, &rec.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PriceRecord{}, ErrNotFound
		}
		return PriceRecord{}, err
	}
	rec.Kind = EntityKind(kind)
	rec.EffectiveUntil = until
	rec.Value, err = decimal.NewFromString(value)
	if err != nil {
		return PriceRecord{}, err
	}
	return rec, nil
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
