package pricing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// TxPort exposes ledger mutations inside one atomic unit.
type TxPort interface {
	LockEntity(ctx context.Context, entityID int64) error
	GetOpenForUpdate(ctx context.Context, entityID int64) (PriceRecord, error)
	ListOpenForUpdate(ctx context.Context, entityID int64) ([]PriceRecord, error)
	CloseRecord(ctx context.Context, recordID int64, until time.Time) error
	InsertRecord(ctx context.Context, in AppendInput) (int64, error)
}

// RepositoryPort abstracts ledger storage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxPort) error) error
	GetCurrent(ctx context.Context, entityID int64) (PriceRecord, error)
	GetAsOf(ctx context.Context, entityID int64, ts time.Time) (PriceRecord, error)
	GetHistory(ctx context.Context, q HistoryQuery) ([]PriceRecord, error)
	ListIntegrityIssues(ctx context.Context) ([]IntegrityIssue, error)
}

// CascadeNotifier is told about raw material price changes so dependent
// product costs can be recomputed. Dispatch is asynchronous; the append does
// not wait for recomputation.
type CascadeNotifier interface {
	OnPriceAppended(ctx context.Context, rawMaterialID int64) error
}

// ServiceConfig groups ledger settings.
type ServiceConfig struct {
	MaxRetries int
	RetryBase  time.Duration
}

// Service is the price-history ledger. It is the sole writer of price
// records; same-entity writes serialize behind a per-entity advisory lock
// taken inside the append transaction.
type Service struct {
	repo     RepositoryPort
	cache    *PriceCache
	notifier CascadeNotifier
	logger   *slog.Logger
	cfg      ServiceConfig
	now      func() time.Time
}

// NewService builds the ledger service. Cache and notifier are optional.
func NewService(repo RepositoryPort, cache *PriceCache, notifier CascadeNotifier, logger *slog.Logger, cfg ServiceConfig) *Service {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 50 * time.Millisecond
	}
	return &Service{repo: repo, cache: cache, notifier: notifier, logger: logger, cfg: cfg, now: time.Now}
}

// AppendPrice atomically closes the entity's open record (if any) at
// in.EffectiveFrom and inserts a new open record. Contention on the same
// entity is retried with bounded exponential backoff before surfacing
// ErrConflict.
func (s *Service) AppendPrice(ctx context.Context, in AppendInput) (int64, error) {
	if err := in.Validate(); err != nil {
		return 0, err
	}
	if in.EffectiveFrom.IsZero() {
		in.EffectiveFrom = s.now().UTC()
	}

	var recordID int64
	write := func() error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxPort) error {
			if err := tx.LockEntity(ctx, in.EntityID); err != nil {
				return err
			}
			open, err := tx.GetOpenForUpdate(ctx, in.EntityID)
			switch {
			case err == nil:
				if in.EffectiveFrom.Before(open.EffectiveFrom) {
					return ErrOutOfOrder
				}
				if err := tx.CloseRecord(ctx, open.ID, in.EffectiveFrom); err != nil {
					return err
				}
			case errors.Is(err, ErrNotFound):
				// First price for this entity.
			default:
				return err
			}
			recordID, err = tx.InsertRecord(ctx, in)
			return err
		})
	}

	var err error
	delay := s.cfg.RetryBase
	for attempt := 0; ; attempt++ {
		err = write()
		if err == nil {
			break
		}
		if attempt >= s.cfg.MaxRetries || !retryable(err) {
			break
		}
		if s.logger != nil {
			s.logger.Warn("ledger append contention",
				slog.Int64("entity_id", in.EntityID),
				slog.Int("attempt", attempt+1),
				slog.Any("error", err))
		}
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	if err != nil {
		if retryable(err) {
			return 0, fmt.Errorf("%w: %v", ErrConflict, err)
		}
		return 0, err
	}

	s.cache.Invalidate(ctx, in.EntityID)

	if s.notifier != nil && in.Kind == KindRawMaterial {
		if err := s.notifier.OnPriceAppended(ctx, in.EntityID); err != nil && s.logger != nil {
			s.logger.Error("cascade dispatch", slog.Int64("entity_id", in.EntityID), slog.Any("error", err))
		}
	}
	return recordID, nil
}

// GetCurrent returns the entity's open record, serving from cache when warm.
func (s *Service) GetCurrent(ctx context.Context, entityID int64) (PriceRecord, error) {
	if rec, ok := s.cache.GetCurrent(ctx, entityID); ok {
		return rec, nil
	}
	rec, err := s.repo.GetCurrent(ctx, entityID)
	if err != nil {
		return PriceRecord{}, err
	}
	s.cache.SetCurrent(ctx, rec)
	return rec, nil
}

// GetAsOf returns the record whose [EffectiveFrom, EffectiveUntil) interval
// contains ts, or the open record when ts is past the latest EffectiveFrom.
func (s *Service) GetAsOf(ctx context.Context, entityID int64, ts time.Time) (PriceRecord, error) {
	return s.repo.GetAsOf(ctx, entityID, ts)
}

// GetHistory returns records newest first, optionally windowed.
func (s *Service) GetHistory(ctx context.Context, q HistoryQuery) ([]PriceRecord, error) {
	return s.repo.GetHistory(ctx, q)
}

// CheckIntegrity lists entities violating the at-most-one-open invariant.
// Issues are reported, never silently fixed; Repair is the explicit fix.
func (s *Service) CheckIntegrity(ctx context.Context) ([]IntegrityIssue, error) {
	return s.repo.ListIntegrityIssues(ctx)
}

// Repair deterministically closes all but the most-recently-opened record of
// an entity. Stale records are closed at the keeper's EffectiveFrom, or at
// their own when that is later, so intervals never invert.
func (s *Service) Repair(ctx context.Context, entityID int64) (RepairResult, error) {
	result := RepairResult{EntityID: entityID}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxPort) error {
		if err := tx.LockEntity(ctx, entityID); err != nil {
			return err
		}
		open, err := tx.ListOpenForUpdate(ctx, entityID)
		if err != nil {
			return err
		}
		if len(open) == 0 {
			return ErrNotFound
		}
		keeper := open[0]
		result.KeptID = keeper.ID
		for _, rec := range open[1:] {
			until := keeper.EffectiveFrom
			if rec.EffectiveFrom.After(until) {
				until = rec.EffectiveFrom
			}
			if err := tx.CloseRecord(ctx, rec.ID, until); err != nil {
				return err
			}
			result.ClosedIDs = append(result.ClosedIDs, rec.ID)
		}
		return nil
	})
	if err != nil {
		return RepairResult{}, err
	}
	s.cache.Invalidate(ctx, entityID)
	if len(result.ClosedIDs) > 0 && s.logger != nil {
		s.logger.Warn("ledger integrity repaired",
			slog.Int64("entity_id", entityID),
			slog.Int64("kept_id", result.KeptID),
			slog.Int("closed", len(result.ClosedIDs)))
	}
	return result, nil
}

// retryable reports whether the error is same-entity contention worth another
// attempt: serialization failure, deadlock, or lock timeout.
func retryable(err error) bool {
	if errors.Is(err, ErrConflict) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "55P03":
			return true
		}
	}
	return false
}
