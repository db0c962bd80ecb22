// Package cascade fans a raw material price change out to the finished
// products whose recipes reference it. Recompute work is enqueued, one task
// per product, and executed by the worker pool; delivery is at-least-once,
// which is safe because recomputation is idempotent behind the rollup
// engine's epsilon guard.
package cascade

import (
	"context"
	"errors"
	"log/slog"
)

// AffectedLookup finds products depending on a raw material.
type AffectedLookup interface {
	ListAffectedProducts(ctx context.Context, rawMaterialID int64) ([]int64, error)
}

// Enqueuer submits product recompute tasks to the queue.
type Enqueuer interface {
	EnqueueProductRecompute(ctx context.Context, productID int64) error
}

// Scheduler reacts to ledger appends.
type Scheduler struct {
	lookup   AffectedLookup
	enqueuer Enqueuer
	logger   *slog.Logger
}

// NewScheduler constructs a Scheduler.
func NewScheduler(lookup AffectedLookup, enqueuer Enqueuer, logger *slog.Logger) *Scheduler {
	return &Scheduler{lookup: lookup, enqueuer: enqueuer, logger: logger}
}

// OnPriceAppended enqueues a recompute for every affected product. Products
// are enqueued independently; one failed enqueue does not stop the rest, and
// all failures are reported together.
func (s *Scheduler) OnPriceAppended(ctx context.Context, rawMaterialID int64) error {
	productIDs, err := s.lookup.ListAffectedProducts(ctx, rawMaterialID)
	if err != nil {
		return err
	}
	var errs []error
	for _, productID := range productIDs {
		if err := s.enqueuer.EnqueueProductRecompute(ctx, productID); err != nil {
			errs = append(errs, err)
			if s.logger != nil {
				s.logger.Error("enqueue recompute",
					slog.Int64("raw_material_id", rawMaterialID),
					slog.Int64("product_id", productID),
					slog.Any("error", err))
			}
			continue
		}
	}
	if len(productIDs) > 0 && s.logger != nil {
		s.logger.Info("cascade dispatched",
			slog.Int64("raw_material_id", rawMaterialID),
			slog.Int("products", len(productIDs)),
			slog.Int("failed", len(errs)))
	}
	return errors.Join(errs...)
}
