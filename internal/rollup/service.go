package rollup

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/mercurio-erp/mercurio-erp/internal/pricing"
)

// LedgerPort is the slice of the price ledger the engine needs. The engine
// never mutates ledger rows directly; product costs go through AppendPrice
// like every other write.
type LedgerPort interface {
	GetCurrent(ctx context.Context, entityID int64) (pricing.PriceRecord, error)
	AppendPrice(ctx context.Context, in pricing.AppendInput) (int64, error)
}

// RepositoryPort abstracts BOM storage for the engine.
type RepositoryPort interface {
	ListComponents(ctx context.Context, productID int64) ([]Component, error)
	ListActiveProducts(ctx context.Context) ([]int64, error)
}

// ServiceConfig groups rollup settings.
type ServiceConfig struct {
	// Epsilon is the smallest total change worth a new history entry.
	Epsilon         decimal.Decimal
	DefaultCurrency string
	// SweepConcurrency bounds the recompute worker pool.
	SweepConcurrency int
	// ProductTimeout abandons a stuck product recompute without stalling the sweep.
	ProductTimeout time.Duration
}

// Service computes finished-product costs from bills of materials and the
// ledger's current raw material prices.
type Service struct {
	repo   RepositoryPort
	ledger LedgerPort
	logger *slog.Logger
	cfg    ServiceConfig
	now    func() time.Time
}

// NewService builds the rollup engine.
func NewService(repo RepositoryPort, ledger LedgerPort, logger *slog.Logger, cfg ServiceConfig) *Service {
	if cfg.Epsilon.IsZero() {
		cfg.Epsilon = decimal.New(1, -4)
	}
	if cfg.DefaultCurrency == "" {
		cfg.DefaultCurrency = "BRL"
	}
	if cfg.SweepConcurrency < 1 {
		cfg.SweepConcurrency = 1
	}
	return &Service{repo: repo, ledger: ledger, logger: logger, cfg: cfg, now: time.Now}
}

// ComputeCost accumulates quantity times current unit price across the
// product's components, in decimal, without intermediate rounding. A
// component without a current price contributes zero and marks the result
// incomplete.
func (s *Service) ComputeCost(ctx context.Context, productID int64) (CostResult, error) {
	components, err := s.repo.ListComponents(ctx, productID)
	if err != nil {
		return CostResult{}, err
	}
	if len(components) == 0 {
		return CostResult{ProductID: productID, Currency: s.cfg.DefaultCurrency}, ErrNoBOM
	}

	result := CostResult{
		ProductID:  productID,
		Currency:   s.cfg.DefaultCurrency,
		Complete:   true,
		ComputedAt: s.now().UTC(),
	}
	for _, component := range components {
		cost := ComponentCost{
			RawMaterialID:   component.RawMaterialID,
			RawMaterialName: component.RawMaterialName,
			Quantity:        component.Quantity,
		}
		price, err := s.ledger.GetCurrent(ctx, component.RawMaterialID)
		switch {
		case err == nil:
			cost.Priced = true
			cost.UnitPrice = price.Value
			cost.Subtotal = component.Quantity.Mul(price.Value)
			result.Total = result.Total.Add(cost.Subtotal)
			if price.Currency != "" {
				result.Currency = price.Currency
			}
		case errors.Is(err, pricing.ErrNotFound):
			result.Complete = false
		default:
			return CostResult{}, err
		}
		result.Components = append(result.Components, cost)
	}
	return result, nil
}

// RecomputeProduct recomputes the product's cost and appends it to the
// ledger only when it moved by more than epsilon, so repeated invocations
// converge without history churn.
func (s *Service) RecomputeProduct(ctx context.Context, productID int64) (CostResult, error) {
	result, err := s.ComputeCost(ctx, productID)
	if err != nil {
		return result, err
	}

	current, err := s.ledger.GetCurrent(ctx, productID)
	switch {
	case err == nil:
		if current.Value.Sub(result.Total).Abs().LessThanOrEqual(s.cfg.Epsilon) {
			return result, nil
		}
	case errors.Is(err, pricing.ErrNotFound):
		// First cost for this product.
	default:
		return result, err
	}

	_, err = s.ledger.AppendPrice(ctx, pricing.AppendInput{
		EntityID:      productID,
		Kind:          pricing.KindFinishedProduct,
		Value:         result.Total,
		Currency:      result.Currency,
		EffectiveFrom: result.ComputedAt,
		SourceRef:     "rollup:" + uuid.NewString(),
	})
	if err != nil {
		return result, err
	}
	result.Appended = true
	return result, nil
}

// RecomputeAll sweeps every active finished product on a bounded worker
// pool. Each product gets its own timeout and its failure is isolated; the
// sweep checks for cancellation between items and always reports a summary.
func (s *Service) RecomputeAll(ctx context.Context) (SweepResult, error) {
	ids, err := s.repo.ListActiveProducts(ctx)
	if err != nil {
		return SweepResult{}, err
	}

	var (
		mu     sync.Mutex
		result SweepResult
	)
	group := errgroup.Group{}
	group.SetLimit(s.cfg.SweepConcurrency)

	for _, productID := range ids {
		if ctx.Err() != nil {
			break
		}
		group.Go(func() error {
			productCtx := ctx
			if s.cfg.ProductTimeout > 0 {
				var cancel context.CancelFunc
				productCtx, cancel = context.WithTimeout(ctx, s.cfg.ProductTimeout)
				defer cancel()
			}
			cost, err := s.RecomputeProduct(productCtx, productID)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case errors.Is(err, ErrNoBOM):
				result.Skipped++
			case err != nil:
				result.Failed = append(result.Failed, SweepFailure{ProductID: productID, Err: err.Error()})
				if s.logger != nil {
					s.logger.Error("sweep recompute", slog.Int64("product_id", productID), slog.Any("error", err))
				}
			default:
				result.Recomputed++
				if cost.Appended {
					result.Changed++
				}
			}
			return nil
		})
	}
	_ = group.Wait()

	if s.logger != nil {
		s.logger.Info("cost sweep finished",
			slog.Int("recomputed", result.Recomputed),
			slog.Int("changed", result.Changed),
			slog.Int("skipped", result.Skipped),
			slog.Int("failed", len(result.Failed)))
	}
	return result, ctx.Err()
}
