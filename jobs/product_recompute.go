package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/mercurio-erp/mercurio-erp/internal/jobs"
	"github.com/mercurio-erp/mercurio-erp/internal/rollup"
)

// ProductRecomputeJob processes cascade-driven recompute tasks.
type ProductRecomputeJob struct {
	service *rollup.Service
	logger  *slog.Logger
	metrics *jobmetrics.Metrics
}

// NewProductRecomputeJob constructs a job handler.
func NewProductRecomputeJob(service *rollup.Service, logger *slog.Logger, metrics *jobmetrics.Metrics) *ProductRecomputeJob {
	return &ProductRecomputeJob{service: service, logger: logger, metrics: metrics}
}

// Handle fulfils the asynq.HandlerFunc contract. A product without a recipe
// is dropped rather than retried; transient failures are left to Asynq's
// retry policy.
func (j *ProductRecomputeJob) Handle(ctx context.Context, task *asynq.Task) error {
	var payload ProductRecomputePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.ProductID == 0 {
		return asynq.SkipRetry
	}
	tracker := j.metrics.Track("product_recompute")
	cost, err := j.service.RecomputeProduct(ctx, payload.ProductID)
	if err != nil {
		if err == rollup.ErrNoBOM {
			if j.logger != nil {
				j.logger.Warn("recompute skipped, no recipe", slog.Int64("product_id", payload.ProductID))
			}
			_ = tracker.End(nil)
			return asynq.SkipRetry
		}
		if j.logger != nil {
			j.logger.Error("product recompute", slog.Int64("product_id", payload.ProductID), slog.Any("error", err))
		}
		return tracker.End(err)
	}
	outcome := "unchanged"
	if cost.Appended {
		outcome = "changed"
	}
	j.metrics.AddRecomputed(outcome, 1)
	if j.logger != nil {
		j.logger.Info("product recomputed",
			slog.Int64("product_id", payload.ProductID),
			slog.String("total", cost.Total.String()),
			slog.Bool("complete", cost.Complete),
			slog.Bool("appended", cost.Appended))
	}
	return tracker.End(nil)
}
