package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/mercurio-erp/mercurio-erp/internal/jobs"
	"github.com/mercurio-erp/mercurio-erp/internal/rollup"
)

// CostSweepJob runs the periodic full recompute, correcting drift after bulk
// imports or missed cascade deliveries.
type CostSweepJob struct {
	service *rollup.Service
	logger  *slog.Logger
	metrics *jobmetrics.Metrics
}

// NewCostSweepJob constructs a job handler.
func NewCostSweepJob(service *rollup.Service, logger *slog.Logger, metrics *jobmetrics.Metrics) *CostSweepJob {
	return &CostSweepJob{service: service, logger: logger, metrics: metrics}
}

// Handle fulfils the asynq.HandlerFunc contract. Per-product failures are
// summarised, not escalated: the sweep itself only fails when it cannot run
// at all.
func (j *CostSweepJob) Handle(ctx context.Context, task *asynq.Task) error {
	var payload CostSweepPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	tracker := j.metrics.Track("cost_sweep")
	result, err := j.service.RecomputeAll(ctx)
	if err != nil {
		if j.logger != nil {
			j.logger.Error("cost sweep", slog.Any("error", err))
		}
		return tracker.End(err)
	}
	j.metrics.AddRecomputed("changed", result.Changed)
	j.metrics.AddRecomputed("unchanged", result.Recomputed-result.Changed)
	for _, failure := range result.Failed {
		if j.logger != nil {
			j.logger.Error("sweep product failed",
				slog.Int64("product_id", failure.ProductID),
				slog.String("error", failure.Err))
		}
	}
	return tracker.End(nil)
}
