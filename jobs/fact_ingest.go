package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"

	"github.com/mercurio-erp/mercurio-erp/internal/ingest"
	jobmetrics "github.com/mercurio-erp/mercurio-erp/internal/jobs"
)

// FactIngestJob applies parsed supplier document lines to the ledger.
type FactIngestJob struct {
	service *ingest.Service
	logger  *slog.Logger
	metrics *jobmetrics.Metrics
}

// NewFactIngestJob constructs a job handler.
func NewFactIngestJob(service *ingest.Service, logger *slog.Logger, metrics *jobmetrics.Metrics) *FactIngestJob {
	return &FactIngestJob{service: service, logger: logger, metrics: metrics}
}

// Handle fulfils the asynq.HandlerFunc contract. Malformed or invalid facts
// are dropped; a retry cannot fix bad data. Ledger write contention is left
// to Asynq's retry policy.
func (j *FactIngestJob) Handle(ctx context.Context, task *asynq.Task) error {
	var payload FactIngestPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	quantity, err := decimal.NewFromString(payload.Quantity)
	if err != nil {
		return asynq.SkipRetry
	}
	unitPrice, err := decimal.NewFromString(payload.UnitPrice)
	if err != nil {
		return asynq.SkipRetry
	}

	tracker := j.metrics.Track("fact_ingest")
	result, err := j.service.Apply(ctx, ingest.Fact{
		EntityFreeText: payload.EntityFreeText,
		Quantity:       quantity,
		UnitPrice:      unitPrice,
		Currency:       payload.Currency,
		EffectiveAt:    payload.EffectiveAt,
		SourceRef:      payload.SourceRef,
		UnitCode:       payload.UnitCode,
	})
	if err != nil {
		if errors.Is(err, ingest.ErrInvalidFact) {
			if j.logger != nil {
				j.logger.Warn("fact dropped",
					slog.String("source_ref", payload.SourceRef),
					slog.Any("error", err))
			}
			_ = tracker.End(nil)
			return asynq.SkipRetry
		}
		if j.logger != nil {
			j.logger.Error("fact ingest", slog.String("source_ref", payload.SourceRef), slog.Any("error", err))
		}
		return tracker.End(err)
	}
	if j.logger != nil {
		j.logger.Info("fact applied",
			slog.Int64("entity_id", result.EntityID),
			slog.Int64("record_id", result.RecordID),
			slog.Float64("confidence", result.Confidence),
			slog.Bool("created", result.Created),
			slog.Bool("flagged", result.Flagged))
	}
	return tracker.End(nil)
}
