package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/mercurio-erp/mercurio-erp/internal/jobs"
	"github.com/mercurio-erp/mercurio-erp/internal/pricing"
)

// LedgerIntegrityJob scans for entities holding more than one open price
// record. Violations are reported for an operator to repair; the scan never
// repairs silently.
type LedgerIntegrityJob struct {
	ledger  *pricing.Service
	logger  *slog.Logger
	metrics *jobmetrics.Metrics
}

// NewLedgerIntegrityJob constructs a job handler.
func NewLedgerIntegrityJob(ledger *pricing.Service, logger *slog.Logger, metrics *jobmetrics.Metrics) *LedgerIntegrityJob {
	return &LedgerIntegrityJob{ledger: ledger, logger: logger, metrics: metrics}
}

// Handle fulfils the asynq.HandlerFunc contract.
func (j *LedgerIntegrityJob) Handle(ctx context.Context, task *asynq.Task) error {
	var payload LedgerIntegrityPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	tracker := j.metrics.Track("ledger_integrity")
	issues, err := j.ledger.CheckIntegrity(ctx)
	if err != nil {
		return tracker.End(err)
	}
	for _, issue := range issues {
		if j.logger != nil {
			j.logger.Error("ledger integrity violation",
				slog.Int64("entity_id", issue.EntityID),
				slog.Int("open_records", issue.OpenRecords))
		}
	}
	if len(issues) == 0 && j.logger != nil {
		j.logger.Info("ledger integrity clean", slog.String("job", "ledger_integrity"))
	}
	return tracker.End(nil)
}
