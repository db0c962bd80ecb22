package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// QueueRollup carries cascade-driven product recomputes. Kept separate so
	// a bulk import cannot starve other work.
	QueueRollup = "rollup"

	// TaskFactIngest applies one parsed supplier document line to the ledger.
	TaskFactIngest = "ingest:fact"
	// TaskProductRecompute recomputes one finished product's cost.
	TaskProductRecompute = "rollup:product"
	// TaskCostSweep recomputes every active finished product.
	TaskCostSweep = "rollup:sweep"
	// TaskLedgerIntegrity scans the ledger for open-record violations.
	TaskLedgerIntegrity = "ledger:integrity"
)

// FactIngestPayload carries one normalized line item from document parsing.
// Decimal fields travel as strings so the queue never loses precision.
type FactIngestPayload struct {
	EntityFreeText string    `json:"entity_free_text"`
	Quantity       string    `json:"quantity"`
	UnitPrice      string    `json:"unit_price"`
	Currency       string    `json:"currency"`
	EffectiveAt    time.Time `json:"effective_at"`
	SourceRef      string    `json:"source_ref"`
	UnitCode       string    `json:"unit_code,omitempty"`
}

// NewFactIngestTask constructs an Asynq task for one ingestion fact.
func NewFactIngestTask(payload FactIngestPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskFactIngest, data, asynq.Queue(QueueDefault)), nil
}

// ProductRecomputePayload identifies the product to recompute.
type ProductRecomputePayload struct {
	ProductID int64 `json:"product_id"`
}

// NewProductRecomputeTask constructs an Asynq task for one product.
func NewProductRecomputeTask(productID int64) (*asynq.Task, error) {
	data, err := json.Marshal(ProductRecomputePayload{ProductID: productID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskProductRecompute, data, asynq.Queue(QueueRollup)), nil
}

// CostSweepPayload carries scheduling metadata for the periodic sweep.
type CostSweepPayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
}

// NewCostSweepTask constructs the periodic full-sweep task.
func NewCostSweepTask(at time.Time) (*asynq.Task, error) {
	data, err := json.Marshal(CostSweepPayload{ScheduledFor: at})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskCostSweep, data, asynq.Queue(QueueDefault)), nil
}

// LedgerIntegrityPayload carries scheduling metadata for the integrity scan.
type LedgerIntegrityPayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
}

// NewLedgerIntegrityTask constructs the periodic integrity-scan task.
func NewLedgerIntegrityTask(at time.Time) (*asynq.Task, error) {
	data, err := json.Marshal(LedgerIntegrityPayload{ScheduledFor: at})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLedgerIntegrity, data, asynq.Queue(QueueDefault)), nil
}
