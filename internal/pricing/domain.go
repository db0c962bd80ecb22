package pricing

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// EntityKind tags a priceable entity.
type EntityKind string

const (
	// KindRawMaterial marks entities priced from supplier documents.
	KindRawMaterial EntityKind = "RAW_MATERIAL"
	// KindFinishedProduct marks entities priced by cost rollup.
	KindFinishedProduct EntityKind = "FINISHED_PRODUCT"
)

// Valid reports whether the kind is a known tag.
func (k EntityKind) Valid() bool {
	return k == KindRawMaterial || k == KindFinishedProduct
}

// PriceRecord is one slice of an entity's price history. A record with no
// EffectiveUntil is "open": the currently effective price. Records are closed
// exactly once, by the next append for the same entity, and never otherwise
// mutated.
type PriceRecord struct {
	ID             int64
	EntityID       int64
	Kind           EntityKind
	Value          decimal.Decimal
	Currency       string
	EffectiveFrom  time.Time
	EffectiveUntil *time.Time
	SourceRef      string
	CreatedAt      time.Time
}

// Open reports whether the record is the entity's current price.
func (r PriceRecord) Open() bool {
	return r.EffectiveUntil == nil
}

// AppendInput captures a price append.
type AppendInput struct {
	EntityID      int64
	Kind          EntityKind
	Value         decimal.Decimal
	Currency      string
	EffectiveFrom time.Time
	SourceRef     string
}

// Validate ensures correctness. Validation failures are distinct from write
// conflicts; callers retry the latter, never the former.
func (in AppendInput) Validate() error {
	if in.EntityID == 0 {
		return errors.New("pricing: entity required")
	}
	if !in.Kind.Valid() {
		return errors.New("pricing: unknown entity kind")
	}
	if in.Value.IsNegative() {
		return ErrNegativeValue
	}
	if len(in.Currency) != 3 {
		return errors.New("pricing: currency must be a 3-letter code")
	}
	return nil
}

// HistoryQuery windows an entity's price history.
type HistoryQuery struct {
	EntityID int64
	From     time.Time
	To       time.Time
	Limit    int
}

// IntegrityIssue reports an entity holding more than one open record, which
// the legacy read-then-write append could produce under races.
type IntegrityIssue struct {
	EntityID    int64
	OpenRecords int
}

// RepairResult describes a deterministic integrity repair.
type RepairResult struct {
	EntityID  int64
	KeptID    int64
	ClosedIDs []int64
}

var (
	// ErrNotFound occurs when an entity has no record for the query.
	ErrNotFound = errors.New("pricing: no price record")
	// ErrConflict occurs when same-entity write contention outlasts the retry budget.
	ErrConflict = errors.New("pricing: ledger write conflict")
	// ErrIntegrity occurs when more than one open record is observed for an entity.
	ErrIntegrity = errors.New("pricing: multiple open price records")
	// ErrNegativeValue occurs when a price value is below zero.
	ErrNegativeValue = errors.New("pricing: value must be non-negative")
	// ErrOutOfOrder occurs when an append predates the entity's open record.
	ErrOutOfOrder = errors.New("pricing: effective-from predates open record")
)
