package rollup

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Component is one typed, validated bill-of-materials line: a finished
// product consumes Quantity of a raw material. Components always reference a
// raw material directly; recipes do not nest.
type Component struct {
	ProductID       int64
	RawMaterialID   int64
	RawMaterialName string
	Quantity        decimal.Decimal
	UnitCode        string
}

// Validate ensures correctness at the recipe-definition boundary.
func (c Component) Validate() error {
	if c.ProductID == 0 || c.RawMaterialID == 0 {
		return errors.New("rollup: product and raw material required")
	}
	if !c.Quantity.IsPositive() {
		return ErrInvalidQuantity
	}
	if c.UnitCode == "" {
		return errors.New("rollup: unit code required")
	}
	return nil
}

// ComponentCost is one component's contribution to a product cost. An
// unpriced component contributes zero and clears the result's Complete flag,
// so a missing price stays distinguishable from a genuine zero cost.
type ComponentCost struct {
	RawMaterialID   int64
	RawMaterialName string
	Quantity        decimal.Decimal
	UnitPrice       decimal.Decimal
	Subtotal        decimal.Decimal
	Priced          bool
}

// CostResult is a finished product's rolled-up cost.
type CostResult struct {
	ProductID  int64
	Total      decimal.Decimal
	Currency   string
	Complete   bool
	Components []ComponentCost
	ComputedAt time.Time
	// Appended reports whether this computation wrote a new ledger record.
	Appended bool
}

// DisplayTotal rounds half-up to the currency's display scale. Accumulation
// stays unrounded; rounding happens only here, at presentation.
func (r CostResult) DisplayTotal(scale int32) decimal.Decimal {
	return r.Total.Round(scale)
}

// SweepFailure isolates one product's recompute failure inside a sweep.
type SweepFailure struct {
	ProductID int64
	Err       string
}

// SweepResult summarises a full recompute sweep. The sweep always returns a
// summary; individual failures never abort it.
type SweepResult struct {
	Recomputed int
	Changed    int
	Skipped    int
	Failed     []SweepFailure
}

var (
	// ErrNoBOM occurs when a product has no bill of materials.
	ErrNoBOM = errors.New("rollup: product has no bill of materials")
	// ErrInvalidQuantity occurs when a component quantity is not positive.
	ErrInvalidQuantity = errors.New("rollup: quantity must be positive")
)
