package catalog

import (
	"errors"
	"time"
)

// RawMaterial is a purchasable input identified by a canonical name.
type RawMaterial struct {
	ID             int64
	Name           string
	NormalizedName string
	UnitCode       string
	IsActive       bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// NameEntry maps a canonical normalized name to a raw material. Entries are
// consulted, never mutated, during resolution.
type NameEntry struct {
	EntityID   int64
	Name       string
	Normalized string
}

// Resolution is a successful lookup of free text against the catalog.
type Resolution struct {
	EntityID    int64
	MatchedName string
	Confidence  float64
	// Ambiguous is set when more than one entry tied for the top score and
	// the deterministic tie-break (lowest entity id) decided the winner.
	// Callers ingesting documents keep such facts flagged for manual review.
	Ambiguous bool
}

// RegisterInput captures a new raw material registration.
type RegisterInput struct {
	Name     string
	UnitCode string
}

// Validate ensures correctness.
func (in RegisterInput) Validate() error {
	if Normalize(in.Name) == "" {
		return errors.New("catalog: name required")
	}
	return nil
}

var (
	// ErrNotFound occurs when no catalog entry matches the free text.
	ErrNotFound = errors.New("catalog: no matching raw material")
	// ErrEmptyInput occurs when the free text normalizes to nothing.
	ErrEmptyInput = errors.New("catalog: empty description")
)
