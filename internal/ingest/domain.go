package ingest

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Fact is one normalized line item produced by document ingestion (PDF/XML/
// email parsing happens upstream). The ledger consumes facts; it never sees
// raw documents.
type Fact struct {
	EntityFreeText string          `validate:"required"`
	Quantity       decimal.Decimal `validate:"-"`
	UnitPrice      decimal.Decimal `validate:"-"`
	Currency       string          `validate:"required,len=3,alpha"`
	EffectiveAt    time.Time       `validate:"required"`
	SourceRef      string          `validate:"required"`
	UnitCode       string          `validate:"omitempty,max=10"`
}

// Result reports how a fact was applied.
type Result struct {
	EntityID   int64
	RecordID   int64
	Confidence float64
	// MatchedName is the canonical name the fact was linked to.
	MatchedName string
	// Created is set when no catalog entry matched and a raw material was
	// registered from the fact's description.
	Created bool
	// Flagged is set when the match was ambiguous; the fact is left unlinked
	// for manual review and no price is appended.
	Flagged bool
}

var (
	// ErrInvalidFact occurs when a fact fails validation.
	ErrInvalidFact = errors.New("ingest: invalid fact")
)
