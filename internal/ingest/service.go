package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/go-playground/validator/v10"

	"github.com/mercurio-erp/mercurio-erp/internal/catalog"
	"github.com/mercurio-erp/mercurio-erp/internal/pricing"
)

// ResolverPort matches free text against the catalog.
type ResolverPort interface {
	Resolve(ctx context.Context, freeText string) (catalog.Resolution, error)
}

// RegistrarPort creates raw materials for unmatched descriptions. The
// resolver itself never creates entities; that decision sits here, at the
// ingestion boundary.
type RegistrarPort interface {
	RegisterRawMaterial(ctx context.Context, in catalog.RegisterInput) (int64, error)
}

// LedgerPort appends resolved prices.
type LedgerPort interface {
	AppendPrice(ctx context.Context, in pricing.AppendInput) (int64, error)
}

// Service applies ingestion facts to the ledger.
type Service struct {
	resolver  ResolverPort
	registrar RegistrarPort
	ledger    LedgerPort
	validate  *validator.Validate
	logger    *slog.Logger
}

// NewService builds the ingestion service.
func NewService(resolver ResolverPort, registrar RegistrarPort, ledger LedgerPort, logger *slog.Logger) *Service {
	return &Service{
		resolver:  resolver,
		registrar: registrar,
		ledger:    ledger,
		validate:  validator.New(),
		logger:    logger,
	}
}

// Apply resolves the fact's description and appends its unit price to the
// ledger. Unmatched descriptions register a new raw material; ambiguous
// matches are returned flagged for manual linking instead of failing hard.
func (s *Service) Apply(ctx context.Context, fact Fact) (Result, error) {
	if err := s.validateFact(fact); err != nil {
		return Result{}, err
	}

	result := Result{}
	resolution, err := s.resolver.Resolve(ctx, fact.EntityFreeText)
	switch {
	case err == nil:
		result.EntityID = resolution.EntityID
		result.Confidence = resolution.Confidence
		result.MatchedName = resolution.MatchedName
		if resolution.Ambiguous {
			result.Flagged = true
			if s.logger != nil {
				s.logger.Warn("ambiguous match left unlinked",
					slog.String("description", fact.EntityFreeText),
					slog.Int64("candidate_id", resolution.EntityID))
			}
			return result, nil
		}
	case errors.Is(err, catalog.ErrNotFound):
		id, err := s.registrar.RegisterRawMaterial(ctx, catalog.RegisterInput{
			Name:     fact.EntityFreeText,
			UnitCode: fact.UnitCode,
		})
		if err != nil {
			return Result{}, err
		}
		result.EntityID = id
		result.Created = true
		result.Confidence = 1.0
		if s.logger != nil {
			s.logger.Info("raw material registered from fact",
				slog.Int64("entity_id", id),
				slog.String("description", fact.EntityFreeText))
		}
	case errors.Is(err, catalog.ErrEmptyInput):
		return Result{}, fmt.Errorf("%w: %v", ErrInvalidFact, err)
	default:
		return Result{}, err
	}

	recordID, err := s.ledger.AppendPrice(ctx, pricing.AppendInput{
		EntityID:      result.EntityID,
		Kind:          pricing.KindRawMaterial,
		Value:         fact.UnitPrice,
		Currency:      fact.Currency,
		EffectiveFrom: fact.EffectiveAt,
		SourceRef:     fact.SourceRef,
	})
	if err != nil {
		return Result{}, err
	}
	result.RecordID = recordID
	return result, nil
}

func (s *Service) validateFact(fact Fact) error {
	if err := s.validate.Struct(fact); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidFact, err)
	}
	if fact.UnitPrice.IsNegative() {
		return fmt.Errorf("%w: unit price must be non-negative", ErrInvalidFact)
	}
	if !fact.Quantity.IsPositive() {
		return fmt.Errorf("%w: quantity must be positive", ErrInvalidFact)
	}
	return nil
}
