package ingest

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/mercurio-erp/mercurio-erp/internal/catalog"
	"github.com/mercurio-erp/mercurio-erp/internal/pricing"
)

type fakeResolver struct {
	resolution catalog.Resolution
	err        error
	seen       []string
}

func (f *fakeResolver) Resolve(ctx context.Context, freeText string) (catalog.Resolution, error) {
	f.seen = append(f.seen, freeText)
	if f.err != nil {
		return catalog.Resolution{}, f.err
	}
	return f.resolution, nil
}

type fakeRegistrar struct {
	nextID int64
	inputs []catalog.RegisterInput
}

func (f *fakeRegistrar) RegisterRawMaterial(ctx context.Context, in catalog.RegisterInput) (int64, error) {
	f.inputs = append(f.inputs, in)
	return f.nextID, nil
}

type fakeLedger struct {
	nextRecordID int64
	appends      []pricing.AppendInput
}

func (f *fakeLedger) AppendPrice(ctx context.Context, in pricing.AppendInput) (int64, error) {
	f.appends = append(f.appends, in)
	return f.nextRecordID, nil
}

func validFact() Fact {
	return Fact{
		EntityFreeText: "FIO 2.0X7.0 CANTO QUADRADO",
		Quantity:       decimal.RequireFromString("25"),
		UnitPrice:      decimal.RequireFromString("12.50"),
		Currency:       "BRL",
		EffectiveAt:    time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
		SourceRef:      "nf:1001",
		UnitCode:       "KG",
	}
}

func newTestIngest(resolver *fakeResolver, registrar *fakeRegistrar, ledger *fakeLedger) *Service {
	return NewService(resolver, registrar, ledger, slog.New(slog.DiscardHandler))
}

func TestApplyMatchedFact(t *testing.T) {
	resolver := &fakeResolver{resolution: catalog.Resolution{EntityID: 7, MatchedName: "FIO 2.0X7.0 CANTO QUADRADO", Confidence: 1.0}}
	ledger := &fakeLedger{nextRecordID: 42}
	svc := newTestIngest(resolver, &fakeRegistrar{}, ledger)

	fact := validFact()
	res, err := svc.Apply(context.Background(), fact)
	require.NoError(t, err)
	require.Equal(t, int64(7), res.EntityID)
	require.Equal(t, int64(42), res.RecordID)
	require.Equal(t, 1.0, res.Confidence)
	require.False(t, res.Created)
	require.False(t, res.Flagged)

	require.Len(t, ledger.appends, 1)
	appended := ledger.appends[0]
	require.Equal(t, int64(7), appended.EntityID)
	require.Equal(t, pricing.KindRawMaterial, appended.Kind)
	require.True(t, appended.Value.Equal(fact.UnitPrice))
	require.Equal(t, fact.EffectiveAt, appended.EffectiveFrom)
	require.Equal(t, "nf:1001", appended.SourceRef)
}

func TestApplyUnmatchedFactRegisters(t *testing.T) {
	resolver := &fakeResolver{err: catalog.ErrNotFound}
	registrar := &fakeRegistrar{nextID: 31}
	ledger := &fakeLedger{nextRecordID: 9}
	svc := newTestIngest(resolver, registrar, ledger)

	res, err := svc.Apply(context.Background(), validFact())
	require.NoError(t, err)
	require.True(t, res.Created)
	require.Equal(t, int64(31), res.EntityID)
	require.Equal(t, int64(9), res.RecordID)

	require.Len(t, registrar.inputs, 1)
	require.Equal(t, "FIO 2.0X7.0 CANTO QUADRADO", registrar.inputs[0].Name)
	require.Equal(t, "KG", registrar.inputs[0].UnitCode)
	require.Len(t, ledger.appends, 1)
	require.Equal(t, int64(31), ledger.appends[0].EntityID)
}

func TestApplyAmbiguousFactFlagged(t *testing.T) {
	resolver := &fakeResolver{resolution: catalog.Resolution{EntityID: 3, Confidence: 0.5, Ambiguous: true}}
	ledger := &fakeLedger{}
	svc := newTestIngest(resolver, &fakeRegistrar{}, ledger)

	res, err := svc.Apply(context.Background(), validFact())
	require.NoError(t, err)
	require.True(t, res.Flagged)
	require.Equal(t, int64(3), res.EntityID)
	// Flagged facts wait for manual linking; nothing reaches the ledger.
	require.Empty(t, ledger.appends)
}

func TestApplyEmptyDescription(t *testing.T) {
	resolver := &fakeResolver{err: catalog.ErrEmptyInput}
	svc := newTestIngest(resolver, &fakeRegistrar{}, &fakeLedger{})

	fact := validFact()
	fact.EntityFreeText = "-_-"
	_, err := svc.Apply(context.Background(), fact)
	require.ErrorIs(t, err, ErrInvalidFact)
}

func TestApplyInvalidFacts(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Fact)
	}{
		{"missing description", func(f *Fact) { f.EntityFreeText = "" }},
		{"bad currency", func(f *Fact) { f.Currency = "REAIS" }},
		{"numeric currency", func(f *Fact) { f.Currency = "123" }},
		{"missing timestamp", func(f *Fact) { f.EffectiveAt = time.Time{} }},
		{"missing source", func(f *Fact) { f.SourceRef = "" }},
		{"negative price", func(f *Fact) { f.UnitPrice = decimal.RequireFromString("-1") }},
		{"zero quantity", func(f *Fact) { f.Quantity = decimal.Zero }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resolver := &fakeResolver{}
			svc := newTestIngest(resolver, &fakeRegistrar{}, &fakeLedger{})

			fact := validFact()
			tc.mutate(&fact)
			_, err := svc.Apply(context.Background(), fact)
			require.ErrorIs(t, err, ErrInvalidFact)
			// Validation rejects before any lookup happens.
			require.Empty(t, resolver.seen)
		})
	}
}
