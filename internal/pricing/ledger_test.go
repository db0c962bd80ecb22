package pricing

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

// memoryLedger implements RepositoryPort and TxPort in memory. The mutex held
// for the whole WithTx body stands in for the per-entity advisory lock.
type memoryLedger struct {
	mu      sync.Mutex
	records []PriceRecord
	nextID  int64
}

func newMemoryLedger() *memoryLedger {
	return &memoryLedger{nextID: 1}
}

func (m *memoryLedger) WithTx(ctx context.Context, fn func(context.Context, TxPort) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(ctx, (*memoryTx)(m))
}

func (m *memoryLedger) GetCurrent(ctx context.Context, entityID int64) (PriceRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range m.records {
		if rec.EntityID == entityID && rec.Open() {
			return rec, nil
		}
	}
	return PriceRecord{}, ErrNotFound
}

func (m *memoryLedger) GetAsOf(ctx context.Context, entityID int64, ts time.Time) (PriceRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range m.records {
		if rec.EntityID != entityID || ts.Before(rec.EffectiveFrom) {
			continue
		}
		if rec.EffectiveUntil == nil || ts.Before(*rec.EffectiveUntil) {
			return rec, nil
		}
	}
	return PriceRecord{}, ErrNotFound
}

func (m *memoryLedger) GetHistory(ctx context.Context, q HistoryQuery) ([]PriceRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []PriceRecord
	for i := len(m.records) - 1; i >= 0; i-- {
		rec := m.records[i]
		if rec.EntityID != q.EntityID {
			continue
		}
		if !q.From.IsZero() && rec.EffectiveFrom.Before(q.From) {
			continue
		}
		if !q.To.IsZero() && rec.EffectiveFrom.After(q.To) {
			continue
		}
		out = append(out, rec)
		if q.Limit > 0 && len(out) == q.Limit {
			break
		}
	}
	return out, nil
}

func (m *memoryLedger) ListIntegrityIssues(ctx context.Context) ([]IntegrityIssue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	open := map[int64]int{}
	for _, rec := range m.records {
		if rec.Open() {
			open[rec.EntityID]++
		}
	}
	var out []IntegrityIssue
	for id, n := range open {
		if n > 1 {
			out = append(out, IntegrityIssue{EntityID: id, OpenRecords: n})
		}
	}
	return out, nil
}

// seed installs a record bypassing the append path, for integrity scenarios.
func (m *memoryLedger) seed(rec PriceRecord) PriceRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec.ID = m.nextID
	m.nextID++
	m.records = append(m.records, rec)
	return rec
}

type memoryTx memoryLedger

func (t *memoryTx) LockEntity(ctx context.Context, entityID int64) error { return nil }

func (t *memoryTx) GetOpenForUpdate(ctx context.Context, entityID int64) (PriceRecord, error) {
	for _, rec := range t.records {
		if rec.EntityID == entityID && rec.Open() {
			return rec, nil
		}
	}
	return PriceRecord{}, ErrNotFound
}

func (t *memoryTx) ListOpenForUpdate(ctx context.Context, entityID int64) ([]PriceRecord, error) {
	var out []PriceRecord
	for i := len(t.records) - 1; i >= 0; i-- {
		rec := t.records[i]
		if rec.EntityID == entityID && rec.Open() {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (t *memoryTx) CloseRecord(ctx context.Context, recordID int64, until time.Time) error {
	for i, rec := range t.records {
		if rec.ID == recordID {
			u := until
			t.records[i].EffectiveUntil = &u
			return nil
		}
	}
	return ErrNotFound
}

func (t *memoryTx) InsertRecord(ctx context.Context, in AppendInput) (int64, error) {
	id := t.nextID
	t.nextID++
	t.records = append(t.records, PriceRecord{
		ID:            id,
		EntityID:      in.EntityID,
		Kind:          in.Kind,
		Value:         in.Value,
		Currency:      in.Currency,
		EffectiveFrom: in.EffectiveFrom,
		SourceRef:     in.SourceRef,
		CreatedAt:     time.Now(),
	})
	return id, nil
}

type captureNotifier struct {
	mu  sync.Mutex
	ids []int64
}

func (n *captureNotifier) OnPriceAppended(ctx context.Context, rawMaterialID int64) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.ids = append(n.ids, rawMaterialID)
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func newTestService(repo RepositoryPort, notifier CascadeNotifier) *Service {
	return NewService(repo, nil, notifier, testLogger(), ServiceConfig{MaxRetries: 3, RetryBase: time.Millisecond})
}

func appendInput(entityID int64, value string, from time.Time) AppendInput {
	return AppendInput{
		EntityID:      entityID,
		Kind:          KindRawMaterial,
		Value:         decimal.RequireFromString(value),
		Currency:      "BRL",
		EffectiveFrom: from,
		SourceRef:     "nf:1001",
	}
}

func TestAppendFirstPrice(t *testing.T) {
	repo := newMemoryLedger()
	svc := newTestService(repo, nil)
	from := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	id, err := svc.AppendPrice(context.Background(), appendInput(1, "12.5000", from))
	require.NoError(t, err)
	require.NotZero(t, id)

	cur, err := svc.GetCurrent(context.Background(), 1)
	require.NoError(t, err)
	require.True(t, cur.Open())
	require.True(t, cur.Value.Equal(decimal.RequireFromString("12.5")))
	require.Equal(t, from, cur.EffectiveFrom)
}

func TestAppendClosesPreviousGapless(t *testing.T) {
	repo := newMemoryLedger()
	svc := newTestService(repo, nil)
	t0 := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	t1 := t0.Add(48 * time.Hour)

	_, err := svc.AppendPrice(context.Background(), appendInput(1, "10.00", t0))
	require.NoError(t, err)
	_, err = svc.AppendPrice(context.Background(), appendInput(1, "12.00", t1))
	require.NoError(t, err)

	hist, err := svc.GetHistory(context.Background(), HistoryQuery{EntityID: 1})
	require.NoError(t, err)
	require.Len(t, hist, 2)

	require.True(t, hist[0].Open())
	require.Equal(t, t1, hist[0].EffectiveFrom)
	require.False(t, hist[1].Open())
	// The old record closes exactly where the new one starts.
	require.Equal(t, t1, *hist[1].EffectiveUntil)
}

func TestAppendOutOfOrder(t *testing.T) {
	repo := newMemoryLedger()
	svc := newTestService(repo, nil)
	t0 := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)

	_, err := svc.AppendPrice(context.Background(), appendInput(1, "10.00", t0))
	require.NoError(t, err)

	_, err = svc.AppendPrice(context.Background(), appendInput(1, "9.00", t0.Add(-time.Hour)))
	require.ErrorIs(t, err, ErrOutOfOrder)

	cur, err := svc.GetCurrent(context.Background(), 1)
	require.NoError(t, err)
	require.True(t, cur.Value.Equal(decimal.RequireFromString("10")))
}

func TestAppendValidation(t *testing.T) {
	svc := newTestService(newMemoryLedger(), nil)

	in := appendInput(1, "10.00", time.Time{})
	in.Value = decimal.RequireFromString("-1")
	_, err := svc.AppendPrice(context.Background(), in)
	require.ErrorIs(t, err, ErrNegativeValue)

	in = appendInput(1, "10.00", time.Time{})
	in.Currency = "REAIS"
	_, err = svc.AppendPrice(context.Background(), in)
	require.Error(t, err)

	in = appendInput(0, "10.00", time.Time{})
	_, err = svc.AppendPrice(context.Background(), in)
	require.Error(t, err)
}

func TestGetAsOf(t *testing.T) {
	repo := newMemoryLedger()
	svc := newTestService(repo, nil)
	t0 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	t1 := t0.AddDate(0, 1, 0)
	t2 := t0.AddDate(0, 2, 0)

	for i, v := range []string{"10.00", "11.00", "12.00"} {
		from := []time.Time{t0, t1, t2}[i]
		_, err := svc.AppendPrice(context.Background(), appendInput(1, v, from))
		require.NoError(t, err)
	}

	rec, err := svc.GetAsOf(context.Background(), 1, t1.Add(time.Hour))
	require.NoError(t, err)
	require.True(t, rec.Value.Equal(decimal.RequireFromString("11")))

	// Boundary: a record covers [from, until), so exactly t1 is the new price.
	rec, err = svc.GetAsOf(context.Background(), 1, t1)
	require.NoError(t, err)
	require.True(t, rec.Value.Equal(decimal.RequireFromString("11")))

	rec, err = svc.GetAsOf(context.Background(), 1, t2.AddDate(1, 0, 0))
	require.NoError(t, err)
	require.True(t, rec.Value.Equal(decimal.RequireFromString("12")))

	_, err = svc.GetAsOf(context.Background(), 1, t0.Add(-time.Minute))
	require.ErrorIs(t, err, ErrNotFound)
}

func TestConcurrentAppendsKeepOneOpen(t *testing.T) {
	repo := newMemoryLedger()
	svc := newTestService(repo, nil)
	from := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	const writers = 16
	errs := make(chan error, writers)
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			in := appendInput(1, decimal.NewFromInt(int64(10+i)).String(), from)
			_, err := svc.AppendPrice(context.Background(), in)
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	hist, err := svc.GetHistory(context.Background(), HistoryQuery{EntityID: 1})
	require.NoError(t, err)
	require.Len(t, hist, writers)

	open := 0
	for _, rec := range hist {
		if rec.Open() {
			open++
		}
	}
	require.Equal(t, 1, open)

	issues, err := svc.CheckIntegrity(context.Background())
	require.NoError(t, err)
	require.Empty(t, issues)
}

// flakyRepo fails the first N transactions with a serialization failure.
type flakyRepo struct {
	RepositoryPort
	mu        sync.Mutex
	remaining int
	attempts  int
}

func (f *flakyRepo) WithTx(ctx context.Context, fn func(context.Context, TxPort) error) error {
	f.mu.Lock()
	f.attempts++
	fail := f.remaining > 0
	if fail {
		f.remaining--
	}
	f.mu.Unlock()
	if fail {
		return &pgconn.PgError{Code: "40001", Message: "could not serialize access"}
	}
	return f.RepositoryPort.WithTx(ctx, fn)
}

func TestAppendRetriesSerializationFailure(t *testing.T) {
	repo := &flakyRepo{RepositoryPort: newMemoryLedger(), remaining: 2}
	svc := newTestService(repo, nil)

	id, err := svc.AppendPrice(context.Background(), appendInput(1, "10.00", time.Time{}))
	require.NoError(t, err)
	require.NotZero(t, id)
	require.Equal(t, 3, repo.attempts)
}

func TestAppendConflictAfterRetryBudget(t *testing.T) {
	repo := &flakyRepo{RepositoryPort: newMemoryLedger(), remaining: 10}
	svc := newTestService(repo, nil)

	_, err := svc.AppendPrice(context.Background(), appendInput(1, "10.00", time.Time{}))
	require.ErrorIs(t, err, ErrConflict)
	require.Equal(t, 4, repo.attempts)
}

func TestAppendNotifiesCascadeForRawMaterials(t *testing.T) {
	notifier := &captureNotifier{}
	svc := newTestService(newMemoryLedger(), notifier)

	_, err := svc.AppendPrice(context.Background(), appendInput(7, "10.00", time.Time{}))
	require.NoError(t, err)

	in := appendInput(9, "55.00", time.Time{})
	in.Kind = KindFinishedProduct
	_, err = svc.AppendPrice(context.Background(), in)
	require.NoError(t, err)

	require.Equal(t, []int64{7}, notifier.ids)
}

func TestRepairKeepsNewestOpenRecord(t *testing.T) {
	repo := newMemoryLedger()
	svc := newTestService(repo, nil)
	t0 := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	t1 := t0.Add(24 * time.Hour)

	stale := repo.seed(PriceRecord{
		EntityID: 1, Kind: KindRawMaterial,
		Value: decimal.RequireFromString("10.00"), Currency: "BRL",
		EffectiveFrom: t0,
	})
	keeper := repo.seed(PriceRecord{
		EntityID: 1, Kind: KindRawMaterial,
		Value: decimal.RequireFromString("12.00"), Currency: "BRL",
		EffectiveFrom: t1,
	})

	issues, err := svc.CheckIntegrity(context.Background())
	require.NoError(t, err)
	require.Equal(t, []IntegrityIssue{{EntityID: 1, OpenRecords: 2}}, issues)

	res, err := svc.Repair(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, keeper.ID, res.KeptID)
	require.Equal(t, []int64{stale.ID}, res.ClosedIDs)

	issues, err = svc.CheckIntegrity(context.Background())
	require.NoError(t, err)
	require.Empty(t, issues)

	// The stale record closed at the keeper's start, so intervals still tile.
	rec, err := svc.GetAsOf(context.Background(), 1, t0.Add(time.Hour))
	require.NoError(t, err)
	require.Equal(t, stale.ID, rec.ID)
	require.Equal(t, t1, *rec.EffectiveUntil)
}

func TestRepairNoOpenRecords(t *testing.T) {
	svc := newTestService(newMemoryLedger(), nil)

	_, err := svc.Repair(context.Background(), 42)
	require.ErrorIs(t, err, ErrNotFound)
}
