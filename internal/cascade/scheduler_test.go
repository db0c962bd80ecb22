package cascade

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeLookup struct {
	affected map[int64][]int64
	err      error
}

func (f *fakeLookup) ListAffectedProducts(ctx context.Context, rawMaterialID int64) ([]int64, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.affected[rawMaterialID], nil
}

type fakeEnqueuer struct {
	enqueued []int64
	failOn   map[int64]error
}

func (f *fakeEnqueuer) EnqueueProductRecompute(ctx context.Context, productID int64) error {
	if err, ok := f.failOn[productID]; ok {
		return err
	}
	f.enqueued = append(f.enqueued, productID)
	return nil
}

func newTestScheduler(lookup *fakeLookup, enq *fakeEnqueuer) *Scheduler {
	return NewScheduler(lookup, enq, slog.New(slog.DiscardHandler))
}

func TestOnPriceAppendedFansOut(t *testing.T) {
	lookup := &fakeLookup{affected: map[int64][]int64{1: {100, 101, 102}}}
	enq := &fakeEnqueuer{}
	sched := newTestScheduler(lookup, enq)

	err := sched.OnPriceAppended(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, []int64{100, 101, 102}, enq.enqueued)
}

func TestOnPriceAppendedNoDependents(t *testing.T) {
	sched := newTestScheduler(&fakeLookup{affected: map[int64][]int64{}}, &fakeEnqueuer{})

	err := sched.OnPriceAppended(context.Background(), 1)
	require.NoError(t, err)
}

func TestOnPriceAppendedContinuesPastEnqueueFailure(t *testing.T) {
	lookup := &fakeLookup{affected: map[int64][]int64{1: {100, 101, 102}}}
	boom := errors.New("queue unavailable")
	enq := &fakeEnqueuer{failOn: map[int64]error{101: boom}}
	sched := newTestScheduler(lookup, enq)

	err := sched.OnPriceAppended(context.Background(), 1)
	require.ErrorIs(t, err, boom)
	// The failure in the middle does not stop the products after it.
	require.Equal(t, []int64{100, 102}, enq.enqueued)
}

func TestOnPriceAppendedLookupFailure(t *testing.T) {
	boom := errors.New("db down")
	sched := newTestScheduler(&fakeLookup{err: boom}, &fakeEnqueuer{})

	err := sched.OnPriceAppended(context.Background(), 1)
	require.ErrorIs(t, err, boom)
}
