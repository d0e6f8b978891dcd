package overdue

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bnpl/internal/plan/models"
	"bnpl/internal/plan/service"
	planstore "bnpl/internal/plan/store"
	trustmodels "bnpl/internal/trust/models"
	truststore "bnpl/internal/trust/store"
	outboxmemory "bnpl/pkg/platform/outbox/store/memory"
	platformsync "bnpl/pkg/platform/sync"
	"bnpl/pkg/testutil"
)

type sweeperFunc func(ctx context.Context, grace time.Duration, batchSize int) (*service.SweepResult, error)

func (f sweeperFunc) MarkOverdue(ctx context.Context, grace time.Duration, batchSize int) (*service.SweepResult, error) {
	return f(ctx, grace, batchSize)
}

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestNewValidatesSchedule(t *testing.T) {
	_, err := New(nil)
	require.Error(t, err)

	_, err = New(sweeperFunc(nil), WithSchedule("not a schedule"))
	require.Error(t, err)

	w, err := New(sweeperFunc(nil))
	require.NoError(t, err)
	assert.Zero(t, w.grace)
	assert.Equal(t, "@every 1h", w.schedule)
	assert.Equal(t, 500, w.batchSize)

	w, err = New(sweeperFunc(nil), WithSchedule("*/5 * * * *"), WithGracePeriod(time.Hour), WithBatchSize(10))
	require.NoError(t, err)
	assert.Equal(t, time.Hour, w.grace)
	assert.Equal(t, 10, w.batchSize)
}

func TestRunOncePassesConfiguration(t *testing.T) {
	var gotGrace time.Duration
	var gotBatch int
	w, err := New(sweeperFunc(func(_ context.Context, grace time.Duration, batch int) (*service.SweepResult, error) {
		gotGrace, gotBatch = grace, batch
		return &service.SweepResult{PlansScanned: 2, PlansUpdated: 1, InstallmentsMarked: 3}, nil
	}), WithGracePeriod(2*time.Hour), WithBatchSize(25), WithLogger(discard))
	require.NoError(t, err)

	result, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, result.InstallmentsMarked)
	assert.Equal(t, 2*time.Hour, gotGrace)
	assert.Equal(t, 25, gotBatch)
}

func TestRunOncePropagatesError(t *testing.T) {
	boom := errors.New("store down")
	w, err := New(sweeperFunc(func(context.Context, time.Duration, int) (*service.SweepResult, error) {
		return nil, boom
	}), WithLogger(discard))
	require.NoError(t, err)

	_, err = w.RunOnce(context.Background())
	require.ErrorIs(t, err, boom)
}

func TestStartRunsOnScheduleUntilCancelled(t *testing.T) {
	var runs atomic.Int32
	w, err := New(sweeperFunc(func(context.Context, time.Duration, int) (*service.SweepResult, error) {
		runs.Add(1)
		return &service.SweepResult{}, nil
	}), WithSchedule("@every 1s"), WithLogger(discard))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Start(ctx) }()

	require.Eventually(t, func() bool { return runs.Load() >= 1 }, 5*time.Second, 50*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop")
	}
}

// TestRunOnceAgainstLedger drives a real sweep through the in-memory ledger.
func TestRunOnceAgainstLedger(t *testing.T) {
	ctx := context.Background()
	plans := planstore.NewInMemory()
	profiles := truststore.NewInMemory()
	profile, err := trustmodels.NewProfile(testutil.TestIDs.UserID1, testutil.FixedNow)
	require.NoError(t, err)
	require.NoError(t, profiles.Create(ctx, profile))

	clock := testutil.NewClock(testutil.FixedNow)
	ledger := service.New(plans,
		service.NewShardedTx(platformsync.NewShardedMutex(), service.Stores{Plans: plans, Profiles: profiles, Outbox: outboxmemory.New()}),
		discard, service.WithClock(clock.Now))
	plan, err := ledger.Create(ctx, testutil.TestIDs.UserID1, testutil.TestIDs.OrderID, testutil.Money("400"))
	require.NoError(t, err)

	clock.Advance(31 * 24 * time.Hour)
	w, err := New(ledger, WithGracePeriod(24*time.Hour), WithLogger(discard))
	require.NoError(t, err)

	result, err := w.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, result.InstallmentsMarked)

	stored, err := ledger.Get(ctx, plan.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InstallmentOverdue, stored.Installments[2].Status)
	assert.Equal(t, models.InstallmentPending, stored.Installments[3].Status)
}
