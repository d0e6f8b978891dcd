package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bnpl/internal/plan/models"
	id "bnpl/pkg/domain"
	"bnpl/pkg/platform/sentinel"
	"bnpl/pkg/testutil"
)

func newPlan(t *testing.T, userID id.UserID, total string, createdAt time.Time) *models.Plan {
	t.Helper()
	p, err := models.NewPlan(id.NewPlanID(), userID, testutil.TestIDs.OrderID, testutil.Money(total), createdAt)
	require.NoError(t, err)
	return p
}

func TestInMemoryStoreOperations(t *testing.T) {
	store := NewInMemory()
	ctx := context.Background()
	plan := newPlan(t, testutil.TestIDs.UserID1, "200", testutil.FixedNow)

	require.NoError(t, store.Create(ctx, plan))
	require.ErrorIs(t, store.Create(ctx, plan), sentinel.ErrConflict)

	fetched, err := store.FindByIDForUpdate(ctx, plan.ID)
	require.NoError(t, err)
	_, err = fetched.Pay(0, testutil.FixedNow)
	require.NoError(t, err)
	require.NoError(t, store.Update(ctx, fetched))

	again, err := store.FindByID(ctx, plan.ID)
	require.NoError(t, err)
	assert.Equal(t, "150.00", again.RemainingBalance.StringFixed(2))
	assert.Equal(t, models.InstallmentPaid, again.Installments[0].Status)

	// Copy integrity
	again.Installments[1].Status = models.InstallmentPaid
	check, err := store.FindByID(ctx, plan.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InstallmentPending, check.Installments[1].Status)

	_, err = store.FindByID(ctx, testutil.TestIDs.PlanID2)
	require.ErrorIs(t, err, sentinel.ErrNotFound)
	require.ErrorIs(t, store.Update(ctx, newPlan(t, testutil.TestIDs.UserID1, "10", testutil.FixedNow)), sentinel.ErrNotFound)
}

func TestInMemoryStoreListByUserNewestFirst(t *testing.T) {
	store := NewInMemory()
	ctx := context.Background()
	older := newPlan(t, testutil.TestIDs.UserID1, "100", testutil.FixedNow)
	newer := newPlan(t, testutil.TestIDs.UserID1, "100", testutil.FixedNow.Add(time.Hour))
	sameInstant := newPlan(t, testutil.TestIDs.UserID1, "100", testutil.FixedNow.Add(time.Hour))
	other := newPlan(t, testutil.TestIDs.UserID2, "100", testutil.FixedNow)
	for _, p := range []*models.Plan{older, newer, sameInstant, other} {
		require.NoError(t, store.Create(ctx, p))
	}

	plans, err := store.ListByUser(ctx, testutil.TestIDs.UserID1)
	require.NoError(t, err)
	require.Len(t, plans, 3)
	assert.Equal(t, sameInstant.ID, plans[0].ID)
	assert.Equal(t, newer.ID, plans[1].ID)
	assert.Equal(t, older.ID, plans[2].ID)
}

func TestInMemoryStoreSumOutstanding(t *testing.T) {
	store := NewInMemory()
	ctx := context.Background()
	active := newPlan(t, testutil.TestIDs.UserID1, "200", testutil.FixedNow)
	_, err := active.Pay(0, testutil.FixedNow)
	require.NoError(t, err)
	cancelled := newPlan(t, testutil.TestIDs.UserID1, "300", testutil.FixedNow)
	require.NoError(t, cancelled.Cancel(testutil.FixedNow))
	other := newPlan(t, testutil.TestIDs.UserID2, "50", testutil.FixedNow)
	for _, p := range []*models.Plan{active, cancelled, other} {
		require.NoError(t, store.Create(ctx, p))
	}

	debt, err := store.SumOutstanding(ctx, testutil.TestIDs.UserID1)
	require.NoError(t, err)
	assert.Equal(t, "150.00", debt.StringFixed(2))
}

func TestInMemoryStoreOverdueCandidates(t *testing.T) {
	store := NewInMemory()
	ctx := context.Background()
	due := newPlan(t, testutil.TestIDs.UserID1, "200", testutil.FixedNow)
	fresh := newPlan(t, testutil.TestIDs.UserID1, "200", testutil.FixedNow.Add(30*24*time.Hour))
	paid := newPlan(t, testutil.TestIDs.UserID2, "200", testutil.FixedNow)
	_, err := paid.Pay(0, testutil.FixedNow)
	require.NoError(t, err)
	for _, p := range []*models.Plan{due, fresh, paid} {
		require.NoError(t, store.Create(ctx, p))
	}

	plans, err := store.ListOverdueCandidates(ctx, testutil.FixedNow.Add(time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, plans, 1)
	assert.Equal(t, due.ID, plans[0].ID)
}
