package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bnpl/internal/trust/models"
	"bnpl/pkg/platform/sentinel"
	"bnpl/pkg/testutil"
)

func TestMemoryCache(t *testing.T) {
	ctx := context.Background()
	clock := testutil.NewClock(testutil.FixedNow)
	c := NewMemoryCache(time.Minute)
	c.now = clock.Now

	p, err := models.NewProfile(testutil.TestIDs.UserID1, testutil.FixedNow)
	require.NoError(t, err)
	p.ApplyStanding(models.NewStanding(610), testutil.FixedNow)

	_, err = c.Get(ctx, p.UserID)
	require.ErrorIs(t, err, sentinel.ErrNotFound)

	require.NoError(t, c.Set(ctx, p))
	cached, err := c.Get(ctx, p.UserID)
	require.NoError(t, err)
	assert.Equal(t, models.TierGold, cached.Tier())

	t.Run("returned profile is a copy", func(t *testing.T) {
		cached.TotalOrders = 42
		again, err := c.Get(ctx, p.UserID)
		require.NoError(t, err)
		assert.Equal(t, 0, again.TotalOrders)
	})

	t.Run("expires after ttl", func(t *testing.T) {
		clock.Advance(time.Minute)
		_, err := c.Get(ctx, p.UserID)
		require.ErrorIs(t, err, sentinel.ErrNotFound)
	})

	t.Run("invalidate removes entry", func(t *testing.T) {
		require.NoError(t, c.Set(ctx, p))
		require.NoError(t, c.Invalidate(ctx, p.UserID))
		_, err := c.Get(ctx, p.UserID)
		require.ErrorIs(t, err, sentinel.ErrNotFound)
	})

	t.Run("read started before invalidation cannot repopulate", func(t *testing.T) {
		stale := p.Clone()
		require.NoError(t, c.Invalidate(ctx, p.UserID))
		require.NoError(t, c.Set(ctx, stale))
		_, err := c.Get(ctx, p.UserID)
		require.ErrorIs(t, err, sentinel.ErrNotFound)

		clock.Advance(InvalidationHold)
		fresh := p.Clone()
		fresh.RecordOrder(testutil.FixedNow)
		require.NoError(t, c.Set(ctx, fresh))
		cached, err := c.Get(ctx, p.UserID)
		require.NoError(t, err)
		assert.Equal(t, 1, cached.TotalOrders)
	})
}

func TestSnapshotRederivesStanding(t *testing.T) {
	p, err := models.NewProfile(testutil.TestIDs.UserID1, testutil.FixedNow)
	require.NoError(t, err)
	p.ApplyStanding(models.NewStanding(805), testutil.FixedNow)
	p.CoinsBalance = testutil.Money("12.50")

	restored := toSnapshot(p).profile()
	assert.Equal(t, 805, restored.Score())
	assert.Equal(t, models.TierPlatinum, restored.Tier())
	assert.Equal(t, "2000.00", restored.CreditLimit().StringFixed(2))
	assert.Equal(t, "12.50", restored.CoinsBalance.StringFixed(2))
	require.NotNil(t, restored.LastCalculatedAt)
}
