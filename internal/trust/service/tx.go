package service

import (
	"context"
	"time"

	id "bnpl/pkg/domain"
	platformsync "bnpl/pkg/platform/sync"
)

// StoreTx provides the per-user transactional boundary for profile mutations.
// Postgres implementations lock the profile row; the in-memory one holds the
// user's shard of a mutex shared with the plan ledger.
type StoreTx interface {
	RunInTx(ctx context.Context, userID id.UserID, fn func(ctx context.Context, store Store) error) error
}

type shardedTx struct {
	mu      *platformsync.ShardedMutex
	store   Store
	timeout time.Duration
}

// NewShardedTx returns the in-memory StoreTx. Pass the same mutex to the plan
// ledger so profile and plan mutations for a user serialize together.
func NewShardedTx(mu *platformsync.ShardedMutex, store Store) StoreTx {
	return &shardedTx{mu: mu, store: store}
}

func (t *shardedTx) RunInTx(ctx context.Context, userID id.UserID, fn func(ctx context.Context, store Store) error) error {
	return platformsync.RunLocked(ctx, t.mu, userID.String(), t.timeout, func(ctx context.Context) error {
		return fn(ctx, t.store)
	})
}
