package service

import (
	"context"
	"time"

	trustmodels "bnpl/internal/trust/models"
	id "bnpl/pkg/domain"
	"bnpl/pkg/platform/outbox"
	platformsync "bnpl/pkg/platform/sync"
)

// ProfileLocker is the slice of the trust profile store the gate needs.
// Inside a LedgerTx, FindByUserForUpdate holds the profile row until commit.
type ProfileLocker interface {
	FindByUserForUpdate(ctx context.Context, userID id.UserID) (*trustmodels.Profile, error)
}

// OutboxAppender records side effects inside the ledger transaction.
type OutboxAppender interface {
	Append(ctx context.Context, entry *outbox.Entry) error
}

// Stores is the unit of work handed to a LedgerTx callback. Every store in it
// shares one transaction.
type Stores struct {
	Plans    Store
	Profiles ProfileLocker
	Outbox   OutboxAppender
}

// LedgerTx runs fn as one unit of work serialized per user.
type LedgerTx interface {
	RunInTx(ctx context.Context, userID id.UserID, fn func(ctx context.Context, stores Stores) error) error
}

type shardedLedgerTx struct {
	mu      *platformsync.ShardedMutex
	stores  Stores
	timeout time.Duration
}

// NewShardedTx returns the in-memory LedgerTx. mu must be the mutex the trust
// service's StoreTx uses, so plan creation and score updates for one user
// never interleave.
func NewShardedTx(mu *platformsync.ShardedMutex, stores Stores) LedgerTx {
	return &shardedLedgerTx{mu: mu, stores: stores}
}

func (t *shardedLedgerTx) RunInTx(ctx context.Context, userID id.UserID, fn func(ctx context.Context, stores Stores) error) error {
	return platformsync.RunLocked(ctx, t.mu, userID.String(), t.timeout, func(ctx context.Context) error {
		return fn(ctx, t.stores)
	})
}
