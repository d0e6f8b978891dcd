package storage

import (
	"context"
	"database/sql"

	planservice "bnpl/internal/plan/service"
	planstore "bnpl/internal/plan/store"
	"bnpl/internal/platform/database"
	trustservice "bnpl/internal/trust/service"
	truststore "bnpl/internal/trust/store"
	id "bnpl/pkg/domain"
	dErrors "bnpl/pkg/domain-errors"
	outboxpg "bnpl/pkg/platform/outbox/store/postgres"
)

// TrustTx scopes trust writes to one database transaction. Row locks taken by
// FindByUserForUpdate serialize writers across instances.
type TrustTx struct {
	db *sql.DB
}

func NewTrustTx(db *sql.DB) *TrustTx {
	return &TrustTx{db: db}
}

func (t *TrustTx) RunInTx(ctx context.Context, _ id.UserID, fn func(ctx context.Context, store trustservice.Store) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}
	return database.WithTx(ctx, t.db, func(ctx context.Context, tx *sql.Tx) error {
		return fn(ctx, truststore.NewPostgresTx(tx))
	})
}

// LedgerTx binds the plan, profile and outbox stores to one transaction so
// the credit gate, the plan write and its event commit together.
type LedgerTx struct {
	db *sql.DB
}

func NewLedgerTx(db *sql.DB) *LedgerTx {
	return &LedgerTx{db: db}
}

func (t *LedgerTx) RunInTx(ctx context.Context, _ id.UserID, fn func(ctx context.Context, stores planservice.Stores) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}
	return database.WithTx(ctx, t.db, func(ctx context.Context, tx *sql.Tx) error {
		return fn(ctx, planservice.Stores{
			Plans:    planstore.NewPostgresTx(tx),
			Profiles: truststore.NewPostgresTx(tx),
			Outbox:   outboxpg.NewTx(tx),
		})
	})
}
