// Package storage assembles a consistent set of stores and transaction
// runners for the engine, backed by postgres or by memory.
package storage

import (
	"database/sql"

	planservice "bnpl/internal/plan/service"
	planstore "bnpl/internal/plan/store"
	trustservice "bnpl/internal/trust/service"
	truststore "bnpl/internal/trust/store"
	"bnpl/pkg/platform/outbox"
	outboxmemory "bnpl/pkg/platform/outbox/store/memory"
	outboxpg "bnpl/pkg/platform/outbox/store/postgres"
	platformsync "bnpl/pkg/platform/sync"
)

type Backend struct {
	Name     string
	Profiles trustservice.Store
	TrustTx  trustservice.StoreTx
	Plans    planservice.Store
	LedgerTx planservice.LedgerTx
	Outbox   outbox.Store
}

func NewPostgres(db *sql.DB) *Backend {
	return &Backend{
		Name:     "postgres",
		Profiles: truststore.NewPostgres(db),
		TrustTx:  NewTrustTx(db),
		Plans:    planstore.NewPostgres(db),
		LedgerTx: NewLedgerTx(db),
		Outbox:   outboxpg.New(db),
	}
}

// NewMemory shares one sharded mutex between the trust and ledger
// transactions so a user's profile and plan writes serialize together.
func NewMemory() *Backend {
	mu := platformsync.NewShardedMutex()
	profiles := truststore.NewInMemory()
	plans := planstore.NewInMemory()
	outboxStore := outboxmemory.New()
	return &Backend{
		Name:     "memory",
		Profiles: profiles,
		TrustTx:  trustservice.NewShardedTx(mu, profiles),
		Plans:    plans,
		LedgerTx: planservice.NewShardedTx(mu, planservice.Stores{Plans: plans, Profiles: profiles, Outbox: outboxStore}),
		Outbox:   outboxStore,
	}
}
