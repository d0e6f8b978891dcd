// Package cache holds read-through caches for trust profiles. Entries are
// snapshots for display; anything that gates credit reads the store.
package cache

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"bnpl/internal/trust/models"
	id "bnpl/pkg/domain"
)

const keyPrefix = "trust:profile:"

// InvalidationHold is how long Invalidate blocks repopulation of a key. Set
// only writes absent keys, so a read that raced the invalidating write cannot
// put the stale profile back while the hold lasts.
const InvalidationHold = 5 * time.Second

// tombstone marks an invalidated key in Redis.
const tombstone = "-"

func profileKey(userID id.UserID) string {
	return keyPrefix + userID.String()
}

// snapshot is the cached wire form. Tier and limit are not stored; they are
// re-derived from the score on load.
type snapshot struct {
	UserID                  uuid.UUID       `json:"user_id"`
	Score                   int             `json:"score"`
	TotalPayments           int             `json:"total_payments"`
	OnTimePayments          int             `json:"on_time_payments"`
	TotalOrders             int             `json:"total_orders"`
	DisputeCount            int             `json:"dispute_count"`
	AveragePaymentDelayDays float64         `json:"average_payment_delay_days"`
	DelaySamples            int             `json:"delay_samples"`
	CoinsBalance            decimal.Decimal `json:"coins_balance"`
	CreatedAt               time.Time       `json:"created_at"`
	UpdatedAt               time.Time       `json:"updated_at"`
	LastCalculatedAt        *time.Time      `json:"last_calculated_at,omitempty"`
}

func toSnapshot(p *models.Profile) snapshot {
	return snapshot{
		UserID:                  uuid.UUID(p.UserID),
		Score:                   p.Score(),
		TotalPayments:           p.TotalPayments,
		OnTimePayments:          p.OnTimePayments,
		TotalOrders:             p.TotalOrders,
		DisputeCount:            p.DisputeCount,
		AveragePaymentDelayDays: p.AveragePaymentDelayDays,
		DelaySamples:            p.DelaySamples,
		CoinsBalance:            p.CoinsBalance,
		CreatedAt:               p.CreatedAt,
		UpdatedAt:               p.UpdatedAt,
		LastCalculatedAt:        p.LastCalculatedAt,
	}
}

func (s snapshot) profile() *models.Profile {
	p := &models.Profile{
		UserID:                  id.UserID(s.UserID),
		TotalPayments:           s.TotalPayments,
		OnTimePayments:          s.OnTimePayments,
		TotalOrders:             s.TotalOrders,
		DisputeCount:            s.DisputeCount,
		AveragePaymentDelayDays: s.AveragePaymentDelayDays,
		DelaySamples:            s.DelaySamples,
		CoinsBalance:            s.CoinsBalance,
		CreatedAt:               s.CreatedAt,
		UpdatedAt:               s.UpdatedAt,
		LastCalculatedAt:        s.LastCalculatedAt,
	}
	p.LoadStanding(s.Score)
	return p
}
