package models

import (
	"time"

	"github.com/shopspring/decimal"

	id "bnpl/pkg/domain"
	dErrors "bnpl/pkg/domain-errors"
)

// Profile is the one-per-user trust record. Counters only grow; the standing
// changes only through ApplyStanding, which is called by score recomputation.
type Profile struct {
	UserID                  id.UserID
	TotalPayments           int
	OnTimePayments          int
	TotalOrders             int
	DisputeCount            int
	AveragePaymentDelayDays float64
	DelaySamples            int
	CoinsBalance            decimal.Decimal
	CreatedAt               time.Time
	UpdatedAt               time.Time
	LastCalculatedAt        *time.Time

	standing Standing
}

// NewProfile returns a fresh profile: score 0, BRONZE, limit 500, zero counters and coins.
func NewProfile(userID id.UserID, now time.Time) (*Profile, error) {
	if userID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "user ID required")
	}
	if now.IsZero() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "creation time required")
	}
	return &Profile{
		UserID:       userID,
		CoinsBalance: decimal.Zero,
		CreatedAt:    now,
		UpdatedAt:    now,
		standing:     NewStanding(MinScore),
	}, nil
}

func (p *Profile) Standing() Standing           { return p.standing }
func (p *Profile) Score() int                   { return p.standing.score }
func (p *Profile) Tier() Tier                   { return p.standing.tier }
func (p *Profile) CreditLimit() decimal.Decimal { return p.standing.limit }

// ApplyStanding records the result of a score recomputation.
func (p *Profile) ApplyStanding(s Standing, at time.Time) {
	p.standing = s
	calculated := at
	p.LastCalculatedAt = &calculated
	p.UpdatedAt = at
}

// LoadStanding restores the persisted score when a store rehydrates a row.
// Tier and limit are re-derived rather than trusted from storage.
func (p *Profile) LoadStanding(score int) {
	p.standing = NewStanding(score)
}

// PaymentOutcome describes one settled installment for the counters.
type PaymentOutcome struct {
	OnTime    bool
	DelayDays float64 // zero when on time
	Tracked   bool    // contributes a delay sample
}

// RecordPayment bumps the payment counters and, for tracked payments,
// folds the delay into the running average.
func (p *Profile) RecordPayment(o PaymentOutcome, now time.Time) {
	p.TotalPayments++
	if o.OnTime {
		p.OnTimePayments++
	}
	if o.Tracked {
		delay := max(o.DelayDays, 0)
		p.DelaySamples++
		p.AveragePaymentDelayDays += (delay - p.AveragePaymentDelayDays) / float64(p.DelaySamples)
	}
	p.UpdatedAt = now
}

// AddCoins credits a non-negative amount.
func (p *Profile) AddCoins(amount decimal.Decimal, now time.Time) error {
	if amount.IsNegative() {
		return dErrors.New(dErrors.CodeInvalidInput, "coin amount must not be negative")
	}
	p.CoinsBalance = p.CoinsBalance.Add(amount)
	p.UpdatedAt = now
	return nil
}

// DebitCoins removes amount if the balance covers it.
func (p *Profile) DebitCoins(amount decimal.Decimal, now time.Time) error {
	if amount.GreaterThan(p.CoinsBalance) {
		return dErrors.WithDetails(dErrors.CodeInsufficientCoins, "insufficient coins", map[string]any{
			"balance":   p.CoinsBalance.StringFixed(2),
			"requested": amount.StringFixed(2),
		})
	}
	p.CoinsBalance = p.CoinsBalance.Sub(amount)
	p.UpdatedAt = now
	return nil
}

func (p *Profile) RecordOrder(now time.Time) {
	p.TotalOrders++
	p.UpdatedAt = now
}

func (p *Profile) RecordDispute(now time.Time) {
	p.DisputeCount++
	p.UpdatedAt = now
}

// Clone returns a deep copy safe to hand out of a store.
func (p *Profile) Clone() *Profile {
	cp := *p
	if p.LastCalculatedAt != nil {
		t := *p.LastCalculatedAt
		cp.LastCalculatedAt = &t
	}
	return &cp
}
