package models

import "github.com/shopspring/decimal"

// Standing is the derived part of a profile: score, tier and credit limit.
// Its fields are unexported so tier and limit can never disagree with the score.
type Standing struct {
	score int
	tier  Tier
	limit decimal.Decimal
}

// NewStanding derives tier and limit from a score clamped to [MinScore, MaxScore].
func NewStanding(score int) Standing {
	score = clampScore(score)
	tier := TierForScore(score)
	return Standing{score: score, tier: tier, limit: CreditLimitForTier(tier)}
}

func (s Standing) Score() int                   { return s.score }
func (s Standing) Tier() Tier                   { return s.tier }
func (s Standing) CreditLimit() decimal.Decimal { return s.limit }

// Equal reports whether two standings carry the same score.
func (s Standing) Equal(o Standing) bool { return s.score == o.score }
