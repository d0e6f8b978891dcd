package models

import (
	"github.com/shopspring/decimal"

	dErrors "bnpl/pkg/domain-errors"
)

// Tier is the trust band derived from a score.
type Tier string

const (
	TierBronze   Tier = "BRONZE"
	TierSilver   Tier = "SILVER"
	TierGold     Tier = "GOLD"
	TierPlatinum Tier = "PLATINUM"
)

// Score bounds.
const (
	MinScore = 0
	MaxScore = 1000
)

// Lower score bound of each tier above bronze.
const (
	silverFloor   = 300
	goldFloor     = 600
	platinumFloor = 800
)

var creditLimits = map[Tier]decimal.Decimal{
	TierBronze:   decimal.NewFromInt(500),
	TierSilver:   decimal.NewFromInt(1000),
	TierGold:     decimal.NewFromInt(1500),
	TierPlatinum: decimal.NewFromInt(2000),
}

func (t Tier) IsValid() bool {
	_, ok := creditLimits[t]
	return ok
}

func (t Tier) String() string { return string(t) }

// ParseTier validates a persisted or user-supplied tier name.
func ParseTier(s string) (Tier, error) {
	t := Tier(s)
	if !t.IsValid() {
		return "", dErrors.New(dErrors.CodeInvalidInput, "invalid tier: "+s)
	}
	return t, nil
}

// TierForScore maps a score to its tier. Out-of-range scores are clamped first.
func TierForScore(score int) Tier {
	switch score = clampScore(score); {
	case score >= platinumFloor:
		return TierPlatinum
	case score >= goldFloor:
		return TierGold
	case score >= silverFloor:
		return TierSilver
	default:
		return TierBronze
	}
}

// CreditLimitForTier returns the limit granted by a tier; unknown tiers get the bronze limit.
func CreditLimitForTier(t Tier) decimal.Decimal {
	if limit, ok := creditLimits[t]; ok {
		return limit
	}
	return creditLimits[TierBronze]
}

func clampScore(score int) int {
	return min(max(score, MinScore), MaxScore)
}
