package models

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Eligibility is the answer to "may this user take on amount more credit?".
type Eligibility struct {
	Eligible    bool
	Reason      string
	CreditLimit decimal.Decimal
	CurrentDebt decimal.Decimal
	Available   decimal.Decimal
}

// ReasonNoProfile is reported when the user has no trust profile yet.
const ReasonNoProfile = "no profile"

// NoProfileEligibility is the answer for unknown users: ineligible with a zero limit.
func NoProfileEligibility() Eligibility {
	return Eligibility{
		Reason:      ReasonNoProfile,
		CreditLimit: decimal.Zero,
		CurrentDebt: decimal.Zero,
		Available:   decimal.Zero,
	}
}

// EvaluateEligibility accepts when currentDebt + amount <= limit. The boundary is inclusive.
func EvaluateEligibility(limit, currentDebt, amount decimal.Decimal) Eligibility {
	available := decimal.Max(limit.Sub(currentDebt), decimal.Zero)
	e := Eligibility{
		Eligible:    currentDebt.Add(amount).LessThanOrEqual(limit),
		CreditLimit: limit,
		CurrentDebt: currentDebt,
		Available:   available,
	}
	if !e.Eligible {
		e.Reason = fmt.Sprintf("requested %s exceeds available credit %s (limit %s, outstanding %s)",
			amount.StringFixed(2), available.StringFixed(2), limit.StringFixed(2), currentDebt.StringFixed(2))
	}
	return e
}
