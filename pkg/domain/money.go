package domain

import (
	"github.com/shopspring/decimal"

	dErrors "bnpl/pkg/domain-errors"
)

// MoneyScale is the number of fractional digits stored for currency and coin amounts.
const MoneyScale = 2

// MaxAmount is the largest value a NUMERIC(12,2) column can hold.
var MaxAmount = decimal.RequireFromString("9999999999.99")

// ParseAmount parses a strictly positive currency amount with at most two decimals.
func ParseAmount(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, dErrors.New(dErrors.CodeInvalidInput, "amount must be a decimal number")
	}
	if err := ValidateAmount(d); err != nil {
		return decimal.Zero, err
	}
	return d, nil
}

// ValidateAmount checks an already-decoded amount against the money rules.
func ValidateAmount(d decimal.Decimal) error {
	if !d.IsPositive() {
		return dErrors.New(dErrors.CodeInvalidInput, "amount must be greater than zero")
	}
	if !d.Equal(d.Round(MoneyScale)) {
		return dErrors.New(dErrors.CodeInvalidInput, "amount must have at most two decimal places")
	}
	if d.GreaterThan(MaxAmount) {
		return dErrors.New(dErrors.CodeInvalidInput, "amount exceeds maximum")
	}
	return nil
}
