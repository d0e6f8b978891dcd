package models

import (
	"time"

	"github.com/shopspring/decimal"

	id "bnpl/pkg/domain"
	dErrors "bnpl/pkg/domain-errors"
)

// InstallmentStatus is the state of one scheduled payment.
type InstallmentStatus string

const (
	InstallmentPending InstallmentStatus = "PENDING"
	InstallmentPaid    InstallmentStatus = "PAID"
	InstallmentOverdue InstallmentStatus = "OVERDUE"
)

func (s InstallmentStatus) IsValid() bool {
	switch s {
	case InstallmentPending, InstallmentPaid, InstallmentOverdue:
		return true
	}
	return false
}

const (
	InstallmentCount    = 4
	InstallmentInterval = 14 * 24 * time.Hour
)

// Installment is one scheduled payment. Index is zero-based.
type Installment struct {
	Index   int
	DueDate time.Time
	Amount  decimal.Decimal
	Status  InstallmentStatus
	PaidAt  *time.Time
}

// NewSchedule splits total into InstallmentCount cent-rounded parts due every
// InstallmentInterval from start. The last part absorbs the rounding remainder.
func NewSchedule(total decimal.Decimal, start time.Time) ([]Installment, error) {
	if err := id.ValidateAmount(total); err != nil {
		return nil, err
	}
	part := total.Div(decimal.NewFromInt(InstallmentCount)).RoundDown(id.MoneyScale)
	schedule := make([]Installment, InstallmentCount)
	allocated := decimal.Zero
	for i := range schedule {
		amount := part
		if i == InstallmentCount-1 {
			amount = total.Sub(allocated)
		}
		if !amount.IsPositive() {
			return nil, dErrors.New(dErrors.CodeInvalidInput, "amount too small to split into installments")
		}
		allocated = allocated.Add(amount)
		schedule[i] = Installment{
			Index:   i,
			DueDate: start.Add(time.Duration(i) * InstallmentInterval),
			Amount:  amount,
			Status:  InstallmentPending,
		}
	}
	return schedule, nil
}

// DelayDays is the number of whole calendar days (UTC) between the due date
// and at. Paying on or before the due day is zero.
func (i Installment) DelayDays(at time.Time) int {
	due := utcDay(i.DueDate)
	paid := utcDay(at)
	if !paid.After(due) {
		return 0
	}
	return int(paid.Sub(due).Hours() / 24)
}

func (i *Installment) markPaid(at time.Time) {
	paidAt := at
	i.Status = InstallmentPaid
	i.PaidAt = &paidAt
}

func (i Installment) clone() Installment {
	if i.PaidAt != nil {
		t := *i.PaidAt
		i.PaidAt = &t
	}
	return i
}

func utcDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
