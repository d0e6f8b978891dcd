package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	id "bnpl/pkg/domain"
	dErrors "bnpl/pkg/domain-errors"
)

// Status is the lifecycle state of a plan.
type Status string

const (
	StatusActive    Status = "ACTIVE"
	StatusCompleted Status = "COMPLETED"
	StatusDefaulted Status = "DEFAULTED"
	StatusCancelled Status = "CANCELLED"
)

func (s Status) IsValid() bool {
	switch s {
	case StatusActive, StatusCompleted, StatusDefaulted, StatusCancelled:
		return true
	}
	return false
}

func (s Status) String() string { return string(s) }

// IsTerminal reports whether no further transition is possible.
func (s Status) IsTerminal() bool { return s != StatusActive }

// Plan is one purchase split into installments. The schedule is fixed at
// creation; only installment status, paidAt, the balance and the plan status change.
type Plan struct {
	ID               id.PlanID
	UserID           id.UserID
	OrderID          id.OrderID
	TotalAmount      decimal.Decimal
	RemainingBalance decimal.Decimal
	Status           Status
	Installments     []Installment
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// NewPlan builds an ACTIVE plan with the standard four-part schedule starting at now.
func NewPlan(planID id.PlanID, userID id.UserID, orderID id.OrderID, total decimal.Decimal, now time.Time) (*Plan, error) {
	if planID.IsNil() || userID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "plan and user IDs required")
	}
	if orderID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "order ID required")
	}
	if err := id.ValidateAmount(total); err != nil {
		return nil, err
	}
	schedule, err := NewSchedule(total, now)
	if err != nil {
		return nil, err
	}
	return &Plan{
		ID:               planID,
		UserID:           userID,
		OrderID:          orderID,
		TotalAmount:      total,
		RemainingBalance: total,
		Status:           StatusActive,
		Installments:     schedule,
		CreatedAt:        now,
		UpdatedAt:        now,
	}, nil
}

// Outstanding is the plan's contribution to the user's current debt.
func (p *Plan) Outstanding() decimal.Decimal {
	if p.Status != StatusActive {
		return decimal.Zero
	}
	return p.RemainingBalance
}

// Installment returns the installment at index or InstallmentNotFound.
func (p *Plan) Installment(index int) (*Installment, error) {
	if index < 0 || index >= len(p.Installments) {
		return nil, dErrors.WithDetails(dErrors.CodeNotFound, "installment not found", map[string]any{
			"installment_index": index,
			"installments":      len(p.Installments),
		})
	}
	return &p.Installments[index], nil
}

// Payment is the outcome of settling one installment.
type Payment struct {
	Installment Installment
	OnTime      bool
	DelayDays   int
	Completed   bool
}

// Pay settles the installment at index. Paying a PAID installment returns
// AlreadyPaid and changes nothing.
func (p *Plan) Pay(index int, now time.Time) (*Payment, error) {
	inst, err := p.Installment(index)
	if err != nil {
		return nil, err
	}
	if inst.Status == InstallmentPaid {
		return nil, dErrors.WithDetails(dErrors.CodeAlreadyPaid, "installment already paid", map[string]any{
			"installment_index": index,
		})
	}
	if p.Status != StatusActive {
		return nil, dErrors.WithDetails(dErrors.CodeInvalidState, fmt.Sprintf("plan is %s", p.Status), map[string]any{
			"status": p.Status.String(),
		})
	}

	delay := inst.DelayDays(now)
	inst.markPaid(now)
	p.RemainingBalance = p.RemainingBalance.Sub(inst.Amount)
	if p.allPaid() {
		p.Status = StatusCompleted
		// guard against drift from a malformed schedule
		p.RemainingBalance = decimal.Zero
	}
	p.UpdatedAt = now
	return &Payment{
		Installment: *inst,
		OnTime:      delay == 0,
		DelayDays:   delay,
		Completed:   p.Status == StatusCompleted,
	}, nil
}

// MarkOverdue flags PENDING installments whose due date plus grace is before now.
// Only ACTIVE plans are swept. It returns the number of installments flagged.
func (p *Plan) MarkOverdue(now time.Time, grace time.Duration) int {
	if p.Status != StatusActive {
		return 0
	}
	flagged := 0
	for i := range p.Installments {
		inst := &p.Installments[i]
		if inst.Status == InstallmentPending && inst.DueDate.Add(grace).Before(now) {
			inst.Status = InstallmentOverdue
			flagged++
		}
	}
	if flagged > 0 {
		p.UpdatedAt = now
	}
	return flagged
}

// Cancel moves an ACTIVE plan with no payments to CANCELLED.
func (p *Plan) Cancel(now time.Time) error {
	if p.Status != StatusActive {
		return p.invalidTransition(StatusCancelled)
	}
	if p.paidCount() > 0 {
		return dErrors.WithDetails(dErrors.CodeInvalidState, "plan has payments and cannot be cancelled", map[string]any{
			"paid_installments": p.paidCount(),
		})
	}
	p.Status = StatusCancelled
	p.UpdatedAt = now
	return nil
}

// Default moves an ACTIVE plan with at least one OVERDUE installment to DEFAULTED.
func (p *Plan) Default(now time.Time) error {
	if p.Status != StatusActive {
		return p.invalidTransition(StatusDefaulted)
	}
	if !p.hasOverdue() {
		return dErrors.New(dErrors.CodeInvalidState, "plan has no overdue installment")
	}
	p.Status = StatusDefaulted
	p.UpdatedAt = now
	return nil
}

// Validate checks the balance and completion invariants.
func (p *Plan) Validate() error {
	paid := decimal.Zero
	scheduled := decimal.Zero
	for _, inst := range p.Installments {
		scheduled = scheduled.Add(inst.Amount)
		if inst.Status == InstallmentPaid {
			paid = paid.Add(inst.Amount)
		}
	}
	switch {
	case !scheduled.Equal(p.TotalAmount):
		return dErrors.New(dErrors.CodeInvariantViolation, "installments do not sum to total")
	case !p.RemainingBalance.Equal(p.TotalAmount.Sub(paid)):
		return dErrors.New(dErrors.CodeInvariantViolation, "remaining balance does not match payments")
	case p.RemainingBalance.IsNegative():
		return dErrors.New(dErrors.CodeInvariantViolation, "remaining balance is negative")
	case (p.Status == StatusCompleted) != p.allPaid():
		return dErrors.New(dErrors.CodeInvariantViolation, "completion does not match installment state")
	}
	return nil
}

// Clone returns a deep copy.
func (p *Plan) Clone() *Plan {
	cp := *p
	cp.Installments = make([]Installment, len(p.Installments))
	for i, inst := range p.Installments {
		cp.Installments[i] = inst.clone()
	}
	return &cp
}

func (p *Plan) allPaid() bool {
	return len(p.Installments) > 0 && p.paidCount() == len(p.Installments)
}

func (p *Plan) paidCount() int {
	n := 0
	for _, inst := range p.Installments {
		if inst.Status == InstallmentPaid {
			n++
		}
	}
	return n
}

func (p *Plan) hasOverdue() bool {
	for _, inst := range p.Installments {
		if inst.Status == InstallmentOverdue {
			return true
		}
	}
	return false
}

func (p *Plan) invalidTransition(to Status) error {
	return dErrors.WithDetails(dErrors.CodeInvalidState,
		fmt.Sprintf("cannot move plan from %s to %s", p.Status, to),
		map[string]any{"status": p.Status.String()})
}
