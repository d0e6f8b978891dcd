package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Outbox identifiers for plan events.
const (
	AggregatePlan          = "payment_plan"
	EventPaymentSucceeded  = "payment.succeeded"
	EventPlanCreated       = "plan.created"
	EventPlanStatusChanged = "plan.status_changed"
)

// PaymentSucceeded is appended to the outbox when an installment is paid.
// The outbox entry ID doubles as the follow-up's idempotency key.
type PaymentSucceeded struct {
	PlanID           uuid.UUID       `json:"plan_id"`
	UserID           uuid.UUID       `json:"user_id"`
	InstallmentIndex int             `json:"installment_index"`
	Amount           decimal.Decimal `json:"amount"`
	DueDate          time.Time       `json:"due_date"`
	PaidAt           time.Time       `json:"paid_at"`
	OnTime           bool            `json:"on_time"`
	DelayDays        int             `json:"delay_days"`
	PlanCompleted    bool            `json:"plan_completed"`
}

// PlanCreated is published downstream when a plan is approved.
type PlanCreated struct {
	PlanID      uuid.UUID       `json:"plan_id"`
	UserID      uuid.UUID       `json:"user_id"`
	OrderID     string          `json:"order_id"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	CreatedAt   time.Time       `json:"created_at"`
}

// PlanStatusChanged is published for admin transitions (cancel, default).
type PlanStatusChanged struct {
	PlanID    uuid.UUID `json:"plan_id"`
	UserID    uuid.UUID `json:"user_id"`
	From      Status    `json:"from"`
	To        Status    `json:"to"`
	ChangedAt time.Time `json:"changed_at"`
}

// NewPaymentSucceeded builds the event for a settled installment.
func NewPaymentSucceeded(p *Plan, pay *Payment) PaymentSucceeded {
	return PaymentSucceeded{
		PlanID:           uuid.UUID(p.ID),
		UserID:           uuid.UUID(p.UserID),
		InstallmentIndex: pay.Installment.Index,
		Amount:           pay.Installment.Amount,
		DueDate:          pay.Installment.DueDate,
		PaidAt:           *pay.Installment.PaidAt,
		OnTime:           pay.OnTime,
		DelayDays:        pay.DelayDays,
		PlanCompleted:    pay.Completed,
	}
}
