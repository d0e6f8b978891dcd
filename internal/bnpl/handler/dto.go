package handler

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	planmodels "bnpl/internal/plan/models"
	planservice "bnpl/internal/plan/service"
	trustmodels "bnpl/internal/trust/models"
	trustservice "bnpl/internal/trust/service"
	id "bnpl/pkg/domain"
	dErrors "bnpl/pkg/domain-errors"
	"bnpl/pkg/validation"
)

// CreateProfileRequest creates (or returns) the caller's trust profile.
type CreateProfileRequest struct {
	UserID string `json:"user_id" validate:"required,uuid"`
}

func (r *CreateProfileRequest) Normalize() { validation.TrimSpace(&r.UserID) }

func (r *CreateProfileRequest) Validate() error { return validation.Validate(r) }

// CreatePlanRequest asks for a new installment plan.
type CreatePlanRequest struct {
	UserID      string `json:"user_id" validate:"required,uuid"`
	OrderID     string `json:"order_id" validate:"required,notblank,max=128"`
	TotalAmount string `json:"total_amount" validate:"required,money"`
}

func (r *CreatePlanRequest) Normalize() { validation.TrimSpace(&r.UserID, &r.OrderID, &r.TotalAmount) }

func (r *CreatePlanRequest) Validate() error { return validation.Validate(r) }

// CoinsRequest carries a coin amount to use or redeem.
type CoinsRequest struct {
	Amount string `json:"amount" validate:"required,money"`
}

func (r *CoinsRequest) Normalize() { validation.TrimSpace(&r.Amount) }

func (r *CoinsRequest) Validate() error { return validation.Validate(r) }

// PaymentCompletedRequest is the HTTP form of the payment_completed event.
type PaymentCompletedRequest struct {
	EventID string `json:"event_id" validate:"omitempty,uuid"`
	UserID  string `json:"user_id" validate:"required,uuid"`
}

func (r *PaymentCompletedRequest) Normalize() { validation.TrimSpace(&r.EventID, &r.UserID) }

func (r *PaymentCompletedRequest) Validate() error { return validation.Validate(r) }

// AwardCoinsRequest is the HTTP form of the award_coins event.
type AwardCoinsRequest struct {
	EventID string `json:"event_id" validate:"omitempty,uuid"`
	UserID  string `json:"user_id" validate:"required,uuid"`
	Amount  string `json:"amount" validate:"required,money"`
}

func (r *AwardCoinsRequest) Normalize() { validation.TrimSpace(&r.EventID, &r.UserID, &r.Amount) }

func (r *AwardCoinsRequest) Validate() error { return validation.Validate(r) }

// SweepRequest overrides the configured grace period and batch size for one run.
type SweepRequest struct {
	GracePeriod string `json:"grace_period"`
	BatchSize   int    `json:"batch_size" validate:"min=0,max=10000"`
}

func (r *SweepRequest) Validate() error {
	if r.GracePeriod != "" {
		d, err := time.ParseDuration(r.GracePeriod)
		if err != nil || d < 0 {
			return dErrors.New(dErrors.CodeValidation, "grace_period must be a non-negative duration")
		}
	}
	return validation.Validate(r)
}

// Grace returns the requested grace period or def when none was given.
func (r *SweepRequest) Grace(def time.Duration) time.Duration {
	if r.GracePeriod == "" {
		return def
	}
	d, _ := time.ParseDuration(r.GracePeriod)
	return d
}

// parseEventID returns uuid.Nil for an absent id; the request was validated already.
func parseEventID(raw string) uuid.UUID {
	if raw == "" {
		return uuid.Nil
	}
	return uuid.MustParse(raw)
}

type ProfileResponse struct {
	UserID                  string     `json:"user_id"`
	Score                   int        `json:"score"`
	Tier                    string     `json:"tier"`
	CreditLimit             string     `json:"credit_limit"`
	TotalPayments           int        `json:"total_payments"`
	OnTimePayments          int        `json:"on_time_payments"`
	TotalOrders             int        `json:"total_orders"`
	DisputeCount            int        `json:"dispute_count"`
	AveragePaymentDelayDays float64    `json:"average_payment_delay_days"`
	CoinsBalance            string     `json:"coins_balance"`
	CreatedAt               time.Time  `json:"created_at"`
	UpdatedAt               time.Time  `json:"updated_at"`
	LastCalculatedAt        *time.Time `json:"last_calculated_at,omitempty"`
}

func toProfileResponse(p *trustmodels.Profile) ProfileResponse {
	return ProfileResponse{
		UserID:                  p.UserID.String(),
		Score:                   p.Score(),
		Tier:                    p.Tier().String(),
		CreditLimit:             money(p.CreditLimit()),
		TotalPayments:           p.TotalPayments,
		OnTimePayments:          p.OnTimePayments,
		TotalOrders:             p.TotalOrders,
		DisputeCount:            p.DisputeCount,
		AveragePaymentDelayDays: p.AveragePaymentDelayDays,
		CoinsBalance:            money(p.CoinsBalance),
		CreatedAt:               p.CreatedAt,
		UpdatedAt:               p.UpdatedAt,
		LastCalculatedAt:        p.LastCalculatedAt,
	}
}

type EligibilityResponse struct {
	Eligible    bool   `json:"eligible"`
	Reason      string `json:"reason,omitempty"`
	CreditLimit string `json:"credit_limit"`
	CurrentDebt string `json:"current_debt"`
	Available   string `json:"available"`
}

func toEligibilityResponse(e trustmodels.Eligibility) EligibilityResponse {
	return EligibilityResponse{
		Eligible:    e.Eligible,
		Reason:      e.Reason,
		CreditLimit: money(e.CreditLimit),
		CurrentDebt: money(e.CurrentDebt),
		Available:   money(e.Available),
	}
}

type InstallmentResponse struct {
	Index   int        `json:"index"`
	DueDate time.Time  `json:"due_date"`
	Amount  string     `json:"amount"`
	Status  string     `json:"status"`
	PaidAt  *time.Time `json:"paid_at,omitempty"`
}

type PlanResponse struct {
	ID               string                `json:"id"`
	UserID           string                `json:"user_id"`
	OrderID          string                `json:"order_id"`
	TotalAmount      string                `json:"total_amount"`
	RemainingBalance string                `json:"remaining_balance"`
	Status           string                `json:"status"`
	Installments     []InstallmentResponse `json:"installments"`
	CreatedAt        time.Time             `json:"created_at"`
	UpdatedAt        time.Time             `json:"updated_at"`
}

func toPlanResponse(p *planmodels.Plan) PlanResponse {
	installments := make([]InstallmentResponse, 0, len(p.Installments))
	for _, inst := range p.Installments {
		installments = append(installments, InstallmentResponse{
			Index:   inst.Index,
			DueDate: inst.DueDate,
			Amount:  money(inst.Amount),
			Status:  string(inst.Status),
			PaidAt:  inst.PaidAt,
		})
	}
	return PlanResponse{
		ID:               p.ID.String(),
		UserID:           p.UserID.String(),
		OrderID:          p.OrderID.String(),
		TotalAmount:      money(p.TotalAmount),
		RemainingBalance: money(p.RemainingBalance),
		Status:           p.Status.String(),
		Installments:     installments,
		CreatedAt:        p.CreatedAt,
		UpdatedAt:        p.UpdatedAt,
	}
}

func toPlanResponses(plans []*planmodels.Plan) []PlanResponse {
	out := make([]PlanResponse, 0, len(plans))
	for _, p := range plans {
		out = append(out, toPlanResponse(p))
	}
	return out
}

type UseCoinsResponse struct {
	Success bool `json:"success"`
}

type RedeemCoinsResponse struct {
	Success bool   `json:"success"`
	Balance string `json:"balance"`
}

type RescoreResponse struct {
	Total   int `json:"total"`
	Changed int `json:"changed"`
	Failed  int `json:"failed"`
}

func toRescoreResponse(r *trustservice.RescoreResult) RescoreResponse {
	return RescoreResponse{Total: r.Total, Changed: r.Changed, Failed: r.Failed}
}

type SweepResponse struct {
	PlansScanned       int `json:"plans_scanned"`
	PlansUpdated       int `json:"plans_updated"`
	InstallmentsMarked int `json:"installments_marked"`
	Failed             int `json:"failed"`
}

func toSweepResponse(r *planservice.SweepResult) SweepResponse {
	return SweepResponse{
		PlansScanned:       r.PlansScanned,
		PlansUpdated:       r.PlansUpdated,
		InstallmentsMarked: r.InstallmentsMarked,
		Failed:             r.Failed,
	}
}

func money(d decimal.Decimal) string { return d.StringFixed(id.MoneyScale) }
