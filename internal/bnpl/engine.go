// Package bnpl is the caller-facing facade over the trust scoring policy and
// the payment plan ledger. It holds no state of its own.
package bnpl

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	planmodels "bnpl/internal/plan/models"
	planservice "bnpl/internal/plan/service"
	trustmodels "bnpl/internal/trust/models"
	trustservice "bnpl/internal/trust/service"
	id "bnpl/pkg/domain"
)

// TrustService is the scoring side of the engine.
type TrustService interface {
	CreateProfile(ctx context.Context, userID id.UserID) (*trustmodels.Profile, error)
	GetProfile(ctx context.Context, userID id.UserID) (*trustmodels.Profile, error)
	CalculateScore(ctx context.Context, userID id.UserID) (*trustmodels.Profile, error)
	CheckEligibility(ctx context.Context, userID id.UserID, amount, currentDebt decimal.Decimal) (trustmodels.Eligibility, error)
	HandlePaymentSuccess(ctx context.Context, eventID uuid.UUID, userID id.UserID) (*trustmodels.Profile, error)
	RecordInstallmentPayment(ctx context.Context, eventID uuid.UUID, userID id.UserID, outcome trustmodels.PaymentOutcome) (*trustmodels.Profile, error)
	RedeemCoins(ctx context.Context, userID id.UserID, amount decimal.Decimal) (decimal.Decimal, error)
	UseCoins(ctx context.Context, userID id.UserID, amount decimal.Decimal) (bool, error)
	ApplyReward(ctx context.Context, eventID uuid.UUID, userID id.UserID, amount decimal.Decimal) error
	RecordOrder(ctx context.Context, userID id.UserID) (*trustmodels.Profile, error)
	RecordDispute(ctx context.Context, userID id.UserID) (*trustmodels.Profile, error)
	RescoreAll(ctx context.Context) (*trustservice.RescoreResult, error)
}

// PlanService is the ledger side of the engine.
type PlanService interface {
	Create(ctx context.Context, userID id.UserID, orderID id.OrderID, total decimal.Decimal) (*planmodels.Plan, error)
	PayInstallment(ctx context.Context, planID id.PlanID, index int) (*planmodels.Plan, error)
	Get(ctx context.Context, planID id.PlanID) (*planmodels.Plan, error)
	FindByUser(ctx context.Context, userID id.UserID) ([]*planmodels.Plan, error)
	CurrentDebt(ctx context.Context, userID id.UserID) (decimal.Decimal, error)
	CancelPlan(ctx context.Context, planID id.PlanID) (*planmodels.Plan, error)
	MarkDefaulted(ctx context.Context, planID id.PlanID) (*planmodels.Plan, error)
	MarkOverdue(ctx context.Context, grace time.Duration, batchSize int) (*planservice.SweepResult, error)
}

// Engine exposes every operation the caller boundary needs.
type Engine struct {
	trust  TrustService
	plans  PlanService
	logger *slog.Logger
}

func New(trust TrustService, plans PlanService, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{trust: trust, plans: plans, logger: logger}
}

func (e *Engine) CreateProfile(ctx context.Context, userID id.UserID) (*trustmodels.Profile, error) {
	return e.trust.CreateProfile(ctx, userID)
}

func (e *Engine) GetProfile(ctx context.Context, userID id.UserID) (*trustmodels.Profile, error) {
	return e.trust.GetProfile(ctx, userID)
}

func (e *Engine) CalculateScore(ctx context.Context, userID id.UserID) (*trustmodels.Profile, error) {
	return e.trust.CalculateScore(ctx, userID)
}

// CheckEligibility is advisory: it reads the current debt without a lock.
// CreatePlan repeats the check under the profile lock before committing.
func (e *Engine) CheckEligibility(ctx context.Context, userID id.UserID, amount decimal.Decimal) (trustmodels.Eligibility, error) {
	if err := id.ValidateAmount(amount); err != nil {
		return trustmodels.Eligibility{}, err
	}
	debt, err := e.plans.CurrentDebt(ctx, userID)
	if err != nil {
		return trustmodels.Eligibility{}, err
	}
	return e.trust.CheckEligibility(ctx, userID, amount, debt)
}

func (e *Engine) CreatePlan(ctx context.Context, userID id.UserID, orderID id.OrderID, total decimal.Decimal) (*planmodels.Plan, error) {
	return e.plans.Create(ctx, userID, orderID, total)
}

func (e *Engine) GetUserPlans(ctx context.Context, userID id.UserID) ([]*planmodels.Plan, error) {
	return e.plans.FindByUser(ctx, userID)
}

func (e *Engine) GetPlan(ctx context.Context, planID id.PlanID) (*planmodels.Plan, error) {
	return e.plans.Get(ctx, planID)
}

// PayInstallment settles one installment. The scoring follow-up runs after
// the payment commits; its failure never undoes the payment.
func (e *Engine) PayInstallment(ctx context.Context, planID id.PlanID, index int) (*planmodels.Plan, error) {
	return e.plans.PayInstallment(ctx, planID, index)
}

// UseCoins reports false instead of failing when the balance is short.
func (e *Engine) UseCoins(ctx context.Context, userID id.UserID, amount decimal.Decimal) (bool, error) {
	return e.trust.UseCoins(ctx, userID, amount)
}

// RedeemCoins returns the remaining balance or an insufficient_coins error.
func (e *Engine) RedeemCoins(ctx context.Context, userID id.UserID, amount decimal.Decimal) (decimal.Decimal, error) {
	return e.trust.RedeemCoins(ctx, userID, amount)
}

// AwardCoins credits a reward. A nil eventID disables redelivery dedupe.
func (e *Engine) AwardCoins(ctx context.Context, eventID uuid.UUID, userID id.UserID, amount decimal.Decimal) error {
	return e.trust.ApplyReward(ctx, eventID, userID, amount)
}

// HandlePaymentCompleted applies an external payment-completed signal.
func (e *Engine) HandlePaymentCompleted(ctx context.Context, eventID uuid.UUID, userID id.UserID) error {
	_, err := e.trust.HandlePaymentSuccess(ctx, eventID, userID)
	return err
}

func (e *Engine) RecordOrder(ctx context.Context, userID id.UserID) (*trustmodels.Profile, error) {
	return e.trust.RecordOrder(ctx, userID)
}

func (e *Engine) RecordDispute(ctx context.Context, userID id.UserID) (*trustmodels.Profile, error) {
	return e.trust.RecordDispute(ctx, userID)
}

func (e *Engine) CancelPlan(ctx context.Context, planID id.PlanID) (*planmodels.Plan, error) {
	return e.plans.CancelPlan(ctx, planID)
}

func (e *Engine) MarkDefaulted(ctx context.Context, planID id.PlanID) (*planmodels.Plan, error) {
	return e.plans.MarkDefaulted(ctx, planID)
}

func (e *Engine) RescoreAll(ctx context.Context) (*trustservice.RescoreResult, error) {
	return e.trust.RescoreAll(ctx)
}

func (e *Engine) SweepOverdue(ctx context.Context, grace time.Duration, batchSize int) (*planservice.SweepResult, error) {
	return e.plans.MarkOverdue(ctx, grace, batchSize)
}
