package service

//go:generate mockgen -source=service.go -destination=mocks/mocks.go -package=mocks Store,EligibilityChecker,OutboxMarker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"bnpl/internal/plan/metrics"
	"bnpl/internal/plan/models"
	"bnpl/internal/platform/tracer"
	trustmodels "bnpl/internal/trust/models"
	id "bnpl/pkg/domain"
	dErrors "bnpl/pkg/domain-errors"
	"bnpl/pkg/platform/outbox"
	"bnpl/pkg/platform/sentinel"
)

// Store persists payment plans.
// Error Contract:
//   - FindByID, FindByIDForUpdate, Update return sentinel.ErrNotFound for unknown plans
//   - Create returns sentinel.ErrConflict for a duplicate ID and sentinel.ErrNotFound when the user has no profile
type Store interface {
	Create(ctx context.Context, p *models.Plan) error
	FindByID(ctx context.Context, planID id.PlanID) (*models.Plan, error)
	FindByIDForUpdate(ctx context.Context, planID id.PlanID) (*models.Plan, error)
	Update(ctx context.Context, p *models.Plan) error
	ListByUser(ctx context.Context, userID id.UserID) ([]*models.Plan, error)
	SumOutstanding(ctx context.Context, userID id.UserID) (decimal.Decimal, error)
	ListOverdueCandidates(ctx context.Context, cutoff time.Time, limit int) ([]*models.Plan, error)
}

// EligibilityChecker is the unlocked pre-check used as a signal before the gate.
type EligibilityChecker interface {
	CheckEligibility(ctx context.Context, userID id.UserID, amount, currentDebt decimal.Decimal) (trustmodels.Eligibility, error)
}

// OutboxMarker settles an outbox entry after inline dispatch.
type OutboxMarker interface {
	MarkProcessed(ctx context.Context, id uuid.UUID, processedAt time.Time) error
	MarkFailed(ctx context.Context, id uuid.UUID, reason string) error
}

type Option func(*Service)

// Service is the payment plan ledger.
type Service struct {
	plans       Store
	tx          LedgerTx
	eligibility EligibilityChecker
	dispatcher  outbox.Handler
	outbox      OutboxMarker
	metrics     *metrics.Metrics
	tracer      tracer.Tracer
	logger      *slog.Logger
	now         func() time.Time
}

func New(plans Store, tx LedgerTx, logger *slog.Logger, opts ...Option) *Service {
	svc := &Service{
		plans:  plans,
		tx:     tx,
		logger: logger,
		tracer: tracer.NewNoop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(svc)
	}
	if svc.logger == nil {
		svc.logger = slog.Default()
	}
	return svc
}

// WithEligibilityPreCheck enables the unlocked first-pass eligibility signal.
func WithEligibilityPreCheck(c EligibilityChecker) Option {
	return func(s *Service) { s.eligibility = c }
}

// WithFollowUp dispatches outbox entries inline right after commit and marks
// them processed on success. Without it the outbox worker does all the work.
func WithFollowUp(h outbox.Handler, marker OutboxMarker) Option {
	return func(s *Service) {
		s.dispatcher = h
		s.outbox = marker
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithTracer(t tracer.Tracer) Option {
	return func(s *Service) {
		if t != nil {
			s.tracer = t
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// Create approves and persists a plan if the user's outstanding debt plus
// total stays within the credit limit. The check and the insert happen under
// the profile row lock.
func (s *Service) Create(ctx context.Context, userID id.UserID, orderID id.OrderID, total decimal.Decimal) (plan *models.Plan, err error) {
	ctx, span := s.tracer.Start(ctx, tracer.SpanCreatePlan, tracer.String(tracer.AttrUserID, userID.String()))
	defer func() { span.End(err) }()

	if userID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "user ID required")
	}
	if orderID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "order ID required")
	}
	if err := id.ValidateAmount(total); err != nil {
		return nil, err
	}
	preCheck := s.preCheck(ctx, userID, total)

	var entry *outbox.Entry
	err = s.tx.RunInTx(ctx, userID, func(ctx context.Context, stores Stores) error {
		profile, err := stores.Profiles.FindByUserForUpdate(ctx, userID)
		if err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				return dErrors.New(dErrors.CodeNotFound, "trust profile not found")
			}
			return err
		}
		debt, err := stores.Plans.SumOutstanding(ctx, userID)
		if err != nil {
			return err
		}
		gate := trustmodels.EvaluateEligibility(profile.CreditLimit(), debt, total)
		if preCheck != nil && preCheck.Eligible != gate.Eligible {
			s.incPreCheckDisagreement()
		}
		if !gate.Eligible {
			return creditLimitExceeded(gate, total)
		}

		now := s.now()
		p, err := models.NewPlan(id.NewPlanID(), userID, orderID, total, now)
		if err != nil {
			return err
		}
		if err := stores.Plans.Create(ctx, p); err != nil {
			return err
		}
		entry, err = newEntry(p.ID, models.EventPlanCreated, models.PlanCreated{
			PlanID:      uuid.UUID(p.ID),
			UserID:      uuid.UUID(p.UserID),
			OrderID:     p.OrderID.String(),
			TotalAmount: p.TotalAmount,
			CreatedAt:   p.CreatedAt,
		}, now)
		if err != nil {
			return err
		}
		if err := stores.Outbox.Append(ctx, entry); err != nil {
			return err
		}
		plan = p
		return nil
	})
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeCreditLimitExceeded) {
			s.incRejection("credit_limit_exceeded")
			s.logger.InfoContext(ctx, "plan_rejected",
				"user_id", userID.String(),
				"requested_amount", total.StringFixed(2),
				"details", dErrors.DetailsOf(err))
		}
		return nil, s.translate(err, "failed to create plan")
	}

	if s.metrics != nil {
		s.metrics.IncPlansCreated()
	}
	s.logger.InfoContext(ctx, "plan_created",
		"user_id", userID.String(),
		"plan_id", plan.ID.String(),
		"order_id", orderID.String(),
		"total_amount", total.StringFixed(2))
	s.dispatch(ctx, entry)
	span.SetAttributes(tracer.String(tracer.AttrPlanID, plan.ID.String()))
	return plan, nil
}

// PayInstallment settles one installment. The plan update and the
// payment.succeeded outbox entry commit together; the scoring follow-up runs
// after commit and never fails the payment.
func (s *Service) PayInstallment(ctx context.Context, planID id.PlanID, index int) (plan *models.Plan, err error) {
	ctx, span := s.tracer.Start(ctx, tracer.SpanPayInstallment,
		tracer.String(tracer.AttrPlanID, planID.String()),
		tracer.Int(tracer.AttrInstallmentIndex, index))
	defer func() { span.End(err) }()

	current, err := s.plans.FindByID(ctx, planID)
	if err != nil {
		return nil, s.translate(err, "failed to load plan")
	}

	var (
		entry   *outbox.Entry
		payment *models.Payment
	)
	err = s.tx.RunInTx(ctx, current.UserID, func(ctx context.Context, stores Stores) error {
		p, err := stores.Plans.FindByIDForUpdate(ctx, planID)
		if err != nil {
			return err
		}
		now := s.now()
		payment, err = p.Pay(index, now)
		if err != nil {
			return err
		}
		if err := stores.Plans.Update(ctx, p); err != nil {
			return err
		}
		entry, err = newEntry(p.ID, models.EventPaymentSucceeded, models.NewPaymentSucceeded(p, payment), now)
		if err != nil {
			return err
		}
		if err := stores.Outbox.Append(ctx, entry); err != nil {
			return err
		}
		plan = p
		return nil
	})
	if err != nil {
		return nil, s.translate(err, "failed to pay installment")
	}

	if s.metrics != nil {
		s.metrics.IncInstallmentPaid(payment.OnTime)
		if payment.Completed {
			s.metrics.IncPlansCompleted()
		}
	}
	s.logger.InfoContext(ctx, "installment_paid",
		"plan_id", planID.String(),
		"user_id", plan.UserID.String(),
		"installment_index", index,
		"on_time", payment.OnTime,
		"remaining_balance", plan.RemainingBalance.StringFixed(2),
		"status", plan.Status.String())
	s.dispatch(ctx, entry)
	return plan, nil
}

// Get returns one plan.
func (s *Service) Get(ctx context.Context, planID id.PlanID) (*models.Plan, error) {
	p, err := s.plans.FindByID(ctx, planID)
	if err != nil {
		return nil, s.translate(err, "failed to load plan")
	}
	return p, nil
}

// FindByUser returns the user's plans, newest first.
func (s *Service) FindByUser(ctx context.Context, userID id.UserID) ([]*models.Plan, error) {
	plans, err := s.plans.ListByUser(ctx, userID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list plans")
	}
	if plans == nil {
		plans = []*models.Plan{}
	}
	return plans, nil
}

// CurrentDebt is the sum of remaining balances over the user's ACTIVE plans.
func (s *Service) CurrentDebt(ctx context.Context, userID id.UserID) (decimal.Decimal, error) {
	debt, err := s.plans.SumOutstanding(ctx, userID)
	if err != nil {
		return decimal.Zero, dErrors.Wrap(err, dErrors.CodeInternal, "failed to sum outstanding balance")
	}
	return debt, nil
}

// CancelPlan cancels an ACTIVE plan that has no payments.
func (s *Service) CancelPlan(ctx context.Context, planID id.PlanID) (*models.Plan, error) {
	return s.transition(ctx, planID, models.StatusCancelled, func(p *models.Plan, now time.Time) error {
		return p.Cancel(now)
	})
}

// MarkDefaulted moves an ACTIVE plan with an overdue installment to DEFAULTED.
func (s *Service) MarkDefaulted(ctx context.Context, planID id.PlanID) (*models.Plan, error) {
	return s.transition(ctx, planID, models.StatusDefaulted, func(p *models.Plan, now time.Time) error {
		return p.Default(now)
	})
}

// SweepResult summarizes one overdue sweep.
type SweepResult struct {
	PlansScanned       int
	PlansUpdated       int
	InstallmentsMarked int
	Failed             int
}

// MarkOverdue flags PENDING installments past due plus grace on ACTIVE plans.
// Each plan is updated in its own per-user transaction.
func (s *Service) MarkOverdue(ctx context.Context, grace time.Duration, batchSize int) (result *SweepResult, err error) {
	ctx, span := s.tracer.Start(ctx, tracer.SpanOverdueSweep)
	defer func() { span.End(err) }()

	start := s.now()
	candidates, err := s.plans.ListOverdueCandidates(ctx, start.Add(-grace), batchSize)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list overdue candidates")
	}
	result = &SweepResult{PlansScanned: len(candidates)}
	for _, candidate := range candidates {
		if err := ctx.Err(); err != nil {
			return result, dErrors.Wrap(err, dErrors.CodeTimeout, "overdue sweep interrupted")
		}
		var flagged int
		err := s.tx.RunInTx(ctx, candidate.UserID, func(ctx context.Context, stores Stores) error {
			p, err := stores.Plans.FindByIDForUpdate(ctx, candidate.ID)
			if err != nil {
				return err
			}
			flagged = p.MarkOverdue(s.now(), grace)
			if flagged == 0 {
				return nil
			}
			return stores.Plans.Update(ctx, p)
		})
		if err != nil {
			result.Failed++
			s.logger.WarnContext(ctx, "overdue_mark_failed", "plan_id", candidate.ID.String(), "error", err)
			continue
		}
		if flagged > 0 {
			result.PlansUpdated++
			result.InstallmentsMarked += flagged
		}
	}
	if s.metrics != nil {
		s.metrics.AddOverdueFlagged(result.InstallmentsMarked)
		s.metrics.ObserveSweepDuration(s.now().Sub(start).Seconds())
	}
	return result, nil
}

func (s *Service) transition(ctx context.Context, planID id.PlanID, to models.Status, apply func(p *models.Plan, now time.Time) error) (*models.Plan, error) {
	current, err := s.plans.FindByID(ctx, planID)
	if err != nil {
		return nil, s.translate(err, "failed to load plan")
	}

	var (
		plan  *models.Plan
		entry *outbox.Entry
	)
	err = s.tx.RunInTx(ctx, current.UserID, func(ctx context.Context, stores Stores) error {
		p, err := stores.Plans.FindByIDForUpdate(ctx, planID)
		if err != nil {
			return err
		}
		from := p.Status
		now := s.now()
		if err := apply(p, now); err != nil {
			return err
		}
		if err := stores.Plans.Update(ctx, p); err != nil {
			return err
		}
		entry, err = newEntry(p.ID, models.EventPlanStatusChanged, models.PlanStatusChanged{
			PlanID:    uuid.UUID(p.ID),
			UserID:    uuid.UUID(p.UserID),
			From:      from,
			To:        p.Status,
			ChangedAt: now,
		}, now)
		if err != nil {
			return err
		}
		if err := stores.Outbox.Append(ctx, entry); err != nil {
			return err
		}
		plan = p
		return nil
	})
	if err != nil {
		return nil, s.translate(err, fmt.Sprintf("failed to move plan to %s", to))
	}
	if s.metrics != nil {
		s.metrics.IncTransition(to.String())
	}
	s.logger.InfoContext(ctx, "plan_status_changed", "plan_id", planID.String(), "status", to.String())
	s.dispatch(ctx, entry)
	return plan, nil
}

// dispatch runs the follow-up chain inline. Failures leave the entry pending
// for the outbox worker.
func (s *Service) dispatch(ctx context.Context, entry *outbox.Entry) {
	if s.dispatcher == nil || entry == nil {
		return
	}
	if err := s.dispatcher.Handle(ctx, entry); err != nil {
		if s.metrics != nil {
			s.metrics.IncFollowUpFailure()
		}
		s.logger.ErrorContext(ctx, "follow_up_failed",
			"entry_id", entry.ID.String(),
			"event_type", entry.EventType,
			"aggregate_id", entry.AggregateID,
			"error", err)
		if s.outbox != nil {
			if markErr := s.outbox.MarkFailed(ctx, entry.ID, err.Error()); markErr != nil {
				s.logger.WarnContext(ctx, "outbox_mark_failed_error", "entry_id", entry.ID.String(), "error", markErr)
			}
		}
		return
	}
	if s.outbox != nil {
		if err := s.outbox.MarkProcessed(ctx, entry.ID, s.now()); err != nil {
			// the worker will redeliver; handlers are idempotent per entry
			s.logger.WarnContext(ctx, "outbox_mark_processed_failed", "entry_id", entry.ID.String(), "error", err)
		}
	}
}

func (s *Service) preCheck(ctx context.Context, userID id.UserID, total decimal.Decimal) *trustmodels.Eligibility {
	if s.eligibility == nil {
		return nil
	}
	debt, err := s.plans.SumOutstanding(ctx, userID)
	if err != nil {
		s.logger.WarnContext(ctx, "eligibility_precheck_failed", "user_id", userID.String(), "error", err)
		return nil
	}
	e, err := s.eligibility.CheckEligibility(ctx, userID, total, debt)
	if err != nil {
		s.logger.WarnContext(ctx, "eligibility_precheck_failed", "user_id", userID.String(), "error", err)
		return nil
	}
	s.logger.DebugContext(ctx, "eligibility_precheck",
		"user_id", userID.String(), "eligible", e.Eligible, "reason", e.Reason)
	return &e
}

func creditLimitExceeded(e trustmodels.Eligibility, requested decimal.Decimal) error {
	return dErrors.WithDetails(dErrors.CodeCreditLimitExceeded, e.Reason, map[string]any{
		"current_debt":     e.CurrentDebt.StringFixed(2),
		"requested_amount": requested.StringFixed(2),
		"credit_limit":     e.CreditLimit.StringFixed(2),
		"available":        e.Available.StringFixed(2),
	})
}

func newEntry(planID id.PlanID, eventType string, payload any, now time.Time) (*outbox.Entry, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", eventType, err)
	}
	return outbox.NewEntry(models.AggregatePlan, planID.String(), eventType, data, now), nil
}

func (s *Service) translate(err error, msg string) error {
	var domainErr *dErrors.Error
	switch {
	case errors.As(err, &domainErr):
		return err
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, "payment plan not found")
	case errors.Is(err, sentinel.ErrConflict):
		return dErrors.Wrap(err, dErrors.CodeConflict, msg)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return dErrors.Wrap(err, dErrors.CodeTimeout, msg)
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, msg)
	}
}

func (s *Service) incRejection(reason string) {
	if s.metrics != nil {
		s.metrics.IncRejection(reason)
	}
}

func (s *Service) incPreCheckDisagreement() {
	if s.metrics != nil {
		s.metrics.IncPreCheckDisagreement()
	}
}
