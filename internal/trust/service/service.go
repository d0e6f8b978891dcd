package service

//go:generate mockgen -source=service.go -destination=mocks/mocks.go -package=mocks Store,ProfileCache

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"bnpl/internal/platform/tracer"
	"bnpl/internal/trust/metrics"
	"bnpl/internal/trust/models"
	"bnpl/internal/trust/scoring"
	id "bnpl/pkg/domain"
	dErrors "bnpl/pkg/domain-errors"
	"bnpl/pkg/platform/sentinel"
)

// Store persists trust profiles.
// Error Contract:
//   - FindByUser, FindByUserForUpdate, Update, DebitCoins, CreditCoins return sentinel.ErrNotFound for unknown users
//   - Create returns sentinel.ErrConflict when the profile exists
//   - DebitCoins returns sentinel.ErrInsufficientFunds with the current balance when it cannot cover amount
//   - MarkEventApplied reports false when the event was applied before
type Store interface {
	Create(ctx context.Context, p *models.Profile) error
	FindByUser(ctx context.Context, userID id.UserID) (*models.Profile, error)
	FindByUserForUpdate(ctx context.Context, userID id.UserID) (*models.Profile, error)
	Update(ctx context.Context, p *models.Profile) error
	DebitCoins(ctx context.Context, userID id.UserID, amount decimal.Decimal) (decimal.Decimal, error)
	CreditCoins(ctx context.Context, userID id.UserID, amount decimal.Decimal) (decimal.Decimal, error)
	MarkEventApplied(ctx context.Context, eventID uuid.UUID, userID id.UserID) (bool, error)
	ListUserIDs(ctx context.Context) ([]id.UserID, error)
}

// ProfileCache is a read-through cache for GetProfile. Get returns
// sentinel.ErrNotFound on a miss. Set must not overwrite a recent
// Invalidate, so a read that raced a write cannot re-cache the old profile.
type ProfileCache interface {
	Get(ctx context.Context, userID id.UserID) (*models.Profile, error)
	Set(ctx context.Context, p *models.Profile) error
	Invalidate(ctx context.Context, userID id.UserID) error
}

type Option func(*Service)

// DefaultCoinsPerPayment is credited for every settled installment.
var DefaultCoinsPerPayment = decimal.NewFromInt(10)

// Service owns the scoring policy, eligibility and the coin wallet.
type Service struct {
	store           Store
	tx              StoreTx
	cache           ProfileCache
	metrics         *metrics.Metrics
	tracer          tracer.Tracer
	logger          *slog.Logger
	now             func() time.Time
	coinsPerPayment decimal.Decimal
}

func New(store Store, tx StoreTx, logger *slog.Logger, opts ...Option) *Service {
	svc := &Service{
		store:           store,
		tx:              tx,
		logger:          logger,
		tracer:          tracer.NewNoop(),
		now:             time.Now,
		coinsPerPayment: DefaultCoinsPerPayment,
	}
	for _, opt := range opts {
		opt(svc)
	}
	if svc.logger == nil {
		svc.logger = slog.Default()
	}
	return svc
}

func WithCache(c ProfileCache) Option {
	return func(s *Service) { s.cache = c }
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

// WithClock injects the time source used for account age and timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithCoinsPerPayment overrides the coin award per settled installment.
// Negative values are ignored.
func WithCoinsPerPayment(amount decimal.Decimal) Option {
	return func(s *Service) {
		if !amount.IsNegative() {
			s.coinsPerPayment = amount
		}
	}
}

// CreateProfile creates the default profile. Creating twice returns the existing profile.
func (s *Service) CreateProfile(ctx context.Context, userID id.UserID) (*models.Profile, error) {
	if userID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "user ID required")
	}
	profile, err := models.NewProfile(userID, s.now())
	if err != nil {
		return nil, err
	}
	if err := s.store.Create(ctx, profile); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			existing, findErr := s.store.FindByUser(ctx, userID)
			if findErr != nil {
				return nil, s.translate(findErr, "failed to load trust profile")
			}
			return existing, nil
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create trust profile")
	}
	s.logger.InfoContext(ctx, "trust_profile_created", "user_id", userID.String())
	return profile, nil
}

// GetProfile reads through the cache. Cache failures fall back to the store.
func (s *Service) GetProfile(ctx context.Context, userID id.UserID) (*models.Profile, error) {
	if s.cache != nil {
		cached, err := s.cache.Get(ctx, userID)
		switch {
		case err == nil:
			s.incCacheHit()
			return cached, nil
		case errors.Is(err, sentinel.ErrNotFound):
			s.incCacheMiss()
		default:
			s.cacheFailed(ctx, "get", userID, err)
		}
	}

	profile, err := s.store.FindByUser(ctx, userID)
	if err != nil {
		return nil, s.translate(err, "failed to load trust profile")
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, profile); err != nil {
			s.cacheFailed(ctx, "set", userID, err)
		}
	}
	return profile, nil
}

// CalculateScore recomputes and persists score, tier and credit limit under the row lock.
func (s *Service) CalculateScore(ctx context.Context, userID id.UserID) (profile *models.Profile, err error) {
	ctx, span := s.tracer.Start(ctx, tracer.SpanCalculateScore, tracer.String(tracer.AttrUserID, userID.String()))
	defer func() { span.End(err) }()

	err = s.tx.RunInTx(ctx, userID, func(ctx context.Context, store Store) error {
		p, err := store.FindByUserForUpdate(ctx, userID)
		if err != nil {
			return err
		}
		s.rescore(ctx, p)
		if err := store.Update(ctx, p); err != nil {
			return err
		}
		profile = p
		return nil
	})
	if err != nil {
		return nil, s.translate(err, "failed to calculate score")
	}
	s.invalidate(ctx, userID)
	span.SetAttributes(tracer.Int(tracer.AttrScore, profile.Score()), tracer.String(tracer.AttrTier, profile.Tier().String()))
	return profile, nil
}

// CheckEligibility answers whether userID may take on amount more credit given
// currentDebt already outstanding. It reads the store directly, never the cache.
func (s *Service) CheckEligibility(ctx context.Context, userID id.UserID, amount, currentDebt decimal.Decimal) (result models.Eligibility, err error) {
	ctx, span := s.tracer.Start(ctx, tracer.SpanCheckEligibility, tracer.String(tracer.AttrUserID, userID.String()))
	defer func() { span.End(err) }()

	if err := id.ValidateAmount(amount); err != nil {
		return models.Eligibility{}, err
	}
	profile, err := s.store.FindByUser(ctx, userID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			s.incEligibility("no_profile")
			return models.NoProfileEligibility(), nil
		}
		return models.Eligibility{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load trust profile")
	}
	result = models.EvaluateEligibility(profile.CreditLimit(), currentDebt, amount)
	if result.Eligible {
		s.incEligibility("eligible")
	} else {
		s.incEligibility("ineligible")
	}
	span.SetAttributes(tracer.Bool(tracer.AttrEligible, result.Eligible))
	return result, nil
}

// HandlePaymentSuccess applies the payment-completed signal: one on-time
// payment, the coin award and a recompute. A non-nil eventID makes redelivery
// a no-op.
func (s *Service) HandlePaymentSuccess(ctx context.Context, eventID uuid.UUID, userID id.UserID) (*models.Profile, error) {
	return s.RecordInstallmentPayment(ctx, eventID, userID, models.PaymentOutcome{OnTime: true})
}

// RecordInstallmentPayment is the payment follow-up with timeliness: late
// payments count toward totalPayments only and add a delay sample.
func (s *Service) RecordInstallmentPayment(ctx context.Context, eventID uuid.UUID, userID id.UserID, outcome models.PaymentOutcome) (profile *models.Profile, err error) {
	ctx, span := s.tracer.Start(ctx, tracer.SpanApplyPayment,
		tracer.String(tracer.AttrUserID, userID.String()),
		tracer.String(tracer.AttrEventID, eventID.String()))
	defer func() { span.End(err) }()

	duplicate := false
	err = s.tx.RunInTx(ctx, userID, func(ctx context.Context, store Store) error {
		p, err := store.FindByUserForUpdate(ctx, userID)
		if err != nil {
			return err
		}
		if eventID != uuid.Nil {
			applied, err := store.MarkEventApplied(ctx, eventID, userID)
			if err != nil {
				return err
			}
			if !applied {
				duplicate = true
				profile = p
				return nil
			}
		}
		now := s.now()
		p.RecordPayment(outcome, now)
		if err := p.AddCoins(s.coinsPerPayment, now); err != nil {
			return err
		}
		s.rescore(ctx, p)
		if err := store.Update(ctx, p); err != nil {
			return err
		}
		profile = p
		return nil
	})
	if err != nil {
		return nil, s.translate(err, "failed to apply payment")
	}
	if duplicate {
		s.incDuplicate()
		s.logger.InfoContext(ctx, "payment_event_already_applied",
			"user_id", userID.String(), "event_id", eventID.String())
		return profile, nil
	}
	if s.metrics != nil {
		s.metrics.AddCoinsAwarded(s.coinsPerPayment.InexactFloat64())
	}
	s.invalidate(ctx, userID)
	s.logger.InfoContext(ctx, "payment_applied",
		"user_id", userID.String(),
		"event_id", eventID.String(),
		"on_time", outcome.OnTime,
		"score", profile.Score(),
		"tier", profile.Tier().String())
	return profile, nil
}

// RedeemCoins debits amount atomically and returns the new balance. The debit
// runs inside the user's transaction so it serializes with rescoring and
// payment follow-ups that rewrite the whole profile.
func (s *Service) RedeemCoins(ctx context.Context, userID id.UserID, amount decimal.Decimal) (balance decimal.Decimal, err error) {
	ctx, span := s.tracer.Start(ctx, tracer.SpanRedeemCoins, tracer.String(tracer.AttrUserID, userID.String()))
	defer func() { span.End(err) }()

	if err := id.ValidateAmount(amount); err != nil {
		return decimal.Zero, err
	}
	err = s.tx.RunInTx(ctx, userID, func(ctx context.Context, store Store) error {
		var debitErr error
		balance, debitErr = store.DebitCoins(ctx, userID, amount)
		return debitErr
	})
	if err != nil {
		if errors.Is(err, sentinel.ErrInsufficientFunds) {
			s.incRedemptionRejected()
			return balance, dErrors.WithDetails(dErrors.CodeInsufficientCoins, "insufficient coins", map[string]any{
				"balance":   balance.StringFixed(2),
				"requested": amount.StringFixed(2),
			})
		}
		if errors.Is(err, sentinel.ErrNotFound) {
			s.incRedemptionRejected()
		}
		return decimal.Zero, s.translate(err, "failed to redeem coins")
	}
	if s.metrics != nil {
		s.metrics.AddCoinsRedeemed(amount.InexactFloat64())
	}
	s.invalidate(ctx, userID)
	return balance, nil
}

// UseCoins reports whether the redemption succeeded. A missing profile or a
// short balance is false with no error.
func (s *Service) UseCoins(ctx context.Context, userID id.UserID, amount decimal.Decimal) (bool, error) {
	_, err := s.RedeemCoins(ctx, userID, amount)
	if err == nil {
		return true, nil
	}
	if dErrors.HasCode(err, dErrors.CodeInsufficientCoins) || dErrors.HasCode(err, dErrors.CodeNotFound) {
		return false, nil
	}
	return false, err
}

// AwardCoins credits amount. Unknown users are a no-op.
func (s *Service) AwardCoins(ctx context.Context, userID id.UserID, amount decimal.Decimal) error {
	if err := id.ValidateAmount(amount); err != nil {
		return err
	}
	err := s.tx.RunInTx(ctx, userID, func(ctx context.Context, store Store) error {
		_, creditErr := store.CreditCoins(ctx, userID, amount)
		return creditErr
	})
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			s.logger.InfoContext(ctx, "coin_award_skipped_no_profile", "user_id", userID.String())
			return nil
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to award coins")
	}
	if s.metrics != nil {
		s.metrics.AddCoinsAwarded(amount.InexactFloat64())
	}
	s.invalidate(ctx, userID)
	return nil
}

// ApplyReward is AwardCoins for an identified event; redelivery is a no-op.
func (s *Service) ApplyReward(ctx context.Context, eventID uuid.UUID, userID id.UserID, amount decimal.Decimal) error {
	if eventID == uuid.Nil {
		return s.AwardCoins(ctx, userID, amount)
	}
	if err := id.ValidateAmount(amount); err != nil {
		return err
	}
	credited := false
	err := s.tx.RunInTx(ctx, userID, func(ctx context.Context, store Store) error {
		p, err := store.FindByUserForUpdate(ctx, userID)
		if err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				return nil
			}
			return err
		}
		applied, err := store.MarkEventApplied(ctx, eventID, userID)
		if err != nil || !applied {
			return err
		}
		if err := p.AddCoins(amount, s.now()); err != nil {
			return err
		}
		credited = true
		return store.Update(ctx, p)
	})
	if err != nil {
		return s.translate(err, "failed to apply reward")
	}
	if credited {
		if s.metrics != nil {
			s.metrics.AddCoinsAwarded(amount.InexactFloat64())
		}
		s.invalidate(ctx, userID)
	}
	return nil
}

// RecordOrder counts an order placed by the user.
func (s *Service) RecordOrder(ctx context.Context, userID id.UserID) (*models.Profile, error) {
	return s.mutate(ctx, userID, "failed to record order", func(p *models.Profile, now time.Time) {
		p.RecordOrder(now)
	})
}

// RecordDispute counts a dispute raised against the user.
func (s *Service) RecordDispute(ctx context.Context, userID id.UserID) (*models.Profile, error) {
	return s.mutate(ctx, userID, "failed to record dispute", func(p *models.Profile, now time.Time) {
		p.RecordDispute(now)
	})
}

// RescoreResult summarizes a batch recomputation.
type RescoreResult struct {
	Total   int
	Changed int
	Failed  int
}

// RescoreAll recomputes every profile. Individual failures are logged and counted.
func (s *Service) RescoreAll(ctx context.Context) (*RescoreResult, error) {
	userIDs, err := s.store.ListUserIDs(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list trust profiles")
	}
	result := &RescoreResult{Total: len(userIDs)}
	for _, userID := range userIDs {
		if err := ctx.Err(); err != nil {
			return result, dErrors.Wrap(err, dErrors.CodeTimeout, "rescore interrupted")
		}
		before, err := s.store.FindByUser(ctx, userID)
		if err != nil {
			result.Failed++
			continue
		}
		after, err := s.CalculateScore(ctx, userID)
		if err != nil {
			result.Failed++
			s.logger.WarnContext(ctx, "rescore_failed", "user_id", userID.String(), "error", err)
			continue
		}
		if after.Score() != before.Score() {
			result.Changed++
		}
	}
	s.logger.InfoContext(ctx, "rescore_completed",
		"total", result.Total, "changed", result.Changed, "failed", result.Failed)
	return result, nil
}

func (s *Service) mutate(ctx context.Context, userID id.UserID, msg string, fn func(p *models.Profile, now time.Time)) (profile *models.Profile, err error) {
	err = s.tx.RunInTx(ctx, userID, func(ctx context.Context, store Store) error {
		p, err := store.FindByUserForUpdate(ctx, userID)
		if err != nil {
			return err
		}
		fn(p, s.now())
		if err := store.Update(ctx, p); err != nil {
			return err
		}
		profile = p
		return nil
	})
	if err != nil {
		return nil, s.translate(err, msg)
	}
	s.invalidate(ctx, userID)
	return profile, nil
}

// rescore applies the scoring policy to p in place.
func (s *Service) rescore(ctx context.Context, p *models.Profile) {
	now := s.now()
	previous := p.Tier()
	breakdown := scoring.Evaluate(p, now)
	p.ApplyStanding(breakdown.Standing, now)

	if s.metrics != nil {
		s.metrics.ObserveScore(p.Score())
		if previous != p.Tier() {
			s.metrics.IncTierTransition(previous.String(), p.Tier().String())
		}
	}
	s.logger.DebugContext(ctx, "trust_score_calculated",
		"user_id", p.UserID.String(),
		"score", p.Score(),
		"tier", p.Tier().String(),
		"payment_history", breakdown.PaymentHistory,
		"order_frequency", breakdown.OrderFrequency,
		"account_age", breakdown.AccountAge,
		"payment_speed", breakdown.PaymentSpeed,
		"dispute_record", breakdown.DisputeRecord)
}

func (s *Service) invalidate(ctx context.Context, userID id.UserID) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, userID); err != nil {
		s.cacheFailed(ctx, "invalidate", userID, err)
	}
}

func (s *Service) cacheFailed(ctx context.Context, op string, userID id.UserID, err error) {
	if s.metrics != nil {
		s.metrics.IncCacheError()
	}
	s.logger.WarnContext(ctx, "profile_cache_error", "op", op, "user_id", userID.String(), "error", err)
}

// translate maps store sentinels onto domain errors. Domain errors pass through.
func (s *Service) translate(err error, msg string) error {
	var domainErr *dErrors.Error
	switch {
	case errors.As(err, &domainErr):
		return err
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, "trust profile not found")
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return dErrors.Wrap(err, dErrors.CodeTimeout, msg)
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, msg)
	}
}

func (s *Service) incCacheHit() {
	if s.metrics != nil {
		s.metrics.IncCacheHit()
	}
}

func (s *Service) incCacheMiss() {
	if s.metrics != nil {
		s.metrics.IncCacheMiss()
	}
}

func (s *Service) incEligibility(result string) {
	if s.metrics != nil {
		s.metrics.IncEligibility(result)
	}
}

func (s *Service) incRedemptionRejected() {
	if s.metrics != nil {
		s.metrics.IncRedemptionRejected()
	}
}

func (s *Service) incDuplicate() {
	if s.metrics != nil {
		s.metrics.IncDuplicateEvent()
	}
}
