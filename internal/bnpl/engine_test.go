package bnpl

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	planmodels "bnpl/internal/plan/models"
	planservice "bnpl/internal/plan/service"
	planstore "bnpl/internal/plan/store"
	"bnpl/internal/platform/kafka/consumer"
	"bnpl/internal/platform/kafka/producer"
	trustmodels "bnpl/internal/trust/models"
	trustservice "bnpl/internal/trust/service"
	truststore "bnpl/internal/trust/store"
	id "bnpl/pkg/domain"
	dErrors "bnpl/pkg/domain-errors"
	"bnpl/pkg/platform/outbox"
	outboxmemory "bnpl/pkg/platform/outbox/store/memory"
	platformsync "bnpl/pkg/platform/sync"
	"bnpl/pkg/testutil"
)

type recordingPublisher struct {
	mu       sync.Mutex
	messages []*producer.Message
	err      error
}

func (p *recordingPublisher) Produce(_ context.Context, msg *producer.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.messages = append(p.messages, msg)
	return nil
}

// EngineSuite wires the real services over in-memory stores.
type EngineSuite struct {
	suite.Suite
	ctx       context.Context
	outbox    *outboxmemory.Store
	publisher *recordingPublisher
	engine    *Engine
}

func TestEngineSuite(t *testing.T) {
	suite.Run(t, new(EngineSuite))
}

func (s *EngineSuite) SetupTest() {
	s.ctx = context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := testutil.NewClock(testutil.FixedNow)
	mu := platformsync.NewShardedMutex()

	profiles := truststore.NewInMemory()
	trust := trustservice.New(profiles, trustservice.NewShardedTx(mu, profiles), logger,
		trustservice.WithClock(clock.Now))

	plans := planstore.NewInMemory()
	s.outbox = outboxmemory.New()
	s.publisher = &recordingPublisher{}
	followUp := outbox.Chain(PaymentFollowUp(trust, logger), EventPublisher(s.publisher, "bnpl.events"))
	ledger := planservice.New(plans,
		planservice.NewShardedTx(mu, planservice.Stores{Plans: plans, Profiles: profiles, Outbox: s.outbox}),
		logger,
		planservice.WithEligibilityPreCheck(trust),
		planservice.WithFollowUp(followUp, s.outbox),
		planservice.WithClock(clock.Now))

	s.engine = New(trust, ledger, logger)
}

func (s *EngineSuite) TestPaymentDrivesScoring() {
	userID := testutil.TestIDs.UserID1
	_, err := s.engine.CreateProfile(s.ctx, userID)
	s.Require().NoError(err)

	plan, err := s.engine.CreatePlan(s.ctx, userID, testutil.TestIDs.OrderID, testutil.Money("400"))
	s.Require().NoError(err)
	_, err = s.engine.PayInstallment(s.ctx, plan.ID, 0)
	s.Require().NoError(err)

	profile, err := s.engine.GetProfile(s.ctx, userID)
	s.Require().NoError(err)
	s.Equal(1, profile.TotalPayments)
	s.Equal(550, profile.Score())
	s.Equal(trustmodels.TierSilver, profile.Tier())
	s.Equal("10.00", profile.CoinsBalance.StringFixed(2))

	s.Run("eligibility counts the remaining balance", func() {
		e, err := s.engine.CheckEligibility(s.ctx, userID, testutil.Money("700"))
		s.Require().NoError(err)
		s.True(e.Eligible)
		s.Equal("300.00", e.CurrentDebt.StringFixed(2))
		s.Equal("700.00", e.Available.StringFixed(2))

		e, err = s.engine.CheckEligibility(s.ctx, userID, testutil.Money("700.01"))
		s.Require().NoError(err)
		s.False(e.Eligible)
		s.NotEmpty(e.Reason)
	})

	s.Run("events are published keyed by plan", func() {
		s.publisher.mu.Lock()
		defer s.publisher.mu.Unlock()
		s.Require().Len(s.publisher.messages, 2)
		s.Equal(planmodels.EventPlanCreated, s.publisher.messages[0].Headers[HeaderEventType])
		paid := s.publisher.messages[1]
		s.Equal(planmodels.EventPaymentSucceeded, paid.Headers[HeaderEventType])
		s.Equal(plan.ID.String(), string(paid.Key))
	})
}

func (s *EngineSuite) TestNewUserScenario() {
	userID := testutil.TestIDs.UserID1
	_, err := s.engine.CreateProfile(s.ctx, userID)
	s.Require().NoError(err)

	profile, err := s.engine.CalculateScore(s.ctx, userID)
	s.Require().NoError(err)
	s.Equal(0, profile.Score())
	s.Equal(trustmodels.TierBronze, profile.Tier())
	s.Equal("500.00", profile.CreditLimit().StringFixed(2))

	_, err = s.engine.CreatePlan(s.ctx, userID, testutil.TestIDs.OrderID, testutil.Money("600"))
	s.True(dErrors.HasCode(err, dErrors.CodeCreditLimitExceeded))
	s.Equal("500.00", dErrors.DetailsOf(err)["credit_limit"])
}

func (s *EngineSuite) TestCheckEligibilityWithoutProfile() {
	e, err := s.engine.CheckEligibility(s.ctx, testutil.TestIDs.UserID2, testutil.Money("10"))
	s.Require().NoError(err)
	s.False(e.Eligible)
	s.Equal(trustmodels.ReasonNoProfile, e.Reason)

	_, err = s.engine.CheckEligibility(s.ctx, testutil.TestIDs.UserID2, testutil.Money("0"))
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
}

func (s *EngineSuite) TestCoins() {
	userID := testutil.TestIDs.UserID1
	_, err := s.engine.CreateProfile(s.ctx, userID)
	s.Require().NoError(err)

	eventID := uuid.New()
	s.Require().NoError(s.engine.AwardCoins(s.ctx, eventID, userID, testutil.Money("25")))
	s.Require().NoError(s.engine.AwardCoins(s.ctx, eventID, userID, testutil.Money("25")))

	ok, err := s.engine.UseCoins(s.ctx, userID, testutil.Money("30"))
	s.Require().NoError(err)
	s.False(ok)

	balance, err := s.engine.RedeemCoins(s.ctx, userID, testutil.Money("20"))
	s.Require().NoError(err)
	s.Equal("5.00", balance.StringFixed(2))

	_, err = s.engine.RedeemCoins(s.ctx, userID, testutil.Money("6"))
	s.True(dErrors.HasCode(err, dErrors.CodeInsufficientCoins))
}

func (s *EngineSuite) TestFollowUpIgnoresOtherEvents() {
	handler := PaymentFollowUp(nil, nil)
	entry := outbox.NewEntry(planmodels.AggregatePlan, "p", planmodels.EventPlanCreated, []byte(`{}`), testutil.FixedNow)
	s.NoError(handler.Handle(s.ctx, entry))

	bad := outbox.NewEntry(planmodels.AggregatePlan, "p", planmodels.EventPaymentSucceeded, []byte(`{`), testutil.FixedNow)
	s.NoError(handler.Handle(s.ctx, bad))
}

func (s *EngineSuite) TestFollowUpClaimedByTwoRelaysAppliesOnce() {
	userID := testutil.TestIDs.UserID1
	_, err := s.engine.CreateProfile(s.ctx, userID)
	s.Require().NoError(err)

	payload, err := json.Marshal(planmodels.PaymentSucceeded{
		PlanID: uuid.UUID(testutil.TestIDs.PlanID1),
		UserID: uuid.UUID(userID),
		OnTime: true,
	})
	s.Require().NoError(err)
	entry := outbox.NewEntry(planmodels.AggregatePlan, testutil.TestIDs.PlanID1.String(),
		planmodels.EventPaymentSucceeded, payload, testutil.FixedNow)

	handler := PaymentFollowUp(s.engine.trust, nil)
	result := testutil.RunConcurrent(2, func(int) error {
		return handler.Handle(s.ctx, entry)
	})
	s.Equal(int32(2), result.Successes)

	profile, err := s.engine.GetProfile(s.ctx, userID)
	s.Require().NoError(err)
	s.Equal(1, profile.TotalPayments)
	s.Equal("10.00", profile.CoinsBalance.StringFixed(2))
}

func (s *EngineSuite) TestEventConsumer() {
	topics := Topics{Payments: "payments.completed", Rewards: "rewards.coins"}
	handler := s.engine.EventConsumer(topics)
	userID := testutil.TestIDs.UserID1
	_, err := s.engine.CreateProfile(s.ctx, userID)
	s.Require().NoError(err)

	message := func(topic string, event InboundEvent, offset int64) *consumer.Message {
		body, err := json.Marshal(event)
		s.Require().NoError(err)
		return &consumer.Message{Topic: topic, Offset: offset, Value: body, Headers: map[string]string{}}
	}

	s.Run("payment_completed is applied once per event", func() {
		msg := message(topics.Payments, InboundEvent{EventID: uuid.NewString(), UserID: userID.String()}, 1)
		s.Require().NoError(handler.Handle(s.ctx, msg))
		s.Require().NoError(handler.Handle(s.ctx, msg))

		profile, err := s.engine.GetProfile(s.ctx, userID)
		s.Require().NoError(err)
		s.Equal(1, profile.TotalPayments)
		s.Equal("10.00", profile.CoinsBalance.StringFixed(2))
	})

	s.Run("award_coins without an id dedupes by record position", func() {
		msg := message(topics.Rewards, InboundEvent{UserID: userID.String(), Amount: testutil.Money("5")}, 7)
		s.Require().NoError(handler.Handle(s.ctx, msg))
		s.Require().NoError(handler.Handle(s.ctx, msg))

		profile, err := s.engine.GetProfile(s.ctx, userID)
		s.Require().NoError(err)
		s.Equal("15.00", profile.CoinsBalance.StringFixed(2))
	})

	s.Run("malformed records are permanent failures", func() {
		err := handler.Handle(s.ctx, &consumer.Message{Topic: topics.Payments, Value: []byte("nope")})
		s.ErrorIs(err, consumer.ErrPermanent)

		msg := message(topics.Payments, InboundEvent{UserID: "not-a-uuid"}, 2)
		s.ErrorIs(handler.Handle(s.ctx, msg), consumer.ErrPermanent)

		msg = message(topics.Payments, InboundEvent{UserID: testutil.TestIDs.UserID2.String()}, 3)
		s.ErrorIs(handler.Handle(s.ctx, msg), consumer.ErrPermanent)

		msg = message("unknown", InboundEvent{UserID: userID.String()}, 4)
		s.ErrorIs(handler.Handle(s.ctx, msg), consumer.ErrPermanent)
	})
}

func (s *EngineSuite) TestPublisherFailureIsRetried() {
	userID := testutil.TestIDs.UserID1
	_, err := s.engine.CreateProfile(s.ctx, userID)
	s.Require().NoError(err)

	s.publisher.err = errors.New("broker unavailable")
	plan, err := s.engine.CreatePlan(s.ctx, userID, testutil.TestIDs.OrderID, testutil.Money("100"))
	s.Require().NoError(err)

	pending, err := s.outbox.CountPending(s.ctx)
	s.Require().NoError(err)
	s.Equal(int64(1), pending)

	stored, err := s.engine.GetPlan(s.ctx, plan.ID)
	s.Require().NoError(err)
	s.Equal(planmodels.StatusActive, stored.Status)

	plans, err := s.engine.GetUserPlans(s.ctx, userID)
	s.Require().NoError(err)
	s.Len(plans, 1)
}

func (s *EngineSuite) TestAdminOperations() {
	userID := testutil.TestIDs.UserID1
	_, err := s.engine.CreateProfile(s.ctx, userID)
	s.Require().NoError(err)

	_, err = s.engine.RecordOrder(s.ctx, userID)
	s.Require().NoError(err)
	profile, err := s.engine.RecordDispute(s.ctx, userID)
	s.Require().NoError(err)
	s.Equal(1, profile.TotalOrders)
	s.Equal(1, profile.DisputeCount)

	plan, err := s.engine.CreatePlan(s.ctx, userID, id.OrderID("order-2"), testutil.Money("100"))
	s.Require().NoError(err)
	cancelled, err := s.engine.CancelPlan(s.ctx, plan.ID)
	s.Require().NoError(err)
	s.Equal(planmodels.StatusCancelled, cancelled.Status)

	_, err = s.engine.MarkDefaulted(s.ctx, plan.ID)
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidState))

	rescored, err := s.engine.RescoreAll(s.ctx)
	s.Require().NoError(err)
	s.Equal(1, rescored.Total)

	swept, err := s.engine.SweepOverdue(s.ctx, 0, 10)
	s.Require().NoError(err)
	s.Equal(0, swept.InstallmentsMarked)
}
