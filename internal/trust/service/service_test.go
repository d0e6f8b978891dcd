package service

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"

	"bnpl/internal/trust/cache"
	"bnpl/internal/trust/models"
	"bnpl/internal/trust/store"
	id "bnpl/pkg/domain"
	dErrors "bnpl/pkg/domain-errors"
	platformsync "bnpl/pkg/platform/sync"
	"bnpl/pkg/testutil"
)

// ServiceSuite exercises the scoring policy against the in-memory store.
type ServiceSuite struct {
	suite.Suite
	store   *store.InMemoryStore
	clock   *testutil.Clock
	service *Service
	ctx     context.Context
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = store.NewInMemory()
	s.clock = testutil.NewClock(testutil.FixedNow)
	s.service = New(s.store, NewShardedTx(platformsync.NewShardedMutex(), s.store),
		slog.New(slog.NewTextHandler(io.Discard, nil)),
		WithClock(s.clock.Now))
}

func (s *ServiceSuite) seedProfile(userID id.UserID, createdAt time.Time, mutate func(p *models.Profile)) {
	p, err := models.NewProfile(userID, createdAt)
	s.Require().NoError(err)
	if mutate != nil {
		mutate(p)
	}
	s.Require().NoError(s.store.Create(s.ctx, p))
}

func (s *ServiceSuite) TestCreateProfile() {
	s.Run("fresh profile has defaults", func() {
		p, err := s.service.CreateProfile(s.ctx, testutil.TestIDs.UserID1)
		s.Require().NoError(err)
		s.Equal(0, p.Score())
		s.Equal(models.TierBronze, p.Tier())
		s.Equal("500.00", p.CreditLimit().StringFixed(2))
		s.True(p.CoinsBalance.IsZero())
		s.Nil(p.LastCalculatedAt)
	})

	s.Run("second create returns the existing profile", func() {
		_, err := s.service.RecordOrder(s.ctx, testutil.TestIDs.UserID1)
		s.Require().NoError(err)

		p, err := s.service.CreateProfile(s.ctx, testutil.TestIDs.UserID1)
		s.Require().NoError(err)
		s.Equal(1, p.TotalOrders)
	})

	s.Run("nil user rejected", func() {
		_, err := s.service.CreateProfile(s.ctx, id.UserID(uuid.Nil))
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})
}

func (s *ServiceSuite) TestCalculateScore() {
	s.Run("reference scenario reaches platinum", func() {
		s.seedProfile(testutil.TestIDs.UserID1, testutil.FixedNow.AddDate(0, -10, 0), func(p *models.Profile) {
			p.TotalPayments = 10
			p.OnTimePayments = 10
			p.TotalOrders = 5
		})

		p, err := s.service.CalculateScore(s.ctx, testutil.TestIDs.UserID1)
		s.Require().NoError(err)
		s.Equal(800, p.Score())
		s.Equal(models.TierPlatinum, p.Tier())
		s.Equal("2000.00", p.CreditLimit().StringFixed(2))
		s.Require().NotNil(p.LastCalculatedAt)
		s.True(p.LastCalculatedAt.Equal(testutil.FixedNow))

		stored, err := s.store.FindByUser(s.ctx, testutil.TestIDs.UserID1)
		s.Require().NoError(err)
		s.Equal(800, stored.Score())
	})

	s.Run("new user recomputes to zero", func() {
		s.seedProfile(testutil.TestIDs.UserID2, testutil.FixedNow, nil)
		p, err := s.service.CalculateScore(s.ctx, testutil.TestIDs.UserID2)
		s.Require().NoError(err)
		s.Equal(0, p.Score())
		s.Equal(models.TierBronze, p.Tier())
		s.Equal("500.00", p.CreditLimit().StringFixed(2))
	})

	s.Run("unknown user is not found", func() {
		_, err := s.service.CalculateScore(s.ctx, id.UserID(uuid.New()))
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

func (s *ServiceSuite) TestCheckEligibility() {
	s.seedProfile(testutil.TestIDs.UserID1, testutil.FixedNow, nil)

	s.Run("no profile", func() {
		e, err := s.service.CheckEligibility(s.ctx, testutil.TestIDs.UserID2, testutil.Money("10"), decimal.Zero)
		s.Require().NoError(err)
		s.False(e.Eligible)
		s.Equal(models.ReasonNoProfile, e.Reason)
		s.True(e.CreditLimit.IsZero())
	})

	s.Run("boundary accepted", func() {
		e, err := s.service.CheckEligibility(s.ctx, testutil.TestIDs.UserID1, testutil.Money("200"), testutil.Money("300"))
		s.Require().NoError(err)
		s.True(e.Eligible)
		s.Equal("500.00", e.CreditLimit.StringFixed(2))
		s.Equal("200.00", e.Available.StringFixed(2))
	})

	s.Run("above limit rejected with reason", func() {
		e, err := s.service.CheckEligibility(s.ctx, testutil.TestIDs.UserID1, testutil.Money("600"), decimal.Zero)
		s.Require().NoError(err)
		s.False(e.Eligible)
		s.Contains(e.Reason, "500.00")
	})

	s.Run("non-positive amount rejected", func() {
		_, err := s.service.CheckEligibility(s.ctx, testutil.TestIDs.UserID1, testutil.Money("0"), decimal.Zero)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})
}

func (s *ServiceSuite) TestHandlePaymentSuccess() {
	s.seedProfile(testutil.TestIDs.UserID1, testutil.FixedNow, nil)
	eventID := uuid.New()

	p, err := s.service.HandlePaymentSuccess(s.ctx, eventID, testutil.TestIDs.UserID1)
	s.Require().NoError(err)
	s.Equal(1, p.TotalPayments)
	s.Equal(1, p.OnTimePayments)
	s.Equal("10.00", p.CoinsBalance.StringFixed(2))
	s.Equal(550, p.Score()) // 400 history + 150 speed
	s.Equal(models.TierSilver, p.Tier())

	s.Run("redelivery is a no-op", func() {
		again, err := s.service.HandlePaymentSuccess(s.ctx, eventID, testutil.TestIDs.UserID1)
		s.Require().NoError(err)
		s.Equal(1, again.TotalPayments)
		s.Equal("10.00", again.CoinsBalance.StringFixed(2))
	})

	s.Run("unidentified events always apply", func() {
		again, err := s.service.HandlePaymentSuccess(s.ctx, uuid.Nil, testutil.TestIDs.UserID1)
		s.Require().NoError(err)
		s.Equal(2, again.TotalPayments)
		s.Equal("20.00", again.CoinsBalance.StringFixed(2))
	})

	s.Run("unknown user", func() {
		_, err := s.service.HandlePaymentSuccess(s.ctx, uuid.New(), testutil.TestIDs.UserID2)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

func (s *ServiceSuite) TestRecordInstallmentPaymentLate() {
	s.seedProfile(testutil.TestIDs.UserID1, testutil.FixedNow, nil)

	_, err := s.service.RecordInstallmentPayment(s.ctx, uuid.New(), testutil.TestIDs.UserID1,
		models.PaymentOutcome{OnTime: true, Tracked: true})
	s.Require().NoError(err)
	p, err := s.service.RecordInstallmentPayment(s.ctx, uuid.New(), testutil.TestIDs.UserID1,
		models.PaymentOutcome{OnTime: false, DelayDays: 6, Tracked: true})
	s.Require().NoError(err)

	s.Equal(2, p.TotalPayments)
	s.Equal(1, p.OnTimePayments)
	s.Equal(2, p.DelaySamples)
	s.InDelta(3.0, p.AveragePaymentDelayDays, 1e-9)
	s.Equal("20.00", p.CoinsBalance.StringFixed(2))
	// 200 history + 135 speed
	s.Equal(335, p.Score())
}

func (s *ServiceSuite) TestCoins() {
	s.seedProfile(testutil.TestIDs.UserID1, testutil.FixedNow, func(p *models.Profile) {
		p.CoinsBalance = testutil.Money("25")
	})

	s.Run("redeem within balance", func() {
		ok, err := s.service.UseCoins(s.ctx, testutil.TestIDs.UserID1, testutil.Money("20"))
		s.Require().NoError(err)
		s.True(ok)
	})

	s.Run("redeem above balance reports details", func() {
		_, err := s.service.RedeemCoins(s.ctx, testutil.TestIDs.UserID1, testutil.Money("10"))
		s.True(dErrors.HasCode(err, dErrors.CodeInsufficientCoins))
		s.Equal("5.00", dErrors.DetailsOf(err)["balance"])

		ok, err := s.service.UseCoins(s.ctx, testutil.TestIDs.UserID1, testutil.Money("10"))
		s.Require().NoError(err)
		s.False(ok)
	})

	s.Run("no profile is false", func() {
		ok, err := s.service.UseCoins(s.ctx, testutil.TestIDs.UserID2, testutil.Money("1"))
		s.Require().NoError(err)
		s.False(ok)
	})

	s.Run("award to unknown user is a no-op", func() {
		s.Require().NoError(s.service.AwardCoins(s.ctx, testutil.TestIDs.UserID2, testutil.Money("5")))
	})

	s.Run("award credits", func() {
		s.Require().NoError(s.service.AwardCoins(s.ctx, testutil.TestIDs.UserID1, testutil.Money("5")))
		p, err := s.store.FindByUser(s.ctx, testutil.TestIDs.UserID1)
		s.Require().NoError(err)
		s.Equal("10.00", p.CoinsBalance.StringFixed(2))
	})

	s.Run("identified reward applies once", func() {
		eventID := uuid.New()
		s.Require().NoError(s.service.ApplyReward(s.ctx, eventID, testutil.TestIDs.UserID1, testutil.Money("3")))
		s.Require().NoError(s.service.ApplyReward(s.ctx, eventID, testutil.TestIDs.UserID1, testutil.Money("3")))
		p, err := s.store.FindByUser(s.ctx, testutil.TestIDs.UserID1)
		s.Require().NoError(err)
		s.Equal("13.00", p.CoinsBalance.StringFixed(2))
	})
}

func (s *ServiceSuite) TestConcurrentRedemptionsNeverOverdraw() {
	s.seedProfile(testutil.TestIDs.UserID1, testutil.FixedNow, func(p *models.Profile) {
		p.CoinsBalance = testutil.Money("100")
	})

	result := testutil.RunConcurrent(40, func(int) error {
		_, err := s.service.RedeemCoins(s.ctx, testutil.TestIDs.UserID1, testutil.Money("7"))
		return err
	})

	s.Equal(int32(14), result.Successes)
	s.Equal(int32(26), result.Count(dErrors.CodeInsufficientCoins))
	p, err := s.store.FindByUser(s.ctx, testutil.TestIDs.UserID1)
	s.Require().NoError(err)
	s.Equal("2.00", p.CoinsBalance.StringFixed(2))
	s.False(p.CoinsBalance.IsNegative())
}

func (s *ServiceSuite) TestConcurrentPaymentEventsAllApply() {
	s.seedProfile(testutil.TestIDs.UserID1, testutil.FixedNow, nil)

	result := testutil.RunConcurrent(30, func(int) error {
		_, err := s.service.HandlePaymentSuccess(s.ctx, uuid.New(), testutil.TestIDs.UserID1)
		return err
	})
	s.Equal(int32(30), result.Successes)

	p, err := s.store.FindByUser(s.ctx, testutil.TestIDs.UserID1)
	s.Require().NoError(err)
	s.Equal(30, p.TotalPayments)
	s.Equal("300.00", p.CoinsBalance.StringFixed(2))
}

func (s *ServiceSuite) TestRedemptionDuringRescoreIsNotOverwritten() {
	s.seedProfile(testutil.TestIDs.UserID1, testutil.FixedNow, func(p *models.Profile) {
		p.CoinsBalance = testutil.Money("20")
	})

	var paused atomic.Bool
	entered := make(chan struct{})
	release := make(chan struct{})
	svc := New(s.store, NewShardedTx(platformsync.NewShardedMutex(), s.store),
		slog.New(slog.NewTextHandler(io.Discard, nil)),
		WithClock(func() time.Time {
			if paused.CompareAndSwap(true, false) {
				close(entered)
				<-release
			}
			return testutil.FixedNow
		}))

	paused.Store(true)
	scored := make(chan error, 1)
	go func() {
		_, err := svc.CalculateScore(s.ctx, testutil.TestIDs.UserID1)
		scored <- err
	}()
	<-entered

	redeemed := make(chan bool, 1)
	go func() {
		ok, err := svc.UseCoins(s.ctx, testutil.TestIDs.UserID1, testutil.Money("20"))
		s.NoError(err)
		redeemed <- ok
	}()
	time.Sleep(20 * time.Millisecond)
	close(release)

	s.Require().NoError(<-scored)
	s.True(<-redeemed)
	p, err := s.store.FindByUser(s.ctx, testutil.TestIDs.UserID1)
	s.Require().NoError(err)
	s.Equal("0.00", p.CoinsBalance.StringFixed(2))
}

func (s *ServiceSuite) TestConcurrentCoinWritesSurviveProfileRewrites() {
	s.seedProfile(testutil.TestIDs.UserID1, testutil.FixedNow, func(p *models.Profile) {
		p.CoinsBalance = testutil.Money("50")
	})

	var debits atomic.Int64
	result := testutil.RunConcurrent(80, func(idx int) error {
		switch idx % 4 {
		case 0:
			ok, err := s.service.UseCoins(s.ctx, testutil.TestIDs.UserID1, testutil.Money("5"))
			if ok {
				debits.Add(1)
			}
			return err
		case 1:
			_, err := s.service.HandlePaymentSuccess(s.ctx, uuid.New(), testutil.TestIDs.UserID1)
			return err
		case 2:
			_, err := s.service.CalculateScore(s.ctx, testutil.TestIDs.UserID1)
			return err
		default:
			return s.service.AwardCoins(s.ctx, testutil.TestIDs.UserID1, testutil.Money("1"))
		}
	})
	s.Equal(int32(80), result.Successes)

	// 50 seeded + 20 payments x 10 + 20 awards x 1 - 5 per successful debit
	expected := testutil.Money("270").Sub(testutil.Money("5").Mul(decimal.NewFromInt(debits.Load())))
	p, err := s.store.FindByUser(s.ctx, testutil.TestIDs.UserID1)
	s.Require().NoError(err)
	s.Equal(20, p.TotalPayments)
	s.Equal(expected.StringFixed(2), p.CoinsBalance.StringFixed(2))
	s.Positive(debits.Load())
}

// racingStore runs afterRead once, between a FindByUser and its caller.
type racingStore struct {
	*store.InMemoryStore
	afterRead func()
}

func (r *racingStore) FindByUser(ctx context.Context, userID id.UserID) (*models.Profile, error) {
	p, err := r.InMemoryStore.FindByUser(ctx, userID)
	if hook := r.afterRead; hook != nil {
		r.afterRead = nil
		hook()
	}
	return p, err
}

func (s *ServiceSuite) TestWriteDuringCacheFillIsNotMasked() {
	s.seedProfile(testutil.TestIDs.UserID1, testutil.FixedNow, nil)
	racing := &racingStore{InMemoryStore: s.store}
	svc := New(racing, NewShardedTx(platformsync.NewShardedMutex(), racing),
		slog.New(slog.NewTextHandler(io.Discard, nil)),
		WithClock(s.clock.Now),
		WithCache(cache.NewMemoryCache(time.Minute)))

	racing.afterRead = func() {
		_, err := svc.RecordOrder(s.ctx, testutil.TestIDs.UserID1)
		s.Require().NoError(err)
	}
	stale, err := svc.GetProfile(s.ctx, testutil.TestIDs.UserID1)
	s.Require().NoError(err)
	s.Equal(0, stale.TotalOrders)

	current, err := svc.GetProfile(s.ctx, testutil.TestIDs.UserID1)
	s.Require().NoError(err)
	s.Equal(1, current.TotalOrders)
}

func (s *ServiceSuite) TestRecordOrderAndDispute() {
	s.seedProfile(testutil.TestIDs.UserID1, testutil.FixedNow, nil)

	_, err := s.service.RecordOrder(s.ctx, testutil.TestIDs.UserID1)
	s.Require().NoError(err)
	p, err := s.service.RecordDispute(s.ctx, testutil.TestIDs.UserID1)
	s.Require().NoError(err)
	s.Equal(1, p.TotalOrders)
	s.Equal(1, p.DisputeCount)
	s.Equal(0, p.Score(), "counters alone do not rescore")

	_, err = s.service.RecordOrder(s.ctx, testutil.TestIDs.UserID2)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func (s *ServiceSuite) TestRescoreAll() {
	s.seedProfile(testutil.TestIDs.UserID1, testutil.FixedNow.AddDate(0, -10, 0), func(p *models.Profile) {
		p.TotalPayments = 10
		p.OnTimePayments = 10
		p.TotalOrders = 5
	})
	s.seedProfile(testutil.TestIDs.UserID2, testutil.FixedNow, nil)

	result, err := s.service.RescoreAll(s.ctx)
	s.Require().NoError(err)
	s.Equal(2, result.Total)
	s.Equal(1, result.Changed)
	s.Zero(result.Failed)
}
