package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"bnpl/internal/plan/models"
	"bnpl/internal/plan/service/mocks"
	trustmodels "bnpl/internal/trust/models"
	truststore "bnpl/internal/trust/store"
	dErrors "bnpl/pkg/domain-errors"
	"bnpl/pkg/platform/outbox"
	outboxmemory "bnpl/pkg/platform/outbox/store/memory"
	"bnpl/pkg/platform/sentinel"
	platformsync "bnpl/pkg/platform/sync"
	"bnpl/pkg/testutil"
)

// MockedLedgerSuite covers error translation and the pre-check signal.
type MockedLedgerSuite struct {
	suite.Suite
	ctrl        *gomock.Controller
	plans       *mocks.MockStore
	eligibility *mocks.MockEligibilityChecker
	marker      *mocks.MockOutboxMarker
	profiles    *truststore.InMemoryStore
	service     *Service
}

func TestMockedLedgerSuite(t *testing.T) {
	suite.Run(t, new(MockedLedgerSuite))
}

func (s *MockedLedgerSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.plans = mocks.NewMockStore(s.ctrl)
	s.eligibility = mocks.NewMockEligibilityChecker(s.ctrl)
	s.marker = mocks.NewMockOutboxMarker(s.ctrl)
	s.profiles = truststore.NewInMemory()

	p, err := trustmodels.NewProfile(testutil.TestIDs.UserID1, testutil.FixedNow)
	s.Require().NoError(err)
	s.Require().NoError(s.profiles.Create(context.Background(), p))

	tx := NewShardedTx(platformsync.NewShardedMutex(), Stores{Plans: s.plans, Profiles: s.profiles, Outbox: outboxmemory.New()})
	s.service = New(s.plans, tx, slog.New(slog.NewTextHandler(io.Discard, nil)),
		WithEligibilityPreCheck(s.eligibility),
		WithFollowUp(outbox.HandlerFunc(func(context.Context, *outbox.Entry) error { return nil }), s.marker),
		WithClock(func() time.Time { return testutil.FixedNow }))
}

func (s *MockedLedgerSuite) TearDownTest() {
	s.ctrl.Finish()
}

func (s *MockedLedgerSuite) TestPreCheckIsOnlyASignal() {
	amount := testutil.Money("100")
	s.plans.EXPECT().SumOutstanding(gomock.Any(), testutil.TestIDs.UserID1).Return(decimal.Zero, nil).Times(2)
	// the unlocked pre-check disagrees; the locked gate decides
	s.eligibility.EXPECT().CheckEligibility(gomock.Any(), testutil.TestIDs.UserID1, amount, decimal.Zero).
		Return(trustmodels.Eligibility{Eligible: false, Reason: "stale"}, nil)
	s.plans.EXPECT().Create(gomock.Any(), gomock.Any()).Return(nil)
	s.marker.EXPECT().MarkProcessed(gomock.Any(), gomock.Any(), testutil.FixedNow).Return(nil)

	plan, err := s.service.Create(context.Background(), testutil.TestIDs.UserID1, testutil.TestIDs.OrderID, amount)
	s.Require().NoError(err)
	s.Equal(models.StatusActive, plan.Status)
}

func (s *MockedLedgerSuite) TestPreCheckFailureDoesNotBlock() {
	amount := testutil.Money("100")
	s.plans.EXPECT().SumOutstanding(gomock.Any(), testutil.TestIDs.UserID1).Return(decimal.Zero, nil).Times(2)
	s.eligibility.EXPECT().CheckEligibility(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return(trustmodels.Eligibility{}, errors.New("timeout"))
	s.plans.EXPECT().Create(gomock.Any(), gomock.Any()).Return(nil)
	s.marker.EXPECT().MarkProcessed(gomock.Any(), gomock.Any(), gomock.Any()).Return(errors.New("db down"))

	_, err := s.service.Create(context.Background(), testutil.TestIDs.UserID1, testutil.TestIDs.OrderID, amount)
	s.Require().NoError(err)
}

func (s *MockedLedgerSuite) TestStoreFailureIsInternal() {
	boom := errors.New("connection reset")
	s.plans.EXPECT().SumOutstanding(gomock.Any(), gomock.Any()).Return(decimal.Zero, nil)
	s.eligibility.EXPECT().CheckEligibility(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return(trustmodels.Eligibility{Eligible: true}, nil)
	s.plans.EXPECT().SumOutstanding(gomock.Any(), gomock.Any()).Return(decimal.Zero, boom)

	_, err := s.service.Create(context.Background(), testutil.TestIDs.UserID1, testutil.TestIDs.OrderID, testutil.Money("10"))
	s.True(dErrors.HasCode(err, dErrors.CodeInternal))
	s.ErrorIs(err, boom)
}

func (s *MockedLedgerSuite) TestGetNotFound() {
	s.plans.EXPECT().FindByID(gomock.Any(), testutil.TestIDs.PlanID1).Return(nil, sentinel.ErrNotFound)

	_, err := s.service.Get(context.Background(), testutil.TestIDs.PlanID1)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func (s *MockedLedgerSuite) TestSweepCountsFailures() {
	plan, err := models.NewPlan(testutil.TestIDs.PlanID1, testutil.TestIDs.UserID1, testutil.TestIDs.OrderID,
		testutil.Money("200"), testutil.FixedNow.Add(-30*24*time.Hour))
	s.Require().NoError(err)
	s.plans.EXPECT().ListOverdueCandidates(gomock.Any(), testutil.FixedNow.Add(-time.Hour), 50).
		Return([]*models.Plan{plan}, nil)
	s.plans.EXPECT().FindByIDForUpdate(gomock.Any(), plan.ID).Return(plan.Clone(), nil)
	s.plans.EXPECT().Update(gomock.Any(), gomock.Any()).Return(errors.New("write failed"))

	result, err := s.service.MarkOverdue(context.Background(), time.Hour, 50)
	s.Require().NoError(err)
	s.Equal(1, result.PlansScanned)
	s.Equal(1, result.Failed)
	s.Zero(result.PlansUpdated)
}
