//go:build integration

package storage_test

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/suite"

	"bnpl/internal/bnpl"
	"bnpl/internal/bnpl/storage"
	planservice "bnpl/internal/plan/service"
	trustservice "bnpl/internal/trust/service"
	id "bnpl/pkg/domain"
	dErrors "bnpl/pkg/domain-errors"
	"bnpl/pkg/testutil"
	"bnpl/pkg/testutil/containers"
)

// PostgresEngineSuite runs the engine against real row locks.
type PostgresEngineSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	backend  *storage.Backend
	engine   *bnpl.Engine
	userID   id.UserID
}

func TestPostgresEngineSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresEngineSuite))
}

func (s *PostgresEngineSuite) SetupSuite() {
	s.postgres = containers.GetManager().GetPostgres(s.T())
	s.backend = storage.NewPostgres(s.postgres.DB)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	trust := trustservice.New(s.backend.Profiles, s.backend.TrustTx, logger)
	ledger := planservice.New(s.backend.Plans, s.backend.LedgerTx, logger,
		planservice.WithFollowUp(bnpl.PaymentFollowUp(trust, logger), s.backend.Outbox))
	s.engine = bnpl.New(trust, ledger, logger)
}

func (s *PostgresEngineSuite) SetupTest() {
	ctx := context.Background()
	s.Require().NoError(s.postgres.TruncateAll(ctx))
	s.userID = s.postgres.CreateTestProfile(ctx, s.T(), testutil.FixedNow)
}

func (s *PostgresEngineSuite) TestConcurrentCreatesRespectLimit() {
	ctx := context.Background()
	result := testutil.RunConcurrent(20, func(int) error {
		_, err := s.engine.CreatePlan(ctx, s.userID, testutil.TestIDs.OrderID, testutil.Money("100"))
		return err
	})

	s.Equal(int32(5), result.Successes)
	s.Equal(int32(15), result.Count(dErrors.CodeCreditLimitExceeded))

	debt, err := s.backend.Plans.SumOutstanding(ctx, s.userID)
	s.Require().NoError(err)
	s.Equal("500.00", debt.StringFixed(2))
}

func (s *PostgresEngineSuite) TestPaymentFollowUpCommits() {
	ctx := context.Background()
	plan, err := s.engine.CreatePlan(ctx, s.userID, testutil.TestIDs.OrderID, testutil.Money("200"))
	s.Require().NoError(err)

	_, err = s.engine.PayInstallment(ctx, plan.ID, 0)
	s.Require().NoError(err)

	profile, err := s.engine.GetProfile(ctx, s.userID)
	s.Require().NoError(err)
	s.Equal(1, profile.TotalPayments)
	s.Equal("10.00", profile.CoinsBalance.StringFixed(2))

	pending, err := s.backend.Outbox.CountPending(ctx)
	s.Require().NoError(err)
	s.Zero(pending)
}

func (s *PostgresEngineSuite) TestFailedGateLeavesNoPlan() {
	ctx := context.Background()
	_, err := s.engine.CreatePlan(ctx, s.userID, testutil.TestIDs.OrderID, testutil.Money("600"))
	s.True(dErrors.HasCode(err, dErrors.CodeCreditLimitExceeded))

	plans, err := s.engine.GetUserPlans(ctx, s.userID)
	s.Require().NoError(err)
	s.Empty(plans)

	pending, err := s.backend.Outbox.CountPending(ctx)
	s.Require().NoError(err)
	s.Zero(pending)
}
