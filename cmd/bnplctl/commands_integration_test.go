//go:build integration

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"bnpl/internal/trust/cache"
	"bnpl/internal/trust/models"
	"bnpl/pkg/platform/sentinel"
	"bnpl/pkg/testutil"
	"bnpl/pkg/testutil/containers"
)

type CommandsSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	redis    *containers.RedisContainer
	cache    *cache.RedisCache
}

func TestCommandsSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(CommandsSuite))
}

func (s *CommandsSuite) SetupSuite() {
	s.postgres = containers.GetManager().GetPostgres(s.T())
	s.redis = containers.GetManager().GetRedis(s.T())
	s.cache = cache.NewRedisCache(s.redis.Client, time.Minute)
}

func (s *CommandsSuite) SetupTest() {
	ctx := context.Background()
	s.Require().NoError(s.postgres.TruncateAll(ctx))
	s.Require().NoError(s.redis.Client.FlushDB(ctx).Err())
	s.T().Setenv("REDIS_URL", s.redis.URL)
}

func (s *CommandsSuite) run(args ...string) []byte {
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetArgs(append(args, "--database-url", s.postgres.DSN, "--json"))
	s.Require().NoError(root.ExecuteContext(context.Background()))
	return out.Bytes()
}

func (s *CommandsSuite) TestRescoreInvalidatesCachedProfiles() {
	ctx := context.Background()
	userID := s.postgres.CreateTestProfile(ctx, s.T(), testutil.FixedNow)
	_, err := s.postgres.DB.ExecContext(ctx,
		`UPDATE trust_profiles SET total_payments = 1, on_time_payments = 1 WHERE user_id = $1`, uuid.UUID(userID))
	s.Require().NoError(err)

	stale, err := models.NewProfile(userID, testutil.FixedNow)
	s.Require().NoError(err)
	s.Require().NoError(s.cache.Set(ctx, stale))

	var result struct {
		Total   int
		Changed int
	}
	s.Require().NoError(json.Unmarshal(s.run("rescore"), &result))
	s.Equal(1, result.Total)
	s.Equal(1, result.Changed)

	_, err = s.cache.Get(ctx, userID)
	s.ErrorIs(err, sentinel.ErrNotFound)

	var shown struct {
		Score int `json:"score"`
	}
	s.Require().NoError(json.Unmarshal(s.run("profile", "show", userID.String()), &shown))
	s.Positive(shown.Score)
}
