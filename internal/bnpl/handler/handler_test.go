package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/suite"

	"bnpl/internal/bnpl"
	planservice "bnpl/internal/plan/service"
	planstore "bnpl/internal/plan/store"
	trustservice "bnpl/internal/trust/service"
	truststore "bnpl/internal/trust/store"
	"bnpl/pkg/platform/middleware/admin"
	"bnpl/pkg/platform/middleware/request"
	outboxmemory "bnpl/pkg/platform/outbox/store/memory"
	platformsync "bnpl/pkg/platform/sync"
	"bnpl/pkg/testutil"
)

const adminToken = "ops-secret"

// HandlerSuite drives the HTTP surface against the real engine on memory stores.
type HandlerSuite struct {
	suite.Suite
	clock  *testutil.Clock
	server *httptest.Server
	userID string
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s.clock = testutil.NewClock(testutil.FixedNow)
	mu := platformsync.NewShardedMutex()

	profiles := truststore.NewInMemory()
	trust := trustservice.New(profiles, trustservice.NewShardedTx(mu, profiles), logger, trustservice.WithClock(s.clock.Now))
	plans := planstore.NewInMemory()
	outboxStore := outboxmemory.New()
	ledger := planservice.New(plans,
		planservice.NewShardedTx(mu, planservice.Stores{Plans: plans, Profiles: profiles, Outbox: outboxStore}),
		logger,
		planservice.WithFollowUp(bnpl.PaymentFollowUp(trust, logger), outboxStore),
		planservice.WithClock(s.clock.Now))

	h := New(bnpl.New(trust, ledger, logger), logger, SweepDefaults{})
	r := chi.NewRouter()
	r.Use(request.RequestID)
	h.Register(r)
	r.Route("/admin", func(r chi.Router) {
		r.Use(admin.RequireToken(adminToken, logger))
		h.RegisterAdmin(r)
	})
	s.server = httptest.NewServer(r)
	s.userID = testutil.TestIDs.UserID1.String()
}

func (s *HandlerSuite) TearDownTest() {
	s.server.Close()
}

func (s *HandlerSuite) do(method, path, body string, headers ...string) (int, map[string]any) {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequestWithContext(context.Background(), method, s.server.URL+path, reader)
	s.Require().NoError(err)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp, err := http.DefaultClient.Do(req)
	s.Require().NoError(err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	s.Require().NoError(err)
	var out map[string]any
	if len(raw) > 0 {
		s.Require().NoError(json.Unmarshal(raw, &out), string(raw))
	}
	return resp.StatusCode, out
}

func (s *HandlerSuite) createProfile() {
	status, _ := s.do(http.MethodPost, "/v1/profiles", `{"user_id":"`+s.userID+`"}`)
	s.Require().Equal(http.StatusCreated, status)
}

func (s *HandlerSuite) createPlan(total string) string {
	status, body := s.do(http.MethodPost, "/v1/plans",
		`{"user_id":"`+s.userID+`","order_id":"order-1","total_amount":"`+total+`"}`)
	s.Require().Equal(http.StatusCreated, status, body)
	return body["id"].(string)
}

func (s *HandlerSuite) TestProfileLifecycle() {
	s.createProfile()

	s.Run("create is idempotent", func() {
		status, body := s.do(http.MethodPost, "/v1/profiles", `{"user_id":"`+s.userID+`"}`)
		s.Equal(http.StatusCreated, status)
		s.Equal("BRONZE", body["tier"])
		s.Equal("500.00", body["credit_limit"])
	})

	s.Run("score recompute", func() {
		status, body := s.do(http.MethodPost, "/v1/profiles/"+s.userID+"/score", "")
		s.Equal(http.StatusOK, status)
		s.EqualValues(0, body["score"])
	})

	s.Run("unknown profile is 404", func() {
		status, body := s.do(http.MethodGet, "/v1/profiles/"+testutil.TestIDs.UserID2.String(), "")
		s.Equal(http.StatusNotFound, status)
		s.Equal("not_found", body["error"])
	})

	s.Run("malformed id is 400", func() {
		status, _ := s.do(http.MethodGet, "/v1/profiles/nope", "")
		s.Equal(http.StatusBadRequest, status)
	})
}

func (s *HandlerSuite) TestCreatePlanValidation() {
	s.createProfile()

	cases := map[string]string{
		"missing order":  `{"user_id":"` + s.userID + `","total_amount":"10"}`,
		"three decimals": `{"user_id":"` + s.userID + `","order_id":"o","total_amount":"10.001"}`,
		"negative":       `{"user_id":"` + s.userID + `","order_id":"o","total_amount":"-1"}`,
		"bad user":       `{"user_id":"x","order_id":"o","total_amount":"10"}`,
		"not json":       `{`,
	}
	for name, body := range cases {
		s.Run(name, func() {
			status, _ := s.do(http.MethodPost, "/v1/plans", body)
			s.Equal(http.StatusBadRequest, status)
		})
	}
}

func (s *HandlerSuite) TestCreditGate() {
	s.createProfile()

	status, body := s.do(http.MethodPost, "/v1/plans",
		`{"user_id":"`+s.userID+`","order_id":"order-1","total_amount":"600"}`)
	s.Equal(http.StatusUnprocessableEntity, status)
	s.Equal("credit_limit_exceeded", body["error"])
	details := body["details"].(map[string]any)
	s.Equal("500.00", details["credit_limit"])

	status, body = s.do(http.MethodGet, "/v1/profiles/"+s.userID+"/eligibility?amount=500", "")
	s.Equal(http.StatusOK, status)
	s.Equal(true, body["eligible"])
	s.Equal("500.00", body["available"])

	status, _ = s.do(http.MethodGet, "/v1/profiles/"+s.userID+"/eligibility", "")
	s.Equal(http.StatusBadRequest, status)
}

func (s *HandlerSuite) TestPayInstallment() {
	s.createProfile()
	planID := s.createPlan("400")

	status, body := s.do(http.MethodPost, "/v1/plans/"+planID+"/installments/0/pay", "")
	s.Require().Equal(http.StatusOK, status)
	s.Equal("300.00", body["remaining_balance"])

	status, body = s.do(http.MethodPost, "/v1/plans/"+planID+"/installments/0/pay", "")
	s.Equal(http.StatusConflict, status)
	s.Equal("already_paid", body["error"])

	status, _ = s.do(http.MethodPost, "/v1/plans/"+planID+"/installments/9/pay", "")
	s.Equal(http.StatusNotFound, status)

	status, _ = s.do(http.MethodPost, "/v1/plans/"+planID+"/installments/first/pay", "")
	s.Equal(http.StatusBadRequest, status)

	status, body = s.do(http.MethodGet, "/v1/profiles/"+s.userID, "")
	s.Equal(http.StatusOK, status)
	s.EqualValues(1, body["total_payments"])
	s.Equal("10.00", body["coins_balance"])

	status, body = s.do(http.MethodGet, "/v1/profiles/"+s.userID+"/plans", "")
	s.Equal(http.StatusOK, status)
	s.Len(body["plans"], 1)
}

func (s *HandlerSuite) TestCoinsAndEvents() {
	s.createProfile()

	status, _ := s.do(http.MethodPost, "/v1/events/award-coins",
		`{"event_id":"`+testutil.TestIDs.PlanID1.String()+`","user_id":"`+s.userID+`","amount":"20"}`)
	s.Equal(http.StatusAccepted, status)

	status, body := s.do(http.MethodPost, "/v1/profiles/"+s.userID+"/coins/use", `{"amount":"25"}`)
	s.Equal(http.StatusOK, status)
	s.Equal(false, body["success"])

	status, body = s.do(http.MethodPost, "/v1/profiles/"+s.userID+"/coins/redeem", `{"amount":"15"}`)
	s.Equal(http.StatusOK, status)
	s.Equal("5.00", body["balance"])

	status, body = s.do(http.MethodPost, "/v1/profiles/"+s.userID+"/coins/redeem", `{"amount":"15"}`)
	s.Equal(http.StatusUnprocessableEntity, status)
	s.Equal("insufficient_coins", body["error"])

	status, _ = s.do(http.MethodPost, "/v1/events/payment-completed", `{"user_id":"`+s.userID+`"}`)
	s.Equal(http.StatusAccepted, status)
	_, body = s.do(http.MethodGet, "/v1/profiles/"+s.userID, "")
	s.EqualValues(1, body["total_payments"])
}

func (s *HandlerSuite) TestAdminRoutes() {
	s.createProfile()
	planID := s.createPlan("100")

	status, body := s.do(http.MethodPost, "/admin/rescore", "")
	s.Equal(http.StatusUnauthorized, status)
	s.Equal("unauthorized", body["error"])

	auth := []string{admin.HeaderToken, adminToken}
	status, body = s.do(http.MethodPost, "/admin/profiles/"+s.userID+"/orders", "", auth...)
	s.Equal(http.StatusOK, status)
	s.EqualValues(1, body["total_orders"])

	status, body = s.do(http.MethodPost, "/admin/profiles/"+s.userID+"/disputes", "", auth...)
	s.Equal(http.StatusOK, status)
	s.EqualValues(1, body["dispute_count"])

	status, body = s.do(http.MethodPost, "/admin/plans/"+planID+"/default", "", auth...)
	s.Equal(http.StatusConflict, status)
	s.Equal("invalid_state", body["error"])

	status, body = s.do(http.MethodPost, "/admin/overdue-sweep", `{"grace_period":"1h"}`, auth...)
	s.Equal(http.StatusOK, status)
	s.EqualValues(0, body["installments_marked"])

	status, _ = s.do(http.MethodPost, "/admin/overdue-sweep", `{"grace_period":"-1h"}`, auth...)
	s.Equal(http.StatusBadRequest, status)

	s.clock.Advance(20 * 24 * time.Hour)
	status, body = s.do(http.MethodPost, "/admin/overdue-sweep", "", auth...)
	s.Equal(http.StatusOK, status)
	s.EqualValues(2, body["installments_marked"])

	status, body = s.do(http.MethodPost, "/admin/plans/"+planID+"/default", "", auth...)
	s.Equal(http.StatusOK, status)
	s.Equal("DEFAULTED", body["status"])

	other := s.createPlan("50")
	status, body = s.do(http.MethodPost, "/admin/plans/"+other+"/cancel", "", auth...)
	s.Equal(http.StatusOK, status)
	s.Equal("CANCELLED", body["status"])

	status, body = s.do(http.MethodPost, "/admin/rescore", "", auth...)
	s.Equal(http.StatusOK, status)
	s.EqualValues(1, body["total"])
}
