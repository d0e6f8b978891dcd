package ledger

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cucumber/godog"
	"github.com/google/uuid"
)

// TestContext interface defines the methods needed from the main test context
type TestContext interface {
	POST(path string, body interface{}) error
	GET(path string, headers map[string]string) error
	GetResponseField(field string) (interface{}, error)
	GetLastResponseStatus() int
	GetLastResponseBody() []byte
	GetUserID() string
	SetUserID(userID string)
	GetPlanID() string
	SetPlanID(planID string)
}

// RegisterSteps registers profile, plan and coin step definitions
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &ledgerSteps{tc: tc}

	// Profile steps
	ctx.Step(`^a new user$`, steps.newUser)
	ctx.Step(`^I create a trust profile for the user$`, steps.createProfile)
	ctx.Step(`^the user has a trust profile$`, steps.userHasProfile)
	ctx.Step(`^I fetch the user's trust profile$`, steps.fetchProfile)
	ctx.Step(`^I recalculate the user's score$`, steps.recalculateScore)
	ctx.Step(`^I check eligibility for "([^"]*)"$`, steps.checkEligibility)

	// Plan steps
	ctx.Step(`^I create a plan for order "([^"]*)" totalling "([^"]*)"$`, steps.createPlan)
	ctx.Step(`^the user has a plan for order "([^"]*)" totalling "([^"]*)"$`, steps.userHasPlan)
	ctx.Step(`^I fetch the plan$`, steps.fetchPlan)
	ctx.Step(`^I list the user's plans$`, steps.listPlans)
	ctx.Step(`^I pay installment (\d+) of the plan$`, steps.payInstallment)
	ctx.Step(`^installment (\d+) should have status "([^"]*)"$`, steps.installmentShouldHaveStatus)
	ctx.Step(`^the user should have (\d+) plans?$`, steps.userShouldHavePlans)

	// Coin and event steps
	ctx.Step(`^I use "([^"]*)" coins$`, steps.useCoins)
	ctx.Step(`^I redeem "([^"]*)" coins$`, steps.redeemCoins)
	ctx.Step(`^I report a completed payment with event "([^"]*)"$`, steps.reportPaymentCompleted)
	ctx.Step(`^I award "([^"]*)" coins with event "([^"]*)"$`, steps.awardCoins)
}

type ledgerSteps struct {
	tc TestContext
	// event ids are generated per scenario so labels stay stable across re-runs
	events map[string]string
}

func (s *ledgerSteps) newUser(ctx context.Context) error {
	s.tc.SetUserID(uuid.NewString())
	return nil
}

func (s *ledgerSteps) createProfile(ctx context.Context) error {
	return s.tc.POST("/v1/profiles", map[string]interface{}{"user_id": s.tc.GetUserID()})
}

func (s *ledgerSteps) userHasProfile(ctx context.Context) error {
	if s.tc.GetUserID() == "" {
		s.tc.SetUserID(uuid.NewString())
	}
	if err := s.createProfile(ctx); err != nil {
		return err
	}
	return expectStatus(s.tc, 201)
}

func (s *ledgerSteps) fetchProfile(ctx context.Context) error {
	return s.tc.GET("/v1/profiles/"+s.tc.GetUserID(), nil)
}

func (s *ledgerSteps) recalculateScore(ctx context.Context) error {
	return s.tc.POST("/v1/profiles/"+s.tc.GetUserID()+"/score", map[string]interface{}{})
}

func (s *ledgerSteps) checkEligibility(ctx context.Context, amount string) error {
	return s.tc.GET("/v1/profiles/"+s.tc.GetUserID()+"/eligibility?amount="+amount, nil)
}

func (s *ledgerSteps) createPlan(ctx context.Context, orderID, total string) error {
	err := s.tc.POST("/v1/plans", map[string]interface{}{
		"user_id":      s.tc.GetUserID(),
		"order_id":     orderID,
		"total_amount": total,
	})
	if err != nil {
		return err
	}
	if s.tc.GetLastResponseStatus() == 201 {
		planID, err := s.tc.GetResponseField("id")
		if err != nil {
			return err
		}
		s.tc.SetPlanID(fmt.Sprint(planID))
	}
	return nil
}

func (s *ledgerSteps) userHasPlan(ctx context.Context, orderID, total string) error {
	if err := s.createPlan(ctx, orderID, total); err != nil {
		return err
	}
	return expectStatus(s.tc, 201)
}

func (s *ledgerSteps) fetchPlan(ctx context.Context) error {
	return s.tc.GET("/v1/plans/"+s.tc.GetPlanID(), nil)
}

func (s *ledgerSteps) listPlans(ctx context.Context) error {
	return s.tc.GET("/v1/profiles/"+s.tc.GetUserID()+"/plans", nil)
}

func (s *ledgerSteps) payInstallment(ctx context.Context, index int) error {
	return s.tc.POST(fmt.Sprintf("/v1/plans/%s/installments/%d/pay", s.tc.GetPlanID(), index), map[string]interface{}{})
}

func (s *ledgerSteps) installmentShouldHaveStatus(ctx context.Context, index int, status string) error {
	var plan struct {
		Installments []struct {
			Index  int    `json:"index"`
			Status string `json:"status"`
		} `json:"installments"`
	}
	if err := json.Unmarshal(s.tc.GetLastResponseBody(), &plan); err != nil {
		return fmt.Errorf("failed to parse plan: %w", err)
	}
	for _, inst := range plan.Installments {
		if inst.Index == index {
			if inst.Status != status {
				return fmt.Errorf("installment %d: expected %s but got %s", index, status, inst.Status)
			}
			return nil
		}
	}
	return fmt.Errorf("installment %d not found in response", index)
}

func (s *ledgerSteps) userShouldHavePlans(ctx context.Context, count int) error {
	var body struct {
		Plans []json.RawMessage `json:"plans"`
	}
	if err := json.Unmarshal(s.tc.GetLastResponseBody(), &body); err != nil {
		return fmt.Errorf("failed to parse plans: %w", err)
	}
	if len(body.Plans) != count {
		return fmt.Errorf("expected %d plans but got %d", count, len(body.Plans))
	}
	return nil
}

func (s *ledgerSteps) useCoins(ctx context.Context, amount string) error {
	return s.tc.POST("/v1/profiles/"+s.tc.GetUserID()+"/coins/use", map[string]interface{}{"amount": amount})
}

func (s *ledgerSteps) redeemCoins(ctx context.Context, amount string) error {
	return s.tc.POST("/v1/profiles/"+s.tc.GetUserID()+"/coins/redeem", map[string]interface{}{"amount": amount})
}

func (s *ledgerSteps) reportPaymentCompleted(ctx context.Context, label string) error {
	return s.tc.POST("/v1/events/payment-completed", map[string]interface{}{
		"event_id": s.eventID(label),
		"user_id":  s.tc.GetUserID(),
	})
}

func (s *ledgerSteps) awardCoins(ctx context.Context, amount, label string) error {
	return s.tc.POST("/v1/events/award-coins", map[string]interface{}{
		"event_id": s.eventID(label),
		"user_id":  s.tc.GetUserID(),
		"amount":   amount,
	})
}

func (s *ledgerSteps) eventID(label string) string {
	if s.events == nil {
		s.events = make(map[string]string)
	}
	if eid, ok := s.events[label]; ok {
		return eid
	}
	eid := uuid.NewString()
	s.events[label] = eid
	return eid
}

func expectStatus(tc TestContext, want int) error {
	if got := tc.GetLastResponseStatus(); got != want {
		return fmt.Errorf("expected status %d but got %d\nResponse: %s", want, got, string(tc.GetLastResponseBody()))
	}
	return nil
}
