package admin

import (
	"context"

	"github.com/cucumber/godog"
)

// TestContext interface defines the methods needed from the main test context
type TestContext interface {
	POSTWithHeaders(path string, body interface{}, headers map[string]string) error
	GetAdminToken() string
	GetUserID() string
	GetPlanID() string
}

// RegisterSteps registers operator step definitions for the /admin routes
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &adminSteps{tc: tc}

	ctx.Step(`^an operator records an order for the user$`, steps.recordOrder)
	ctx.Step(`^an operator records a dispute for the user$`, steps.recordDispute)
	ctx.Step(`^an operator cancels the plan$`, steps.cancelPlan)
	ctx.Step(`^an operator marks the plan defaulted$`, steps.markDefaulted)
	ctx.Step(`^an operator runs the overdue sweep$`, steps.runSweep)
	ctx.Step(`^an operator rescores all profiles$`, steps.rescoreAll)
	ctx.Step(`^I cancel the plan without admin token$`, steps.cancelPlanWithoutToken)
}

type adminSteps struct {
	tc TestContext
}

func (s *adminSteps) headers() map[string]string {
	return map[string]string{
		"X-Admin-Token":    s.tc.GetAdminToken(),
		"X-Admin-Actor-ID": "e2e-operator",
	}
}

func (s *adminSteps) recordOrder(ctx context.Context) error {
	return s.tc.POSTWithHeaders("/admin/profiles/"+s.tc.GetUserID()+"/orders", map[string]interface{}{}, s.headers())
}

func (s *adminSteps) recordDispute(ctx context.Context) error {
	return s.tc.POSTWithHeaders("/admin/profiles/"+s.tc.GetUserID()+"/disputes", map[string]interface{}{}, s.headers())
}

func (s *adminSteps) cancelPlan(ctx context.Context) error {
	return s.tc.POSTWithHeaders("/admin/plans/"+s.tc.GetPlanID()+"/cancel", map[string]interface{}{}, s.headers())
}

func (s *adminSteps) markDefaulted(ctx context.Context) error {
	return s.tc.POSTWithHeaders("/admin/plans/"+s.tc.GetPlanID()+"/default", map[string]interface{}{}, s.headers())
}

func (s *adminSteps) runSweep(ctx context.Context) error {
	return s.tc.POSTWithHeaders("/admin/overdue-sweep", map[string]interface{}{}, s.headers())
}

func (s *adminSteps) rescoreAll(ctx context.Context) error {
	return s.tc.POSTWithHeaders("/admin/rescore", map[string]interface{}{}, s.headers())
}

func (s *adminSteps) cancelPlanWithoutToken(ctx context.Context) error {
	return s.tc.POSTWithHeaders("/admin/plans/"+s.tc.GetPlanID()+"/cancel", map[string]interface{}{}, nil)
}
