package e2e

import (
	"github.com/cucumber/godog"

	"bnpl/e2e/steps/admin"
	"bnpl/e2e/steps/common"
	"bnpl/e2e/steps/ledger"
)

// RegisterSteps wires every step package against the shared context.
func RegisterSteps(ctx *godog.ScenarioContext, tc *TestContext) {
	common.RegisterSteps(ctx, tc)
	ledger.RegisterSteps(ctx, tc)
	admin.RegisterSteps(ctx, tc)
}
