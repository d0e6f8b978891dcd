// Package tracer is a small tracing facade over OpenTelemetry so domain services
// can emit spans without importing OTel APIs directly.
package tracer

import (
	"context"
	"time"
)

// Span represents an active trace span. End must be called exactly once.
type Span interface {
	End(err error)
	SetAttributes(attrs ...Attribute)
	AddEvent(name string, attrs ...Attribute)
}

// Tracer creates spans. Implementations must be safe for concurrent use.
type Tracer interface {
	Start(ctx context.Context, name string, attrs ...Attribute) (context.Context, Span)
}

// Attribute represents a key-value pair attached to spans.
type Attribute struct {
	Key   string
	Value any
}

func String(key, value string) Attribute      { return Attribute{Key: key, Value: value} }
func Bool(key string, value bool) Attribute   { return Attribute{Key: key, Value: value} }
func Int(key string, value int) Attribute     { return Attribute{Key: key, Value: value} }
func Float64(key string, v float64) Attribute { return Attribute{Key: key, Value: v} }
func Duration(key string, v time.Duration) Attribute {
	return Attribute{Key: key, Value: v.Milliseconds()}
}

// Span names.
const (
	SpanCalculateScore   = "trust.calculate_score"
	SpanCheckEligibility = "trust.check_eligibility"
	SpanApplyPayment     = "trust.apply_payment"
	SpanRedeemCoins      = "trust.use_coins"
	SpanCreatePlan       = "plan.create"
	SpanPayInstallment   = "plan.pay_installment"
	SpanOverdueSweep     = "plan.overdue_sweep"
)

// Attribute keys.
const (
	AttrUserID           = "user.id"
	AttrPlanID           = "plan.id"
	AttrInstallmentIndex = "installment.index"
	AttrScore            = "trust.score"
	AttrTier             = "trust.tier"
	AttrEligible         = "trust.eligible"
	AttrCacheHit         = "cache.hit"
	AttrEventID          = "event.id"
)
