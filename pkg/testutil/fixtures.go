package testutil

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	id "bnpl/pkg/domain"
)

// TestIDs provides deterministic IDs for tests.
var TestIDs = struct {
	UserID1 id.UserID
	UserID2 id.UserID
	PlanID1 id.PlanID
	PlanID2 id.PlanID
	OrderID id.OrderID
}{
	UserID1: id.UserID(uuid.MustParse("11111111-1111-1111-1111-111111111111")),
	UserID2: id.UserID(uuid.MustParse("22222222-2222-2222-2222-222222222222")),
	PlanID1: id.PlanID(uuid.MustParse("aaaa0000-0000-0000-0000-000000000001")),
	PlanID2: id.PlanID(uuid.MustParse("aaaa0000-0000-0000-0000-000000000002")),
	OrderID: id.OrderID("order-1001"),
}

// FixedNow is the reference instant used by clock-injected tests.
var FixedNow = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

// Money parses a decimal literal and panics on malformed input.
func Money(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// Clock is a settable clock for services that take a now func.
type Clock struct {
	mu sync.Mutex
	t  time.Time
}

func NewClock(t time.Time) *Clock { return &Clock{t: t} }

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}
