// Package scoring turns profile counters into a bounded trust score.
// Everything here is pure: no I/O, no clock reads.
package scoring

import (
	"math"
	"time"

	"bnpl/internal/trust/models"
)

// Component caps. They sum to models.MaxScore.
const (
	MaxPaymentHistory = 400.0
	MaxOrderFrequency = 200.0
	MaxAccountAge     = 150.0
	MaxPaymentSpeed   = 150.0
	MaxDisputeRecord  = 100.0
)

const (
	pointsPerOrder     = 20.0
	pointsPerAgeMonth  = 5.0
	accountMonth       = 30 * 24 * time.Hour
	speedZeroDelayDays = 30.0
)

// Inputs are the profile facts the formula reads.
type Inputs struct {
	TotalPayments  int
	OnTimePayments int
	TotalOrders    int
	DisputeCount   int
	AvgDelayDays   float64
	AccountAge     time.Duration
}

// Breakdown exposes each component alongside the resulting standing.
type Breakdown struct {
	PaymentHistory float64
	OrderFrequency float64
	AccountAge     float64
	PaymentSpeed   float64
	DisputeRecord  float64
	Standing       models.Standing
}

// Total returns the integer score.
func (b Breakdown) Total() int { return b.Standing.Score() }

// InputsFor extracts the formula inputs from a profile as of now.
func InputsFor(p *models.Profile, now time.Time) Inputs {
	return Inputs{
		TotalPayments:  p.TotalPayments,
		OnTimePayments: p.OnTimePayments,
		TotalOrders:    p.TotalOrders,
		DisputeCount:   p.DisputeCount,
		AvgDelayDays:   p.AveragePaymentDelayDays,
		AccountAge:     now.Sub(p.CreatedAt),
	}
}

// Evaluate scores a profile as of now.
func Evaluate(p *models.Profile, now time.Time) Breakdown {
	return Compute(InputsFor(p, now))
}

// Compute applies the formula. The fractional sum is clamped to [0, 1000]
// and truncated to an integer score.
func Compute(in Inputs) Breakdown {
	b := Breakdown{
		PaymentHistory: paymentHistory(in.OnTimePayments, in.TotalPayments),
		OrderFrequency: clamp(float64(in.TotalOrders)*pointsPerOrder, MaxOrderFrequency),
		AccountAge:     clamp(accountMonths(in.AccountAge)*pointsPerAgeMonth, MaxAccountAge),
		PaymentSpeed:   paymentSpeed(in.AvgDelayDays, in.TotalPayments),
		DisputeRecord:  disputeRecord(in.DisputeCount, in.TotalOrders),
	}
	sum := b.PaymentHistory + b.OrderFrequency + b.AccountAge + b.PaymentSpeed + b.DisputeRecord
	b.Standing = models.NewStanding(int(math.Floor(clamp(sum, models.MaxScore))))
	return b
}

func paymentHistory(onTime, total int) float64 {
	if total <= 0 {
		return 0
	}
	return clamp(float64(onTime)/float64(total)*MaxPaymentHistory, MaxPaymentHistory)
}

// paymentSpeed, like disputeRecord, needs history: a user who has never paid gets 0.
func paymentSpeed(avgDelayDays float64, totalPayments int) float64 {
	if totalPayments <= 0 {
		return 0
	}
	return clamp((1-avgDelayDays/speedZeroDelayDays)*MaxPaymentSpeed, MaxPaymentSpeed)
}

// disputeRecord grants nothing without orders: no history is not a clean history.
func disputeRecord(disputes, orders int) float64 {
	if orders <= 0 {
		return 0
	}
	return clamp((1-float64(disputes)/float64(orders))*MaxDisputeRecord, MaxDisputeRecord)
}

func accountMonths(age time.Duration) float64 {
	if age <= 0 {
		return 0
	}
	return float64(age) / float64(accountMonth)
}

// clamp bounds v to [0, hi]; NaN maps to 0.
func clamp(v, hi float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	return math.Min(v, hi)
}
