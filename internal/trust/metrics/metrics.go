// Package metrics provides Prometheus metrics for trust scoring and coins.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains the trust context metrics.
type Metrics struct {
	ScoreCalculations   prometheus.Counter
	ScoreDistribution   prometheus.Histogram
	TierTransitions     *prometheus.CounterVec // labels: from, to
	EligibilityChecks   *prometheus.CounterVec // labels: result
	CoinsAwarded        prometheus.Counter
	CoinsRedeemed       prometheus.Counter
	RedemptionsRejected prometheus.Counter
	DuplicateEvents     prometheus.Counter

	CacheHitsTotal   prometheus.Counter
	CacheMissesTotal prometheus.Counter
	CacheErrors      prometheus.Counter
}

// New creates a new Metrics instance registered on the default registry.
func New() *Metrics {
	return &Metrics{
		ScoreCalculations: promauto.NewCounter(prometheus.CounterOpts{
			Name: "bnpl_trust_score_calculations_total",
			Help: "Total number of trust score recomputations",
		}),
		ScoreDistribution: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "bnpl_trust_score",
			Help:    "Distribution of computed trust scores",
			Buckets: []float64{100, 200, 300, 400, 500, 600, 700, 800, 900, 1000},
		}),
		TierTransitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "bnpl_trust_tier_transitions_total",
			Help: "Tier changes caused by recomputation",
		}, []string{"from", "to"}),
		EligibilityChecks: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "bnpl_trust_eligibility_checks_total",
			Help: "Eligibility checks by result (eligible, ineligible, no_profile)",
		}, []string{"result"}),
		CoinsAwarded: promauto.NewCounter(prometheus.CounterOpts{
			Name: "bnpl_trust_coins_awarded_total",
			Help: "Sum of coins credited to users",
		}),
		CoinsRedeemed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "bnpl_trust_coins_redeemed_total",
			Help: "Sum of coins debited by redemptions",
		}),
		RedemptionsRejected: promauto.NewCounter(prometheus.CounterOpts{
			Name: "bnpl_trust_redemptions_rejected_total",
			Help: "Redemptions rejected for a missing profile or short balance",
		}),
		DuplicateEvents: promauto.NewCounter(prometheus.CounterOpts{
			Name: "bnpl_trust_duplicate_events_total",
			Help: "Follow-up events skipped because they were already applied",
		}),
		CacheHitsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "bnpl_trust_profile_cache_hits_total",
			Help: "Profile cache hits",
		}),
		CacheMissesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "bnpl_trust_profile_cache_misses_total",
			Help: "Profile cache misses",
		}),
		CacheErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "bnpl_trust_profile_cache_errors_total",
			Help: "Profile cache failures (reads fall through to the store)",
		}),
	}
}

func (m *Metrics) ObserveScore(score int) {
	m.ScoreCalculations.Inc()
	m.ScoreDistribution.Observe(float64(score))
}

func (m *Metrics) IncTierTransition(from, to string) {
	m.TierTransitions.WithLabelValues(from, to).Inc()
}

func (m *Metrics) IncEligibility(result string) {
	m.EligibilityChecks.WithLabelValues(result).Inc()
}

func (m *Metrics) AddCoinsAwarded(amount float64)  { m.CoinsAwarded.Add(amount) }
func (m *Metrics) AddCoinsRedeemed(amount float64) { m.CoinsRedeemed.Add(amount) }
func (m *Metrics) IncRedemptionRejected()          { m.RedemptionsRejected.Inc() }
func (m *Metrics) IncDuplicateEvent()              { m.DuplicateEvents.Inc() }
func (m *Metrics) IncCacheHit()                    { m.CacheHitsTotal.Inc() }
func (m *Metrics) IncCacheMiss()                   { m.CacheMissesTotal.Inc() }
func (m *Metrics) IncCacheError()                  { m.CacheErrors.Inc() }
