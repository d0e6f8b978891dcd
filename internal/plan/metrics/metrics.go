package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the plan ledger metrics.
type Metrics struct {
	PlansCreated          prometheus.Counter
	PlanRejections        *prometheus.CounterVec // labels: reason
	PreCheckDisagreements prometheus.Counter
	InstallmentsPaid      *prometheus.CounterVec // labels: timeliness
	PlansCompleted        prometheus.Counter
	PlanTransitions       *prometheus.CounterVec // labels: to
	FollowUpFailures      prometheus.Counter
	OverdueFlagged        prometheus.Counter
	SweepDuration         prometheus.Histogram
}

func New() *Metrics {
	return &Metrics{
		PlansCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "bnpl_plans_created_total",
			Help: "Payment plans approved and persisted",
		}),
		PlanRejections: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "bnpl_plan_rejections_total",
			Help: "Plan creations rejected by reason",
		}, []string{"reason"}),
		PreCheckDisagreements: promauto.NewCounter(prometheus.CounterOpts{
			Name: "bnpl_plan_precheck_disagreements_total",
			Help: "Unlocked eligibility pre-checks whose answer differed from the locked gate",
		}),
		InstallmentsPaid: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "bnpl_installments_paid_total",
			Help: "Installments settled by timeliness (on_time, late)",
		}, []string{"timeliness"}),
		PlansCompleted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "bnpl_plans_completed_total",
			Help: "Plans whose last installment was paid",
		}),
		PlanTransitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "bnpl_plan_transitions_total",
			Help: "Admin plan transitions by target status",
		}, []string{"to"}),
		FollowUpFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "bnpl_followup_failures_total",
			Help: "Post-payment follow-ups that failed inline and were left for the outbox worker",
		}),
		OverdueFlagged: promauto.NewCounter(prometheus.CounterOpts{
			Name: "bnpl_installments_overdue_flagged_total",
			Help: "Installments moved to OVERDUE by the sweep",
		}),
		SweepDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "bnpl_overdue_sweep_duration_seconds",
			Help:    "Duration of overdue sweep runs",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
		}),
	}
}

func (m *Metrics) IncPlansCreated()               { m.PlansCreated.Inc() }
func (m *Metrics) IncRejection(reason string)     { m.PlanRejections.WithLabelValues(reason).Inc() }
func (m *Metrics) IncPreCheckDisagreement()       { m.PreCheckDisagreements.Inc() }
func (m *Metrics) IncPlansCompleted()             { m.PlansCompleted.Inc() }
func (m *Metrics) IncTransition(to string)        { m.PlanTransitions.WithLabelValues(to).Inc() }
func (m *Metrics) IncFollowUpFailure()            { m.FollowUpFailures.Inc() }
func (m *Metrics) AddOverdueFlagged(n int)        { m.OverdueFlagged.Add(float64(n)) }
func (m *Metrics) ObserveSweepDuration(s float64) { m.SweepDuration.Observe(s) }

func (m *Metrics) IncInstallmentPaid(onTime bool) {
	if onTime {
		m.InstallmentsPaid.WithLabelValues("on_time").Inc()
		return
	}
	m.InstallmentsPaid.WithLabelValues("late").Inc()
}
