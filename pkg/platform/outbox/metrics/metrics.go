package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for the outbox worker.
type Metrics struct {
	PendingDepth    prometheus.Gauge
	HandledTotal    prometheus.Counter
	HandleFailures  prometheus.Counter
	HandleDuration  prometheus.Histogram
	BatchSize       prometheus.Histogram
	PollDuration    prometheus.Histogram
	PrunedProcessed prometheus.Counter
}

// New creates a new Metrics instance with all outbox metrics registered.
func New() *Metrics {
	return &Metrics{
		PendingDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "bnpl_outbox_pending_total",
			Help: "Current number of pending outbox entries",
		}),
		HandledTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "bnpl_outbox_handled_total",
			Help: "Outbox entries handled and marked processed",
		}),
		HandleFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "bnpl_outbox_handle_failures_total",
			Help: "Outbox entries whose handler returned an error (retried on next poll)",
		}),
		HandleDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "bnpl_outbox_handle_duration_seconds",
			Help:    "Time taken to handle one outbox entry",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
		BatchSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "bnpl_outbox_batch_size",
			Help:    "Number of entries fetched per poll",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),
		PollDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "bnpl_outbox_poll_duration_seconds",
			Help:    "Time taken for each poll cycle",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
		PrunedProcessed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "bnpl_outbox_pruned_total",
			Help: "Processed outbox entries deleted by retention",
		}),
	}
}

func (m *Metrics) SetPendingDepth(count int64)       { m.PendingDepth.Set(float64(count)) }
func (m *Metrics) IncHandled()                       { m.HandledTotal.Inc() }
func (m *Metrics) IncHandleFailures()                { m.HandleFailures.Inc() }
func (m *Metrics) ObserveHandleDuration(sec float64) { m.HandleDuration.Observe(sec) }
func (m *Metrics) ObserveBatchSize(size int)         { m.BatchSize.Observe(float64(size)) }
func (m *Metrics) ObservePollDuration(sec float64)   { m.PollDuration.Observe(sec) }
func (m *Metrics) AddPruned(n int64)                 { m.PrunedProcessed.Add(float64(n)) }
