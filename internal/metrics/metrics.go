package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/notifyhub/formsync/internal/domain"
	"github.com/notifyhub/formsync/internal/worker"
)

// Metrics groups all Prometheus instruments used across the application.
// Registered once at startup via New(); passed by pointer wherever needed.
type Metrics struct {
	ItemsEnqueued       *prometheus.CounterVec
	BatchesSubmitted    prometheus.Counter
	BatchOperations     prometheus.Histogram
	BatchSubmitFailures prometheus.Counter
	RateGateErrors      prometheus.Counter
	ItemsCompleted      prometheus.Counter
	ItemsFailed         *prometheus.CounterVec
	BatchPolls          *prometheus.CounterVec
	ItemsSwept          prometheus.Counter
	QueueItems          *prometheus.GaugeVec
}

// New registers all instruments with the given registerer. A custom
// registry keeps tests isolated from global state.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ItemsEnqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "formsync_items_enqueued_total",
			Help: "Form submissions accepted into the queue.",
		}, []string{"priority"}),

		BatchesSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "formsync_batches_submitted_total",
			Help: "Batches accepted by the provider.",
		}),

		BatchOperations: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "formsync_batch_operations",
			Help:    "Operations per submitted batch.",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),

		BatchSubmitFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "formsync_batch_submit_failures_total",
			Help: "Batch submissions rejected or lost in transport.",
		}),

		RateGateErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "formsync_rate_gate_errors_total",
			Help: "Provider calls deferred because the shared rate limiter was unreachable.",
		}),

		ItemsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "formsync_items_completed_total",
			Help: "Items the provider reported as applied.",
		}),

		ItemsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "formsync_items_failed_total",
			Help: "Items that reached the failed state, by reason.",
		}, []string{"reason"}),

		BatchPolls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "formsync_batch_polls_total",
			Help: "Batch status checks, by reported provider status.",
		}, []string{"status"}),

		ItemsSwept: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "formsync_items_swept_total",
			Help: "Terminal items removed by the retention sweep.",
		}),

		QueueItems: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "formsync_queue_items",
			Help: "Items currently in the queue store, by status.",
		}, []string{"status"}),
	}

	reg.MustRegister(
		m.ItemsEnqueued,
		m.BatchesSubmitted,
		m.BatchOperations,
		m.BatchSubmitFailures,
		m.RateGateErrors,
		m.ItemsCompleted,
		m.ItemsFailed,
		m.BatchPolls,
		m.ItemsSwept,
		m.QueueItems,
	)

	return m
}

// WorkerHooks returns the callbacks expected by the worker package so the
// pipeline itself never imports prometheus.
func (m *Metrics) WorkerHooks() worker.Hooks {
	return worker.Hooks{
		OnBatchSubmitted: func(ops int) {
			m.BatchesSubmitted.Inc()
			m.BatchOperations.Observe(float64(ops))
		},
		OnSubmitFailure: func(int) { m.BatchSubmitFailures.Inc() },
		OnGateError:     func() { m.RateGateErrors.Inc() },
		OnItemCompleted: func() { m.ItemsCompleted.Inc() },
		OnItemFailed:    func(reason string) { m.ItemsFailed.WithLabelValues(reason).Inc() },
		OnPoll:          func(status string) { m.BatchPolls.WithLabelValues(status).Inc() },
		OnSwept:         func(n int64) { m.ItemsSwept.Add(float64(n)) },
		OnStats:         m.ObserveStats,
	}
}

// OnEnqueued counts an accepted submission.
func (m *Metrics) OnEnqueued(p domain.Priority) {
	m.ItemsEnqueued.WithLabelValues(string(p)).Inc()
}

func (m *Metrics) ObserveStats(stats *domain.QueueStats) {
	m.QueueItems.WithLabelValues(string(domain.StatusPending)).Set(float64(stats.Pending))
	m.QueueItems.WithLabelValues(string(domain.StatusProcessing)).Set(float64(stats.Processing))
	m.QueueItems.WithLabelValues(string(domain.StatusCompleted)).Set(float64(stats.Completed))
	m.QueueItems.WithLabelValues(string(domain.StatusFailed)).Set(float64(stats.Failed))
}
