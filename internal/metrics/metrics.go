package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// PendingTransactions is the current size of the scheduler's pending
	// transaction queue.
	PendingTransactions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "idbcoordinator_pending_transactions",
		Help: "Number of transactions waiting to be scheduled.",
	})

	// InProgressTransactions is the current number of transactions the
	// backing store is actively running, by mode.
	InProgressTransactions = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "idbcoordinator_in_progress_transactions",
		Help: "Number of transactions currently running, by mode.",
	}, []string{"mode"})

	// OpenConnections is the current number of open database connections.
	OpenConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "idbcoordinator_open_connections",
		Help: "Number of open database connections.",
	})

	// SchedulerTicksTotal counts scheduler tick invocations.
	SchedulerTicksTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "idbcoordinator_scheduler_ticks_total",
		Help: "Total number of scheduler tick invocations.",
	})

	// StorageTaskDuration measures how long a storage task takes to run
	// on the storage worker, by operation name.
	StorageTaskDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "idbcoordinator_storage_task_duration_seconds",
		Help:    "Storage task duration in seconds, by operation.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})

	// OperationErrorsTotal counts storage operation failures by error
	// kind.
	OperationErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "idbcoordinator_operation_errors_total",
		Help: "Total number of storage operation failures, by error kind.",
	}, []string{"kind"})
)

// Collectors lists every collector above, for registration.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		PendingTransactions,
		InProgressTransactions,
		OpenConnections,
		SchedulerTicksTotal,
		StorageTaskDuration,
		OperationErrorsTotal,
	}
}

// Register adds every collector to reg. Safe to call once at startup;
// registering the same registry twice will return an error from the
// underlying prometheus.Registry, which callers should treat as fatal
// configuration, not a runtime condition to recover from.
func Register(reg *prometheus.Registry) error {
	for _, c := range Collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Timer measures elapsed wall-clock time for a unit of work, mirroring
// the teacher's metrics.Timer/ObserveDuration helper used by its
// reconciler.
type Timer struct {
	start time.Time
}

// NewTimer starts a timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since NewTimer.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ObserveDuration records the elapsed time against the given histogram
// with the supplied label values, in declaration order.
func (t *Timer) ObserveDuration(h *prometheus.HistogramVec, labelValues ...string) {
	h.WithLabelValues(labelValues...).Observe(t.Duration().Seconds())
}
