package metrics

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/smallbiznis/greenledger/pkg/apperr"
	"github.com/smallbiznis/greenledger/pkg/db"
)

const (
	SchedulerJobReasonDeadlineExceeded = "deadline_exceeded"
	SchedulerJobReasonTransient        = "transient_storage"
	SchedulerJobReasonUniqueViolation  = "unique_violation"
	SchedulerJobReasonForbidden        = "forbidden"
	SchedulerJobReasonIntegration      = "integration"
	SchedulerJobReasonUnknown          = "unknown"

	SchedulerSlotSkippedClaimed = "already_claimed"
)

// SchedulerMetrics captures periodic engine health.
type SchedulerMetrics struct {
	jobRuns        *prometheus.CounterVec
	jobDuration    *prometheus.HistogramVec
	jobTimeouts    *prometheus.CounterVec
	jobErrors      *prometheus.CounterVec
	itemsProcessed *prometheus.CounterVec
	slotsSkipped   *prometheus.CounterVec
	runLoopLag     prometheus.Observer
}

var (
	schedulerMetricsOnce sync.Once
	schedulerMetrics     *SchedulerMetrics
)

// Scheduler returns the singleton scheduler metrics registry.
func Scheduler() *SchedulerMetrics {
	return SchedulerWithConfig(Config{})
}

// SchedulerWithConfig returns the singleton scheduler metrics registry using config labels.
func SchedulerWithConfig(cfg Config) *SchedulerMetrics {
	schedulerMetricsOnce.Do(func() {
		schedulerMetrics = newSchedulerMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return schedulerMetrics
}

func newSchedulerMetrics(registerer prometheus.Registerer, cfg Config) *SchedulerMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	constLabels := cfg.constLabels()

	lag := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:        "greenledger_scheduler_run_loop_lag_seconds",
		Help:        "Delay between a job's due time and its start.",
		Buckets:     []float64{0.1, 0.5, 1, 5, 15, 30, 60, 300, 900},
		ConstLabels: constLabels,
	})
	if err := registerer.Register(lag); err != nil {
		if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := already.ExistingCollector.(prometheus.Histogram); ok {
				lag = existing
			}
		}
	}

	return &SchedulerMetrics{
		jobRuns: registerCounterVec(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "greenledger_scheduler_job_runs_total",
			Help:        "Scheduler job runs by name.",
			ConstLabels: constLabels,
		}, []string{"job"})),
		jobDuration: registerHistogramVec(registerer, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "greenledger_scheduler_job_duration_seconds",
			Help:        "Scheduler job latency.",
			Buckets:     []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300, 900},
			ConstLabels: constLabels,
		}, []string{"job"})),
		jobTimeouts: registerCounterVec(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "greenledger_scheduler_job_timeouts_total",
			Help:        "Scheduler jobs that hit their deadline.",
			ConstLabels: constLabels,
		}, []string{"job"})),
		jobErrors: registerCounterVec(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "greenledger_scheduler_job_errors_total",
			Help:        "Scheduler job errors by reason.",
			ConstLabels: constLabels,
		}, []string{"job", "reason"})),
		itemsProcessed: registerCounterVec(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "greenledger_scheduler_items_processed_total",
			Help:        "Items processed by scheduler jobs.",
			ConstLabels: constLabels,
		}, []string{"job", "resource"})),
		slotsSkipped: registerCounterVec(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "greenledger_scheduler_slots_skipped_total",
			Help:        "Due slots skipped by this instance.",
			ConstLabels: constLabels,
		}, []string{"job", "reason"})),
		runLoopLag: lag,
	}
}

// IncJobRun increments the run counter for a scheduler job.
func (m *SchedulerMetrics) IncJobRun(job string) {
	if m == nil {
		return
	}
	m.jobRuns.WithLabelValues(job).Inc()
}

// ObserveJobDuration records scheduler job latency in seconds.
func (m *SchedulerMetrics) ObserveJobDuration(job string, duration time.Duration) {
	if m == nil {
		return
	}
	m.jobDuration.WithLabelValues(job).Observe(duration.Seconds())
}

func (m *SchedulerMetrics) IncJobTimeout(job string) {
	if m == nil {
		return
	}
	m.jobTimeouts.WithLabelValues(job).Inc()
}

// IncJobError increments the scheduler job error counter with classification.
func (m *SchedulerMetrics) IncJobError(job string, err error) {
	if m == nil || err == nil {
		return
	}
	m.jobErrors.WithLabelValues(job, ClassifySchedulerJobReason(err)).Inc()
}

// AddProcessed increments the processed counter for a resource by count.
func (m *SchedulerMetrics) AddProcessed(job, resource string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.itemsProcessed.WithLabelValues(job, resource).Add(float64(count))
}

func (m *SchedulerMetrics) IncSlotSkipped(job, reason string) {
	if m == nil {
		return
	}
	m.slotsSkipped.WithLabelValues(job, reason).Inc()
}

// ObserveRunLoopLag records lag between the scheduled slot and actual run start.
func (m *SchedulerMetrics) ObserveRunLoopLag(duration time.Duration) {
	if m == nil || m.runLoopLag == nil {
		return
	}
	if duration < 0 {
		duration = 0
	}
	m.runLoopLag.Observe(duration.Seconds())
}

// ClassifySchedulerJobReason maps scheduler job errors to low-cardinality reasons.
func ClassifySchedulerJobReason(err error) string {
	switch {
	case err == nil:
		return SchedulerJobReasonUnknown
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return SchedulerJobReasonDeadlineExceeded
	case errors.Is(err, apperr.Kindf(apperr.KindForbidden)):
		return SchedulerJobReasonForbidden
	case errors.Is(err, apperr.Kindf(apperr.KindIntegration)):
		return SchedulerJobReasonIntegration
	case db.IsTransient(err), errors.Is(err, apperr.Kindf(apperr.KindTransientStorage)):
		return SchedulerJobReasonTransient
	case db.IsDuplicateKeyErr(err):
		return SchedulerJobReasonUniqueViolation
	default:
		return SchedulerJobReasonUnknown
	}
}
