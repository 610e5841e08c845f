package metrics

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// CronJobMetrics covers the escrow sweeps. last_success lets alerting catch a
// payout sweep that silently stopped running.
type CronJobMetrics struct {
	runs        *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	lastSuccess *prometheus.GaugeVec
	lockLost    prometheus.Counter
}

// NewCronJobMetrics returns a no-op collector when reg is nil.
func NewCronJobMetrics(reg prometheus.Registerer) *CronJobMetrics {
	if reg == nil {
		return &CronJobMetrics{}
	}
	m := &CronJobMetrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cron",
			Name:      "job_runs_total",
			Help:      "Cron job runs by outcome (ok, error).",
		}, []string{"job", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "cron",
			Name:      "job_duration_seconds",
			Help:      "Wall time of a single cron job run.",
			Buckets:   []float64{0.05, 0.25, 1, 5, 15, 60, 180},
		}, []string{"job"}),
		lastSuccess: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "cron",
			Name:      "job_last_success_timestamp_seconds",
			Help:      "Unix time of the last successful run.",
		}, []string{"job"}),
		lockLost: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cron",
			Name:      "lock_lost_total",
			Help:      "Cycles aborted because the worker lease moved.",
		}),
	}
	reg.MustRegister(m.runs, m.duration, m.lastSuccess, m.lockLost)
	return m
}

func (c *CronJobMetrics) ObserveRun(job string, took time.Duration, err error) {
	if c == nil || c.runs == nil {
		return
	}
	job = normalizeLabel(job)
	c.duration.WithLabelValues(job).Observe(took.Seconds())
	if err != nil {
		c.runs.WithLabelValues(job, "error").Inc()
		return
	}
	c.runs.WithLabelValues(job, "ok").Inc()
	c.lastSuccess.WithLabelValues(job).SetToCurrentTime()
}

func (c *CronJobMetrics) IncLockLost() {
	if c == nil || c.lockLost == nil {
		return
	}
	c.lockLost.Inc()
}

// normalizeLabel keeps blank label values from producing an empty series.
func normalizeLabel(value string) string {
	if value = strings.TrimSpace(value); value == "" {
		return "unknown"
	}
	return value
}
