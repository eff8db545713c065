package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// CronMetrics covers the scheduled worker: whole cycles and the jobs in them.
type CronMetrics struct {
	cycles      *prometheus.CounterVec
	runs        *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	lastSuccess *prometheus.GaugeVec
}

func NewCronMetrics(reg prometheus.Registerer) *CronMetrics {
	if reg == nil {
		return &CronMetrics{}
	}
	m := &CronMetrics{
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "studio_cron_cycles_total",
			Help: "Scheduler ticks, split into cycles that ran and ones skipped because another worker held the lock.",
		}, []string{"result"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "studio_cron_job_runs_total",
			Help: "Job executions by result.",
		}, []string{"job", "result"}),
		// Corporate grants walk every linked user, so allow for minutes.
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "studio_cron_job_duration_seconds",
			Help:    "Job wall time in seconds.",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
		}, []string{"job"}),
		lastSuccess: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "studio_cron_job_last_success_timestamp_seconds",
			Help: "Unix time of the last successful run per job.",
		}, []string{"job"}),
	}
	reg.MustRegister(m.cycles, m.runs, m.duration, m.lastSuccess)
	return m
}

// CycleSkipped counts a tick lost to the lock.
func (m *CronMetrics) CycleSkipped() {
	if m == nil || m.cycles == nil {
		return
	}
	m.cycles.WithLabelValues("skipped").Inc()
}

func (m *CronMetrics) CycleRan() {
	if m == nil || m.cycles == nil {
		return
	}
	m.cycles.WithLabelValues("ran").Inc()
}

// ObserveJob records one job run. A nil err counts as success.
func (m *CronMetrics) ObserveJob(job string, took time.Duration, err error) {
	if m == nil || m.runs == nil {
		return
	}
	job = normalizeLabel(job)
	m.duration.WithLabelValues(job).Observe(took.Seconds())
	if err != nil {
		m.runs.WithLabelValues(job, "failure").Inc()
		return
	}
	m.runs.WithLabelValues(job, "success").Inc()
	m.lastSuccess.WithLabelValues(job).SetToCurrentTime()
}

func normalizeLabel(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
