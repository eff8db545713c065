package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// WebhookMetrics records payment notification handling.
type WebhookMetrics struct {
	outcomes *prometheus.CounterVec
	duration *prometheus.HistogramVec
	credits  prometheus.Counter
}

// NewWebhookMetrics registers the webhook metrics on the provided registerer.
func NewWebhookMetrics(reg prometheus.Registerer) *WebhookMetrics {
	if reg == nil {
		return &WebhookMetrics{}
	}
	outcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "studio_payment_webhook_outcomes_total",
		Help: "Payment notifications by provider and reconciliation outcome.",
	}, []string{"provider", "outcome"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "studio_payment_webhook_duration_seconds",
		Help:    "Time spent reconciling a payment notification.",
		Buckets: prometheus.DefBuckets,
	}, []string{"provider"})
	credits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "studio_payment_credits_issued_total",
		Help: "Pack purchases credited from approved payments.",
	})
	reg.MustRegister(outcomes, duration, credits)
	return &WebhookMetrics{outcomes: outcomes, duration: duration, credits: credits}
}

func (w *WebhookMetrics) Observe(provider, outcome string, elapsed time.Duration) {
	if w == nil || w.outcomes == nil {
		return
	}
	w.outcomes.WithLabelValues(normalizeLabel(provider), normalizeLabel(outcome)).Inc()
	w.duration.WithLabelValues(normalizeLabel(provider)).Observe(elapsed.Seconds())
}

func (w *WebhookMetrics) IncCredit() {
	if w == nil || w.credits == nil {
		return
	}
	w.credits.Inc()
}
