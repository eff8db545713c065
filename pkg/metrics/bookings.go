package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// BookingMetrics counts booking engine outcomes by operation and result code.
type BookingMetrics struct {
	outcomes *prometheus.CounterVec
	seats    *prometheus.CounterVec
	retries  prometheus.Counter
}

// NewBookingMetrics registers the booking metrics on the provided registerer.
func NewBookingMetrics(reg prometheus.Registerer) *BookingMetrics {
	if reg == nil {
		return &BookingMetrics{}
	}
	outcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "studio_booking_outcomes_total",
		Help: "Booking engine results by operation and outcome code.",
	}, []string{"op", "outcome"})
	seats := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "studio_booking_seats_total",
		Help: "Seats reserved or released.",
	}, []string{"direction"})
	retries := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "studio_booking_tx_retries_total",
		Help: "Booking transactions retried after a storage conflict.",
	})
	reg.MustRegister(outcomes, seats, retries)
	return &BookingMetrics{outcomes: outcomes, seats: seats, retries: retries}
}

// Observe records one operation result; outcome is "ok" or an error code.
func (b *BookingMetrics) Observe(op, outcome string) {
	if b == nil || b.outcomes == nil {
		return
	}
	b.outcomes.WithLabelValues(normalizeLabel(op), normalizeLabel(outcome)).Inc()
}

func (b *BookingMetrics) SeatsReserved(n int) {
	if b == nil || b.seats == nil || n <= 0 {
		return
	}
	b.seats.WithLabelValues("reserved").Add(float64(n))
}

func (b *BookingMetrics) SeatsReleased(n int) {
	if b == nil || b.seats == nil || n <= 0 {
		return
	}
	b.seats.WithLabelValues("released").Add(float64(n))
}

func (b *BookingMetrics) IncRetry() {
	if b == nil || b.retries == nil {
		return
	}
	b.retries.Inc()
}
