package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "gymbook"

var (
	once sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by endpoint.",
		},
		[]string{"endpoint"},
	)

	bookingAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "booking_attempts_total",
			Help:      "Booking attempts by final state.",
		},
		[]string{"result"},
	)

	ruleViolations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rule_violations_total",
			Help:      "Rejected booking attempts by violated rule.",
		},
		[]string{"kind"},
	)

	cancellations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cancellations_total",
			Help:      "Cancellation requests by result.",
		},
		[]string{"result"},
	)

	slotsGenerated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "slots_generated_total",
			Help:      "Slots created by the schedule generator.",
		},
	)

	auditSync = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_sync_total",
			Help:      "Audit mirror deliveries by result.",
		},
		[]string{"result"},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(httpRequests, bookingAttempts, ruleViolations, cancellations, slotsGenerated, auditSync)
	})
}

// IncHTTP increments the counter for an endpoint label.
func IncHTTP(endpoint string) {
	httpRequests.WithLabelValues(endpoint).Inc()
}

// IncBookingAttempt counts a finished attempt as "committed", "rejected" or "error".
func IncBookingAttempt(result string) {
	bookingAttempts.WithLabelValues(result).Inc()
}

func IncViolation(kind string) {
	ruleViolations.WithLabelValues(kind).Inc()
}

func IncCancellation(result string) {
	cancellations.WithLabelValues(result).Inc()
}

func AddSlotsGenerated(n int) {
	slotsGenerated.Add(float64(n))
}

func IncAuditSync(result string) {
	auditSync.WithLabelValues(result).Inc()
}
