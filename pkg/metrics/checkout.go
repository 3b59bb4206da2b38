package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// CheckoutMetrics records saga outcomes and payment behavior.
type CheckoutMetrics struct {
	attempts         *prometheus.CounterVec
	sagaSteps        *prometheus.CounterVec
	paymentDuration  *prometheus.HistogramVec
	danglingPayments prometheus.Counter
}

// NewCheckoutMetrics registers the checkout metrics on the provided registerer.
// A nil registerer yields a no-op collector, which keeps tests quiet.
func NewCheckoutMetrics(reg prometheus.Registerer) *CheckoutMetrics {
	if reg == nil {
		return &CheckoutMetrics{}
	}
	attempts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_attempts_total",
		Help: "Checkout saga attempts by terminal outcome.",
	}, []string{"outcome"})
	sagaSteps := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_saga_steps_total",
		Help: "Saga step transitions by step and status.",
	}, []string{"step", "status"})
	paymentDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "payment_gateway_duration_seconds",
		Help:    "Latency of payment gateway calls.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})
	danglingPayments := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dangling_payments_total",
		Help: "Captured payments whose order persistence exhausted retries.",
	})
	reg.MustRegister(attempts, sagaSteps, paymentDuration, danglingPayments)
	return &CheckoutMetrics{
		attempts:         attempts,
		sagaSteps:        sagaSteps,
		paymentDuration:  paymentDuration,
		danglingPayments: danglingPayments,
	}
}

// ObserveAttempt counts one finished saga by outcome.
func (m *CheckoutMetrics) ObserveAttempt(outcome string) {
	if m == nil || m.attempts == nil {
		return
	}
	m.attempts.WithLabelValues(outcome).Inc()
}

// ObserveStep counts a saga step transition.
func (m *CheckoutMetrics) ObserveStep(step, status string) {
	if m == nil || m.sagaSteps == nil {
		return
	}
	m.sagaSteps.WithLabelValues(step, status).Inc()
}

// ObservePaymentCall records gateway latency for the given operation.
func (m *CheckoutMetrics) ObservePaymentCall(operation string, duration time.Duration) {
	if m == nil || m.paymentDuration == nil {
		return
	}
	m.paymentDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// IncDanglingPayment raises the operational alert counter for a payment
// captured without a persisted order.
func (m *CheckoutMetrics) IncDanglingPayment() {
	if m == nil || m.danglingPayments == nil {
		return
	}
	m.danglingPayments.Inc()
}
