package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PaymentMetrics tracks payment lifecycle counters exposed on /metrics
type PaymentMetrics struct {
	PaymentsInitiated *prometheus.CounterVec
	PaymentsByStatus  *prometheus.CounterVec
	PaymentAmount     *prometheus.HistogramVec
	GatewayErrors     *prometheus.CounterVec
}

// NewPaymentMetrics registers the payment metrics on the given registry
func NewPaymentMetrics(registry *prometheus.Registry) *PaymentMetrics {
	factory := promauto.With(registry)

	return &PaymentMetrics{
		PaymentsInitiated: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "payments_initiated_total",
			Help: "Number of checkout sessions opened, by plan.",
		}, []string{"plan"}),
		PaymentsByStatus: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "payments_status_total",
			Help: "Number of payments reaching a terminal status, by status and plan.",
		}, []string{"status", "plan"}),
		PaymentAmount: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "payment_amount_bdt",
			Help:    "Completed payment amounts in BDT.",
			Buckets: []float64{50, 100, 250, 500, 1000},
		}, []string{"plan"}),
		GatewayErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_errors_total",
			Help: "Number of SSLCommerz API failures, by operation.",
		}, []string{"operation"}),
	}
}

// RecordInitiated counts a newly opened checkout session
func (m *PaymentMetrics) RecordInitiated(plan string) {
	m.PaymentsInitiated.WithLabelValues(plan).Inc()
}

// RecordCompleted counts a completed payment and observes its amount
func (m *PaymentMetrics) RecordCompleted(plan string, amount float64) {
	m.PaymentsByStatus.WithLabelValues("completed", plan).Inc()
	m.PaymentAmount.WithLabelValues(plan).Observe(amount)
}

// RecordFailed counts a failed payment
func (m *PaymentMetrics) RecordFailed(plan string) {
	m.PaymentsByStatus.WithLabelValues("failed", plan).Inc()
}

// RecordGatewayError counts a gateway API failure
func (m *PaymentMetrics) RecordGatewayError(operation string) {
	m.GatewayErrors.WithLabelValues(operation).Inc()
}
