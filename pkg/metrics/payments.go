package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PaymentMetrics tracks payment lifecycle transitions and provider latency.
type PaymentMetrics struct {
	transitions *prometheus.CounterVec
	gateway     *prometheus.HistogramVec
	rejections  *prometheus.CounterVec
}

// NewPaymentMetrics registers the payment metrics on the provided registerer.
func NewPaymentMetrics(reg prometheus.Registerer) *PaymentMetrics {
	if reg == nil {
		return &PaymentMetrics{}
	}
	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "eventpay_payment_transitions_total",
		Help: "Payment intent status transitions.",
	}, []string{"provider", "from", "to"})
	gateway := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "eventpay_gateway_call_duration_seconds",
		Help:    "Latency of payment provider calls.",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"provider", "operation", "outcome"})
	rejections := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "eventpay_payment_rejections_total",
		Help: "Payment operations rejected by ledger rules.",
	}, []string{"operation", "code"})
	reg.MustRegister(transitions, gateway, rejections)
	return &PaymentMetrics{
		transitions: transitions,
		gateway:     gateway,
		rejections:  rejections,
	}
}

// IncTransition counts a status change.
func (m *PaymentMetrics) IncTransition(provider, from, to string) {
	if m == nil || m.transitions == nil {
		return
	}
	m.transitions.WithLabelValues(normalizeLabel(provider), normalizeLabel(from), normalizeLabel(to)).Inc()
}

// ObserveGatewayCall records how long a provider call took and whether it failed.
func (m *PaymentMetrics) ObserveGatewayCall(provider, operation string, duration time.Duration, err error) {
	if m == nil || m.gateway == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.gateway.WithLabelValues(normalizeLabel(provider), normalizeLabel(operation), outcome).Observe(duration.Seconds())
}

// IncRejection counts a ledger rule rejection such as AMOUNT_MISMATCH or OVER_REFUND.
func (m *PaymentMetrics) IncRejection(operation, code string) {
	if m == nil || m.rejections == nil {
		return
	}
	m.rejections.WithLabelValues(normalizeLabel(operation), normalizeLabel(code)).Inc()
}
