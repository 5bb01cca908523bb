package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PaymentMetrics covers processor calls and webhook reconciliation.
type PaymentMetrics struct {
	gatewayLatency *prometheus.HistogramVec
	gatewayCalls   *prometheus.CounterVec
	webhookEvents  *prometheus.CounterVec
}

// NewPaymentMetrics registers the payment metrics on reg. A nil registerer
// yields a no-op recorder.
func NewPaymentMetrics(reg prometheus.Registerer) *PaymentMetrics {
	if reg == nil {
		return &PaymentMetrics{}
	}
	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "orderflow_gateway_call_duration_seconds",
		Help:    "Latency of payment processor calls.",
		Buckets: []float64{.05, .1, .25, .5, 1, 2, 5, 10},
	}, []string{"operation"})
	calls := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "orderflow_gateway_calls_total",
		Help: "Payment processor calls by operation and outcome.",
	}, []string{"operation", "outcome"})
	webhooks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "orderflow_webhook_events_total",
		Help: "Processor webhook deliveries by kind and outcome.",
	}, []string{"kind", "outcome"})
	reg.MustRegister(latency, calls, webhooks)
	return &PaymentMetrics{
		gatewayLatency: latency,
		gatewayCalls:   calls,
		webhookEvents:  webhooks,
	}
}

// ObserveGatewayCall records one processor call.
func (m *PaymentMetrics) ObserveGatewayCall(operation, outcome string, duration time.Duration) {
	if m == nil || m.gatewayLatency == nil {
		return
	}
	op := normalizeLabel(operation)
	m.gatewayLatency.WithLabelValues(op).Observe(duration.Seconds())
	m.gatewayCalls.WithLabelValues(op, normalizeLabel(outcome)).Inc()
}

// IncWebhookEvent counts a webhook delivery.
func (m *PaymentMetrics) IncWebhookEvent(kind, outcome string) {
	if m == nil || m.webhookEvents == nil {
		return
	}
	m.webhookEvents.WithLabelValues(normalizeLabel(kind), normalizeLabel(outcome)).Inc()
}
