package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "inspectbid"

// EscrowMetrics counts money-path outcomes that operators alert on.
type EscrowMetrics struct {
	webhookEvents  *prometheus.CounterVec
	payouts        *prometheus.CounterVec
	orphanPayments prometheus.Counter
	refundFailures prometheus.Counter
	checkoutOpened prometheus.Counter
	refundsIssued  prometheus.Counter
}

// NewEscrowMetrics registers escrow metrics on reg. A nil registerer yields
// a no-op recorder.
func NewEscrowMetrics(reg prometheus.Registerer) *EscrowMetrics {
	if reg == nil {
		return &EscrowMetrics{}
	}
	m := &EscrowMetrics{
		webhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_webhook_events_total",
			Help:      "Payment provider events by type and outcome.",
		}, []string{"type", "outcome"}),
		payouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "escrow_payouts_total",
			Help:      "Payout settlement attempts by outcome.",
		}, []string{"outcome"}),
		orphanPayments: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "escrow_orphaned_payments_total",
			Help:      "Confirmed payments that could not be applied to their job.",
		}),
		refundFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "escrow_refund_failures_total",
			Help:      "Refund requests rejected by the payment provider.",
		}),
		checkoutOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "escrow_checkout_sessions_total",
			Help:      "Checkout sessions opened for bid acceptance.",
		}),
		refundsIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "escrow_refunds_requested_total",
			Help:      "Refunds requested from the payment provider.",
		}),
	}
	reg.MustRegister(m.webhookEvents, m.payouts, m.orphanPayments, m.refundFailures, m.checkoutOpened, m.refundsIssued)
	return m
}

func (m *EscrowMetrics) IncWebhookEvent(eventType, outcome string) {
	if m == nil || m.webhookEvents == nil {
		return
	}
	m.webhookEvents.WithLabelValues(normalizeLabel(eventType), normalizeLabel(outcome)).Inc()
}

func (m *EscrowMetrics) IncPayout(outcome string) {
	if m == nil || m.payouts == nil {
		return
	}
	m.payouts.WithLabelValues(normalizeLabel(outcome)).Inc()
}

func (m *EscrowMetrics) IncOrphanPayment() {
	if m == nil || m.orphanPayments == nil {
		return
	}
	m.orphanPayments.Inc()
}

func (m *EscrowMetrics) IncRefundFailure() {
	if m == nil || m.refundFailures == nil {
		return
	}
	m.refundFailures.Inc()
}

func (m *EscrowMetrics) IncCheckoutOpened() {
	if m == nil || m.checkoutOpened == nil {
		return
	}
	m.checkoutOpened.Inc()
}

func (m *EscrowMetrics) IncRefundRequested() {
	if m == nil || m.refundsIssued == nil {
		return
	}
	m.refundsIssued.Inc()
}
