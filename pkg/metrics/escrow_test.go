package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEscrowMetricsCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewEscrowMetrics(reg)

	m.IncWebhookEvent("checkout.session.completed", "applied")
	m.IncWebhookEvent("checkout.session.completed", "applied")
	m.IncWebhookEvent("charge.refunded", "")
	m.IncPayout("paid")
	m.IncOrphanPayment()
	m.IncRefundFailure()
	m.IncRefundFailure()
	m.IncCheckoutOpened()
	m.IncRefundRequested()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.webhookEvents.WithLabelValues("checkout.session.completed", "applied")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.webhookEvents.WithLabelValues("charge.refunded", "unknown")), "empty outcome is labelled unknown")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.payouts.WithLabelValues("paid")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.refundFailures))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.orphanPayments))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.checkoutOpened))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.refundsIssued))

	count, err := testutil.GatherAndCount(reg, "inspectbid_escrow_orphaned_payments_total", "inspectbid_payment_webhook_events_total")
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestNilEscrowMetricsAreNoops(t *testing.T) {
	var m *EscrowMetrics
	assert.NotPanics(t, func() {
		m.IncOrphanPayment()
		m.IncWebhookEvent("x", "y")
		NewEscrowMetrics(nil).IncPayout("paid")
	})
}

func TestNormalizeLabel(t *testing.T) {
	assert.Equal(t, "unknown", normalizeLabel(""))
	assert.Equal(t, "unknown", normalizeLabel("  "))
	assert.Equal(t, "paid", normalizeLabel(" paid "))
}
