package escrow

import (
	"context"
	"errors"
	"testing"

	"github.com/angelmondragon/inspectbid-backend/pkg/db/models"
	"github.com/angelmondragon/inspectbid-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/inspectbid-backend/pkg/errors"
	"github.com/angelmondragon/inspectbid-backend/pkg/payments"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckoutConfirmedAcceptsBidAndDeclinesRivals(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	job := f.openJob(t, 60000)
	winner := f.bid(t, job.ID, 50000)
	rival := f.bid(t, job.ID, 55000)

	assert.Equal(t, OutcomeApplied, f.confirm(t, job, winner, "pi_a"))

	current := f.job(t, job.ID)
	assert.Equal(t, enums.JobStatusAssigned, current.Status)
	assert.Equal(t, enums.PaymentStatusInEscrow, current.PaymentStatus)
	require.NotNil(t, current.AssignedInspectorID)
	assert.Equal(t, winner.InspectorID, *current.AssignedInspectorID)
	assert.Equal(t, int64(50000), *current.AgreedPriceCents)

	payment, err := f.repo.FindPaymentByJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(5000), payment.PlatformFeeCents)
	assert.Equal(t, int64(45000), payment.NetCents)
	assert.Equal(t, payment.GrossCents, payment.PlatformFeeCents+payment.NetCents)
	assert.Equal(t, enums.EscrowStatusHeld, payment.Status)

	declined, err := f.repo.FindBid(ctx, rival.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.BidStatusDeclined, declined.Status)

	assert.Equal(t, 1, f.notifier.count(winner.InspectorID, enums.NotificationBidAccepted))
	assert.Equal(t, 1, f.notifier.count(rival.InspectorID, enums.NotificationBidDeclined))
	assert.Equal(t, []enums.OutboxEventType{enums.EventJobAssigned}, f.outboxTypes(t, job.ID))
}

func TestCheckoutConfirmedTwiceIsIdempotent(t *testing.T) {
	f := newFixture(t)
	job := f.openJob(t, 60000)
	bid := f.bid(t, job.ID, 50000)

	require.Equal(t, OutcomeApplied, f.confirm(t, job, bid, "pi_dup"))
	require.Equal(t, OutcomeDuplicate, f.confirm(t, job, bid, "pi_dup"))

	var rows []models.EscrowPayment
	require.NoError(t, f.conn.Where("job_id = ?", job.ID).Find(&rows).Error)
	assert.Len(t, rows, 1)
	assert.Empty(t, f.gateway.Refunds)
	assert.Zero(t, f.metrics.orphans)
	assert.Equal(t, 1, f.notifier.count(bid.InspectorID, enums.NotificationBidAccepted))
	assert.Len(t, f.outboxTypes(t, job.ID), 1)
}

func TestSecondPaymentForAssignedJobIsRefunded(t *testing.T) {
	f := newFixture(t)
	job := f.openJob(t, 60000)
	first := f.bid(t, job.ID, 50000)
	second := f.bid(t, job.ID, 52000)

	require.Equal(t, OutcomeApplied, f.confirm(t, job, first, "pi_first"))
	assert.Equal(t, OutcomeOrphaned, f.confirm(t, job, second, "pi_second"))

	require.Len(t, f.gateway.Refunds, 1)
	assert.Equal(t, "pi_second", f.gateway.Refunds[0].PaymentRef)
	assert.Equal(t, "orphan-refund:pi_second", f.gateway.Refunds[0].IdempotencyKey)
	assert.Equal(t, 1, f.metrics.orphans)

	current := f.job(t, job.ID)
	assert.Equal(t, "pi_first", *current.ProviderPaymentReference)
	assert.Equal(t, first.InspectorID, *current.AssignedInspectorID)

	// redelivery of the orphan reuses the refund key
	assert.Equal(t, OutcomeOrphaned, f.confirm(t, job, second, "pi_second"))
	assert.Len(t, f.gateway.Refunds, 1)
}

func TestPaymentForCancelledJobIsRefunded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	job := f.openJob(t, 60000)
	bid := f.bid(t, job.ID, 50000)
	_, err := f.cancels.CancelJob(ctx, job.ID, posterOf(job))
	require.NoError(t, err)

	assert.Equal(t, OutcomeOrphaned, f.confirm(t, job, bid, "pi_late"))
	require.Len(t, f.gateway.Refunds, 1)
	assert.Equal(t, enums.PaymentStatusPending, f.job(t, job.ID).PaymentStatus)
}

func TestAmountMismatchIsRefunded(t *testing.T) {
	f := newFixture(t)
	job := f.openJob(t, 60000)
	bid := f.bid(t, job.ID, 50000)

	outcome, err := f.reconciler.HandleCheckoutConfirmed(context.Background(), CheckoutConfirmed{
		JobID: job.ID, BidID: bid.ID, PaymentRef: "pi_short", AmountCents: 100,
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeOrphaned, outcome)
	assert.Equal(t, enums.JobStatusOpen, f.job(t, job.ID).Status)
}

func TestCurrencyMismatchIsRefunded(t *testing.T) {
	f := newFixture(t)
	job := f.openJob(t, 60000)
	bid := f.bid(t, job.ID, 50000)

	outcome, err := f.reconciler.HandleCheckoutConfirmed(context.Background(), CheckoutConfirmed{
		JobID: job.ID, BidID: bid.ID, PaymentRef: "pi_eur", AmountCents: 50000, Currency: "eur",
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeOrphaned, outcome)
	require.Len(t, f.gateway.Refunds, 1)
	assert.Equal(t, "orphan-refund:pi_eur", f.gateway.Refunds[0].IdempotencyKey)
	assert.Equal(t, 1, f.metrics.orphans)

	current := f.job(t, job.ID)
	assert.Equal(t, enums.JobStatusOpen, current.Status)
	assert.Equal(t, enums.PaymentStatusPending, current.PaymentStatus)

	// the same amount in the job's currency still goes through, case aside
	outcome, err = f.reconciler.HandleCheckoutConfirmed(context.Background(), CheckoutConfirmed{
		JobID: job.ID, BidID: bid.ID, PaymentRef: "pi_usd", AmountCents: 50000, Currency: "USD",
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, outcome)
}

func TestUnknownBidIsRefunded(t *testing.T) {
	f := newFixture(t)
	job := f.openJob(t, 60000)

	outcome, err := f.reconciler.HandleCheckoutConfirmed(context.Background(), CheckoutConfirmed{
		JobID: job.ID, BidID: uuid.New(), PaymentRef: "pi_ghost", AmountCents: 100,
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeOrphaned, outcome)
	assert.Len(t, f.gateway.Refunds, 1)
}

func TestOrphanRefundFailureAsksForRedelivery(t *testing.T) {
	f := newFixture(t)
	job := f.openJob(t, 60000)
	first := f.bid(t, job.ID, 50000)
	second := f.bid(t, job.ID, 52000)
	require.Equal(t, OutcomeApplied, f.confirm(t, job, first, "pi_first"))

	f.gateway.RefundErr = &payments.ProviderError{Op: "create refund", Temporary: true, Err: errors.New("503")}
	_, err := f.reconciler.HandleCheckoutConfirmed(context.Background(), CheckoutConfirmed{
		JobID: job.ID, BidID: second.ID, PaymentRef: "pi_second", AmountCents: 52000,
	})
	assertCode(t, err, pkgerrors.CodeProvider)
	assert.Equal(t, 1, f.metrics.failures)
}

func TestRefundConfirmedMarksRefunded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	job := f.openJob(t, 60000)
	bid := f.bid(t, job.ID, 50000)
	require.Equal(t, OutcomeApplied, f.confirm(t, job, bid, "pi_refund"))
	_, err := f.cancels.CancelJob(ctx, job.ID, posterOf(job))
	require.NoError(t, err)

	outcome, err := f.reconciler.HandleRefundConfirmed(ctx, RefundConfirmed{PaymentRef: "pi_refund"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, outcome)

	current := f.job(t, job.ID)
	assert.Equal(t, enums.JobStatusCancelled, current.Status)
	assert.Equal(t, enums.PaymentStatusRefunded, current.PaymentStatus)
	payment, err := f.repo.FindPaymentByJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.EscrowStatusRefunded, payment.Status)
	assert.NotNil(t, payment.RefundedAt)
	assert.Equal(t, 1, f.notifier.count(job.PosterID, enums.NotificationRefundCompleted))

	outcome, err = f.reconciler.HandleRefundConfirmed(ctx, RefundConfirmed{PaymentRef: "pi_refund"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, outcome)
	assert.Equal(t, 1, f.notifier.count(job.PosterID, enums.NotificationRefundCompleted))

	assert.Equal(t, []enums.OutboxEventType{
		enums.EventJobAssigned,
		enums.EventJobCancelled,
		enums.EventPaymentRefunded,
	}, f.outboxTypes(t, job.ID))
}

func TestRefundIssuedAtProviderCancelsJob(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	job := f.openJob(t, 60000)
	bid := f.bid(t, job.ID, 50000)
	require.Equal(t, OutcomeApplied, f.confirm(t, job, bid, "pi_dash"))

	outcome, err := f.reconciler.HandleRefundConfirmed(ctx, RefundConfirmed{JobID: job.ID})
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, outcome)

	current := f.job(t, job.ID)
	assert.Equal(t, enums.JobStatusCancelled, current.Status)
	assert.Nil(t, current.AssignedInspectorID)
}

func TestRefundForUntrackedPaymentIgnored(t *testing.T) {
	f := newFixture(t)
	outcome, err := f.reconciler.HandleRefundConfirmed(context.Background(), RefundConfirmed{PaymentRef: "pi_orphan"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, outcome)

	_, err = f.reconciler.HandleRefundConfirmed(context.Background(), RefundConfirmed{})
	assertCode(t, err, pkgerrors.CodeValidation)
}

func TestTransferConfirmedRecordsPayoutOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	job := f.openJob(t, 60000)
	bid := f.bid(t, job.ID, 50000)
	require.Equal(t, OutcomeApplied, f.confirm(t, job, bid, "pi_tr"))
	f.complete(t, job.ID)

	// the provider confirmed before the synchronous path recorded the transfer
	_, claimed, err := f.repo.ClaimPayout(ctx, job.ID)
	require.NoError(t, err)
	require.True(t, claimed)

	event := TransferConfirmed{JobID: job.ID, TransferRef: "tr_1"}
	outcome, err := f.reconciler.HandleTransferConfirmed(ctx, event)
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, outcome)

	current := f.job(t, job.ID)
	assert.Equal(t, enums.PayoutStatusPaid, current.PayoutStatus)
	assert.Equal(t, "tr_1", *current.ProviderTransferReference)
	payment, err := f.repo.FindPaymentByJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.EscrowStatusReleased, payment.Status)

	outcome, err = f.reconciler.HandleTransferConfirmed(ctx, event)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, outcome)
	assert.Equal(t, 1, f.notifier.count(bid.InspectorID, enums.NotificationPaymentReceived))

	outcome, err = f.reconciler.HandleTransferConfirmed(ctx, TransferConfirmed{JobID: job.ID, TransferRef: "tr_other"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, outcome)
}

func TestTransferConfirmedForUnreleasedJobIgnored(t *testing.T) {
	f := newFixture(t)
	job := f.openJob(t, 60000)
	bid := f.bid(t, job.ID, 50000)
	require.Equal(t, OutcomeApplied, f.confirm(t, job, bid, "pi_early"))

	outcome, err := f.reconciler.HandleTransferConfirmed(context.Background(), TransferConfirmed{JobID: job.ID, TransferRef: "tr_x"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, outcome)
	assert.Equal(t, enums.PayoutStatusNone, f.job(t, job.ID).PayoutStatus)
}
