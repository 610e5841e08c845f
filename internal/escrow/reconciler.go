package escrow

import (
	"context"
	"errors"
	"time"

	"github.com/angelmondragon/inspectbid-backend/internal/fees"
	"github.com/angelmondragon/inspectbid-backend/internal/jobs"
	"github.com/angelmondragon/inspectbid-backend/pkg/db/models"
	"github.com/angelmondragon/inspectbid-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/inspectbid-backend/pkg/errors"
	"github.com/angelmondragon/inspectbid-backend/pkg/logger"
	"github.com/angelmondragon/inspectbid-backend/pkg/outbox"
	"github.com/angelmondragon/inspectbid-backend/pkg/payments"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Outcome describes how a provider event was applied.
type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeDuplicate Outcome = "duplicate"
	// OutcomeOrphaned means money arrived for a job that can no longer take
	// it; a refund has been requested.
	OutcomeOrphaned Outcome = "orphaned"
	OutcomeIgnored  Outcome = "ignored"
)

// CheckoutConfirmed is a completed checkout for a job's bid.
type CheckoutConfirmed struct {
	JobID       uuid.UUID
	BidID       uuid.UUID
	PaymentRef  string
	AmountCents int64
	// Currency is the provider's ISO code; blank skips the check.
	Currency string
	PaidAt   time.Time
}

// RefundConfirmed is a settled refund. PaymentRef is preferred; JobID is
// used when the provider event carries no payment reference.
type RefundConfirmed struct {
	PaymentRef string
	JobID      uuid.UUID
}

// TransferConfirmed is a payout transfer the provider has created.
type TransferConfirmed struct {
	JobID       uuid.UUID
	TransferRef string
}

// Reconciler applies provider confirmations to job state. Handlers return
// nil for events that were already applied so the provider stops retrying.
type Reconciler struct {
	jobs     jobs.Repository
	gateway  payments.Gateway
	calc     *fees.Calculator
	tx       txRunner
	outbox   outboxPublisher
	notifier Notifier
	metrics  Metrics
	logg     *logger.Logger
	now      func() time.Time
}

func NewReconciler(p Params) (*Reconciler, error) {
	if err := p.require("jobs", "gateway", "calculator", "tx", "outbox", "notifier", "logger"); err != nil {
		return nil, err
	}
	return &Reconciler{
		jobs:     p.Jobs,
		gateway:  p.Gateway,
		calc:     p.Calculator,
		tx:       p.Tx,
		outbox:   p.Outbox,
		notifier: p.Notifier,
		metrics:  p.metrics(),
		logg:     p.Logger,
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

func (r *Reconciler) HandleCheckoutConfirmed(ctx context.Context, event CheckoutConfirmed) (Outcome, error) {
	if event.PaymentRef == "" {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "payment reference required")
	}
	ctx = r.logg.WithFields(ctx, map[string]any{
		"job_id":      event.JobID.String(),
		"bid_id":      event.BidID.String(),
		"payment_ref": event.PaymentRef,
	})

	bid, err := r.jobs.FindBid(ctx, event.BidID)
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
			return r.orphan(ctx, event, "bid not found")
		}
		return "", err
	}

	gross := event.AmountCents
	if gross == 0 {
		gross = bid.ProposedPriceCents
	}
	split, err := r.calc.Split(gross)
	if err != nil {
		return r.orphan(ctx, event, "unusable amount")
	}

	paidAt := event.PaidAt
	if paidAt.IsZero() {
		paidAt = r.now()
	}

	var result *jobs.AcceptResult
	err = r.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		result, err = r.jobs.WithTx(tx).AcceptBid(ctx, jobs.AcceptBidInput{
			JobID:            event.JobID,
			BidID:            event.BidID,
			PaymentReference: event.PaymentRef,
			Currency:         event.Currency,
			Split:            split,
			PaidAt:           paidAt,
		})
		if err != nil {
			return err
		}
		return r.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:   enums.EventJobAssigned,
			AggregateID: result.Job.ID,
			Data: outbox.JobAssignedEvent{
				JobID:            result.Job.ID,
				BidID:            result.AcceptedBid.ID,
				PosterID:         result.Job.PosterID,
				InspectorID:      result.AcceptedBid.InspectorID,
				GrossCents:       split.Gross,
				PlatformFeeCents: split.PlatformFee,
				NetCents:         split.PayeeShare,
				Currency:         result.Job.Currency,
				PaymentReference: event.PaymentRef,
			},
		})
	})
	if err != nil {
		switch {
		case pkgerrors.IsCode(err, pkgerrors.CodeConflict):
			return r.resolveConflict(ctx, event)
		case pkgerrors.IsCode(err, pkgerrors.CodeNotFound):
			return r.orphan(ctx, event, "job not found")
		case pkgerrors.IsCode(err, pkgerrors.CodeValidation):
			return r.orphan(ctx, event, pkgerrors.As(err).Message())
		}
		return "", err
	}

	r.logg.Info(ctx, "bid accepted, payment held in escrow")
	payload := map[string]any{"job_id": result.Job.ID, "bid_id": result.AcceptedBid.ID}
	notify(ctx, r.notifier, r.logg, result.AcceptedBid.InspectorID, enums.NotificationBidAccepted, payload)
	for _, declined := range result.DeclinedBids {
		notify(ctx, r.notifier, r.logg, declined.InspectorID, enums.NotificationBidDeclined,
			map[string]any{"job_id": result.Job.ID, "bid_id": declined.ID})
	}
	return OutcomeApplied, nil
}

// resolveConflict separates a redelivered confirmation from a second payment
// that arrived after the job was already paid for or closed.
func (r *Reconciler) resolveConflict(ctx context.Context, event CheckoutConfirmed) (Outcome, error) {
	job, err := r.jobs.FindJob(ctx, event.JobID)
	if err != nil {
		return "", err
	}
	if job.ProviderPaymentReference != nil && *job.ProviderPaymentReference == event.PaymentRef {
		r.logg.Info(ctx, "duplicate checkout confirmation ignored")
		return OutcomeDuplicate, nil
	}
	return r.orphan(ctx, event, "job no longer accepts payment")
}

func (r *Reconciler) orphan(ctx context.Context, event CheckoutConfirmed, reason string) (Outcome, error) {
	ctx = r.logg.WithField(ctx, "orphan_reason", reason)
	r.metrics.IncOrphanPayment()
	r.logg.Alert(ctx, "orphaned payment received, refunding", errors.New(reason))

	_, err := r.gateway.CreateRefund(ctx, payments.RefundInput{
		PaymentRef: event.PaymentRef,
		Metadata: map[string]string{
			"job_id": event.JobID.String(),
			"reason": "orphaned_payment",
		},
		IdempotencyKey: "orphan-refund:" + event.PaymentRef,
	})
	if err != nil {
		r.metrics.IncRefundFailure()
		r.logg.Alert(ctx, "orphaned payment refund failed", err)
		// surfaced so the provider redelivers and the refund is retried
		return "", pkgerrors.Wrap(pkgerrors.CodeProvider, err, "refund orphaned payment")
	}
	r.metrics.IncRefundRequested()
	return OutcomeOrphaned, nil
}

func (r *Reconciler) HandleRefundConfirmed(ctx context.Context, event RefundConfirmed) (Outcome, error) {
	ctx = r.logg.WithField(ctx, "payment_ref", event.PaymentRef)

	job, err := r.refundTarget(ctx, event)
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
			// orphan refunds land here: the payment never attached to a job
			r.logg.Warn(ctx, "refund for untracked payment ignored")
			return OutcomeIgnored, nil
		}
		return "", err
	}
	ctx = r.logg.WithJobID(ctx, job.ID.String())

	paymentRef := event.PaymentRef
	if paymentRef == "" && job.ProviderPaymentReference != nil {
		paymentRef = *job.ProviderPaymentReference
	}

	var refunded *models.InspectionJob
	err = r.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		refunded, err = r.jobs.WithTx(tx).MarkRefunded(ctx, job.ID)
		if err != nil {
			return err
		}
		return r.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:   enums.EventPaymentRefunded,
			AggregateID: job.ID,
			Data:        outbox.PaymentRefundedEvent{JobID: job.ID, PaymentReference: paymentRef},
		})
	})
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeInvalidState) {
			r.logg.Info(ctx, "duplicate refund confirmation ignored")
			return OutcomeDuplicate, nil
		}
		return "", err
	}

	r.logg.Info(ctx, "escrow refunded")
	notify(ctx, r.notifier, r.logg, refunded.PosterID, enums.NotificationRefundCompleted,
		map[string]any{"job_id": refunded.ID})
	return OutcomeApplied, nil
}

func (r *Reconciler) refundTarget(ctx context.Context, event RefundConfirmed) (*models.InspectionJob, error) {
	if event.PaymentRef != "" {
		return r.jobs.FindJobByPaymentReference(ctx, event.PaymentRef)
	}
	if event.JobID != uuid.Nil {
		return r.jobs.FindJob(ctx, event.JobID)
	}
	return nil, pkgerrors.New(pkgerrors.CodeValidation, "refund event carries no payment reference or job")
}

func (r *Reconciler) HandleTransferConfirmed(ctx context.Context, event TransferConfirmed) (Outcome, error) {
	if event.JobID == uuid.Nil || event.TransferRef == "" {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "transfer event requires job id and transfer reference")
	}
	ctx = r.logg.WithFields(ctx, map[string]any{
		"job_id":       event.JobID.String(),
		"transfer_ref": event.TransferRef,
	})

	changed, err := markPaid(ctx, r.tx, r.jobs, r.outbox, event.JobID, event.TransferRef)
	if err != nil {
		switch {
		case pkgerrors.IsCode(err, pkgerrors.CodeNotFound):
			r.logg.Warn(ctx, "transfer for unknown job ignored")
			return OutcomeIgnored, nil
		case pkgerrors.IsCode(err, pkgerrors.CodeInvalidState):
			r.logg.Warn(ctx, "transfer for unreleased job ignored")
			return OutcomeIgnored, nil
		case pkgerrors.IsCode(err, pkgerrors.CodeConflict):
			r.logg.Alert(ctx, "second transfer seen for a paid job", err)
			return OutcomeIgnored, nil
		}
		return "", err
	}
	if !changed {
		r.logg.Info(ctx, "duplicate transfer confirmation ignored")
		return OutcomeDuplicate, nil
	}

	job, err := r.jobs.FindJob(ctx, event.JobID)
	if err != nil {
		r.logg.Error(ctx, "load job after payout", err)
		return OutcomeApplied, nil
	}
	r.logg.Info(ctx, "payout recorded from transfer confirmation")
	if job.AssignedInspectorID != nil {
		notify(ctx, r.notifier, r.logg, *job.AssignedInspectorID, enums.NotificationPaymentReceived,
			map[string]any{"job_id": job.ID, "transfer_ref": event.TransferRef})
	}
	return OutcomeApplied, nil
}
