package escrow

import (
	"context"
	"errors"

	"github.com/angelmondragon/inspectbid-backend/internal/jobs"
	"github.com/angelmondragon/inspectbid-backend/pkg/auth"
	"github.com/angelmondragon/inspectbid-backend/pkg/db/models"
	"github.com/angelmondragon/inspectbid-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/inspectbid-backend/pkg/errors"
	"github.com/angelmondragon/inspectbid-backend/pkg/logger"
	"github.com/angelmondragon/inspectbid-backend/pkg/outbox"
	"github.com/angelmondragon/inspectbid-backend/pkg/payments"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// CancelResult reports what a cancellation did. RefundRequested is true only
// when the provider accepted the refund request; the payment status changes
// later, when the refund is confirmed.
type CancelResult struct {
	JobID           uuid.UUID       `json:"job_id"`
	PreviousStatus  enums.JobStatus `json:"previous_status"`
	RefundEligible  bool            `json:"refund_eligible"`
	RefundRequested bool            `json:"refund_requested"`
}

// CancellationCoordinator cancels jobs and asks the provider to refund any
// escrow that has not started being worked.
type CancellationCoordinator struct {
	jobs     jobs.Repository
	gateway  payments.Gateway
	tx       txRunner
	outbox   outboxPublisher
	notifier Notifier
	metrics  Metrics
	logg     *logger.Logger
}

func NewCancellationCoordinator(p Params) (*CancellationCoordinator, error) {
	if err := p.require("jobs", "gateway", "tx", "outbox", "notifier", "logger"); err != nil {
		return nil, err
	}
	return &CancellationCoordinator{
		jobs:     p.Jobs,
		gateway:  p.Gateway,
		tx:       p.Tx,
		outbox:   p.Outbox,
		notifier: p.Notifier,
		metrics:  p.metrics(),
		logg:     p.Logger,
	}, nil
}

// RefundEligible reports whether cancelling job should return the escrowed
// payment automatically. Work that has started is settled by hand.
func RefundEligible(job *models.InspectionJob) bool {
	if job.PaymentStatus != enums.PaymentStatusInEscrow {
		return false
	}
	return job.Status == enums.JobStatusOpen || job.Status == enums.JobStatusAssigned
}

func (c *CancellationCoordinator) CancelJob(ctx context.Context, jobID uuid.UUID, actor auth.Actor) (*CancelResult, error) {
	if actor.IsZero() {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required")
	}
	ctx = c.logg.WithJobID(ctx, jobID.String())

	job, err := c.jobs.FindJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if !actor.Is(job.PosterID) && !actor.IsAdmin() {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only the poster or an admin can cancel a job")
	}

	pending, err := c.jobs.ListPendingBids(ctx, jobID)
	if err != nil {
		return nil, err
	}

	var prior *models.InspectionJob
	eligible := false
	err = c.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		prior, err = c.jobs.WithTx(tx).CancelJob(ctx, jobID)
		if err != nil {
			return err
		}
		eligible = RefundEligible(prior)
		if eligible {
			if err := c.jobs.WithTx(tx).SetRefundDue(ctx, jobID, true); err != nil {
				return err
			}
		}
		return c.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:   enums.EventJobCancelled,
			AggregateID: jobID,
			Actor:       outbox.ActorRefFrom(actor),
			Data: outbox.JobCancelledEvent{
				JobID:           jobID,
				PreviousStatus:  string(prior.Status),
				RefundRequested: eligible,
			},
		})
	})
	if err != nil {
		return nil, err
	}

	result := &CancelResult{JobID: jobID, PreviousStatus: prior.Status, RefundEligible: eligible}
	c.logg.Info(c.logg.WithField(ctx, "previous_status", string(prior.Status)), "job cancelled")

	switch {
	case eligible:
		// a rejected request stays due and the refund sweep asks again
		result.RefundRequested = c.requestRefund(ctx, prior) == nil
	case prior.PaymentStatus == enums.PaymentStatusInEscrow:
		c.logg.Alert(ctx, "job cancelled with escrow held after work started, settle manually",
			errors.New("escrow held on cancelled "+string(prior.Status)+" job"))
	}

	payload := map[string]any{"job_id": jobID}
	for _, bid := range pending {
		notify(ctx, c.notifier, c.logg, bid.InspectorID, enums.NotificationJobCancelled, payload)
	}
	if prior.AssignedInspectorID != nil {
		notify(ctx, c.notifier, c.logg, *prior.AssignedInspectorID, enums.NotificationJobCancelled, payload)
	}
	return result, nil
}

// RetryRefund asks the provider again for a refund a cancel could not get
// accepted. It reports false when the job no longer owes one.
func (c *CancellationCoordinator) RetryRefund(ctx context.Context, jobID uuid.UUID) (bool, error) {
	ctx = c.logg.WithJobID(ctx, jobID.String())
	job, err := c.jobs.FindJob(ctx, jobID)
	if err != nil {
		return false, err
	}
	if !job.RefundDue || job.Status != enums.JobStatusCancelled || job.PaymentStatus != enums.PaymentStatusInEscrow {
		return false, nil
	}
	if err := c.requestRefund(ctx, job); err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeProvider, err, "request refund")
	}
	c.logg.Info(ctx, "refund re-requested for cancelled job")
	return true, nil
}

func (c *CancellationCoordinator) requestRefund(ctx context.Context, job *models.InspectionJob) error {
	if job.ProviderPaymentReference == nil {
		err := errors.New("missing payment reference")
		c.logg.Alert(ctx, "escrowed job has no payment reference", err)
		c.metrics.IncRefundFailure()
		return err
	}
	_, err := c.gateway.CreateRefund(ctx, payments.RefundInput{
		PaymentRef:     *job.ProviderPaymentReference,
		Metadata:       map[string]string{"job_id": job.ID.String(), "reason": "job_cancelled"},
		IdempotencyKey: "refund:" + job.ID.String(),
	})
	if err != nil {
		c.metrics.IncRefundFailure()
		c.logg.Alert(ctx, "refund request failed for cancelled job", err)
		return err
	}
	c.metrics.IncRefundRequested()
	if err := c.jobs.SetRefundDue(ctx, job.ID, false); err != nil {
		// the sweep will replay the request under the same key
		c.logg.Error(ctx, "clear refund due", err)
	}
	return nil
}
