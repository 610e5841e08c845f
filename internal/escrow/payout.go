package escrow

import (
	"context"
	"fmt"

	"github.com/angelmondragon/inspectbid-backend/internal/fees"
	"github.com/angelmondragon/inspectbid-backend/internal/jobs"
	"github.com/angelmondragon/inspectbid-backend/pkg/db/models"
	"github.com/angelmondragon/inspectbid-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/inspectbid-backend/pkg/errors"
	"github.com/angelmondragon/inspectbid-backend/pkg/logger"
	"github.com/angelmondragon/inspectbid-backend/pkg/payments"
	"github.com/google/uuid"
)

// PayoutOutcome is the result of a settlement attempt.
type PayoutOutcome string

const (
	PayoutPaid              PayoutOutcome = "paid"
	PayoutPendingOnboarding PayoutOutcome = "pending_onboarding"
	PayoutAlreadyPaid       PayoutOutcome = "already_paid"
)

// PayoutService releases the inspector's share of a completed job. Only the
// caller that wins ClaimPayout talks to the provider.
type PayoutService struct {
	jobs     jobs.Repository
	accounts accountsService
	gateway  payments.Gateway
	calc     *fees.Calculator
	tx       txRunner
	outbox   outboxPublisher
	notifier Notifier
	metrics  Metrics
	logg     *logger.Logger
}

func NewPayoutService(p Params) (*PayoutService, error) {
	if err := p.require("jobs", "accounts", "gateway", "calculator", "tx", "outbox", "notifier", "logger"); err != nil {
		return nil, err
	}
	return &PayoutService{
		jobs:     p.Jobs,
		accounts: p.Accounts,
		gateway:  p.Gateway,
		calc:     p.Calculator,
		tx:       p.Tx,
		outbox:   p.Outbox,
		notifier: p.Notifier,
		metrics:  p.metrics(),
		logg:     p.Logger,
	}, nil
}

func (s *PayoutService) SettlePayout(ctx context.Context, jobID uuid.UUID) (PayoutOutcome, error) {
	ctx = s.logg.WithJobID(ctx, jobID.String())

	job, err := s.jobs.FindJob(ctx, jobID)
	if err != nil {
		return "", err
	}
	if job.Status != enums.JobStatusCompleted || job.PaymentStatus != enums.PaymentStatusReleased {
		return "", pkgerrors.New(pkgerrors.CodeInvalidState, "job is not ready for payout").
			WithDetails(map[string]any{"status": job.Status, "payment_status": job.PaymentStatus})
	}
	if job.PayoutStatus == enums.PayoutStatusPaid {
		s.metrics.IncPayout(string(PayoutAlreadyPaid))
		return PayoutAlreadyPaid, nil
	}
	if job.PayoutStatus == enums.PayoutStatusProcessing {
		return "", pkgerrors.New(pkgerrors.CodeAlreadyInProgress, "payout already in progress").
			WithDetails(map[string]any{"payout_status": job.PayoutStatus})
	}
	if job.AssignedInspectorID == nil {
		return "", fmt.Errorf("completed job %s has no assigned inspector", jobID)
	}
	payee := *job.AssignedInspectorID

	readiness, err := s.accounts.PayoutReadiness(ctx, payee)
	if err != nil {
		return "", err
	}
	if !readiness.Ready() {
		return s.awaitOnboarding(ctx, job, payee)
	}

	claimed, won, err := s.jobs.ClaimPayout(ctx, jobID)
	if err != nil {
		return "", err
	}
	if !won {
		if claimed.PayoutStatus == enums.PayoutStatusPaid {
			s.metrics.IncPayout(string(PayoutAlreadyPaid))
			return PayoutAlreadyPaid, nil
		}
		return "", pkgerrors.New(pkgerrors.CodeAlreadyInProgress, "payout already in progress").
			WithDetails(map[string]any{"payout_status": claimed.PayoutStatus})
	}

	payment, err := s.jobs.FindPaymentByJob(ctx, jobID)
	if err != nil {
		s.release(ctx, jobID)
		return "", err
	}
	amount := s.payeeShare(ctx, payment)
	paid := paidPayout{jobID: jobID, payee: payee, amount: amount, currency: payment.Currency}

	// An earlier attempt may have moved the money and lost the reply.
	if claimed.PayoutAttempts > 1 {
		ref, found, err := s.gateway.FindTransfer(ctx, jobID.String())
		if err != nil {
			s.release(ctx, jobID)
			s.metrics.IncPayout("failed")
			return "", pkgerrors.Wrap(pkgerrors.CodeProvider, err, "look up earlier payout transfer")
		}
		if found {
			s.logg.Warn(s.logg.WithField(ctx, "transfer_ref", ref), "earlier payout attempt had already transferred")
			paid.transferRef = ref
			return s.recordPaid(ctx, paid)
		}
	}

	transferRef, err := s.gateway.CreateTransfer(ctx, payments.TransferInput{
		DestinationAccountRef: readiness.AccountRef,
		AmountCents:           amount,
		Currency:              payment.Currency,
		SourcePaymentRef:      payment.ProviderPaymentReference,
		Metadata: map[string]string{
			"job_id":   jobID.String(),
			"payee_id": payee.String(),
		},
		IdempotencyKey: PayoutIdempotencyKey(jobID),
	})
	if err != nil {
		s.release(ctx, jobID)
		s.metrics.IncPayout("failed")
		s.logg.Alert(ctx, "payout transfer failed", err)
		return "", pkgerrors.Wrap(pkgerrors.CodeProvider, err, "transfer payout")
	}
	paid.transferRef = transferRef
	return s.recordPaid(ctx, paid)
}

// PayoutIdempotencyKey is the same for every attempt on a job, so the
// provider replays a transfer it already made instead of sending another.
func PayoutIdempotencyKey(jobID uuid.UUID) string {
	return "payout:" + jobID.String()
}

type paidPayout struct {
	jobID       uuid.UUID
	payee       uuid.UUID
	amount      int64
	currency    string
	transferRef string
}

func (s *PayoutService) recordPaid(ctx context.Context, p paidPayout) (PayoutOutcome, error) {
	ctx = s.logg.WithField(ctx, "transfer_ref", p.transferRef)
	changed, err := markPaid(ctx, s.tx, s.jobs, s.outbox, p.jobID, p.transferRef)
	if err != nil {
		// money has moved; the transfer confirmation webhook will record it
		s.logg.Alert(ctx, "payout sent but not recorded", err)
		return "", err
	}
	if !changed {
		return PayoutAlreadyPaid, nil
	}

	s.metrics.IncPayout(string(PayoutPaid))
	s.logg.Info(ctx, "payout sent")
	notify(ctx, s.notifier, s.logg, p.payee, enums.NotificationPaymentReceived,
		map[string]any{"job_id": p.jobID, "amount_cents": p.amount, "currency": p.currency})
	return PayoutPaid, nil
}

func (s *PayoutService) awaitOnboarding(ctx context.Context, job *models.InspectionJob, payee uuid.UUID) (PayoutOutcome, error) {
	changed, err := s.jobs.MarkPayoutStatus(ctx, job.ID, enums.PayoutStatusPendingOnboarding, nil)
	if err != nil {
		return "", err
	}
	s.metrics.IncPayout(string(PayoutPendingOnboarding))
	if changed {
		s.logg.Info(ctx, "payout waiting on inspector onboarding")
		notify(ctx, s.notifier, s.logg, payee, enums.NotificationPayoutOnboard,
			map[string]any{"job_id": job.ID})
	}
	return PayoutPendingOnboarding, nil
}

// payeeShare returns the net amount recorded at acceptance. A fee change
// since then is logged but never alters what the payee was promised.
func (s *PayoutService) payeeShare(ctx context.Context, payment *models.EscrowPayment) int64 {
	split, err := s.calc.Split(payment.GrossCents)
	if err != nil || split.PayeeShare != payment.NetCents {
		s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
			"recorded_net_cents": payment.NetCents,
			"computed_net_cents": split.PayeeShare,
		}), "fee split differs from escrow record, paying recorded share")
	}
	return payment.NetCents
}

// release hands a claimed payout back so a later attempt can claim it.
func (s *PayoutService) release(ctx context.Context, jobID uuid.UUID) {
	if _, err := s.jobs.MarkPayoutStatus(ctx, jobID, enums.PayoutStatusFailed, nil); err != nil {
		s.logg.Error(ctx, "mark payout failed", err)
	}
}
