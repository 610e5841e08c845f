package escrow

import (
	"context"
	"fmt"
	"strings"

	"github.com/angelmondragon/inspectbid-backend/internal/jobs"
	"github.com/angelmondragon/inspectbid-backend/pkg/auth"
	"github.com/angelmondragon/inspectbid-backend/pkg/db/models"
	"github.com/angelmondragon/inspectbid-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/inspectbid-backend/pkg/errors"
	"github.com/angelmondragon/inspectbid-backend/pkg/logger"
	"github.com/angelmondragon/inspectbid-backend/pkg/payments"
	"github.com/google/uuid"
)

// jobIDPlaceholder is substituted in configured checkout return URLs.
const jobIDPlaceholder = "{JOB_ID}"

// CheckoutInput selects the bid a poster wants to pay for.
type CheckoutInput struct {
	JobID uuid.UUID
	BidID uuid.UUID
	Actor auth.Actor
}

// CheckoutResult points the poster at the provider-hosted payment page.
type CheckoutResult struct {
	SessionID   string `json:"session_id"`
	RedirectURL string `json:"redirect_url"`
}

// CheckoutInitiator opens provider checkout for a chosen bid. It never
// mutates the job or its bids; acceptance waits for the confirmed payment.
type CheckoutInitiator struct {
	jobs       jobs.Repository
	accounts   accountsService
	gateway    payments.Gateway
	metrics    Metrics
	logg       *logger.Logger
	successURL string
	cancelURL  string
}

func NewCheckoutInitiator(p Params) (*CheckoutInitiator, error) {
	if err := p.require("jobs", "accounts", "gateway", "logger", "checkout urls"); err != nil {
		return nil, err
	}
	return &CheckoutInitiator{
		jobs:       p.Jobs,
		accounts:   p.Accounts,
		gateway:    p.Gateway,
		metrics:    p.metrics(),
		logg:       p.Logger,
		successURL: p.CheckoutSuccessURL,
		cancelURL:  p.CheckoutCancelURL,
	}, nil
}

func (c *CheckoutInitiator) InitiateCheckout(ctx context.Context, input CheckoutInput) (*CheckoutResult, error) {
	if input.Actor.IsZero() {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required")
	}

	job, err := c.jobs.FindJob(ctx, input.JobID)
	if err != nil && !pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
		return nil, err
	}
	if job == nil || !input.Actor.Is(job.PosterID) {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only the job poster can pay for a bid")
	}
	if job.Status != enums.JobStatusOpen {
		return nil, pkgerrors.New(pkgerrors.CodeNotOpen, "job is not open").
			WithDetails(map[string]any{"status": job.Status})
	}
	if job.PaymentStatus != enums.PaymentStatusPending {
		return nil, pkgerrors.New(pkgerrors.CodeAlreadyInProgress, "job already has a payment in progress")
	}

	bid, err := c.jobs.FindBid(ctx, input.BidID)
	if err != nil && !pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
		return nil, err
	}
	if reason := invalidBidReason(job.ID, job.BudgetCents, bid); reason != "" {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidBid, "bid cannot be accepted").
			WithDetails(map[string]any{"reason": reason})
	}

	ctx = c.logg.WithJobID(ctx, job.ID.String())

	customerRef, err := c.accounts.EnsureCustomer(ctx, job.PosterID)
	if err != nil {
		return nil, err
	}

	session, err := c.gateway.CreateCheckoutSession(ctx, payments.CheckoutSessionInput{
		CustomerRef: customerRef,
		AmountCents: bid.ProposedPriceCents,
		Currency:    job.Currency,
		Description: fmt.Sprintf("Property inspection: %s, %s", job.PropertyAddress, job.PropertyCity),
		SuccessURL:  strings.ReplaceAll(c.successURL, jobIDPlaceholder, job.ID.String()),
		CancelURL:   strings.ReplaceAll(c.cancelURL, jobIDPlaceholder, job.ID.String()),
		Metadata: map[string]string{
			"job_id":       job.ID.String(),
			"bid_id":       bid.ID.String(),
			"poster_id":    job.PosterID.String(),
			"inspector_id": bid.InspectorID.String(),
		},
		IdempotencyKey: fmt.Sprintf("checkout:%s:%s", job.ID, bid.ID),
	})
	if err != nil {
		c.logg.Error(ctx, "checkout session failed", err)
		return nil, pkgerrors.Wrap(pkgerrors.CodeProvider, err, "open checkout session")
	}

	c.metrics.IncCheckoutOpened()
	c.logg.Info(c.logg.WithField(ctx, "bid_id", bid.ID.String()), "checkout session opened")
	return &CheckoutResult{SessionID: session.SessionID, RedirectURL: session.RedirectURL}, nil
}

func invalidBidReason(jobID uuid.UUID, budgetCents int64, bid *models.InspectionBid) string {
	switch {
	case bid == nil:
		return "bid not found"
	case bid.JobID != jobID:
		return "bid belongs to another job"
	case bid.Status != enums.BidStatusPending:
		return "bid is " + string(bid.Status)
	case bid.ProposedPriceCents <= 0:
		return "bid price must be positive"
	case bid.ProposedPriceCents > budgetCents:
		return "bid exceeds the job budget"
	}
	return ""
}
