package jobs

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/inspectbid-backend/api/middleware"
	"github.com/angelmondragon/inspectbid-backend/api/responses"
	"github.com/angelmondragon/inspectbid-backend/api/validators"
	"github.com/angelmondragon/inspectbid-backend/internal/escrow"
	"github.com/angelmondragon/inspectbid-backend/pkg/auth"
	pkgerrors "github.com/angelmondragon/inspectbid-backend/pkg/errors"
	"github.com/angelmondragon/inspectbid-backend/pkg/logger"
)

type CheckoutInitiator interface {
	InitiateCheckout(ctx context.Context, input escrow.CheckoutInput) (*escrow.CheckoutResult, error)
}

type JobCanceller interface {
	CancelJob(ctx context.Context, jobID uuid.UUID, actor auth.Actor) (*escrow.CancelResult, error)
}

type PayoutSettler interface {
	SettlePayout(ctx context.Context, jobID uuid.UUID) (escrow.PayoutOutcome, error)
}

// Checkout opens a hosted payment session for the chosen bid. The job only
// moves once the provider confirms the payment.
func Checkout(svc CheckoutInitiator, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout service unavailable"))
			return
		}
		jobID, err := validators.ParseUUIDParam(r, "jobId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req checkoutRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		ctx := r.Context()
		if logg != nil {
			ctx = logg.WithJobID(ctx, jobID.String())
		}
		result, err := svc.InitiateCheckout(ctx, escrow.CheckoutInput{
			JobID: jobID,
			BidID: req.BidID,
			Actor: middleware.ActorFromContext(ctx),
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, result)
	}
}

type cancelResponse struct {
	JobID           uuid.UUID `json:"job_id"`
	PreviousStatus  string    `json:"previous_status"`
	RefundEligible  bool      `json:"refund_eligible"`
	RefundRequested bool      `json:"refund_requested"`
}

// CancelJob cancels the job and, when escrow is refundable, asks the
// provider for a refund. The refund completes asynchronously.
func CancelJob(svc JobCanceller, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "cancellation service unavailable"))
			return
		}
		jobID, err := validators.ParseUUIDParam(r, "jobId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		ctx := r.Context()
		if logg != nil {
			ctx = logg.WithJobID(ctx, jobID.String())
		}
		result, err := svc.CancelJob(ctx, jobID, middleware.ActorFromContext(ctx))
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, cancelResponse{
			JobID:           result.JobID,
			PreviousStatus:  string(result.PreviousStatus),
			RefundEligible:  result.RefundEligible,
			RefundRequested: result.RefundRequested,
		})
	}
}

// SettlePayout is the admin trigger for a job's payout. A job that was
// already paid reports outcome already_paid.
func SettlePayout(svc PayoutSettler, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payout service unavailable"))
			return
		}
		jobID, err := validators.ParseUUIDParam(r, "jobId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		ctx := r.Context()
		if logg != nil {
			ctx = logg.WithJobID(ctx, jobID.String())
		}
		outcome, err := svc.SettlePayout(ctx, jobID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"job_id": jobID, "outcome": outcome})
	}
}
