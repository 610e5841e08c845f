package jobs

import (
	"net/http"

	"github.com/angelmondragon/inspectbid-backend/api/middleware"
	"github.com/angelmondragon/inspectbid-backend/api/responses"
	"github.com/angelmondragon/inspectbid-backend/api/validators"
	internaljobs "github.com/angelmondragon/inspectbid-backend/internal/jobs"
	pkgerrors "github.com/angelmondragon/inspectbid-backend/pkg/errors"
	"github.com/angelmondragon/inspectbid-backend/pkg/logger"
)

// CreateBid records an inspector's offer on an open job.
func CreateBid(svc internaljobs.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "jobs service unavailable"))
			return
		}
		jobID, err := validators.ParseUUIDParam(r, "jobId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req createBidRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		bid, err := svc.CreateBid(r.Context(), middleware.ActorFromContext(r.Context()), jobID, internaljobs.CreateBidInput{
			ProposedPriceCents: req.ProposedPrice.Cents(),
			ProposedDate:       req.ProposedDate,
			Message:            validators.SanitizeString(req.Message, 2000),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, toBidResponse(bid))
	}
}

func ListBids(svc internaljobs.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "jobs service unavailable"))
			return
		}
		jobID, err := validators.ParseUUIDParam(r, "jobId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		bids, err := svc.ListBids(r.Context(), middleware.ActorFromContext(r.Context()), jobID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		items := make([]bidResponse, 0, len(bids))
		for i := range bids {
			items = append(items, toBidResponse(&bids[i]))
		}
		responses.WriteSuccess(w, map[string]any{"items": items})
	}
}

// DeclineBid lets the poster turn down a pending bid.
func DeclineBid(svc internaljobs.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "jobs service unavailable"))
			return
		}
		jobID, err := validators.ParseUUIDParam(r, "jobId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		bidID, err := validators.ParseUUIDParam(r, "bidId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		bid, err := svc.DeclineBid(r.Context(), middleware.ActorFromContext(r.Context()), jobID, bidID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, toBidResponse(bid))
	}
}

// WithdrawBid lets an inspector pull back their own pending bid.
func WithdrawBid(svc internaljobs.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "jobs service unavailable"))
			return
		}
		bidID, err := validators.ParseUUIDParam(r, "bidId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		bid, err := svc.WithdrawBid(r.Context(), middleware.ActorFromContext(r.Context()), bidID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, toBidResponse(bid))
	}
}
