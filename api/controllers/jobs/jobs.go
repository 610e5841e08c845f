package jobs

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/inspectbid-backend/api/middleware"
	"github.com/angelmondragon/inspectbid-backend/api/responses"
	"github.com/angelmondragon/inspectbid-backend/api/validators"
	internaljobs "github.com/angelmondragon/inspectbid-backend/internal/jobs"
	"github.com/angelmondragon/inspectbid-backend/pkg/auth"
	"github.com/angelmondragon/inspectbid-backend/pkg/db/models"
	"github.com/angelmondragon/inspectbid-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/inspectbid-backend/pkg/errors"
	"github.com/angelmondragon/inspectbid-backend/pkg/logger"
)

// CreateJob registers a new inspection job for the calling poster.
func CreateJob(svc internaljobs.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "jobs service unavailable"))
			return
		}

		var req createJobRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		urgency, err := enums.ParseUrgency(req.Urgency)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid urgency"))
			return
		}

		job, err := svc.CreateJob(r.Context(), middleware.ActorFromContext(r.Context()), internaljobs.CreateJobInput{
			PropertyAddress: validators.SanitizeString(req.PropertyAddress, 255),
			PropertyCity:    validators.SanitizeString(req.PropertyCity, 120),
			PropertyState:   strings.ToUpper(validators.SanitizeString(req.PropertyState, 2)),
			PropertyZip:     validators.SanitizeString(req.PropertyZip, 10),
			Urgency:         urgency,
			BudgetCents:     req.Budget.Cents(),
			Currency:        strings.ToLower(strings.TrimSpace(req.Currency)),
			Scope:           validators.SanitizeString(req.Scope, 4000),
			Publish:         req.Publish,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, toJobResponse(job))
	}
}

// ListJobs pages through jobs visible to the caller. Inspectors asking for
// status=open see the whole marketplace.
func ListJobs(svc internaljobs.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "jobs service unavailable"))
			return
		}

		page, err := validators.ParsePage(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var filters internaljobs.JobFilters
		if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
			status, err := enums.ParseJobStatus(raw)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status"))
				return
			}
			filters.Status = &status
		}

		list, err := svc.ListJobs(r.Context(), middleware.ActorFromContext(r.Context()), filters, page)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		resp := jobListResponse{Items: make([]jobResponse, 0, len(list.Jobs)), Cursor: list.NextCursor}
		for i := range list.Jobs {
			resp.Items = append(resp.Items, toJobResponse(&list.Jobs[i]))
		}
		responses.WriteSuccess(w, resp)
	}
}

func GetJob(svc internaljobs.Service, logg *logger.Logger) http.HandlerFunc {
	return jobAction(svc, logg, func(s internaljobs.Service) jobOperation { return s.GetJob })
}

func PublishJob(svc internaljobs.Service, logg *logger.Logger) http.HandlerFunc {
	return jobAction(svc, logg, func(s internaljobs.Service) jobOperation { return s.PublishJob })
}

func StartInspection(svc internaljobs.Service, logg *logger.Logger) http.HandlerFunc {
	return jobAction(svc, logg, func(s internaljobs.Service) jobOperation { return s.StartInspection })
}

func SubmitReport(svc internaljobs.Service, logg *logger.Logger) http.HandlerFunc {
	return jobAction(svc, logg, func(s internaljobs.Service) jobOperation { return s.SubmitReport })
}

// ApproveReport completes the job and releases escrow. Payout follows from
// the settlement sweep or an admin trigger.
func ApproveReport(svc internaljobs.Service, logg *logger.Logger) http.HandlerFunc {
	return jobAction(svc, logg, func(s internaljobs.Service) jobOperation { return s.ApproveReport })
}

// UpdateBudget changes the budget of a draft or open job.
func UpdateBudget(svc internaljobs.Service, logg *logger.Logger) http.HandlerFunc {
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
		var req updateBudgetRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		job, err := svc.UpdateBudget(r.Context(), middleware.ActorFromContext(r.Context()), jobID, req.Budget.Cents())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, toJobResponse(job))
	}
}

type jobOperation func(ctx context.Context, actor auth.Actor, jobID uuid.UUID) (*models.InspectionJob, error)

func jobAction(svc internaljobs.Service, logg *logger.Logger, pick func(internaljobs.Service) jobOperation) http.HandlerFunc {
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
		ctx := r.Context()
		if logg != nil {
			ctx = logg.WithJobID(ctx, jobID.String())
		}
		job, err := pick(svc)(ctx, middleware.ActorFromContext(ctx), jobID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, toJobResponse(job))
	}
}
