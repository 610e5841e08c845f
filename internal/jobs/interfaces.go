package jobs

import (
	"context"
	"time"

	"github.com/angelmondragon/inspectbid-backend/internal/fees"
	"github.com/angelmondragon/inspectbid-backend/pkg/db/models"
	"github.com/angelmondragon/inspectbid-backend/pkg/enums"
	"github.com/angelmondragon/inspectbid-backend/pkg/pagination"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Repository owns jobs, bids and escrow payment rows. Every mutating call
// re-checks its preconditions under a lock on the job row, so callers may
// replay them safely.
type Repository interface {
	WithTx(tx *gorm.DB) Repository

	CreateJob(ctx context.Context, job *models.InspectionJob) error
	CreateBid(ctx context.Context, bid *models.InspectionBid) error
	AcceptBid(ctx context.Context, input AcceptBidInput) (*AcceptResult, error)
	MarkRefunded(ctx context.Context, jobID uuid.UUID) (*models.InspectionJob, error)
	MarkPayoutStatus(ctx context.Context, jobID uuid.UUID, status enums.PayoutStatus, transferRef *string) (bool, error)
	ClaimPayout(ctx context.Context, jobID uuid.UUID) (*models.InspectionJob, bool, error)
	CancelJob(ctx context.Context, jobID uuid.UUID) (*models.InspectionJob, error)
	SetRefundDue(ctx context.Context, jobID uuid.UUID, due bool) error
	Transition(ctx context.Context, jobID uuid.UUID, t Transition) (*models.InspectionJob, error)
	UpdateBudget(ctx context.Context, jobID uuid.UUID, budgetCents int64) (*models.InspectionJob, error)
	DeclineBid(ctx context.Context, jobID, bidID uuid.UUID) (*models.InspectionBid, error)
	WithdrawBid(ctx context.Context, bidID uuid.UUID) (*models.InspectionBid, error)

	FindJob(ctx context.Context, id uuid.UUID) (*models.InspectionJob, error)
	FindJobByPaymentReference(ctx context.Context, ref string) (*models.InspectionJob, error)
	FindBid(ctx context.Context, id uuid.UUID) (*models.InspectionBid, error)
	FindPaymentByJob(ctx context.Context, jobID uuid.UUID) (*models.EscrowPayment, error)
	ListBidsByJob(ctx context.Context, jobID uuid.UUID) ([]models.InspectionBid, error)
	ListPendingBids(ctx context.Context, jobID uuid.UUID) ([]models.InspectionBid, error)
	ListJobs(ctx context.Context, filters JobFilters, params pagination.Params) (*JobList, error)
	ListPayoutRetryCandidates(ctx context.Context, limit int) ([]models.InspectionJob, error)
	ListRefundRetryCandidates(ctx context.Context, limit int) ([]models.InspectionJob, error)
	ListStaleOpenJobs(ctx context.Context, cutoff time.Time, limit int) ([]models.InspectionJob, error)
}

// AcceptBidInput carries a confirmed payment into the acceptance transaction.
type AcceptBidInput struct {
	JobID            uuid.UUID
	BidID            uuid.UUID
	PaymentReference string
	// Currency, when set, must match the job's currency.
	Currency string
	Split    fees.Split
	PaidAt   time.Time
}

// AcceptResult is the state written by a successful acceptance.
type AcceptResult struct {
	Job          *models.InspectionJob
	AcceptedBid  *models.InspectionBid
	DeclinedBids []models.InspectionBid
	Payment      *models.EscrowPayment
}

// Transition moves a job between lifecycle states. FromPayment and ToPayment
// are optional; StampCompleted records completed_at.
type Transition struct {
	From           []enums.JobStatus
	To             enums.JobStatus
	FromPayment    []enums.PaymentStatus
	ToPayment      enums.PaymentStatus
	StampCompleted bool
}

// JobFilters narrows job listings.
type JobFilters struct {
	Status      *enums.JobStatus
	PosterID    *uuid.UUID
	InspectorID *uuid.UUID
}

// JobList is a cursor page of jobs.
type JobList struct {
	Jobs       []models.InspectionJob
	NextCursor string
}
