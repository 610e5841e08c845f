package jobs

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/angelmondragon/inspectbid-backend/pkg/auth"
	"github.com/angelmondragon/inspectbid-backend/pkg/db/models"
	"github.com/angelmondragon/inspectbid-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/inspectbid-backend/pkg/errors"
	"github.com/angelmondragon/inspectbid-backend/pkg/logger"
	"github.com/angelmondragon/inspectbid-backend/pkg/outbox"
	"github.com/angelmondragon/inspectbid-backend/pkg/pagination"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type notifier interface {
	Notify(ctx context.Context, userID uuid.UUID, kind enums.NotificationType, payload any) error
}

// Service covers the job lifecycle outside of payment confirmation, refunds
// and payouts.
type Service interface {
	CreateJob(ctx context.Context, actor auth.Actor, input CreateJobInput) (*models.InspectionJob, error)
	PublishJob(ctx context.Context, actor auth.Actor, jobID uuid.UUID) (*models.InspectionJob, error)
	UpdateBudget(ctx context.Context, actor auth.Actor, jobID uuid.UUID, budgetCents int64) (*models.InspectionJob, error)
	CreateBid(ctx context.Context, actor auth.Actor, jobID uuid.UUID, input CreateBidInput) (*models.InspectionBid, error)
	DeclineBid(ctx context.Context, actor auth.Actor, jobID, bidID uuid.UUID) (*models.InspectionBid, error)
	WithdrawBid(ctx context.Context, actor auth.Actor, bidID uuid.UUID) (*models.InspectionBid, error)
	StartInspection(ctx context.Context, actor auth.Actor, jobID uuid.UUID) (*models.InspectionJob, error)
	SubmitReport(ctx context.Context, actor auth.Actor, jobID uuid.UUID) (*models.InspectionJob, error)
	ApproveReport(ctx context.Context, actor auth.Actor, jobID uuid.UUID) (*models.InspectionJob, error)
	ExpireJob(ctx context.Context, jobID uuid.UUID) (*models.InspectionJob, error)
	GetJob(ctx context.Context, actor auth.Actor, jobID uuid.UUID) (*models.InspectionJob, error)
	ListBids(ctx context.Context, actor auth.Actor, jobID uuid.UUID) ([]models.InspectionBid, error)
	ListJobs(ctx context.Context, actor auth.Actor, filters JobFilters, params pagination.Params) (*JobList, error)
}

// CreateJobInput is what a poster supplies for a new job.
type CreateJobInput struct {
	PropertyAddress string
	PropertyCity    string
	PropertyState   string
	PropertyZip     string
	Urgency         enums.Urgency
	BudgetCents     int64
	Currency        string
	Scope           string
	Publish         bool
}

// CreateBidInput is an inspector's offer.
type CreateBidInput struct {
	ProposedPriceCents int64
	ProposedDate       *time.Time
	Message            string
}

type service struct {
	repo            Repository
	tx              txRunner
	outbox          outboxPublisher
	notifier        notifier
	logg            *logger.Logger
	defaultCurrency string
}

// NewService wires the job lifecycle service.
func NewService(repo Repository, tx txRunner, outbox outboxPublisher, notifier notifier, logg *logger.Logger, defaultCurrency string) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("jobs repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if notifier == nil {
		return nil, fmt.Errorf("notifier required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	if strings.TrimSpace(defaultCurrency) == "" {
		return nil, fmt.Errorf("default currency required")
	}
	return &service{
		repo:            repo,
		tx:              tx,
		outbox:          outbox,
		notifier:        notifier,
		logg:            logg,
		defaultCurrency: strings.ToLower(defaultCurrency),
	}, nil
}

func requireRole(actor auth.Actor, roles ...enums.Role) error {
	if actor.IsZero() {
		return pkgerrors.New(pkgerrors.CodeUnauthorized, "actor identity missing")
	}
	for _, role := range roles {
		if actor.Role == role {
			return nil
		}
	}
	return pkgerrors.New(pkgerrors.CodeForbidden, "role not permitted for this action")
}

func (s *service) loadOwnedJob(ctx context.Context, actor auth.Actor, jobID uuid.UUID) (*models.InspectionJob, error) {
	if actor.IsZero() {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "actor identity missing")
	}
	job, err := s.repo.FindJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if !actor.Is(job.PosterID) && !actor.IsAdmin() {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only the job poster may do this")
	}
	return job, nil
}

func (s *service) loadAssignedJob(ctx context.Context, actor auth.Actor, jobID uuid.UUID) (*models.InspectionJob, error) {
	if err := requireRole(actor, enums.RoleInspector); err != nil {
		return nil, err
	}
	job, err := s.repo.FindJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.AssignedInspectorID == nil || !actor.Is(*job.AssignedInspectorID) {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only the assigned inspector may do this")
	}
	return job, nil
}

func (s *service) CreateJob(ctx context.Context, actor auth.Actor, input CreateJobInput) (*models.InspectionJob, error) {
	if err := requireRole(actor, enums.RolePoster, enums.RoleAdmin); err != nil {
		return nil, err
	}

	currency := input.Currency
	if strings.TrimSpace(currency) == "" {
		currency = s.defaultCurrency
	}
	status := enums.JobStatusDraft
	if input.Publish {
		status = enums.JobStatusOpen
	}

	job := &models.InspectionJob{
		PosterID:        actor.UserID,
		PropertyAddress: input.PropertyAddress,
		PropertyCity:    input.PropertyCity,
		PropertyState:   input.PropertyState,
		PropertyZip:     input.PropertyZip,
		Urgency:         input.Urgency,
		BudgetCents:     input.BudgetCents,
		Currency:        currency,
		Scope:           strings.TrimSpace(input.Scope),
		Status:          status,
	}
	if err := s.repo.CreateJob(ctx, job); err != nil {
		return nil, err
	}

	s.logg.Info(s.logg.WithJobID(ctx, job.ID.String()), "inspection job created")
	return job, nil
}

func (s *service) PublishJob(ctx context.Context, actor auth.Actor, jobID uuid.UUID) (*models.InspectionJob, error) {
	if _, err := s.loadOwnedJob(ctx, actor, jobID); err != nil {
		return nil, err
	}
	return s.repo.Transition(ctx, jobID, Transition{
		From: []enums.JobStatus{enums.JobStatusDraft},
		To:   enums.JobStatusOpen,
	})
}

func (s *service) UpdateBudget(ctx context.Context, actor auth.Actor, jobID uuid.UUID, budgetCents int64) (*models.InspectionJob, error) {
	if _, err := s.loadOwnedJob(ctx, actor, jobID); err != nil {
		return nil, err
	}
	return s.repo.UpdateBudget(ctx, jobID, budgetCents)
}

func (s *service) CreateBid(ctx context.Context, actor auth.Actor, jobID uuid.UUID, input CreateBidInput) (*models.InspectionBid, error) {
	if err := requireRole(actor, enums.RoleInspector); err != nil {
		return nil, err
	}
	job, err := s.repo.FindJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if actor.Is(job.PosterID) {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "posters cannot bid on their own jobs")
	}

	bid := &models.InspectionBid{
		JobID:              jobID,
		InspectorID:        actor.UserID,
		ProposedPriceCents: input.ProposedPriceCents,
		ProposedDate:       input.ProposedDate,
		Message:            strings.TrimSpace(input.Message),
	}
	if err := s.repo.CreateBid(ctx, bid); err != nil {
		return nil, err
	}

	s.notify(ctx, job.PosterID, enums.NotificationBidReceived, map[string]any{
		"job_id":               jobID,
		"bid_id":               bid.ID,
		"proposed_price_cents": bid.ProposedPriceCents,
	})
	return bid, nil
}

func (s *service) DeclineBid(ctx context.Context, actor auth.Actor, jobID, bidID uuid.UUID) (*models.InspectionBid, error) {
	if _, err := s.loadOwnedJob(ctx, actor, jobID); err != nil {
		return nil, err
	}
	bid, err := s.repo.DeclineBid(ctx, jobID, bidID)
	if err != nil {
		return nil, err
	}
	s.notify(ctx, bid.InspectorID, enums.NotificationBidDeclined, map[string]any{
		"job_id": jobID,
		"bid_id": bid.ID,
	})
	return bid, nil
}

func (s *service) WithdrawBid(ctx context.Context, actor auth.Actor, bidID uuid.UUID) (*models.InspectionBid, error) {
	if err := requireRole(actor, enums.RoleInspector); err != nil {
		return nil, err
	}
	bid, err := s.repo.FindBid(ctx, bidID)
	if err != nil {
		return nil, err
	}
	if !actor.Is(bid.InspectorID) {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only the bidding inspector may withdraw")
	}
	return s.repo.WithdrawBid(ctx, bidID)
}

func (s *service) StartInspection(ctx context.Context, actor auth.Actor, jobID uuid.UUID) (*models.InspectionJob, error) {
	if _, err := s.loadAssignedJob(ctx, actor, jobID); err != nil {
		return nil, err
	}
	return s.repo.Transition(ctx, jobID, Transition{
		From:        []enums.JobStatus{enums.JobStatusAssigned},
		To:          enums.JobStatusInProgress,
		FromPayment: []enums.PaymentStatus{enums.PaymentStatusInEscrow},
	})
}

func (s *service) SubmitReport(ctx context.Context, actor auth.Actor, jobID uuid.UUID) (*models.InspectionJob, error) {
	if _, err := s.loadAssignedJob(ctx, actor, jobID); err != nil {
		return nil, err
	}
	job, err := s.repo.Transition(ctx, jobID, Transition{
		From:        []enums.JobStatus{enums.JobStatusAssigned, enums.JobStatusInProgress},
		To:          enums.JobStatusPendingReview,
		FromPayment: []enums.PaymentStatus{enums.PaymentStatusInEscrow},
	})
	if err != nil {
		return nil, err
	}
	s.notify(ctx, job.PosterID, enums.NotificationReportSubmitted, map[string]any{"job_id": jobID})
	return job, nil
}

// ApproveReport completes the job and releases escrow. Payout settlement is
// a separate step driven by the caller.
func (s *service) ApproveReport(ctx context.Context, actor auth.Actor, jobID uuid.UUID) (*models.InspectionJob, error) {
	if _, err := s.loadOwnedJob(ctx, actor, jobID); err != nil {
		return nil, err
	}

	var completed *models.InspectionJob
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		job, err := s.repo.WithTx(tx).Transition(ctx, jobID, Transition{
			From:           []enums.JobStatus{enums.JobStatusPendingReview},
			To:             enums.JobStatusCompleted,
			FromPayment:    []enums.PaymentStatus{enums.PaymentStatusInEscrow},
			ToPayment:      enums.PaymentStatusReleased,
			StampCompleted: true,
		})
		if err != nil {
			return err
		}

		event := outbox.DomainEvent{
			EventType:   enums.EventJobCompleted,
			AggregateID: job.ID,
			Actor:       outbox.ActorRefFrom(actor),
			Data: outbox.JobCompletedEvent{
				JobID:       job.ID,
				InspectorID: derefUUID(job.AssignedInspectorID),
				CompletedAt: derefTime(job.CompletedAt),
			},
		}
		if err := s.outbox.Emit(ctx, tx, event); err != nil {
			return err
		}
		completed = job
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logg.Info(s.logg.WithJobID(ctx, jobID.String()), "inspection report approved")
	return completed, nil
}

// ExpireJob closes an open job that never took payment. Called by the
// expiry sweep, so there is no actor.
func (s *service) ExpireJob(ctx context.Context, jobID uuid.UUID) (*models.InspectionJob, error) {
	var expired *models.InspectionJob
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		job, err := s.repo.WithTx(tx).Transition(ctx, jobID, Transition{
			From:        []enums.JobStatus{enums.JobStatusOpen},
			To:          enums.JobStatusExpired,
			FromPayment: []enums.PaymentStatus{enums.PaymentStatusPending},
		})
		if err != nil {
			return err
		}
		expired = job
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:   enums.EventJobExpired,
			AggregateID: job.ID,
			Data:        outbox.JobExpiredEvent{JobID: job.ID, PosterID: job.PosterID},
		})
	})
	if err != nil {
		return nil, err
	}
	s.logg.Info(s.logg.WithJobID(ctx, jobID.String()), "open job expired")
	return expired, nil
}

func (s *service) GetJob(ctx context.Context, actor auth.Actor, jobID uuid.UUID) (*models.InspectionJob, error) {
	if actor.IsZero() {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "actor identity missing")
	}
	job, err := s.repo.FindJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if !canView(actor, job) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "job not found")
	}
	return job, nil
}

// canView lets inspectors browse open jobs and otherwise limits a job to its
// two parties and admins.
func canView(actor auth.Actor, job *models.InspectionJob) bool {
	switch {
	case actor.IsAdmin(), actor.Is(job.PosterID):
		return true
	case job.AssignedInspectorID != nil && actor.Is(*job.AssignedInspectorID):
		return true
	case actor.Role == enums.RoleInspector && job.Status == enums.JobStatusOpen:
		return true
	}
	return false
}

func (s *service) ListBids(ctx context.Context, actor auth.Actor, jobID uuid.UUID) ([]models.InspectionBid, error) {
	job, err := s.GetJob(ctx, actor, jobID)
	if err != nil {
		return nil, err
	}
	bids, err := s.repo.ListBidsByJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if actor.IsAdmin() || actor.Is(job.PosterID) {
		return bids, nil
	}

	own := make([]models.InspectionBid, 0, 1)
	for _, bid := range bids {
		if actor.Is(bid.InspectorID) {
			own = append(own, bid)
		}
	}
	return own, nil
}

func (s *service) ListJobs(ctx context.Context, actor auth.Actor, filters JobFilters, params pagination.Params) (*JobList, error) {
	if actor.IsZero() {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "actor identity missing")
	}
	switch actor.Role {
	case enums.RoleAdmin:
	case enums.RolePoster:
		filters.PosterID = &actor.UserID
		filters.InspectorID = nil
	case enums.RoleInspector:
		filters.PosterID = nil
		if filters.Status == nil || *filters.Status != enums.JobStatusOpen {
			filters.InspectorID = &actor.UserID
		} else {
			filters.InspectorID = nil
		}
	default:
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "role not permitted for this action")
	}
	return s.repo.ListJobs(ctx, filters, params)
}

func (s *service) notify(ctx context.Context, userID uuid.UUID, kind enums.NotificationType, payload map[string]any) {
	if err := s.notifier.Notify(ctx, userID, kind, payload); err != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"notify_user_id":    userID.String(),
			"notification_type": string(kind),
		})
		s.logg.Warn(logCtx, "notification dispatch failed: "+err.Error())
	}
}

func derefUUID(id *uuid.UUID) uuid.UUID {
	if id == nil {
		return uuid.Nil
	}
	return *id
}

func derefTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}
