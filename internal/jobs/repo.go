package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	dbpkg "github.com/angelmondragon/inspectbid-backend/pkg/db"
	"github.com/angelmondragon/inspectbid-backend/pkg/db/models"
	"github.com/angelmondragon/inspectbid-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/inspectbid-backend/pkg/errors"
	"github.com/angelmondragon/inspectbid-backend/pkg/pagination"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repository struct {
	db  *gorm.DB
	now func() time.Time
}

// NewRepository builds a jobs repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db, now: func() time.Time { return time.Now().UTC() }}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx, now: r.now}
}

// inTx nests as a savepoint when the repository is already bound to a transaction.
func (r *repository) inTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return r.db.WithContext(ctx).Transaction(fn)
}

func lockJob(tx *gorm.DB, jobID uuid.UUID) (*models.InspectionJob, error) {
	var job models.InspectionJob
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", jobID).
		Take(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "job not found")
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func takeJob(tx *gorm.DB, jobID uuid.UUID) (*models.InspectionJob, error) {
	var job models.InspectionJob
	if err := tx.Where("id = ?", jobID).Take(&job).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "job not found")
		}
		return nil, err
	}
	return &job, nil
}

func takeBid(tx *gorm.DB, bidID uuid.UUID) (*models.InspectionBid, error) {
	var bid models.InspectionBid
	if err := tx.Where("id = ?", bidID).Take(&bid).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "bid not found")
		}
		return nil, err
	}
	return &bid, nil
}

func stateDetails(job *models.InspectionJob) map[string]any {
	return map[string]any{
		"status":         job.Status,
		"payment_status": job.PaymentStatus,
		"payout_status":  job.PayoutStatus,
	}
}

func (r *repository) CreateJob(ctx context.Context, job *models.InspectionJob) error {
	if job == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "job required")
	}
	if err := validateNewJob(job); err != nil {
		return err
	}

	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	if job.Status == "" {
		job.Status = enums.JobStatusDraft
	}
	if job.Urgency == "" {
		job.Urgency = enums.UrgencyStandard
	}
	job.PaymentStatus = enums.PaymentStatusPending
	job.PayoutStatus = enums.PayoutStatusNone
	job.AssignedInspectorID = nil
	job.AgreedPriceCents = nil
	job.AgreedDate = nil
	job.ProviderPaymentReference = nil
	job.ProviderTransferReference = nil
	job.PayoutAttempts = 0

	return r.db.WithContext(ctx).Create(job).Error
}

func validateNewJob(job *models.InspectionJob) error {
	if job.BudgetCents <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "budget must be greater than zero")
	}

	job.PropertyAddress = strings.TrimSpace(job.PropertyAddress)
	job.PropertyCity = strings.TrimSpace(job.PropertyCity)
	job.PropertyState = strings.TrimSpace(job.PropertyState)
	job.PropertyZip = strings.TrimSpace(job.PropertyZip)
	job.Currency = strings.ToLower(strings.TrimSpace(job.Currency))

	var missing []string
	for field, value := range map[string]string{
		"property_address": job.PropertyAddress,
		"property_city":    job.PropertyCity,
		"property_state":   job.PropertyState,
		"property_zip":     job.PropertyZip,
		"currency":         job.Currency,
	} {
		if value == "" {
			missing = append(missing, field)
		}
	}
	if len(missing) > 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "required location fields missing").
			WithDetails(map[string]any{"missing": missing})
	}
	if job.PosterID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "poster id required")
	}
	if job.Status != "" && job.Status != enums.JobStatusDraft && job.Status != enums.JobStatusOpen {
		return pkgerrors.New(pkgerrors.CodeValidation, "new jobs start as draft or open")
	}
	if job.Urgency != "" && !job.Urgency.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, "invalid urgency")
	}
	return nil
}

func (r *repository) CreateBid(ctx context.Context, bid *models.InspectionBid) error {
	if bid == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "bid required")
	}
	if bid.ProposedPriceCents <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "proposed price must be greater than zero")
	}
	if bid.InspectorID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "inspector id required")
	}

	return r.inTx(ctx, func(tx *gorm.DB) error {
		job, err := lockJob(tx, bid.JobID)
		if err != nil {
			return err
		}
		if job.Status != enums.JobStatusOpen {
			return pkgerrors.New(pkgerrors.CodeNotOpen, "job is not open for bids").WithDetails(stateDetails(job))
		}
		if bid.ProposedPriceCents > job.BudgetCents {
			return pkgerrors.New(pkgerrors.CodeBudgetExceeded, "proposed price exceeds job budget").
				WithDetails(map[string]any{
					"budget_cents":         job.BudgetCents,
					"proposed_price_cents": bid.ProposedPriceCents,
				})
		}

		if bid.ID == uuid.Nil {
			bid.ID = uuid.New()
		}
		bid.Status = enums.BidStatusPending
		if err := tx.Create(bid).Error; err != nil {
			if dbpkg.IsUniqueViolation(err, "") {
				return pkgerrors.New(pkgerrors.CodeConflict, "inspector already has a pending bid on this job")
			}
			return err
		}
		return nil
	})
}

// AcceptBid is the escrow acceptance transaction. It either writes all of
// accepted bid, declined competitors, assigned job and escrow record, or
// nothing. A ConflictError means the job or bid already moved on.
func (r *repository) AcceptBid(ctx context.Context, input AcceptBidInput) (*AcceptResult, error) {
	if strings.TrimSpace(input.PaymentReference) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment reference required")
	}
	split := input.Split
	if split.Gross <= 0 || split.PlatformFee < 0 || split.PayeeShare < 0 || split.PlatformFee+split.PayeeShare != split.Gross {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "fee split does not reconstruct gross amount")
	}

	var result *AcceptResult
	err := r.inTx(ctx, func(tx *gorm.DB) error {
		job, err := lockJob(tx, input.JobID)
		if err != nil {
			return err
		}
		if job.Status != enums.JobStatusOpen || job.PaymentStatus != enums.PaymentStatusPending {
			return pkgerrors.New(pkgerrors.CodeConflict, "job is no longer open for acceptance").WithDetails(stateDetails(job))
		}
		if input.Currency != "" && !strings.EqualFold(input.Currency, job.Currency) {
			return pkgerrors.New(pkgerrors.CodeValidation, "paid currency does not match job currency").
				WithDetails(map[string]any{"job_currency": job.Currency, "paid_currency": input.Currency})
		}

		bid, err := takeBid(tx, input.BidID)
		if err != nil {
			if pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
				return pkgerrors.New(pkgerrors.CodeConflict, "bid not found")
			}
			return err
		}
		if bid.JobID != job.ID {
			return pkgerrors.New(pkgerrors.CodeConflict, "bid does not belong to job")
		}
		if bid.Status != enums.BidStatusPending {
			return pkgerrors.New(pkgerrors.CodeConflict, "bid is no longer pending").
				WithDetails(map[string]any{"bid_status": bid.Status})
		}
		if bid.ProposedPriceCents != split.Gross {
			return pkgerrors.New(pkgerrors.CodeValidation, "paid amount does not match bid price").
				WithDetails(map[string]any{"bid_price_cents": bid.ProposedPriceCents, "gross_cents": split.Gross})
		}

		now := r.now()
		res := tx.Model(&models.InspectionBid{}).
			Where("id = ? AND status = ?", bid.ID, enums.BidStatusPending).
			Update("status", enums.BidStatusAccepted)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != 1 {
			return pkgerrors.New(pkgerrors.CodeConflict, "bid is no longer pending")
		}
		bid.Status = enums.BidStatusAccepted

		var declined []models.InspectionBid
		if err := tx.Where("job_id = ? AND status = ? AND id <> ?", job.ID, enums.BidStatusPending, bid.ID).
			Order("created_at ASC").
			Find(&declined).Error; err != nil {
			return err
		}
		if len(declined) > 0 {
			if err := tx.Model(&models.InspectionBid{}).
				Where("job_id = ? AND status = ? AND id <> ?", job.ID, enums.BidStatusPending, bid.ID).
				Update("status", enums.BidStatusDeclined).Error; err != nil {
				return err
			}
			for i := range declined {
				declined[i].Status = enums.BidStatusDeclined
			}
		}

		res = tx.Model(&models.InspectionJob{}).
			Where("id = ? AND status = ? AND payment_status = ?", job.ID, enums.JobStatusOpen, enums.PaymentStatusPending).
			Updates(map[string]any{
				"status":                     enums.JobStatusAssigned,
				"payment_status":             enums.PaymentStatusInEscrow,
				"assigned_inspector_id":      bid.InspectorID,
				"agreed_price_cents":         bid.ProposedPriceCents,
				"agreed_date":                bid.ProposedDate,
				"provider_payment_reference": input.PaymentReference,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != 1 {
			return pkgerrors.New(pkgerrors.CodeConflict, "job is no longer open for acceptance")
		}

		paidAt := input.PaidAt
		if paidAt.IsZero() {
			paidAt = now
		}
		payment := &models.EscrowPayment{
			ID:                       uuid.New(),
			JobID:                    job.ID,
			PayerID:                  job.PosterID,
			PayeeID:                  bid.InspectorID,
			GrossCents:               split.Gross,
			PlatformFeeCents:         split.PlatformFee,
			NetCents:                 split.PayeeShare,
			Currency:                 job.Currency,
			Status:                   enums.EscrowStatusHeld,
			ProviderPaymentReference: input.PaymentReference,
			PaidAt:                   paidAt,
		}
		if err := tx.Create(payment).Error; err != nil {
			switch kind, constraint := dbpkg.Violation(err); kind {
			case dbpkg.UniqueViolation:
				return pkgerrors.New(pkgerrors.CodeConflict, "escrow payment already recorded")
			case dbpkg.CheckViolation:
				// the split disagrees with the schema; nothing was written
				return pkgerrors.Wrap(pkgerrors.CodeInvalidState, err, "escrow payment rejected").
					WithDetails(map[string]any{"constraint": constraint})
			}
			return err
		}

		updated, err := takeJob(tx, job.ID)
		if err != nil {
			return err
		}
		result = &AcceptResult{
			Job:          updated,
			AcceptedBid:  bid,
			DeclinedBids: declined,
			Payment:      payment,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// MarkRefunded records a provider-confirmed refund. A job that was not
// cancelled through the platform (refund issued at the provider) is cancelled
// here so payment state never runs ahead of job state.
func (r *repository) MarkRefunded(ctx context.Context, jobID uuid.UUID) (*models.InspectionJob, error) {
	var updated *models.InspectionJob
	err := r.inTx(ctx, func(tx *gorm.DB) error {
		job, err := lockJob(tx, jobID)
		if err != nil {
			return err
		}
		if job.PaymentStatus != enums.PaymentStatusInEscrow {
			return pkgerrors.New(pkgerrors.CodeInvalidState, "payment is not held in escrow").WithDetails(stateDetails(job))
		}

		now := r.now()
		updates := map[string]any{"payment_status": enums.PaymentStatusRefunded, "refund_due": false}
		if job.Status != enums.JobStatusCancelled {
			updates["status"] = enums.JobStatusCancelled
			updates["cancelled_at"] = now
			updates["assigned_inspector_id"] = nil
		}
		res := tx.Model(&models.InspectionJob{}).
			Where("id = ? AND payment_status = ?", jobID, enums.PaymentStatusInEscrow).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != 1 {
			return pkgerrors.New(pkgerrors.CodeInvalidState, "payment is not held in escrow")
		}

		res = tx.Model(&models.EscrowPayment{}).
			Where("job_id = ? AND status = ?", jobID, enums.EscrowStatusHeld).
			Updates(map[string]any{
				"status":      enums.EscrowStatusRefunded,
				"refunded_at": now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != 1 {
			return fmt.Errorf("escrow payment for job %s is not held", jobID)
		}

		updated, err = takeJob(tx, jobID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// payoutTransitions lists, per target status, the statuses it may be entered
// from. processing is only entered through ClaimPayout.
var payoutTransitions = map[enums.PayoutStatus][]enums.PayoutStatus{
	enums.PayoutStatusPendingOnboarding: {enums.PayoutStatusNone, enums.PayoutStatusFailed},
	enums.PayoutStatusFailed:            {enums.PayoutStatusProcessing},
	enums.PayoutStatusPaid: {
		enums.PayoutStatusNone,
		enums.PayoutStatusPendingOnboarding,
		enums.PayoutStatusProcessing,
		enums.PayoutStatusFailed,
	},
}

// MarkPayoutStatus moves the payout axis. It reports false when the job
// already carries the requested status, which makes replays no-ops. Marking
// paid also releases the escrow record.
func (r *repository) MarkPayoutStatus(ctx context.Context, jobID uuid.UUID, status enums.PayoutStatus, transferRef *string) (bool, error) {
	allowedFrom, ok := payoutTransitions[status]
	if !ok {
		return false, pkgerrors.New(pkgerrors.CodeValidation, "unsupported payout status").
			WithDetails(map[string]any{"payout_status": status})
	}
	if status == enums.PayoutStatusPaid && (transferRef == nil || strings.TrimSpace(*transferRef) == "") {
		return false, pkgerrors.New(pkgerrors.CodeValidation, "transfer reference required to mark paid")
	}

	changed := false
	err := r.inTx(ctx, func(tx *gorm.DB) error {
		job, err := lockJob(tx, jobID)
		if err != nil {
			return err
		}

		if job.PayoutStatus == status {
			if status == enums.PayoutStatusPaid && job.ProviderTransferReference != nil && *job.ProviderTransferReference != *transferRef {
				return pkgerrors.New(pkgerrors.CodeConflict, "job already paid out under a different transfer").
					WithDetails(map[string]any{"transfer_reference": *job.ProviderTransferReference})
			}
			return nil
		}
		if !containsPayout(allowedFrom, job.PayoutStatus) {
			return pkgerrors.New(pkgerrors.CodeInvalidState, "payout status transition not allowed").
				WithDetails(map[string]any{"from": job.PayoutStatus, "to": status})
		}
		if status == enums.PayoutStatusPaid && job.PaymentStatus != enums.PaymentStatusReleased {
			return pkgerrors.New(pkgerrors.CodeInvalidState, "escrow has not been released").WithDetails(stateDetails(job))
		}

		updates := map[string]any{"payout_status": status}
		if status == enums.PayoutStatusPaid {
			updates["provider_transfer_reference"] = *transferRef
		}
		res := tx.Model(&models.InspectionJob{}).
			Where("id = ? AND payout_status = ?", jobID, job.PayoutStatus).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != 1 {
			return pkgerrors.New(pkgerrors.CodeConflict, "payout status changed concurrently")
		}

		if status == enums.PayoutStatusPaid {
			res = tx.Model(&models.EscrowPayment{}).
				Where("job_id = ? AND status = ?", jobID, enums.EscrowStatusHeld).
				Updates(map[string]any{
					"status":                      enums.EscrowStatusReleased,
					"released_at":                 r.now(),
					"provider_transfer_reference": *transferRef,
				})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected != 1 {
				return fmt.Errorf("escrow payment for job %s is not held", jobID)
			}
		}

		changed = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return changed, nil
}

func containsPayout(list []enums.PayoutStatus, s enums.PayoutStatus) bool {
	for _, candidate := range list {
		if candidate == s {
			return true
		}
	}
	return false
}

// ClaimPayout atomically moves a settled job into payout processing and bumps
// its attempt counter. claimed is false when another caller got there first or
// the job is not eligible; the returned job shows why.
func (r *repository) ClaimPayout(ctx context.Context, jobID uuid.UUID) (*models.InspectionJob, bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.InspectionJob{}).
		Where("id = ? AND status = ? AND payment_status = ? AND payout_status IN ?",
			jobID, enums.JobStatusCompleted, enums.PaymentStatusReleased, enums.Claimable).
		Updates(map[string]any{
			"payout_status":   enums.PayoutStatusProcessing,
			"payout_attempts": gorm.Expr("payout_attempts + 1"),
		})
	if res.Error != nil {
		return nil, false, res.Error
	}

	job, err := takeJob(r.db.WithContext(ctx), jobID)
	if err != nil {
		return nil, false, err
	}
	return job, res.RowsAffected == 1, nil
}

// CancelJob moves a job to cancelled and returns the job as it was before.
func (r *repository) CancelJob(ctx context.Context, jobID uuid.UUID) (*models.InspectionJob, error) {
	var prior *models.InspectionJob
	err := r.inTx(ctx, func(tx *gorm.DB) error {
		job, err := lockJob(tx, jobID)
		if err != nil {
			return err
		}
		if job.Status == enums.JobStatusCancelled {
			return pkgerrors.New(pkgerrors.CodeInvalidState, "job is already cancelled").WithDetails(stateDetails(job))
		}
		if !job.Status.Cancellable() {
			return pkgerrors.New(pkgerrors.CodeInvalidState, "job can no longer be cancelled").WithDetails(stateDetails(job))
		}

		res := tx.Model(&models.InspectionJob{}).
			Where("id = ? AND status = ?", jobID, job.Status).
			Updates(map[string]any{
				"status":                enums.JobStatusCancelled,
				"cancelled_at":          r.now(),
				"assigned_inspector_id": nil,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != 1 {
			return pkgerrors.New(pkgerrors.CodeInvalidState, "job status changed concurrently")
		}
		prior = job
		return nil
	})
	if err != nil {
		return nil, err
	}
	return prior, nil
}

// SetRefundDue marks whether a cancelled job still owes its poster a refund
// request. Only cancelled jobs holding escrow can owe one.
func (r *repository) SetRefundDue(ctx context.Context, jobID uuid.UUID, due bool) error {
	res := r.db.WithContext(ctx).
		Model(&models.InspectionJob{}).
		Where("id = ? AND status = ? AND payment_status = ?", jobID, enums.JobStatusCancelled, enums.PaymentStatusInEscrow).
		Update("refund_due", due)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 && due {
		return pkgerrors.New(pkgerrors.CodeInvalidState, "only a cancelled job holding escrow can owe a refund")
	}
	return nil
}

func (r *repository) Transition(ctx context.Context, jobID uuid.UUID, t Transition) (*models.InspectionJob, error) {
	if len(t.From) == 0 || !t.To.IsValid() {
		return nil, fmt.Errorf("invalid job transition")
	}

	var updated *models.InspectionJob
	err := r.inTx(ctx, func(tx *gorm.DB) error {
		job, err := lockJob(tx, jobID)
		if err != nil {
			return err
		}
		if !containsJobStatus(t.From, job.Status) {
			return pkgerrors.New(pkgerrors.CodeInvalidState, fmt.Sprintf("job cannot move to %s", t.To)).WithDetails(stateDetails(job))
		}
		if len(t.FromPayment) > 0 && !containsPaymentStatus(t.FromPayment, job.PaymentStatus) {
			return pkgerrors.New(pkgerrors.CodeInvalidState, fmt.Sprintf("job cannot move to %s", t.To)).WithDetails(stateDetails(job))
		}

		updates := map[string]any{"status": t.To}
		if t.ToPayment != "" {
			updates["payment_status"] = t.ToPayment
		}
		if t.StampCompleted {
			updates["completed_at"] = r.now()
		}
		if !t.To.HasInspector() && job.AssignedInspectorID != nil {
			updates["assigned_inspector_id"] = nil
		}

		res := tx.Model(&models.InspectionJob{}).
			Where("id = ? AND status = ? AND payment_status = ?", jobID, job.Status, job.PaymentStatus).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != 1 {
			return pkgerrors.New(pkgerrors.CodeInvalidState, "job status changed concurrently")
		}

		updated, err = takeJob(tx, jobID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func containsJobStatus(list []enums.JobStatus, s enums.JobStatus) bool {
	for _, candidate := range list {
		if candidate == s {
			return true
		}
	}
	return false
}

func containsPaymentStatus(list []enums.PaymentStatus, s enums.PaymentStatus) bool {
	for _, candidate := range list {
		if candidate == s {
			return true
		}
	}
	return false
}

// UpdateBudget changes the ceiling of a draft or open job. The ceiling never
// drops below a pending or accepted bid, so every live bid stays within budget.
func (r *repository) UpdateBudget(ctx context.Context, jobID uuid.UUID, budgetCents int64) (*models.InspectionJob, error) {
	if budgetCents <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "budget must be greater than zero")
	}

	var updated *models.InspectionJob
	err := r.inTx(ctx, func(tx *gorm.DB) error {
		job, err := lockJob(tx, jobID)
		if err != nil {
			return err
		}
		if job.Status != enums.JobStatusDraft && job.Status != enums.JobStatusOpen {
			return pkgerrors.New(pkgerrors.CodeInvalidState, "budget can only change before a bid is accepted").WithDetails(stateDetails(job))
		}

		var highest int64
		if err := tx.Model(&models.InspectionBid{}).
			Select("COALESCE(MAX(proposed_price_cents), 0)").
			Where("job_id = ? AND status IN ?", jobID, []enums.BidStatus{enums.BidStatusPending, enums.BidStatusAccepted}).
			Scan(&highest).Error; err != nil {
			return err
		}
		if budgetCents < highest {
			return pkgerrors.New(pkgerrors.CodeBudgetExceeded, "budget cannot drop below an active bid").
				WithDetails(map[string]any{"highest_bid_cents": highest})
		}

		if err := tx.Model(&models.InspectionJob{}).
			Where("id = ?", jobID).
			Update("budget_cents", budgetCents).Error; err != nil {
			return err
		}
		updated, err = takeJob(tx, jobID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (r *repository) DeclineBid(ctx context.Context, jobID, bidID uuid.UUID) (*models.InspectionBid, error) {
	var updated *models.InspectionBid
	err := r.inTx(ctx, func(tx *gorm.DB) error {
		job, err := lockJob(tx, jobID)
		if err != nil {
			return err
		}
		if job.Status != enums.JobStatusOpen {
			return pkgerrors.New(pkgerrors.CodeNotOpen, "bids can only be declined while the job is open").WithDetails(stateDetails(job))
		}
		bid, err := takeBid(tx, bidID)
		if err != nil {
			return err
		}
		if bid.JobID != jobID {
			return pkgerrors.New(pkgerrors.CodeNotFound, "bid not found")
		}
		updated, err = setPendingBidStatus(tx, bid, enums.BidStatusDeclined)
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (r *repository) WithdrawBid(ctx context.Context, bidID uuid.UUID) (*models.InspectionBid, error) {
	var updated *models.InspectionBid
	err := r.inTx(ctx, func(tx *gorm.DB) error {
		bid, err := takeBid(tx, bidID)
		if err != nil {
			return err
		}
		if _, err := lockJob(tx, bid.JobID); err != nil {
			return err
		}
		// re-read under the job lock
		bid, err = takeBid(tx, bidID)
		if err != nil {
			return err
		}
		updated, err = setPendingBidStatus(tx, bid, enums.BidStatusWithdrawn)
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func setPendingBidStatus(tx *gorm.DB, bid *models.InspectionBid, status enums.BidStatus) (*models.InspectionBid, error) {
	if bid.Status != enums.BidStatusPending {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidState, "only pending bids can change").
			WithDetails(map[string]any{"bid_status": bid.Status})
	}
	res := tx.Model(&models.InspectionBid{}).
		Where("id = ? AND status = ?", bid.ID, enums.BidStatusPending).
		Update("status", status)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected != 1 {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidState, "bid changed concurrently")
	}
	return takeBid(tx, bid.ID)
}

func (r *repository) FindJob(ctx context.Context, id uuid.UUID) (*models.InspectionJob, error) {
	return takeJob(r.db.WithContext(ctx), id)
}

func (r *repository) FindJobByPaymentReference(ctx context.Context, ref string) (*models.InspectionJob, error) {
	var job models.InspectionJob
	err := r.db.WithContext(ctx).
		Where("provider_payment_reference = ?", ref).
		Take(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "job not found for payment reference")
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (r *repository) FindBid(ctx context.Context, id uuid.UUID) (*models.InspectionBid, error) {
	return takeBid(r.db.WithContext(ctx), id)
}

func (r *repository) FindPaymentByJob(ctx context.Context, jobID uuid.UUID) (*models.EscrowPayment, error) {
	var payment models.EscrowPayment
	err := r.db.WithContext(ctx).Where("job_id = ?", jobID).Take(&payment).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "escrow payment not found")
	}
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

func (r *repository) ListBidsByJob(ctx context.Context, jobID uuid.UUID) ([]models.InspectionBid, error) {
	var bids []models.InspectionBid
	err := r.db.WithContext(ctx).
		Where("job_id = ?", jobID).
		Order("created_at ASC, id ASC").
		Find(&bids).Error
	return bids, err
}

func (r *repository) ListPendingBids(ctx context.Context, jobID uuid.UUID) ([]models.InspectionBid, error) {
	var bids []models.InspectionBid
	err := r.db.WithContext(ctx).
		Where("job_id = ? AND status = ?", jobID, enums.BidStatusPending).
		Order("created_at ASC, id ASC").
		Find(&bids).Error
	return bids, err
}

func (r *repository) ListJobs(ctx context.Context, filters JobFilters, params pagination.Params) (*JobList, error) {
	query := r.db.WithContext(ctx).Model(&models.InspectionJob{})
	if filters.Status != nil {
		query = query.Where("status = ?", *filters.Status)
	}
	if filters.PosterID != nil {
		query = query.Where("poster_id = ?", *filters.PosterID)
	}
	if filters.InspectorID != nil {
		query = query.Where("assigned_inspector_id = ?", *filters.InspectorID)
	}
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	if cursor != nil {
		query = query.Where("(created_at < ?) OR (created_at = ? AND id < ?)", cursor.CreatedAt, cursor.CreatedAt, cursor.ID)
	}

	var rows []models.InspectionJob
	if err := query.Order("created_at DESC, id DESC").Limit(pagination.LimitWithBuffer(params.Limit)).Find(&rows).Error; err != nil {
		return nil, err
	}

	page, next := pagination.Trim(rows, params.Limit, func(job models.InspectionJob) pagination.Cursor {
		return pagination.Cursor{CreatedAt: job.CreatedAt, ID: job.ID}
	})
	return &JobList{Jobs: page, NextCursor: next}, nil
}

// ListPayoutRetryCandidates returns settled jobs whose payout has not gone out.
// Jobs stuck in processing are left for an operator.
func (r *repository) ListPayoutRetryCandidates(ctx context.Context, limit int) ([]models.InspectionJob, error) {
	var rows []models.InspectionJob
	err := r.db.WithContext(ctx).
		Where("status = ? AND payment_status = ? AND payout_status IN ?",
			enums.JobStatusCompleted, enums.PaymentStatusReleased, enums.Claimable).
		Order("completed_at ASC, id ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// ListRefundRetryCandidates returns cancelled jobs whose refund request the
// provider never accepted.
func (r *repository) ListRefundRetryCandidates(ctx context.Context, limit int) ([]models.InspectionJob, error) {
	var rows []models.InspectionJob
	err := r.db.WithContext(ctx).
		Where("refund_due = ? AND status = ? AND payment_status = ?",
			true, enums.JobStatusCancelled, enums.PaymentStatusInEscrow).
		Order("cancelled_at ASC, id ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// ListStaleOpenJobs returns unpaid open jobs created before cutoff.
func (r *repository) ListStaleOpenJobs(ctx context.Context, cutoff time.Time, limit int) ([]models.InspectionJob, error) {
	var rows []models.InspectionJob
	err := r.db.WithContext(ctx).
		Where("status = ? AND payment_status = ? AND created_at < ?",
			enums.JobStatusOpen, enums.PaymentStatusPending, cutoff).
		Order("created_at ASC, id ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}
