package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/angelmondragon/inspectbid-backend/internal/fees"
	"github.com/angelmondragon/inspectbid-backend/pkg/db/dbtest"
	"github.com/angelmondragon/inspectbid-backend/pkg/db/models"
	"github.com/angelmondragon/inspectbid-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/inspectbid-backend/pkg/errors"
	"github.com/angelmondragon/inspectbid-backend/pkg/pagination"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newTestRepo(t *testing.T) (*repository, *gorm.DB) {
	t.Helper()
	conn := dbtest.Open(t)
	repo := NewRepository(conn).(*repository)
	return repo, conn
}

func seedOpenJob(t *testing.T, repo Repository, budget int64) *models.InspectionJob {
	t.Helper()
	job := &models.InspectionJob{
		PosterID:        uuid.New(),
		PropertyAddress: "12 Elm St",
		PropertyCity:    "Austin",
		PropertyState:   "TX",
		PropertyZip:     "78701",
		BudgetCents:     budget,
		Currency:        "usd",
		Status:          enums.JobStatusOpen,
	}
	require.NoError(t, repo.CreateJob(context.Background(), job))
	return job
}

func seedBid(t *testing.T, repo Repository, jobID uuid.UUID, price int64) *models.InspectionBid {
	t.Helper()
	bid := &models.InspectionBid{
		JobID:              jobID,
		InspectorID:        uuid.New(),
		ProposedPriceCents: price,
	}
	require.NoError(t, repo.CreateBid(context.Background(), bid))
	return bid
}

func acceptInput(job *models.InspectionJob, bid *models.InspectionBid, ref string) AcceptBidInput {
	calc, _ := fees.NewCalculator(1000)
	split, _ := calc.Split(bid.ProposedPriceCents)
	return AcceptBidInput{JobID: job.ID, BidID: bid.ID, PaymentReference: ref, Split: split}
}

func assertCode(t *testing.T, err error, code pkgerrors.Code) {
	t.Helper()
	require.Error(t, err)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed, "expected typed error, got %v", err)
	assert.Equal(t, code, typed.Code())
}

func TestCreateJobValidation(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	err := repo.CreateJob(ctx, &models.InspectionJob{PosterID: uuid.New(), BudgetCents: 0, Currency: "usd"})
	assertCode(t, err, pkgerrors.CodeValidation)

	err = repo.CreateJob(ctx, &models.InspectionJob{
		PosterID:        uuid.New(),
		BudgetCents:     10000,
		PropertyAddress: "12 Elm St",
		Currency:        "usd",
	})
	assertCode(t, err, pkgerrors.CodeValidation)
	details, ok := pkgerrors.As(err).Details().(map[string]any)
	require.True(t, ok)
	assert.ElementsMatch(t, []string{"property_city", "property_state", "property_zip"}, details["missing"])

	job := seedOpenJob(t, repo, 60000)
	assert.NotEqual(t, uuid.Nil, job.ID)
	assert.Equal(t, enums.PaymentStatusPending, job.PaymentStatus)
	assert.Equal(t, enums.PayoutStatusNone, job.PayoutStatus)
	assert.Equal(t, enums.UrgencyStandard, job.Urgency)
}

func TestCreateBidRejectsOverBudget(t *testing.T) {
	repo, _ := newTestRepo(t)
	job := seedOpenJob(t, repo, 60000)

	err := repo.CreateBid(context.Background(), &models.InspectionBid{
		JobID:              job.ID,
		InspectorID:        uuid.New(),
		ProposedPriceCents: 65000,
	})
	assertCode(t, err, pkgerrors.CodeBudgetExceeded)
}

func TestCreateBidRequiresOpenJob(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	draft := &models.InspectionJob{
		PosterID:        uuid.New(),
		PropertyAddress: "1 Main",
		PropertyCity:    "Austin",
		PropertyState:   "TX",
		PropertyZip:     "78701",
		BudgetCents:     60000,
		Currency:        "usd",
	}
	require.NoError(t, repo.CreateJob(ctx, draft))
	assert.Equal(t, enums.JobStatusDraft, draft.Status)

	err := repo.CreateBid(ctx, &models.InspectionBid{JobID: draft.ID, InspectorID: uuid.New(), ProposedPriceCents: 100})
	assertCode(t, err, pkgerrors.CodeNotOpen)
}

func TestCreateBidOnePendingPerInspector(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()
	job := seedOpenJob(t, repo, 60000)
	first := seedBid(t, repo, job.ID, 50000)

	err := repo.CreateBid(ctx, &models.InspectionBid{
		JobID:              job.ID,
		InspectorID:        first.InspectorID,
		ProposedPriceCents: 40000,
	})
	assertCode(t, err, pkgerrors.CodeConflict)

	_, err = repo.WithdrawBid(ctx, first.ID)
	require.NoError(t, err)
	require.NoError(t, repo.CreateBid(ctx, &models.InspectionBid{
		JobID:              job.ID,
		InspectorID:        first.InspectorID,
		ProposedPriceCents: 40000,
	}))
}

func TestAcceptBidSettlesCompetitorsAndRecordsEscrow(t *testing.T) {
	repo, conn := newTestRepo(t)
	ctx := context.Background()

	job := seedOpenJob(t, repo, 60000)
	winner := seedBid(t, repo, job.ID, 50000)
	loser := seedBid(t, repo, job.ID, 55000)

	result, err := repo.AcceptBid(ctx, acceptInput(job, winner, "pi_123"))
	require.NoError(t, err)

	assert.Equal(t, enums.JobStatusAssigned, result.Job.Status)
	assert.Equal(t, enums.PaymentStatusInEscrow, result.Job.PaymentStatus)
	require.NotNil(t, result.Job.AssignedInspectorID)
	assert.Equal(t, winner.InspectorID, *result.Job.AssignedInspectorID)
	require.NotNil(t, result.Job.AgreedPriceCents)
	assert.Equal(t, int64(50000), *result.Job.AgreedPriceCents)
	require.NotNil(t, result.Job.ProviderPaymentReference)
	assert.Equal(t, "pi_123", *result.Job.ProviderPaymentReference)

	require.Len(t, result.DeclinedBids, 1)
	assert.Equal(t, loser.ID, result.DeclinedBids[0].ID)

	storedLoser, err := repo.FindBid(ctx, loser.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.BidStatusDeclined, storedLoser.Status)
	storedWinner, err := repo.FindBid(ctx, winner.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.BidStatusAccepted, storedWinner.Status)

	payment, err := repo.FindPaymentByJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(50000), payment.GrossCents)
	assert.Equal(t, int64(5000), payment.PlatformFeeCents)
	assert.Equal(t, int64(45000), payment.NetCents)
	assert.Equal(t, payment.GrossCents, payment.PlatformFeeCents+payment.NetCents)
	assert.Equal(t, enums.EscrowStatusHeld, payment.Status)
	assert.Equal(t, job.PosterID, payment.PayerID)
	assert.Equal(t, winner.InspectorID, payment.PayeeID)

	var accepted int64
	require.NoError(t, conn.Model(&models.InspectionBid{}).
		Where("job_id = ? AND status = ?", job.ID, enums.BidStatusAccepted).
		Count(&accepted).Error)
	assert.Equal(t, int64(1), accepted)
}

func TestAcceptBidReplayIsConflictWithoutSideEffects(t *testing.T) {
	repo, conn := newTestRepo(t)
	ctx := context.Background()

	job := seedOpenJob(t, repo, 60000)
	winner := seedBid(t, repo, job.ID, 50000)
	other := seedBid(t, repo, job.ID, 55000)

	_, err := repo.AcceptBid(ctx, acceptInput(job, winner, "pi_123"))
	require.NoError(t, err)

	_, err = repo.AcceptBid(ctx, acceptInput(job, winner, "pi_123"))
	assertCode(t, err, pkgerrors.CodeConflict)

	// a racing confirmation for the losing bid must not produce a second acceptance
	_, err = repo.AcceptBid(ctx, acceptInput(job, other, "pi_456"))
	assertCode(t, err, pkgerrors.CodeConflict)

	var payments, accepted int64
	require.NoError(t, conn.Model(&models.EscrowPayment{}).Where("job_id = ?", job.ID).Count(&payments).Error)
	require.NoError(t, conn.Model(&models.InspectionBid{}).
		Where("job_id = ? AND status = ?", job.ID, enums.BidStatusAccepted).
		Count(&accepted).Error)
	assert.Equal(t, int64(1), payments)
	assert.Equal(t, int64(1), accepted)
}

func TestAcceptBidRollsBackOnFailure(t *testing.T) {
	repo, conn := newTestRepo(t)
	ctx := context.Background()

	first := seedOpenJob(t, repo, 60000)
	firstBid := seedBid(t, repo, first.ID, 50000)
	_, err := repo.AcceptBid(ctx, acceptInput(first, firstBid, "pi_dup"))
	require.NoError(t, err)

	second := seedOpenJob(t, repo, 60000)
	secondBid := seedBid(t, repo, second.ID, 40000)
	competitor := seedBid(t, repo, second.ID, 45000)

	// reusing a payment reference trips the unique index after every other write
	_, err = repo.AcceptBid(ctx, acceptInput(second, secondBid, "pi_dup"))
	assertCode(t, err, pkgerrors.CodeConflict)

	reloaded, err := repo.FindJob(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.JobStatusOpen, reloaded.Status)
	assert.Equal(t, enums.PaymentStatusPending, reloaded.PaymentStatus)
	assert.Nil(t, reloaded.AssignedInspectorID)

	for _, id := range []uuid.UUID{secondBid.ID, competitor.ID} {
		bid, err := repo.FindBid(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, enums.BidStatusPending, bid.Status)
	}

	var payments int64
	require.NoError(t, conn.Model(&models.EscrowPayment{}).Where("job_id = ?", second.ID).Count(&payments).Error)
	assert.Zero(t, payments)
}

func TestAcceptBidRejectsMismatchedAmount(t *testing.T) {
	repo, _ := newTestRepo(t)
	job := seedOpenJob(t, repo, 60000)
	bid := seedBid(t, repo, job.ID, 50000)

	input := acceptInput(job, bid, "pi_1")
	input.Split = fees.Split{Gross: 40000, PlatformFee: 4000, PayeeShare: 36000}
	_, err := repo.AcceptBid(context.Background(), input)
	assertCode(t, err, pkgerrors.CodeValidation)

	input.Split = fees.Split{Gross: 50000, PlatformFee: 5000, PayeeShare: 44000}
	_, err = repo.AcceptBid(context.Background(), input)
	assertCode(t, err, pkgerrors.CodeValidation)
}

func TestAcceptBidRejectsForeignCurrency(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()
	job := seedOpenJob(t, repo, 60000)
	bid := seedBid(t, repo, job.ID, 50000)

	input := acceptInput(job, bid, "pi_gbp")
	input.Currency = "gbp"
	_, err := repo.AcceptBid(ctx, input)
	assertCode(t, err, pkgerrors.CodeValidation)

	current, err := repo.FindJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.JobStatusOpen, current.Status)
}

func TestMarkRefunded(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	job := seedOpenJob(t, repo, 60000)
	bid := seedBid(t, repo, job.ID, 50000)
	_, err := repo.AcceptBid(ctx, acceptInput(job, bid, "pi_r"))
	require.NoError(t, err)

	prior, err := repo.CancelJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.JobStatusAssigned, prior.Status)

	updated, err := repo.MarkRefunded(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusRefunded, updated.PaymentStatus)
	assert.Equal(t, enums.JobStatusCancelled, updated.Status)

	payment, err := repo.FindPaymentByJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.EscrowStatusRefunded, payment.Status)
	assert.NotNil(t, payment.RefundedAt)

	_, err = repo.MarkRefunded(ctx, job.ID)
	assertCode(t, err, pkgerrors.CodeInvalidState)
}

func TestMarkRefundedCancelsJobRefundedAtProvider(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	job := seedOpenJob(t, repo, 60000)
	bid := seedBid(t, repo, job.ID, 50000)
	_, err := repo.AcceptBid(ctx, acceptInput(job, bid, "pi_ext"))
	require.NoError(t, err)

	updated, err := repo.MarkRefunded(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.JobStatusCancelled, updated.Status)
	assert.Nil(t, updated.AssignedInspectorID)
	assert.NotNil(t, updated.CancelledAt)
}

func TestCancelJob(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()
	job := seedOpenJob(t, repo, 60000)

	prior, err := repo.CancelJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.JobStatusOpen, prior.Status)

	_, err = repo.CancelJob(ctx, job.ID)
	assertCode(t, err, pkgerrors.CodeInvalidState)

	_, err = repo.CancelJob(ctx, uuid.New())
	assertCode(t, err, pkgerrors.CodeNotFound)
}

func TestRefundDueTracksUnrequestedRefunds(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	open := seedOpenJob(t, repo, 60000)
	assertCode(t, repo.SetRefundDue(ctx, open.ID, true), pkgerrors.CodeInvalidState)

	job := seedOpenJob(t, repo, 60000)
	bid := seedBid(t, repo, job.ID, 50000)
	_, err := repo.AcceptBid(ctx, acceptInput(job, bid, "pi_due"))
	require.NoError(t, err)
	_, err = repo.CancelJob(ctx, job.ID)
	require.NoError(t, err)
	require.NoError(t, repo.SetRefundDue(ctx, job.ID, true))

	due, err := repo.ListRefundRetryCandidates(ctx, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, job.ID, due[0].ID)

	updated, err := repo.MarkRefunded(ctx, job.ID)
	require.NoError(t, err)
	assert.False(t, updated.RefundDue)

	due, err = repo.ListRefundRetryCandidates(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, due)
	// clearing is a no-op once nothing is owed
	require.NoError(t, repo.SetRefundDue(ctx, job.ID, false))
}

func completeJob(t *testing.T, repo Repository, job *models.InspectionJob) {
	t.Helper()
	ctx := context.Background()
	_, err := repo.Transition(ctx, job.ID, Transition{
		From: []enums.JobStatus{enums.JobStatusAssigned},
		To:   enums.JobStatusPendingReview,
	})
	require.NoError(t, err)
	_, err = repo.Transition(ctx, job.ID, Transition{
		From:           []enums.JobStatus{enums.JobStatusPendingReview},
		To:             enums.JobStatusCompleted,
		FromPayment:    []enums.PaymentStatus{enums.PaymentStatusInEscrow},
		ToPayment:      enums.PaymentStatusReleased,
		StampCompleted: true,
	})
	require.NoError(t, err)
}

func TestClaimPayoutIsExclusive(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	job := seedOpenJob(t, repo, 60000)
	bid := seedBid(t, repo, job.ID, 50000)
	_, err := repo.AcceptBid(ctx, acceptInput(job, bid, "pi_p"))
	require.NoError(t, err)

	_, claimed, err := repo.ClaimPayout(ctx, job.ID)
	require.NoError(t, err)
	assert.False(t, claimed, "assigned jobs are not eligible")

	completeJob(t, repo, job)

	claimedJob, claimed, err := repo.ClaimPayout(ctx, job.ID)
	require.NoError(t, err)
	assert.True(t, claimed)
	assert.Equal(t, enums.PayoutStatusProcessing, claimedJob.PayoutStatus)
	assert.Equal(t, 1, claimedJob.PayoutAttempts)

	_, claimed, err = repo.ClaimPayout(ctx, job.ID)
	require.NoError(t, err)
	assert.False(t, claimed)
}

func TestMarkPayoutStatus(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	job := seedOpenJob(t, repo, 60000)
	bid := seedBid(t, repo, job.ID, 50000)
	_, err := repo.AcceptBid(ctx, acceptInput(job, bid, "pi_m"))
	require.NoError(t, err)

	ref := "tr_1"
	_, err = repo.MarkPayoutStatus(ctx, job.ID, enums.PayoutStatusPaid, &ref)
	assertCode(t, err, pkgerrors.CodeInvalidState)

	completeJob(t, repo, job)

	_, err = repo.MarkPayoutStatus(ctx, job.ID, enums.PayoutStatusPaid, nil)
	assertCode(t, err, pkgerrors.CodeValidation)

	changed, err := repo.MarkPayoutStatus(ctx, job.ID, enums.PayoutStatusPendingOnboarding, nil)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = repo.MarkPayoutStatus(ctx, job.ID, enums.PayoutStatusPaid, &ref)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = repo.MarkPayoutStatus(ctx, job.ID, enums.PayoutStatusPaid, &ref)
	require.NoError(t, err)
	assert.False(t, changed, "replay is a no-op")

	other := "tr_2"
	_, err = repo.MarkPayoutStatus(ctx, job.ID, enums.PayoutStatusPaid, &other)
	assertCode(t, err, pkgerrors.CodeConflict)

	stored, err := repo.FindJob(ctx, job.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.ProviderTransferReference)
	assert.Equal(t, ref, *stored.ProviderTransferReference)

	payment, err := repo.FindPaymentByJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.EscrowStatusReleased, payment.Status)
	assert.NotNil(t, payment.ReleasedAt)
}

func TestTransitionRejectsWrongState(t *testing.T) {
	repo, _ := newTestRepo(t)
	job := seedOpenJob(t, repo, 60000)

	_, err := repo.Transition(context.Background(), job.ID, Transition{
		From: []enums.JobStatus{enums.JobStatusAssigned},
		To:   enums.JobStatusInProgress,
	})
	assertCode(t, err, pkgerrors.CodeInvalidState)
}

func TestUpdateBudgetKeepsLiveBidsWithinCeiling(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()
	job := seedOpenJob(t, repo, 60000)
	seedBid(t, repo, job.ID, 50000)

	_, err := repo.UpdateBudget(ctx, job.ID, 45000)
	assertCode(t, err, pkgerrors.CodeBudgetExceeded)

	updated, err := repo.UpdateBudget(ctx, job.ID, 50000)
	require.NoError(t, err)
	assert.Equal(t, int64(50000), updated.BudgetCents)
}

func TestDeclineBid(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()
	job := seedOpenJob(t, repo, 60000)
	bid := seedBid(t, repo, job.ID, 50000)

	_, err := repo.DeclineBid(ctx, uuid.New(), bid.ID)
	assertCode(t, err, pkgerrors.CodeNotFound)

	declined, err := repo.DeclineBid(ctx, job.ID, bid.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.BidStatusDeclined, declined.Status)

	_, err = repo.DeclineBid(ctx, job.ID, bid.ID)
	assertCode(t, err, pkgerrors.CodeInvalidState)
}

func TestListJobsPaginates(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()
	poster := uuid.New()

	base := time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		job := &models.InspectionJob{
			PosterID:        poster,
			PropertyAddress: "1 Main",
			PropertyCity:    "Austin",
			PropertyState:   "TX",
			PropertyZip:     "78701",
			BudgetCents:     10000,
			Currency:        "usd",
			Status:          enums.JobStatusOpen,
			CreatedAt:       base.Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, repo.CreateJob(ctx, job))
	}
	seedOpenJob(t, repo, 10000)

	page, err := repo.ListJobs(ctx, JobFilters{PosterID: &poster}, pagination.Params{Limit: 2})
	require.NoError(t, err)
	require.Len(t, page.Jobs, 2)
	assert.NotEmpty(t, page.NextCursor)
	assert.True(t, page.Jobs[0].CreatedAt.After(page.Jobs[1].CreatedAt))

	next, err := repo.ListJobs(ctx, JobFilters{PosterID: &poster}, pagination.Params{Limit: 2, Cursor: page.NextCursor})
	require.NoError(t, err)
	require.Len(t, next.Jobs, 1)
	assert.Empty(t, next.NextCursor)

	_, err = repo.ListJobs(ctx, JobFilters{}, pagination.Params{Cursor: "%%%"})
	assertCode(t, err, pkgerrors.CodeValidation)
}

func TestListStaleOpenJobs(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	old := &models.InspectionJob{
		PosterID:        uuid.New(),
		PropertyAddress: "1 Main",
		PropertyCity:    "Austin",
		PropertyState:   "TX",
		PropertyZip:     "78701",
		BudgetCents:     10000,
		Currency:        "usd",
		Status:          enums.JobStatusOpen,
		CreatedAt:       time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, repo.CreateJob(ctx, old))
	fresh := seedOpenJob(t, repo, 10000)

	rows, err := repo.ListStaleOpenJobs(ctx, time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC), 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, old.ID, rows[0].ID)
	assert.NotEqual(t, fresh.ID, rows[0].ID)
}
