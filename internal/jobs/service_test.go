package jobs

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/angelmondragon/inspectbid-backend/pkg/auth"
	dbpkg "github.com/angelmondragon/inspectbid-backend/pkg/db"
	"github.com/angelmondragon/inspectbid-backend/pkg/db/dbtest"
	"github.com/angelmondragon/inspectbid-backend/pkg/db/models"
	"github.com/angelmondragon/inspectbid-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/inspectbid-backend/pkg/errors"
	"github.com/angelmondragon/inspectbid-backend/pkg/logger"
	"github.com/angelmondragon/inspectbid-backend/pkg/outbox"
	"github.com/angelmondragon/inspectbid-backend/pkg/pagination"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type sentNotification struct {
	userID uuid.UUID
	kind   enums.NotificationType
}

type stubNotifier struct {
	mu   sync.Mutex
	sent []sentNotification
	err  error
}

func (s *stubNotifier) Notify(_ context.Context, userID uuid.UUID, kind enums.NotificationType, _ any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, sentNotification{userID: userID, kind: kind})
	return s.err
}

type serviceFixture struct {
	svc      Service
	repo     Repository
	conn     *gorm.DB
	notifier *stubNotifier
	poster   auth.Actor
	inspect  auth.Actor
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	conn := dbtest.Open(t)
	repo := NewRepository(conn)
	logg := logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
	notifier := &stubNotifier{}
	svc, err := NewService(repo, dbpkg.NewFromConn(conn), outbox.NewService(outbox.NewRepository(conn), logg), notifier, logg, "usd")
	require.NoError(t, err)
	return &serviceFixture{
		svc:      svc,
		repo:     repo,
		conn:     conn,
		notifier: notifier,
		poster:   auth.Actor{UserID: uuid.New(), Role: enums.RolePoster},
		inspect:  auth.Actor{UserID: uuid.New(), Role: enums.RoleInspector},
	}
}

func (f *serviceFixture) openJob(t *testing.T, budget int64) *models.InspectionJob {
	t.Helper()
	job, err := f.svc.CreateJob(context.Background(), f.poster, CreateJobInput{
		PropertyAddress: "12 Elm St",
		PropertyCity:    "Austin",
		PropertyState:   "TX",
		PropertyZip:     "78701",
		BudgetCents:     budget,
		Publish:         true,
	})
	require.NoError(t, err)
	return job
}

func TestNewServiceValidatesDependencies(t *testing.T) {
	_, err := NewService(nil, nil, nil, nil, nil, "")
	require.Error(t, err)
}

func TestServiceCreateJobRequiresPoster(t *testing.T) {
	f := newServiceFixture(t)
	_, err := f.svc.CreateJob(context.Background(), f.inspect, CreateJobInput{BudgetCents: 100})
	assertCode(t, err, pkgerrors.CodeForbidden)

	_, err = f.svc.CreateJob(context.Background(), auth.Actor{}, CreateJobInput{BudgetCents: 100})
	assertCode(t, err, pkgerrors.CodeUnauthorized)

	job := f.openJob(t, 60000)
	assert.Equal(t, "usd", job.Currency)
	assert.Equal(t, enums.JobStatusOpen, job.Status)
	assert.Equal(t, f.poster.UserID, job.PosterID)
}

func TestServicePublishDraft(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	job, err := f.svc.CreateJob(ctx, f.poster, CreateJobInput{
		PropertyAddress: "12 Elm St",
		PropertyCity:    "Austin",
		PropertyState:   "TX",
		PropertyZip:     "78701",
		BudgetCents:     60000,
	})
	require.NoError(t, err)
	assert.Equal(t, enums.JobStatusDraft, job.Status)

	stranger := auth.Actor{UserID: uuid.New(), Role: enums.RolePoster}
	_, err = f.svc.PublishJob(ctx, stranger, job.ID)
	assertCode(t, err, pkgerrors.CodeForbidden)

	published, err := f.svc.PublishJob(ctx, f.poster, job.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.JobStatusOpen, published.Status)
}

func TestServiceCreateBidNotifiesPoster(t *testing.T) {
	f := newServiceFixture(t)
	job := f.openJob(t, 60000)

	bid, err := f.svc.CreateBid(context.Background(), f.inspect, job.ID, CreateBidInput{ProposedPriceCents: 50000})
	require.NoError(t, err)
	assert.Equal(t, f.inspect.UserID, bid.InspectorID)

	require.Len(t, f.notifier.sent, 1)
	assert.Equal(t, f.poster.UserID, f.notifier.sent[0].userID)
	assert.Equal(t, enums.NotificationBidReceived, f.notifier.sent[0].kind)

	_, err = f.svc.CreateBid(context.Background(), f.poster, job.ID, CreateBidInput{ProposedPriceCents: 100})
	assertCode(t, err, pkgerrors.CodeForbidden)
}

func TestServiceNotificationFailureDoesNotFailBid(t *testing.T) {
	f := newServiceFixture(t)
	f.notifier.err = errors.New("dispatcher down")
	job := f.openJob(t, 60000)

	_, err := f.svc.CreateBid(context.Background(), f.inspect, job.ID, CreateBidInput{ProposedPriceCents: 50000})
	require.NoError(t, err)
}

func TestServiceWithdrawBidOwnership(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	job := f.openJob(t, 60000)
	bid, err := f.svc.CreateBid(ctx, f.inspect, job.ID, CreateBidInput{ProposedPriceCents: 50000})
	require.NoError(t, err)

	other := auth.Actor{UserID: uuid.New(), Role: enums.RoleInspector}
	_, err = f.svc.WithdrawBid(ctx, other, bid.ID)
	assertCode(t, err, pkgerrors.CodeForbidden)

	withdrawn, err := f.svc.WithdrawBid(ctx, f.inspect, bid.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.BidStatusWithdrawn, withdrawn.Status)
}

func TestServiceFullLifecycleEmitsCompletion(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	job := f.openJob(t, 60000)
	bid, err := f.svc.CreateBid(ctx, f.inspect, job.ID, CreateBidInput{ProposedPriceCents: 50000})
	require.NoError(t, err)

	_, err = f.repo.AcceptBid(ctx, acceptInput(job, bid, "pi_life"))
	require.NoError(t, err)

	_, err = f.svc.ApproveReport(ctx, f.poster, job.ID)
	assertCode(t, err, pkgerrors.CodeInvalidState)

	stranger := auth.Actor{UserID: uuid.New(), Role: enums.RoleInspector}
	_, err = f.svc.StartInspection(ctx, stranger, job.ID)
	assertCode(t, err, pkgerrors.CodeForbidden)

	started, err := f.svc.StartInspection(ctx, f.inspect, job.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.JobStatusInProgress, started.Status)

	submitted, err := f.svc.SubmitReport(ctx, f.inspect, job.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.JobStatusPendingReview, submitted.Status)

	completed, err := f.svc.ApproveReport(ctx, f.poster, job.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.JobStatusCompleted, completed.Status)
	assert.Equal(t, enums.PaymentStatusReleased, completed.PaymentStatus)
	assert.NotNil(t, completed.CompletedAt)

	var events []models.OutboxEvent
	require.NoError(t, f.conn.Where("aggregate_id = ?", job.ID).Find(&events).Error)
	require.Len(t, events, 1)
	assert.Equal(t, enums.EventJobCompleted, events[0].EventType)
}

func TestServiceVisibility(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	job := f.openJob(t, 60000)

	// inspectors may browse open jobs
	_, err := f.svc.GetJob(ctx, f.inspect, job.ID)
	require.NoError(t, err)

	_, err = f.svc.CreateBid(ctx, f.inspect, job.ID, CreateBidInput{ProposedPriceCents: 50000})
	require.NoError(t, err)
	rival := auth.Actor{UserID: uuid.New(), Role: enums.RoleInspector}
	_, err = f.svc.CreateBid(ctx, rival, job.ID, CreateBidInput{ProposedPriceCents: 52000})
	require.NoError(t, err)

	bids, err := f.svc.ListBids(ctx, f.inspect, job.ID)
	require.NoError(t, err)
	require.Len(t, bids, 1)
	assert.Equal(t, f.inspect.UserID, bids[0].InspectorID)

	all, err := f.svc.ListBids(ctx, f.poster, job.ID)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	_, err = f.repo.CancelJob(ctx, job.ID)
	require.NoError(t, err)
	_, err = f.svc.GetJob(ctx, f.inspect, job.ID)
	assertCode(t, err, pkgerrors.CodeNotFound)
}

func TestServiceListJobsScopesPosters(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	f.openJob(t, 60000)

	other := auth.Actor{UserID: uuid.New(), Role: enums.RolePoster}
	list, err := f.svc.ListJobs(ctx, other, JobFilters{PosterID: &f.poster.UserID}, pagination.Params{})
	require.NoError(t, err)
	assert.Empty(t, list.Jobs)

	list, err = f.svc.ListJobs(ctx, f.poster, JobFilters{}, pagination.Params{})
	require.NoError(t, err)
	assert.Len(t, list.Jobs, 1)

	open := enums.JobStatusOpen
	list, err = f.svc.ListJobs(ctx, f.inspect, JobFilters{Status: &open}, pagination.Params{})
	require.NoError(t, err)
	assert.Len(t, list.Jobs, 1)
}
