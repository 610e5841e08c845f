package escrow

import (
	"context"
	"io"
	"sync"
	"testing"

	"github.com/angelmondragon/inspectbid-backend/internal/accounts"
	"github.com/angelmondragon/inspectbid-backend/internal/fees"
	"github.com/angelmondragon/inspectbid-backend/internal/jobs"
	"github.com/angelmondragon/inspectbid-backend/pkg/auth"
	dbpkg "github.com/angelmondragon/inspectbid-backend/pkg/db"
	"github.com/angelmondragon/inspectbid-backend/pkg/db/dbtest"
	"github.com/angelmondragon/inspectbid-backend/pkg/db/models"
	"github.com/angelmondragon/inspectbid-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/inspectbid-backend/pkg/errors"
	"github.com/angelmondragon/inspectbid-backend/pkg/logger"
	"github.com/angelmondragon/inspectbid-backend/pkg/outbox"
	"github.com/angelmondragon/inspectbid-backend/pkg/payments/paymentstest"
	"github.com/google/uuid"
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
}

func (s *stubNotifier) Notify(_ context.Context, userID uuid.UUID, kind enums.NotificationType, _ any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, sentNotification{userID: userID, kind: kind})
	return nil
}

func (s *stubNotifier) count(userID uuid.UUID, kind enums.NotificationType) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, sent := range s.sent {
		if sent.userID == userID && sent.kind == kind {
			n++
		}
	}
	return n
}

type stubMetrics struct {
	mu       sync.Mutex
	opened   int
	orphans  int
	refunds  int
	failures int
	payouts  map[string]int
}

func (m *stubMetrics) IncCheckoutOpened()  { m.mu.Lock(); m.opened++; m.mu.Unlock() }
func (m *stubMetrics) IncOrphanPayment()   { m.mu.Lock(); m.orphans++; m.mu.Unlock() }
func (m *stubMetrics) IncRefundRequested() { m.mu.Lock(); m.refunds++; m.mu.Unlock() }
func (m *stubMetrics) IncRefundFailure()   { m.mu.Lock(); m.failures++; m.mu.Unlock() }
func (m *stubMetrics) IncPayout(outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.payouts == nil {
		m.payouts = map[string]int{}
	}
	m.payouts[outcome]++
}

type fixture struct {
	conn       *gorm.DB
	repo       jobs.Repository
	accounts   accounts.Repository
	gateway    *paymentstest.Gateway
	notifier   *stubNotifier
	metrics    *stubMetrics
	checkout   *CheckoutInitiator
	reconciler *Reconciler
	payouts    *PayoutService
	cancels    *CancellationCoordinator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	conn := dbtest.Open(t)
	logg := logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
	gateway := paymentstest.New()
	acctRepo := accounts.NewRepository(conn)
	acctSvc, err := accounts.NewService(accounts.ServiceParams{
		Repo:       acctRepo,
		Gateway:    gateway,
		Logger:     logg,
		ReturnURL:  "https://app.test/payouts/done",
		RefreshURL: "https://app.test/payouts/retry",
	})
	require.NoError(t, err)
	calc, err := fees.NewCalculator(1000)
	require.NoError(t, err)

	f := &fixture{
		conn:     conn,
		repo:     jobs.NewRepository(conn),
		accounts: acctRepo,
		gateway:  gateway,
		notifier: &stubNotifier{},
		metrics:  &stubMetrics{},
	}
	params := Params{
		Jobs:               f.repo,
		Accounts:           acctSvc,
		Gateway:            gateway,
		Calculator:         calc,
		Tx:                 dbpkg.NewFromConn(conn),
		Outbox:             outbox.NewService(outbox.NewRepository(conn), logg),
		Notifier:           f.notifier,
		Metrics:            f.metrics,
		Logger:             logg,
		CheckoutSuccessURL: "https://app.test/jobs/{JOB_ID}/paid",
		CheckoutCancelURL:  "https://app.test/jobs/{JOB_ID}",
	}
	f.checkout, err = NewCheckoutInitiator(params)
	require.NoError(t, err)
	f.reconciler, err = NewReconciler(params)
	require.NoError(t, err)
	f.payouts, err = NewPayoutService(params)
	require.NoError(t, err)
	f.cancels, err = NewCancellationCoordinator(params)
	require.NoError(t, err)
	return f
}

func (f *fixture) openJob(t *testing.T, budget int64) *models.InspectionJob {
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
	require.NoError(t, f.repo.CreateJob(context.Background(), job))
	return job
}

func (f *fixture) bid(t *testing.T, jobID uuid.UUID, price int64) *models.InspectionBid {
	t.Helper()
	bid := &models.InspectionBid{JobID: jobID, InspectorID: uuid.New(), ProposedPriceCents: price}
	require.NoError(t, f.repo.CreateBid(context.Background(), bid))
	return bid
}

func (f *fixture) confirm(t *testing.T, job *models.InspectionJob, bid *models.InspectionBid, ref string) Outcome {
	t.Helper()
	outcome, err := f.reconciler.HandleCheckoutConfirmed(context.Background(), CheckoutConfirmed{
		JobID:       job.ID,
		BidID:       bid.ID,
		PaymentRef:  ref,
		AmountCents: bid.ProposedPriceCents,
	})
	require.NoError(t, err)
	return outcome
}

func (f *fixture) complete(t *testing.T, jobID uuid.UUID) {
	t.Helper()
	_, err := f.repo.Transition(context.Background(), jobID, jobs.Transition{
		From:           []enums.JobStatus{enums.JobStatusAssigned, enums.JobStatusInProgress},
		To:             enums.JobStatusCompleted,
		FromPayment:    []enums.PaymentStatus{enums.PaymentStatusInEscrow},
		ToPayment:      enums.PaymentStatusReleased,
		StampCompleted: true,
	})
	require.NoError(t, err)
}

func (f *fixture) onboard(t *testing.T, inspectorID uuid.UUID) string {
	t.Helper()
	ref := "acct_" + inspectorID.String()[:8]
	require.NoError(t, f.accounts.SetPayoutAccount(context.Background(), inspectorID, ref))
	f.gateway.EnablePayouts(ref)
	return ref
}

func (f *fixture) job(t *testing.T, id uuid.UUID) *models.InspectionJob {
	t.Helper()
	job, err := f.repo.FindJob(context.Background(), id)
	require.NoError(t, err)
	return job
}

func (f *fixture) outboxTypes(t *testing.T, jobID uuid.UUID) []enums.OutboxEventType {
	t.Helper()
	var events []models.OutboxEvent
	require.NoError(t, f.conn.Where("aggregate_id = ?", jobID).Order("created_at ASC").Find(&events).Error)
	types := make([]enums.OutboxEventType, 0, len(events))
	for _, e := range events {
		types = append(types, e.EventType)
	}
	return types
}

func posterOf(job *models.InspectionJob) auth.Actor {
	return auth.Actor{UserID: job.PosterID, Role: enums.RolePoster}
}

func assertCode(t *testing.T, err error, code pkgerrors.Code) {
	t.Helper()
	require.Error(t, err)
	require.Equal(t, code, pkgerrors.As(err).Code(), err.Error())
}

func TestParamsRequireCollaborators(t *testing.T) {
	_, err := NewCheckoutInitiator(Params{})
	require.Error(t, err)
	_, err = NewReconciler(Params{})
	require.Error(t, err)
	_, err = NewPayoutService(Params{})
	require.Error(t, err)
	_, err = NewCancellationCoordinator(Params{})
	require.Error(t, err)
}
