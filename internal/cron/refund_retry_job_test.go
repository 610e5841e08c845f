package cron

import (
	"context"
	"errors"
	"testing"

	"github.com/angelmondragon/inspectbid-backend/pkg/db/models"
	"github.com/angelmondragon/inspectbid-backend/pkg/logger"
	"github.com/google/uuid"
	"go.uber.org/multierr"
)

type fakeRefundReader struct {
	jobs      []models.InspectionJob
	err       error
	lastLimit int
}

func (f *fakeRefundReader) ListRefundRetryCandidates(_ context.Context, limit int) ([]models.InspectionJob, error) {
	f.lastLimit = limit
	return f.jobs, f.err
}

type fakeRefunder struct {
	failing map[uuid.UUID]error
	calls   []uuid.UUID
}

func (f *fakeRefunder) RetryRefund(_ context.Context, jobID uuid.UUID) (bool, error) {
	f.calls = append(f.calls, jobID)
	if err := f.failing[jobID]; err != nil {
		return false, err
	}
	return true, nil
}

func TestRefundRetryJobKeepsGoingPastFailures(t *testing.T) {
	a, b, c := uuid.New(), uuid.New(), uuid.New()
	reader := &fakeRefundReader{jobs: []models.InspectionJob{{ID: a}, {ID: b}, {ID: c}}}
	refunds := &fakeRefunder{failing: map[uuid.UUID]error{a: errors.New("provider down")}}
	job, err := NewRefundRetryJob(RefundRetryJobParams{
		Logger:    logger.New(logger.Options{ServiceName: "test"}),
		Jobs:      reader,
		Refunder:  refunds,
		BatchSize: 7,
	})
	if err != nil {
		t.Fatalf("NewRefundRetryJob: %v", err)
	}
	if job.Name() != "refund-retry" {
		t.Fatalf("unexpected name %q", job.Name())
	}

	err = job.Run(context.Background())
	if got := len(multierr.Errors(err)); got != 1 {
		t.Fatalf("expected 1 aggregated error, got %d (%v)", got, err)
	}
	if len(refunds.calls) != 3 {
		t.Fatalf("expected 3 refund calls, got %d", len(refunds.calls))
	}
	if reader.lastLimit != 7 {
		t.Fatalf("expected batch 7, got %d", reader.lastLimit)
	}
}

func TestRefundRetryJobPropagatesListError(t *testing.T) {
	job, err := NewRefundRetryJob(RefundRetryJobParams{
		Logger:   logger.New(logger.Options{ServiceName: "test"}),
		Jobs:     &fakeRefundReader{err: errors.New("db down")},
		Refunder: &fakeRefunder{},
	})
	if err != nil {
		t.Fatalf("NewRefundRetryJob: %v", err)
	}
	if err := job.Run(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func TestNewRefundRetryJobRequiresRefunder(t *testing.T) {
	_, err := NewRefundRetryJob(RefundRetryJobParams{
		Logger: logger.New(logger.Options{ServiceName: "test"}),
		Jobs:   &fakeRefundReader{},
	})
	if err == nil {
		t.Fatal("expected error")
	}
}
