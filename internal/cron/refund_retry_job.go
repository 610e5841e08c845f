package cron

import (
	"context"
	"fmt"

	"github.com/angelmondragon/inspectbid-backend/pkg/db/models"
	"github.com/angelmondragon/inspectbid-backend/pkg/logger"
	"github.com/google/uuid"
	"go.uber.org/multierr"
)

const defaultRefundBatch = 25

type refundCandidateReader interface {
	ListRefundRetryCandidates(ctx context.Context, limit int) ([]models.InspectionJob, error)
}

type refunder interface {
	RetryRefund(ctx context.Context, jobID uuid.UUID) (bool, error)
}

type RefundRetryJobParams struct {
	Logger    *logger.Logger
	Jobs      refundCandidateReader
	Refunder  refunder
	BatchSize int
}

// NewRefundRetryJob re-requests refunds for cancelled jobs whose refund the
// provider rejected at cancel time.
func NewRefundRetryJob(params RefundRetryJobParams) (Job, error) {
	switch {
	case params.Logger == nil:
		return nil, fmt.Errorf("logger required")
	case params.Jobs == nil:
		return nil, fmt.Errorf("jobs repository required")
	case params.Refunder == nil:
		return nil, fmt.Errorf("refunder required")
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultRefundBatch
	}
	return &refundRetryJob{logg: params.Logger, jobs: params.Jobs, refunder: params.Refunder, batch: batch}, nil
}

type refundRetryJob struct {
	logg     *logger.Logger
	jobs     refundCandidateReader
	refunder refunder
	batch    int
}

func (j *refundRetryJob) Name() string { return "refund-retry" }

func (j *refundRetryJob) Run(ctx context.Context) error {
	due, err := j.jobs.ListRefundRetryCandidates(ctx, j.batch)
	if err != nil {
		return fmt.Errorf("list refund candidates: %w", err)
	}
	if len(due) == 0 {
		return nil
	}

	requested := 0
	var errs error
	for _, job := range due {
		ok, err := j.refunder.RetryRefund(ctx, job.ID)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("job %s: %w", job.ID, err))
			continue
		}
		if ok {
			requested++
		}
	}

	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"candidates": len(due),
		"requested":  requested,
		"failed":     len(multierr.Errors(errs)),
	}), "refund retry sweep complete")
	return errs
}
