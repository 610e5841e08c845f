package cron

import (
	"context"
	"fmt"

	"github.com/angelmondragon/inspectbid-backend/internal/escrow"
	"github.com/angelmondragon/inspectbid-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/inspectbid-backend/pkg/errors"
	"github.com/angelmondragon/inspectbid-backend/pkg/logger"
	"github.com/google/uuid"
	"go.uber.org/multierr"
)

const defaultPayoutBatch = 25

type payoutCandidateReader interface {
	ListPayoutRetryCandidates(ctx context.Context, limit int) ([]models.InspectionJob, error)
}

type payoutSettler interface {
	SettlePayout(ctx context.Context, jobID uuid.UUID) (escrow.PayoutOutcome, error)
}

type PayoutJobParams struct {
	Logger    *logger.Logger
	Jobs      payoutCandidateReader
	Settler   payoutSettler
	BatchSize int
}

// NewPayoutJob settles completed jobs whose payout has not gone out yet:
// first attempts, inspectors who finished onboarding, and failed transfers.
func NewPayoutJob(params PayoutJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Jobs == nil {
		return nil, fmt.Errorf("jobs repository required")
	}
	if params.Settler == nil {
		return nil, fmt.Errorf("payout settler required")
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultPayoutBatch
	}
	return &payoutJob{logg: params.Logger, jobs: params.Jobs, settler: params.Settler, batch: batch}, nil
}

type payoutJob struct {
	logg    *logger.Logger
	jobs    payoutCandidateReader
	settler payoutSettler
	batch   int
}

func (j *payoutJob) Name() string { return "payout-settlement" }

func (j *payoutJob) Run(ctx context.Context) error {
	candidates, err := j.jobs.ListPayoutRetryCandidates(ctx, j.batch)
	if err != nil {
		return fmt.Errorf("list payout candidates: %w", err)
	}

	counts := map[escrow.PayoutOutcome]int{}
	var errs error
	for _, job := range candidates {
		outcome, err := j.settler.SettlePayout(ctx, job.ID)
		if err != nil {
			// another worker or the API got there first
			if pkgerrors.IsCode(err, pkgerrors.CodeAlreadyInProgress) {
				continue
			}
			errs = multierr.Append(errs, fmt.Errorf("job %s: %w", job.ID, err))
			continue
		}
		counts[outcome]++
	}

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"candidates":         len(candidates),
		"paid":               counts[escrow.PayoutPaid],
		"pending_onboarding": counts[escrow.PayoutPendingOnboarding],
		"already_paid":       counts[escrow.PayoutAlreadyPaid],
		"failed":             len(multierr.Errors(errs)),
	})
	j.logg.Info(logCtx, "payout sweep complete")
	return errs
}
