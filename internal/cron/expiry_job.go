package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/inspectbid-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/inspectbid-backend/pkg/errors"
	"github.com/angelmondragon/inspectbid-backend/pkg/logger"
	"github.com/google/uuid"
	"go.uber.org/multierr"
)

const (
	defaultOpenJobMaxAge = 30 * 24 * time.Hour
	expiryBatch          = 100
)

type staleJobReader interface {
	ListStaleOpenJobs(ctx context.Context, cutoff time.Time, limit int) ([]models.InspectionJob, error)
}

type jobExpirer interface {
	ExpireJob(ctx context.Context, jobID uuid.UUID) (*models.InspectionJob, error)
}

type OpenJobExpiryJobParams struct {
	Logger  *logger.Logger
	Jobs    staleJobReader
	Expirer jobExpirer
	MaxAge  time.Duration
}

// NewOpenJobExpiryJob expires open jobs that never took payment within MaxAge.
func NewOpenJobExpiryJob(params OpenJobExpiryJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Jobs == nil {
		return nil, fmt.Errorf("jobs repository required")
	}
	if params.Expirer == nil {
		return nil, fmt.Errorf("job expirer required")
	}
	maxAge := params.MaxAge
	if maxAge <= 0 {
		maxAge = defaultOpenJobMaxAge
	}
	return &openJobExpiryJob{
		logg:    params.Logger,
		jobs:    params.Jobs,
		expirer: params.Expirer,
		maxAge:  maxAge,
		now:     time.Now,
	}, nil
}

type openJobExpiryJob struct {
	logg    *logger.Logger
	jobs    staleJobReader
	expirer jobExpirer
	maxAge  time.Duration
	now     func() time.Time
}

func (j *openJobExpiryJob) Name() string { return "open-job-expiry" }

func (j *openJobExpiryJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.maxAge)
	stale, err := j.jobs.ListStaleOpenJobs(ctx, cutoff, expiryBatch)
	if err != nil {
		return fmt.Errorf("list stale jobs: %w", err)
	}

	expired := 0
	var errs error
	for _, job := range stale {
		if _, err := j.expirer.ExpireJob(ctx, job.ID); err != nil {
			// paid or cancelled since the read
			if pkgerrors.IsCode(err, pkgerrors.CodeInvalidState) {
				continue
			}
			errs = multierr.Append(errs, fmt.Errorf("job %s: %w", job.ID, err))
			continue
		}
		expired++
	}

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"cutoff":  cutoff,
		"stale":   len(stale),
		"expired": expired,
	})
	j.logg.Info(logCtx, "open job expiry complete")
	return errs
}
