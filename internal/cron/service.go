package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/angelmondragon/inspectbid-backend/pkg/logger"
	"github.com/angelmondragon/inspectbid-backend/pkg/metrics"
)

const defaultInterval = 5 * time.Minute

type ServiceParams struct {
	Logger   *logger.Logger
	Registry *Registry
	Lock     Lock
	Metrics  *metrics.CronJobMetrics
	Interval time.Duration
	// JobTimeout caps a single job. Zero leaves jobs bounded only by ctx.
	JobTimeout time.Duration
}

// Service runs the registered escrow sweeps on a ticker. Only the instance
// holding the lock runs a cycle, and the lease is renewed before every job.
type Service struct {
	ServiceParams
}

func NewService(params ServiceParams) (*Service, error) {
	switch {
	case params.Logger == nil:
		return nil, errors.New("logger required")
	case params.Lock == nil:
		return nil, errors.New("lock required")
	}
	if params.Registry == nil {
		params.Registry = NewRegistry()
	}
	if params.Interval <= 0 {
		params.Interval = defaultInterval
	}
	return &Service{ServiceParams: params}, nil
}

// Run starts a cycle immediately and then once per interval until ctx ends.
// A failed cycle is logged; the next tick tries again.
func (s *Service) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()
	for {
		if err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
			s.Logger.Error(ctx, "cron.cycle_failed", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunOnce executes a single locked cycle.
func (s *Service) RunOnce(ctx context.Context) error {
	held, err := s.Lock.Acquire(ctx)
	switch {
	case err != nil:
		return fmt.Errorf("lock acquire: %w", err)
	case !held:
		s.Logger.Debug(ctx, "cron.cycle_skipped")
		return nil
	}
	ctx = s.Logger.WithField(ctx, "cycle_id", uuid.NewString())
	defer s.release(ctx)

	var errs error
	ran, failed := 0, 0
	for _, job := range s.Registry.Jobs() {
		if err := s.keepLease(ctx); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("before %s: %w", job.Name(), err))
			break
		}
		ran++
		if err := s.runJob(ctx, job); err != nil {
			failed++
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", job.Name(), err))
		}
	}
	s.Logger.Info(s.Logger.WithFields(ctx, map[string]any{"jobs_run": ran, "jobs_failed": failed}), "cron.cycle_done")
	return errs
}

// keepLease stops the cycle once ctx ends or the lease moved to another
// worker, which may already be settling the same payouts.
func (s *Service) keepLease(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.Lock.Renew(ctx)
	if errors.Is(err, ErrLockLost) {
		s.Metrics.IncLockLost()
	}
	return err
}

func (s *Service) release(ctx context.Context) {
	if err := s.Lock.Release(context.WithoutCancel(ctx)); err != nil {
		s.Logger.Warn(s.Logger.WithField(ctx, "error", err.Error()), "cron.lock_release_failed")
	}
}

func (s *Service) runJob(ctx context.Context, job Job) error {
	ctx = s.Logger.WithField(ctx, "job", job.Name())
	if s.JobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.JobTimeout)
		defer cancel()
	}

	started := time.Now()
	err := job.Run(ctx)
	took := time.Since(started)
	s.Metrics.ObserveRun(job.Name(), took, err)

	ctx = s.Logger.WithField(ctx, "duration_ms", took.Milliseconds())
	if err != nil {
		s.Logger.Error(ctx, "cron.job_failed", err)
		return err
	}
	s.Logger.Info(ctx, "cron.job_done")
	return nil
}
