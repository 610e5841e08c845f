package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/angelmondragon/inspectbid-backend/pkg/logger"
	"github.com/angelmondragon/inspectbid-backend/pkg/outbox"
)

const (
	defaultOutboxRetention = 14 * 24 * time.Hour
	// defaultPublishLag is how old the oldest undelivered event may get before
	// the publisher is presumed stuck.
	defaultPublishLag = 15 * time.Minute
)

type OutboxRetentionJobParams struct {
	Logger      *logger.Logger
	Repository  outboxMaintainer
	Retention   time.Duration
	MaxLag      time.Duration
	MaxAttempts int
}

type outboxMaintainer interface {
	PruneDelivered(ctx context.Context, cutoff time.Time) (int64, error)
	Backlog(ctx context.Context, maxAttempts int) (outbox.Backlog, error)
}

// NewOutboxRetentionJob prunes delivered outbox rows and reports the
// undelivered backlog: parked rows raise an alert, a stale head warns.
func NewOutboxRetentionJob(params OutboxRetentionJobParams) (Job, error) {
	switch {
	case params.Logger == nil:
		return nil, errors.New("logger required")
	case params.Repository == nil:
		return nil, errors.New("outbox repository required")
	case params.MaxAttempts <= 0:
		return nil, errors.New("outbox max attempts required")
	}
	job := &outboxRetentionJob{
		logg:        params.Logger,
		repo:        params.Repository,
		keep:        orDefault(params.Retention, defaultOutboxRetention),
		maxLag:      orDefault(params.MaxLag, defaultPublishLag),
		maxAttempts: params.MaxAttempts,
		now:         time.Now,
	}
	return job, nil
}

func orDefault(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return d
}

type outboxRetentionJob struct {
	logg        *logger.Logger
	repo        outboxMaintainer
	keep        time.Duration
	maxLag      time.Duration
	maxAttempts int
	now         func() time.Time
}

func (j *outboxRetentionJob) Name() string { return "outbox-retention" }

func (j *outboxRetentionJob) Run(ctx context.Context) error {
	now := j.now().UTC()
	cutoff := now.Add(-j.keep)
	deleted, err := j.repo.PruneDelivered(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("prune delivered outbox rows: %w", err)
	}
	backlog, err := j.repo.Backlog(ctx, j.maxAttempts)
	if err != nil {
		return fmt.Errorf("read outbox backlog: %w", err)
	}

	fields := map[string]any{
		"cutoff":       cutoff,
		"rows_deleted": deleted,
		"rows_pending": backlog.Pending,
		"rows_parked":  backlog.Parked,
	}
	var lag time.Duration
	if backlog.OldestPending != nil {
		lag = now.Sub(*backlog.OldestPending)
		fields["publish_lag_s"] = int64(lag.Seconds())
	}
	ctx = j.logg.WithFields(ctx, fields)

	if backlog.Parked > 0 {
		j.logg.Alert(ctx, "outbox has parked escrow events awaiting replay", nil)
	}
	if lag > j.maxLag {
		j.logg.Warn(ctx, "outbox publisher is behind")
	}
	j.logg.Info(ctx, "outbox retention cleanup complete")
	return nil
}
