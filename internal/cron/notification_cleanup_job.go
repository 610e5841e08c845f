package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/inspectbid-backend/pkg/logger"
)

const (
	defaultReadRetention   = 30 * 24 * time.Hour
	defaultUnreadRetention = 180 * 24 * time.Hour
)

type NotificationCleanupJobParams struct {
	Logger     *logger.Logger
	Repository notificationPruner
	// ReadRetention keeps read rows this long after they were read.
	ReadRetention time.Duration
	// UnreadRetention is the hard cap for any row, read or not.
	UnreadRetention time.Duration
}

type notificationPruner interface {
	Prune(ctx context.Context, readBefore, createdBefore time.Time) (int64, error)
}

func NewNotificationCleanupJob(params NotificationCleanupJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Repository == nil {
		return nil, fmt.Errorf("notifications repository required")
	}
	read := orDefault(params.ReadRetention, defaultReadRetention)
	unread := orDefault(params.UnreadRetention, defaultUnreadRetention)
	if unread < read {
		return nil, fmt.Errorf("unread retention %s shorter than read retention %s", unread, read)
	}
	return &notificationCleanupJob{
		logg:   params.Logger,
		repo:   params.Repository,
		read:   read,
		unread: unread,
		now:    time.Now,
	}, nil
}

type notificationCleanupJob struct {
	logg   *logger.Logger
	repo   notificationPruner
	read   time.Duration
	unread time.Duration
	now    func() time.Time
}

func (j *notificationCleanupJob) Name() string { return "notification-cleanup" }

func (j *notificationCleanupJob) Run(ctx context.Context) error {
	now := j.now().UTC()
	readBefore, createdBefore := now.Add(-j.read), now.Add(-j.unread)
	deleted, err := j.repo.Prune(ctx, readBefore, createdBefore)
	if err != nil {
		return fmt.Errorf("prune notifications: %w", err)
	}
	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"read_before":    readBefore,
		"created_before": createdBefore,
		"rows_deleted":   deleted,
	}), "notification cleanup complete")
	return nil
}
