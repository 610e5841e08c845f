package main

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/inspectbid-backend/internal/bootstrap"
	"github.com/angelmondragon/inspectbid-backend/internal/cron"
	"github.com/angelmondragon/inspectbid-backend/internal/escrow"
	"github.com/angelmondragon/inspectbid-backend/pkg/config"
	"github.com/angelmondragon/inspectbid-backend/pkg/metrics"
)

func main() {
	bootstrap.Main(bootstrap.Options{Service: "cron-worker", Redis: true}, work)
}

func work(ctx context.Context, rt *bootstrap.Runtime) error {
	graph, err := rt.Escrow(ctx, prometheus.DefaultRegisterer)
	if err != nil {
		return err
	}
	registry, err := schedule(rt, graph)
	if err != nil {
		return err
	}

	lock, err := cron.NewRedisLock(rt.Redis, rt.Redis.LockKey(lockName(rt.Config.App.Env)), rt.Config.Cron.LockTTL)
	if err != nil {
		return err
	}
	service, err := cron.NewService(cron.ServiceParams{
		Logger:     rt.Logger,
		Registry:   registry,
		Lock:       lock,
		Metrics:    metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
		Interval:   rt.Config.Cron.Interval,
		JobTimeout: rt.Config.Cron.JobTimeout,
	})
	if err != nil {
		return err
	}

	rt.Logger.Info(rt.Logger.WithField(ctx, "jobs", registry.Names()), "cron.starting")
	return service.Run(ctx)
}

// schedule builds every periodic job the worker owns.
func schedule(rt *bootstrap.Runtime, graph *bootstrap.Escrow) (*cron.Registry, error) {
	cfg := rt.Config.Cron
	settler, err := escrow.NewPayoutService(graph.Params)
	if err != nil {
		return nil, err
	}
	cancels, err := escrow.NewCancellationCoordinator(graph.Params)
	if err != nil {
		return nil, err
	}

	builders := []func() (cron.Job, error){
		func() (cron.Job, error) {
			return cron.NewPayoutJob(cron.PayoutJobParams{
				Logger:    rt.Logger,
				Jobs:      graph.JobsRepo,
				Settler:   settler,
				BatchSize: cfg.PayoutBatchSize,
			})
		},
		func() (cron.Job, error) {
			return cron.NewRefundRetryJob(cron.RefundRetryJobParams{
				Logger:    rt.Logger,
				Jobs:      graph.JobsRepo,
				Refunder:  cancels,
				BatchSize: cfg.RefundBatchSize,
			})
		},
		func() (cron.Job, error) {
			return cron.NewOpenJobExpiryJob(cron.OpenJobExpiryJobParams{
				Logger:  rt.Logger,
				Jobs:    graph.JobsRepo,
				Expirer: graph.Jobs,
				MaxAge:  cfg.OpenJobMaxAge,
			})
		},
		func() (cron.Job, error) {
			return cron.NewNotificationCleanupJob(cron.NotificationCleanupJobParams{
				Logger:          rt.Logger,
				Repository:      graph.NotificationsRepo,
				ReadRetention:   cfg.NotificationReadRetention,
				UnreadRetention: cfg.NotificationUnreadRetention,
			})
		},
		func() (cron.Job, error) {
			return cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
				Logger:      rt.Logger,
				Repository:  graph.OutboxRepo,
				Retention:   rt.Config.Outbox.Retention,
				MaxLag:      rt.Config.Outbox.MaxLag,
				MaxAttempts: rt.Config.Outbox.MaxAttempts,
			})
		},
	}

	registry := cron.NewRegistry()
	for _, build := range builders {
		job, err := build()
		if err != nil {
			return nil, err
		}
		if err := registry.Register(job); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

// lockName scopes the leader lock per deploy so staging and prod workers
// sharing a redis never block each other.
func lockName(appEnv string) string {
	if appEnv == "" {
		appEnv = config.AppEnvDev
	}
	return "cron-worker:" + appEnv
}
