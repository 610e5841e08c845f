package bootstrap

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/inspectbid-backend/internal/accounts"
	"github.com/angelmondragon/inspectbid-backend/internal/escrow"
	"github.com/angelmondragon/inspectbid-backend/internal/fees"
	"github.com/angelmondragon/inspectbid-backend/internal/jobs"
	"github.com/angelmondragon/inspectbid-backend/internal/notifications"
	"github.com/angelmondragon/inspectbid-backend/pkg/metrics"
	"github.com/angelmondragon/inspectbid-backend/pkg/outbox"
	"github.com/angelmondragon/inspectbid-backend/pkg/stripe"
)

// Escrow is the service graph shared by the api and the cron worker.
type Escrow struct {
	Stripe  *stripe.Client
	Metrics *metrics.EscrowMetrics

	OutboxRepo        *outbox.Repository
	NotificationsRepo notifications.Repository
	JobsRepo          jobs.Repository

	Notifications notifications.Service
	Accounts      accounts.Service
	Jobs          jobs.Service

	// Params feeds the escrow constructors.
	Params escrow.Params
}

func (rt *Runtime) Escrow(ctx context.Context, reg prometheus.Registerer) (*Escrow, error) {
	cfg, logg, conn := rt.Config, rt.Logger, rt.DB.DB()

	client, err := stripe.NewClient(ctx, cfg.Stripe, logg)
	if err != nil {
		return nil, err
	}
	gateway, err := stripe.NewGateway(client)
	if err != nil {
		return nil, err
	}
	calculator, err := fees.NewCalculator(cfg.Escrow.FeeBasisPoints)
	if err != nil {
		return nil, fmt.Errorf("fee calculator: %w", err)
	}

	g := &Escrow{
		Stripe:            client,
		Metrics:           metrics.NewEscrowMetrics(reg),
		OutboxRepo:        outbox.NewRepository(conn),
		NotificationsRepo: notifications.NewRepository(conn),
		JobsRepo:          jobs.NewRepository(conn),
	}
	outboxService := outbox.NewService(g.OutboxRepo, logg)

	if g.Notifications, err = notifications.NewService(g.NotificationsRepo); err != nil {
		return nil, err
	}
	g.Accounts, err = accounts.NewService(accounts.ServiceParams{
		Repo:       accounts.NewRepository(conn),
		Gateway:    gateway,
		Logger:     logg,
		ReturnURL:  cfg.Escrow.OnboardingReturnURL,
		RefreshURL: cfg.Escrow.OnboardingRefreshURL,
	})
	if err != nil {
		return nil, fmt.Errorf("accounts: %w", err)
	}
	g.Jobs, err = jobs.NewService(g.JobsRepo, rt.DB, outboxService, g.Notifications, logg, cfg.Escrow.Currency)
	if err != nil {
		return nil, fmt.Errorf("jobs: %w", err)
	}

	g.Params = escrow.Params{
		Jobs:               g.JobsRepo,
		Accounts:           g.Accounts,
		Gateway:            gateway,
		Calculator:         calculator,
		Tx:                 rt.DB,
		Outbox:             outboxService,
		Notifier:           g.Notifications,
		Metrics:            g.Metrics,
		Logger:             logg,
		CheckoutSuccessURL: cfg.Escrow.CheckoutSuccessURL,
		CheckoutCancelURL:  cfg.Escrow.CheckoutCancelURL,
	}
	return g, nil
}
