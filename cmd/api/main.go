package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/ulule/limiter/v3"

	"github.com/angelmondragon/inspectbid-backend/api/controllers"
	"github.com/angelmondragon/inspectbid-backend/api/middleware"
	"github.com/angelmondragon/inspectbid-backend/api/routes"
	"github.com/angelmondragon/inspectbid-backend/internal/bootstrap"
	"github.com/angelmondragon/inspectbid-backend/internal/escrow"
	stripewebhook "github.com/angelmondragon/inspectbid-backend/internal/webhooks/stripe"
	"github.com/angelmondragon/inspectbid-backend/pkg/env"
)

const (
	// webhookGuardTTL bounds how long one delivery may hold an event id.
	webhookGuardTTL = 2 * time.Minute
	drainTimeout    = 20 * time.Second
)

func main() {
	bootstrap.Main(bootstrap.Options{Service: "api", Redis: true}, serve)
}

func serve(ctx context.Context, rt *bootstrap.Runtime) error {
	cfg, logg := rt.Config, rt.Logger

	graph, err := rt.Escrow(ctx, prometheus.DefaultRegisterer)
	if err != nil {
		return err
	}
	checkout, err := escrow.NewCheckoutInitiator(graph.Params)
	if err != nil {
		return err
	}
	reconciler, err := escrow.NewReconciler(graph.Params)
	if err != nil {
		return err
	}
	payouts, err := escrow.NewPayoutService(graph.Params)
	if err != nil {
		return err
	}
	cancellations, err := escrow.NewCancellationCoordinator(graph.Params)
	if err != nil {
		return err
	}

	webhooks, err := stripewebhook.NewService(stripewebhook.ServiceParams{
		Reconciler: reconciler,
		EventLog:   stripewebhook.NewEventLog(rt.DB.DB()),
		Metrics:    graph.Metrics,
		Logger:     logg,
	})
	if err != nil {
		return err
	}
	guard, err := stripewebhook.NewInFlightGuard(rt.Redis, webhookGuardTTL)
	if err != nil {
		return err
	}

	var rateLimiter middleware.Limiter
	if cfg.App.RateLimit != "" {
		rate, err := middleware.ParseRate(cfg.App.RateLimit)
		if err != nil {
			return err
		}
		store, err := rt.Redis.RateLimitStore()
		if err != nil {
			return err
		}
		rateLimiter = limiter.New(store, rate)
	}

	addr := ":" + env.Get(cfg.App.Port, "PORT")
	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(cfg, logg, routes.Dependencies{
			Readiness: map[string]controllers.Pinger{
				"database": rt.DB,
				"redis":    rt.Redis,
			},
			IdempotencyStore: rt.Redis,
			RateLimiter:      rateLimiter,
			Metrics:          promhttp.Handler(),
			Jobs:             graph.Jobs,
			Notifications:    graph.Notifications,
			Accounts:         graph.Accounts,
			Checkout:         checkout,
			Cancellations:    cancellations,
			Payouts:          payouts,
			StripeVerifier:   graph.Stripe,
			StripeWebhooks:   webhooks,
			StripeGuard:      guard,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx = logg.WithFields(ctx, map[string]any{"addr": addr, "stripe_mode": graph.Stripe.Mode()})
	logg.Info(ctx, "api.listening")

	failed := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			failed <- err
		}
		close(failed)
	}()

	select {
	case err := <-failed:
		return err
	case <-ctx.Done():
	}

	// in-flight webhook deliveries finish before the guard and db close
	drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), drainTimeout)
	defer cancel()
	logg.Info(ctx, "api.draining")
	return server.Shutdown(drainCtx)
}
