package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/inspectbid-backend/api/controllers"
	jobcontrollers "github.com/angelmondragon/inspectbid-backend/api/controllers/jobs"
	webhookcontrollers "github.com/angelmondragon/inspectbid-backend/api/controllers/webhooks"
	"github.com/angelmondragon/inspectbid-backend/api/middleware"
	"github.com/angelmondragon/inspectbid-backend/internal/accounts"
	internaljobs "github.com/angelmondragon/inspectbid-backend/internal/jobs"
	"github.com/angelmondragon/inspectbid-backend/internal/notifications"
	"github.com/angelmondragon/inspectbid-backend/pkg/config"
	"github.com/angelmondragon/inspectbid-backend/pkg/enums"
	"github.com/angelmondragon/inspectbid-backend/pkg/logger"
)

// Dependencies is everything the HTTP surface calls into. Nil services
// answer 500 from their handlers rather than failing router construction.
type Dependencies struct {
	Readiness        map[string]controllers.Pinger
	IdempotencyStore middleware.ResponseStore
	// RateLimiter is nil when no rate is configured.
	RateLimiter middleware.Limiter
	Metrics          http.Handler

	Jobs          internaljobs.Service
	Notifications notifications.Service
	Accounts      accounts.Service
	Checkout      jobcontrollers.CheckoutInitiator
	Cancellations jobcontrollers.JobCanceller
	Payouts       jobcontrollers.PayoutSettler

	StripeVerifier webhookcontrollers.StripeEventVerifier
	StripeWebhooks webhookcontrollers.StripeWebhookService
	StripeGuard    webhookcontrollers.StripeWebhookGuard
}

func NewRouter(cfg *config.Config, logg *logger.Logger, deps Dependencies) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)
	if len(cfg.App.CORSAllowedOrigins) > 0 {
		r.Use(middleware.CORS(cfg.App.CORSAllowedOrigins))
	}

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, deps.Readiness))
	})
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics)
	}

	r.Get("/api/public/ping", controllers.PublicPing())

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/stripe", webhookcontrollers.StripeWebhook(deps.StripeWebhooks, deps.StripeVerifier, deps.StripeGuard, logg))
	})

	poster := middleware.RequireRole(logg, enums.RolePoster, enums.RoleAdmin)
	inspector := middleware.RequireRole(logg, enums.RoleInspector)

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.RateLimit(deps.RateLimiter, logg))
		r.Use(middleware.Idempotency(deps.IdempotencyStore, logg))

		r.Get("/ping", controllers.PrivatePing())

		r.Route("/v1/jobs", func(r chi.Router) {
			r.Get("/", jobcontrollers.ListJobs(deps.Jobs, logg))
			r.With(poster).Post("/", jobcontrollers.CreateJob(deps.Jobs, logg))

			r.Route("/{jobId}", func(r chi.Router) {
				r.Get("/", jobcontrollers.GetJob(deps.Jobs, logg))
				r.With(poster).Post("/publish", jobcontrollers.PublishJob(deps.Jobs, logg))
				r.With(poster).Patch("/budget", jobcontrollers.UpdateBudget(deps.Jobs, logg))
				r.With(poster).Post("/checkout", jobcontrollers.Checkout(deps.Checkout, logg))
				r.With(poster).Post("/cancel", jobcontrollers.CancelJob(deps.Cancellations, logg))
				r.With(poster).Post("/approve", jobcontrollers.ApproveReport(deps.Jobs, logg))
				r.With(inspector).Post("/start", jobcontrollers.StartInspection(deps.Jobs, logg))
				r.With(inspector).Post("/report", jobcontrollers.SubmitReport(deps.Jobs, logg))

				r.Get("/bids", jobcontrollers.ListBids(deps.Jobs, logg))
				r.With(inspector).Post("/bids", jobcontrollers.CreateBid(deps.Jobs, logg))
				r.With(poster).Post("/bids/{bidId}/decline", jobcontrollers.DeclineBid(deps.Jobs, logg))
			})
		})

		r.With(inspector).Post("/v1/bids/{bidId}/withdraw", jobcontrollers.WithdrawBid(deps.Jobs, logg))

		r.Route("/v1/inspector", func(r chi.Router) {
			r.Use(inspector)
			r.Post("/payout-account", controllers.StartPayoutOnboarding(deps.Accounts, logg))
		})

		r.Route("/v1/notifications", func(r chi.Router) {
			r.Get("/", controllers.ListNotifications(deps.Notifications, logg))
			r.Post("/{notificationId}/read", controllers.MarkNotificationRead(deps.Notifications, logg))
			r.Post("/read-all", controllers.MarkAllNotificationsRead(deps.Notifications, logg))
		})

		r.Route("/admin/v1", func(r chi.Router) {
			r.Use(middleware.RequireRole(logg, enums.RoleAdmin))
			r.Post("/jobs/{jobId}/payout", jobcontrollers.SettlePayout(deps.Payouts, logg))
		})
	})

	return r
}
