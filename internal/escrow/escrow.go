// Package escrow moves money for inspection jobs: it opens checkout for a
// chosen bid, applies provider confirmations, settles payouts and refunds
// cancelled jobs. Job and payment state only change inside jobs.Repository
// transactions; provider calls always happen outside them.
package escrow

import (
	"context"
	"fmt"

	"github.com/angelmondragon/inspectbid-backend/internal/accounts"
	"github.com/angelmondragon/inspectbid-backend/internal/fees"
	"github.com/angelmondragon/inspectbid-backend/internal/jobs"
	"github.com/angelmondragon/inspectbid-backend/pkg/enums"
	"github.com/angelmondragon/inspectbid-backend/pkg/logger"
	"github.com/angelmondragon/inspectbid-backend/pkg/metrics"
	"github.com/angelmondragon/inspectbid-backend/pkg/outbox"
	"github.com/angelmondragon/inspectbid-backend/pkg/payments"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Notifier is the best-effort user notification sink.
type Notifier interface {
	Notify(ctx context.Context, userID uuid.UUID, kind enums.NotificationType, payload any) error
}

type accountsService interface {
	EnsureCustomer(ctx context.Context, userID uuid.UUID) (string, error)
	PayoutReadiness(ctx context.Context, userID uuid.UUID) (*accounts.Readiness, error)
}

// Metrics is the subset of counters the escrow flows record.
type Metrics interface {
	IncCheckoutOpened()
	IncOrphanPayment()
	IncRefundRequested()
	IncRefundFailure()
	IncPayout(outcome string)
}

// Params carries every collaborator the escrow services draw from.
type Params struct {
	Jobs       jobs.Repository
	Accounts   accountsService
	Gateway    payments.Gateway
	Calculator *fees.Calculator
	Tx         txRunner
	Outbox     outboxPublisher
	Notifier   Notifier
	Metrics    Metrics
	Logger     *logger.Logger

	CheckoutSuccessURL string
	CheckoutCancelURL  string
}

func (p Params) require(names ...string) error {
	for _, name := range names {
		missing := false
		switch name {
		case "jobs":
			missing = p.Jobs == nil
		case "accounts":
			missing = p.Accounts == nil
		case "gateway":
			missing = p.Gateway == nil
		case "calculator":
			missing = p.Calculator == nil
		case "tx":
			missing = p.Tx == nil
		case "outbox":
			missing = p.Outbox == nil
		case "notifier":
			missing = p.Notifier == nil
		case "logger":
			missing = p.Logger == nil
		case "checkout urls":
			missing = p.CheckoutSuccessURL == "" || p.CheckoutCancelURL == ""
		}
		if missing {
			return fmt.Errorf("escrow: %s required", name)
		}
	}
	return nil
}

func (p Params) metrics() Metrics {
	if p.Metrics == nil {
		return metrics.NewEscrowMetrics(nil)
	}
	return p.Metrics
}

// notify dispatches best-effort; a failure is logged and never returned.
func notify(ctx context.Context, n Notifier, logg *logger.Logger, userID uuid.UUID, kind enums.NotificationType, payload map[string]any) {
	if userID == uuid.Nil {
		return
	}
	if err := n.Notify(ctx, userID, kind, payload); err != nil {
		logCtx := logg.WithFields(ctx, map[string]any{
			"notify_user_id":    userID.String(),
			"notification_type": string(kind),
		})
		logg.Error(logCtx, "notification dispatch failed", err)
	}
}

// markPaid records a completed transfer and queues payout_paid in the same
// transaction. changed is false when the payout was already recorded, which
// lets the synchronous payout path and the transfer webhook race safely.
func markPaid(ctx context.Context, tx txRunner, repo jobs.Repository, ob outboxPublisher, jobID uuid.UUID, transferRef string) (bool, error) {
	changed := false
	err := tx.WithTx(ctx, func(db *gorm.DB) error {
		var err error
		changed, err = repo.WithTx(db).MarkPayoutStatus(ctx, jobID, enums.PayoutStatusPaid, &transferRef)
		if err != nil || !changed {
			return err
		}
		return ob.Emit(ctx, db, outbox.DomainEvent{
			EventType:   enums.EventPayoutPaid,
			AggregateID: jobID,
			Data:        outbox.PayoutPaidEvent{JobID: jobID, TransferReference: transferRef},
		})
	})
	return changed, err
}
