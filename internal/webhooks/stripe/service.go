package stripewebhook

import (
	"context"
	"errors"

	"github.com/angelmondragon/inspectbid-backend/internal/escrow"
	pkgerrors "github.com/angelmondragon/inspectbid-backend/pkg/errors"
	"github.com/angelmondragon/inspectbid-backend/pkg/logger"
	"github.com/stripe/stripe-go/v84"
)

type reconciler interface {
	HandleCheckoutConfirmed(ctx context.Context, event escrow.CheckoutConfirmed) (escrow.Outcome, error)
	HandleRefundConfirmed(ctx context.Context, event escrow.RefundConfirmed) (escrow.Outcome, error)
	HandleTransferConfirmed(ctx context.Context, event escrow.TransferConfirmed) (escrow.Outcome, error)
}

type eventMetrics interface {
	IncWebhookEvent(eventType, outcome string)
}

type ServiceParams struct {
	Reconciler reconciler
	EventLog   EventLog
	Metrics    eventMetrics
	Logger     *logger.Logger
}

// Service turns verified Stripe deliveries into escrow confirmations.
type Service struct {
	reconciler reconciler
	log        EventLog
	metrics    eventMetrics
	logg       *logger.Logger
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Reconciler == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "reconciler required")
	}
	if params.EventLog == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "webhook event log required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	return &Service{
		reconciler: params.Reconciler,
		log:        params.EventLog,
		metrics:    params.Metrics,
		logg:       params.Logger,
	}, nil
}

func (s *Service) HandleEvent(ctx context.Context, event *stripe.Event) error {
	if event == nil || event.Data == nil || event.ID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "stripe event data required")
	}
	eventType := string(event.Type)
	ctx = s.logg.WithFields(ctx, map[string]any{"event_id": event.ID, "event_type": eventType})

	row, err := s.log.Record(ctx, event.ID, eventType, event.Data.Raw)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record webhook event")
	}
	if row.ProcessedAt != nil {
		s.count(eventType, "replayed")
		return nil
	}

	outcome, err := s.dispatch(ctx, event)
	var skip errNotActionable
	if errors.As(err, &skip) {
		s.logg.Warn(s.logg.WithField(ctx, "reason", skip.reason), "webhook event not actionable")
		outcome, err = escrow.OutcomeIgnored, nil
	}
	if err != nil {
		s.count(eventType, "error")
		if markErr := s.log.MarkFailed(ctx, row.ID, err); markErr != nil {
			s.logg.Error(ctx, "record webhook failure", markErr)
		}
		return err
	}

	if err := s.log.MarkProcessed(ctx, row.ID); err != nil {
		s.logg.Error(ctx, "mark webhook processed", err)
	}
	s.count(eventType, string(outcome))
	return nil
}

func (s *Service) dispatch(ctx context.Context, event *stripe.Event) (escrow.Outcome, error) {
	switch event.Type {
	case stripe.EventTypeCheckoutSessionCompleted, stripe.EventTypeCheckoutSessionAsyncPaymentSucceeded:
		confirmed, err := checkoutConfirmed(event)
		if err != nil {
			return "", err
		}
		return s.reconciler.HandleCheckoutConfirmed(ctx, confirmed)
	case stripe.EventTypeChargeRefunded:
		confirmed, err := refundConfirmed(event)
		if err != nil {
			return "", err
		}
		return s.reconciler.HandleRefundConfirmed(ctx, confirmed)
	case stripe.EventTypeTransferCreated:
		confirmed, err := transferConfirmed(event)
		if err != nil {
			return "", err
		}
		return s.reconciler.HandleTransferConfirmed(ctx, confirmed)
	default:
		return escrow.OutcomeIgnored, nil
	}
}

func (s *Service) count(eventType, outcome string) {
	if s.metrics != nil {
		s.metrics.IncWebhookEvent(eventType, outcome)
	}
}
