package webhooks

import (
	"context"
	"io"
	"net/http"

	"github.com/angelmondragon/inspectbid-backend/api/responses"
	pkgerrors "github.com/angelmondragon/inspectbid-backend/pkg/errors"
	"github.com/angelmondragon/inspectbid-backend/pkg/logger"
	"github.com/stripe/stripe-go/v84"
)

// Stripe event payloads are capped well below this.
const maxWebhookBody = 64 << 10

const signatureHeader = "Stripe-Signature"

type StripeWebhookService interface {
	HandleEvent(ctx context.Context, event *stripe.Event) error
}

type StripeWebhookGuard interface {
	Acquire(ctx context.Context, eventID string) (bool, error)
	Release(ctx context.Context, eventID string) error
}

type StripeEventVerifier interface {
	ConstructEvent(payload []byte, signature string) (stripe.Event, error)
}

// StripeWebhook verifies and applies payment, refund and transfer events.
// Stripe redelivers on any non-2xx, so a failure here is always safe to
// return: the event log inside the service makes reapplication a no-op.
func StripeWebhook(svc StripeWebhookService, verifier StripeEventVerifier, guard StripeWebhookGuard, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		fail := func(err error) { responses.WriteError(ctx, logg, w, err) }

		if svc == nil || verifier == nil || guard == nil {
			fail(pkgerrors.New(pkgerrors.CodeInternal, "stripe webhook not configured"))
			return
		}

		signature := r.Header.Get(signatureHeader)
		if signature == "" {
			fail(pkgerrors.New(pkgerrors.CodeValidation, "stripe signature missing"))
			return
		}
		payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody+1))
		if err != nil {
			fail(pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read request body"))
			return
		}
		if len(payload) > maxWebhookBody {
			fail(pkgerrors.New(pkgerrors.CodeValidation, "webhook payload too large"))
			return
		}

		event, err := verifier.ConstructEvent(payload, signature)
		if err != nil {
			fail(pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid stripe signature"))
			return
		}
		if logg != nil {
			ctx = logg.WithFields(ctx, map[string]any{
				"event_id":   event.ID,
				"event_type": string(event.Type),
				"livemode":   event.Livemode,
			})
		}

		held, err := guard.Acquire(ctx, event.ID)
		if err != nil {
			fail(pkgerrors.Wrap(pkgerrors.CodeDependency, err, "acquire webhook guard"))
			return
		}
		if !held {
			fail(pkgerrors.New(pkgerrors.CodeAlreadyInProgress, "event is being processed"))
			return
		}
		defer func() {
			if err := guard.Release(context.WithoutCancel(ctx), event.ID); err != nil && logg != nil {
				logg.Warn(logg.WithField(ctx, "error", err.Error()), "release webhook guard")
			}
		}()

		if err := svc.HandleEvent(ctx, &event); err != nil {
			fail(err)
			return
		}
		if logg != nil {
			logg.Info(ctx, "stripe event processed")
		}
		responses.WriteSuccess(w, map[string]bool{"received": true})
	}
}
