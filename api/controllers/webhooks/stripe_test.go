package webhooks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/webhook"

	stripewebhook "github.com/angelmondragon/inspectbid-backend/internal/webhooks/stripe"
	pkgerrors "github.com/angelmondragon/inspectbid-backend/pkg/errors"
)

const whsec = "whsec_test"

type claims struct {
	mu   sync.Mutex
	held map[string]bool
}

func (c *claims) SetNX(_ context.Context, key string, _ any, _ time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.held[key] {
		return false, nil
	}
	c.held[key] = true
	return true, nil
}

func (c *claims) Del(_ context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.held, k)
	}
	return nil
}

func (c *claims) IdempotencyKey(scope, id string) string { return scope + ":" + id }

type recordingHandler struct {
	events []string
	err    error
}

func (h *recordingHandler) HandleEvent(_ context.Context, event *stripe.Event) error {
	h.events = append(h.events, event.ID)
	return h.err
}

type verifier struct{}

func (verifier) ConstructEvent(payload []byte, signature string) (stripe.Event, error) {
	return webhook.ConstructEventWithOptions(payload, signature, whsec, webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
}

type fixture struct {
	claims  *claims
	guard   *stripewebhook.InFlightGuard
	svc     *recordingHandler
	handler http.Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{claims: &claims{held: map[string]bool{}}, svc: &recordingHandler{}}
	guard, err := stripewebhook.NewInFlightGuard(f.claims, time.Minute)
	require.NoError(t, err)
	f.guard = guard
	f.handler = StripeWebhook(f.svc, verifier{}, guard, nil)
	return f
}

// checkoutCompleted returns a signed checkout.session.completed delivery.
func checkoutCompleted(t *testing.T) (eventID string, payload []byte, signature string) {
	t.Helper()
	session, err := json.Marshal(map[string]any{
		"id":             "cs_" + uuid.NewString(),
		"object":         "checkout.session",
		"payment_status": "paid",
		"payment_intent": "pi_123",
		"metadata":       map[string]string{"job_id": uuid.NewString(), "bid_id": uuid.NewString()},
	})
	require.NoError(t, err)

	eventID = "evt_" + uuid.NewString()
	payload, err = json.Marshal(stripe.Event{
		ID:         eventID,
		Object:     "event",
		Type:       stripe.EventTypeCheckoutSessionCompleted,
		APIVersion: stripe.APIVersion,
		Data:       &stripe.EventData{Raw: session},
	})
	require.NoError(t, err)

	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{Payload: payload, Secret: whsec})
	return eventID, signed.Payload, signed.Header
}

func deliver(h http.Handler, payload []byte, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/stripe", bytes.NewReader(payload))
	if signature != "" {
		req.Header.Set(signatureHeader, signature)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestStripeWebhookAppliesEachDeliveryAndReleasesGuard(t *testing.T) {
	f := newFixture(t)
	id, payload, sig := checkoutCompleted(t)

	for i := 0; i < 2; i++ {
		rec := deliver(f.handler, payload, sig)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}
	// dedupe is the service's event log, not the guard
	assert.Equal(t, []string{id, id}, f.svc.events)
	assert.Empty(t, f.claims.held)
}

func TestStripeWebhookRejectsDeliveryWhileAnotherIsInFlight(t *testing.T) {
	f := newFixture(t)
	id, payload, sig := checkoutCompleted(t)

	held, err := f.guard.Acquire(context.Background(), id)
	require.NoError(t, err)
	require.True(t, held)

	rec := deliver(f.handler, payload, sig)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Empty(t, f.svc.events)
}

func TestStripeWebhookServiceFailureAsksForRedelivery(t *testing.T) {
	f := newFixture(t)
	f.svc.err = pkgerrors.Wrap(pkgerrors.CodeProvider, errors.New("refund failed"), "orphan refund")
	_, payload, sig := checkoutCompleted(t)

	rec := deliver(f.handler, payload, sig)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Empty(t, f.claims.held, "guard released so the retry can run")
}

func TestStripeWebhookRejectsBadRequests(t *testing.T) {
	_, payload, sig := checkoutCompleted(t)
	cases := map[string]struct {
		payload   []byte
		signature string
	}{
		"missing signature":  {payload, ""},
		"forged signature":   {payload, "t=1,v1=deadbeef"},
		"tampered payload":   {bytes.Replace(payload, []byte("paid"), []byte("unpaid"), 1), sig},
		"oversized delivery": {[]byte(strings.Repeat("x", maxWebhookBody+1)), sig},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			rec := deliver(f.handler, tc.payload, tc.signature)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Empty(t, f.svc.events)
		})
	}
}

func TestStripeWebhookUnconfigured(t *testing.T) {
	_, payload, sig := checkoutCompleted(t)
	rec := deliver(StripeWebhook(nil, verifier{}, nil, nil), payload, sig)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
