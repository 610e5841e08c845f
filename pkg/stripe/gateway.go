package stripe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/account"
	"github.com/stripe/stripe-go/v84/accountlink"
	"github.com/stripe/stripe-go/v84/checkout/session"
	"github.com/stripe/stripe-go/v84/customer"
	"github.com/stripe/stripe-go/v84/paymentintent"
	"github.com/stripe/stripe-go/v84/refund"
	"github.com/stripe/stripe-go/v84/transfer"

	"github.com/angelmondragon/inspectbid-backend/pkg/payments"
)

// Gateway implements payments.Gateway on Stripe Checkout and Connect.
type Gateway struct {
	client *Client
}

var _ payments.Gateway = (*Gateway)(nil)

// NewGateway wraps an initialized client.
func NewGateway(client *Client) (*Gateway, error) {
	if client == nil {
		return nil, errors.New("stripe client required")
	}
	return &Gateway{client: client}, nil
}

func (g *Gateway) CreateCustomer(ctx context.Context, input payments.CustomerInput) (string, error) {
	params := &stripe.CustomerParams{}
	params.Context = ctx
	if input.Email != "" {
		params.Email = stripe.String(input.Email)
	}
	params.AddMetadata("user_id", input.UserID)
	setIdempotency(&params.Params, input.IdempotencyKey)

	cust, err := customer.New(params)
	if err != nil {
		return "", providerError("create customer", err)
	}
	return cust.ID, nil
}

func (g *Gateway) CreateCheckoutSession(ctx context.Context, input payments.CheckoutSessionInput) (*payments.CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL: stripe.String(input.SuccessURL),
		CancelURL:  stripe.String(input.CancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(input.Currency),
					UnitAmount: stripe.Int64(input.AmountCents),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(input.Description),
					},
				},
				Quantity: stripe.Int64(1),
			},
		},
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
			Metadata: input.Metadata,
		},
	}
	params.Context = ctx
	if input.CustomerRef != "" {
		params.Customer = stripe.String(input.CustomerRef)
	}
	if jobID := input.Metadata["job_id"]; jobID != "" {
		params.ClientReferenceID = stripe.String(jobID)
		params.PaymentIntentData.TransferGroup = stripe.String(transferGroup(jobID))
	}
	for k, v := range input.Metadata {
		params.AddMetadata(k, v)
	}
	setIdempotency(&params.Params, input.IdempotencyKey)

	sess, err := session.New(params)
	if err != nil {
		return nil, providerError("create checkout session", err)
	}
	return &payments.CheckoutSession{SessionID: sess.ID, RedirectURL: sess.URL}, nil
}

func (g *Gateway) CreateTransfer(ctx context.Context, input payments.TransferInput) (string, error) {
	params := &stripe.TransferParams{
		Amount:      stripe.Int64(input.AmountCents),
		Currency:    stripe.String(input.Currency),
		Destination: stripe.String(input.DestinationAccountRef),
	}
	params.Context = ctx
	if jobID := input.Metadata["job_id"]; jobID != "" {
		params.TransferGroup = stripe.String(transferGroup(jobID))
	}
	if input.SourcePaymentRef != "" {
		charge, err := chargeFor(ctx, input.SourcePaymentRef)
		if err != nil {
			return "", err
		}
		params.SourceTransaction = stripe.String(charge)
	}
	for k, v := range input.Metadata {
		params.AddMetadata(k, v)
	}
	setIdempotency(&params.Params, input.IdempotencyKey)

	tr, err := transfer.New(params)
	if err != nil {
		return "", providerError("create transfer", err)
	}
	return tr.ID, nil
}

func (g *Gateway) FindTransfer(ctx context.Context, jobRef string) (string, bool, error) {
	params := &stripe.TransferListParams{TransferGroup: stripe.String(transferGroup(jobRef))}
	params.Context = ctx
	params.Limit = stripe.Int64(1)
	params.Single = true

	iter := transfer.List(params)
	for iter.Next() {
		if tr := iter.Transfer(); tr != nil && !tr.Reversed {
			return tr.ID, true, nil
		}
	}
	if err := iter.Err(); err != nil {
		return "", false, providerError("list transfers", err)
	}
	return "", false, nil
}

// chargeFor resolves a payment intent to the charge a transfer can draw on.
// Charge ids pass through.
func chargeFor(ctx context.Context, ref string) (string, error) {
	if !strings.HasPrefix(ref, "pi_") {
		return ref, nil
	}
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	pi, err := paymentintent.Get(ref, params)
	if err != nil {
		return "", providerError("get payment intent", err)
	}
	if pi.LatestCharge == nil || pi.LatestCharge.ID == "" {
		return "", &payments.ProviderError{Op: "get payment intent", Code: "no_charge", Err: fmt.Errorf("%s has no charge", ref)}
	}
	return pi.LatestCharge.ID, nil
}

func transferGroup(jobID string) string { return "job_" + jobID }

func (g *Gateway) CreateRefund(ctx context.Context, input payments.RefundInput) (string, error) {
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(input.PaymentRef),
	}
	params.Context = ctx
	for k, v := range input.Metadata {
		params.AddMetadata(k, v)
	}
	setIdempotency(&params.Params, input.IdempotencyKey)

	ref, err := refund.New(params)
	if err != nil {
		return "", providerError("create refund", err)
	}
	return ref.ID, nil
}

func (g *Gateway) GetPayoutAccountStatus(ctx context.Context, accountRef string) (*payments.PayoutAccountStatus, error) {
	params := &stripe.AccountParams{}
	params.Context = ctx
	acct, err := account.GetByID(accountRef, params)
	if err != nil {
		return nil, providerError("get account", err)
	}
	return &payments.PayoutAccountStatus{
		AccountRef:       acct.ID,
		ChargesEnabled:   acct.ChargesEnabled,
		PayoutsEnabled:   acct.PayoutsEnabled,
		DetailsSubmitted: acct.DetailsSubmitted,
	}, nil
}

func (g *Gateway) CreatePayoutAccount(ctx context.Context, input payments.PayoutAccountInput) (string, error) {
	params := &stripe.AccountParams{
		Type: stripe.String(string(stripe.AccountTypeExpress)),
		Capabilities: &stripe.AccountCapabilitiesParams{
			Transfers: &stripe.AccountCapabilitiesTransfersParams{Requested: stripe.Bool(true)},
		},
	}
	params.Context = ctx
	if input.Email != "" {
		params.Email = stripe.String(input.Email)
	}
	params.AddMetadata("user_id", input.UserID)
	setIdempotency(&params.Params, input.IdempotencyKey)

	acct, err := account.New(params)
	if err != nil {
		return "", providerError("create account", err)
	}
	return acct.ID, nil
}

func (g *Gateway) CreateOnboardingLink(ctx context.Context, input payments.OnboardingLinkInput) (string, error) {
	params := &stripe.AccountLinkParams{
		Account:    stripe.String(input.AccountRef),
		RefreshURL: stripe.String(input.RefreshURL),
		ReturnURL:  stripe.String(input.ReturnURL),
		Type:       stripe.String("account_onboarding"),
	}
	params.Context = ctx

	link, err := accountlink.New(params)
	if err != nil {
		return "", providerError("create account link", err)
	}
	return link.URL, nil
}

func setIdempotency(params *stripe.Params, key string) {
	if key != "" {
		params.SetIdempotencyKey(key)
	}
}

func providerError(op string, err error) error {
	pe := &payments.ProviderError{Op: op, Err: err, Temporary: true}
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		pe.Code = string(stripeErr.Code)
		pe.Temporary = stripeErr.HTTPStatusCode == 0 ||
			stripeErr.HTTPStatusCode == http.StatusTooManyRequests ||
			stripeErr.HTTPStatusCode >= http.StatusInternalServerError
		if pe.Code == "" {
			pe.Code = fmt.Sprintf("http_%d", stripeErr.HTTPStatusCode)
		}
	}
	return pe
}
