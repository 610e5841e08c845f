// Package payments defines the payment provider contract used by escrow
// checkout, refunds, payouts and payout-account onboarding. Amounts are
// integer minor currency units throughout.
package payments

import (
	"context"
	"errors"
	"fmt"
)

// Gateway is the payment provider surface. Every mutating call carries a
// caller-chosen idempotency key so retries never duplicate money movement.
type Gateway interface {
	CreateCustomer(ctx context.Context, input CustomerInput) (string, error)
	CreateCheckoutSession(ctx context.Context, input CheckoutSessionInput) (*CheckoutSession, error)
	CreateTransfer(ctx context.Context, input TransferInput) (string, error)
	// FindTransfer returns the transfer already sent for jobRef, if any.
	FindTransfer(ctx context.Context, jobRef string) (string, bool, error)
	CreateRefund(ctx context.Context, input RefundInput) (string, error)
	GetPayoutAccountStatus(ctx context.Context, accountRef string) (*PayoutAccountStatus, error)
	CreatePayoutAccount(ctx context.Context, input PayoutAccountInput) (string, error)
	CreateOnboardingLink(ctx context.Context, input OnboardingLinkInput) (string, error)
}

type CustomerInput struct {
	UserID         string
	Email          string
	IdempotencyKey string
}

type CheckoutSessionInput struct {
	CustomerRef    string
	AmountCents    int64
	Currency       string
	Description    string
	SuccessURL     string
	CancelURL      string
	Metadata       map[string]string
	IdempotencyKey string
}

type CheckoutSession struct {
	SessionID   string
	RedirectURL string
}

type TransferInput struct {
	DestinationAccountRef string
	AmountCents           int64
	Currency              string
	// SourcePaymentRef ties the transfer to the escrowed charge when set, so
	// the provider never moves more than that charge collected.
	SourcePaymentRef string
	Metadata         map[string]string
	IdempotencyKey   string
}

type RefundInput struct {
	PaymentRef     string
	Metadata       map[string]string
	IdempotencyKey string
}

type PayoutAccountStatus struct {
	AccountRef       string
	ChargesEnabled   bool
	PayoutsEnabled   bool
	DetailsSubmitted bool
}

type PayoutAccountInput struct {
	UserID         string
	Email          string
	IdempotencyKey string
}

type OnboardingLinkInput struct {
	AccountRef string
	ReturnURL  string
	RefreshURL string
}

// ProviderError is a failed provider call. Temporary marks failures worth
// retrying (network, rate limit, provider 5xx).
type ProviderError struct {
	Op        string
	Code      string
	Temporary bool
	Err       error
}

func (e *ProviderError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("payment provider %s failed (%s): %v", e.Op, e.Code, e.Err)
	}
	return fmt.Sprintf("payment provider %s failed: %v", e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// IsProviderError reports whether err came from the provider.
func IsProviderError(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe)
}
