// Package paymentstest provides an in-memory payments.Gateway for tests.
package paymentstest

import (
	"context"
	"fmt"
	"sync"

	"github.com/angelmondragon/inspectbid-backend/pkg/payments"
)

// Gateway records calls and replays results keyed by idempotency key, the
// way a real provider would.
type Gateway struct {
	mu sync.Mutex

	Customers []payments.CustomerInput
	Sessions  []payments.CheckoutSessionInput
	Transfers []payments.TransferInput
	Refunds   []payments.RefundInput
	Accounts  []payments.PayoutAccountInput
	Links     []payments.OnboardingLinkInput

	// AccountStatus is returned by GetPayoutAccountStatus, keyed by account ref.
	AccountStatus map[string]payments.PayoutAccountStatus

	CheckoutErr error
	TransferErr error
	RefundErr   error
	StatusErr   error
	FindErr     error

	// DropTransferReplies makes that many CreateTransfer calls move the money
	// and then fail as a timeout would.
	DropTransferReplies int

	seen  map[string]string
	byJob map[string]string
	seq   int
}

var _ payments.Gateway = (*Gateway)(nil)

func New() *Gateway {
	return &Gateway{
		AccountStatus: map[string]payments.PayoutAccountStatus{},
		seen:          map[string]string{},
		byJob:         map[string]string{},
	}
}

func (g *Gateway) next(prefix, key string) (string, bool) {
	if key != "" {
		if id, ok := g.seen[prefix+key]; ok {
			return id, true
		}
	}
	g.seq++
	id := fmt.Sprintf("%s_%d", prefix, g.seq)
	if key != "" {
		g.seen[prefix+key] = id
	}
	return id, false
}

func (g *Gateway) CreateCustomer(_ context.Context, input payments.CustomerInput) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	id, replay := g.next("cus", input.IdempotencyKey)
	if !replay {
		g.Customers = append(g.Customers, input)
	}
	return id, nil
}

func (g *Gateway) CreateCheckoutSession(_ context.Context, input payments.CheckoutSessionInput) (*payments.CheckoutSession, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.CheckoutErr != nil {
		return nil, g.CheckoutErr
	}
	id, replay := g.next("cs", input.IdempotencyKey)
	if !replay {
		g.Sessions = append(g.Sessions, input)
	}
	return &payments.CheckoutSession{SessionID: id, RedirectURL: "https://checkout.test/" + id}, nil
}

func (g *Gateway) CreateTransfer(_ context.Context, input payments.TransferInput) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.TransferErr != nil {
		return "", g.TransferErr
	}
	id, replay := g.next("tr", input.IdempotencyKey)
	if !replay {
		g.Transfers = append(g.Transfers, input)
		if jobRef := input.Metadata["job_id"]; jobRef != "" {
			g.byJob[jobRef] = id
		}
	}
	if g.DropTransferReplies > 0 {
		g.DropTransferReplies--
		return "", &payments.ProviderError{Op: "create transfer", Temporary: true, Err: context.DeadlineExceeded}
	}
	return id, nil
}

func (g *Gateway) FindTransfer(_ context.Context, jobRef string) (string, bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.FindErr != nil {
		return "", false, g.FindErr
	}
	id, ok := g.byJob[jobRef]
	return id, ok, nil
}

func (g *Gateway) CreateRefund(_ context.Context, input payments.RefundInput) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.RefundErr != nil {
		return "", g.RefundErr
	}
	id, replay := g.next("re", input.IdempotencyKey)
	if !replay {
		g.Refunds = append(g.Refunds, input)
	}
	return id, nil
}

func (g *Gateway) GetPayoutAccountStatus(_ context.Context, accountRef string) (*payments.PayoutAccountStatus, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.StatusErr != nil {
		return nil, g.StatusErr
	}
	status := g.AccountStatus[accountRef]
	status.AccountRef = accountRef
	return &status, nil
}

func (g *Gateway) CreatePayoutAccount(_ context.Context, input payments.PayoutAccountInput) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	id, replay := g.next("acct", input.IdempotencyKey)
	if !replay {
		g.Accounts = append(g.Accounts, input)
	}
	return id, nil
}

func (g *Gateway) CreateOnboardingLink(_ context.Context, input payments.OnboardingLinkInput) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Links = append(g.Links, input)
	return "https://connect.test/onboard/" + input.AccountRef, nil
}

// EnablePayouts marks accountRef as fully onboarded.
func (g *Gateway) EnablePayouts(accountRef string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.AccountStatus[accountRef] = payments.PayoutAccountStatus{
		AccountRef:       accountRef,
		ChargesEnabled:   true,
		PayoutsEnabled:   true,
		DetailsSubmitted: true,
	}
}

// TransferCount is safe to call concurrently with gateway use.
func (g *Gateway) TransferCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.Transfers)
}
