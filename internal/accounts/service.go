package accounts

import (
	"context"
	"fmt"

	"github.com/angelmondragon/inspectbid-backend/pkg/auth"
	"github.com/angelmondragon/inspectbid-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/inspectbid-backend/pkg/errors"
	"github.com/angelmondragon/inspectbid-backend/pkg/logger"
	"github.com/angelmondragon/inspectbid-backend/pkg/payments"
	"github.com/google/uuid"
)

// Service resolves provider identities for posters (customers) and
// inspectors (payout accounts).
type Service interface {
	EnsureCustomer(ctx context.Context, userID uuid.UUID) (string, error)
	StartOnboarding(ctx context.Context, actor auth.Actor) (*Onboarding, error)
	PayoutReadiness(ctx context.Context, userID uuid.UUID) (*Readiness, error)
}

// Onboarding is the hosted link an inspector follows to finish payout setup.
type Onboarding struct {
	AccountRef     string `json:"account_ref"`
	URL            string `json:"url,omitempty"`
	PayoutsEnabled bool   `json:"payouts_enabled"`
}

// Readiness is the freshly checked payout capability of a user.
type Readiness struct {
	AccountRef     string
	PayoutsEnabled bool
}

// Ready reports whether transfers to the account can be made.
func (r *Readiness) Ready() bool {
	return r != nil && r.AccountRef != "" && r.PayoutsEnabled
}

type ServiceParams struct {
	Repo       Repository
	Gateway    payments.Gateway
	Logger     *logger.Logger
	ReturnURL  string
	RefreshURL string
}

type service struct {
	repo       Repository
	gateway    payments.Gateway
	logg       *logger.Logger
	returnURL  string
	refreshURL string
}

func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("accounts repository required")
	}
	if params.Gateway == nil {
		return nil, fmt.Errorf("payment gateway required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.ReturnURL == "" || params.RefreshURL == "" {
		return nil, fmt.Errorf("onboarding return and refresh urls required")
	}
	return &service{
		repo:       params.Repo,
		gateway:    params.Gateway,
		logg:       params.Logger,
		returnURL:  params.ReturnURL,
		refreshURL: params.RefreshURL,
	}, nil
}

// EnsureCustomer returns the user's provider customer, creating it on first
// use. The idempotency key makes concurrent first calls converge.
func (s *service) EnsureCustomer(ctx context.Context, userID uuid.UUID) (string, error) {
	acct, err := s.repo.Find(ctx, userID)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment account")
	}
	if acct != nil && acct.ProviderCustomerID != nil && *acct.ProviderCustomerID != "" {
		return *acct.ProviderCustomerID, nil
	}

	ref, err := s.gateway.CreateCustomer(ctx, payments.CustomerInput{
		UserID:         userID.String(),
		IdempotencyKey: "customer:" + userID.String(),
	})
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeProvider, err, "create payment customer")
	}
	if err := s.repo.SetCustomer(ctx, userID, ref); err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "store payment customer")
	}
	return ref, nil
}

func (s *service) StartOnboarding(ctx context.Context, actor auth.Actor) (*Onboarding, error) {
	if actor.IsZero() {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "actor identity missing")
	}
	if actor.Role != enums.RoleInspector {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only inspectors receive payouts")
	}

	acct, err := s.repo.Find(ctx, actor.UserID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment account")
	}

	accountRef := ""
	if acct != nil && acct.ProviderAccountID != nil {
		accountRef = *acct.ProviderAccountID
	}
	if accountRef == "" {
		accountRef, err = s.gateway.CreatePayoutAccount(ctx, payments.PayoutAccountInput{
			UserID:         actor.UserID.String(),
			IdempotencyKey: "payout-account:" + actor.UserID.String(),
		})
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeProvider, err, "create payout account")
		}
		if err := s.repo.SetPayoutAccount(ctx, actor.UserID, accountRef); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "store payout account")
		}
	}

	readiness, err := s.PayoutReadiness(ctx, actor.UserID)
	if err != nil {
		return nil, err
	}
	if readiness.Ready() {
		return &Onboarding{AccountRef: accountRef, PayoutsEnabled: true}, nil
	}

	url, err := s.gateway.CreateOnboardingLink(ctx, payments.OnboardingLinkInput{
		AccountRef: accountRef,
		ReturnURL:  s.returnURL,
		RefreshURL: s.refreshURL,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeProvider, err, "create onboarding link")
	}
	return &Onboarding{AccountRef: accountRef, URL: url}, nil
}

// PayoutReadiness asks the provider for the current account capability and
// caches the answer on the account row.
func (s *service) PayoutReadiness(ctx context.Context, userID uuid.UUID) (*Readiness, error) {
	acct, err := s.repo.Find(ctx, userID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment account")
	}
	if acct == nil || acct.ProviderAccountID == nil || *acct.ProviderAccountID == "" {
		return &Readiness{}, nil
	}

	status, err := s.gateway.GetPayoutAccountStatus(ctx, *acct.ProviderAccountID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeProvider, err, "check payout account")
	}
	if status.PayoutsEnabled != acct.PayoutsEnabled {
		if err := s.repo.SetPayoutsEnabled(ctx, userID, status.PayoutsEnabled); err != nil {
			s.logg.Error(s.logg.WithUserID(ctx, userID.String()), "failed to cache payout capability", err)
		}
	}
	return &Readiness{AccountRef: *acct.ProviderAccountID, PayoutsEnabled: status.PayoutsEnabled}, nil
}
