package stripe

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/webhook"

	"github.com/angelmondragon/inspectbid-backend/pkg/config"
	"github.com/angelmondragon/inspectbid-backend/pkg/logger"
)

// Mode is the Stripe account mode the process runs against.
type Mode string

const (
	ModeTest Mode = "test"
	ModeLive Mode = "live"
)

// signatureTolerance bounds how old a signed delivery may be.
const signatureTolerance = 5 * time.Minute

var (
	errMissingKey       = errors.New("stripe: api key not configured")
	errMissingSecret    = errors.New("stripe: webhook signing secret not configured")
	errUnknownMode      = fmt.Errorf("stripe: mode must be %q or %q", ModeTest, ModeLive)
	errLivemodeMismatch = errors.New("stripe: event livemode differs from configured mode")
)

// Client holds the escrow account's Stripe credentials. Gateway calls go
// through the package-level stripe resources, which read stripe.Key.
type Client struct {
	mode   Mode
	secret string
}

func NewClient(ctx context.Context, cfg config.StripeConfig, logg *logger.Logger) (*Client, error) {
	mode, err := parseMode(cfg.Env)
	if err != nil {
		return nil, err
	}
	key, secret := strings.TrimSpace(cfg.APIKey), strings.TrimSpace(cfg.Secret)
	switch {
	case key == "":
		return nil, errMissingKey
	case secret == "":
		return nil, errMissingSecret
	}
	if err := checkKeyMode(mode, key); err != nil {
		return nil, err
	}

	stripe.Key = key
	stripe.SetAppInfo(&stripe.AppInfo{Name: "inspectbid-escrow"})
	if logg != nil {
		logg.Info(logg.WithField(ctx, "stripe_mode", string(mode)), "stripe.ready")
	}
	return &Client{mode: mode, secret: secret}, nil
}

func (c *Client) Mode() Mode {
	if c == nil {
		return ""
	}
	return c.mode
}

// ConstructEvent verifies the signature and rejects events from the other
// Stripe mode, so a test-mode delivery can never move live escrow.
func (c *Client) ConstructEvent(payload []byte, signature string) (stripe.Event, error) {
	if c == nil {
		return stripe.Event{}, errMissingSecret
	}
	event, err := webhook.ConstructEventWithOptions(payload, signature, c.secret, webhook.ConstructEventOptions{
		Tolerance:                signatureTolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return stripe.Event{}, err
	}
	if event.Livemode != (c.mode == ModeLive) {
		return stripe.Event{}, fmt.Errorf("%w: event %s", errLivemodeMismatch, event.ID)
	}
	return event, nil
}

func parseMode(raw string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(raw))); m {
	case "":
		return ModeTest, nil
	case ModeTest, ModeLive:
		return m, nil
	}
	return "", errUnknownMode
}

// checkKeyMode accepts secret (sk_) and restricted (rk_) keys whose embedded
// mode matches the configured one.
func checkKeyMode(mode Mode, key string) error {
	parts := strings.SplitN(key, "_", 3)
	if len(parts) < 3 || (parts[0] != "sk" && parts[0] != "rk") {
		return errors.New("stripe: api key must be a secret or restricted key")
	}
	if Mode(parts[1]) != mode {
		return fmt.Errorf("stripe: %s key configured for %s mode", parts[1], mode)
	}
	return nil
}
