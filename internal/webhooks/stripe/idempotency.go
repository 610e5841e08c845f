package stripewebhook

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/angelmondragon/inspectbid-backend/pkg/redis"
)

// InFlightGuard stops two workers from handling the same delivery at once.
// The durable event log decides whether an event was already applied; the
// guard only covers concurrent redelivery.
type InFlightGuard struct {
	store redis.ClaimStore
	ttl   time.Duration
	scope string
}

func NewInFlightGuard(store redis.ClaimStore, ttl time.Duration) (*InFlightGuard, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if ttl <= 0 {
		return nil, errors.New("ttl must be positive")
	}
	return &InFlightGuard{store: store, ttl: ttl, scope: "stripe_webhook"}, nil
}

// Acquire reports false when another delivery of eventID holds the guard.
func (g *InFlightGuard) Acquire(ctx context.Context, eventID string) (bool, error) {
	if eventID == "" {
		return false, errors.New("event id is required")
	}
	set, err := g.store.SetNX(ctx, g.store.IdempotencyKey(g.scope, eventID), "1", g.ttl)
	if err != nil {
		return false, fmt.Errorf("acquire webhook guard: %w", err)
	}
	return set, nil
}

// Release frees the guard so a failed delivery can be retried immediately.
func (g *InFlightGuard) Release(ctx context.Context, eventID string) error {
	if eventID == "" {
		return errors.New("event id is required")
	}
	return g.store.Del(ctx, g.store.IdempotencyKey(g.scope, eventID))
}
