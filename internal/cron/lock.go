package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const defaultLockTTL = 4 * time.Minute

// ErrLockLost means another worker owns the cycle now. Payout settlement must
// not continue past this point.
var ErrLockLost = errors.New("cron lock lost")

type Lock interface {
	Acquire(ctx context.Context) (bool, error)
	// Renew pushes the TTL out again while the cycle is still running.
	Renew(ctx context.Context) error
	Release(ctx context.Context) error
}

// leaseStore is the owner-checked subset of the redis client.
type leaseStore interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	ExtendIfOwner(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)
	DeleteIfOwner(ctx context.Context, key, owner string) (bool, error)
}

// RedisLock is a single-holder lease keyed by a random owner token minted on
// every Acquire. Renew and Release compare the token inside Redis, so a
// worker whose lease lapsed can never touch its successor's.
type RedisLock struct {
	store leaseStore
	key   string
	ttl   time.Duration
	owner string
}

func NewRedisLock(store leaseStore, key string, ttl time.Duration) (*RedisLock, error) {
	switch {
	case store == nil:
		return nil, errors.New("cron lock: store is required")
	case key == "":
		return nil, errors.New("cron lock: key is required")
	}
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &RedisLock{store: store, key: key, ttl: ttl}, nil
}

func (l *RedisLock) Acquire(ctx context.Context) (bool, error) {
	owner := uuid.NewString()
	won, err := l.store.SetNX(ctx, l.key, owner, l.ttl)
	if err != nil {
		return false, fmt.Errorf("acquire %s: %w", l.key, err)
	}
	if won {
		l.owner = owner
	}
	return won, nil
}

func (l *RedisLock) Renew(ctx context.Context) error {
	if l.owner == "" {
		return ErrLockLost
	}
	kept, err := l.store.ExtendIfOwner(ctx, l.key, l.owner, l.ttl)
	if err != nil {
		return fmt.Errorf("renew: %w", err)
	}
	if !kept {
		l.owner = ""
		return ErrLockLost
	}
	return nil
}

// Release is a no-op when the lease already expired or changed hands.
func (l *RedisLock) Release(ctx context.Context) error {
	if l.owner == "" {
		return nil
	}
	owner := l.owner
	l.owner = ""
	if _, err := l.store.DeleteIfOwner(ctx, l.key, owner); err != nil {
		return fmt.Errorf("release: %w", err)
	}
	return nil
}
