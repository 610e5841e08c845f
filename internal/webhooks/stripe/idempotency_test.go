package stripewebhook

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryStore struct {
	keys map[string]string
}

func (m *memoryStore) Get(_ context.Context, key string) (string, error) {
	return m.keys[key], nil
}

func (m *memoryStore) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	if _, ok := m.keys[key]; ok {
		return false, nil
	}
	m.keys[key] = "1"
	return true, nil
}

func (m *memoryStore) IdempotencyKey(scope, id string) string {
	return "test:" + scope + ":" + id
}

func (m *memoryStore) Del(_ context.Context, keys ...string) error {
	for _, key := range keys {
		delete(m.keys, key)
	}
	return nil
}

func TestInFlightGuard(t *testing.T) {
	store := &memoryStore{keys: map[string]string{}}
	guard, err := NewInFlightGuard(store, time.Minute)
	require.NoError(t, err)
	ctx := context.Background()

	ok, err := guard.Acquire(ctx, "evt_1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = guard.Acquire(ctx, "evt_1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, guard.Release(ctx, "evt_1"))
	ok, err = guard.Acquire(ctx, "evt_1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Contains(t, store.keys, "test:stripe_webhook:evt_1")

	_, err = guard.Acquire(ctx, "")
	require.Error(t, err)
}

func TestNewInFlightGuardValidates(t *testing.T) {
	_, err := NewInFlightGuard(nil, time.Minute)
	require.Error(t, err)
	_, err = NewInFlightGuard(&memoryStore{}, 0)
	require.Error(t, err)
}
