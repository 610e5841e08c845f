package cron

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryLockStore struct {
	data    map[string]string
	extends int
}

func newMemoryLockStore() *memoryLockStore {
	return &memoryLockStore{data: map[string]string{}}
}

func (m *memoryLockStore) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	if _, ok := m.data[key]; ok {
		return false, nil
	}
	m.data[key] = fmt.Sprint(value)
	return true, nil
}

func (m *memoryLockStore) ExtendIfOwner(_ context.Context, key, owner string, _ time.Duration) (bool, error) {
	if m.data[key] != owner {
		return false, nil
	}
	m.extends++
	return true, nil
}

func (m *memoryLockStore) DeleteIfOwner(_ context.Context, key, owner string) (bool, error) {
	if m.data[key] != owner {
		return false, nil
	}
	delete(m.data, key)
	return true, nil
}

func TestRedisLockIsExclusive(t *testing.T) {
	store := newMemoryLockStore()
	first, err := NewRedisLock(store, "ib:lock:cron-worker:test", time.Minute)
	require.NoError(t, err)
	second, err := NewRedisLock(store, "ib:lock:cron-worker:test", time.Minute)
	require.NoError(t, err)

	ctx := context.Background()
	ok, err := first.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = second.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	// a loser must not be able to free the winner's lease
	require.NoError(t, second.Release(ctx))
	assert.Contains(t, store.data, "ib:lock:cron-worker:test")

	require.NoError(t, first.Renew(ctx))
	assert.Equal(t, 1, store.extends)

	require.NoError(t, first.Release(ctx))
	assert.NotContains(t, store.data, "ib:lock:cron-worker:test")
}

func TestRedisLockRenewDetectsTakeover(t *testing.T) {
	store := newMemoryLockStore()
	lock, err := NewRedisLock(store, "k", 0)
	require.NoError(t, err)
	assert.Equal(t, defaultLockTTL, lock.ttl)

	ctx := context.Background()
	_, err = lock.Acquire(ctx)
	require.NoError(t, err)

	store.data["k"] = "someone-else"
	require.ErrorIs(t, lock.Renew(ctx), ErrLockLost)
	require.NoError(t, lock.Release(ctx))
	assert.Equal(t, "someone-else", store.data["k"])
}

func TestNewRedisLockValidates(t *testing.T) {
	_, err := NewRedisLock(nil, "k", time.Minute)
	require.Error(t, err)
	_, err = NewRedisLock(newMemoryLockStore(), "", time.Minute)
	require.Error(t, err)
}

func TestRedisLockRenewWithoutAcquire(t *testing.T) {
	lock, err := NewRedisLock(newMemoryLockStore(), "k", time.Minute)
	require.NoError(t, err)
	require.ErrorIs(t, lock.Renew(context.Background()), ErrLockLost)
	require.NoError(t, lock.Release(context.Background()))
}
