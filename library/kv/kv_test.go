package kv

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"testing"
	"time"

	errors "github.com/Laisky/errors/v2"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func setupTestKv(t *testing.T, opts ...Option) *Kv {
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name()))
	require.NoError(t, err, "failed to connect to in-memory db")
	t.Cleanup(func() {
		require.NoError(t, db.Close())
	})

	kvInstance, err := NewKv(db, append([]Option{WithDBName("test_kv")}, opts...)...)
	require.NoError(t, err, "failed to create kv instance")
	return kvInstance
}

func TestSetAndGet(t *testing.T) {
	kvInstance := setupTestKv(t)
	ctx := context.Background()

	key, value := "alpha corp", `{"documents":[]}`
	require.NoError(t, kvInstance.SetWithTTL(ctx, key, value, 5*time.Second))

	item, err := kvInstance.Get(ctx, key)
	require.NoError(t, err, "Get should not error")
	require.Equal(t, key, item.Key)
	require.Equal(t, value, item.Value)

	require.NoError(t, kvInstance.SetWithTTL(ctx, key, "v2", 5*time.Second))
	item, err = kvInstance.Get(ctx, key)
	require.NoError(t, err)
	require.Equal(t, "v2", item.Value)
}

func TestKeyExpiration(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	kvInstance := setupTestKv(t, WithClock(clock.Now))
	ctx := context.Background()

	require.NoError(t, kvInstance.SetWithTTL(ctx, "expirekey", "expirevalue", time.Minute))

	clock.Advance(time.Minute)
	_, err := kvInstance.Get(ctx, "expirekey")
	require.True(t, errors.Is(err, ErrKeyExpired), "key should be expired")

	_, err = kvInstance.Get(ctx, "expirekey")
	require.True(t, errors.Is(err, ErrKeyNotFound), "expired key is deleted on read")
}

func TestExistsAndDel(t *testing.T) {
	kvInstance := setupTestKv(t)
	ctx := context.Background()

	key, value := "existkey", "existvalue"
	require.NoError(t, kvInstance.SetWithExpireAt(ctx, key, value, time.Now().Add(10*time.Second)))

	exists, err := kvInstance.Exists(ctx, key)
	require.NoError(t, err, "Exists should not error")
	require.True(t, exists, "key should exist")

	require.NoError(t, kvInstance.Del(ctx, key))

	exists, err = kvInstance.Exists(ctx, key)
	require.NoError(t, err, "Exists after deletion should not error")
	require.False(t, exists, "key should not exist after deletion")
}

func TestSweep(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	kvInstance := setupTestKv(t, WithClock(clock.Now))
	ctx := context.Background()

	require.NoError(t, kvInstance.SetWithTTL(ctx, "short", "1", time.Minute))
	require.NoError(t, kvInstance.SetWithTTL(ctx, "long", "2", time.Hour))

	clock.Advance(2 * time.Minute)
	n, err := kvInstance.Sweep(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	exists, err := kvInstance.Exists(ctx, "long")
	require.NoError(t, err)
	require.True(t, exists)
}

func TestValidation(t *testing.T) {
	kvInstance := setupTestKv(t, WithMaxTTL(time.Hour))
	ctx := context.Background()

	require.Error(t, kvInstance.SetWithTTL(ctx, "k", "v", 0))
	require.Error(t, kvInstance.SetWithTTL(ctx, "k", "v", 2*time.Hour))
	require.Error(t, kvInstance.SetWithTTL(ctx, "", "v", time.Minute))
	require.Error(t, kvInstance.SetWithExpireAt(ctx, "k", "v", time.Now().Add(-time.Second)))

	_, err := NewKv(nil)
	require.Error(t, err)
	_, err = applyOpts(WithDBName("bad name;"))
	require.Error(t, err)
}
