package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/Laisky/keyword-enricher/library/kv"
	"github.com/Laisky/keyword-enricher/library/search"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
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

func sampleResult() *search.Result {
	return &search.Result{
		Query:    "alpha corp",
		Provider: "tavily",
		Documents: []search.Document{
			{Title: "A", URL: "https://a.test", Snippet: "a", Provider: "tavily"},
			{Title: "B", URL: "https://b.test", Snippet: "b", Provider: "tavily"},
		},
	}
}

func newSQLBackend(t *testing.T, clock *fakeClock) *SQLBackend {
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_")))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, db.Close()) })

	store, err := kv.NewKv(db, kv.WithDBName("enrich_cache"), kv.WithClock(clock.Now))
	require.NoError(t, err)
	return NewSQLBackend(store)
}

func TestCacheStoreAndLookup(t *testing.T) {
	backends := map[string]func(t *testing.T, clock *fakeClock) Backend{
		"memory": func(*testing.T, *fakeClock) Backend { return NewMemoryBackend() },
		"sql":    func(t *testing.T, clock *fakeClock) Backend { return newSQLBackend(t, clock) },
	}

	for name, newBackend := range backends {
		t.Run(name, func(t *testing.T) {
			clock := newFakeClock()
			c, err := New(newBackend(t, clock), WithTTL(time.Hour), WithClock(clock.Now))
			require.NoError(t, err)
			ctx := context.Background()

			_, ok, err := c.Lookup(ctx, "alpha corp")
			require.NoError(t, err)
			require.False(t, ok)

			stored, err := c.Store(ctx, "alpha corp", sampleResult())
			require.NoError(t, err)
			require.Equal(t, clock.Now().Add(time.Hour), stored.ExpiresAt())

			entry, ok, err := c.Lookup(ctx, "alpha corp")
			require.NoError(t, err)
			require.True(t, ok)
			require.Equal(t, "tavily", entry.Provider)
			require.Equal(t, []string{"https://a.test", "https://b.test"}, entry.URLs())
		})
	}
}

func TestCacheExpiredEntryIsAbsent(t *testing.T) {
	clock := newFakeClock()
	backend := NewMemoryBackend()
	c, err := New(backend, WithTTL(time.Minute), WithClock(clock.Now))
	require.NoError(t, err)
	ctx := context.Background()

	_, err = c.Store(ctx, "k", sampleResult())
	require.NoError(t, err)

	clock.Advance(59 * time.Second)
	_, ok, err := c.Lookup(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)

	clock.Advance(time.Second)
	_, ok, err = c.Lookup(ctx, "k")
	require.NoError(t, err)
	require.False(t, ok, "entry at now == fetched_at + ttl is expired")
	require.Equal(t, 1, backend.Len(), "lookup leaves eviction to the sweeper")

	n, err := c.Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, 0, backend.Len())
}

// storeOnGetBackend lets a concurrent Store land right after Get read an
// expired entry.
type storeOnGetBackend struct {
	*MemoryBackend
	onGet func()
}

func (b *storeOnGetBackend) Get(ctx context.Context, key string) (*Entry, error) {
	e, err := b.MemoryBackend.Get(ctx, key)
	if b.onGet != nil {
		hook := b.onGet
		b.onGet = nil
		hook()
	}
	return e, err
}

func TestCacheLookupKeepsConcurrentStore(t *testing.T) {
	clock := newFakeClock()
	backend := &storeOnGetBackend{MemoryBackend: NewMemoryBackend()}
	c, err := New(backend, WithTTL(time.Minute), WithClock(clock.Now))
	require.NoError(t, err)
	ctx := context.Background()

	_, err = c.Store(ctx, "k", sampleResult())
	require.NoError(t, err)
	clock.Advance(2 * time.Minute)

	fresh := sampleResult()
	fresh.Provider = "brave"
	backend.onGet = func() {
		_, err := c.Store(ctx, "k", fresh)
		require.NoError(t, err)
	}

	_, ok, err := c.Lookup(ctx, "k")
	require.NoError(t, err)
	require.False(t, ok, "the stale read is still a miss")

	entry, ok, err := c.Lookup(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok, "the concurrent store survives the stale lookup")
	require.Equal(t, "brave", entry.Provider)
}

func TestCacheStoreIsLastWriteWins(t *testing.T) {
	clock := newFakeClock()
	c, err := New(NewMemoryBackend(), WithTTL(time.Minute), WithClock(clock.Now))
	require.NoError(t, err)
	ctx := context.Background()

	_, err = c.Store(ctx, "k", sampleResult())
	require.NoError(t, err)

	clock.Advance(50 * time.Second)
	second := sampleResult()
	second.Provider = "brave"
	_, err = c.Store(ctx, "k", second)
	require.NoError(t, err)

	clock.Advance(50 * time.Second)
	entry, ok, err := c.Lookup(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok, "second store refreshed the expiry")
	require.Equal(t, "brave", entry.Provider)
}

func TestCacheAttachKeepsExpiry(t *testing.T) {
	clock := newFakeClock()
	c, err := New(NewMemoryBackend(), WithTTL(time.Minute), WithClock(clock.Now))
	require.NoError(t, err)
	ctx := context.Background()

	stored, err := c.Store(ctx, "k", sampleResult())
	require.NoError(t, err)

	clock.Advance(10 * time.Second)
	require.NoError(t, c.Attach(ctx, "k", "market", map[string]string{"summary": "s"}))
	require.NoError(t, c.Attach(ctx, "k", "portfolio", map[string]string{"security": "p"}))

	entry, ok, err := c.Lookup(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, stored.ExpiresAt(), entry.ExpiresAt())
	require.JSONEq(t, `{"summary":"s"}`, string(entry.Synthesis("market")))
	require.JSONEq(t, `{"security":"p"}`, string(entry.Synthesis("portfolio")))
	require.Nil(t, entry.Synthesis("risk"))

	require.NoError(t, c.Attach(ctx, "absent", "market", "x"))
	_, ok, err = c.Lookup(ctx, "absent")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestCacheSweep(t *testing.T) {
	clock := newFakeClock()
	backend := newSQLBackend(t, clock)
	c, err := New(backend, WithTTL(time.Minute), WithClock(clock.Now))
	require.NoError(t, err)
	ctx := context.Background()

	_, err = c.Store(ctx, "short", sampleResult())
	require.NoError(t, err)
	_, err = c.StoreWithTTL(ctx, "long", sampleResult(), time.Hour)
	require.NoError(t, err)

	clock.Advance(2 * time.Minute)
	n, err := c.Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	_, ok, err := c.Lookup(ctx, "long")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestCacheRejectsBadInput(t *testing.T) {
	_, err := New(nil)
	require.Error(t, err)

	c, err := New(NewMemoryBackend())
	require.NoError(t, err)
	require.Equal(t, 24*time.Hour, c.TTL())

	_, err = c.Store(context.Background(), "k", nil)
	require.Error(t, err)
	_, err = c.StoreWithTTL(context.Background(), "k", sampleResult(), 0)
	require.Error(t, err)
}

type fakeRedis struct {
	mu   sync.Mutex
	data map[string]string
	ttls map[string]time.Duration
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{data: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (f *fakeRedis) Get(ctx context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeRedis) Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[key] = string(value.([]byte))
	f.ttls[key] = expiration
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, k := range keys {
		delete(f.data, k)
	}
	return redis.NewIntResult(int64(len(keys)), nil)
}

func TestRedisBackend(t *testing.T) {
	clock := newFakeClock()
	fake := newFakeRedis()
	backend := NewRedisBackend(fake, "enrich/cache/")
	backend.now = clock.Now

	c, err := New(backend, WithTTL(time.Hour), WithClock(clock.Now))
	require.NoError(t, err)
	ctx := context.Background()

	_, err = c.Store(ctx, "alpha corp", sampleResult())
	require.NoError(t, err)
	require.Equal(t, time.Hour, fake.ttls["enrich/cache/alpha corp"])

	var decoded Entry
	require.NoError(t, json.Unmarshal([]byte(fake.data["enrich/cache/alpha corp"]), &decoded))
	require.Equal(t, "alpha corp", decoded.Keyword)

	entry, ok, err := c.Lookup(ctx, "alpha corp")
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, entry.Documents, 2)

	require.NoError(t, c.Invalidate(ctx, "alpha corp"))
	_, ok, err = c.Lookup(ctx, "alpha corp")
	require.NoError(t, err)
	require.False(t, ok)
}
