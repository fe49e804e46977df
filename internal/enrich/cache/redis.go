package cache

import (
	"context"
	"encoding/json"
	"time"

	errors "github.com/Laisky/errors/v2"
	"github.com/redis/go-redis/v9"
)

// RedisClient is the subset of the go-redis client used by RedisBackend.
type RedisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// RedisBackend shares entries between processes through redis.
// Redis expires keys itself, so no sweep is needed.
type RedisBackend struct {
	client RedisClient
	prefix string
	now    func() time.Time
}

// NewRedisBackend creates a RedisBackend, keys are stored under prefix.
func NewRedisBackend(client RedisClient, prefix string) *RedisBackend {
	return &RedisBackend{
		client: client,
		prefix: prefix,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Get implements Backend.
func (r *RedisBackend) Get(ctx context.Context, key string) (*Entry, error) {
	raw, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrMiss
		}
		return nil, errors.Wrap(err, "redis get")
	}

	entry := new(Entry)
	if err := json.Unmarshal(raw, entry); err != nil {
		return nil, errors.Wrap(err, "decode cache entry")
	}
	return entry, nil
}

// Set implements Backend. Entries already expired are not written.
func (r *RedisBackend) Set(ctx context.Context, entry *Entry) error {
	ttl := entry.ExpiresAt().Sub(r.now())
	if ttl <= 0 {
		return r.Delete(ctx, entry.Keyword)
	}

	raw, err := json.Marshal(entry)
	if err != nil {
		return errors.Wrap(err, "encode cache entry")
	}
	if err := r.client.Set(ctx, r.prefix+entry.Keyword, raw, ttl).Err(); err != nil {
		return errors.Wrap(err, "redis set")
	}
	return nil
}

// Delete implements Backend.
func (r *RedisBackend) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.prefix+key).Err(); err != nil {
		return errors.Wrap(err, "redis del")
	}
	return nil
}
