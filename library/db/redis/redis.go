// Package redis wraps the shared redis connection.
package redis

import (
	"context"

	"github.com/Laisky/errors/v2"
	gredis "github.com/Laisky/go-redis/v2"
	"github.com/redis/go-redis/v9"
)

// DB is a wrapper for go-redis
type DB struct {
	client *redis.Client
	db     *gredis.Utils
}

// NewDB creates a new DB instance
func NewDB(opt *redis.Options) *DB {
	rdb := redis.NewClient(opt)
	rutils := gredis.NewRedisUtils(rdb)

	return &DB{
		client: rdb,
		db:     rutils,
	}
}

// Client returns the raw go-redis client.
func (db *DB) Client() *redis.Client {
	return db.client
}

// Ping checks the connection.
func (db *DB) Ping(ctx context.Context) error {
	if err := db.client.Ping(ctx).Err(); err != nil {
		return errors.Wrap(err, "ping redis")
	}
	return nil
}

// RPush appends v, encoded as json, to the list at key.
func (db *DB) RPush(ctx context.Context, key string, v any) error {
	if err := db.db.RPush(ctx, key, []any{v}); err != nil {
		return errors.Wrapf(err, "rpush %s", key)
	}
	return nil
}

// Close closes the connection.
func (db *DB) Close() error {
	return db.client.Close()
}
